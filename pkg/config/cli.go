package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type cliFlags struct {
	configPath string
	profile    string
}

type cliOverride struct {
	key   string
	value any
}

// LoadWithCLI loads configuration driven by command line arguments.
// Supported flags: --config <path>, --profile/--env <name> and repeated
// --set key=value overrides. Values are decoded as JSON when possible, so
// --set agent.max_parallel=4 yields a number and
// --set mcp.servers={"demo":{...}} yields a nested object.
func LoadWithCLI(args []string) (*Config, error) {
	flags, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(flags.configPath, flags.profile, overrides)
}

func parseCLIOverrides(args []string) (cliFlags, []cliOverride, error) {
	var flags cliFlags
	var overrides []cliOverride

	next := func(i int, flag string) (string, error) {
		if i+1 >= len(args) {
			return "", fmt.Errorf("flag %s requires a value", flag)
		}
		return args[i+1], nil
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, inline, hasInline := strings.Cut(arg, "=")
		value := inline

		switch name {
		case "--config":
			if !hasInline {
				v, err := next(i, name)
				if err != nil {
					return flags, nil, err
				}
				value = v
				i++
			}
			flags.configPath = value
		case "--profile", "--env":
			if !hasInline {
				v, err := next(i, name)
				if err != nil {
					return flags, nil, err
				}
				value = v
				i++
			}
			flags.profile = value
		case "--set":
			if !hasInline {
				v, err := next(i, name)
				if err != nil {
					return flags, nil, err
				}
				value = v
				i++
			}
			key, raw, ok := strings.Cut(value, "=")
			if !ok || key == "" {
				return flags, nil, fmt.Errorf("invalid --set value %q, want key=value", value)
			}
			overrides = append(overrides, cliOverride{key: key, value: coerceValue(raw)})
		}
	}
	return flags, overrides, nil
}

// coerceValue decodes the override as JSON so numbers, booleans and nested
// objects survive the trip. Anything that is not valid JSON stays a string.
func coerceValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// profileConfigPath resolves the profile variant of a config file
// (config.yaml + "dev" -> config.dev.yaml). Returns "" when the variant
// does not exist.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	dir := filepath.Dir(base)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	path := filepath.Join(dir, name+"."+profile+ext)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
