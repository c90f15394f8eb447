// SPDX-License-Identifier: Apache-2.0

// Package main implements the weave daemon and CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

const version = "0.3.0"

type globalFlags struct {
	ConfigArgs []string
	Timeout    time.Duration
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "serve":
		if err := runServe(ctx, global); err != nil {
			fatal(err)
		}
	case "run":
		if err := runOnce(ctx, global, args[1:]); err != nil {
			fatal(err)
		}
	case "validate":
		runValidate(global, args[1:])
	case "version":
		fmt.Printf("weave %s\n", version)
	case "help":
		printUsage()
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{Timeout: 30 * time.Second}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--set" || arg == "--profile" || arg == "--env":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config=") ||
			strings.HasPrefix(arg, "--set=") ||
			strings.HasPrefix(arg, "--profile=") ||
			strings.HasPrefix(arg, "--env="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = d
			i++
		default:
			return flags, nil, fmt.Errorf("unknown flag %q", arg)
		}
	}
	return flags, nil, nil
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func printUsage() {
	fmt.Print(`weave - durable skill workflow runtime

Usage:
  weave [flags] <command> [args]

Commands:
  serve               Run the agent daemon
  run <diagram> [msg] Execute a skill diagram once and print final state
  validate <files...> Parse and compile skill diagrams
  version             Print version
  help                Show this help

Flags:
  --config <path>     Configuration file (YAML or JSON)
  --profile <name>    Profile overlay (config.<name>.yaml)
  --set key=value     Override a single config key (repeatable)
  --json              Machine readable output
  --timeout <dur>     Command timeout (default 30s)
`)
}
