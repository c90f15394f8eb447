// SPDX-License-Identifier: Apache-2.0
package node

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ecanlabs/weave/pkg/state"
)

// Transport timeouts tuned for slow proxies on the read side.
const (
	httpConnectTimeout = 15 * time.Second
	httpReadTimeout    = 180 * time.Second
	httpWriteTimeout   = 30 * time.Second
)

// commonHeaders never get promoted into query params.
var commonHeaders = map[string]struct{}{
	"content-type": {}, "authorization": {}, "accept": {}, "user-agent": {},
	"cache-control": {}, "connection": {}, "pragma": {}, "referer": {},
	"origin": {}, "host": {}, "accept-encoding": {}, "accept-language": {},
}

type apiConfig struct {
	endpoint    string
	method      string
	headers     map[string]any
	params      map[string]any
	apiKey      any
	attachments []any
}

// parseAPIConfig accepts both the legacy {http:{...}} block and the flat
// diagram schema.
func parseAPIConfig(cfg Config) apiConfig {
	if httpCfg, ok := cfg["http"].(map[string]any); ok {
		h := Config(httpCfg)
		return apiConfig{
			endpoint:    h.String("", "apiUrl", "url"),
			method:      strings.ToUpper(h.String("GET", "apiMethod", "method")),
			headers:     h.Map("requestHeadersValues"),
			params:      h.Map("requestParams"),
			apiKey:      httpCfg["apiKey"],
			attachments: h.List("attachments"),
		}
	}

	out := apiConfig{method: "GET"}
	if api, ok := cfg["api"].(map[string]any); ok {
		a := Config(api)
		out.endpoint = a.String("", "url")
		out.method = strings.ToUpper(a.String("GET", "method"))
	} else {
		out.endpoint = cfg.String("", "url")
		out.method = strings.ToUpper(cfg.String("GET", "method"))
	}
	out.headers = cfg.Map("headers", "headersTemplate")
	out.params = cfg.Map("params", "paramsTemplate")
	out.apiKey = cfg.Value("apiKey", "apiKeyInjection")
	if body, ok := cfg["body"].(map[string]any); ok {
		out.attachments, _ = body["attachments"].([]any)
	}
	return out
}

// NewAPINode builds the HTTP call node.
func NewAPINode(cfg Config) Func {
	ac := parseAPIConfig(cfg)

	if ac.endpoint == "" {
		return func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
			st[state.KeyError] = "API endpoint not configured"
			return Continue(st), nil
		}
	}

	client := &http.Client{
		Timeout: httpReadTimeout,
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: httpConnectTimeout}).DialContext,
			ResponseHeaderTimeout: httpReadTimeout,
			ExpectContinueTimeout: httpWriteTimeout,
		},
	}

	return func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
		log := rc.Logger()
		log.Info("node.api.invoke", "node", rc.Node.FullName(), "method", ac.method, "url", ac.endpoint)

		attrs := st.Attributes()
		finalURL := formatWithAttrs(ac.endpoint, attrs)
		headers := flattenKV(ac.headers, attrs)
		params := resolveParams(ac, attrs)

		// Primitive attributes ride along; explicit params win on conflict.
		for k, v := range attrs {
			if k == "__this_node__" {
				continue
			}
			switch v.(type) {
			case string, int, int64, float64, bool:
				if _, exists := params[k]; !exists {
					params[k] = v
				}
			}
		}

		injectAPIKey(ac, attrs, headers, params)

		req, err := buildRequest(ctx, ac, finalURL, headers, params, attrs)
		if err != nil {
			st[state.KeyError] = err.Error()
			st.AppendHistory(actionEntry("api call to "+ac.endpoint, err.Error()))
			return Continue(st), nil
		}

		resp, err := client.Do(req)
		if err != nil {
			log.Error("node.api.failed", "node", rc.Node.FullName(), "url", finalURL, "error", err)
			st[state.KeyError] = err.Error()
			st.AppendHistory(actionEntry("api call to "+ac.endpoint, err.Error()))
			return Continue(st), nil
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(resp.Body)
		payload := parseBody(resp.Header.Get("Content-Type"), raw)

		if resp.StatusCode >= 400 {
			msg := fmt.Sprintf("API call failed with status %d: %s", resp.StatusCode, truncate(string(raw), 1024))
			log.Error("node.api.status", "node", rc.Node.FullName(), "status", resp.StatusCode)
			st[state.KeyError] = msg
			st.AppendHistory(actionEntry("api call to "+ac.endpoint, msg))
			return Continue(st), nil
		}

		entry := map[string]any{
			"status":  resp.StatusCode,
			"url":     resp.Request.URL.String(),
			"headers": flattenHeader(resp.Header),
			"body":    payload,
		}
		results, _ := st["results"].([]any)
		st["results"] = append(results, entry)
		st.AppendHistory(actionEntry("api call to "+ac.endpoint, fmt.Sprintf("status %d", resp.StatusCode)))

		log.Debug("node.api.done", "node", rc.Node.FullName(), "status", resp.StatusCode)
		return Continue(st), nil
	}
}

// resolveParams flattens the params template, falling back to promoting
// non-reserved header values for GET/DELETE when no params are declared.
func resolveParams(ac apiConfig, attrs map[string]any) map[string]any {
	tpl := ac.params
	if values, ok := tpl["values"].(map[string]any); ok {
		tpl = values
	}
	params := flattenAnyKV(tpl, attrs)

	if len(params) == 0 && (ac.method == "GET" || ac.method == "DELETE") {
		for k, v := range ac.headers {
			if _, reserved := commonHeaders[strings.ToLower(k)]; reserved {
				continue
			}
			if c := content(v); c != nil {
				if s, ok := c.(string); ok {
					params[k] = formatWithAttrs(s, attrs)
				} else {
					params[k] = c
				}
			}
		}
	}
	return params
}

// injectAPIKey applies the configured credential: a bare string becomes a
// Bearer Authorization header, a map may target a header or a query/body
// field with an optional env-var source and prefix.
func injectAPIKey(ac apiConfig, attrs map[string]any, headers map[string]string, params map[string]any) {
	switch key := ac.apiKey.(type) {
	case string:
		if key == "" {
			return
		}
		if _, exists := headers["Authorization"]; !exists {
			headers["Authorization"] = "Bearer " + formatWithAttrs(key, attrs)
		}
	case map[string]any:
		specs := []map[string]any{}
		if h, ok := key["header"].(map[string]any); ok {
			h["in"] = "header"
			specs = append(specs, h)
		}
		if q, ok := key["query"].(map[string]any); ok {
			q["in"] = "query"
			specs = append(specs, q)
		}
		if len(specs) == 0 {
			specs = append(specs, key)
		}
		for _, spec := range specs {
			place, _ := spec["in"].(string)
			if place == "" {
				place = "header"
			}
			name, _ := spec["name"].(string)
			if name == "" {
				if place == "header" {
					name = "Authorization"
				} else {
					name = "api_key"
				}
			}
			value, _ := spec["value"].(string)
			if value == "" {
				if envVar, ok := spec["env_var"].(string); ok && envVar != "" {
					value = os.Getenv(envVar)
				}
			}
			value = formatWithAttrs(value, attrs)
			if prefix, ok := spec["prefix"].(string); ok {
				value = prefix + value
			}
			if place == "header" {
				headers[name] = value
			} else {
				params[name] = value
			}
		}
	}
}

func buildRequest(ctx context.Context, ac apiConfig, finalURL string, headers map[string]string, params map[string]any, attrs map[string]any) (*http.Request, error) {
	var req *http.Request
	var err error

	if ac.method == "GET" || ac.method == "DELETE" {
		u, perr := url.Parse(finalURL)
		if perr != nil {
			return nil, fmt.Errorf("invalid url %q: %w", finalURL, perr)
		}
		q := u.Query()
		for k, v := range params {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		req, err = http.NewRequestWithContext(ctx, ac.method, u.String(), nil)
		if err != nil {
			return nil, err
		}
	} else if len(ac.attachments) > 0 {
		body, contentType, merr := multipartBody(ac.attachments, params, attrs)
		if merr != nil {
			return nil, merr
		}
		req, err = http.NewRequestWithContext(ctx, ac.method, finalURL, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
	} else {
		buf, merr := json.Marshal(params)
		if merr != nil {
			return nil, merr
		}
		req, err = http.NewRequestWithContext(ctx, ac.method, finalURL, bytes.NewReader(buf))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// multipartBody assembles a form body with the configured file attachments
// plus the params as plain fields.
func multipartBody(attachments []any, params map[string]any, attrs map[string]any) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, raw := range attachments {
		att, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		field, _ := att["field"].(string)
		if field == "" {
			field = "file"
		}
		pathTpl, _ := att["path"].(string)
		if pathTpl == "" {
			pathTpl, _ = att["filepath"].(string)
		}
		if pathTpl == "" {
			continue
		}
		path := formatWithAttrs(pathTpl, attrs)
		filename, _ := att["filename"].(string)
		if filename == "" {
			filename = filepath.Base(path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("attachment %s: %w", path, err)
		}
		part, err := w.CreateFormFile(field, filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
	}
	for k, v := range params {
		_ = w.WriteField(k, fmt.Sprintf("%v", v))
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// formatWithAttrs substitutes {name} placeholders from the attributes map.
func formatWithAttrs(tpl string, attrs map[string]any) string {
	return Format(tpl, attrs)
}

// flattenKV resolves a {key: {type, content}} template into string values.
func flattenKV(tpl map[string]any, attrs map[string]any) map[string]string {
	out := map[string]string{}
	for k, v := range flattenAnyKV(tpl, attrs) {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

func flattenAnyKV(tpl map[string]any, attrs map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range tpl {
		c := content(v)
		if s, ok := c.(string); ok {
			out[k] = formatWithAttrs(s, attrs)
			continue
		}
		if c != nil {
			out[k] = c
		}
	}
	return out
}

func flattenHeader(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}

// parseBody prefers JSON, trying it even for mislabeled content types.
func parseBody(contentType string, raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	_ = contentType
	return string(raw)
}

func actionEntry(action, result string) map[string]any {
	return map[string]any{
		"role":    "action",
		"content": "action: " + action + "; result: " + result,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
