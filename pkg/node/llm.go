// SPDX-License-Identifier: Apache-2.0
package node

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/ecanlabs/weave/pkg/llm"
	"github.com/ecanlabs/weave/pkg/state"
)

const (
	standardSystemPrompt = "You are a helpful AI assistant."

	// llmCallTimeout bounds a single provider invocation.
	llmCallTimeout = 150 * time.Second

	// defaultContextTokens is the history budget when the node does not
	// declare one.
	defaultContextTokens = 8000
)

// providerAliases maps editor provider labels to canonical identifiers.
var providerAliases = map[string]string{
	"azure openai":     "azure",
	"anthropic claude": "anthropic",
	"google gemini":    "google",
	"qwen (dashscope)": "dashscope",
	"dashscope/qwen":   "dashscope",
	"ollama (local)":   "ollama",
	"bytedance doubao": "bytedance",
	"baidu qianfan":    "baidu_qianfan",
}

// providerHosts supplies the OpenAI-compatible endpoint for providers that
// publish one, used when the node config leaves apiHost empty.
var providerHosts = map[string]string{
	"openai":        "https://api.openai.com/v1",
	"deepseek":      "https://api.deepseek.com",
	"dashscope":     "https://dashscope.aliyuncs.com/compatible-mode/v1",
	"bytedance":     "https://ark.cn-beijing.volces.com/api/v3",
	"baidu_qianfan": "https://qianfan.baidubce.com/v2",
	"ollama":        "http://localhost:11434/v1",
}

// NewLLMNode builds the chat/LLM node. Configuration is read once at build
// time; the provider client is constructed per invocation unless the run
// context supplies one.
func NewLLMNode(cfg Config) Func {
	provider := strings.ToLower(cfg.String("", "modelProvider", "provider"))
	model := cfg.String("gpt-3.5-turbo", "modelName", "model")
	apiKey := cfg.String("", "apiKey")
	apiHost := cfg.String("", "apiHost")
	temperature := cfg.Float(0.5, "temperature")
	selection := cfg.String("inline", "promptSelection")
	systemTpl := cfg.String(standardSystemPrompt, "systemPrompt", "systemPromptTemplate")
	userTpl := cfg.String(standardSystemPrompt, "prompt", "userPromptTemplate")
	contextTokens := cfg.Int(defaultContextTokens, "contextTokens", "maxTokens")

	if canonical, ok := providerAliases[provider]; ok {
		provider = canonical
	}
	if provider == "" {
		provider = inferProvider(apiHost, model)
	}

	return func(ctx context.Context, st state.State, rc *RunContext) (Outcome, error) {
		log := rc.Logger()
		log.Info("node.llm.invoke", "node", rc.Node.FullName(), "provider", provider, "model", model)

		systemText, userText := ResolveTemplates(rc.Prompts, selection, systemTpl, userTpl)
		refs, _ := st[state.KeyPromptRefs].(map[string]any)
		systemPrompt := Format(systemText, refs)
		userPrompt := Format(userText, refs)

		msgs := make([]llm.Message, 0, 8)
		if systemPrompt != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: systemPrompt})
		}
		msgs = append(msgs, historyMessages(st)...)
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userPrompt})
		msgs = llm.TrimToBudget(msgs, contextTokens)

		client := rc.LLM
		if client == nil {
			host := apiHost
			if host == "" {
				host = providerHosts[provider]
			}
			client = llm.NewHTTP(provider, host,
				llm.WithModel(model),
				llm.WithAPIKey(apiKey),
				llm.WithTimeout(llmCallTimeout))
		}

		callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
		defer cancel()
		resp, err := client.Chat(callCtx, llm.ChatRequest{
			Messages:    msgs,
			Temperature: temperature,
		})
		if err != nil {
			// The failure is recorded in state so downstream conditionals
			// can route on it; the workflow itself keeps moving.
			log.Error("node.llm.failed",
				"node", rc.Node.FullName(),
				"provider", provider,
				"model", model,
				"error_code", llm.ErrorCode(err),
				"error", err)
			st[state.KeyError] = err.Error()
			st["error_details"] = map[string]any{
				"error_code": llm.ErrorCode(err),
				"provider":   provider,
				"model":      model,
			}
			return Continue(st), nil
		}

		parsed := ParseLooseJSON(resp.Content)
		result := resultMap(st)
		result["llm_result"] = parsed
		st.AppendHistory(llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
		delete(st, state.KeyError)

		log.Debug("node.llm.done", "node", rc.Node.FullName(), "tokens", resp.Usage.TotalTokens)
		return Continue(st), nil
	}
}

// inferProvider guesses the provider from the host or the model name.
func inferProvider(host, model string) string {
	h, m := strings.ToLower(host), strings.ToLower(model)
	switch {
	case strings.Contains(h, "anthropic") || strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.Contains(h, "google") || strings.HasPrefix(m, "gemini"):
		return "google"
	case strings.Contains(h, "deepseek") || strings.HasPrefix(m, "deepseek"):
		return "deepseek"
	default:
		return "openai"
	}
}

// historyMessages converts the heterogeneous history list into chat turns.
func historyMessages(st state.State) []llm.Message {
	raw, _ := st[state.KeyHistory].([]any)
	out := make([]llm.Message, 0, len(raw))
	for _, item := range raw {
		switch v := item.(type) {
		case llm.Message:
			out = append(out, v)
		case map[string]any:
			role, _ := v["role"].(string)
			content, _ := v["content"].(string)
			if role == "" {
				role = string(llm.RoleAction)
			}
			out = append(out, llm.Message{Role: llm.Role(role), Content: content})
		case string:
			out = append(out, llm.Message{Role: llm.RoleAction, Content: v})
		}
	}
	return out
}

// resultMap returns state.result as a mutable map, creating it when absent
// and preserving existing keys.
func resultMap(st state.State) map[string]any {
	if m, ok := st[state.KeyResult].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	st[state.KeyResult] = m
	return m
}

// ParseLooseJSON attempts a strict JSON parse, then a sanitize-and-retry
// pass (code fences, smart quotes, Python literals). Unparseable text is
// returned as-is.
func ParseLooseJSON(text string) any {
	trimmed := strings.TrimSpace(text)
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}
	if err := json.Unmarshal([]byte(sanitizeJSON(trimmed)), &v); err == nil {
		return v
	}
	return text
}

var jsonSanitizer = strings.NewReplacer(
	"“", `"`, "”", `"`,
	"‘", "'", "’", "'",
	": True", ": true",
	": False", ": false",
	": None", ": null",
)

func sanitizeJSON(s string) string {
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(jsonSanitizer.Replace(s))
}
