package llm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ecanlabs/weave/pkg/errors"
)

// DefaultTimeout bounds one chat completion call.
const DefaultTimeout = 150 * time.Second

// HTTPProvider implements Provider against any OpenAI-compatible
// chat-completions endpoint (OpenAI, Azure fronts, Ollama, local proxies).
type HTTPProvider struct {
	provider string
	baseURL  string
	apiKey   string
	model    string
	client   *http.Client
}

// Option configures the HTTPProvider.
type Option func(*HTTPProvider)

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(p *HTTPProvider) { p.model = model }
}

// WithAPIKey sets the bearer API key.
func WithAPIKey(key string) Option {
	return func(p *HTTPProvider) { p.apiKey = key }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *HTTPProvider) {
		if d > 0 {
			p.client.Timeout = d
		}
	}
}

// NewHTTP creates a provider for the given host. The provider name is only
// used in diagnostics.
func NewHTTP(provider, baseURL string, opts ...Option) *HTTPProvider {
	p := &HTTPProvider{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// Chat sends a chat completion request and maps transport and API failures
// to classified tool-call errors.
func (p *HTTPProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	body, err := json.Marshal(completionRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, errors.New(errors.KindToolCallFailure, "marshal chat request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.New(errors.KindToolCallFailure, "build chat request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.classifyTransport(model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, p.classifyStatus(model, resp.StatusCode, string(payload))
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, p.newError("invalid", model, "decode chat response", err)
	}
	if out.Error != nil {
		return nil, p.newError("invalid", model, out.Error.Message, nil)
	}
	if len(out.Choices) == 0 {
		return nil, p.newError("invalid", model, "empty choices in response", nil)
	}
	return &ChatResponse{
		Content: out.Choices[0].Message.Content,
		Usage:   out.Usage,
	}, nil
}

func (p *HTTPProvider) classifyTransport(model string, err error) error {
	code := "network"
	var netErr net.Error
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		code = "timeout"
	case stderrors.As(err, &netErr) && netErr.Timeout():
		code = "timeout"
	case stderrors.Is(err, context.Canceled):
		return errors.New(errors.KindCancelled, "chat call cancelled", err)
	}
	return p.newError(code, model, "chat call failed", err)
}

func (p *HTTPProvider) classifyStatus(model string, status int, body string) error {
	var code string
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = "auth"
	case status == http.StatusTooManyRequests:
		code = "rate_limit"
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = "timeout"
	case status >= 400 && status < 500:
		code = "invalid"
	default:
		code = "generic"
	}
	return p.newError(code, model,
		fmt.Sprintf("chat endpoint returned %d", status), fmt.Errorf("%s", strings.TrimSpace(body)))
}

func (p *HTTPProvider) newError(code, model, msg string, cause error) *errors.WeaveError {
	recoverable := code == "rate_limit" || code == "timeout" || code == "network" || code == "generic"
	return errors.New(errors.KindToolCallFailure, msg, cause).
		WithAttribute("llm.provider", p.provider).
		WithAttribute("llm.model", model).
		WithAttribute("llm.error_code", code).
		WithRecoverable(recoverable)
}

// ErrorCode extracts the classification attribute from a chat error, or
// "generic" when absent.
func ErrorCode(err error) string {
	we := errors.AsWeaveError(err)
	if we == nil {
		return ""
	}
	if code, ok := we.Attributes["llm.error_code"]; ok {
		return code
	}
	return "generic"
}

var _ Provider = (*HTTPProvider)(nil)
