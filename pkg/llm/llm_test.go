package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ecanlabs/weave/pkg/errors"
)

func TestHTTPProviderChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}],"usage":{"total_tokens":7}}`))
	}))
	defer srv.Close()

	p := NewHTTP("openai", srv.URL, WithAPIKey("sk-test"), WithModel("gpt-test"))
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestHTTPProviderClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusUnauthorized, "auth"},
		{http.StatusTooManyRequests, "rate_limit"},
		{http.StatusBadRequest, "invalid"},
		{http.StatusInternalServerError, "generic"},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		p := NewHTTP("openai", srv.URL, WithModel("gpt-test"))
		_, err := p.Chat(context.Background(), ChatRequest{})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if ErrorCode(err) != tc.code {
			t.Fatalf("status %d: code = %q, want %q", tc.status, ErrorCode(err), tc.code)
		}
		we := errors.AsWeaveError(err)
		if we.Attributes["llm.model"] != "gpt-test" {
			t.Fatalf("status %d: missing model attribute", tc.status)
		}
	}
}

func TestTrimToBudgetKeepsSystemMessage(t *testing.T) {
	msgs := []Message{
		{Role: RoleSystem, Content: "you are a sourcing assistant"},
		{Role: RoleUser, Content: strings.Repeat("a", 400)},
		{Role: RoleAssistant, Content: strings.Repeat("b", 400)},
		{Role: RoleUser, Content: "latest question"},
	}

	out := TrimToBudget(msgs, 40)
	if out[0].Role != RoleSystem {
		t.Fatalf("first message = %+v", out[0])
	}
	if out[len(out)-1].Content != "latest question" {
		t.Fatalf("last message = %+v", out[len(out)-1])
	}
	for _, m := range out[1 : len(out)-1] {
		if len(m.Content) >= 400 {
			t.Fatal("large middle turn should have been trimmed")
		}
	}
}

func TestTrimToBudgetNoBudgetIsIdentity(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "x"}}
	if got := TrimToBudget(msgs, 0); len(got) != 1 {
		t.Fatalf("got %v", got)
	}
}

func TestScriptedMockSequence(t *testing.T) {
	p := NewScriptedMockProvider("one", "two")
	first, _ := p.Chat(context.Background(), ChatRequest{})
	second, _ := p.Chat(context.Background(), ChatRequest{})
	if first.Content != "one" || second.Content != "two" {
		t.Fatalf("got %q, %q", first.Content, second.Content)
	}
	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("exhausted script must error")
	}
	if p.CallCount != 3 {
		t.Fatalf("calls = %d", p.CallCount)
	}
}
