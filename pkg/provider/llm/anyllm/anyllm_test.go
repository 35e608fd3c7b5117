package anyllm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

// ── buildParams ───────────────────────────────────────────────────────────────

// TestBuildParams_SystemPromptFirst checks that the system prompt is prepended
// as a system-role message.
func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "llama3.2"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Answer briefly.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "What time is it?"}},
	})
	if params.Model != "llama3.2" {
		t.Errorf("expected model llama3.2, got %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem || params.Messages[0].ContentString() != "Answer briefly." {
		t.Errorf("unexpected system message: %+v", params.Messages[0])
	}
	if params.Messages[1].Role != "user" || params.Messages[1].ContentString() != "What time is it?" {
		t.Errorf("unexpected user message: %+v", params.Messages[1])
	}
}

// TestBuildParams_NoSystemPrompt checks that no system message is added when
// the prompt is empty.
func TestBuildParams_NoSystemPrompt(t *testing.T) {
	p := &Provider{model: "llama3.2"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Hi"}},
	})
	if len(params.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(params.Messages))
	}
}

// TestBuildParams_OptionalFields checks that zero temperature and max tokens
// leave the provider defaults untouched.
func TestBuildParams_OptionalFields(t *testing.T) {
	p := &Provider{model: "m"}

	params := p.buildParams(llm.CompletionRequest{})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("expected nil optional fields, got temperature=%v maxTokens=%v", params.Temperature, params.MaxTokens)
	}

	params = p.buildParams(llm.CompletionRequest{Temperature: 0.7, MaxTokens: 128})
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 128 {
		t.Errorf("expected max tokens 128, got %v", params.MaxTokens)
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

// TestNew_EmptyProviderName checks that an empty provider name returns an error.
func TestNew_EmptyProviderName(t *testing.T) {
	_, err := New("", "llama3.2")
	if err == nil {
		t.Fatal("expected error for empty providerName")
	}
}

// TestNew_EmptyModel checks that an empty model name returns an error.
func TestNew_EmptyModel(t *testing.T) {
	_, err := New("ollama", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

// TestNew_UnsupportedProvider checks that an unsupported provider returns an error.
func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy"))
	if err == nil || !strings.Contains(err.Error(), "supported: anthropic") {
		t.Fatalf("expected unsupported-backend error listing backends, got %v", err)
	}
}

// TestNew_OpenAI_MissingAPIKey checks that OpenAI returns an error when no API key is available.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := New("openai", "gpt-4o-mini")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_BackendNames(t *testing.T) {
	want := []string{"anthropic", "deepseek", "gemini", "groq", "llamacpp", "llamafile", "mistral", "ollama", "openai"}
	if got := Backends(); !slices.Equal(got, want) {
		t.Fatalf("Backends() = %v, want %v", got, want)
	}

	tests := []struct {
		name    string
		fn      func() (*Provider, error)
		backend string
	}{
		{"NewOllama", func() (*Provider, error) { return NewOllama("llama3.2") }, "ollama"},
		{"llamacpp", func() (*Provider, error) { return New("llamacpp", "llama3.2") }, "llamacpp"},
		{"mixed case", func() (*Provider, error) { return New("Ollama", "llama3.2") }, "ollama"},
		{"hosted with key", func() (*Provider, error) {
			return New("openai", "gpt-4o-mini", anyllmlib.WithAPIKey("sk-test"))
		}, "openai"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.backend {
				t.Errorf("backend: got %q, want %q", p.Name(), tt.backend)
			}
			if p.Model() == "" {
				t.Error("model not set")
			}
		})
	}
}

// ── Complete ──────────────────────────────────────────────────────────────────

// chatServer serves an OpenAI-compatible /chat/completions endpoint and
// records the decoded request body.
func chatServer(t *testing.T, reply string, got *map[string]any, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		*got = body
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   body["model"],
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
			"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestComplete_OpenAICompatible exercises the full request path against a
// fake OpenAI-compatible server.
func TestComplete_OpenAICompatible(t *testing.T) {
	var (
		mu   sync.Mutex
		body map[string]any
	)
	srv := chatServer(t, "  It is noon.\n", &body, &mu)

	p, err := New("openai", "gpt-4o-mini",
		anyllmlib.WithAPIKey("sk-test"),
		anyllmlib.WithBaseURL(srv.URL+"/v1"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := p.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "Answer briefly.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "What time is it?"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "It is noon." {
		t.Errorf("content: got %q, want %q", resp.Content, "It is noon.")
	}
	if resp.Usage.TotalTokens != 17 {
		t.Errorf("total tokens: got %d, want 17", resp.Usage.TotalTokens)
	}

	mu.Lock()
	defer mu.Unlock()
	if body["model"] != "gpt-4o-mini" {
		t.Errorf("model sent: got %v", body["model"])
	}
	msgs, _ := body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages sent: got %d, want 2", len(msgs))
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role: got %v, want system", first["role"])
	}
}

// TestComplete_ServerError checks that backend failures are wrapped.
func TestComplete_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	p, err := New("openai", "gpt-4o-mini",
		anyllmlib.WithAPIKey("sk-test"),
		anyllmlib.WithBaseURL(srv.URL+"/v1"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err == nil || !strings.Contains(err.Error(), "anyllm openai: completion") {
		t.Fatalf("expected wrapped completion error, got %v", err)
	}
}
