package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/provider/llm/mock"
)

func TestPrompt(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Response: &llm.CompletionResponse{Content: "It is sunny."}}

	got, err := llm.Prompt(context.Background(), p, "Be brief.", "How is the weather?")
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if got != "It is sunny." {
		t.Errorf("got %q", got)
	}
	req := p.Requests()[0]
	if req.SystemPrompt != "Be brief." {
		t.Errorf("system prompt: got %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "How is the weather?" {
		t.Errorf("messages: got %+v", req.Messages)
	}
}

func TestPrompt_Error(t *testing.T) {
	t.Parallel()
	want := errors.New("backend down")
	p := &mock.Provider{Err: want}
	if _, err := llm.Prompt(context.Background(), p, "", "hi"); !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
}

type nilProvider struct{}

func (nilProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, nil
}

func TestPrompt_NilResponse(t *testing.T) {
	t.Parallel()
	if _, err := llm.Prompt(context.Background(), nilProvider{}, "", "hi"); !errors.Is(err, llm.ErrEmptyResponse) {
		t.Fatalf("got %v, want ErrEmptyResponse", err)
	}
}

func TestMock_RepliesInOrder(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Replies: []string{"first", "second"}}
	for _, want := range []string{"first", "second", "second"} {
		got, err := llm.Prompt(context.Background(), p, "", "again")
		if err != nil || got != want {
			t.Fatalf("Prompt = %q, %v; want %q", got, err, want)
		}
	}
	if p.CallCount() != 3 {
		t.Fatalf("CallCount = %d, want 3", p.CallCount())
	}
}
