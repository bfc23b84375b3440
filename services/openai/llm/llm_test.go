package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"concierge/core"

	"github.com/bytedance/sonic"
)

func completionServer(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			sonic.Unmarshal(body, seen)
		}
		resp := map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		}
		w.Header().Set("Content-Type", "application/json")
		out, _ := sonic.Marshal(resp)
		w.Write(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAILLMService_QueryDecodesReply(t *testing.T) {
	var seen map[string]any
	srv := completionServer(t, `{"message":"Two villas match.","listings":[{"id":"l-1","title":"Palm Villa"}]}`, &seen)

	svc, err := NewOpenAILLMService(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	reply, err := svc.Query(context.Background(), core.ReasoningRequest{
		Message:      "any villas?",
		History:      []core.Turn{core.NewTurn(core.RoleUser, "hi"), core.NewTurn(core.RoleAgent, "hello")},
		SystemPrompt: "be brief",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if reply.Message != "Two villas match." || len(reply.Listings) != 1 || reply.Listings[0].ID != "l-1" {
		t.Fatalf("unexpected reply %+v", reply)
	}

	msgs, _ := seen["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("expected system, 2 history and the query, got %d messages", len(msgs))
	}
	if role := msgs[2].(map[string]any)["role"]; role != "assistant" {
		t.Fatalf("agent turn should map to assistant, got %v", role)
	}
	format, _ := seen["response_format"].(map[string]any)
	if format["type"] != "json_object" {
		t.Fatalf("expected JSON mode, got %v", seen["response_format"])
	}
}

func TestOpenAILLMService_InvalidReply(t *testing.T) {
	srv := completionServer(t, "sorry, I cannot help", nil)
	svc, _ := NewOpenAILLMService(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	if _, err := svc.Query(context.Background(), core.ReasoningRequest{Message: "x"}); err == nil {
		t.Fatalf("expected an error for a non-JSON reply")
	}
}

func TestNewOpenAILLMService_RequiresKey(t *testing.T) {
	if _, err := NewOpenAILLMService(Config{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
