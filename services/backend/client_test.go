package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"concierge/core"

	"github.com/bytedance/sonic"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret"})
}

func TestClient_Transcribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/voice/transcribe" || r.Header.Get("Content-Type") != "audio/basic" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing auth header")
		}
		body, _ := io.ReadAll(r.Body)
		if len(body) != 3 {
			t.Errorf("audio body not forwarded")
		}
		w.Write([]byte(`{"transcript":"hello there"}`))
	})
	text, err := c.Transcribe(context.Background(), core.AudioChunk{Data: []byte{1, 2, 3}, Format: core.ULAW}, "")
	if err != nil || text != "hello there" {
		t.Fatalf("got %q, %v", text, err)
	}
}

func TestClient_QuerySendsHistory(t *testing.T) {
	var got core.ReasoningRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sonic.Unmarshal(body, &got)
		w.Write([]byte(`{"message":"Added to your cart.","cartAction":{"action":"add","itemId":"l-1","itemType":"listing"}}`))
	})
	reply, err := c.Query(context.Background(), core.ReasoningRequest{
		Message:      "add the first one",
		History:      []core.Turn{core.NewTurn(core.RoleUser, "villas?")},
		SystemPrompt: "internal",
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if reply.CartAction == nil || reply.CartAction.ItemID != "l-1" {
		t.Fatalf("unexpected reply %+v", reply)
	}
	if got.Message != "add the first one" || len(got.History) != 1 || got.History[0].Role != core.RoleUser {
		t.Fatalf("unexpected request %+v", got)
	}
	if got.SystemPrompt != "" {
		t.Fatalf("system prompt must stay local")
	}
}

func TestClient_SynthesizeNon2xx(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})
	_, err := c.Synthesize(context.Background(), "hello")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.Status != http.StatusTooManyRequests {
		t.Fatalf("expected a status error, got %v", err)
	}
}

func TestClient_CreateLead(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/leads" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		sonic.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
	})
	err := c.CreateLead(context.Background(), core.LeadRequest{AgentID: "agent-7", Message: "Interested", Source: "voice_agent", PropertyID: "l-1"})
	if err != nil {
		t.Fatalf("lead: %v", err)
	}
	if got["agent_id"] != "agent-7" || got["property_id"] != "l-1" || got["source"] != "voice_agent" {
		t.Fatalf("unexpected payload %v", got)
	}
	if _, ok := got["contact_name"]; ok {
		t.Fatalf("empty optional fields must be omitted")
	}
}

func TestClient_SynthesizeTagsFormatFromHeader(t *testing.T) {
	cases := []struct {
		body []byte
		want core.AudioEncodingFormat
	}{
		{[]byte("ID3\x04\x00\x00\x00\x00\x00\x00"), core.MP3},
		{[]byte{0xFF, 0xFB, 0x90, 0x64}, core.MP3},
		{[]byte("RIFF\x24\x00\x00\x00WAVEfmt "), core.WAV},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write(tc.body)
		})
		chunk, err := c.Synthesize(context.Background(), "hello")
		if err != nil {
			t.Fatalf("synthesize: %v", err)
		}
		if chunk.Format != tc.want {
			t.Errorf("body %q tagged %s, want %s", tc.body[:4], chunk.Format, tc.want)
		}
	}
}
