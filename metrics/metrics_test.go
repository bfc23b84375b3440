package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"concierge/core"
	"concierge/events/cart"
	"concierge/events/conversation"
	"concierge/events/tts"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_ObserveEvents(t *testing.T) {
	m := NewMetrics("test")

	m.Observe(&conversation.TurnEndedEvent{Outcome: conversation.OutcomeCompleted, Seconds: 2})
	m.Observe(&conversation.TurnEndedEvent{Outcome: conversation.OutcomeFailed, Seconds: 1})
	m.Observe(&conversation.TurnEndedEvent{Outcome: conversation.OutcomeCompleted, Seconds: 3})
	m.Observe(&tts.TTSFallbackEvent{From: tts.ModeAudio, To: tts.ModeEngine})
	m.Observe(&conversation.BargeInEvent{})
	m.Observe(&cart.CartItemAddedEvent{Item: core.CartItem{Type: core.ItemTypeListing}, Source: "assistant"})
	m.Observe(&cart.LeadCapturedEvent{OK: false})

	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues(conversation.OutcomeCompleted)); got != 2 {
		t.Fatalf("completed turns = %v", got)
	}
	if got := testutil.ToFloat64(m.FallbacksTotal.WithLabelValues("audio", "engine")); got != 1 {
		t.Fatalf("fallbacks = %v", got)
	}
	if got := testutil.ToFloat64(m.BargeInsTotal); got != 1 {
		t.Fatalf("barge ins = %v", got)
	}
	if got := testutil.ToFloat64(m.CartAddsTotal.WithLabelValues("assistant", "listing")); got != 1 {
		t.Fatalf("cart adds = %v", got)
	}
	if got := testutil.ToFloat64(m.LeadsTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed leads = %v", got)
	}
}

func TestMetrics_StateGaugeIsExclusive(t *testing.T) {
	m := NewMetrics("test")
	m.Observe(&conversation.StateChangedEvent{From: core.StateIdle, To: core.StateListening})

	for _, s := range states {
		want := 0.0
		if s == core.StateListening {
			want = 1
		}
		if got := testutil.ToFloat64(m.State.WithLabelValues(string(s))); got != want {
			t.Fatalf("state %s = %v, want %v", s, got, want)
		}
	}
}

func TestMetrics_RunFromBus(t *testing.T) {
	m := NewMetrics("test")
	bus := core.NewBus(nil)
	packets, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, packets)
		close(done)
	}()

	bus.Publish(&conversation.StageTimingEvent{Stage: core.StageReasoning, Seconds: 0.4}, "test")
	deadline := time.Now().Add(time.Second)
	for testutil.CollectAndCount(m.StageDuration) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if n := testutil.CollectAndCount(m.StageDuration); n != 1 {
		t.Fatalf("expected one stage series, got %d", n)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.Observe(&conversation.BargeInEvent{})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "test_barge_ins_total 1") {
		t.Fatalf("metrics output missing counter:\n%s", body)
	}
}
