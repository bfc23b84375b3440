package metrics

import (
	"context"
	"net/http"

	"concierge/core"
	"concierge/events/cart"
	"concierge/events/conversation"
	"concierge/events/tts"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var states = []core.ConversationState{core.StateIdle, core.StateListening, core.StateThinking, core.StateSpeaking}

// Metrics holds the Prometheus metrics of the agent. It is fed from the
// event bus and never called by the pipeline directly.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal     *prometheus.CounterVec
	TurnDuration   *prometheus.HistogramVec
	StageDuration  *prometheus.HistogramVec
	FallbacksTotal *prometheus.CounterVec
	BargeInsTotal  prometheus.Counter
	CartAddsTotal  *prometheus.CounterVec
	LeadsTotal     *prometheus.CounterVec
	State          *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance on a private registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "concierge"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Conversation turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Turn duration from capture start to return to idle",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		),
		FallbacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "synthesis_fallbacks_total",
				Help:      "Steps down the synthesis fallback chain",
			},
			[]string{"from", "to"},
		),
		BargeInsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "barge_ins_total",
				Help:      "Times the user interrupted agent speech",
			},
		),
		CartAddsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cart_adds_total",
				Help:      "Items added to the cart",
			},
			[]string{"source", "type"},
		),
		LeadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "leads_total",
				Help:      "Lead creation attempts",
			},
			[]string{"result"},
		),
		State: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "conversation_state",
				Help:      "1 for the current conversation state",
			},
			[]string{"state"},
		),
	}

	registry.MustRegister(
		m.TurnsTotal,
		m.TurnDuration,
		m.StageDuration,
		m.FallbacksTotal,
		m.BargeInsTotal,
		m.CartAddsTotal,
		m.LeadsTotal,
		m.State,
	)
	m.setState(core.StateIdle)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Observe updates the metrics touched by event.
func (m *Metrics) Observe(event core.IEvent) {
	switch e := event.(type) {
	case *conversation.TurnEndedEvent:
		m.TurnsTotal.WithLabelValues(e.Outcome).Inc()
		m.TurnDuration.WithLabelValues(e.Outcome).Observe(e.Seconds)
	case *conversation.StageTimingEvent:
		m.StageDuration.WithLabelValues(e.Stage).Observe(e.Seconds)
	case *conversation.StateChangedEvent:
		m.setState(e.To)
	case *conversation.BargeInEvent:
		m.BargeInsTotal.Inc()
	case *tts.TTSFallbackEvent:
		m.FallbacksTotal.WithLabelValues(e.From, e.To).Inc()
	case *cart.CartItemAddedEvent:
		m.CartAddsTotal.WithLabelValues(e.Source, e.Item.Type).Inc()
	case *cart.LeadCapturedEvent:
		result := "ok"
		if !e.OK {
			result = "failed"
		}
		m.LeadsTotal.WithLabelValues(result).Inc()
	}
}

// Run consumes packets until ctx is done or the channel closes.
func (m *Metrics) Run(ctx context.Context, packets <-chan *core.EventPacket) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-packets:
			if !ok {
				return
			}
			m.Observe(p.Event)
		}
	}
}

func (m *Metrics) setState(current core.ConversationState) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		m.State.WithLabelValues(string(s)).Set(v)
	}
}
