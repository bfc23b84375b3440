package visual

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"concierge/core"
	"concierge/events/visual"
	"concierge/utils/audio"
)

// View is the conversation state the renderer samples each tick.
type View struct {
	State    core.ConversationState
	Revealed string // text revealed so far
	Word     string // word currently being spoken, "" when silent
}

// Source provides the current View. It must not block.
type Source interface {
	View() View
}

var stateColors = map[core.ConversationState]string{
	core.StateIdle:      "#8B9DC3",
	core.StateListening: "#22C55E",
	core.StateThinking:  "#F59E0B",
	core.StateSpeaking:  "#3B82F6",
}

// Renderer turns analyser data and word timing into animation frames. It
// only observes; nothing in the conversation depends on its output.
type Renderer struct {
	source    Source
	graph     *audio.Graph
	config    VisualConfig
	publisher core.Publisher
	logger    *core.Logger

	mu         sync.Mutex
	rng        *rand.Rand
	start      time.Time
	level      float64
	bands      []float64
	visemes    map[string]float64
	word       string
	wordStart  time.Time
	nextBlink  time.Time
	blinkUntil time.Time
}

func NewRenderer(source Source, graph *audio.Graph, config VisualConfig, publisher core.Publisher, logger *core.Logger) *Renderer {
	def := DefaultConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = def.TickInterval
	}
	if config.Bands <= 0 {
		config.Bands = def.Bands
	}
	if config.CharDuration <= 0 {
		config.CharDuration = def.CharDuration
	}
	if config.BlinkMax < config.BlinkMin {
		config.BlinkMax = config.BlinkMin
	}
	if publisher == nil {
		publisher = core.NopPublisher{}
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	seed := uint64(time.Now().UnixNano())
	return &Renderer{
		source:    source,
		graph:     graph,
		config:    config,
		publisher: publisher,
		logger:    logger.With(map[string]any{"component": "visual"}),
		rng:       rand.New(rand.NewPCG(seed, seed>>1)),
		bands:     make([]float64, config.Bands),
		visemes:   make(map[string]float64, len(Visemes)),
	}
}

// Run publishes a frame every TickInterval until ctx is done.
func (r *Renderer) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.TickInterval)
	defer ticker.Stop()
	r.logger.Debug("renderer started", "tick", r.config.TickInterval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			frame := r.Tick(now)
			r.publisher.Publish(&frame, "Renderer")
		}
	}
}

// Tick samples the source and the analysers once and returns the frame.
func (r *Renderer) Tick(now time.Time) visual.FrameEvent {
	view := r.source.View()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.start.IsZero() {
		r.start = now
		r.scheduleBlink(now)
	}

	target, bands, idle := r.sample(view.State, now)
	alpha := r.config.ActiveAlpha
	if view.State == core.StateIdle {
		alpha = r.config.IdleAlpha
	}
	r.level += alpha * (target - r.level)
	for i := range r.bands {
		var b float64
		if i < len(bands) {
			b = bands[i]
		}
		r.bands[i] += alpha * (b - r.bands[i])
	}

	r.updateVisemes(view, now)

	return visual.FrameEvent{
		State:    view.State,
		Level:    r.level,
		Bands:    append([]float64(nil), r.bands...),
		Color:    stateColors[view.State],
		Morph:    r.morph(view.State, now),
		Visemes:  r.visemeSnapshot(),
		Blink:    r.blink(now),
		Revealed: view.Revealed,
		Idle:     idle,
	}
}

// sample reads the analyser for the current state. Without one the
// breathing animation stands in.
func (r *Renderer) sample(state core.ConversationState, now time.Time) (float64, []float64, bool) {
	var a *audio.Analyser
	if r.graph != nil {
		switch state {
		case core.StateListening:
			a = r.graph.MicAnalyser()
		case core.StateSpeaking:
			a = r.graph.ActivePlaybackAnalyser()
		}
	}
	if a == nil {
		return audio.Breathing(now.Sub(r.start).Seconds()), nil, true
	}
	freq := a.Frequency()
	return mean(freq), downsample(freq, r.config.Bands), false
}

func (r *Renderer) morph(state core.ConversationState, now time.Time) float64 {
	t := now.Sub(r.start).Seconds()
	switch state {
	case core.StateListening:
		return 0.35 + 0.5*r.level
	case core.StateThinking:
		return 0.6 + 0.1*math.Sin(2*math.Pi*t)
	case core.StateSpeaking:
		return 0.2 + 0.8*r.level
	default:
		return 0.1
	}
}

// updateVisemes blends toward the mouth shape of the current character
// while speaking and decays every shape otherwise.
func (r *Renderer) updateVisemes(view View, now time.Time) {
	if view.State != core.StateSpeaking || view.Word == "" {
		for k, w := range r.visemes {
			w *= 1 - r.config.VisemeDecay
			if w < 0.001 {
				w = 0
			}
			r.visemes[k] = w
		}
		r.word = ""
		return
	}

	if view.Word != r.word {
		r.word = view.Word
		r.wordStart = now
	}
	char := int(now.Sub(r.wordStart) / r.config.CharDuration)
	if n := len([]rune(r.word)); n > 0 {
		char %= n
	}
	active := visemeAt(r.word, char)
	strength := 0.6 + 0.4*r.level
	for _, v := range Visemes {
		target := 0.0
		if v == active {
			target = strength
		}
		r.visemes[v] += r.config.VisemeBlend * (target - r.visemes[v])
	}
}

func (r *Renderer) visemeSnapshot() map[string]float64 {
	out := make(map[string]float64, len(r.visemes))
	for k, v := range r.visemes {
		out[k] = v
	}
	return out
}

// blink runs on its own randomized timer, unrelated to speech.
func (r *Renderer) blink(now time.Time) float64 {
	if !now.Before(r.nextBlink) {
		r.blinkUntil = now.Add(r.config.BlinkDuration)
		r.scheduleBlink(now)
	}
	if now.Before(r.blinkUntil) {
		return 1
	}
	return 0
}

func (r *Renderer) scheduleBlink(now time.Time) {
	gap := r.config.BlinkMin
	if span := r.config.BlinkMax - r.config.BlinkMin; span > 0 {
		gap += time.Duration(r.rng.Int64N(int64(span)))
	}
	r.nextBlink = now.Add(gap)
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// downsample averages bins into n bands.
func downsample(bins []float64, n int) []float64 {
	out := make([]float64, n)
	if len(bins) == 0 {
		return out
	}
	for i := 0; i < n; i++ {
		lo := i * len(bins) / n
		hi := (i + 1) * len(bins) / n
		if hi <= lo {
			hi = lo + 1
		}
		if hi > len(bins) {
			hi = len(bins)
		}
		out[i] = mean(bins[lo:hi])
	}
	return out
}
