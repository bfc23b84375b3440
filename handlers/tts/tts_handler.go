package tts

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"concierge/core"
	"concierge/events/tts"
	"concierge/utils/audio"
)

var ErrAlreadyPlayed = errors.New("utterance already played")

// TTSService synthesizes speech for a complete reply. The returned chunk is
// WAV or raw 16-bit PCM.
type TTSService interface {
	Name() string
	Synthesize(ctx context.Context, text string) (core.AudioChunk, error)
}

// Scheduler prepares spoken replies and plays them with word timing. It
// steps down from the synthesis service to the on-device engine and then to
// a timed reveal without audio.
type Scheduler struct {
	service   TTSService
	engine    SpeechEngine
	graph     *audio.Graph
	config    TTSConfig
	publisher core.Publisher
	logger    *core.Logger
}

// NewScheduler creates a scheduler. service and engine may be nil; the
// graph is required for the audio path.
func NewScheduler(service TTSService, engine SpeechEngine, graph *audio.Graph, config TTSConfig, publisher core.Publisher, logger *core.Logger) *Scheduler {
	def := DefaultConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = def.TickInterval
	}
	if config.RevealWordInterval <= 0 {
		config.RevealWordInterval = def.RevealWordInterval
	}
	if publisher == nil {
		publisher = core.NopPublisher{}
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Scheduler{
		service:   service,
		engine:    engine,
		graph:     graph,
		config:    config,
		publisher: publisher,
		logger:    logger.With(map[string]any{"component": "tts"}),
	}
}

// Prepare readies text for playback. Synthesis failures are recovered
// through the fallback chain; only a cancelled ctx is returned as an error.
func (s *Scheduler) Prepare(ctx context.Context, text string) (*Utterance, error) {
	text = normalizeTextForTTS(text)
	u := &Utterance{scheduler: s, text: text, words: Words(text)}

	if s.service != nil && s.graph != nil {
		output, err := s.synthesize(ctx, text)
		if err == nil {
			u.mode = tts.ModeAudio
			u.output = output
			return u, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		s.fallback(tts.ModeAudio, err)
	} else {
		s.fallback(tts.ModeAudio, errors.New("no synthesis service"))
	}

	if s.engine != nil && s.engine.Available() {
		u.mode = tts.ModeEngine
		return u, nil
	}
	s.fallback(tts.ModeEngine, errors.New("no speech engine"))
	u.mode = tts.ModeReveal
	return u, nil
}

func (s *Scheduler) synthesize(ctx context.Context, text string) (*audio.Output, error) {
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}
	chunk, err := s.service.Synthesize(ctx, text)
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
		return nil, ctxErr
	}
	if err != nil {
		return nil, core.NewStageError(core.StageSynthesis, core.ErrSynthesisFailed, err, s.service.Name())
	}
	if format, ok := audio.SniffEncoding(chunk.Data); ok {
		chunk.Format = format
	}
	pcm, err := audio.ToPCM(chunk)
	if err != nil {
		return nil, core.NewStageError(core.StageSynthesis, core.ErrSynthesisFailed, err, "decode audio")
	}
	output, err := s.graph.NewOutput(pcm.Data, pcm.SampleRate, pcm.Channels)
	if err != nil {
		return nil, core.NewStageError(core.StagePlayback, core.ErrPlaybackError, err, "open output")
	}
	return output, nil
}

func (s *Scheduler) fallback(from string, err error) {
	to := tts.ModeEngine
	if from == tts.ModeEngine {
		to = tts.ModeReveal
	}
	s.logger.With(map[string]any{"from": from, "to": to, "error": err}).Warn("synthesis fallback")
	s.publisher.Publish(&tts.TTSFallbackEvent{From: from, To: to, Error: err.Error()}, "Scheduler")
}

// Utterance is a prepared reply. It is played at most once.
type Utterance struct {
	scheduler *Scheduler
	mode      string
	text      string
	words     []string
	output    *audio.Output

	mu     sync.Mutex
	played bool
}

func (u *Utterance) Mode() string    { return u.mode }
func (u *Utterance) Text() string    { return u.text }
func (u *Utterance) WordCount() int  { return len(u.words) }
func (u *Utterance) Words() []string { return u.words }

// Release frees an utterance that will not be played.
func (u *Utterance) Release() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.played && u.output != nil {
		u.output.Close()
	}
	u.played = true
}

// Play starts playback. onWord receives every published word index; it is
// called with wordCount exactly once, on natural completion, and never after
// Stop returns.
func (u *Utterance) Play(onWord func(index, count int)) (*Playback, error) {
	u.mu.Lock()
	if u.played {
		u.mu.Unlock()
		return nil, ErrAlreadyPlayed
	}
	u.played = true
	u.mu.Unlock()

	s := u.scheduler
	ctx, cancel := context.WithCancel(context.Background())
	p := &Playback{
		mode:      u.mode,
		count:     len(u.words),
		last:      -1,
		output:    u.output,
		onWord:    onWord,
		publisher: s.publisher,
		logger:    s.logger,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if u.mode == tts.ModeAudio {
		if err := u.output.Connect(s.graph.PlaybackAnalyser()); err != nil {
			cancel()
			u.output.Close()
			return nil, core.NewStageError(core.StagePlayback, core.ErrPlaybackError, err, "connect analyser")
		}
		if err := u.output.Start(); err != nil {
			cancel()
			u.output.Close()
			return nil, core.NewStageError(core.StagePlayback, core.ErrPlaybackError, err, "start output")
		}
	}

	s.publisher.Publish(&tts.TTSSpeakingStartedEvent{Mode: u.mode, Text: u.text, WordCount: p.count}, "Scheduler")

	switch u.mode {
	case tts.ModeAudio:
		go p.trackAudio(ctx, s.config.TickInterval)
	case tts.ModeEngine:
		go p.trackEngine(ctx, s.engine, u.text, s.config.RevealWordInterval)
	default:
		go p.reveal(ctx, s.config.RevealWordInterval)
	}
	return p, nil
}

// Playback is one live spoken reply.
type Playback struct {
	mode      string
	count     int
	output    *audio.Output
	onWord    func(index, count int)
	publisher core.Publisher
	logger    *core.Logger
	cancel    context.CancelFunc

	mu          sync.Mutex
	last        int
	ended       bool
	interrupted bool

	doneOnce sync.Once
	done     chan struct{}
}

func (p *Playback) Mode() string { return p.mode }

// Done is closed when playback completes or is stopped.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Interrupted reports whether playback ended through Stop.
func (p *Playback) Interrupted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupted
}

// WordIndex returns the last published index, or -1 before the first word.
func (p *Playback) WordIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Stop halts audio, cancels the tick loop and releases the output before
// returning. No completion index is published.
func (p *Playback) Stop() {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return
	}
	p.ended = true
	p.interrupted = true
	p.mu.Unlock()

	p.cancel()
	p.release()
	p.publisher.Publish(&tts.TTSSpeakingEndedEvent{Mode: p.mode, Interrupted: true}, "Scheduler")
	p.doneOnce.Do(func() { close(p.done) })
}

// advance publishes idx if it moves the index forward. Indices at or past
// count are reserved for completion.
func (p *Playback) advance(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ended || idx <= p.last || idx >= p.count {
		return
	}
	p.last = idx
	p.emit(idx)
}

func (p *Playback) emit(idx int) {
	if p.onWord != nil {
		p.onWord(idx, p.count)
	}
	p.publisher.Publish(&tts.TTSWordIndexEvent{Index: idx, WordCount: p.count}, "Scheduler")
}

// complete publishes count exactly once and releases the output.
func (p *Playback) complete() {
	p.mu.Lock()
	if p.ended {
		p.mu.Unlock()
		return
	}
	p.ended = true
	p.last = p.count
	p.emit(p.count)
	p.mu.Unlock()

	p.cancel()
	p.release()
	p.publisher.Publish(&tts.TTSSpeakingEndedEvent{Mode: p.mode}, "Scheduler")
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *Playback) release() {
	if p.output == nil {
		return
	}
	if err := p.output.Close(); err != nil {
		p.logger.With(map[string]any{"error": err}).Warn("output close failed")
	}
}

// wordAt maps elapsed playback onto a word, assuming every word takes the
// same time.
func wordAt(current, duration time.Duration, count int) int {
	if duration <= 0 || count == 0 {
		return 0
	}
	idx := int(math.Floor(float64(current) / float64(duration) * float64(count)))
	if idx >= count {
		idx = count - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}

func (p *Playback) trackAudio(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	duration := p.output.Duration()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.count > 0 {
				p.advance(wordAt(p.output.CurrentTime(), duration, p.count))
			}
			if p.output.Finished() {
				p.complete()
				return
			}
		}
	}
}

func (p *Playback) trackEngine(ctx context.Context, engine SpeechEngine, text string, interval time.Duration) {
	err := engine.Speak(ctx, text, p.advance)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.logger.With(map[string]any{"engine": engine.Name(), "error": err}).Warn("speech engine failed, revealing remaining words")
		p.publisher.Publish(&tts.TTSFallbackEvent{From: tts.ModeEngine, To: tts.ModeReveal, Error: err.Error()}, "Scheduler")
		p.reveal(ctx, interval)
		return
	}
	p.complete()
}

func (p *Playback) reveal(ctx context.Context, interval time.Duration) {
	if p.count == 0 {
		p.complete()
		return
	}
	p.advance(p.WordIndex() + 1)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			next := p.WordIndex() + 1
			if next >= p.count {
				p.complete()
				return
			}
			p.advance(next)
		}
	}
}
