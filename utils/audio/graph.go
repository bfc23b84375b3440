package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"concierge/core"
)

var (
	ErrAlreadyConnected = errors.New("output already connected to analyser")
	ErrGraphDisposed    = errors.New("audio graph disposed")
)

// Player is one playing stream. *oto.Player satisfies it.
type Player interface {
	Play()
	Pause()
	IsPlaying() bool
	BufferedSize() int
	Close() error
}

// OutputContext is the process audio output.
type OutputContext interface {
	NewPlayer(r io.Reader) Player
	Suspend() error
}

// Backend opens the output context. It is called at most once per Graph
// lifetime (again only after Dispose).
type Backend interface {
	Open(sampleRate, channels int, buffer time.Duration) (OutputContext, error)
}

type GraphConfig struct {
	SampleRate int            `json:"sample_rate"`
	Channels   int            `json:"channels"`
	Buffer     time.Duration  `json:"buffer"`
	Playback   AnalyserConfig `json:"playback_analyser"`
	Mic        AnalyserConfig `json:"mic_analyser"`
}

func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		SampleRate: 24000,
		Channels:   1,
		Buffer:     100 * time.Millisecond,
		Playback:   PlaybackAnalyserConfig(),
		Mic:        MicAnalyserConfig(),
	}
}

// Graph owns the output context, the permanent playback analyser and the
// per-capture microphone analyser. Everything is created on first use.
type Graph struct {
	backend Backend
	cfg     GraphConfig
	logger  *core.Logger

	mu       sync.Mutex
	out      OutputContext
	playback *Analyser
	mic      *Analyser
	opens    int
}

func NewGraph(backend Backend, cfg GraphConfig, logger *core.Logger) *Graph {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Graph{
		backend: backend,
		cfg:     cfg,
		logger:  logger.With(map[string]any{"component": "audio_graph"}),
	}
}

func (g *Graph) Config() GraphConfig { return g.cfg }

// Context returns the output context, opening it on first need.
func (g *Graph) Context() (OutputContext, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.out != nil {
		return g.out, nil
	}
	if g.backend == nil {
		return nil, fmt.Errorf("audio graph: %w", core.ErrDeviceUnavailable)
	}
	out, err := g.backend.Open(g.cfg.SampleRate, g.cfg.Channels, g.cfg.Buffer)
	if err != nil {
		return nil, fmt.Errorf("audio graph: open output: %w", err)
	}
	g.out = out
	g.opens++
	g.logger.Info("audio output opened", "sample_rate", g.cfg.SampleRate, "channels", g.cfg.Channels)
	return out, nil
}

// Opens reports how many times the output context has been opened.
func (g *Graph) Opens() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.opens
}

// PlaybackAnalyser returns the permanent playback-side analyser.
func (g *Graph) PlaybackAnalyser() *Analyser {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.playback == nil {
		cfg := g.cfg.Playback
		cfg.Channels = g.cfg.Channels
		g.playback = NewAnalyser(cfg)
	}
	return g.playback
}

// ActivePlaybackAnalyser returns the playback analyser while an output is
// connected to it, nil otherwise.
func (g *Graph) ActivePlaybackAnalyser() *Analyser {
	g.mu.Lock()
	a := g.playback
	g.mu.Unlock()
	if a == nil || !a.Live() {
		return nil
	}
	return a
}

// AttachMic creates the analyser for a new capture session, replacing any
// previous one.
func (g *Graph) AttachMic(channels int) *Analyser {
	cfg := g.cfg.Mic
	cfg.Channels = channels
	a := NewAnalyser(cfg)
	g.mu.Lock()
	g.mic = a
	g.mu.Unlock()
	return a
}

// DetachMic discards a if it is still the live microphone analyser.
func (g *Graph) DetachMic(a *Analyser) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mic == a {
		g.mic = nil
	}
}

// MicAnalyser returns the live microphone analyser or nil.
func (g *Graph) MicAnalyser() *Analyser {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mic
}

// NewOutput prepares pcm for playback, converting it to the graph format.
// The stream does not start until Start is called.
func (g *Graph) NewOutput(pcm []byte, sampleRate, channels int) (*Output, error) {
	if err := ValidatePCMData(pcm, channels); err != nil {
		return nil, fmt.Errorf("audio graph: %w", err)
	}
	ctx, err := g.Context()
	if err != nil {
		return nil, err
	}
	pcm, err = ConvertChannels(pcm, channels, g.cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("audio graph: %w", err)
	}
	pcm, err = ResamplePCM(pcm, g.cfg.Channels, sampleRate, g.cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("audio graph: %w", err)
	}

	o := &Output{
		reader:      &tapReader{r: bytes.NewReader(pcm)},
		total:       len(pcm),
		bytesPerSec: g.cfg.SampleRate * g.cfg.Channels * 2,
	}
	o.player = ctx.NewPlayer(o.reader)
	return o, nil
}

// Dispose releases the output context and drops every analyser. The graph
// can be used again afterwards; the context is reopened lazily.
func (g *Graph) Dispose() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var err error
	if g.out != nil {
		err = g.out.Suspend()
		g.out = nil
	}
	g.playback = nil
	g.mic = nil
	return err
}

// Output is one buffered playback stream.
type Output struct {
	reader      *tapReader
	player      Player
	total       int
	bytesPerSec int

	mu        sync.Mutex
	tap       *Analyser
	connected bool
	started   bool
	closed    bool
}

// Connect routes the stream through a. A second Connect is refused.
func (o *Output) Connect(a *Analyser) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.connected {
		return ErrAlreadyConnected
	}
	o.connected = true
	if a != nil && !o.closed {
		o.tap = a
		a.attach()
	}
	o.reader.setTap(o.tap)
	return nil
}

func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("audio output: %w", core.ErrPlaybackError)
	}
	if !o.started {
		o.started = true
		o.player.Play()
	}
	return nil
}

func (o *Output) Duration() time.Duration {
	if o.bytesPerSec == 0 {
		return 0
	}
	return time.Duration(float64(o.total) / float64(o.bytesPerSec) * float64(time.Second))
}

// CurrentTime is the position of the audio actually handed to the device.
func (o *Output) CurrentTime() time.Duration {
	played := int(o.reader.consumed.Load()) - o.player.BufferedSize()
	if played < 0 {
		played = 0
	}
	if played > o.total {
		played = o.total
	}
	return time.Duration(float64(played) / float64(o.bytesPerSec) * float64(time.Second))
}

// Finished reports natural completion: all data read and the player idle.
func (o *Output) Finished() bool {
	o.mu.Lock()
	started := o.started
	o.mu.Unlock()
	return started && o.reader.drained() && !o.player.IsPlaying()
}

// Close stops audio and disconnects the analyser. Safe to call twice.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	o.reader.setTap(nil)
	if o.tap != nil {
		o.tap.detach()
		o.tap = nil
	}
	o.player.Pause()
	return o.player.Close()
}

type tapReader struct {
	r        *bytes.Reader
	consumed atomic.Int64

	mu  sync.Mutex
	tap io.Writer
}

func (t *tapReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.consumed.Add(int64(n))
		t.mu.Lock()
		tap := t.tap
		t.mu.Unlock()
		if tap != nil {
			tap.Write(p[:n])
		}
	}
	return n, err
}

func (t *tapReader) setTap(w *Analyser) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w == nil {
		t.tap = nil
		return
	}
	t.tap = w
}

func (t *tapReader) drained() bool {
	return t.r.Len() == 0
}
