package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"concierge/core"
	"concierge/handlers/capture"
	"concierge/handlers/tts"
	"concierge/utils/audio"
)

type fakeStream struct {
	closes atomic.Int32
}

func (s *fakeStream) Start() error { return nil }
func (s *fakeStream) Close() error { s.closes.Add(1); return nil }

type fakeDevice struct {
	mu      sync.Mutex
	streams []*fakeStream
	onData  func([]byte)

	opening chan struct{} // closed when Open is entered
	gate    chan struct{} // Open waits for it when set
}

func (d *fakeDevice) Open(_ capture.DeviceConfig, onData func([]byte)) (capture.Stream, error) {
	if d.gate != nil {
		close(d.opening)
		<-d.gate
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s := &fakeStream{}
	d.streams = append(d.streams, s)
	d.onData = onData
	return s, nil
}

func (d *fakeDevice) speak(n int) {
	d.mu.Lock()
	onData := d.onData
	d.mu.Unlock()
	onData(make([]byte, n))
}

func (d *fakeDevice) allReleasedOnce(t *testing.T) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range d.streams {
		if n := s.closes.Load(); n != 1 {
			t.Fatalf("stream %d released %d times", i, n)
		}
	}
}

type fakeTranscriber struct {
	text    string
	err     error
	gate    chan struct{}
	entered chan struct{}
	calls   atomic.Int32
}

func (f *fakeTranscriber) Transcribe(context.Context, core.AudioChunk) (string, error) {
	f.calls.Add(1)
	if f.entered != nil {
		close(f.entered)
	}
	if f.gate != nil {
		<-f.gate // ignores ctx, like a response already on the wire
	}
	return f.text, f.err
}

type fakeReasoner struct {
	mu      sync.Mutex
	reply   core.StructuredReply
	err     error
	block   bool
	entered chan struct{}
	windows [][]core.Turn
}

func (f *fakeReasoner) Reply(ctx context.Context, utterance string, window []core.Turn) (core.StructuredReply, error) {
	f.mu.Lock()
	f.windows = append(f.windows, window)
	block, entered := f.block, f.entered
	f.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if block {
		<-ctx.Done()
		return core.StructuredReply{}, ctx.Err()
	}
	return f.reply, f.err
}

func (f *fakeReasoner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

type fakeEffects struct {
	mu      sync.Mutex
	replies []core.StructuredReply
}

func (f *fakeEffects) ApplyReply(_ context.Context, r core.StructuredReply) {
	f.mu.Lock()
	f.replies = append(f.replies, r)
	f.mu.Unlock()
}

type failingTTS struct{}

func (failingTTS) Name() string { return "failing" }
func (failingTTS) Synthesize(context.Context, string) (core.AudioChunk, error) {
	return core.AudioChunk{}, errors.New("synthesis 500")
}

// holdingEngine speaks until its context is cancelled.
type holdingEngine struct {
	speaking chan struct{}
	stopped  chan struct{}
}

func (e *holdingEngine) Name() string    { return "holding" }
func (e *holdingEngine) Available() bool { return true }
func (e *holdingEngine) Speak(ctx context.Context, _ string, onBoundary func(int)) error {
	onBoundary(0)
	close(e.speaking)
	<-ctx.Done()
	close(e.stopped)
	return ctx.Err()
}

type quickEngine struct{}

func (quickEngine) Name() string    { return "quick" }
func (quickEngine) Available() bool { return true }
func (quickEngine) Speak(_ context.Context, text string, onBoundary func(int)) error {
	for i := range tts.Words(text) {
		onBoundary(i)
	}
	return nil
}

type harness struct {
	agent    *Agent
	device   *fakeDevice
	stt      *fakeTranscriber
	llm      *fakeReasoner
	effects  *fakeEffects
	graph    *audio.Graph
	schedCfg tts.TTSConfig
}

func newHarness(t *testing.T, engine tts.SpeechEngine) *harness {
	t.Helper()
	h := &harness{
		device:  &fakeDevice{},
		stt:     &fakeTranscriber{text: "find a 2 bedroom in the marina"},
		llm:     &fakeReasoner{reply: core.StructuredReply{Message: "Here are three options for you."}},
		effects: &fakeEffects{},
		graph:   audio.NewGraph(nil, audio.DefaultGraphConfig(), nil),
	}
	capCfg := capture.DefaultConfig()
	capCfg.ChunkInterval = 5 * time.Millisecond
	ctrl, err := capture.NewController(h.device, h.graph, capCfg, []core.AudioEncodingFormat{core.WAV}, nil)
	if err != nil {
		t.Fatalf("controller: %v", err)
	}
	h.schedCfg = tts.DefaultConfig()
	h.schedCfg.TickInterval = time.Millisecond
	h.schedCfg.RevealWordInterval = time.Millisecond
	var svc tts.TTSService
	if engine != nil {
		svc = failingTTS{}
	}
	sched := tts.NewScheduler(svc, engine, h.graph, h.schedCfg, nil, nil)

	h.agent = NewAgent(Options{
		ID:          "test",
		Capture:     ctrl,
		Transcriber: h.stt,
		Reasoner:    h.llm,
		Synthesizer: sched,
		Effects:     h.effects,
	})
	t.Cleanup(h.agent.Close)
	return h
}

func waitState(t *testing.T, a *Agent, want core.ConversationState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if a.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("state did not reach %s, stuck in %s", want, a.State())
}

func apologies(a *Agent) int {
	n := 0
	for _, e := range a.Transcript() {
		if e.Apology {
			n++
		}
	}
	return n
}

func TestAgent_VoiceTurnCompletes(t *testing.T) {
	h := newHarness(t, nil)
	a := h.agent

	if err := a.StartCapture(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.State() != core.StateListening {
		t.Fatalf("expected listening, got %s", a.State())
	}
	h.device.speak(3200)
	if err := a.StopCapture(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	waitState(t, a, core.StateIdle)

	history := a.History()
	if len(history) != 2 || history[0].Content != "find a 2 bedroom in the marina" || history[1].Role != core.RoleAgent {
		t.Fatalf("unexpected history %+v", history)
	}
	if len(h.effects.replies) != 1 {
		t.Fatalf("side effects should see the reply once")
	}
	if got := a.View().Revealed; got != "Here are three options for you." {
		t.Fatalf("whole reply should be revealed at completion, got %q", got)
	}
	h.device.allReleasedOnce(t)
}

func TestAgent_HistoryHasTwoEntriesPerTurn(t *testing.T) {
	h := newHarness(t, nil)
	for i := 0; i < 3; i++ {
		if err := h.agent.SubmitText(context.Background(), "question"); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		waitState(t, h.agent, core.StateIdle)
	}
	history := h.agent.History()
	if len(history) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(history))
	}
	for i, turn := range history {
		if (i%2 == 0) != (turn.Role == core.RoleUser) {
			t.Fatalf("entry %d out of causal order: %+v", i, turn)
		}
	}
	// the pending utterance is never part of its own window
	if w := h.llm.windows[2]; len(w) != 4 {
		t.Fatalf("third call should carry 4 prior turns, got %d", len(w))
	}
}

func TestAgent_FailedTurnAppendsNothing(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.err = core.NewStageError(core.StageReasoning, core.ErrReasoningFailed, errors.New("503"), "")

	if err := h.agent.SubmitText(context.Background(), "hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitState(t, h.agent, core.StateIdle)
	time.Sleep(10 * time.Millisecond)

	if n := len(h.agent.History()); n != 0 {
		t.Fatalf("failed turn must append nothing, got %d", n)
	}
	if n := apologies(h.agent); n != 1 {
		t.Fatalf("expected exactly one apology, got %d", n)
	}
}

func TestAgent_TranscriptionFailureApologises(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.err = core.NewStageError(core.StageTranscription, core.ErrTranscriptionFailed, errors.New("timeout"), "")

	h.agent.StartCapture(context.Background())
	h.device.speak(640)
	h.agent.StopCapture()
	waitState(t, h.agent, core.StateIdle)
	time.Sleep(10 * time.Millisecond)

	if h.llm.calls() != 0 {
		t.Fatalf("reasoning must not run after a failed transcription")
	}
	if apologies(h.agent) != 1 || len(h.agent.History()) != 0 {
		t.Fatalf("expected one apology and empty history")
	}
}

func TestAgent_EmptyCaptureSkipsTranscription(t *testing.T) {
	h := newHarness(t, nil)
	a := h.agent

	if err := a.StartCapture(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := a.StopCapture(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if a.State() != core.StateIdle {
		t.Fatalf("empty capture must resolve straight to idle, got %s", a.State())
	}
	if h.stt.calls.Load() != 0 || h.llm.calls() != 0 {
		t.Fatalf("no downstream call expected for an empty capture")
	}
	transcript := a.Transcript()
	if len(transcript) != 1 || !transcript[0].Sentinel || transcript[0].Turn.Content != DefaultConfig().NothingHeard {
		t.Fatalf("expected the nothing-heard sentinel, got %+v", transcript)
	}
	h.device.allReleasedOnce(t)
}

func TestAgent_NothingUnderstoodSkipsReasoning(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.err = core.ErrNothingUnderstood

	h.agent.StartCapture(context.Background())
	h.device.speak(640)
	h.agent.StopCapture()
	waitState(t, h.agent, core.StateIdle)
	time.Sleep(10 * time.Millisecond)

	if h.llm.calls() != 0 {
		t.Fatalf("silence must not reach reasoning")
	}
	if apologies(h.agent) != 0 {
		t.Fatalf("nothing understood is not a failure")
	}
}

func TestAgent_StartRejectedOutsideIdle(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.block = true
	h.llm.entered = make(chan struct{})

	if err := h.agent.SubmitText(context.Background(), "hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	<-h.llm.entered
	if err := h.agent.StartCapture(context.Background()); !errors.Is(err, core.ErrNotIdle) {
		t.Fatalf("expected ErrNotIdle, got %v", err)
	}
	if err := h.agent.SubmitText(context.Background(), "again"); !errors.Is(err, core.ErrNotIdle) {
		t.Fatalf("expected ErrNotIdle for text, got %v", err)
	}
	if h.agent.State() != core.StateThinking {
		t.Fatalf("rejected start must not change state, got %s", h.agent.State())
	}
	if len(h.device.streams) != 0 {
		t.Fatalf("rejected start must not touch the microphone")
	}
}

func TestAgent_CancelDuringReasoningRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.block = true
	h.llm.entered = make(chan struct{})

	h.agent.SubmitText(context.Background(), "hello")
	<-h.llm.entered
	h.agent.Cancel()

	if h.agent.State() != core.StateIdle {
		t.Fatalf("cancel must be synchronous, got %s", h.agent.State())
	}
	time.Sleep(10 * time.Millisecond)
	if n := len(h.agent.History()); n != 0 {
		t.Fatalf("cancelled turn must leave no history, got %d", n)
	}
	if apologies(h.agent) != 0 {
		t.Fatalf("cancel is not a failure")
	}
}

func TestAgent_LateTranscriptionIsDiscarded(t *testing.T) {
	h := newHarness(t, nil)
	h.stt.gate = make(chan struct{})
	h.stt.entered = make(chan struct{})

	h.agent.StartCapture(context.Background())
	h.device.speak(640)
	h.agent.StopCapture()
	<-h.stt.entered

	h.agent.Cancel()
	close(h.stt.gate)
	time.Sleep(20 * time.Millisecond)

	if h.agent.State() != core.StateIdle {
		t.Fatalf("late transcription moved state to %s", h.agent.State())
	}
	if len(h.agent.History()) != 0 || h.llm.calls() != 0 {
		t.Fatalf("late transcription must not reach reasoning or history")
	}
}

func TestAgent_SynthesisFailureFallsBackToEngine(t *testing.T) {
	h := newHarness(t, quickEngine{})
	if err := h.agent.SubmitText(context.Background(), "hello"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitState(t, h.agent, core.StateIdle)
	if got := h.agent.View().Revealed; got != "Here are three options for you." {
		t.Fatalf("engine playback should reveal every word, got %q", got)
	}
	if apologies(h.agent) != 0 || len(h.agent.History()) != 2 {
		t.Fatalf("synthesis failure must stay invisible to the turn")
	}
}

func TestAgent_BargeInStopsSpeechSynchronously(t *testing.T) {
	engine := &holdingEngine{speaking: make(chan struct{}), stopped: make(chan struct{})}
	h := newHarness(t, engine)

	h.agent.SubmitText(context.Background(), "tell me everything")
	<-engine.speaking
	waitState(t, h.agent, core.StateSpeaking)

	h.agent.Cancel()
	if h.agent.State() != core.StateIdle {
		t.Fatalf("cancel while speaking must return to idle at once, got %s", h.agent.State())
	}
	if err := h.agent.StartCapture(context.Background()); err != nil {
		t.Fatalf("capture right after cancel: %v", err)
	}
	select {
	case <-engine.stopped:
	case <-time.After(time.Second):
		t.Fatalf("speech engine was not stopped")
	}
	if h.agent.State() != core.StateListening {
		t.Fatalf("expected listening, got %s", h.agent.State())
	}
	if len(h.agent.History()) != 2 {
		t.Fatalf("a reply interrupted while speaking stays in history")
	}
}

func TestAgent_BargeInHelper(t *testing.T) {
	engine := &holdingEngine{speaking: make(chan struct{}), stopped: make(chan struct{})}
	h := newHarness(t, engine)
	h.agent.SubmitText(context.Background(), "tell me everything")
	<-engine.speaking
	waitState(t, h.agent, core.StateSpeaking)

	if err := h.agent.BargeIn(context.Background()); err != nil {
		t.Fatalf("barge in: %v", err)
	}
	if h.agent.State() != core.StateListening {
		t.Fatalf("barge in should leave the agent listening, got %s", h.agent.State())
	}
}

func TestAgent_ResourcesReleasedOnEveryExit(t *testing.T) {
	h := newHarness(t, nil)
	a := h.agent
	ctx := context.Background()

	ops := []func(){
		func() { a.StartCapture(ctx) },
		func() { a.Cancel() },
		func() { a.StartCapture(ctx) },
		func() { a.StopCapture() },
		func() { a.StartCapture(ctx) },
		func() { h.device.speak(320); a.StopCapture(); waitState(t, a, core.StateIdle) },
		func() { a.StartCapture(ctx) },
		func() { a.StartCapture(ctx) },
		func() { a.Cancel() },
		func() { a.Cancel() },
	}
	valid := map[core.ConversationState]bool{
		core.StateIdle: true, core.StateListening: true, core.StateThinking: true, core.StateSpeaking: true,
	}
	for _, op := range ops {
		op()
		if !valid[a.State()] {
			t.Fatalf("invalid state %q", a.State())
		}
		if a.State() == core.StateIdle && h.graph.MicAnalyser() != nil {
			t.Fatalf("mic analyser left attached in idle")
		}
	}
	waitState(t, a, core.StateIdle)
	h.device.allReleasedOnce(t)
	if len(h.device.streams) != 4 {
		t.Fatalf("expected 4 capture sessions, got %d", len(h.device.streams))
	}
}

func TestAgent_SlowDeviceDoesNotBlockStateReads(t *testing.T) {
	h := newHarness(t, nil)
	h.device.opening = make(chan struct{})
	h.device.gate = make(chan struct{})
	a := h.agent

	started := make(chan error, 1)
	go func() { started <- a.StartCapture(context.Background()) }()
	<-h.device.opening

	read := make(chan core.ConversationState, 1)
	go func() { read <- a.View().State }()
	select {
	case st := <-read:
		if st != core.StateIdle {
			t.Fatalf("state should stay idle while the device opens, got %s", st)
		}
	case <-time.After(time.Second):
		t.Fatalf("View blocked while the device was opening")
	}
	if err := a.SubmitText(context.Background(), "hello"); !errors.Is(err, core.ErrNotIdle) {
		t.Fatalf("a second turn must be refused while opening, got %v", err)
	}

	close(h.device.gate)
	if err := <-started; err != nil {
		t.Fatalf("start: %v", err)
	}
	if a.State() != core.StateListening {
		t.Fatalf("expected listening once the device opened, got %s", a.State())
	}
}

func TestAgent_CancelWhileDeviceOpens(t *testing.T) {
	h := newHarness(t, nil)
	h.device.opening = make(chan struct{})
	h.device.gate = make(chan struct{})
	a := h.agent

	started := make(chan error, 1)
	go func() { started <- a.StartCapture(context.Background()) }()
	<-h.device.opening
	a.Cancel()
	close(h.device.gate)

	if err := <-started; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if a.State() != core.StateIdle {
		t.Fatalf("expected idle, got %s", a.State())
	}
	if h.graph.MicAnalyser() != nil {
		t.Fatalf("mic analyser left attached after cancel")
	}
	h.device.allReleasedOnce(t)
	if len(h.device.streams) != 1 {
		t.Fatalf("expected one opened stream, got %d", len(h.device.streams))
	}
}

func TestAgent_ViewTracksSpokenWord(t *testing.T) {
	h := newHarness(t, nil)
	words := strings.Fields("alpha beta gamma")
	h.agent.onWord(words)(1, 3)
	if v := h.agent.View(); v.Revealed != "alpha beta" {
		t.Fatalf("unexpected revealed text %q", v.Revealed)
	}
	h.agent.onWord(words)(3, 3)
	if v := h.agent.View(); v.Revealed != "alpha beta gamma" || v.Word != "" {
		t.Fatalf("completion should reveal everything, got %+v", v)
	}
}
