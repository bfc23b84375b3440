package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"concierge/core"
	"concierge/events/conversation"
	llmevents "concierge/events/llm"
	sttevents "concierge/events/stt"
	"concierge/handlers/capture"
	"concierge/handlers/llm"
	"concierge/handlers/tts"
	"concierge/handlers/visual"
)

var (
	ErrNotListening = errors.New("conversation is not listening")
	ErrEmptyQuery   = errors.New("query text is empty")
)

type Capturer interface {
	Start(ctx context.Context) (*capture.Session, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, chunk core.AudioChunk) (string, error)
}

type Reasoner interface {
	Reply(ctx context.Context, utterance string, window []core.Turn) (core.StructuredReply, error)
}

type Synthesizer interface {
	Prepare(ctx context.Context, text string) (*tts.Utterance, error)
}

// SideEffects reacts to a successful reply. It must not block on the network.
type SideEffects interface {
	ApplyReply(ctx context.Context, reply core.StructuredReply)
}

// TranscriptEntry is one line of the displayed conversation. Apologies and
// sentinels are displayed but never sent to reasoning.
type TranscriptEntry struct {
	Turn     core.Turn `json:"turn"`
	Apology  bool      `json:"apology,omitempty"`
	Sentinel bool      `json:"sentinel,omitempty"`
}

// Agent is the conversation state machine. It owns the per-turn session
// and is the only component that changes ConversationState.
type Agent struct {
	id          string
	capture     Capturer
	transcriber Transcriber
	reasoner    Reasoner
	synthesizer Synthesizer
	effects     SideEffects
	history     *llm.History
	config      ConversationConfig
	publisher   core.Publisher
	logger      *core.Logger

	mu    sync.Mutex
	state core.ConversationState
	gen   uint64
	sess  *session

	viewMu     sync.Mutex
	revealed   string
	word       string
	transcript []TranscriptEntry

	wg sync.WaitGroup
}

type Options struct {
	ID          string
	Capture     Capturer
	Transcriber Transcriber
	Reasoner    Reasoner
	Synthesizer Synthesizer
	Effects     SideEffects
	History     *llm.History
	Config      ConversationConfig
	Publisher   core.Publisher
	Logger      *core.Logger
}

func NewAgent(opts Options) *Agent {
	if opts.History == nil {
		opts.History = llm.NewHistory(llm.DefaultConfig().HistoryWindow)
	}
	if opts.Publisher == nil {
		opts.Publisher = core.NopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = core.GetLogger()
	}
	def := DefaultConfig()
	if opts.Config.ApologyMessage == "" {
		opts.Config.ApologyMessage = def.ApologyMessage
	}
	if opts.Config.NothingHeard == "" {
		opts.Config.NothingHeard = def.NothingHeard
	}
	if opts.Config.NothingUnderstood == "" {
		opts.Config.NothingUnderstood = def.NothingUnderstood
	}
	return &Agent{
		id:          opts.ID,
		capture:     opts.Capture,
		transcriber: opts.Transcriber,
		reasoner:    opts.Reasoner,
		synthesizer: opts.Synthesizer,
		effects:     opts.Effects,
		history:     opts.History,
		config:      opts.Config,
		publisher:   opts.Publisher,
		logger:      opts.Logger.With(map[string]any{"component": "agent", "conversation_id": opts.ID}),
		state:       core.StateIdle,
	}
}

// session owns every resource of one turn. teardown is the single exit
// path and is safe to call more than once.
type session struct {
	gen     uint64
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time

	capture   *capture.Session
	mark      llm.Mark
	pending   bool
	utterance *tts.Utterance
	playback  *tts.Playback

	once sync.Once
}

func (s *session) teardown(history *llm.History) {
	s.once.Do(func() {
		s.cancel()
		if s.capture != nil {
			s.capture.Cancel()
		}
		if s.playback != nil {
			s.playback.Stop()
		} else if s.utterance != nil {
			s.utterance.Release()
		}
		if s.pending {
			history.Rollback(s.mark)
			s.pending = false
		}
	})
}

func (a *Agent) ID() string { return a.id }

func (a *Agent) State() core.ConversationState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// View is sampled by the renderer every tick.
func (a *Agent) View() visual.View {
	state := a.State()
	a.viewMu.Lock()
	defer a.viewMu.Unlock()
	v := visual.View{State: state, Revealed: a.revealed}
	if state == core.StateSpeaking {
		v.Word = a.word
	}
	return v
}

// History returns the reasoning history.
func (a *Agent) History() []core.Turn {
	return a.history.Turns()
}

// Transcript returns the displayed conversation.
func (a *Agent) Transcript() []TranscriptEntry {
	a.viewMu.Lock()
	defer a.viewMu.Unlock()
	return append([]TranscriptEntry(nil), a.transcript...)
}

// StartCapture moves Idle to Listening. From any other state it is a no-op
// returning core.ErrNotIdle. The device opens outside the agent lock; a
// Cancel while it opens releases it again and StartCapture returns
// context.Canceled.
func (a *Agent) StartCapture(ctx context.Context) error {
	a.mu.Lock()
	if !a.idleLocked() {
		state := a.state
		a.mu.Unlock()
		a.logger.Debug("start capture ignored", "state", string(state))
		return core.ErrNotIdle
	}
	sess := a.newSessionLocked()
	a.sess = sess
	a.mu.Unlock()

	capSess, err := a.capture.Start(sess.ctx)

	a.mu.Lock()
	if !a.liveLocked(sess.gen) {
		a.mu.Unlock()
		if capSess != nil {
			capSess.Cancel()
		}
		a.logger.Debug("capture cancelled while opening")
		return context.Canceled
	}
	if err != nil {
		sess.teardown(a.history)
		a.sess = nil
		a.mu.Unlock()
		a.failed(core.StageCapture, err)
		a.ended(sess, conversation.OutcomeFailed)
		return err
	}
	sess.capture = capSess
	a.setStateLocked(core.StateListening)
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		select {
		case <-capSess.Released():
			a.logger.Debug("capture released itself")
			a.stopCapture(sess.gen)
		case <-sess.ctx.Done():
		}
	}()
	return nil
}

// StopCapture moves Listening to Thinking and starts the turn.
func (a *Agent) StopCapture() error {
	a.mu.Lock()
	gen := a.gen
	a.mu.Unlock()
	return a.stopCapture(gen)
}

func (a *Agent) stopCapture(gen uint64) error {
	a.mu.Lock()
	if a.state != core.StateListening || !a.liveLocked(gen) {
		a.mu.Unlock()
		return ErrNotListening
	}
	sess := a.sess
	chunk, err := sess.capture.Stop()
	if err != nil {
		sess.teardown(a.history)
		a.sess = nil
		a.setStateLocked(core.StateIdle)
		a.mu.Unlock()

		if errors.Is(err, core.ErrEmptyCapture) {
			a.publisher.Publish(&sttevents.STTNothingHeardEvent{Sentinel: a.config.NothingHeard}, "Agent")
			a.display(TranscriptEntry{Turn: core.NewTurn(core.RoleUser, a.config.NothingHeard), Sentinel: true})
			a.ended(sess, conversation.OutcomeEmpty)
			return nil
		}
		a.failed(core.StageCapture, err)
		a.ended(sess, conversation.OutcomeFailed)
		return err
	}
	a.setStateLocked(core.StateThinking)
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runTurn(sess, &chunk, "")
	}()
	return nil
}

// SubmitText sends a typed query straight to Thinking. Legal only from Idle.
func (a *Agent) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyQuery
	}
	a.mu.Lock()
	if !a.idleLocked() {
		a.mu.Unlock()
		return core.ErrNotIdle
	}
	sess := a.newSessionLocked()
	a.sess = sess
	a.setStateLocked(core.StateThinking)
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.runTurn(sess, nil, text)
	}()
	return nil
}

// Cancel returns to Idle from any state. The live session is torn down
// before Cancel returns, so a new capture can start immediately.
func (a *Agent) Cancel() {
	a.mu.Lock()
	sess := a.sess
	a.gen++
	a.sess = nil
	if sess != nil {
		sess.teardown(a.history)
	}
	if a.state != core.StateIdle {
		a.setStateLocked(core.StateIdle)
	}
	a.mu.Unlock()

	if sess != nil {
		a.logger.Info("turn cancelled")
		a.ended(sess, conversation.OutcomeCancelled)
	}
}

// BargeIn interrupts the agent and starts listening.
func (a *Agent) BargeIn(ctx context.Context) error {
	if a.State() == core.StateSpeaking {
		a.publisher.Publish(&conversation.BargeInEvent{}, "Agent")
	}
	a.Cancel()
	return a.StartCapture(ctx)
}

// Close cancels the live turn and waits for its goroutines.
func (a *Agent) Close() {
	a.Cancel()
	a.wg.Wait()
}

func (a *Agent) runTurn(sess *session, chunk *core.AudioChunk, text string) {
	gen := sess.gen

	if chunk != nil {
		start := time.Now()
		transcript, err := a.transcriber.Transcribe(sess.ctx, *chunk)
		if !a.live(gen) {
			a.logger.Debug("discarding late transcription")
			return
		}
		a.timing(core.StageTranscription, start)
		if errors.Is(err, core.ErrNothingUnderstood) {
			a.display(TranscriptEntry{Turn: core.NewTurn(core.RoleUser, a.config.NothingUnderstood), Sentinel: true})
			if a.toIdle(gen) {
				a.ended(sess, conversation.OutcomeEmpty)
			}
			return
		}
		if err != nil {
			if a.abort(gen, core.StageTranscription, err) {
				a.ended(sess, conversation.OutcomeFailed)
			}
			return
		}
		text = transcript
	}
	a.display(TranscriptEntry{Turn: core.NewTurn(core.RoleUser, text)})

	a.mu.Lock()
	if !a.liveLocked(gen) {
		a.mu.Unlock()
		return
	}
	mark, window := a.history.Begin(text)
	sess.mark, sess.pending = mark, true
	a.mu.Unlock()

	start := time.Now()
	reply, err := a.reasoner.Reply(sess.ctx, text, window)
	if !a.live(gen) {
		a.logger.Debug("discarding late reply")
		return
	}
	a.timing(core.StageReasoning, start)
	if err != nil {
		if a.abort(gen, core.StageReasoning, err) {
			a.ended(sess, conversation.OutcomeFailed)
		}
		return
	}

	note := llm.ReferenceNote(reply)
	a.mu.Lock()
	if !a.liveLocked(gen) {
		a.mu.Unlock()
		return
	}
	a.history.Commit(mark, reply.Message, note)
	sess.pending = false
	a.mu.Unlock()

	if note != "" {
		a.publisher.Publish(&llmevents.LLMReferenceNoteEvent{Note: note}, "Agent")
	}
	if a.effects != nil {
		a.effects.ApplyReply(sess.ctx, reply)
	}
	a.display(TranscriptEntry{Turn: core.NewTurn(core.RoleAgent, reply.Message)})

	start = time.Now()
	utterance, err := a.synthesizer.Prepare(sess.ctx, reply.Message)
	if err != nil {
		// Prepare only fails when the turn was cancelled.
		return
	}
	a.timing(core.StageSynthesis, start)

	a.mu.Lock()
	if !a.liveLocked(gen) {
		a.mu.Unlock()
		utterance.Release()
		return
	}
	sess.utterance = utterance
	a.resetView()
	playback, err := utterance.Play(a.onWord(utterance.Words()))
	if err != nil {
		a.mu.Unlock()
		if a.abort(gen, core.StagePlayback, err) {
			a.ended(sess, conversation.OutcomeFailed)
		}
		return
	}
	sess.playback = playback
	a.setStateLocked(core.StateSpeaking)
	a.mu.Unlock()

	start = time.Now()
	<-playback.Done()
	if playback.Interrupted() {
		return
	}
	a.timing(core.StagePlayback, start)
	if a.toIdle(gen) {
		a.ended(sess, conversation.OutcomeCompleted)
	}
}

func (a *Agent) onWord(words []string) func(index, count int) {
	return func(index, count int) {
		a.viewMu.Lock()
		defer a.viewMu.Unlock()
		if index >= count || index >= len(words) {
			a.word = ""
			a.revealed = strings.Join(words, " ")
			return
		}
		a.word = words[index]
		a.revealed = strings.Join(words[:index+1], " ")
	}
}

func (a *Agent) resetView() {
	a.viewMu.Lock()
	a.word, a.revealed = "", ""
	a.viewMu.Unlock()
}

func (a *Agent) newSessionLocked() *session {
	a.gen++
	ctx, cancel := context.WithCancel(context.Background())
	ctx = core.ContextWithSessionLogger(ctx, a.logger.With(map[string]any{"turn": a.gen}))
	return &session{gen: a.gen, ctx: ctx, cancel: cancel, started: time.Now()}
}

func (a *Agent) live(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.liveLocked(gen)
}

// idleLocked is false while a capture device is still opening.
func (a *Agent) idleLocked() bool {
	return a.state == core.StateIdle && a.sess == nil
}

func (a *Agent) liveLocked(gen uint64) bool {
	return a.gen == gen && a.sess != nil && a.sess.gen == gen
}

// toIdle ends the session of gen normally. It reports false when the
// session was already gone.
func (a *Agent) toIdle(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.liveLocked(gen) {
		return false
	}
	a.sess.teardown(a.history)
	a.sess = nil
	a.setStateLocked(core.StateIdle)
	return true
}

// abort ends the session of gen with one apology.
func (a *Agent) abort(gen uint64, stage string, err error) bool {
	if !a.toIdle(gen) {
		return false
	}
	a.failed(stage, err)
	return true
}

func (a *Agent) failed(stage string, err error) {
	if s := core.StageOf(err); s != "" {
		stage = s
	}
	a.logger.With(map[string]any{"stage": stage, "error": err}).Warn("turn failed")
	a.publisher.Publish(&conversation.TurnFailedEvent{Stage: stage, Error: err.Error()}, "Agent")
	a.display(TranscriptEntry{Turn: core.NewTurn(core.RoleAgent, a.config.ApologyMessage), Apology: true})
}

func (a *Agent) ended(sess *session, outcome string) {
	a.publisher.Publish(&conversation.TurnEndedEvent{
		Outcome: outcome,
		Seconds: time.Since(sess.started).Seconds(),
	}, "Agent")
}

func (a *Agent) timing(stage string, start time.Time) {
	a.publisher.Publish(&conversation.StageTimingEvent{Stage: stage, Seconds: time.Since(start).Seconds()}, "Agent")
}

func (a *Agent) display(entry TranscriptEntry) {
	a.viewMu.Lock()
	a.transcript = append(a.transcript, entry)
	a.viewMu.Unlock()
	a.publisher.Publish(&conversation.TurnAppendedEvent{Turn: entry.Turn, Apology: entry.Apology}, "Agent")
}

func (a *Agent) setStateLocked(to core.ConversationState) {
	from := a.state
	if from == to {
		return
	}
	a.state = to
	a.logger.Debug("state changed", "from", string(from), "to", string(to))
	a.publisher.Publish(&conversation.StateChangedEvent{From: from, To: to}, "Agent")
}
