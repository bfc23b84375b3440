package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"concierge/core"
	"concierge/utils/audio"

	"github.com/google/uuid"
)

var ErrSessionClosed = errors.New("capture session already closed")

// Controller owns the microphone. At most one Session is live at a time.
type Controller struct {
	device   Device
	graph    *audio.Graph
	config   CaptureConfig
	encoding core.AudioEncodingFormat
	logger   *core.Logger

	mu     sync.Mutex
	active *Session
}

// NewController probes the encodings the consumer accepts against the
// configured fallback list and fixes the capture encoding.
func NewController(device Device, graph *audio.Graph, config CaptureConfig, accepted []core.AudioEncodingFormat, logger *core.Logger) (*Controller, error) {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.Channels <= 0 {
		config.Channels = 1
	}
	if config.ChunkInterval <= 0 {
		config.ChunkInterval = 250 * time.Millisecond
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	encoding, err := audio.SelectEncoding(config.Encodings, accepted)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	return &Controller{
		device:   device,
		graph:    graph,
		config:   config,
		encoding: encoding,
		logger:   logger.With(map[string]any{"component": "capture", "encoding": encoding.String()}),
	}, nil
}

func (c *Controller) Encoding() core.AudioEncodingFormat { return c.encoding }

// Start acquires the microphone. It fails with ErrDeviceUnavailable while
// another session still holds the device.
func (c *Controller) Start(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && !c.active.Closed() {
		return nil, core.NewStageError(core.StageCapture, core.ErrDeviceUnavailable, nil, "microphone busy")
	}

	s := &Session{
		id:       uuid.NewString(),
		config:   c.config,
		encoding: c.encoding,
		buf:      audio.NewBuffer(c.config.MaxBytes),
		graph:    c.graph,
		done:     make(chan struct{}),
		released: make(chan struct{}),
		logger:   c.logger,
	}
	if c.graph != nil {
		s.analyser = c.graph.AttachMic(c.config.Channels)
	}

	stream, err := c.device.Open(DeviceConfig{SampleRate: c.config.SampleRate, Channels: c.config.Channels}, s.onData)
	if err != nil {
		s.detach()
		return nil, core.NewStageError(core.StageCapture, deviceErrorKind(err), err, "open microphone")
	}
	s.stream = stream
	if err := stream.Start(); err != nil {
		s.release()
		return nil, core.NewStageError(core.StageCapture, deviceErrorKind(err), err, "start microphone")
	}
	s.startedAt = time.Now()

	go s.chunkLoop(ctx)
	c.active = s
	c.logger.With(map[string]any{"session": s.id}).Debug("capture started")
	return s, nil
}

func deviceErrorKind(err error) error {
	if errors.Is(err, core.ErrPermissionDenied) {
		return core.ErrPermissionDenied
	}
	return core.ErrDeviceUnavailable
}

// Session is one microphone recording. It is closed exactly once, by Stop
// or Cancel, and the device is released exactly once.
type Session struct {
	id        string
	config    CaptureConfig
	encoding  core.AudioEncodingFormat
	stream    Stream
	graph     *audio.Graph
	analyser  *audio.Analyser
	buf       *audio.Buffer
	startedAt time.Time
	logger    *core.Logger

	mu      sync.Mutex
	pending []byte
	closed  bool

	// flushMu serialises chunk encoding with Stop and Cancel.
	flushMu sync.Mutex

	releaseOnce sync.Once
	releases    atomic.Int32
	done        chan struct{}

	naturalOnce sync.Once
	released    chan struct{}
}

func (s *Session) ID() string { return s.id }

// Analyser is the live microphone analyser for visualization.
func (s *Session) Analyser() *audio.Analyser { return s.analyser }

// Released is closed when the session ends itself (max duration or full
// buffer). The owner should then call Stop.
func (s *Session) Released() <-chan struct{} { return s.released }

// Releases reports how many times the device was released.
func (s *Session) Releases() int { return int(s.releases.Load()) }

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) onData(pcm []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, pcm...)
	s.mu.Unlock()

	if s.analyser != nil {
		s.analyser.Write(pcm)
	}
}

func (s *Session) chunkLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.ChunkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			s.Cancel()
			return
		case <-ticker.C:
			if err := s.flushPending(); err != nil {
				s.logger.With(map[string]any{"session": s.id, "error": err}).Warn("capture buffer full, releasing")
				s.signalRelease()
			}
			if s.config.MaxDuration > 0 && time.Since(s.startedAt) >= s.config.MaxDuration {
				s.signalRelease()
			}
		}
	}
}

func (s *Session) signalRelease() {
	s.naturalOnce.Do(func() { close(s.released) })
}

// flushPending encodes PCM received since the last tick into one chunk.
// WAV chunks stay raw PCM; the container is added on Stop.
func (s *Session) flushPending() error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	pcm := s.pending
	s.pending = nil
	s.mu.Unlock()
	return s.appendChunk(pcm)
}

func (s *Session) appendChunk(pcm []byte) error {
	frame := 2 * s.config.Channels
	if trim := len(pcm) % frame; trim != 0 {
		pcm = pcm[:len(pcm)-trim]
	}
	if len(pcm) == 0 {
		return nil
	}
	chunk := pcm
	if s.encoding != core.WAV && s.encoding != core.PCM {
		enc, err := audio.EncodePCM(pcm, s.encoding, s.config.Channels, s.config.SampleRate)
		if err != nil {
			return err
		}
		chunk = enc
	}
	return s.buf.Append(chunk)
}

// Stop flushes every chunk into one payload and releases the device. A
// recording with no audio returns ErrEmptyCapture.
func (s *Session) Stop() (core.AudioChunk, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return core.AudioChunk{}, ErrSessionClosed
	}
	s.closed = true
	tail := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.release()

	if err := s.appendChunk(tail); err != nil && !errors.Is(err, audio.ErrBufferFull) {
		return core.AudioChunk{}, core.NewStageError(core.StageCapture, core.ErrDeviceUnavailable, err, "encode tail")
	}
	data := s.buf.Flush()
	if len(data) == 0 {
		return core.AudioChunk{}, core.ErrEmptyCapture
	}

	if s.encoding == core.WAV {
		wav, err := audio.PCMBytesToWavBytes(data, s.config.Channels, s.config.SampleRate)
		if err != nil {
			return core.AudioChunk{}, core.NewStageError(core.StageCapture, core.ErrDeviceUnavailable, err, "wrap wav")
		}
		data = wav
	}

	s.logger.With(map[string]any{
		"session": s.id,
		"bytes":   len(data),
		"elapsed": time.Since(s.startedAt).String(),
	}).Debug("capture stopped")

	return core.AudioChunk{
		Data:       data,
		SampleRate: s.config.SampleRate,
		Channels:   s.config.Channels,
		Format:     s.encoding,
	}, nil
}

// Cancel discards everything and releases the device. Audio that arrives
// afterwards is dropped.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.release()

	s.flushMu.Lock()
	s.buf.Clear()
	s.flushMu.Unlock()
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		close(s.done)
		if s.stream != nil {
			if err := s.stream.Close(); err != nil {
				s.logger.With(map[string]any{"session": s.id, "error": err}).Warn("microphone close failed")
			}
		}
		s.detach()
		s.releases.Add(1)
	})
}

func (s *Session) detach() {
	if s.graph != nil && s.analyser != nil {
		s.graph.DetachMic(s.analyser)
	}
}
