package tts

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"
)

// SpeechEngine is an on-device speech synthesizer used when the synthesis
// service fails. Speak blocks until the utterance ends or ctx is cancelled
// and reports each word boundary by its index into Words(text).
type SpeechEngine interface {
	Name() string
	Available() bool
	Speak(ctx context.Context, text string, onBoundary func(wordIndex int)) error
}

// EspeakEngine speaks through the espeak-ng (or espeak) binary. espeak
// reports no boundaries on its default output, so they are derived from the
// configured speaking rate.
type EspeakEngine struct {
	binary      string
	wordsPerMin int
}

// NewEspeakEngine locates espeak-ng or espeak on PATH. The engine reports
// itself unavailable when neither is installed.
func NewEspeakEngine(wordsPerMin int) *EspeakEngine {
	if wordsPerMin <= 0 {
		wordsPerMin = 175
	}
	e := &EspeakEngine{wordsPerMin: wordsPerMin}
	for _, name := range []string{"espeak-ng", "espeak"} {
		if path, err := exec.LookPath(name); err == nil {
			e.binary = path
			break
		}
	}
	return e
}

func (e *EspeakEngine) Name() string { return "espeak" }

func (e *EspeakEngine) Available() bool { return e.binary != "" }

func (e *EspeakEngine) Speak(ctx context.Context, text string, onBoundary func(int)) error {
	if !e.Available() {
		return errors.New("espeak: binary not found")
	}
	words := Words(text)
	cmd := exec.CommandContext(ctx, e.binary, "-s", strconv.Itoa(e.wordsPerMin), "--", text)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("espeak: start: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	perWord := time.Minute / time.Duration(e.wordsPerMin)
	ticker := time.NewTicker(perWord)
	defer ticker.Stop()

	next := 0
	if len(words) > 0 {
		onBoundary(next)
		next++
	}
	for {
		select {
		case err := <-exited:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				return fmt.Errorf("espeak: %w", err)
			}
			return nil
		case <-ticker.C:
			if next < len(words) {
				onBoundary(next)
				next++
			}
		}
	}
}
