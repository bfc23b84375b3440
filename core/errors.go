package core

import (
	"errors"
	"fmt"
)

var (
	ErrPermissionDenied    = errors.New("microphone permission denied")
	ErrDeviceUnavailable   = errors.New("audio device unavailable")
	ErrEmptyCapture        = errors.New("capture produced no audio")
	ErrNothingUnderstood   = errors.New("nothing understood")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrReasoningFailed     = errors.New("reasoning failed")
	ErrSynthesisFailed     = errors.New("synthesis failed")
	ErrPlaybackError       = errors.New("playback error")
	ErrNotIdle             = errors.New("conversation is not idle")
)

// Stage names used in StageError and metrics labels.
const (
	StageCapture       = "capture"
	StageTranscription = "transcription"
	StageReasoning     = "reasoning"
	StageSynthesis     = "synthesis"
	StagePlayback      = "playback"
)

// StageError ties a failure to the pipeline stage that produced it. Kind is
// one of the sentinels above and Err is the underlying cause.
type StageError struct {
	Stage   string
	Kind    error
	Err     error
	Message string
}

func NewStageError(stage string, kind, err error, message string) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err, Message: message}
}

func (e *StageError) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, msg, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel kind as well as anything in the wrapped chain.
func (e *StageError) Is(target error) bool {
	if e.Kind != nil && e.Kind == target {
		return true
	}
	return errors.Is(e.Err, target)
}

func (e *StageError) As(target any) bool {
	if t, ok := target.(**StageError); ok {
		*t = e
		return true
	}
	return errors.As(e.Err, target)
}

// StageOf returns the stage recorded on err, or "" if none.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
