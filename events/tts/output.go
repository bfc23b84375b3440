package tts

// Playback modes, in fallback order.
const (
	ModeAudio  = "audio"
	ModeEngine = "engine"
	ModeReveal = "reveal"
)

type TTSSpeakingStartedEvent struct {
	Mode      string `json:"mode"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

func (e *TTSSpeakingStartedEvent) GetId() string {
	return "tts.speaking_started"
}

type TTSSpeakingEndedEvent struct {
	Mode        string `json:"mode"`
	Interrupted bool   `json:"interrupted"`
}

func (e *TTSSpeakingEndedEvent) GetId() string {
	return "tts.speaking_ended"
}

// TTSWordIndexEvent drives subtitle highlighting. Index equals WordCount
// exactly once, when playback completes.
type TTSWordIndexEvent struct {
	Index     int `json:"index"`
	WordCount int `json:"word_count"`
}

func (e *TTSWordIndexEvent) GetId() string {
	return "tts.word_index"
}

// TTSFallbackEvent records a step down the synthesis fallback chain.
type TTSFallbackEvent struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Error string `json:"error,omitempty"`
}

func (e *TTSFallbackEvent) GetId() string {
	return "tts.fallback"
}
