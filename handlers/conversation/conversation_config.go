package conversation

type ConversationConfig struct {
	ApologyMessage    string `json:"apology_message"`    // Shown when a turn fails.
	NothingHeard      string `json:"nothing_heard"`      // Sentinel transcript for an empty capture.
	NothingUnderstood string `json:"nothing_understood"` // Sentinel transcript for a blank transcription.
}

// DefaultConfig returns a ConversationConfig with sensible defaults.
func DefaultConfig() ConversationConfig {
	return ConversationConfig{
		ApologyMessage:    "Sorry, something went wrong on my side. Could you try that again?",
		NothingHeard:      "(I didn't hear anything)",
		NothingUnderstood: "(Sorry, I couldn't make that out)",
	}
}
