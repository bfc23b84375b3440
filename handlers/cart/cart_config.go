package cart

import "time"

type CartConfig struct {
	StrongIntents []string      `json:"strong_intents"` // Reply intents that trigger lead auto-capture.
	LeadSource    string        `json:"lead_source"`    // Source tag sent with every lead.
	LeadTimeout   time.Duration `json:"lead_timeout"`   // Deadline of the background lead call.
}

// DefaultConfig returns a CartConfig with sensible defaults.
func DefaultConfig() CartConfig {
	return CartConfig{
		StrongIntents: []string{"purchase", "buy", "book", "booking", "contact", "schedule_viewing", "viewing"},
		LeadSource:    "voice_agent",
		LeadTimeout:   10 * time.Second,
	}
}
