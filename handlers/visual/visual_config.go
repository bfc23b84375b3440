package visual

import "time"

type VisualConfig struct {
	TickInterval  time.Duration `json:"tick_interval"`  // Sampling period of the per-tick callback.
	IdleAlpha     float64       `json:"idle_alpha"`     // Exponential smoothing factor while idle.
	ActiveAlpha   float64       `json:"active_alpha"`   // Exponential smoothing factor while listening, thinking or speaking.
	VisemeBlend   float64       `json:"viseme_blend"`   // Fraction of the distance to the target mouth shape covered per tick.
	VisemeDecay   float64       `json:"viseme_decay"`   // Fraction of every mouth shape removed per tick when silent.
	CharDuration  time.Duration `json:"char_duration"`  // Time spent on each character of the current word.
	BlinkMin      time.Duration `json:"blink_min"`      // Shortest gap between blinks.
	BlinkMax      time.Duration `json:"blink_max"`      // Longest gap between blinks.
	BlinkDuration time.Duration `json:"blink_duration"` // How long the eyes stay closed.
	Bands         int           `json:"bands"`          // Frequency bands in each frame.
}

// DefaultConfig returns a VisualConfig with sensible defaults.
func DefaultConfig() VisualConfig {
	return VisualConfig{
		TickInterval:  33 * time.Millisecond,
		IdleAlpha:     0.05,
		ActiveAlpha:   0.3,
		VisemeBlend:   0.35,
		VisemeDecay:   0.2,
		CharDuration:  70 * time.Millisecond,
		BlinkMin:      2 * time.Second,
		BlinkMax:      6 * time.Second,
		BlinkDuration: 150 * time.Millisecond,
		Bands:         8,
	}
}
