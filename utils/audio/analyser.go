package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// AnalyserConfig mirrors the knobs of a browser AnalyserNode.
type AnalyserConfig struct {
	FFTSize     int     `json:"fft_size"`     // power of two
	Smoothing   float64 `json:"smoothing"`    // 0 (none) .. 1 (frozen)
	MinDecibels float64 `json:"min_decibels"` // maps to 0
	MaxDecibels float64 `json:"max_decibels"` // maps to 1
	Channels    int     `json:"channels"`     // of the PCM written to the tap
}

// PlaybackAnalyserConfig is small and heavily smoothed, suited to an orb.
func PlaybackAnalyserConfig() AnalyserConfig {
	return AnalyserConfig{FFTSize: 64, Smoothing: 0.85, MinDecibels: -100, MaxDecibels: -30, Channels: 1}
}

// MicAnalyserConfig resolves more detail and reacts faster.
func MicAnalyserConfig() AnalyserConfig {
	return AnalyserConfig{FFTSize: 256, Smoothing: 0.5, MinDecibels: -100, MaxDecibels: -30, Channels: 1}
}

// Analyser is a visualization-only tap. PCM written to it is kept in a ring
// of FFTSize samples; Frequency transforms the ring on demand.
type Analyser struct {
	mu  sync.Mutex
	cfg AnalyserConfig

	ring  []float64
	pos   int
	carry []byte

	fft      *fourier.FFT
	window   []float64
	frame    []float64
	coeff    []complex128
	smoothed []float64

	outputs int // connected outputs
}

func NewAnalyser(cfg AnalyserConfig) *Analyser {
	if cfg.FFTSize < 8 {
		cfg.FFTSize = 64
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		cfg.MinDecibels, cfg.MaxDecibels = -100, -30
	}
	n := cfg.FFTSize
	window := make([]float64, n)
	for i := range window {
		// Blackman, as AnalyserNode uses.
		x := 2 * math.Pi * float64(i) / float64(n)
		window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}
	return &Analyser{
		cfg:      cfg,
		ring:     make([]float64, n),
		fft:      fourier.NewFFT(n),
		window:   window,
		frame:    make([]float64, n),
		coeff:    make([]complex128, n/2+1),
		smoothed: make([]float64, n/2),
	}
}

// Write feeds 16-bit little endian PCM to the analyser. It never fails so it
// can sit behind an io.TeeReader.
func (a *Analyser) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	data := p
	if len(a.carry) > 0 {
		data = append(append([]byte(nil), a.carry...), p...)
		a.carry = a.carry[:0]
	}
	frameBytes := 2 * a.cfg.Channels
	whole := len(data) - len(data)%frameBytes
	for _, s := range SamplesFromPCM(data[:whole], a.cfg.Channels) {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % len(a.ring)
	}
	if whole < len(data) {
		a.carry = append(a.carry, data[whole:]...)
	}
	return len(p), nil
}

// Frequency returns FFTSize/2 smoothed magnitudes scaled into [0, 1].
func (a *Analyser) Frequency() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.ring)
	for i := 0; i < n; i++ {
		a.frame[i] = a.ring[(a.pos+i)%n] * a.window[i]
	}
	a.coeff = a.fft.Coefficients(a.coeff, a.frame)

	out := make([]float64, len(a.smoothed))
	span := a.cfg.MaxDecibels - a.cfg.MinDecibels
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeff[k]) / float64(n)
		a.smoothed[k] = a.cfg.Smoothing*a.smoothed[k] + (1-a.cfg.Smoothing)*mag
		db := math.Inf(-1)
		if a.smoothed[k] > 0 {
			db = 20 * math.Log10(a.smoothed[k])
		}
		out[k] = clamp01((db - a.cfg.MinDecibels) / span)
	}
	return out
}

// Level is the mean of Frequency.
func (a *Analyser) Level() float64 {
	bins := a.Frequency()
	if len(bins) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bins {
		sum += b
	}
	return sum / float64(len(bins))
}

// Live reports whether an output is currently feeding the analyser.
func (a *Analyser) Live() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outputs > 0
}

func (a *Analyser) attach() {
	a.mu.Lock()
	a.outputs++
	a.mu.Unlock()
}

// detach drops one output; the last one leaves the analyser silent.
func (a *Analyser) detach() {
	a.mu.Lock()
	if a.outputs > 0 {
		a.outputs--
	}
	last := a.outputs == 0
	a.mu.Unlock()
	if last {
		a.Reset()
	}
}

// Reset silences the analyser.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.ring {
		a.ring[i] = 0
	}
	for i := range a.smoothed {
		a.smoothed[i] = 0
	}
	a.carry = a.carry[:0]
	a.pos = 0
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Breathing is the deterministic idle animation used when no analyser is
// live: a slow sine between 0.15 and 0.35 with a 4 second period.
func Breathing(seconds float64) float64 {
	return 0.25 + 0.1*math.Sin(2*math.Pi*seconds/4)
}
