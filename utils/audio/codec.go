package audio

import (
	"errors"

	"concierge/core"
)

// PreferredEncodings is the ordered fallback list tried by SelectEncoding.
var PreferredEncodings = []core.AudioEncodingFormat{core.WAV, core.ULAW, core.ALAW}

var ErrNoCommonEncoding = errors.New("no common audio encoding")

// SelectEncoding returns the first entry of preferred that the consumer
// supports. An empty preferred list falls back to PreferredEncodings.
func SelectEncoding(preferred, supported []core.AudioEncodingFormat) (core.AudioEncodingFormat, error) {
	if len(preferred) == 0 {
		preferred = PreferredEncodings
	}
	for _, p := range preferred {
		for _, s := range supported {
			if p == s {
				return p, nil
			}
		}
	}
	return core.PCM, ErrNoCommonEncoding
}

// ParseEncoding maps a settings string onto an encoding.
func ParseEncoding(s string) (core.AudioEncodingFormat, bool) {
	for _, f := range []core.AudioEncodingFormat{core.PCM, core.WAV, core.ULAW, core.ALAW} {
		if f.String() == s {
			return f, true
		}
	}
	return core.PCM, false
}
