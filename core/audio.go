package core

type AudioEncodingFormat int

const (
	PCM  AudioEncodingFormat = iota // Raw 16-bit little endian pulse-code modulation.
	WAV                             // PCM wrapped in a RIFF/WAVE container.
	ULAW                            // μ-law encoding format.
	ALAW                            // A-law encoding format.
	MP3                             // MPEG-1 layer III, decode only.
)

func (f AudioEncodingFormat) String() string {
	switch f {
	case PCM:
		return "pcm"
	case WAV:
		return "wav"
	case ULAW:
		return "ulaw"
	case ALAW:
		return "alaw"
	case MP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// MIMEType is the content type used when the payload is sent over HTTP.
func (f AudioEncodingFormat) MIMEType() string {
	switch f {
	case WAV:
		return "audio/wav"
	case ULAW:
		return "audio/basic"
	case ALAW:
		return "audio/x-alaw-basic"
	case MP3:
		return "audio/mpeg"
	default:
		return "audio/L16"
	}
}

// FileExtension is used by providers that infer the codec from a file name.
func (f AudioEncodingFormat) FileExtension() string {
	switch f {
	case WAV:
		return ".wav"
	case ULAW:
		return ".ulaw"
	case ALAW:
		return ".alaw"
	case MP3:
		return ".mp3"
	default:
		return ".pcm"
	}
}

type AudioChunk struct {
	Data       []byte              // Encoded audio data.
	SampleRate int                 // Sample rate of the audio data.
	Channels   int                 // Number of audio channels.
	Format     AudioEncodingFormat // Encoding format of the audio data.
}

// GetDurationInSeconds assumes 16-bit samples for PCM/WAV and 8-bit for G.711.
func (ac *AudioChunk) GetDurationInSeconds() float64 {
	if ac.SampleRate == 0 || ac.Channels == 0 {
		return 0.0
	}
	bytesPerSample := 2
	if ac.Format == ULAW || ac.Format == ALAW {
		bytesPerSample = 1
	}
	totalSamples := len(ac.Data) / (bytesPerSample * ac.Channels)
	return float64(totalSamples) / float64(ac.SampleRate)
}
