package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"concierge/core"

	"github.com/hajimehoshi/go-mp3"
	"github.com/zaf/g711"
)

// Pool for WAV header buffers (typically 44 bytes)
var wavHeaderPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 64))
	},
}

// PCMBytesToULaw converts PCM bytes to µ-law
func PCMBytesToULaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeUlaw(pcm), nil
}

// ULawBytesToPCM converts µ-law bytes to PCM bytes
func ULawBytesToPCM(uBytes []byte) []byte {
	return g711.DecodeUlaw(uBytes)
}

// PCMBytesToALaw converts PCM bytes to A-law
func PCMBytesToALaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("PCM byte slice length must be even (16-bit samples)")
	}
	return g711.EncodeAlaw(pcm), nil
}

// ALawBytesToPCM converts A-law bytes to PCM bytes
func ALawBytesToPCM(aBytes []byte) []byte {
	return g711.DecodeAlaw(aBytes)
}

// PCMBytesToWavBytes wraps 16-bit little endian PCM in a WAV container.
func PCMBytesToWavBytes(pcm []byte, numChannels, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, errors.New("PCM data is empty")
	}
	if numChannels <= 0 || numChannels > 2 {
		return nil, errors.New("only mono (1) or stereo (2) channels supported")
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return nil, errors.New("PCM data length doesn't match channel count")
	}

	buf := wavHeaderPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		wavHeaderPool.Put(buf)
	}()

	const (
		bitsPerSample  = 16
		audioFormatPCM = 1
		subchunk1Size  = 16
	)

	blockAlign := numChannels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(pcm)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(subchunk1Size))
	binary.Write(buf, binary.LittleEndian, uint16(audioFormatPCM))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))

	result := make([]byte, buf.Len()+len(pcm))
	copy(result, buf.Bytes())
	copy(result[buf.Len():], pcm)
	return result, nil
}

// ValidatePCMData validates PCM byte array for basic integrity
func ValidatePCMData(pcm []byte, numChannels int) error {
	if len(pcm)%2 != 0 {
		return errors.New("PCM data must have even length (16-bit samples)")
	}
	if len(pcm) == 0 {
		return errors.New("PCM data is empty")
	}
	if numChannels <= 0 {
		return errors.New("invalid number of channels")
	}
	if len(pcm)%(2*numChannels) != 0 {
		return errors.New("PCM data length doesn't match channel count")
	}
	return nil
}

// WAVInfo describes the fmt chunk of a WAV file.
type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DecodeWAV returns the PCM data chunk and format of a 16-bit PCM WAV file.
func DecodeWAV(data []byte) ([]byte, WAVInfo, error) {
	var info WAVInfo
	if len(data) < 12 || !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return nil, info, errors.New("invalid WAV: missing RIFF/WAVE header")
	}

	i := 12
	for i+8 <= len(data) {
		chunkID := string(data[i : i+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[i+4 : i+8]))
		body := i + 8
		next := body + chunkSize

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || next > len(data) {
				return nil, info, errors.New("invalid WAV: short fmt chunk")
			}
			if f := binary.LittleEndian.Uint16(data[body : body+2]); f != 1 {
				return nil, info, fmt.Errorf("invalid WAV: unsupported audio format %d", f)
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			if info.SampleRate == 0 {
				return nil, info, errors.New("invalid WAV: data before fmt chunk")
			}
			if info.BitsPerSample != 16 {
				return nil, info, fmt.Errorf("invalid WAV: %d-bit samples not supported", info.BitsPerSample)
			}
			// Streaming encoders write 0 or 0xFFFFFFFF as the data size.
			if next > len(data) || chunkSize == 0 {
				next = len(data)
			}
			return data[body:next], info, nil
		}

		// Account for padding to even boundary
		if chunkSize%2 != 0 {
			next++
		}
		if next > len(data) {
			break
		}
		i = next
	}
	return nil, info, errors.New("invalid WAV: data chunk not found")
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// IsMP3 recognises an ID3 tag or an MPEG audio frame sync.
func IsMP3(data []byte) bool {
	return (len(data) >= 3 && bytes.HasPrefix(data, []byte("ID3"))) ||
		(len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0)
}

// SniffEncoding detects containers that carry their own format.
func SniffEncoding(data []byte) (core.AudioEncodingFormat, bool) {
	switch {
	case IsWAV(data):
		return core.WAV, true
	case IsMP3(data):
		return core.MP3, true
	default:
		return core.PCM, false
	}
}

// DecodeMP3 returns interleaved stereo 16-bit PCM at the stream's rate.
func DecodeMP3(data []byte) (core.AudioChunk, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("decode mp3: %w", err)
	}
	if len(pcm) == 0 {
		return core.AudioChunk{}, errors.New("decode mp3: no samples")
	}
	pcm = pcm[:len(pcm)-len(pcm)%4]
	return core.AudioChunk{Data: pcm, SampleRate: dec.SampleRate(), Channels: 2, Format: core.PCM}, nil
}

// EncodePCM converts 16-bit PCM into the requested transport encoding.
func EncodePCM(pcm []byte, format core.AudioEncodingFormat, channels, sampleRate int) ([]byte, error) {
	switch format {
	case core.PCM:
		return pcm, nil
	case core.WAV:
		return PCMBytesToWavBytes(pcm, channels, sampleRate)
	case core.ULAW:
		return PCMBytesToULaw(pcm)
	case core.ALAW:
		return PCMBytesToALaw(pcm)
	default:
		return nil, fmt.Errorf("unsupported target format %s", format)
	}
}

// ToPCM decodes a chunk in any supported encoding back to 16-bit PCM.
func ToPCM(chunk core.AudioChunk) (core.AudioChunk, error) {
	switch chunk.Format {
	case core.PCM:
		return chunk, nil
	case core.WAV:
		pcm, info, err := DecodeWAV(chunk.Data)
		if err != nil {
			return core.AudioChunk{}, err
		}
		return core.AudioChunk{Data: pcm, SampleRate: info.SampleRate, Channels: info.Channels, Format: core.PCM}, nil
	case core.ULAW:
		chunk.Data = ULawBytesToPCM(chunk.Data)
	case core.ALAW:
		chunk.Data = ALawBytesToPCM(chunk.Data)
	case core.MP3:
		return DecodeMP3(chunk.Data)
	default:
		return core.AudioChunk{}, errors.New("unsupported format for PCM conversion")
	}
	chunk.Format = core.PCM
	return chunk, nil
}

// ConvertChannels converts between mono and stereo PCM.
func ConvertChannels(pcm []byte, fromChannels, toChannels int) ([]byte, error) {
	if fromChannels == toChannels {
		return pcm, nil
	}
	if fromChannels == 1 && toChannels == 2 {
		return monoToStereo(pcm), nil
	}
	if fromChannels == 2 && toChannels == 1 {
		return stereoToMono(pcm), nil
	}
	return nil, fmt.Errorf("unsupported channel conversion: %d to %d", fromChannels, toChannels)
}

func monoToStereo(monoPCM []byte) []byte {
	samples := len(monoPCM) / 2
	result := make([]byte, samples*4)
	for i := 0; i < samples; i++ {
		result[i*4] = monoPCM[i*2]
		result[i*4+1] = monoPCM[i*2+1]
		result[i*4+2] = monoPCM[i*2]
		result[i*4+3] = monoPCM[i*2+1]
	}
	return result
}

func stereoToMono(stereoPCM []byte) []byte {
	samples := len(stereoPCM) / 4
	result := make([]byte, samples*2)
	for i := range samples {
		left := int16(binary.LittleEndian.Uint16(stereoPCM[i*4 : i*4+2]))
		right := int16(binary.LittleEndian.Uint16(stereoPCM[i*4+2 : i*4+4]))
		binary.LittleEndian.PutUint16(result[i*2:], uint16(int16((int(left)+int(right))/2)))
	}
	return result
}

// ResamplePCM resamples 16-bit PCM with linear interpolation.
func ResamplePCM(pcm []byte, channels, fromRate, toRate int) ([]byte, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, errors.New("invalid sample rate")
	}
	if fromRate == toRate || len(pcm) == 0 {
		return pcm, nil
	}
	if err := ValidatePCMData(pcm, channels); err != nil {
		return nil, err
	}

	inFrames := len(pcm) / 2 / channels
	outFrames := int(int64(inFrames) * int64(toRate) / int64(fromRate))
	out := make([]byte, outFrames*channels*2)
	ratio := float64(fromRate) / float64(toRate)

	sample := func(frame, ch int) float64 {
		if frame >= inFrames {
			frame = inFrames - 1
		}
		off := (frame*channels + ch) * 2
		return float64(int16(binary.LittleEndian.Uint16(pcm[off:])))
	}

	for i := 0; i < outFrames; i++ {
		pos := float64(i) * ratio
		base := int(pos)
		frac := pos - float64(base)
		for ch := 0; ch < channels; ch++ {
			v := sample(base, ch)*(1-frac) + sample(base+1, ch)*frac
			binary.LittleEndian.PutUint16(out[(i*channels+ch)*2:], uint16(int16(v)))
		}
	}
	return out, nil
}

// SamplesFromPCM converts 16-bit PCM to float samples in [-1, 1], averaging
// channels.
func SamplesFromPCM(pcm []byte, channels int) []float64 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / 2 / channels
	out := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			sum += float64(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		out[i] = sum / float64(channels) / 32768.0
	}
	return out
}
