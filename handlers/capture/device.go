package capture

import (
	"fmt"
	"strings"
	"sync"

	"concierge/core"

	"github.com/gen2brain/malgo"
)

type DeviceConfig struct {
	SampleRate int
	Channels   int
}

// Device opens exclusive microphone streams. onData receives 16-bit little
// endian PCM from the audio thread.
type Device interface {
	Open(cfg DeviceConfig, onData func(pcm []byte)) (Stream, error)
}

// Stream is one open microphone. Close stops it and releases the hardware.
type Stream interface {
	Start() error
	Close() error
}

// MalgoDevice captures through miniaudio.
type MalgoDevice struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

func NewMalgoDevice() *MalgoDevice {
	return &MalgoDevice{}
}

func (d *MalgoDevice) context() (*malgo.AllocatedContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return d.ctx, nil
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyDeviceError(err)
	}
	d.ctx = ctx
	return ctx, nil
}

func (d *MalgoDevice) Open(cfg DeviceConfig, onData func(pcm []byte)) (Stream, error) {
	ctx, err := d.context()
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pInputSamples []byte, _ uint32) {
			// miniaudio reuses the buffer after the callback returns
			onData(append([]byte(nil), pInputSamples...))
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, classifyDeviceError(err)
	}
	return &malgoStream{device: device}, nil
}

// Close releases the miniaudio context. Streams must be closed first.
func (d *MalgoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx == nil {
		return nil
	}
	err := d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil
	return err
}

type malgoStream struct {
	device *malgo.Device
}

func (s *malgoStream) Start() error {
	if err := s.device.Start(); err != nil {
		return classifyDeviceError(err)
	}
	return nil
}

func (s *malgoStream) Close() error {
	err := s.device.Stop()
	s.device.Uninit()
	return err
}

func classifyDeviceError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "not allowed") {
		return fmt.Errorf("%w: %v", core.ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", core.ErrDeviceUnavailable, err)
}
