package audio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoBackend plays through the system speaker. oto allows a single context
// per process, so the context is created once and resumed after Dispose.
type OtoBackend struct {
	mu  sync.Mutex
	ctx *oto.Context
}

func NewOtoBackend() *OtoBackend {
	return &OtoBackend{}
}

func (b *OtoBackend) Open(sampleRate, channels int, buffer time.Duration) (OutputContext, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil {
		if err := b.ctx.Resume(); err != nil {
			return nil, fmt.Errorf("oto: resume: %w", err)
		}
		return otoContext{b.ctx}, nil
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("oto: new context: %w", err)
	}
	<-ready
	b.ctx = ctx
	return otoContext{ctx}, nil
}

type otoContext struct {
	ctx *oto.Context
}

func (c otoContext) NewPlayer(r io.Reader) Player {
	return c.ctx.NewPlayer(r)
}

func (c otoContext) Suspend() error {
	return c.ctx.Suspend()
}
