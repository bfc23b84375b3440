package visual

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"concierge/core"
	"concierge/events/visual"
	"concierge/utils/audio"
)

type staticSource struct {
	mu   sync.Mutex
	view View
}

func (s *staticSource) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *staticSource) set(v View) {
	s.mu.Lock()
	s.view = v
	s.mu.Unlock()
}

func loudPCM(n int) []byte {
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := int16(20000 * math.Sin(2*math.Pi*1000*float64(i)/16000))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}

func TestRenderer_IdleBreathes(t *testing.T) {
	src := &staticSource{view: View{State: core.StateIdle}}
	r := NewRenderer(src, nil, DefaultConfig(), nil, nil)

	start := time.Unix(0, 0)
	var frame visual.FrameEvent
	for i := 0; i < 200; i++ {
		frame = r.Tick(start.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	if !frame.Idle {
		t.Fatalf("idle state without analyser must use the breathing animation")
	}
	if frame.Level < 0.1 || frame.Level > 0.4 {
		t.Fatalf("breathing level out of range: %f", frame.Level)
	}
	if frame.Color != stateColors[core.StateIdle] {
		t.Fatalf("unexpected color %s", frame.Color)
	}
}

func TestRenderer_IdleSmoothsSlowerThanActive(t *testing.T) {
	graph := audio.NewGraph(nil, audio.DefaultGraphConfig(), nil)
	mic := graph.AttachMic(1)
	mic.Write(loudPCM(512))

	active := NewRenderer(&staticSource{view: View{State: core.StateListening}}, graph, DefaultConfig(), nil, nil)
	idle := NewRenderer(&staticSource{view: View{State: core.StateIdle}}, nil, DefaultConfig(), nil, nil)

	now := time.Unix(0, 0)
	a := active.Tick(now)
	i := idle.Tick(now)
	if a.Idle {
		t.Fatalf("listening with a live mic analyser is not idle")
	}
	// one step covers alpha of the distance from zero
	if a.Level <= 0 || i.Level <= 0 {
		t.Fatalf("levels should rise from zero, got %f and %f", a.Level, i.Level)
	}
	if i.Level/audio.Breathing(0) > DefaultConfig().IdleAlpha+1e-9 {
		t.Fatalf("idle step should be limited by the idle alpha")
	}
}

func TestRenderer_VisemesFollowWordAndDecay(t *testing.T) {
	src := &staticSource{view: View{State: core.StateSpeaking, Word: "map", Revealed: "map"}}
	r := NewRenderer(src, nil, DefaultConfig(), nil, nil)

	now := time.Unix(0, 0)
	var frame visual.FrameEvent
	for i := 0; i < 10; i++ {
		frame = r.Tick(now)
	}
	if frame.Visemes["PP"] < 0.3 {
		t.Fatalf("first character m should drive PP, got %v", frame.Visemes)
	}
	if frame.Revealed != "map" {
		t.Fatalf("revealed text not carried: %q", frame.Revealed)
	}

	src.set(View{State: core.StateIdle})
	for i := 0; i < 60; i++ {
		frame = r.Tick(now.Add(time.Duration(i) * 33 * time.Millisecond))
	}
	for k, w := range frame.Visemes {
		if w > 0.001 {
			t.Fatalf("viseme %s should decay to silence, got %f", k, w)
		}
	}
}

func TestRenderer_SpeakingWithoutOutputBreathes(t *testing.T) {
	graph := audio.NewGraph(nil, audio.DefaultGraphConfig(), nil)
	// leftover audio from an earlier reply
	graph.PlaybackAnalyser().Write(loudPCM(512))

	r := NewRenderer(&staticSource{view: View{State: core.StateSpeaking, Word: "hello"}}, graph, DefaultConfig(), nil, nil)
	start := time.Unix(0, 0)
	levels := map[float64]bool{}
	var frame visual.FrameEvent
	for i := 0; i < 300; i++ {
		frame = r.Tick(start.Add(time.Duration(i) * 33 * time.Millisecond))
		if !frame.Idle {
			t.Fatalf("tick %d: speaking without a connected output must breathe", i)
		}
		if i >= 100 {
			levels[math.Round(frame.Level*1e4)] = true
		}
	}
	if len(levels) < 10 {
		t.Fatalf("breathing level should keep moving, saw %d distinct values", len(levels))
	}
}

func TestVisemeAt(t *testing.T) {
	cases := []struct {
		word string
		i    int
		want string
	}{
		{"the", 0, "TH"},
		{"shop", 0, "CH"},
		{"Villa", 0, "FF"},
		{"pool", 1, "O"},
		{"sea", 2, "aa"},
		{"42", 0, "sil"},
		{"a", 3, "sil"},
	}
	for _, c := range cases {
		if got := visemeAt(c.word, c.i); got != c.want {
			t.Errorf("visemeAt(%q, %d) = %s, want %s", c.word, c.i, got, c.want)
		}
	}
}

func TestRenderer_BlinksIndependently(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BlinkMin = 100 * time.Millisecond
	cfg.BlinkMax = 200 * time.Millisecond
	cfg.BlinkDuration = 50 * time.Millisecond
	r := NewRenderer(&staticSource{view: View{State: core.StateThinking}}, nil, cfg, nil, nil)

	start := time.Unix(0, 0)
	blinks := 0
	wasOpen := true
	for ms := 0; ms <= 1000; ms += 10 {
		f := r.Tick(start.Add(time.Duration(ms) * time.Millisecond))
		if f.Blink == 1 && wasOpen {
			blinks++
		}
		wasOpen = f.Blink == 0
	}
	if blinks < 4 || blinks > 10 {
		t.Fatalf("expected a blink every 100-250ms, got %d in one second", blinks)
	}
}

type frameRecorder struct {
	mu     sync.Mutex
	frames int
}

func (f *frameRecorder) Publish(e core.IEvent, _ string) {
	if _, ok := e.(*visual.FrameEvent); ok {
		f.mu.Lock()
		f.frames++
		f.mu.Unlock()
	}
}

func TestRenderer_RunPublishesUntilCancelled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 2 * time.Millisecond
	rec := &frameRecorder{}
	r := NewRenderer(&staticSource{view: View{State: core.StateIdle}}, nil, cfg, rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.frames == 0 {
		t.Fatalf("expected frames to be published")
	}
}

func TestDownsample(t *testing.T) {
	got := downsample([]float64{1, 1, 0, 0, 0.5, 0.5, 0, 1}, 4)
	want := []float64{1, 0, 0.5, 0.5}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("band %d: got %f want %f", i, got[i], want[i])
		}
	}
}
