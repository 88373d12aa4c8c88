package caption

import (
	"sync"
	"testing"
	"time"

	"sibyl/app/bus"
	"sibyl/app/config"
	"sibyl/app/service/agent"

	"github.com/samber/do"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Display.FastDuration = config.Duration(5 * time.Millisecond)
	cfg.Display.BaseDuration = config.Duration(10 * time.Millisecond)
	cfg.Display.LongBonus = config.Duration(5 * time.Millisecond)
	cfg.Display.ShortCutoff = 20
	cfg.Display.LongCutoff = 100

	return cfg
}

type captionRecorder struct {
	mu       sync.Mutex
	captions []Caption
	started  int
	ended    chan struct{}
}

func newCaptionRecorder(b *bus.Bus) *captionRecorder {
	r := &captionRecorder{ended: make(chan struct{}, 16)}

	b.Subscribe(bus.KindCaption, func(ev bus.Event) {
		r.mu.Lock()
		r.captions = append(r.captions, ev.(Caption))
		r.mu.Unlock()
	})
	b.Subscribe(bus.KindResponseStarted, func(bus.Event) {
		r.mu.Lock()
		r.started++
		r.mu.Unlock()
	})
	b.Subscribe(bus.KindResponseEnded, func(bus.Event) {
		r.ended <- struct{}{}
	})

	return r
}

func (r *captionRecorder) waitEnded(t *testing.T) {
	t.Helper()

	select {
	case <-r.ended:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for response end")
	}
}

func (r *captionRecorder) all() []Caption {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Caption, len(r.captions))
	copy(out, r.captions)

	return out
}

func (r *captionRecorder) startedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.started
}

func newTestService(t *testing.T) (*Service, *bus.Bus, *captionRecorder) {
	t.Helper()

	di := do.New()
	t.Cleanup(func() { _ = di.Shutdown() })

	do.ProvideValue(di, testConfig())
	do.Provide(di, bus.New)
	do.Provide(di, New)

	b := do.MustInvoke[*bus.Bus](di)
	rec := newCaptionRecorder(b)

	return do.MustInvoke[*Service](di), b, rec
}

func publishChunks(b *bus.Bus, chunks ...string) {
	for _, c := range chunks {
		b.Publish(agent.StreamChunk{Text: c})
	}
}

func TestCaptionsDrainInOrder(t *testing.T) {
	_, b, rec := newTestService(t)

	publishChunks(b, "first", "second", "third")
	b.Publish(agent.StreamEnd{})
	rec.waitEnded(t)

	captions := rec.all()
	if len(captions) != 3 {
		t.Fatalf("got %d captions, want 3", len(captions))
	}
	for i, want := range []string{"first", "second", "third"} {
		if captions[i].Content != want {
			t.Fatalf("caption %d: got %q, want %q", i, captions[i].Content, want)
		}
	}
	if rec.startedCount() != 1 {
		t.Fatalf("got %d response starts, want 1", rec.startedCount())
	}
}

func TestResponseEndedWaitsForQueueDrain(t *testing.T) {
	_, b, rec := newTestService(t)

	publishChunks(b, "one", "two", "three", "four")
	b.Publish(agent.StreamEnd{})
	rec.waitEnded(t)

	// every caption must have been published before the end signal
	if got := len(rec.all()); got != 4 {
		t.Fatalf("response ended with %d of 4 captions displayed", got)
	}
}

func TestResponseEndedImmediateWhenIdle(t *testing.T) {
	_, b, rec := newTestService(t)

	b.Publish(agent.StreamEnd{})

	select {
	case <-rec.ended:
	case <-time.After(time.Second):
		t.Fatalf("empty stream never ended")
	}
}

func TestResponseStartedOncePerTurn(t *testing.T) {
	svc, b, rec := newTestService(t)

	publishChunks(b, "a", "b")
	b.Publish(agent.StreamEnd{})
	rec.waitEnded(t)

	svc.BeginTurn()
	publishChunks(b, "c")
	b.Publish(agent.StreamEnd{})
	rec.waitEnded(t)

	if rec.startedCount() != 2 {
		t.Fatalf("got %d response starts, want 2", rec.startedCount())
	}
}

func TestBeginTurnDropsQueuedCaptions(t *testing.T) {
	svc, b, rec := newTestService(t)

	publishChunks(b, "stale one", "stale two", "stale three")
	svc.BeginTurn()

	publishChunks(b, "fresh")
	b.Publish(agent.StreamEnd{})
	rec.waitEnded(t)

	for _, c := range rec.all() {
		if c.Content == "stale two" || c.Content == "stale three" {
			t.Fatalf("stale caption survived preemption: %q", c.Content)
		}
	}
}

func TestDisplayDuration(t *testing.T) {
	svc, _, _ := newTestService(t)

	short := svc.displayDuration("hi")
	if short != 5*time.Millisecond {
		t.Fatalf("short: got %v", short)
	}

	normal := svc.displayDuration("this sentence sits between the cutoffs")
	if normal != 10*time.Millisecond {
		t.Fatalf("normal: got %v", normal)
	}

	long := svc.displayDuration(string(make([]byte, 150)))
	if long != 15*time.Millisecond {
		t.Fatalf("long: got %v", long)
	}
}

func TestDefaultClassifier(t *testing.T) {
	cases := []struct {
		content string
		want    Type
	}{
		{"Hello, how can I help?", Speech},
		{"Executing: get_current_time", ToolCall},
		{"Function execution error: boom", ToolCall},
		{"Processing results...", ToolCall},
		{`{"name": "click", "parameters": {"x": 1}}`, ToolCall},
		{`note the {"name"} syntax`, Speech},
		{"", Speech},
	}

	for _, tc := range cases {
		if got := DefaultClassifier(tc.content); got != tc.want {
			t.Fatalf("%q: got %s, want %s", tc.content, got, tc.want)
		}
	}
}

func TestCustomClassifier(t *testing.T) {
	svc, b, rec := newTestService(t)

	svc.SetClassifier(func(string) Type { return ToolCall })

	publishChunks(b, "anything")
	b.Publish(agent.StreamEnd{})
	rec.waitEnded(t)

	captions := rec.all()
	if len(captions) != 1 || captions[0].Type != ToolCall {
		t.Fatalf("custom classifier ignored: %+v", captions)
	}
}
