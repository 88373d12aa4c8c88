package caption

import (
	"log/slog"
	"sync"
	"time"

	"sibyl/app/bus"
	"sibyl/app/config"
	"sibyl/app/service/agent"

	"github.com/samber/do"
)

// Caption is a displayable fragment of the model's output.
type Caption struct {
	Content   string
	Type      Type
	Timestamp time.Time
}

func (Caption) Kind() bus.Kind { return bus.KindCaption }

// ResponseStarted fires on the first chunk of a turn.
type ResponseStarted struct{}

func (ResponseStarted) Kind() bus.Kind { return bus.KindResponseStarted }

// ResponseEnded fires once the model stream has ended AND the display queue
// has fully drained.
type ResponseEnded struct{}

func (ResponseEnded) Kind() bus.Kind { return bus.KindResponseEnded }

// Service converts the raw model chunk stream into a paced, classified
// caption sequence. The queue decouples presentation rate from generation
// rate: it may grow arbitrarily and drains strictly in FIFO order.
type Service struct {
	cfg      *config.Config
	eventBus *bus.Bus
	classify Classifier

	mu          sync.Mutex
	queue       []Caption
	displaying  bool
	timer       *time.Timer
	streamEnded bool
	firstChunk  bool
	// turn generation; stale dwell timers from a preempted turn check it
	// and bow out
	gen uint64
}

func New(di *do.Injector) (*Service, error) {
	s := &Service{
		cfg:        do.MustInvoke[*config.Config](di),
		eventBus:   do.MustInvoke[*bus.Bus](di),
		classify:   DefaultClassifier,
		firstChunk: true,
	}

	s.eventBus.Subscribe(bus.KindStreamChunk, func(ev bus.Event) {
		s.onChunk(ev.(agent.StreamChunk).Text)
	})
	s.eventBus.Subscribe(bus.KindStreamEnd, func(bus.Event) {
		s.onStreamEnd()
	})

	return s, nil
}

// SetClassifier swaps the tool-call predicate. Intended for setup time, not
// mid-turn.
func (s *Service) SetClassifier(classify Classifier) {
	s.mu.Lock()
	s.classify = classify
	s.mu.Unlock()
}

func (s *Service) onChunk(content string) {
	s.mu.Lock()
	if s.firstChunk {
		s.firstChunk = false
		s.mu.Unlock()
		s.eventBus.Publish(ResponseStarted{})
		s.mu.Lock()
	}

	classify := s.classify
	s.queue = append(s.queue, Caption{
		Content:   content,
		Type:      classify(content),
		Timestamp: time.Now(),
	})

	start := !s.displaying
	if start {
		s.displaying = true
	}
	gen := s.gen
	s.mu.Unlock()

	if start {
		s.displayNext(gen)
	}
}

func (s *Service) onStreamEnd() {
	s.mu.Lock()
	s.firstChunk = true

	if len(s.queue) == 0 && !s.displaying {
		s.mu.Unlock()
		s.eventBus.Publish(ResponseEnded{})
		return
	}

	// Queue still draining; ResponseEnded fires when it empties.
	s.streamEnded = true
	s.mu.Unlock()
}

// displayNext pops and publishes one caption, then re-arms the dwell timer.
func (s *Service) displayNext(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if len(s.queue) == 0 {
		s.displaying = false
		ended := s.streamEnded
		s.streamEnded = false
		s.mu.Unlock()

		if ended {
			s.eventBus.Publish(ResponseEnded{})
		}
		return
	}

	next := s.queue[0]
	s.queue = s.queue[1:]
	s.displaying = true

	dwell := s.displayDuration(next.Content)
	s.timer = time.AfterFunc(dwell, func() {
		s.displayNext(gen)
	})
	s.mu.Unlock()

	slog.Debug("Displaying caption", "type", next.Type, "length", len(next.Content))
	s.eventBus.Publish(next)
}

func (s *Service) displayDuration(content string) time.Duration {
	display := s.cfg.Display

	switch {
	case len(content) < display.ShortCutoff:
		return display.FastDuration.Std()
	case len(content) > display.LongCutoff:
		return display.BaseDuration.Std() + display.LongBonus.Std()
	default:
		return display.BaseDuration.Std()
	}
}

// BeginTurn unconditionally clears leftover captions and timers; a fresh
// user turn always preempts the previous one.
func (s *Service) BeginTurn() {
	s.mu.Lock()
	s.queue = nil
	s.displaying = false
	s.streamEnded = false
	s.firstChunk = true
	s.gen++

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
}

func (s *Service) Close() error {
	s.BeginTurn()

	return nil
}
