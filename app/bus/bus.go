package bus

import (
	"sync"

	"github.com/samber/do"
)

// Kind is the closed set of event kinds flowing through the bus.
// Payload types are fixed per kind; see the structs in this package and the
// event types declared next to their owning services.
type Kind string

const (
	KindStateChanged     Kind = "state_changed"
	KindSpeechTelemetry  Kind = "speech_telemetry"
	KindSpeechRecognized Kind = "speech_recognized"
	KindListeningEnded   Kind = "listening_ended"
	KindInputError       Kind = "speech_input_error"
	KindOutputError      Kind = "speech_output_error"
	KindUserInterrupt    Kind = "user_interrupt"
	KindStreamChunk      Kind = "model_stream_chunk"
	KindStreamEnd        Kind = "model_stream_end"
	KindCaption          Kind = "new_caption"
	KindResponseStarted  Kind = "response_stream_started"
	KindResponseEnded    Kind = "response_stream_ended"
)

type Event interface {
	Kind() Kind
}

type Handler func(Event)

var _ do.Shutdownable = (*Bus)(nil)

// Bus is a synchronous publish/subscribe hub. Handlers run in the
// publisher's goroutine, in subscription order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

func New(_ *do.Injector) (*Bus, error) {
	return &Bus{
		handlers: make(map[Kind][]Handler),
	}, nil
}

func (b *Bus) Subscribe(kind Kind, h Handler) {
	b.mu.Lock()
	b.handlers[kind] = append(b.handlers[kind], h)
	b.mu.Unlock()
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[ev.Kind()]))
	copy(handlers, b.handlers[ev.Kind()])
	b.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

func (b *Bus) Shutdown() error {
	b.mu.Lock()
	b.handlers = make(map[Kind][]Handler)
	b.mu.Unlock()

	return nil
}
