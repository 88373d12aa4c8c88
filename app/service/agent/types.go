package agent

import (
	"context"

	"sibyl/app/bus"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Chunk is one increment of a streamed model response.
type Chunk struct {
	Content string
	Done    bool
}

// Stream yields model output increments. Recv returns io.EOF when the
// response is complete.
type Stream interface {
	Recv() (Chunk, error)
	Close()
}

// Backend is the model boundary. Implementations must honor context
// cancellation mid-stream.
type Backend interface {
	StreamChat(ctx context.Context, messages []Message) (Stream, error)
}

// StreamChunk is a flushed piece of model output on its way to the UI.
type StreamChunk struct {
	Text string
}

func (StreamChunk) Kind() bus.Kind { return bus.KindStreamChunk }

// StreamEnd marks the end of a completed turn. Halted or aborted turns do
// not publish it; the halting caller owns UI notification.
type StreamEnd struct{}

func (StreamEnd) Kind() bus.Kind { return bus.KindStreamEnd }

// FunctionCall is a structured directive extracted from model output.
type FunctionCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}
