package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"sibyl/app/bus"
	"sibyl/app/config"
	"sibyl/app/service/functions"
	"sibyl/app/service/memory"

	_ "embed"

	"github.com/samber/do"
)

//go:embed system_prompt.txt
var systemPromptTemplate string

const processingResultsNotice = "Processing results..."

var errHalted = errors.New("turn halted")

// Service owns the conversation history and drives the iterative
// generate -> execute tools -> regenerate loop. At most one turn runs at a
// time; a new Send cancels whatever is in flight.
type Service struct {
	cfg       *config.Config
	appCtx    context.Context
	eventBus  *bus.Bus
	backend   Backend
	registry  *functions.Registry
	memorySvc *memory.Service

	mu         sync.Mutex
	history    []Message
	turnCancel context.CancelFunc
	halted     bool
}

func New(di *do.Injector) (*Service, error) {
	return &Service{
		cfg:       do.MustInvoke[*config.Config](di),
		appCtx:    do.MustInvoke[context.Context](di),
		eventBus:  do.MustInvoke[*bus.Bus](di),
		backend:   do.MustInvoke[Backend](di),
		registry:  do.MustInvoke[*functions.Registry](di),
		memorySvc: do.MustInvoke[*memory.Service](di),
	}, nil
}

// Send starts a new turn for a user message. Any in-flight turn is aborted
// first so two turns never run against the same history.
func (s *Service) Send(text string) {
	s.mu.Lock()
	if s.turnCancel != nil {
		s.turnCancel()
	}

	ctx, cancel := context.WithCancel(s.appCtx)
	s.turnCancel = cancel
	s.halted = false

	s.history = append(s.history, Message{Role: RoleUser, Content: text})
	s.trimHistoryLocked()
	s.mu.Unlock()

	go s.runTurn(ctx, text)
}

// Halt cooperatively aborts the in-flight turn. Safe to call repeatedly or
// with nothing running.
func (s *Service) Halt() {
	s.mu.Lock()
	s.halted = true
	cancel := s.turnCancel
	s.turnCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		slog.Info("Halting in-flight turn")
		cancel()
	}
}

// ClearHistory drops the conversation history.
func (s *Service) ClearHistory() {
	s.mu.Lock()
	s.history = nil
	s.mu.Unlock()
}

func (s *Service) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.history))
	copy(out, s.history)

	return out
}

func (s *Service) aborted(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.halted
}

func (s *Service) appendHistory(msg Message) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	s.trimHistoryLocked()
	s.mu.Unlock()
}

func (s *Service) trimHistoryLocked() {
	if limit := s.cfg.Conversation.HistoryLimit; len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
}

// rollbackUserMessage removes a dangling user message after a failed model
// call so the history stays consistent for retry.
func (s *Service) rollbackUserMessage() {
	s.mu.Lock()
	if len(s.history) > 0 && s.history[len(s.history)-1].Role == RoleUser {
		s.history = s.history[:len(s.history)-1]
	}
	s.mu.Unlock()
}

func (s *Service) publishChunk(text string) {
	s.eventBus.Publish(StreamChunk{Text: text})
}

func (s *Service) runTurn(ctx context.Context, userText string) {
	maxIterations := s.cfg.Agent.MaxIterations

	var assistantRecorded bool
	var lastReply string

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if s.aborted(ctx) {
			return
		}

		slog.Debug("Turn iteration", "iteration", iteration)

		full, err := s.streamOnce(ctx)
		if err != nil {
			if errors.Is(err, errHalted) || errors.Is(err, context.Canceled) || s.aborted(ctx) {
				slog.Debug("Turn aborted mid-stream")
				return
			}

			slog.Error("Model call failed", "error", err)
			s.publishChunk(fmt.Sprintf("Error: %v", err))

			if !assistantRecorded {
				s.rollbackUserMessage()
			}
			break
		}

		// A Send or Halt may have landed while the last Recv was in flight.
		// The cancelled turn must not touch history after its successor starts.
		if s.aborted(ctx) {
			slog.Debug("Turn aborted after stream completion")
			return
		}

		s.appendHistory(Message{Role: RoleAssistant, Content: full})
		assistantRecorded = true
		lastReply = full

		calls := ExtractFunctionCalls(full)
		if len(calls) == 0 {
			break
		}

		// Calls run strictly in order; later ones may depend on the side
		// effects of earlier ones.
		for _, call := range calls {
			if s.aborted(ctx) {
				return
			}

			s.executeCall(ctx, call)
		}

		if iteration < maxIterations {
			s.publishChunk(processingResultsNotice)
		}
	}

	if s.aborted(ctx) {
		return
	}

	s.eventBus.Publish(StreamEnd{})

	if assistantRecorded {
		exchange := fmt.Sprintf("user: %s\nassistant: %s", userText, lastReply)
		if err := s.memorySvc.Add(memory.SourceConversation, exchange); err != nil {
			slog.Warn("Failed to record exchange", "error", err)
		}
	}
}

// streamOnce performs one model call, flushing output to the UI as it
// arrives, and returns the complete response text.
func (s *Service) streamOnce(ctx context.Context) (string, error) {
	messages := append([]Message{{Role: RoleSystem, Content: s.systemPrompt()}}, s.History()...)

	stream, err := s.backend.StreamChat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("failed to start model stream: %w", err)
	}
	defer stream.Close()

	buffer := newLineBuffer(s.cfg.Agent.FlushThreshold)
	var full strings.Builder

	for {
		if s.aborted(ctx) {
			return "", errHalted
		}

		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) || chunk.Done {
			if chunk.Content != "" {
				full.WriteString(chunk.Content)
				for _, flushed := range buffer.Write(chunk.Content) {
					s.publishChunk(flushed)
				}
			}
			break
		}
		if err != nil {
			return "", fmt.Errorf("model stream failed: %w", err)
		}

		if chunk.Content == "" {
			continue
		}

		full.WriteString(chunk.Content)
		for _, flushed := range buffer.Write(chunk.Content) {
			s.publishChunk(flushed)
		}
	}

	if tail, ok := buffer.Flush(); ok {
		s.publishChunk(tail)
	}

	return full.String(), nil
}

func (s *Service) systemPrompt() string {
	catalog, err := json.MarshalIndent(s.registry.List(), "", "  ")
	if err != nil {
		catalog = []byte("[]")
	}

	return strings.ReplaceAll(systemPromptTemplate, "{tools}", string(catalog))
}

func (s *Service) executeCall(ctx context.Context, call FunctionCall) {
	result := s.registry.Execute(ctx, call.Name, call.Parameters)

	// Results ride back as user-role messages so the model sees tool output
	// inside its own turn history.
	var content string
	if result.Success {
		payload, _ := json.Marshal(result)
		content = fmt.Sprintf("Function %s executed. Result: %s", call.Name, payload)
	} else {
		s.publishChunk(fmt.Sprintf("Function execution error: %s", result.Error))
		content = fmt.Sprintf("Function %s failed with error: %s", call.Name, result.Error)
	}

	s.appendHistory(Message{Role: RoleUser, Content: content})
}

func (s *Service) Close() error {
	s.Halt()

	return nil
}
