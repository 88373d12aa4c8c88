package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"sibyl/app/bus"
	"sibyl/app/config"
	"sibyl/app/service/agent"
	"sibyl/app/service/caption"
	"sibyl/app/service/state"

	"github.com/samber/do"
)

// Service is the conversation hub: it sequences the state machine against
// speech telemetry and model lifecycle events, and owns the interruption
// policy.
type Service struct {
	cfg        *config.Config
	appCtx     context.Context
	eventBus   *bus.Bus
	machine    *state.Machine
	input      SpeechInput
	output     SpeechOutput
	agentSvc   *agent.Service
	captionSvc *caption.Service

	mu sync.Mutex
	// set when a final transcript arrived for the current capture episode
	hasFinalResult  bool
	completionTimer *time.Timer
}

func New(di *do.Injector) (*Service, error) {
	s := &Service{
		cfg:        do.MustInvoke[*config.Config](di),
		appCtx:     do.MustInvoke[context.Context](di),
		eventBus:   do.MustInvoke[*bus.Bus](di),
		machine:    do.MustInvoke[*state.Machine](di),
		input:      do.MustInvoke[SpeechInput](di),
		output:     do.MustInvoke[SpeechOutput](di),
		agentSvc:   do.MustInvoke[*agent.Service](di),
		captionSvc: do.MustInvoke[*caption.Service](di),
	}

	s.setupSpeechInput()
	s.setupSpeechOutput()
	s.setupBusHandlers()

	s.output.WarmupEngine()

	return s, nil
}

func (s *Service) setupSpeechInput() {
	s.input.OnData(func(data bus.SpeechTelemetry) {
		s.eventBus.Publish(data)

		// Barge-in: live speech over the threshold while a response plays.
		// The FSM guard absorbs repeats once the state leaves responding.
		if s.machine.Current() == state.Responding &&
			data.Volume > s.cfg.Conversation.InterruptionThreshold {
			s.eventBus.Publish(bus.UserInterrupt{})
		}
	})

	s.input.OnSpeechRecognized(func(data bus.SpeechRecognized) {
		if !data.Final || strings.TrimSpace(data.Text) == "" {
			return
		}

		s.eventBus.Publish(data)

		s.mu.Lock()
		s.hasFinalResult = true
		s.mu.Unlock()

		current := s.machine.Current()
		if current != state.Hearing {
			// At most one dispatch per hearing episode; anything else is a
			// late duplicate.
			slog.Warn("Discarding transcript outside hearing state", "state", current)
			return
		}

		slog.Info("Transcript accepted", "text", data.Text)
		s.machine.Transition(state.StartProcessing)
		s.dispatch(data.Text)
	})

	s.input.OnListeningEnded(func() {
		s.eventBus.Publish(bus.ListeningEnded{})

		s.mu.Lock()
		hasResult := s.hasFinalResult
		s.mu.Unlock()

		current := s.machine.Current()

		// The transcript-arrival path and this path can both fire for one
		// capture session; only reset when nothing was dispatched.
		if !hasResult && current == state.Hearing {
			slog.Info("Listening ended with no transcript, resetting")
			s.machine.Transition(state.Reset)
			return
		}

		slog.Debug("Listening ended", "state", current, "hasResult", hasResult)
	})

	s.input.OnError(func(err error) {
		slog.Error("Speech input error", "error", err)
		s.eventBus.Publish(bus.InputError{Err: err})
	})
}

func (s *Service) setupSpeechOutput() {
	s.output.OnError(func(err error) {
		slog.Error("Speech output error", "error", err)
		s.eventBus.Publish(bus.OutputError{Err: err})
	})
}

func (s *Service) setupBusHandlers() {
	s.eventBus.Subscribe(bus.KindCaption, func(ev bus.Event) {
		s.handleCaption(ev.(caption.Caption))
	})

	s.eventBus.Subscribe(bus.KindResponseStarted, func(bus.Event) {
		s.machine.Transition(state.StartResponding)
	})

	s.eventBus.Subscribe(bus.KindResponseEnded, func(bus.Event) {
		s.scheduleCompletion()
	})

	s.eventBus.Subscribe(bus.KindUserInterrupt, func(bus.Event) {
		s.Interrupt()
	})

	s.eventBus.Subscribe(bus.KindStateChanged, func(ev bus.Event) {
		s.handleStateChange(ev.(state.Changed))
	})
}

func (s *Service) handleCaption(c caption.Caption) {
	if c.Type != caption.Speech {
		slog.Debug("Tool call caption", "content", c.Content)
		return
	}

	go func() {
		if err := s.output.Speak(s.appCtx, c.Content); err != nil {
			slog.Error("TTS failed for caption", "error", err)
		}
	}()
}

// scheduleCompletion delays the responding -> idle transition so the last
// caption stays readable. A new interaction cancels it.
func (s *Service) scheduleCompletion() {
	s.mu.Lock()
	if s.completionTimer != nil {
		s.completionTimer.Stop()
	}
	s.completionTimer = time.AfterFunc(s.cfg.Conversation.CompletionDelay.Std(), func() {
		s.mu.Lock()
		s.completionTimer = nil
		s.mu.Unlock()

		s.machine.Transition(state.CompleteResponse)
	})
	s.mu.Unlock()
}

func (s *Service) cancelCompletion() {
	s.mu.Lock()
	if s.completionTimer != nil {
		s.completionTimer.Stop()
		s.completionTimer = nil
	}
	s.mu.Unlock()
}

func (s *Service) handleStateChange(change state.Changed) {
	slog.Info("Conversation state changed",
		"from", change.From,
		"action", change.Action,
		"to", change.To)

	switch change.To {
	case state.Listening:
		go func() {
			if err := s.input.Start(s.appCtx); err != nil {
				slog.Error("Failed to start speech input", "error", err)
				s.eventBus.Publish(bus.InputError{Err: err})
			}
		}()
	case state.Hearing:
		// Stopping capture is what triggers transcription in the adapter.
		s.input.Stop()
	case state.Idle:
		s.input.Stop()
		s.output.Stop()

		s.mu.Lock()
		s.hasFinalResult = false
		s.mu.Unlock()
	case state.Interrupted:
		// Capture may continue; only playback stops.
		s.output.Stop()
	}
}

func (s *Service) dispatch(text string) {
	s.captionSvc.BeginTurn()
	s.agentSvc.Send(text)
}

// StartConversation opens the microphone. A no-op unless idle.
func (s *Service) StartConversation() bool {
	s.mu.Lock()
	s.hasFinalResult = false
	s.mu.Unlock()

	return s.machine.Transition(state.StartListening)
}

// StopConversation routes through hearing rather than straight to idle:
// stopping voice input always triggers transcription.
func (s *Service) StopConversation() bool {
	return s.machine.Transition(state.StartHearing)
}

func (s *Service) Interrupt() {
	s.cancelCompletion()
	s.machine.Transition(state.Interrupt)
}

func (s *Service) Reset() {
	s.cancelCompletion()
	s.machine.Transition(state.Reset)
}

// Halt aborts the in-flight turn cooperatively and tells the UI the turn is
// over.
func (s *Service) Halt() {
	s.cancelCompletion()
	s.agentSvc.Halt()
	s.captionSvc.BeginTurn()
	s.output.Stop()
	s.machine.Transition(state.Reset)
}

// SendTextMessage bypasses listening entirely.
func (s *Service) SendTextMessage(text string) {
	s.cancelCompletion()
	s.dispatch(text)
	s.machine.Transition(state.StartProcessing)
}

func (s *Service) CurrentState() state.ConversationState {
	return s.machine.Current()
}

func (s *Service) Close() error {
	s.cancelCompletion()

	if err := s.input.Close(); err != nil {
		slog.Warn("Failed to close speech input", "error", err)
	}
	if err := s.output.Close(); err != nil {
		slog.Warn("Failed to close speech output", "error", err)
	}

	return nil
}
