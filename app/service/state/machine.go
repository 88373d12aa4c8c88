package state

import (
	"log/slog"
	"sync"

	"sibyl/app/bus"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

type ConversationState string

const (
	Idle        ConversationState = "idle"
	Listening   ConversationState = "listening"
	Hearing     ConversationState = "hearing"
	Processing  ConversationState = "processing"
	Responding  ConversationState = "responding"
	Interrupted ConversationState = "interrupted"
)

type Action string

const (
	StartListening   Action = "start_listening"
	StopListening    Action = "stop_listening"
	StartHearing     Action = "start_hearing"
	StartProcessing  Action = "start_processing"
	StartResponding  Action = "start_responding"
	CompleteResponse Action = "complete_response"
	Interrupt        Action = "interrupt"
	Reset            Action = "reset"
)

type transitionRule struct {
	from []ConversationState
	to   ConversationState
}

var validTransitions = map[Action]transitionRule{
	StartListening:   {from: []ConversationState{Idle}, to: Listening},
	StopListening:    {from: []ConversationState{Listening}, to: Idle},
	StartHearing:     {from: []ConversationState{Listening}, to: Hearing},
	StartProcessing:  {from: []ConversationState{Hearing, Idle}, to: Processing},
	StartResponding:  {from: []ConversationState{Processing}, to: Responding},
	CompleteResponse: {from: []ConversationState{Responding, Interrupted}, to: Idle},
	Interrupt:        {from: []ConversationState{Responding}, to: Interrupted},
	Reset: {
		from: []ConversationState{Listening, Hearing, Processing, Responding, Interrupted},
		to:   Idle,
	},
}

// Changed is published on every successful transition.
type Changed struct {
	From   ConversationState
	To     ConversationState
	Action Action
}

func (Changed) Kind() bus.Kind { return bus.KindStateChanged }

// Machine holds the single process-wide conversation state. Transitions are
// the only mutator; everyone else observes via Current or the Changed event.
type Machine struct {
	eventBus *bus.Bus

	mu      sync.Mutex
	current ConversationState
}

func NewMachine(di *do.Injector) (*Machine, error) {
	return &Machine{
		eventBus: do.MustInvoke[*bus.Bus](di),
		current:  Idle,
	}, nil
}

func (m *Machine) Current() ConversationState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current
}

// Transition applies an action against the static table. A request that is
// not valid from the current state is rejected without side effects; stray
// actions are expected and absorbed here.
func (m *Machine) Transition(action Action) bool {
	rule := validTransitions[action]

	m.mu.Lock()
	if !pie.Contains(rule.from, m.current) {
		current := m.current
		m.mu.Unlock()

		slog.Debug("Rejected state transition", "action", action, "state", current)
		return false
	}

	previous := m.current
	m.current = rule.to
	m.mu.Unlock()

	slog.Debug("State transition", "from", previous, "action", action, "to", rule.to)

	m.eventBus.Publish(Changed{
		From:   previous,
		To:     rule.to,
		Action: action,
	})

	return true
}
