package order

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrDuplicateOrder = errors.New("order already exists")
	ErrUnknownOrder   = errors.New("order not found")
)

// entry pairs an FSM with the mutex serializing its callbacks.
// Concurrent broker callbacks for the same order id queue on the entry
// mutex; different orders proceed in parallel.
type entry struct {
	mu  sync.Mutex
	fsm *FSM
}

// Manager owns one FSM per local order id.
type Manager struct {
	mu      sync.RWMutex
	orders  map[string]*entry
	mode    Mode
	invalid func(id string, state State, event Event)
}

// NewManager creates an empty manager. All machines it creates share
// the given mode and invalid-transition hook.
func NewManager(mode Mode, invalidHook func(id string, state State, event Event)) *Manager {
	return &Manager{
		orders:  make(map[string]*entry),
		mode:    mode,
		invalid: invalidHook,
	}
}

// Create registers a new order in CREATED state.
func (m *Manager) Create(id string) (*FSM, error) {
	if id == "" {
		return nil, ErrUnknownOrder
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; ok {
		return nil, ErrDuplicateOrder
	}
	fsm := NewFSM(id, m.mode)
	if m.invalid != nil {
		fsm.SetInvalidTransitionHook(m.invalid)
	}
	m.orders[id] = &entry{fsm: fsm}
	return fsm, nil
}

// Transition applies one event to the order, serialized per order id.
func (m *Manager) Transition(id string, event Event, filledQty int64) (State, error) {
	m.mu.RLock()
	e, ok := m.orders[id]
	m.mu.RUnlock()
	if !ok {
		return StateUnknown, ErrUnknownOrder
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fsm.Transition(event, filledQty)
}

// Snapshot is a point-in-time view of one order.
type Snapshot struct {
	ID          string
	State       State
	Filled      int64
	Transitions int
	UpdatedAt   time.Time
}

// Get returns a snapshot of the order, if known.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.RLock()
	e, ok := m.orders[id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		ID:          e.fsm.ID(),
		State:       e.fsm.State(),
		Filled:      e.fsm.Filled(),
		Transitions: e.fsm.Transitions(),
		UpdatedAt:   e.fsm.UpdatedAt(),
	}, true
}

// Active returns snapshots of all orders not yet terminal.
func (m *Manager) Active() []Snapshot {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.orders))
	for _, e := range m.orders {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.fsm.State().Terminal() {
			out = append(out, Snapshot{
				ID:          e.fsm.ID(),
				State:       e.fsm.State(),
				Filled:      e.fsm.Filled(),
				Transitions: e.fsm.Transitions(),
				UpdatedAt:   e.fsm.UpdatedAt(),
			})
		}
		e.mu.Unlock()
	}
	return out
}
