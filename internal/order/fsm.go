package order

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrTerminalState     = errors.New("order already in terminal state")
)

// Mode controls how the machine treats (state, event) pairs absent from
// the transition table.
type Mode uint8

const (
	// ModeStrict fails on any pair absent from the table. Meant for
	// tests and replay, where an unknown pair is a programming error.
	ModeStrict Mode = iota
	// ModeTolerant ignores unknown pairs and absorbs every event once
	// the order is terminal, keeping a live book progressing under
	// malformed broker feedback.
	ModeTolerant
)

type transitionKey struct {
	state State
	event Event
}

// transitionTable is the fixed lifecycle map. The STATUS_4 and
// fill-during-cancel overrides are applied after lookup, not encoded
// here.
var transitionTable = map[transitionKey]State{
	{StateCreated, EventSubmit}:        StateSubmitting,
	{StateCreated, EventErrorOccurred}: StateError,

	{StateSubmitting, EventAck}:           StatePending,
	{StateSubmitting, EventReject}:        StateRejected,
	{StateSubmitting, EventPartialFill}:   StatePartialFilled,
	{StateSubmitting, EventFill}:          StateFilled,
	{StateSubmitting, EventAckTimeout}:    StateSubmitted,
	{StateSubmitting, EventErrorOccurred}: StateError,

	// Submitted: sent but unconfirmed after an ack timeout. The broker
	// may still hold it, so fills and acks remain valid.
	{StateSubmitted, EventAck}:           StatePending,
	{StateSubmitted, EventReject}:        StateRejected,
	{StateSubmitted, EventPartialFill}:   StatePartialFilled,
	{StateSubmitted, EventFill}:          StateFilled,
	{StateSubmitted, EventRetry}:         StateSubmitting,
	{StateSubmitted, EventCancelRequest}: StateCancelSubmitting,
	{StateSubmitted, EventStatus4}:       StateError,
	{StateSubmitted, EventErrorOccurred}: StateError,

	{StatePending, EventPartialFill}:   StatePartialFilled,
	{StatePending, EventFill}:          StateFilled,
	{StatePending, EventCancelRequest}: StateCancelSubmitting,
	{StatePending, EventFillTimeout}:   StateSuspended,
	{StatePending, EventStatus4}:       StateError,
	{StatePending, EventErrorOccurred}: StateError,

	{StatePartialFilled, EventPartialFill}:   StatePartialFilled,
	{StatePartialFilled, EventFill}:          StateFilled,
	{StatePartialFilled, EventCancelRequest}: StateCancelSubmitting,
	{StatePartialFilled, EventFillTimeout}:   StateSuspended,
	{StatePartialFilled, EventStatus4}:       StateError,
	{StatePartialFilled, EventErrorOccurred}: StateError,

	// Suspended: stale order flagged by a fill timeout, candidate for
	// retry (chase) or cancellation.
	{StateSuspended, EventRetry}:         StateSubmitting,
	{StateSuspended, EventPartialFill}:   StatePartialFilled,
	{StateSuspended, EventFill}:          StateFilled,
	{StateSuspended, EventCancelRequest}: StateCancelSubmitting,
	{StateSuspended, EventStatus4}:       StateError,
	{StateSuspended, EventErrorOccurred}: StateError,

	{StateCancelSubmitting, EventCancelAck}:     StateCancelled,
	{StateCancelSubmitting, EventCancelReject}:  StateCancelRejected,
	{StateCancelSubmitting, EventCancelTimeout}: StateSuspended,
	{StateCancelSubmitting, EventStatus4}:       StateError,
	{StateCancelSubmitting, EventErrorOccurred}: StateError,
}

// FSM drives one order's lifecycle. It is not safe for concurrent use;
// Manager serializes access per order id.
type FSM struct {
	id          string
	state       State
	mode        Mode
	filled      int64
	transitions int
	updatedAt   time.Time

	// onInvalid observes tolerant-mode table misses. Never called in
	// strict mode.
	onInvalid func(id string, state State, event Event)
}

// NewFSM creates an order machine in CREATED state.
func NewFSM(id string, mode Mode) *FSM {
	return &FSM{
		id:        id,
		state:     StateCreated,
		mode:      mode,
		updatedAt: time.Now(),
	}
}

// SetInvalidTransitionHook registers the tolerant-mode observability
// callback.
func (f *FSM) SetInvalidTransitionHook(hook func(id string, state State, event Event)) {
	f.onInvalid = hook
}

// ID returns the local order id.
func (f *FSM) ID() string { return f.id }

// State returns the current state.
func (f *FSM) State() State { return f.state }

// Filled returns the accumulated filled quantity.
func (f *FSM) Filled() int64 { return f.filled }

// Transitions returns the number of successful transitions.
func (f *FSM) Transitions() int { return f.transitions }

// UpdatedAt returns the time of the last successful transition.
func (f *FSM) UpdatedAt() time.Time { return f.updatedAt }

// Transition applies one event. filledQty accumulates into the running
// filled total when the event is PARTIAL_FILL or FILL. The returned
// state is the state after the event, which in tolerant mode may be
// unchanged.
func (f *FSM) Transition(event Event, filledQty int64) (State, error) {
	if f.state.Terminal() {
		if f.mode == ModeStrict {
			return f.state, fmt.Errorf("%w: %s on %s (order %s)", ErrTerminalState, event, f.state, f.id)
		}
		return f.state, nil
	}

	next, ok := transitionTable[transitionKey{f.state, event}]

	// Fills racing a cancel win over the cancel outcome.
	if f.state == StateCancelSubmitting {
		switch event {
		case EventFill:
			next, ok = StateFilled, true
		case EventPartialFill:
			next, ok = StatePartialCancelled, true
		}
	}

	// Broker "accepted-then-cancelled without confirmation". Observed
	// fills resolve the ambiguity to a partial cancel.
	if event == EventStatus4 && f.filled > 0 && ok {
		next = StatePartialCancelled
	}

	if !ok {
		if f.mode == ModeStrict {
			return f.state, fmt.Errorf("%w: %s on %s (order %s)", ErrInvalidTransition, event, f.state, f.id)
		}
		if f.onInvalid != nil {
			f.onInvalid(f.id, f.state, event)
		}
		return f.state, nil
	}

	if event == EventPartialFill || event == EventFill {
		if filledQty > 0 {
			f.filled += filledQty
		}
	}

	f.state = next
	f.transitions++
	f.updatedAt = time.Now()
	return f.state, nil
}
