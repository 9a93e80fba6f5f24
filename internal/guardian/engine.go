package guardian

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrNotRecoverable = errors.New("guardian mode not recoverable")
	ErrNotRecovering  = errors.New("guardian recovery not in progress")
)

// Mode is the supervisory trading posture. Higher values restrict
// more; escalation is one-way except through the recovery path.
type Mode uint16

const (
	ModeInit Mode = iota
	ModeRunning
	ModeReduceOnly
	ModeHalted
)

func (m Mode) String() string {
	switch m {
	case ModeInit:
		return "INIT"
	case ModeRunning:
		return "RUNNING"
	case ModeReduceOnly:
		return "REDUCE_ONLY"
	case ModeHalted:
		return "HALTED"
	default:
		return "UNKNOWN"
	}
}

// Recovery lifecycle event names.
const (
	EventRecoveryStarted   = "RECOVERY_STARTED"
	EventRecoveryCompleted = "RECOVERY_COMPLETED"
)

// GuardianEvent records one mode transition. Append-only, never
// mutated after creation.
type GuardianEvent struct {
	Timestamp time.Time
	ModeFrom  Mode
	ModeTo    Mode
	Trigger   string
	Action    string
}

// ModeAuditor receives every mode transition. Injected at
// construction; audit.Tracker satisfies it.
type ModeAuditor interface {
	GuardianMode(modeFrom, modeTo, trigger, action string, details map[string]any) error
}

// Policy maps trigger event names to target modes.
type Policy map[string]Mode

// DefaultPolicy restricts trading on stale quotes, stuck orders, leg
// imbalance, and throttle escalation; halts on position drift.
func DefaultPolicy() Policy {
	return Policy{
		EventQuoteStale:    ModeReduceOnly,
		EventOrderStuck:    ModeReduceOnly,
		EventLegImbalance:  ModeReduceOnly,
		EventHFTEscalation: ModeReduceOnly,
		EventPositionDrift: ModeHalted,
	}
}

// Engine owns the supervisory mode. It is the single channel through
// which anomaly detection restricts trading; no other component may
// change the mode.
type Engine struct {
	mu         sync.Mutex
	mode       Mode
	recovering bool
	policy     Policy
	events     []GuardianEvent
	auditor    ModeAuditor
	onChange   func(Mode)
}

// NewEngine creates an engine in INIT mode.
func NewEngine(policy Policy, auditor ModeAuditor) *Engine {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Engine{mode: ModeInit, policy: policy, auditor: auditor}
}

// SetModeHook registers an observer notified after every mode change.
func (e *Engine) SetModeHook(hook func(Mode)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onChange = hook
}

// Mode returns the current supervisory mode.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mode
}

// Events returns a copy of the recorded transitions.
func (e *Engine) Events() []GuardianEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]GuardianEvent, len(e.events))
	copy(out, e.events)
	return out
}

// Start moves INIT to RUNNING.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != ModeInit {
		return
	}
	e.transitionLocked(ModeRunning, "startup", "enable_trading", nil)
}

// Apply escalates the mode according to policy for one triggered
// result. De-escalation never happens here; only the recovery path
// lowers the mode. Returns whether the mode changed.
func (e *Engine) Apply(result TriggerResult) bool {
	if !result.Triggered {
		return false
	}
	target, ok := e.policy[result.EventName]
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if target <= e.mode {
		return false
	}
	action := "restrict_new_orders"
	if target == ModeHalted {
		action = "halt_trading"
	}
	e.recovering = false
	e.transitionLocked(target, result.EventName, action, result.Details)
	return true
}

// StartRecovery begins the explicit recovery path out of REDUCE_ONLY
// or HALTED.
func (e *Engine) StartRecovery(reason string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mode != ModeReduceOnly && e.mode != ModeHalted {
		return ErrNotRecoverable
	}
	if e.recovering {
		return nil
	}
	e.recovering = true
	e.auditLocked(e.mode, e.mode, reason, EventRecoveryStarted, nil)
	return nil
}

// CompleteRecovery returns to RUNNING after a started recovery.
func (e *Engine) CompleteRecovery() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.recovering {
		return ErrNotRecovering
	}
	e.recovering = false
	e.transitionLocked(ModeRunning, "recovery", EventRecoveryCompleted, nil)
	return nil
}

func (e *Engine) transitionLocked(to Mode, trigger, action string, details map[string]any) {
	from := e.mode
	e.mode = to
	e.events = append(e.events, GuardianEvent{
		Timestamp: time.Now(),
		ModeFrom:  from,
		ModeTo:    to,
		Trigger:   trigger,
		Action:    action,
	})
	e.auditLocked(from, to, trigger, action, details)
	if e.onChange != nil {
		e.onChange(to)
	}
}

func (e *Engine) auditLocked(from, to Mode, trigger, action string, details map[string]any) {
	if e.auditor == nil {
		return
	}
	// Transition facts are already captured in e.events; an audit sink
	// failure must not stall the mode machine.
	_ = e.auditor.GuardianMode(from.String(), to.String(), trigger, action, details)
}
