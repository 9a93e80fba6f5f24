package compliance

import (
	"sync"
	"time"
)

// Level is the graduated admission-control state for order submission.
// Levels are ordered; escalation picks the maximum triggered band.
type Level uint16

const (
	LevelNone Level = iota
	LevelWarning
	LevelSlow
	LevelCritical
	LevelBlock
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "NONE"
	case LevelWarning:
		return "WARNING"
	case LevelSlow:
		return "SLOW"
	case LevelCritical:
		return "CRITICAL"
	case LevelBlock:
		return "BLOCK"
	default:
		return "UNKNOWN"
	}
}

// Delay returns the submission delay the level imposes.
func (l Level) Delay() time.Duration {
	switch l {
	case LevelSlow:
		return 100 * time.Millisecond
	case LevelCritical:
		return 500 * time.Millisecond
	default:
		return 0
	}
}

// Thresholds are the regulatory frequency bands. All values are
// operator policy injected from configuration, never hard-coded by
// callers.
type Thresholds struct {
	// WarningOrders in WarningWindow triggers WARNING (e.g. 50 in 5s).
	WarningOrders int
	WarningWindow time.Duration

	// per-second bands over RateWindow
	SlowOrdersPerSec     float64
	CriticalOrdersPerSec float64
	BlockOrdersPerSec    float64
	RateWindow           time.Duration

	// DayOrderLimit classifies sustained high-frequency flow (e.g.
	// 20000 orders per day) as CRITICAL.
	DayOrderLimit int64

	// CoolDown with no new violations before a level may decay.
	CoolDown time.Duration
}

// DefaultThresholds mirrors the common regulatory bands: 50 orders in
// 5s warns, 300/s classifies as high frequency, 500/s blocks, 20000 a
// day classifies as high frequency.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningOrders:        50,
		WarningWindow:        5 * time.Second,
		SlowOrdersPerSec:     100,
		CriticalOrdersPerSec: 300,
		BlockOrdersPerSec:    500,
		RateWindow:           time.Second,
		DayOrderLimit:        20000,
		CoolDown:             10 * time.Second,
	}
}

// LevelAuditor receives every throttle level change with the metric
// that triggered it. audit.Tracker satisfies it.
type LevelAuditor interface {
	ThrottleLevel(account, before, after string, metric map[string]any) error
}

// EscalationHook observes levels at or above CRITICAL so sustained
// violations can force a guardian mode change instead of only a local
// delay.
type EscalationHook func(account string, level Level, m Metrics)

type accountState struct {
	level         Level
	lastViolation time.Time
}

// Controller maps measured frequency to throttle levels and gates
// order submission. CanSubmitOrder and WaitTime are the only calls the
// submission path may use.
type Controller struct {
	mu      sync.Mutex
	tracker *FrequencyTracker
	cfg     Thresholds
	state   map[string]*accountState

	auditor      LevelAuditor
	onEscalation EscalationHook

	now func() time.Time
}

// NewController creates a throttle controller over the tracker.
func NewController(tracker *FrequencyTracker, cfg Thresholds, auditor LevelAuditor) *Controller {
	return &Controller{
		tracker: tracker,
		cfg:     cfg,
		state:   make(map[string]*accountState),
		auditor: auditor,
		now:     time.Now,
	}
}

// SetEscalationHook registers the guardian linkage.
func (c *Controller) SetEscalationHook(hook EscalationHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEscalation = hook
}

// RecordOrder registers one order submission with the underlying
// frequency tracker. The submission path records through the
// controller so it never holds the tracker itself.
func (c *Controller) RecordOrder(account string, t time.Time) {
	c.tracker.RecordOrder(account, t)
}

// RecordCancel registers one cancel request with the underlying
// frequency tracker.
func (c *Controller) RecordCancel(account string, t time.Time) {
	c.tracker.RecordCancel(account, t)
}

// Level returns the account's current throttle level, re-evaluated
// against fresh metrics.
func (c *Controller) Level(account string) Level {
	level, _ := c.Evaluate(account)
	return level
}

// CanSubmitOrder reports whether the submission path may admit a new
// order for the account.
func (c *Controller) CanSubmitOrder(account string) bool {
	level, _ := c.Evaluate(account)
	return level != LevelBlock
}

// WaitTime returns the delay the submission path must apply before
// sending.
func (c *Controller) WaitTime(account string) time.Duration {
	level, _ := c.Evaluate(account)
	return level.Delay()
}

// Evaluate recomputes metrics, derives the target band, and applies the
// monotonic escalation rule: while metrics stay at or above the
// current level's band, the level never decreases; decay requires a
// cool-down with no new violations.
func (c *Controller) Evaluate(account string) (Level, Metrics) {
	now := c.now()
	rateWindow := c.cfg.RateWindow
	if rateWindow <= 0 {
		rateWindow = time.Second
	}
	rate := c.tracker.Frequency(account, rateWindow, now)
	warn := c.tracker.Frequency(account, c.cfg.WarningWindow, now)

	candidate := c.band(rate, warn)

	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[account]
	if !ok {
		st = &accountState{}
		c.state[account] = st
	}

	before := st.level
	switch {
	case candidate > st.level:
		st.level = candidate
		st.lastViolation = now
	case candidate == st.level && candidate > LevelNone:
		st.lastViolation = now
	case candidate < st.level:
		if c.cfg.CoolDown > 0 && now.Sub(st.lastViolation) >= c.cfg.CoolDown {
			st.level = candidate
		}
	}

	if st.level != before {
		if c.auditor != nil {
			_ = c.auditor.ThrottleLevel(account, before.String(), st.level.String(), map[string]any{
				"orders_per_sec": rate.OrdersPerSec,
				"window_orders":  warn.OrderCount,
				"day_orders":     rate.DayOrders,
			})
		}
		if st.level >= LevelCritical && c.onEscalation != nil {
			c.onEscalation(account, st.level, rate)
		}
	}
	return st.level, rate
}

func (c *Controller) band(rate, warn Metrics) Level {
	perSec := rate.OrdersPerSec
	switch {
	case c.cfg.BlockOrdersPerSec > 0 && perSec >= c.cfg.BlockOrdersPerSec:
		return LevelBlock
	case c.cfg.CriticalOrdersPerSec > 0 && perSec >= c.cfg.CriticalOrdersPerSec:
		return LevelCritical
	case c.cfg.DayOrderLimit > 0 && rate.DayOrders >= c.cfg.DayOrderLimit:
		return LevelCritical
	case c.cfg.SlowOrdersPerSec > 0 && perSec >= c.cfg.SlowOrdersPerSec:
		return LevelSlow
	case c.cfg.WarningOrders > 0 && warn.OrderCount >= c.cfg.WarningOrders:
		return LevelWarning
	default:
		return LevelNone
	}
}
