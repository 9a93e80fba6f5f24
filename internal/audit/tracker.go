package audit

import (
	"sync/atomic"
	"time"

	"tradecore/internal/schema"
)

// Event types written by the tracker.
const (
	TypeOrderState    = "order_state"
	TypeTrade         = "trade"
	TypeGuardianMode  = "guardian_mode"
	TypeThrottleLevel = "throttle_level"
	TypeReconcile     = "reconcile"
	TypeTimeout       = "order_timeout"
)

// Sink receives audit events. Writer and Pipeline both satisfy it; the
// implementation is injected at construction.
type Sink interface {
	Write(Event) error
}

// PipelineSink adapts a Pipeline to the Sink interface using ordered
// blocking publish.
type PipelineSink struct {
	P *Pipeline
}

func (s PipelineSink) Write(e Event) error {
	return s.P.Publish(e)
}

// Tracker threads related events into a traceable chain with a
// monotonically increasing trace id and stamps the category/type
// taxonomy used for querying. Events carry the run id even through
// sinks that never reach a writer; a writer still overrides it with
// its own.
type Tracker struct {
	sink  Sink
	runID string
	trace atomic.Uint64
}

// NewTracker creates a tracker over the given sink.
func NewTracker(runID string, sink Sink) *Tracker {
	return &Tracker{sink: sink, runID: runID}
}

func (t *Tracker) write(e Event) error {
	e.RunID = t.runID
	return t.sink.Write(e)
}

// NextTrace allocates a new trace id for a chain of related events.
func (t *Tracker) NextTrace() uint64 {
	return t.trace.Add(1)
}

// OrderState records one FSM transition.
func (t *Tracker) OrderState(traceID uint64, orderID, from, to, event string, filled int64) error {
	e := NewEvent(TypeOrderState, map[string]any{
		"order_id":   orderID,
		"state_from": from,
		"state_to":   to,
		"event":      event,
		"filled_qty": filled,
	})
	e.TraceID = traceID
	e.Category = CategoryOrder
	return t.write(e)
}

// Trade records one execution fact.
func (t *Tracker) Trade(traceID uint64, trade schema.Trade) error {
	e := NewEvent(TypeTrade, map[string]any{
		"trade_id":   trade.TradeID,
		"order_id":   trade.OrderID,
		"instrument": trade.Instrument,
		"side":       trade.Side.String(),
		"offset":     trade.Offset.String(),
		"volume":     trade.Volume,
		"price":      trade.Price.String(),
		"trade_time": epochSeconds(trade.Timestamp),
	})
	e.TraceID = traceID
	e.Category = CategoryTrade
	return t.write(e)
}

// GuardianMode records one supervisory mode transition.
func (t *Tracker) GuardianMode(modeFrom, modeTo, trigger, action string, details map[string]any) error {
	fields := map[string]any{
		"mode_from": modeFrom,
		"mode_to":   modeTo,
		"trigger":   trigger,
		"action":    action,
	}
	for k, v := range details {
		fields[k] = v
	}
	e := NewEvent(TypeGuardianMode, fields)
	e.TraceID = t.NextTrace()
	e.Category = CategoryGuardian
	return t.write(e)
}

// ThrottleLevel records one throttle level change with the metric that
// triggered it.
func (t *Tracker) ThrottleLevel(account, before, after string, metric map[string]any) error {
	fields := map[string]any{
		"account":      account,
		"level_before": before,
		"level_after":  after,
	}
	for k, v := range metric {
		fields[k] = v
	}
	e := NewEvent(TypeThrottleLevel, fields)
	e.TraceID = t.NextTrace()
	e.Category = CategoryCompliance
	return t.write(e)
}

// Reconcile records the outcome of one position reconciliation.
func (t *Tracker) Reconcile(matched bool, mismatches []map[string]any) error {
	e := NewEvent(TypeReconcile, map[string]any{
		"matched":    matched,
		"mismatches": mismatches,
	})
	e.TraceID = t.NextTrace()
	e.Category = CategorySystem
	return t.write(e)
}

// Timeout records a timer-generated lifecycle event.
func (t *Tracker) Timeout(traceID uint64, orderID, event string, age time.Duration) error {
	e := NewEvent(TypeTimeout, map[string]any{
		"order_id": orderID,
		"event":    event,
		"age_ms":   age.Milliseconds(),
	})
	e.TraceID = traceID
	e.Category = CategoryOrder
	return t.write(e)
}
