package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"tradecore/internal/audit"
	"tradecore/internal/compliance"
	"tradecore/internal/execution"
	"tradecore/internal/guardian"
	"tradecore/internal/ops"
	"tradecore/internal/order"
	"tradecore/internal/position"
	"tradecore/internal/schema"
)

var (
	ErrNotRunning     = errors.New("engine not accepting orders")
	ErrTradingHalted  = errors.New("trading halted")
	ErrOpenRestricted = errors.New("new positions restricted")
	ErrAccountBlocked = errors.New("account order frequency blocked")
	ErrUnknownExec    = errors.New("execution not found")
)

// Broker is the counterparty transport. The engine never talks to a
// venue directly.
type Broker interface {
	Submit(ctx context.Context, intent schema.OrderIntent) error
	Cancel(ctx context.Context, orderID string) error
	Positions(ctx context.Context) (map[string]int64, error)
}

type orderMeta struct {
	account    string
	instrument string
	side       schema.Side
	offset     schema.Offset
	volume     int64
	execID     string
	traceID    uint64
}

// Options wires an Engine.
type Options struct {
	Config ops.Loaded
	Broker Broker
	Audit  *audit.Tracker
}

// Engine composes the order machines, position tracker, guardian, and
// compliance throttle behind one submission path. Every externally
// visible transition is audited before the call returns.
type Engine struct {
	cfg     ops.Loaded
	broker  Broker
	tracker *audit.Tracker

	orders    *order.Manager
	positions *position.Tracker
	guardian  *guardian.Engine
	triggers  *guardian.TriggerManager
	throttle  *compliance.Controller
	history   *execution.History

	mu         sync.Mutex
	meta       map[string]orderMeta
	executions map[string]*execution.Context
	quotes     map[string]time.Time
	legs       []guardian.LegPair
}

// NewEngine builds a stopped engine. Call Start before submitting.
func NewEngine(opt Options) *Engine {
	e := &Engine{
		cfg:        opt.Config,
		broker:     opt.Broker,
		tracker:    opt.Audit,
		positions:  position.NewTracker(),
		history:    execution.NewHistory(256),
		meta:       make(map[string]orderMeta),
		executions: make(map[string]*execution.Context),
		quotes:     make(map[string]time.Time),
	}

	e.orders = order.NewManager(opt.Config.OrderMode, func(id string, state order.State, event order.Event) {
		logs.Errorf("invalid transition ignored: order=%s state=%s event=%s", id, state, event)
	})

	e.guardian = guardian.NewEngine(guardian.DefaultPolicy(), opt.Audit)
	e.triggers = guardian.NewTriggerManager(
		guardian.QuoteStaleDetector{StaleAfter: opt.Config.QuoteStaleAfter},
		guardian.OrderStuckDetector{StuckAfter: opt.Config.OrderStuckAfter},
		guardian.PositionDriftDetector{Tolerance: opt.Config.DriftTolerance},
		guardian.LegImbalanceDetector{Tolerance: opt.Config.LegImbalanceTolerance},
	)

	freq := compliance.NewFrequencyTracker(opt.Config.FrequencyRetention)
	e.throttle = compliance.NewController(freq, opt.Config.Thresholds, opt.Audit)
	e.throttle.SetEscalationHook(func(account string, level compliance.Level, m compliance.Metrics) {
		e.guardian.Apply(guardian.TriggerResult{
			Triggered: true,
			Name:      "hft_detector",
			EventName: guardian.EventHFTEscalation,
			Details: map[string]any{
				"account":        account,
				"level":          level.String(),
				"orders_per_sec": m.OrdersPerSec,
				"day_orders":     m.DayOrders,
			},
		})
	})

	e.positions.SetMismatchHook(func(r position.ReconcileResult) {
		mismatches := make([]map[string]any, 0, len(r.Mismatches))
		for _, m := range r.Mismatches {
			mismatches = append(mismatches, map[string]any{
				"instrument": m.Instrument,
				"local_qty":  m.LocalQty,
				"broker_qty": m.BrokerQty,
			})
		}
		if err := opt.Audit.Reconcile(r.Matched, mismatches); err != nil {
			logs.Errorf("audit reconcile: %v", err)
		}
	})

	return e
}

// Start moves the guardian to RUNNING.
func (e *Engine) Start() {
	e.guardian.Start()
	logs.Infof("engine started: run_id=%s mode=%s", e.cfg.RunID, e.guardian.Mode())
}

// Mode returns the current supervisory mode.
func (e *Engine) Mode() guardian.Mode {
	return e.guardian.Mode()
}

// Guardian exposes the supervisory engine for recovery operations.
func (e *Engine) Guardian() *guardian.Engine {
	return e.guardian
}

// Positions exposes the local position view.
func (e *Engine) Positions() *position.Tracker {
	return e.positions
}

// ThrottleLevel returns the throttle level for one account.
func (e *Engine) ThrottleLevel(account string) compliance.Level {
	return e.throttle.Level(account)
}

// SetLegs registers paired positions for imbalance detection.
func (e *Engine) SetLegs(legs []guardian.LegPair) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.legs = append([]guardian.LegPair(nil), legs...)
}

// SubmitOrder runs the submission gate in order: supervisory mode,
// compliance throttle, lifecycle creation, then the broker call. A
// rejection at any gate leaves no partial state behind except the
// audit record.
func (e *Engine) SubmitOrder(ctx context.Context, intent schema.OrderIntent) error {
	if err := e.gate(intent.Offset); err != nil {
		return err
	}

	if !e.throttle.CanSubmitOrder(intent.Account) {
		return fmt.Errorf("account %s: %w", intent.Account, ErrAccountBlocked)
	}
	if wait := e.throttle.WaitTime(intent.Account); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	fsm, err := e.orders.Create(intent.OrderID)
	if err != nil {
		return errors.Wrap(err, "create order")
	}
	traceID := e.tracker.NextTrace()

	meta := orderMeta{
		account:    intent.Account,
		instrument: intent.Instrument,
		side:       intent.Side,
		offset:     intent.Offset,
		volume:     intent.Volume,
		traceID:    traceID,
	}
	e.mu.Lock()
	// keep an execution binding made before submission
	meta.execID = e.meta[intent.OrderID].execID
	e.meta[intent.OrderID] = meta
	e.mu.Unlock()

	e.throttle.RecordOrder(intent.Account, time.Now())
	e.throttle.Evaluate(intent.Account)

	before := fsm.State()
	state, err := e.orders.Transition(intent.OrderID, order.EventSubmit, 0)
	if err != nil {
		return errors.Wrap(err, "submit transition")
	}
	e.auditState(traceID, intent.OrderID, before, state, order.EventSubmit, 0)

	if err := e.broker.Submit(ctx, intent); err != nil {
		e.applyEvent(intent.OrderID, order.EventErrorOccurred, 0)
		return errors.Wrap(err, "broker submit")
	}
	return nil
}

// CancelOrder requests cancellation of a live order.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	if _, err := e.applyEvent(orderID, order.EventCancelRequest, 0); err != nil {
		return err
	}
	e.mu.Lock()
	account := e.meta[orderID].account
	e.mu.Unlock()
	if account != "" {
		e.throttle.RecordCancel(account, time.Now())
	}
	if err := e.broker.Cancel(ctx, orderID); err != nil {
		return errors.Wrap(err, "broker cancel")
	}
	return nil
}

// OnAck handles the broker acknowledgement callback.
func (e *Engine) OnAck(orderID string) error {
	_, err := e.applyEvent(orderID, order.EventAck, 0)
	return err
}

// OnReject handles a broker rejection callback.
func (e *Engine) OnReject(orderID string) error {
	_, err := e.applyEvent(orderID, order.EventReject, 0)
	return err
}

// OnCancelAck handles a cancel confirmation callback.
func (e *Engine) OnCancelAck(orderID string) error {
	_, err := e.applyEvent(orderID, order.EventCancelAck, 0)
	return err
}

// OnCancelReject handles a cancel rejection callback.
func (e *Engine) OnCancelReject(orderID string) error {
	_, err := e.applyEvent(orderID, order.EventCancelReject, 0)
	return err
}

// OnStatus4 handles the broker's composite error status.
func (e *Engine) OnStatus4(orderID string, filled int64) error {
	_, err := e.applyEvent(orderID, order.EventStatus4, filled)
	return err
}

// OnTrade handles a fill callback. The cumulative filled quantity
// decides between a partial and a full fill; positions and any
// attached execution update before the audit record is written.
func (e *Engine) OnTrade(trade schema.Trade) error {
	e.mu.Lock()
	meta, ok := e.meta[trade.OrderID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("trade %s: %w", trade.TradeID, order.ErrUnknownOrder)
	}

	snap, _ := e.orders.Get(trade.OrderID)
	cumulative := snap.Filled + trade.Volume
	event := order.EventPartialFill
	if cumulative >= meta.volume {
		event = order.EventFill
	}
	// the machine accumulates, so it gets the increment only
	if _, err := e.applyEvent(trade.OrderID, event, trade.Volume); err != nil {
		return err
	}

	e.positions.OnTrade(trade)

	if meta.execID != "" {
		e.mu.Lock()
		if exec, ok := e.executions[meta.execID]; ok {
			exec.UpdateFill(trade.OrderID, cumulative)
		}
		e.mu.Unlock()
	}

	if err := e.tracker.Trade(meta.traceID, trade); err != nil {
		logs.Errorf("audit trade: %v", err)
	}
	return nil
}

// OnQuote records market data freshness for the stale-quote detector.
func (e *Engine) OnQuote(instrument string, ts time.Time) {
	e.mu.Lock()
	e.quotes[instrument] = ts
	e.mu.Unlock()
}

// NewExecution registers an execution context for a target portfolio.
func (e *Engine) NewExecution(target schema.Portfolio) *execution.Context {
	exec := execution.NewContext(target, schema.Portfolio(e.positions.NetPositions()))
	e.mu.Lock()
	e.executions[exec.ID()] = exec
	e.mu.Unlock()
	return exec
}

// AttachOrder binds an order to an execution so fills roll up. The
// binding may be made before the order is submitted.
func (e *Engine) AttachOrder(execID, orderID string, instrument string, side schema.Side, targetQty int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.executions[execID]
	if !ok {
		return ErrUnknownExec
	}
	exec.AddOrder(orderID, instrument, side, targetQty)
	m := e.meta[orderID]
	m.execID = execID
	e.meta[orderID] = m
	return nil
}

// FinishExecution finalizes an execution and archives its summary.
func (e *Engine) FinishExecution(execID string, status execution.Status) (execution.Summary, error) {
	e.mu.Lock()
	exec, ok := e.executions[execID]
	e.mu.Unlock()
	if !ok {
		return execution.Summary{}, ErrUnknownExec
	}
	if err := exec.Finish(status); err != nil {
		return execution.Summary{}, err
	}
	summary := exec.Summarize()
	e.mu.Lock()
	delete(e.executions, execID)
	e.mu.Unlock()
	e.history.Archive(summary)
	return summary, nil
}

// History returns archived execution summaries.
func (e *Engine) History() *execution.History {
	return e.history
}

// ReconcileNow compares local positions against the broker's view.
func (e *Engine) ReconcileNow(ctx context.Context) (position.ReconcileResult, error) {
	broker, err := e.broker.Positions(ctx)
	if err != nil {
		return position.ReconcileResult{}, errors.Wrap(err, "broker positions")
	}
	return e.positions.Reconcile(broker), nil
}

// BuildSnapshot assembles the detector input from live state.
func (e *Engine) BuildSnapshot(ctx context.Context) (guardian.Snapshot, error) {
	broker, err := e.broker.Positions(ctx)
	if err != nil {
		return guardian.Snapshot{}, errors.Wrap(err, "broker positions")
	}

	e.mu.Lock()
	quotes := make(map[string]time.Time, len(e.quotes))
	for k, v := range e.quotes {
		quotes[k] = v
	}
	legs := append([]guardian.LegPair(nil), e.legs...)
	e.mu.Unlock()

	active := e.orders.Active()
	views := make([]guardian.OrderView, 0, len(active))
	for _, snap := range active {
		views = append(views, guardian.OrderView{OrderID: snap.ID, UpdatedAt: snap.UpdatedAt})
	}

	return guardian.Snapshot{
		Now:       time.Now(),
		Quotes:    quotes,
		Orders:    views,
		LocalNet:  e.positions.NetPositions(),
		BrokerNet: broker,
		Legs:      legs,
	}, nil
}

// ScanOnce runs all detectors against a fresh snapshot and applies any
// triggered results to the guardian.
func (e *Engine) ScanOnce(ctx context.Context) error {
	snapshot, err := e.BuildSnapshot(ctx)
	if err != nil {
		return err
	}
	for _, result := range e.triggers.RunAll(snapshot) {
		if e.guardian.Apply(result) {
			logs.Infof("guardian trigger applied: %s mode=%s", result.EventName, e.guardian.Mode())
		}
	}
	return nil
}

// RunGuardian scans on the configured interval until the context ends.
func (e *Engine) RunGuardian(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.GuardianScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sys.Shutdown():
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.ScanOnce(ctx); err != nil {
				logs.Errorf("guardian scan: %v", err)
			}
		}
	}
}

// CheckTimeouts injects timeout events for orders stuck in transient
// states past their configured deadlines.
func (e *Engine) CheckTimeouts(now time.Time) {
	for _, snap := range e.orders.Active() {
		age := now.Sub(snap.UpdatedAt)
		var event order.Event
		var deadline time.Duration
		switch snap.State {
		case order.StateSubmitting:
			event, deadline = order.EventAckTimeout, e.cfg.AckTimeout
		case order.StatePending, order.StatePartialFilled:
			event, deadline = order.EventFillTimeout, e.cfg.FillTimeout
		case order.StateCancelSubmitting:
			event, deadline = order.EventCancelTimeout, e.cfg.CancelTimeout
		default:
			continue
		}
		if age < deadline {
			continue
		}
		if _, err := e.applyEvent(snap.ID, event, snap.Filled); err != nil {
			continue
		}
		e.mu.Lock()
		traceID := e.meta[snap.ID].traceID
		e.mu.Unlock()
		if err := e.tracker.Timeout(traceID, snap.ID, event.String(), age); err != nil {
			logs.Errorf("audit timeout: %v", err)
		}
	}
}

// RetryOrder re-submits an order parked in SUBMITTED or SUSPENDED.
func (e *Engine) RetryOrder(ctx context.Context, orderID string) error {
	if _, err := e.applyEvent(orderID, order.EventRetry, 0); err != nil {
		return err
	}
	e.mu.Lock()
	meta, ok := e.meta[orderID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("retry %s: %w", orderID, order.ErrUnknownOrder)
	}
	intent := schema.OrderIntent{
		OrderID:    orderID,
		Account:    meta.account,
		Instrument: meta.instrument,
		Side:       meta.side,
		Offset:     meta.offset,
		Volume:     meta.volume,
	}
	if err := e.broker.Submit(ctx, intent); err != nil {
		e.applyEvent(orderID, order.EventErrorOccurred, 0)
		return errors.Wrap(err, "broker submit")
	}
	return nil
}

func (e *Engine) gate(offset schema.Offset) error {
	switch e.guardian.Mode() {
	case guardian.ModeRunning:
		return nil
	case guardian.ModeReduceOnly:
		if offset == schema.OffsetClose {
			return nil
		}
		return ErrOpenRestricted
	case guardian.ModeHalted:
		return ErrTradingHalted
	default:
		return ErrNotRunning
	}
}

func (e *Engine) applyEvent(orderID string, event order.Event, filled int64) (order.State, error) {
	before, ok := e.orders.Get(orderID)
	if !ok {
		return order.StateUnknown, fmt.Errorf("apply %s: %w", orderID, order.ErrUnknownOrder)
	}
	state, err := e.orders.Transition(orderID, event, filled)
	if err != nil {
		return state, err
	}
	e.mu.Lock()
	traceID := e.meta[orderID].traceID
	e.mu.Unlock()
	e.auditState(traceID, orderID, before.State, state, event, filled)
	return state, nil
}

func (e *Engine) auditState(traceID uint64, orderID string, from, to order.State, event order.Event, filled int64) {
	if err := e.tracker.OrderState(traceID, orderID, from.String(), to.String(), event.String(), filled); err != nil {
		logs.Errorf("audit order state: %v", err)
	}
}
