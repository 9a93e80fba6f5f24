package execution

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradecore/internal/schema"
)

var ErrAlreadyFinished = errors.New("execution context already finished")

// Status describes the aggregate state of one rebalance intent.
type Status uint16

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusPartial
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusPartial:
		return "PARTIAL"
	case StatusFailed:
		return "FAILED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Finished reports whether the status is terminal.
func (s Status) Finished() bool {
	return s != StatusPending && s != StatusRunning
}

// ChildOrder is the context's record of one order issued to close the
// delta. Fill progress is pushed in from order lifecycle events.
type ChildOrder struct {
	OrderID    string
	Instrument string
	Side       schema.Side
	TargetQty  int64
	FilledQty  int64
}

// Context aggregates the child orders of one rebalance intent.
type Context struct {
	mu sync.Mutex

	id          string
	target      schema.Portfolio
	current     schema.Portfolio
	orders      []*ChildOrder
	status      Status
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewContext captures the target and current portfolios for one
// rebalance decision.
func NewContext(target, current schema.Portfolio) *Context {
	return &Context{
		id:        uuid.NewString(),
		target:    target.Clone(),
		current:   current.Clone(),
		status:    StatusPending,
		createdAt: time.Now(),
	}
}

// ID returns the context id.
func (c *Context) ID() string { return c.id }

// Status returns the current status.
func (c *Context) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// AddOrder registers a child order.
func (c *Context) AddOrder(orderID, instrument string, side schema.Side, targetQty int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = append(c.orders, &ChildOrder{
		OrderID:    orderID,
		Instrument: instrument,
		Side:       side,
		TargetQty:  targetQty,
	})
}

// UpdateFill sets the accumulated filled quantity of a child order.
func (c *Context) UpdateFill(orderID string, filledQty int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, o := range c.orders {
		if o.OrderID == orderID {
			o.FilledQty = filledQty
			return
		}
	}
}

// Start moves the context from PENDING to RUNNING.
func (c *Context) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != StatusPending {
		return
	}
	c.status = StatusRunning
	c.startedAt = time.Now()
}

// Finish moves the context to a terminal status.
func (c *Context) Finish(status Status) error {
	if !status.Finished() {
		return ErrAlreadyFinished
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Finished() {
		return ErrAlreadyFinished
	}
	c.status = status
	c.completedAt = time.Now()
	return nil
}

// Delta returns, over the union of instrument keys, the signed
// difference target−current where they differ.
func (c *Context) Delta() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make(map[string]struct{}, len(c.target)+len(c.current))
	for k := range c.target {
		keys[k] = struct{}{}
	}
	for k := range c.current {
		keys[k] = struct{}{}
	}

	delta := make(map[string]int64)
	for k := range keys {
		if d := c.target[k] - c.current[k]; d != 0 {
			delta[k] = d
		}
	}
	return delta
}

// FillRate returns total filled over total target quantity across the
// child orders. A zero total target is vacuously complete.
func (c *Context) FillRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var filled, target int64
	for _, o := range c.orders {
		filled += o.FilledQty
		target += o.TargetQty
	}
	if target == 0 {
		return 1.0
	}
	rate, _ := decimalDiv(filled, target)
	return rate
}

// Duration measures started→completed, or →now while still open.
func (c *Context) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.startedAt.IsZero() {
		return 0
	}
	if c.completedAt.IsZero() {
		return time.Since(c.startedAt)
	}
	return c.completedAt.Sub(c.startedAt)
}

// Orders returns copies of the child order records.
func (c *Context) Orders() []ChildOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ChildOrder, 0, len(c.orders))
	for _, o := range c.orders {
		out = append(out, *o)
	}
	return out
}

func decimalDiv(a, b int64) (float64, bool) {
	if b == 0 {
		return 0, false
	}
	f, exact := decimal.NewFromInt(a).Div(decimal.NewFromInt(b)).Float64()
	return f, exact
}

// Summary is the immutable archived view of a finished context.
type Summary struct {
	ID          string
	Status      Status
	FillRate    float64
	Orders      int
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// Summarize builds the archived view.
func (c *Context) Summarize() Summary {
	rate := c.FillRate()
	c.mu.Lock()
	defer c.mu.Unlock()
	return Summary{
		ID:          c.id,
		Status:      c.status,
		FillRate:    rate,
		Orders:      len(c.orders),
		CreatedAt:   c.createdAt,
		StartedAt:   c.startedAt,
		CompletedAt: c.completedAt,
	}
}
