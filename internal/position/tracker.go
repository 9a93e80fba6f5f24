package position

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/internal/schema"
)

// Position is the per-instrument long/short view. Quantities never go
// negative; closes clamp at zero.
type Position struct {
	Instrument   string
	LongQty      int64
	ShortQty     int64
	LongAvgCost  decimal.Decimal
	ShortAvgCost decimal.Decimal
}

// Net returns long minus short quantity.
func (p Position) Net() int64 {
	return p.LongQty - p.ShortQty
}

// Mismatch is one differing instrument in a reconciliation.
type Mismatch struct {
	Instrument string
	LocalQty   int64
	BrokerQty  int64
}

// ReconcileResult compares local and broker net positions. Immutable
// once produced.
type ReconcileResult struct {
	Timestamp  time.Time
	Matched    bool
	Mismatches []Mismatch
}

// Tracker maintains authoritative positions from trade events. It is
// the only writer of quantity and average-cost state.
type Tracker struct {
	mu         sync.RWMutex
	positions  map[string]*Position
	onMismatch func(ReconcileResult)
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]*Position)}
}

// SetMismatchHook registers a callback fired once per reconciliation
// that found at least one mismatch.
func (t *Tracker) SetMismatchHook(hook func(ReconcileResult)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onMismatch = hook
}

// OnTrade applies one trade to the instrument's position. Direction is
// resolved from (side, offset): buy+open grows long, buy+close shrinks
// short, sell+open grows short, sell+close shrinks long.
func (t *Tracker) OnTrade(trade schema.Trade) {
	if trade.Volume <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.positions[trade.Instrument]
	if !ok {
		p = &Position{Instrument: trade.Instrument}
		t.positions[trade.Instrument] = p
	}

	switch {
	case trade.Side == schema.SideBuy && trade.Offset == schema.OffsetOpen:
		p.LongAvgCost = weightedCost(p.LongAvgCost, p.LongQty, trade.Price, trade.Volume)
		p.LongQty += trade.Volume
	case trade.Side == schema.SideBuy && trade.Offset == schema.OffsetClose:
		p.ShortQty = clampSub(p.ShortQty, trade.Volume)
		if p.ShortQty == 0 {
			p.ShortAvgCost = decimal.Zero
		}
	case trade.Side == schema.SideSell && trade.Offset == schema.OffsetOpen:
		p.ShortAvgCost = weightedCost(p.ShortAvgCost, p.ShortQty, trade.Price, trade.Volume)
		p.ShortQty += trade.Volume
	case trade.Side == schema.SideSell && trade.Offset == schema.OffsetClose:
		p.LongQty = clampSub(p.LongQty, trade.Volume)
		if p.LongQty == 0 {
			p.LongAvgCost = decimal.Zero
		}
	}
}

// Get returns a copy of the instrument's position.
func (t *Tracker) Get(instrument string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[instrument]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// NetPositions returns a snapshot of net quantities per instrument.
func (t *Tracker) NetPositions() map[string]int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]int64, len(t.positions))
	for k, p := range t.positions {
		out[k] = p.Net()
	}
	return out
}

// Reconcile compares local net positions with a broker-supplied map
// over the union of instrument keys. The mismatch hook fires exactly
// once when the result does not match.
func (t *Tracker) Reconcile(broker map[string]int64) ReconcileResult {
	t.mu.Lock()
	local := make(map[string]int64, len(t.positions))
	for k, p := range t.positions {
		local[k] = p.Net()
	}
	hook := t.onMismatch
	t.mu.Unlock()

	keys := make(map[string]struct{}, len(local)+len(broker))
	for k := range local {
		keys[k] = struct{}{}
	}
	for k := range broker {
		keys[k] = struct{}{}
	}

	result := ReconcileResult{Timestamp: time.Now(), Matched: true}
	for k := range keys {
		lq, bq := local[k], broker[k]
		if lq != bq {
			result.Matched = false
			result.Mismatches = append(result.Mismatches, Mismatch{
				Instrument: k,
				LocalQty:   lq,
				BrokerQty:  bq,
			})
		}
	}

	if !result.Matched && hook != nil {
		hook(result)
	}
	return result
}

// SyncFromBroker destructively replaces local state with the broker's
// view. This is the single authorized overwrite path outside trade flow,
// used after reconnects or reconciliation failure.
func (t *Tracker) SyncFromBroker(broker map[string]Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make(map[string]*Position, len(broker))
	for k, p := range broker {
		cp := p
		cp.Instrument = k
		t.positions[k] = &cp
	}
}

// Reset clears all positions.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.positions = make(map[string]*Position)
}

// weightedCost recomputes the volume-weighted average cost after adding
// volume at price.
func weightedCost(avg decimal.Decimal, qty int64, price decimal.Decimal, volume int64) decimal.Decimal {
	total := qty + volume
	if total <= 0 {
		return decimal.Zero
	}
	held := avg.Mul(decimal.NewFromInt(qty))
	added := price.Mul(decimal.NewFromInt(volume))
	return held.Add(added).Div(decimal.NewFromInt(total))
}

func clampSub(qty, volume int64) int64 {
	if volume >= qty {
		return 0
	}
	return qty - volume
}
