package guardian

import (
	"time"
)

// Trigger event names shared with the mode policy.
const (
	EventQuoteStale    = "quote_stale"
	EventOrderStuck    = "order_stuck"
	EventPositionDrift = "position_drift"
	EventLegImbalance  = "leg_imbalance"
	EventHFTEscalation = "hft_escalation"
)

// OrderView is the detector-facing view of one active order.
type OrderView struct {
	OrderID   string
	UpdatedAt time.Time
}

// LegPair describes a paired/arbitrage position whose legs must stay
// balanced.
type LegPair struct {
	Name    string
	NearQty int64
	FarQty  int64
}

// Snapshot is the live state one detector pass evaluates. Built by the
// caller; detectors never reach into other components.
type Snapshot struct {
	Now       time.Time
	Quotes    map[string]time.Time
	Orders    []OrderView
	LocalNet  map[string]int64
	BrokerNet map[string]int64
	Legs      []LegPair
}

// TriggerResult is detector output. Trigger results are data; policy
// turns them into mode transitions.
type TriggerResult struct {
	Triggered bool
	Name      string
	EventName string
	Details   map[string]any
}

// Detector checks one anomaly class against a snapshot. Detectors are
// independent; none may depend on another's output.
type Detector interface {
	Name() string
	Check(Snapshot) TriggerResult
}

// QuoteStaleDetector flags instruments whose last quote age exceeds a
// hard threshold.
type QuoteStaleDetector struct {
	StaleAfter time.Duration
}

func (d QuoteStaleDetector) Name() string { return "quote_stale" }

func (d QuoteStaleDetector) Check(s Snapshot) TriggerResult {
	stale := make(map[string]any)
	for instrument, last := range s.Quotes {
		if age := s.Now.Sub(last); age > d.StaleAfter {
			stale[instrument] = age.Seconds()
		}
	}
	if len(stale) == 0 {
		return TriggerResult{Name: d.Name()}
	}
	return TriggerResult{
		Triggered: true,
		Name:      d.Name(),
		EventName: EventQuoteStale,
		Details:   map[string]any{"stale_instruments": stale},
	}
}

// OrderStuckDetector flags active orders whose last state update age
// exceeds a timeout.
type OrderStuckDetector struct {
	StuckAfter time.Duration
}

func (d OrderStuckDetector) Name() string { return "order_stuck" }

func (d OrderStuckDetector) Check(s Snapshot) TriggerResult {
	stuck := make(map[string]any)
	for _, o := range s.Orders {
		if age := s.Now.Sub(o.UpdatedAt); age > d.StuckAfter {
			stuck[o.OrderID] = age.Seconds()
		}
	}
	if len(stuck) == 0 {
		return TriggerResult{Name: d.Name()}
	}
	return TriggerResult{
		Triggered: true,
		Name:      d.Name(),
		EventName: EventOrderStuck,
		Details:   map[string]any{"stuck_orders": stuck},
	}
}

// PositionDriftDetector flags instruments where local and broker net
// quantities diverge beyond tolerance.
type PositionDriftDetector struct {
	Tolerance int64
}

func (d PositionDriftDetector) Name() string { return "position_drift" }

func (d PositionDriftDetector) Check(s Snapshot) TriggerResult {
	keys := make(map[string]struct{}, len(s.LocalNet)+len(s.BrokerNet))
	for k := range s.LocalNet {
		keys[k] = struct{}{}
	}
	for k := range s.BrokerNet {
		keys[k] = struct{}{}
	}

	drift := make(map[string]any)
	for k := range keys {
		if diff := absInt64(s.LocalNet[k] - s.BrokerNet[k]); diff > d.Tolerance {
			drift[k] = diff
		}
	}
	if len(drift) == 0 {
		return TriggerResult{Name: d.Name()}
	}
	return TriggerResult{
		Triggered: true,
		Name:      d.Name(),
		EventName: EventPositionDrift,
		Details:   map[string]any{"drift": drift},
	}
}

// LegImbalanceDetector flags paired positions whose absolute leg sizes
// diverge beyond a threshold.
type LegImbalanceDetector struct {
	Tolerance int64
}

func (d LegImbalanceDetector) Name() string { return "leg_imbalance" }

func (d LegImbalanceDetector) Check(s Snapshot) TriggerResult {
	imbalance := make(map[string]any)
	for _, leg := range s.Legs {
		if diff := absInt64(absInt64(leg.NearQty) - absInt64(leg.FarQty)); diff > d.Tolerance {
			imbalance[leg.Name] = diff
		}
	}
	if len(imbalance) == 0 {
		return TriggerResult{Name: d.Name()}
	}
	return TriggerResult{
		Triggered: true,
		Name:      d.Name(),
		EventName: EventLegImbalance,
		Details:   map[string]any{"imbalance": imbalance},
	}
}

// TriggerManager runs all detectors against one snapshot and returns
// only the triggered subset.
type TriggerManager struct {
	detectors []Detector
}

// NewTriggerManager creates a manager over the given detectors.
func NewTriggerManager(detectors ...Detector) *TriggerManager {
	return &TriggerManager{detectors: detectors}
}

// Register appends another detector.
func (m *TriggerManager) Register(d Detector) {
	m.detectors = append(m.detectors, d)
}

// RunAll evaluates every detector, never failing the scan loop.
func (m *TriggerManager) RunAll(s Snapshot) []TriggerResult {
	var triggered []TriggerResult
	for _, d := range m.detectors {
		if result := d.Check(s); result.Triggered {
			triggered = append(triggered, result)
		}
	}
	return triggered
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
