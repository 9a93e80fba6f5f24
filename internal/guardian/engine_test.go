package guardian

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAuditor struct {
	entries []string
}

func (r *recordingAuditor) GuardianMode(from, to, trigger, action string, details map[string]any) error {
	r.entries = append(r.entries, from+"->"+to+":"+trigger)
	return nil
}

func TestQuoteStaleDetector(t *testing.T) {
	now := time.Now()
	d := QuoteStaleDetector{StaleAfter: 5 * time.Second}

	res := d.Check(Snapshot{
		Now: now,
		Quotes: map[string]time.Time{
			"rb2501": now.Add(-2 * time.Second),
			"cu2503": now.Add(-9 * time.Second),
		},
	})
	require.True(t, res.Triggered)
	assert.Equal(t, EventQuoteStale, res.EventName)
	stale := res.Details["stale_instruments"].(map[string]any)
	assert.Contains(t, stale, "cu2503")
	assert.NotContains(t, stale, "rb2501")
}

func TestOrderStuckDetector(t *testing.T) {
	now := time.Now()
	d := OrderStuckDetector{StuckAfter: 30 * time.Second}

	res := d.Check(Snapshot{
		Now: now,
		Orders: []OrderView{
			{OrderID: "o1", UpdatedAt: now.Add(-10 * time.Second)},
			{OrderID: "o2", UpdatedAt: now.Add(-60 * time.Second)},
		},
	})
	require.True(t, res.Triggered)
	stuck := res.Details["stuck_orders"].(map[string]any)
	assert.Contains(t, stuck, "o2")
	assert.NotContains(t, stuck, "o1")
}

func TestPositionDriftDetectorUsesKeyUnion(t *testing.T) {
	d := PositionDriftDetector{Tolerance: 1}

	res := d.Check(Snapshot{
		LocalNet:  map[string]int64{"rb2501": 10},
		BrokerNet: map[string]int64{"rb2501": 10, "cu2503": 5},
	})
	require.True(t, res.Triggered)
	drift := res.Details["drift"].(map[string]any)
	assert.Contains(t, drift, "cu2503")

	res = d.Check(Snapshot{
		LocalNet:  map[string]int64{"rb2501": 10},
		BrokerNet: map[string]int64{"rb2501": 9},
	})
	assert.False(t, res.Triggered, "within tolerance")
}

func TestLegImbalanceDetector(t *testing.T) {
	d := LegImbalanceDetector{Tolerance: 2}

	res := d.Check(Snapshot{
		Legs: []LegPair{
			{Name: "rb-arb", NearQty: 10, FarQty: -10},
			{Name: "cu-arb", NearQty: 10, FarQty: -4},
		},
	})
	require.True(t, res.Triggered)
	imbalance := res.Details["imbalance"].(map[string]any)
	assert.Contains(t, imbalance, "cu-arb")
	assert.NotContains(t, imbalance, "rb-arb")
}

func TestTriggerManagerReturnsTriggeredSubset(t *testing.T) {
	now := time.Now()
	m := NewTriggerManager(
		QuoteStaleDetector{StaleAfter: 5 * time.Second},
		OrderStuckDetector{StuckAfter: 30 * time.Second},
		PositionDriftDetector{Tolerance: 0},
	)

	results := m.RunAll(Snapshot{
		Now:       now,
		Quotes:    map[string]time.Time{"rb2501": now.Add(-10 * time.Second)},
		LocalNet:  map[string]int64{"rb2501": 1},
		BrokerNet: map[string]int64{"rb2501": 1},
	})
	require.Len(t, results, 1)
	assert.Equal(t, EventQuoteStale, results[0].EventName)
}

func TestModeEscalationIsOneWay(t *testing.T) {
	auditor := &recordingAuditor{}
	e := NewEngine(nil, auditor)
	e.Start()
	require.Equal(t, ModeRunning, e.Mode())

	changed := e.Apply(TriggerResult{Triggered: true, EventName: EventQuoteStale})
	require.True(t, changed)
	require.Equal(t, ModeReduceOnly, e.Mode())

	// same-level trigger does not re-fire a transition
	changed = e.Apply(TriggerResult{Triggered: true, EventName: EventOrderStuck})
	assert.False(t, changed)
	require.Equal(t, ModeReduceOnly, e.Mode())

	changed = e.Apply(TriggerResult{Triggered: true, EventName: EventPositionDrift})
	require.True(t, changed)
	require.Equal(t, ModeHalted, e.Mode())

	// lower-target trigger cannot de-escalate
	changed = e.Apply(TriggerResult{Triggered: true, EventName: EventQuoteStale})
	assert.False(t, changed)
	require.Equal(t, ModeHalted, e.Mode())

	events := e.Events()
	require.Len(t, events, 3)
	assert.Equal(t, ModeRunning, events[1].ModeFrom)
	assert.Equal(t, ModeReduceOnly, events[1].ModeTo)
	assert.Equal(t, EventQuoteStale, events[1].Trigger)
}

func TestRecoveryPath(t *testing.T) {
	e := NewEngine(nil, nil)
	e.Start()

	require.ErrorIs(t, e.StartRecovery("manual"), ErrNotRecoverable)
	require.ErrorIs(t, e.CompleteRecovery(), ErrNotRecovering)

	e.Apply(TriggerResult{Triggered: true, EventName: EventQuoteStale})
	require.NoError(t, e.StartRecovery("quotes_resumed"))
	require.NoError(t, e.CompleteRecovery())
	assert.Equal(t, ModeRunning, e.Mode())
}

func TestModeHookFires(t *testing.T) {
	e := NewEngine(nil, nil)
	var seen []Mode
	e.SetModeHook(func(m Mode) { seen = append(seen, m) })

	e.Start()
	e.Apply(TriggerResult{Triggered: true, EventName: EventHFTEscalation})
	assert.Equal(t, []Mode{ModeRunning, ModeReduceOnly}, seen)
}
