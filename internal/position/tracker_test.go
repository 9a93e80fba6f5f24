package position

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/schema"
)

func trade(instrument string, side schema.Side, offset schema.Offset, volume int64, price string) schema.Trade {
	return schema.Trade{
		TradeID:    "t",
		OrderID:    "o",
		Instrument: instrument,
		Side:       side,
		Offset:     offset,
		Volume:     volume,
		Price:      decimal.RequireFromString(price),
		Timestamp:  time.Now(),
	}
}

func TestBuyOpenWeightedAverageCost(t *testing.T) {
	tr := NewTracker()
	tr.OnTrade(trade("rb2501", schema.SideBuy, schema.OffsetOpen, 10, "100"))
	tr.OnTrade(trade("rb2501", schema.SideBuy, schema.OffsetOpen, 10, "110"))

	p, ok := tr.Get("rb2501")
	require.True(t, ok)
	assert.Equal(t, int64(20), p.LongQty)
	assert.True(t, p.LongAvgCost.Equal(decimal.RequireFromString("105")), "avg cost %s", p.LongAvgCost)
	assert.Equal(t, int64(20), p.Net())
}

func TestCloseClampsAtZero(t *testing.T) {
	tr := NewTracker()
	tr.OnTrade(trade("rb2501", schema.SideBuy, schema.OffsetOpen, 5, "100"))
	tr.OnTrade(trade("rb2501", schema.SideSell, schema.OffsetClose, 8, "101"))

	p, ok := tr.Get("rb2501")
	require.True(t, ok)
	assert.Equal(t, int64(0), p.LongQty)
	assert.True(t, p.LongAvgCost.IsZero())
}

func TestShortSideFlow(t *testing.T) {
	tr := NewTracker()
	tr.OnTrade(trade("ag2506", schema.SideSell, schema.OffsetOpen, 4, "5000"))
	tr.OnTrade(trade("ag2506", schema.SideSell, schema.OffsetOpen, 4, "5100"))
	tr.OnTrade(trade("ag2506", schema.SideBuy, schema.OffsetClose, 3, "5050"))

	p, ok := tr.Get("ag2506")
	require.True(t, ok)
	assert.Equal(t, int64(5), p.ShortQty)
	assert.True(t, p.ShortAvgCost.Equal(decimal.RequireFromString("5050")))
	assert.Equal(t, int64(-5), p.Net())
}

func TestNetEqualsSignedTradeSumRegardlessOfBatching(t *testing.T) {
	trades := make([]schema.Trade, 0, 200)
	var wantNet int64
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		vol := rng.Int63n(9) + 1
		if rng.Intn(2) == 0 {
			trades = append(trades, trade("rb2501", schema.SideBuy, schema.OffsetOpen, vol, "100"))
			wantNet += vol
		} else {
			// sell+open grows short, always legal regardless of order
			trades = append(trades, trade("rb2501", schema.SideSell, schema.OffsetOpen, vol, "100"))
			wantNet -= vol
		}
	}

	// apply in two different batch splits
	for _, split := range []int{1, 57} {
		tr := NewTracker()
		for i := 0; i < len(trades); i += split {
			end := min(i+split, len(trades))
			for _, td := range trades[i:end] {
				tr.OnTrade(td)
			}
		}
		p, _ := tr.Get("rb2501")
		assert.Equal(t, wantNet, p.Net(), "split %d", split)
	}
}

func TestReconcileMismatch(t *testing.T) {
	tr := NewTracker()
	tr.OnTrade(trade("rb2501", schema.SideBuy, schema.OffsetOpen, 10, "100"))

	var fired int
	tr.SetMismatchHook(func(r ReconcileResult) { fired++ })

	res := tr.Reconcile(map[string]int64{"rb2501": 8})
	require.False(t, res.Matched)
	require.Len(t, res.Mismatches, 1)
	assert.Equal(t, Mismatch{Instrument: "rb2501", LocalQty: 10, BrokerQty: 8}, res.Mismatches[0])
	assert.Equal(t, 1, fired)
}

func TestReconcileMatchedOverKeyUnion(t *testing.T) {
	tr := NewTracker()
	tr.OnTrade(trade("rb2501", schema.SideBuy, schema.OffsetOpen, 10, "100"))
	tr.OnTrade(trade("rb2501", schema.SideSell, schema.OffsetClose, 10, "101"))

	var fired int
	tr.SetMismatchHook(func(r ReconcileResult) { fired++ })

	// local holds rb2501 at net 0; broker omits it entirely. Zero on
	// both sides of the union is a match.
	res := tr.Reconcile(map[string]int64{})
	assert.True(t, res.Matched)
	assert.Empty(t, res.Mismatches)
	assert.Equal(t, 0, fired)

	// broker reports an instrument the tracker never saw
	res = tr.Reconcile(map[string]int64{"cu2503": 2})
	require.False(t, res.Matched)
	assert.Equal(t, Mismatch{Instrument: "cu2503", LocalQty: 0, BrokerQty: 2}, res.Mismatches[0])
}

func TestSyncFromBrokerOverwrites(t *testing.T) {
	tr := NewTracker()
	tr.OnTrade(trade("rb2501", schema.SideBuy, schema.OffsetOpen, 10, "100"))

	tr.SyncFromBroker(map[string]Position{
		"cu2503": {LongQty: 3, LongAvgCost: decimal.RequireFromString("70000")},
	})

	_, ok := tr.Get("rb2501")
	assert.False(t, ok)
	p, ok := tr.Get("cu2503")
	require.True(t, ok)
	assert.Equal(t, int64(3), p.LongQty)
	assert.Equal(t, "cu2503", p.Instrument)
}

func TestSnapshotRoundTrip(t *testing.T) {
	tr := NewTracker()
	tr.OnTrade(trade("rb2501", schema.SideBuy, schema.OffsetOpen, 10, "100"))
	tr.OnTrade(trade("ag2506", schema.SideSell, schema.OffsetOpen, 4, "5000"))

	path := filepath.Join(t.TempDir(), "positions.json")
	snap := tr.Snapshot()
	require.NoError(t, WriteSnapshot(path, snap))

	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.NoError(t, CompareSnapshots(snap, loaded))

	restored := NewTracker()
	restored.ApplySnapshot(loaded)
	require.NoError(t, CompareSnapshots(snap, restored.Snapshot()))
}
