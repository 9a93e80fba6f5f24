package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	dir := t.TempDir()
	w, err := NewWriter(WriterConfig{
		Dir:    dir,
		RunID:  "run-1",
		ExecID: "exec-1",
	})
	require.NoError(t, err)
	return w, dir
}

func TestWriteStampsCorrelationIDs(t *testing.T) {
	w, dir := newTestWriter(t)

	e := NewEvent("order_state", map[string]any{"order_id": "o1"})
	e.RunID = "stale-run"
	e.ExecID = "stale-exec"
	require.NoError(t, w.Write(e))
	require.NoError(t, w.Close())

	objs, err := ReadDir(dir, "audit")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "run-1", objs[0]["run_id"])
	assert.Equal(t, "exec-1", objs[0]["exec_id"])
	assert.Equal(t, "order_state", objs[0]["event_type"])
	assert.Equal(t, "o1", objs[0]["order_id"])
}

func TestWriteRejectsMissingEventTypeBeforeAppending(t *testing.T) {
	w, dir := newTestWriter(t)

	err := w.Write(NewEvent("", nil))
	require.ErrorIs(t, err, ErrMissingEventType)

	e := NewEvent("x", nil)
	e.Ts = 0
	err = w.Write(e)
	require.ErrorIs(t, err, ErrMissingTimestamp)

	require.NoError(t, w.Close())
	segments, err := ListSegments(dir, "audit")
	require.NoError(t, err)
	assert.Empty(t, segments, "no byte may be appended on validation failure")
}

func TestClosedWriterRejectsWrites(t *testing.T) {
	w, _ := newTestWriter(t)
	require.NoError(t, w.Write(NewEvent("a", nil)))
	require.NoError(t, w.Close())

	err := w.Write(NewEvent("b", nil))
	require.ErrorIs(t, err, ErrWriterClosed)
}

func TestSegmentRotationKeepsWriteOrder(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(WriterConfig{
		Dir:             dir,
		RunID:           "run-1",
		SegmentMaxBytes: 128,
	})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, w.Write(NewEvent("seq", map[string]any{"n": i})))
	}
	require.NoError(t, w.Close())

	segments, err := ListSegments(dir, "audit")
	require.NoError(t, err)
	assert.Greater(t, len(segments), 1, "expected rotation")

	objs, err := ReadDir(dir, "audit")
	require.NoError(t, err)
	require.Len(t, objs, 20)
	for i, obj := range objs {
		assert.Equal(t, float64(i), obj["n"], "append order equals write order")
	}
}

func TestPipelinePreservesPublishOrder(t *testing.T) {
	w, dir := newTestWriter(t)
	p := NewPipeline(w, 8)

	err := p.Publish(NewEvent("early", nil))
	require.ErrorIs(t, err, ErrPipelineStopped)

	require.NoError(t, p.Start(context.Background()))
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Publish(NewEvent("seq", map[string]any{"n": i})))
	}
	require.NoError(t, p.Close())

	err = p.Publish(NewEvent("late", nil))
	require.ErrorIs(t, err, ErrPipelineClosed)

	objs, err := ReadDir(dir, "audit")
	require.NoError(t, err)
	require.Len(t, objs, 100)
	for i, obj := range objs {
		require.Equal(t, float64(i), obj["n"])
	}
}

func TestTrackerTaxonomy(t *testing.T) {
	w, dir := newTestWriter(t)
	tracker := NewTracker("run-tracker", w)

	trace := tracker.NextTrace()
	require.NoError(t, tracker.OrderState(trace, "o1", "CREATED", "SUBMITTING", "SUBMIT", 0))
	require.NoError(t, tracker.OrderState(trace, "o1", "SUBMITTING", "PENDING", "ACK", 0))
	require.NoError(t, tracker.GuardianMode("RUNNING", "REDUCE_ONLY", "quote_stale", "restrict_new_orders", nil))
	require.NoError(t, w.Close())

	objs, err := ReadDir(dir, "audit")
	require.NoError(t, err)
	require.Len(t, objs, 3)

	assert.Equal(t, "order", objs[0]["category"])
	assert.Equal(t, objs[0]["trace_id"], objs[1]["trace_id"], "related events share a trace")
	assert.Equal(t, "guardian", objs[2]["category"])
	assert.NotEqual(t, objs[1]["trace_id"], objs[2]["trace_id"])
	assert.Equal(t, "run-1", objs[0]["run_id"], "writer run id wins over the tracker's")
}

func TestTrackerStampsRunID(t *testing.T) {
	var got []Event
	sink := sinkFunc(func(e Event) error {
		got = append(got, e)
		return nil
	})
	tracker := NewTracker("run-mem", sink)

	require.NoError(t, tracker.OrderState(tracker.NextTrace(), "o1", "CREATED", "SUBMITTING", "SUBMIT", 0))
	require.NoError(t, tracker.Reconcile(true, nil))

	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, "run-mem", e.RunID)
	}
}

type sinkFunc func(Event) error

func (f sinkFunc) Write(e Event) error { return f(e) }

func TestEventMarshalEnvelopeWins(t *testing.T) {
	e := NewEvent("t", map[string]any{"event_type": "spoofed", "k": "v"})
	e.RunID = "r"
	data, err := e.MarshalJSON()
	require.NoError(t, err)

	var obj map[string]any
	require.NoError(t, json.Unmarshal(data, &obj))
	assert.Equal(t, "t", obj["event_type"])
	assert.Equal(t, "v", obj["k"])
}

func TestFromMapSplitsEnvelopeFromPayload(t *testing.T) {
	e := FromMap(map[string]any{
		"ts":         1700000000.5,
		"event_type": "order_state",
		"run_id":     "r1",
		"trace_id":   float64(7),
		"category":   "order",
		"order_id":   "o1",
	})

	assert.Equal(t, "order_state", e.EventType)
	assert.Equal(t, "r1", e.RunID)
	assert.Equal(t, uint64(7), e.TraceID)
	assert.Equal(t, "order", e.Category)
	assert.Equal(t, map[string]any{"order_id": "o1"}, e.Fields)
	assert.NoError(t, e.Validate())
}
