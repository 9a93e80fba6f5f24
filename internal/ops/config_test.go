package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradecore/internal/order"
)

func TestLoadDefaults(t *testing.T) {
	loaded, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, loaded.RunID)
	assert.Equal(t, order.ModeTolerant, loaded.OrderMode)
	assert.Equal(t, "data/audit", loaded.Audit.Dir)
	assert.Equal(t, 5*time.Second, loaded.AckTimeout)
	assert.Equal(t, 30*time.Second, loaded.FillTimeout)
	assert.Equal(t, float64(500), loaded.Thresholds.BlockOrdersPerSec)
	assert.Equal(t, 24*time.Hour, loaded.FrequencyRetention)
	assert.Equal(t, "tradecore", loaded.Redis.KeyPrefix)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
run:
  run_id: run-42
  exec_id: exec-7
audit:
  dir: /tmp/audit
  queue_size: 2048
order:
  mode: strict
  ack_timeout_sec: 3
guardian:
  quote_stale_sec: 2
  drift_tolerance: 5
compliance:
  block_orders_per_sec: 800
  cool_down_sec: 30
reconcile:
  interval_sec: 10
redis:
  enabled: true
  addr: localhost:6379
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "run-42", loaded.RunID)
	assert.Equal(t, "run-42", loaded.Audit.RunID)
	assert.Equal(t, "exec-7", loaded.Audit.ExecID)
	assert.Equal(t, "/tmp/audit", loaded.Audit.Dir)
	assert.Equal(t, 2048, loaded.AuditQueueSize)
	assert.Equal(t, order.ModeStrict, loaded.OrderMode)
	assert.Equal(t, 3*time.Second, loaded.AckTimeout)
	assert.Equal(t, 2*time.Second, loaded.QuoteStaleAfter)
	assert.Equal(t, int64(5), loaded.DriftTolerance)
	assert.Equal(t, float64(800), loaded.Thresholds.BlockOrdersPerSec)
	assert.Equal(t, 30*time.Second, loaded.Thresholds.CoolDown)
	assert.Equal(t, 10*time.Second, loaded.ReconcileInterval)
	assert.True(t, loaded.Redis.Enabled)
}

func TestLoadRejectsInvalidMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("order:\n  mode: lenient\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid order mode")
}

func TestLoadRejectsInvertedComplianceBands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "compliance:\n  critical_orders_per_sec: 900\n  block_orders_per_sec: 400\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
