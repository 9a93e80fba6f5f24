package ops

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"tradecore/internal/audit"
	"tradecore/internal/compliance"
	"tradecore/internal/order"
)

// FileConfig mirrors the YAML config layout. All thresholds are
// operator policy; nothing here is hard-coded inside the components.
type FileConfig struct {
	Run        RunConfig        `mapstructure:"run"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Order      OrderConfig      `mapstructure:"order"`
	Guardian   GuardianConfig   `mapstructure:"guardian"`
	Compliance ComplianceConfig `mapstructure:"compliance"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
}

// RunConfig identifies this trading run.
type RunConfig struct {
	RunID  string `mapstructure:"run_id"`
	ExecID string `mapstructure:"exec_id"`
}

// AuditConfig controls the JSONL audit trail.
type AuditConfig struct {
	Dir             string `mapstructure:"dir"`
	FilePrefix      string `mapstructure:"file_prefix"`
	SegmentMaxBytes int64  `mapstructure:"segment_max_bytes"`
	QueueSize       int    `mapstructure:"queue_size"`
}

// OrderConfig controls the order lifecycle machines.
type OrderConfig struct {
	// Mode is "strict" or "tolerant".
	Mode             string `mapstructure:"mode"`
	AckTimeoutSec    int    `mapstructure:"ack_timeout_sec"`
	FillTimeoutSec   int    `mapstructure:"fill_timeout_sec"`
	CancelTimeoutSec int    `mapstructure:"cancel_timeout_sec"`
}

// GuardianConfig holds anomaly detector thresholds.
type GuardianConfig struct {
	QuoteStaleSec         int   `mapstructure:"quote_stale_sec"`
	OrderStuckSec         int   `mapstructure:"order_stuck_sec"`
	DriftTolerance        int64 `mapstructure:"drift_tolerance"`
	LegImbalanceTolerance int64 `mapstructure:"leg_imbalance_tolerance"`
	ScanIntervalSec       int   `mapstructure:"scan_interval_sec"`
}

// ComplianceConfig holds the regulatory frequency bands.
type ComplianceConfig struct {
	WarningOrders        int     `mapstructure:"warning_orders"`
	WarningWindowSec     int     `mapstructure:"warning_window_sec"`
	SlowOrdersPerSec     float64 `mapstructure:"slow_orders_per_sec"`
	CriticalOrdersPerSec float64 `mapstructure:"critical_orders_per_sec"`
	BlockOrdersPerSec    float64 `mapstructure:"block_orders_per_sec"`
	DayOrderLimit        int64   `mapstructure:"day_order_limit"`
	CoolDownSec          int     `mapstructure:"cool_down_sec"`
	RetentionHours       int     `mapstructure:"retention_hours"`
}

// ReconcileConfig controls the periodic position reconciliation.
type ReconcileConfig struct {
	IntervalSec int `mapstructure:"interval_sec"`
}

// PostgresConfig enables the warm audit store.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RedisConfig enables the supervisory state publisher.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Loaded is the resolved configuration ready for wiring.
type Loaded struct {
	RunID  string
	ExecID string

	Audit          audit.WriterConfig
	AuditQueueSize int

	OrderMode     order.Mode
	AckTimeout    time.Duration
	FillTimeout   time.Duration
	CancelTimeout time.Duration

	QuoteStaleAfter       time.Duration
	OrderStuckAfter       time.Duration
	DriftTolerance        int64
	LegImbalanceTolerance int64
	GuardianScanInterval  time.Duration

	Thresholds         compliance.Thresholds
	FrequencyRetention time.Duration
	ReconcileInterval  time.Duration

	Postgres PostgresConfig
	Redis    RedisConfig
}

// Load reads a YAML config file and resolves it. An empty path yields
// the defaults.
func Load(path string) (Loaded, error) {
	cfg := FileConfig{}
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Loaded{}, fmt.Errorf("read config: %w", err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return Loaded{}, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	return resolve(cfg)
}

func resolve(cfg FileConfig) (Loaded, error) {
	loaded := Loaded{
		RunID:  cfg.Run.RunID,
		ExecID: cfg.Run.ExecID,
	}
	if loaded.RunID == "" {
		loaded.RunID = uuid.NewString()
	}

	loaded.Audit = audit.WriterConfig{
		Dir:             cfg.Audit.Dir,
		FilePrefix:      cfg.Audit.FilePrefix,
		RunID:           loaded.RunID,
		ExecID:          loaded.ExecID,
		SegmentMaxBytes: cfg.Audit.SegmentMaxBytes,
	}
	if loaded.Audit.Dir == "" {
		loaded.Audit.Dir = "data/audit"
	}
	loaded.AuditQueueSize = cfg.Audit.QueueSize

	switch cfg.Order.Mode {
	case "", "tolerant":
		loaded.OrderMode = order.ModeTolerant
	case "strict":
		loaded.OrderMode = order.ModeStrict
	default:
		return Loaded{}, fmt.Errorf("invalid order mode: %q", cfg.Order.Mode)
	}
	loaded.AckTimeout = secondsOr(cfg.Order.AckTimeoutSec, 5*time.Second)
	loaded.FillTimeout = secondsOr(cfg.Order.FillTimeoutSec, 30*time.Second)
	loaded.CancelTimeout = secondsOr(cfg.Order.CancelTimeoutSec, 5*time.Second)

	loaded.QuoteStaleAfter = secondsOr(cfg.Guardian.QuoteStaleSec, 10*time.Second)
	loaded.OrderStuckAfter = secondsOr(cfg.Guardian.OrderStuckSec, 60*time.Second)
	loaded.DriftTolerance = cfg.Guardian.DriftTolerance
	loaded.LegImbalanceTolerance = cfg.Guardian.LegImbalanceTolerance
	loaded.GuardianScanInterval = secondsOr(cfg.Guardian.ScanIntervalSec, 5*time.Second)

	thresholds := compliance.DefaultThresholds()
	if cfg.Compliance.WarningOrders > 0 {
		thresholds.WarningOrders = cfg.Compliance.WarningOrders
	}
	if cfg.Compliance.WarningWindowSec > 0 {
		thresholds.WarningWindow = time.Duration(cfg.Compliance.WarningWindowSec) * time.Second
	}
	if cfg.Compliance.SlowOrdersPerSec > 0 {
		thresholds.SlowOrdersPerSec = cfg.Compliance.SlowOrdersPerSec
	}
	if cfg.Compliance.CriticalOrdersPerSec > 0 {
		thresholds.CriticalOrdersPerSec = cfg.Compliance.CriticalOrdersPerSec
	}
	if cfg.Compliance.BlockOrdersPerSec > 0 {
		thresholds.BlockOrdersPerSec = cfg.Compliance.BlockOrdersPerSec
	}
	if cfg.Compliance.DayOrderLimit > 0 {
		thresholds.DayOrderLimit = cfg.Compliance.DayOrderLimit
	}
	if cfg.Compliance.CoolDownSec > 0 {
		thresholds.CoolDown = time.Duration(cfg.Compliance.CoolDownSec) * time.Second
	}
	loaded.Thresholds = thresholds
	loaded.FrequencyRetention = 24 * time.Hour
	if cfg.Compliance.RetentionHours > 0 {
		loaded.FrequencyRetention = time.Duration(cfg.Compliance.RetentionHours) * time.Hour
	}

	loaded.ReconcileInterval = secondsOr(cfg.Reconcile.IntervalSec, 30*time.Second)

	loaded.Postgres = cfg.Postgres
	loaded.Redis = cfg.Redis
	if loaded.Redis.KeyPrefix == "" {
		loaded.Redis.KeyPrefix = "tradecore"
	}

	if err := loaded.validate(); err != nil {
		return Loaded{}, err
	}
	return loaded, nil
}

func (l Loaded) validate() error {
	if l.Audit.SegmentMaxBytes < 0 {
		return fmt.Errorf("invalid config: audit.segment_max_bytes must be >= 0")
	}
	if l.AuditQueueSize < 0 {
		return fmt.Errorf("invalid config: audit.queue_size must be >= 0")
	}
	if l.DriftTolerance < 0 {
		return fmt.Errorf("invalid config: guardian.drift_tolerance must be >= 0")
	}
	if l.LegImbalanceTolerance < 0 {
		return fmt.Errorf("invalid config: guardian.leg_imbalance_tolerance must be >= 0")
	}
	if l.Thresholds.BlockOrdersPerSec < l.Thresholds.CriticalOrdersPerSec {
		return fmt.Errorf("invalid config: compliance block threshold below critical threshold")
	}
	return nil
}

func secondsOr(sec int, fallback time.Duration) time.Duration {
	if sec <= 0 {
		return fallback
	}
	return time.Duration(sec) * time.Second
}
