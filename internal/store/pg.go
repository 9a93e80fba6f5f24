package store

import (
	"time"

	"gorm.io/gorm"

	"tradecore/internal/audit"
	"tradecore/internal/execution"
	"tradecore/pkg/conn"
)

// AuditRecord is the warm-store row for one audit event. The JSONL
// segments on disk remain the source of truth; this table exists for
// ad-hoc querying.
type AuditRecord struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Ts        float64
	EventType string `gorm:"index"`
	Category  string `gorm:"index"`
	RunID     string `gorm:"index"`
	ExecID    string
	TraceID   uint64
	Payload   string `gorm:"type:jsonb"`
	CreatedAt time.Time
}

// ExecutionRecord is the warm-store row for one archived execution.
type ExecutionRecord struct {
	ID         string `gorm:"primaryKey"`
	Status     string
	FillRate   float64
	Orders     int
	DurationMS int64
	StartedAt  time.Time
	FinishedAt time.Time
	CreatedAt  time.Time
}

// PG persists audit events and execution summaries to PostgreSQL.
type PG struct {
	db *gorm.DB
}

// NewPG migrates the schema and returns a warm store.
func NewPG(client *conn.Client) (*PG, error) {
	db := client.DB()
	if err := db.AutoMigrate(&AuditRecord{}, &ExecutionRecord{}); err != nil {
		return nil, err
	}
	return &PG{db: db}, nil
}

// SaveEvent inserts one audit event.
func (p *PG) SaveEvent(e audit.Event) error {
	payload, err := e.MarshalJSON()
	if err != nil {
		return err
	}
	record := AuditRecord{
		Ts:        e.Ts,
		EventType: e.EventType,
		Category:  e.Category,
		RunID:     e.RunID,
		ExecID:    e.ExecID,
		TraceID:   e.TraceID,
		Payload:   string(payload),
	}
	return p.db.Create(&record).Error
}

// SaveExecution upserts one execution summary.
func (p *PG) SaveExecution(s execution.Summary) error {
	var durationMS int64
	if !s.CompletedAt.IsZero() && !s.StartedAt.IsZero() {
		durationMS = s.CompletedAt.Sub(s.StartedAt).Milliseconds()
	}
	record := ExecutionRecord{
		ID:         s.ID,
		Status:     s.Status.String(),
		FillRate:   s.FillRate,
		Orders:     s.Orders,
		DurationMS: durationMS,
		StartedAt:  s.StartedAt,
		FinishedAt: s.CompletedAt,
	}
	return p.db.Save(&record).Error
}

// RecentEvents returns the newest events of a given type.
func (p *PG) RecentEvents(eventType string, limit int) ([]AuditRecord, error) {
	var records []AuditRecord
	q := p.db.Order("ts desc").Limit(limit)
	if eventType != "" {
		q = q.Where("event_type = ?", eventType)
	}
	err := q.Find(&records).Error
	return records, err
}

// ExecutionsSince returns executions finished at or after the cutoff.
func (p *PG) ExecutionsSince(cutoff time.Time) ([]ExecutionRecord, error) {
	var records []ExecutionRecord
	err := p.db.Where("finished_at >= ?", cutoff).Order("finished_at desc").Find(&records).Error
	return records, err
}
