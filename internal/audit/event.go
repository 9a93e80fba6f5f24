package audit

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrMissingEventType = errors.New("audit event missing event_type")
	ErrMissingTimestamp = errors.New("audit event missing timestamp")
)

// Event categories used by the tracker taxonomy.
const (
	CategoryOrder      = "order"
	CategoryTrade      = "trade"
	CategoryGuardian   = "guardian"
	CategoryCompliance = "compliance"
	CategorySystem     = "system"
)

// Event is one immutable audit record. On disk it is a single flat
// JSON object per line; payload fields sit next to the envelope keys.
type Event struct {
	Ts        float64
	EventType string
	RunID     string
	ExecID    string
	TraceID   uint64
	Category  string
	Fields    map[string]any
}

// NewEvent creates an event stamped with the current time.
func NewEvent(eventType string, fields map[string]any) Event {
	return Event{
		Ts:        epochSeconds(time.Now()),
		EventType: eventType,
		Fields:    fields,
	}
}

// Validate checks the two mandatory fields.
func (e Event) Validate() error {
	if e.EventType == "" {
		return ErrMissingEventType
	}
	if e.Ts <= 0 {
		return ErrMissingTimestamp
	}
	return nil
}

// MarshalJSON flattens envelope and payload into one object. Envelope
// keys win over payload keys of the same name.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Fields)+6)
	for k, v := range e.Fields {
		obj[k] = v
	}
	obj["ts"] = e.Ts
	obj["event_type"] = e.EventType
	obj["run_id"] = e.RunID
	obj["exec_id"] = e.ExecID
	if e.TraceID != 0 {
		obj["trace_id"] = e.TraceID
	}
	if e.Category != "" {
		obj["category"] = e.Category
	}
	return json.Marshal(obj)
}

// FromMap rebuilds an event from a decoded JSONL object.
func FromMap(obj map[string]any) Event {
	e := Event{Fields: make(map[string]any)}
	for k, v := range obj {
		switch k {
		case "ts":
			if f, ok := v.(float64); ok {
				e.Ts = f
			}
		case "event_type":
			if s, ok := v.(string); ok {
				e.EventType = s
			}
		case "run_id":
			if s, ok := v.(string); ok {
				e.RunID = s
			}
		case "exec_id":
			if s, ok := v.(string); ok {
				e.ExecID = s
			}
		case "trace_id":
			if f, ok := v.(float64); ok {
				e.TraceID = uint64(f)
			}
		case "category":
			if s, ok := v.(string); ok {
				e.Category = s
			}
		default:
			e.Fields[k] = v
		}
	}
	return e
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
