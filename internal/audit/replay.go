package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// timestampKeys are field names excluded from replay comparison. Exact
// names plus the suffix conventions used across event payloads.
var timestampKeys = map[string]struct{}{
	"ts":        {},
	"timestamp": {},
}

var timestampSuffixes = []string{"_ts", "_time", "_at"}

func isTimestampKey(key string) bool {
	if _, ok := timestampKeys[key]; ok {
		return true
	}
	for _, suffix := range timestampSuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// HashMismatch reports one index where original and replay diverge.
// EventType names the original event at that index.
type HashMismatch struct {
	Index        int
	EventType    string
	OriginalHash string
	ReplayHash   string
}

// Report is the outcome of a replay verification. Deterministic holds
// iff lengths match and every index-aligned pair hashes identically
// under the timestamp-insensitive comparison.
type Report struct {
	Deterministic bool
	OriginalLen   int
	ReplayLen     int
	Mismatches    []HashMismatch
}

// Verifier recomputes structural hashes over logged event sequences to
// prove a replayed run reproduced the original business fields.
type Verifier struct{}

// NewVerifier creates a verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify compares an original and a replayed sequence of the same
// logical operation. Mismatched indices are reported explicitly so a
// failing replay is debuggable.
func (v *Verifier) Verify(original, replay []map[string]any) Report {
	report := Report{
		OriginalLen: len(original),
		ReplayLen:   len(replay),
	}

	n := min(len(original), len(replay))
	for i := 0; i < n; i++ {
		oh := CanonicalHash(original[i])
		rh := CanonicalHash(replay[i])
		if oh != rh {
			report.Mismatches = append(report.Mismatches, HashMismatch{
				Index:        i,
				EventType:    FromMap(original[i]).EventType,
				OriginalHash: oh,
				ReplayHash:   rh,
			})
		}
	}

	report.Deterministic = len(original) == len(replay) && len(report.Mismatches) == 0
	return report
}

// CanonicalHash computes a structural SHA-256 over the object with all
// timestamp fields removed. Marshaling sorts map keys, so structurally
// identical payloads hash identically regardless of insertion order.
func CanonicalHash(obj map[string]any) string {
	stripped := stripTimestamps(obj)
	data, err := json.Marshal(stripped)
	if err != nil {
		// map[string]any built from decoded JSON always marshals;
		// a failure here means the caller handed in a non-JSON value.
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func stripTimestamps(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if isTimestampKey(k) {
			continue
		}
		out[k] = stripValue(v)
	}
	return out
}

func stripValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return stripTimestamps(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = stripValue(item)
		}
		return out
	default:
		return v
	}
}
