package syncstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Snapshot is the set of pushable fields for one entity, keyed by field name.
// Only what the remote side receives belongs here; local bookkeeping columns
// (timestamps, sync status) must stay out so they never force a re-push.
type Snapshot map[string]any

// ComputeHash returns the SHA-256 hex digest of the canonical JSON form of a
// snapshot. Equivalent values hash identically regardless of source
// formatting: strings are trimmed, decimals lose trailing zeros, times are
// rendered in UTC RFC3339. encoding/json already emits map keys sorted.
func ComputeHash(snapshot Snapshot) (string, error) {
	payload, err := json.Marshal(canonicalValue(map[string]any(snapshot)))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalValue(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return strings.TrimSpace(val)
	case *string:
		if val == nil {
			return nil
		}
		return strings.TrimSpace(*val)
	case decimal.Decimal:
		return val.String()
	case *decimal.Decimal:
		if val == nil {
			return nil
		}
		return val.String()
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC().Format(time.RFC3339)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = canonicalValue(item)
		}
		return out
	case Snapshot:
		return canonicalValue(map[string]any(val))
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalValue(item)
		}
		return out
	default:
		return val
	}
}
