package fiscal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// LegacyEmission is a pre-migration emission record. It was scoped to a
// single business document and carries no global uniqueness on the
// access key. The pipeline only reads it: the one-time canonicalization
// write goes to the canonical store.
type LegacyEmission struct {
	ID              uuid.UUID
	OrderID         uuid.UUID
	CompanyID       uuid.UUID
	AccessKey       string
	Status          string
	ResponseMessage string
	// Detail is a free-form JSON blob written by the old code path.
	// Field names drifted across its lifetime.
	Detail    json.RawMessage
	CreatedAt time.Time
}

// legacyProtocolFields lists the detail-blob keys the old code path used
// for the protocol number, in the order they were introduced
var legacyProtocolFields = []string{"nProt", "protocolo", "numeroProtocolo", "protocol_number"}

// ProtocolFromDetail probes the detail blob for the best-available
// protocol number, trying the known field names in order. It returns
// an empty string when nothing usable is found.
func (l *LegacyEmission) ProtocolFromDetail() string {
	if len(l.Detail) == 0 {
		return ""
	}
	var detail map[string]any
	if err := json.Unmarshal(l.Detail, &detail); err != nil {
		return ""
	}
	for _, field := range legacyProtocolFields {
		switch v := detail[field].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			if v > 0 {
				return json.Number(jsonNumberString(v)).String()
			}
		}
	}
	return ""
}

func jsonNumberString(v float64) string {
	b, _ := json.Marshal(int64(v))
	return string(b)
}
