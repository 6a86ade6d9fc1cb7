package engine

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/celerix-dev/celerix-dca/pkg/schema"
)

// legacyStatusLabels maps display labels used by version 0 exports.
var legacyStatusLabels = map[string]schema.Status{
	"PTP (Promise to Pay)": schema.StatusPTP,
}

const legacyTimeLayout = "2006-01-02 15:04:05"

// Version 0 is the spreadsheet-shaped session export: column names as keys
// and the audit trail stored newest first.
type legacySnapshot struct {
	Cases []legacyCase  `json:"cases"`
	Audit []legacyAudit `json:"audit_logs"`
}

type legacyCase struct {
	ID           string          `json:"Case ID"`
	CustomerName string          `json:"Customer Name"`
	Amount       decimal.Decimal `json:"Amount"`
	Age          int             `json:"Age"`
	AIScore      *int            `json:"AI Score"`
	Agency       string          `json:"Allocated Agency"`
	Status       string          `json:"Status"`
}

type legacyAudit struct {
	Timestamp string `json:"Timestamp"`
	User      string `json:"User"`
	Action    string `json:"Action"`
}

// migrateSnapshot decodes data at whatever version it was written and
// returns it at SnapshotVersion.
func migrateSnapshot(data []byte) (Snapshot, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	switch probe.Version {
	case 0:
		var legacy legacySnapshot
		if err := json.Unmarshal(data, &legacy); err != nil {
			return Snapshot{}, fmt.Errorf("decode v0 snapshot: %w", err)
		}
		return migrateV0(legacy)
	case SnapshotVersion:
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return Snapshot{}, fmt.Errorf("decode v%d snapshot: %w", SnapshotVersion, err)
		}
		return snap, nil
	default:
		return Snapshot{}, fmt.Errorf("unsupported snapshot version %d", probe.Version)
	}
}

func migrateV0(legacy legacySnapshot) (Snapshot, error) {
	snap := Snapshot{
		Version: SnapshotVersion,
		Cases:   make([]schema.Case, 0, len(legacy.Cases)),
		Audit:   make([]schema.AuditLogEntry, 0, len(legacy.Audit)),
	}

	for i, lc := range legacy.Cases {
		id := strings.TrimSpace(lc.ID)
		if id == "" {
			return Snapshot{}, fmt.Errorf("v0 case %d: missing case id", i+1)
		}
		c := defaultRules.Build(schema.Record{
			ID:           id,
			CustomerName: strings.TrimSpace(lc.CustomerName),
			Amount:       lc.Amount,
			Age:          lc.Age,
		})
		// Persisted allocation wins over re-derivation.
		if lc.AIScore != nil {
			c.AIScore = *lc.AIScore
		}
		if agency := schema.Agency(strings.TrimSpace(lc.Agency)); agency != "" {
			c.AllocatedAgency = agency
		}
		status, err := legacyStatus(lc.Status)
		if err != nil {
			return Snapshot{}, fmt.Errorf("v0 case %s: %w", id, err)
		}
		c.Status = status
		snap.Cases = append(snap.Cases, c)
	}

	var last time.Time
	for i := len(legacy.Audit) - 1; i >= 0; i-- {
		la := legacy.Audit[i]
		ts, err := time.ParseInLocation(legacyTimeLayout, strings.TrimSpace(la.Timestamp), time.UTC)
		if err != nil || ts.Before(last) {
			ts = last
		}
		last = ts
		snap.Audit = append(snap.Audit, schema.AuditLogEntry{
			ID:        uuid.NewString(),
			Seq:       uint64(len(snap.Audit) + 1),
			Timestamp: ts,
			User:      la.User,
			Action:    la.Action,
		})
	}
	if len(snap.Audit) > 0 || len(snap.Cases) > 0 {
		snap.Revision = 1
	}
	return snap, nil
}

func legacyStatus(raw string) (schema.Status, error) {
	label := strings.TrimSpace(raw)
	if label == "" {
		return schema.StatusAllocated, nil
	}
	if s, ok := legacyStatusLabels[label]; ok {
		return s, nil
	}
	s := schema.Status(label)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}
