// Package store provides durable persistence for finalized audit events:
// an append-only primary (postgres), an in-memory implementation for tests,
// and a failover wrapper that journals to local disk when the primary is
// unavailable.
package store

import (
	"context"
	"time"

	"vigil/internal/audit"
	id "vigil/pkg/domain"
)

// SortOrder controls result ordering for searches.
type SortOrder string

const (
	SortNewestFirst SortOrder = "timestamp_desc"
	SortOldestFirst SortOrder = "timestamp_asc"
	SortRiskDesc    SortOrder = "risk_desc"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Query is the forensic search filter set. Zero values mean "no filter".
type Query struct {
	From            time.Time
	To              time.Time
	Types           []audit.EventType
	Severities      []audit.Severity
	SubjectID       id.SubjectID
	ComplianceFlags []audit.ComplianceFlag
	MinRiskScore    float64

	Limit  int
	Offset int
	Sort   SortOrder
}

// Normalize clamps pagination and defaults the sort order.
func (q Query) Normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Sort == "" {
		q.Sort = SortNewestFirst
	}
	return q
}

// Page is one page of search results plus aggregate metadata.
type Page struct {
	Events []audit.Event `json:"events"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// Store is the durable append-only event store. Append refuses duplicate
// event IDs; Get returns sentinel.ErrNotFound (wrapped) for unknown IDs.
// The subject-scoped reads also serve the baseline recomputer, the risk
// calculator, and the threat detector.
type Store interface {
	Append(ctx context.Context, ev audit.Event) error
	Get(ctx context.Context, eventID id.EventID) (audit.Event, error)
	Search(ctx context.Context, q Query) (Page, error)

	ListBySubject(ctx context.Context, subjectID id.SubjectID, since time.Time, limit int) ([]audit.Event, error)
	ActiveSubjects(ctx context.Context, since time.Time) ([]id.SubjectID, error)
}

// matches reports whether the event passes every filter in the query.
// Shared by the memory store and the journal replay path.
func matches(ev audit.Event, q Query) bool {
	if !q.From.IsZero() && ev.Timestamp.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && ev.Timestamp.After(q.To) {
		return false
	}
	if len(q.Types) > 0 && !containsType(q.Types, ev.Type) {
		return false
	}
	if len(q.Severities) > 0 && !containsSeverity(q.Severities, ev.Severity) {
		return false
	}
	if !q.SubjectID.IsNil() && ev.SubjectID != q.SubjectID {
		return false
	}
	if len(q.ComplianceFlags) > 0 && !intersectsFlags(q.ComplianceFlags, ev.ComplianceFlags) {
		return false
	}
	if q.MinRiskScore > 0 && ev.RiskScore() < q.MinRiskScore {
		return false
	}
	return true
}

func containsType(types []audit.EventType, t audit.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsSeverity(severities []audit.Severity, s audit.Severity) bool {
	for _, candidate := range severities {
		if candidate == s {
			return true
		}
	}
	return false
}

func intersectsFlags(want []audit.ComplianceFlag, have []audit.ComplianceFlag) bool {
	for _, w := range want {
		for _, h := range have {
			if w == h {
				return true
			}
		}
	}
	return false
}
