package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"vigil/internal/audit"
	id "vigil/pkg/domain"
	derrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/sentinel"
	txcontext "vigil/pkg/platform/tx"
)

// PostgresStore is the durable append-only event store. Events are written
// once and never updated; the risk score is denormalized into its own
// column so threshold searches do not parse metadata.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const eventColumns = `
	id, event_type, category, severity, timestamp,
	subject_id, subject_role, session_id, ip_address, user_agent,
	geolocation, device_fingerprint, details, compliance_flags,
	encryption_required, retention_seconds, metadata, signature,
	risk_score, version`

// Append inserts the finalized event. A duplicate ID is a conflict, not an
// idempotent no-op: finalized events are signed and must never be replaced.
func (s *PostgresStore) Append(ctx context.Context, ev audit.Event) error {
	rec := ev.Record()

	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("marshal event details: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	var geolocation []byte
	if rec.Geolocation != nil {
		if geolocation, err = json.Marshal(rec.Geolocation); err != nil {
			return fmt.Errorf("marshal event geolocation: %w", err)
		}
	}

	var subjectID, sessionID *uuid.UUID
	if !ev.SubjectID.IsNil() {
		sid := uuid.UUID(ev.SubjectID)
		subjectID = &sid
	}
	if !ev.SessionID.IsNil() {
		sid := uuid.UUID(ev.SessionID)
		sessionID = &sid
	}

	query := `
		INSERT INTO audit_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(ev.ID),
		rec.Type,
		rec.Category,
		rec.Severity,
		ev.Timestamp,
		subjectID,
		rec.SubjectRole,
		sessionID,
		rec.IPAddress,
		rec.UserAgent,
		geolocation,
		rec.DeviceFingerprint,
		details,
		pq.Array(rec.ComplianceFlags),
		rec.EncryptionRequired,
		rec.RetentionSeconds,
		metadata,
		rec.Signature,
		ev.RiskScore(),
		rec.Version,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return derrors.Newf(derrors.CodeConflict, "event %s already recorded", ev.ID)
		}
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, eventID id.EventID) (audit.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_events WHERE id = $1`
	row := s.db.QueryRowContext(ctx, query, uuid.UUID(eventID))
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Event{}, fmt.Errorf("event %s: %w", eventID, sentinel.ErrNotFound)
	}
	if err != nil {
		return audit.Event{}, fmt.Errorf("query audit event: %w", err)
	}
	return ev, nil
}

func (s *PostgresStore) Search(ctx context.Context, q Query) (Page, error) {
	q = q.Normalize()
	where, args := buildWhere(q)

	var total int
	countQuery := `SELECT COUNT(*) FROM audit_events` + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count audit events: %w", err)
	}

	query := `SELECT ` + eventColumns + ` FROM audit_events` + where +
		orderClause(q.Sort) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, q.Limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return Page{}, err
	}
	return Page{Events: events, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID id.SubjectID, since time.Time, limit int) ([]audit.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM audit_events
		WHERE subject_id = $1 AND timestamp >= $2
		ORDER BY timestamp DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(subjectID), since, limit)
	if err != nil {
		return nil, fmt.Errorf("query subject events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) ActiveSubjects(ctx context.Context, since time.Time) ([]id.SubjectID, error) {
	query := `
		SELECT DISTINCT subject_id
		FROM audit_events
		WHERE subject_id IS NOT NULL AND timestamp >= $1
	`
	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query active subjects: %w", err)
	}
	defer rows.Close()

	var subjects []id.SubjectID
	for rows.Next() {
		var u uuid.UUID
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan subject id: %w", err)
		}
		subjects = append(subjects, id.SubjectID(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active subjects: %w", err)
	}
	return subjects, nil
}

func buildWhere(q Query) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if !q.From.IsZero() {
		add("timestamp >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("timestamp <= $%d", q.To)
	}
	if len(q.Types) > 0 {
		types := make([]string, 0, len(q.Types))
		for _, t := range q.Types {
			types = append(types, string(t))
		}
		add("event_type = ANY($%d)", pq.Array(types))
	}
	if len(q.Severities) > 0 {
		severities := make([]string, 0, len(q.Severities))
		for _, sev := range q.Severities {
			severities = append(severities, string(sev))
		}
		add("severity = ANY($%d)", pq.Array(severities))
	}
	if !q.SubjectID.IsNil() {
		add("subject_id = $%d", uuid.UUID(q.SubjectID))
	}
	if len(q.ComplianceFlags) > 0 {
		flags := make([]string, 0, len(q.ComplianceFlags))
		for _, f := range q.ComplianceFlags {
			flags = append(flags, string(f))
		}
		add("compliance_flags && $%d", pq.Array(flags))
	}
	if q.MinRiskScore > 0 {
		add("risk_score >= $%d", q.MinRiskScore)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func orderClause(order SortOrder) string {
	switch order {
	case SortOldestFirst:
		return " ORDER BY timestamp ASC"
	case SortRiskDesc:
		return " ORDER BY risk_score DESC, timestamp DESC"
	default:
		return " ORDER BY timestamp DESC"
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (audit.Event, error) {
	var (
		rec         audit.EventRecord
		eventID     uuid.UUID
		subjectID   *uuid.UUID
		sessionID   *uuid.UUID
		geolocation []byte
		details     []byte
		metadata    []byte
		flags       pq.StringArray
		riskScore   float64
	)

	err := row.Scan(
		&eventID,
		&rec.Type,
		&rec.Category,
		&rec.Severity,
		&rec.Timestamp,
		&subjectID,
		&rec.SubjectRole,
		&sessionID,
		&rec.IPAddress,
		&rec.UserAgent,
		&geolocation,
		&rec.DeviceFingerprint,
		&details,
		&flags,
		&rec.EncryptionRequired,
		&rec.RetentionSeconds,
		&metadata,
		&rec.Signature,
		&riskScore,
		&rec.Version,
	)
	if err != nil {
		return audit.Event{}, err
	}

	rec.ID = eventID.String()
	if subjectID != nil {
		rec.SubjectID = subjectID.String()
	}
	if sessionID != nil {
		rec.SessionID = sessionID.String()
	}
	rec.ComplianceFlags = flags
	if len(geolocation) > 0 {
		rec.Geolocation = &id.Geolocation{}
		if err := json.Unmarshal(geolocation, rec.Geolocation); err != nil {
			return audit.Event{}, fmt.Errorf("unmarshal event geolocation: %w", err)
		}
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &rec.Details); err != nil {
			return audit.Event{}, fmt.Errorf("unmarshal event details: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return audit.Event{}, fmt.Errorf("unmarshal event metadata: %w", err)
		}
	}

	return rec.Event()
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
