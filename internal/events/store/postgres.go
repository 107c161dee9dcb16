package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"proveniq-ops/internal/events/models"
	id "proveniq-ops/pkg/domain"
	"proveniq-ops/pkg/platform/sentinel"
)

// PostgresStore persists events in the ops_events table. All writes are
// inserts; the only update allowed is ledger sync bookkeeping.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed event store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const eventColumns = `id, event_type, timestamp, asset_id, correlation_id, idempotency_key,
	payload, payload_hash, prev_event_hash, event_hash, signature, aggregate_version,
	source_app, version, synced_to_ledger, ledger_event_id, synced_at, created_at`

func (s *PostgresStore) Insert(ctx context.Context, event *models.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ops_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		event.EventID.String(),
		event.EventType,
		event.Timestamp,
		nullUUID(event.AssetID),
		event.CorrelationID,
		event.IdempotencyKey,
		payload,
		event.PayloadHash,
		event.PrevEventHash,
		event.EventHash,
		nullString(event.Signature),
		event.AggregateVersion,
		event.SourceApp,
		event.Version,
		event.SyncedToLedger,
		nullString(event.LedgerEventID),
		nullTime(event.SyncedAt),
		event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM ops_events WHERE id = $1`, eventID.String())
	return scanEvent(row)
}

func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, key string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM ops_events WHERE idempotency_key = $1`, key)
	return scanEvent(row)
}

func (s *PostgresStore) FindByCorrelation(ctx context.Context, correlationID string) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM ops_events WHERE correlation_id = $1 ORDER BY timestamp ASC`,
		correlationID)
	if err != nil {
		return nil, fmt.Errorf("query by correlation: %w", err)
	}
	return scanEvents(rows)
}

func (s *PostgresStore) FindByType(ctx context.Context, eventType string, since, until *time.Time, limit int) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM ops_events WHERE event_type = $1`
	args := []any{eventType}

	if since != nil {
		args = append(args, *since)
		query += ` AND timestamp >= $` + strconv.Itoa(len(args))
	}
	if until != nil {
		args = append(args, *until)
		query += ` AND timestamp <= $` + strconv.Itoa(len(args))
	}
	args = append(args, limit)
	query += ` ORDER BY timestamp DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query by type: %w", err)
	}
	return scanEvents(rows)
}

func (s *PostgresStore) Tail(ctx context.Context, assetID id.AssetID) (int64, string, error) {
	var version int64
	var hash string
	err := s.db.QueryRowContext(ctx, `
		SELECT aggregate_version, event_hash FROM ops_events
		WHERE asset_id = $1
		ORDER BY aggregate_version DESC
		LIMIT 1`, assetID.String()).Scan(&version, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", sentinel.ErrNotFound
	}
	if err != nil {
		return 0, "", fmt.Errorf("query asset tail: %w", err)
	}
	return version, hash, nil
}

func (s *PostgresStore) Chain(ctx context.Context, assetID id.AssetID) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM ops_events WHERE asset_id = $1 ORDER BY aggregate_version ASC`,
		assetID.String())
	if err != nil {
		return nil, fmt.Errorf("query asset chain: %w", err)
	}
	return scanEvents(rows)
}

func (s *PostgresStore) Search(ctx context.Context, filter models.SearchFilter) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM ops_events WHERE payload::text ILIKE $1`
	args := []any{"%" + filter.Query + "%"}

	if len(filter.EventTypes) > 0 {
		args = append(args, pq.Array(filter.EventTypes))
		query += ` AND event_type = ANY($` + strconv.Itoa(len(args)) + `)`
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += ` AND timestamp >= $` + strconv.Itoa(len(args))
	}
	args = append(args, filter.Limit)
	query += ` ORDER BY timestamp DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	return scanEvents(rows)
}

func (s *PostgresStore) Timeline(ctx context.Context, filter models.TimelineFilter) ([]*models.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM ops_events WHERE 1=1`
	var args []any

	if !filter.AssetID.IsNil() {
		args = append(args, filter.AssetID.String())
		query += ` AND asset_id = $` + strconv.Itoa(len(args))
	}
	if filter.LocationID != "" {
		args = append(args, filter.LocationID)
		query += ` AND payload->>'location_id' = $` + strconv.Itoa(len(args))
	}
	if filter.Since != nil {
		args = append(args, *filter.Since)
		query += ` AND timestamp >= $` + strconv.Itoa(len(args))
	}
	if filter.Until != nil {
		args = append(args, *filter.Until)
		query += ` AND timestamp <= $` + strconv.Itoa(len(args))
	}
	args = append(args, filter.Limit)
	query += ` ORDER BY timestamp ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query forensic timeline: %w", err)
	}
	return scanEvents(rows)
}

func (s *PostgresStore) CountByType(ctx context.Context, since *time.Time) (map[string]int64, error) {
	query := `SELECT event_type, COUNT(*) FROM ops_events`
	var args []any
	if since != nil {
		args = append(args, *since)
		query += ` WHERE timestamp >= $1`
	}
	query += ` GROUP BY event_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count events by type: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[eventType] = count
	}
	return counts, rows.Err()
}

func (s *PostgresStore) FindUnsynced(ctx context.Context, limit int) ([]*models.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM ops_events
		WHERE synced_to_ledger = false
		ORDER BY timestamp ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unsynced events: %w", err)
	}
	return scanEvents(rows)
}

func (s *PostgresStore) MarkSynced(ctx context.Context, eventID id.EventID, ledgerEventID string, syncedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ops_events
		SET synced_to_ledger = true, ledger_event_id = $2, synced_at = $3
		WHERE id = $1`,
		eventID.String(), ledgerEventID, syncedAt)
	if err != nil {
		return fmt.Errorf("mark event synced: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark event synced: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var (
		event         models.Event
		eventID       string
		assetID       sql.NullString
		payload       []byte
		signature     sql.NullString
		ledgerEventID sql.NullString
		syncedAt      sql.NullTime
	)
	err := row.Scan(
		&eventID,
		&event.EventType,
		&event.Timestamp,
		&assetID,
		&event.CorrelationID,
		&event.IdempotencyKey,
		&payload,
		&event.PayloadHash,
		&event.PrevEventHash,
		&event.EventHash,
		&signature,
		&event.AggregateVersion,
		&event.SourceApp,
		&event.Version,
		&event.SyncedToLedger,
		&ledgerEventID,
		&syncedAt,
		&event.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	parsed, err := id.ParseEventID(eventID)
	if err != nil {
		return nil, fmt.Errorf("parse stored event id: %w", err)
	}
	event.EventID = parsed

	if assetID.Valid {
		parsedAsset, err := id.ParseAssetID(assetID.String)
		if err != nil {
			return nil, fmt.Errorf("parse stored asset id: %w", err)
		}
		event.AssetID = parsedAsset
	}
	if err := json.Unmarshal(payload, &event.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	event.Signature = signature.String
	event.LedgerEventID = ledgerEventID.String
	if syncedAt.Valid {
		at := syncedAt.Time
		event.SyncedAt = &at
	}
	return &event, nil
}

func scanEvents(rows *sql.Rows) ([]*models.Event, error) {
	defer rows.Close()

	var out []*models.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullUUID(assetID id.AssetID) sql.NullString {
	if assetID.IsNil() {
		return sql.NullString{}
	}
	return sql.NullString{String: assetID.String(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
