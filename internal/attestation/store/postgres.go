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

	"proveniq-ops/internal/attestation/keys"
	"proveniq-ops/internal/attestation/models"
	id "proveniq-ops/pkg/domain"
	"proveniq-ops/pkg/platform/sentinel"
)

// PostgresStore persists attestations in the ops_attestations table.
// Issued attestations are never updated; only verification bookkeeping
// touches existing rows.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed attestation store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const attestationColumns = `id, asset_id, org_id, attestation_type, attestation_meaning,
	time_window_start, time_window_end, declared_parameters, confidence_score,
	evidence_event_ids, evidence_count, evidence_digest, trust_tier_at_issuance,
	issuer_key_id, issuer_signature, signature_algorithm, issued_at, expires_at, status`

func (s *PostgresStore) Insert(ctx context.Context, attestation *models.Attestation) error {
	params, err := json.Marshal(attestation.DeclaredParameters)
	if err != nil {
		return fmt.Errorf("marshal declared parameters: %w", err)
	}
	evidenceIDs := make([]string, len(attestation.EvidenceEventIDs))
	for i, eventID := range attestation.EvidenceEventIDs {
		evidenceIDs[i] = eventID.String()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ops_attestations (`+attestationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		attestation.AttestationID,
		attestation.AssetID.String(),
		attestation.OrgID.String(),
		string(attestation.Type),
		attestation.Meaning,
		attestation.TimeWindowStart,
		attestation.TimeWindowEnd,
		params,
		attestation.ConfidenceScore,
		pq.Array(evidenceIDs),
		attestation.EvidenceCount,
		attestation.EvidenceDigest,
		attestation.TrustTierAtIssuance,
		attestation.IssuerKeyID,
		attestation.IssuerSignature,
		attestation.SignatureAlgorithm,
		attestation.IssuedAt,
		attestation.ExpiresAt,
		string(attestation.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert attestation: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByID(ctx context.Context, attestationID string) (*models.Attestation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+attestationColumns+` FROM ops_attestations WHERE id = $1`, attestationID)
	return scanAttestation(row)
}

func (s *PostgresStore) FindByScope(ctx context.Context, assetID id.AssetID, attestationType models.Type, windowStart, windowEnd time.Time) (*models.Attestation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+attestationColumns+` FROM ops_attestations
		WHERE asset_id = $1 AND attestation_type = $2
		  AND time_window_start = $3 AND time_window_end = $4
		  AND status = 'valid'
		ORDER BY issued_at DESC
		LIMIT 1`,
		assetID.String(), string(attestationType), windowStart, windowEnd)
	return scanAttestation(row)
}

func (s *PostgresStore) List(ctx context.Context, filter models.ListFilter) ([]*models.Attestation, error) {
	query := `SELECT ` + attestationColumns + ` FROM ops_attestations WHERE 1=1`
	var args []any

	if !filter.AssetID.IsNil() {
		args = append(args, filter.AssetID.String())
		query += ` AND asset_id = $` + strconv.Itoa(len(args))
	}
	if !filter.OrgID.IsNil() {
		args = append(args, filter.OrgID.String())
		query += ` AND org_id = $` + strconv.Itoa(len(args))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		query += ` AND attestation_type = $` + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	args = append(args, filter.Limit)
	query += ` ORDER BY issued_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attestations: %w", err)
	}
	defer rows.Close()

	var out []*models.Attestation
	for rows.Next() {
		attestation, err := scanAttestation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, attestation)
	}
	return out, rows.Err()
}

func (s *PostgresStore) RecordVerification(ctx context.Context, attestationID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE ops_attestations
		SET verification_count = verification_count + 1, last_verified_at = $2
		WHERE id = $1`,
		attestationID, at)
	if err != nil {
		return fmt.Errorf("record verification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record verification: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) LogRequest(ctx context.Context, record *models.RequestRecord) error {
	checks, err := json.Marshal(record.Checks)
	if err != nil {
		return fmt.Errorf("marshal eligibility checks: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO attestation_requests (
			asset_id, org_id, requested_by, attestation_type,
			time_window_start, time_window_end,
			eligibility_status, eligibility_checks, failed_checks,
			status, attestation_id, failure_reason, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.AssetID.String(),
		record.OrgID.String(),
		nullUserID(record.RequestedBy),
		string(record.Type),
		record.TimeWindowStart,
		record.TimeWindowEnd,
		record.EligibilityStatus,
		checks,
		pq.Array(record.FailedChecks),
		record.Status,
		nullString(record.AttestationID),
		nullString(record.FailureReason),
		record.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("log attestation request: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttestation(row rowScanner) (*models.Attestation, error) {
	var (
		attestation models.Attestation
		assetID     string
		orgID       string
		typ         string
		params      []byte
		evidenceIDs pq.StringArray
		status      string
	)
	err := row.Scan(
		&attestation.AttestationID,
		&assetID,
		&orgID,
		&typ,
		&attestation.Meaning,
		&attestation.TimeWindowStart,
		&attestation.TimeWindowEnd,
		&params,
		&attestation.ConfidenceScore,
		&evidenceIDs,
		&attestation.EvidenceCount,
		&attestation.EvidenceDigest,
		&attestation.TrustTierAtIssuance,
		&attestation.IssuerKeyID,
		&attestation.IssuerSignature,
		&attestation.SignatureAlgorithm,
		&attestation.IssuedAt,
		&attestation.ExpiresAt,
		&status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan attestation: %w", err)
	}

	parsedAsset, err := id.ParseAssetID(assetID)
	if err != nil {
		return nil, fmt.Errorf("parse stored asset id: %w", err)
	}
	attestation.AssetID = parsedAsset
	parsedOrg, err := id.ParseOrgID(orgID)
	if err != nil {
		return nil, fmt.Errorf("parse stored org id: %w", err)
	}
	attestation.OrgID = parsedOrg
	attestation.Type = models.Type(typ)
	attestation.Status = models.Status(status)

	if err := json.Unmarshal(params, &attestation.DeclaredParameters); err != nil {
		return nil, fmt.Errorf("unmarshal declared parameters: %w", err)
	}
	for _, raw := range evidenceIDs {
		eventID, err := id.ParseEventID(raw)
		if err != nil {
			return nil, fmt.Errorf("parse stored evidence id: %w", err)
		}
		attestation.EvidenceEventIDs = append(attestation.EvidenceEventIDs, eventID)
	}
	attestation.VerificationURL = "/api/attestations/" + attestation.AttestationID + "/verify"
	return &attestation, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullUserID(userID id.UserID) sql.NullString {
	if userID.IsNil() {
		return sql.NullString{}
	}
	return sql.NullString{String: userID.String(), Valid: true}
}

// PostgresKeyStore persists attestation signing keys.
type PostgresKeyStore struct {
	db *sql.DB
}

// NewPostgresKeyStore constructs a PostgreSQL-backed signing key store.
func NewPostgresKeyStore(db *sql.DB) *PostgresKeyStore {
	return &PostgresKeyStore{db: db}
}

const keyColumns = `key_id, version, public_key_pem, private_key_encrypted,
	algorithm, status, created_at, activated_at`

func (s *PostgresKeyStore) Active(ctx context.Context) (*keys.Key, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+keyColumns+` FROM attestation_keys
		WHERE status = 'active'
		ORDER BY version DESC
		LIMIT 1`)
	return scanKey(row)
}

func (s *PostgresKeyStore) FindByKeyID(ctx context.Context, keyID string) (*keys.Key, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+keyColumns+` FROM attestation_keys WHERE key_id = $1`, keyID)
	return scanKey(row)
}

func (s *PostgresKeyStore) Insert(ctx context.Context, key *keys.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attestation_keys (`+keyColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.KeyID,
		key.Version,
		key.PublicKeyPEM,
		key.PrivateKeyEncrypted,
		key.Algorithm,
		key.Status,
		key.CreatedAt,
		key.ActivatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("insert signing key: %w", err)
	}
	return nil
}

func scanKey(row rowScanner) (*keys.Key, error) {
	var key keys.Key
	err := row.Scan(
		&key.KeyID,
		&key.Version,
		&key.PublicKeyPEM,
		&key.PrivateKeyEncrypted,
		&key.Algorithm,
		&key.Status,
		&key.CreatedAt,
		&key.ActivatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan signing key: %w", err)
	}
	return &key, nil
}
