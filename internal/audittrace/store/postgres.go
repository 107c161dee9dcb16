package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"proveniq-ops/internal/audittrace/models"
	id "proveniq-ops/pkg/domain"
	"proveniq-ops/pkg/platform/sentinel"
)

// PostgresStore persists audit records across four append-only tables. The
// only updates allowed are the sanctioned override-outcome and
// block-resolution fields, each guarded so they apply at most once.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const proposalColumns = `log_id, event_type, trace_id, parent_trace_id, proposal_id, proposal_type,
	dag_node_id, recommendation, confidence, reason_codes,
	human_decision, human_user_id, human_reason_codes, human_notes, final_action, logged_at`

func (s *PostgresStore) InsertProposal(ctx context.Context, record *models.ProposalRecord) error {
	recommendation, err := json.Marshal(record.Recommendation)
	if err != nil {
		return fmt.Errorf("marshal recommendation: %w", err)
	}
	finalAction, err := json.Marshal(record.FinalAction)
	if err != nil {
		return fmt.Errorf("marshal final action: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_proposals (`+proposalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		record.LogID.String(),
		string(record.EventType),
		record.TraceID.String(),
		nullTraceID(record.ParentTraceID),
		record.ProposalID.String(),
		record.ProposalType,
		record.DAGNodeID,
		recommendation,
		record.Confidence,
		pq.Array(record.ReasonCodes),
		nullStr(record.HumanDecision),
		nullUser(record.HumanUserID),
		pq.Array(record.HumanReasonCodes),
		nullStr(record.HumanNotes),
		finalAction,
		record.LoggedAt,
	)
	if err != nil {
		return fmt.Errorf("insert proposal record: %w", err)
	}
	return nil
}

const overrideColumns = `log_id, trace_id, override_type, reason_codes, proposal_id,
	bishop_value, bishop_confidence, human_value, human_user_id, human_role, human_notes,
	context_snapshot, outcome_tracked, outcome_was_correct, outcome_notes, logged_at`

func (s *PostgresStore) InsertOverride(ctx context.Context, record *models.OverrideRecord) error {
	bishopValue, err := json.Marshal(record.BishopValue)
	if err != nil {
		return fmt.Errorf("marshal bishop value: %w", err)
	}
	humanValue, err := json.Marshal(record.HumanValue)
	if err != nil {
		return fmt.Errorf("marshal human value: %w", err)
	}
	snapshot, err := json.Marshal(record.ContextSnapshot)
	if err != nil {
		return fmt.Errorf("marshal context snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_overrides (`+overrideColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		record.LogID.String(),
		record.TraceID.String(),
		record.OverrideType,
		pq.Array(record.ReasonCodes),
		record.ProposalID.String(),
		bishopValue,
		record.BishopConfidence,
		humanValue,
		record.HumanUserID.String(),
		record.HumanRole,
		nullStr(record.HumanNotes),
		snapshot,
		record.OutcomeTracked,
		nullBool(record.OutcomeWasCorrect),
		nullStr(record.OutcomeNotes),
		record.LoggedAt,
	)
	if err != nil {
		return fmt.Errorf("insert override record: %w", err)
	}
	return nil
}

const blockColumns = `log_id, trace_id, blocked_action, blocked_entity_id, blocked_entity_type,
	blocker, dag_node_id, reason_codes, reason_details, blocked_value_micros,
	threshold_value_micros, confidence_at_block, resolved, resolution_type, resolved_by,
	resolved_at, logged_at`

func (s *PostgresStore) InsertBlock(ctx context.Context, record *models.BlockRecord) error {
	details, err := json.Marshal(record.ReasonDetails)
	if err != nil {
		return fmt.Errorf("marshal reason details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_blocks (`+blockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		record.LogID.String(),
		record.TraceID.String(),
		record.Action,
		record.EntityID.String(),
		record.EntityType,
		record.Blocker,
		record.DAGNodeID,
		pq.Array(record.ReasonCodes),
		details,
		nullInt64(record.BlockedValueMicros),
		nullInt64(record.ThresholdValueMicros),
		nullFloat(record.ConfidenceAtBlock),
		record.Resolved,
		nullStr(record.ResolutionType),
		nullUserPtr(record.ResolvedBy),
		nullTimePtr(record.ResolvedAt),
		record.LoggedAt,
	)
	if err != nil {
		return fmt.Errorf("insert block record: %w", err)
	}
	return nil
}

const executionColumns = `log_id, trace_id, execution_type, entity_id, entity_type, dag_node_id,
	proposal_id, executed_by, execution_method, executed_value_micros, executed_quantity,
	side_effects_declared, logged_at`

func (s *PostgresStore) InsertExecution(ctx context.Context, record *models.ExecutionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_executions (`+executionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.LogID.String(),
		record.TraceID.String(),
		record.ExecutionType,
		record.EntityID.String(),
		record.EntityType,
		record.DAGNodeID,
		record.ProposalID.String(),
		record.ExecutedBy,
		record.ExecutionMethod,
		nullInt64(record.ValueMicros),
		nullInt64(record.Quantity),
		pq.Array(record.SideEffects),
		record.LoggedAt,
	)
	if err != nil {
		return fmt.Errorf("insert execution record: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindProposalGenerated(ctx context.Context, proposalID uuid.UUID) (*models.ProposalRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+proposalColumns+` FROM audit_proposals
		WHERE proposal_id = $1 AND event_type = $2
		ORDER BY logged_at ASC
		LIMIT 1`,
		proposalID.String(), string(models.ProposalGenerated))
	return scanProposal(row)
}

func (s *PostgresStore) SetOverrideOutcome(ctx context.Context, logID uuid.UUID, wasCorrect bool, notes string) (*models.OverrideRecord, error) {
	// outcome_tracked = false in the predicate makes the write exactly-once.
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_overrides
		SET outcome_tracked = true, outcome_was_correct = $2, outcome_notes = $3
		WHERE log_id = $1 AND outcome_tracked = false`,
		logID.String(), wasCorrect, nullStr(notes))
	if err != nil {
		return nil, fmt.Errorf("set override outcome: %w", err)
	}
	if err := requireOneRow(ctx, res, func() error {
		var tracked bool
		err := s.db.QueryRowContext(ctx,
			`SELECT outcome_tracked FROM audit_overrides WHERE log_id = $1`, logID.String()).Scan(&tracked)
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+overrideColumns+` FROM audit_overrides WHERE log_id = $1`, logID.String())
	return scanOverride(row)
}

func (s *PostgresStore) ResolveBlock(ctx context.Context, logID uuid.UUID, resolutionType string, resolvedBy id.UserID, at time.Time) (*models.BlockRecord, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_blocks
		SET resolved = true, resolution_type = $2, resolved_by = $3, resolved_at = $4
		WHERE log_id = $1 AND resolved = false`,
		logID.String(), resolutionType, resolvedBy.String(), at)
	if err != nil {
		return nil, fmt.Errorf("resolve block: %w", err)
	}
	if err := requireOneRow(ctx, res, func() error {
		var resolved bool
		err := s.db.QueryRowContext(ctx,
			`SELECT resolved FROM audit_blocks WHERE log_id = $1`, logID.String()).Scan(&resolved)
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM audit_blocks WHERE log_id = $1`, logID.String())
	return scanBlock(row)
}

// requireOneRow distinguishes "not found" from "already applied" when a
// guarded update touches zero rows.
func requireOneRow(_ context.Context, res sql.Result, classify func() error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return classify()
	}
	return nil
}

func (s *PostgresStore) ListProposals(ctx context.Context, eventType models.ProposalEventType, page models.Page) ([]*models.ProposalRecord, error) {
	query := `SELECT ` + proposalColumns + ` FROM audit_proposals WHERE 1=1`
	var args []any
	if eventType != "" {
		args = append(args, string(eventType))
		query += ` AND event_type = $` + strconv.Itoa(len(args))
	}
	args = append(args, page.Limit, page.Offset)
	query += ` ORDER BY logged_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var out []*models.ProposalRecord
	for rows.Next() {
		record, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListOverrides(ctx context.Context, overrideType string, page models.Page) ([]*models.OverrideRecord, error) {
	query := `SELECT ` + overrideColumns + ` FROM audit_overrides WHERE 1=1`
	var args []any
	if overrideType != "" {
		args = append(args, overrideType)
		query += ` AND override_type = $` + strconv.Itoa(len(args))
	}
	args = append(args, page.Limit, page.Offset)
	query += ` ORDER BY logged_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list overrides: %w", err)
	}
	defer rows.Close()

	var out []*models.OverrideRecord
	for rows.Next() {
		record, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListBlocks(ctx context.Context, resolved *bool, page models.Page) ([]*models.BlockRecord, error) {
	query := `SELECT ` + blockColumns + ` FROM audit_blocks WHERE 1=1`
	var args []any
	if resolved != nil {
		args = append(args, *resolved)
		query += ` AND resolved = $` + strconv.Itoa(len(args))
	}
	args = append(args, page.Limit, page.Offset)
	query += ` ORDER BY logged_at DESC LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var out []*models.BlockRecord
	for rows.Next() {
		record, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListExecutions(ctx context.Context, page models.Page) ([]*models.ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM audit_executions
		ORDER BY logged_at DESC LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*models.ExecutionRecord
	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FindByTrace(ctx context.Context, traceID id.TraceID) (*models.Trace, error) {
	trace := &models.Trace{TraceID: traceID}
	wide := models.Page{Limit: 1000}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+proposalColumns+` FROM audit_proposals
		WHERE trace_id = $1 ORDER BY logged_at ASC LIMIT $2`, traceID.String(), wide.Limit)
	if err != nil {
		return nil, fmt.Errorf("trace proposals: %w", err)
	}
	for rows.Next() {
		record, err := scanProposal(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		trace.Proposals = append(trace.Proposals, record)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT `+overrideColumns+` FROM audit_overrides
		WHERE trace_id = $1 ORDER BY logged_at ASC LIMIT $2`, traceID.String(), wide.Limit)
	if err != nil {
		return nil, fmt.Errorf("trace overrides: %w", err)
	}
	for rows.Next() {
		record, err := scanOverride(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		trace.Overrides = append(trace.Overrides, record)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT `+blockColumns+` FROM audit_blocks
		WHERE trace_id = $1 ORDER BY logged_at ASC LIMIT $2`, traceID.String(), wide.Limit)
	if err != nil {
		return nil, fmt.Errorf("trace blocks: %w", err)
	}
	for rows.Next() {
		record, err := scanBlock(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		trace.Blocks = append(trace.Blocks, record)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT `+executionColumns+` FROM audit_executions
		WHERE trace_id = $1 ORDER BY logged_at ASC LIMIT $2`, traceID.String(), wide.Limit)
	if err != nil {
		return nil, fmt.Errorf("trace executions: %w", err)
	}
	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		trace.Executions = append(trace.Executions, record)
	}
	rows.Close()

	return trace, nil
}

func (s *PostgresStore) Summary(ctx context.Context) (models.Summary, error) {
	var summary models.Summary

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE event_type = 'proposal_generated'),
			COUNT(*) FILTER (WHERE event_type = 'proposal_approved'),
			COUNT(*) FILTER (WHERE event_type = 'proposal_rejected'),
			COUNT(*) FILTER (WHERE event_type = 'proposal_modified')
		FROM audit_proposals`).Scan(
		&summary.TotalProposals,
		&summary.ProposalsApproved,
		&summary.ProposalsRejected,
		&summary.ProposalsModified,
	)
	if err != nil {
		return summary, fmt.Errorf("summarize proposals: %w", err)
	}

	var tracked, correct int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE outcome_tracked),
			COUNT(*) FILTER (WHERE outcome_was_correct)
		FROM audit_overrides`).Scan(&summary.TotalOverrides, &tracked, &correct)
	if err != nil {
		return summary, fmt.Errorf("summarize overrides: %w", err)
	}
	if tracked > 0 {
		accuracy := float64(correct) / float64(tracked)
		summary.OverrideAccuracy = &accuracy
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT resolved)
		FROM audit_blocks`).Scan(&summary.TotalBlocks, &summary.UnresolvedBlocks)
	if err != nil {
		return summary, fmt.Errorf("summarize blocks: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_executions`).Scan(&summary.TotalExecutions)
	if err != nil {
		return summary, fmt.Errorf("summarize executions: %w", err)
	}
	return summary, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProposal(row rowScanner) (*models.ProposalRecord, error) {
	var (
		record         models.ProposalRecord
		logID          string
		eventType      string
		traceID        string
		parentTraceID  sql.NullString
		proposalID     string
		recommendation []byte
		reasonCodes    pq.StringArray
		humanDecision  sql.NullString
		humanUserID    sql.NullString
		humanReasons   pq.StringArray
		humanNotes     sql.NullString
		finalAction    []byte
	)
	err := row.Scan(
		&logID, &eventType, &traceID, &parentTraceID, &proposalID, &record.ProposalType,
		&record.DAGNodeID, &recommendation, &record.Confidence, &reasonCodes,
		&humanDecision, &humanUserID, &humanReasons, &humanNotes, &finalAction, &record.LoggedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan proposal record: %w", err)
	}

	if record.LogID, err = uuid.Parse(logID); err != nil {
		return nil, fmt.Errorf("parse stored log id: %w", err)
	}
	if record.ProposalID, err = uuid.Parse(proposalID); err != nil {
		return nil, fmt.Errorf("parse stored proposal id: %w", err)
	}
	record.EventType = models.ProposalEventType(eventType)
	parsedTrace, err := id.ParseTraceID(traceID)
	if err != nil {
		return nil, fmt.Errorf("parse stored trace id: %w", err)
	}
	record.TraceID = parsedTrace
	if parentTraceID.Valid {
		parent, err := id.ParseTraceID(parentTraceID.String)
		if err != nil {
			return nil, fmt.Errorf("parse stored parent trace id: %w", err)
		}
		record.ParentTraceID = &parent
	}
	if err := json.Unmarshal(recommendation, &record.Recommendation); err != nil {
		return nil, fmt.Errorf("unmarshal recommendation: %w", err)
	}
	if len(finalAction) > 0 {
		if err := json.Unmarshal(finalAction, &record.FinalAction); err != nil {
			return nil, fmt.Errorf("unmarshal final action: %w", err)
		}
	}
	record.ReasonCodes = reasonCodes
	record.HumanDecision = humanDecision.String
	record.HumanReasonCodes = humanReasons
	record.HumanNotes = humanNotes.String
	if humanUserID.Valid {
		user, err := id.ParseUserID(humanUserID.String)
		if err != nil {
			return nil, fmt.Errorf("parse stored user id: %w", err)
		}
		record.HumanUserID = user
	}
	return &record, nil
}

func scanOverride(row rowScanner) (*models.OverrideRecord, error) {
	var (
		record      models.OverrideRecord
		logID       string
		traceID     string
		reasonCodes pq.StringArray
		proposalID  string
		bishopValue []byte
		humanValue  []byte
		humanUserID string
		humanNotes  sql.NullString
		snapshot    []byte
		wasCorrect  sql.NullBool
		notes       sql.NullString
	)
	err := row.Scan(
		&logID, &traceID, &record.OverrideType, &reasonCodes, &proposalID,
		&bishopValue, &record.BishopConfidence, &humanValue, &humanUserID, &record.HumanRole,
		&humanNotes, &snapshot, &record.OutcomeTracked, &wasCorrect, &notes, &record.LoggedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan override record: %w", err)
	}

	if record.LogID, err = uuid.Parse(logID); err != nil {
		return nil, fmt.Errorf("parse stored log id: %w", err)
	}
	if record.ProposalID, err = uuid.Parse(proposalID); err != nil {
		return nil, fmt.Errorf("parse stored proposal id: %w", err)
	}
	parsedTrace, err := id.ParseTraceID(traceID)
	if err != nil {
		return nil, fmt.Errorf("parse stored trace id: %w", err)
	}
	record.TraceID = parsedTrace
	user, err := id.ParseUserID(humanUserID)
	if err != nil {
		return nil, fmt.Errorf("parse stored user id: %w", err)
	}
	record.HumanUserID = user
	if err := json.Unmarshal(bishopValue, &record.BishopValue); err != nil {
		return nil, fmt.Errorf("unmarshal bishop value: %w", err)
	}
	if err := json.Unmarshal(humanValue, &record.HumanValue); err != nil {
		return nil, fmt.Errorf("unmarshal human value: %w", err)
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &record.ContextSnapshot); err != nil {
			return nil, fmt.Errorf("unmarshal context snapshot: %w", err)
		}
	}
	record.ReasonCodes = reasonCodes
	record.HumanNotes = humanNotes.String
	record.OutcomeNotes = notes.String
	if wasCorrect.Valid {
		v := wasCorrect.Bool
		record.OutcomeWasCorrect = &v
	}
	return &record, nil
}

func scanBlock(row rowScanner) (*models.BlockRecord, error) {
	var (
		record         models.BlockRecord
		logID          string
		traceID        string
		entityID       string
		reasonCodes    pq.StringArray
		details        []byte
		blockedMicros  sql.NullInt64
		threshold      sql.NullInt64
		confidence     sql.NullFloat64
		resolutionType sql.NullString
		resolvedBy     sql.NullString
		resolvedAt     sql.NullTime
	)
	err := row.Scan(
		&logID, &traceID, &record.Action, &entityID, &record.EntityType,
		&record.Blocker, &record.DAGNodeID, &reasonCodes, &details, &blockedMicros,
		&threshold, &confidence, &record.Resolved, &resolutionType, &resolvedBy,
		&resolvedAt, &record.LoggedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan block record: %w", err)
	}

	if record.LogID, err = uuid.Parse(logID); err != nil {
		return nil, fmt.Errorf("parse stored log id: %w", err)
	}
	if record.EntityID, err = uuid.Parse(entityID); err != nil {
		return nil, fmt.Errorf("parse stored entity id: %w", err)
	}
	parsedTrace, err := id.ParseTraceID(traceID)
	if err != nil {
		return nil, fmt.Errorf("parse stored trace id: %w", err)
	}
	record.TraceID = parsedTrace
	if len(details) > 0 {
		if err := json.Unmarshal(details, &record.ReasonDetails); err != nil {
			return nil, fmt.Errorf("unmarshal reason details: %w", err)
		}
	}
	record.ReasonCodes = reasonCodes
	if blockedMicros.Valid {
		record.BlockedValueMicros = &blockedMicros.Int64
	}
	if threshold.Valid {
		record.ThresholdValueMicros = &threshold.Int64
	}
	if confidence.Valid {
		record.ConfidenceAtBlock = &confidence.Float64
	}
	record.ResolutionType = resolutionType.String
	if resolvedBy.Valid {
		user, err := id.ParseUserID(resolvedBy.String)
		if err != nil {
			return nil, fmt.Errorf("parse stored user id: %w", err)
		}
		record.ResolvedBy = &user
	}
	if resolvedAt.Valid {
		at := resolvedAt.Time
		record.ResolvedAt = &at
	}
	return &record, nil
}

func scanExecution(row rowScanner) (*models.ExecutionRecord, error) {
	var (
		record      models.ExecutionRecord
		logID       string
		traceID     string
		entityID    string
		proposalID  string
		valueMicros sql.NullInt64
		quantity    sql.NullInt64
		sideEffects pq.StringArray
	)
	err := row.Scan(
		&logID, &traceID, &record.ExecutionType, &entityID, &record.EntityType, &record.DAGNodeID,
		&proposalID, &record.ExecutedBy, &record.ExecutionMethod, &valueMicros, &quantity,
		&sideEffects, &record.LoggedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution record: %w", err)
	}

	if record.LogID, err = uuid.Parse(logID); err != nil {
		return nil, fmt.Errorf("parse stored log id: %w", err)
	}
	if record.EntityID, err = uuid.Parse(entityID); err != nil {
		return nil, fmt.Errorf("parse stored entity id: %w", err)
	}
	if record.ProposalID, err = uuid.Parse(proposalID); err != nil {
		return nil, fmt.Errorf("parse stored proposal id: %w", err)
	}
	parsedTrace, err := id.ParseTraceID(traceID)
	if err != nil {
		return nil, fmt.Errorf("parse stored trace id: %w", err)
	}
	record.TraceID = parsedTrace
	if valueMicros.Valid {
		record.ValueMicros = &valueMicros.Int64
	}
	if quantity.Valid {
		record.Quantity = &quantity.Int64
	}
	record.SideEffects = sideEffects
	return &record, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullUser(userID id.UserID) sql.NullString {
	if userID.IsNil() {
		return sql.NullString{}
	}
	return sql.NullString{String: userID.String(), Valid: true}
}

func nullUserPtr(userID *id.UserID) sql.NullString {
	if userID == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: userID.String(), Valid: true}
}

func nullTraceID(traceID *id.TraceID) sql.NullString {
	if traceID == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: traceID.String(), Valid: true}
}
