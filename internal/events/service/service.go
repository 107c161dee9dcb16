package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"proveniq-ops/internal/events/metrics"
	"proveniq-ops/internal/events/models"
	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
	"proveniq-ops/pkg/platform/sentinel"
)

// maxAppendRetries bounds the optimistic-concurrency loop on an asset tail.
const maxAppendRetries = 5

// Store persists events. Insert must fail with sentinel.ErrAlreadyExists when
// either the idempotency key or the (asset_id, aggregate_version) pair is
// already taken, so the append loop can refresh and retry.
type Store interface {
	Insert(ctx context.Context, event *models.Event) error
	FindByID(ctx context.Context, eventID id.EventID) (*models.Event, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Event, error)
	FindByCorrelation(ctx context.Context, correlationID string) ([]*models.Event, error)
	FindByType(ctx context.Context, eventType string, since, until *time.Time, limit int) ([]*models.Event, error)
	Tail(ctx context.Context, assetID id.AssetID) (version int64, hash string, err error)
	Chain(ctx context.Context, assetID id.AssetID) ([]*models.Event, error)
	Search(ctx context.Context, filter models.SearchFilter) ([]*models.Event, error)
	Timeline(ctx context.Context, filter models.TimelineFilter) ([]*models.Event, error)
	CountByType(ctx context.Context, since *time.Time) (map[string]int64, error)
	FindUnsynced(ctx context.Context, limit int) ([]*models.Event, error)
	MarkSynced(ctx context.Context, eventID id.EventID, ledgerEventID string, syncedAt time.Time) error
}

// Signer optionally signs each event hash at append time.
type Signer interface {
	Sign(data []byte) (string, error)
}

// Service is the append-only, hash-chained event log. It is the single
// source of truth every other governance component derives from.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	signer  Signer
	tracer  trace.Tracer
	now     func() time.Time

	// Assets with a detected chain break. Appends are refused until a
	// manual reconcile clears the entry.
	mu          sync.RWMutex
	quarantined map[id.AssetID]*ChainIntegrityError
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithSigner(signer Signer) Option {
	return func(s *Service) { s.signer = signer }
}

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs a Service.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:       store,
		logger:      slog.Default(),
		tracer:      otel.Tracer("proveniq-ops/events"),
		now:         time.Now,
		quarantined: make(map[id.AssetID]*ChainIntegrityError),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AppendInput carries the caller-supplied portion of a new event. Empty
// CorrelationID and IdempotencyKey are filled with fresh UUIDs.
type AppendInput struct {
	EventType      string
	Payload        map[string]any
	AssetID        id.AssetID
	CorrelationID  string
	IdempotencyKey string
}

// Append writes a new event, or returns the previously stored event when the
// idempotency key was already used. Appends for one asset are serialized via
// compare-and-swap on the aggregate version tail.
func (s *Service) Append(ctx context.Context, in AppendInput) (*models.Event, error) {
	ctx, span := s.tracer.Start(ctx, "events.append",
		trace.WithAttributes(attribute.String("event_type", in.EventType)))
	defer span.End()

	if in.EventType == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "event_type is required")
	}
	if in.Payload == nil {
		in.Payload = map[string]any{}
	}
	if in.CorrelationID == "" {
		in.CorrelationID = uuid.NewString()
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}

	if err := s.checkQuarantine(in.AssetID); err != nil {
		return nil, err
	}

	payloadHash, err := models.HashPayload(in.Payload)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash payload")
	}

	for attempt := 0; attempt < maxAppendRetries; attempt++ {
		existing, err := s.store.FindByIdempotencyKey(ctx, in.IdempotencyKey)
		if err == nil {
			s.logger.DebugContext(ctx, "idempotent append, returning stored event",
				"event_id", existing.EventID, "idempotency_key", in.IdempotencyKey)
			return existing, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check idempotency key")
		}

		event, err := s.buildEvent(ctx, in, payloadHash)
		if err != nil {
			return nil, err
		}

		err = s.store.Insert(ctx, event)
		if err == nil {
			s.logger.InfoContext(ctx, "event appended",
				"event_id", event.EventID,
				"event_type", event.EventType,
				"asset_id", event.AssetID,
				"aggregate_version", event.AggregateVersion)
			if s.metrics != nil {
				s.metrics.IncrementAppended(event.EventType)
			}
			return event, nil
		}
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			// Another writer advanced the tail or claimed the key.
			// Refresh and retry.
			if s.metrics != nil {
				s.metrics.IncrementAppendConflict()
			}
			continue
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to insert event")
	}

	s.logger.WarnContext(ctx, "append retries exhausted",
		"event_type", in.EventType, "asset_id", in.AssetID)
	return nil, ErrWriteConflict
}

func (s *Service) buildEvent(ctx context.Context, in AppendInput, payloadHash string) (*models.Event, error) {
	now := s.now().UTC()
	event := &models.Event{
		EventID:        id.NewEventID(),
		EventType:      in.EventType,
		Timestamp:      now,
		AssetID:        in.AssetID,
		CorrelationID:  in.CorrelationID,
		IdempotencyKey: in.IdempotencyKey,
		Payload:        in.Payload,
		PayloadHash:    payloadHash,
		PrevEventHash:  models.GenesisHash,
		SourceApp:      models.SourceApp,
		Version:        models.SchemaVersion,
		CreatedAt:      now,
	}

	if !in.AssetID.IsNil() {
		version, hash, err := s.store.Tail(ctx, in.AssetID)
		switch {
		case err == nil:
			event.AggregateVersion = version + 1
			event.PrevEventHash = hash
		case errors.Is(err, sentinel.ErrNotFound):
			event.AggregateVersion = 1
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read asset tail")
		}
	}

	eventHash, err := models.ComputeEventHash(event)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compute event hash")
	}
	event.EventHash = eventHash

	if s.signer != nil {
		sig, err := s.signer.Sign([]byte(eventHash))
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign event")
		}
		event.Signature = sig
	}

	return event, nil
}

// GetByID fetches a single event.
func (s *Service) GetByID(ctx context.Context, eventID id.EventID) (*models.Event, error) {
	event, err := s.store.FindByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event")
	}
	return event, nil
}

// GetByCorrelation returns all events sharing a correlation id, oldest first.
func (s *Service) GetByCorrelation(ctx context.Context, correlationID string) ([]*models.Event, error) {
	if correlationID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "correlation_id is required")
	}
	events, err := s.store.FindByCorrelation(ctx, correlationID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load correlated events")
	}
	return events, nil
}

// GetByType returns events of one type within an optional time range,
// newest first.
func (s *Service) GetByType(ctx context.Context, eventType string, since, until *time.Time, limit int) ([]*models.Event, error) {
	if eventType == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "event_type is required")
	}
	if limit <= 0 {
		limit = 100
	}
	events, err := s.store.FindByType(ctx, eventType, since, until, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load events by type")
	}
	return events, nil
}

// Search matches events whose payload text contains the query.
func (s *Service) Search(ctx context.Context, filter models.SearchFilter) ([]*models.Event, error) {
	if filter.Query == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "search query is required")
	}
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	events, err := s.store.Search(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to search events")
	}
	return events, nil
}

// ForensicTimeline reconstructs what happened to an asset or location,
// ordered by timestamp ascending.
func (s *Service) ForensicTimeline(ctx context.Context, filter models.TimelineFilter) ([]*models.Event, error) {
	if filter.Limit <= 0 {
		filter.Limit = 500
	}
	events, err := s.store.Timeline(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load forensic timeline")
	}
	return events, nil
}

// CountByType returns event counts grouped by type.
func (s *Service) CountByType(ctx context.Context, since *time.Time) (map[string]int64, error) {
	counts, err := s.store.CountByType(ctx, since)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count events")
	}
	return counts, nil
}

// VerifyChain recomputes every event hash for an asset in version order.
// A mismatch is reported and the asset is quarantined against further
// appends; the stored rows are never repaired.
func (s *Service) VerifyChain(ctx context.Context, assetID id.AssetID) (*models.ChainReport, error) {
	if assetID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "asset_id is required")
	}

	chain, err := s.store.Chain(ctx, assetID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event chain")
	}

	report := &models.ChainReport{
		AssetID:   assetID,
		Status:    models.ChainStatusValid,
		Length:    len(chain),
		CheckedAt: s.now().UTC(),
	}
	if len(chain) == 0 {
		report.Status = models.ChainStatusEmpty
		return report, nil
	}

	prevHash := models.GenesisHash
	for _, event := range chain {
		reason := ""
		switch {
		case event.PrevEventHash != prevHash:
			reason = "prev_event_hash does not match predecessor"
		default:
			recomputed, err := models.ComputeEventHash(event)
			if err != nil {
				return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to recompute event hash")
			}
			if recomputed != event.EventHash {
				reason = "stored event_hash does not match recomputed hash"
			}
		}

		if reason != "" {
			version := event.AggregateVersion
			eventID := event.EventID
			report.Status = models.ChainStatusInvalid
			report.BrokenAt = &version
			report.BrokenEventID = &eventID
			report.Reason = reason
			s.quarantine(assetID, &ChainIntegrityError{
				AssetID:          assetID,
				AggregateVersion: version,
				Reason:           reason,
			})
			s.logger.ErrorContext(ctx, "chain integrity violation detected",
				"asset_id", assetID, "aggregate_version", version, "reason", reason)
			if s.metrics != nil {
				s.metrics.IncrementChainVerification(string(models.ChainStatusInvalid))
			}
			return report, nil
		}
		prevHash = event.EventHash
	}

	if s.metrics != nil {
		s.metrics.IncrementChainVerification(string(models.ChainStatusValid))
	}
	return report, nil
}

// ReconcileAsset lifts the append quarantine after a manual investigation.
func (s *Service) ReconcileAsset(assetID id.AssetID) {
	s.mu.Lock()
	delete(s.quarantined, assetID)
	s.mu.Unlock()
}

// GetUnsynced returns events awaiting ledger write-through, oldest first.
func (s *Service) GetUnsynced(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	events, err := s.store.FindUnsynced(ctx, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load unsynced events")
	}
	return events, nil
}

// MarkSynced records the external ledger reference for an event.
func (s *Service) MarkSynced(ctx context.Context, eventID id.EventID, ledgerEventID string) error {
	if ledgerEventID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "ledger_event_id is required")
	}
	if err := s.store.MarkSynced(ctx, eventID, ledgerEventID, s.now().UTC()); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "event not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mark event synced")
	}
	if s.metrics != nil {
		s.metrics.IncrementSynced()
	}
	return nil
}

func (s *Service) checkQuarantine(assetID id.AssetID) error {
	if assetID.IsNil() {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if violation, ok := s.quarantined[assetID]; ok {
		return dErrors.Wrap(violation, dErrors.CodeIntegrity, "asset chain is quarantined")
	}
	return nil
}

func (s *Service) quarantine(assetID id.AssetID, violation *ChainIntegrityError) {
	s.mu.Lock()
	s.quarantined[assetID] = violation
	s.mu.Unlock()
}
