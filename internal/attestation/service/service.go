package service

import (
	"context"
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"proveniq-ops/internal/attestation/keys"
	"proveniq-ops/internal/attestation/lock"
	"proveniq-ops/internal/attestation/metrics"
	"proveniq-ops/internal/attestation/models"
	"proveniq-ops/internal/downstream"
	eventsmodels "proveniq-ops/internal/events/models"
	trustmodels "proveniq-ops/internal/trust/models"
	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
	"proveniq-ops/pkg/platform/canonical"
	"proveniq-ops/pkg/platform/sentinel"
)

// platinumMinDays is the time-in-system floor for issuance.
const platinumMinDays = 90

// Expiry policy per attestation type. Nothing issued here is perpetual.
const (
	conditionExpiry     = 30 * 24 * time.Hour
	operationExpiry     = 90 * 24 * time.Hour
	continuityMinExpiry = 60 * 24 * time.Hour
)

// TierReader exposes the persisted trust tier for an asset.
type TierReader interface {
	GetTier(ctx context.Context, assetID id.AssetID) (*trustmodels.Result, error)
}

// EventLog supplies the asset's chained event history for evidence
// gathering and coverage checks.
type EventLog interface {
	Chain(ctx context.Context, assetID id.AssetID) ([]*eventsmodels.Event, error)
}

// IntegrityChecker reports open anomaly flags.
type IntegrityChecker interface {
	IntegrityStats(ctx context.Context, assetID id.AssetID, orgID id.OrgID, since time.Time) (trustmodels.IntegrityStats, error)
}

// WaiverChecker reports active security waivers.
type WaiverChecker interface {
	ActiveCap(ctx context.Context, assetID id.AssetID, now time.Time) (*trustmodels.Waiver, error)
}

// Store persists attestations and the request log.
type Store interface {
	Insert(ctx context.Context, attestation *models.Attestation) error
	FindByID(ctx context.Context, attestationID string) (*models.Attestation, error)
	// FindByScope returns the valid attestation covering exactly this
	// (asset, type, window) scope, or sentinel.ErrNotFound.
	FindByScope(ctx context.Context, assetID id.AssetID, attestationType models.Type, windowStart, windowEnd time.Time) (*models.Attestation, error)
	List(ctx context.Context, filter models.ListFilter) ([]*models.Attestation, error)
	RecordVerification(ctx context.Context, attestationID string, at time.Time) error
	LogRequest(ctx context.Context, record *models.RequestRecord) error
}

// Service issues and verifies signed attestations. Attestations state what
// the event log can prove, never what anyone promises.
type Service struct {
	store     Store
	tiers     TierReader
	events    EventLog
	integrity IntegrityChecker
	waivers   WaiverChecker
	keys      *keys.Manager
	locks     lock.Locker
	logger    *slog.Logger
	metrics   *metrics.Metrics
	notifier  downstream.Notifier
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier announces issued attestations to downstream consumers.
func WithNotifier(n downstream.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// New constructs a Service.
func New(store Store, tiers TierReader, events EventLog, integrity IntegrityChecker, waivers WaiverChecker, keyManager *keys.Manager, locks lock.Locker, opts ...Option) *Service {
	s := &Service{
		store:     store,
		tiers:     tiers,
		events:    events,
		integrity: integrity,
		waivers:   waivers,
		keys:      keyManager,
		locks:     locks,
		logger:    slog.Default(),
		tracer:    otel.Tracer("proveniq-ops/attestation"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckEligibility runs the six named checks. Every check is evaluated even
// after the first failure so callers see the complete picture.
func (s *Service) CheckEligibility(ctx context.Context, assetID id.AssetID, orgID id.OrgID, attestationType models.Type, windowStart, windowEnd time.Time) (*models.EligibilityResult, error) {
	if assetID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "asset_id is required")
	}

	now := s.now().UTC()
	result := &models.EligibilityResult{AssetID: assetID}

	tier, tierErr := s.tiers.GetTier(ctx, assetID)
	if tierErr != nil && !dErrors.HasCode(tierErr, dErrors.CodeNotFound) {
		return nil, tierErr
	}

	result.Checks = append(result.Checks, s.checkTier(tier))
	if tier != nil {
		tierValue := int(tier.Tier)
		result.TrustTier = &tierValue
	}

	integrityCheck, err := s.checkIntegrityFlags(ctx, assetID, orgID, now)
	if err != nil {
		return nil, err
	}
	result.Checks = append(result.Checks, integrityCheck)

	waiverCheck, err := s.checkSecurityWaivers(ctx, assetID, now)
	if err != nil {
		return nil, err
	}
	result.Checks = append(result.Checks, waiverCheck)

	chain, err := s.events.Chain(ctx, assetID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load event history")
	}
	result.Checks = append(result.Checks, s.checkPendingLedger(chain, now))
	result.Checks = append(result.Checks, s.checkTelemetryCoverage(chain, windowStart, windowEnd))
	result.Checks = append(result.Checks, s.checkTimeInSystem(tier))

	for _, check := range result.Checks {
		if !check.Passed {
			result.FailedChecks = append(result.FailedChecks, check.CheckName)
		}
	}
	result.Eligible = len(result.FailedChecks) == 0
	if result.Eligible {
		result.Message = "Asset is eligible for attestation"
	} else {
		result.Message = "Asset is not eligible: " + joinChecks(result.FailedChecks)
	}
	return result, nil
}

func (s *Service) checkTier(tier *trustmodels.Result) models.Check {
	if tier == nil {
		return models.Check{
			CheckName: models.CheckTrustTierPlatinum,
			Passed:    false,
			Reason:    "No trust tier calculated for this asset",
		}
	}
	passed := tier.Tier == trustmodels.TierPlatinum
	reason := "Trust tier is PLATINUM"
	if !passed {
		reason = fmt.Sprintf("Trust tier is %s", tier.Tier)
	}
	return models.Check{
		CheckName: models.CheckTrustTierPlatinum,
		Passed:    passed,
		Reason:    reason,
		Value:     int(tier.Tier),
	}
}

func (s *Service) checkIntegrityFlags(ctx context.Context, assetID id.AssetID, orgID id.OrgID, now time.Time) (models.Check, error) {
	stats, err := s.integrity.IntegrityStats(ctx, assetID, orgID, now.Add(-90*24*time.Hour))
	if err != nil {
		return models.Check{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check integrity flags")
	}
	passed := stats.Severe == 0
	reason := "No unresolved integrity flags"
	if !passed {
		reason = fmt.Sprintf("%d unresolved integrity flags", stats.Severe)
	}
	return models.Check{
		CheckName: models.CheckNoIntegrityFlags,
		Passed:    passed,
		Reason:    reason,
		Value:     stats.Severe,
	}, nil
}

func (s *Service) checkSecurityWaivers(ctx context.Context, assetID id.AssetID, now time.Time) (models.Check, error) {
	_, err := s.waivers.ActiveCap(ctx, assetID, now)
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return models.Check{
			CheckName: models.CheckNoSecurityWaiver,
			Passed:    true,
			Reason:    "No active security waivers",
			Value:     0,
		}, nil
	case err != nil:
		return models.Check{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check security waivers")
	default:
		return models.Check{
			CheckName: models.CheckNoSecurityWaiver,
			Passed:    false,
			Reason:    "1 active security waivers",
			Value:     1,
		}, nil
	}
}

func (s *Service) checkPendingLedger(chain []*eventsmodels.Event, now time.Time) models.Check {
	cutoff := now.Add(-24 * time.Hour)
	var pending int
	for _, event := range chain {
		if !event.SyncedToLedger && event.Timestamp.After(cutoff) {
			pending++
		}
	}
	passed := pending == 0
	reason := "No pending ledger sync"
	if !passed {
		reason = fmt.Sprintf("%d events pending ledger sync", pending)
	}
	return models.Check{
		CheckName: models.CheckNoPendingLedger,
		Passed:    passed,
		Reason:    reason,
		Value:     pending,
	}
}

func (s *Service) checkTelemetryCoverage(chain []*eventsmodels.Event, windowStart, windowEnd time.Time) models.Check {
	var prev *time.Time
	var criticalGaps int
	var maxGapHours float64
	for _, event := range chain {
		if event.Timestamp.Before(windowStart) || event.Timestamp.After(windowEnd) {
			continue
		}
		ts := event.Timestamp
		if prev != nil {
			gap := ts.Sub(*prev)
			if hours := gap.Hours(); hours > maxGapHours {
				maxGapHours = hours
			}
			if gap > 24*time.Hour {
				criticalGaps++
			}
		}
		prev = &ts
	}
	passed := criticalGaps == 0
	reason := "Continuous telemetry coverage"
	if !passed {
		reason = fmt.Sprintf("%d gaps > 24 hours detected", criticalGaps)
	}
	return models.Check{
		CheckName: models.CheckTelemetryContinuity,
		Passed:    passed,
		Reason:    reason,
		Value:     map[string]any{"critical_gaps": criticalGaps, "max_gap_hours": maxGapHours},
	}
}

func (s *Service) checkTimeInSystem(tier *trustmodels.Result) models.Check {
	if tier == nil {
		return models.Check{
			CheckName: models.CheckTimeInSystem,
			Passed:    false,
			Reason:    "No tier data available",
			Value:     0,
		}
	}
	passed := tier.DaysInSystem >= platinumMinDays
	reason := fmt.Sprintf("%d days in system", tier.DaysInSystem)
	if !passed {
		reason = fmt.Sprintf("Only %d days (need %d)", tier.DaysInSystem, platinumMinDays)
	}
	return models.Check{
		CheckName: models.CheckTimeInSystem,
		Passed:    passed,
		Reason:    reason,
		Value:     tier.DaysInSystem,
	}
}

// Issue validates eligibility under a per-scope lock and produces a signed
// attestation. Two concurrent requests for the same scope can never both
// succeed.
func (s *Service) Issue(ctx context.Context, request *models.Request) (*models.Attestation, error) {
	ctx, span := s.tracer.Start(ctx, "attestation.issue",
		trace.WithAttributes(
			attribute.String("asset_id", request.AssetID.String()),
			attribute.String("attestation_type", string(request.Type)),
		))
	defer span.End()

	if err := request.Validate(); err != nil {
		return nil, err
	}
	request.TimeWindowStart = request.TimeWindowStart.UTC().Truncate(time.Microsecond)
	request.TimeWindowEnd = request.TimeWindowEnd.UTC().Truncate(time.Microsecond)

	release, err := s.locks.Acquire(ctx, lock.Scope{
		AssetID:     request.AssetID,
		Type:        request.Type,
		WindowStart: request.TimeWindowStart,
		WindowEnd:   request.TimeWindowEnd,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, ErrDuplicateAttestation
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to acquire issuance lock")
	}
	defer release()

	// Duplicate scope check and eligibility both run under the lock, so
	// there is no stale read between check and issue.
	existing, err := s.store.FindByScope(ctx, request.AssetID, request.Type, request.TimeWindowStart, request.TimeWindowEnd)
	if err == nil && existing.Status == models.StatusValid && existing.ExpiresAt.After(s.now()) {
		return nil, ErrDuplicateAttestation
	}
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check for existing attestation")
	}

	eligibility, err := s.CheckEligibility(ctx, request.AssetID, request.OrgID, request.Type, request.TimeWindowStart, request.TimeWindowEnd)
	if err != nil {
		return nil, err
	}
	if !eligibility.Eligible {
		s.logRequest(ctx, request, eligibility, "", eligibility.Message)
		if s.metrics != nil && len(eligibility.FailedChecks) > 0 {
			s.metrics.IncrementRejected(eligibility.FailedChecks[0])
		}
		return nil, &EligibilityError{AssetID: request.AssetID, FailedChecks: eligibility.FailedChecks}
	}

	evidenceIDs, digest, err := s.gatherEvidence(ctx, request.AssetID, request.TimeWindowStart, request.TimeWindowEnd)
	if err != nil {
		return nil, err
	}
	if len(evidenceIDs) == 0 {
		reason := "No evidence found for the specified time window"
		s.logRequest(ctx, request, eligibility, "", reason)
		return nil, dErrors.New(dErrors.CodeInvalidInput, reason)
	}

	tier, err := s.tiers.GetTier(ctx, request.AssetID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	attestation := &models.Attestation{
		AttestationID:       uuid.Must(uuid.NewV7()).String(),
		AssetID:             request.AssetID,
		OrgID:               request.OrgID,
		Type:                request.Type,
		Meaning:             request.Type.Meaning(),
		TimeWindowStart:     request.TimeWindowStart,
		TimeWindowEnd:       request.TimeWindowEnd,
		DeclaredParameters:  request.DeclaredParameters,
		ConfidenceScore:     confidence(len(evidenceIDs), tier.Scores.Composite),
		EvidenceEventIDs:    evidenceIDs,
		EvidenceCount:       len(evidenceIDs),
		EvidenceDigest:      digest,
		TrustTierAtIssuance: int(trustmodels.TierPlatinum),
		SignatureAlgorithm:  models.SignatureAlgorithm,
		IssuedAt:            now,
		ExpiresAt:           s.expiration(request.Type, request.TimeWindowEnd, now),
		Status:              models.StatusValid,
	}
	attestation.VerificationURL = "/api/attestations/" + attestation.AttestationID + "/verify"

	keyID, private, err := s.keys.ActiveSigner(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load signing key")
	}
	attestation.IssuerKeyID = keyID

	payload, err := canonical.Marshal(signingPayload(attestation))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to build attestation payload")
	}
	attestation.IssuerSignature = base64.StdEncoding.EncodeToString(ed25519.Sign(private, payload))

	if err := s.store.Insert(ctx, attestation); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, ErrDuplicateAttestation
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist attestation")
	}
	s.logRequest(ctx, request, eligibility, attestation.AttestationID, "")

	s.logger.InfoContext(ctx, "attestation issued",
		"attestation_id", attestation.AttestationID,
		"asset_id", request.AssetID,
		"type", request.Type,
		"evidence_count", attestation.EvidenceCount,
		"expires_at", attestation.ExpiresAt)
	if s.metrics != nil {
		s.metrics.IncrementIssued(string(request.Type))
	}
	if s.notifier != nil {
		s.notifier.AttestationIssued(ctx, downstream.AttestationIssued{
			AttestationID:   attestation.AttestationID,
			AssetID:         attestation.AssetID.String(),
			AttestationType: string(attestation.Type),
			IssuedAt:        attestation.IssuedAt,
			ExpiresAt:       attestation.ExpiresAt,
			VerificationURL: attestation.VerificationURL,
		})
	}
	return attestation, nil
}

func (s *Service) gatherEvidence(ctx context.Context, assetID id.AssetID, windowStart, windowEnd time.Time) ([]id.EventID, string, error) {
	chain, err := s.events.Chain(ctx, assetID)
	if err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to gather evidence")
	}

	var eventIDs []id.EventID
	var hashes []string
	for _, event := range chain {
		if event.Timestamp.Before(windowStart) || event.Timestamp.After(windowEnd) {
			continue
		}
		eventIDs = append(eventIDs, event.EventID)
		if event.PayloadHash != "" {
			hashes = append(hashes, event.PayloadHash)
		}
	}
	return eventIDs, evidenceDigest(hashes), nil
}

// evidenceDigest is the SHA-512 of the sorted, concatenated payload hashes.
// Sorting makes the digest independent of retrieval order.
func evidenceDigest(hashes []string) string {
	if len(hashes) == 0 {
		sum := sha512.Sum512([]byte("no_hashes"))
		return hex.EncodeToString(sum[:])
	}
	sorted := make([]string, len(hashes))
	copy(sorted, hashes)
	sort.Strings(sorted)

	var combined []byte
	for _, h := range sorted {
		combined = append(combined, h...)
	}
	sum := sha512.Sum512(combined)
	return hex.EncodeToString(sum[:])
}

// confidence starts at 0.7 and grows with evidence volume and the asset's
// composite trust score, capped below certainty.
func confidence(evidenceCount int, composite float64) float64 {
	boost := float64(evidenceCount) / 100
	if boost > 0.15 {
		boost = 0.15
	}
	c := 0.7 + boost + composite*0.1
	if c > 0.99 {
		c = 0.99
	}
	// Rounded so the signed string form round-trips through storage.
	return math.Round(c*10000) / 10000
}

func (s *Service) expiration(attestationType models.Type, windowEnd, now time.Time) time.Time {
	switch attestationType {
	case models.TypeConditionAtTime:
		return now.Add(conditionExpiry)
	case models.TypeOperationWithinSpec:
		return now.Add(operationExpiry)
	default:
		// Continuity attestations scale with the covered window.
		expiry := continuityMinExpiry
		if windowEnd.After(now) {
			if window := windowEnd.Sub(now); window > expiry {
				expiry = window
			}
		}
		return now.Add(expiry)
	}
}

// signingPayload is the exact document bound by the signature. Field set and
// encodings must stay stable or previously issued signatures stop verifying.
func signingPayload(a *models.Attestation) map[string]any {
	return map[string]any{
		"attestation_id":         a.AttestationID,
		"asset_id":               a.AssetID.String(),
		"attestation_type":       string(a.Type),
		"time_window_start":      a.TimeWindowStart.UTC().Format(time.RFC3339Nano),
		"time_window_end":        a.TimeWindowEnd.UTC().Format(time.RFC3339Nano),
		"declared_parameters":    a.DeclaredParameters,
		"confidence_score":       strconv.FormatFloat(a.ConfidenceScore, 'f', 4, 64),
		"evidence_count":         a.EvidenceCount,
		"evidence_digest":        a.EvidenceDigest,
		"trust_tier_at_issuance": a.TrustTierAtIssuance,
		"issued_at":              a.IssuedAt.UTC().Format(time.RFC3339Nano),
		"expires_at":             a.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

func (s *Service) logRequest(ctx context.Context, request *models.Request, eligibility *models.EligibilityResult, attestationID, failureReason string) {
	status := "approved"
	eligibilityStatus := "eligible"
	if attestationID == "" {
		status = "rejected"
	}
	if !eligibility.Eligible {
		eligibilityStatus = "ineligible"
	}

	record := &models.RequestRecord{
		AssetID:           request.AssetID,
		OrgID:             request.OrgID,
		RequestedBy:       request.RequestedBy,
		Type:              request.Type,
		TimeWindowStart:   request.TimeWindowStart,
		TimeWindowEnd:     request.TimeWindowEnd,
		EligibilityStatus: eligibilityStatus,
		Checks:            eligibility.Checks,
		FailedChecks:      eligibility.FailedChecks,
		Status:            status,
		AttestationID:     attestationID,
		FailureReason:     failureReason,
		RequestedAt:       s.now().UTC(),
	}
	if err := s.store.LogRequest(ctx, record); err != nil {
		s.logger.WarnContext(ctx, "failed to log attestation request", "error", err)
	}
}

// Verify checks an attestation offline: existence, expiry, and signature
// over the canonical payload. No caller authentication is involved.
func (s *Service) Verify(ctx context.Context, attestationID string) (*models.VerificationResult, error) {
	attestation, err := s.store.FindByID(ctx, attestationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			s.countVerification("not_found")
			return &models.VerificationResult{Valid: false, Error: "Attestation not found"}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attestation")
	}

	if !attestation.ExpiresAt.After(s.now()) {
		s.countVerification("expired")
		return &models.VerificationResult{Valid: false, Error: "expired"}, nil
	}

	public, err := s.keys.PublicKey(ctx, attestation.IssuerKeyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification key")
	}

	payload, err := canonical.Marshal(signingPayload(attestation))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to rebuild attestation payload")
	}
	signature, err := base64.StdEncoding.DecodeString(attestation.IssuerSignature)
	if err != nil || !ed25519.Verify(public, payload, signature) {
		s.countVerification("invalid_signature")
		return &models.VerificationResult{Valid: false, SignatureValid: false, Error: "Signature verification failed"}, nil
	}

	if err := s.store.RecordVerification(ctx, attestationID, s.now().UTC()); err != nil {
		s.logger.WarnContext(ctx, "failed to record verification", "attestation_id", attestationID, "error", err)
	}
	s.countVerification("valid")

	return &models.VerificationResult{
		Valid:          true,
		SignatureValid: true,
		Data: map[string]any{
			"attestation_id":   attestation.AttestationID,
			"asset_id":         attestation.AssetID.String(),
			"attestation_type": string(attestation.Type),
			"time_window": map[string]any{
				"start": attestation.TimeWindowStart,
				"end":   attestation.TimeWindowEnd,
			},
			"confidence_score": strconv.FormatFloat(attestation.ConfidenceScore, 'f', 4, 64),
			"evidence_count":   attestation.EvidenceCount,
			"status":           string(models.StatusValid),
			"issued_at":        attestation.IssuedAt,
			"expires_at":       attestation.ExpiresAt,
		},
	}, nil
}

func (s *Service) countVerification(result string) {
	if s.metrics != nil {
		s.metrics.IncrementVerifications(result)
	}
}

// Get returns an attestation by id.
func (s *Service) Get(ctx context.Context, attestationID string) (*models.Attestation, error) {
	attestation, err := s.store.FindByID(ctx, attestationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "attestation not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load attestation")
	}
	return attestation, nil
}

// List returns attestations matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter models.ListFilter) ([]*models.Attestation, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	attestations, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list attestations")
	}
	return attestations, nil
}

// Export renders an attestation as a self-contained offline-verifiable
// document including the verification key.
func (s *Service) Export(ctx context.Context, attestationID string) (*models.Export, error) {
	attestation, err := s.Get(ctx, attestationID)
	if err != nil {
		return nil, err
	}
	publicPEM, err := s.keys.PublicKeyPEM(ctx, attestation.IssuerKeyID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification key")
	}

	return &models.Export{
		Format: models.ExportFormat,
		Attestation: models.ExportBody{
			ID:      attestation.AttestationID,
			AssetID: attestation.AssetID.String(),
			Type:    attestation.Type,
			Meaning: attestation.Meaning,
			TimeWindow: models.ExportWindow{
				Start: attestation.TimeWindowStart,
				End:   attestation.TimeWindowEnd,
			},
			DeclaredParameters:  attestation.DeclaredParameters,
			Confidence:          attestation.ConfidenceScore,
			Evidence:            models.ExportEvidence{Count: attestation.EvidenceCount, Digest: attestation.EvidenceDigest},
			TrustTierAtIssuance: attestation.TrustTierAtIssuance,
		},
		Signature: models.ExportSignature{
			Algorithm: attestation.SignatureAlgorithm,
			KeyID:     attestation.IssuerKeyID,
			Value:     attestation.IssuerSignature,
			PublicKey: publicPEM,
		},
		Lifecycle: models.ExportLifecycle{
			IssuedAt:  attestation.IssuedAt,
			ExpiresAt: attestation.ExpiresAt,
			Status:    attestation.Status,
		},
		Verification: models.ExportVerification{URL: attestation.VerificationURL},
	}, nil
}

func joinChecks(checks []string) string {
	out := ""
	for i, check := range checks {
		if i > 0 {
			out += ", "
		}
		out += check
	}
	return out
}
