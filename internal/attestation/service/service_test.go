package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"proveniq-ops/internal/attestation/keys"
	"proveniq-ops/internal/attestation/lock"
	"proveniq-ops/internal/attestation/models"
	"proveniq-ops/internal/attestation/store"
	"proveniq-ops/internal/downstream"
	eventsmodels "proveniq-ops/internal/events/models"
	trustmodels "proveniq-ops/internal/trust/models"
	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
	"proveniq-ops/pkg/platform/sentinel"
)

// stubTiers serves a single canned tier result.
type stubTiers struct {
	result *trustmodels.Result
}

func (s *stubTiers) GetTier(context.Context, id.AssetID) (*trustmodels.Result, error) {
	if s.result == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "no tier calculated")
	}
	return s.result, nil
}

// stubEvents serves a fixed chain.
type stubEvents struct {
	chain []*eventsmodels.Event
}

func (s *stubEvents) Chain(context.Context, id.AssetID) ([]*eventsmodels.Event, error) {
	return s.chain, nil
}

type stubIntegrity struct {
	stats trustmodels.IntegrityStats
}

func (s *stubIntegrity) IntegrityStats(context.Context, id.AssetID, id.OrgID, time.Time) (trustmodels.IntegrityStats, error) {
	return s.stats, nil
}

type stubWaivers struct {
	waiver *trustmodels.Waiver
}

func (s *stubWaivers) ActiveCap(context.Context, id.AssetID, time.Time) (*trustmodels.Waiver, error) {
	if s.waiver == nil {
		return nil, sentinel.ErrNotFound
	}
	return s.waiver, nil
}

// =============================================================================
// Attestation Service Test Suite
// =============================================================================

type AttestationServiceSuite struct {
	suite.Suite
	store     *store.MemoryStore
	tiers     *stubTiers
	events    *stubEvents
	integrity *stubIntegrity
	waivers   *stubWaivers
	notifier  *downstream.MemoryNotifier
	assetID   id.AssetID
	orgID     id.OrgID
	now       time.Time
	service   *Service
}

func TestAttestationServiceSuite(t *testing.T) {
	suite.Run(t, new(AttestationServiceSuite))
}

func (s *AttestationServiceSuite) SetupTest() {
	s.store = store.NewMemoryStore()
	s.tiers = &stubTiers{}
	s.events = &stubEvents{}
	s.integrity = &stubIntegrity{}
	s.waivers = &stubWaivers{}
	s.assetID = id.NewAssetID()
	s.orgID = id.NewOrgID()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	manager, err := keys.NewManager(keys.NewMemoryStore(), "unit-test-master-key")
	s.Require().NoError(err)

	s.notifier = downstream.NewMemoryNotifier()
	s.service = New(s.store, s.tiers, s.events, s.integrity, s.waivers,
		manager, lock.NewMemory(),
		WithClock(func() time.Time { return s.now }),
		WithNotifier(s.notifier))
}

func (s *AttestationServiceSuite) window() (time.Time, time.Time) {
	return s.now.AddDate(0, 0, -7), s.now.Add(-time.Hour)
}

// seedPlatinumAsset stages a fully eligible asset: PLATINUM tier, long
// residency, synced events every twelve hours across the window.
func (s *AttestationServiceSuite) seedPlatinumAsset() {
	s.tiers.result = &trustmodels.Result{
		AssetID:      s.assetID,
		OrgID:        s.orgID,
		Tier:         trustmodels.TierPlatinum,
		DaysInSystem: 120,
		Scores:       trustmodels.DriverScores{Composite: 0.9},
		CalculatedAt: s.now.Add(-time.Hour),
	}

	windowStart, windowEnd := s.window()
	s.events.chain = nil
	for ts := windowStart; !ts.After(windowEnd); ts = ts.Add(12 * time.Hour) {
		s.events.chain = append(s.events.chain, &eventsmodels.Event{
			EventID:        id.NewEventID(),
			EventType:      "ops.asset.telemetry",
			Timestamp:      ts,
			AssetID:        s.assetID,
			PayloadHash:    "sha256:" + ts.Format("20060102150405"),
			SyncedToLedger: true,
		})
	}
}

func (s *AttestationServiceSuite) request(attestationType models.Type) *models.Request {
	windowStart, windowEnd := s.window()
	return &models.Request{
		AssetID:            s.assetID,
		OrgID:              s.orgID,
		Type:               attestationType,
		TimeWindowStart:    windowStart,
		TimeWindowEnd:      windowEnd,
		DeclaredParameters: map[string]any{"max_temp_c": 8},
		RequestedBy:        id.NewUserID(),
	}
}

func (s *AttestationServiceSuite) TestEligibilityReportsEveryFailedCheck() {
	// Stage an asset that fails all six checks at once.
	s.tiers.result = &trustmodels.Result{
		AssetID:      s.assetID,
		Tier:         trustmodels.TierGold,
		DaysInSystem: 40,
		CalculatedAt: s.now,
	}
	s.integrity.stats = trustmodels.IntegrityStats{Unresolved: 2, Severe: 2}
	s.waivers.waiver = &trustmodels.Waiver{AssetID: s.assetID}

	windowStart, windowEnd := s.window()
	s.events.chain = []*eventsmodels.Event{
		{EventID: id.NewEventID(), Timestamp: windowStart, AssetID: s.assetID, SyncedToLedger: true},
		// Gap of several days, then an unsynced recent event.
		{EventID: id.NewEventID(), Timestamp: s.now.Add(-2 * time.Hour), AssetID: s.assetID, SyncedToLedger: false},
	}

	result, err := s.service.CheckEligibility(context.Background(), s.assetID, s.orgID,
		models.TypeOperationWithinSpec, windowStart, windowEnd)
	s.Require().NoError(err)

	s.False(result.Eligible)
	s.Len(result.Checks, 6)
	s.ElementsMatch([]string{
		models.CheckTrustTierPlatinum,
		models.CheckNoIntegrityFlags,
		models.CheckNoSecurityWaiver,
		models.CheckNoPendingLedger,
		models.CheckTelemetryContinuity,
		models.CheckTimeInSystem,
	}, result.FailedChecks)
}

func (s *AttestationServiceSuite) TestIssueRefusedBelowPlatinum() {
	s.seedPlatinumAsset()
	s.tiers.result.Tier = trustmodels.TierGold

	_, err := s.service.Issue(context.Background(), s.request(models.TypeOperationWithinSpec))
	s.Require().Error(err)

	var eligErr *EligibilityError
	s.Require().ErrorAs(err, &eligErr)
	s.Contains(eligErr.FailedChecks, models.CheckTrustTierPlatinum)

	// The refusal still leaves a request log entry.
	requests := s.store.Requests()
	s.Require().Len(requests, 1)
	s.Equal("rejected", requests[0].Status)
	s.Equal("ineligible", requests[0].EligibilityStatus)
}

func (s *AttestationServiceSuite) TestIssueAndVerify() {
	s.seedPlatinumAsset()

	attestation, err := s.service.Issue(context.Background(), s.request(models.TypeOperationWithinSpec))
	s.Require().NoError(err)

	s.NotEmpty(attestation.AttestationID)
	s.Equal(models.StatusValid, attestation.Status)
	s.Equal(len(s.events.chain), attestation.EvidenceCount)
	s.NotEmpty(attestation.EvidenceDigest)
	s.NotEmpty(attestation.IssuerSignature)
	s.Equal("Ed25519", attestation.SignatureAlgorithm)
	s.True(attestation.ExpiresAt.After(attestation.IssuedAt), "attestations always expire")
	s.Equal(attestation.IssuedAt.Add(90*24*time.Hour), attestation.ExpiresAt)
	s.InDelta(0.93, attestation.ConfidenceScore, 0.0001)

	result, err := s.service.Verify(context.Background(), attestation.AttestationID)
	s.Require().NoError(err)
	s.True(result.Valid)
	s.True(result.SignatureValid)
	s.Equal(1, s.store.VerificationCount(attestation.AttestationID))

	requests := s.store.Requests()
	s.Require().Len(requests, 1)
	s.Equal("approved", requests[0].Status)
	s.Equal(attestation.AttestationID, requests[0].AttestationID)

	notes := s.notifier.Attestations()
	s.Require().Len(notes, 1)
	s.Equal(attestation.AttestationID, notes[0].AttestationID)
	s.Equal(s.assetID.String(), notes[0].AssetID)
	s.Equal(string(models.TypeOperationWithinSpec), notes[0].AttestationType)
	s.Equal(attestation.ExpiresAt, notes[0].ExpiresAt)
}

func (s *AttestationServiceSuite) TestVerifyDetectsTampering() {
	s.seedPlatinumAsset()

	attestation, err := s.service.Issue(context.Background(), s.request(models.TypeConditionAtTime))
	s.Require().NoError(err)
	s.Require().True(s.store.Tamper(attestation.AttestationID, 0.1))

	result, err := s.service.Verify(context.Background(), attestation.AttestationID)
	s.Require().NoError(err)
	s.False(result.Valid)
	s.False(result.SignatureValid)
	s.Contains(result.Error, "Signature")
}

func (s *AttestationServiceSuite) TestVerifyExpired() {
	s.seedPlatinumAsset()

	attestation, err := s.service.Issue(context.Background(), s.request(models.TypeConditionAtTime))
	s.Require().NoError(err)

	s.now = s.now.Add(31 * 24 * time.Hour)
	result, err := s.service.Verify(context.Background(), attestation.AttestationID)
	s.Require().NoError(err)
	s.False(result.Valid)
	s.Equal("expired", result.Error)
	s.Equal(0, s.store.VerificationCount(attestation.AttestationID))
}

func (s *AttestationServiceSuite) TestDuplicateScopeRejected() {
	s.seedPlatinumAsset()

	_, err := s.service.Issue(context.Background(), s.request(models.TypeOperationWithinSpec))
	s.Require().NoError(err)

	_, err = s.service.Issue(context.Background(), s.request(models.TypeOperationWithinSpec))
	s.Require().ErrorIs(err, ErrDuplicateAttestation)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	// A different type over the same window is a distinct scope.
	_, err = s.service.Issue(context.Background(), s.request(models.TypeContinuityConfirmed))
	s.NoError(err)
}

func (s *AttestationServiceSuite) TestConcurrentIssuanceExclusion() {
	s.seedPlatinumAsset()

	const writers = 4
	results := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = s.service.Issue(context.Background(), s.request(models.TypeOperationWithinSpec))
		}(i)
	}
	wg.Wait()

	var issued, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			issued++
		case errors.Is(err, ErrDuplicateAttestation):
			rejected++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, issued)
	s.Equal(writers-1, rejected)
}

func (s *AttestationServiceSuite) TestContinuityExpiryCoversWindow() {
	s.seedPlatinumAsset()

	// A window ending well in the future stretches the expiry with it.
	request := s.request(models.TypeContinuityConfirmed)
	request.TimeWindowEnd = s.now.Add(100 * 24 * time.Hour)

	s.events.chain = nil
	for ts := request.TimeWindowStart; !ts.After(s.now); ts = ts.Add(12 * time.Hour) {
		s.events.chain = append(s.events.chain, &eventsmodels.Event{
			EventID:        id.NewEventID(),
			Timestamp:      ts,
			AssetID:        s.assetID,
			PayloadHash:    "sha256:" + ts.Format("20060102150405"),
			SyncedToLedger: true,
		})
	}

	attestation, err := s.service.Issue(context.Background(), request)
	s.Require().NoError(err)
	s.True(attestation.ExpiresAt.After(s.now.Add(99 * 24 * time.Hour)))
}

func (s *AttestationServiceSuite) TestExportCarriesVerificationKey() {
	s.seedPlatinumAsset()

	attestation, err := s.service.Issue(context.Background(), s.request(models.TypeOperationWithinSpec))
	s.Require().NoError(err)

	export, err := s.service.Export(context.Background(), attestation.AttestationID)
	s.Require().NoError(err)
	s.Equal(models.ExportFormat, export.Format)
	s.Equal(attestation.AttestationID, export.Attestation.ID)
	s.Equal(attestation.IssuerSignature, export.Signature.Value)
	s.Contains(export.Signature.PublicKey, "PUBLIC KEY")

	// The exported key verifies independently of the service.
	public, err := keys.ParsePublicKeyPEM(export.Signature.PublicKey)
	s.Require().NoError(err)
	s.Len([]byte(public), 32)
}
