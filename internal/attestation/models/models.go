package models

import (
	"time"

	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
)

// Type enumerates the three authorized attestation types. No custom types.
type Type string

const (
	TypeOperationWithinSpec Type = "OPERATION_WITHIN_SPEC"
	TypeConditionAtTime     Type = "CONDITION_AT_TIME"
	TypeContinuityConfirmed Type = "CONTINUITY_CONFIRMED"
)

var typeMeanings = map[Type]string{
	TypeOperationWithinSpec: "Operated within declared parameters during the time window",
	TypeConditionAtTime:     "Condition observed at a specific point in time",
	TypeContinuityConfirmed: "No detected gaps in declared telemetry/evidence",
}

// Meaning returns the descriptive statement the attestation makes. The
// language is deliberately observational, never prescriptive.
func (t Type) Meaning() string {
	return typeMeanings[t]
}

// Valid reports whether t is one of the authorized types.
func (t Type) Valid() bool {
	_, ok := typeMeanings[t]
	return ok
}

// ParseType validates a wire-format attestation type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown attestation type %q", s)
	}
	return t, nil
}

// Status is the attestation lifecycle state.
type Status string

const (
	StatusValid      Status = "valid"
	StatusExpired    Status = "expired"
	StatusSuperseded Status = "superseded"
)

// SignatureAlgorithm is the only signing algorithm in use.
const SignatureAlgorithm = "Ed25519"

// Check is the outcome of a single named eligibility check.
type Check struct {
	CheckName string `json:"check_name"`
	Passed    bool   `json:"passed"`
	Reason    string `json:"reason"`
	Value     any    `json:"value,omitempty"`
}

// Names of the eligibility checks, in evaluation order.
const (
	CheckTrustTierPlatinum   = "trust_tier_platinum"
	CheckNoIntegrityFlags    = "no_integrity_flags"
	CheckNoSecurityWaiver    = "no_security_waiver"
	CheckNoPendingLedger     = "no_pending_ledger"
	CheckTelemetryContinuity = "telemetry_continuity"
	CheckTimeInSystem        = "time_in_system"
)

// EligibilityResult is the full assessment. Ineligibility is a normal
// outcome, reported as data rather than an error.
type EligibilityResult struct {
	AssetID      id.AssetID `json:"asset_id"`
	Eligible     bool       `json:"eligible"`
	Checks       []Check    `json:"checks"`
	FailedChecks []string   `json:"failed_checks"`
	TrustTier    *int       `json:"trust_tier,omitempty"`
	Message      string     `json:"message"`
}

// Request asks for an attestation over a time window.
type Request struct {
	AssetID            id.AssetID     `json:"asset_id"`
	OrgID              id.OrgID       `json:"org_id"`
	Type               Type           `json:"attestation_type"`
	TimeWindowStart    time.Time      `json:"time_window_start"`
	TimeWindowEnd      time.Time      `json:"time_window_end"`
	DeclaredParameters map[string]any `json:"declared_parameters"`
	RequestedBy        id.UserID      `json:"requested_by"`
}

// Validate rejects structurally broken requests before any store access.
func (r *Request) Validate() error {
	if r.AssetID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "asset_id is required")
	}
	if !r.Type.Valid() {
		return dErrors.Newf(dErrors.CodeInvalidInput, "unknown attestation type %q", r.Type)
	}
	if !r.TimeWindowEnd.After(r.TimeWindowStart) {
		return dErrors.New(dErrors.CodeInvalidInput, "time window end must be after start")
	}
	return nil
}

// Attestation is a signed, time-bound statement about what the event log
// proves. Immutable once issued.
type Attestation struct {
	AttestationID string     `json:"attestation_id"`
	AssetID       id.AssetID `json:"asset_id"`
	OrgID         id.OrgID   `json:"org_id"`
	Type          Type       `json:"attestation_type"`
	Meaning       string     `json:"attestation_meaning"`

	TimeWindowStart time.Time `json:"time_window_start"`
	TimeWindowEnd   time.Time `json:"time_window_end"`

	DeclaredParameters map[string]any `json:"declared_parameters"`
	ConfidenceScore    float64        `json:"confidence_score"`
	EvidenceEventIDs   []id.EventID   `json:"evidence_event_ids"`
	EvidenceCount      int            `json:"evidence_count"`
	EvidenceDigest     string         `json:"evidence_digest"`

	TrustTierAtIssuance int `json:"trust_tier_at_issuance"`

	IssuerKeyID        string `json:"issuer_key_id"`
	IssuerSignature    string `json:"issuer_signature"`
	SignatureAlgorithm string `json:"signature_algorithm"`

	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    Status    `json:"status"`

	VerificationURL string `json:"verification_url,omitempty"`
}

// VerificationResult is the outcome of an offline verification pass.
type VerificationResult struct {
	Valid          bool           `json:"valid"`
	SignatureValid bool           `json:"signature_valid"`
	Data           map[string]any `json:"data,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// RequestRecord logs every attestation request, approved or not.
type RequestRecord struct {
	AssetID           id.AssetID `json:"asset_id"`
	OrgID             id.OrgID   `json:"org_id"`
	RequestedBy       id.UserID  `json:"requested_by"`
	Type              Type       `json:"attestation_type"`
	TimeWindowStart   time.Time  `json:"time_window_start"`
	TimeWindowEnd     time.Time  `json:"time_window_end"`
	EligibilityStatus string     `json:"eligibility_status"`
	Checks            []Check    `json:"eligibility_checks"`
	FailedChecks      []string   `json:"failed_checks,omitempty"`
	Status            string     `json:"status"`
	AttestationID     string     `json:"attestation_id,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	RequestedAt       time.Time  `json:"requested_at"`
}

// ListFilter narrows an attestation listing.
type ListFilter struct {
	AssetID id.AssetID
	OrgID   id.OrgID
	Type    Type
	Status  Status
	Limit   int
}

// Export is the offline-verifiable interchange document.
type Export struct {
	Format       string             `json:"format"`
	Attestation  ExportBody         `json:"attestation"`
	Signature    ExportSignature    `json:"signature"`
	Lifecycle    ExportLifecycle    `json:"lifecycle"`
	Verification ExportVerification `json:"verification"`
}

// ExportFormat identifies the interchange document version.
const ExportFormat = "proveniq-ops-attestation-v1"

type ExportBody struct {
	ID                  string         `json:"id"`
	AssetID             string         `json:"asset_id"`
	Type                Type           `json:"type"`
	Meaning             string         `json:"meaning"`
	TimeWindow          ExportWindow   `json:"time_window"`
	DeclaredParameters  map[string]any `json:"declared_parameters"`
	Confidence          float64        `json:"confidence"`
	Evidence            ExportEvidence `json:"evidence"`
	TrustTierAtIssuance int            `json:"trust_tier_at_issuance"`
}

type ExportWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type ExportEvidence struct {
	Count  int    `json:"count"`
	Digest string `json:"digest"`
}

type ExportSignature struct {
	Algorithm string `json:"algorithm"`
	KeyID     string `json:"key_id"`
	Value     string `json:"value"`
	PublicKey string `json:"public_key_pem,omitempty"`
}

type ExportLifecycle struct {
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Status    Status    `json:"status"`
}

type ExportVerification struct {
	URL string `json:"url"`
}
