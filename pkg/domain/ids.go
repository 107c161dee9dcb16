package domain

import (
	"github.com/google/uuid"

	dErrors "proveniq-ops/pkg/domain-errors"
)

// Typed identifiers for the governance core. Wrapping uuid.UUID keeps the
// different ID spaces from being mixed up at call sites.
//
// Usage: construct via the Parse helpers at trust boundaries to enforce the
// "valid, non-nil UUID" invariant; direct casting bypasses validation.
type (
	AssetID uuid.UUID
	OrgID   uuid.UUID
	EventID uuid.UUID
	TraceID uuid.UUID
	UserID  uuid.UUID
)

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

func ParseAssetID(s string) (AssetID, error) {
	u, err := parseUUID(s)
	return AssetID(u), err
}

func ParseOrgID(s string) (OrgID, error) {
	u, err := parseUUID(s)
	return OrgID(u), err
}

func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s)
	return EventID(u), err
}

func ParseTraceID(s string) (TraceID, error) {
	u, err := parseUUID(s)
	return TraceID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s)
	return UserID(u), err
}

func NewAssetID() AssetID { return AssetID(uuid.New()) }
func NewOrgID() OrgID     { return OrgID(uuid.New()) }
func NewEventID() EventID { return EventID(uuid.New()) }
func NewTraceID() TraceID { return TraceID(uuid.New()) }
func NewUserID() UserID   { return UserID(uuid.New()) }

func (id AssetID) String() string { return uuid.UUID(id).String() }
func (id OrgID) String() string   { return uuid.UUID(id).String() }
func (id EventID) String() string { return uuid.UUID(id).String() }
func (id TraceID) String() string { return uuid.UUID(id).String() }
func (id UserID) String() string  { return uuid.UUID(id).String() }

func (id AssetID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id OrgID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TraceID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// Text marshalling keeps the wrappers JSON-compatible with plain UUID
// strings. Defined types do not inherit uuid.UUID's methods.

func (id AssetID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id OrgID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id TraceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id UserID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }

func (id *AssetID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = AssetID(u)
	return err
}

func (id *OrgID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = OrgID(u)
	return err
}

func (id *EventID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = EventID(u)
	return err
}

func (id *TraceID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = TraceID(u)
	return err
}

func (id *UserID) UnmarshalText(b []byte) error {
	u, err := uuid.ParseBytes(b)
	*id = UserID(u)
	return err
}
