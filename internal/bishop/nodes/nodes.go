// Package nodes binds the declared governance DAG to the live services.
// Each handler here implements one node of governance/bishop_dag.yaml.
package nodes

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"proveniq-ops/internal/bishop"
	"proveniq-ops/internal/events"
	eventmodels "proveniq-ops/internal/events/models"
	"proveniq-ops/internal/ledger"
	id "proveniq-ops/pkg/domain"
	dErrors "proveniq-ops/pkg/domain-errors"
)

// Registry holds the service dependencies the node handlers close over.
type Registry struct {
	events *events.Service
	bridge ledger.Bridge
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger.With("component", "bishop_nodes") }
}

// New builds a Registry over the event log and the ledger bridge.
func New(eventsSvc *events.Service, bridge ledger.Bridge, opts ...Option) *Registry {
	r := &Registry{
		events: eventsSvc,
		bridge: bridge,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register attaches every handler to the orchestrator. Node IDs and
// declared inputs must match the shipped DAG declaration.
func (r *Registry) Register(o *bishop.Orchestrator) error {
	type binding struct {
		nodeID      string
		handler     bishop.Handler
		inputs      []string
		output      string
		sideEffects bool
	}
	bindings := []binding{
		{"inventory_snapshot", r.inventorySnapshot, []string{"asset_id"}, "stock_levels", false},
		{"telemetry_snapshot", r.telemetrySnapshot, []string{"asset_id"}, "reading_count", false},
		{"stockout_risk", r.stockoutRisk, []string{"stock_levels"}, "risk_score", false},
		{"order_policy_gate", r.orderPolicyGate, []string{"risk_score", "order_total_micros"}, "approved", false},
		{"order_proposal", r.orderProposal, []string{"approved", "risk_score", "order_total_micros"}, "proposal_id", false},
		{"order_execution", r.orderExecution, []string{"asset_id", "proposal_id", "recommendation", "order_total_micros"}, "execution_event_id", true},
		{"outcome_telemetry", r.outcomeTelemetry, []string{"execution_event_id"}, "recorded", false},
	}
	for _, b := range bindings {
		if err := o.RegisterNode(b.nodeID, b.handler, b.inputs, b.output, b.sideEffects); err != nil {
			return err
		}
	}
	return nil
}

// inventorySnapshot reads the asset's recent chain and surfaces the latest
// counted stock level from INVENTORY_SCAN events.
func (r *Registry) inventorySnapshot(ctx context.Context, in map[string]any) (map[string]any, error) {
	assetID, err := assetIDInput(in)
	if err != nil {
		return nil, err
	}
	timeline, err := r.events.ForensicTimeline(ctx, eventmodels.TimelineFilter{AssetID: assetID, Limit: 200})
	if err != nil {
		return nil, err
	}

	var stockLevels float64
	var lastScanAt time.Time
	for _, event := range timeline {
		if event.EventType != "INVENTORY_SCAN" {
			continue
		}
		if event.Timestamp.After(lastScanAt) {
			lastScanAt = event.Timestamp
			stockLevels = floatValue(event.Payload["count"])
		}
	}

	out := map[string]any{"stock_levels": stockLevels}
	if !lastScanAt.IsZero() {
		out["last_scan_at"] = lastScanAt.Format(time.RFC3339)
	}
	return out, nil
}

// telemetrySnapshot counts recent sensor readings for the asset.
func (r *Registry) telemetrySnapshot(ctx context.Context, in map[string]any) (map[string]any, error) {
	assetID, err := assetIDInput(in)
	if err != nil {
		return nil, err
	}
	timeline, err := r.events.ForensicTimeline(ctx, eventmodels.TimelineFilter{AssetID: assetID, Limit: 200})
	if err != nil {
		return nil, err
	}

	var readings int
	var lastReadingAt time.Time
	for _, event := range timeline {
		if event.EventType != "TEMPERATURE_READING" {
			continue
		}
		readings++
		if event.Timestamp.After(lastReadingAt) {
			lastReadingAt = event.Timestamp
		}
	}

	out := map[string]any{"reading_count": readings}
	if !lastReadingAt.IsZero() {
		out["last_reading_at"] = lastReadingAt.Format(time.RFC3339)
	}
	return out, nil
}

// stockoutRisk scores depletion risk from the current stock level. A full
// hundred units scores zero; an empty shelf scores one.
func (r *Registry) stockoutRisk(_ context.Context, in map[string]any) (map[string]any, error) {
	stock := floatValue(in["stock_levels"])
	risk := 1 - stock/100
	if risk < 0 {
		risk = 0
	}
	if risk > 1 {
		risk = 1
	}

	severity := "NORMAL"
	switch {
	case risk >= 0.8:
		severity = "HIGH"
	case risk >= 0.5:
		severity = "ELEVATED"
	}
	return map[string]any{"risk_score": risk, "severity": severity}, nil
}

// orderPolicyGate approves a reorder only when the risk warrants it and the
// ledger balance covers the order total.
func (r *Registry) orderPolicyGate(ctx context.Context, in map[string]any) (map[string]any, error) {
	risk := floatValue(in["risk_score"])
	total := int64(floatValue(in["order_total_micros"]))

	balance, err := r.bridge.CheckBalance(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "ledger balance check failed")
	}

	approved := risk >= 0.5 && total > 0 && balance.AvailableMicros >= total
	// order_total_micros is echoed so the declared invariant can compare
	// the approved amount against the available balance.
	return map[string]any{
		"approved":                 approved,
		"available_balance_micros": float64(balance.AvailableMicros),
		"order_total_micros":       float64(total),
	}, nil
}

// orderProposal shapes the gate's verdict into a recommendation.
func (r *Registry) orderProposal(_ context.Context, in map[string]any) (map[string]any, error) {
	approved, _ := in["approved"].(bool)
	recommendation := "hold"
	if approved {
		recommendation = "reorder"
	}
	return map[string]any{
		"proposal_id":    uuid.NewString(),
		"recommendation": recommendation,
	}, nil
}

// orderExecution appends the submitted order to the event log. The proposal
// ID doubles as the idempotency key so re-execution never duplicates orders.
func (r *Registry) orderExecution(ctx context.Context, in map[string]any) (map[string]any, error) {
	assetID, err := assetIDInput(in)
	if err != nil {
		return nil, err
	}
	proposalID, _ := in["proposal_id"].(string)
	if proposalID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "proposal_id is required")
	}
	if recommendation, _ := in["recommendation"].(string); recommendation != "reorder" {
		return map[string]any{"execution_event_id": "", "executed": false}, nil
	}

	event, err := r.events.Append(ctx, events.AppendInput{
		EventType: "ORDER_SUBMITTED",
		AssetID:   assetID,
		Payload: map[string]any{
			"proposal_id":        proposalID,
			"order_total_micros": int64(floatValue(in["order_total_micros"])),
		},
		IdempotencyKey: "proposal:" + proposalID,
	})
	if err != nil {
		return nil, err
	}
	r.logger.InfoContext(ctx, "order submitted",
		"asset_id", assetID.String(),
		"event_id", event.EventID.String())
	return map[string]any{"execution_event_id": event.EventID.String(), "executed": true}, nil
}

// outcomeTelemetry confirms the executed order is readable from the chain.
// A held order carries no execution event and records nothing.
func (r *Registry) outcomeTelemetry(ctx context.Context, in map[string]any) (map[string]any, error) {
	raw, _ := in["execution_event_id"].(string)
	if raw == "" {
		return map[string]any{"recorded": false}, nil
	}
	eventID, err := id.ParseEventID(raw)
	if err != nil {
		return nil, err
	}
	if _, err := r.events.GetByID(ctx, eventID); err != nil {
		return nil, err
	}
	return map[string]any{"recorded": true}, nil
}

func assetIDInput(in map[string]any) (id.AssetID, error) {
	raw, _ := in["asset_id"].(string)
	assetID, err := id.ParseAssetID(raw)
	if err != nil {
		return id.AssetID{}, dErrors.New(dErrors.CodeInvalidInput, "asset_id must be a valid UUID")
	}
	return assetID, nil
}

// floatValue tolerates the numeric types a JSON round trip or a literal
// context map may carry.
func floatValue(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}
