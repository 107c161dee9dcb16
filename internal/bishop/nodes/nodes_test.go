package nodes_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"proveniq-ops/internal/bishop"
	"proveniq-ops/internal/bishop/nodes"
	"proveniq-ops/internal/events"
	eventstore "proveniq-ops/internal/events/store"
	"proveniq-ops/internal/ledger"
	id "proveniq-ops/pkg/domain"
)

// The suite loads the DAG declaration shipped with the repo so the handler
// bindings and the YAML can never drift apart unnoticed.
const shippedDAGPath = "../../../governance/bishop_dag.yaml"

type NodesSuite struct {
	suite.Suite

	ctx          context.Context
	events       *events.Service
	bridge       *ledger.MemoryBridge
	orchestrator *bishop.Orchestrator
	assetID      id.AssetID
}

func TestNodesSuite(t *testing.T) {
	suite.Run(t, new(NodesSuite))
}

func (s *NodesSuite) SetupTest() {
	s.ctx = context.Background()
	s.events = events.New(eventstore.NewMemory())
	s.bridge = ledger.NewMemoryBridge(50_000_000)
	s.assetID = id.NewAssetID()

	dag, err := bishop.LoadDAG(shippedDAGPath)
	s.Require().NoError(err)
	s.orchestrator = bishop.New(dag)
	s.Require().NoError(nodes.New(s.events, s.bridge).Register(s.orchestrator))
}

func (s *NodesSuite) appendScan(count int) {
	_, err := s.events.Append(s.ctx, events.AppendInput{
		EventType: "INVENTORY_SCAN",
		AssetID:   s.assetID,
		Payload:   map[string]any{"count": count},
	})
	s.Require().NoError(err)
}

func (s *NodesSuite) execute(orderTotalMicros int64) map[string]any {
	final, err := s.orchestrator.ExecuteDAG(s.ctx, map[string]any{
		"asset_id":           s.assetID.String(),
		"order_total_micros": float64(orderTotalMicros),
	})
	s.Require().NoError(err)
	return final
}

func (s *NodesSuite) TestLowStockApprovedAndExecuted() {
	s.appendScan(5)

	final := s.execute(10_000_000)

	s.InDelta(0.95, final["risk_score"], 1e-9)
	s.Equal("HIGH", final["severity"])
	s.Equal(true, final["approved"])
	s.Equal("reorder", final["recommendation"])
	s.Equal(true, final["executed"])
	s.Equal(true, final["recorded"])

	// The execution node appended the order to the chain.
	eventID, err := id.ParseEventID(final["execution_event_id"].(string))
	s.Require().NoError(err)
	event, err := s.events.GetByID(s.ctx, eventID)
	s.Require().NoError(err)
	s.Equal("ORDER_SUBMITTED", event.EventType)
	s.Equal(final["proposal_id"], event.Payload["proposal_id"])
}

func (s *NodesSuite) TestHealthyStockHoldsTheOrder() {
	s.appendScan(90)

	final := s.execute(10_000_000)

	s.InDelta(0.1, final["risk_score"], 1e-9)
	s.Equal("NORMAL", final["severity"])
	s.Equal(false, final["approved"])
	s.Equal("hold", final["recommendation"])
	s.Equal(false, final["executed"])
	s.Equal(false, final["recorded"])
}

func (s *NodesSuite) TestInsufficientFundsBlockTheGate() {
	s.appendScan(5)
	s.bridge.SetBalance(1_000_000)

	final := s.execute(10_000_000)

	s.Equal(true, final["risk_score"].(float64) >= 0.5)
	s.Equal(false, final["approved"])
	s.Equal("hold", final["recommendation"])
}

func (s *NodesSuite) TestReexecutionDoesNotDuplicateTheOrder() {
	s.appendScan(5)

	first := s.execute(10_000_000)
	s.Equal(true, first["approved"])

	// Re-run the execution node with the same proposal. The idempotency
	// key collapses both runs onto one chain entry.
	out, err := s.orchestrator.ExecuteNode(s.ctx, "order_execution", map[string]any{
		"asset_id":           s.assetID.String(),
		"proposal_id":        first["proposal_id"],
		"recommendation":     "reorder",
		"order_total_micros": float64(10_000_000),
	}, true)
	s.Require().NoError(err)
	s.Equal(first["execution_event_id"], out["execution_event_id"])
}

func (s *NodesSuite) TestMissingAssetIDFailsTheSnapshot() {
	_, err := s.orchestrator.ExecuteNode(s.ctx, "inventory_snapshot", map[string]any{}, false)
	s.Error(err)
}
