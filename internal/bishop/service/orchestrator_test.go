package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"proveniq-ops/internal/bishop/models"
)

const testDeclaration = `
name: decision-governance-test
description: three-layer reorder pipeline
nodes:
  inventory_snapshot:
    layer: 0
    name: Inventory Snapshot
    description: snapshot current stock levels
    inputs: [org_id]
    outputs: [inventory_levels]
    cacheable: true
    ttl_seconds: 60
  stockout_risk:
    layer: 1
    name: Stockout Risk
    description: score stockout risk from stock levels
    depends_on: [inventory_snapshot]
    inputs: [inventory_levels]
    outputs: [stockout_risks]
    cacheable: true
    ttl_seconds: 60
    invariants:
      - if: {field: confidence, op: lt, value: 0.6}
        then: {field: severity, op: eq, value: WARNING}
  submit_order:
    layer: 2
    name: Submit Order
    description: submit the reorder to the vendor
    depends_on: [stockout_risk]
    inputs: [stockout_risks]
    outputs: [order_receipt]
    side_effects: [append_events]
    cacheable: false
    ttl_seconds: 0
    invariants:
      - if: {field: approved, op: eq, value: true}
        then: {field: available_balance, op: ge, field_ref: order_total}
`

// =============================================================================
// DAG Validation
// =============================================================================

func TestDAGValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{
			name: "undeclared dependency",
			yaml: `
nodes:
  a:
    layer: 1
    depends_on: [ghost]
    outputs: [x]
`,
		},
		{
			name: "dependency on equal layer",
			yaml: `
nodes:
  a:
    layer: 1
    outputs: [x]
  b:
    layer: 1
    depends_on: [a]
    outputs: [y]
`,
		},
		{
			name: "dependency on higher layer",
			yaml: `
nodes:
  a:
    layer: 2
    outputs: [x]
  b:
    layer: 1
    depends_on: [a]
    outputs: [y]
`,
		},
		{
			name: "zero outputs",
			yaml: `
nodes:
  a:
    layer: 0
    outputs: []
`,
		},
		{
			name: "unknown invariant operator",
			yaml: `
nodes:
  a:
    layer: 0
    outputs: [x]
    invariants:
      - if: {field: x, op: matches, value: 1}
        then: {field: x, op: eq, value: 1}
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseDAG([]byte(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			var validationErr *DAGValidationError
			if !asValidationError(err, &validationErr) {
				t.Fatalf("expected DAGValidationError, got %T: %v", err, err)
			}
		})
	}
}

func asValidationError(err error, target **DAGValidationError) bool {
	v, ok := err.(*DAGValidationError)
	if ok {
		*target = v
	}
	return ok
}

// =============================================================================
// Orchestrator Test Suite
// =============================================================================

type OrchestratorSuite struct {
	suite.Suite
	dag  *DAG
	now  time.Time
	orch *Orchestrator
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	dag, err := ParseDAG([]byte(testDeclaration))
	s.Require().NoError(err)
	s.dag = dag
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.orch = NewOrchestrator(dag, WithClock(func() time.Time { return s.now }))
}

func (s *OrchestratorSuite) registerSnapshot(calls *atomic.Int64) {
	err := s.orch.RegisterNode("inventory_snapshot",
		func(_ context.Context, inputs map[string]any) (map[string]any, error) {
			if calls != nil {
				calls.Add(1)
			}
			return map[string]any{"inventory_levels": map[string]any{"sku-1": 4}}, nil
		},
		[]string{"org_id"}, "inventory_levels", false)
	s.Require().NoError(err)
}

func (s *OrchestratorSuite) TestRegistrationMustMatchDeclaration() {
	noop := func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return map[string]any{}, nil
	}

	s.Run("unknown node", func() {
		err := s.orch.RegisterNode("ghost", noop, nil, "x", false)
		s.IsType(&DAGValidationError{}, err)
	})

	s.Run("inputs mismatch", func() {
		err := s.orch.RegisterNode("inventory_snapshot", noop, []string{"org_id", "extra"}, "inventory_levels", false)
		s.IsType(&DAGValidationError{}, err)
	})

	s.Run("side effects mismatch", func() {
		err := s.orch.RegisterNode("submit_order", noop, []string{"stockout_risks"}, "order_receipt", false)
		s.IsType(&DAGValidationError{}, err)
	})

	s.Run("exact match registers", func() {
		err := s.orch.RegisterNode("submit_order", noop, []string{"stockout_risks"}, "order_receipt", true)
		s.NoError(err)
	})
}

func (s *OrchestratorSuite) TestUnregisteredNodeRefused() {
	_, err := s.orch.ExecuteNode(context.Background(), "inventory_snapshot", map[string]any{"org_id": "o1"}, false)
	s.Require().ErrorIs(err, ErrNodeNotRegistered)
}

func (s *OrchestratorSuite) TestMissingDependency() {
	var calls atomic.Int64
	s.registerSnapshot(&calls)
	err := s.orch.RegisterNode("stockout_risk",
		func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return map[string]any{"stockout_risks": []any{}, "confidence": 0.9, "severity": "INFO"}, nil
		},
		[]string{"inventory_levels"}, "stockout_risks", false)
	s.Require().NoError(err)

	// Upstream has never run: the context key is supplied but the declared
	// dependency has no fresh output.
	_, err = s.orch.ExecuteNode(context.Background(), "stockout_risk",
		map[string]any{"inventory_levels": map[string]any{}}, false)
	var missingDep *MissingDependencyError
	s.Require().ErrorAs(err, &missingDep)
	s.Equal([]string{"inventory_snapshot"}, missingDep.Missing)

	// A missing context key is reported too.
	_, err = s.orch.ExecuteNode(context.Background(), "inventory_snapshot", map[string]any{}, false)
	s.Require().ErrorAs(err, &missingDep)
	s.Equal([]string{"org_id"}, missingDep.Missing)
}

func (s *OrchestratorSuite) TestCacheInvokesHandlerExactlyOnce() {
	var calls atomic.Int64
	s.registerSnapshot(&calls)
	ctx := context.Background()
	execContext := map[string]any{"org_id": "org-1"}

	first, err := s.orch.ExecuteNode(ctx, "inventory_snapshot", execContext, false)
	s.Require().NoError(err)
	second, err := s.orch.ExecuteNode(ctx, "inventory_snapshot", execContext, false)
	s.Require().NoError(err)

	s.Equal(int64(1), calls.Load(), "second call must come from cache")
	s.Equal(first, second)

	// force bypasses the cache: exactly two invocations across three calls.
	_, err = s.orch.ExecuteNode(ctx, "inventory_snapshot", execContext, true)
	s.Require().NoError(err)
	s.Equal(int64(2), calls.Load())

	// A different context is a different cache key.
	_, err = s.orch.ExecuteNode(ctx, "inventory_snapshot", map[string]any{"org_id": "org-2"}, false)
	s.Require().NoError(err)
	s.Equal(int64(3), calls.Load())
}

func (s *OrchestratorSuite) TestCacheExpiresAfterTTL() {
	var calls atomic.Int64
	s.registerSnapshot(&calls)
	ctx := context.Background()
	execContext := map[string]any{"org_id": "org-1"}

	_, err := s.orch.ExecuteNode(ctx, "inventory_snapshot", execContext, false)
	s.Require().NoError(err)

	s.now = s.now.Add(61 * time.Second)
	_, err = s.orch.ExecuteNode(ctx, "inventory_snapshot", execContext, false)
	s.Require().NoError(err)
	s.Equal(int64(2), calls.Load())
}

func (s *OrchestratorSuite) TestConcurrentExecutionsCoalesce() {
	var calls atomic.Int64
	err := s.orch.RegisterNode("inventory_snapshot",
		func(_ context.Context, _ map[string]any) (map[string]any, error) {
			calls.Add(1)
			time.Sleep(20 * time.Millisecond)
			return map[string]any{"inventory_levels": map[string]any{"sku-1": 4}}, nil
		},
		[]string{"org_id"}, "inventory_levels", false)
	s.Require().NoError(err)

	const callers = 8
	outputs := make([]map[string]any, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			output, err := s.orch.ExecuteNode(context.Background(), "inventory_snapshot",
				map[string]any{"org_id": "org-1"}, false)
			s.NoError(err)
			outputs[slot] = output
		}(i)
	}
	wg.Wait()

	s.Equal(int64(1), calls.Load(), "coalesced callers share one handler invocation")
	for _, output := range outputs {
		s.Equal(outputs[0], output)
	}
}

func (s *OrchestratorSuite) TestInvariantViolationFailsNode() {
	s.registerSnapshot(nil)
	var calls atomic.Int64
	err := s.orch.RegisterNode("stockout_risk",
		func(_ context.Context, _ map[string]any) (map[string]any, error) {
			calls.Add(1)
			// Low confidence must downgrade severity; this output does not.
			return map[string]any{"stockout_risks": []any{}, "confidence": 0.4, "severity": "CRITICAL"}, nil
		},
		[]string{"inventory_levels"}, "stockout_risks", false)
	s.Require().NoError(err)

	ctx := context.Background()
	_, err = s.orch.ExecuteNode(ctx, "inventory_snapshot", map[string]any{"org_id": "org-1"}, false)
	s.Require().NoError(err)

	execContext := map[string]any{"inventory_levels": map[string]any{}}
	_, err = s.orch.ExecuteNode(ctx, "stockout_risk", execContext, false)
	var violation *InvariantViolationError
	s.Require().ErrorAs(err, &violation)
	s.Equal("stockout_risk", violation.NodeID)
	s.Equal(models.StatusFailed, s.orch.NodeStatus("stockout_risk"))

	// Violating output is never cached: the handler runs again.
	_, err = s.orch.ExecuteNode(ctx, "stockout_risk", execContext, false)
	s.Require().ErrorAs(err, &violation)
	s.Equal(int64(2), calls.Load())
}

func (s *OrchestratorSuite) TestCrossFieldInvariant() {
	s.registerSnapshot(nil)
	err := s.orch.RegisterNode("stockout_risk",
		func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return map[string]any{"stockout_risks": []any{"sku-1"}, "confidence": 0.9, "severity": "INFO"}, nil
		},
		[]string{"inventory_levels"}, "stockout_risks", false)
	s.Require().NoError(err)

	approved := true
	balance := 100.0
	err = s.orch.RegisterNode("submit_order",
		func(_ context.Context, _ map[string]any) (map[string]any, error) {
			return map[string]any{
				"order_receipt":     "r-1",
				"approved":          approved,
				"available_balance": balance,
				"order_total":       250.0,
			}, nil
		},
		[]string{"stockout_risks"}, "order_receipt", true)
	s.Require().NoError(err)

	ctx := context.Background()
	final, err := s.orch.ExecuteDAG(ctx, map[string]any{"org_id": "org-1"})
	var violation *InvariantViolationError
	s.Require().ErrorAs(err, &violation)
	s.Nil(final)
	s.Equal("submit_order", violation.NodeID)

	// With enough balance the same implication holds.
	s.orch.InvalidateCache("")
	balance = 500.0
	final, err = s.orch.ExecuteDAG(ctx, map[string]any{"org_id": "org-1"})
	s.Require().NoError(err)
	s.Equal("r-1", final["order_receipt"])
}

func (s *OrchestratorSuite) TestExecuteDAGFeedsOutputsDownstream() {
	var snapshotCalls, riskCalls atomic.Int64
	s.registerSnapshot(&snapshotCalls)
	err := s.orch.RegisterNode("stockout_risk",
		func(_ context.Context, inputs map[string]any) (map[string]any, error) {
			riskCalls.Add(1)
			s.Contains(inputs, "inventory_levels")
			return map[string]any{"stockout_risks": []any{"sku-1"}, "confidence": 0.9, "severity": "INFO"}, nil
		},
		[]string{"inventory_levels"}, "stockout_risks", false)
	s.Require().NoError(err)

	final, err := s.orch.ExecuteDAG(context.Background(), map[string]any{"org_id": "org-1"})
	s.Require().NoError(err)

	s.Equal(int64(1), snapshotCalls.Load())
	s.Equal(int64(1), riskCalls.Load())
	s.Contains(final, "inventory_levels")
	s.Contains(final, "stockout_risks")

	log := s.orch.ExecutionLog()
	s.Len(log, 2)
	s.Equal(models.StatusCompleted, log[0].Status)
}

func (s *OrchestratorSuite) TestHealthAndInvalidation() {
	s.registerSnapshot(nil)

	health := s.orch.Health()
	s.Equal(3, health.NodesTotal)
	s.True(health.Healthy)
	s.Equal(models.StatusReady, health.Statuses["inventory_snapshot"])
	s.Equal(models.StatusBlocked, health.Statuses["stockout_risk"])

	_, err := s.orch.ExecuteNode(context.Background(), "inventory_snapshot", map[string]any{"org_id": "org-1"}, false)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, s.orch.NodeStatus("inventory_snapshot"))
	s.Equal(models.StatusReady, s.orch.NodeStatus("stockout_risk"))

	s.now = s.now.Add(61 * time.Second)
	s.Equal(models.StatusStale, s.orch.NodeStatus("inventory_snapshot"))

	removed := s.orch.InvalidateCache("inventory_snapshot")
	s.Equal(1, removed)
	s.Equal(models.StatusReady, s.orch.NodeStatus("inventory_snapshot"))
}

func (s *OrchestratorSuite) TestMermaidExport() {
	diagram := s.dag.Mermaid()
	s.Contains(diagram, "graph TD")
	s.Contains(diagram, "subgraph L0[Data Snapshots]")
	s.Contains(diagram, "inventory_snapshot --> stockout_risk")
	s.Contains(diagram, "stockout_risk --> submit_order")
}
