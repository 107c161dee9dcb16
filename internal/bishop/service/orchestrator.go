// Package service implements the decision orchestrator: a DAG-driven
// execution engine. The declaration file is the single source of truth; no
// node runs because someone called it, nodes run because the DAG allows it.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"proveniq-ops/internal/bishop/metrics"
	"proveniq-ops/internal/bishop/models"
	"proveniq-ops/pkg/platform/canonical"
)

// Handler is a node's runtime implementation. It receives exactly the
// declared inputs and returns a map of named output fields.
type Handler func(ctx context.Context, inputs map[string]any) (map[string]any, error)

// TraceRecorder receives every execution attempt for the audit trail.
type TraceRecorder interface {
	RecordExecution(ctx context.Context, record models.ExecutionRecord)
}

type registeredNode struct {
	handler     Handler
	inputs      []string
	output      string
	sideEffects bool
}

type cacheEntry struct {
	output   map[string]any
	storedAt time.Time
	ttl      time.Duration
}

func (e *cacheEntry) fresh(now time.Time) bool {
	return now.Before(e.storedAt.Add(e.ttl))
}

// Orchestrator executes registered handlers under the declared DAG contract.
type Orchestrator struct {
	dag      *DAG
	logger   *slog.Logger
	metrics  *metrics.Metrics
	recorder TraceRecorder
	tracer   trace.Tracer
	now      func() time.Time

	mu       sync.RWMutex
	handlers map[string]*registeredNode
	cache    map[string]*cacheEntry
	failed   map[string]bool
	log      []models.ExecutionRecord

	group singleflight.Group
}

type Option func(o *Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTraceRecorder(recorder TraceRecorder) Option {
	return func(o *Orchestrator) { o.recorder = recorder }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator builds an orchestrator over a validated DAG.
func NewOrchestrator(dag *DAG, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		dag:      dag,
		logger:   slog.Default(),
		tracer:   otel.Tracer("proveniq-ops/bishop"),
		now:      time.Now,
		handlers: make(map[string]*registeredNode),
		cache:    make(map[string]*cacheEntry),
		failed:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DAG exposes the declaration the orchestrator runs against.
func (o *Orchestrator) DAG() *DAG {
	return o.dag
}

// RegisterNode binds a handler to a declared node. The handler's inputs and
// side-effect declaration must match the DAG exactly; any drift between the
// governance contract and the executable behavior is a boot failure.
func (o *Orchestrator) RegisterNode(nodeID string, handler Handler, inputs []string, output string, sideEffects bool) error {
	node := o.dag.Node(nodeID)
	if node == nil {
		return validationErrorf("node %s not declared in the dag", nodeID)
	}
	if !sameSet(inputs, node.Inputs) {
		return validationErrorf("node %s inputs mismatch: declared %v, registered %v", nodeID, node.Inputs, inputs)
	}
	if sideEffects != node.HasSideEffects() {
		return validationErrorf("node %s side_effects mismatch: declared %v, registered %v",
			nodeID, node.SideEffects, sideEffects)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[nodeID] = &registeredNode{
		handler:     handler,
		inputs:      inputs,
		output:      output,
		sideEffects: sideEffects,
	}
	return nil
}

// contextHash produces the deterministic cache key component for a node's
// input subset.
func contextHash(inputs map[string]any) (string, error) {
	serialized, err := canonical.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("hash node inputs: %w", err)
	}
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:])[:16], nil
}

// ExecuteNode runs one node if the DAG allows it. Concurrent calls with the
// same (node, context) coalesce into a single handler invocation; force
// bypasses both the cache and the coalescing.
func (o *Orchestrator) ExecuteNode(ctx context.Context, nodeID string, execContext map[string]any, force bool) (map[string]any, error) {
	node := o.dag.Node(nodeID)
	if node == nil {
		return nil, validationErrorf("node %s not declared in the dag", nodeID)
	}

	o.mu.RLock()
	registered := o.handlers[nodeID]
	o.mu.RUnlock()
	if registered == nil {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNodeNotRegistered)
	}

	inputs, missing := o.requiredInputs(node, execContext)
	missing = append(missing, o.unsatisfiedDeps(node)...)
	if len(missing) > 0 {
		return nil, &MissingDependencyError{NodeID: nodeID, Missing: missing}
	}

	hash, err := contextHash(inputs)
	if err != nil {
		return nil, err
	}
	key := nodeID + ":" + hash

	if !force && node.Cacheable {
		if cached := o.cachedOutput(key); cached != nil {
			if o.metrics != nil {
				o.metrics.IncrementCacheHits(nodeID)
			}
			return cached, nil
		}
	}

	if force {
		output, err := o.runNode(ctx, node, registered, key, hash, inputs)
		if err != nil {
			return nil, err
		}
		return cloneOutput(output), nil
	}

	result, err, _ := o.group.Do(key, func() (any, error) {
		// Re-check under coalescing: a racing caller may have populated
		// the cache while this one waited.
		if node.Cacheable {
			if cached := o.cachedOutput(key); cached != nil {
				return cached, nil
			}
		}
		return o.runNode(ctx, node, registered, key, hash, inputs)
	})
	if err != nil {
		return nil, err
	}
	return cloneOutput(result.(map[string]any)), nil
}

func (o *Orchestrator) runNode(ctx context.Context, node *models.NodeDefinition, registered *registeredNode, key, hash string, inputs map[string]any) (map[string]any, error) {
	ctx, span := o.tracer.Start(ctx, "bishop.execute_node",
		trace.WithAttributes(
			attribute.String("node_id", node.NodeID),
			attribute.Int("layer", node.Layer),
			attribute.String("context_hash", hash),
		))
	defer span.End()

	record := models.ExecutionRecord{
		ExecutionID: uuid.New(),
		NodeID:      node.NodeID,
		Status:      models.StatusRunning,
		ContextHash: hash,
		StartedAt:   o.now().UTC(),
	}

	started := time.Now()
	output, err := registered.handler(ctx, inputs)
	elapsed := time.Since(started)

	record.CompletedAt = o.now().UTC()
	record.DurationMs = elapsed.Milliseconds()

	if err == nil {
		err = checkInvariants(node.NodeID, node.Invariants, output)
		var violation *InvariantViolationError
		if errors.As(err, &violation) && o.metrics != nil {
			o.metrics.IncrementInvariantViolations(node.NodeID)
		}
	}
	if err != nil {
		record.Status = models.StatusFailed
		record.Error = err.Error()
		o.finishExecution(ctx, node.NodeID, record, true)
		o.logger.WarnContext(ctx, "node execution failed",
			"node_id", node.NodeID, "context_hash", hash, "error", err)
		return nil, err
	}

	o.mu.Lock()
	if node.Cacheable {
		o.cache[key] = &cacheEntry{
			output:   output,
			storedAt: o.now(),
			ttl:      time.Duration(node.TTLSeconds) * time.Second,
		}
	}
	o.mu.Unlock()

	record.Status = models.StatusCompleted
	o.finishExecution(ctx, node.NodeID, record, false)
	if o.metrics != nil {
		o.metrics.ObserveExecutionDuration(node.NodeID, elapsed.Seconds())
	}
	return output, nil
}

func (o *Orchestrator) finishExecution(ctx context.Context, nodeID string, record models.ExecutionRecord, failed bool) {
	o.mu.Lock()
	o.failed[nodeID] = failed
	o.log = append(o.log, record)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.IncrementExecutions(nodeID, string(record.Status))
	}
	if o.recorder != nil {
		o.recorder.RecordExecution(ctx, record)
	}
}

// requiredInputs extracts the declared input subset from the execution
// context, reporting absent keys.
func (o *Orchestrator) requiredInputs(node *models.NodeDefinition, execContext map[string]any) (map[string]any, []string) {
	inputs := make(map[string]any, len(node.Inputs))
	var missing []string
	for _, key := range node.Inputs {
		value, ok := execContext[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		inputs[key] = value
	}
	return inputs, missing
}

// unsatisfiedDeps returns upstream nodes with no fresh output. Cacheable
// upstreams satisfy through a fresh cache entry; non-cacheable upstreams
// leave no cache entry, so a successful run this process counts instead.
func (o *Orchestrator) unsatisfiedDeps(node *models.NodeDefinition) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	now := o.now()
	var missing []string
	for _, dep := range node.DependsOn {
		satisfied := false
		for key, entry := range o.cache {
			if strings.HasPrefix(key, dep+":") && entry.fresh(now) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			if depNode := o.dag.Node(dep); depNode != nil && !depNode.Cacheable {
				failed, ran := o.failed[dep]
				satisfied = ran && !failed
			}
		}
		if !satisfied {
			missing = append(missing, dep)
		}
	}
	return missing
}

func (o *Orchestrator) cachedOutput(key string) map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()

	entry, ok := o.cache[key]
	if !ok || !entry.fresh(o.now()) {
		return nil
	}
	return cloneOutput(entry.output)
}

// ExecuteLayer runs every registered node on a layer against the context.
// Nodes with unsatisfied dependencies are skipped, not failed.
func (o *Orchestrator) ExecuteLayer(ctx context.Context, layer int, execContext map[string]any) (map[string]map[string]any, error) {
	results := make(map[string]map[string]any)
	for _, nodeID := range o.dag.Layer(layer) {
		o.mu.RLock()
		_, registered := o.handlers[nodeID]
		o.mu.RUnlock()
		if !registered {
			continue
		}

		output, err := o.ExecuteNode(ctx, nodeID, execContext, false)
		if err != nil {
			var missingDep *MissingDependencyError
			if errors.As(err, &missingDep) {
				continue
			}
			return nil, err
		}
		results[nodeID] = output
	}
	return results, nil
}

// ExecuteDAG runs all layers in order, feeding each node's named output
// fields into the context for downstream layers.
func (o *Orchestrator) ExecuteDAG(ctx context.Context, initial map[string]any) (map[string]any, error) {
	execContext := make(map[string]any, len(initial))
	for key, value := range initial {
		execContext[key] = value
	}

	for layer := 0; layer <= o.dag.MaxLayer(); layer++ {
		results, err := o.ExecuteLayer(ctx, layer, execContext)
		if err != nil {
			return nil, err
		}
		for _, output := range results {
			for field, value := range output {
				execContext[field] = value
			}
		}
	}
	return execContext, nil
}

// NodeStatus reports a node's observable state from its cache and failure
// history.
func (o *Orchestrator) NodeStatus(nodeID string) models.NodeStatus {
	node := o.dag.Node(nodeID)
	if node == nil {
		return models.StatusBlocked
	}

	o.mu.RLock()
	failed := o.failed[nodeID]
	var hasFresh, hasAny bool
	now := o.now()
	for key, entry := range o.cache {
		if !strings.HasPrefix(key, nodeID+":") {
			continue
		}
		hasAny = true
		if entry.fresh(now) {
			hasFresh = true
			break
		}
	}
	o.mu.RUnlock()

	switch {
	case failed:
		return models.StatusFailed
	case hasFresh:
		return models.StatusCompleted
	case hasAny:
		return models.StatusStale
	case len(o.unsatisfiedDeps(node)) == 0:
		return models.StatusReady
	default:
		return models.StatusBlocked
	}
}

// Health summarizes all node states.
func (o *Orchestrator) Health() models.Health {
	health := models.Health{
		NodesTotal: len(o.dag.NodeIDs()),
		Statuses:   make(map[string]models.NodeStatus),
	}
	for _, nodeID := range o.dag.NodeIDs() {
		status := o.NodeStatus(nodeID)
		health.Statuses[nodeID] = status
		switch status {
		case models.StatusCompleted:
			health.NodesCompleted++
		case models.StatusStale:
			health.NodesStale++
		case models.StatusBlocked:
			health.NodesBlocked++
		case models.StatusFailed:
			health.NodesFailed++
		}
	}

	o.mu.RLock()
	health.CacheSize = len(o.cache)
	health.ExecutionLogSize = len(o.log)
	o.mu.RUnlock()

	health.Healthy = health.NodesFailed == 0
	return health
}

// InvalidateCache drops cached outputs for one node, or all nodes when
// nodeID is empty. Returns the number of entries removed.
func (o *Orchestrator) InvalidateCache(nodeID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	var removed int
	for key := range o.cache {
		if nodeID == "" || strings.HasPrefix(key, nodeID+":") {
			delete(o.cache, key)
			removed++
		}
	}
	return removed
}

// ExecutionLog returns a copy of all execution records, oldest first.
func (o *Orchestrator) ExecutionLog() []models.ExecutionRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]models.ExecutionRecord, len(o.log))
	copy(out, o.log)
	return out
}

func cloneOutput(output map[string]any) map[string]any {
	clone := make(map[string]any, len(output))
	for key, value := range output {
		clone[key] = value
	}
	return clone
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, item := range a {
		set[item] = struct{}{}
	}
	for _, item := range b {
		if _, ok := set[item]; !ok {
			return false
		}
	}
	return true
}
