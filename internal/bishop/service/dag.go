package service

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"proveniq-ops/internal/bishop/models"
)

// DAG is a validated, immutable node declaration set.
type DAG struct {
	Name        string
	Description string
	nodes       map[string]*models.NodeDefinition
	maxLayer    int
}

// LoadDAG reads and validates a YAML declaration file.
func LoadDAG(path string) (*DAG, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dag declaration: %w", err)
	}
	return ParseDAG(raw)
}

// ParseDAG parses and validates a YAML declaration.
func ParseDAG(raw []byte) (*DAG, error) {
	var doc models.Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, validationErrorf("parse declaration: %v", err)
	}
	if len(doc.Nodes) == 0 {
		return nil, validationErrorf("declaration contains no nodes")
	}

	dag := &DAG{
		Name:        doc.Name,
		Description: doc.Description,
		nodes:       make(map[string]*models.NodeDefinition, len(doc.Nodes)),
	}
	for nodeID, def := range doc.Nodes {
		node := def
		node.NodeID = nodeID
		dag.nodes[nodeID] = &node
		if node.Layer > dag.maxLayer {
			dag.maxLayer = node.Layer
		}
	}

	if err := dag.validate(); err != nil {
		return nil, err
	}
	return dag, nil
}

// validate enforces the structural rules: every dependency must be declared
// and live on a strictly lower layer, and every node must declare at least
// one output. Layer ordering makes cycles impossible by construction.
func (d *DAG) validate() error {
	for nodeID, node := range d.nodes {
		if len(node.Outputs) == 0 {
			return validationErrorf("node %s declares zero outputs", nodeID)
		}
		for _, dep := range node.DependsOn {
			depNode, ok := d.nodes[dep]
			if !ok {
				return validationErrorf("node %s depends on undeclared node %s", nodeID, dep)
			}
			if depNode.Layer >= node.Layer {
				return validationErrorf("node %s (layer %d) depends on %s (layer %d); dependencies must come from lower layers",
					nodeID, node.Layer, dep, depNode.Layer)
			}
		}
		for _, invariant := range node.Invariants {
			if !validOp(invariant.If.Op) || !validOp(invariant.Then.Op) {
				return validationErrorf("node %s has an invariant with an unknown operator", nodeID)
			}
			if invariant.Then.Value == nil && invariant.Then.FieldRef == "" {
				return validationErrorf("node %s has an invariant with neither value nor field_ref", nodeID)
			}
		}
	}
	return nil
}

func validOp(op models.Op) bool {
	switch op {
	case models.OpEq, models.OpNe, models.OpLt, models.OpLe, models.OpGt, models.OpGe:
		return true
	}
	return false
}

// Node returns a node declaration, or nil.
func (d *DAG) Node(nodeID string) *models.NodeDefinition {
	return d.nodes[nodeID]
}

// MaxLayer returns the highest declared layer.
func (d *DAG) MaxLayer() int {
	return d.maxLayer
}

// NodeIDs returns all node ids in a stable order.
func (d *DAG) NodeIDs() []string {
	ids := make([]string, 0, len(d.nodes))
	for nodeID := range d.nodes {
		ids = append(ids, nodeID)
	}
	sort.Strings(ids)
	return ids
}

// Layer returns the node ids on a layer in a stable order.
func (d *DAG) Layer(layer int) []string {
	var ids []string
	for nodeID, node := range d.nodes {
		if node.Layer == layer {
			ids = append(ids, nodeID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Layers returns node ids grouped by layer, lowest first.
func (d *DAG) Layers() [][]string {
	out := make([][]string, d.maxLayer+1)
	for layer := 0; layer <= d.maxLayer; layer++ {
		out[layer] = d.Layer(layer)
	}
	return out
}

// layerNames label the conventional layers in diagram exports.
var layerNames = []string{
	"Data Snapshots",
	"Signals",
	"Policy Gates",
	"Proposals",
	"Execution",
	"Telemetry",
}

// Mermaid renders the DAG as a Mermaid diagram grouped by layer.
func (d *DAG) Mermaid() string {
	lines := []string{"graph TD"}

	for layer, nodeIDs := range d.Layers() {
		name := fmt.Sprintf("Layer %d", layer)
		if layer < len(layerNames) {
			name = layerNames[layer]
		}
		lines = append(lines, fmt.Sprintf("    subgraph L%d[%s]", layer, name))
		for _, nodeID := range nodeIDs {
			lines = append(lines, fmt.Sprintf("        %s[%s]", nodeID, d.nodes[nodeID].Name))
		}
		lines = append(lines, "    end")
	}

	for _, nodeID := range d.NodeIDs() {
		for _, dep := range d.nodes[nodeID].DependsOn {
			lines = append(lines, fmt.Sprintf("    %s --> %s", dep, nodeID))
		}
	}

	return strings.Join(lines, "\n")
}
