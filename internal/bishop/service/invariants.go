package service

import (
	"fmt"
	"reflect"

	"proveniq-ops/internal/bishop/models"
)

// checkInvariants validates handler output against the node's declared
// implications. Every invariant whose If condition holds must also satisfy
// its Then condition; the first violation wins.
func checkInvariants(nodeID string, invariants []models.Invariant, output map[string]any) error {
	for _, invariant := range invariants {
		applies, err := evalCondition(invariant.If, output)
		if err != nil {
			return &InvariantViolationError{NodeID: nodeID, Invariant: invariant, Detail: err.Error()}
		}
		if !applies {
			continue
		}

		holds, err := evalCondition(invariant.Then, output)
		if err != nil {
			return &InvariantViolationError{NodeID: nodeID, Invariant: invariant, Detail: err.Error()}
		}
		if !holds {
			return &InvariantViolationError{
				NodeID:    nodeID,
				Invariant: invariant,
				Detail: fmt.Sprintf("%s %s %v does not hold (got %v)",
					invariant.Then.Field, invariant.Then.Op, thenTarget(invariant.Then, output), output[invariant.Then.Field]),
			}
		}
	}
	return nil
}

func thenTarget(cond models.Condition, output map[string]any) any {
	if cond.FieldRef != "" {
		return output[cond.FieldRef]
	}
	return cond.Value
}

func evalCondition(cond models.Condition, output map[string]any) (bool, error) {
	left, ok := output[cond.Field]
	if !ok {
		// A condition over an absent field never applies and never holds.
		return false, nil
	}

	var right any
	if cond.FieldRef != "" {
		right, ok = output[cond.FieldRef]
		if !ok {
			return false, fmt.Errorf("referenced field %q absent from output", cond.FieldRef)
		}
	} else {
		right = cond.Value
	}

	return compare(left, right, cond.Op)
}

func compare(left, right any, op models.Op) (bool, error) {
	leftNum, leftOK := toFloat(left)
	rightNum, rightOK := toFloat(right)
	numeric := leftOK && rightOK

	switch op {
	case models.OpEq:
		if numeric {
			return leftNum == rightNum, nil
		}
		return reflect.DeepEqual(left, right), nil
	case models.OpNe:
		if numeric {
			return leftNum != rightNum, nil
		}
		return !reflect.DeepEqual(left, right), nil
	case models.OpLt, models.OpLe, models.OpGt, models.OpGe:
		if !numeric {
			return false, fmt.Errorf("operator %s requires numeric operands, got %T and %T", op, left, right)
		}
		switch op {
		case models.OpLt:
			return leftNum < rightNum, nil
		case models.OpLe:
			return leftNum <= rightNum, nil
		case models.OpGt:
			return leftNum > rightNum, nil
		default:
			return leftNum >= rightNum, nil
		}
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// toFloat widens any numeric type, including the json.Number-free decoded
// forms YAML and JSON produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
