package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PredicateType is the shape of a condition.
type PredicateType string

const (
	PredicateEquals     PredicateType = "equals"
	PredicateRange      PredicateType = "range"
	PredicateThreshold  PredicateType = "threshold"
	PredicateExpression PredicateType = "expression"
	PredicateAll        PredicateType = "all"
	PredicateAny        PredicateType = "any"
)

// ComparisonOp is the operator of a threshold predicate.
type ComparisonOp string

const (
	OpGTE ComparisonOp = "gte"
	OpLTE ComparisonOp = "lte"
	OpGT  ComparisonOp = "gt"
	OpLT  ComparisonOp = "lt"
)

// Condition is a tagged union of predicates tested against a target snapshot.
//
//	{"type":"equals","field":"status","value":"ACTIVE"}
//	{"type":"range","field":"age","min":18,"max":30}
//	{"type":"threshold","field":"amount","op":"gte","value":100}
//	{"type":"expression","expression":"status == 'ACTIVE' && age >= 18"}
//	{"type":"all","conditions":[...]}
type Condition struct {
	Type       PredicateType `json:"type"`
	Field      string        `json:"field,omitempty"`
	Value      any           `json:"value,omitempty"`
	Min        *float64      `json:"min,omitempty"`
	Max        *float64      `json:"max,omitempty"`
	Op         ComparisonOp  `json:"op,omitempty"`
	Expression string        `json:"expression,omitempty"`
	Conditions []*Condition  `json:"conditions,omitempty"`
}

// Validate checks that the fields required by the predicate shape are present.
func (c *Condition) Validate() error {
	if c == nil {
		return nil
	}

	switch c.Type {
	case PredicateEquals:
		if c.Field == "" {
			return invalidCondition("equals requires field")
		}
	case PredicateRange:
		if c.Field == "" {
			return invalidCondition("range requires field")
		}

		if c.Min == nil && c.Max == nil {
			return invalidCondition("range requires min or max")
		}

		if c.Min != nil && c.Max != nil && *c.Min > *c.Max {
			return invalidCondition("range min is greater than max")
		}
	case PredicateThreshold:
		if c.Field == "" {
			return invalidCondition("threshold requires field")
		}

		switch c.Op {
		case OpGTE, OpLTE, OpGT, OpLT:
		default:
			return invalidCondition(fmt.Sprintf("unknown threshold operator %q", c.Op))
		}

		if _, ok := ToFloat(c.Value); !ok {
			return invalidCondition("threshold value must be numeric")
		}
	case PredicateExpression:
		if c.Expression == "" {
			return invalidCondition("expression requires expression")
		}
	case PredicateAll, PredicateAny:
		if len(c.Conditions) == 0 {
			return invalidCondition(string(c.Type) + " requires conditions")
		}

		var errs []error
		for _, nested := range c.Conditions {
			errs = append(errs, nested.Validate())
		}

		return errors.Join(errs...)
	default:
		return invalidCondition(fmt.Sprintf("unknown predicate type %q", c.Type))
	}

	return nil
}

func invalidCondition(message string) error {
	return fmt.Errorf("%w: condition: %s", ErrInvalidConfiguration, message)
}

// ToFloat converts JSON-decoded numeric values (and numeric strings) to float64.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}

		return f, true
	default:
		return 0, false
	}
}
