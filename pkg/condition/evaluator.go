// Package condition evaluates template and action conditions against a target snapshot.
package condition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/congrega/flows/pkg/models"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Policy decides the outcome of predicate shapes the evaluator does not recognise.
type Policy string

const (
	// FailOpen treats unknown predicates as satisfied so a misconfigured template still runs.
	FailOpen Policy = "fail-open"
	// FailClosed treats unknown predicates as unsatisfied.
	FailClosed Policy = "fail-closed"
)

// ParsePolicy converts a flag value to a Policy.
func ParsePolicy(value string) (Policy, error) {
	switch Policy(strings.ToLower(value)) {
	case FailOpen, "":
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("unknown condition policy %q", value)
	}
}

// ErrNotBoolean is returned when an expression does not produce a boolean.
var ErrNotBoolean = errors.New("expression did not evaluate to a boolean")

// Evaluator tests conditions. Expression predicates are compiled once and cached.
type Evaluator struct {
	policy Policy
	logger *slog.Logger

	mu       sync.RWMutex
	programs map[string]*vm.Program
}

// NewEvaluator creates an evaluator applying policy to unknown predicate shapes.
func NewEvaluator(logger *slog.Logger, policy Policy) *Evaluator {
	if policy == "" {
		policy = FailOpen
	}

	return &Evaluator{
		policy:   policy,
		logger:   logger.With("module", "condition"),
		programs: make(map[string]*vm.Program),
	}
}

// Policy returns the configured unknown-predicate policy.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// Evaluate reports whether cond holds for snapshot. A nil condition always holds.
func (e *Evaluator) Evaluate(ctx context.Context, cond *models.Condition, snapshot map[string]any) (bool, error) {
	if cond == nil {
		return true, nil
	}

	switch cond.Type {
	case models.PredicateEquals:
		value, ok := Lookup(snapshot, cond.Field)
		if !ok {
			return false, nil
		}

		return equal(value, cond.Value), nil
	case models.PredicateRange:
		value, ok := lookupNumber(snapshot, cond.Field)
		if !ok {
			return false, nil
		}

		if cond.Min != nil && value < *cond.Min {
			return false, nil
		}

		if cond.Max != nil && value > *cond.Max {
			return false, nil
		}

		return true, nil
	case models.PredicateThreshold:
		value, ok := lookupNumber(snapshot, cond.Field)
		if !ok {
			return false, nil
		}

		limit, ok := models.ToFloat(cond.Value)
		if !ok {
			return e.unknown(ctx, cond, "threshold value is not numeric"), nil
		}

		return compare(value, cond.Op, limit, func() bool {
			return e.unknown(ctx, cond, "unknown threshold operator")
		}), nil
	case models.PredicateExpression:
		return e.evaluateExpression(cond.Expression, snapshot)
	case models.PredicateAll:
		for _, nested := range cond.Conditions {
			ok, err := e.Evaluate(ctx, nested, snapshot)
			if err != nil || !ok {
				return false, err
			}
		}

		return true, nil
	case models.PredicateAny:
		for _, nested := range cond.Conditions {
			ok, err := e.Evaluate(ctx, nested, snapshot)
			if err != nil {
				return false, err
			}

			if ok {
				return true, nil
			}
		}

		return len(cond.Conditions) == 0, nil
	default:
		return e.unknown(ctx, cond, "unknown predicate type"), nil
	}
}

func (e *Evaluator) unknown(ctx context.Context, cond *models.Condition, reason string) bool {
	e.logger.WarnContext(ctx, "Unrecognised condition, applying policy",
		"type", cond.Type, "field", cond.Field, "reason", reason, "policy", e.policy)

	return e.policy == FailOpen
}

// Compile checks that every expression in cond compiles.
func (e *Evaluator) Compile(cond *models.Condition) error {
	if cond == nil {
		return nil
	}

	switch cond.Type {
	case models.PredicateExpression:
		if _, err := e.program(cond.Expression); err != nil {
			return fmt.Errorf("%w: condition expression: %v", models.ErrInvalidConfiguration, err)
		}
	case models.PredicateAll, models.PredicateAny:
		for _, nested := range cond.Conditions {
			if err := e.Compile(nested); err != nil {
				return err
			}
		}
	}

	return nil
}

func (e *Evaluator) evaluateExpression(expression string, snapshot map[string]any) (bool, error) {
	program, err := e.program(expression)
	if err != nil {
		return false, fmt.Errorf("failed to compile expression: %w", err)
	}

	output, err := expr.Run(program, snapshot)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, ErrNotBoolean
	}

	return result, nil
}

func (e *Evaluator) program(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if program, ok := e.programs[expression]; ok {
		e.mu.RUnlock()

		return program, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if program, ok := e.programs[expression]; ok {
		return program, nil
	}

	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}

	e.programs[expression] = program

	return program, nil
}

// Lookup resolves a dotted field path ("event.title") in a snapshot.
func Lookup(snapshot map[string]any, field string) (any, bool) {
	var current any = snapshot

	for _, part := range strings.Split(field, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, current != nil
}

func lookupNumber(snapshot map[string]any, field string) (float64, bool) {
	value, ok := Lookup(snapshot, field)
	if !ok {
		return 0, false
	}

	return models.ToFloat(value)
}

func equal(actual, expected any) bool {
	if a, ok := models.ToFloat(actual); ok {
		if b, ok := models.ToFloat(expected); ok {
			return a == b
		}
	}

	if a, ok := actual.(string); ok {
		if b, ok := expected.(string); ok {
			return a == b
		}
	}

	return reflect.DeepEqual(actual, expected)
}

func compare(value float64, op models.ComparisonOp, limit float64, otherwise func() bool) bool {
	switch op {
	case models.OpGTE:
		return value >= limit
	case models.OpLTE:
		return value <= limit
	case models.OpGT:
		return value > limit
	case models.OpLT:
		return value < limit
	default:
		return otherwise()
	}
}
