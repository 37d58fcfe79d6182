// Package trigger compiles and evaluates hot-reloadable TriggerRules
// against per-mint aggregate snapshots.
package trigger

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rawblock/swap-sentinel/pkg/models"
)

// compiledRule is a TriggerRule whose fields have already been validated
// against models.KnownAggregateFields as a typed compilation step, so
// evaluation never does a dynamic field lookup against an unvalidated name.
type compiledRule struct {
	name       string
	enabled    bool
	conditions []models.Predicate
}

// Evaluator holds the current rule list behind an atomic pointer so reload
// is a single pointer swap with respect to concurrent evaluation.
type Evaluator struct {
	rules atomic.Pointer[[]compiledRule]
	path  string
}

// NewEvaluator loads rules from path at startup. A load failure here is
// fatal — it happens before any side effect.
func NewEvaluator(path string) (*Evaluator, error) {
	e := &Evaluator{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trigger rules %s: %w", path, err)
	}
	rules, err := parseAndValidate(raw)
	if err != nil {
		return nil, fmt.Errorf("initial trigger rules invalid: %w", err)
	}
	e.rules.Store(&rules)
	return e, nil
}

// parseAndValidate decodes a rule list and checks every predicate field
// against the known aggregate set and every operator against the known
// operator set. Validation is all-or-nothing: any single bad rule rejects
// the entire batch.
func parseAndValidate(raw []byte) ([]compiledRule, error) {
	var defs []models.TriggerRule
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("parse rule list: %w", err)
	}

	out := make([]compiledRule, 0, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("rule with empty name")
		}
		for _, c := range d.Conditions {
			if !models.KnownAggregateFields[c.Field] {
				return nil, fmt.Errorf("rule %q: unknown field %q", d.Name, c.Field)
			}
			if !validOp(c.Op) {
				return nil, fmt.Errorf("rule %q: invalid operator %q", d.Name, c.Op)
			}
		}
		out = append(out, compiledRule{
			name:       d.Name,
			enabled:    d.Enabled,
			conditions: d.Conditions,
		})
	}
	return out, nil
}

func validOp(op models.Op) bool {
	switch op {
	case models.OpGT, models.OpGTE, models.OpLT, models.OpLTE, models.OpEQ:
		return true
	default:
		return false
	}
}

// Reload re-parses the file at path and, only if it validates cleanly,
// atomically replaces the live rule list. A failed reload leaves the
// existing rules intact and returns an error for the caller to log;
// rules are never partially replaced.
func (e *Evaluator) Reload() error {
	raw, err := os.ReadFile(e.path)
	if err != nil {
		return fmt.Errorf("read trigger rules %s: %w", e.path, err)
	}
	rules, err := parseAndValidate(raw)
	if err != nil {
		return fmt.Errorf("reloaded trigger rules invalid, keeping existing: %w", err)
	}
	e.rules.Store(&rules)
	return nil
}

// Fired reports every enabled rule whose conditions all hold against
// snapshot, independent of alert cooldown — cooldown gating belongs to the
// state manager, which owns per-mint LastAlertAt.
func (e *Evaluator) Fired(snapshot models.MintSnapshot) []string {
	rules := *e.rules.Load()
	var fired []string
	for _, r := range rules {
		if !r.enabled {
			continue
		}
		if ruleHolds(r, snapshot) {
			fired = append(fired, r.name)
		}
	}
	return fired
}

func ruleHolds(r compiledRule, snapshot models.MintSnapshot) bool {
	for _, cond := range r.conditions {
		val, ok := snapshot.Field(cond.Field)
		if !ok {
			// Unreachable after validation, but fail closed rather than fire
			// on an unresolvable field.
			return false
		}
		if !compare(val, cond.Op, cond.Literal) {
			return false
		}
	}
	return true
}

// compare implements the fixed operator set. +Inf (models.RatioInfinite)
// compares greater than every finite literal, which follows directly from
// IEEE-754 double comparison semantics — no special case needed.
func compare(val float64, op models.Op, literal float64) bool {
	switch op {
	case models.OpGT:
		return val > literal
	case models.OpGTE:
		return val >= literal
	case models.OpLT:
		return val < literal
	case models.OpLTE:
		return val <= literal
	case models.OpEQ:
		return val == literal
	default:
		return false
	}
}
