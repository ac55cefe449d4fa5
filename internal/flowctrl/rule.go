package flowctrl

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/quantfabric/tradesrv/internal/condition"
)

// RuleDef is one rule definition row as persisted in durable storage.
// Enums are stored by their symbolic names and parsed at compile time.
type RuleDef struct {
	No         uint32
	Name       string
	Step       string
	Target     string
	Condition  string
	LimitValue string
	Action     string
}

// Rule is one compiled flow-control rule plus its per-condition-value
// counters. Counters are the only part mutated after compile, and only
// ever by the worker that owns the store.
type Rule struct {
	No      uint32
	Name    string
	Step    Step
	Target  Target
	Actions []Action

	// Condition is the normalized scoping template text, with the
	// routing fields guaranteed present.
	Condition string
	fields    []string
	template  condition.Template

	LimitType   LimitType
	Cap         decimal.Decimal // LimitEachTime / LimitTotal
	WindowCount int             // LimitWithinTime
	IntervalMS  int64

	counters map[string]*LimitValue
}

// HasAction reports whether the rule carries the given trigger action.
func (r *Rule) HasAction(a Action) bool {
	for _, action := range r.Actions {
		if action == a {
			return true
		}
	}
	return false
}

// LimitText renders the configured static limit for logs and audit rows.
func (r *Rule) LimitText() string {
	if r.LimitType == LimitWithinTime {
		return fmt.Sprintf("%d/%dms", r.WindowCount, r.IntervalMS)
	}
	return r.Cap.String()
}

func (r *Rule) String() string {
	return fmt.Sprintf("[no: %d name: %s step: %s target: %s condition: %s limit: %s]",
		r.No, r.Name, r.Step, r.Target, r.Condition, r.LimitText())
}

// counterFor returns the counter tracked for a concrete condition value,
// lazily creating one shaped by the rule's limit type.
func (r *Rule) counterFor(conditionValue string) *LimitValue {
	if lv, ok := r.counters[conditionValue]; ok {
		return lv
	}
	var lv *LimitValue
	if r.LimitType == LimitWithinTime {
		lv = newWindowLimitValue(r.WindowCount, r.IntervalMS)
	} else {
		lv = newScalarLimitValue()
	}
	r.counters[conditionValue] = lv
	return lv
}

// CounterRec is one persisted counter row, keyed by rule number and
// concrete condition value. Payload is the LimitValue Encode form.
type CounterRec struct {
	RuleNo         uint32
	ConditionValue string
	Payload        string
}

// TriggerInfo is the audit row recorded when a rule triggers.
type TriggerInfo struct {
	No             uint32
	Name           string
	Step           Step
	Target         Target
	Condition      string
	ConditionValue string
	LimitType      LimitType
	Actions        []Action
	Details        string
	Timestamp      int64 // unix millis
}
