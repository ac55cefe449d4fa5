package flowctrl

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/quantfabric/tradesrv/internal/condition"
	"github.com/quantfabric/tradesrv/pkg/statuscode"
)

// Store is a compiled rule index plus its counters. Each dispatch worker
// owns a private Store, so nothing here takes a lock; routing by the
// condition value of the shared routing fields guarantees all traffic for
// one logical counter lands on one worker.
type Store struct {
	byNo     map[uint32]*Rule
	byTarget map[Target][]*Rule
	log      *zap.Logger
}

// Compile builds a Store from persisted rule definitions. A definition
// with an unknown enum symbol or malformed condition/limit text is logged
// and excluded; it never aborts the rest of the load. A rule whose
// condition fields are not covered by the routing field set would let two
// workers track disjoint views of the same counter, so that case fails
// the whole compile.
func Compile(defs []RuleDef, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("flowctrl")

	routingFields, err := condition.ParseFieldList(condition.RoutingFields)
	if err != nil {
		return nil, fmt.Errorf("parse routing fields: %w", err)
	}

	s := &Store{
		byNo:     make(map[uint32]*Rule, len(defs)),
		byTarget: make(map[Target][]*Rule),
		log:      log,
	}

	for _, def := range defs {
		r, code, err := compileRule(def)
		if err != nil {
			log.Warn("exclude flow ctrl rule",
				zap.Uint32("no", def.No),
				zap.String("name", def.Name),
				zap.Int("statusCode", code),
				zap.String("reason", statuscode.Message(code)),
				zap.Error(err))
			continue
		}
		if !condition.IsSubset(r.fields, routingFields) {
			return nil, fmt.Errorf(
				"rule %d condition fields %v exceed routing fields %q; counters would split across workers",
				r.No, r.fields, condition.RoutingFields)
		}
		if _, exists := s.byNo[r.No]; exists {
			log.Warn("exclude flow ctrl rule with duplicate number", zap.Uint32("no", r.No))
			continue
		}
		s.byNo[r.No] = r
		s.byTarget[r.Target] = append(s.byTarget[r.Target], r)
		log.Info("load flow ctrl rule", zap.String("rule", r.String()))
	}
	return s, nil
}

// compileRule builds one rule, classifying any failure with the matching
// flow-control configuration status code.
func compileRule(def RuleDef) (*Rule, int, error) {
	step, err := ParseStep(def.Step)
	if err != nil {
		return nil, statuscode.InvalidFlowCtrlStep, err
	}
	target, err := ParseTarget(def.Target)
	if err != nil {
		return nil, statuscode.InvalidFlowCtrlTarget, err
	}
	actions, err := ParseActions(def.Action)
	if err != nil {
		return nil, statuscode.InvalidFlowCtrlAction, err
	}
	limitType, err := LimitTypeOf(target)
	if err != nil {
		return nil, statuscode.InvalidFlowCtrlTarget, err
	}
	capValue, count, intervalMS, err := parseLimitCap(limitType, def.LimitValue)
	if err != nil {
		return nil, statuscode.InvalidFlowCtrlLimitValue, err
	}

	condText := condition.EnsureRequiredFields(def.Condition, condition.RoutingFields)
	tpl, err := condition.ParseTemplate(condText)
	if err != nil {
		return nil, statuscode.InvalidCondition, err
	}

	return &Rule{
		No:          def.No,
		Name:        def.Name,
		Step:        step,
		Target:      target,
		Actions:     actions,
		Condition:   condText,
		fields:      tpl.Fields(),
		template:    tpl,
		LimitType:   limitType,
		Cap:         capValue,
		WindowCount: count,
		IntervalMS:  intervalMS,
		counters:    make(map[string]*LimitValue),
	}, statuscode.OK, nil
}

// Rule returns the compiled rule with the given number.
func (s *Store) Rule(no uint32) (*Rule, bool) {
	r, ok := s.byNo[no]
	return r, ok
}

// RulesFor returns the compiled rules for a target. Evaluation order
// within a target is arbitrary; no priority scheme is implied.
func (s *Store) RulesFor(target Target) []*Rule { return s.byTarget[target] }

// Len returns the number of compiled rules.
func (s *Store) Len() int { return len(s.byNo) }

// Load merges previously persisted counters into the compiled rules.
// Rows for unknown rules, undecodable payloads, or payloads shaped for a
// different limit type are logged and dropped.
func (s *Store) Load(counters []CounterRec) {
	for _, rec := range counters {
		r, ok := s.byNo[rec.RuleNo]
		if !ok {
			s.log.Warn("drop counter for unknown flow ctrl rule",
				zap.Uint32("no", rec.RuleNo),
				zap.String("conditionValue", rec.ConditionValue))
			continue
		}
		lv, err := DecodeLimitValue(rec.Payload)
		if err != nil {
			s.log.Warn("drop undecodable flow ctrl counter",
				zap.Uint32("no", rec.RuleNo),
				zap.String("conditionValue", rec.ConditionValue),
				zap.Error(err))
			continue
		}
		if lv.Kind != r.LimitType {
			s.log.Warn("drop flow ctrl counter with mismatched shape",
				zap.Uint32("no", rec.RuleNo),
				zap.String("conditionValue", rec.ConditionValue),
				zap.String("want", r.LimitType.String()),
				zap.String("got", lv.Kind.String()))
			continue
		}
		r.counters[rec.ConditionValue] = lv
	}
}

// Save drains the counters mutated since the last call, clearing their
// dirty flags, and returns them in persisted-row form.
func (s *Store) Save() []CounterRec {
	var out []CounterRec
	for no, r := range s.byNo {
		for condValue, lv := range r.counters {
			if !lv.dirty {
				continue
			}
			lv.dirty = false
			out = append(out, CounterRec{
				RuleNo:         no,
				ConditionValue: condValue,
				Payload:        lv.Encode(),
			})
		}
	}
	return out
}
