package flowctrl

import (
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfabric/tradesrv/internal/condition"
	"github.com/quantfabric/tradesrv/internal/order"
)

// applyTarget runs every compiled rule for one target against an order.
// The first rule that triggers short-circuits the scan and is returned as
// an audit row; nil means the order passed the target. Strategy selects
// the read/write discipline; value is the delta the target charges
// (ignored by windowed limits, which charge one timestamped event).
func (s *Store) applyTarget(o *order.Order, target Target, strategy Strategy, value decimal.Decimal, now int64) *TriggerInfo {
	for _, r := range s.byTarget[target] {
		condValue, condFields, err := condition.Resolve(o, r.fields)
		if err != nil {
			s.log.Warn("skip flow ctrl rule, condition does not resolve",
				zap.String("rule", r.String()), zap.Error(err))
			continue
		}
		matched, err := condition.Matches(condFields, r.template)
		if err != nil {
			s.log.Warn("skip flow ctrl rule, condition does not line up",
				zap.String("rule", r.String()), zap.Error(err))
			continue
		}
		if !matched {
			continue
		}

		var (
			triggered bool
			details   string
		)
		switch r.LimitType {
		case LimitEachTime:
			triggered, details = checkEachTime(r, value)
		case LimitTotal:
			triggered, details = checkTotal(r, r.counterFor(condValue), strategy, value)
		case LimitWithinTime:
			triggered, details = checkWithinTime(r, r.counterFor(condValue), strategy, now)
		}

		if triggered {
			ruleTriggers.WithLabelValues(r.Target.String()).Inc()
			s.log.Warn("trigger flow ctrl rule",
				zap.String("rule", r.String()),
				zap.String("conditionValue", condValue),
				zap.String("details", details),
				zap.String("order", o.ShortString()))
			return &TriggerInfo{
				No:             r.No,
				Name:           r.Name,
				Step:           r.Step,
				Target:         r.Target,
				Condition:      r.Condition,
				ConditionValue: condValue,
				LimitType:      r.LimitType,
				Actions:        r.Actions,
				Details:        details,
				Timestamp:      now,
			}
		}
	}
	return nil
}

// checkEachTime gates a per-call scalar against the static cap. Stateless,
// so the strategy does not matter.
func checkEachTime(r *Rule, value decimal.Decimal) (bool, string) {
	if value.Cmp(r.Cap) > 0 {
		return true, fmt.Sprintf("value %s exceeds limit %s", value, r.Cap)
	}
	return false, ""
}

// checkTotal gates a per-condition-value running sum. CompareAndUpdate
// commits the delta only when it stays within the cap; Update applies it
// unconditionally (quota release passes a negative delta); Compare reads
// without mutating.
func checkTotal(r *Rule, lv *LimitValue, strategy Strategy, value decimal.Decimal) (bool, string) {
	switch strategy {
	case CompareAndUpdate:
		next := lv.Total.Add(value)
		if next.Cmp(r.Cap) > 0 {
			return true, fmt.Sprintf("total %s + value %s exceeds limit %s", lv.Total, value, r.Cap)
		}
		lv.Total = next
		lv.dirty = true

	case Update:
		lv.Total = lv.Total.Add(value)
		lv.dirty = true

	case Compare:
		if lv.Total.Cmp(r.Cap) > 0 {
			return true, fmt.Sprintf("total %s exceeds limit %s", lv.Total, r.Cap)
		}
	}
	return false, ""
}

// checkWithinTime gates a per-condition-value timestamp ring. The ring is
// always full, so "triggered" is exactly "the oldest tracked event is
// still inside the interval". CompareAndUpdate records the event only
// when it passes; Update records unconditionally; Compare only inspects.
func checkWithinTime(r *Rule, lv *LimitValue, strategy Strategy, now int64) (bool, string) {
	oldest := lv.Window.Oldest()
	triggered := now-oldest < lv.IntervalMS
	details := func() string {
		return fmt.Sprintf("%d events within %dms (limit %d/%dms)",
			r.WindowCount, now-oldest, r.WindowCount, r.IntervalMS)
	}

	switch strategy {
	case CompareAndUpdate:
		if triggered {
			return true, details()
		}
		lv.Window.Push(now)
		lv.dirty = true
	case Update:
		lv.Window.Push(now)
		lv.dirty = true
	case Compare:
		if triggered {
			return true, details()
		}
	}
	return false, ""
}
