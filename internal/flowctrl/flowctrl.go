// Package flowctrl implements the pre-trade flow-control engine: compiled
// limit rules scoped by condition templates, per-condition-value counters,
// and the lifecycle step handlers that gate every order and cancel.
package flowctrl

import (
	"fmt"
	"strings"
)

// Step is the lifecycle stage a rule is enforced at.
type Step uint8

const (
	StepBeforeServer Step = iota + 1
	StepInServer
)

func (s Step) String() string {
	switch s {
	case StepBeforeServer:
		return "BeforeTradeSrv"
	case StepInServer:
		return "InTradeSrv"
	}
	return "Others"
}

// ParseStep maps the persisted symbol to a Step.
func ParseStep(s string) (Step, error) {
	switch s {
	case "BeforeTradeSrv":
		return StepBeforeServer, nil
	case "InTradeSrv":
		return StepInServer, nil
	}
	return 0, fmt.Errorf("invalid flow ctrl step %q", s)
}

// Target is the metric a rule limits.
type Target uint8

const (
	TargetOrderSizeEachTime Target = iota + 1
	TargetOrderSizeTotal
	TargetOrderAmtEachTime
	TargetOrderAmtTotal
	TargetOrderTimesTotal
	TargetOrderTimesWithinTime
	TargetCancelOrderTimesTotal
	TargetCancelOrderTimesWithinTime
	TargetRejectOrderTimesTotal
	TargetRejectOrderTimesWithinTime
	TargetDealSizeTotal

	targetSentinel // keep last
)

var targetNames = map[Target]string{
	TargetOrderSizeEachTime:          "OrderSizeEachTime",
	TargetOrderSizeTotal:             "OrderSizeTotal",
	TargetOrderAmtEachTime:           "OrderAmtEachTime",
	TargetOrderAmtTotal:              "OrderAmtTotal",
	TargetOrderTimesTotal:            "OrderTimesTotal",
	TargetOrderTimesWithinTime:       "OrderTimesWithinTime",
	TargetCancelOrderTimesTotal:      "CancelOrderTimesTotal",
	TargetCancelOrderTimesWithinTime: "CancelOrderTimesWithinTime",
	TargetRejectOrderTimesTotal:      "RejectOrderTimesTotal",
	TargetRejectOrderTimesWithinTime: "RejectOrderTimesWithinTime",
	TargetDealSizeTotal:              "DealSizeTotal",
}

func (t Target) String() string {
	if name, ok := targetNames[t]; ok {
		return name
	}
	return "Others"
}

// ParseTarget maps the persisted symbol to a Target.
func ParseTarget(s string) (Target, error) {
	for t, name := range targetNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("invalid flow ctrl target %q", s)
}

// Targets enumerates every known target, for config iteration.
func Targets() []Target {
	out := make([]Target, 0, int(targetSentinel)-1)
	for t := TargetOrderSizeEachTime; t < targetSentinel; t++ {
		out = append(out, t)
	}
	return out
}

// Action is what a triggered rule does.
type Action uint8

const (
	ActionRejectOrder Action = iota + 1
	ActionPubTopic
)

func (a Action) String() string {
	switch a {
	case ActionRejectOrder:
		return "RejectOrder"
	case ActionPubTopic:
		return "PubTopic"
	}
	return "Others"
}

// ParseActions parses an "&"-joined action list.
func ParseActions(s string) ([]Action, error) {
	if s == "" {
		return nil, fmt.Errorf("empty flow ctrl action")
	}
	var out []Action
	for _, tok := range strings.Split(s, "&") {
		switch tok {
		case "RejectOrder":
			out = append(out, ActionRejectOrder)
		case "PubTopic":
			out = append(out, ActionPubTopic)
		default:
			return nil, fmt.Errorf("invalid flow ctrl action %q", tok)
		}
	}
	return out, nil
}

// LimitType is the evaluation strategy of a rule, derived from its target.
type LimitType uint8

const (
	// LimitEachTime compares the per-call value against the cap, statelessly.
	LimitEachTime LimitType = iota + 1
	// LimitTotal keeps a per-condition-value running sum against the cap.
	LimitTotal
	// LimitWithinTime keeps a per-condition-value ring of event timestamps.
	LimitWithinTime
)

func (t LimitType) String() string {
	switch t {
	case LimitEachTime:
		return "NumLimitEachTime"
	case LimitTotal:
		return "NumLimitTotal"
	case LimitWithinTime:
		return "NumLimitWithinTime"
	}
	return "Others"
}

// limitTypeOf is the fixed target -> limit-type table.
var limitTypeOf = map[Target]LimitType{
	TargetOrderSizeEachTime:          LimitEachTime,
	TargetOrderSizeTotal:             LimitTotal,
	TargetOrderAmtEachTime:           LimitEachTime,
	TargetOrderAmtTotal:              LimitTotal,
	TargetOrderTimesTotal:            LimitTotal,
	TargetOrderTimesWithinTime:       LimitWithinTime,
	TargetCancelOrderTimesTotal:      LimitTotal,
	TargetCancelOrderTimesWithinTime: LimitWithinTime,
	TargetRejectOrderTimesTotal:      LimitTotal,
	TargetRejectOrderTimesWithinTime: LimitWithinTime,
	TargetDealSizeTotal:              LimitTotal,
}

// LimitTypeOf derives the limit type for a target.
func LimitTypeOf(target Target) (LimitType, error) {
	if lt, ok := limitTypeOf[target]; ok {
		return lt, nil
	}
	return 0, fmt.Errorf("no limit type for target %q", target)
}

// Strategy selects the read/write discipline of a single check.
type Strategy uint8

const (
	// CompareAndUpdate commits the delta/event only when it does not trigger.
	CompareAndUpdate Strategy = iota + 1
	// Compare inspects without mutating.
	Compare
	// Update applies unconditionally and never triggers (quota release,
	// counting observed events).
	Update
)
