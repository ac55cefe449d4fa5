package flowctrl

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfabric/tradesrv/internal/order"
	"github.com/quantfabric/tradesrv/pkg/statuscode"
)

// Recorder persists trigger audit rows. Implementations hand the row to
// the async database executor; a submission failure is the recorder's
// problem to log, never the hot path's.
type Recorder interface {
	RecordTrigger(info *TriggerInfo)
}

// TargetStates holds the per-target enable switches from config. A target
// missing from the map is enabled.
type TargetStates map[Target]bool

// Enabled reports whether checks for a target should run.
func (t TargetStates) Enabled(target Target) bool {
	if t == nil {
		return true
	}
	enabled, ok := t[target]
	return !ok || enabled
}

// Handlers are the four lifecycle step handlers gating orders and cancels
// against one worker's rule store. Like the store, a Handlers value is
// worker-private.
type Handlers struct {
	store    *Store
	targets  TargetStates
	recorder Recorder
	now      func() int64 // unix millis
	log      *zap.Logger
}

func NewHandlers(store *Store, targets TargetStates, recorder Recorder, log *zap.Logger) *Handlers {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handlers{
		store:    store,
		targets:  targets,
		recorder: recorder,
		now:      func() int64 { return time.Now().UnixMilli() },
		log:      log.Named("flowctrl"),
	}
}

// Store exposes the worker's rule store, for counter load/flush cycles.
func (h *Handlers) Store() *Store { return h.store }

// apply runs one enabled target and reports the triggering rule number,
// zero when the order passes.
func (h *Handlers) apply(o *order.Order, target Target, strategy Strategy, value decimal.Decimal) uint32 {
	if !h.targets.Enabled(target) {
		return 0
	}
	info := h.store.applyTarget(o, target, strategy, value, h.now())
	if info == nil {
		return 0
	}
	if h.recorder != nil {
		h.recorder.RecordTrigger(info)
	}
	return info.No
}

// OnOrder gates a new order. Size, amount, count, and open-deal quotas are
// charged only when they pass; reject counters are inspected without
// charge, since rejects are counted as they are observed on the ack path.
// Returns the first triggering rule number, zero on pass.
func (h *Handlers) OnOrder(o *order.Order) uint32 {
	amt := o.OrderSize.Mul(o.OrderPrice)
	one := decimal.NewFromInt(1)

	checks := []struct {
		target   Target
		strategy Strategy
		value    decimal.Decimal
	}{
		{TargetOrderSizeEachTime, CompareAndUpdate, o.OrderSize},
		{TargetOrderSizeTotal, CompareAndUpdate, o.OrderSize},
		{TargetOrderAmtEachTime, CompareAndUpdate, amt},
		{TargetOrderAmtTotal, CompareAndUpdate, amt},
		{TargetOrderTimesTotal, CompareAndUpdate, one},
		{TargetOrderTimesWithinTime, CompareAndUpdate, decimal.Zero},
		{TargetRejectOrderTimesTotal, Compare, decimal.Zero},
		{TargetRejectOrderTimesWithinTime, Compare, decimal.Zero},
		{TargetDealSizeTotal, CompareAndUpdate, o.OrderSize},
	}
	for _, c := range checks {
		if no := h.apply(o, c.target, c.strategy, c.value); no != 0 {
			return no
		}
	}
	return 0
}

// OnCancelOrder gates a cancel request against the cancel-count quotas.
func (h *Handlers) OnCancelOrder(o *order.Order) uint32 {
	if no := h.apply(o, TargetCancelOrderTimesTotal, CompareAndUpdate, decimal.NewFromInt(1)); no != 0 {
		return no
	}
	return h.apply(o, TargetCancelOrderTimesWithinTime, CompareAndUpdate, decimal.Zero)
}

// OnOrderRet observes an order ack or terminal report. It never rejects:
// it counts upstream rejects into the reject counters and releases the
// open-deal quota an order charged at submission once the order closes
// without (fully) dealing.
func (h *Handlers) OnOrderRet(o *order.Order) uint32 {
	if o.StatusCode == statuscode.ExternalSysOrderRejected {
		h.apply(o, TargetRejectOrderTimesTotal, Update, decimal.NewFromInt(1))
		h.apply(o, TargetRejectOrderTimesWithinTime, Update, decimal.Zero)
	}

	if o.Status > order.StatusFilled {
		release := o.OrderSize.Neg()
		if o.Status == order.StatusPartialFilledCanceled {
			release = o.OrderSize.Sub(o.DealSize.Abs()).Neg()
		}
		h.apply(o, TargetDealSizeTotal, Update, release)
	}
	return 0
}

// OnCancelOrderRet exists for lifecycle symmetry; no target gates cancel
// acks today.
func (h *Handlers) OnCancelOrderRet(o *order.Order) uint32 {
	return 0
}
