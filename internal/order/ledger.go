package order

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

var (
	// ErrDuplicateOrderID is returned by Admit when the order id is taken.
	ErrDuplicateOrderID = errors.New("order id already exists in ledger")
	// ErrOrderNotFound is returned by lookups and reconcile wrappers.
	ErrOrderNotFound = errors.New("order not found in ledger")
)

// Ledger is the concurrent, multiply-indexed store of order records and
// the only mutator of order state. Lookups return owned snapshots so
// callers can read, log or forward them without holding the lock; writes
// go through the reconcile wrappers which stamp a fresh sequence number.
//
// Indexes: order id (unique), exchange order id (non-unique — venues may
// reuse ids over time), and (market, exchange order id) which is unique
// in practice since exchange ids are per-market.
type Ledger struct {
	mu sync.Mutex

	byID     map[uint64]*Order
	byExchID map[uint64][]*Order
	byMarket *btree.BTreeG[*Order]

	seq uint64

	log *zap.Logger
}

func marketKeyLess(a, b *Order) bool {
	if a.MarketCode != b.MarketCode {
		return a.MarketCode < b.MarketCode
	}
	if a.ExchOrderID != b.ExchOrderID {
		return a.ExchOrderID < b.ExchOrderID
	}
	return a.OrderID < b.OrderID
}

// NewLedger creates an empty ledger.
func NewLedger(log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		byID:     make(map[uint64]*Order),
		byExchID: make(map[uint64][]*Order),
		byMarket: btree.NewBTreeG(marketKeyLess),
		log:      log.Named("ordmgr"),
	}
}

// Admit inserts a copy of the order. The caller's record is not retained.
func (l *Ledger) Admit(o *Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[o.OrderID]; ok {
		return fmt.Errorf("admit order %d: %w", o.OrderID, ErrDuplicateOrderID)
	}
	rec := o.Clone()
	l.insertLocked(rec)
	return nil
}

// Discard removes an order, used to roll back admission when the
// downstream submission fails. Completed orders are never discarded; they
// stay queryable until restart reloads from durable storage.
func (l *Ledger) Discard(orderID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byID[orderID]
	if !ok {
		return fmt.Errorf("discard order %d: %w", orderID, ErrOrderNotFound)
	}
	l.removeLocked(rec)
	return nil
}

// Get returns a snapshot of the order.
func (l *Ledger) Get(orderID uint64) (*Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byID[orderID]
	if !ok {
		return nil, fmt.Errorf("get order %d: %w", orderID, ErrOrderNotFound)
	}
	return rec.Clone(), nil
}

// GetByExchOrderID returns a snapshot of the first order carrying the
// exchange order id. The id may be reused across markets; prefer
// GetByMarket when the market is known.
func (l *Ledger) GetByExchOrderID(exchOrderID uint64) (*Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs := l.byExchID[exchOrderID]
	if len(recs) == 0 {
		return nil, fmt.Errorf("get order by exch id %d: %w", exchOrderID, ErrOrderNotFound)
	}
	return recs[0].Clone(), nil
}

// GetByMarket returns a snapshot of the order with the given exchange
// order id on the given market.
func (l *Ledger) GetByMarket(market MarketCode, exchOrderID uint64) (*Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var found *Order
	pivot := &Order{MarketCode: market, ExchOrderID: exchOrderID}
	l.byMarket.Ascend(pivot, func(rec *Order) bool {
		if rec.MarketCode != market || rec.ExchOrderID != exchOrderID {
			return false
		}
		found = rec
		return false
	})
	if found == nil {
		return nil, fmt.Errorf("get order on %s by exch id %d: %w",
			market, exchOrderID, ErrOrderNotFound)
	}
	return found.Clone(), nil
}

// OpenOrders returns snapshots of orders that are not closed and were
// created at least minAge ago, for the periodic resync sweep.
func (l *Ledger) OpenOrders(minAge time.Duration) []*Order {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Order
	for _, rec := range l.byID {
		if rec.NotClosed() && rec.Age(now) >= minAge {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// Len returns the number of records held.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

// ReconcileExchangeReport looks up the order named by the report, applies
// the exchange-report reconciliation and returns whether anything changed
// plus a snapshot of the resulting state for downstream publication.
func (l *Ledger) ReconcileExchangeReport(incoming *Order, fees FeeResolver) (bool, *Order, error) {
	in := incoming.Clone()
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.lookupForReconcileLocked(in)
	if err != nil {
		return false, nil, err
	}
	hadExchID := rec.ExchOrderID != 0
	l.seq++
	changed := rec.ApplyExchangeReport(in, l.seq, fees, l.log)
	if !hadExchID && rec.ExchOrderID != 0 {
		l.indexExchIDLocked(rec)
	}
	return changed, rec.Clone(), nil
}

// ReconcileGatewayAck applies the gateway-ack reconciliation; the
// returned flag reports whether the snapshot is usable for position
// computation.
func (l *Ledger) ReconcileGatewayAck(incoming *Order) (bool, *Order, error) {
	in := incoming.Clone()
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, err := l.lookupForReconcileLocked(in)
	if err != nil {
		return false, nil, err
	}
	hadExchID := rec.ExchOrderID != 0
	l.seq++
	rec.SeqNum = l.seq
	usable := rec.ApplyGatewayAck(in, l.log)
	if !hadExchID && rec.ExchOrderID != 0 {
		l.indexExchIDLocked(rec)
	}
	return usable, rec.Clone(), nil
}

// SetExchOrderID records the exchange-assigned id on acceptance. The
// field is write-once; a second assignment with a different value is
// logged and ignored.
func (l *Ledger) SetExchOrderID(orderID, exchOrderID uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.byID[orderID]
	if !ok {
		return fmt.Errorf("set exch order id on %d: %w", orderID, ErrOrderNotFound)
	}
	if rec.ExchOrderID != 0 {
		if rec.ExchOrderID != exchOrderID {
			l.log.Warn("exch order id already assigned",
				zap.Uint64("orderId", orderID),
				zap.Uint64("have", rec.ExchOrderID),
				zap.Uint64("incoming", exchOrderID))
		}
		return nil
	}
	rec.ExchOrderID = exchOrderID
	l.indexExchIDLocked(rec)
	return nil
}

func (l *Ledger) lookupForReconcileLocked(in *Order) (*Order, error) {
	if rec, ok := l.byID[in.OrderID]; ok {
		return rec, nil
	}
	// Reports forwarded straight off the venue sometimes carry only the
	// exchange id.
	if in.ExchOrderID != 0 {
		pivot := &Order{MarketCode: in.MarketCode, ExchOrderID: in.ExchOrderID}
		var found *Order
		l.byMarket.Ascend(pivot, func(rec *Order) bool {
			if rec.MarketCode != in.MarketCode || rec.ExchOrderID != in.ExchOrderID {
				return false
			}
			found = rec
			return false
		})
		if found != nil {
			return found, nil
		}
	}
	return nil, fmt.Errorf("reconcile order %d: %w", in.OrderID, ErrOrderNotFound)
}

func (l *Ledger) insertLocked(rec *Order) {
	l.byID[rec.OrderID] = rec
	if rec.ExchOrderID != 0 {
		l.indexExchIDLocked(rec)
	}
}

func (l *Ledger) indexExchIDLocked(rec *Order) {
	l.byExchID[rec.ExchOrderID] = append(l.byExchID[rec.ExchOrderID], rec)
	l.byMarket.Set(rec)
}

func (l *Ledger) removeLocked(rec *Order) {
	delete(l.byID, rec.OrderID)
	if rec.ExchOrderID != 0 {
		recs := l.byExchID[rec.ExchOrderID]
		for i, r := range recs {
			if r.OrderID == rec.OrderID {
				l.byExchID[rec.ExchOrderID] = append(recs[:i], recs[i+1:]...)
				break
			}
		}
		if len(l.byExchID[rec.ExchOrderID]) == 0 {
			delete(l.byExchID, rec.ExchOrderID)
		}
		l.byMarket.Delete(rec)
	}
}
