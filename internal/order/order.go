package order

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side of an order. Deal sizes are sign-normalized to the side convention:
// bid-positive, ask-negative.
type Side uint8

const (
	SideBid Side = iota + 1
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "Bid"
	case SideAsk:
		return "Ask"
	}
	return "Others"
}

// PosSide is the position side an order opens or closes.
type PosSide uint8

const (
	PosSideLong PosSide = iota + 1
	PosSideShort
	PosSideBoth
)

func (p PosSide) String() string {
	switch p {
	case PosSideLong:
		return "Long"
	case PosSideShort:
		return "Short"
	case PosSideBoth:
		return "Both"
	}
	return "Others"
}

// OrderType is the base order type.
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota + 1
)

func (t OrderType) String() string {
	if t == OrderTypeLimit {
		return "Limit"
	}
	return "Others"
}

// OrderTypeExtra refines the base type.
type OrderTypeExtra uint8

const (
	OrderTypeExtraNormal OrderTypeExtra = iota + 1
	OrderTypeExtraMakeOnly
	OrderTypeExtraIoc
	OrderTypeExtraFok
)

func (t OrderTypeExtra) String() string {
	switch t {
	case OrderTypeExtraNormal:
		return "Normal"
	case OrderTypeExtraMakeOnly:
		return "MakeOnly"
	case OrderTypeExtraIoc:
		return "Ioc"
	case OrderTypeExtraFok:
		return "Fok"
	}
	return "Others"
}

// SymbolType classifies the instrument.
type SymbolType uint8

const (
	SymbolTypeSpot SymbolType = iota + 1
	SymbolTypePerp
	SymbolTypeFutures
	SymbolTypeCNStock
)

func (t SymbolType) String() string {
	switch t {
	case SymbolTypeSpot:
		return "Spot"
	case SymbolTypePerp:
		return "Perp"
	case SymbolTypeFutures:
		return "Futures"
	case SymbolTypeCNStock:
		return "CN_Stock"
	}
	return "Others"
}

// MarketCode identifies the venue. Exchange order ids are only unique per
// market, which is why the ledger keeps a composite index.
type MarketCode uint16

const (
	MarketOkx MarketCode = iota + 1
	MarketBinance
	MarketCoinbase
	MarketSSE
	MarketSZSE
)

func (m MarketCode) String() string {
	switch m {
	case MarketOkx:
		return "Okx"
	case MarketBinance:
		return "Binance"
	case MarketCoinbase:
		return "Coinbase"
	case MarketSSE:
		return "SSE"
	case MarketSZSE:
		return "SZSE"
	}
	return "Others"
}

// Status is the order lifecycle state. Numeric gaps follow the original
// wire values so that natural ordering equals lifecycle progression and
// persisted rows stay comparable across versions.
type Status uint8

const (
	StatusCreated               Status = 1
	StatusConfirmedInLocal      Status = 3
	StatusPending               Status = 5
	StatusConfirmedByExch       Status = 10
	StatusPartialFilled         Status = 20
	StatusFilled                Status = 100
	StatusCanceled              Status = 101
	StatusPartialFilledCanceled Status = 105
	StatusFailed                Status = 110
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "Created"
	case StatusConfirmedInLocal:
		return "ConfirmedInLocal"
	case StatusPending:
		return "Pending"
	case StatusConfirmedByExch:
		return "ConfirmedByExch"
	case StatusPartialFilled:
		return "PartialFilled"
	case StatusFilled:
		return "Filled"
	case StatusCanceled:
		return "Canceled"
	case StatusPartialFilledCanceled:
		return "PartialFilledCanceled"
	case StatusFailed:
		return "Failed"
	}
	return "Others"
}

// Closed reports whether the status is terminal: Filled or beyond.
func (s Status) Closed() bool { return s >= StatusFilled }

// Order is one order record. Identity fields are set at creation and never
// change; the mutable tail is written only through the reconciliation
// entry points in reconcile.go, under the ledger's lock.
type Order struct {
	OrderID     uint64
	ExchOrderID uint64 // zero until assigned, write-once

	AcctID    uint32
	ProductID uint32
	UserID    uint32
	StgID     uint32
	StgInstID uint32
	AlgoID    uint32

	MarketCode MarketCode
	SymbolType SymbolType
	SymbolCode string

	Side           Side
	PosSide        PosSide
	ParValue       uint32
	OrderType      OrderType
	OrderTypeExtra OrderTypeExtra

	OrderPrice decimal.Decimal
	OrderSize  decimal.Decimal
	OrderTime  int64 // unix millis

	Status       Status
	DealSize     decimal.Decimal
	AvgDealPrice decimal.Decimal

	LastTradeID   string
	LastDealPrice decimal.Decimal
	LastDealSize  decimal.Decimal
	LastDealTime  int64 // unix millis

	Fee         decimal.Decimal
	FeeCurrency string // write-once

	StatusCode int // write-once, shared status-code space

	// SeqNum is stamped by the ledger on every reconciliation attempt so
	// downstream position accounting can drop stale or duplicate updates.
	SeqNum uint64
}

// NewOrderID returns a process-unique random order identifier.
func NewOrderID() uint64 {
	u := uuid.New()
	return binary.BigEndian.Uint64(u[:8])
}

// Clone returns an owned copy of the record. Order has no reference fields
// besides strings, so a value copy is a deep copy.
func (o *Order) Clone() *Order {
	c := *o
	return &c
}

// NotClosed reports whether the order can still progress.
func (o *Order) NotClosed() bool { return !o.Status.Closed() }

// Age returns how long ago the order was created.
func (o *Order) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(o.OrderTime))
}

// ShortString renders the fields worth having in a log line.
func (o *Order) ShortString() string {
	return fmt.Sprintf(
		"[stgInstId: %d orderId: %d exchOrderId: %d %s %s %s %s %s price: %s size: %s avgDealPrice: %s dealSize: %s lastDealPrice: %s lastDealSize: %s %s statusCode: %d]",
		o.StgInstID, o.OrderID, o.ExchOrderID,
		o.MarketCode, o.SymbolType, o.SymbolCode, o.Side, o.PosSide,
		o.OrderPrice, o.OrderSize, o.AvgDealPrice, o.DealSize,
		o.LastDealPrice, o.LastDealSize, o.Status, o.StatusCode)
}
