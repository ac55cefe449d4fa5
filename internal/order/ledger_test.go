package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newLedgerForTest(t *testing.T) *Ledger {
	return NewLedger(zaptest.NewLogger(t))
}

func TestAdmitRejectsDuplicateID(t *testing.T) {
	l := newLedgerForTest(t)
	o := newBidOrder()

	require.NoError(t, l.Admit(o))
	err := l.Admit(o)
	require.ErrorIs(t, err, ErrDuplicateOrderID)
	require.Equal(t, 1, l.Len())
}

func TestGetReturnsSnapshot(t *testing.T) {
	l := newLedgerForTest(t)
	o := newBidOrder()
	require.NoError(t, l.Admit(o))

	snap, err := l.Get(o.OrderID)
	require.NoError(t, err)
	snap.Status = StatusFailed
	snap.DealSize = dec("999")

	again, err := l.Get(o.OrderID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, again.Status)
	require.True(t, again.DealSize.IsZero())
}

func TestDiscardRollsBackAdmission(t *testing.T) {
	l := newLedgerForTest(t)
	o := newBidOrder()
	require.NoError(t, l.Admit(o))
	require.NoError(t, l.Discard(o.OrderID))

	_, err := l.Get(o.OrderID)
	require.ErrorIs(t, err, ErrOrderNotFound)
	require.ErrorIs(t, l.Discard(o.OrderID), ErrOrderNotFound)
}

func TestIndexConsistencyAcrossAssignment(t *testing.T) {
	l := newLedgerForTest(t)
	o := newBidOrder()
	require.NoError(t, l.Admit(o))
	require.NoError(t, l.SetExchOrderID(o.OrderID, 9001))

	byID, err := l.Get(o.OrderID)
	require.NoError(t, err)
	byExch, err := l.GetByExchOrderID(9001)
	require.NoError(t, err)
	byMarket, err := l.GetByMarket(o.MarketCode, 9001)
	require.NoError(t, err)

	require.Equal(t, byID.OrderID, byExch.OrderID)
	require.Equal(t, byID.OrderID, byMarket.OrderID)
	require.EqualValues(t, 9001, byID.ExchOrderID)
}

func TestSetExchOrderIDIsWriteOnce(t *testing.T) {
	l := newLedgerForTest(t)
	o := newBidOrder()
	require.NoError(t, l.Admit(o))
	require.NoError(t, l.SetExchOrderID(o.OrderID, 9001))
	require.NoError(t, l.SetExchOrderID(o.OrderID, 9002))

	got, err := l.Get(o.OrderID)
	require.NoError(t, err)
	require.EqualValues(t, 9001, got.ExchOrderID)

	_, err = l.GetByExchOrderID(9002)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestExchOrderIDsAreScopedPerMarket(t *testing.T) {
	l := newLedgerForTest(t)

	okx := newBidOrder()
	okx.ExchOrderID = 42
	binance := newBidOrder()
	binance.MarketCode = MarketBinance
	binance.ExchOrderID = 42
	require.NoError(t, l.Admit(okx))
	require.NoError(t, l.Admit(binance))

	got, err := l.GetByMarket(MarketBinance, 42)
	require.NoError(t, err)
	require.Equal(t, binance.OrderID, got.OrderID)

	got, err = l.GetByMarket(MarketOkx, 42)
	require.NoError(t, err)
	require.Equal(t, okx.OrderID, got.OrderID)
}

func TestOpenOrdersFiltersClosedAndYoung(t *testing.T) {
	l := newLedgerForTest(t)
	now := time.Now().UnixMilli()

	stale := newBidOrder()
	stale.OrderTime = now - 60_000
	young := newBidOrder()
	young.OrderTime = now
	closed := newBidOrder()
	closed.OrderTime = now - 60_000
	closed.Status = StatusFilled
	require.NoError(t, l.Admit(stale))
	require.NoError(t, l.Admit(young))
	require.NoError(t, l.Admit(closed))

	open := l.OpenOrders(30 * time.Second)
	require.Len(t, open, 1)
	require.Equal(t, stale.OrderID, open[0].OrderID)
}

func TestReconcileStampsMonotonicSeqNums(t *testing.T) {
	l := newLedgerForTest(t)
	o := newBidOrder()
	require.NoError(t, l.Admit(o))

	report := &Order{
		OrderID:      o.OrderID,
		Status:       StatusPartialFilled,
		DealSize:     dec("4"),
		AvgDealPrice: dec("100"),
	}
	changed, snap, err := l.ReconcileExchangeReport(report, nil)
	require.NoError(t, err)
	require.True(t, changed)
	require.EqualValues(t, 1, snap.SeqNum)

	// Duplicate delivery: no change, but the seq num still advances.
	changed, snap, err = l.ReconcileExchangeReport(report, nil)
	require.NoError(t, err)
	require.False(t, changed)
	require.EqualValues(t, 2, snap.SeqNum)
}

func TestReconcileFallsBackToMarketIndex(t *testing.T) {
	l := newLedgerForTest(t)
	o := newBidOrder()
	require.NoError(t, l.Admit(o))
	require.NoError(t, l.SetExchOrderID(o.OrderID, 314))

	// Drop-copy report without the local order id.
	report := &Order{
		MarketCode:   o.MarketCode,
		ExchOrderID:  314,
		Status:       StatusConfirmedByExch,
		DealSize:     dec("0"),
		AvgDealPrice: dec("0"),
	}
	changed, snap, err := l.ReconcileExchangeReport(report, nil)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, o.OrderID, snap.OrderID)
	require.Equal(t, StatusConfirmedByExch, snap.Status)
}

func TestReconcileUnknownOrder(t *testing.T) {
	l := newLedgerForTest(t)
	_, _, err := l.ReconcileExchangeReport(&Order{OrderID: 12345}, nil)
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestReconcileGatewayAck(t *testing.T) {
	l := newLedgerForTest(t)
	o := newBidOrder()
	require.NoError(t, l.Admit(o))

	usable, snap, err := l.ReconcileGatewayAck(&Order{
		OrderID:       o.OrderID,
		ExchOrderID:   271,
		Status:        StatusPartialFilled,
		DealSize:      dec("2"),
		AvgDealPrice:  dec("100"),
		LastDealSize:  dec("2"),
		LastDealPrice: dec("100"),
	})
	require.NoError(t, err)
	require.True(t, usable)
	require.True(t, snap.DealSize.Equal(dec("2")))
	require.EqualValues(t, 1, snap.SeqNum)

	// The write-once exch id got indexed on the way through.
	got, err := l.GetByMarket(o.MarketCode, 271)
	require.NoError(t, err)
	require.Equal(t, o.OrderID, got.OrderID)
}
