package database

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/quantfabric/tradesrv/internal/flowctrl"
	"github.com/quantfabric/tradesrv/internal/order"
	"github.com/quantfabric/tradesrv/pkg/statuscode"
)

func newTestRepo(t *testing.T) (*Repository, *AsyncExecutor) {
	db := OpenTestDB(t)
	exec := NewAsyncExecutor(db, 64, zaptest.NewLogger(t))
	t.Cleanup(exec.Close)
	return NewRepository(db, exec), exec
}

func sampleOrder() *order.Order {
	return &order.Order{
		OrderID:        order.NewOrderID(),
		AcctID:         7,
		MarketCode:     order.MarketBinance,
		SymbolType:     order.SymbolTypeSpot,
		SymbolCode:     "ETH-USDT",
		Side:           order.SideBid,
		PosSide:        order.PosSideBoth,
		OrderType:      order.OrderTypeLimit,
		OrderTypeExtra: order.OrderTypeExtraNormal,
		OrderPrice:     decimal.RequireFromString("2000.5"),
		OrderSize:      decimal.RequireFromString("3"),
		OrderTime:      time.Now().UnixMilli(),
		Status:         order.StatusPending,
	}
}

func TestUpsertOrderRoundTrip(t *testing.T) {
	repo, exec := newTestRepo(t)

	o := sampleOrder()
	require.Equal(t, statuscode.OK, repo.UpsertOrder(o))

	o.Status = order.StatusPartialFilled
	o.DealSize = decimal.RequireFromString("1.5")
	o.SeqNum = 2
	require.Equal(t, statuscode.OK, repo.UpsertOrder(o))
	exec.Close()

	loaded, err := repo.LoadOpenOrders()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	got := loaded[0]
	require.Equal(t, o.OrderID, got.OrderID)
	require.Equal(t, order.StatusPartialFilled, got.Status)
	require.True(t, got.DealSize.Equal(o.DealSize))
	require.True(t, got.OrderPrice.Equal(o.OrderPrice))
	require.EqualValues(t, 2, got.SeqNum)
}

func TestLoadOpenOrdersSkipsClosed(t *testing.T) {
	repo, exec := newTestRepo(t)

	open := sampleOrder()
	closed := sampleOrder()
	closed.Status = order.StatusFilled
	repo.UpsertOrder(open)
	repo.UpsertOrder(closed)
	exec.Close()

	loaded, err := repo.LoadOpenOrders()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Equal(t, open.OrderID, loaded[0].OrderID)
}

func TestLoadRuleDefsFiltersDisabled(t *testing.T) {
	repo, _ := newTestRepo(t)

	require.NoError(t, repo.db.Create(&FlowCtrlRuleRow{
		No: 1, Name: "size cap", Step: "InTradeSrv", Target: "OrderSizeEachTime",
		Condition: "acctId=7", LimitValue: "100", Action: "RejectOrder", Enabled: true,
	}).Error)
	require.NoError(t, repo.db.Create(&FlowCtrlRuleRow{
		No: 2, Name: "off", Step: "InTradeSrv", Target: "OrderSizeTotal",
		Condition: "acctId=7", LimitValue: "1000", Action: "RejectOrder", Enabled: false,
	}).Error)

	defs, err := repo.LoadRuleDefs()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.EqualValues(t, 1, defs[0].No)
	require.Equal(t, "OrderSizeEachTime", defs[0].Target)
}

func TestSaveCountersReplaces(t *testing.T) {
	repo, exec := newTestRepo(t)

	key := "acctId=7&marketCode=Binance&symbolCode=ETH-USDT"
	repo.SaveCounters([]flowctrl.CounterRec{{RuleNo: 3, ConditionValue: key, Payload: "600;"}})
	repo.SaveCounters([]flowctrl.CounterRec{{RuleNo: 3, ConditionValue: key, Payload: "750;"}})
	exec.Close()

	recs, err := repo.LoadCounters()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "750;", recs[0].Payload)
}

func TestRecordTrigger(t *testing.T) {
	repo, exec := newTestRepo(t)

	repo.RecordTrigger(&flowctrl.TriggerInfo{
		No:             9,
		Name:           "size cap",
		Step:           flowctrl.StepInServer,
		Target:         flowctrl.TargetOrderSizeEachTime,
		Condition:      "acctId=7&marketCode=&symbolCode=",
		ConditionValue: "acctId=7&marketCode=Binance&symbolCode=ETH-USDT",
		LimitType:      flowctrl.LimitEachTime,
		Actions:        []flowctrl.Action{flowctrl.ActionRejectOrder, flowctrl.ActionPubTopic},
		Details:        "value 150 exceeds limit 100",
		Timestamp:      time.Now().UnixMilli(),
	})
	exec.Close()

	var rows []FlowCtrlTriggerRow
	require.NoError(t, repo.db.Find(&rows).Error)
	require.Len(t, rows, 1)
	require.EqualValues(t, 9, rows[0].No)
	require.Equal(t, "RejectOrder&PubTopic", rows[0].Action)
	require.Equal(t, "NumLimitEachTime", rows[0].LimitType)
}

func TestAsyncExecFullQueue(t *testing.T) {
	db := OpenTestDB(t)
	exec := NewAsyncExecutor(db, 1, zaptest.NewLogger(t))
	defer exec.Close()

	block := make(chan struct{})
	exec.AsyncExec(func(_ *gorm.DB) error { <-block; return nil })
	// Worker is parked on the first op; fill the queue, then overflow.
	for {
		if exec.AsyncExec(func(_ *gorm.DB) error { return nil }) == statuscode.AsyncExecFailed {
			break
		}
	}
	close(block)
}
