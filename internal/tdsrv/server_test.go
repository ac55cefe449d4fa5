package tdsrv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantfabric/tradesrv/internal/database"
	"github.com/quantfabric/tradesrv/internal/dispatch"
	"github.com/quantfabric/tradesrv/internal/order"
	"github.com/quantfabric/tradesrv/pkg/statuscode"
)

type fakeGateway struct {
	mu         sync.Mutex
	submitErr  error
	cancelErr  error
	nextExchID uint64
	submitted  []uint64
	canceled   []uint64
}

func (g *fakeGateway) SubmitOrder(_ context.Context, o *order.Order) (uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.submitErr != nil {
		return 0, g.submitErr
	}
	g.nextExchID++
	g.submitted = append(g.submitted, o.OrderID)
	return g.nextExchID, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, o *order.Order) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	g.canceled = append(g.canceled, o.OrderID)
	return nil
}

type serverFixture struct {
	srv  *Server
	gw   *fakeGateway
	repo *database.Repository
	exec *database.AsyncExecutor
	led  *order.Ledger
}

func newFixture(t *testing.T, rules []database.FlowCtrlRuleRow) *serverFixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	db := database.OpenTestDB(t)
	for i := range rules {
		require.NoError(t, db.Create(&rules[i]).Error)
	}
	exec := database.NewAsyncExecutor(db, 256, log)
	t.Cleanup(exec.Close)
	repo := database.NewRepository(db, exec)
	led := order.NewLedger(log)
	gw := &fakeGateway{}

	srv, err := New(Options{
		Ledger:   led,
		Repo:     repo,
		Gateway:  gw,
		Dispatch: dispatch.Config{Workers: 2, QueueDepth: 64},
	}, log)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return &serverFixture{srv: srv, gw: gw, repo: repo, exec: exec, led: led}
}

func newSubmission(size string) *order.Order {
	return &order.Order{
		AcctID:         7,
		MarketCode:     order.MarketOkx,
		SymbolType:     order.SymbolTypeSpot,
		SymbolCode:     "BTC-USDT",
		Side:           order.SideBid,
		PosSide:        order.PosSideBoth,
		OrderType:      order.OrderTypeLimit,
		OrderTypeExtra: order.OrderTypeExtraNormal,
		OrderPrice:     decimal.RequireFromString("30000"),
		OrderSize:      decimal.RequireFromString(size),
	}
}

func TestSubmitOrderAccepted(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.srv.SubmitOrder(context.Background(), newSubmission("1"))
	require.NoError(t, err)
	require.Equal(t, statuscode.OK, res.StatusCode)
	require.Equal(t, order.StatusPending, res.Order.Status)
	require.NotZero(t, res.Order.ExchOrderID)

	stored, err := f.led.Get(res.Order.OrderID)
	require.NoError(t, err)
	require.Equal(t, res.Order.ExchOrderID, stored.ExchOrderID)
}

func TestSubmitOrderRejectedByRule(t *testing.T) {
	f := newFixture(t, []database.FlowCtrlRuleRow{{
		No: 5, Name: "size cap", Step: "InTradeSrv", Target: "OrderSizeEachTime",
		Condition: "acctId=7", LimitValue: "10", Action: "RejectOrder", Enabled: true,
	}})

	res, err := f.srv.SubmitOrder(context.Background(), newSubmission("50"))
	require.NoError(t, err)
	require.Equal(t, statuscode.RejectedByRiskCtrl, res.StatusCode)
	require.EqualValues(t, 5, res.RuleNo)
	require.Equal(t, order.StatusFailed, res.Order.Status)

	// Never admitted, never forwarded.
	require.Equal(t, 0, f.led.Len())
	require.Empty(t, f.gw.submitted)
}

func TestSubmitRollsBackOnGatewayFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.gw.submitErr = errors.New("venue unreachable")

	res, err := f.srv.SubmitOrder(context.Background(), newSubmission("1"))
	require.NoError(t, err)
	require.Equal(t, statuscode.SubmitToGatewayFailed, res.StatusCode)
	require.Equal(t, 0, f.led.Len())
}

func TestSubmitFailureReleasesDealSizeQuota(t *testing.T) {
	f := newFixture(t, []database.FlowCtrlRuleRow{{
		No: 1, Name: "open deal size", Step: "InTradeSrv", Target: "DealSizeTotal",
		Condition: "acctId=7", LimitValue: "1000", Action: "RejectOrder", Enabled: true,
	}})

	f.gw.submitErr = errors.New("venue unreachable")
	res, err := f.srv.SubmitOrder(context.Background(), newSubmission("600"))
	require.NoError(t, err)
	require.Equal(t, statuscode.SubmitToGatewayFailed, res.StatusCode)

	// The failed order never reaches the venue, so no report will ever
	// come back for it; its quota must already be free again.
	f.gw.submitErr = nil
	res, err = f.srv.SubmitOrder(context.Background(), newSubmission("600"))
	require.NoError(t, err)
	require.Equal(t, statuscode.OK, res.StatusCode)
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.srv.SubmitOrder(context.Background(), newSubmission("1"))
	require.NoError(t, err)

	cres, err := f.srv.CancelOrder(context.Background(), res.Order.OrderID)
	require.NoError(t, err)
	require.Equal(t, statuscode.OK, cres.StatusCode)
	require.Equal(t, []uint64{res.Order.OrderID}, f.gw.canceled)

	_, err = f.srv.CancelOrder(context.Background(), 424242)
	require.NoError(t, err)
}

func TestCancelUnknownOrder(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.srv.CancelOrder(context.Background(), 99)
	require.NoError(t, err)
	require.Equal(t, statuscode.OrderNotFound, res.StatusCode)
}

func TestOrderReportReleasesDealSizeQuota(t *testing.T) {
	f := newFixture(t, []database.FlowCtrlRuleRow{{
		No: 6, Name: "open deal size", Step: "InTradeSrv", Target: "DealSizeTotal",
		Condition: "acctId=7", LimitValue: "10", Action: "RejectOrder", Enabled: true,
	}})

	first, err := f.srv.SubmitOrder(context.Background(), newSubmission("8"))
	require.NoError(t, err)
	require.Equal(t, statuscode.OK, first.StatusCode)

	blocked, err := f.srv.SubmitOrder(context.Background(), newSubmission("8"))
	require.NoError(t, err)
	require.Equal(t, statuscode.RejectedByRiskCtrl, blocked.StatusCode)

	// The first order is canceled at the venue; its quota comes back.
	report := first.Order.Clone()
	report.Status = order.StatusCanceled
	require.NoError(t, f.srv.OnOrderReport(report))

	require.Eventually(t, func() bool {
		res, err := f.srv.SubmitOrder(context.Background(), newSubmission("8"))
		return err == nil && res.StatusCode == statuscode.OK
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOrderReportUpdatesLedgerAndStore(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.srv.SubmitOrder(context.Background(), newSubmission("2"))
	require.NoError(t, err)

	report := res.Order.Clone()
	report.Status = order.StatusPartialFilled
	report.DealSize = decimal.RequireFromString("1")
	report.AvgDealPrice = decimal.RequireFromString("30000")
	require.NoError(t, f.srv.OnOrderReport(report))

	require.Eventually(t, func() bool {
		got, err := f.led.Get(res.Order.OrderID)
		return err == nil && got.Status == order.StatusPartialFilled &&
			got.DealSize.Equal(decimal.RequireFromString("1"))
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWarmUpReloadsOpenOrders(t *testing.T) {
	log := zaptest.NewLogger(t)
	db := database.OpenTestDB(t)
	exec := database.NewAsyncExecutor(db, 64, log)
	repo := database.NewRepository(db, exec)

	o := newSubmission("1")
	o.OrderID = order.NewOrderID()
	o.Status = order.StatusPending
	o.OrderTime = time.Now().UnixMilli()
	repo.UpsertOrder(o)
	exec.Close()

	exec2 := database.NewAsyncExecutor(db, 64, log)
	t.Cleanup(exec2.Close)
	repo2 := database.NewRepository(db, exec2)
	led := order.NewLedger(log)
	srv, err := New(Options{
		Ledger:   led,
		Repo:     repo2,
		Gateway:  &fakeGateway{},
		Dispatch: dispatch.Config{Workers: 1},
	}, log)
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)

	require.Equal(t, 1, led.Len())
	got, err := led.Get(o.OrderID)
	require.NoError(t, err)
	require.Equal(t, order.StatusPending, got.Status)
}
