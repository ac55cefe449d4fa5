package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/quantfabric/tradesrv/internal/order"
)

func routedOrder(acctID uint32, symbol string) *order.Order {
	return &order.Order{
		OrderID:    order.NewOrderID(),
		AcctID:     acctID,
		MarketCode: order.MarketOkx,
		SymbolCode: symbol,
	}
}

func TestRoutingKeyIsCanonical(t *testing.T) {
	key, err := RoutingKey(routedOrder(7, "BTC-USDT"))
	require.NoError(t, err)
	require.Equal(t, "acctId=7&marketCode=Okx&symbolCode=BTC-USDT", key)
}

func TestRouteIsDeterministic(t *testing.T) {
	p := NewPool(Config{Workers: 8}, Hooks{}, zaptest.NewLogger(t))

	first, err := p.Route(routedOrder(7, "BTC-USDT"))
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		// Same routing scope, different order ids, same worker.
		w, err := p.Route(routedOrder(7, "BTC-USDT"))
		require.NoError(t, err)
		require.Equal(t, first, w)
	}
}

func TestDispatchRunsOnRoutedWorker(t *testing.T) {
	p := NewPool(Config{Workers: 4, QueueDepth: 16}, Hooks{}, zaptest.NewLogger(t))
	p.Start()

	o := routedOrder(7, "BTC-USDT")
	want, err := p.Route(o)
	require.NoError(t, err)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Dispatch(o, func(worker int) {
			mu.Lock()
			got = append(got, worker)
			mu.Unlock()
		}))
	}
	p.Stop()

	require.Len(t, got, 10)
	for _, w := range got {
		require.Equal(t, want, w)
	}
}

func TestWorkerHooks(t *testing.T) {
	var mu sync.Mutex
	started := make(map[int]bool)
	stopped := make(map[int]bool)

	p := NewPool(Config{Workers: 3}, Hooks{
		OnWorkerStart: func(w int) { mu.Lock(); started[w] = true; mu.Unlock() },
		OnWorkerStop:  func(w int) { mu.Lock(); stopped[w] = true; mu.Unlock() },
	}, zaptest.NewLogger(t))
	p.Start()
	p.Stop()

	require.Len(t, started, 3)
	require.Len(t, stopped, 3)
}
