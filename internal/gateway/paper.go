package gateway

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/quantfabric/tradesrv/internal/order"
)

// Paper is an in-process venue: it accepts every order, assigns exchange
// order ids from a local sequence, and accepts every cancel. Used when no
// real venue adapter is configured.
type Paper struct {
	seq atomic.Uint64
	log *zap.Logger
}

func NewPaper(log *zap.Logger) *Paper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Paper{log: log.Named("paper-gateway")}
}

func (p *Paper) SubmitOrder(_ context.Context, o *order.Order) (uint64, error) {
	exchOrderID := p.seq.Add(1)
	p.log.Debug("accept order", zap.Uint64("orderId", o.OrderID),
		zap.Uint64("exchOrderId", exchOrderID))
	return exchOrderID, nil
}

func (p *Paper) CancelOrder(_ context.Context, o *order.Order) error {
	p.log.Debug("accept cancel", zap.Uint64("orderId", o.OrderID))
	return nil
}
