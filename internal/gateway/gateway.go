// Package gateway defines the exchange-adapter boundary. The trading
// server consumes only success or failure; protocol detail lives in the
// venue adapters behind this interface.
package gateway

import (
	"context"

	"github.com/quantfabric/tradesrv/internal/order"
)

// Gateway routes orders and cancels to a venue.
type Gateway interface {
	// SubmitOrder forwards a new order and returns the exchange-assigned
	// order id when the venue assigns one synchronously, zero otherwise.
	SubmitOrder(ctx context.Context, o *order.Order) (uint64, error)

	// CancelOrder forwards a cancel request for an existing order.
	CancelOrder(ctx context.Context, o *order.Order) error
}
