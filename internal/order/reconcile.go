package order

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FeeResolver computes the fee for a deal when the venue report omits it.
type FeeResolver interface {
	FeeFor(o *Order, dealAmt decimal.Decimal) decimal.Decimal
}

// ApplyExchangeReport merges an exchange drop-copy/fill report into the
// record. It is the canonical reconciliation path: status only moves
// forward, cumulative deal size only grows, and a closed order is never
// resurrected. seq is stamped unconditionally so downstream position
// accounting sees every attempt. Returns true when some field materially
// changed and the new state is worth propagating.
//
// The incoming record is sign-normalized in place to the order's side
// convention before merging; callers must pass an owned copy.
func (o *Order) ApplyExchangeReport(incoming *Order, seq uint64, fees FeeResolver, log *zap.Logger) bool {
	updated := false

	normalizeSigns(o.Side, incoming)
	o.SeqNum = seq

	switch {
	case incoming.Status > o.Status:
		if o.NotClosed() {
			o.Status = incoming.Status
			updated = true
		} else {
			log.Warn("order would change from one final state to another",
				zap.String("status", o.Status.String()),
				zap.String("order", incoming.ShortString()))
		}
	case incoming.Status == o.Status:
		if o.Status != StatusPartialFilled {
			log.Info("order status not changed",
				zap.String("status", o.Status.String()),
				zap.String("order", incoming.ShortString()))
		}
		// PartialFilled -> PartialFilled is the normal fill cadence.
	default:
		log.Info("incoming order status is older than current",
			zap.String("status", o.Status.String()),
			zap.String("order", incoming.ShortString()))
	}

	if o.acceptCumulative(incoming, log) && !approxZero(incoming.AvgDealPrice) {
		oldDealSize := o.DealSize
		oldAvgDealPrice := o.AvgDealPrice

		o.DealSize = incoming.DealSize
		o.AvgDealPrice = incoming.AvgDealPrice

		if !approxZero(incoming.LastDealSize) {
			o.LastDealSize = incoming.LastDealSize
		} else {
			o.LastDealSize = incoming.DealSize.Sub(oldDealSize)
		}

		if !approxZero(incoming.LastDealPrice) {
			o.LastDealPrice = incoming.LastDealPrice
		} else {
			lastDealAmt := incoming.AvgDealPrice.Mul(incoming.DealSize).
				Sub(oldAvgDealPrice.Mul(oldDealSize))
			if !approxZero(o.LastDealSize) {
				o.LastDealPrice = lastDealAmt.Div(o.LastDealSize)
			} else {
				log.Warn("last deal size is zero when deriving last deal price",
					zap.String("order", incoming.ShortString()))
			}
		}

		o.Fee = o.resolveFee(incoming.Fee, oldDealSize, fees)
		o.adoptLastTrade(incoming)
		updated = true
	}

	// Some venues report only the incremental trade: cumulative fields are
	// zero and last-trade fields carry the delta. Accumulate it directly.
	if approxZero(incoming.DealSize) && approxZero(incoming.AvgDealPrice) &&
		!approxZero(incoming.LastDealSize) && !approxZero(incoming.LastDealPrice) {
		oldDealSize := o.DealSize

		dealAmt := o.DealSize.Mul(o.AvgDealPrice).
			Add(incoming.LastDealSize.Mul(incoming.LastDealPrice))
		o.DealSize = o.DealSize.Add(incoming.LastDealSize)
		o.AvgDealPrice = dealAmt.Div(o.DealSize)

		o.LastDealSize = incoming.LastDealSize
		o.LastDealPrice = incoming.LastDealPrice

		if fees != nil {
			o.Fee = fees.FeeFor(o, dealAmt.Abs())
		} else if !approxZero(o.Fee) && !approxZero(oldDealSize) {
			o.Fee = o.DealSize.Div(oldDealSize).Mul(o.Fee)
		}
		o.adoptLastTrade(incoming)

		absDeal := o.DealSize.Abs()
		switch {
		case approxEqual(absDeal, o.OrderSize):
			o.Status = StatusFilled
		case definitelyLess(absDeal, o.OrderSize):
			o.Status = StatusPartialFilled
		default:
			o.Status = StatusFilled
			log.Warn("deal size greater than order size when handling trade",
				zap.String("dealSize", absDeal.String()),
				zap.String("orderSize", o.OrderSize.String()),
				zap.String("order", incoming.ShortString()))
		}
		updated = true
	}

	if o.adoptWriteOnce(incoming) {
		updated = true
	}

	return updated
}

// ApplyGatewayAck merges a gateway acknowledgement. This path replaces
// the deal state wholesale rather than accumulating; the returned flag
// reports whether the update carries trustworthy deal state that position
// computation may consume.
func (o *Order) ApplyGatewayAck(incoming *Order, log *zap.Logger) bool {
	usableForPos := false

	switch {
	case incoming.Status > o.Status:
		if o.NotClosed() {
			o.Status = incoming.Status
		} else {
			log.Warn("order would change from one final state to another",
				zap.String("status", o.Status.String()),
				zap.String("order", incoming.ShortString()))
		}
	case incoming.Status == o.Status:
		if o.Status != StatusPartialFilled {
			log.Warn("order status not changed and not PartialFilled",
				zap.String("order", incoming.ShortString()))
		}
	default:
		log.Warn("incoming order status is older than current",
			zap.String("status", o.Status.String()),
			zap.String("order", incoming.ShortString()))
	}

	if o.acceptCumulative(incoming, log) && !approxZero(incoming.AvgDealPrice) {
		o.DealSize = incoming.DealSize
		o.AvgDealPrice = incoming.AvgDealPrice
		o.LastDealSize = incoming.LastDealSize
		o.LastDealPrice = incoming.LastDealPrice
		o.LastTradeID = incoming.LastTradeID
		o.LastDealTime = incoming.LastDealTime
		o.Fee = incoming.Fee
		usableForPos = true
	}

	o.adoptWriteOnce(incoming)
	return usableForPos
}

// acceptCumulative validates that the incoming cumulative deal size is
// strictly larger than what we hold and still within the order size.
func (o *Order) acceptCumulative(incoming *Order, log *zap.Logger) bool {
	absIncoming := incoming.DealSize.Abs()
	if !definitelyGreater(absIncoming, o.DealSize.Abs()) {
		log.Info("new deal size not greater than current deal size",
			zap.String("incoming", absIncoming.String()),
			zap.String("current", o.DealSize.Abs().String()),
			zap.String("order", incoming.ShortString()))
		return false
	}
	if definitelyGreater(absIncoming, o.OrderSize) {
		log.Warn("deal size greater than order size",
			zap.String("dealSize", absIncoming.String()),
			zap.String("orderSize", o.OrderSize.String()),
			zap.String("order", incoming.ShortString()))
		return false
	}
	return true
}

// resolveFee follows the original fallback chain: explicit fee from the
// report, else fee-schedule lookup, else pro-rate the held fee by the
// size ratio.
func (o *Order) resolveFee(incomingFee, oldDealSize decimal.Decimal, fees FeeResolver) decimal.Decimal {
	if !approxZero(incomingFee) {
		return incomingFee
	}
	if fees != nil {
		dealAmt := o.DealSize.Mul(o.AvgDealPrice).Abs()
		return fees.FeeFor(o, dealAmt)
	}
	if !approxZero(o.Fee) && !approxZero(oldDealSize) {
		return o.DealSize.Div(oldDealSize).Mul(o.Fee)
	}
	return o.Fee
}

func (o *Order) adoptLastTrade(incoming *Order) {
	if incoming.LastTradeID != "" {
		o.LastTradeID = incoming.LastTradeID
	}
	if incoming.LastDealTime != 0 {
		o.LastDealTime = incoming.LastDealTime
	}
}

// adoptWriteOnce fills ExchOrderID, FeeCurrency and StatusCode if the
// record does not carry them yet. They never change once set.
func (o *Order) adoptWriteOnce(incoming *Order) bool {
	updated := false
	if incoming.ExchOrderID != 0 && o.ExchOrderID == 0 {
		o.ExchOrderID = incoming.ExchOrderID
		updated = true
	}
	if incoming.FeeCurrency != "" && o.FeeCurrency == "" {
		o.FeeCurrency = incoming.FeeCurrency
		updated = true
	}
	if incoming.StatusCode != 0 && o.StatusCode == 0 {
		o.StatusCode = incoming.StatusCode
		updated = true
	}
	return updated
}

// normalizeSigns forces deal sizes onto the side convention: bid-positive,
// ask-negative.
func normalizeSigns(side Side, incoming *Order) {
	if side == SideBid {
		if incoming.DealSize.IsNegative() {
			incoming.DealSize = incoming.DealSize.Neg()
		}
		if incoming.LastDealSize.IsNegative() {
			incoming.LastDealSize = incoming.LastDealSize.Neg()
		}
		return
	}
	if incoming.DealSize.IsPositive() {
		incoming.DealSize = incoming.DealSize.Neg()
	}
	if incoming.LastDealSize.IsPositive() {
		incoming.LastDealSize = incoming.LastDealSize.Neg()
	}
}
