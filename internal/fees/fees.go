// Package fees maintains the fee-schedule cache consulted when an
// exchange report carries a fill without an explicit fee.
package fees

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantfabric/tradesrv/internal/order"
)

// Schedule is a fee-rate lookup keyed by venue, instrument class, and
// symbol, with widening fallbacks down to a default rate. It satisfies
// order.FeeResolver.
type Schedule struct {
	mu      sync.RWMutex
	rates   map[string]decimal.Decimal
	defRate decimal.Decimal
}

// Rate is one configured fee-rate entry. An empty SymbolCode applies the
// rate to the whole (market, symbolType) class.
type Rate struct {
	MarketCode order.MarketCode
	SymbolType order.SymbolType
	SymbolCode string
	FeeRate    decimal.Decimal
}

func NewSchedule(defaultRate decimal.Decimal, rates []Rate) *Schedule {
	s := &Schedule{
		rates:   make(map[string]decimal.Decimal, len(rates)),
		defRate: defaultRate,
	}
	for _, r := range rates {
		s.rates[rateKey(r.MarketCode, r.SymbolType, r.SymbolCode)] = r.FeeRate
	}
	return s
}

// Update replaces or adds one rate entry.
func (s *Schedule) Update(r Rate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[rateKey(r.MarketCode, r.SymbolType, r.SymbolCode)] = r.FeeRate
}

// FeeFor returns the fee charged on a deal amount: the symbol-specific
// rate if configured, else the class rate, else the default.
func (s *Schedule) FeeFor(o *order.Order, dealAmt decimal.Decimal) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rate, ok := s.rates[rateKey(o.MarketCode, o.SymbolType, o.SymbolCode)]; ok {
		return dealAmt.Mul(rate)
	}
	if rate, ok := s.rates[rateKey(o.MarketCode, o.SymbolType, "")]; ok {
		return dealAmt.Mul(rate)
	}
	return dealAmt.Mul(s.defRate)
}

func rateKey(market order.MarketCode, symbolType order.SymbolType, symbolCode string) string {
	return fmt.Sprintf("%s/%s/%s", market, symbolType, symbolCode)
}
