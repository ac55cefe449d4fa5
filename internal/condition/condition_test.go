package condition

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfabric/tradesrv/internal/order"
)

func sampleOrder() *order.Order {
	return &order.Order{
		OrderID:        1,
		AcctID:         7,
		ProductID:      2,
		UserID:         3,
		StgID:          4,
		StgInstID:      5,
		AlgoID:         6,
		MarketCode:     order.MarketBinance,
		SymbolType:     order.SymbolTypePerp,
		SymbolCode:     "ETH-USDT-PERP",
		Side:           order.SideAsk,
		PosSide:        order.PosSideShort,
		ParValue:       100,
		OrderType:      order.OrderTypeLimit,
		OrderTypeExtra: order.OrderTypeExtraIoc,
		OrderPrice:     decimal.New(2000, 0),
		OrderSize:      decimal.New(1, 0),
		FeeCurrency:    "USDT",
	}
}

func TestParseFieldList(t *testing.T) {
	fields, err := ParseFieldList("acctId&marketCode=Okx&symbolCode")
	require.NoError(t, err)
	assert.Equal(t, []string{"acctId", "marketCode", "symbolCode"}, fields)

	fields, err = ParseFieldList("")
	require.NoError(t, err)
	assert.Empty(t, fields)

	_, err = ParseFieldList("a=b=c")
	assert.Error(t, err)
}

func TestParseTemplateRequiresValues(t *testing.T) {
	tpl, err := ParseTemplate("acctId=7&marketCode=&symbolCode=*")
	require.NoError(t, err)
	assert.Equal(t, []string{"acctId", "marketCode", "symbolCode"}, tpl.Fields())
	assert.Equal(t, "7", tpl.Pattern("acctId"))
	assert.Equal(t, "", tpl.Pattern("marketCode"))

	_, err = ParseTemplate("acctId")
	assert.Error(t, err)
}

func TestResolveCanonicalForm(t *testing.T) {
	text, _, err := Resolve(sampleOrder(), []string{
		"acctId", "marketCode", "symbolCode", "side", "symbolType",
	})
	require.NoError(t, err)
	assert.Equal(t, "acctId=7&marketCode=Binance&symbolCode=ETH-USDT-PERP&side=Ask&symbolType=Perp", text)
}

func TestResolveUnknownField(t *testing.T) {
	_, _, err := Resolve(sampleOrder(), []string{"acctId", "orderPrice"})
	assert.Error(t, err)
}

func TestResolveAllWhitelistedFields(t *testing.T) {
	fields := []string{
		FieldAcctID, FieldMarketCode, FieldSymbolCode, FieldProductID,
		FieldUserID, FieldStgID, FieldStgInstID, FieldAlgoID,
		FieldSymbolType, FieldSide, FieldPosSide, FieldParValue,
		FieldOrderType, FieldOrderTypeExtra, FieldFeeCurrency,
	}
	_, val, err := Resolve(sampleOrder(), fields)
	require.NoError(t, err)
	assert.Equal(t, "7", val.Get(FieldAcctID))
	assert.Equal(t, "Short", val.Get(FieldPosSide))
	assert.Equal(t, "Ioc", val.Get(FieldOrderTypeExtra))
	assert.Equal(t, "100", val.Get(FieldParValue))
	assert.Equal(t, "USDT", val.Get(FieldFeeCurrency))
}

func TestMatchesWildcardAndExact(t *testing.T) {
	tpl, err := ParseTemplate("acctId=7&marketCode=*&symbolCode=")
	require.NoError(t, err)
	_, val, err := Resolve(sampleOrder(), tpl.Fields())
	require.NoError(t, err)

	ok, err := Matches(val, tpl)
	require.NoError(t, err)
	assert.True(t, ok)

	tpl, err = ParseTemplate("acctId=8&marketCode=*&symbolCode=")
	require.NoError(t, err)
	ok, err = Matches(val, tpl)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMatchesRejectsMisalignedFieldSets(t *testing.T) {
	tpl, err := ParseTemplate("acctId=7&marketCode=*")
	require.NoError(t, err)
	_, val, err := Resolve(sampleOrder(), []string{"marketCode", "acctId"})
	require.NoError(t, err)
	_, err = Matches(val, tpl)
	assert.Error(t, err)
}

func TestRoundTripReflexivity(t *testing.T) {
	// resolve -> parseTemplate of the canonical string -> matches is
	// always true.
	fields, err := ParseFieldList(RoutingFields)
	require.NoError(t, err)
	text, val, err := Resolve(sampleOrder(), fields)
	require.NoError(t, err)

	tpl, err := ParseTemplate(text)
	require.NoError(t, err)
	ok, err := Matches(val, tpl)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureRequiredFields(t *testing.T) {
	assert.Equal(t, "acctId=7&marketCode=&symbolCode=",
		EnsureRequiredFields("acctId=7", RoutingFields))
	assert.Equal(t, "acctId=&marketCode=&symbolCode=",
		EnsureRequiredFields("", RoutingFields))
	assert.Equal(t, "marketCode=Okx&acctId=&symbolCode=",
		EnsureRequiredFields("marketCode=Okx", RoutingFields))
	// Already complete conditions pass through untouched.
	full := "acctId=7&marketCode=Okx&symbolCode=BTC-USDT"
	assert.Equal(t, full, EnsureRequiredFields(full, RoutingFields))
}

func TestIsSubset(t *testing.T) {
	routing, err := ParseFieldList(RoutingFields)
	require.NoError(t, err)
	assert.True(t, IsSubset([]string{"acctId"}, routing))
	assert.True(t, IsSubset(nil, routing))
	assert.False(t, IsSubset([]string{"acctId", "userId"}, routing))
}
