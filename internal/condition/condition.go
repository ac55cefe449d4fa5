// Package condition implements the attribute-matching language used to
// scope flow-control rules and to derive worker-routing hashes. A
// condition is an ordered list of name=value clauses joined by "&"; an
// empty or "*" value is a wildcard.
package condition

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/quantfabric/tradesrv/internal/order"
)

const (
	// SepAnd joins clauses, SepField splits a clause into name and value.
	SepAnd   = "&"
	SepField = "="

	Wildcard = "*"
)

// Whitelisted field names. Every name resolvable from an order record.
const (
	FieldAcctID         = "acctId"
	FieldMarketCode     = "marketCode"
	FieldSymbolCode     = "symbolCode"
	FieldProductID      = "productId"
	FieldUserID         = "userId"
	FieldStgID          = "stgId"
	FieldStgInstID      = "stgInstId"
	FieldAlgoID         = "algoId"
	FieldSymbolType     = "symbolType"
	FieldSide           = "side"
	FieldPosSide        = "posSide"
	FieldParValue       = "parValue"
	FieldOrderType      = "orderType"
	FieldOrderTypeExtra = "orderTypeExtra"
	FieldFeeCurrency    = "feeCurrency"
)

// RoutingFields is the field set every order is hashed over to pick its
// worker. It is shared between the dispatcher and the rule compiler: a
// rule whose condition fields are not a subset of this set could be
// tracked by two workers at once, so compilation asserts the subset
// relation at startup.
const RoutingFields = FieldAcctID + SepAnd + FieldMarketCode + SepAnd + FieldSymbolCode

// Template is an ordered field -> pattern mapping parsed from a rule
// condition.
type Template struct {
	fields   []string
	patterns map[string]string
}

// Fields returns the template's field names in clause order.
func (t Template) Fields() []string { return t.fields }

// Pattern returns the raw pattern for a field.
func (t Template) Pattern(field string) string { return t.patterns[field] }

// ParseFieldList extracts the field names of a condition. Clauses of one
// token ("acctId") or two ("acctId=7") are both accepted.
func ParseFieldList(text string) ([]string, error) {
	if text == "" {
		return nil, nil
	}
	var fields []string
	for _, clause := range strings.Split(text, SepAnd) {
		tokens := strings.Split(clause, SepField)
		if len(tokens) != 1 && len(tokens) != 2 {
			return nil, fmt.Errorf("invalid clause %q in condition %q", clause, text)
		}
		fields = append(fields, tokens[0])
	}
	return fields, nil
}

// ParseTemplate parses a rule condition. Every clause must carry a value
// token, possibly empty (wildcard).
func ParseTemplate(text string) (Template, error) {
	tpl := Template{patterns: make(map[string]string)}
	if text == "" {
		return tpl, nil
	}
	for _, clause := range strings.Split(text, SepAnd) {
		tokens := strings.Split(clause, SepField)
		if len(tokens) != 2 {
			return Template{}, fmt.Errorf("invalid clause %q in condition %q", clause, text)
		}
		tpl.fields = append(tpl.fields, tokens[0])
		tpl.patterns[tokens[0]] = tokens[1]
	}
	return tpl, nil
}

// Value is the concrete condition value resolved from one order.
type Value struct {
	fields []string
	values map[string]string
}

// Fields returns the value's field names in resolution order.
func (v Value) Fields() []string { return v.fields }

// Get returns the concrete value for a field.
func (v Value) Get(field string) string { return v.values[field] }

// Resolve extracts the named fields from an order, producing both the
// canonical "name=value&..." string (map key, audit row, routing hash
// input) and the structured value. Unknown field names are an error.
func Resolve(o *order.Order, fields []string) (string, Value, error) {
	val := Value{values: make(map[string]string, len(fields))}
	var b strings.Builder
	for i, field := range fields {
		s, err := fieldValue(o, field)
		if err != nil {
			return "", Value{}, err
		}
		if i > 0 {
			b.WriteString(SepAnd)
		}
		b.WriteString(field)
		b.WriteString(SepField)
		b.WriteString(s)
		val.fields = append(val.fields, field)
		val.values[field] = s
	}
	return b.String(), val, nil
}

// Matches reports whether a resolved value satisfies a template. The two
// must carry identical field sets in identical order; a mismatch is a
// configuration error, distinct from a clean non-match.
func Matches(v Value, t Template) (bool, error) {
	if len(v.fields) != len(t.fields) {
		return false, fmt.Errorf("condition value has %d fields, template has %d",
			len(v.fields), len(t.fields))
	}
	for i, field := range v.fields {
		if t.fields[i] != field {
			return false, fmt.Errorf("condition value field %q does not line up with template field %q",
				field, t.fields[i])
		}
		pattern := t.patterns[field]
		if pattern == "" || pattern == Wildcard {
			continue
		}
		if v.values[field] != pattern {
			return false, nil
		}
	}
	return true, nil
}

// EnsureRequiredFields appends any required field missing from text as an
// empty-valued (wildcard) clause, so that a human-authored condition
// always resolves the full routing field set.
func EnsureRequiredFields(text, requiredFields string) string {
	required, err := ParseFieldList(requiredFields)
	if err != nil {
		return text
	}
	out := text
	for _, field := range required {
		if !strings.Contains(out, field) {
			out += SepAnd + field + SepField
		}
	}
	return strings.TrimPrefix(out, SepAnd)
}

func fieldValue(o *order.Order, field string) (string, error) {
	switch field {
	case FieldAcctID:
		return strconv.FormatUint(uint64(o.AcctID), 10), nil
	case FieldMarketCode:
		return o.MarketCode.String(), nil
	case FieldSymbolCode:
		return o.SymbolCode, nil
	case FieldProductID:
		return strconv.FormatUint(uint64(o.ProductID), 10), nil
	case FieldUserID:
		return strconv.FormatUint(uint64(o.UserID), 10), nil
	case FieldStgID:
		return strconv.FormatUint(uint64(o.StgID), 10), nil
	case FieldStgInstID:
		return strconv.FormatUint(uint64(o.StgInstID), 10), nil
	case FieldAlgoID:
		return strconv.FormatUint(uint64(o.AlgoID), 10), nil
	case FieldSymbolType:
		return o.SymbolType.String(), nil
	case FieldSide:
		return o.Side.String(), nil
	case FieldPosSide:
		return o.PosSide.String(), nil
	case FieldParValue:
		return strconv.FormatUint(uint64(o.ParValue), 10), nil
	case FieldOrderType:
		return o.OrderType.String(), nil
	case FieldOrderTypeExtra:
		return o.OrderTypeExtra.String(), nil
	case FieldFeeCurrency:
		return o.FeeCurrency, nil
	}
	return "", fmt.Errorf("unknown condition field %q", field)
}

// IsSubset reports whether every field in sub appears in super.
func IsSubset(sub, super []string) bool {
	set := make(map[string]struct{}, len(super))
	for _, f := range super {
		set[f] = struct{}{}
	}
	for _, f := range sub {
		if _, ok := set[f]; !ok {
			return false
		}
	}
	return true
}
