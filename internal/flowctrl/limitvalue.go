package flowctrl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// sentinelTS pre-fills timestamp rings (2000-01-01 UTC in millis) so a
// fresh ring is always full and its oldest entry is trivially outside any
// configured interval.
const sentinelTS = int64(946684800000)

// maxWindowEvents bounds the ring capacity a rule may configure.
const maxWindowEvents = 1000

// tsRing is a fixed-capacity ring of event timestamps in millis. It is
// created full, so Push always evicts the oldest entry.
type tsRing struct {
	buf  []int64
	head int
}

func newTSRing(capacity int) *tsRing {
	buf := make([]int64, capacity)
	for i := range buf {
		buf[i] = sentinelTS
	}
	return &tsRing{buf: buf}
}

func (r *tsRing) Oldest() int64 { return r.buf[r.head] }

func (r *tsRing) Push(ts int64) {
	r.buf[r.head] = ts
	r.head = (r.head + 1) % len(r.buf)
}

// inOrder returns the timestamps oldest-first.
func (r *tsRing) inOrder() []int64 {
	out := make([]int64, 0, len(r.buf))
	for i := 0; i < len(r.buf); i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}

func (r *tsRing) clone() *tsRing {
	c := &tsRing{buf: make([]int64, len(r.buf)), head: r.head}
	copy(c.buf, r.buf)
	return c
}

// LimitValue is one per-condition-value counter: either a running scalar
// total or a timestamp window, selected once at rule-compile time from
// the limit type and never re-interpreted. The dirty flag marks counters
// mutated since the last save.
type LimitValue struct {
	Kind LimitType

	Total decimal.Decimal // LimitTotal

	Window     *tsRing // LimitWithinTime
	IntervalMS int64

	dirty bool
}

func newScalarLimitValue() *LimitValue {
	return &LimitValue{Kind: LimitTotal}
}

func newWindowLimitValue(capacity int, intervalMS int64) *LimitValue {
	return &LimitValue{
		Kind:       LimitWithinTime,
		Window:     newTSRing(capacity),
		IntervalMS: intervalMS,
	}
}

// Clone returns an owned copy (rings included).
func (lv *LimitValue) Clone() *LimitValue {
	c := *lv
	if lv.Window != nil {
		c.Window = lv.Window.clone()
	}
	return &c
}

// Encode renders the persisted payload: "<total>;" for scalar counters,
// "<intervalMs>;<ts>,<ts>,..." oldest-first for windows.
func (lv *LimitValue) Encode() string {
	if lv.Window == nil {
		return lv.Total.String() + ";"
	}
	parts := make([]string, 0, len(lv.Window.buf))
	for _, ts := range lv.Window.inOrder() {
		parts = append(parts, strconv.FormatInt(ts, 10))
	}
	return strconv.FormatInt(lv.IntervalMS, 10) + ";" + strings.Join(parts, ",")
}

// DecodeLimitValue parses an Encode payload back into a counter.
func DecodeLimitValue(s string) (*LimitValue, error) {
	parts := strings.Split(s, ";")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid limit value payload %q", s)
	}
	if parts[1] == "" {
		total, err := decimal.NewFromString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("invalid limit value payload %q: %w", s, err)
		}
		lv := newScalarLimitValue()
		lv.Total = total
		return lv, nil
	}
	interval, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid limit value payload %q: %w", s, err)
	}
	tsTokens := strings.Split(parts[1], ",")
	lv := newWindowLimitValue(len(tsTokens), interval)
	for _, tok := range tsTokens {
		ts, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid limit value payload %q: %w", s, err)
		}
		lv.Window.Push(ts)
	}
	return lv, nil
}

// parseLimitCap parses the configured static limit of a rule:
// "<cap>" for scalar limits, "<count>/<ms>ms" for windowed limits.
func parseLimitCap(limitType LimitType, text string) (decimal.Decimal, int, int64, error) {
	switch limitType {
	case LimitEachTime, LimitTotal:
		capValue, err := decimal.NewFromString(text)
		if err != nil {
			return decimal.Zero, 0, 0, fmt.Errorf("invalid limit value %q: %w", text, err)
		}
		return capValue, 0, 0, nil

	case LimitWithinTime:
		parts := strings.Split(text, "/")
		if len(parts) != 2 || !strings.HasSuffix(strings.ToLower(parts[1]), "ms") {
			return decimal.Zero, 0, 0, fmt.Errorf("invalid limit value %q", text)
		}
		interval, err := strconv.ParseInt(parts[1][:len(parts[1])-2], 10, 64)
		if err != nil {
			return decimal.Zero, 0, 0, fmt.Errorf("invalid limit value %q: %w", text, err)
		}
		count, err := strconv.Atoi(parts[0])
		if err != nil {
			return decimal.Zero, 0, 0, fmt.Errorf("invalid limit value %q: %w", text, err)
		}
		if count <= 0 || count > maxWindowEvents {
			return decimal.Zero, 0, 0, fmt.Errorf(
				"invalid limit value %q: window size must be in 1..%d", text, maxWindowEvents)
		}
		return decimal.Zero, count, interval, nil
	}
	return decimal.Zero, 0, 0, fmt.Errorf("invalid limit type %v", limitType)
}
