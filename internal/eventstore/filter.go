package eventstore

import (
	"strings"
	"time"
)

// Filter is a predicate on a single event field. Construct one with Eq, In
// or Range; the zero Filter matches nothing.
type Filter struct {
	kind   filterKind
	eq     any
	in     []any
	ranges rangeBounds
}

type filterKind int

const (
	filterInvalid filterKind = iota
	filterEq
	filterIn
	filterRange
)

type rangeBounds struct {
	gt, lt, gte, lte any
}

// Eq matches fields equal to v.
func Eq(v any) Filter { return Filter{kind: filterEq, eq: v} }

// In matches fields equal to any of vs.
func In(vs ...any) Filter { return Filter{kind: filterIn, in: vs} }

// Range matches fields inside the supplied bounds. Nil bounds are
// unconstrained; all non-nil bounds must hold.
func Range(gt, lt, gte, lte any) Filter {
	return Filter{kind: filterRange, ranges: rangeBounds{gt: gt, lt: lt, gte: gte, lte: lte}}
}

// RangeGT and friends are convenience constructors for single-bound ranges.
func RangeGT(v any) Filter  { return Range(v, nil, nil, nil) }
func RangeLT(v any) Filter  { return Range(nil, v, nil, nil) }
func RangeGTE(v any) Filter { return Range(nil, nil, v, nil) }
func RangeLTE(v any) Filter { return Range(nil, nil, nil, v) }

func (f Filter) matches(fieldValue any) bool {
	switch f.kind {
	case filterEq:
		return valuesEqual(fieldValue, f.eq)
	case filterIn:
		for _, v := range f.in {
			if valuesEqual(fieldValue, v) {
				return true
			}
		}
		return false
	case filterRange:
		b := f.ranges
		if b.gt != nil {
			if c, ok := compareValues(fieldValue, b.gt); !ok || c <= 0 {
				return false
			}
		}
		if b.lt != nil {
			if c, ok := compareValues(fieldValue, b.lt); !ok || c >= 0 {
				return false
			}
		}
		if b.gte != nil {
			if c, ok := compareValues(fieldValue, b.gte); !ok || c < 0 {
				return false
			}
		}
		if b.lte != nil {
			if c, ok := compareValues(fieldValue, b.lte); !ok || c > 0 {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// fieldValue resolves an event field by its query name. The second return
// is false for unknown fields, which the query engine treats as fail-closed.
func fieldValue(ev Event, name string) (any, bool) {
	switch strings.ToLower(name) {
	case "id":
		return ev.ID, true
	case "summary":
		return ev.Summary, true
	case "start":
		return ev.Start, true
	case "end":
		return ev.End, true
	case "location":
		return ev.Location, true
	case "description":
		return ev.Description, true
	default:
		return nil, false
	}
}

func valuesEqual(a, b any) bool {
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			return at.Equal(bt)
		}
		return false
	}
	return a == b
}

// compareValues orders two values of the same kind. Supported kinds are
// time.Time and string; anything else is not comparable.
func compareValues(a, b any) (int, bool) {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		switch {
		case av.Before(bv):
			return -1, true
		case av.After(bv):
			return 1, true
		default:
			return 0, true
		}
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	default:
		return 0, false
	}
}
