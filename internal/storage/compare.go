package storage

import (
	"cmp"
	"reflect"
	"time"
)

// matches reports whether doc satisfies every equality in filter
func matches(doc Document, filter map[string]any) bool {
	for field, want := range filter {
		if !equalValues(doc[field], want) {
			return false
		}
	}
	return true
}

func equalValues(a, b any) bool {
	if an, ok := toInt64(a); ok {
		bn, ok := toInt64(b)
		return ok && an == bn
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two field values. Missing values sort first; values
// of different kinds are ordered by kind so sorting never panics.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return cmp.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	default:
		if an, ok := toInt64(a); ok {
			if bn, ok := toInt64(b); ok {
				return cmp.Compare(an, bn)
			}
		}
	}
	return cmp.Compare(reflect.TypeOf(a).String(), reflect.TypeOf(b).String())
}
