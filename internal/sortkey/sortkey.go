// Package sortkey defines the ordering used for archived tabs, sessions and
// categories. A Key is either a bare timestamp (Mid and Low zero) or a
// composite of archival time, window id and original tab position.
package sortkey

// Key is a composite sort key. Fields compare in declaration order.
type Key struct {
	High int64 `json:"keyHigh"`
	Mid  int64 `json:"keyMid"`
	Low  int64 `json:"keyLow"`
}

// Scalar wraps a plain timestamp as a Key.
func Scalar(v int64) Key {
	return Key{High: v}
}

// CompareFunc is a three-way comparison over keys.
type CompareFunc func(a, b Key) int

// Compare orders two keys field by field, short-circuiting on the first
// non-zero comparison.
func Compare(a, b Key) int {
	if c := sign(a.High, b.High); c != 0 {
		return c
	}
	if c := sign(a.Mid, b.Mid); c != 0 {
		return c
	}
	return sign(a.Low, b.Low)
}

// Reversed derives the reverse ordering by negating the comparison result.
// Iteration order over fields is unchanged so composite tie-breaking stays
// correct.
func Reversed(cmp CompareFunc) CompareFunc {
	return func(a, b Key) int {
		return -cmp(a, b)
	}
}

func sign(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
