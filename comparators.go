package feedcast

import (
	"reflect"
	"strconv"
	"strings"
)

// Comparator reports whether a freshly decoded payload is unchanged relative
// to the last one broadcast for the same source.
//
// prev is the last broadcast value and next the candidate. Both are decoded
// JSON values (maps, slices, strings, float64, bool, nil); XML payloads arrive
// as the equivalent generic map. A comparator is not consulted for a source's
// first payload, which is always broadcast, so it may assume a previous value
// exists.
//
// Only a true result suppresses a broadcast. Anything else, including a
// comparator that panics, is treated as "not known to be unchanged" and the
// cycle is handled accordingly: false broadcasts next, a panic skips the
// cycle and keeps the previous payload.
//
// Comparators are called with the source's subscriber lock held and must not
// block. Missing or malformed fields are the comparator's responsibility;
// the built-in comparators tolerate both.
type Comparator func(prev, next any) bool

// EqualComparator reports next unchanged when it is deeply equal to prev.
// It is the comparator used when a source does not set one.
var EqualComparator Comparator = func(prev, next any) bool {
	return prev != nil && reflect.DeepEqual(prev, next)
}

// NeverUnchanged treats every successful poll as a change, so every tick
// broadcasts.
var NeverUnchanged Comparator = func(prev, next any) bool {
	return false
}

// FieldComparator returns a [Comparator] that compares a single field of the
// two payloads, located by a dot-separated path. Numeric path segments index
// into lists.
//
// For example, "0.pubDate" compares the pubDate of the first item of a list
// payload, and "rss.channel.item.0.guid" the guid of the first item of an RSS
// feed.
//
// The result is:
//   - changed when prev is nil (nothing broadcast yet)
//   - unchanged when the field is absent from both payloads, which covers two
//     consecutive empty feeds
//   - changed when the field is present in only one of them
//   - otherwise unchanged exactly when the two values are deeply equal
//
// Example:
//
//	src, err := feedcast.NewSource("news", "https://example.com/news.json",
//	    feedcast.WithCompare(feedcast.FieldComparator("0.pubDate")),
//	)
func FieldComparator(path string) Comparator {
	parts := strings.Split(path, ".")

	return func(prev, next any) bool {
		if prev == nil {
			return false
		}
		a, okA := lookupPath(prev, parts)
		b, okB := lookupPath(next, parts)
		if !okA && !okB {
			return true
		}
		if okA != okB {
			return false
		}
		return reflect.DeepEqual(a, b)
	}
}

// lookupPath walks a decoded JSON structure using dot notation parts.
func lookupPath(data any, parts []string) (any, bool) {
	current := data

	for _, part := range parts {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			current = v
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			current = node[i]
		default:
			return nil, false
		}
	}
	return current, true
}

// AllUnchanged returns a [Comparator] that reports unchanged only when every
// given comparator does. With no comparators it never reports unchanged.
//
// This is useful when a feed should be rebroadcast if any of several fields
// moves:
//
//	cmp := feedcast.AllUnchanged(
//	    feedcast.FieldComparator("0.pubDate"),
//	    feedcast.FieldComparator("0.title"),
//	)
func AllUnchanged(comparators ...Comparator) Comparator {
	return func(prev, next any) bool {
		if len(comparators) == 0 {
			return false
		}
		for _, c := range comparators {
			if !c(prev, next) {
				return false
			}
		}
		return true
	}
}
