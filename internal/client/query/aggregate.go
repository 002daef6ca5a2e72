package query

import (
	"fmt"
	"sort"
)

// facets counts values of each field over documents matching every
// filter except the one on the faceted field itself.
func facets(docs []Doc, preds []predicate, search searcher, fields []string) map[string]map[string]int {
	out := make(map[string]map[string]int, len(fields))
	for _, f := range fields {
		counts := make(map[string]int)
		for _, d := range docs {
			if !search.match(d) || !matchAll(d, preds, f) {
				continue
			}
			v, ok := Lookup(d, f)
			if !ok || v == nil {
				continue
			}
			if arr, isArr := toSlice(v); isArr {
				for _, e := range arr {
					counts[Key(e)]++
				}
				continue
			}
			counts[Key(v)]++
		}
		out[f] = counts
	}
	return out
}

func aggregate(docs []Doc, a Aggregation) (any, error) {
	if a.Op != AggCount && a.Field == "" {
		return nil, fmt.Errorf("%w: %s requires a field", ErrInvalidQuery, a.Op)
	}

	switch a.Op {
	case AggCount:
		if a.Field == "" {
			return len(docs), nil
		}
		n := 0
		for _, d := range docs {
			if v, ok := Lookup(d, a.Field); ok && v != nil {
				n++
			}
		}
		return n, nil

	case AggSum, AggAvg:
		var sum float64
		n := 0
		for _, d := range docs {
			v, _ := Lookup(d, a.Field)
			if f, ok := toFloat(v); ok {
				sum += f
				n++
			}
		}
		if a.Op == AggSum {
			return sum, nil
		}
		if n == 0 {
			return nil, nil
		}
		return sum / float64(n), nil

	case AggMin, AggMax:
		var best any
		for _, d := range docs {
			v, ok := Lookup(d, a.Field)
			if !ok || v == nil {
				continue
			}
			if best == nil {
				best = v
				continue
			}
			c := Compare(v, best)
			if (a.Op == AggMin && c < 0) || (a.Op == AggMax && c > 0) {
				best = v
			}
		}
		return best, nil

	case AggDistinct:
		seen := make(map[string]struct{})
		for _, d := range docs {
			v, ok := Lookup(d, a.Field)
			if !ok || v == nil {
				continue
			}
			if arr, isArr := toSlice(v); isArr {
				for _, e := range arr {
					seen[Key(e)] = struct{}{}
				}
				continue
			}
			seen[Key(v)] = struct{}{}
		}
		out := make([]string, 0, len(seen))
		for k := range seen {
			out = append(out, k)
		}
		sort.Strings(out)
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown aggregation %q", ErrInvalidQuery, a.Op)
}
