// Package query evaluates query descriptors against an in-memory snapshot
// of a collection. Documents are generic maps as produced by models.ToMap.
//
// Execution order is fixed: filter, search, total count, sort, paginate.
// Facets and aggregations are computed over the filtered set before
// pagination.
package query

import (
	"errors"
	"fmt"
	"sort"
)

var ErrInvalidQuery = errors.New("invalid query")

// Doc is one record in its generic JSON form.
type Doc = map[string]any

type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

type AggOp string

const (
	AggCount    AggOp = "count"
	AggSum      AggOp = "sum"
	AggAvg      AggOp = "avg"
	AggMin      AggOp = "min"
	AggMax      AggOp = "max"
	AggDistinct AggOp = "distinct"
)

type Aggregation struct {
	Op    AggOp  `json:"op"`
	Field string `json:"field,omitempty"`
}

// Query describes a read over one collection.
//
// Filter maps a dotted field path either to a literal (equality) or to a
// map of operators: $eq $ne $gt $gte $lt $lte $in $nin $regex $exists.
// $regex accepts an optional sibling $options, "i" being the only flag.
type Query struct {
	Filter       map[string]any         `json:"filter,omitempty"`
	Search       string                 `json:"search,omitempty"`
	SearchFields []string               `json:"searchFields,omitempty"`
	Sort         []SortKey              `json:"sort,omitempty"`
	Limit        int                    `json:"limit,omitempty"`
	Offset       int                    `json:"offset,omitempty"`
	Facets       []string               `json:"facets,omitempty"`
	Aggregate    map[string]Aggregation `json:"aggregate,omitempty"`
}

// Result holds one page of matches. TotalCount is the number of matches
// before pagination, not len(Data).
type Result struct {
	Data         []Doc                     `json:"data"`
	TotalCount   int                       `json:"totalCount"`
	HasMore      bool                      `json:"hasMore"`
	Page         int                       `json:"page"`
	TotalPages   int                       `json:"totalPages"`
	Facets       map[string]map[string]int `json:"facets,omitempty"`
	Aggregations map[string]any            `json:"aggregations,omitempty"`
}

// Execute runs q over docs. docs is not modified; returned documents are
// shared with the input.
func Execute(docs []Doc, q Query) (*Result, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidQuery)
	}

	preds, err := compileFilter(q.Filter)
	if err != nil {
		return nil, err
	}
	search := newSearcher(q.Search, q.SearchFields)

	matched := make([]Doc, 0, len(docs))
	for _, d := range docs {
		if matchAll(d, preds, "") && search.match(d) {
			matched = append(matched, d)
		}
	}

	res := &Result{TotalCount: len(matched)}

	if len(q.Facets) > 0 {
		res.Facets = facets(docs, preds, search, q.Facets)
	}
	if len(q.Aggregate) > 0 {
		res.Aggregations = make(map[string]any, len(q.Aggregate))
		for name, a := range q.Aggregate {
			v, err := aggregate(matched, a)
			if err != nil {
				return nil, err
			}
			res.Aggregations[name] = v
		}
	}

	if len(q.Sort) > 0 {
		keys := q.Sort
		sort.SliceStable(matched, func(i, j int) bool {
			return less(matched[i], matched[j], keys)
		})
	}

	paginate(res, matched, q.Limit, q.Offset)
	return res, nil
}

func less(a, b Doc, keys []SortKey) bool {
	for _, k := range keys {
		av, aok := Lookup(a, k.Field)
		bv, bok := Lookup(b, k.Field)
		switch {
		case !aok && !bok:
			continue
		case !aok:
			return false
		case !bok:
			return true
		}
		c := Compare(av, bv)
		if c == 0 {
			continue
		}
		if k.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func paginate(res *Result, matched []Doc, limit, offset int) {
	total := len(matched)

	start := min(offset, total)
	end := total
	if limit > 0 {
		end = min(start+limit, total)
	}
	res.Data = matched[start:end]
	res.HasMore = end < total

	if limit <= 0 {
		res.Page = 1
		if total > 0 {
			res.TotalPages = 1
		}
		return
	}
	res.Page = offset/limit + 1
	res.TotalPages = (total + limit - 1) / limit
}
