package query

import (
	"fmt"
	"regexp"
	"strings"
)

type predicate struct {
	field string
	match func(v any, ok bool) bool
}

func compileFilter(filter map[string]any) ([]predicate, error) {
	preds := make([]predicate, 0, len(filter))
	for field, cond := range filter {
		if field == "" || strings.HasPrefix(field, "$") {
			return nil, fmt.Errorf("%w: unsupported filter key %q", ErrInvalidQuery, field)
		}

		ops, isOps := cond.(map[string]any)
		if !isOps || !hasOperators(ops) {
			want := cond
			preds = append(preds, predicate{field: field, match: func(v any, ok bool) bool {
				return ok && equalsAny(v, want)
			}})
			continue
		}

		fns := make([]func(any, bool) bool, 0, len(ops))
		for op, arg := range ops {
			if op == "$options" {
				continue
			}
			fn, err := compileOp(op, arg, ops)
			if err != nil {
				return nil, fmt.Errorf("%w: %s.%s: %v", ErrInvalidQuery, field, op, err)
			}
			fns = append(fns, fn)
		}
		preds = append(preds, predicate{field: field, match: func(v any, ok bool) bool {
			for _, fn := range fns {
				if !fn(v, ok) {
					return false
				}
			}
			return true
		}})
	}
	return preds, nil
}

func hasOperators(m map[string]any) bool {
	for k := range m {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func compileOp(op string, arg any, siblings map[string]any) (func(any, bool) bool, error) {
	switch op {
	case "$eq":
		return func(v any, ok bool) bool { return ok && equalsAny(v, arg) }, nil
	case "$ne":
		return func(v any, ok bool) bool { return !ok || !equalsAny(v, arg) }, nil
	case "$gt", "$gte", "$lt", "$lte":
		if arg == nil {
			return nil, fmt.Errorf("operand must not be null")
		}
		return func(v any, ok bool) bool {
			return ok && anyElem(v, func(e any) bool { return ordered(op, e, arg) })
		}, nil
	case "$in", "$nin":
		set, ok := toSlice(arg)
		if !ok {
			return nil, fmt.Errorf("operand must be an array")
		}
		in := func(v any, ok bool) bool {
			if !ok {
				return false
			}
			for _, s := range set {
				if equalsAny(v, s) {
					return true
				}
			}
			return false
		}
		if op == "$in" {
			return in, nil
		}
		return func(v any, ok bool) bool { return !in(v, ok) }, nil
	case "$regex":
		re, err := compileRegex(arg, siblings["$options"])
		if err != nil {
			return nil, err
		}
		return func(v any, ok bool) bool {
			return ok && anyElem(v, func(e any) bool {
				s, isStr := e.(string)
				return isStr && re.MatchString(s)
			})
		}, nil
	case "$exists":
		want, isBool := arg.(bool)
		if !isBool {
			return nil, fmt.Errorf("operand must be a boolean")
		}
		return func(v any, ok bool) bool { return (ok && v != nil) == want }, nil
	default:
		return nil, fmt.Errorf("unknown operator")
	}
}

func compileRegex(arg, options any) (*regexp.Regexp, error) {
	if re, ok := arg.(*regexp.Regexp); ok {
		return re, nil
	}
	pattern, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("pattern must be a string")
	}
	if opts, ok := options.(string); ok {
		for _, o := range opts {
			if o != 'i' {
				return nil, fmt.Errorf("unsupported regex option %q", o)
			}
		}
		if strings.ContainsRune(opts, 'i') {
			pattern = "(?i)" + pattern
		}
	}
	return regexp.Compile(pattern)
}

// matchAll evaluates every predicate except those on skip.
func matchAll(d Doc, preds []predicate, skip string) bool {
	for _, p := range preds {
		if p.field == skip {
			continue
		}
		v, ok := Lookup(d, p.field)
		if !p.match(v, ok) {
			return false
		}
	}
	return true
}

// equalsAny is equality with array fields matching when any element does.
func equalsAny(v, want any) bool {
	if Equal(v, want) {
		return true
	}
	if _, wantArr := toSlice(want); wantArr {
		return false
	}
	return anyElem(v, func(e any) bool { return Equal(e, want) })
}

func anyElem(v any, fn func(any) bool) bool {
	if arr, ok := toSlice(v); ok {
		for _, e := range arr {
			if fn(e) {
				return true
			}
		}
		return false
	}
	return fn(v)
}

func ordered(op string, v, arg any) bool {
	if rank(v) != rank(arg) {
		return false
	}
	c := Compare(v, arg)
	switch op {
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	default:
		return c <= 0
	}
}

type searcher struct {
	needle string
	fields []string
}

func newSearcher(text string, fields []string) searcher {
	return searcher{needle: strings.ToLower(strings.TrimSpace(text)), fields: fields}
}

func (s searcher) match(d Doc) bool {
	if s.needle == "" {
		return true
	}
	if len(s.fields) == 0 {
		for _, v := range d {
			if s.contains(v) {
				return true
			}
		}
		return false
	}
	for _, f := range s.fields {
		if v, ok := Lookup(d, f); ok && s.contains(v) {
			return true
		}
	}
	return false
}

func (s searcher) contains(v any) bool {
	return anyElem(v, func(e any) bool {
		str, ok := e.(string)
		return ok && strings.Contains(strings.ToLower(str), s.needle)
	})
}
