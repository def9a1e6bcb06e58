package query

import (
	"reflect"
	"time"
)

func (n andNode) match(doc any) bool {
	for _, c := range n {
		if !c.match(doc) {
			return false
		}
	}
	return true
}

func (n orNode) match(doc any) bool {
	for _, c := range n {
		if c.match(doc) {
			return true
		}
	}
	return false
}

func (n notNode) match(doc any) bool {
	return !n.n.match(doc)
}

func (n existsNode) match(doc any) bool {
	_, found := lookup(doc, n.path)
	return found == n.exists
}

func (n regexNode) match(doc any) bool {
	v, found := lookup(doc, n.path)
	if !found {
		return false
	}
	for _, c := range candidates(v) {
		if s, ok := c.(string); ok && n.re.MatchString(s) {
			return true
		}
	}
	return false
}

func (n cmpNode) match(doc any) bool {
	v, found := lookup(doc, n.path)
	switch n.op {
	case "$eq":
		if !found {
			return n.value == nil
		}
		for _, c := range candidates(v) {
			if equal(c, n.value) {
				return true
			}
		}
		return false
	case "$ne":
		return !cmpNode{path: n.path, op: "$eq", value: n.value}.match(doc)
	}
	if !found {
		return false
	}
	for _, c := range candidates(v) {
		r, ok := compare(c, n.value)
		if !ok {
			continue
		}
		switch n.op {
		case "$gt":
			if r > 0 {
				return true
			}
		case "$gte":
			if r >= 0 {
				return true
			}
		case "$lt":
			if r < 0 {
				return true
			}
		case "$lte":
			if r <= 0 {
				return true
			}
		}
	}
	return false
}

// lookup walks a dotted path. Arrays met mid-path are searched element-wise
// and the matching values are returned as a list.
func lookup(doc any, path []string) (any, bool) {
	cur := doc
	for i, key := range path {
		switch t := cur.(type) {
		case map[string]any:
			v, ok := t[key]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			var hits []any
			for _, e := range t {
				if v, ok := lookup(e, path[i:]); ok {
					hits = append(hits, candidates(v)...)
				}
			}
			if len(hits) == 0 {
				return nil, false
			}
			return hits, true
		default:
			return nil, false
		}
	}
	return cur, true
}

// candidates expands an array value into its elements plus the array itself.
func candidates(v any) []any {
	arr, ok := v.([]any)
	if !ok {
		return []any{v}
	}
	return append(append([]any{}, arr...), v)
}

func equal(a, b any) bool {
	if r, ok := compare(a, b); ok {
		return r == 0
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		if tx, err := time.Parse(time.RFC3339Nano, x); err == nil {
			if ty, err := time.Parse(time.RFC3339Nano, y); err == nil {
				return tx.Compare(ty), true
			}
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case bool:
		y, ok := b.(bool)
		if !ok || x != y {
			return 0, false
		}
		return 0, true
	}
	return 0, false
}
