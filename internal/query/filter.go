// Package query implements the document filter language used by subscriptions
// and item loads. A filter is a JSON-like object of field paths and operators:
//
//	{"meta.level": "error", "created": {"$gte": "2024-01-01T00:00:00Z"}}
//
// Filters evaluate in memory with Match or translate to a SQLite predicate with
// SQL so the persistence layer can push them down.
package query

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Filter is a parsed filter document. The zero value and nil match everything.
type Filter struct {
	root node
	raw  map[string]any
}

// Parse compiles a filter document.
func Parse(doc map[string]any) (*Filter, error) {
	if len(doc) == 0 {
		return &Filter{}, nil
	}
	n, err := parseDoc(doc)
	if err != nil {
		return nil, err
	}
	return &Filter{root: n, raw: doc}, nil
}

// ParseJSON compiles a filter from its JSON text.
func ParseJSON(text string) (*Filter, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return &Filter{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("filter is not a JSON object: %w", err)
	}
	return Parse(doc)
}

// MustParse is Parse for literals known to be valid.
func MustParse(doc map[string]any) *Filter {
	f, err := Parse(doc)
	if err != nil {
		panic(err)
	}
	return f
}

// Empty reports whether the filter matches everything.
func (f *Filter) Empty() bool {
	return f == nil || f.root == nil
}

// Raw returns the document the filter was parsed from.
func (f *Filter) Raw() map[string]any {
	if f == nil {
		return nil
	}
	return f.raw
}

// Match evaluates the filter against a value. Structs are normalized through
// their JSON encoding first.
func (f *Filter) Match(v any) bool {
	if f.Empty() {
		return true
	}
	return f.root.match(normalize(v))
}

type node interface {
	match(doc any) bool
	sql(b *sqlBuilder)
}

type andNode []node

type orNode []node

type notNode struct{ n node }

type cmpNode struct {
	path  []string
	op    string
	value any
}

type existsNode struct {
	path   []string
	exists bool
}

type regexNode struct {
	path    []string
	pattern string
	re      *regexp.Regexp
}

func parseDoc(doc map[string]any) (node, error) {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out andNode
	for _, k := range keys {
		v := doc[k]
		switch k {
		case "$and", "$or":
			list, ok := v.([]any)
			if !ok || len(list) == 0 {
				return nil, fmt.Errorf("%s expects a non-empty array", k)
			}
			var children []node
			for _, e := range list {
				sub, ok := e.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%s elements must be objects", k)
				}
				n, err := parseDoc(sub)
				if err != nil {
					return nil, err
				}
				children = append(children, n)
			}
			if k == "$and" {
				out = append(out, andNode(children))
			} else {
				out = append(out, orNode(children))
			}
		default:
			if strings.HasPrefix(k, "$") {
				return nil, fmt.Errorf("unknown top-level operator %s", k)
			}
			n, err := parseField(splitPath(k), v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out = append(out, n)
		}
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

func parseField(path []string, v any) (node, error) {
	ops, ok := v.(map[string]any)
	if !ok || !isOperatorDoc(ops) {
		return cmpNode{path: path, op: "$eq", value: literal(v)}, nil
	}

	keys := make([]string, 0, len(ops))
	for k := range ops {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out andNode
	for _, op := range keys {
		arg := ops[op]
		switch op {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
			out = append(out, cmpNode{path: path, op: op, value: literal(arg)})
		case "$in", "$nin":
			list, ok := arg.([]any)
			if !ok {
				return nil, fmt.Errorf("%s expects an array", op)
			}
			var alts orNode
			for _, e := range list {
				alts = append(alts, cmpNode{path: path, op: "$eq", value: literal(e)})
			}
			if op == "$in" {
				out = append(out, alts)
			} else {
				out = append(out, notNode{alts})
			}
		case "$exists":
			b, ok := arg.(bool)
			if !ok {
				return nil, fmt.Errorf("$exists expects a boolean")
			}
			out = append(out, existsNode{path: path, exists: b})
		case "$regex":
			pattern, ok := arg.(string)
			if !ok {
				return nil, fmt.Errorf("$regex expects a string")
			}
			if opts, ok := ops["$options"].(string); ok && opts != "" {
				flags := ""
				for _, c := range opts {
					switch c {
					case 'i', 'm', 's':
						flags += string(c)
					default:
						return nil, fmt.Errorf("unsupported $options flag %q", c)
					}
				}
				pattern = "(?" + flags + ")" + pattern
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid $regex: %w", err)
			}
			out = append(out, regexNode{path: path, pattern: pattern, re: re})
		case "$options":
			if _, ok := ops["$regex"]; !ok {
				return nil, fmt.Errorf("$options without $regex")
			}
		default:
			return nil, fmt.Errorf("unknown operator %s", op)
		}
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return out, nil
}

func isOperatorDoc(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	return strings.Split(p, ".")
}

// literal converts filter operands to the shapes produced by JSON decoding.
func literal(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

func normalize(v any) any {
	switch v.(type) {
	case map[string]any, []any, string, float64, bool, nil:
		return v
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
