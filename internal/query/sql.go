package query

import (
	"encoding/json"
	"strconv"
	"strings"
)

// RegexpFunc is the name of the SQL scalar function the persistence layer must
// register for $regex filters: regexp(pattern, value) -> 0/1.
const RegexpFunc = "regexp"

type sqlBuilder struct {
	column string
	sb     strings.Builder
	args   []any
}

// SQL translates the filter into a SQLite boolean expression over the JSON
// document stored in column. An empty filter yields "1".
func (f *Filter) SQL(column string) (string, []any) {
	if f.Empty() {
		return "1", nil
	}
	b := &sqlBuilder{column: column}
	f.root.sql(b)
	return b.sb.String(), b.args
}

func (b *sqlBuilder) write(s string) { b.sb.WriteString(s) }

func (b *sqlBuilder) arg(v any) {
	switch t := v.(type) {
	case bool:
		if t {
			v = 1
		} else {
			v = 0
		}
	case map[string]any, []any:
		data, _ := json.Marshal(t)
		v = string(data)
	}
	b.args = append(b.args, v)
	b.write("?")
}

func (b *sqlBuilder) path(p []string) {
	var sb strings.Builder
	sb.WriteString("$")
	for _, seg := range p {
		sb.WriteString(".")
		sb.WriteString(strconv.Quote(seg))
	}
	b.arg(sb.String())
}

func (b *sqlBuilder) extract(p []string) {
	b.write("json_extract(" + b.column + ", ")
	b.path(p)
	b.write(")")
}

func (n andNode) sql(b *sqlBuilder) {
	b.write("(")
	for i, c := range n {
		if i > 0 {
			b.write(" AND ")
		}
		c.sql(b)
	}
	b.write(")")
}

func (n orNode) sql(b *sqlBuilder) {
	if len(n) == 0 {
		b.write("0")
		return
	}
	b.write("(")
	for i, c := range n {
		if i > 0 {
			b.write(" OR ")
		}
		c.sql(b)
	}
	b.write(")")
}

func (n notNode) sql(b *sqlBuilder) {
	b.write("NOT ")
	n.n.sql(b)
}

func (n existsNode) sql(b *sqlBuilder) {
	b.write("json_type(" + b.column + ", ")
	b.path(n.path)
	if n.exists {
		b.write(") IS NOT NULL")
	} else {
		b.write(") IS NULL")
	}
}

// anyValue applies pred to the value at path or, when that value is an array,
// to each of its elements. pred receives writers for the value and its JSON
// type. A missing path yields 0, never NULL, so NOT stays two-valued.
func (b *sqlBuilder) anyValue(p []string, pred func(value, typ func())) {
	b.write("IFNULL(CASE WHEN json_type(" + b.column + ", ")
	b.path(p)
	b.write(") = 'array' THEN EXISTS (SELECT 1 FROM json_each(" + b.column + ", ")
	b.path(p)
	b.write(") WHERE ")
	pred(func() { b.write("json_each.value") }, func() { b.write("json_each.type") })
	b.write(") ELSE ")
	pred(func() { b.extract(p) }, func() {
		b.write("json_type(" + b.column + ", ")
		b.path(p)
		b.write(")")
	})
	b.write(" END, 0)")
}

func (n regexNode) sql(b *sqlBuilder) {
	b.anyValue(n.path, func(value, typ func()) {
		b.write("(")
		typ()
		b.write(" = 'text' AND " + RegexpFunc + "(")
		b.arg(n.pattern)
		b.write(", ")
		value()
		b.write("))")
	})
}

func (n cmpNode) sql(b *sqlBuilder) {
	switch n.op {
	case "$eq":
		n.eq(b)
		return
	case "$ne":
		b.write("NOT ")
		n.eq(b)
		return
	}

	op := map[string]string{"$gt": ">", "$gte": ">=", "$lt": "<", "$lte": "<="}[n.op]
	var types string
	switch n.value.(type) {
	case float64:
		types = "IN ('integer', 'real')"
	case string:
		types = "= 'text'"
	case bool:
		// Booleans only compare equal to themselves.
		if n.op == "$gt" || n.op == "$lt" {
			b.write("0")
			return
		}
		op, types = "=", "IN ('true', 'false')"
	default:
		b.write("0")
		return
	}
	b.anyValue(n.path, func(value, typ func()) {
		b.write("(")
		typ()
		b.write(" " + types + " AND ")
		value()
		b.write(" " + op + " ")
		b.arg(n.value)
		b.write(")")
	})
}

// eq matches the value at the path itself or any element of an array there.
// Scalars only match values of the same JSON type.
func (n cmpNode) eq(b *sqlBuilder) {
	var types string
	switch n.value.(type) {
	case nil:
		b.write("(")
		b.extract(n.path)
		b.write(" IS NULL)")
		return
	case float64:
		types = "IN ('integer', 'real')"
	case string:
		types = "= 'text'"
	case bool:
		types = "IN ('true', 'false')"
	default:
		b.write("IFNULL(")
		b.extract(n.path)
		b.write(" = ")
		b.arg(n.value)
		b.write(", 0)")
		return
	}
	b.anyValue(n.path, func(value, typ func()) {
		b.write("(")
		typ()
		b.write(" " + types + " AND ")
		value()
		b.write(" = ")
		b.arg(n.value)
		b.write(")")
	})
}
