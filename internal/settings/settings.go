// Package settings implements typed per-stage option schemas. Every stage type
// declares its options; configuration values are parsed and validated when
// the stage is constructed so bad settings fail before anything runs.
package settings

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
	"git.home.luguber.info/inful/washer/internal/query"
)

// ParseFunc converts a raw configuration value into its typed form.
type ParseFunc func(raw any) (any, error)

// Option describes one setting.
type Option struct {
	Name        string
	Description string
	Required    bool
	Default     any
	Parse       ParseFunc
	// Transient values are not serializable and are left out of the
	// snapshot stored in a stage's memory.
	Transient bool
}

// Schema is an ordered option set.
type Schema []Option

// With returns a new schema with opts appended. An option with an existing
// name replaces the earlier definition in place.
func (s Schema) With(opts ...Option) Schema {
	out := slices.Clone(s)
	for _, o := range opts {
		if i := slices.IndexFunc(out, func(e Option) bool { return e.Name == o.Name }); i >= 0 {
			out[i] = o
			continue
		}
		out = append(out, o)
	}
	return out
}

// Lookup returns the option named name.
func (s Schema) Lookup(name string) (Option, bool) {
	i := slices.IndexFunc(s, func(o Option) bool { return o.Name == name })
	if i < 0 {
		return Option{}, false
	}
	return s[i], true
}

// Parse validates raw against the schema. Errors name the stage and field.
func (s Schema) Parse(stageID string, raw map[string]any) (Values, error) {
	for _, k := range sortedKeys(raw) {
		if _, ok := s.Lookup(k); !ok {
			return Values{}, ferrors.ConfigError(stageID, k, "unknown setting").Build()
		}
	}

	vals := Values{values: make(map[string]any, len(s)), transient: map[string]bool{}}
	for _, o := range s {
		v, present := raw[o.Name]
		if !present || v == nil {
			if o.Required {
				return Values{}, ferrors.ConfigError(stageID, o.Name, "required setting is missing").Build()
			}
			if o.Default == nil {
				continue
			}
			v = o.Default
		}
		if o.Parse != nil {
			parsed, err := o.Parse(v)
			if err != nil {
				return Values{}, ferrors.ConfigError(stageID, o.Name, "invalid value").WithCause(err).Build()
			}
			v = parsed
		}
		vals.values[o.Name] = v
		if o.Transient {
			vals.transient[o.Name] = true
		}
	}
	return vals, nil
}

// Values are parsed settings.
type Values struct {
	values    map[string]any
	transient map[string]bool
}

// NewValues builds Values from already typed data. Handy in tests.
func NewValues(m map[string]any) Values {
	return Values{values: maps.Clone(m), transient: map[string]bool{}}
}

func (v Values) Has(name string) bool {
	_, ok := v.values[name]
	return ok
}

func (v Values) Get(name string) any { return v.values[name] }

func (v Values) String(name string) string {
	s, _ := v.values[name].(string)
	return s
}

func (v Values) Int(name string) int {
	i, _ := v.values[name].(int)
	return i
}

func (v Values) Bool(name string) bool {
	b, _ := v.values[name].(bool)
	return b
}

func (v Values) Duration(name string) time.Duration {
	d, _ := v.values[name].(time.Duration)
	return d
}

func (v Values) Strings(name string) []string {
	l, _ := v.values[name].([]string)
	return l
}

// Filter returns the parsed filter, or nil which matches everything.
func (v Values) Filter(name string) *query.Filter {
	f, _ := v.values[name].(*query.Filter)
	return f
}

// Snapshot returns a serializable copy with transient values removed.
func (v Values) Snapshot() map[string]any {
	out := make(map[string]any, len(v.values))
	for k, val := range v.values {
		if v.transient[k] {
			continue
		}
		switch t := val.(type) {
		case time.Duration:
			out[k] = t.String()
		case *query.Filter:
			out[k] = t.Raw()
		default:
			out[k] = val
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func describe(v any) string {
	return strings.TrimSpace(fmt.Sprintf("%T", v))
}
