package settings

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"git.home.luguber.info/inful/washer/internal/query"
)

// CronParser accepts six-field expressions with a leading seconds field, plus
// descriptors such as @hourly.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// String accepts strings and scalar values rendered as strings.
func String(raw any) (any, error) {
	switch t := raw.(type) {
	case string:
		return t, nil
	case int, int64, float64, bool:
		return fmt.Sprint(t), nil
	}
	return nil, fmt.Errorf("expected a string, got %s", describe(raw))
}

// Int accepts integers and numeric strings.
func Int(raw any) (any, error) {
	switch t := raw.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return nil, fmt.Errorf("expected an integer, got %v", t)
		}
		return int(t), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("expected an integer, got %q", t)
		}
		return i, nil
	}
	return nil, fmt.Errorf("expected an integer, got %s", describe(raw))
}

// Bool accepts booleans and strconv.ParseBool strings.
func Bool(raw any) (any, error) {
	switch t := raw.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("expected a boolean, got %q", t)
		}
		return b, nil
	}
	return nil, fmt.Errorf("expected a boolean, got %s", describe(raw))
}

// Duration accepts Go duration strings and integer seconds.
func Duration(raw any) (any, error) {
	switch t := raw.(type) {
	case time.Duration:
		return t, nil
	case int:
		return time.Duration(t) * time.Second, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("expected a duration, got %q", t)
		}
		return d, nil
	}
	return nil, fmt.Errorf("expected a duration, got %s", describe(raw))
}

// List accepts a comma separated string or a YAML list of strings. Blank
// entries are dropped.
func List(raw any) (any, error) {
	var parts []string
	switch t := raw.(type) {
	case string:
		parts = strings.Split(t, ",")
	case []string:
		parts = t
	case []any:
		for _, e := range t {
			s, err := String(e)
			if err != nil {
				return nil, fmt.Errorf("list element: %w", err)
			}
			parts = append(parts, s.(string))
		}
	default:
		return nil, fmt.Errorf("expected a list, got %s", describe(raw))
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// Cron validates a six-field cron expression and keeps its text.
func Cron(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected a cron expression, got %s", describe(raw))
	}
	s = strings.TrimSpace(s)
	if _, err := CronParser.Parse(s); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", s, err)
	}
	return s, nil
}

// Filter accepts a filter document as a map or as JSON text.
func Filter(raw any) (any, error) {
	switch t := raw.(type) {
	case *query.Filter:
		return t, nil
	case string:
		return query.ParseJSON(t)
	case map[string]any:
		// Round trip through JSON so YAML ints become float64 like JSON input.
		data, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return query.ParseJSON(string(data))
	}
	return nil, fmt.Errorf("expected a filter object, got %s", describe(raw))
}

// URL requires an absolute http(s) URL.
func URL(raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("expected a URL, got %s", describe(raw))
	}
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("expected an absolute http(s) URL, got %q", s)
	}
	return u.String(), nil
}

// OneOf restricts a string to the given choices.
func OneOf(choices ...string) ParseFunc {
	return func(raw any) (any, error) {
		v, err := String(raw)
		if err != nil {
			return nil, err
		}
		for _, c := range choices {
			if v == c {
				return v, nil
			}
		}
		return nil, fmt.Errorf("expected one of %s, got %q", strings.Join(choices, ", "), v)
	}
}
