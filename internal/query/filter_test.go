package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	URL     string         `json:"url"`
	Created time.Time      `json:"created"`
	Tags    []string       `json:"tags,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func sample() doc {
	return doc{
		URL:     "https://example.com/a",
		Created: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Tags:    []string{"news", "tech"},
		Meta:    map[string]any{"level": "error", "count": 3},
	}
}

func TestMatchOperators(t *testing.T) {
	cases := []struct {
		name   string
		filter map[string]any
		want   bool
	}{
		{"empty", nil, true},
		{"implicit eq", map[string]any{"meta.level": "error"}, true},
		{"eq miss", map[string]any{"meta.level": "info"}, false},
		{"array contains", map[string]any{"tags": "tech"}, true},
		{"ne", map[string]any{"meta.level": map[string]any{"$ne": "info"}}, true},
		{"in", map[string]any{"meta.level": map[string]any{"$in": []any{"warn", "error"}}}, true},
		{"nin", map[string]any{"meta.level": map[string]any{"$nin": []any{"warn", "error"}}}, false},
		{"gt number", map[string]any{"meta.count": map[string]any{"$gt": 2}}, true},
		{"lte number", map[string]any{"meta.count": map[string]any{"$lte": 2}}, false},
		{"time gte", map[string]any{"created": map[string]any{"$gte": "2024-04-30T00:00:00Z"}}, true},
		{"time lt", map[string]any{"created": map[string]any{"$lt": time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)}}, false},
		{"exists", map[string]any{"meta.level": map[string]any{"$exists": true}}, true},
		{"not exists", map[string]any{"meta.missing": map[string]any{"$exists": false}}, true},
		{"regex", map[string]any{"url": map[string]any{"$regex": "EXAMPLE", "$options": "i"}}, true},
		{"regex case", map[string]any{"url": map[string]any{"$regex": "EXAMPLE"}}, false},
		{"or", map[string]any{"$or": []any{
			map[string]any{"meta.level": "info"},
			map[string]any{"tags": "news"},
		}}, true},
		{"and", map[string]any{"$and": []any{
			map[string]any{"meta.level": "error"},
			map[string]any{"tags": "sports"},
		}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Parse(tc.filter)
			require.NoError(t, err)
			assert.Equal(t, tc.want, f.Match(sample()))
		})
	}
}

func TestParseRejectsUnknownOperators(t *testing.T) {
	_, err := Parse(map[string]any{"url": map[string]any{"$near": 1}})
	require.Error(t, err)

	_, err = Parse(map[string]any{"$nor": []any{}})
	require.Error(t, err)

	_, err = Parse(map[string]any{"url": map[string]any{"$regex": "("}})
	require.Error(t, err)
}

func TestParseJSON(t *testing.T) {
	f, err := ParseJSON(`{"meta.level": {"$in": ["error"]}}`)
	require.NoError(t, err)
	require.True(t, f.Match(sample()))

	f, err = ParseJSON("  ")
	require.NoError(t, err)
	require.True(t, f.Empty())
}

func TestSQLTranslation(t *testing.T) {
	f := MustParse(map[string]any{
		"meta.level": "error",
		"url":        map[string]any{"$regex": "x", "$options": "i"},
	})
	where, args := f.SQL("data")
	assert.Contains(t, where, "json_extract(data, ?)")
	assert.Contains(t, where, "regexp(?, json_extract(data, ?))")
	assert.Contains(t, args, `$."meta"."level"`)
	assert.Contains(t, args, "(?i)x")

	var nilFilter *Filter
	where, args = nilFilter.SQL("data")
	assert.Equal(t, "1", where)
	assert.Empty(t, args)
}
