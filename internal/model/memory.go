package model

import (
	"encoding/json"
	"time"
)

// Memory is a stage instance's persisted run state. Stage-defined keys live in
// Values and are flattened next to the fixed fields when serialized.
type Memory struct {
	LastRun      time.Time
	LastDuration int64 // milliseconds
	Config       map[string]any
	Values       map[string]any
}

const (
	memoryLastRun      = "lastRun"
	memoryLastDuration = "lastDuration"
	memoryConfig       = "config"
)

// Get returns a stage-defined value.
func (m *Memory) Get(key string) (any, bool) {
	if m.Values == nil {
		return nil, false
	}
	v, ok := m.Values[key]
	return v, ok
}

// GetString returns a stage-defined string value or "".
func (m *Memory) GetString(key string) string {
	v, _ := m.Get(key)
	s, _ := v.(string)
	return s
}

// GetStrings returns a stage-defined string list. Lists decoded from JSON come
// back as []any and are converted.
func (m *Memory) GetStrings(key string) []string {
	v, _ := m.Get(key)
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Set stores a stage-defined value. Reserved keys are ignored.
func (m *Memory) Set(key string, value any) {
	switch key {
	case memoryLastRun, memoryLastDuration, memoryConfig:
		return
	}
	if m.Values == nil {
		m.Values = map[string]any{}
	}
	m.Values[key] = value
}

// MarshalJSON flattens Values next to the fixed fields.
func (m Memory) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Values)+3)
	for k, v := range m.Values {
		out[k] = v
	}
	out[memoryLastRun] = m.LastRun.UTC().Format(time.RFC3339Nano)
	out[memoryLastDuration] = m.LastDuration
	if m.Config != nil {
		out[memoryConfig] = m.Config
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the fixed fields from stage-defined keys.
func (m *Memory) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = Memory{}
	for k, v := range raw {
		switch k {
		case memoryLastRun:
			var s string
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			if s != "" {
				t, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return err
				}
				m.LastRun = t
			}
		case memoryLastDuration:
			if err := json.Unmarshal(v, &m.LastDuration); err != nil {
				return err
			}
		case memoryConfig:
			if err := json.Unmarshal(v, &m.Config); err != nil {
				return err
			}
		default:
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return err
			}
			if m.Values == nil {
				m.Values = map[string]any{}
			}
			m.Values[k] = val
		}
	}
	return nil
}

// NewMemory returns the memory of a stage that has never run.
func NewMemory() Memory {
	return Memory{LastRun: time.Unix(0, 0).UTC()}
}
