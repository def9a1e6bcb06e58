package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StageConfig is one entry of the ordered stage list. Every key other than
// type and id is a stage setting validated by the stage type's schema.
type StageConfig struct {
	Type     string
	ID       string
	Settings map[string]any
}

// UnmarshalYAML splits the reserved keys from the settings.
func (s *StageConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("stage at line %d: %w", node.Line, err)
	}
	*s = StageConfig{Settings: map[string]any{}}
	for k, v := range raw {
		switch k {
		case "type":
			str, ok := v.(string)
			if !ok {
				return fmt.Errorf("stage at line %d: type must be a string", node.Line)
			}
			s.Type = str
		case "id":
			str, ok := v.(string)
			if !ok {
				return fmt.Errorf("stage at line %d: id must be a string", node.Line)
			}
			s.ID = str
		default:
			s.Settings[k] = v
		}
	}
	return nil
}

// MarshalYAML writes the flat shape back.
func (s StageConfig) MarshalYAML() (any, error) {
	out := make(map[string]any, len(s.Settings)+2)
	for k, v := range s.Settings {
		out[k] = v
	}
	out["type"] = s.Type
	if s.ID != "" {
		out["id"] = s.ID
	}
	return out, nil
}

// StageID returns the configured id, defaulting to the type name.
func (s StageConfig) StageID() string {
	if s.ID != "" {
		return s.ID
	}
	return s.Type
}
