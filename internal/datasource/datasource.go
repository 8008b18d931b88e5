package datasource

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrNotFound is returned for an unknown configuration ID.
	ErrNotFound = errors.New("data source configuration not found")

	// ErrUnknownType indicates a type the registry does not carry.
	ErrUnknownType = errors.New("unknown data source type")

	// ErrInvalidConfig indicates a configuration that fails structural
	// validation against its type's parameters.
	ErrInvalidConfig = errors.New("invalid data source configuration")
)

// Config is one stored data source configuration.
type Config struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Settings    map[string]any `json:"settings"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Validate checks cfg structurally against its type's registered
// parameters: the type must be known, required parameters present, enum
// values in range, and every provided value of the declared kind. It does
// not touch the configured source; see Checker for live checks.
func Validate(reg *Registry, cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if cfg.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidConfig)
	}

	info, ok := reg.Get(cfg.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, cfg.Type)
	}

	for _, p := range info.Parameters {
		value, present := cfg.Settings[p.Name]
		if !present {
			if p.Required {
				return fmt.Errorf("%w: parameter %q is required for type %s", ErrInvalidConfig, p.Name, cfg.Type)
			}
			continue
		}
		if err := checkKind(p, value); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// checkKind verifies a settings value against its declared parameter type.
// Integers arrive as float64 from JSON decoding, so integral floats pass.
func checkKind(p Parameter, value any) error {
	switch p.Type {
	case "string":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be a string", p.Name)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			return fmt.Errorf("parameter %q must be one of %v, got %q", p.Name, p.Enum, s)
		}
	case "integer":
		switch v := value.(type) {
		case int:
		case int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Errorf("parameter %q must be an integer", p.Name)
			}
		default:
			return fmt.Errorf("parameter %q must be an integer", p.Name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", p.Name)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("parameter %q must be an object", p.Name)
		}
	}
	return nil
}

// stringSetting returns the string value for key, or fallback when the key
// is absent or not a string.
func stringSetting(settings map[string]any, key, fallback string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// intSetting returns the integer value for key, or fallback.
func intSetting(settings map[string]any, key string, fallback int) int {
	switch v := settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
