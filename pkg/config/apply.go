package config

import (
	"fmt"
	"time"
)

// Apply merges a set of dotted-key changes into a copy of c, validates the
// result, and returns the new config. If any key is unknown, has the wrong
// type, or fails validation, the whole update is rejected with one
// ValidationError per failing key and c is left untouched.
func (c *Config) Apply(changes map[string]any) (*Config, []ValidationError) {
	next := c.Clone()
	var errs []ValidationError

	for key, value := range changes {
		if err := next.set(key, value); err != nil {
			errs = append(errs, ValidationError{Field: key, Message: err.Error()})
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	if verrs := next.Validate(); len(verrs) > 0 {
		return nil, verrs
	}
	return next, nil
}

// set writes one runtime-updatable field. Only a deliberate subset of the
// configuration is mutable after startup.
func (next *Config) set(key string, value any) error {
	switch key {
	case "access.rateLimitPerMinute":
		n, err := toInt(value)
		if err != nil {
			return err
		}
		next.Access.RateLimitPerMinute = n
	case "access.rateLimitPerHour":
		n, err := toInt(value)
		if err != nil {
			return err
		}
		next.Access.RateLimitPerHour = n
	case "access.maxPayloadBytes":
		n, err := toInt(value)
		if err != nil {
			return err
		}
		next.Access.MaxPayloadBytes = int64(n)
	case "protocol.pingInterval":
		d, err := toDuration(value)
		if err != nil {
			return err
		}
		next.Protocol.PingInterval = Duration(d)
	case "protocol.pongTimeout":
		d, err := toDuration(value)
		if err != nil {
			return err
		}
		next.Protocol.PongTimeout = Duration(d)
	case "health.memoryThresholdPct":
		f, err := toFloat(value)
		if err != nil {
			return err
		}
		next.Health.MemoryThresholdPct = f
	case "health.errorRateThreshold":
		f, err := toFloat(value)
		if err != nil {
			return err
		}
		next.Health.ErrorRateThreshold = f
	case "logging.level":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		next.Logging.Level = s
	default:
		return fmt.Errorf("unknown or immutable key")
	}
	return nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64: // JSON numbers decode as float64
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

func toDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %v", err)
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("expected duration string or seconds, got %T", v)
	}
}
