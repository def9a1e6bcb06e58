package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
)

// ValidateConfig checks structure. Per-stage settings are validated later by
// each stage type's settings schema.
func ValidateConfig(cfg *Config) error {
	return newConfigurationValidator(cfg).validate()
}

type configurationValidator struct {
	config *Config
}

func newConfigurationValidator(config *Config) *configurationValidator {
	return &configurationValidator{config: config}
}

func (cv *configurationValidator) validate() error {
	if err := cv.validateStages(); err != nil {
		return err
	}
	if err := cv.validateBus(); err != nil {
		return err
	}
	if err := cv.validateDownloads(); err != nil {
		return err
	}
	return cv.validateRetry()
}

func (cv *configurationValidator) validateStages() error {
	seen := make(map[string]bool, len(cv.config.Stages))
	for i, s := range cv.config.Stages {
		if s.Type == "" {
			return ferrors.ConfigError("", "type", fmt.Sprintf("stage #%d has no type", i+1)).Build()
		}
		id := s.StageID()
		if seen[id] {
			return ferrors.ConfigError(id, "id", "duplicate stage id").Build()
		}
		seen[id] = true
	}
	return nil
}

func (cv *configurationValidator) validateBus() error {
	bus := strings.TrimSpace(cv.config.Bus)
	if bus == "" || bus == "local" {
		return nil
	}
	u, err := url.Parse(bus)
	if err != nil {
		return ferrors.ConfigError("", "bus", "invalid bus connection string").WithCause(err).Build()
	}
	switch u.Scheme {
	case "nats", "tls", "redis", "rediss":
		return nil
	}
	return ferrors.ConfigError("", "bus", fmt.Sprintf("unsupported bus scheme %q", u.Scheme)).Build()
}

func (cv *configurationValidator) validateDownloads() error {
	if cv.config.Downloads.PoolSize < 1 {
		return errors.New("downloads.pool_size must be at least 1")
	}
	if cv.config.Downloads.Attempts < 1 {
		return errors.New("downloads.attempts must be at least 1")
	}
	return nil
}

func (cv *configurationValidator) validateRetry() error {
	if cv.config.Retry.Initial > cv.config.Retry.Max {
		return fmt.Errorf("retry.initial (%s) exceeds retry.max (%s)", cv.config.Retry.Initial, cv.config.Retry.Max)
	}
	return nil
}
