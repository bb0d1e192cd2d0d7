package config

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// UpdateConfigWithEnvOverrides takes the base configuration (created from
// YAML) and completes it by applying environment variables and final
// validation. This is "Stage 2" of configuration loading.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger zerolog.Logger) (*AppConfig, error) {
	logger.Debug().Msg("Applying environment variable overrides...")

	overrides := []struct {
		env    string
		target *string
	}{
		{"GCP_PROJECT_ID", &cfg.ProjectID},
		{"RUN_MODE", &cfg.RunMode},
		{"PORT", &cfg.Port},
		{"IDENTITY_SERVICE_URL", &cfg.IdentityServiceURL},
		{"MESSAGING_SERVICE_URL", &cfg.MessagingServiceURL},
		{"PUSH_TOPIC_ID", &cfg.PushTopicID},
		{"REDIS_ADDR", &cfg.TokenCache.Redis.Addr},
	}
	for _, o := range overrides {
		if val := os.Getenv(o.env); val != "" {
			logger.Debug().Str("key", o.env).Str("source", "env").Msg("Overriding config value")
			*o.target = val
		}
	}

	// Final validation.
	if cfg.Port == "" {
		return nil, fmt.Errorf("port is not set in config or env var")
	}
	if cfg.RunMode != "local" {
		if cfg.IdentityServiceURL == "" {
			return nil, fmt.Errorf("IDENTITY_SERVICE_URL is not set in config or env var")
		}
		if cfg.MessagingServiceURL == "" {
			return nil, fmt.Errorf("MESSAGING_SERVICE_URL is not set in config or env var")
		}
		if cfg.PushTopicID != "" && cfg.ProjectID == "" {
			return nil, fmt.Errorf("GCP_PROJECT_ID is required when a push topic is configured")
		}
		if cfg.TokenCache.Type == "redis" && cfg.TokenCache.Redis.Addr == "" {
			return nil, fmt.Errorf("REDIS_ADDR is required for the redis token cache")
		}
	}

	return cfg, nil
}
