// Package config holds the two-stage configuration for the relay service:
// an embedded YAML file establishes the base config, then environment
// variables override and validate it.
package config

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

// YamlTokenCacheConfig selects the device-token cache backend.
type YamlTokenCacheConfig struct {
	Type  string          `yaml:"type"` // "memory" or "redis"
	Redis YamlRedisConfig `yaml:"redis"`
}

// YamlConfig defines the structure for unmarshaling the embedded
// config.yaml file.
type YamlConfig struct {
	ProjectID           string               `yaml:"project_id"`
	RunMode             string               `yaml:"run_mode"`
	Port                string               `yaml:"port"`
	IdentityServiceURL  string               `yaml:"identity_service_url"`
	MessagingServiceURL string               `yaml:"messaging_service_url"`
	PushTopicID         string               `yaml:"push_topic_id"`
	TokenCache          YamlTokenCacheConfig `yaml:"token_cache"`
}

// AppConfig is the canonical, validated configuration object used
// throughout the application. It is created by NewConfigFromYaml (Stage 1)
// and finalized by UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	ProjectID           string
	RunMode             string
	Port                string
	IdentityServiceURL  string
	MessagingServiceURL string
	PushTopicID         string
	TokenCache          YamlTokenCacheConfig
}

// NewConfigFromYaml converts the raw unmarshaled data into a clean, base
// AppConfig struct, without environment overrides.
func NewConfigFromYaml(yamlCfg *YamlConfig) (*AppConfig, error) {
	appCfg := &AppConfig{
		ProjectID:           yamlCfg.ProjectID,
		RunMode:             yamlCfg.RunMode,
		Port:                yamlCfg.Port,
		IdentityServiceURL:  yamlCfg.IdentityServiceURL,
		MessagingServiceURL: yamlCfg.MessagingServiceURL,
		PushTopicID:         yamlCfg.PushTopicID,
		TokenCache:          yamlCfg.TokenCache,
	}
	return appCfg, nil
}
