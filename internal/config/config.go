package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "TASKHUB"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "taskhub.db"
	defaultLogLevel       = "info"
	defaultTokenTTLMins   = 60
	defaultSessionIssuer  = "taskhub-auth"
	defaultGeminiModel    = "gemini-2.0-flash"
	defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	SessionIssuer  string
	TokenTTL       time.Duration
	GeminiAPIKey   string
	GeminiModel    string
	GeminiEndpoint string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.issuer", defaultSessionIssuer)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMins)
	configViper.SetDefault("gemini.model", defaultGeminiModel)
	configViper.SetDefault("gemini.endpoint", defaultGeminiEndpoint)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		SessionIssuer:  configViper.GetString("auth.issuer"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		GeminiAPIKey:   configViper.GetString("gemini.api_key"),
		GeminiModel:    configViper.GetString("gemini.model"),
		GeminiEndpoint: configViper.GetString("gemini.endpoint"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if strings.TrimSpace(c.GeminiModel) == "" {
		return fmt.Errorf("gemini.model is required")
	}
	return nil
}
