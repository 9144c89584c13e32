package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	AuthModeOAuth1 = "oauth1"
	AuthModeOAuth2 = "oauth2"
)

type HTTPConfig struct {
	RequestTimeoutSeconds int   `koanf:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
	MaxResponseBodyBytes  int64 `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
}

func (c HTTPConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

type ReplayConfig struct {
	TTLSeconds int `koanf:"ttl_seconds" mapstructure:"ttl_seconds"`
}

func (c ReplayConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// RefreshConfig sets how long before expiry a background refresh runs.
type RefreshConfig struct {
	LeadSeconds int `koanf:"lead_seconds" mapstructure:"lead_seconds"`
}

func (c RefreshConfig) Lead() time.Duration {
	if c.LeadSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.LeadSeconds) * time.Second
}

type ReadConfig struct {
	DefaultLimit int `koanf:"default_limit" mapstructure:"default_limit"`
	MaxLimit     int `koanf:"max_limit" mapstructure:"max_limit"`
}

// ProviderConfig holds the credentials this server was issued by one provider.
type ProviderConfig struct {
	ConsumerKey    string `koanf:"consumer_key" mapstructure:"consumer_key"`
	ConsumerSecret string `koanf:"consumer_secret" mapstructure:"consumer_secret"`
	ClientID       string `koanf:"client_id" mapstructure:"client_id"`
	ClientSecret   string `koanf:"client_secret" mapstructure:"client_secret"`
	AuthMode       string `koanf:"auth_mode" mapstructure:"auth_mode"`
	BaseURL        string `koanf:"base_url" mapstructure:"base_url"`
	Scope          string `koanf:"scope" mapstructure:"scope"`
}

type Config struct {
	ServiceName              string                    `koanf:"service_name" mapstructure:"service_name"`
	CallbackURL              string                    `koanf:"callback_url" mapstructure:"callback_url"`
	DefaultClientRedirectURL string                    `koanf:"default_client_redirect_url" mapstructure:"default_client_redirect_url"`
	HTTP                     HTTPConfig                `koanf:"http" mapstructure:"http"`
	Replay                   ReplayConfig              `koanf:"replay" mapstructure:"replay"`
	Refresh                  RefreshConfig             `koanf:"refresh" mapstructure:"refresh"`
	Read                     ReadConfig                `koanf:"read" mapstructure:"read"`
	Providers                map[string]ProviderConfig `koanf:"providers" mapstructure:"providers"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:              "shims",
		CallbackURL:              "http://localhost:8083/auth/oauth/external_authorization",
		DefaultClientRedirectURL: "http://localhost:8083/",
		HTTP: HTTPConfig{
			RequestTimeoutSeconds: 30,
			MaxResponseBodyBytes:  10 << 20,
		},
		Replay:  ReplayConfig{TTLSeconds: 86400},
		Refresh: RefreshConfig{LeadSeconds: 300},
		Read: ReadConfig{
			DefaultLimit: 100,
			MaxLimit:     1000,
		},
		Providers: map[string]ProviderConfig{},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	callback := strings.TrimSpace(c.CallbackURL)
	if callback == "" {
		return fmt.Errorf("core: callback_url is required")
	}
	parsed, err := url.Parse(callback)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("core: callback_url %q is invalid", callback)
	}
	if c.HTTP.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("core: http.request_timeout_seconds must not be negative")
	}
	if c.Read.DefaultLimit < 0 || c.Read.MaxLimit < 0 {
		return fmt.Errorf("core: read limits must not be negative")
	}
	for domain, provider := range c.Providers {
		mode := strings.ToLower(strings.TrimSpace(provider.AuthMode))
		if mode != "" && mode != AuthModeOAuth1 && mode != AuthModeOAuth2 {
			return fmt.Errorf("core: providers.%s.auth_mode %q is invalid", domain, provider.AuthMode)
		}
	}
	return nil
}

// Provider returns the configuration for domain, or a zero value.
func (c Config) Provider(domain string) ProviderConfig {
	if c.Providers == nil {
		return ProviderConfig{}
	}
	return c.Providers[strings.TrimSpace(domain)]
}
