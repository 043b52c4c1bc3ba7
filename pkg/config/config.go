package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Agents     AgentsConfig     `json:"agents"`
	Channels   ChannelsConfig   `json:"channels"`
	Providers  ProvidersConfig  `json:"providers"`
	Gateway    GatewayConfig    `json:"gateway"`
	Session    SessionConfig    `json:"session"`
	Notifier   NotifierConfig   `json:"notifier"`
	Connectors ConnectorsConfig `json:"connectors"`
	Store      StoreConfig      `json:"store"`
	mu         sync.RWMutex
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Workspace   string  `json:"workspace" env:"DOTCONNECT_AGENTS_DEFAULTS_WORKSPACE"`
	Provider    string  `json:"provider" env:"DOTCONNECT_AGENTS_DEFAULTS_PROVIDER"`
	Model       string  `json:"model" env:"DOTCONNECT_AGENTS_DEFAULTS_MODEL"`
	MaxTokens   int     `json:"max_tokens" env:"DOTCONNECT_AGENTS_DEFAULTS_MAX_TOKENS"`
	Temperature float64 `json:"temperature" env:"DOTCONNECT_AGENTS_DEFAULTS_TEMPERATURE"`
}

type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `json:"whatsapp"`
}

// WhatsAppConfig holds credentials for a Twilio-style messaging API.
type WhatsAppConfig struct {
	AccountSID string `json:"account_sid" env:"DOTCONNECT_CHANNELS_WHATSAPP_ACCOUNT_SID"`
	AuthToken  string `json:"auth_token" env:"DOTCONNECT_CHANNELS_WHATSAPP_AUTH_TOKEN"`
	FromNumber string `json:"from_number" env:"DOTCONNECT_CHANNELS_WHATSAPP_FROM_NUMBER"`
	APIBase    string `json:"api_base" env:"DOTCONNECT_CHANNELS_WHATSAPP_API_BASE"`
}

type ProvidersConfig struct {
	OpenRouter ProviderConfig `json:"openrouter"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"DOTCONNECT_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"DOTCONNECT_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"DOTCONNECT_PROVIDERS_OPENROUTER_PROXY"`
}

type GatewayConfig struct {
	Host string `json:"host" env:"DOTCONNECT_GATEWAY_HOST"`
	Port int    `json:"port" env:"DOTCONNECT_GATEWAY_PORT"`
}

type SessionConfig struct {
	TimeoutSeconds       int `json:"timeout_seconds" env:"DOTCONNECT_SESSION_TIMEOUT_SECONDS"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds" env:"DOTCONNECT_SESSION_SWEEP_INTERVAL_SECONDS"`
	CacheTTLSeconds      int `json:"cache_ttl_seconds" env:"DOTCONNECT_SESSION_CACHE_TTL_SECONDS"`
	CacheSize            int `json:"cache_size" env:"DOTCONNECT_SESSION_CACHE_SIZE"`
	MaxHistoryMessages   int `json:"max_history_messages" env:"DOTCONNECT_SESSION_MAX_HISTORY_MESSAGES"`
	AppendRetries        int `json:"append_retries" env:"DOTCONNECT_SESSION_APPEND_RETRIES"`
}

type NotifierConfig struct {
	URL                string `json:"url" env:"DOTCONNECT_NOTIFIER_URL"`
	APIKey             string `json:"api_key" env:"DOTCONNECT_NOTIFIER_API_KEY"`
	MaxAttempts        int    `json:"max_attempts" env:"DOTCONNECT_NOTIFIER_MAX_ATTEMPTS"`
	BaseBackoffSeconds int    `json:"base_backoff_seconds" env:"DOTCONNECT_NOTIFIER_BASE_BACKOFF_SECONDS"`
	SideQueueDir       string `json:"side_queue_dir" env:"DOTCONNECT_NOTIFIER_SIDE_QUEUE_DIR"`
	ReplaySchedule     string `json:"replay_schedule" env:"DOTCONNECT_NOTIFIER_REPLAY_SCHEDULE"`
}

type ConnectorsConfig struct {
	Dialer     DialerConfig     `json:"dialer"`
	Matchmaker MatchmakerConfig `json:"matchmaker"`
}

// DialerConfig targets the outbound voice-call API.
type DialerConfig struct {
	APIBase       string `json:"api_base" env:"DOTCONNECT_CONNECTORS_DIALER_API_BASE"`
	APIKey        string `json:"api_key" env:"DOTCONNECT_CONNECTORS_DIALER_API_KEY"`
	AssistantID   string `json:"assistant_id" env:"DOTCONNECT_CONNECTORS_DIALER_ASSISTANT_ID"`
	PhoneNumberID string `json:"phone_number_id" env:"DOTCONNECT_CONNECTORS_DIALER_PHONE_NUMBER_ID"`
}

type MatchmakerConfig struct {
	APIBase string `json:"api_base" env:"DOTCONNECT_CONNECTORS_MATCHMAKER_API_BASE"`
	APIKey  string `json:"api_key" env:"DOTCONNECT_CONNECTORS_MATCHMAKER_API_KEY"`
}

type StoreConfig struct {
	Path string `json:"path" env:"DOTCONNECT_STORE_PATH"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:   "~/.dotconnect/workspace",
				Provider:    "openrouter",
				Model:       "openai/gpt-5.2",
				MaxTokens:   1024,
				Temperature: 0.7,
			},
		},
		Channels: ChannelsConfig{
			WhatsApp: WhatsAppConfig{
				APIBase: "https://api.twilio.com/2010-04-01",
			},
		},
		Providers: ProvidersConfig{
			OpenRouter: ProviderConfig{},
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18792,
		},
		Session: SessionConfig{
			TimeoutSeconds:       300,
			SweepIntervalSeconds: 60,
			CacheTTLSeconds:      60,
			CacheSize:            1024,
			MaxHistoryMessages:   20,
			AppendRetries:        3,
		},
		Notifier: NotifierConfig{
			MaxAttempts:        3,
			BaseBackoffSeconds: 2,
			SideQueueDir:       "~/.dotconnect/failed_updates",
			ReplaySchedule:     "*/15 * * * *",
		},
		Connectors: ConnectorsConfig{
			Dialer: DialerConfig{
				APIBase: "https://api.vapi.ai",
			},
		},
		Store: StoreConfig{
			Path: "~/.dotconnect/state/sessions.db",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if envErr := env.Parse(cfg); envErr != nil {
				return nil, envErr
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agents.Defaults.Workspace)
}

func (c *Config) StorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Store.Path)
}

func (c *Config) SideQueuePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Notifier.SideQueueDir)
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Providers.OpenRouter.APIKey
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenRouter.APIBase != "" {
		return c.Providers.OpenRouter.APIBase
	}
	return "https://openrouter.ai/api/v1"
}

// Validate reports the first missing field a running gateway cannot do without.
func (c *Config) Validate() error {
	if c.Providers.OpenRouter.APIKey == "" {
		return fmt.Errorf("providers.openrouter.api_key is required (or DOTCONNECT_PROVIDERS_OPENROUTER_API_KEY)")
	}
	if c.Session.TimeoutSeconds <= 0 {
		return fmt.Errorf("session.timeout_seconds must be positive")
	}
	if c.Session.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("session.sweep_interval_seconds must be positive")
	}
	return nil
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
