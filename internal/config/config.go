package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Config is the top-level mnvoice configuration.
type Config struct {
	Service    ServiceConfig    `json:"service"`
	API        APIConfig        `json:"api"`
	Telegram   *TelegramConfig  `json:"telegram,omitempty"`
	Webhook    *WebhookConfig   `json:"webhook,omitempty"`
	CRM        CRMConfig        `json:"crm"`
	Slack      *SlackConfig     `json:"slack,omitempty"`
	SlackChat  *SlackChatConfig `json:"slack_chat,omitempty"`
	Summarizer SummarizerConfig `json:"summarizer"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	ID            string `json:"id"`
	DataDir       string `json:"data_dir"`
	KnowledgeFile string `json:"knowledge_file,omitempty"`
}

// DBPath is the SQLite database location inside the data directory.
func (s ServiceConfig) DBPath() string {
	return filepath.Join(s.DataDir, "mnvoice.db")
}

// KnowledgePath resolves the knowledge file, defaulting to knowledge_base.yaml in the data directory.
func (s ServiceConfig) KnowledgePath() string {
	if s.KnowledgeFile == "" {
		return filepath.Join(s.DataDir, "knowledge_base.yaml")
	}
	if filepath.IsAbs(s.KnowledgeFile) {
		return s.KnowledgeFile
	}
	return filepath.Join(s.DataDir, s.KnowledgeFile)
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key"`
}

// TelegramConfig holds Telegram bot settings for the chat channel.
type TelegramConfig struct {
	Token     string  `json:"token"`
	AllowFrom []int64 `json:"allow_from,omitempty"`
}

// WebhookConfig holds telephony webhook endpoint credentials.
type WebhookConfig struct {
	Endpoints map[string]WebhookEndpoint `json:"endpoints"`
}

// WebhookEndpoint authenticates one telephony provider.
type WebhookEndpoint struct {
	Secret      string `json:"secret,omitempty"`
	BearerToken string `json:"bearer_token,omitempty"`
}

// CRMConfig holds outbox delivery settings.
type CRMConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	Domain      string `json:"domain"`
	AppSecret   string `json:"app_secret"`
	Action      string `json:"action,omitempty"`
	MaxAttempts int    `json:"max_attempts,omitempty"` // default 5
	Schedule    string `json:"schedule,omitempty"`     // default @every 1m
}

// Enabled reports whether CRM delivery credentials are configured.
func (c CRMConfig) Enabled() bool {
	return c.Domain != "" && c.AppSecret != ""
}

// SlackConfig holds the incoming webhook used to notify sales of qualified leads.
type SlackConfig struct {
	WebhookURL string `json:"webhook_url"`
	Channel    string `json:"channel,omitempty"`
}

// SlackChatConfig holds the Socket Mode app used as a conversation channel.
type SlackChatConfig struct {
	BotToken string   `json:"bot_token"`
	AppToken string   `json:"app_token"`
	Channels []string `json:"channels,omitempty"`
}

// SummarizerConfig controls the end-of-call summarizer job.
type SummarizerConfig struct {
	Schedule string `json:"schedule,omitempty"` // default @every 1m
}

const (
	defaultSchedule    = "@every 1m"
	defaultMaxAttempts = 5
)

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Service.KnowledgeFile != "" && !filepath.IsAbs(cfg.Service.KnowledgeFile) {
		// Relative knowledge files are resolved against the config file first.
		candidate := filepath.Join(filepath.Dir(path), cfg.Service.KnowledgeFile)
		if _, err := os.Stat(candidate); err == nil {
			cfg.Service.KnowledgeFile = candidate
		}
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from environment variables with the MNV_ prefix.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			ID:            getenv("MNV_SERVICE_ID", "mnvoice"),
			DataDir:       getenv("MNV_DATA_DIR", "/data"),
			KnowledgeFile: os.Getenv("MNV_KNOWLEDGE_FILE"),
		},
		API: APIConfig{
			Host: getenv("MNV_API_HOST", "0.0.0.0"),
			Port: getenvInt("MNV_API_PORT", 8080),
			Key:  os.Getenv("MNV_API_KEY"),
		},
		CRM: CRMConfig{
			BaseURL:     os.Getenv("MNV_CRM_BASE_URL"),
			Domain:      os.Getenv("MNV_CRM_DOMAIN"),
			AppSecret:   os.Getenv("MNV_CRM_APP_SECRET"),
			Action:      os.Getenv("MNV_CRM_ACTION"),
			MaxAttempts: getenvInt("MNV_CRM_MAX_ATTEMPTS", 0),
			Schedule:    os.Getenv("MNV_CRM_SCHEDULE"),
		},
		Summarizer: SummarizerConfig{
			Schedule: os.Getenv("MNV_SUMMARIZER_SCHEDULE"),
		},
	}

	if token := os.Getenv("MNV_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram = &TelegramConfig{Token: token}
		if ids := os.Getenv("MNV_TELEGRAM_ALLOW_FROM"); ids != "" {
			parsed, err := parseInt64List(ids)
			if err != nil {
				return nil, fmt.Errorf("config: MNV_TELEGRAM_ALLOW_FROM: %w", err)
			}
			cfg.Telegram.AllowFrom = parsed
		}
	}

	if secret, token := os.Getenv("MNV_WEBHOOK_SECRET"), os.Getenv("MNV_WEBHOOK_TOKEN"); secret != "" || token != "" {
		name := getenv("MNV_WEBHOOK_NAME", "telephony")
		cfg.Webhook = &WebhookConfig{Endpoints: map[string]WebhookEndpoint{
			name: {Secret: secret, BearerToken: token},
		}}
	}

	if url := os.Getenv("MNV_SLACK_WEBHOOK_URL"); url != "" {
		cfg.Slack = &SlackConfig{WebhookURL: url, Channel: os.Getenv("MNV_SLACK_CHANNEL")}
	}

	if bot, app := os.Getenv("MNV_SLACK_BOT_TOKEN"), os.Getenv("MNV_SLACK_APP_TOKEN"); bot != "" || app != "" {
		cfg.SlackChat = &SlackChatConfig{BotToken: bot, AppToken: app}
		if ch := os.Getenv("MNV_SLACK_CHAT_CHANNELS"); ch != "" {
			for _, c := range strings.Split(ch, ",") {
				if c = strings.TrimSpace(c); c != "" {
					cfg.SlackChat.Channels = append(cfg.SlackChat.Channels, c)
				}
			}
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.CRM.MaxAttempts <= 0 {
		c.CRM.MaxAttempts = defaultMaxAttempts
	}
	if c.CRM.Schedule == "" {
		c.CRM.Schedule = defaultSchedule
	}
	if c.Summarizer.Schedule == "" {
		c.Summarizer.Schedule = defaultSchedule
	}
}

// Validate checks for required fields.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.ID == "" {
		errs = append(errs, "service.id is required")
	}
	if c.Service.DataDir == "" {
		errs = append(errs, "service.data_dir is required")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}

	if c.Telegram != nil && c.Telegram.Token == "" {
		errs = append(errs, "telegram.token is required")
	}
	if c.Webhook != nil {
		if len(c.Webhook.Endpoints) == 0 {
			errs = append(errs, "webhook.endpoints must not be empty")
		}
		for name, ep := range c.Webhook.Endpoints {
			if ep.Secret == "" && ep.BearerToken == "" {
				errs = append(errs, fmt.Sprintf("webhook.endpoints.%s needs a secret or bearer_token", name))
			}
		}
	}
	if (c.CRM.Domain == "") != (c.CRM.AppSecret == "") {
		errs = append(errs, "crm.domain and crm.app_secret must be set together")
	}
	if c.Slack != nil && c.Slack.WebhookURL == "" {
		errs = append(errs, "slack.webhook_url is required")
	}
	if c.SlackChat != nil && (c.SlackChat.BotToken == "" || c.SlackChat.AppToken == "") {
		errs = append(errs, "slack_chat.bot_token and slack_chat.app_token are required")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for field, expr := range map[string]string{
		"crm.schedule":        c.CRM.Schedule,
		"summarizer.schedule": c.Summarizer.Schedule,
	} {
		if expr == "" {
			continue
		}
		if _, err := parser.Parse(expr); err != nil {
			errs = append(errs, fmt.Sprintf("%s %q is invalid: %v", field, expr, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseInt64List(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	result := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}
