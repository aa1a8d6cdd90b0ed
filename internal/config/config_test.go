package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validJSON = `{
  "service": {
    "id": "blr-showroom",
    "data_dir": "/tmp/mnvoice-test",
    "knowledge_file": "kb.yaml"
  },
  "api": {
    "host": "0.0.0.0",
    "port": 8080,
    "api_key": "dashboard-key"
  },
  "telegram": {
    "token": "123456:ABC",
    "allow_from": [100, 200]
  },
  "webhook": {
    "endpoints": {
      "exotel": {"secret": "hook-secret"}
    }
  },
  "crm": {
    "domain": "crm.example.com",
    "app_secret": "s3cret",
    "max_attempts": 3,
    "schedule": "*/5 * * * *"
  },
  "slack": {
    "webhook_url": "https://hooks.slack.com/services/T/B/X",
    "channel": "#sales"
  }
}`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(validJSON), 0o644)
	os.WriteFile(filepath.Join(dir, "kb.yaml"), []byte("faq: {}\n"), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Service.ID != "blr-showroom" {
		t.Errorf("service.id = %q", cfg.Service.ID)
	}
	if cfg.Service.DBPath() != filepath.Join("/tmp/mnvoice-test", "mnvoice.db") {
		t.Errorf("db path = %q", cfg.Service.DBPath())
	}
	// kb.yaml exists next to the config file, so it wins over the data dir.
	if cfg.Service.KnowledgePath() != filepath.Join(dir, "kb.yaml") {
		t.Errorf("knowledge path = %q", cfg.Service.KnowledgePath())
	}
	if cfg.API.Key != "dashboard-key" {
		t.Errorf("api.api_key = %q", cfg.API.Key)
	}
	if cfg.Telegram == nil || len(cfg.Telegram.AllowFrom) != 2 || cfg.Telegram.AllowFrom[1] != 200 {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Webhook == nil || cfg.Webhook.Endpoints["exotel"].Secret != "hook-secret" {
		t.Errorf("webhook = %+v", cfg.Webhook)
	}
	if !cfg.CRM.Enabled() || cfg.CRM.MaxAttempts != 3 || cfg.CRM.Schedule != "*/5 * * * *" {
		t.Errorf("crm = %+v", cfg.CRM)
	}
	if cfg.Slack == nil || cfg.Slack.Channel != "#sales" {
		t.Errorf("slack = %+v", cfg.Slack)
	}
	if cfg.Summarizer.Schedule != "@every 1m" {
		t.Errorf("summarizer.schedule default = %q", cfg.Summarizer.Schedule)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"service": {"id": "x", "data_dir": "/data"}}`), 0o644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("api.port default = %d", cfg.API.Port)
	}
	if cfg.CRM.MaxAttempts != 5 || cfg.CRM.Schedule != "@every 1m" {
		t.Errorf("crm defaults = %+v", cfg.CRM)
	}
	if cfg.CRM.Enabled() {
		t.Error("crm should be disabled without credentials")
	}
	if cfg.Telegram != nil || cfg.Webhook != nil || cfg.Slack != nil {
		t.Errorf("optional sections should stay nil: %+v", cfg)
	}
	if cfg.Service.KnowledgePath() != filepath.Join("/data", "knowledge_base.yaml") {
		t.Errorf("knowledge path = %q", cfg.Service.KnowledgePath())
	}
}

func TestKnowledgePath(t *testing.T) {
	tests := []struct {
		file string
		want string
	}{
		{"", filepath.Join("/data", "knowledge_base.yaml")},
		{"/etc/mnvoice/kb.yaml", "/etc/mnvoice/kb.yaml"},
		{"custom.yaml", filepath.Join("/data", "custom.yaml")},
	}
	for _, tt := range tests {
		s := ServiceConfig{DataDir: "/data", KnowledgeFile: tt.file}
		if got := s.KnowledgePath(); got != tt.want {
			t.Errorf("KnowledgePath(%q) = %q, want %q", tt.file, got, tt.want)
		}
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.json")
	os.WriteFile(path, []byte("not json"), 0o644)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := &Config{
		API:        APIConfig{Port: 70000},
		Telegram:   &TelegramConfig{},
		Webhook:    &WebhookConfig{Endpoints: map[string]WebhookEndpoint{"open": {}}},
		CRM:        CRMConfig{Domain: "crm.example.com", Schedule: "every now and then"},
		Slack:      &SlackConfig{},
		SlackChat:  &SlackChatConfig{BotToken: "xoxb-1"},
		Summarizer: SummarizerConfig{Schedule: "@every 1m"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"service.id is required",
		"service.data_dir is required",
		"api.port 70000 is out of range",
		"telegram.token is required",
		"webhook.endpoints.open needs a secret or bearer_token",
		"crm.domain and crm.app_secret must be set together",
		"slack.webhook_url is required",
		"slack_chat.bot_token and slack_chat.app_token are required",
		`crm.schedule "every now and then" is invalid`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
	if strings.Contains(err.Error(), "summarizer.schedule") {
		t.Errorf("valid schedule reported: %v", err)
	}
}

func TestValidate_EmptyWebhookEndpoints(t *testing.T) {
	cfg := &Config{
		Service: ServiceConfig{ID: "x", DataDir: "/data"},
		Webhook: &WebhookConfig{},
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "webhook.endpoints must not be empty") {
		t.Errorf("err = %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MNV_SERVICE_ID", "env-svc")
	t.Setenv("MNV_DATA_DIR", "/var/lib/mnvoice")
	t.Setenv("MNV_API_PORT", "9000")
	t.Setenv("MNV_API_KEY", "k")
	t.Setenv("MNV_TELEGRAM_TOKEN", "123:ABC")
	t.Setenv("MNV_TELEGRAM_ALLOW_FROM", "1, 2,3")
	t.Setenv("MNV_WEBHOOK_TOKEN", "bearer-token")
	t.Setenv("MNV_CRM_DOMAIN", "crm.example.com")
	t.Setenv("MNV_CRM_APP_SECRET", "s3cret")
	t.Setenv("MNV_CRM_MAX_ATTEMPTS", "7")
	t.Setenv("MNV_SLACK_WEBHOOK_URL", "https://hooks.slack.com/services/T/B/X")
	t.Setenv("MNV_SUMMARIZER_SCHEDULE", "@every 30s")
	t.Setenv("MNV_SLACK_BOT_TOKEN", "xoxb-1")
	t.Setenv("MNV_SLACK_APP_TOKEN", "xapp-1")
	t.Setenv("MNV_SLACK_CHAT_CHANNELS", "C1, C2")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Service.ID != "env-svc" || cfg.Service.DataDir != "/var/lib/mnvoice" {
		t.Errorf("service = %+v", cfg.Service)
	}
	if cfg.API.Port != 9000 || cfg.API.Host != "0.0.0.0" || cfg.API.Key != "k" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Telegram == nil || len(cfg.Telegram.AllowFrom) != 3 || cfg.Telegram.AllowFrom[2] != 3 {
		t.Errorf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Webhook == nil || cfg.Webhook.Endpoints["telephony"].BearerToken != "bearer-token" {
		t.Errorf("webhook = %+v", cfg.Webhook)
	}
	if !cfg.CRM.Enabled() || cfg.CRM.MaxAttempts != 7 || cfg.CRM.Schedule != "@every 1m" {
		t.Errorf("crm = %+v", cfg.CRM)
	}
	if cfg.Slack == nil {
		t.Error("slack should be configured")
	}
	if cfg.Summarizer.Schedule != "@every 30s" {
		t.Errorf("summarizer = %+v", cfg.Summarizer)
	}
	if cfg.SlackChat == nil || len(cfg.SlackChat.Channels) != 2 || cfg.SlackChat.Channels[1] != "C2" {
		t.Errorf("slack_chat = %+v", cfg.SlackChat)
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"MNV_SERVICE_ID", "MNV_DATA_DIR", "MNV_TELEGRAM_TOKEN", "MNV_WEBHOOK_SECRET", "MNV_WEBHOOK_TOKEN", "MNV_SLACK_WEBHOOK_URL", "MNV_CRM_DOMAIN", "MNV_CRM_APP_SECRET", "MNV_SLACK_BOT_TOKEN", "MNV_SLACK_APP_TOKEN"} {
		t.Setenv(k, "")
	}
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Service.ID != "mnvoice" || cfg.Service.DataDir != "/data" || cfg.API.Port != 8080 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Telegram != nil || cfg.Webhook != nil || cfg.Slack != nil || cfg.SlackChat != nil {
		t.Errorf("optional sections should be nil: %+v", cfg)
	}
}

func TestLoadFromEnv_BadAllowList(t *testing.T) {
	t.Setenv("MNV_TELEGRAM_TOKEN", "123:ABC")
	t.Setenv("MNV_TELEGRAM_ALLOW_FROM", "1,abc")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected error for non-numeric allow_from")
	}
}
