package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PlatformOptions holds parameters for fetching a deployment's config from
// the central dashboard.
type PlatformOptions struct {
	PlatformURL  string // e.g. https://dashboard.example.com
	DeploymentID string
	APIKey       string
	DataDir      string // local data directory, default /data
}

// platformResponse is the dashboard payload: the service config plus the
// knowledge base YAML managed alongside it.
type platformResponse struct {
	Config        Config `json:"config"`
	KnowledgeBase string `json:"knowledge_base,omitempty"`
}

// LoadFromPlatform fetches the deployment configuration from the dashboard,
// writes the managed knowledge base into the data directory, and returns the
// validated Config.
func LoadFromPlatform(ctx context.Context, opts PlatformOptions) (*Config, error) {
	if opts.DataDir == "" {
		opts.DataDir = "/data"
	}

	url := strings.TrimSuffix(opts.PlatformURL, "/") + "/api/deployments/config"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("platform: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+opts.APIKey)
	req.Header.Set("X-Deployment-ID", opts.DeploymentID)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform: fetch config: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("platform: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("platform: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload platformResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("platform: parse config: %w", err)
	}
	cfg := payload.Config
	cfg.Service.DataDir = opts.DataDir
	if cfg.Service.ID == "" {
		cfg.Service.ID = opts.DeploymentID
	}

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("platform: create data dir: %w", err)
	}
	if payload.KnowledgeBase != "" {
		// The dashboard copy is authoritative; a stale local file is replaced.
		cfg.Service.KnowledgeFile = filepath.Join(opts.DataDir, "knowledge_base.yaml")
		tmp := cfg.Service.KnowledgeFile + ".tmp"
		if err := os.WriteFile(tmp, []byte(payload.KnowledgeBase), 0o644); err != nil {
			return nil, fmt.Errorf("platform: write knowledge base: %w", err)
		}
		if err := os.Rename(tmp, cfg.Service.KnowledgeFile); err != nil {
			return nil, fmt.Errorf("platform: write knowledge base: %w", err)
		}
	} else if cfg.Service.KnowledgeFile != "" && !filepath.IsAbs(cfg.Service.KnowledgeFile) {
		cfg.Service.KnowledgeFile = filepath.Join(opts.DataDir, cfg.Service.KnowledgeFile)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("platform: %w", err)
	}
	return &cfg, nil
}
