package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so lists can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Workspace  WorkspaceConfig  `json:"workspace"`
	Chat       ChatConfig       `json:"chat"`
	Enrichment EnrichmentConfig `json:"enrichment"`
	Analysis   AnalysisConfig   `json:"analysis"`
	mu         sync.RWMutex
}

type WorkspaceConfig struct {
	Path string `json:"path" env:"PERSONA_WORKSPACE_PATH"`
}

type ChatConfig struct {
	Name             string              `json:"name" env:"PERSONA_CHAT_NAME"`
	NameVariations   FlexibleStringSlice `json:"name_variations" env:"PERSONA_CHAT_NAME_VARIATIONS"`
	ReplyProbability float64             `json:"reply_probability" env:"PERSONA_CHAT_REPLY_PROBABILITY"`
	ShortTermLimit   int                 `json:"short_term_limit" env:"PERSONA_CHAT_SHORT_TERM_LIMIT"`
}

type EnrichmentConfig struct {
	APIKey  string `json:"api_key" env:"PERSONA_ENRICHMENT_API_KEY"`
	APIBase string `json:"api_base" env:"PERSONA_ENRICHMENT_API_BASE"`
	Model   string `json:"model" env:"PERSONA_ENRICHMENT_MODEL"`
}

type AnalysisConfig struct {
	Cron          string `json:"cron" env:"PERSONA_ANALYSIS_CRON"`
	Parallelism   int    `json:"parallelism" env:"PERSONA_ANALYSIS_PARALLELISM"`
	RetentionDays int    `json:"retention_days" env:"PERSONA_ANALYSIS_RETENTION_DAYS"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Path: "~/.persona/workspace",
		},
		Chat: ChatConfig{
			Name:             "персона",
			NameVariations:   FlexibleStringSlice{"персона", "персон", "persona"},
			ReplyProbability: 0.05,
			ShortTermLimit:   30,
		},
		Enrichment: EnrichmentConfig{
			APIBase: "https://api.deepseek.com/v1",
			Model:   "deepseek-reasoner",
		},
		Analysis: AnalysisConfig{
			Cron:          "0 3 * * *",
			Parallelism:   3,
			RetentionDays: 90,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
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
	return expandHome(c.Workspace.Path)
}

// DBPath is where the SQLite database lives inside the workspace.
func (c *Config) DBPath() string {
	return filepath.Join(c.WorkspacePath(), "state", "persona.db")
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Enrichment.APIKey
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Enrichment.APIBase != "" {
		return c.Enrichment.APIBase
	}
	return "https://api.deepseek.com/v1"
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
