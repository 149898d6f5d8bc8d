package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var defaultConfigPaths = []string{
	"./agent.yaml",
	"/etc/monihub/agent.yaml",
}

type Config struct {
	ServerURL    string `yaml:"server_url"`
	AgentType    string `yaml:"agent_type"`
	AgentVersion string `yaml:"agent_version"`
	Debug        bool   `yaml:"debug"`
	InstanceID   string `yaml:"instance_id"`
	LogPath      string `yaml:"log_path"`

	Report ReportConfig `yaml:"report"`
	Task   TaskConfig   `yaml:"task"`
	File   FileConfig   `yaml:"file"`
	HTTP   HTTPConfig   `yaml:"http"`
}

type ReportConfig struct {
	Enabled         *bool `yaml:"enabled"`
	IntervalSeconds int   `yaml:"interval_seconds"`
}

func (c ReportConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

type TaskConfig struct {
	Enabled                *bool `yaml:"enabled"`
	LongPollEnabled        *bool `yaml:"long_poll_enabled"`
	LongPollTimeoutSeconds int   `yaml:"long_poll_timeout_seconds"`
	MaxConcurrentTasks     int   `yaml:"max_concurrent_tasks"`
	PollIntervalSeconds    int   `yaml:"poll_interval_seconds"`
}

func (c TaskConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c TaskConfig) IsLongPollEnabled() bool {
	return c.LongPollEnabled == nil || *c.LongPollEnabled
}

type FileConfig struct {
	UploadDir       string `yaml:"upload_dir"`
	MaxUploadSizeMB int    `yaml:"max_upload_size_mb"`
}

type HTTPConfig struct {
	ProxyEnabled  bool   `yaml:"proxy_enabled"`
	ProxyURL      string `yaml:"proxy_url"`
	ProxyUsername string `yaml:"proxy_username"`
	ProxyPassword string `yaml:"proxy_password"`
	VerifyTLS     *bool  `yaml:"verify_tls"`
}

func (c HTTPConfig) ShouldVerifyTLS() bool {
	return c.VerifyTLS == nil || *c.VerifyTLS
}

// Load reads the agent config. A missing or unreadable file is not fatal:
// the returned config is always usable, the error is informational so the
// caller can log the fallback. Unknown keys are ignored.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	configPath := path
	if configPath == "" {
		for _, p := range defaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	var loadErr error
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			loadErr = fmt.Errorf("failed to read config file: %w", err)
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			loadErr = fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(cfg)

	if cfg.ServerURL == "" {
		cfg.ServerURL = os.Getenv("MONIHUB_SERVER_URL")
	}

	return cfg, loadErr
}

func Defaults() *Config {
	return &Config{
		AgentType:    "monihub-agent",
		AgentVersion: "0.1.0",
	}
}

func applyDefaults(cfg *Config) {
	if cfg.AgentType == "" {
		cfg.AgentType = "monihub-agent"
	}
	if cfg.Report.IntervalSeconds <= 0 {
		cfg.Report.IntervalSeconds = 30
	}
	if cfg.Task.LongPollTimeoutSeconds <= 0 {
		cfg.Task.LongPollTimeoutSeconds = 30
	}
	if cfg.Task.MaxConcurrentTasks <= 0 {
		cfg.Task.MaxConcurrentTasks = 2
	}
	if cfg.Task.PollIntervalSeconds <= 0 {
		cfg.Task.PollIntervalSeconds = 2
	}
	if cfg.File.MaxUploadSizeMB <= 0 {
		cfg.File.MaxUploadSizeMB = 512
	}
}
