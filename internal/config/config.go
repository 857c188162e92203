// Package config loads the agent configuration from YAML, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

// Classifier modes.
const (
	ClassifierStatic = "static"
	ClassifierAI     = "ai"
)

// Bootstrap modes.
const (
	BootstrapAuto   = "auto"
	BootstrapManual = "manual"
)

// Gemini exposes an OpenAI-compatible endpoint; any compatible server works.
const (
	DefaultAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultAIModel   = "gemini-2.0-flash"
	DefaultAIPrompt  = "You are monitoring a computer during a programming lab exam. " +
		"Students may only use a code editor, a terminal and the lab resource bank. " +
		"Answer only 'yes' or 'no': should the following application be forbidden during the exam? Application: "
)

// Config is the complete agent configuration.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Server     ServerConfig     `yaml:"server"`
	Lab        LabConfig        `yaml:"lab"`
	Policy     PolicyConfig     `yaml:"policy"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Pollers    PollersConfig    `yaml:"pollers"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	Bootstrap  BootstrapConfig  `yaml:"bootstrap"`
	Buffer     BufferConfig     `yaml:"buffer"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type LabConfig struct {
	Code       string `yaml:"code"`
	ClientName string `yaml:"client_name" validate:"required"`
}

type PolicyConfig struct {
	ForbiddenApps []string `yaml:"forbidden_apps"`
	AllowedHosts  []string `yaml:"allowed_hosts"`
	// Whitelist entries skip the AI classifier; glob patterns are accepted.
	Whitelist []string `yaml:"whitelist"`
}

type ClassifierConfig struct {
	Mode        string        `yaml:"mode" validate:"oneof=static ai"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url" validate:"omitempty,url"`
	Model       string        `yaml:"model"`
	Prompt      string        `yaml:"prompt"`
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=1"`
	RetryDelay  time.Duration `yaml:"retry_delay" validate:"gte=0"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
}

type PollersConfig struct {
	ProcessInterval   time.Duration `yaml:"process_interval" validate:"gt=0"`
	DetectionCooldown time.Duration `yaml:"detection_cooldown" validate:"gte=0"`
	NetworkInterval   time.Duration `yaml:"network_interval" validate:"gt=0"`
	Dedup             string        `yaml:"dedup" validate:"oneof=debounce once"`
	DedupCooldown     time.Duration `yaml:"dedup_cooldown" validate:"gt=0"`
	// SkipLoopback drops connections to loopback peers; nil means true.
	SkipLoopback *bool `yaml:"skip_loopback"`
}

// LoopbackSkipped reports the effective skip_loopback setting.
func (p PollersConfig) LoopbackSkipped() bool {
	return p.SkipLoopback == nil || *p.SkipLoopback
}

type DeliveryConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" validate:"gt=0"`
	FlushInterval     time.Duration `yaml:"flush_interval" validate:"gt=0"`
}

type BootstrapConfig struct {
	Mode             string        `yaml:"mode" validate:"oneof=auto manual"`
	ProbeAttempts    int           `yaml:"probe_attempts" validate:"gte=1"`
	ProbeDelay       time.Duration `yaml:"probe_delay" validate:"gte=0"`
	RegisterAttempts int           `yaml:"register_attempts" validate:"gte=1"`
	OfflineRetry     time.Duration `yaml:"offline_retry" validate:"gt=0"`
}

type BufferConfig struct {
	Path string `yaml:"path" validate:"required"`
	// Upload limits for one flush batch; the rest goes in following batches.
	BatchMaxRecords int `yaml:"batch_max_records" validate:"gte=1"`
	BatchMaxBytes   int `yaml:"batch_max_bytes" validate:"gte=1024"`
}

type LoggingConfig struct {
	Level  string   `yaml:"level" validate:"oneof=debug info warn error"`
	Output []string `yaml:"output" validate:"min=1"`
}

type MetricsConfig struct {
	// Addr enables the Prometheus listener when non-empty (e.g. "127.0.0.1:9464").
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

var validate = validator.New()

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a YAML file, then applies defaults, environment overrides and validation.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromBytes loads configuration from bytes without applying environment
// overrides. This is intended for testing where env vars should not interfere.
func LoadFromBytes(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s failed %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// DomainPolicy converts the policy section into the domain entity.
func (c *Config) DomainPolicy() domain.Policy {
	return domain.Policy{
		ForbiddenNames:        append([]string(nil), c.Policy.ForbiddenApps...),
		AllowedHostSubstrings: append([]string(nil), c.Policy.AllowedHosts...),
		WhitelistNames:        append([]string(nil), c.Policy.Whitelist...),
	}
}

// RequireLab returns an error when no lab code is configured. Only commands
// that talk to the admin server need one.
func (c *Config) RequireLab() error {
	if strings.TrimSpace(c.Lab.Code) == "" {
		return errors.New("lab code is required (lab.code, LABMON_LAB_CODE or --lab)")
	}
	return nil
}

// RequireCredential returns domain.ErrNoCredential when AI mode has no API key.
func (c *Config) RequireCredential() error {
	if c.Classifier.Mode == ClassifierAI && c.Classifier.APIKey == "" {
		return domain.ErrNoCredential
	}
	return nil
}

// DefaultForbiddenApps returns the built-in forbidden list in the form the
// process lister reports names on goos: with ".exe" on Windows, bare
// executable names elsewhere.
func DefaultForbiddenApps(goos string) []string {
	switch goos {
	case "windows":
		return []string{"chrome.exe", "firefox.exe", "msedge.exe", "notepad.exe"}
	case "darwin":
		return []string{"Google Chrome", "firefox", "Microsoft Edge", "TextEdit"}
	default:
		return []string{"chrome", "firefox", "msedge", "gedit"}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = DetectExecMode().DataDir
	}
	cfg.DataDir = ExpandHome(cfg.DataDir, GetRealUserHome())

	if cfg.Server.URL == "" {
		cfg.Server.URL = "http://localhost:5000"
	}
	cfg.Server.URL = strings.TrimRight(cfg.Server.URL, "/")
	if cfg.Server.Timeout == 0 {
		cfg.Server.Timeout = 5 * time.Second
	}

	if cfg.Lab.ClientName == "" {
		cfg.Lab.ClientName, _ = os.Hostname()
	}

	if cfg.Policy.ForbiddenApps == nil {
		cfg.Policy.ForbiddenApps = DefaultForbiddenApps(runtime.GOOS)
	}
	if cfg.Policy.AllowedHosts == nil {
		cfg.Policy.AllowedHosts = []string{"example.com", "labresources.edu"}
	}

	if cfg.Classifier.Mode == "" {
		cfg.Classifier.Mode = ClassifierStatic
	}
	if cfg.Classifier.BaseURL == "" {
		cfg.Classifier.BaseURL = DefaultAIBaseURL
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = DefaultAIModel
	}
	if cfg.Classifier.Prompt == "" {
		cfg.Classifier.Prompt = DefaultAIPrompt
	}
	if cfg.Classifier.MaxAttempts == 0 {
		cfg.Classifier.MaxAttempts = 3
	}
	if cfg.Classifier.RetryDelay == 0 {
		cfg.Classifier.RetryDelay = 2 * time.Second
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 10 * time.Second
	}

	if cfg.Pollers.ProcessInterval == 0 {
		cfg.Pollers.ProcessInterval = 1 * time.Second
	}
	if cfg.Pollers.DetectionCooldown == 0 {
		cfg.Pollers.DetectionCooldown = 5 * time.Second
	}
	if cfg.Pollers.NetworkInterval == 0 {
		cfg.Pollers.NetworkInterval = 5 * time.Second
	}
	if cfg.Pollers.Dedup == "" {
		cfg.Pollers.Dedup = string(domain.DedupOnce)
	}
	if cfg.Pollers.DedupCooldown == 0 {
		cfg.Pollers.DedupCooldown = 5 * time.Minute
	}
	if cfg.Pollers.SkipLoopback == nil {
		skip := true
		cfg.Pollers.SkipLoopback = &skip
	}

	if cfg.Delivery.HeartbeatInterval == 0 {
		cfg.Delivery.HeartbeatInterval = 10 * time.Second
	}
	if cfg.Delivery.FlushInterval == 0 {
		cfg.Delivery.FlushInterval = 10 * time.Second
	}

	if cfg.Bootstrap.Mode == "" {
		cfg.Bootstrap.Mode = BootstrapAuto
	}
	if cfg.Bootstrap.ProbeAttempts == 0 {
		cfg.Bootstrap.ProbeAttempts = 5
	}
	if cfg.Bootstrap.ProbeDelay == 0 {
		cfg.Bootstrap.ProbeDelay = 2 * time.Second
	}
	if cfg.Bootstrap.RegisterAttempts == 0 {
		cfg.Bootstrap.RegisterAttempts = 3
	}
	if cfg.Bootstrap.OfflineRetry == 0 {
		cfg.Bootstrap.OfflineRetry = 30 * time.Second
	}

	if cfg.Buffer.Path == "" {
		cfg.Buffer.Path = filepath.Join(cfg.DataDir, "activity_log.jsonl")
	}
	cfg.Buffer.Path = ExpandHome(cfg.Buffer.Path, GetRealUserHome())
	if cfg.Buffer.BatchMaxRecords == 0 {
		cfg.Buffer.BatchMaxRecords = 500
	}
	if cfg.Buffer.BatchMaxBytes == 0 {
		cfg.Buffer.BatchMaxBytes = 1 << 20
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if len(cfg.Logging.Output) == 0 {
		cfg.Logging.Output = []string{"stderr"}
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LABMON_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("LABMON_LAB_CODE"); v != "" {
		cfg.Lab.Code = v
	}
	if v := os.Getenv("LABMON_CLIENT_NAME"); v != "" {
		cfg.Lab.ClientName = v
	}
	if v := os.Getenv("LABMON_CLASSIFIER"); v != "" {
		cfg.Classifier.Mode = v
	}
	for _, name := range []string{"LABMON_AI_API_KEY", "GEMINI_API_KEY", "OPENAI_API_KEY"} {
		if v := os.Getenv(name); v != "" {
			cfg.Classifier.APIKey = v
			break
		}
	}
}
