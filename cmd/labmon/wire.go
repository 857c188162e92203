package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/lab_mon/internal/config"
	"github.com/eliteGoblin/focusd/lab_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/lab_mon/internal/infra"
	"github.com/eliteGoblin/focusd/lab_mon/internal/policy"
	"github.com/eliteGoblin/focusd/lab_mon/internal/usecase"
)

// flagOverrides holds command-line values that win over file and environment.
type flagOverrides struct {
	serverURL  string
	labCode    string
	clientName string
	classifier string
	bootstrap  string
	debug      bool
}

// apply copies non-empty flag values onto cfg and re-validates it.
func (f flagOverrides) apply(cfg *config.Config) error {
	if f.serverURL != "" {
		cfg.Server.URL = f.serverURL
	}
	if f.labCode != "" {
		cfg.Lab.Code = f.labCode
	}
	if f.clientName != "" {
		cfg.Lab.ClientName = f.clientName
	}
	if f.classifier != "" {
		cfg.Classifier.Mode = f.classifier
	}
	if f.bootstrap != "" {
		cfg.Bootstrap.Mode = f.bootstrap
	}
	if f.debug {
		cfg.Logging.Level = "debug"
	}
	return cfg.Validate()
}

// passthrough renders the overrides as flags for a detached child.
func (f flagOverrides) passthrough() []string {
	var args []string
	add := func(name, value string) {
		if value != "" {
			args = append(args, "--"+name, value)
		}
	}
	add("server", f.serverURL)
	add("lab", f.labCode)
	add("client-name", f.clientName)
	add("classifier", f.classifier)
	add("bootstrap", f.bootstrap)
	if f.debug {
		args = append(args, "--debug")
	}
	return args
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := overrides.apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createLogger(cfg config.LoggingConfig) *zap.Logger {
	zc := zap.NewProductionConfig()
	zc.OutputPaths = cfg.Output
	zc.ErrorOutputPaths = []string{"stderr"}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if level, err := zapcore.ParseLevel(cfg.Level); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stderr if an output path cannot be opened
		logger, _ = zap.NewProduction()
		logger.Warn("failed to open log outputs", zap.Strings("output", cfg.Output), zap.Error(err))
	}
	return logger
}

// resolveCredential fills the AI key from the credential store when neither
// the environment nor the config file supplied one. It returns
// domain.ErrNoCredential when AI mode still has no key.
func resolveCredential(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Classifier.Mode != config.ClassifierAI || cfg.Classifier.APIKey != "" {
		return cfg.RequireCredential()
	}

	store, err := infra.OpenDefaultCredentialStore(cfg.DataDir)
	if err != nil {
		logger.Debug("credential store unavailable", zap.Error(err))
		return cfg.RequireCredential()
	}
	defer store.Close()

	key, err := store.GetSecret(infra.SecretAIKey)
	switch {
	case err == nil:
		cfg.Classifier.APIKey = key
	case !errors.Is(err, infra.ErrSecretNotFound):
		logger.Warn("failed to read stored API key", zap.Error(err))
	}
	return cfg.RequireCredential()
}

// buildRegistry registers the static strategy and, when a key is present,
// the AI strategy backed by the chat-completions client.
func buildRegistry(cfg *config.Config, logger *zap.Logger) *policy.Registry {
	pol := cfg.DomainPolicy()
	registry := policy.NewRegistryWithStrategies(policy.NewStaticStrategy(pol.ForbiddenNames))
	if cfg.Classifier.APIKey != "" {
		service := infra.NewChatClassifier(cfg.Classifier.APIKey, cfg.Classifier.BaseURL, cfg.Classifier.Model, logger)
		registry.Register(policy.NewAIStrategy(service, policy.AIConfig{
			Prompt:      cfg.Classifier.Prompt,
			Whitelist:   pol.WhitelistNames,
			MaxAttempts: cfg.Classifier.MaxAttempts,
			RetryDelay:  cfg.Classifier.RetryDelay,
			Timeout:     cfg.Classifier.Timeout,
		}, logger))
	}
	return registry
}

func bootstrapConfig(cfg *config.Config) usecase.BootstrapConfig {
	return usecase.BootstrapConfig{
		LabCode:          cfg.Lab.Code,
		ClientName:       cfg.Lab.ClientName,
		Mode:             usecase.BootstrapMode(cfg.Bootstrap.Mode),
		ProbeAttempts:    cfg.Bootstrap.ProbeAttempts,
		ProbeDelay:       cfg.Bootstrap.ProbeDelay,
		RegisterAttempts: cfg.Bootstrap.RegisterAttempts,
		OfflineRetry:     cfg.Bootstrap.OfflineRetry,
	}
}

func agentConfig(cfg *config.Config) daemon.AgentConfig {
	return daemon.AgentConfig{
		ProcessInterval:   cfg.Pollers.ProcessInterval,
		DetectionCooldown: cfg.Pollers.DetectionCooldown,
		NetworkInterval:   cfg.Pollers.NetworkInterval,
		HeartbeatInterval: cfg.Delivery.HeartbeatInterval,
		FlushInterval:     cfg.Delivery.FlushInterval,
		MetricsAddr:       cfg.Metrics.Addr,
	}
}

// openBuffer opens the event buffer with the configured upload batch limits.
func openBuffer(cfg *config.Config) (*infra.FileBuffer, error) {
	buffer, err := infra.NewFileBuffer(cfg.Buffer.Path)
	if err != nil {
		return nil, err
	}
	return buffer.WithBatchLimit(cfg.Buffer.BatchMaxRecords, cfg.Buffer.BatchMaxBytes), nil
}

func mustLab(cfg *config.Config) error {
	if err := cfg.RequireLab(); err != nil {
		return fmt.Errorf("cannot contact the admin server: %w", err)
	}
	return nil
}

func readAllTrimmed(r io.Reader) (string, error) {
	b, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}
