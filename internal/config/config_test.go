package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/lab_mon/internal/domain"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "http://localhost:5000", cfg.Server.URL)
	assert.Equal(t, 5*time.Second, cfg.Server.Timeout)
	assert.Equal(t, ClassifierStatic, cfg.Classifier.Mode)
	assert.Equal(t, 3, cfg.Classifier.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Pollers.ProcessInterval)
	assert.Equal(t, 5*time.Second, cfg.Pollers.DetectionCooldown)
	assert.Equal(t, 5*time.Second, cfg.Pollers.NetworkInterval)
	assert.Equal(t, string(domain.DedupOnce), cfg.Pollers.Dedup)
	assert.True(t, cfg.Pollers.LoopbackSkipped())
	assert.Equal(t, 10*time.Second, cfg.Delivery.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.Delivery.FlushInterval)
	assert.Equal(t, BootstrapAuto, cfg.Bootstrap.Mode)
	assert.Equal(t, 5, cfg.Bootstrap.ProbeAttempts)
	assert.Equal(t, 2*time.Second, cfg.Bootstrap.ProbeDelay)
	assert.Equal(t, 3, cfg.Bootstrap.RegisterAttempts)
	assert.Equal(t, 30*time.Second, cfg.Bootstrap.OfflineRetry)
	assert.Equal(t, filepath.Join(cfg.DataDir, "activity_log.jsonl"), cfg.Buffer.Path)
	assert.Equal(t, []string{"stderr"}, cfg.Logging.Output)
	assert.Equal(t, DefaultForbiddenApps(runtime.GOOS), cfg.Policy.ForbiddenApps)
	assert.ElementsMatch(t, []string{"example.com", "labresources.edu"}, cfg.Policy.AllowedHosts)
	assert.Equal(t, 500, cfg.Buffer.BatchMaxRecords)
	assert.Equal(t, 1<<20, cfg.Buffer.BatchMaxBytes)
}

func TestDefaultForbiddenApps(t *testing.T) {
	tests := []struct {
		goos string
		want []string
	}{
		{"windows", []string{"chrome.exe", "firefox.exe", "msedge.exe", "notepad.exe"}},
		{"linux", []string{"chrome", "firefox", "msedge", "gedit"}},
		{"freebsd", []string{"chrome", "firefox", "msedge", "gedit"}},
		{"darwin", []string{"Google Chrome", "firefox", "Microsoft Edge", "TextEdit"}},
	}

	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			got := DefaultForbiddenApps(tt.goos)
			assert.Equal(t, tt.want, got)
			for _, name := range got {
				assert.Equal(t, tt.goos == "windows", strings.HasSuffix(name, ".exe"),
					"%s: names must match how processes are reported", name)
			}
		})
	}
}

func TestDefaultForbiddenApps_FiresOnThisPlatform(t *testing.T) {
	cfg := Default()
	p := cfg.DomainPolicy()
	switch runtime.GOOS {
	case "windows":
		assert.Contains(t, p.ForbiddenNames, "chrome.exe")
	case "darwin":
		assert.Contains(t, p.ForbiddenNames, "Google Chrome")
	default:
		assert.Contains(t, p.ForbiddenNames, "chrome")
		assert.NotContains(t, p.ForbiddenNames, "chrome.exe")
	}
}

func TestLoadFromBytes(t *testing.T) {
	yml := `
data_dir: /tmp/labmon-test
server:
  url: http://admin.lab:8080/
  timeout: 3s
lab:
  code: CS101
  client_name: pc-07
policy:
  forbidden_apps: [steam.exe]
  allowed_hosts: [university.edu]
  whitelist: ["code*", bash]
classifier:
  mode: ai
  model: llama3
  max_attempts: 5
pollers:
  dedup: debounce
  dedup_cooldown: 1m
  skip_loopback: false
bootstrap:
  mode: manual
metrics:
  addr: 127.0.0.1:9464
`
	cfg, err := LoadFromBytes([]byte(yml))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/labmon-test", cfg.DataDir)
	assert.Equal(t, "http://admin.lab:8080", cfg.Server.URL, "trailing slash trimmed")
	assert.Equal(t, 3*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "CS101", cfg.Lab.Code)
	assert.Equal(t, "pc-07", cfg.Lab.ClientName)
	assert.Equal(t, []string{"steam.exe"}, cfg.Policy.ForbiddenApps)
	assert.Equal(t, []string{"code*", "bash"}, cfg.Policy.Whitelist)
	assert.Equal(t, ClassifierAI, cfg.Classifier.Mode)
	assert.Equal(t, "llama3", cfg.Classifier.Model)
	assert.Equal(t, DefaultAIBaseURL, cfg.Classifier.BaseURL)
	assert.Equal(t, 5, cfg.Classifier.MaxAttempts)
	assert.Equal(t, "debounce", cfg.Pollers.Dedup)
	assert.Equal(t, time.Minute, cfg.Pollers.DedupCooldown)
	assert.False(t, cfg.Pollers.LoopbackSkipped())
	assert.Equal(t, BootstrapManual, cfg.Bootstrap.Mode)
	assert.Equal(t, "/tmp/labmon-test/activity_log.jsonl", cfg.Buffer.Path)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)
}

func TestLoadFromBytes_EmptyListsStayEmpty(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("policy:\n  forbidden_apps: []\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Policy.ForbiddenApps, "explicit empty list is kept")
	assert.NotEmpty(t, cfg.Policy.AllowedHosts)
}

func TestLoadFromBytes_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yml  string
		want string
	}{
		{"bad classifier mode", "classifier:\n  mode: magic\n", "Mode"},
		{"bad dedup", "pollers:\n  dedup: sometimes\n", "Dedup"},
		{"bad bootstrap", "bootstrap:\n  mode: later\n", "Mode"},
		{"bad server url", "server:\n  url: not a url\n", "URL"},
		{"bad log level", "logging:\n  level: loud\n", "Level"},
		{"bad metrics addr", "metrics:\n  addr: nope\n", "Addr"},
		{"malformed yaml", "server: [\n", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labmon.yaml")
	require.NoError(t, os.WriteFile(path, []byte("lab:\n  code: FROMFILE\nclassifier:\n  mode: ai\n"), 0600))

	t.Setenv("LABMON_LAB_CODE", "FROMENV")
	t.Setenv("LABMON_SERVER_URL", "http://env.lab:9000")
	t.Setenv("LABMON_AI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "gm-key")
	t.Setenv("OPENAI_API_KEY", "oa-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "FROMENV", cfg.Lab.Code)
	assert.Equal(t, "http://env.lab:9000", cfg.Server.URL)
	assert.Equal(t, "gm-key", cfg.Classifier.APIKey, "first non-empty key variable wins")
	assert.NoError(t, cfg.RequireCredential())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestRequireCredential(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.RequireCredential(), "static mode needs no key")

	cfg.Classifier.Mode = ClassifierAI
	assert.ErrorIs(t, cfg.RequireCredential(), domain.ErrNoCredential)

	cfg.Classifier.APIKey = "k"
	assert.NoError(t, cfg.RequireCredential())
}

func TestRequireLab(t *testing.T) {
	cfg := Default()
	cfg.Lab.Code = "  "
	assert.Error(t, cfg.RequireLab())

	cfg.Lab.Code = "LAB1"
	assert.NoError(t, cfg.RequireLab())
}

func TestDomainPolicy_Copies(t *testing.T) {
	cfg := Default()
	p := cfg.DomainPolicy()
	p.ForbiddenNames[0] = "mutated"
	assert.NotEqual(t, "mutated", cfg.Policy.ForbiddenApps[0])
	assert.Equal(t, cfg.Policy.AllowedHosts, p.AllowedHostSubstrings)
}
