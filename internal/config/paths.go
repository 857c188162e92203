package config

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// ExecMode represents the execution mode of the agent.
type ExecMode string

const (
	// ExecModeUser runs as a regular user, state lives in the home directory.
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root, state lives under /var/lib.
	ExecModeSystem ExecMode = "system"
)

// ExecModeConfig holds paths that depend on the execution mode.
type ExecModeConfig struct {
	Mode    ExecMode
	DataDir string // Buffer, credential database and key live here
	IsRoot  bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	if os.Geteuid() == 0 {
		return &ExecModeConfig{
			Mode:    ExecModeSystem,
			DataDir: "/var/lib/labmon",
			IsRoot:  true,
		}
	}

	return &ExecModeConfig{
		Mode:    ExecModeUser,
		DataDir: filepath.Join(GetRealUserHome(), ".labmon"),
		IsRoot:  false,
	}
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (non-root)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}

// ExpandHome expands a leading ~ to the given home directory.
func ExpandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		return home
	}
	return path
}
