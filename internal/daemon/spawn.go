package daemon

import (
	"fmt"
	"os"
	"os/exec"
)

// RunArgs builds the argument list for a detached "run" invocation.
func RunArgs(configPath string, extra ...string) []string {
	args := []string{"run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return append(args, extra...)
}

// StartDetached self-execs the agent detached from the launching terminal
// (a new session on unix, a new process group on Windows) so it outlives
// it. It returns the child PID.
func StartDetached(configPath string, extra ...string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("failed to locate executable: %w", err)
	}
	return StartDetachedWithPath(executable, configPath, extra...)
}

// StartDetachedWithPath is StartDetached for an explicit binary path.
func StartDetachedWithPath(binaryPath, configPath string, extra ...string) (int, error) {
	cmd := exec.Command(binaryPath, RunArgs(configPath, extra...)...)
	cmd.SysProcAttr = detachedAttr()

	// the agent logs through its own configured outputs
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start agent: %w", err)
	}
	pid := cmd.Process.Pid
	// the child outlives this process; release it
	_ = cmd.Process.Release()
	return pid, nil
}
