package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/config"
)

// RunStart launches the daemon in the background. The config is validated
// up front so errors surface here instead of in a detached log.
func RunStart(configFile string) error {
	if _, err := config.Load(configFile); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	runDir := brand.GetRunDir()
	pidFile := filepath.Join(runDir, brand.LowerName+".pid")
	if data, err := os.ReadFile(pidFile); err == nil {
		if pid, err := strconv.Atoi(string(data)); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return fmt.Errorf("already running (PID %d)", pid)
				}
			}
		}
		fmt.Printf("Warning: removing stale PID file %s\n", pidFile)
		os.Remove(pidFile)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	args := []string{"daemon"}
	if configFile != "" {
		args = append(args, "-config", configFile)
	}
	cmd := exec.Command(exe, args...)

	logDir := brand.GetLogDir()
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	logFile := filepath.Join(logDir, brand.LowerName+".log")
	logF, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logF.Close()
	cmd.Stdout = logF
	cmd.Stderr = logF

	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	pid := cmd.Process.Pid
	fmt.Printf("Started %s (PID %d)\n", brand.Name, pid)
	fmt.Printf("Logs: %s\n", logFile)

	// Catch daemons that die during startup instead of reporting success.
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		fmt.Fprintf(os.Stderr, "\nError: daemon exited immediately.\n")
		if content, readErr := os.ReadFile(logFile); readErr == nil {
			lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
			start := len(lines) - 10
			if start < 0 {
				start = 0
			}
			fmt.Fprintf(os.Stderr, "Log output:\n")
			for _, line := range lines[start:] {
				if line != "" {
					fmt.Fprintf(os.Stderr, "  %s\n", line)
				}
			}
		}
		if err != nil {
			return fmt.Errorf("daemon failed to start: %w", err)
		}
		return fmt.Errorf("daemon exited unexpectedly")
	case <-time.After(500 * time.Millisecond):
		if err := cmd.Process.Signal(syscall.Signal(0)); err != nil {
			return fmt.Errorf("daemon died during startup (check logs: %s)", logFile)
		}
		return nil
	}
}
