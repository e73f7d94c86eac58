package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"grimm.is/warden/internal/brand"
)

// RunStop signals the background daemon to shut down and waits for it.
func RunStop() error {
	pidFile := filepath.Join(brand.GetRunDir(), brand.LowerName+".pid")

	data, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no PID file at %s (is the daemon running?)", pidFile)
		}
		return fmt.Errorf("reading PID file: %w", err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("invalid PID in file: %w", err)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process not found: %w", err)
	}

	fmt.Printf("Stopping %s (PID %d)...\n", brand.Name, pid)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM: %w", err)
	}

	// The daemon removes its PID file on the way out.
	for i := 0; i < 50; i++ {
		if _, err := os.Stat(pidFile); os.IsNotExist(err) {
			fmt.Println("Stopped.")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Println("Warning: PID file still exists, shutdown may be stuck.")
	return nil
}
