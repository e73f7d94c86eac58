package cmd

import (
	"fmt"
	"time"
)

// RunStatus prints the daemon status.
func RunStatus(socketPath string) error {
	status, err := NewClient(socketPath).Status()
	if err != nil {
		return err
	}
	uptime := time.Duration(status.UptimeSeconds * float64(time.Second)).Round(time.Second)
	fmt.Printf("%s %s\n", status.Name, status.Version)
	fmt.Printf("  PID:          %d\n", status.PID)
	fmt.Printf("  Uptime:       %s\n", uptime)
	fmt.Printf("  Open holes:   %d\n", status.OpenHoles)
	fmt.Printf("  IPv6 active:  %v\n", status.IPv6Enabled)
	return nil
}
