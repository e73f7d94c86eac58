//go:build !linux
// +build !linux

package firewall

import "fmt"

// Run is not supported off Linux; the rule tools only exist there.
func (r *JailedRunner) Run(caps CapSet, name string, args ...string) error {
	return fmt.Errorf("command execution is only supported on linux")
}
