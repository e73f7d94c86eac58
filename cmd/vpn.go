package cmd

import "fmt"

// RunVpnSetup installs the VPN rule set through the daemon.
func RunVpnSetup(socketPath string, usernames []string, iface string) error {
	if err := NewClient(socketPath).VpnSetup(usernames, iface); err != nil {
		return err
	}
	fmt.Printf("VPN setup applied on %s for %d user(s)\n", iface, len(usernames))
	return nil
}

// RunVpnTeardown removes the VPN rule set through the daemon.
func RunVpnTeardown(socketPath string, usernames []string, iface string) error {
	if err := NewClient(socketPath).VpnTeardown(usernames, iface); err != nil {
		return err
	}
	fmt.Printf("VPN setup removed from %s\n", iface)
	return nil
}
