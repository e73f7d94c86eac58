//go:build linux
// +build linux

package firewall

import (
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// Run executes a command as the configured unprivileged user, granting only
// the requested ambient capabilities.
func (r *JailedRunner) Run(caps CapSet, name string, args ...string) error {
	cmd := exec.Command(name, args...)

	attr := &syscall.SysProcAttr{
		AmbientCaps: caps.ambient(),
	}
	if r.User != "" {
		cred, err := lookupCredential(r.User)
		if err != nil {
			return fmt.Errorf("resolving run-as user %q: %w", r.User, err)
		}
		attr.Credential = cred
	}
	cmd.SysProcAttr = attr

	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %s failed: %w: %s", name, err, string(out))
	}
	return nil
}

func (c CapSet) ambient() []uintptr {
	var caps []uintptr
	if c&CapNetAdmin != 0 {
		caps = append(caps, unix.CAP_NET_ADMIN)
	}
	if c&CapNetRaw != 0 {
		caps = append(caps, unix.CAP_NET_RAW)
	}
	return caps
}

func lookupCredential(username string) (*syscall.Credential, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return nil, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing gid %q: %w", u.Gid, err)
	}
	return &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)}, nil
}
