package firewall

import "errors"

// Typed failures surfaced by the registry and applier. The control API
// collapses these into its boolean result; tests and logs keep the detail.
var (
	// ErrInvalidPort is returned for port 0, which is not a valid TCP/UDP port.
	ErrInvalidPort = errors.New("invalid port")

	// ErrInvalidInterface is returned for malformed interface names, before
	// any external command is issued.
	ErrInvalidInterface = errors.New("invalid interface name")

	// ErrUnknownHole is returned when plugging a hole that was never punched.
	// Deliberately not idempotent: a caller plugging an untracked hole is a
	// bug worth surfacing.
	ErrUnknownHole = errors.New("no such hole")

	// ErrHolesRemain is returned by PlugAllHoles when holes are still tracked
	// after full teardown. The daemon treats this as fatal.
	ErrHolesRemain = errors.New("holes remain open")
)
