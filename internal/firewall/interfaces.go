package firewall

// CapSet is a set of Linux capabilities an external command is granted.
// Commands run with exactly the requested set and nothing more.
type CapSet uint64

const (
	CapNetAdmin CapSet = 1 << iota
	CapNetRaw
)

// NetControlCaps is the capability set every rule-tool invocation needs.
const NetControlCaps = CapNetAdmin | CapNetRaw

// CommandRunner abstracts external command execution. Run executes the
// argument vector synchronously as a capability-scoped process and returns
// nil only when the command exits with status 0.
type CommandRunner interface {
	Run(caps CapSet, name string, args ...string) error
}

// JailedRunner executes commands as an unprivileged user carrying only the
// requested ambient capabilities. Methods are implemented in runner_linux.go
// and runner_stub.go.
type JailedRunner struct {
	// User is the account to drop to before exec. Empty keeps the daemon's
	// own credentials (the command is still capability-scoped).
	User string
}

// DefaultCommandRunner is the runner used when none is injected.
var DefaultCommandRunner CommandRunner = &JailedRunner{User: "nobody"}
