package firewall

import (
	"fmt"
	"path/filepath"
	"strconv"

	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
)

// Protocol identifies the transport protocol of an accept rule.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// IPVersion selects which routing-policy stack a rule targets.
type IPVersion int

const (
	IPv4 IPVersion = iota
	IPv6
)

func (v IPVersion) String() string {
	if v == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

const (
	// markUserTraffic tags packets whose owning user is steered into the
	// VPN routing table.
	markUserTraffic = "1"
	// tableUserTraffic is the routing table marked traffic looks up.
	tableUserTraffic = "1"
)

// ApplierConfig carries the tool paths the applier invokes.
type ApplierConfig struct {
	IptablesPath  string
	Ip6tablesPath string
	IPPath        string

	// RequireIPv6 treats the host as dual-stack from the start, so the very
	// first ip6tables failure is an error instead of an IPv4-only hint.
	RequireIPv6 bool
}

// DefaultApplierConfig returns the stock tool locations.
func DefaultApplierConfig() ApplierConfig {
	return ApplierConfig{
		IptablesPath:  "/sbin/iptables",
		Ip6tablesPath: "/sbin/ip6tables",
		IPPath:        "/bin/ip",
	}
}

// Applier issues iptables, ip6tables and ip commands through a
// CommandRunner. Accept rules are applied to both stacks; whether an
// ip6tables failure is tolerated depends on the ip6Enabled flag below.
type Applier struct {
	runner CommandRunner
	logger *logging.Logger
	cfg    ApplierConfig

	// ip6Enabled is sticky: it flips to true on the first successful
	// ip6tables invocation and never flips back. Before that, ip6tables
	// failures are read as "IPv4-only host" and tolerated; after, they are
	// hard errors.
	ip6Enabled bool
}

// NewApplier builds an Applier. Zero-valued config fields fall back to the
// defaults; a nil logger gets a component logger.
func NewApplier(cfg ApplierConfig, runner CommandRunner, logger *logging.Logger) *Applier {
	def := DefaultApplierConfig()
	if cfg.IptablesPath == "" {
		cfg.IptablesPath = def.IptablesPath
	}
	if cfg.Ip6tablesPath == "" {
		cfg.Ip6tablesPath = def.Ip6tablesPath
	}
	if cfg.IPPath == "" {
		cfg.IPPath = def.IPPath
	}
	if runner == nil {
		runner = DefaultCommandRunner
	}
	if logger == nil {
		logger = logging.WithComponent("firewall")
	}
	return &Applier{
		runner:     runner,
		logger:     logger,
		cfg:        cfg,
		ip6Enabled: cfg.RequireIPv6,
	}
}

// IPv6Enabled reports whether ip6tables has ever succeeded (or was assumed
// working via RequireIPv6).
func (a *Applier) IPv6Enabled() bool {
	return a.ip6Enabled
}

func (a *Applier) run(tool, action string, argv ...string) error {
	err := a.runner.Run(NetControlCaps, tool, argv...)
	metrics.Get().RecordCommand(filepath.Base(tool), action, err)
	return err
}

// AddAcceptRules opens an inbound port on both stacks. The IPv4 rule must
// succeed. The IPv6 rule is best-effort until ip6tables has worked once;
// from then on a v6 failure rolls the v4 rule back and fails the call.
func (a *Applier) AddAcceptRules(protocol Protocol, port uint16, iface string) error {
	if err := a.applyAcceptRule(a.cfg.IptablesPath, true, protocol, port, iface); err != nil {
		return fmt.Errorf("adding %s accept rule: %w", protocol, err)
	}
	if err := a.applyAcceptRule(a.cfg.Ip6tablesPath, true, protocol, port, iface); err != nil {
		if a.ip6Enabled {
			a.logger.Error("ip6tables accept rule failed on a dual-stack host",
				"protocol", protocol, "port", port, "interface", iface, "error", err)
			if derr := a.applyAcceptRule(a.cfg.IptablesPath, false, protocol, port, iface); derr != nil {
				a.logger.Error("undoing iptables accept rule failed, stacks are now inconsistent",
					"protocol", protocol, "port", port, "interface", iface, "error", derr)
			}
			return fmt.Errorf("adding %s accept rule: %w", protocol, err)
		}
		a.logger.Warn("ip6tables accept rule failed, treating host as IPv4-only",
			"protocol", protocol, "port", port, "error", err)
		return nil
	}
	a.ip6Enabled = true
	return nil
}

// DeleteAcceptRules removes the accept rules for a hole. The ip6tables
// delete is only attempted on hosts where ip6tables has worked; issuing it
// on an IPv4-only host would fail on a rule that was never added.
func (a *Applier) DeleteAcceptRules(protocol Protocol, port uint16, iface string) error {
	err4 := a.applyAcceptRule(a.cfg.IptablesPath, false, protocol, port, iface)
	var err6 error
	if a.ip6Enabled {
		err6 = a.applyAcceptRule(a.cfg.Ip6tablesPath, false, protocol, port, iface)
	}
	if err4 != nil {
		return fmt.Errorf("deleting %s accept rule: %w", protocol, err4)
	}
	if err6 != nil {
		return fmt.Errorf("deleting %s accept rule: %w", protocol, err6)
	}
	return nil
}

func (a *Applier) applyAcceptRule(tool string, add bool, protocol Protocol, port uint16, iface string) error {
	flag, action := "-I", "add"
	if !add {
		flag, action = "-D", "delete"
	}
	argv := []string{flag, "INPUT", "-p", string(protocol), "--dport", strconv.Itoa(int(port))}
	if iface != "" {
		argv = append(argv, "-i", iface)
	}
	argv = append(argv, "-j", "ACCEPT", "-w")
	return a.run(tool, action, argv...)
}

// ApplyMasquerade46 adds or removes the NAT masquerade rule for the VPN
// interface on both stacks. Adds stop at the first failure so nothing is
// half-applied; removes attempt both stacks and report the first failure.
func (a *Applier) ApplyMasquerade46(iface string, add bool) error {
	var firstErr error
	if err := a.applyMasquerade(a.cfg.IptablesPath, iface, add); err != nil {
		a.logger.Error("masquerade rule failed", "stack", "ipv4", "interface", iface, "add", add, "error", err)
		if add {
			return err
		}
		firstErr = err
	}
	if err := a.applyMasquerade(a.cfg.Ip6tablesPath, iface, add); err != nil {
		a.logger.Error("masquerade rule failed", "stack", "ipv6", "interface", iface, "add", add, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Applier) applyMasquerade(tool, iface string, add bool) error {
	flag, action := "-A", "add"
	if !add {
		flag, action = "-D", "delete"
	}
	return a.run(tool, action,
		"-t", "nat", flag, "POSTROUTING", "-o", iface, "-j", "MASQUERADE")
}

// ApplyMarkForUserTraffic46 adds or removes the mangle rule tagging a
// user's outbound packets on both stacks. Same add/remove asymmetry as
// ApplyMasquerade46.
func (a *Applier) ApplyMarkForUserTraffic46(username string, add bool) error {
	var firstErr error
	if err := a.applyMark(a.cfg.IptablesPath, username, add); err != nil {
		a.logger.Error("traffic mark rule failed", "stack", "ipv4", "username", username, "add", add, "error", err)
		if add {
			return err
		}
		firstErr = err
	}
	if err := a.applyMark(a.cfg.Ip6tablesPath, username, add); err != nil {
		a.logger.Error("traffic mark rule failed", "stack", "ipv6", "username", username, "add", add, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (a *Applier) applyMark(tool, username string, add bool) error {
	flag, action := "-A", "add"
	if !add {
		flag, action = "-D", "delete"
	}
	return a.run(tool, action,
		"-t", "mangle", flag, "OUTPUT",
		"-m", "owner", "--uid-owner", username,
		"-j", "MARK", "--set-mark", markUserTraffic)
}

// ApplyRouteForUserTraffic adds or removes the routing-policy rule sending
// marked traffic to the VPN table, for one IP version.
func (a *Applier) ApplyRouteForUserTraffic(ver IPVersion, add bool) error {
	action := "add"
	if !add {
		action = "delete"
	}
	var argv []string
	if ver == IPv6 {
		argv = append(argv, "-6")
	}
	argv = append(argv, "rule", action, "fwmark", markUserTraffic, "table", tableUserTraffic)
	if err := a.run(a.cfg.IPPath, action, argv...); err != nil {
		return fmt.Errorf("%s routing rule for marked traffic: %s: %w", action, ver, err)
	}
	return nil
}
