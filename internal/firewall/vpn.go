package firewall

import (
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
)

// VpnRuleApplier is the slice of the rule applier the orchestrator needs.
type VpnRuleApplier interface {
	ApplyMasquerade46(iface string, add bool) error
	ApplyMarkForUserTraffic46(username string, add bool) error
	ApplyRouteForUserTraffic(ver IPVersion, add bool) error
}

// Orchestrator sequences the multi-rule VPN setup. Setup is transactional:
// if any step fails, the steps already applied are torn down in reverse
// order and the setup error is returned. Teardown is best-effort and
// attempts every step regardless of earlier failures.
type Orchestrator struct {
	applier VpnRuleApplier
	logger  *logging.Logger
}

// NewOrchestrator builds an orchestrator on top of a rule applier.
func NewOrchestrator(applier VpnRuleApplier, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.WithComponent("vpn")
	}
	return &Orchestrator{applier: applier, logger: logger}
}

// ApplyVpnSetup installs or removes the full VPN rule set, depending on add.
func (o *Orchestrator) ApplyVpnSetup(usernames []string, iface string, add bool) error {
	if add {
		return o.RequestVpnSetup(usernames, iface)
	}
	return o.RemoveVpnSetup(usernames, iface)
}

// vpnProgress records which setup steps have been applied, so a failed
// setup tears down exactly its own prefix and nothing more.
type vpnProgress struct {
	route4     bool
	route6     bool
	masquerade bool
	users      []string
}

// RequestVpnSetup installs routing rules, the masquerade rule and one
// traffic-mark rule per user, in that order. On any failure the applied
// prefix is rolled back and the original error is returned.
func (o *Orchestrator) RequestVpnSetup(usernames []string, iface string) error {
	var p vpnProgress
	fail := func(err error) error {
		metrics.Get().VpnSetups.WithLabelValues("setup", "error").Inc()
		o.rollback(p, iface)
		return err
	}

	if err := o.applier.ApplyRouteForUserTraffic(IPv4, true); err != nil {
		o.logger.Error("VPN setup: IPv4 routing rule failed", "error", err)
		return fail(err)
	}
	p.route4 = true

	if err := o.applier.ApplyRouteForUserTraffic(IPv6, true); err != nil {
		o.logger.Error("VPN setup: IPv6 routing rule failed", "error", err)
		return fail(err)
	}
	p.route6 = true

	if err := o.applier.ApplyMasquerade46(iface, true); err != nil {
		o.logger.Error("VPN setup: masquerade rule failed", "interface", iface, "error", err)
		return fail(err)
	}
	p.masquerade = true

	for _, username := range usernames {
		if err := o.applier.ApplyMarkForUserTraffic46(username, true); err != nil {
			o.logger.Error("VPN setup: traffic mark failed", "username", username, "error", err)
			return fail(err)
		}
		p.users = append(p.users, username)
	}

	metrics.Get().VpnSetups.WithLabelValues("setup", "ok").Inc()
	o.logger.Audit("vpn_setup", iface, map[string]any{"users": len(usernames)})
	return nil
}

// rollback removes the applied prefix, newest step first. Failures here
// are logged only; the caller reports the setup error that triggered us.
func (o *Orchestrator) rollback(p vpnProgress, iface string) {
	if !p.route4 && !p.route6 && !p.masquerade && len(p.users) == 0 {
		return
	}
	metrics.Get().VpnRollbacks.Inc()
	o.logger.Warn("rolling back partial VPN setup",
		"interface", iface, "users_applied", len(p.users))

	for i := len(p.users) - 1; i >= 0; i-- {
		if err := o.applier.ApplyMarkForUserTraffic46(p.users[i], false); err != nil {
			o.logger.Error("rollback: removing traffic mark failed", "username", p.users[i], "error", err)
		}
	}
	if p.masquerade {
		if err := o.applier.ApplyMasquerade46(iface, false); err != nil {
			o.logger.Error("rollback: removing masquerade rule failed", "interface", iface, "error", err)
		}
	}
	if p.route6 {
		if err := o.applier.ApplyRouteForUserTraffic(IPv6, false); err != nil {
			o.logger.Error("rollback: removing IPv6 routing rule failed", "error", err)
		}
	}
	if p.route4 {
		if err := o.applier.ApplyRouteForUserTraffic(IPv4, false); err != nil {
			o.logger.Error("rollback: removing IPv4 routing rule failed", "error", err)
		}
	}
}

// RemoveVpnSetup tears down the full VPN rule set. Every step is attempted
// even after failures, so one stale rule cannot strand the others; the
// first failure is returned.
func (o *Orchestrator) RemoveVpnSetup(usernames []string, iface string) error {
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if err := o.applier.ApplyRouteForUserTraffic(IPv4, false); err != nil {
		o.logger.Error("VPN teardown: IPv4 routing rule failed", "error", err)
		keep(err)
	}
	if err := o.applier.ApplyRouteForUserTraffic(IPv6, false); err != nil {
		o.logger.Error("VPN teardown: IPv6 routing rule failed", "error", err)
		keep(err)
	}
	if err := o.applier.ApplyMasquerade46(iface, false); err != nil {
		o.logger.Error("VPN teardown: masquerade rule failed", "interface", iface, "error", err)
		keep(err)
	}
	for _, username := range usernames {
		if err := o.applier.ApplyMarkForUserTraffic46(username, false); err != nil {
			o.logger.Error("VPN teardown: traffic mark failed", "username", username, "error", err)
			keep(err)
		}
	}

	result := "ok"
	if firstErr != nil {
		result = "error"
	}
	metrics.Get().VpnSetups.WithLabelValues("teardown", result).Inc()
	o.logger.Audit("vpn_teardown", iface, map[string]any{"users": len(usernames)})
	return firstErr
}
