package firewall

import (
	"fmt"
	"sort"

	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/validation"
)

// Hole identifies an open inbound port, optionally scoped to an interface.
// An empty interface means the hole matches traffic on any interface.
type Hole struct {
	Port      uint16 `json:"port"`
	Interface string `json:"interface,omitempty"`
}

func (h Hole) String() string {
	if h.Interface == "" {
		return fmt.Sprintf("port %d", h.Port)
	}
	return fmt.Sprintf("port %d on %s", h.Port, h.Interface)
}

// AcceptRuleApplier is the slice of the rule applier the registry needs.
type AcceptRuleApplier interface {
	AddAcceptRules(protocol Protocol, port uint16, iface string) error
	DeleteAcceptRules(protocol Protocol, port uint16, iface string) error
}

// Registry tracks which holes are currently open. Punching an open hole is
// a no-op; plugging a hole that was never punched is an error. The registry
// does not lock: the daemon serializes all mutating calls.
type Registry struct {
	applier AcceptRuleApplier
	logger  *logging.Logger
	holes   map[Protocol]map[Hole]struct{}
}

// NewRegistry builds an empty registry on top of an applier.
func NewRegistry(applier AcceptRuleApplier, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.WithComponent("holes")
	}
	return &Registry{
		applier: applier,
		logger:  logger,
		holes: map[Protocol]map[Hole]struct{}{
			ProtocolTCP: {},
			ProtocolUDP: {},
		},
	}
}

// PunchTCPHole opens an inbound TCP port on the given interface.
func (r *Registry) PunchTCPHole(port uint16, iface string) error {
	return r.punch(ProtocolTCP, port, iface)
}

// PunchUDPHole opens an inbound UDP port on the given interface.
func (r *Registry) PunchUDPHole(port uint16, iface string) error {
	return r.punch(ProtocolUDP, port, iface)
}

// PlugTCPHole closes a previously punched TCP hole.
func (r *Registry) PlugTCPHole(port uint16, iface string) error {
	return r.plug(ProtocolTCP, port, iface)
}

// PlugUDPHole closes a previously punched UDP hole.
func (r *Registry) PlugUDPHole(port uint16, iface string) error {
	return r.plug(ProtocolUDP, port, iface)
}

func (r *Registry) punch(protocol Protocol, port uint16, iface string) error {
	if err := validation.ValidatePort(port); err != nil {
		metrics.Get().HoleOpFails.WithLabelValues(string(protocol), "punch", "invalid_port").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidPort, err)
	}
	if err := validation.ValidateInterfaceName(iface); err != nil {
		r.logger.Error("rejecting punch with bad interface name", "interface", iface, "error", err)
		metrics.Get().HoleOpFails.WithLabelValues(string(protocol), "punch", "invalid_interface").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidInterface, err)
	}

	hole := Hole{Port: port, Interface: iface}
	if _, open := r.holes[protocol][hole]; open {
		r.logger.Debug("hole already open", "protocol", protocol, "hole", hole.String())
		return nil
	}

	if err := r.applier.AddAcceptRules(protocol, port, iface); err != nil {
		metrics.Get().HoleOpFails.WithLabelValues(string(protocol), "punch", "apply").Inc()
		return err
	}
	r.holes[protocol][hole] = struct{}{}

	metrics.Get().HoleOps.WithLabelValues(string(protocol), "punch").Inc()
	metrics.Get().OpenHoles.WithLabelValues(string(protocol)).Set(float64(len(r.holes[protocol])))
	r.logger.Audit("punch_hole", hole.String(), map[string]any{"protocol": string(protocol)})
	return nil
}

func (r *Registry) plug(protocol Protocol, port uint16, iface string) error {
	if err := validation.ValidatePort(port); err != nil {
		metrics.Get().HoleOpFails.WithLabelValues(string(protocol), "plug", "invalid_port").Inc()
		return fmt.Errorf("%w: %v", ErrInvalidPort, err)
	}

	hole := Hole{Port: port, Interface: iface}
	if _, open := r.holes[protocol][hole]; !open {
		r.logger.Error("refusing to plug untracked hole", "protocol", protocol, "hole", hole.String())
		metrics.Get().HoleOpFails.WithLabelValues(string(protocol), "plug", "unknown").Inc()
		return fmt.Errorf("%w: %s %s", ErrUnknownHole, protocol, hole)
	}

	// The hole stays tracked on failure so a retry can still find it.
	if err := r.applier.DeleteAcceptRules(protocol, port, iface); err != nil {
		metrics.Get().HoleOpFails.WithLabelValues(string(protocol), "plug", "apply").Inc()
		return err
	}
	delete(r.holes[protocol], hole)

	metrics.Get().HoleOps.WithLabelValues(string(protocol), "plug").Inc()
	metrics.Get().OpenHoles.WithLabelValues(string(protocol)).Set(float64(len(r.holes[protocol])))
	r.logger.Audit("plug_hole", hole.String(), map[string]any{"protocol": string(protocol)})
	return nil
}

// PlugAllHoles closes every tracked hole. Individual failures are logged
// and do not stop the sweep; if any hole is still tracked afterwards the
// call returns ErrHolesRemain.
func (r *Registry) PlugAllHoles() error {
	for _, protocol := range []Protocol{ProtocolTCP, ProtocolUDP} {
		for _, hole := range r.Holes(protocol) {
			if err := r.plug(protocol, hole.Port, hole.Interface); err != nil {
				r.logger.Error("plugging hole during teardown failed",
					"protocol", protocol, "hole", hole.String(), "error", err)
			}
		}
	}
	remaining := len(r.holes[ProtocolTCP]) + len(r.holes[ProtocolUDP])
	if remaining > 0 {
		return fmt.Errorf("%w: %d left after teardown", ErrHolesRemain, remaining)
	}
	return nil
}

// Holes returns the open holes for a protocol, sorted by port then
// interface. The slice is a snapshot.
func (r *Registry) Holes(protocol Protocol) []Hole {
	out := make([]Hole, 0, len(r.holes[protocol]))
	for hole := range r.holes[protocol] {
		out = append(out, hole)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Port != out[j].Port {
			return out[i].Port < out[j].Port
		}
		return out[i].Interface < out[j].Interface
	})
	return out
}

// OpenCount returns the total number of tracked holes across protocols.
func (r *Registry) OpenCount() int {
	return len(r.holes[ProtocolTCP]) + len(r.holes[ProtocolUDP])
}
