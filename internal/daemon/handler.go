package daemon

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/clock"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/validation"
)

// HoleRegistry is the slice of the hole registry the API exposes.
type HoleRegistry interface {
	PunchTCPHole(port uint16, iface string) error
	PunchUDPHole(port uint16, iface string) error
	PlugTCPHole(port uint16, iface string) error
	PlugUDPHole(port uint16, iface string) error
	Holes(protocol firewall.Protocol) []firewall.Hole
	OpenCount() int
}

// VpnManager is the slice of the VPN orchestrator the API exposes.
type VpnManager interface {
	RequestVpnSetup(usernames []string, iface string) error
	RemoveVpnSetup(usernames []string, iface string) error
}

// maxBodyBytes caps request bodies; every request here is a small JSON blob.
const maxBodyBytes = 64 << 10

// Handler serves the control API. All mutating endpoints share one mutex so
// rule operations never interleave.
type Handler struct {
	holes  HoleRegistry
	vpn    VpnManager
	ipv6   func() bool
	logger *logging.Logger
	clk    clock.Clock

	mu      sync.Mutex
	started time.Time
}

// NewHandler creates a Handler. ipv6 reports the current dual-stack flag
// for GET /v1/status; nil means "unknown, report false".
func NewHandler(holes HoleRegistry, vpn VpnManager, ipv6 func() bool, logger *logging.Logger, clk clock.Clock) *Handler {
	if logger == nil {
		logger = logging.WithComponent("api")
	}
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if ipv6 == nil {
		ipv6 = func() bool { return false }
	}
	return &Handler{
		holes:   holes,
		vpn:     vpn,
		ipv6:    ipv6,
		logger:  logger,
		clk:     clk,
		started: clk.Now(),
	}
}

// Mux returns the control API routes.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/holes/punch", h.handlePunch)
	mux.HandleFunc("POST /v1/holes/plug", h.handlePlug)
	mux.HandleFunc("GET /v1/holes", h.handleListHoles)
	mux.HandleFunc("POST /v1/vpn/setup", h.handleVpnSetup)
	mux.HandleFunc("POST /v1/vpn/teardown", h.handleVpnTeardown)
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	return mux
}

func (h *Handler) handlePunch(w http.ResponseWriter, r *http.Request) {
	h.handleHoleOp(w, r, true)
}

func (h *Handler) handlePlug(w http.ResponseWriter, r *http.Request) {
	h.handleHoleOp(w, r, false)
}

func (h *Handler) handleHoleOp(w http.ResponseWriter, r *http.Request, punch bool) {
	var req HoleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	switch strings.ToLower(req.Protocol) {
	case "tcp":
		if punch {
			err = h.holes.PunchTCPHole(req.Port, req.Interface)
		} else {
			err = h.holes.PlugTCPHole(req.Port, req.Interface)
		}
	case "udp":
		if punch {
			err = h.holes.PunchUDPHole(req.Port, req.Interface)
		} else {
			err = h.holes.PlugUDPHole(req.Port, req.Interface)
		}
	default:
		writeResult(w, http.StatusBadRequest, `protocol must be "tcp" or "udp"`)
		return
	}
	if err != nil {
		h.writeHoleError(w, err)
		return
	}
	writeResult(w, http.StatusOK, "")
}

// writeHoleError maps registry errors onto the boolean result. Validation
// and tracking errors keep their message; rule-tool failures are collapsed
// to a generic one, the detail is already logged.
func (h *Handler) writeHoleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, firewall.ErrInvalidPort), errors.Is(err, firewall.ErrInvalidInterface):
		writeResult(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, firewall.ErrUnknownHole):
		writeResult(w, http.StatusNotFound, err.Error())
	default:
		writeResult(w, http.StatusInternalServerError, "firewall operation failed")
	}
}

func (h *Handler) handleListHoles(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	resp := HolesResponse{
		TCP: h.holes.Holes(firewall.ProtocolTCP),
		UDP: h.holes.Holes(firewall.ProtocolUDP),
	}
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleVpnSetup(w http.ResponseWriter, r *http.Request) {
	h.handleVpnOp(w, r, true)
}

func (h *Handler) handleVpnTeardown(w http.ResponseWriter, r *http.Request) {
	h.handleVpnOp(w, r, false)
}

func (h *Handler) handleVpnOp(w http.ResponseWriter, r *http.Request, setup bool) {
	var req VpnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	// Interface and usernames end up in rule argument vectors, so they are
	// vetted here before anything reaches an external tool. Unlike holes,
	// VPN rules have no "any interface" form.
	if req.Interface == "" {
		writeResult(w, http.StatusBadRequest, "interface is required")
		return
	}
	if err := validation.ValidateInterfaceName(req.Interface); err != nil {
		writeResult(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, username := range req.Usernames {
		if err := validation.ValidateUsername(username); err != nil {
			writeResult(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if setup {
		err = h.vpn.RequestVpnSetup(req.Usernames, req.Interface)
	} else {
		err = h.vpn.RemoveVpnSetup(req.Usernames, req.Interface)
	}
	if err != nil {
		if setup {
			writeResult(w, http.StatusInternalServerError, "vpn setup failed")
		} else {
			writeResult(w, http.StatusInternalServerError, "vpn teardown incomplete")
		}
		return
	}
	writeResult(w, http.StatusOK, "")
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	open := h.holes.OpenCount()
	ipv6 := h.ipv6()
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, StatusResponse{
		Name:          brand.Name,
		Version:       brand.Version,
		PID:           os.Getpid(),
		UptimeSeconds: h.clk.Since(h.started).Seconds(),
		OpenHoles:     open,
		IPv6Enabled:   ipv6,
	})
}

// decodeBody parses the JSON request body into v, writing the error
// response itself. Returns false when the caller should stop.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeResult(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeResult(w http.ResponseWriter, status int, errMsg string) {
	writeJSON(w, status, Result{OK: errMsg == "", Error: errMsg})
}
