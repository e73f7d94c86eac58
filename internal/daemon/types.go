package daemon

import "grimm.is/warden/internal/firewall"

// HoleRequest is the body of POST /v1/holes/punch and /v1/holes/plug.
type HoleRequest struct {
	Protocol  string `json:"protocol"`
	Port      uint16 `json:"port"`
	Interface string `json:"interface,omitempty"`
}

// VpnRequest is the body of POST /v1/vpn/setup and /v1/vpn/teardown.
type VpnRequest struct {
	Usernames []string `json:"usernames"`
	Interface string `json:"interface"`
}

// Result is the outcome every mutating endpoint returns. Callers get a
// boolean plus a short message; the detailed error stays in the daemon log.
type Result struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// HolesResponse is the body of GET /v1/holes.
type HolesResponse struct {
	TCP []firewall.Hole `json:"tcp"`
	UDP []firewall.Hole `json:"udp"`
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Name          string  `json:"name"`
	Version       string  `json:"version"`
	PID           int     `json:"pid"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	OpenHoles     int     `json:"open_holes"`
	IPv6Enabled   bool    `json:"ipv6_enabled"`
}
