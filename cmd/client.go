package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/daemon"
)

// Client talks to the daemon's control API over the Unix socket.
type Client struct {
	http *http.Client
	base string
}

// NewClient returns a client for the given socket. An empty path uses the
// default socket location.
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = brand.GetSocketPath()
	}
	return &Client{
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		// The host is ignored for Unix transports but must be present.
		base: "http://" + brand.LowerName,
	}
}

// call performs one API request. When out is non-nil a 200 response is
// decoded into it; otherwise the boolean result body is interpreted.
func (c *Client) call(method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		return json.NewDecoder(resp.Body).Decode(out)
	}

	var res daemon.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	if !res.OK {
		if res.Error == "" {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		return fmt.Errorf("%s", res.Error)
	}
	return nil
}

// Punch opens an inbound port.
func (c *Client) Punch(protocol string, port uint16, iface string) error {
	return c.call(http.MethodPost, "/v1/holes/punch",
		daemon.HoleRequest{Protocol: protocol, Port: port, Interface: iface}, nil)
}

// Plug closes a previously opened port.
func (c *Client) Plug(protocol string, port uint16, iface string) error {
	return c.call(http.MethodPost, "/v1/holes/plug",
		daemon.HoleRequest{Protocol: protocol, Port: port, Interface: iface}, nil)
}

// Holes lists the currently open holes.
func (c *Client) Holes() (daemon.HolesResponse, error) {
	var out daemon.HolesResponse
	err := c.call(http.MethodGet, "/v1/holes", nil, &out)
	return out, err
}

// VpnSetup installs the VPN rule set.
func (c *Client) VpnSetup(usernames []string, iface string) error {
	return c.call(http.MethodPost, "/v1/vpn/setup",
		daemon.VpnRequest{Usernames: usernames, Interface: iface}, nil)
}

// VpnTeardown removes the VPN rule set.
func (c *Client) VpnTeardown(usernames []string, iface string) error {
	return c.call(http.MethodPost, "/v1/vpn/teardown",
		daemon.VpnRequest{Usernames: usernames, Interface: iface}, nil)
}

// Status fetches the daemon status.
func (c *Client) Status() (daemon.StatusResponse, error) {
	var out daemon.StatusResponse
	err := c.call(http.MethodGet, "/v1/status", nil, &out)
	return out, err
}
