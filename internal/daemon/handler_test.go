package daemon

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/firewall"
)

func newTestHandler(t *testing.T) (*Handler, *firewall.MockRuleApplier) {
	t.Helper()
	m := new(firewall.MockRuleApplier)
	reg := firewall.NewRegistry(m, nil)
	vpn := firewall.NewOrchestrator(m, nil)
	return NewHandler(reg, vpn, func() bool { return true }, nil, nil), m
}

func doRequest(t *testing.T, h *Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) Result {
	t.Helper()
	var res Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	return res
}

func TestPunchEndpoint(t *testing.T) {
	h, m := newTestHandler(t)
	m.On("AddAcceptRules", firewall.ProtocolTCP, uint16(80), "eth0").Return(nil)

	rec := doRequest(t, h, http.MethodPost, "/v1/holes/punch",
		HoleRequest{Protocol: "tcp", Port: 80, Interface: "eth0"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResult(t, rec).OK)
	m.AssertExpectations(t)
}

func TestPunchBadProtocol(t *testing.T) {
	h, m := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/v1/holes/punch",
		HoleRequest{Protocol: "icmp", Port: 80})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	res := decodeResult(t, rec)
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "protocol")
	m.AssertNumberOfCalls(t, "AddAcceptRules", 0)
}

func TestPunchInvalidPort(t *testing.T) {
	h, m := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/v1/holes/punch",
		HoleRequest{Protocol: "udp", Port: 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeResult(t, rec).OK)
	m.AssertNumberOfCalls(t, "AddAcceptRules", 0)
}

func TestPunchInvalidInterface(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/v1/holes/punch",
		HoleRequest{Protocol: "tcp", Port: 80, Interface: "bad name"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeResult(t, rec).OK)
}

func TestPunchApplyFailureMasked(t *testing.T) {
	h, m := newTestHandler(t)
	m.On("AddAcceptRules", firewall.ProtocolTCP, uint16(80), "").
		Return(errors.New("iptables: exit status 1: detailed tool output"))

	rec := doRequest(t, h, http.MethodPost, "/v1/holes/punch",
		HoleRequest{Protocol: "tcp", Port: 80})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	res := decodeResult(t, rec)
	assert.False(t, res.OK)
	// Tool output must not leak to callers.
	assert.Equal(t, "firewall operation failed", res.Error)
}

func TestPlugUntrackedHole(t *testing.T) {
	h, m := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/v1/holes/plug",
		HoleRequest{Protocol: "tcp", Port: 80})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeResult(t, rec).OK)
	m.AssertNumberOfCalls(t, "DeleteAcceptRules", 0)
}

func TestPunchPlugAndList(t *testing.T) {
	h, m := newTestHandler(t)
	m.On("AddAcceptRules", firewall.ProtocolTCP, uint16(80), "eth0").Return(nil).Once()
	m.On("DeleteAcceptRules", firewall.ProtocolTCP, uint16(80), "eth0").Return(nil).Once()

	rec := doRequest(t, h, http.MethodPost, "/v1/holes/punch",
		HoleRequest{Protocol: "tcp", Port: 80, Interface: "eth0"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/holes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var holes HolesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&holes))
	require.Equal(t, []firewall.Hole{{Port: 80, Interface: "eth0"}}, holes.TCP)
	assert.Empty(t, holes.UDP)

	rec = doRequest(t, h, http.MethodPost, "/v1/holes/plug",
		HoleRequest{Protocol: "tcp", Port: 80, Interface: "eth0"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, h, http.MethodGet, "/v1/holes", nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&holes))
	assert.Empty(t, holes.TCP)
	m.AssertExpectations(t)
}

func TestVpnSetupEndpoint(t *testing.T) {
	h, m := newTestHandler(t)
	m.On("ApplyRouteForUserTraffic", firewall.IPv4, true).Return(nil).Once()
	m.On("ApplyRouteForUserTraffic", firewall.IPv6, true).Return(nil).Once()
	m.On("ApplyMasquerade46", "tun0", true).Return(nil).Once()
	m.On("ApplyMarkForUserTraffic46", "alice", true).Return(nil).Once()

	rec := doRequest(t, h, http.MethodPost, "/v1/vpn/setup",
		VpnRequest{Usernames: []string{"alice"}, Interface: "tun0"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResult(t, rec).OK)
	m.AssertExpectations(t)
}

func TestVpnSetupBadUsername(t *testing.T) {
	h, m := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/v1/vpn/setup",
		VpnRequest{Usernames: []string{"alice;reboot"}, Interface: "tun0"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeResult(t, rec).OK)
	m.AssertNumberOfCalls(t, "ApplyRouteForUserTraffic", 0)
}

func TestVpnSetupEmptyInterface(t *testing.T) {
	h, m := newTestHandler(t)

	rec := doRequest(t, h, http.MethodPost, "/v1/vpn/setup",
		VpnRequest{Usernames: []string{"alice"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeResult(t, rec).OK)
	m.AssertNumberOfCalls(t, "ApplyRouteForUserTraffic", 0)
}

func TestVpnSetupFailureMasked(t *testing.T) {
	h, m := newTestHandler(t)
	m.On("ApplyRouteForUserTraffic", firewall.IPv4, true).
		Return(errors.New("ip: exit status 2"))

	rec := doRequest(t, h, http.MethodPost, "/v1/vpn/setup",
		VpnRequest{Usernames: []string{"alice"}, Interface: "tun0"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	res := decodeResult(t, rec)
	assert.False(t, res.OK)
	assert.Equal(t, "vpn setup failed", res.Error)
}

func TestVpnTeardownEndpoint(t *testing.T) {
	h, m := newTestHandler(t)
	m.On("ApplyRouteForUserTraffic", firewall.IPv4, false).Return(nil).Once()
	m.On("ApplyRouteForUserTraffic", firewall.IPv6, false).Return(nil).Once()
	m.On("ApplyMasquerade46", "tun0", false).Return(nil).Once()
	m.On("ApplyMarkForUserTraffic46", "alice", false).Return(nil).Once()

	rec := doRequest(t, h, http.MethodPost, "/v1/vpn/teardown",
		VpnRequest{Usernames: []string{"alice"}, Interface: "tun0"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResult(t, rec).OK)
	m.AssertExpectations(t)
}

func TestStatusEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doRequest(t, h, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, 0, status.OpenHoles)
	assert.True(t, status.IPv6Enabled)
	assert.NotEmpty(t, status.Name)
}

func TestInvalidJSONBody(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/holes/punch",
		bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.Mux().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, decodeResult(t, rec).OK)
}
