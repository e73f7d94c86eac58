package firewall

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingApplier captures the exact call sequence, which the mock cannot
// assert. failOn makes the named step fail; failAll makes every step fail.
type recordingApplier struct {
	calls   []string
	failOn  string
	failAll bool
}

func (r *recordingApplier) step(name string) error {
	r.calls = append(r.calls, name)
	if r.failAll || name == r.failOn {
		return errors.New(name + " failed")
	}
	return nil
}

func (r *recordingApplier) ApplyMasquerade46(iface string, add bool) error {
	return r.step(fmt.Sprintf("masq:%s:%v", iface, add))
}

func (r *recordingApplier) ApplyMarkForUserTraffic46(username string, add bool) error {
	return r.step(fmt.Sprintf("mark:%s:%v", username, add))
}

func (r *recordingApplier) ApplyRouteForUserTraffic(ver IPVersion, add bool) error {
	return r.step(fmt.Sprintf("route:%s:%v", ver, add))
}

func TestVpnSetupOrder(t *testing.T) {
	rec := &recordingApplier{}
	o := NewOrchestrator(rec, nil)

	require.NoError(t, o.RequestVpnSetup([]string{"alice", "bob"}, "tun0"))
	assert.Equal(t, []string{
		"route:ipv4:true",
		"route:ipv6:true",
		"masq:tun0:true",
		"mark:alice:true",
		"mark:bob:true",
	}, rec.calls)
}

func TestVpnSetupRollbackOnUserFailure(t *testing.T) {
	rec := &recordingApplier{failOn: "mark:bob:true"}
	o := NewOrchestrator(rec, nil)

	err := o.RequestVpnSetup([]string{"alice", "bob", "carol"}, "tun0")
	require.Error(t, err)
	// Rollback covers only the applied prefix, newest first; carol was
	// never reached and must not be touched.
	assert.Equal(t, []string{
		"route:ipv4:true",
		"route:ipv6:true",
		"masq:tun0:true",
		"mark:alice:true",
		"mark:bob:true",
		"mark:alice:false",
		"masq:tun0:false",
		"route:ipv6:false",
		"route:ipv4:false",
	}, rec.calls)
}

func TestVpnSetupRollbackOnMasqueradeFailure(t *testing.T) {
	rec := &recordingApplier{failOn: "masq:tun0:true"}
	o := NewOrchestrator(rec, nil)

	require.Error(t, o.RequestVpnSetup([]string{"alice"}, "tun0"))
	assert.Equal(t, []string{
		"route:ipv4:true",
		"route:ipv6:true",
		"masq:tun0:true",
		"route:ipv6:false",
		"route:ipv4:false",
	}, rec.calls)
}

func TestVpnSetupRoute4FailureRollsBackNothing(t *testing.T) {
	rec := &recordingApplier{failOn: "route:ipv4:true"}
	o := NewOrchestrator(rec, nil)

	require.Error(t, o.RequestVpnSetup([]string{"alice"}, "tun0"))
	assert.Equal(t, []string{"route:ipv4:true"}, rec.calls)
}

func TestVpnSetupRoute6FailureRollsBackRoute4(t *testing.T) {
	rec := &recordingApplier{failOn: "route:ipv6:true"}
	o := NewOrchestrator(rec, nil)

	require.Error(t, o.RequestVpnSetup([]string{"alice"}, "tun0"))
	assert.Equal(t, []string{
		"route:ipv4:true",
		"route:ipv6:true",
		"route:ipv4:false",
	}, rec.calls)
}

func TestVpnSetupNoUsers(t *testing.T) {
	rec := &recordingApplier{}
	o := NewOrchestrator(rec, nil)

	require.NoError(t, o.RequestVpnSetup(nil, "tun0"))
	assert.Equal(t, []string{
		"route:ipv4:true",
		"route:ipv6:true",
		"masq:tun0:true",
	}, rec.calls)
}

func TestVpnSetupDuplicateUsers(t *testing.T) {
	rec := &recordingApplier{}
	o := NewOrchestrator(rec, nil)

	// Duplicates are the caller's problem; each entry gets its own rule.
	require.NoError(t, o.RequestVpnSetup([]string{"alice", "alice"}, "tun0"))
	assert.Equal(t, []string{
		"route:ipv4:true",
		"route:ipv6:true",
		"masq:tun0:true",
		"mark:alice:true",
		"mark:alice:true",
	}, rec.calls)
}

func TestVpnTeardownOrder(t *testing.T) {
	rec := &recordingApplier{}
	o := NewOrchestrator(rec, nil)

	require.NoError(t, o.RemoveVpnSetup([]string{"alice", "bob"}, "tun0"))
	assert.Equal(t, []string{
		"route:ipv4:false",
		"route:ipv6:false",
		"masq:tun0:false",
		"mark:alice:false",
		"mark:bob:false",
	}, rec.calls)
}

func TestVpnTeardownContinuesPastFailures(t *testing.T) {
	rec := &recordingApplier{failOn: "route:ipv4:false"}
	o := NewOrchestrator(rec, nil)

	err := o.RemoveVpnSetup([]string{"alice"}, "tun0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route:ipv4:false")
	// Every step still ran despite the early failure.
	assert.Equal(t, []string{
		"route:ipv4:false",
		"route:ipv6:false",
		"masq:tun0:false",
		"mark:alice:false",
	}, rec.calls)
}

func TestVpnTeardownReportsFirstFailure(t *testing.T) {
	rec := &recordingApplier{failAll: true}
	o := NewOrchestrator(rec, nil)

	err := o.RemoveVpnSetup([]string{"alice"}, "tun0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "route:ipv4:false")
	assert.Len(t, rec.calls, 4)
}

func TestApplyVpnSetupDispatch(t *testing.T) {
	rec := &recordingApplier{}
	o := NewOrchestrator(rec, nil)

	require.NoError(t, o.ApplyVpnSetup([]string{"alice"}, "tun0", true))
	require.NoError(t, o.ApplyVpnSetup([]string{"alice"}, "tun0", false))
	assert.Equal(t, []string{
		"route:ipv4:true",
		"route:ipv6:true",
		"masq:tun0:true",
		"mark:alice:true",
		"route:ipv4:false",
		"route:ipv6:false",
		"masq:tun0:false",
		"mark:alice:false",
	}, rec.calls)
}
