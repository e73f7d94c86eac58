package firewall

import "github.com/stretchr/testify/mock"

// MockCommandRunner records rule-tool invocations for tests. It lives
// outside _test.go files so other packages can wire it in.
type MockCommandRunner struct {
	mock.Mock
}

func (m *MockCommandRunner) Run(caps CapSet, name string, args ...string) error {
	callArgs := make([]interface{}, 0, len(args)+2)
	callArgs = append(callArgs, caps, name)
	for _, a := range args {
		callArgs = append(callArgs, a)
	}
	return m.Called(callArgs...).Error(0)
}

// MockRuleApplier satisfies both AcceptRuleApplier and VpnRuleApplier.
type MockRuleApplier struct {
	mock.Mock
}

func (m *MockRuleApplier) AddAcceptRules(protocol Protocol, port uint16, iface string) error {
	return m.Called(protocol, port, iface).Error(0)
}

func (m *MockRuleApplier) DeleteAcceptRules(protocol Protocol, port uint16, iface string) error {
	return m.Called(protocol, port, iface).Error(0)
}

func (m *MockRuleApplier) ApplyMasquerade46(iface string, add bool) error {
	return m.Called(iface, add).Error(0)
}

func (m *MockRuleApplier) ApplyMarkForUserTraffic46(username string, add bool) error {
	return m.Called(username, add).Error(0)
}

func (m *MockRuleApplier) ApplyRouteForUserTraffic(ver IPVersion, add bool) error {
	return m.Called(ver, add).Error(0)
}
