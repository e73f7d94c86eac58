// Package firewall drives the external packet-filter and routing-policy
// tools (iptables, ip6tables, ip) to open inbound port holes and steer user
// traffic into a VPN routing table.
//
// The package does no packet filtering itself and keeps no state across
// restarts: every tracked hole lives in memory and the host starts with all
// holes considered closed. Operations are synchronous and assume a single
// caller; the daemon layer serializes access.
package firewall
