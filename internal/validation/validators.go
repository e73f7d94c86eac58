// Package validation holds the input checks performed before anything is
// handed to the external rule tools. Everything here runs before a single
// command is issued; a validation failure must leave no side effect.
package validation

import (
	"fmt"
	"strings"
)

// Interface names must be shorter than IFNAMSIZ (16) characters.
// See man 7 netdevice.
const maxInterfaceNameLen = 16

// Characters that must never reach an external command line, checked as
// defense in depth on top of the stricter per-field rules below.
var dangerousChars = []string{";", "|", "&", "$", "`", "(", ")", "<", ">", "\\", "\"", "'", " ", "\t", "\n", "\r"}

// ValidateInterfaceName validates a network interface name: shorter than 16
// characters, alphanumeric with embedded hyphens and periods only, and not
// starting or ending with a hyphen or period. The empty string is accepted
// and means "any interface" (the accept rule then carries no -i match).
func ValidateInterfaceName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) >= maxInterfaceNameLen {
		return fmt.Errorf("interface name too long (max %d characters): %s", maxInterfaceNameLen-1, name)
	}
	if strings.HasPrefix(name, "-") || strings.HasSuffix(name, "-") ||
		strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return fmt.Errorf("interface name must not start or end with a hyphen or period: %s", name)
	}
	for _, c := range name {
		if !isAlnum(c) && c != '-' && c != '.' {
			return fmt.Errorf("invalid character %q in interface name: %s", c, name)
		}
	}
	return nil
}

// ValidatePort validates a transport port. Port 0 is not a valid TCP/UDP port.
func ValidatePort(port uint16) error {
	if port == 0 {
		return fmt.Errorf("port 0 is not a valid port")
	}
	return nil
}

// ValidateUsername validates a username before it is used in a --uid-owner
// match. Usernames follow the usual useradd rules; the check here is
// deliberately looser and only rejects what could confuse the external tool.
func ValidateUsername(name string) error {
	if name == "" {
		return fmt.Errorf("username cannot be empty")
	}
	if len(name) > 256 {
		return fmt.Errorf("username too long: %d characters", len(name))
	}
	for _, char := range dangerousChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("username contains forbidden character %q: %s", char, name)
		}
	}
	return nil
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
