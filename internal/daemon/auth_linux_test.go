//go:build linux
// +build linux

package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizedRoot(t *testing.T) {
	assert.True(t, authorized(&PeerCredentials{UID: 0, GID: 0}))
}

func TestAuthorizedUnprivilegedPeer(t *testing.T) {
	// An arbitrary high uid that is neither root nor in the admin group.
	assert.False(t, authorized(&PeerCredentials{UID: 60001, GID: 60001}))
}
