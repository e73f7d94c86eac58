//go:build !linux
// +build !linux

package daemon

import (
	"net/http"
	"os"

	"grimm.is/warden/internal/logging"
)

// Peer credentials are a Linux feature; off Linux the socket mode is the
// only guard. Development convenience, not a supported deployment.
func authMiddleware(next http.Handler, logger *logging.Logger) http.Handler {
	return next
}

func setSocketPermissions(socketPath string, logger *logging.Logger) error {
	return os.Chmod(socketPath, 0600)
}
