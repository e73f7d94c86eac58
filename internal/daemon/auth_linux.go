//go:build linux
// +build linux

package daemon

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/logging"
)

// PeerCredentials identifies the process on the other end of the socket.
type PeerCredentials struct {
	PID uint32
	UID uint32
	GID uint32
}

// getPeerCredentials reads SO_PEERCRED off a Unix socket connection.
func getPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("not a unix socket connection")
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("getting raw conn: %w", err)
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return nil, fmt.Errorf("control: %w", err)
	}
	if credErr != nil {
		return nil, fmt.Errorf("getsockopt SO_PEERCRED: %w", credErr)
	}
	return &PeerCredentials{
		PID: uint32(cred.Pid),
		UID: uint32(cred.Uid),
		GID: uint32(cred.Gid),
	}, nil
}

// authorized grants access to root and to members of the admin group.
func authorized(cred *PeerCredentials) bool {
	if cred.UID == 0 {
		return true
	}
	return isInGroup(cred.UID, cred.GID, brand.AdminGroup)
}

func isInGroup(uid, gid uint32, groupName string) bool {
	grp, err := user.LookupGroup(groupName)
	if err != nil {
		return false
	}
	groupGID, err := strconv.ParseUint(grp.Gid, 10, 32)
	if err != nil {
		return false
	}
	if gid == uint32(groupGID) {
		return true
	}
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return false
	}
	groupIDs, err := u.GroupIds()
	if err != nil {
		return false
	}
	for _, g := range groupIDs {
		if g == grp.Gid {
			return true
		}
	}
	return false
}

// authMiddleware rejects requests from peers that are neither root nor in
// the admin group.
func authMiddleware(next http.Handler, logger *logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, ok := connFromContext(r.Context())
		if !ok {
			logger.Error("no connection in request context")
			writeResult(w, http.StatusForbidden, "forbidden")
			return
		}
		cred, err := getPeerCredentials(conn)
		if err != nil {
			logger.Error("reading peer credentials failed", "error", err)
			writeResult(w, http.StatusForbidden, "forbidden")
			return
		}
		if !authorized(cred) {
			logger.Warn("access denied",
				"uid", cred.UID, "gid", cred.GID, "pid", cred.PID, "path", r.URL.Path)
			writeResult(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// setSocketPermissions chowns the socket to root:admin-group with mode
// 0660. Without the group the socket stays root-only.
func setSocketPermissions(socketPath string, logger *logging.Logger) error {
	grp, err := user.LookupGroup(brand.AdminGroup)
	if err != nil {
		logger.Warn("admin group not found, socket restricted to root",
			"group", brand.AdminGroup, "error", err)
		return os.Chmod(socketPath, 0600)
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return fmt.Errorf("parsing gid for %s: %w", brand.AdminGroup, err)
	}
	if err := os.Chown(socketPath, 0, gid); err != nil {
		return fmt.Errorf("chowning socket: %w", err)
	}
	return os.Chmod(socketPath, 0660)
}
