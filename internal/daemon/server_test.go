package daemon

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/firewall"
)

func TestServerServesOverUnixSocket(t *testing.T) {
	if runtime.GOOS == "linux" && os.Geteuid() != 0 {
		t.Skip("peer-credential auth requires root")
	}

	socketPath := filepath.Join(t.TempDir(), "ctl.sock")
	cfg := config.Default()
	cfg.SocketPath = socketPath
	cfg.DisableMetrics = true

	m := new(firewall.MockRuleApplier)
	h := NewHandler(firewall.NewRegistry(m, nil), firewall.NewOrchestrator(m, nil), nil, nil, nil)
	s := NewServer(cfg, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "socket never appeared")

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
	resp, err := client.Get("http://unix/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	cancel()
	require.NoError(t, <-done)

	// The socket file is removed on shutdown.
	_, err = os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestServerRemovesStaleSocket(t *testing.T) {
	if runtime.GOOS == "linux" && os.Geteuid() != 0 {
		t.Skip("peer-credential auth requires root")
	}

	socketPath := filepath.Join(t.TempDir(), "ctl.sock")
	require.NoError(t, os.WriteFile(socketPath, nil, 0600))

	cfg := config.Default()
	cfg.SocketPath = socketPath
	cfg.DisableMetrics = true

	m := new(firewall.MockRuleApplier)
	h := NewHandler(firewall.NewRegistry(m, nil), firewall.NewOrchestrator(m, nil), nil, nil, nil)
	s := NewServer(cfg, h, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		info, err := os.Stat(socketPath)
		return err == nil && info.Mode()&os.ModeSocket != 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
