package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/config"
	"grimm.is/warden/internal/daemon"
	"grimm.is/warden/internal/firewall"
	"grimm.is/warden/internal/logging"
)

// RunDaemon runs the daemon in the foreground until SIGTERM or SIGINT.
// On shutdown every tracked hole is plugged; failing that is fatal because
// it leaves ports open with nobody tracking them.
func RunDaemon(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level: level,
		JSON:  cfg.LogFormat == "json",
	})
	logging.SetDefault(logger)

	pidFile, err := writePIDFile()
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	runner := &firewall.JailedRunner{User: cfg.Runner.User}
	applier := firewall.NewApplier(firewall.ApplierConfig{
		IptablesPath:  cfg.Runner.IptablesPath,
		Ip6tablesPath: cfg.Runner.Ip6tablesPath,
		IPPath:        cfg.Runner.IPPath,
		RequireIPv6:   cfg.RequireIPv6,
	}, runner, logger.WithComponent("firewall"))
	registry := firewall.NewRegistry(applier, logger.WithComponent("holes"))
	orchestrator := firewall.NewOrchestrator(applier, logger.WithComponent("vpn"))

	handler := daemon.NewHandler(registry, orchestrator, applier.IPv6Enabled,
		logger.WithComponent("api"), nil)
	server := daemon.NewServer(cfg, handler, logger.WithComponent("daemon"))

	logger.Info("starting", "name", brand.Name, "version", brand.Version, "pid", os.Getpid())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := server.Start(ctx)

	// Holes do not survive the daemon, so close them before exiting.
	if err := registry.PlugAllHoles(); err != nil {
		logger.Error("shutdown left holes open", "error", err)
		return err
	}
	logger.Info("stopped")
	return serveErr
}

// writePIDFile creates the PID file, refusing to start when another live
// daemon owns it.
func writePIDFile() (string, error) {
	runDir := brand.GetRunDir()
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	pidFile := filepath.Join(runDir, brand.LowerName+".pid")

	if data, err := os.ReadFile(pidFile); err == nil {
		if pid, err := strconv.Atoi(string(data)); err == nil {
			if process, err := os.FindProcess(pid); err == nil {
				if err := process.Signal(syscall.Signal(0)); err == nil {
					return "", fmt.Errorf("already running (PID %d)", pid)
				}
			}
		}
		// Stale file from a dead process.
		os.Remove(pidFile)
	}

	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		return "", fmt.Errorf("writing PID file: %w", err)
	}
	return pidFile, nil
}
