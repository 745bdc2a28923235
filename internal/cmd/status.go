package cmd

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/goscour/internal/observability"
	"github.com/3leaps/goscour/internal/server"
	"github.com/3leaps/goscour/internal/server/handlers"
)

// startStatusServer starts the status HTTP server for a removal run
// (rm --status-addr). The returned stop function unregisters the
// progress source and shuts the server down.
func startStatusServer(addr string, snapshot func() handlers.ProgressSnapshot, onCancel func()) (func(), error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("status address must be host:port: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("invalid status port %q", portStr)
	}
	if host == "" {
		host = "localhost"
	}

	handlers.InitHealthManager(versionInfo.Version)
	if hm := handlers.GetHealthManager(); hm != nil {
		hm.RegisterChecker("signal", signalHealthChecker{})
		if identity := GetAppIdentity(); identity != nil {
			hm.RegisterChecker("identity", identityHealthChecker{
				binaryName: identity.BinaryName,
				envPrefix:  identity.EnvPrefix,
				configName: identity.ConfigName,
			})
		}
	}
	handlers.SetProgressSource(snapshot)

	srv := server.New(host, port)
	srv.OnSignal = func(sig string) {
		switch sig {
		case "stop", "cancel":
			observability.CLILogger.Warn("Stop requested over status endpoint", zap.String("signal", sig))
			onCancel()
		default:
			observability.CLILogger.Warn("Ignoring unknown admin signal", zap.String("signal", sig))
		}
	}

	go func() {
		if err := srv.Start(); err != nil {
			observability.CLILogger.Error("Status server stopped", zap.Error(err))
		}
	}()
	observability.CLILogger.Info("Status server listening", zap.String("addr", srv.Addr()))

	stop := func() {
		handlers.SetProgressSource(nil)
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			observability.CLILogger.Warn("Status server shutdown failed", zap.Error(err))
		}
	}
	return stop, nil
}

// signalHealthChecker reports process liveness. If the probe handler
// runs at all, the process is alive.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(ctx context.Context) error {
	return nil
}

// identityHealthChecker verifies the app identity resolved completely.
// A partial identity means config and env lookups are broken.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	if c.binaryName == "" {
		return fmt.Errorf("missing binary name")
	}
	if c.envPrefix == "" {
		return fmt.Errorf("missing env prefix")
	}
	if c.configName == "" {
		return fmt.Errorf("missing config name")
	}
	return nil
}
