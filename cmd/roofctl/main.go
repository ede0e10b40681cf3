// Command roofctl runs the roof motion controller as a standalone host
// process: it loads configuration, attaches to a HAT (real I²C hardware
// or, with -simulate, an in-memory one), and drives the state machine
// from stdin commands until interrupted.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"tinygo.org/x/drivers"

	"roofctl-go/internal/hatio"
	"roofctl-go/internal/metrics"
	"roofctl-go/internal/obslog"
	"roofctl-go/internal/roofconfig"
	"roofctl-go/internal/roofcore"
)

func main() {
	configPath := flag.String("config", "/etc/roofctl/roofctl.yaml", "path to the YAML config file")
	simulate := flag.Bool("simulate", false, "use an in-memory HAT simulator instead of real I2C hardware")
	i2cAddr := flag.Uint("i2c-addr", 0x20, "I2C address of the relay/input expander")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfg, err := roofconfig.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "path", *configPath, "err", err)
		os.Exit(1)
	}
	logger.Info("loaded config", "source", cfg.Source, "name", cfg.Name)

	port, closePort := openPort(*simulate, uint16(*i2cAddr), cfg, logger)
	defer closePort()

	ctrl, err := roofcore.NewController(port, cfg, logger)
	if err != nil {
		logger.Error("failed to build controller", "err", err)
		os.Exit(1)
	}

	mreg := prometheus.NewRegistry()
	m := metrics.New(mreg)
	ctrl.SetRelayFailureHook(m.RelayFailureHook())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := ctrl.Initialize(ctx); err != nil {
		logger.Error("failed to initialize controller", "err", err)
		os.Exit(1)
	}
	defer func() { _, _ = ctrl.Dispose() }()

	olog := obslog.New(logger)

	sub := ctrl.Subscribe(8)
	defer sub.Unsubscribe()
	logSub := ctrl.Subscribe(8)
	defer logSub.Unsubscribe()
	go m.Run(ctx, sub.Channel())
	go logSnapshots(ctx, olog, logSub.Channel())
	go healthLoop(ctx, olog, ctrl, 30*time.Second)

	if watcher, err := roofconfig.NewWatcher(*configPath); err != nil {
		logger.Warn("config hot-reload unavailable", "err", err)
	} else {
		defer watcher.Close()
		changes, watchErrs := watcher.Watch(ctx)
		go watchConfig(ctx, olog, changes, watchErrs)
	}

	logger.Info("roofctl ready", "metrics_registered", true, "simulate", *simulate)
	runCommandLoop(ctx, olog, ctrl)
}

func openPort(simulate bool, addr uint16, cfg roofcore.Config, logger *slog.Logger) (hatio.Port, func()) {
	if simulate {
		logger.Info("using in-memory HAT simulator")
		sim := hatio.NewSimulator()
		return sim, func() { _ = sim.Dispose() }
	}

	bus, err := openI2CBus()
	if err != nil {
		logger.Error("failed to open I2C bus; falling back to simulator", "err", err)
		sim := hatio.NewSimulator()
		return sim, func() { _ = sim.Dispose() }
	}
	port := hatio.NewI2CPort(bus, addr, cfg.MaxRelayRetryAttempts, cfg.RelayRetryDelay, cfg.PollInterval)
	return port, func() { _ = port.Dispose() }
}

// openI2CBus is a placeholder hook: the concrete drivers.I2C implementation
// for a given Raspberry Pi HAT board is selected at build time (e.g. via
// periph.io or machine-specific init); this binary depends only on the
// drivers.I2C interface, not on any one board package.
func openI2CBus() (drivers.I2C, error) {
	return nil, fmt.Errorf("roofctl: no I2C bus wired in this build; run with -simulate")
}

func logSnapshots(ctx context.Context, logger obslog.Logger, ch <-chan roofcore.StatusSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			logger.InfoCtx(ctx, "status",
				"status", snap.Status,
				"last_stop_reason", snap.LastStopReason,
				"is_moving", snap.IsMoving,
				"watchdog_active", snap.IsWatchdogActive,
				"watchdog_remaining_s", snap.WatchdogSecondsRemaining,
				"at_speed", snap.IsAtSpeed,
			)
		}
	}
}

// healthLoop periodically samples the Health Probe and logs it — the
// liveness/readiness signal an external orchestrator (systemd watchdog,
// k8s probe) would otherwise poll over a transport this binary doesn't
// serve.
func healthLoop(ctx context.Context, logger obslog.Logger, ctrl *roofcore.RoofController, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h := ctrl.Health()
			if h.Ready {
				logger.InfoCtx(ctx, "health", "ready", h.Ready, "status", h.Status, "is_moving", h.IsMoving)
			} else {
				logger.WarnCtx(ctx, "health", "ready", h.Ready, "status", h.Status,
					"is_initialized", h.IsInitialized, "is_disposed", h.IsDisposed, "last_stop_reason", h.LastStopReason)
			}
		}
	}
}

func watchConfig(ctx context.Context, logger obslog.Logger, changes <-chan roofcore.Config, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-changes:
			if !ok {
				return
			}
			// The running controller's tunables are fixed at construction
			// time (spec: no live relay/watchdog re-wiring mid-motion); a
			// config edit takes effect on the next process restart. This
			// loop exists to surface that to an operator promptly.
			logger.InfoCtx(ctx, "config file changed; restart roofctl to apply it", "name", cfg.Name, "source", cfg.Source)
		case err, ok := <-errs:
			if !ok {
				return
			}
			logger.WarnCtx(ctx, "config watch error", "err", err)
		}
	}
}

// runCommandLoop reads single-word commands from stdin so the binary is
// usable as a manual test harness without a separate client.
func runCommandLoop(ctx context.Context, logger obslog.Logger, ctrl *roofcore.RoofController) {
	scanner := bufio.NewScanner(os.Stdin)
	inputc := make(chan string)
	go func() {
		defer close(inputc)
		for scanner.Scan() {
			inputc <- strings.TrimSpace(scanner.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-inputc:
			if !ok {
				return
			}
			dispatchCommand(ctx, logger, ctrl, line)
		}
	}
}

func dispatchCommand(ctx context.Context, logger obslog.Logger, ctrl *roofcore.RoofController, line string) {
	var (
		snap roofcore.StatusSnapshot
		err  error
	)
	switch line {
	case "open":
		snap, err = ctrl.Open(ctx)
	case "close":
		snap, err = ctrl.Close(ctx)
	case "stop":
		snap, err = ctrl.Stop(ctx, roofcore.StopReasonNormalStop)
	case "clear_fault":
		snap, err = ctrl.ClearFault(ctx, 250)
	case "status":
		snap = ctrl.Snapshot()
	case "health":
		h := ctrl.Health()
		logger.InfoCtx(ctx, "command ok", "command", line, "ready", h.Ready, "status", h.Status, "sampled_at", h.SampledAtUTC)
		return
	case "":
		return
	default:
		logger.WarnCtx(ctx, "unknown command", "line", line)
		return
	}
	if err != nil {
		logger.ErrorCtx(ctx, "command failed", "command", line, "err", err)
		return
	}
	logger.InfoCtx(ctx, "command ok", "command", line, "status", snap.Status)
}
