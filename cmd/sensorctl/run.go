package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/sensorctl/internal/config"
	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/health"
	"codeberg.org/mutker/sensorctl/internal/logger"
	"codeberg.org/mutker/sensorctl/internal/manager"
	"codeberg.org/mutker/sensorctl/internal/pid"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Monitor sensor health and run periodic diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return a.run()
		},
	}
}

func (a *app) run() error {
	if err := pid.Write(a.cfg.PIDDir); err != nil {
		return err
	}
	defer func() {
		if err := pid.Remove(a.cfg.PIDDir); err != nil {
			logger.ErrorWithCode(err).Msg("Failed to remove PID file")
		}
	}()

	mgr, closeSensors, err := a.newManager()
	if err != nil {
		return err
	}
	defer closeSensors()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if _, err := mgr.AddAlertCallback(logAlert); err != nil {
		logger.ErrorWithCode(err).Msg("Failed to register alert logger")
	}

	if err := a.loader.Watch(ctx, func(cfg *config.Config) {
		logger.SetLogLevel(cfg.Level())
	}); err != nil && !errors.HasCode(err, errors.ErrMissingConfig) {
		logger.ErrorWithCode(err).Msg("Failed to watch configuration")
	}

	return a.serve(ctx, mgr)
}

// serve monitors and diagnoses until ctx is done. The manager is always
// cleaned up, including when monitoring fails to start.
func (a *app) serve(ctx context.Context, mgr *manager.Manager) (err error) {
	defer func() {
		if cerr := a.cleanup(mgr); cerr != nil {
			if err == nil {
				err = cerr
				return
			}
			logger.ErrorWithCode(cerr).Msg("Cleanup failed")
		}
	}()

	if err := mgr.StartHealthMonitoring(ctx, 0); err != nil {
		return err
	}

	logger.Info().
		Str("device_id", a.cfg.DeviceID).
		Int("sensors", len(mgr.Sensors())).
		Dur("monitor_interval", a.cfg.Monitor.Interval).
		Dur("diagnostics_interval", a.cfg.Diagnostics.Interval).
		Msg("Started")

	if err := a.loop(ctx, mgr); err != nil {
		logger.ErrorWithCode(err).Msg("Error in main loop")
	}

	return nil
}

// loop runs diagnostics on the configured interval until ctx is done.
func (a *app) loop(ctx context.Context, mgr *manager.Manager) error {
	if a.cfg.Diagnostics.Interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(a.cfg.Diagnostics.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := diagnose(ctx, mgr, a.cfg); err != nil {
				if errors.HasCode(err, errors.ErrShuttingDown) {
					return nil
				}
				logger.ErrorWithCode(err).Msg("Diagnostics run failed")
			}
		}
	}
}

func diagnose(ctx context.Context, mgr *manager.Manager, cfg *config.Config) error {
	rep, err := mgr.RunComprehensiveDiagnostics(ctx, mgr.DefaultParams())
	if err != nil {
		return err
	}

	logger.Info().
		Str("correlation_id", rep.CorrelationID).
		Str("status", string(rep.OverallStatus)).
		Dur("duration", rep.Duration).
		Msg("Diagnostics completed")

	if _, err := mgr.ExportReport(ctx, rep, cfg.Report.Format); err != nil {
		return err
	}

	return nil
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

// cleanup exports the master report and shuts the manager down. Shutdown
// applies the configured grace period itself.
func (a *app) cleanup(mgr *manager.Manager) error {
	ctx := context.Background()

	mgr.StopHealthMonitoring()

	master := mgr.CreateMasterReport()
	if exported, err := mgr.ExportReport(ctx, master, a.cfg.Report.Format); err != nil {
		logger.ErrorWithCode(err).Msg("Failed to export master report")
	} else if exported.Path != "" {
		logger.Info().Str("path", exported.Path).Msg("Master report written")
	}

	if err := mgr.Shutdown(ctx); err != nil {
		return err
	}

	logger.Info().Msg("Exiting...")

	return nil
}

func logAlert(_ context.Context, alert health.Alert) error {
	var event *logger.LogEvent
	switch alert.Severity {
	case health.SeverityCritical:
		event = logger.Error()
	case health.SeverityWarning:
		event = logger.Warn()
	default:
		event = logger.Info()
	}

	event.
		Str("sensor", alert.Sensor).
		Str("type", string(alert.Type)).
		Str("from", string(alert.From)).
		Str("to", string(alert.To)).
		Msg(alert.Message)

	return nil
}
