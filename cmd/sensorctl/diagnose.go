package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/logger"
	"codeberg.org/mutker/sensorctl/internal/report"
	"github.com/spf13/cobra"
)

type diagnoseOptions struct {
	format        string
	skipNetwork   bool
	skipSystem    bool
	skipSensors   bool
	sensors       []string
	failUnhealthy bool
}

func newDiagnoseCmd(a *app) *cobra.Command {
	opts := &diagnoseOptions{}

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Run diagnostics once and print the report",
		Long: `Runs network, system and sensor diagnostics once. The report is printed
to stdout and, when report.dir is configured, written there as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.diagnose(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", "", "Report format (json, yaml), defaults to report.format")
	f.BoolVar(&opts.skipNetwork, "no-network", false, "Skip network diagnostics")
	f.BoolVar(&opts.skipSystem, "no-system", false, "Skip system diagnostics")
	f.BoolVar(&opts.skipSensors, "no-sensors", false, "Skip sensor diagnostics")
	f.StringSliceVar(&opts.sensors, "sensor", nil, "Restrict sensor diagnostics to these sensors")
	f.BoolVar(&opts.failUnhealthy, "fail-on-unhealthy", false, "Exit non-zero when the overall status is unhealthy")

	return cmd
}

func (a *app) diagnose(cmd *cobra.Command, opts *diagnoseOptions) error {
	format := a.cfg.Report.Format
	if opts.format != "" {
		parsed, err := report.ParseFormat(opts.format)
		if err != nil {
			return err
		}
		format = parsed
	}

	mgr, closeSensors, err := a.newManager()
	if err != nil {
		return err
	}
	defer closeSensors()
	defer func() {
		if err := mgr.Shutdown(context.Background()); err != nil {
			logger.ErrorWithCode(err).Msg("Shutdown failed")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	params := mgr.DefaultParams()
	params.IncludeNetwork = params.IncludeNetwork && !opts.skipNetwork
	params.IncludeSystem = params.IncludeSystem && !opts.skipSystem
	params.IncludeSensors = !opts.skipSensors
	params.Sensors.Names = opts.sensors

	rep, err := mgr.RunComprehensiveDiagnostics(ctx, params)
	if err != nil {
		return err
	}

	exported, err := mgr.ExportReport(ctx, rep, format)
	if err != nil {
		return err
	}
	if exported.Path != "" {
		logger.Info().Str("path", exported.Path).Msg("Report written")
	}

	if _, err := cmd.OutOrStdout().Write(exported.Data); err != nil {
		return err
	}

	if opts.failUnhealthy && rep.OverallStatus == report.StatusUnhealthy {
		return errors.New().WithMessage(errors.ErrOperationFailed, "overall status is unhealthy")
	}

	return nil
}
