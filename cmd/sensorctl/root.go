package main

import (
	"codeberg.org/mutker/sensorctl/internal/config"
	"codeberg.org/mutker/sensorctl/internal/logger"
	"codeberg.org/mutker/sensorctl/internal/manager"
	"codeberg.org/mutker/sensorctl/internal/sensor"
	"codeberg.org/mutker/sensorctl/internal/sensors/gpu"
	"codeberg.org/mutker/sensorctl/internal/telemetry"
	"github.com/spf13/cobra"
)

// app is the state shared by the subcommands once configuration is loaded.
type app struct {
	loader *config.Loader
	cfg    *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "sensorctl",
		Short: "Sensor coordination and diagnostics engine",
		Long: `sensorctl supervises the sensors of an edge device. It monitors their
health, runs network, system and sensor diagnostics and exports reports.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(a),
		newDiagnoseCmd(a),
		newVersionCmd(),
	)

	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if cmd.Name() == "version" {
		return nil
	}

	loader, err := config.NewLoader()
	if err != nil {
		return err
	}

	cfg, err := loader.Load(cmd.Flags())
	if err != nil {
		return err
	}

	logger.Init(cfg.Level(), string(cfg.LogFormat), logger.IsService())
	logger.Debug().Str("file", loader.ConfigFile()).Msg("Config loaded")

	a.loader = loader
	a.cfg = cfg

	return nil
}

// newManager wires the telemetry sink and, when enabled, the GPU sensor.
// The returned cleanup closes the GPU after the manager has shut down.
func (a *app) newManager() (*manager.Manager, func(), error) {
	sink, err := telemetry.NewService(a.cfg.Telemetry, logger.Component("telemetry"))
	if err != nil {
		return nil, nil, err
	}

	mgr, err := manager.New(a.cfg.Manager(),
		manager.WithLogger(logger.Component("manager")),
		manager.WithSink(sink),
	)
	if err != nil {
		if cerr := sink.Close(); cerr != nil {
			logger.ErrorWithCode(cerr).Msg("Failed to close telemetry")
		}
		return nil, nil, err
	}

	cleanup := func() {}
	if a.cfg.GPU.Enabled {
		cleanup = a.registerGPU(mgr)
	}

	return mgr, cleanup, nil
}

// registerGPU is best effort: a missing driver leaves the engine running
// without the GPU sensor.
func (a *app) registerGPU(mgr *manager.Manager) func() {
	device, err := gpu.Open(a.cfg.GPU, logger.Component("gpu"))
	if err != nil {
		logger.ErrorWithCode(err).Msg("GPU sensor unavailable")
		return func() {}
	}

	labels := map[string]string{"driver": "nvml"}
	if err := mgr.RegisterSensor(device.SensorName(), device, sensor.Config{Labels: labels}); err != nil {
		logger.ErrorWithCode(err).Msg("Failed to register GPU sensor")
	}

	return func() {
		if err := device.Close(); err != nil {
			logger.ErrorWithCode(err).Msg("Failed to close GPU")
		}
	}
}
