package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":            "log_level",
	"log-format":           "log_format",
	"device-id":            "device_id",
	"pid-dir":              "pid_dir",
	"monitor-interval":     "monitor.interval",
	"diagnostics-interval": "diagnostics.interval",
	"target-host":          "diagnostics.target_host",
	"report-dir":           "report.dir",
	"report-format":        "report.format",
	"telemetry":            "telemetry.enabled",
	"db-path":              "telemetry.db_path",
	"gpu":                  "gpu.enabled",
}

// RegisterFlags declares the flags Load knows how to bind.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to the configuration file")
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("log-format", "", "Log format (console, json)")
	fs.String("device-id", "", "Device identifier used in reports")
	fs.String("pid-dir", "", "Directory holding the PID file")
	fs.Duration("monitor-interval", 0, "Health monitoring interval")
	fs.Duration("diagnostics-interval", 0, "Periodic diagnostics interval, 0 disables")
	fs.String("target-host", "", "Host probed by network diagnostics")
	fs.String("report-dir", "", "Directory exported reports are written to")
	fs.String("report-format", "", "Report format (json, yaml)")
	fs.Bool("telemetry", false, "Persist health records and reports to SQLite")
	fs.String("db-path", "", "Telemetry database path")
	fs.Bool("gpu", false, "Register the NVIDIA GPU sensor")
}

// Loader reads configuration from defaults, the config file, a dotenv
// file, the environment and bound flags, in increasing precedence.
type Loader struct {
	v    *viper.Viper
	opts options
	log  logger.Logger

	mu      sync.Mutex
	watched bool
}

func NewLoader(opts ...Option) (*Loader, error) {
	o := options{
		envPrefix: DefaultEnvPrefix,
		envFile:   DefaultEnvFile,
	}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, err
		}
	}
	if o.searchPaths == nil {
		o.searchPaths = defaultSearchPaths()
	}

	return &Loader{
		v:    viper.New(),
		opts: o,
		log:  logger.Component("config"),
	}, nil
}

// Load is a shorthand for NewLoader followed by Loader.Load.
func Load(flags *pflag.FlagSet, opts ...Option) (*Config, error) {
	l, err := NewLoader(opts...)
	if err != nil {
		return nil, err
	}

	return l.Load(flags)
}

func (l *Loader) Load(flags *pflag.FlagSet) (*Config, error) {
	errFactory := errors.New()

	if err := loadEnvFile(l.opts.envFile); err != nil {
		return nil, err
	}

	setDefaults(l.v, DefaultConfig())

	l.v.SetEnvPrefix(l.opts.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.bindFlags(flags); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	if err := l.readConfigFile(flags); err != nil {
		return nil, err
	}

	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.New().Wrap(errors.ErrReadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ConfigFile returns the file the configuration was read from, if any.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch re-reads the configuration file whenever it changes. Revisions that
// fail to decode or validate are logged and skipped.
func (l *Loader) Watch(ctx context.Context, callback func(*Config)) error {
	errFactory := errors.New()

	if l.v.ConfigFileUsed() == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig, "no configuration file to watch")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watched {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "configuration is already watched")
	}
	l.watched = true

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
			return
		}

		cfg, err := l.decode()
		if err != nil {
			l.log.ErrorWithCode(err).Str("file", e.Name).Msg("Ignoring invalid configuration change")
			return
		}

		l.log.Info().Str("file", e.Name).Msg("Configuration reloaded")
		callback(cfg)
	})
	l.v.WatchConfig()

	return nil
}

func (l *Loader) bindFlags(flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return err
		}
	}

	return nil
}

func (l *Loader) readConfigFile(flags *pflag.FlagSet) error {
	errFactory := errors.New()

	path := l.opts.configPath
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			path = f.Value.String()
		}
	}
	if path == "" {
		path = os.Getenv(l.opts.envPrefix + "_CONFIG")
	}

	if path != "" {
		l.v.SetConfigFile(path)
		l.v.SetConfigType(configType)
		if err := l.v.ReadInConfig(); err != nil {
			return errFactory.Wrap(errors.ErrReadConfig, err)
		}
		return nil
	}

	l.v.SetConfigName(configName)
	l.v.SetConfigType(configType)
	for _, dir := range l.opts.searchPaths {
		l.v.AddConfigPath(dir)
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			l.log.Debug().Msg("No configuration file found, using defaults")
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.New().Wrap(errors.ErrReadConfig, err)
	}
	if err := godotenv.Load(path); err != nil {
		return errors.New().Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

func defaultSearchPaths() []string {
	paths := []string{"/etc/sensorctl"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "sensorctl"))
	}

	return paths
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("log_level", string(cfg.LogLevel))
	v.SetDefault("log_format", string(cfg.LogFormat))
	v.SetDefault("device_id", cfg.DeviceID)
	v.SetDefault("pid_dir", cfg.PIDDir)
	v.SetDefault("shutdown_grace", cfg.ShutdownGrace)

	v.SetDefault("executor.max_concurrency", cfg.Executor.MaxConcurrency)
	v.SetDefault("executor.timeout", cfg.Executor.Timeout)
	v.SetDefault("executor.retries", cfg.Executor.Retries)
	v.SetDefault("executor.backoff", cfg.Executor.Backoff)

	v.SetDefault("breaker.failure_threshold", cfg.Breaker.FailureThreshold)
	v.SetDefault("breaker.cool_down", cfg.Breaker.CoolDown)
	v.SetDefault("breaker.cool_down_calls", cfg.Breaker.CoolDownCalls)

	m := cfg.Monitor
	v.SetDefault("monitor.interval", m.Interval)
	v.SetDefault("monitor.max_concurrency", m.MaxConcurrency)
	v.SetDefault("monitor.timeout", m.Timeout)
	v.SetDefault("monitor.degrade_threshold", m.DegradeThreshold)
	v.SetDefault("monitor.unhealthy_threshold", m.UnhealthyThreshold)
	v.SetDefault("monitor.recovery_threshold", m.RecoveryThreshold)
	v.SetDefault("monitor.max_records", m.MaxRecords)
	v.SetDefault("monitor.retention", m.Retention)
	v.SetDefault("monitor.alert_buffer", m.AlertBuffer)
	v.SetDefault("monitor.callback_timeout", m.CallbackTimeout)
	v.SetDefault("monitor.trend_method", string(m.TrendMethod))
	v.SetDefault("monitor.trend_metric", m.TrendMetric)
	v.SetDefault("monitor.trend_min_samples", m.TrendMinSamples)
	v.SetDefault("monitor.trend_epsilon", m.TrendEpsilon)
	v.SetDefault("monitor.trend_lower_is_better", m.TrendLowerIsBetter)

	d := cfg.Diagnostics
	v.SetDefault("diagnostics.interval", d.Interval)
	v.SetDefault("diagnostics.time_bucket", d.TimeBucket)
	v.SetDefault("diagnostics.target_host", d.TargetHost)
	v.SetDefault("diagnostics.network_tests", d.NetworkTests)
	v.SetDefault("diagnostics.system_tests", d.SystemTests)
	v.SetDefault("diagnostics.ports", d.Ports)
	v.SetDefault("diagnostics.ping_count", d.PingCount)
	v.SetDefault("diagnostics.cpu_threshold", d.CPUThreshold)
	v.SetDefault("diagnostics.memory_threshold", d.MemoryThreshold)
	v.SetDefault("diagnostics.disk_threshold", d.DiskThreshold)

	v.SetDefault("report.dir", cfg.Report.Dir)
	v.SetDefault("report.format", string(cfg.Report.Format))

	v.SetDefault("telemetry.enabled", cfg.Telemetry.Enabled)
	v.SetDefault("telemetry.db_path", cfg.Telemetry.DBPath)
	v.SetDefault("telemetry.batch_size", cfg.Telemetry.BatchSize)
	v.SetDefault("telemetry.max_buffered", cfg.Telemetry.MaxBuffered)
	v.SetDefault("telemetry.batch_timeout", cfg.Telemetry.BatchTimeout)

	v.SetDefault("gpu.enabled", cfg.GPU.Enabled)
	v.SetDefault("gpu.index", cfg.GPU.Index)
	v.SetDefault("gpu.max_temperature", cfg.GPU.MaxTemperature)
	v.SetDefault("gpu.window", cfg.GPU.Window)
}
