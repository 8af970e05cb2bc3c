package config

import "context"

const (
	DefaultEnvPrefix = "SENSORCTL"
	DefaultEnvFile   = ".env"
	configName       = "sensorctl"
	configType       = "toml"
)

// Watcher enables live configuration updates
type Watcher interface {
	// Watch starts watching the loaded configuration file. The callback
	// receives every successfully decoded and validated revision until ctx
	// is done.
	Watch(ctx context.Context, callback func(*Config)) error
}

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

// options holds internal configuration options
type options struct {
	configPath  string
	envPrefix   string
	envFile     string
	searchPaths []string
}

// WithConfigFile specifies an explicit configuration file path
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "SENSORCTL"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		o.envPrefix = prefix
		return nil
	}
}

// WithEnvFile specifies the dotenv file read before the environment.
// A missing file is not an error.
func WithEnvFile(path string) Option {
	return func(o *options) error {
		o.envFile = path
		return nil
	}
}

// WithSearchPaths replaces the directories searched for sensorctl.toml
func WithSearchPaths(paths ...string) Option {
	return func(o *options) error {
		o.searchPaths = paths
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarn    LogLevel = "warn"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

// LogFormat selects the logger output
type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

func (f LogFormat) IsValid() bool {
	return f == LogFormatConsole || f == LogFormatJSON
}
