package telemetry

import (
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	defaultDBPath  = "/var/lib/sensorctl/telemetry.db"
	backupSubdir   = "backups"

	defaultBatchSize    = 50
	defaultBatchTimeout = 10 * time.Second
	defaultMaxBuffered  = 1000
)

type Config struct {
	Enabled      bool          `mapstructure:"enabled"`
	DBPath       string        `mapstructure:"db_path"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	// MaxBuffered bounds the records held while the database is failing;
	// the oldest are dropped first.
	MaxBuffered  int           `mapstructure:"max_buffered"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:      false, // Disabled by default
		DBPath:       defaultDBPath,
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		MaxBuffered:  defaultMaxBuffered,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate DBPath if telemetry is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 || c.MaxBuffered < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout time.Duration
			MaxBuffered  int
		}{
			BatchSize:    c.BatchSize,
			BatchTimeout: c.BatchTimeout,
			MaxBuffered:  c.MaxBuffered,
		})
	}

	return nil
}

// bufferLimit never drops below one batch.
func (c Config) bufferLimit() int {
	limit := c.MaxBuffered
	if limit <= 0 {
		limit = defaultMaxBuffered
	}

	return max(limit, c.BatchSize)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
