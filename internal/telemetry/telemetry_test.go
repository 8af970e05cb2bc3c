package telemetry

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/health"
	"codeberg.org/mutker/sensorctl/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	t.Helper()

	return Config{
		Enabled:      true,
		DBPath:       filepath.Join(t.TempDir(), "telemetry.db"),
		BatchSize:    2,
		BatchTimeout: time.Hour,
	}
}

func count(t *testing.T, db *sql.DB, table string) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))

	return n
}

func record(sensorName string, healthy bool) health.Record {
	return health.Record{
		Sensor:    sensorName,
		Timestamp: time.Now(),
		State:     health.StateHealthy,
		Healthy:   healthy,
		Metrics:   map[string]float64{"temperature": 41.5},
	}
}

func TestDisabledIsNoop(t *testing.T) {
	sink, err := NewService(DefaultConfig(), logger.Nop())
	require.NoError(t, err)
	assert.IsType(t, noopSink{}, sink)
	assert.NoError(t, sink.StoreRecords(context.Background(), []health.Record{record("camera", true)}))
	assert.NoError(t, sink.Close())
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.DBPath = ""
	assert.True(t, apperrors.HasCode(cfg.Validate(), ErrInvalidDBPath))

	cfg = DefaultConfig()
	cfg.BatchSize = -1
	assert.True(t, apperrors.HasCode(cfg.Validate(), ErrInvalidConfig))
}

func TestRecordsAreBatched(t *testing.T) {
	cfg := testConfig(t)
	sink, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)

	repo := sink.(*service).repo.(*sqliteRepository)
	ctx := context.Background()

	require.NoError(t, sink.StoreRecords(ctx, []health.Record{record("camera", true)}))
	assert.Equal(t, 0, count(t, repo.db, "health_records"))

	require.NoError(t, sink.StoreRecords(ctx, []health.Record{record("lidar", false)}))
	assert.Equal(t, 2, count(t, repo.db, "health_records"))

	require.NoError(t, sink.StoreRecords(ctx, []health.Record{record("radar", true)}))
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 3, count(t, db, "health_records"))

	var metrics string
	var healthy int
	require.NoError(t, db.QueryRow(
		"SELECT metrics, healthy FROM health_records WHERE sensor = ?", "lidar",
	).Scan(&metrics, &healthy))
	assert.JSONEq(t, `{"temperature": 41.5}`, metrics)
	assert.Equal(t, 0, healthy)
}

func TestStoreReport(t *testing.T) {
	sink, err := NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer sink.Close()

	repo := sink.(*service).repo.(*sqliteRepository)

	err = sink.StoreReport(context.Background(), ReportEntry{
		Kind:          KindDiagnostics,
		CorrelationID: "run-1",
		Status:        "healthy",
		Format:        "json",
		GeneratedAt:   time.Now(),
		Body:          []byte(`{"overall_status":"healthy"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count(t, repo.db, "reports"))

	err = sink.StoreReport(context.Background(), ReportEntry{Kind: KindMaster})
	assert.True(t, apperrors.HasCode(err, ErrInvalidRecord))
}

func TestRejectsInvalidRecords(t *testing.T) {
	sink, err := NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer sink.Close()

	err = sink.StoreRecords(context.Background(), []health.Record{{Sensor: "camera"}})
	assert.True(t, apperrors.HasCode(err, ErrInvalidRecord))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = sink.StoreRecords(ctx, []health.Record{record("camera", true)})
	assert.True(t, apperrors.HasCode(err, ErrOperationTimeout))
}

func TestSchemaMismatchIsBackedUp(t *testing.T) {
	cfg := testConfig(t)

	sink, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec("UPDATE schema_versions SET version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	sink, err = NewService(cfg, logger.Nop())
	require.NoError(t, err)
	defer sink.Close()

	repo := sink.(*service).repo.(*sqliteRepository)
	version, err := GetSchemaVersion(repo.db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	backups, err := os.ReadDir(filepath.Join(filepath.Dir(cfg.DBPath), backupSubdir))
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Contains(t, backups[0].Name(), "telemetry_v99_")
}

func TestUnbatchedWritesImmediately(t *testing.T) {
	cfg := testConfig(t)
	cfg.BatchSize = 0

	sink, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	defer sink.Close()

	repo := sink.(*service).repo.(*sqliteRepository)
	require.NoError(t, sink.StoreRecords(context.Background(), []health.Record{record("camera", true)}))
	assert.Equal(t, 1, count(t, repo.db, "health_records"))
}

func TestBufferIsBoundedWhileDatabaseFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxBuffered = 3

	sink, err := NewService(cfg, logger.Nop())
	require.NoError(t, err)
	defer sink.Close()

	repo := sink.(*service).repo.(*sqliteRepository)
	_, err = repo.db.Exec("DROP TABLE health_records")
	require.NoError(t, err)

	for _, name := range []string{"s0", "s1", "s2", "s3", "s4"} {
		_ = sink.StoreRecords(context.Background(), []health.Record{record(name, true)})
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()

	require.Len(t, repo.buffer, 3)
	assert.Equal(t, "s2", repo.buffer[0].Sensor)
	assert.Equal(t, "s4", repo.buffer[2].Sensor)
}
