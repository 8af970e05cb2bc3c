package telemetry

import (
	"database/sql"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS health_records (
	       id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	       sensor                TEXT NOT NULL,
	       timestamp             INTEGER NOT NULL,
	       state                 TEXT NOT NULL,
	       healthy               INTEGER NOT NULL CHECK (healthy IN (0, 1)),
	       status                TEXT NOT NULL DEFAULT '',
	       metrics               TEXT NOT NULL DEFAULT '{}',
	       consecutive_successes INTEGER NOT NULL CHECK (typeof(consecutive_successes) = 'integer'),
	       consecutive_failures  INTEGER NOT NULL CHECK (typeof(consecutive_failures) = 'integer'),
	       error                 TEXT NOT NULL DEFAULT ''
	   );
	   CREATE INDEX IF NOT EXISTS health_records_sensor_ts ON health_records (sensor, timestamp);
	   CREATE TABLE IF NOT EXISTS reports (
	       id             INTEGER PRIMARY KEY AUTOINCREMENT,
	       kind           TEXT NOT NULL,
	       correlation_id TEXT NOT NULL DEFAULT '',
	       status         TEXT NOT NULL,
	       format         TEXT NOT NULL,
	       generated_at   INTEGER NOT NULL,
	       body           BLOB NOT NULL
	   );`

	insertHealthRecordSQL = `
    INSERT INTO health_records (
        sensor, timestamp, state, healthy, status, metrics,
        consecutive_successes, consecutive_failures, error
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertReportSQL = `
    INSERT INTO reports (
        kind, correlation_id, status, format, generated_at, body
    ) VALUES (?, ?, ?, ?, ?, ?)`
)

var managedTables = []string{"health_records", "reports", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			SQL   string
		}{
			Error: err.Error(),
			SQL:   createTablesSQL,
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, 0 for a new database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errors.New().WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}
