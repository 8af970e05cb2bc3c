package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/sensorctl/internal/health"
)

// Sink stores health records and exported reports.
type Sink interface {
	StoreRecords(ctx context.Context, records []health.Record) error
	StoreReport(ctx context.Context, entry ReportEntry) error
	Close() error
}

// ReportEntry is one exported report as handed to the sink.
type ReportEntry struct {
	Kind          string
	CorrelationID string
	Status        string
	Format        string
	GeneratedAt   time.Time
	Body          []byte
}

// Report kinds
const (
	KindDiagnostics = "diagnostics"
	KindMaster      = "master"
)

type repository interface {
	Record(records []health.Record) error
	StoreReport(ctx context.Context, entry ReportEntry) error
	Close() error
}
