package manager

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/report"
	"codeberg.org/mutker/sensorctl/internal/telemetry"
)

// Exported is a serialized report. Path is set when it was also written to
// the report directory.
type Exported struct {
	Kind   string
	Format report.Format
	Data   []byte
	Path   string
}

// ExportReport serializes a diagnostics or master report, writes it to the
// report directory when one is configured and hands it to the telemetry
// sink. The caller keeps the report on failure.
func (m *Manager) ExportReport(ctx context.Context, rep any, format report.Format) (*Exported, error) {
	errFactory := errors.New()

	if format == "" {
		format = m.cfg.ReportFormat
	}

	var (
		kind, id, status string
		at               time.Time
	)
	switch r := rep.(type) {
	case *report.DiagnosticsReport:
		if r == nil {
			return nil, errFactory.WithData(errors.ErrInvalidParams, "nil report")
		}
		kind, id, status, at = telemetry.KindDiagnostics, r.CorrelationID, string(r.OverallStatus), r.EndedAt
	case *report.MasterReport:
		if r == nil {
			return nil, errFactory.WithData(errors.ErrInvalidParams, "nil report")
		}
		kind, id, status, at = telemetry.KindMaster, r.CorrelationID, string(r.OverallStatus), r.GeneratedAt
	default:
		return nil, errFactory.WithData(errors.ErrInvalidParams, fmt.Sprintf("unsupported report type %T", rep))
	}

	data, err := report.Export(rep, format)
	if err != nil {
		m.log.ErrorWithCode(err).Str("kind", kind).Msg("Report export failed")
		return nil, err
	}

	out := &Exported{Kind: kind, Format: format, Data: data}

	if m.exporter != nil {
		path, err := m.exporter.Write(m.fileName(kind, at, format), data)
		if err != nil {
			m.log.ErrorWithCode(err).Str("kind", kind).Msg("Writing report file failed")
			return out, err
		}
		out.Path = path
		m.log.Info().Str("kind", kind).Str("path", path).Msg("Report exported")
	}

	if m.sink != nil {
		if err := m.sink.StoreReport(ctx, telemetry.ReportEntry{
			Kind:          kind,
			CorrelationID: id,
			Status:        status,
			Format:        string(format),
			GeneratedAt:   at,
			Body:          data,
		}); err != nil {
			m.log.ErrorWithCode(err).Str("kind", kind).Msg("Storing report failed")
		}
	}

	return out, nil
}

func (m *Manager) fileName(kind string, at time.Time, format report.Format) string {
	device := m.cfg.DeviceID
	if device == "" {
		device = "local"
	}
	if at.IsZero() {
		at = m.now()
	}

	return fmt.Sprintf("%s_report_%s_%s.%s", kind, device, at.UTC().Format("20060102T150405Z"), format.Extension())
}
