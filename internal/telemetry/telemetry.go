package telemetry

import (
	"context"

	"codeberg.org/mutker/sensorctl/internal/errors"
	"codeberg.org/mutker/sensorctl/internal/health"
	"codeberg.org/mutker/sensorctl/internal/logger"
)

type service struct {
	repo repository
	cfg  Config
}

type noopSink struct{}

// NewService opens the telemetry store, or returns a no-op sink when
// telemetry is disabled.
func NewService(cfg Config, log logger.Logger) (Sink, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("Telemetry disabled, using no-op sink")
		return noopSink{}, nil
	}

	repo, err := newRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create telemetry repository")
		return nil, err
	}

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) StoreRecords(ctx context.Context, records []health.Record) error {
	errFactory := errors.New()

	for _, rec := range records {
		if rec.Sensor == "" || rec.Timestamp.IsZero() {
			return errFactory.WithData(ErrInvalidRecord, rec.Sensor)
		}
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	if err := s.repo.Record(records); err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (s *service) StoreReport(ctx context.Context, entry ReportEntry) error {
	errFactory := errors.New()

	if entry.Kind == "" || len(entry.Body) == 0 {
		return errFactory.WithData(ErrInvalidRecord, entry.Kind)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	return s.repo.StoreReport(ctx, entry)
}

func (s *service) Close() error {
	return s.repo.Close()
}

func (noopSink) StoreRecords(context.Context, []health.Record) error { return nil }

func (noopSink) StoreReport(context.Context, ReportEntry) error { return nil }

func (noopSink) Close() error { return nil }
