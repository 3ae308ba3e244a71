package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/close"
	jobmetrics "github.com/Oss53pa/Atlas-Finance-sub012/internal/jobs"
)

// IntegrityChecker is the slice of close.Service used by the integrity job.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context, year int) (close.IntegrityReport, error)
}

// IntegrityCheckJob verifies that a fiscal year's journal still balances and
// that its stored carry-forward matches a fresh close.
type IntegrityCheckJob struct {
	Service    IntegrityChecker
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	StartMonth time.Month
	clock      func() time.Time
}

// NewIntegrityCheckJob wires the integrity job.
func NewIntegrityCheckJob(service IntegrityChecker, startMonth time.Month, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityCheckJob {
	return &IntegrityCheckJob{
		Service:    service,
		Logger:     logger,
		Metrics:    metrics,
		StartMonth: startMonth,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskIntegrityCheck. Findings are logged and counted; only
// failures to run the check are returned.
func (j *IntegrityCheckJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("integrity check: handler not configured")
	}
	var payload IntegrityCheckPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	if payload.Year == 0 {
		payload.Year = previousFiscalYear(j.clock(), j.StartMonth)
	}

	tracker := j.Metrics.Track(TaskIntegrityCheck)
	defer func() {
		err = tracker.End(err)
	}()

	logger := jobLogger(j.Logger).With(slog.String("job", TaskIntegrityCheck), slog.Int("fiscal_year", payload.Year))
	report, err := j.Service.CheckIntegrity(ctx, payload.Year)
	if err != nil {
		logger.Error("integrity check failed", slog.Any("error", err))
		return err
	}

	j.Metrics.AddRejected(report.Year, len(report.Rejected))
	j.Metrics.AddDrift(report.Year, len(report.Drift))
	attrs := []any{
		slog.Int("entries", report.Entries),
		slog.Int("rejected", len(report.Rejected)),
		slog.Int("orphan_lines", report.OrphanLines),
		slog.Bool("balanced", report.Balanced),
		slog.Bool("carry_forward_checked", report.CarryForward),
	}
	if report.Healthy() {
		logger.Info("general ledger integrity verified", attrs...)
		return nil
	}
	logger.Warn("general ledger integrity findings", append(attrs, slog.Any("drift", report.Drift))...)
	return nil
}
