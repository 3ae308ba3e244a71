package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/close"
	jobmetrics "github.com/Oss53pa/Atlas-Finance-sub012/internal/jobs"
)

// Closer is the slice of close.Service used by the close job.
type Closer interface {
	CloseYear(ctx context.Context, in close.CloseYearInput) (close.CloseOutcome, error)
}

// CloseFiscalYearJob runs the soft close of a fiscal year in the background.
type CloseFiscalYearJob struct {
	Service    Closer
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	StartMonth time.Month
	clock      func() time.Time
}

// NewCloseFiscalYearJob wires the close job.
func NewCloseFiscalYearJob(service Closer, startMonth time.Month, logger *slog.Logger, metrics *jobmetrics.Metrics) *CloseFiscalYearJob {
	return &CloseFiscalYearJob{
		Service:    service,
		Logger:     logger,
		Metrics:    metrics,
		StartMonth: startMonth,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskCloseFiscalYear.
func (j *CloseFiscalYearJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Service == nil {
		return errors.New("close fiscal year: handler not configured")
	}
	var payload CloseFiscalYearPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	if payload.Year == 0 {
		payload.Year = previousFiscalYear(j.clock(), j.StartMonth)
	}

	tracker := j.Metrics.Track(TaskCloseFiscalYear)
	defer func() {
		err = tracker.End(err)
	}()

	logger := jobLogger(j.Logger).With(slog.Int("fiscal_year", payload.Year), slog.Int64("actor_id", payload.ActorID))
	logger.Info("closing fiscal year")

	outcome, err := j.Service.CloseYear(ctx, close.CloseYearInput{Year: payload.Year, ActorID: payload.ActorID})
	switch {
	case errors.Is(err, close.ErrPeriodHardClosed):
		logger.Warn("fiscal year already hard closed, skipping")
		return nil
	case errors.Is(err, close.ErrInvalidYear), errors.Is(err, close.ErrActorRequired):
		return fmt.Errorf("close fiscal year %d: %v: %w", payload.Year, err, asynq.SkipRetry)
	case err != nil:
		logger.Error("close failed", slog.Any("error", err))
		return err
	}

	j.Metrics.AddRejected(payload.Year, len(outcome.Rejected))
	logger.Info("fiscal year soft closed",
		slog.String("run_id", outcome.Run.ID.String()),
		slog.Int("accounts", outcome.Run.Summary.Accounts),
		slog.Int("validated", outcome.Run.Summary.Validated),
		slog.Int("rejected", outcome.Run.Summary.Rejected),
	)
	return nil
}

func jobLogger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
