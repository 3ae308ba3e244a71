package jobs

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/close"
)

const (
	// QueueDefault is the queue every ledger task is enqueued on.
	QueueDefault = "default"
	// TaskCloseFiscalYear soft-closes a fiscal year and stores its carry-forward.
	TaskCloseFiscalYear = "gl:close_fiscal_year"
	// TaskIntegrityCheck re-derives a fiscal year and compares it to the stored close.
	TaskIntegrityCheck = "gl:integrity_check"
)

// CloseFiscalYearPayload selects the year to close. A zero Year targets the
// fiscal year that ended most recently.
type CloseFiscalYearPayload struct {
	Year    int   `json:"year"`
	ActorID int64 `json:"actor_id"`
}

// IntegrityCheckPayload selects the year to verify. A zero Year targets the
// fiscal year that ended most recently.
type IntegrityCheckPayload struct {
	Year int `json:"year"`
}

// NewCloseFiscalYearTask builds a TaskCloseFiscalYear task.
func NewCloseFiscalYearTask(payload CloseFiscalYearPayload) (*asynq.Task, error) {
	if payload.ActorID == 0 {
		return nil, close.ErrActorRequired
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCloseFiscalYear, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3), asynq.Timeout(30*time.Minute)), nil
}

// NewIntegrityCheckTask builds a TaskIntegrityCheck task.
func NewIntegrityCheckTask(payload IntegrityCheckPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegrityCheck, data, asynq.Queue(QueueDefault), asynq.MaxRetry(1), asynq.Timeout(30*time.Minute)), nil
}

// previousFiscalYear returns the last fiscal year that ended before now.
func previousFiscalYear(now time.Time, startMonth time.Month) int {
	return close.FiscalYearOf(now, startMonth) - 1
}

func decode(t *asynq.Task, v any) error {
	if err := json.Unmarshal(t.Payload(), v); err != nil {
		return fmt.Errorf("%s: decode payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return nil
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
