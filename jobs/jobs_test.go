package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/close"
	jobmetrics "github.com/Oss53pa/Atlas-Finance-sub012/internal/jobs"
	_ "github.com/Oss53pa/Atlas-Finance-sub012/testing"
)

type closerFunc func(context.Context, close.CloseYearInput) (close.CloseOutcome, error)

func (f closerFunc) CloseYear(ctx context.Context, in close.CloseYearInput) (close.CloseOutcome, error) {
	return f(ctx, in)
}

type checkerFunc func(context.Context, int) (close.IntegrityReport, error)

func (f checkerFunc) CheckIntegrity(ctx context.Context, year int) (close.IntegrityReport, error) {
	return f(ctx, year)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCloseFiscalYearTaskRequiresActor(t *testing.T) {
	_, err := NewCloseFiscalYearTask(CloseFiscalYearPayload{Year: 2024})
	require.ErrorIs(t, err, close.ErrActorRequired)

	task, err := NewCloseFiscalYearTask(CloseFiscalYearPayload{Year: 2024, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, TaskCloseFiscalYear, task.Type())
	var payload CloseFiscalYearPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, CloseFiscalYearPayload{Year: 2024, ActorID: 7}, payload)
}

func TestCloseJobDefaultsToPreviousFiscalYear(t *testing.T) {
	var got close.CloseYearInput
	svc := closerFunc(func(_ context.Context, in close.CloseYearInput) (close.CloseOutcome, error) {
		got = in
		return close.CloseOutcome{Rejected: []*accounting.EntryError{{EntryID: "X"}}}, nil
	})
	job := NewCloseFiscalYearJob(svc, time.July, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = fixedClock(time.Date(2025, 8, 2, 1, 0, 0, 0, time.UTC))

	task, err := NewCloseFiscalYearTask(CloseFiscalYearPayload{ActorID: 1})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, close.CloseYearInput{Year: 2024, ActorID: 1}, got)
}

func TestCloseJobErrorHandling(t *testing.T) {
	task, err := NewCloseFiscalYearTask(CloseFiscalYearPayload{Year: 2024, ActorID: 1})
	require.NoError(t, err)

	cases := []struct {
		name      string
		err       error
		wantNil   bool
		skipRetry bool
	}{
		{name: "hard closed is a no-op", err: close.ErrPeriodHardClosed, wantNil: true},
		{name: "invalid input is not retried", err: close.ErrInvalidYear, skipRetry: true},
		{name: "store failure is retried", err: errors.New("connection reset")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			job := NewCloseFiscalYearJob(closerFunc(func(context.Context, close.CloseYearInput) (close.CloseOutcome, error) {
				return close.CloseOutcome{}, tc.err
			}), time.January, nil, nil)
			err := job.Handle(context.Background(), task)
			if tc.wantNil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
		})
	}
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	job := NewIntegrityCheckJob(checkerFunc(func(context.Context, int) (close.IntegrityReport, error) {
		t.Fatal("service must not be called")
		return close.IntegrityReport{}, nil
	}), time.January, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskIntegrityCheck, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestIntegrityJobReportsFindings(t *testing.T) {
	reg := prometheus.NewRegistry()
	var asked int
	job := NewIntegrityCheckJob(checkerFunc(func(_ context.Context, year int) (close.IntegrityReport, error) {
		asked = year
		return close.IntegrityReport{Year: year, Balanced: true, CarryForward: true, Drift: []string{"512000", "701000"}}, nil
	}), time.January, nil, jobmetrics.NewMetrics(reg))
	job.clock = fixedClock(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))

	task, err := NewIntegrityCheckTask(IntegrityCheckPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 2024, asked)

	families, err := reg.Gather()
	require.NoError(t, err)
	var drift float64
	for _, fam := range families {
		if fam.GetName() == "gl_carry_forward_drift_total" {
			drift = fam.GetMetric()[0].GetCounter().GetValue()
		}
	}
	require.Equal(t, 2.0, drift)
}

func TestIntegrityJobPropagatesFailures(t *testing.T) {
	boom := errors.New("boom")
	job := NewIntegrityCheckJob(checkerFunc(func(context.Context, int) (close.IntegrityReport, error) {
		return close.IntegrityReport{}, boom
	}), time.January, nil, nil)
	task, err := NewIntegrityCheckTask(IntegrityCheckPayload{Year: 2023})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestServeMuxRoutesLedgerTasks(t *testing.T) {
	var seen []string
	record := func(name string) asynq.HandlerFunc {
		return func(context.Context, *asynq.Task) error {
			seen = append(seen, name)
			return nil
		}
	}
	mux := newServeMux([]TaskHandler{
		{Type: TaskCloseFiscalYear, Handler: record("close")},
		{Type: TaskIntegrityCheck, Handler: record("integrity")},
		{Type: "", Handler: record("ignored")},
	})
	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TaskIntegrityCheck, nil)))
	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TaskCloseFiscalYear, nil)))
	require.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask("gl:unknown", nil)))
	require.Equal(t, []string{"integrity", "close"}, seen)
}

type inspectorFunc func(string) (*asynq.QueueInfo, error)

func (f inspectorFunc) GetQueueInfo(q string) (*asynq.QueueInfo, error) { return f(q) }

func TestHealthEndpoint(t *testing.T) {
	serve := func(h *Handler) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		h.MountRoutes(r)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		return rr
	}

	rr := serve(NewHandler(inspectorFunc(func(q string) (*asynq.QueueInfo, error) {
		return &asynq.QueueInfo{Queue: q, Pending: 3, Retry: 1}, nil
	}), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":3,"active":0,"retry":1,"failed":0}`, rr.Body.String())

	rr = serve(NewHandler(inspectorFunc(func(string) (*asynq.QueueInfo, error) {
		return nil, errors.New("redis down")
	}), nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, rr.Code)
}
