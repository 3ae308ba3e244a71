package closehttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/allocation"
	closepkg "github.com/Oss53pa/Atlas-Finance-sub012/internal/close"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/continuity"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/ledger"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/platform/httpx"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/policy"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/shared"
)

type closeService interface {
	Policy() policy.Document
	FiscalYear(ctx context.Context, year int) (closepkg.FiscalYear, error)
	Ledgers(ctx context.Context, year int) (closepkg.LedgerView, error)
	CloseYear(ctx context.Context, in closepkg.CloseYearInput) (closepkg.CloseOutcome, error)
	ApproveRollForward(ctx context.Context, year int, actorID int64) (closepkg.FiscalYear, error)
	CarryForward(ctx context.Context, year int) (closepkg.CarryForward, error)
	Run(ctx context.Context, id uuid.UUID) (closepkg.CloseRun, error)
	AllocateResult(ctx context.Context, in closepkg.AllocateInput) (allocation.ResultAllocation, error)
	Allocation(ctx context.Context, year int) (allocation.ResultAllocation, error)
	ApproveAllocation(ctx context.Context, year int, actorID int64) (allocation.ResultAllocation, error)
	RecordAllocation(ctx context.Context, year int, actorID int64) (allocation.ResultAllocation, error)
	Continuity(ctx context.Context, year int) (closepkg.ContinuityReport, error)
	CheckIntegrity(ctx context.Context, year int) (closepkg.IntegrityReport, error)
	Statements(ctx context.Context, year int) (closepkg.FinancialStatements, error)
	PostEntry(ctx context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error)
	SaveAccounts(ctx context.Context, accounts []accounting.Account) ([]accounting.Account, error)
	RecordReconciliation(ctx context.Context, code string, asOf time.Time, reconciled bool) error
}

// Handler exposes the ledger engine and the fiscal year close workflow as JSON endpoints.
type Handler struct {
	logger  *slog.Logger
	service closeService
	// partitions drives the stateless aggregate endpoint.
	partitions int
}

// NewHandler constructs a close HTTP handler.
func NewHandler(logger *slog.Logger, service closeService, partitions int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, partitions: partitions}
}

// MountRoutes registers HTTP routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/ledgers/aggregate", h.aggregate)
		r.Post("/close/compute", h.computeClose)
		r.Post("/allocations/compute", h.computeAllocation)
		r.Post("/continuity/evaluate", h.evaluateContinuity)

		r.Post("/journal-entries", h.postEntry)
		r.Put("/accounts", h.saveAccounts)
		r.Post("/reconciliations", h.recordReconciliation)
		r.Get("/close-runs/{id}", h.showRun)

		r.Route("/fiscal-years/{year}", func(r chi.Router) {
			r.Get("/", h.showFiscalYear)
			r.Get("/ledgers", h.ledgers)
			r.Post("/close", h.closeYear)
			r.Get("/carry-forward", h.carryForward)
			r.Post("/approve", h.approveRollForward)
			r.Get("/allocation", h.showAllocation)
			r.Post("/allocation", h.allocate)
			r.Post("/allocation/approve", h.approveAllocation)
			r.Post("/allocation/record", h.recordAllocation)
			r.Get("/continuity", h.continuity)
			r.Get("/integrity", h.integrity)
			r.Get("/statements", h.statements)
		})
	})
}

type chartPayload struct {
	Accounts []accounting.Account `json:"accounts"`
	Closed   bool                 `json:"closed"`
}

func (c *chartPayload) chart() *accounting.Chart {
	if c == nil {
		return nil
	}
	return accounting.NewChart(c.Accounts, c.Closed)
}

type aggregateRequest struct {
	Entries    []accounting.JournalEntry `json:"entries"`
	Range      ledger.DateRange          `json:"range"`
	Opening    ledger.Balances           `json:"opening"`
	Chart      *chartPayload             `json:"chart"`
	SortByCode bool                      `json:"sort_by_code"`
}

type aggregateResponse struct {
	ledger.Result
	Rejected    []*accounting.EntryError       `json:"rejected"`
	OrphanLines []accounting.OrphanLineWarning `json:"orphan_lines"`
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) {
	var req aggregateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	chart := req.Chart.chart()
	report := accounting.ValidateAll(req.Entries, chart)
	res := ledger.AggregatePartitioned(ledger.Request{
		Postings:   ledger.PostingsOf(report.Valid),
		Range:      req.Range,
		Opening:    req.Opening,
		Chart:      chart,
		SortByCode: req.SortByCode,
	}, h.partitions)
	httpx.JSON(w, http.StatusOK, aggregateResponse{Result: res, Rejected: report.Rejected, OrphanLines: report.Warnings})
}

type computeCloseRequest struct {
	FiscalYear     int                    `json:"fiscal_year"`
	AsOf           time.Time              `json:"as_of"`
	Ledgers        []ledger.AccountLedger `json:"ledgers"`
	Reconciliation map[string]bool        `json:"reconciliation"`
	Chart          *chartPayload          `json:"chart"`
}

func (h *Handler) computeClose(w http.ResponseWriter, r *http.Request) {
	var req computeCloseRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, closepkg.Close(closepkg.CloseRequest{
		FiscalYear:     req.FiscalYear,
		Book:           ledger.BookOf(req.Ledgers),
		AsOf:           req.AsOf,
		Reconciliation: req.Reconciliation,
		Chart:          req.Chart.chart(),
	}))
}

type computeAllocationRequest struct {
	FiscalYear int                 `json:"fiscal_year"`
	NetResult  accounting.Amount   `json:"net_result"`
	Policy     *allocation.Policy  `json:"policy"`
	Adjust     *allocation.Amounts `json:"adjust"`
}

type computeAllocationResponse struct {
	allocation.ResultAllocation
	// Approvable reports whether Approve would accept the allocation as computed.
	Approvable      bool   `json:"approvable"`
	ApprovalProblem string `json:"approval_problem,omitempty"`
}

func (h *Handler) computeAllocation(w http.ResponseWriter, r *http.Request) {
	var req computeAllocationRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	p := h.service.Policy().Allocation
	if req.Policy != nil {
		p = *req.Policy
	}
	a, err := allocation.Allocate(req.FiscalYear, req.NetResult, p)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.Adjust != nil {
		if err := a.Adjust(*req.Adjust); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	resp := computeAllocationResponse{ResultAllocation: a, Approvable: true}
	trial := a
	if err := trial.Approve(time.Time{}); err != nil {
		resp.Approvable = false
		resp.ApprovalProblem = err.Error()
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type evaluateRequest struct {
	Measurements []continuity.Measurement `json:"measurements"`
	Config       *continuity.Config       `json:"config"`
}

func (h *Handler) evaluateContinuity(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	cfg := h.service.Policy().Continuity
	if req.Config != nil {
		cfg = *req.Config
		if err := cfg.Validate(); err != nil {
			h.respondError(w, r, err)
			return
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"controls": continuity.Evaluate(req.Measurements, cfg)})
}

func (h *Handler) postEntry(w http.ResponseWriter, r *http.Request) {
	var entry accounting.JournalEntry
	if err := httpx.DecodeJSON(w, r, &entry); err != nil {
		h.respondError(w, r, err)
		return
	}
	posted, err := h.service.PostEntry(r.Context(), entry)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, posted)
}

func (h *Handler) saveAccounts(w http.ResponseWriter, r *http.Request) {
	var req chartPayload
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	saved, err := h.service.SaveAccounts(r.Context(), req.Accounts)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, chartPayload{Accounts: saved})
}

type reconciliationRequest struct {
	AccountCode string    `json:"account_code"`
	AsOf        time.Time `json:"as_of"`
	Reconciled  bool      `json:"reconciled"`
}

func (h *Handler) recordReconciliation(w http.ResponseWriter, r *http.Request) {
	var req reconciliationRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.service.RecordReconciliation(r.Context(), req.AccountCode, req.AsOf, req.Reconciled); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) showRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, httpx.Classify(httpx.ErrValidation, fmt.Errorf("invalid run id: %w", err)))
		return
	}
	run, err := h.service.Run(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, run)
}

func (h *Handler) showFiscalYear(w http.ResponseWriter, r *http.Request) {
	year, ok := h.year(w, r)
	if !ok {
		return
	}
	fy, err := h.service.FiscalYear(r.Context(), year)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fy)
}

func (h *Handler) ledgers(w http.ResponseWriter, r *http.Request) {
	year, ok := h.year(w, r)
	if !ok {
		return
	}
	view, err := h.service.Ledgers(r.Context(), year)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

type actorRequest struct {
	ActorID int64 `json:"actor_id"`
}

func (h *Handler) closeYear(w http.ResponseWriter, r *http.Request) {
	year, ok := h.year(w, r)
	if !ok {
		return
	}
	var req actorRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	out, err := h.service.CloseYear(r.Context(), closepkg.CloseYearInput{Year: year, ActorID: req.ActorID})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) carryForward(w http.ResponseWriter, r *http.Request) {
	year, ok := h.year(w, r)
	if !ok {
		return
	}
	cf, err := h.service.CarryForward(r.Context(), year)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cf)
}

func (h *Handler) approveRollForward(w http.ResponseWriter, r *http.Request) {
	h.actorAction(w, r, func(ctx context.Context, year int, actorID int64) (any, error) {
		return h.service.ApproveRollForward(ctx, year, actorID)
	})
}

type allocateRequest struct {
	ActorID int64               `json:"actor_id"`
	Policy  *allocation.Policy  `json:"policy"`
	Adjust  *allocation.Amounts `json:"adjust"`
}

func (h *Handler) allocate(w http.ResponseWriter, r *http.Request) {
	year, ok := h.year(w, r)
	if !ok {
		return
	}
	var req allocateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	a, err := h.service.AllocateResult(r.Context(), closepkg.AllocateInput{Year: year, Policy: req.Policy, Adjust: req.Adjust, ActorID: req.ActorID})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) showAllocation(w http.ResponseWriter, r *http.Request) {
	year, ok := h.year(w, r)
	if !ok {
		return
	}
	a, err := h.service.Allocation(r.Context(), year)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, a)
}

func (h *Handler) approveAllocation(w http.ResponseWriter, r *http.Request) {
	h.actorAction(w, r, func(ctx context.Context, year int, actorID int64) (any, error) {
		return h.service.ApproveAllocation(ctx, year, actorID)
	})
}

func (h *Handler) recordAllocation(w http.ResponseWriter, r *http.Request) {
	h.actorAction(w, r, func(ctx context.Context, year int, actorID int64) (any, error) {
		return h.service.RecordAllocation(ctx, year, actorID)
	})
}

func (h *Handler) continuity(w http.ResponseWriter, r *http.Request) {
	year, ok := h.year(w, r)
	if !ok {
		return
	}
	report, err := h.service.Continuity(r.Context(), year)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	year, ok := h.year(w, r)
	if !ok {
		return
	}
	report, err := h.service.CheckIntegrity(r.Context(), year)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) statements(w http.ResponseWriter, r *http.Request) {
	year, ok := h.year(w, r)
	if !ok {
		return
	}
	out, err := h.service.Statements(r.Context(), year)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) actorAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, int, int64) (any, error)) {
	year, ok := h.year(w, r)
	if !ok {
		return
	}
	var req actorRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	out, err := fn(r.Context(), year, req.ActorID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) year(w http.ResponseWriter, r *http.Request) (int, bool) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1900 || year > 9999 {
		h.respondError(w, r, httpx.Classify(httpx.ErrValidation, fmt.Errorf("%w: %q", closepkg.ErrInvalidYear, chi.URLParam(r, "year"))))
		return 0, false
	}
	return year, true
}

// classify maps engine errors onto transport classes.
func classify(err error) error {
	switch {
	case errors.Is(err, closepkg.ErrFiscalYearNotFound),
		errors.Is(err, closepkg.ErrRunNotFound),
		errors.Is(err, closepkg.ErrCarryForwardNotFound),
		errors.Is(err, allocation.ErrNotFound):
		return httpx.Classify(httpx.ErrNotFound, err)
	case errors.Is(err, closepkg.ErrPeriodHardClosed),
		errors.Is(err, closepkg.ErrDuplicateEntry),
		errors.Is(err, closepkg.ErrNotSoftClosed),
		errors.Is(err, allocation.ErrAllocationFrozen),
		errors.Is(err, allocation.ErrAlreadyRecorded):
		return httpx.Classify(httpx.ErrConflict, err)
	case errors.Is(err, closepkg.ErrRollForwardNotValidated),
		errors.Is(err, allocation.ErrAllocationImbalance),
		errors.Is(err, allocation.ErrRuleViolation),
		errors.Is(err, allocation.ErrNotApproved):
		return httpx.Classify(httpx.ErrUnprocessable, err)
	case errors.Is(err, closepkg.ErrInvalidYear),
		errors.Is(err, closepkg.ErrInvalidEntry),
		errors.Is(err, closepkg.ErrActorRequired),
		errors.Is(err, shared.ErrConfiguration),
		errors.Is(err, accounting.ErrUnbalanced),
		errors.Is(err, accounting.ErrEmptyEntry),
		errors.Is(err, accounting.ErrOrphanAccount),
		errors.Is(err, accounting.ErrNegativeAmount),
		errors.Is(err, accounting.ErrAmountOverflow):
		return httpx.Classify(httpx.ErrValidation, err)
	default:
		return err
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	err = classify(err)
	if !errors.Is(err, httpx.ErrNotFound) && !errors.Is(err, httpx.ErrConflict) &&
		!errors.Is(err, httpx.ErrValidation) && !errors.Is(err, httpx.ErrUnprocessable) {
		h.logger.Error("close api", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
