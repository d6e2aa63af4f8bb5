/*
handlers.go - HTTP API handlers for the loan reconciliation engine

PURPOSE:
  Exposes the reconciliation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Loans:
    GET    /api/loans                    List loan ids
    POST   /api/loans                    Originate a loan
    GET    /api/loans/{id}               Loan summary + payoff

  Deposits:
    POST   /api/loans/{id}/deposits      Record a payment and reconcile

  Recalculation:
    POST   /api/loans/{id}/calc          Re-run the convergence loop

  Read models:
    GET    /api/loans/{id}/bills         Bill list with collection version
    GET    /api/loans/{id}/summary       Aggregate bill summary
    GET    /api/loans/{id}/payoff        Payoff quote as of the observation date

  Versioning:
    GET    /api/loans/{id}/versions      Version ledger (diffs, no snapshots)
    POST   /api/loans/{id}/versions/{versionID}/rollback

ARCHITECTURE:
  Handler holds the SQLite store plus an in-memory session per loan
  (engine + version manager). Sessions are rehydrated from the store on
  startup via LoadLoans. Every mutation runs the convergence loop,
  commits a version, and persists both the state document and the
  version ledger.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Loan or version not found
  - 409: Rollback to the current version
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - engine/lendpeak.go: The convergence loop driven here
*/
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/billing"
	"github.com/warp/loan-engine/core"
	"github.com/warp/loan-engine/engine"
	"github.com/warp/loan-engine/payments"
	"github.com/warp/loan-engine/store/sqlite"
	"github.com/warp/loan-engine/versioning"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// loanSession pairs one loan's engine with its version ledger.
type loanSession struct {
	engine   *engine.LendPeak
	versions *versioning.FinancialOpsVersionManager
}

func (s *loanSession) commit(message string) error {
	snap, err := s.engine.Snapshot()
	if err != nil {
		return err
	}
	_, err = s.versions.CommitTransaction(snap, message)
	return err
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store *sqlite.Store

	mu    sync.RWMutex
	loans map[string]*loanSession
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store: store,
		loans: make(map[string]*loanSession),
	}
}

// LoadLoans rehydrates every persisted loan into memory.
func (h *Handler) LoadLoans(ctx context.Context) error {
	ids, err := h.Store.ListLoanIDs(ctx)
	if err != nil {
		return err
	}

	for _, id := range ids {
		state, err := h.Store.GetLoan(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load loan %s: %w", id, err)
		}
		lp, err := engine.FromJSON(state)
		if err != nil {
			return fmt.Errorf("failed to decode loan %s: %w", id, err)
		}

		vm := versioning.NewVersionManager(core.UUIDGenerator{})
		versions, err := h.Store.LoadVersions(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load versions for loan %s: %w", id, err)
		}
		vm.RestoreVersions(versions)

		h.loans[id] = &loanSession{engine: lp, versions: vm}
	}
	return nil
}

func (h *Handler) session(id string) *loanSession {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.loans[id]
}

// persist writes the current state document and the full version
// ledger for one loan.
func (h *Handler) persist(ctx context.Context, id string, s *loanSession) error {
	state, err := s.engine.ToJSON(true)
	if err != nil {
		return err
	}
	if err := h.Store.SaveLoan(ctx, id, state); err != nil {
		return err
	}
	return h.Store.SaveVersions(ctx, id, s.versions.VersionHistory(true))
}

// =============================================================================
// LOAN HANDLERS
// =============================================================================

// ListLoans returns all loan ids.
// GET /api/loans
func (h *Handler) ListLoans(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Store.ListLoanIDs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list loans", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"loans": ids})
}

// CreateLoan originates a loan and runs the initial reconciliation.
// POST /api/loans
func (h *Handler) CreateLoan(w http.ResponseWriter, r *http.Request) {
	var req CreateLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Principal <= 0 {
		writeError(w, http.StatusBadRequest, "principal must be positive", nil)
		return
	}
	if req.TermMonths <= 0 {
		writeError(w, http.StatusBadRequest, "term_months must be positive", nil)
		return
	}
	startDate, err := core.ParseDate(req.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_date", err)
		return
	}
	calendar, err := parseCalendar(req.Calendar)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid calendar", err)
		return
	}
	model, err := parseBillingModel(req.BillingModel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid billing_model", err)
		return
	}

	terms := amortization.LoanTerms{
		Principal:      core.NewMoney(req.Principal),
		OriginationFee: core.NewMoney(req.OriginationFee),
		AnnualRate:     decimal.NewFromFloat(req.AnnualRate),
		TermMonths:     req.TermMonths,
		StartDate:      startDate,
		Calendar:       calendar,
		MonthlyFee:     core.NewMoney(req.MonthlyFee),
		BillingModel:   model,
	}

	lp := engine.New(terms)
	if req.Strategy != "" {
		strategy, err := parseStrategy(req.Strategy)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid strategy", err)
			return
		}
		lp.Strategy = strategy
	}
	if req.CurrentDate != "" {
		current, err := core.ParseDate(req.CurrentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid current_date", err)
			return
		}
		lp.CurrentDate = current
	}
	if req.AutoCloseEnabled {
		lp.AutoCloseEnabled = true
		lp.AutoCloseThreshold = core.NewMoney(req.AutoCloseThreshold)
	}

	id := req.ID
	if id == "" {
		id = lp.IDs.NewID()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.loans[id]; exists {
		writeError(w, http.StatusConflict, "Loan already exists", nil)
		return
	}

	result, err := lp.Calc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}

	session := &loanSession{engine: lp, versions: versioning.NewVersionManager(core.UUIDGenerator{})}
	if err := session.commit("loan created"); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record version", err)
		return
	}
	if err := h.persist(r.Context(), id, session); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to persist loan", err)
		return
	}
	h.loans[id] = session

	writeJSON(w, http.StatusCreated, toLoanDTO(id, lp, result))
}

// GetLoan returns the loan summary and payoff quote.
// GET /api/loans/{id}
func (h *Handler) GetLoan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session := h.session(id)
	if session == nil {
		writeError(w, http.StatusNotFound, "Loan not found", nil)
		return
	}

	h.mu.Lock() // summary and quote write through their caches
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, toLoanDTO(id, session.engine, engine.ConvergenceResult{Status: engine.ConvergenceStable}))
}

// =============================================================================
// DEPOSIT HANDLERS
// =============================================================================

// CreateDeposit records a payment and re-reconciles the loan.
// POST /api/loans/{id}/deposits
func (h *Handler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CreateDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}
	effective, err := core.ParseDate(req.EffectiveDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_date", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	session := h.loans[id]
	if session == nil {
		writeError(w, http.StatusNotFound, "Loan not found", nil)
		return
	}
	lp := session.engine

	depositID := req.ID
	if depositID == "" {
		depositID = lp.IDs.NewID()
	}
	deposit := billing.NewDepositRecord(depositID, core.NewMoney(req.Amount), effective)

	if req.Kind != "" {
		kind, err := parseDepositKind(req.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid kind", err)
			return
		}
		deposit.Kind = kind
	}
	if req.ClearingDate != "" {
		clearing, err := core.ParseDate(req.ClearingDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid clearing_date", err)
			return
		}
		deposit.ClearingDate = clearing
	}
	deposit.ApplyExcessToPrincipal = req.ApplyExcessToPrincipal
	deposit.ApplyExcessAtTheEndOfThePeriod = req.ApplyExcessAtTheEndOfThePeriod
	if req.ExcessAppliedDate != "" {
		applied, err := core.ParseDate(req.ExcessAppliedDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid excess_applied_date", err)
			return
		}
		deposit.ExcessAppliedDate = applied
	}
	if req.StaticAllocation != nil {
		deposit.StaticAllocation = &billing.StaticAllocation{
			Principal:  core.NewMoney(req.StaticAllocation.Principal),
			Interest:   core.NewMoney(req.StaticAllocation.Interest),
			Fees:       core.NewMoney(req.StaticAllocation.Fees),
			Prepayment: core.NewMoney(req.StaticAllocation.Prepayment),
		}
	}
	deposit.RefundBalanceImpacting = req.RefundBalanceImpacting

	if err := lp.AddDeposit(deposit); err != nil {
		writeError(w, statusForError(err), "Invalid deposit", err)
		return
	}

	result, err := lp.Calc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}

	if err := session.commit("deposit " + depositID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record version", err)
		return
	}
	if err := h.persist(r.Context(), id, session); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to persist loan", err)
		return
	}

	writeJSON(w, http.StatusCreated, toLoanDTO(id, lp, result))
}

// =============================================================================
// RECALCULATION
// =============================================================================

// Recalculate re-runs the convergence loop, optionally moving the
// observation date first.
// POST /api/loans/{id}/calc
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CalcRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	session := h.loans[id]
	if session == nil {
		writeError(w, http.StatusNotFound, "Loan not found", nil)
		return
	}
	lp := session.engine

	if req.CurrentDate != "" {
		current, err := core.ParseDate(req.CurrentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid current_date", err)
			return
		}
		lp.CurrentDate = current
	}

	result, err := lp.Calc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}

	message := req.Message
	if message == "" {
		message = "recalculated"
	}
	if err := session.commit(message); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record version", err)
		return
	}
	if err := h.persist(r.Context(), id, session); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to persist loan", err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanDTO(id, lp, result))
}

// =============================================================================
// READ MODELS
// =============================================================================

// GetBills returns the bill list.
// GET /api/loans/{id}/bills
func (h *Handler) GetBills(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session := h.session(id)
	if session == nil {
		writeError(w, http.StatusNotFound, "Loan not found", nil)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	writeJSON(w, http.StatusOK, BillsDTO{
		VersionID: session.engine.Bills.VersionID(),
		Bills:     session.engine.Bills.All(),
	})
}

// GetSummary returns the aggregate bill summary.
// GET /api/loans/{id}/summary
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session := h.session(id)
	if session == nil {
		writeError(w, http.StatusNotFound, "Loan not found", nil)
		return
	}

	h.mu.Lock() // summary writes through its cache
	defer h.mu.Unlock()
	lp := session.engine
	writeJSON(w, http.StatusOK, lp.Bills.Summary(lp.CurrentDate))
}

// GetPayoff returns the payoff quote as of the observation date.
// GET /api/loans/{id}/payoff
func (h *Handler) GetPayoff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session := h.session(id)
	if session == nil {
		writeError(w, http.StatusNotFound, "Loan not found", nil)
		return
	}

	h.mu.Lock() // quote writes through its cache
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, session.engine.PayoffQuote())
}

// =============================================================================
// VERSIONING
// =============================================================================

// ListVersions returns the version ledger, newest last.
// GET /api/loans/{id}/versions?include_deleted=true
func (h *Handler) ListVersions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session := h.session(id)
	if session == nil {
		writeError(w, http.StatusNotFound, "Loan not found", nil)
		return
	}

	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	h.mu.RLock()
	defer h.mu.RUnlock()

	versions := session.versions.VersionHistory(includeDeleted)
	dtos := make([]VersionDTO, len(versions))
	for i, v := range versions {
		dtos[i] = VersionDTO{
			VersionID:     v.VersionID,
			Timestamp:     v.Timestamp.UTC().Format(time.RFC3339),
			Message:       v.Message,
			IsRollback:    v.IsRollback,
			RollbackOf:    v.RollbackOf,
			IsDeleted:     v.IsDeleted,
			InputChanges:  v.InputChanges,
			OutputChanges: v.OutputChanges,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": dtos})
}

// RollbackVersion restores a prior version's snapshot and re-reconciles.
// POST /api/loans/{id}/versions/{versionID}/rollback
func (h *Handler) RollbackVersion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	versionID := chi.URLParam(r, "versionID")

	h.mu.Lock()
	defer h.mu.Unlock()

	session := h.loans[id]
	if session == nil {
		writeError(w, http.StatusNotFound, "Loan not found", nil)
		return
	}

	rollback, err := session.versions.Rollback(versionID)
	if err != nil {
		writeError(w, statusForError(err), "Rollback failed", err)
		return
	}

	lp := session.engine
	if err := lp.RestoreSnapshot(rollback.Snapshot); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to restore snapshot", err)
		return
	}
	result, err := lp.Calc()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Reconciliation failed", err)
		return
	}

	if err := h.persist(r.Context(), id, session); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to persist loan", err)
		return
	}

	writeJSON(w, http.StatusOK, toLoanDTO(id, lp, result))
}

// =============================================================================
// HELPERS
// =============================================================================

func toLoanDTO(id string, lp *engine.LendPeak, result engine.ConvergenceResult) LoanDTO {
	return LoanDTO{
		ID:          id,
		CurrentDate: lp.CurrentDate.String(),
		Strategy:    lp.Strategy.String(),
		Convergence: result,
		Summary:     lp.Bills.Summary(lp.CurrentDate),
		Payoff:      lp.PayoffQuote(),
	}
}

func parseCalendar(s string) (core.Calendar, error) {
	if s == "" {
		return core.CalendarActual365, nil
	}
	switch core.Calendar(s) {
	case core.CalendarActual365, core.CalendarActual360, core.CalendarThirty360:
		return core.Calendar(s), nil
	default:
		return "", fmt.Errorf("unknown calendar %q", s)
	}
}

func parseBillingModel(s string) (amortization.BillingModel, error) {
	switch s {
	case "":
		return amortization.BillingAmortized, nil
	case string(amortization.BillingAmortized), string(amortization.BillingDSI):
		return amortization.BillingModel(s), nil
	default:
		return "", fmt.Errorf("unknown billing model %q", s)
	}
}

func parseDepositKind(s string) (billing.DepositKind, error) {
	switch billing.DepositKind(s) {
	case billing.DepositKindNormal, billing.DepositKindAdhocRefund, billing.DepositKindAutoClose:
		return billing.DepositKind(s), nil
	default:
		return "", fmt.Errorf("unknown deposit kind %q", s)
	}
}

func parseStrategy(s string) (payments.Strategy, error) {
	kind, err := payments.ParseStrategyKind(s)
	if err != nil {
		return payments.Strategy{}, err
	}
	return payments.NewStrategy(kind)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrVersionNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRollbackCurrentVersion):
		return http.StatusConflict
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, core.ErrStaticAllocationMismatch),
		errors.Is(err, core.ErrUnknownStrategy),
		errors.Is(err, core.ErrMissingPriorityComponent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
