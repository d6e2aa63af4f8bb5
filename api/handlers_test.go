/*
handlers_test.go - HTTP-level tests for the loan API

Tests for:
- Loan origination and validation
- Deposit recording and reconciliation
- Version ledger and rollback
- Rehydration from the store
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/store/sqlite"
)

func newTestAPI(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	h := NewHandler(store)
	return h, NewRouter(h)
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// zeroRateLoanRequest: $1,200 interest-free over 12 months, observed
// mid-March so three bills are open.
func zeroRateLoanRequest(id string) CreateLoanRequest {
	return CreateLoanRequest{
		ID:          id,
		Principal:   1200,
		AnnualRate:  0,
		TermMonths:  12,
		StartDate:   "2022-01-01",
		CurrentDate: "2022-03-15",
	}
}

// =============================================================================
// LOAN ORIGINATION
// =============================================================================

func TestCreateLoan_OriginatesAndReconciles(t *testing.T) {
	_, router := newTestAPI(t)

	rec := doJSON(t, router, http.MethodPost, "/api/loans", zeroRateLoanRequest("loan-1"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	dto := decode[LoanDTO](t, rec)
	assert.Equal(t, "loan-1", dto.ID)
	assert.Equal(t, "fifo", dto.Strategy)
	assert.Equal(t, "2022-03-15", dto.CurrentDate)
	assert.True(t, dto.Convergence.Stable())
	assert.Equal(t, 12, dto.Summary.TotalCount)
	assert.Equal(t, "1200.00", dto.Payoff.DuePrincipal.String())

	// The loan is listed and fetchable.
	rec = doJSON(t, router, http.MethodGet, "/api/loans", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]string](t, rec)
	assert.Equal(t, []string{"loan-1"}, list["loans"])

	rec = doJSON(t, router, http.MethodGet, "/api/loans/loan-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateLoan_Validation(t *testing.T) {
	_, router := newTestAPI(t)

	bad := zeroRateLoanRequest("loan-1")
	bad.Principal = 0
	rec := doJSON(t, router, http.MethodPost, "/api/loans", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad = zeroRateLoanRequest("loan-1")
	bad.StartDate = "January 1st"
	rec = doJSON(t, router, http.MethodPost, "/api/loans", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad = zeroRateLoanRequest("loan-1")
	bad.Strategy = "round_robin"
	rec = doJSON(t, router, http.MethodPost, "/api/loans", bad)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Duplicate id conflicts.
	rec = doJSON(t, router, http.MethodPost, "/api/loans", zeroRateLoanRequest("loan-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/api/loans", zeroRateLoanRequest("loan-1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetLoan_NotFound(t *testing.T) {
	_, router := newTestAPI(t)

	rec := doJSON(t, router, http.MethodGet, "/api/loans/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Loan not found", resp.Error)
}

// =============================================================================
// DEPOSITS
// =============================================================================

func TestCreateDeposit_ReconcilesLoan(t *testing.T) {
	_, router := newTestAPI(t)
	rec := doJSON(t, router, http.MethodPost, "/api/loans", zeroRateLoanRequest("loan-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/loans/loan-1/deposits", CreateDepositRequest{
		ID:            "dep-1",
		Amount:        300,
		EffectiveDate: "2022-03-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	dto := decode[LoanDTO](t, rec)
	assert.Equal(t, 3, dto.Summary.PaidCount)
	assert.Equal(t, "900.00", dto.Payoff.DuePrincipal.String())

	rec = doJSON(t, router, http.MethodGet, "/api/loans/loan-1/bills", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	bills := decode[BillsDTO](t, rec)
	assert.Len(t, bills.Bills, 12)
}

func TestCreateDeposit_Validation(t *testing.T) {
	_, router := newTestAPI(t)
	rec := doJSON(t, router, http.MethodPost, "/api/loans", zeroRateLoanRequest("loan-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/loans/loan-1/deposits", CreateDepositRequest{
		Amount:        -5,
		EffectiveDate: "2022-03-01",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/loans/nope/deposits", CreateDepositRequest{
		Amount:        100,
		EffectiveDate: "2022-03-01",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// RECALCULATION
// =============================================================================

func TestRecalculate_MovesObservationDate(t *testing.T) {
	_, router := newTestAPI(t)
	rec := doJSON(t, router, http.MethodPost, "/api/loans", zeroRateLoanRequest("loan-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/loans/loan-1/calc", CalcRequest{
		CurrentDate: "2022-06-15",
		Message:     "month-end close",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	dto := decode[LoanDTO](t, rec)
	assert.Equal(t, "2022-06-15", dto.CurrentDate)
	// Three more bills came due with no cash against them.
	assert.Equal(t, 6, dto.Summary.OpenCount)
}

// =============================================================================
// VERSION LEDGER
// =============================================================================

type versionList struct {
	Versions []VersionDTO `json:"versions"`
}

func TestVersions_LedgerAndRollback(t *testing.T) {
	// GIVEN: a loan with one deposit (two committed versions)
	// WHEN: rolling back to the origination version
	// THEN: a rollback version is appended and the deposit's effect is
	//       gone from the read models

	_, router := newTestAPI(t)
	rec := doJSON(t, router, http.MethodPost, "/api/loans", zeroRateLoanRequest("loan-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/api/loans/loan-1/deposits", CreateDepositRequest{
		ID: "dep-1", Amount: 300, EffectiveDate: "2022-03-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/loans/loan-1/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ledger := decode[versionList](t, rec)
	require.Len(t, ledger.Versions, 2)
	assert.Equal(t, "loan created", ledger.Versions[0].Message)
	assert.Equal(t, "deposit dep-1", ledger.Versions[1].Message)
	originID := ledger.Versions[0].VersionID

	rec = doJSON(t, router, http.MethodPost, "/api/loans/loan-1/versions/"+originID+"/rollback", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decode[LoanDTO](t, rec)
	assert.Equal(t, 0, dto.Summary.PaidCount)

	rec = doJSON(t, router, http.MethodGet, "/api/loans/loan-1/versions", nil)
	ledger = decode[versionList](t, rec)
	require.Len(t, ledger.Versions, 3)
	assert.True(t, ledger.Versions[2].IsRollback)
	assert.Equal(t, originID, ledger.Versions[2].RollbackOf)
}

func TestRollback_ErrorMapping(t *testing.T) {
	_, router := newTestAPI(t)
	rec := doJSON(t, router, http.MethodPost, "/api/loans", zeroRateLoanRequest("loan-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/loans/loan-1/versions", nil)
	ledger := decode[versionList](t, rec)
	require.Len(t, ledger.Versions, 1)
	current := ledger.Versions[0].VersionID

	// Rolling back to the current version is a conflict.
	rec = doJSON(t, router, http.MethodPost, "/api/loans/loan-1/versions/"+current+"/rollback", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unknown versions are not found.
	rec = doJSON(t, router, http.MethodPost, "/api/loans/loan-1/versions/v-missing/rollback", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// REHYDRATION
// =============================================================================

func TestLoadLoans_RehydratesFromStore(t *testing.T) {
	// GIVEN: a loan and deposit persisted through one handler
	// WHEN: a fresh handler loads from the same store
	// THEN: read models and the version ledger survive the restart

	h, router := newTestAPI(t)
	rec := doJSON(t, router, http.MethodPost, "/api/loans", zeroRateLoanRequest("loan-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, router, http.MethodPost, "/api/loans/loan-1/deposits", CreateDepositRequest{
		ID: "dep-1", Amount: 300, EffectiveDate: "2022-03-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	restarted := NewHandler(h.Store)
	require.NoError(t, restarted.LoadLoans(context.Background()))
	router2 := NewRouter(restarted)

	rec = doJSON(t, router2, http.MethodGet, "/api/loans/loan-1/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router2, http.MethodPost, "/api/loans/loan-1/calc", CalcRequest{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dto := decode[LoanDTO](t, rec)
	assert.Equal(t, 3, dto.Summary.PaidCount)

	rec = doJSON(t, router2, http.MethodGet, "/api/loans/loan-1/versions", nil)
	ledger := decode[versionList](t, rec)
	require.Len(t, ledger.Versions, 3, "two persisted commits plus the post-restart recalculation")
}
