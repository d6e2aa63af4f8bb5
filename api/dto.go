/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Request bodies carry amounts as plain numbers and dates as "2006-01-02"
  strings. Responses reuse the domain JSON forms (money as
  {"value","currency"}, dates as "2006-01-02").

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - engine/json.go: The persisted loan document these DTOs summarize
*/
package api

import (
	"github.com/warp/loan-engine/billing"
	"github.com/warp/loan-engine/engine"
	"github.com/warp/loan-engine/versioning"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateLoanRequest is the request to originate a loan.
type CreateLoanRequest struct {
	ID             string  `json:"id,omitempty"`
	Principal      float64 `json:"principal"`
	OriginationFee float64 `json:"origination_fee,omitempty"`
	AnnualRate     float64 `json:"annual_rate"`
	TermMonths     int     `json:"term_months"`
	StartDate      string  `json:"start_date"`
	Calendar       string  `json:"calendar,omitempty"`
	MonthlyFee     float64 `json:"monthly_fee,omitempty"`
	BillingModel   string  `json:"billing_model,omitempty"`

	Strategy    string `json:"strategy,omitempty"`
	CurrentDate string `json:"current_date,omitempty"`

	AutoCloseEnabled   bool    `json:"auto_close_enabled,omitempty"`
	AutoCloseThreshold float64 `json:"auto_close_threshold,omitempty"`
}

// StaticAllocationRequest pins a deposit's split per component.
type StaticAllocationRequest struct {
	Principal  float64 `json:"principal"`
	Interest   float64 `json:"interest"`
	Fees       float64 `json:"fees"`
	Prepayment float64 `json:"prepayment"`
}

// CreateDepositRequest is the request to record a payment.
type CreateDepositRequest struct {
	ID            string  `json:"id,omitempty"`
	Amount        float64 `json:"amount"`
	EffectiveDate string  `json:"effective_date"`
	ClearingDate  string  `json:"clearing_date,omitempty"`
	Kind          string  `json:"kind,omitempty"`

	ApplyExcessToPrincipal         bool   `json:"apply_excess_to_principal,omitempty"`
	ExcessAppliedDate              string `json:"excess_applied_date,omitempty"`
	ApplyExcessAtTheEndOfThePeriod bool   `json:"apply_excess_at_end_of_period,omitempty"`

	StaticAllocation *StaticAllocationRequest `json:"static_allocation,omitempty"`

	RefundBalanceImpacting bool `json:"refund_balance_impacting,omitempty"`
}

// CalcRequest triggers a recalculation, optionally moving the
// observation date first.
type CalcRequest struct {
	CurrentDate string `json:"current_date,omitempty"`
	Message     string `json:"message,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// LoanDTO is the standard loan response after any mutation.
type LoanDTO struct {
	ID          string                   `json:"id"`
	CurrentDate string                   `json:"current_date"`
	Strategy    string                   `json:"strategy"`
	Convergence engine.ConvergenceResult `json:"convergence"`
	Summary     billing.Summary          `json:"summary"`
	Payoff      engine.PayoffQuote       `json:"payoff"`
}

// BillsDTO wraps the bill list with its collection version.
type BillsDTO struct {
	VersionID int64           `json:"version_id"`
	Bills     []*billing.Bill `json:"bills"`
}

// VersionDTO is one ledger entry without its (large) snapshot body.
type VersionDTO struct {
	VersionID     string                 `json:"version_id"`
	Timestamp     string                 `json:"timestamp"`
	Message       string                 `json:"message,omitempty"`
	IsRollback    bool                   `json:"is_rollback"`
	RollbackOf    string                 `json:"rollback_of,omitempty"`
	IsDeleted     bool                   `json:"is_deleted"`
	InputChanges  []versioning.DiffEntry `json:"input_changes,omitempty"`
	OutputChanges []versioning.DiffEntry `json:"output_changes,omitempty"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
