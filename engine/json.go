package engine

import (
	"encoding/json"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/billing"
	"github.com/warp/loan-engine/core"
	"github.com/warp/loan-engine/payments"
)

// =============================================================================
// JSON ROUND-TRIP - Full and compact forms
// =============================================================================

// lendPeakJSON is the wire form. The compact form carries only inputs
// (terms, modifications, deposits, settings); bills and the repayment
// schedule are derived state a Calc() rebuilds.
type lendPeakJSON struct {
	Terms                amortization.LoanTerms             `json:"terms"`
	BalanceModifications []*amortization.BalanceModification `json:"balanceModifications"`
	Deposits             *billing.DepositRecords            `json:"deposits"`
	CurrentDate          core.DatePoint                     `json:"currentDate"`
	Strategy             string                             `json:"strategy"`
	Priority             payments.PaymentPriority           `json:"paymentPriority"`
	AutoCloseEnabled     bool                               `json:"autoCloseEnabled"`
	AutoCloseThreshold   core.Money                         `json:"autoCloseThreshold"`

	// Full form only.
	Bills    *billing.Bills                `json:"bills,omitempty"`
	Schedule []*amortization.ScheduleEntry `json:"repaymentSchedule,omitempty"`
}

// ToJSON serializes the loan. Compact omits derived state.
func (lp *LendPeak) ToJSON(compact bool) ([]byte, error) {
	out := lendPeakJSON{
		Terms:                lp.Amortization.Terms,
		BalanceModifications: lp.Amortization.BalanceModifications.All(),
		Deposits:             lp.Deposits,
		CurrentDate:          lp.CurrentDate,
		Strategy:             lp.Strategy.String(),
		Priority:             lp.Priority,
		AutoCloseEnabled:     lp.AutoCloseEnabled,
		AutoCloseThreshold:   lp.AutoCloseThreshold,
	}
	if !compact {
		out.Bills = lp.Bills
		out.Schedule = lp.Amortization.RepaymentSchedule
	}
	return json.Marshal(out)
}

// FromJSON reconstructs an orchestrator. A custom_order strategy cannot
// carry its comparator over the wire and deserializes with the default
// due-date ordering; bills and the schedule (full form) are restored
// as-is but any Calc() rebuilds them.
func FromJSON(data []byte) (*LendPeak, error) {
	var raw lendPeakJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	kind, err := payments.ParseStrategyKind(raw.Strategy)
	if err != nil {
		return nil, err
	}
	strategy := payments.Strategy{Kind: kind}

	priority := raw.Priority
	if priority == nil {
		priority = payments.DefaultPaymentPriority()
	}
	if err := priority.Validate(); err != nil {
		return nil, err
	}

	lp := New(raw.Terms)
	lp.CurrentDate = raw.CurrentDate
	lp.Strategy = strategy
	lp.Priority = priority
	lp.AutoCloseEnabled = raw.AutoCloseEnabled
	lp.AutoCloseThreshold = raw.AutoCloseThreshold
	if raw.Deposits != nil {
		lp.Deposits = raw.Deposits
	}
	for _, mod := range raw.BalanceModifications {
		lp.Amortization.BalanceModifications.Add(mod)
	}
	if raw.Bills != nil {
		lp.Bills = raw.Bills
	}
	if raw.Schedule != nil {
		lp.Amortization.RepaymentSchedule = raw.Schedule
	}
	return lp, nil
}
