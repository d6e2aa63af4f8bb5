package billing

import (
	"log"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/core"
)

// =============================================================================
// DEPOSIT KINDS - Explicit tags instead of metadata bags
// =============================================================================

type DepositKind string

const (
	// DepositKindNormal: borrower cash applied to bills.
	DepositKindNormal DepositKind = "normal"

	// DepositKindAdhocRefund: money returned to the borrower. Skipped by
	// the allocation pipeline; when balance-impacting it raises the
	// outstanding principal via a system balance modification.
	DepositKindAdhocRefund DepositKind = "adhoc_refund"

	// DepositKindAutoClose: synthetic waiver deposit created by the
	// engine to zero a small remaining balance.
	DepositKindAutoClose DepositKind = "auto_close"
)

// =============================================================================
// STATIC ALLOCATION - Caller-fixed split
// =============================================================================

// StaticAllocation pins a deposit to a fixed component split. The
// components must sum exactly to the deposit amount.
type StaticAllocation struct {
	Principal  core.Money `json:"principal"`
	Interest   core.Money `json:"interest"`
	Fees       core.Money `json:"fees"`
	Prepayment core.Money `json:"prepayment"`
}

func (sa StaticAllocation) Total() core.Money {
	return sa.Principal.Add(sa.Interest).Add(sa.Fees).Add(sa.Prepayment)
}

// =============================================================================
// USAGE DETAIL - One ledger line of deposit consumption
// =============================================================================

// UsageDetail records how much of a deposit went to one bill's
// components, or to a balance modification (Period < 0, empty BillID).
type UsageDetail struct {
	BillID string `json:"billId,omitempty"`
	Period int    `json:"period"`

	AllocatedPrincipal core.Money `json:"allocatedPrincipal"`
	AllocatedInterest  core.Money `json:"allocatedInterest"`
	AllocatedFees      core.Money `json:"allocatedFees"`

	Date core.DatePoint `json:"date"`

	BalanceModification *amortization.BalanceModification `json:"balanceModification,omitempty"`

	DSIInterestSavings core.Money `json:"dsiInterestSavings"`
	DSIInterestPenalty core.Money `json:"dsiInterestPenalty"`
}

func (ud *UsageDetail) Total() core.Money {
	return ud.AllocatedPrincipal.Add(ud.AllocatedInterest).Add(ud.AllocatedFees)
}

func (ud *UsageDetail) isAllZero() bool {
	return ud.AllocatedPrincipal.IsZero() && ud.AllocatedInterest.IsZero() && ud.AllocatedFees.IsZero()
}

// LinkBalanceModification attaches a balance modification. Once linked,
// the detail can never be re-pointed at a different modification id.
func (ud *UsageDetail) LinkBalanceModification(mod *amortization.BalanceModification) error {
	if ud.BalanceModification != nil && ud.BalanceModification.ID != mod.ID {
		return core.ErrBalanceModificationMismatch
	}
	ud.BalanceModification = mod
	return nil
}

// =============================================================================
// DEPOSIT RECORD - One cash receipt
// =============================================================================

type DepositRecord struct {
	ID       string      `json:"id"`
	Kind     DepositKind `json:"kind"`
	Amount   core.Money  `json:"amount"`
	Currency string      `json:"currency"`

	EffectiveDate core.DatePoint `json:"effectiveDate"`
	ClearingDate  core.DatePoint `json:"clearingDate"`
	SystemDate    core.DatePoint `json:"systemDate"`

	Active bool `json:"active"`

	ApplyExcessToPrincipal         bool           `json:"applyExcessToPrincipal"`
	ExcessAppliedDate              core.DatePoint `json:"excessAppliedDate"`
	ApplyExcessAtTheEndOfThePeriod bool           `json:"applyExcessAtTheEndOfThePeriod"`

	StaticAllocation *StaticAllocation `json:"staticAllocation,omitempty"`

	UsageDetails []*UsageDetail `json:"usageDetails,omitempty"`
	UnusedAmount core.Money     `json:"unusedAmount"`

	// BalanceModificationID links the system modification created from
	// this deposit's excess (or refund impact).
	BalanceModificationID string `json:"balanceModificationId,omitempty"`

	// RefundBalanceImpacting applies to ad-hoc refunds only: when set,
	// the refunded amount is added back to outstanding principal.
	RefundBalanceImpacting bool `json:"refundBalanceImpacting,omitempty"`
}

func NewDepositRecord(id string, amount core.Money, effectiveDate core.DatePoint) *DepositRecord {
	return &DepositRecord{
		ID:            id,
		Kind:          DepositKindNormal,
		Amount:        amount,
		Currency:      amount.Currency(),
		EffectiveDate: effectiveDate,
		SystemDate:    effectiveDate,
		Active:        true,
		UnusedAmount:  core.ZeroMoney(),
	}
}

// Validate checks construction-time invariants. A static allocation
// whose components do not sum to the deposit amount aborts immediately.
func (d *DepositRecord) Validate() error {
	if d.StaticAllocation != nil {
		total := d.StaticAllocation.Total()
		if !total.Equal(d.Amount) {
			return &core.StaticAllocationError{DepositID: d.ID, Expected: d.Amount, Actual: total}
		}
	}
	return nil
}

// ExcessCutoffDate is the date used both to restrict eligible bills and
// to place the excess balance modification: the later of the effective
// date and the explicit excess-applied date.
func (d *DepositRecord) ExcessCutoffDate() core.DatePoint {
	if d.ExcessAppliedDate.IsZero() {
		return d.EffectiveDate
	}
	return d.EffectiveDate.Latest(d.ExcessAppliedDate)
}

// AddUsageDetail appends (or merges, per bill) a ledger line. All-zero
// allocations are consistency noise: logged and dropped, not an error
// the caller must handle.
func (d *DepositRecord) AddUsageDetail(detail *UsageDetail) error {
	if detail.isAllZero() && detail.BalanceModification == nil {
		log.Printf("billing: ignoring all-zero usage detail for deposit %s bill %s", d.ID, detail.BillID)
		return core.ErrZeroUsageDetail
	}
	if detail.BillID != "" {
		for _, existing := range d.UsageDetails {
			if existing.BillID == detail.BillID {
				existing.AllocatedPrincipal = existing.AllocatedPrincipal.Add(detail.AllocatedPrincipal)
				existing.AllocatedInterest = existing.AllocatedInterest.Add(detail.AllocatedInterest)
				existing.AllocatedFees = existing.AllocatedFees.Add(detail.AllocatedFees)
				existing.Date = detail.Date
				existing.DSIInterestSavings = existing.DSIInterestSavings.Add(detail.DSIInterestSavings)
				existing.DSIInterestPenalty = existing.DSIInterestPenalty.Add(detail.DSIInterestPenalty)
				return nil
			}
		}
	}
	d.UsageDetails = append(d.UsageDetails, detail)
	return nil
}

// UsageDetailForBill returns the merged detail for a bill, or nil.
func (d *DepositRecord) UsageDetailForBill(billID string) *UsageDetail {
	for _, ud := range d.UsageDetails {
		if ud.BillID == billID {
			return ud
		}
	}
	return nil
}

// TotalAllocated sums every ledger line, balance-modification lines
// included.
func (d *DepositRecord) TotalAllocated() core.Money {
	total := core.ZeroMoney()
	for _, ud := range d.UsageDetails {
		total = total.Add(ud.Total())
	}
	return total
}

// ClearHistory resets usage details, the unused amount, and the balance
// modification link. The pipeline calls this before every
// payment-application pass so replays are idempotent.
func (d *DepositRecord) ClearHistory() {
	d.UsageDetails = nil
	d.UnusedAmount = core.ZeroMoney()
	d.BalanceModificationID = ""
}
