/*
Package billing holds the obligation side (Bill, Bills) and the cash side
(DepositRecord, UsageDetail) of the reconciliation engine.

PURPOSE:
  Bills are derived wholesale from the amortization plan: one bill per
  schedule entry, carrying both the remaining due amounts (reduced as
  payments allocate) and the originally-due amounts (for audit and for
  DSI savings math). Deposits record cash received and, as the payment
  engine consumes them, an append-style usage ledger of exactly where
  every cent went.

CRITICAL INVARIANTS:
  1. principalDue + interestDue + feesDue == totalDue, never negative
  2. A paid bill is immutable except for wholesale re-derivation
  3. A usage detail that allocates zero everywhere is rejected
  4. A static allocation's components must sum to the deposit amount

SEE ALSO:
  - payments: the only writer of bill dues and deposit usage details
  - amortization: the schedule bills are derived from
*/
package billing

import (
	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/core"
)

// =============================================================================
// BILL - One billing period's obligation
// =============================================================================

// PaymentMetadata back-references every deposit that touched the bill.
type PaymentMetadata struct {
	DepositIDs []string `json:"depositIds,omitempty"`
}

// BillPaymentDetail is one deposit's contribution to one bill, merged
// per deposit/bill pair.
type BillPaymentDetail struct {
	DepositID          string         `json:"depositId"`
	AllocatedPrincipal core.Money     `json:"allocatedPrincipal"`
	AllocatedInterest  core.Money     `json:"allocatedInterest"`
	AllocatedFees      core.Money     `json:"allocatedFees"`
	Date               core.DatePoint `json:"date"`
}

type Bill struct {
	ID     string `json:"id"`
	Period int    `json:"period"`

	OpenDate    core.DatePoint `json:"openDate"`
	DueDate     core.DatePoint `json:"dueDate"`
	PeriodStart core.DatePoint `json:"periodStart"`
	PeriodEnd   core.DatePoint `json:"periodEnd"`

	// Remaining dues, reduced by allocation. Never negative.
	PrincipalDue core.Money `json:"principalDue"`
	InterestDue  core.Money `json:"interestDue"`
	FeesDue      core.Money `json:"feesDue"`

	// Originally-due amounts from the schedule, untouched by payments.
	OriginalPrincipalDue core.Money `json:"originalPrincipalDue"`
	OriginalInterestDue  core.Money `json:"originalInterestDue"`
	OriginalFeesDue      core.Money `json:"originalFeesDue"`

	BillingModel amortization.BillingModel `json:"billingModel"`

	PaymentMetadata PaymentMetadata     `json:"paymentMetadata"`
	PaymentDetails  []BillPaymentDetail `json:"paymentDetails,omitempty"`

	SatisfiedDate core.DatePoint `json:"satisfiedDate"`
	DaysLate      int            `json:"daysLate"`
	DaysEarly     int            `json:"daysEarly"`
}

// NewBillFromEntry derives a bill from one schedule entry.
func NewBillFromEntry(id string, entry *amortization.ScheduleEntry) *Bill {
	return &Bill{
		ID:                   id,
		Period:               entry.Term,
		OpenDate:             entry.OpenDate,
		DueDate:              entry.DueDate,
		PeriodStart:          entry.PeriodStart,
		PeriodEnd:            entry.PeriodEnd,
		PrincipalDue:         entry.PrincipalDue,
		InterestDue:          entry.InterestDue,
		FeesDue:              entry.FeesDue,
		OriginalPrincipalDue: entry.PrincipalDue,
		OriginalInterestDue:  entry.InterestDue,
		OriginalFeesDue:      entry.FeesDue,
		BillingModel:         entry.BillingModel,
	}
}

func (b *Bill) TotalDue() core.Money {
	return b.PrincipalDue.Add(b.InterestDue).Add(b.FeesDue)
}

func (b *Bill) OriginalTotalDue() core.Money {
	return b.OriginalPrincipalDue.Add(b.OriginalInterestDue).Add(b.OriginalFeesDue)
}

// AllocatedTotal is what has been paid toward this bill so far.
func (b *Bill) AllocatedTotal() core.Money {
	total := core.ZeroMoney()
	for _, d := range b.PaymentDetails {
		total = total.Add(d.AllocatedPrincipal).Add(d.AllocatedInterest).Add(d.AllocatedFees)
	}
	return total
}

func (b *Bill) AllocatedInterest() core.Money {
	total := core.ZeroMoney()
	for _, d := range b.PaymentDetails {
		total = total.Add(d.AllocatedInterest)
	}
	return total
}

func (b *Bill) IsPaid() bool { return b.TotalDue().IsZero() }

// IsOpen reports whether the bill's billable window has started.
func (b *Bill) IsOpen(currentDate core.DatePoint) bool {
	return b.OpenDate.BeforeOrEqual(currentDate)
}

func (b *Bill) IsPastDue(currentDate core.DatePoint) bool {
	return currentDate.After(b.DueDate) && !b.IsPaid()
}

func (b *Bill) DaysPastDue(currentDate core.DatePoint) int {
	if !b.IsPastDue(currentDate) {
		return 0
	}
	return core.ActualDaysBetween(b.DueDate, currentDate)
}

// AddDepositID back-references a deposit into the bill's metadata,
// idempotently.
func (b *Bill) AddDepositID(depositID string) {
	for _, id := range b.PaymentMetadata.DepositIDs {
		if id == depositID {
			return
		}
	}
	b.PaymentMetadata.DepositIDs = append(b.PaymentMetadata.DepositIDs, depositID)
}

// MergePaymentDetail accumulates an allocation into the bill's payment
// detail for the deposit, keeping one detail per deposit/bill pair.
func (b *Bill) MergePaymentDetail(detail BillPaymentDetail) {
	for i := range b.PaymentDetails {
		if b.PaymentDetails[i].DepositID == detail.DepositID {
			b.PaymentDetails[i].AllocatedPrincipal = b.PaymentDetails[i].AllocatedPrincipal.Add(detail.AllocatedPrincipal)
			b.PaymentDetails[i].AllocatedInterest = b.PaymentDetails[i].AllocatedInterest.Add(detail.AllocatedInterest)
			b.PaymentDetails[i].AllocatedFees = b.PaymentDetails[i].AllocatedFees.Add(detail.AllocatedFees)
			b.PaymentDetails[i].Date = detail.Date
			return
		}
	}
	b.PaymentDetails = append(b.PaymentDetails, detail)
}

// MarkSatisfiedIfPaid records the satisfaction date and the late/early
// day counts the first time the bill reaches zero due.
func (b *Bill) MarkSatisfiedIfPaid(paymentDate core.DatePoint) {
	if !b.IsPaid() || !b.SatisfiedDate.IsZero() {
		return
	}
	b.SatisfiedDate = paymentDate
	delta := core.ActualDaysBetween(b.DueDate, paymentDate)
	if delta > 0 {
		b.DaysLate = delta
	} else if delta < 0 {
		b.DaysEarly = -delta
	}
}
