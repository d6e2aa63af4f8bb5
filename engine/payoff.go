/*
payoff.go - Cached pay-off quote

PURPOSE:
  Answers "what would it cost to close this loan today". The quote is a
  pure function of the schedule, bills, and deposits, so it is cached on
  their combined fingerprint: if any versionId or dateChanged moved, the
  cache misses and the quote is recomputed. No explicit invalidation
  call exists on purpose - stale reads are only possible by mutating
  collections outside their setters, which callers must not do.
*/
package engine

import (
	"time"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/billing"
	"github.com/warp/loan-engine/core"
)

// PayoffQuote is the cost of closing the loan at the observation date.
type PayoffQuote struct {
	DuePrincipal core.Money `json:"duePrincipal"`
	DueInterest  core.Money `json:"dueInterest"`
	DueFees      core.Money `json:"dueFees"`
	DueTotal     core.Money `json:"dueTotal"`

	DSISavings core.Money `json:"dsiSavings"`
	DSIPenalty core.Money `json:"dsiPenalty"`

	AsOf core.DatePoint `json:"asOf"`
}

type payoffCacheKey struct {
	amortVersion    int64
	amortChanged    time.Time
	billsVersion    int64
	billsChanged    time.Time
	depositsVersion int64
	depositsChanged time.Time
	asOf            core.DatePoint
}

type payoffCacheEntry struct {
	key   payoffCacheKey
	quote PayoffQuote
}

func (lp *LendPeak) payoffKey() payoffCacheKey {
	return payoffCacheKey{
		amortVersion:    lp.Amortization.VersionID(),
		amortChanged:    lp.Amortization.DateChanged(),
		billsVersion:    lp.Bills.VersionID(),
		billsChanged:    lp.Bills.DateChanged(),
		depositsVersion: lp.Deposits.VersionID(),
		depositsChanged: lp.Deposits.DateChanged(),
		asOf:            lp.CurrentDate,
	}
}

// PayoffQuote returns the cached quote, recomputing on any fingerprint
// mismatch.
func (lp *LendPeak) PayoffQuote() PayoffQuote {
	key := lp.payoffKey()
	if lp.payoffCache != nil && lp.payoffCache.key == key {
		return lp.payoffCache.quote
	}
	q := lp.computePayoff()
	lp.payoffCache = &payoffCacheEntry{key: key, quote: q}
	return q
}

func (lp *LendPeak) computePayoff() PayoffQuote {
	asOf := lp.CurrentDate
	q := PayoffQuote{
		DuePrincipal: core.ZeroMoney(),
		DueInterest:  core.ZeroMoney(),
		DueFees:      core.ZeroMoney(),
		DueTotal:     core.ZeroMoney(),
		DSISavings:   core.ZeroMoney(),
		DSIPenalty:   core.ZeroMoney(),
		AsOf:         asOf,
	}

	hasDSI := false
	for _, e := range lp.Amortization.RepaymentSchedule {
		if e.BillingModel == amortization.BillingDSI {
			hasDSI = true
			q.DSISavings = q.DSISavings.Add(e.DSIInterestSavings)
			q.DSIPenalty = q.DSIPenalty.Add(e.DSIInterestPenalty)
		}
	}

	if hasDSI {
		lp.computeDSIPayoff(&q)
	} else {
		lp.computeAmortizedPayoff(&q, asOf)
	}

	q.DueTotal = q.DuePrincipal.Add(q.DueInterest).Add(q.DueFees)

	// "Paid off" vs "coincidentally balanced": with no open bills left
	// and unused funds covering the remaining principal, the loan is
	// only considered closed when an excess-to-principal deposit
	// actually existed to sweep those funds.
	if q.DuePrincipal.IsPositive() &&
		len(lp.Bills.OpenBills(asOf)) == 0 &&
		lp.Deposits.UnusedTotal().GreaterOrEqual(q.DuePrincipal) &&
		lp.Deposits.HasExcessToPrincipalDeposit() {
		q.DuePrincipal = core.ZeroMoney()
		q.DueInterest = core.ZeroMoney()
		q.DueFees = core.ZeroMoney()
		q.DueTotal = core.ZeroMoney()
	}

	return q
}

// computeAmortizedPayoff: all unpaid principal, plus unpaid
// interest/fees on bills already due, plus interest accrued so far in
// the current period net of what that period's bill has already
// collected (avoids double counting an early-paid current bill).
func (lp *LendPeak) computeAmortizedPayoff(q *PayoffQuote, asOf core.DatePoint) {
	var currentBill *billing.Bill
	if entry := lp.Amortization.EntryContaining(asOf); entry != nil {
		currentBill = lp.Bills.ByPeriod(entry.Term)
	}

	for _, b := range lp.Bills.All() {
		q.DuePrincipal = q.DuePrincipal.Add(b.PrincipalDue)
		if b.DueDate.BeforeOrEqual(asOf) {
			q.DueInterest = q.DueInterest.Add(b.InterestDue)
			q.DueFees = q.DueFees.Add(b.FeesDue)
		}
	}

	accrued := lp.Amortization.AccruedInterestByDate(asOf)
	if accrued.IsPositive() {
		if currentBill != nil {
			accrued = accrued.Sub(currentBill.AllocatedInterest())
		}
		if accrued.IsPositive() {
			q.DueInterest = q.DueInterest.Add(accrued)
		}
	}
	if currentBill != nil && currentBill.DueDate.After(asOf) {
		// Mid-period fees are owed in full at pay-off.
		q.DueFees = q.DueFees.Add(currentBill.FeesDue)
	}
}

// computeDSIPayoff: bills carry DSI-actual dues once a payment touched
// them (allocation re-prices interest in place), so remaining dues per
// bill are the actual splits minus amounts already paid; untouched
// bills fall back to their projected dues.
func (lp *LendPeak) computeDSIPayoff(q *PayoffQuote) {
	for _, b := range lp.Bills.All() {
		q.DuePrincipal = q.DuePrincipal.Add(b.PrincipalDue)
		q.DueInterest = q.DueInterest.Add(b.InterestDue)
		q.DueFees = q.DueFees.Add(b.FeesDue)
	}
}
