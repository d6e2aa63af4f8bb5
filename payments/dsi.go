/*
dsi.go - Daily-simple-interest actual-balance recalculation

PURPOSE:
  DSI bills do not owe their projected interest; they owe interest on
  the actual outstanding balance for the actual days elapsed. Before
  cash touches a DSI bill, the engine re-prices its interest from the
  previous payment date (or period start for a term's first payment)
  to this payment's effective date.

THE CASCADE:
  Term t's actual start balance is term t-1's actual end balance. The
  fallback chain when t-1 has no payment history: an unpaid prior DSI
  term carries its start balance forward unchanged, and with no actual
  history at all the projected start balance is used. The cascade is
  recomputed from scratch on every pass - earlier terms change
  retroactively, so per-term caching here would serve stale balances.
*/
package payments

import (
	"github.com/shopspring/decimal"
	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/billing"
	"github.com/warp/loan-engine/core"
)

// dsiContext carries one payment's re-pricing against one DSI bill.
type dsiContext struct {
	entry           *amortization.ScheduleEntry
	termStart       core.Money
	chargedInterest core.Money
}

// prepareDSIBill re-targets a DSI bill's remaining interest to the
// actual accrual before allocation. Returns nil for amortized bills.
// Idempotent per (deposit, bill) within one ApplyDeposit.
func (pa *PaymentApplication) prepareDSIBill(d *billing.DepositRecord, bill *billing.Bill) *dsiContext {
	entry := pa.Schedule.EntryForTerm(bill.Period)
	if entry == nil || entry.BillingModel != amortization.BillingDSI {
		return nil
	}
	if pa.dsiPrepared == nil {
		pa.dsiPrepared = make(map[string]*dsiContext)
	}
	key := d.ID + "|" + bill.ID
	if ctx, ok := pa.dsiPrepared[key]; ok {
		return ctx
	}

	termStart := pa.actualDSIStartBalance(bill.Period)

	// The balance interest accrues on, and the accrual window start.
	base := termStart
	from := entry.PeriodStart
	sameTermHistory, hasSameTerm := pa.Schedule.DSIPaymentHistory(bill.Period)
	if hasSameTerm {
		base = sameTermHistory.ActualEndBalance
		from = sameTermHistory.PaymentDate
	} else if bill.Period > 0 {
		if prev, ok := pa.Schedule.DSIPaymentHistory(bill.Period - 1); ok {
			from = prev.PaymentDate
		}
	}

	days := entry.Calendar.DaysBetween(from, d.EffectiveDate)
	if days < 0 {
		days = 0
	}
	daily := entry.Calendar.DailyRate(pa.Schedule.Terms.AnnualRate, d.EffectiveDate.Year())
	charged := base.Mul(daily).Mul(decimal.NewFromInt(int64(days))).RoundCents()

	if hasSameTerm {
		// Incremental accrual since the previous payment this term.
		bill.InterestDue = bill.InterestDue.Add(charged)
	} else {
		// First payment this term: replace the projected interest with
		// the actual accrual, net of anything already applied.
		already := bill.AllocatedInterest()
		retargeted := charged.Sub(already)
		if retargeted.IsNegative() {
			retargeted = core.ZeroMoney()
		}
		bill.InterestDue = retargeted
	}

	ctx := &dsiContext{entry: entry, termStart: termStart, chargedInterest: charged}
	pa.dsiPrepared[key] = ctx
	return ctx
}

// finalizeDSIAllocation folds this payment into the term's actual
// history and rewrites the schedule entry's actual fields.
func (pa *PaymentApplication) finalizeDSIAllocation(d *billing.DepositRecord, bill *billing.Bill, ctx *dsiContext, alloc PaymentAllocation) {
	h, had := pa.Schedule.DSIPaymentHistory(bill.Period)
	if !had {
		h = amortization.DSIPayment{
			Term:               bill.Period,
			ActualStartBalance: ctx.termStart,
			ActualInterest:     core.ZeroMoney(),
			ActualPrincipal:    core.ZeroMoney(),
			ActualFees:         core.ZeroMoney(),
		}
	}
	h.PaymentDate = d.EffectiveDate
	h.ActualInterest = h.ActualInterest.Add(ctx.chargedInterest)
	h.ActualPrincipal = h.ActualPrincipal.Add(alloc.AllocatedPrincipal)
	h.ActualFees = h.ActualFees.Add(alloc.AllocatedFees)
	h.ActualEndBalance = ctx.termStart.Sub(h.ActualPrincipal)
	pa.Schedule.UpdateDSIPaymentHistory(h)

	entry := ctx.entry
	prevSavings := entry.DSIInterestSavings
	prevPenalty := entry.DSIInterestPenalty

	entry.HasDSIActuals = true
	entry.ActualDSIStartBalance = ctx.termStart
	entry.ActualDSIEndBalance = h.ActualEndBalance
	entry.ActualDSIPrincipal = h.ActualPrincipal
	entry.ActualDSIInterest = h.ActualInterest
	entry.ActualDSIFees = h.ActualFees

	diff := entry.InterestDue.Sub(h.ActualInterest) // projected vs actual
	if diff.IsNegative() {
		entry.DSIInterestSavings = core.ZeroMoney()
		entry.DSIInterestPenalty = diff.Neg()
	} else {
		entry.DSIInterestSavings = diff
		entry.DSIInterestPenalty = core.ZeroMoney()
	}

	// Attribute the delta to this payment's ledger line.
	if ud := d.UsageDetailForBill(bill.ID); ud != nil {
		ud.DSIInterestSavings = ud.DSIInterestSavings.Add(entry.DSIInterestSavings.Sub(prevSavings))
		ud.DSIInterestPenalty = ud.DSIInterestPenalty.Add(entry.DSIInterestPenalty.Sub(prevPenalty))
	}
}

// actualDSIStartBalance resolves the cascade for a term: previous
// term's actual end balance, falling back through unpaid carry-forward
// to the projected start balance.
func (pa *PaymentApplication) actualDSIStartBalance(term int) core.Money {
	entry := pa.Schedule.EntryForTerm(term)
	if entry == nil {
		return core.ZeroMoney()
	}
	if term == 0 {
		return entry.StartBalance
	}
	if h, ok := pa.Schedule.DSIPaymentHistory(term - 1); ok {
		return h.ActualEndBalance
	}
	prev := pa.Schedule.EntryForTerm(term - 1)
	if prev != nil && prev.BillingModel == amortization.BillingDSI {
		if prevBill := pa.Bills.ByPeriod(term - 1); prevBill != nil && !prevBill.IsPaid() {
			return pa.actualDSIStartBalance(term - 1)
		}
	}
	return entry.StartBalance
}

// HandleUnpaidDSIBills settles DSI bills that are due and wholly unpaid
// at the observation date: the start balance carries forward unchanged
// as the end balance, and the entire expected interest for the period
// becomes penalty interest with zero savings.
func (pa *PaymentApplication) HandleUnpaidDSIBills(currentDate core.DatePoint) {
	for _, bill := range pa.Bills.All() {
		if bill.IsPaid() || !currentDate.After(bill.DueDate) {
			continue
		}
		entry := pa.Schedule.EntryForTerm(bill.Period)
		if entry == nil || entry.BillingModel != amortization.BillingDSI {
			continue
		}
		if _, ok := pa.Schedule.DSIPaymentHistory(bill.Period); ok {
			// Partially paid: actuals already recorded for this term.
			continue
		}
		start := pa.actualDSIStartBalance(bill.Period)
		entry.HasDSIActuals = true
		entry.ActualDSIStartBalance = start
		entry.ActualDSIEndBalance = start
		entry.ActualDSIPrincipal = core.ZeroMoney()
		entry.ActualDSIInterest = core.ZeroMoney()
		entry.ActualDSIFees = core.ZeroMoney()
		entry.DSIInterestSavings = core.ZeroMoney()
		entry.DSIInterestPenalty = entry.InterestDue
	}
}
