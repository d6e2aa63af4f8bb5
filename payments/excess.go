/*
excess.go - Excess-to-principal handling for non-DSI flows

PURPOSE:
  A deposit flagged applyExcessToPrincipal sweeps whatever is left after
  bill allocation into a dated system balance modification. The sweep is
  clamped to the remaining principal so a pay-off sized payment can
  never drive the balance negative, and exactly one modification exists
  per deposit id: re-runs mutate the existing record in place instead of
  stacking duplicates.

  The schedule and downstream bills are NOT regenerated here. The
  orchestrator's convergence loop re-runs the whole pipeline after the
  modification lands, which is what keeps the pass idempotent.
*/
package payments

import (
	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/billing"
	"github.com/warp/loan-engine/core"
)

// applyExcessToPrincipal converts leftover deposit cash into a system
// balance modification. Returns the amount actually applied.
func (pa *PaymentApplication) applyExcessToPrincipal(d *billing.DepositRecord, excess core.Money, currentDate core.DatePoint) core.Money {
	existing := pa.Schedule.BalanceModifications.SystemModForDeposit(d.ID)

	// The clamp: unpaid bill principal plus this deposit's own earlier
	// modification (already baked into the schedule, so the raw unpaid
	// figure under-counts by exactly that amount).
	limit := pa.unpaidPrincipal()
	if existing != nil {
		limit = limit.Add(existing.Amount)
	}
	applied := excess.Min(limit)
	if !applied.IsPositive() {
		return core.ZeroMoney()
	}

	date := pa.determineBalanceModificationDate(d, currentDate)

	mod := existing
	if mod == nil {
		mod = &amortization.BalanceModification{
			ID:                   pa.IDs.NewID(),
			Type:                 amortization.BalanceDecrease,
			IsSystemModification: true,
			DepositID:            d.ID,
			Description:          "excess payment applied to principal",
		}
		mod.Amount = applied
		mod.Date = date
		pa.Schedule.BalanceModifications.Add(mod)
	} else {
		mod.Amount = applied
		mod.Date = date
	}

	d.BalanceModificationID = mod.ID

	detail := &billing.UsageDetail{
		Period:             -1,
		AllocatedPrincipal: applied,
		AllocatedInterest:  core.ZeroMoney(),
		AllocatedFees:      core.ZeroMoney(),
		Date:               date,
		DSIInterestSavings: core.ZeroMoney(),
		DSIInterestPenalty: core.ZeroMoney(),
	}
	if err := detail.LinkBalanceModification(mod); err == nil {
		_ = d.AddUsageDetail(detail)
	}

	return applied
}

// unpaidPrincipal sums the remaining principal across every bill.
func (pa *PaymentApplication) unpaidPrincipal() core.Money {
	total := core.ZeroMoney()
	for _, b := range pa.Bills.All() {
		total = total.Add(b.PrincipalDue)
	}
	return total
}

// determineBalanceModificationDate picks where the paydown lands on the
// schedule: the later of the deposit's effective date and its explicit
// excess-applied date, or the end of the currently open bill's period
// when the deposit defers excess to period end.
func (pa *PaymentApplication) determineBalanceModificationDate(d *billing.DepositRecord, currentDate core.DatePoint) core.DatePoint {
	if d.ApplyExcessAtTheEndOfThePeriod {
		open := pa.Bills.OpenBills(currentDate)
		if len(open) > 0 {
			latest := open[0].PeriodEnd
			for _, b := range open[1:] {
				latest = latest.Latest(b.PeriodEnd)
			}
			return latest
		}
	}
	return d.ExcessCutoffDate()
}
