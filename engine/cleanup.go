/*
cleanup.go - Balance-modification lifecycle management

PURPOSE:
  System-generated balance modifications are derived state: they encode
  what SOME past allocation pass concluded, and a recalculation can
  invalidate every one of them. The cleanup pass therefore drops them
  all and lets the pipeline rebuild the ones that still apply. Manual
  modifications are operator input and survive, subject to hygiene: at
  most one per deposit id (latest wins), and none pointing at deposits
  that are inactive, missing, or dated in the future.
*/
package engine

import (
	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/billing"
	"github.com/warp/loan-engine/core"
)

func (lp *LendPeak) cleanupBalanceModifications() {
	bms := lp.Amortization.BalanceModifications

	// 1. System modifications are dropped outright; they are rebuilt by
	// the allocation pass from first principles.
	removed := bms.RemoveWhere(func(m *amortization.BalanceModification) bool {
		return m.IsSystemModification
	})
	removedIDs := make(map[string]bool, len(removed))
	for _, m := range removed {
		removedIDs[m.ID] = true
	}

	// Detach deposit references and usage ledger lines pointing at the
	// removed modifications.
	for _, d := range lp.Deposits.All() {
		if removedIDs[d.BalanceModificationID] {
			d.BalanceModificationID = ""
		}
		if len(d.UsageDetails) == 0 {
			continue
		}
		kept := d.UsageDetails[:0]
		for _, ud := range d.UsageDetails {
			if ud.BalanceModification != nil && removedIDs[ud.BalanceModification.ID] {
				continue
			}
			kept = append(kept, ud)
		}
		d.UsageDetails = kept
	}

	// 2. De-duplicate manual modifications to one per deposit id. The
	// collection is date-sorted, so the last seen entry is the latest.
	latestPerDeposit := make(map[string]*amortization.BalanceModification)
	for _, m := range bms.All() {
		if m.DepositID != "" {
			latestPerDeposit[m.DepositID] = m
		}
	}
	bms.RemoveWhere(func(m *amortization.BalanceModification) bool {
		return m.DepositID != "" && latestPerDeposit[m.DepositID] != m
	})

	// 3. Drop manual modifications whose deposit is gone, inactive, or
	// not yet effective.
	bms.RemoveWhere(func(m *amortization.BalanceModification) bool {
		if m.DepositID == "" {
			return false
		}
		d := lp.Deposits.ByID(m.DepositID)
		return d == nil || !d.Active || d.EffectiveDate.After(lp.CurrentDate)
	})

	// 4. Rebuild one system add-back per balance-impacting ad-hoc
	// refund that is still in play.
	for _, r := range lp.Deposits.AdhocRefunds(lp.CurrentDate) {
		if !r.RefundBalanceImpacting {
			continue
		}
		mod := &amortization.BalanceModification{
			ID:                   lp.IDs.NewID(),
			Amount:               r.Amount,
			Date:                 r.EffectiveDate,
			Type:                 amortization.BalanceIncrease,
			IsSystemModification: true,
			DepositID:            r.ID,
			Description:          "ad-hoc refund added back to principal",
		}
		bms.Add(mod)
		r.BalanceModificationID = mod.ID
	}

	lp.Deposits.Touch()
}

// reattachRefundUsage restores the ledger row linking each
// balance-impacting refund to its system modification. It runs after
// the final pipeline pass because clearHistory wipes these rows.
func (lp *LendPeak) reattachRefundUsage() {
	touched := false
	for _, r := range lp.Deposits.AdhocRefunds(lp.CurrentDate) {
		if !r.RefundBalanceImpacting {
			continue
		}
		mod := lp.Amortization.BalanceModifications.SystemModForDeposit(r.ID)
		if mod == nil {
			continue
		}
		detail := &billing.UsageDetail{
			Period:             -1,
			AllocatedPrincipal: r.Amount,
			AllocatedInterest:  core.ZeroMoney(),
			AllocatedFees:      core.ZeroMoney(),
			Date:               r.EffectiveDate,
			DSIInterestSavings: core.ZeroMoney(),
			DSIInterestPenalty: core.ZeroMoney(),
		}
		if err := detail.LinkBalanceModification(mod); err != nil {
			continue
		}
		if err := r.AddUsageDetail(detail); err == nil {
			r.BalanceModificationID = mod.ID
			touched = true
		}
	}
	if touched {
		lp.Deposits.Touch()
	}
}
