/*
autoclose.go - Waiver synthesis for small residual balances

PURPOSE:
  After real cash is applied, a loan can be left owing a few cents (or a
  few dollars) of rounding residue. When the remainder is positive but
  at or below the configured threshold, the engine synthesizes a waiver
  deposit for exactly that remainder so the loan closes clean.

PROTOCOL:
  1. Deactivate every existing waiver deposit.
  2. Run one payment pass to discover the TRUE remainder - a stale
     waiver must never mask real balance.
  3. If 0 < remainder <= threshold: reactivate an existing waiver whose
     amount already matches, otherwise create a fresh one.
  4. Run a second pass so the waiver actually applies.
*/
package engine

import "github.com/warp/loan-engine/billing"

func (lp *LendPeak) runAutoClose() error {
	waivers := lp.Deposits.AutoCloseDeposits()
	for _, w := range waivers {
		w.Active = false
	}
	if err := lp.runPaymentPipeline(); err != nil {
		return err
	}

	remainder := lp.computePayoff().DueTotal
	if !remainder.IsPositive() || remainder.GreaterThan(lp.AutoCloseThreshold) {
		return nil
	}

	reactivated := false
	for _, w := range waivers {
		if w.Amount.Equal(remainder) && !reactivated {
			w.Active = true
			reactivated = true
		}
	}
	if !reactivated {
		waiver := billing.NewDepositRecord(lp.IDs.NewID(), remainder, lp.CurrentDate)
		waiver.Kind = billing.DepositKindAutoClose
		if err := lp.Deposits.Add(waiver); err != nil {
			return err
		}
	} else {
		lp.Deposits.Touch()
	}

	return lp.runPaymentPipeline()
}
