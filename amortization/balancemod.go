/*
Package amortization implements the schedule collaborator consumed by the
reconciliation engine: repayment plan calculation, schedule fingerprints,
balance modifications, and the DSI payment-history store.

PURPOSE:
  The engine treats the amortization plan as the contractual truth: one
  entry per billing period with the projected principal/interest/fees
  split. Balance modifications (extra-payment paydowns, refund
  add-backs) are spliced into the plan at their effective date, and the
  plan exposes a fingerprint (VersionID + DateChanged) that changes only
  when a recalculation actually produced a different schedule. The
  orchestrator's convergence loop keys off that fingerprint.

KEY CONCEPTS:
  - LoanTerms: immutable contract inputs (principal, fee, rate, term)
  - ScheduleEntry: one period's projection plus DSI actual fields
  - BalanceModification: a dated, signed principal adjustment
  - DSIPayment: per-term actual payment history for daily-simple-interest

SEE ALSO:
  - billing: derives one Bill per ScheduleEntry
  - payments: writes DSI actuals back through UpdateDSIPaymentHistory
*/
package amortization

import (
	"sort"

	"github.com/warp/loan-engine/core"
)

// =============================================================================
// BALANCE MODIFICATION - Dated principal adjustment
// =============================================================================

type BalanceModificationType string

const (
	BalanceDecrease BalanceModificationType = "decrease"
	BalanceIncrease BalanceModificationType = "increase"
)

// BalanceModification is a principal delta applied to the schedule at a
// specific date. System modifications are synthesized by the engine
// (excess payments, balance-impacting refunds) and are rebuilt on every
// recalculation; manual modifications are entered by operators and
// survive recalculation.
type BalanceModification struct {
	ID                   string                  `json:"id"`
	Amount               core.Money              `json:"amount"` // magnitude, always >= 0
	Date                 core.DatePoint          `json:"date"`
	Type                 BalanceModificationType `json:"type"`
	IsSystemModification bool                    `json:"isSystemModification"`
	DepositID            string                  `json:"depositId,omitempty"` // originating deposit, empty for manual entries
	Description          string                  `json:"description,omitempty"`
}

// SignedAmount returns the delta as applied to outstanding principal:
// decreases are negative.
func (bm *BalanceModification) SignedAmount() core.Money {
	if bm.Type == BalanceDecrease {
		return bm.Amount.Neg()
	}
	return bm.Amount
}

// =============================================================================
// BALANCE MODIFICATIONS - Ordered collection
// =============================================================================

type BalanceModifications struct {
	mods []*BalanceModification
}

func NewBalanceModifications() *BalanceModifications {
	return &BalanceModifications{}
}

func (bms *BalanceModifications) All() []*BalanceModification {
	out := make([]*BalanceModification, len(bms.mods))
	copy(out, bms.mods)
	return out
}

func (bms *BalanceModifications) Len() int { return len(bms.mods) }

func (bms *BalanceModifications) Add(mod *BalanceModification) {
	bms.mods = append(bms.mods, mod)
	bms.sort()
}

// Remove deletes a manual modification by id. System modifications are
// owned by the recalculation pass and are refused here; they come and go
// through RemoveWhere during cleanup.
func (bms *BalanceModifications) Remove(id string) bool {
	for i, m := range bms.mods {
		if m.ID == id {
			if m.IsSystemModification {
				return false
			}
			bms.mods = append(bms.mods[:i], bms.mods[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveWhere drops every modification matching the predicate and
// returns the removed entries.
func (bms *BalanceModifications) RemoveWhere(pred func(*BalanceModification) bool) []*BalanceModification {
	var kept, removed []*BalanceModification
	for _, m := range bms.mods {
		if pred(m) {
			removed = append(removed, m)
		} else {
			kept = append(kept, m)
		}
	}
	bms.mods = kept
	return removed
}

func (bms *BalanceModifications) ByID(id string) *BalanceModification {
	for _, m := range bms.mods {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// SystemModForDeposit finds the system modification created for a
// deposit. At most one exists per deposit id.
func (bms *BalanceModifications) SystemModForDeposit(depositID string) *BalanceModification {
	for _, m := range bms.mods {
		if m.IsSystemModification && m.DepositID == depositID {
			return m
		}
	}
	return nil
}

func (bms *BalanceModifications) sort() {
	sort.SliceStable(bms.mods, func(i, j int) bool {
		return bms.mods[i].Date.Before(bms.mods[j].Date)
	})
}
