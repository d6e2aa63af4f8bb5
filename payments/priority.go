/*
Package payments allocates deposits across open bills.

PURPOSE:
  This is the cash-application half of the reconciliation engine. A
  pluggable strategy picks the bill order, a component priority picks
  the order within a bill (interest, fees, principal by default), and
  the allocation helper records the double-sided ledger: a UsageDetail
  on the deposit and a BillPaymentDetail on the bill for every
  deposit/bill pair touched.

KEY CONCEPTS:
  - PaymentPriority: closed ordering over the three bill components
  - Strategy: closed enum over {FIFO, LIFO, EqualDistribution,
    CustomOrder}; the custom variant carries its comparator
  - Excess-to-principal: leftover cash becomes a system balance
    modification, clamped so principal never goes negative
  - DSI: daily-simple-interest bills re-price their interest from the
    actual outstanding balance and actual elapsed days before cash is
    applied

CONSERVATION INVARIANT:
  For every applied deposit:
    totalAllocated + unallocatedAmount == deposit.amount
  exactly, across every strategy. Nothing rounds away.
*/
package payments

import "github.com/warp/loan-engine/core"

// =============================================================================
// PAYMENT PRIORITY - Component ordering within one bill
// =============================================================================

type Component string

const (
	ComponentInterest  Component = "interest"
	ComponentFees      Component = "fees"
	ComponentPrincipal Component = "principal"
)

// PaymentPriority is the order components are satisfied in. It must
// contain interest, fees, and principal exactly once.
type PaymentPriority []Component

func DefaultPaymentPriority() PaymentPriority {
	return PaymentPriority{ComponentInterest, ComponentFees, ComponentPrincipal}
}

// Validate fails fast at construction time; allocation never starts
// with a malformed priority.
func (p PaymentPriority) Validate() error {
	if len(p) != 3 {
		return core.ErrMissingPriorityComponent
	}
	seen := map[Component]bool{}
	for _, c := range p {
		switch c {
		case ComponentInterest, ComponentFees, ComponentPrincipal:
			if seen[c] {
				return core.ErrMissingPriorityComponent
			}
			seen[c] = true
		default:
			return core.ErrMissingPriorityComponent
		}
	}
	return nil
}
