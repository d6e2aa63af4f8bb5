package payments

import (
	"github.com/shopspring/decimal"
	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/billing"
	"github.com/warp/loan-engine/core"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// PaymentAllocation is the outcome for one bill.
type PaymentAllocation struct {
	BillID             string     `json:"billId"`
	Period             int        `json:"period"`
	AllocatedPrincipal core.Money `json:"allocatedPrincipal"`
	AllocatedInterest  core.Money `json:"allocatedInterest"`
	AllocatedFees      core.Money `json:"allocatedFees"`
}

func (a PaymentAllocation) Total() core.Money {
	return a.AllocatedPrincipal.Add(a.AllocatedInterest).Add(a.AllocatedFees)
}

// PaymentApplicationResult is the outcome of applying one deposit.
// TotalAllocated + UnallocatedAmount == deposit amount, exactly.
type PaymentApplicationResult struct {
	DepositID         string              `json:"depositId"`
	Allocations       []PaymentAllocation `json:"allocations"`
	TotalAllocated    core.Money          `json:"totalAllocated"`
	UnallocatedAmount core.Money          `json:"unallocatedAmount"`
	ExcessAmount      core.Money          `json:"excessAmount"`
}

// =============================================================================
// PAYMENT APPLICATION
// =============================================================================

type PaymentApplication struct {
	Schedule *amortization.Schedule
	Bills    *billing.Bills
	Deposits *billing.DepositRecords

	Strategy Strategy
	Priority PaymentPriority

	IDs core.IDGenerator

	// dsiPrepared de-duplicates DSI re-pricing per (deposit, bill)
	// within one ApplyDeposit call.
	dsiPrepared map[string]*dsiContext
}

// NewPaymentApplication validates the priority up front; a malformed
// priority never reaches allocation.
func NewPaymentApplication(schedule *amortization.Schedule, bills *billing.Bills, deposits *billing.DepositRecords, strategy Strategy, priority PaymentPriority, ids core.IDGenerator) (*PaymentApplication, error) {
	if priority == nil {
		priority = DefaultPaymentPriority()
	}
	if err := priority.Validate(); err != nil {
		return nil, err
	}
	if ids == nil {
		ids = core.UUIDGenerator{}
	}
	return &PaymentApplication{
		Schedule: schedule,
		Bills:    bills,
		Deposits: deposits,
		Strategy: strategy,
		Priority: priority,
		IDs:      ids,
	}, nil
}

// ProcessDeposits applies every active, non-refund deposit whose
// effective date is not in the future, in effective-date order, then
// settles unpaid-but-due DSI bills.
func (pa *PaymentApplication) ProcessDeposits(currentDate core.DatePoint) ([]*PaymentApplicationResult, error) {
	var results []*PaymentApplicationResult
	for _, d := range pa.Deposits.Allocatable(currentDate) {
		res, err := pa.ApplyDeposit(currentDate, d)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	pa.HandleUnpaidDSIBills(currentDate)
	return results, nil
}

// ApplyDeposit allocates one deposit across eligible bills per the
// configured strategy and component priority.
func (pa *PaymentApplication) ApplyDeposit(currentDate core.DatePoint, d *billing.DepositRecord) (*PaymentApplicationResult, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	pa.dsiPrepared = make(map[string]*dsiContext)

	result := &PaymentApplicationResult{
		DepositID:         d.ID,
		TotalAllocated:    core.ZeroMoney(),
		UnallocatedAmount: core.ZeroMoney(),
		ExcessAmount:      core.ZeroMoney(),
	}

	eligible := pa.eligibleBills(currentDate, d)
	pa.Strategy.order(eligible)

	var leftover core.Money
	if d.StaticAllocation != nil && pa.Strategy.Kind == StrategyFIFO {
		leftover = pa.applyStaticAllocation(currentDate, d, eligible, result)
	} else if pa.Strategy.Kind == StrategyEqualDistribution {
		leftover = pa.applyEqualDistribution(currentDate, d, eligible, result)
	} else {
		leftover = pa.applyOrdered(currentDate, d, eligible, result)
	}

	if leftover.IsPositive() && d.ApplyExcessToPrincipal {
		applied := pa.applyExcessToPrincipal(d, leftover, currentDate)
		result.ExcessAmount = applied
		leftover = leftover.Sub(applied)
	}

	d.UnusedAmount = leftover
	result.UnallocatedAmount = leftover
	result.TotalAllocated = d.Amount.Sub(leftover)

	pa.Bills.Touch()
	pa.Deposits.Touch()
	return result, nil
}

// eligibleBills returns open, unpaid bills for the deposit. A deposit
// sweeping excess to principal only pays bills opened on or before its
// excess cutoff date.
func (pa *PaymentApplication) eligibleBills(currentDate core.DatePoint, d *billing.DepositRecord) []*billing.Bill {
	cutoff := currentDate
	if d.ApplyExcessToPrincipal {
		cutoff = d.ExcessCutoffDate().Earliest(currentDate)
	}
	var out []*billing.Bill
	for _, b := range pa.Bills.All() {
		if b.IsPaid() || !b.IsOpen(cutoff) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// applyOrdered walks bills in strategy order, draining the deposit.
func (pa *PaymentApplication) applyOrdered(currentDate core.DatePoint, d *billing.DepositRecord, bills []*billing.Bill, result *PaymentApplicationResult) core.Money {
	remaining := d.Amount
	for _, bill := range bills {
		if !remaining.IsPositive() {
			break
		}
		alloc, used := pa.allocateToBill(d, bill, remaining)
		remaining = remaining.Sub(used)
		if used.IsPositive() {
			result.Allocations = append(result.Allocations, alloc)
		}
	}
	return remaining
}

// applyEqualDistribution splits the deposit into amount/n shares, one
// per eligible bill, truncated at cents. The rounding remainder is
// reported as unallocated, never silently dropped.
func (pa *PaymentApplication) applyEqualDistribution(currentDate core.DatePoint, d *billing.DepositRecord, bills []*billing.Bill, result *PaymentApplicationResult) core.Money {
	if len(bills) == 0 {
		return d.Amount
	}
	share := d.Amount.Div(decimal.NewFromInt(int64(len(bills)))).RoundDown(2)
	remaining := d.Amount
	for _, bill := range bills {
		budget := share.Min(remaining)
		if !budget.IsPositive() {
			break
		}
		alloc, used := pa.allocateToBill(d, bill, budget)
		remaining = remaining.Sub(used)
		if used.IsPositive() {
			result.Allocations = append(result.Allocations, alloc)
		}
	}
	return remaining
}

// applyStaticAllocation distributes each fixed component independently
// across bills, oldest first. The prepayment component goes straight to
// the excess path.
func (pa *PaymentApplication) applyStaticAllocation(currentDate core.DatePoint, d *billing.DepositRecord, bills []*billing.Bill, result *PaymentApplicationResult) core.Money {
	sa := *d.StaticAllocation
	pools := map[Component]core.Money{
		ComponentInterest:  sa.Interest,
		ComponentFees:      sa.Fees,
		ComponentPrincipal: sa.Principal,
	}

	allocs := make(map[string]*PaymentAllocation)
	for _, comp := range []Component{ComponentInterest, ComponentFees, ComponentPrincipal} {
		pool := pools[comp]
		for _, bill := range bills {
			if !pool.IsPositive() {
				break
			}
			pa.prepareDSIBill(d, bill)
			take := pool.Min(billComponentDue(bill, comp))
			if !take.IsPositive() {
				continue
			}
			reduceBillComponent(bill, comp, take)
			pa.recordAllocation(d, bill, componentAmounts(comp, take))
			pool = pool.Sub(take)

			a, ok := allocs[bill.ID]
			if !ok {
				a = &PaymentAllocation{BillID: bill.ID, Period: bill.Period,
					AllocatedPrincipal: core.ZeroMoney(), AllocatedInterest: core.ZeroMoney(), AllocatedFees: core.ZeroMoney()}
				allocs[bill.ID] = a
			}
			addComponent(a, comp, take)
		}
		pools[comp] = pool
	}

	for _, bill := range bills {
		if a, ok := allocs[bill.ID]; ok {
			result.Allocations = append(result.Allocations, *a)
			bill.MarkSatisfiedIfPaid(d.EffectiveDate)
		}
	}

	// Unspent component pools plus the prepayment component remain for
	// the excess path (or the unused amount).
	return pools[ComponentInterest].Add(pools[ComponentFees]).Add(pools[ComponentPrincipal]).Add(sa.Prepayment)
}

// =============================================================================
// PER-BILL ALLOCATION
// =============================================================================

// allocateToBill walks the component priority, taking
// min(remaining, dueForComponent) at each step. It reduces the bill's
// dues, records one merged UsageDetail and one merged BillPaymentDetail
// for the deposit/bill pair, and back-references the deposit id into
// the bill's payment metadata.
func (pa *PaymentApplication) allocateToBill(d *billing.DepositRecord, bill *billing.Bill, budget core.Money) (PaymentAllocation, core.Money) {
	dsi := pa.prepareDSIBill(d, bill)

	alloc := PaymentAllocation{
		BillID: bill.ID, Period: bill.Period,
		AllocatedPrincipal: core.ZeroMoney(),
		AllocatedInterest:  core.ZeroMoney(),
		AllocatedFees:      core.ZeroMoney(),
	}
	remaining := budget
	for _, comp := range pa.Priority {
		if !remaining.IsPositive() {
			break
		}
		take := remaining.Min(billComponentDue(bill, comp))
		if !take.IsPositive() {
			continue
		}
		reduceBillComponent(bill, comp, take)
		addComponent(&alloc, comp, take)
		remaining = remaining.Sub(take)
	}

	used := budget.Sub(remaining)
	if used.IsPositive() {
		pa.recordAllocation(d, bill, alloc)
		bill.MarkSatisfiedIfPaid(d.EffectiveDate)
		if dsi != nil {
			pa.finalizeDSIAllocation(d, bill, dsi, alloc)
		}
	}
	return alloc, used
}

// recordAllocation writes the two ledger sides for a deposit/bill pair.
func (pa *PaymentApplication) recordAllocation(d *billing.DepositRecord, bill *billing.Bill, alloc PaymentAllocation) {
	detail := &billing.UsageDetail{
		BillID:             bill.ID,
		Period:             bill.Period,
		AllocatedPrincipal: alloc.AllocatedPrincipal,
		AllocatedInterest:  alloc.AllocatedInterest,
		AllocatedFees:      alloc.AllocatedFees,
		Date:               d.EffectiveDate,
		DSIInterestSavings: core.ZeroMoney(),
		DSIInterestPenalty: core.ZeroMoney(),
	}
	// An all-zero detail is ledger noise; AddUsageDetail logs and drops it.
	_ = d.AddUsageDetail(detail)

	bill.MergePaymentDetail(billing.BillPaymentDetail{
		DepositID:          d.ID,
		AllocatedPrincipal: alloc.AllocatedPrincipal,
		AllocatedInterest:  alloc.AllocatedInterest,
		AllocatedFees:      alloc.AllocatedFees,
		Date:               d.EffectiveDate,
	})
	bill.AddDepositID(d.ID)
}

// =============================================================================
// COMPONENT HELPERS
// =============================================================================

func billComponentDue(b *billing.Bill, c Component) core.Money {
	switch c {
	case ComponentInterest:
		return b.InterestDue
	case ComponentFees:
		return b.FeesDue
	default:
		return b.PrincipalDue
	}
}

func reduceBillComponent(b *billing.Bill, c Component, amount core.Money) {
	switch c {
	case ComponentInterest:
		b.InterestDue = b.InterestDue.Sub(amount)
	case ComponentFees:
		b.FeesDue = b.FeesDue.Sub(amount)
	default:
		b.PrincipalDue = b.PrincipalDue.Sub(amount)
	}
}

func addComponent(a *PaymentAllocation, c Component, amount core.Money) {
	switch c {
	case ComponentInterest:
		a.AllocatedInterest = a.AllocatedInterest.Add(amount)
	case ComponentFees:
		a.AllocatedFees = a.AllocatedFees.Add(amount)
	default:
		a.AllocatedPrincipal = a.AllocatedPrincipal.Add(amount)
	}
}

func componentAmounts(c Component, amount core.Money) PaymentAllocation {
	a := PaymentAllocation{
		AllocatedPrincipal: core.ZeroMoney(),
		AllocatedInterest:  core.ZeroMoney(),
		AllocatedFees:      core.ZeroMoney(),
	}
	addComponent(&a, c, amount)
	return a
}
