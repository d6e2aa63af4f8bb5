/*
Package engine owns the convergence loop that reconciles a loan's
amortization schedule, bills, and deposits into one consistent state.

PURPOSE:
  Schedule, bills, and payments can each invalidate the others: an
  excess payment creates a balance modification, which changes the
  schedule, which changes future bills, which changes how the next
  deposit allocates. Calc() replays the whole pipeline from scratch -
  cleanup, plan, bills, payments - until the schedule's fingerprint
  stops moving, or a fixed iteration guard trips. The guard tripping is
  an explicit, observable result, not a silent stop.

DETERMINISM:
  Every Calc() starts by discarding all system-generated balance
  modifications and every deposit's usage history, then rebuilds both.
  Two Calc() calls with no intervening edits land on identical bills,
  usage details, and pay-off quote.

MUTATION DISCIPLINE:
  Single-threaded by design. The orchestrator is the sole writer of
  balance modifications and deposit usage state during a pass; callers
  must serialize Calc() invocations per loan and must not mutate bills,
  deposits, or the schedule between iterations of one pass.
*/
package engine

import (
	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/billing"
	"github.com/warp/loan-engine/core"
	"github.com/warp/loan-engine/payments"
)

// MaxCalcIterations bounds the schedule/payment oscillation. Four passes
// cover the deepest known chain: allocate, paydown modification,
// schedule shrink, re-allocate.
const MaxCalcIterations = 4

// =============================================================================
// CONVERGENCE RESULT
// =============================================================================

type ConvergenceStatus string

const (
	ConvergenceStable        ConvergenceStatus = "stable"
	ConvergenceMaxIterations ConvergenceStatus = "max_iterations_reached"
)

// ConvergenceResult reports how Calc() ended. MaxIterations means the
// schedule was still moving when the guard tripped; callers should
// treat the resulting state as suspect.
type ConvergenceResult struct {
	Status     ConvergenceStatus `json:"status"`
	Iterations int               `json:"iterations"`
}

func (r ConvergenceResult) Stable() bool { return r.Status == ConvergenceStable }

// =============================================================================
// LENDPEAK - One loan's reconciliation orchestrator
// =============================================================================

type LendPeak struct {
	Amortization *amortization.Schedule
	Bills        *billing.Bills
	Deposits     *billing.DepositRecords

	// CurrentDate is the observation date every filter, quote, and
	// eligibility check is driven by.
	CurrentDate core.DatePoint

	Strategy payments.Strategy
	Priority payments.PaymentPriority

	AutoCloseEnabled   bool
	AutoCloseThreshold core.Money

	IDs core.IDGenerator

	payoffCache *payoffCacheEntry
}

// New builds an orchestrator with the engine defaults: FIFO allocation,
// interest-fees-principal priority, UUID ids, auto-close off.
func New(terms amortization.LoanTerms) *LendPeak {
	return &LendPeak{
		Amortization:       amortization.NewSchedule(terms),
		Bills:              billing.NewBills(),
		Deposits:           billing.NewDepositRecords(),
		CurrentDate:        core.Today(),
		Strategy:           payments.Strategy{Kind: payments.StrategyFIFO},
		Priority:           payments.DefaultPaymentPriority(),
		AutoCloseThreshold: core.ZeroMoney(),
		IDs:                core.UUIDGenerator{},
	}
}

// AddDeposit validates and registers a deposit.
func (lp *LendPeak) AddDeposit(d *billing.DepositRecord) error {
	return lp.Deposits.Add(d)
}

// Calc is the convergence loop. Sequence per pass:
//  1. clean up balance modifications (drop system mods, de-dupe manual
//     ones, rebuild refund add-backs)
//  2. recalculate the amortization plan, record its fingerprint
//  3. run the payment pipeline (clear histories, collect garbage,
//     regenerate bills, allocate every eligible deposit)
//  4. recalculate the plan; if the fingerprint moved, go again
//
// After convergence (or exhaustion) the auto-close pass may synthesize
// a waiver deposit, and balance-impacting refund ledger rows are
// re-attached last because the pipeline's clearHistory wipes them.
func (lp *LendPeak) Calc() (ConvergenceResult, error) {
	lp.cleanupBalanceModifications()

	result := ConvergenceResult{Status: ConvergenceMaxIterations}
	for i := 1; i <= MaxCalcIterations; i++ {
		lp.Amortization.CalculateAmortizationPlan()
		before := lp.Amortization.VersionID()

		if err := lp.runPaymentPipeline(); err != nil {
			return result, err
		}

		lp.Amortization.CalculateAmortizationPlan()
		result.Iterations = i
		if lp.Amortization.VersionID() == before {
			result.Status = ConvergenceStable
			break
		}
	}

	if lp.AutoCloseEnabled && lp.AutoCloseThreshold.IsPositive() {
		if err := lp.runAutoClose(); err != nil {
			return result, err
		}
	}

	lp.reattachRefundUsage()
	return result, nil
}

// runPaymentPipeline replays every deposit against freshly generated
// bills. Histories are cleared first so the replay is idempotent.
func (lp *LendPeak) runPaymentPipeline() error {
	for _, d := range lp.Deposits.All() {
		d.ClearHistory()
	}
	lp.Amortization.ResetDSIActuals()
	lp.Amortization.RunGarbageCollection()
	lp.Bills.Generate(lp.Amortization, lp.IDs)

	pa, err := payments.NewPaymentApplication(lp.Amortization, lp.Bills, lp.Deposits, lp.Strategy, lp.Priority, lp.IDs)
	if err != nil {
		return err
	}
	if _, err := pa.ProcessDeposits(lp.CurrentDate); err != nil {
		return err
	}
	lp.Deposits.Touch()
	return nil
}
