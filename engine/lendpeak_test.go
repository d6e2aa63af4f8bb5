package engine_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/billing"
	"github.com/warp/loan-engine/core"
	"github.com/warp/loan-engine/engine"
)

// =============================================================================
// TEST LOANS
// =============================================================================

// standardLoan: $19,500 financed with a $500 origination fee at 8.51%
// over 36 months, monthly payment 631.44.
func standardLoan(t *testing.T) *engine.LendPeak {
	t.Helper()
	lp := engine.New(amortization.LoanTerms{
		Principal:      core.NewMoney(19500),
		OriginationFee: core.NewMoney(500),
		AnnualRate:     decimal.RequireFromString("0.0851"),
		TermMonths:     36,
		StartDate:      core.NewDate(2022, time.June, 12),
		Calendar:       core.CalendarActual365,
	})
	lp.IDs = &core.SequenceGenerator{Prefix: "id"}
	return lp
}

// dsiEngineLoan: $10,000 at 12% over 6 months, daily simple interest,
// monthly payment 1725.48.
func dsiEngineLoan(t *testing.T) *engine.LendPeak {
	t.Helper()
	lp := engine.New(amortization.LoanTerms{
		Principal:    core.NewMoney(10000),
		AnnualRate:   decimal.RequireFromString("0.12"),
		TermMonths:   6,
		StartDate:    core.NewDate(2022, time.January, 1),
		Calendar:     core.CalendarActual365,
		BillingModel: amortization.BillingDSI,
	})
	lp.IDs = &core.SequenceGenerator{Prefix: "id"}
	return lp
}

// zeroRateLoan: $1,200 interest-free over 12 months, $100 per bill.
func zeroRateLoan(t *testing.T) *engine.LendPeak {
	t.Helper()
	lp := engine.New(amortization.LoanTerms{
		Principal:  core.NewMoney(1200),
		AnnualRate: decimal.Zero,
		TermMonths: 12,
		StartDate:  core.NewDate(2022, time.January, 1),
		Calendar:   core.CalendarActual365,
	})
	lp.IDs = &core.SequenceGenerator{Prefix: "id"}
	return lp
}

func addDeposit(t *testing.T, lp *engine.LendPeak, id string, amount float64, date core.DatePoint) *billing.DepositRecord {
	t.Helper()
	d := billing.NewDepositRecord(id, core.NewMoney(amount), date)
	require.NoError(t, lp.AddDeposit(d))
	return d
}

// =============================================================================
// CONVERGENCE
// =============================================================================

func TestCalc_PayoffSizedDeposit_ConvergesAndClosesLoan(t *testing.T) {
	// GIVEN: two on-time payments, then a pay-off sized deposit with
	//        excess-to-principal on the third due date
	// WHEN: Calc runs
	// THEN: the sweep shortens the plan to 4 periods, converges on the
	//       second pass, and the pay-off quote reads zero

	lp := standardLoan(t)
	lp.CurrentDate = core.NewDate(2022, time.September, 15)

	addDeposit(t, lp, "d1", 631.44, core.NewDate(2022, time.July, 12))
	addDeposit(t, lp, "d2", 631.44, core.NewDate(2022, time.August, 12))
	payoff := addDeposit(t, lp, "d3", 19521, core.NewDate(2022, time.September, 12))
	payoff.ApplyExcessToPrincipal = true

	result, err := lp.Calc()
	require.NoError(t, err)
	assert.True(t, result.Stable())
	assert.Equal(t, 2, result.Iterations)

	// The first pass creates the principal paydown, the second replays
	// against the shortened plan.
	require.Len(t, lp.Amortization.RepaymentSchedule, 4)
	mod := lp.Amortization.BalanceModifications.SystemModForDeposit("d3")
	require.NotNil(t, mod)
	assert.Equal(t, "18020.63", mod.Amount.String())
	assert.Equal(t, amortization.BalanceDecrease, mod.Type)

	last := lp.Amortization.RepaymentSchedule[3]
	assert.Equal(t, "500.10", last.StartBalance.String())
	assert.True(t, last.EndBalance.IsZero())

	for _, b := range lp.Bills.All() {
		assert.True(t, b.IsPaid(), "bill %d should be settled", b.Period)
	}
	assert.Equal(t, "365.28", payoff.UnusedAmount.String())

	quote := lp.PayoffQuote()
	assert.True(t, quote.DueTotal.IsZero())
	assert.True(t, quote.DuePrincipal.IsZero())
}

func TestCalc_ReplayIsIdempotent(t *testing.T) {
	// GIVEN: a loan reconciled once
	// WHEN: Calc runs again with no edits in between
	// THEN: bills, ledger lines, and the quote are identical

	lp := standardLoan(t)
	lp.CurrentDate = core.NewDate(2022, time.September, 15)
	addDeposit(t, lp, "d1", 631.44, core.NewDate(2022, time.July, 12))
	payoff := addDeposit(t, lp, "d3", 19521, core.NewDate(2022, time.September, 12))
	payoff.ApplyExcessToPrincipal = true

	first, err := lp.Calc()
	require.NoError(t, err)
	require.True(t, first.Stable())
	quote1 := lp.PayoffQuote()
	unused1 := payoff.UnusedAmount
	modCount1 := lp.Amortization.BalanceModifications.Len()

	second, err := lp.Calc()
	require.NoError(t, err)
	assert.True(t, second.Stable())

	assert.True(t, lp.PayoffQuote().DueTotal.Equal(quote1.DueTotal))
	assert.True(t, payoff.UnusedAmount.Equal(unused1))
	assert.Equal(t, modCount1, lp.Amortization.BalanceModifications.Len(),
		"replays must mutate the existing system modification, not stack a new one")
}

func TestCalc_NoDeposits_StabilizesImmediately(t *testing.T) {
	lp := standardLoan(t)
	lp.CurrentDate = core.NewDate(2022, time.July, 1)

	result, err := lp.Calc()
	require.NoError(t, err)
	assert.True(t, result.Stable())
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, 36, lp.Bills.Len())
}

// =============================================================================
// DSI RECONCILIATION
// =============================================================================

func TestCalc_DSIEarlyPayment_QuoteCarriesSavings(t *testing.T) {
	// GIVEN: a DSI loan paid in full for term 0 ten days early
	// WHEN: reconciled and quoted
	// THEN: the quote carries the 36.17 of interest never accrued

	lp := dsiEngineLoan(t)
	lp.CurrentDate = core.NewDate(2022, time.January, 25)
	// 1623.56 principal + 65.75 actual interest for 20 days.
	addDeposit(t, lp, "d1", 1689.31, core.NewDate(2022, time.January, 21))

	result, err := lp.Calc()
	require.NoError(t, err)
	assert.True(t, result.Stable())

	assert.True(t, lp.Bills.ByPeriod(0).IsPaid())
	entry := lp.Amortization.EntryForTerm(0)
	assert.Equal(t, "36.17", entry.DSIInterestSavings.String())

	quote := lp.PayoffQuote()
	assert.Equal(t, "36.17", quote.DSISavings.String())
	assert.True(t, quote.DSIPenalty.IsZero())
	// Terms 1-5 still owe their projected principal.
	assert.Equal(t, "8376.44", quote.DuePrincipal.String())
}

func TestCalc_DSIPartialPayment_ActualBalanceSurvivesReplay(t *testing.T) {
	// GIVEN: an 80% payment on term 0's due date
	// WHEN: Calc replays the pipeline twice over
	// THEN: the actual end balance (higher than projected) is rebuilt
	//       identically on every pass

	lp := dsiEngineLoan(t)
	lp.CurrentDate = core.NewDate(2022, time.February, 15)
	addDeposit(t, lp, "d1", 1380.38, core.NewDate(2022, time.February, 1))

	result, err := lp.Calc()
	require.NoError(t, err)
	assert.True(t, result.Stable())

	entry := lp.Amortization.EntryForTerm(0)
	require.True(t, entry.HasDSIActuals)
	assert.Equal(t, "8721.54", entry.ActualDSIEndBalance.String())
	assert.True(t, entry.ActualDSIEndBalance.GreaterThan(entry.EndBalance))

	bill := lp.Bills.ByPeriod(0)
	assert.Equal(t, "345.10", bill.PrincipalDue.String())
	assert.True(t, bill.InterestDue.IsZero(), "31 actual days match the projection exactly")

	// Second reconciliation lands on the same actuals.
	_, err = lp.Calc()
	require.NoError(t, err)
	assert.Equal(t, "8721.54", lp.Amortization.EntryForTerm(0).ActualDSIEndBalance.String())
}

// =============================================================================
// AUTO-CLOSE
// =============================================================================

func TestCalc_AutoClose_WaivesSmallResidual(t *testing.T) {
	// GIVEN: a loan 50 cents short of fully paid, threshold $1
	// WHEN: Calc runs with auto-close on
	// THEN: a waiver deposit for exactly the residual closes the loan

	lp := zeroRateLoan(t)
	lp.CurrentDate = core.NewDate(2023, time.February, 1)
	lp.AutoCloseEnabled = true
	lp.AutoCloseThreshold = core.NewMoney(1)
	addDeposit(t, lp, "d1", 1199.50, core.NewDate(2022, time.December, 15))

	result, err := lp.Calc()
	require.NoError(t, err)
	assert.True(t, result.Stable())

	waivers := lp.Deposits.AutoCloseDeposits()
	require.Len(t, waivers, 1)
	assert.Equal(t, "0.50", waivers[0].Amount.String())
	assert.True(t, waivers[0].Active)

	for _, b := range lp.Bills.All() {
		assert.True(t, b.IsPaid())
	}
	assert.True(t, lp.PayoffQuote().DueTotal.IsZero())

	// A second reconciliation reuses the waiver instead of minting
	// another one.
	_, err = lp.Calc()
	require.NoError(t, err)
	assert.Len(t, lp.Deposits.AutoCloseDeposits(), 1)
}

func TestCalc_AutoClose_LeavesRealBalanceAlone(t *testing.T) {
	// GIVEN: $50 outstanding against a $1 threshold
	// WHEN: Calc runs
	// THEN: no waiver is synthesized

	lp := zeroRateLoan(t)
	lp.CurrentDate = core.NewDate(2023, time.February, 1)
	lp.AutoCloseEnabled = true
	lp.AutoCloseThreshold = core.NewMoney(1)
	addDeposit(t, lp, "d1", 1150, core.NewDate(2022, time.December, 15))

	_, err := lp.Calc()
	require.NoError(t, err)

	assert.Empty(t, lp.Deposits.AutoCloseDeposits())
	assert.Equal(t, "50.00", lp.PayoffQuote().DueTotal.String())
}

// =============================================================================
// AD-HOC REFUNDS
// =============================================================================

func TestCalc_BalanceImpactingRefund_RaisesPrincipalAndKeepsOneLedgerRow(t *testing.T) {
	// GIVEN: a $300 payment, then a $100 balance-impacting refund
	// WHEN: Calc runs
	// THEN: one system increase modification puts the refund back on the
	//       balance, the refund carries exactly one ledger row linking it,
	//       and the quote owes the refunded amount again

	lp := zeroRateLoan(t)
	lp.CurrentDate = core.NewDate(2022, time.June, 15)
	addDeposit(t, lp, "d1", 300, core.NewDate(2022, time.March, 1))

	refund := billing.NewDepositRecord("r1", core.NewMoney(100), core.NewDate(2022, time.April, 1))
	refund.Kind = billing.DepositKindAdhocRefund
	refund.RefundBalanceImpacting = true
	require.NoError(t, lp.AddDeposit(refund))

	result, err := lp.Calc()
	require.NoError(t, err)
	assert.True(t, result.Stable())

	mod := lp.Amortization.BalanceModifications.SystemModForDeposit("r1")
	require.NotNil(t, mod)
	assert.Equal(t, "100.00", mod.Amount.String())
	assert.Equal(t, amortization.BalanceIncrease, mod.Type)
	assert.True(t, mod.IsSystemModification)
	assert.Equal(t, mod.ID, refund.BalanceModificationID)

	// The refund is excluded from bill allocation; its only ledger row is
	// the re-attached balance-modification line.
	require.Len(t, refund.UsageDetails, 1)
	row := refund.UsageDetails[0]
	assert.Equal(t, -1, row.Period)
	assert.Equal(t, "100.00", row.AllocatedPrincipal.String())
	require.NotNil(t, row.BalanceModification)
	assert.Equal(t, mod.ID, row.BalanceModification.ID)

	// $1,200 - $300 paid + $100 refunded back.
	assert.Equal(t, 3, lp.Bills.Summary(lp.CurrentDate).PaidCount)
	assert.Equal(t, "1000.00", lp.PayoffQuote().DuePrincipal.String())
}

func TestCalc_BalanceImpactingRefund_ReplayDoesNotDuplicate(t *testing.T) {
	// GIVEN: a reconciled loan carrying a balance-impacting refund
	// WHEN: Calc replays with no edits
	// THEN: still one modification, one ledger row, the same quote

	lp := zeroRateLoan(t)
	lp.CurrentDate = core.NewDate(2022, time.June, 15)
	addDeposit(t, lp, "d1", 300, core.NewDate(2022, time.March, 1))
	refund := billing.NewDepositRecord("r1", core.NewMoney(100), core.NewDate(2022, time.April, 1))
	refund.Kind = billing.DepositKindAdhocRefund
	refund.RefundBalanceImpacting = true
	require.NoError(t, lp.AddDeposit(refund))

	_, err := lp.Calc()
	require.NoError(t, err)
	quote1 := lp.PayoffQuote()

	_, err = lp.Calc()
	require.NoError(t, err)

	assert.Equal(t, 1, lp.Amortization.BalanceModifications.Len())
	assert.Len(t, refund.UsageDetails, 1)
	assert.True(t, lp.PayoffQuote().DuePrincipal.Equal(quote1.DuePrincipal))
	assert.True(t, lp.PayoffQuote().DueTotal.Equal(quote1.DueTotal))
}

// =============================================================================
// PAYOFF QUOTE CACHE
// =============================================================================

func TestPayoffQuote_CacheInvalidatedByDepositChange(t *testing.T) {
	lp := zeroRateLoan(t)
	lp.CurrentDate = core.NewDate(2022, time.June, 15)
	_, err := lp.Calc()
	require.NoError(t, err)

	before := lp.PayoffQuote()
	assert.Equal(t, "1200.00", before.DuePrincipal.String())

	addDeposit(t, lp, "d1", 300, core.NewDate(2022, time.March, 1))
	_, err = lp.Calc()
	require.NoError(t, err)

	after := lp.PayoffQuote()
	assert.Equal(t, "900.00", after.DuePrincipal.String())
}

// =============================================================================
// SERIALIZATION
// =============================================================================

func TestJSONRoundTrip_CompactFormRebuildsDerivedState(t *testing.T) {
	// GIVEN: a reconciled loan serialized in the compact (inputs-only)
	//        form
	// WHEN: deserialized and reconciled again
	// THEN: the derived state is identical to the original

	lp := standardLoan(t)
	lp.CurrentDate = core.NewDate(2022, time.September, 15)
	addDeposit(t, lp, "d1", 631.44, core.NewDate(2022, time.July, 12))
	addDeposit(t, lp, "d2", 631.44, core.NewDate(2022, time.August, 12))
	payoff := addDeposit(t, lp, "d3", 19521, core.NewDate(2022, time.September, 12))
	payoff.ApplyExcessToPrincipal = true
	_, err := lp.Calc()
	require.NoError(t, err)

	data, err := lp.ToJSON(true)
	require.NoError(t, err)

	restored, err := engine.FromJSON(data)
	require.NoError(t, err)
	restored.IDs = &core.SequenceGenerator{Prefix: "restored"}
	result, err := restored.Calc()
	require.NoError(t, err)
	require.True(t, result.Stable())

	assert.Len(t, restored.Amortization.RepaymentSchedule, 4)
	mod := restored.Amortization.BalanceModifications.SystemModForDeposit("d3")
	require.NotNil(t, mod)
	assert.Equal(t, "18020.63", mod.Amount.String())
	assert.True(t, restored.PayoffQuote().DueTotal.IsZero())
	assert.True(t, restored.CurrentDate.Equal(lp.CurrentDate))
}

func TestSnapshotRestore_RevertsBillsAndDeposits(t *testing.T) {
	// GIVEN: a snapshot taken after the first deposit
	// WHEN: a second deposit lands and the snapshot is restored
	// THEN: bills and deposits revert to the committed state

	lp := zeroRateLoan(t)
	lp.CurrentDate = core.NewDate(2022, time.June, 15)
	addDeposit(t, lp, "d1", 300, core.NewDate(2022, time.March, 1))
	_, err := lp.Calc()
	require.NoError(t, err)

	snap, err := lp.Snapshot()
	require.NoError(t, err)
	paidBefore := lp.Bills.Summary(lp.CurrentDate).PaidCount

	addDeposit(t, lp, "d2", 400, core.NewDate(2022, time.April, 1))
	_, err = lp.Calc()
	require.NoError(t, err)
	require.Greater(t, lp.Bills.Summary(lp.CurrentDate).PaidCount, paidBefore)

	require.NoError(t, lp.RestoreSnapshot(snap))
	assert.Equal(t, 1, lp.Deposits.Len())
	assert.Equal(t, paidBefore, lp.Bills.Summary(lp.CurrentDate).PaidCount)
}
