package amortization

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/loan-engine/core"
)

// =============================================================================
// LOAN TERMS
// =============================================================================

// BillingModel selects how a period's interest is earned.
type BillingModel string

const (
	// BillingAmortized: interest is the projected amortized split,
	// independent of when the payment actually lands.
	BillingAmortized BillingModel = "amortized"

	// BillingDSI: interest accrues daily on the actual outstanding
	// balance; the projected split is only an estimate.
	BillingDSI BillingModel = "dsi"
)

// LoanTerms are the contract inputs. The origination fee is financed:
// the amortized payment is computed over principal + fee.
type LoanTerms struct {
	Principal      core.Money      `json:"principal"`
	OriginationFee core.Money      `json:"originationFee"`
	AnnualRate     decimal.Decimal `json:"annualRate"` // e.g. 0.0851 for 8.51% APR
	TermMonths     int             `json:"termMonths"`
	StartDate      core.DatePoint  `json:"startDate"`
	Calendar       core.Calendar   `json:"calendar"`
	MonthlyFee     core.Money      `json:"monthlyFee"`
	BillingModel   BillingModel    `json:"billingModel"` // default for every term
}

func (t LoanTerms) defaultModel() BillingModel {
	if t.BillingModel == "" {
		return BillingAmortized
	}
	return t.BillingModel
}

func (t LoanTerms) calendar() core.Calendar {
	if t.Calendar == "" {
		return core.CalendarActual365
	}
	return t.Calendar
}

// FinancedAmount is the balance the annuity payment is computed over.
func (t LoanTerms) FinancedAmount() core.Money {
	return t.Principal.Add(t.OriginationFee)
}

// =============================================================================
// SCHEDULE ENTRY - One period's projection
// =============================================================================

type ScheduleEntry struct {
	Term        int            `json:"term"`
	PeriodStart core.DatePoint `json:"periodStart"`
	PeriodEnd   core.DatePoint `json:"periodEnd"`
	OpenDate    core.DatePoint `json:"openDate"`
	DueDate     core.DatePoint `json:"dueDate"`

	StartBalance core.Money `json:"startBalance"`
	EndBalance   core.Money `json:"endBalance"`
	PrincipalDue core.Money `json:"principalDue"`
	InterestDue  core.Money `json:"interestDue"`
	FeesDue      core.Money `json:"feesDue"`
	TotalDue     core.Money `json:"totalDue"`

	BillingModel BillingModel  `json:"billingModel"`
	Calendar     core.Calendar `json:"calendar"`

	// DSI actuals, written back by the payment engine on every pass.
	HasDSIActuals         bool       `json:"hasDsiActuals"`
	ActualDSIStartBalance core.Money `json:"actualDsiStartBalance"`
	ActualDSIEndBalance   core.Money `json:"actualDsiEndBalance"`
	ActualDSIPrincipal    core.Money `json:"actualDsiPrincipal"`
	ActualDSIInterest     core.Money `json:"actualDsiInterest"`
	ActualDSIFees         core.Money `json:"actualDsiFees"`
	DSIInterestSavings    core.Money `json:"dsiInterestSavings"`
	DSIInterestPenalty    core.Money `json:"dsiInterestPenalty"`
}

// ContainsDate reports whether the date falls inside [PeriodStart, PeriodEnd).
func (e *ScheduleEntry) ContainsDate(d core.DatePoint) bool {
	return d.AfterOrEqual(e.PeriodStart) && d.Before(e.PeriodEnd)
}

// =============================================================================
// DSI PAYMENT HISTORY
// =============================================================================

// DSIPayment is the actual payment record for one DSI term. The payment
// engine rewrites these on every pass; nothing here is cached across
// recalculations.
type DSIPayment struct {
	Term               int            `json:"term"`
	PaymentDate        core.DatePoint `json:"paymentDate"`
	ActualStartBalance core.Money     `json:"actualStartBalance"`
	ActualEndBalance   core.Money     `json:"actualEndBalance"`
	ActualInterest     core.Money     `json:"actualInterest"`
	ActualPrincipal    core.Money     `json:"actualPrincipal"`
	ActualFees         core.Money     `json:"actualFees"`
}

// =============================================================================
// SCHEDULE - The amortization plan with a change fingerprint
// =============================================================================

type Schedule struct {
	Terms LoanTerms

	// BalanceModifications is owned here but manipulated by the engine's
	// cleanup pass and the excess-to-principal path.
	BalanceModifications *BalanceModifications

	RepaymentSchedule []*ScheduleEntry

	// BillingModelForTerm lets mixed loans override the default model on
	// a per-term basis. Nil means every term uses Terms.BillingModel.
	BillingModelForTerm func(term int) BillingModel

	versionID   int64
	dateChanged time.Time
	fingerprint string

	dsiHistory map[int]DSIPayment
}

func NewSchedule(terms LoanTerms) *Schedule {
	return &Schedule{
		Terms:                terms,
		BalanceModifications: NewBalanceModifications(),
		dsiHistory:           make(map[int]DSIPayment),
	}
}

func (s *Schedule) VersionID() int64       { return s.versionID }
func (s *Schedule) DateChanged() time.Time { return s.dateChanged }

func (s *Schedule) modelForTerm(term int) BillingModel {
	if s.BillingModelForTerm != nil {
		return s.BillingModelForTerm(term)
	}
	return s.Terms.defaultModel()
}

// MonthlyPayment is the fixed annuity payment over the financed amount.
func (s *Schedule) MonthlyPayment() core.Money {
	return annuityPayment(s.Terms.FinancedAmount(), s.Terms.AnnualRate, s.Terms.TermMonths)
}

// CalculateAmortizationPlan rebuilds the repayment schedule from the
// terms and the current balance modifications. The plan stops early when
// a modification drives the balance to zero: the final period's
// principal is the remaining balance and no further entries are
// produced. VersionID is bumped only when the produced schedule differs
// from the previous run, which is what makes the orchestrator's
// convergence check well-defined.
func (s *Schedule) CalculateAmortizationPlan() {
	terms := s.Terms
	cal := terms.calendar()
	model := func(t int) BillingModel { return s.modelForTerm(t) }

	payment := s.MonthlyPayment()
	monthlyRate := terms.AnnualRate.Div(decimal.NewFromInt(12))

	balance := terms.FinancedAmount()
	applied := make(map[string]bool)
	entries := make([]*ScheduleEntry, 0, terms.TermMonths)

	for term := 0; term < terms.TermMonths; term++ {
		periodStart := terms.StartDate.AddMonths(term)
		periodEnd := terms.StartDate.AddMonths(term + 1)

		// Apply every not-yet-applied modification dated before this
		// period's end. Modifications dated before the schedule start
		// land in term 0.
		for _, mod := range s.BalanceModifications.All() {
			if applied[mod.ID] || !mod.Date.Before(periodEnd) {
				continue
			}
			applied[mod.ID] = true
			balance = balance.Add(mod.SignedAmount())
			if balance.IsNegative() {
				balance = core.ZeroMoney()
			}
		}

		if !balance.IsPositive() {
			break
		}

		var interest core.Money
		if model(term) == BillingDSI {
			days := cal.DaysBetween(periodStart, periodEnd)
			daily := cal.DailyRate(terms.AnnualRate, periodStart.Year())
			interest = balance.Mul(daily).Mul(decimal.NewFromInt(int64(days))).RoundCents()
		} else {
			interest = balance.Mul(monthlyRate).RoundCents()
		}

		principal := payment.Sub(interest)
		if principal.GreaterThan(balance) || term == terms.TermMonths-1 {
			principal = balance
		}
		if principal.IsNegative() {
			principal = core.ZeroMoney()
		}

		end := balance.Sub(principal)
		entry := &ScheduleEntry{
			Term:         term,
			PeriodStart:  periodStart,
			PeriodEnd:    periodEnd,
			OpenDate:     periodStart,
			DueDate:      periodEnd,
			StartBalance: balance,
			EndBalance:   end,
			PrincipalDue: principal,
			InterestDue:  interest,
			FeesDue:      terms.MonthlyFee,
			TotalDue:     principal.Add(interest).Add(terms.MonthlyFee),
			BillingModel: model(term),
			Calendar:     cal,
		}
		// Carry DSI actuals across recalculations; the payment engine
		// rewrites them on every pass anyway.
		if prev := s.entryForTerm(term); prev != nil && prev.HasDSIActuals {
			entry.HasDSIActuals = true
			entry.ActualDSIStartBalance = prev.ActualDSIStartBalance
			entry.ActualDSIEndBalance = prev.ActualDSIEndBalance
			entry.ActualDSIPrincipal = prev.ActualDSIPrincipal
			entry.ActualDSIInterest = prev.ActualDSIInterest
			entry.ActualDSIFees = prev.ActualDSIFees
			entry.DSIInterestSavings = prev.DSIInterestSavings
			entry.DSIInterestPenalty = prev.DSIInterestPenalty
		}
		entries = append(entries, entry)
		balance = end
		if !balance.IsPositive() {
			break
		}
	}

	s.RepaymentSchedule = entries
	s.refreshFingerprint()
}

func (s *Schedule) entryForTerm(term int) *ScheduleEntry {
	for _, e := range s.RepaymentSchedule {
		if e.Term == term {
			return e
		}
	}
	return nil
}

// EntryForTerm returns the schedule entry for a term, or nil.
func (s *Schedule) EntryForTerm(term int) *ScheduleEntry { return s.entryForTerm(term) }

// EntryContaining returns the entry whose period contains the date.
func (s *Schedule) EntryContaining(d core.DatePoint) *ScheduleEntry {
	for _, e := range s.RepaymentSchedule {
		if e.ContainsDate(d) {
			return e
		}
	}
	return nil
}

// RemainingPrincipalAt returns the projected outstanding balance at the
// start of the period containing the date (or zero past the schedule).
func (s *Schedule) RemainingPrincipalAt(d core.DatePoint) core.Money {
	if entry := s.EntryContaining(d); entry != nil {
		return entry.StartBalance
	}
	if len(s.RepaymentSchedule) == 0 {
		return s.Terms.FinancedAmount()
	}
	last := s.RepaymentSchedule[len(s.RepaymentSchedule)-1]
	if d.AfterOrEqual(last.PeriodEnd) {
		return last.EndBalance
	}
	return s.Terms.FinancedAmount()
}

// AccruedInterestByDate returns interest earned from the containing
// period's start up to (not including) the given date, on the projected
// start balance. Used by the mid-period pay-off quote.
func (s *Schedule) AccruedInterestByDate(d core.DatePoint) core.Money {
	entry := s.EntryContaining(d)
	if entry == nil {
		return core.ZeroMoney()
	}
	days := entry.Calendar.DaysBetween(entry.PeriodStart, d)
	if days <= 0 {
		return core.ZeroMoney()
	}
	daily := entry.Calendar.DailyRate(s.Terms.AnnualRate, d.Year())
	return entry.StartBalance.Mul(daily).Mul(decimal.NewFromInt(int64(days))).RoundCents()
}

// =============================================================================
// DSI PAYMENT HISTORY ACCESS
// =============================================================================

func (s *Schedule) DSIPaymentHistory(term int) (DSIPayment, bool) {
	p, ok := s.dsiHistory[term]
	return p, ok
}

func (s *Schedule) UpdateDSIPaymentHistory(p DSIPayment) {
	if s.dsiHistory == nil {
		s.dsiHistory = make(map[int]DSIPayment)
	}
	s.dsiHistory[p.Term] = p
}

// ResetDSIActuals wipes per-term actual state so the payment pipeline
// can rebuild the cascade from scratch. Earlier terms can change
// retroactively, so this state is never carried between passes.
func (s *Schedule) ResetDSIActuals() {
	s.dsiHistory = make(map[int]DSIPayment)
	for _, e := range s.RepaymentSchedule {
		e.HasDSIActuals = false
		e.ActualDSIStartBalance = core.ZeroMoney()
		e.ActualDSIEndBalance = core.ZeroMoney()
		e.ActualDSIPrincipal = core.ZeroMoney()
		e.ActualDSIInterest = core.ZeroMoney()
		e.ActualDSIFees = core.ZeroMoney()
		e.DSIInterestSavings = core.ZeroMoney()
		e.DSIInterestPenalty = core.ZeroMoney()
	}
}

// RunGarbageCollection drops DSI history for terms the schedule no
// longer produces (a balance modification shortened the plan).
func (s *Schedule) RunGarbageCollection() {
	for term := range s.dsiHistory {
		if s.entryForTerm(term) == nil {
			delete(s.dsiHistory, term)
		}
	}
}

// =============================================================================
// FINGERPRINT
// =============================================================================

// refreshFingerprint serializes the schedule-defining state and bumps
// the version only when it changed.
func (s *Schedule) refreshFingerprint() {
	type fpEntry struct {
		Term      int
		Start     string
		End       string
		Principal string
		Interest  string
		Fees      string
		Balance   string
		Model     BillingModel
	}
	fp := struct {
		Entries []fpEntry
		Mods    []*BalanceModification
	}{}
	for _, e := range s.RepaymentSchedule {
		fp.Entries = append(fp.Entries, fpEntry{
			Term:      e.Term,
			Start:     e.PeriodStart.String(),
			End:       e.PeriodEnd.String(),
			Principal: e.PrincipalDue.String(),
			Interest:  e.InterestDue.String(),
			Fees:      e.FeesDue.String(),
			Balance:   e.EndBalance.String(),
			Model:     e.BillingModel,
		})
	}
	fp.Mods = s.BalanceModifications.All()
	raw, err := json.Marshal(fp)
	if err != nil {
		// Marshal of plain structs cannot fail; keep a changing value so
		// a broken fingerprint never masks a real change.
		raw = []byte(fmt.Sprintf("unfingerprintable-%d", s.versionID+1))
	}
	next := string(raw)
	if next != s.fingerprint {
		s.fingerprint = next
		s.versionID++
		s.dateChanged = time.Now().UTC()
	}
}

// =============================================================================
// ANNUITY MATH
// =============================================================================

// annuityPayment computes the fixed payment P*r*(1+r)^n / ((1+r)^n - 1).
// The power term uses float64; all monetary arithmetic stays decimal.
func annuityPayment(principal core.Money, annualRate decimal.Decimal, termMonths int) core.Money {
	if termMonths <= 0 || !principal.IsPositive() {
		return core.ZeroMoney()
	}
	if annualRate.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(termMonths))).RoundCents()
	}
	monthlyRate := annualRate.Div(decimal.NewFromInt(12))
	rf, _ := monthlyRate.Float64()
	factor := math.Pow(1+rf, float64(termMonths))
	factorDec := decimal.NewFromFloat(factor)
	numerator := principal.Mul(monthlyRate).Mul(factorDec)
	denominator := factorDec.Sub(decimal.NewFromInt(1))
	return numerator.Div(denominator).RoundCents()
}
