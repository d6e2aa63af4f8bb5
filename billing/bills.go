package billing

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/warp/loan-engine/amortization"
	"github.com/warp/loan-engine/core"
)

// =============================================================================
// BILLS - Ordered collection for one loan, with a fingerprinted summary
// =============================================================================

// Bills is replaced wholesale whenever the schedule changes. Every
// mutation goes through a method that bumps the (versionID, dateChanged)
// fingerprint; the cached summary is valid only while its recorded
// fingerprint matches. Direct field mutation would bypass the
// fingerprint and is the one thing callers must never do.
type Bills struct {
	list []*Bill

	versionID   int64
	dateChanged time.Time

	summaryCache   *Summary
	cachedVersion  int64
	cachedChanged  time.Time
	cachedAsOfDate core.DatePoint
}

func NewBills() *Bills { return &Bills{} }

func (bs *Bills) VersionID() int64       { return bs.versionID }
func (bs *Bills) DateChanged() time.Time { return bs.dateChanged }

func (bs *Bills) touch() {
	bs.versionID++
	bs.dateChanged = time.Now().UTC()
}

func (bs *Bills) All() []*Bill {
	out := make([]*Bill, len(bs.list))
	copy(out, bs.list)
	return out
}

func (bs *Bills) Len() int { return len(bs.list) }

func (bs *Bills) ByPeriod(period int) *Bill {
	for _, b := range bs.list {
		if b.Period == period {
			return b
		}
	}
	return nil
}

func (bs *Bills) ByID(id string) *Bill {
	for _, b := range bs.list {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func (bs *Bills) Add(b *Bill) {
	bs.list = append(bs.list, b)
	bs.sortByPeriod()
	bs.touch()
}

// Touch bumps the fingerprint. The payment engine calls this after
// mutating bill dues so summary readers never see a stale cache.
func (bs *Bills) Touch() { bs.touch() }

func (bs *Bills) sortByPeriod() {
	sort.SliceStable(bs.list, func(i, j int) bool { return bs.list[i].Period < bs.list[j].Period })
}

// =============================================================================
// GENERATION
// =============================================================================

// Generate rebuilds every bill from the schedule with fresh ids. Usage
// details do not survive regeneration: the reconciliation pass clears
// deposit history first and replays every allocation against the new
// bills.
func (bs *Bills) Generate(schedule *amortization.Schedule, ids core.IDGenerator) {
	bs.list = bs.list[:0]
	for _, entry := range schedule.RepaymentSchedule {
		bs.list = append(bs.list, NewBillFromEntry(ids.NewID(), entry))
	}
	bs.sortByPeriod()
	bs.touch()
}

// RegenerateAfterDate keeps bills with dueDate <= cutover verbatim
// (preserving settled payment history) and replaces everything later
// from a fresh schedule run. The reconciliation pipeline does not use
// this: it always does a full Generate replay because deposits are
// reapplied from scratch on every pass. It exists for contract changes
// (rate or term amendments) where bills already settled under the old
// terms must keep their identity.
func (bs *Bills) RegenerateAfterDate(cutover core.DatePoint, schedule *amortization.Schedule, ids core.IDGenerator) {
	kept := make([]*Bill, 0, len(bs.list))
	for _, b := range bs.list {
		if b.DueDate.BeforeOrEqual(cutover) {
			kept = append(kept, b)
		}
	}
	for _, entry := range schedule.RepaymentSchedule {
		if entry.DueDate.BeforeOrEqual(cutover) {
			continue
		}
		kept = append(kept, NewBillFromEntry(ids.NewID(), entry))
	}
	bs.list = kept
	bs.sortByPeriod()
	bs.touch()
}

// =============================================================================
// FILTERS - Driven by a caller-supplied current date
// =============================================================================

func (bs *Bills) OpenBills(currentDate core.DatePoint) []*Bill {
	var out []*Bill
	for _, b := range bs.list {
		if b.IsOpen(currentDate) && !b.IsPaid() {
			out = append(out, b)
		}
	}
	return out
}

func (bs *Bills) PastDue(currentDate core.DatePoint) []*Bill {
	var out []*Bill
	for _, b := range bs.list {
		if b.IsPastDue(currentDate) {
			out = append(out, b)
		}
	}
	return out
}

func (bs *Bills) Unpaid() []*Bill {
	var out []*Bill
	for _, b := range bs.list {
		if !b.IsPaid() {
			out = append(out, b)
		}
	}
	return out
}

// DaysPastDue is the maximum across past-due bills, not the sum.
func (bs *Bills) DaysPastDue(currentDate core.DatePoint) int {
	max := 0
	for _, b := range bs.list {
		if d := b.DaysPastDue(currentDate); d > max {
			max = d
		}
	}
	return max
}

// =============================================================================
// SUMMARY - Cached aggregate, invalidated by fingerprint mismatch
// =============================================================================

type Summary struct {
	RemainingPrincipal core.Money `json:"remainingPrincipal"`
	RemainingInterest  core.Money `json:"remainingInterest"`
	RemainingFees      core.Money `json:"remainingFees"`
	RemainingTotal     core.Money `json:"remainingTotal"`

	// Due now: open bills with dueDate on/before the observation date.
	DueTotal     core.Money `json:"dueTotal"`
	PastDueTotal core.Money `json:"pastDueTotal"`
	DaysPastDue  int        `json:"daysPastDue"`

	AllocatedPrincipal core.Money `json:"allocatedPrincipal"`
	AllocatedInterest  core.Money `json:"allocatedInterest"`
	AllocatedFees      core.Money `json:"allocatedFees"`

	TotalCount   int `json:"totalCount"`
	OpenCount    int `json:"openCount"`
	PaidCount    int `json:"paidCount"`
	PastDueCount int `json:"pastDueCount"`

	AsOf core.DatePoint `json:"asOf"`
}

// Summary returns the aggregate for the observation date. The cache is
// reused only while both versionID and dateChanged match the collection
// state (and the asOf date is unchanged).
func (bs *Bills) Summary(currentDate core.DatePoint) Summary {
	if bs.summaryCache != nil &&
		bs.cachedVersion == bs.versionID &&
		bs.cachedChanged.Equal(bs.dateChanged) &&
		bs.cachedAsOfDate.Equal(currentDate) {
		return *bs.summaryCache
	}
	s := bs.calculateSummary(currentDate)
	bs.summaryCache = &s
	bs.cachedVersion = bs.versionID
	bs.cachedChanged = bs.dateChanged
	bs.cachedAsOfDate = currentDate
	return s
}

func (bs *Bills) calculateSummary(currentDate core.DatePoint) Summary {
	s := Summary{
		RemainingPrincipal: core.ZeroMoney(),
		RemainingInterest:  core.ZeroMoney(),
		RemainingFees:      core.ZeroMoney(),
		RemainingTotal:     core.ZeroMoney(),
		DueTotal:           core.ZeroMoney(),
		PastDueTotal:       core.ZeroMoney(),
		AllocatedPrincipal: core.ZeroMoney(),
		AllocatedInterest:  core.ZeroMoney(),
		AllocatedFees:      core.ZeroMoney(),
		AsOf:               currentDate,
	}
	for _, b := range bs.list {
		s.TotalCount++
		s.RemainingPrincipal = s.RemainingPrincipal.Add(b.PrincipalDue)
		s.RemainingInterest = s.RemainingInterest.Add(b.InterestDue)
		s.RemainingFees = s.RemainingFees.Add(b.FeesDue)
		for _, d := range b.PaymentDetails {
			s.AllocatedPrincipal = s.AllocatedPrincipal.Add(d.AllocatedPrincipal)
			s.AllocatedInterest = s.AllocatedInterest.Add(d.AllocatedInterest)
			s.AllocatedFees = s.AllocatedFees.Add(d.AllocatedFees)
		}
		if b.IsPaid() {
			s.PaidCount++
			continue
		}
		if b.IsOpen(currentDate) {
			s.OpenCount++
			if b.DueDate.BeforeOrEqual(currentDate) {
				s.DueTotal = s.DueTotal.Add(b.TotalDue())
			}
		}
		if b.IsPastDue(currentDate) {
			s.PastDueCount++
			s.PastDueTotal = s.PastDueTotal.Add(b.TotalDue())
			if d := b.DaysPastDue(currentDate); d > s.DaysPastDue {
				s.DaysPastDue = d
			}
		}
	}
	s.RemainingTotal = s.RemainingPrincipal.Add(s.RemainingInterest).Add(s.RemainingFees)
	return s
}

// =============================================================================
// JSON ROUND-TRIP
// =============================================================================

type billsJSON struct {
	VersionID   int64     `json:"versionId"`
	DateChanged time.Time `json:"dateChanged"`
	Bills       []*Bill   `json:"bills"`
}

func (bs *Bills) MarshalJSON() ([]byte, error) {
	return json.Marshal(billsJSON{VersionID: bs.versionID, DateChanged: bs.dateChanged, Bills: bs.list})
}

func (bs *Bills) UnmarshalJSON(data []byte) error {
	var raw billsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	bs.list = raw.Bills
	bs.versionID = raw.VersionID
	bs.dateChanged = raw.DateChanged
	bs.summaryCache = nil
	bs.sortByPeriod()
	return nil
}
