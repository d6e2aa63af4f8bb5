package billing

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/warp/loan-engine/core"
)

// =============================================================================
// DEPOSIT RECORDS - Collection with a change fingerprint
// =============================================================================

// DepositRecords carries the same fingerprint discipline as Bills: the
// pay-off quote cache keys on (versionID, dateChanged), so every
// mutation must go through a method that calls touch.
type DepositRecords struct {
	records []*DepositRecord

	versionID   int64
	dateChanged time.Time
}

func NewDepositRecords() *DepositRecords { return &DepositRecords{} }

func (ds *DepositRecords) VersionID() int64       { return ds.versionID }
func (ds *DepositRecords) DateChanged() time.Time { return ds.dateChanged }

func (ds *DepositRecords) touch() {
	ds.versionID++
	ds.dateChanged = time.Now().UTC()
}

// Touch bumps the fingerprint after the payment engine mutates usage
// state on individual records.
func (ds *DepositRecords) Touch() { ds.touch() }

func (ds *DepositRecords) Len() int { return len(ds.records) }

func (ds *DepositRecords) All() []*DepositRecord {
	out := make([]*DepositRecord, len(ds.records))
	copy(out, ds.records)
	return out
}

func (ds *DepositRecords) ByID(id string) *DepositRecord {
	for _, d := range ds.records {
		if d.ID == id {
			return d
		}
	}
	return nil
}

func (ds *DepositRecords) Add(d *DepositRecord) error {
	if err := d.Validate(); err != nil {
		return err
	}
	ds.records = append(ds.records, d)
	ds.sortByEffectiveDate()
	ds.touch()
	return nil
}

func (ds *DepositRecords) Remove(id string) bool {
	for i, d := range ds.records {
		if d.ID == id {
			ds.records = append(ds.records[:i], ds.records[i+1:]...)
			ds.touch()
			return true
		}
	}
	return false
}

func (ds *DepositRecords) sortByEffectiveDate() {
	sort.SliceStable(ds.records, func(i, j int) bool {
		if ds.records[i].EffectiveDate.Equal(ds.records[j].EffectiveDate) {
			return ds.records[i].SystemDate.Before(ds.records[j].SystemDate)
		}
		return ds.records[i].EffectiveDate.Before(ds.records[j].EffectiveDate)
	})
}

// Allocatable returns active, non-refund deposits whose effective date
// is not in the future, in application order.
func (ds *DepositRecords) Allocatable(currentDate core.DatePoint) []*DepositRecord {
	var out []*DepositRecord
	for _, d := range ds.records {
		if !d.Active || d.Kind == DepositKindAdhocRefund {
			continue
		}
		if d.EffectiveDate.After(currentDate) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// AdhocRefunds returns active ad-hoc refund deposits effective on or
// before the date.
func (ds *DepositRecords) AdhocRefunds(currentDate core.DatePoint) []*DepositRecord {
	var out []*DepositRecord
	for _, d := range ds.records {
		if d.Kind == DepositKindAdhocRefund && d.Active && d.EffectiveDate.BeforeOrEqual(currentDate) {
			out = append(out, d)
		}
	}
	return out
}

// AutoCloseDeposits returns waiver deposits regardless of active state;
// the engine reactivates or replaces them.
func (ds *DepositRecords) AutoCloseDeposits() []*DepositRecord {
	var out []*DepositRecord
	for _, d := range ds.records {
		if d.Kind == DepositKindAutoClose {
			out = append(out, d)
		}
	}
	return out
}

// UnusedTotal sums the unused amount across active deposits.
func (ds *DepositRecords) UnusedTotal() core.Money {
	total := core.ZeroMoney()
	for _, d := range ds.records {
		if d.Active {
			total = total.Add(d.UnusedAmount)
		}
	}
	return total
}

// HasExcessToPrincipalDeposit reports whether any active deposit is
// flagged to sweep excess into principal. The pay-off quote uses this to
// distinguish "paid off" from "coincidentally balanced".
func (ds *DepositRecords) HasExcessToPrincipalDeposit() bool {
	for _, d := range ds.records {
		if d.Active && d.ApplyExcessToPrincipal {
			return true
		}
	}
	return false
}

// =============================================================================
// JSON ROUND-TRIP
// =============================================================================

type depositsJSON struct {
	VersionID   int64            `json:"versionId"`
	DateChanged time.Time        `json:"dateChanged"`
	Deposits    []*DepositRecord `json:"deposits"`
}

func (ds *DepositRecords) MarshalJSON() ([]byte, error) {
	return json.Marshal(depositsJSON{VersionID: ds.versionID, DateChanged: ds.dateChanged, Deposits: ds.records})
}

func (ds *DepositRecords) UnmarshalJSON(data []byte) error {
	var raw depositsJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ds.records = raw.Deposits
	ds.versionID = raw.VersionID
	ds.dateChanged = raw.DateChanged
	ds.sortByEffectiveDate()
	return nil
}
