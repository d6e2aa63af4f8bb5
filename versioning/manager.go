package versioning

import (
	"encoding/json"
	"time"

	"github.com/warp/loan-engine/core"
)

// =============================================================================
// FINANCIAL OPS VERSION - One committed snapshot
// =============================================================================

type FinancialOpsVersion struct {
	VersionID string          `json:"versionId"`
	Timestamp time.Time       `json:"timestamp"`
	Snapshot  json.RawMessage `json:"snapshot"`

	InputChanges  []DiffEntry `json:"inputChanges,omitempty"`
	OutputChanges []DiffEntry `json:"outputChanges,omitempty"`

	IsDeleted  bool   `json:"isDeleted"`
	IsRollback bool   `json:"isRollback"`
	RollbackOf string `json:"rollbackOf,omitempty"`

	Message string `json:"message,omitempty"`
}

// =============================================================================
// VERSION MANAGER - Append-only commit/rollback over snapshots
// =============================================================================

// FinancialOpsVersionManager keeps an append-only version list. History
// is never rewritten: rollback appends a NEW version whose snapshot is
// the target's, flagged IsRollback; deletion is a soft flag.
type FinancialOpsVersionManager struct {
	versions []*FinancialOpsVersion

	// ExcludedPaths are skipped entirely during diffing (volatile
	// fields like fingerprints and timestamps).
	ExcludedPaths []string

	// OutputPaths classify diff leaves as engine output rather than
	// operator input.
	OutputPaths []string

	IDs core.IDGenerator
	Now func() time.Time
}

// NewVersionManager configures the default path sets: fingerprints are
// excluded (they move on every commit), bill state is output, deposit
// records are input.
func NewVersionManager(ids core.IDGenerator) *FinancialOpsVersionManager {
	if ids == nil {
		ids = core.UUIDGenerator{}
	}
	return &FinancialOpsVersionManager{
		ExcludedPaths: []string{
			"bills.versionId", "bills.dateChanged",
			"deposits.versionId", "deposits.dateChanged",
		},
		OutputPaths: []string{"bills", "deposits.deposits"},
		IDs:         ids,
		Now:         func() time.Time { return time.Now().UTC() },
	}
}

// CommitTransaction snapshots the current state, diffs it against the
// last committed snapshot, and appends an immutable version record.
func (vm *FinancialOpsVersionManager) CommitTransaction(snapshot json.RawMessage, message string) (*FinancialOpsVersion, error) {
	var previous json.RawMessage
	if last := vm.latest(); last != nil {
		previous = last.Snapshot
	}

	diff, err := ComputeDualDiff(previous, snapshot, vm.ExcludedPaths, vm.OutputPaths)
	if err != nil {
		return nil, err
	}

	v := &FinancialOpsVersion{
		VersionID:     vm.IDs.NewID(),
		Timestamp:     vm.Now(),
		Snapshot:      snapshot,
		InputChanges:  diff.InputChanges,
		OutputChanges: diff.OutputChanges,
		Message:       message,
	}
	vm.versions = append(vm.versions, v)
	return v, nil
}

// Rollback appends a new version carrying the target's snapshot. The
// current (latest) version cannot be the target, and history before the
// call is preserved bit for bit.
func (vm *FinancialOpsVersionManager) Rollback(versionID string) (*FinancialOpsVersion, error) {
	target := vm.ByID(versionID)
	if target == nil {
		return nil, &core.VersionNotFoundError{VersionID: versionID}
	}
	if latest := vm.latest(); latest != nil && latest.VersionID == versionID {
		return nil, core.ErrRollbackCurrentVersion
	}

	var previous json.RawMessage
	if last := vm.latest(); last != nil {
		previous = last.Snapshot
	}
	diff, err := ComputeDualDiff(previous, target.Snapshot, vm.ExcludedPaths, vm.OutputPaths)
	if err != nil {
		return nil, err
	}

	v := &FinancialOpsVersion{
		VersionID:     vm.IDs.NewID(),
		Timestamp:     vm.Now(),
		Snapshot:      target.Snapshot,
		InputChanges:  diff.InputChanges,
		OutputChanges: diff.OutputChanges,
		IsRollback:    true,
		RollbackOf:    target.VersionID,
	}
	vm.versions = append(vm.versions, v)
	return v, nil
}

// DeleteVersion is a soft delete: the record stays, flagged.
func (vm *FinancialOpsVersionManager) DeleteVersion(versionID string) error {
	v := vm.ByID(versionID)
	if v == nil {
		return &core.VersionNotFoundError{VersionID: versionID}
	}
	v.IsDeleted = true
	return nil
}

// VersionHistory returns committed versions, oldest first. Deleted
// versions are filtered unless includeDeleted is set.
func (vm *FinancialOpsVersionManager) VersionHistory(includeDeleted bool) []*FinancialOpsVersion {
	var out []*FinancialOpsVersion
	for _, v := range vm.versions {
		if v.IsDeleted && !includeDeleted {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (vm *FinancialOpsVersionManager) ByID(versionID string) *FinancialOpsVersion {
	for _, v := range vm.versions {
		if v.VersionID == versionID {
			return v
		}
	}
	return nil
}

func (vm *FinancialOpsVersionManager) latest() *FinancialOpsVersion {
	if len(vm.versions) == 0 {
		return nil
	}
	return vm.versions[len(vm.versions)-1]
}

// Latest exposes the current version, or nil before the first commit.
func (vm *FinancialOpsVersionManager) Latest() *FinancialOpsVersion { return vm.latest() }

// =============================================================================
// JSON ROUND-TRIP
// =============================================================================

type managerJSON struct {
	Versions      []*FinancialOpsVersion `json:"versions"`
	ExcludedPaths []string               `json:"excludedPaths"`
	OutputPaths   []string               `json:"outputPaths"`
}

func (vm *FinancialOpsVersionManager) MarshalJSON() ([]byte, error) {
	return json.Marshal(managerJSON{
		Versions:      vm.versions,
		ExcludedPaths: vm.ExcludedPaths,
		OutputPaths:   vm.OutputPaths,
	})
}

func (vm *FinancialOpsVersionManager) UnmarshalJSON(data []byte) error {
	var raw managerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	vm.versions = raw.Versions
	vm.ExcludedPaths = raw.ExcludedPaths
	vm.OutputPaths = raw.OutputPaths
	if vm.IDs == nil {
		vm.IDs = core.UUIDGenerator{}
	}
	if vm.Now == nil {
		vm.Now = func() time.Time { return time.Now().UTC() }
	}
	return nil
}

// RestoreVersions replaces the in-memory list, used when loading
// persisted history from a store.
func (vm *FinancialOpsVersionManager) RestoreVersions(versions []*FinancialOpsVersion) {
	vm.versions = versions
}
