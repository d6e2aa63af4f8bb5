package engine

import (
	"encoding/json"

	"github.com/warp/loan-engine/billing"
)

// =============================================================================
// SNAPSHOT - The financial-ops state the version manager tracks
// =============================================================================

// loanSnapshot is the committed unit: bills plus deposits. Terms and
// manual modifications are inputs edited through other flows; the
// version manager tracks what reconciliation produced.
type loanSnapshot struct {
	Bills    *billing.Bills          `json:"bills"`
	Deposits *billing.DepositRecords `json:"deposits"`
}

// Snapshot serializes the current bills + deposits state.
func (lp *LendPeak) Snapshot() (json.RawMessage, error) {
	return json.Marshal(loanSnapshot{Bills: lp.Bills, Deposits: lp.Deposits})
}

// RestoreSnapshot reconstructs bills and deposits from a committed
// snapshot. Used by rollback; the caller owns re-running Calc() if it
// wants derived state rebuilt from inputs instead.
func (lp *LendPeak) RestoreSnapshot(raw json.RawMessage) error {
	var snap loanSnapshot
	snap.Bills = billing.NewBills()
	snap.Deposits = billing.NewDepositRecords()
	if err := json.Unmarshal(raw, &snap); err != nil {
		return err
	}
	lp.Bills = snap.Bills
	lp.Deposits = snap.Deposits
	lp.payoffCache = nil
	return nil
}
