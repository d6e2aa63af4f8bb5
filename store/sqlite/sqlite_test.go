package sqlite_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/store/sqlite"
	"github.com/warp/loan-engine/versioning"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// LOAN STATE
// =============================================================================

func TestSaveLoan_UpsertAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveLoan(ctx, "loan-1", []byte(`{"strategy":"fifo"}`)))

	state, err := store.GetLoan(ctx, "loan-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"strategy":"fifo"}`, string(state))

	// A second save replaces the document.
	require.NoError(t, store.SaveLoan(ctx, "loan-1", []byte(`{"strategy":"lifo"}`)))
	state, err = store.GetLoan(ctx, "loan-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"strategy":"lifo"}`, string(state))
}

func TestGetLoan_MissingLoan(t *testing.T) {
	store := newStore(t)

	_, err := store.GetLoan(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestListLoanIDs(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	ids, err := store.ListLoanIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, store.SaveLoan(ctx, "loan-a", []byte(`{}`)))
	require.NoError(t, store.SaveLoan(ctx, "loan-b", []byte(`{}`)))

	ids, err = store.ListLoanIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"loan-a", "loan-b"}, ids)
}

// =============================================================================
// VERSION LEDGER
// =============================================================================

func testVersions() []*versioning.FinancialOpsVersion {
	base := time.Date(2022, time.June, 1, 12, 0, 0, 123456789, time.UTC)
	return []*versioning.FinancialOpsVersion{
		{
			VersionID: "v-1",
			Timestamp: base,
			Snapshot:  json.RawMessage(`{"bills":{"count":12}}`),
			Message:   "loan created",
		},
		{
			VersionID: "v-2",
			Timestamp: base.Add(time.Minute),
			Snapshot:  json.RawMessage(`{"bills":{"count":4}}`),
			OutputChanges: []versioning.DiffEntry{
				{Path: "bills.count", Old: float64(12), New: float64(4)},
			},
			Message: "deposit d3",
		},
		{
			VersionID:  "v-3",
			Timestamp:  base.Add(2 * time.Minute),
			Snapshot:   json.RawMessage(`{"bills":{"count":12}}`),
			IsRollback: true,
			RollbackOf: "v-1",
		},
	}
}

func TestVersionLedger_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveVersions(ctx, "loan-1", testVersions()))

	loaded, err := store.LoadVersions(ctx, "loan-1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	assert.Equal(t, "v-1", loaded[0].VersionID)
	assert.Equal(t, "loan created", loaded[0].Message)
	assert.True(t, loaded[0].Timestamp.Equal(
		time.Date(2022, time.June, 1, 12, 0, 0, 123456789, time.UTC)))
	assert.JSONEq(t, `{"bills":{"count":12}}`, string(loaded[0].Snapshot))

	require.Len(t, loaded[1].OutputChanges, 1)
	assert.Equal(t, "bills.count", loaded[1].OutputChanges[0].Path)
	assert.Equal(t, float64(4), loaded[1].OutputChanges[0].New)

	assert.True(t, loaded[2].IsRollback)
	assert.Equal(t, "v-1", loaded[2].RollbackOf)
}

func TestVersionLedger_LoadUnknownLoanIsEmpty(t *testing.T) {
	store := newStore(t)

	loaded, err := store.LoadVersions(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestVersionLedger_ResaveOnlyPropagatesSoftDelete(t *testing.T) {
	// GIVEN: a persisted ledger
	// WHEN: the same versions are saved again with one soft-deleted and
	//       one tampered message
	// THEN: the delete flag lands; everything else stays as first written

	store := newStore(t)
	ctx := context.Background()

	versions := testVersions()
	require.NoError(t, store.SaveVersions(ctx, "loan-1", versions))

	versions[0].IsDeleted = true
	versions[1].Message = "rewritten history"
	require.NoError(t, store.SaveVersions(ctx, "loan-1", versions))

	loaded, err := store.LoadVersions(ctx, "loan-1")
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	assert.True(t, loaded[0].IsDeleted)
	assert.Equal(t, "deposit d3", loaded[1].Message)
}

func TestVersionLedger_LoansAreIsolated(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveVersions(ctx, "loan-1", testVersions()))
	require.NoError(t, store.SaveVersion(ctx, "loan-2", 0, &versioning.FinancialOpsVersion{
		VersionID: "v-1",
		Timestamp: time.Now().UTC(),
		Snapshot:  json.RawMessage(`{}`),
	}))

	loaded, err := store.LoadVersions(ctx, "loan-2")
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestReset_WipesEverything(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveLoan(ctx, "loan-1", []byte(`{}`)))
	require.NoError(t, store.SaveVersions(ctx, "loan-1", testVersions()))

	require.NoError(t, store.Reset(ctx))

	ids, err := store.ListLoanIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
	loaded, err := store.LoadVersions(ctx, "loan-1")
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
