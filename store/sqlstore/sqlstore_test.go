package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/store/sqlstore"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	st, err := sqlstore.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.OpenCashAccount(context.Background(), "caja", "Main cash box"))
	return st
}

func sampleEntry(id ledger.EntryID, accrual time.Time) *ledger.Entry {
	return &ledger.Entry{
		ID:             id,
		ContractID:     "contract-1",
		AccrualDate:    accrual,
		Category:       "Rent",
		OriginalAmount: ledger.Money("1000"),
		CurrentAmount:  ledger.Money("1000"),
		Status:         ledger.StatusPending,
		Lines: []ledger.Line{
			{AccountID: "receivable-rent", Debit: ledger.Money("1000"), CounterpartyID: "A"},
			{AccountID: "payable-landlord", Credit: ledger.Money("900"), CounterpartyID: "B"},
			{AccountID: "income-commission", Credit: ledger.Money("100"), CounterpartyID: "C"},
		},
	}
}

// =============================================================================
// STORE CONTRACT
// =============================================================================

func TestSQLStore_InsertAndGet_RoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	accrual := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)

	e := sampleEntry("e1", accrual)
	e.Lines[0].Tax = &ledger.TaxInfo{Inclusive: true, Rate: ledger.Money("0.21")}
	require.NoError(t, st.InsertEntry(ctx, e))

	got, err := st.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.AccrualDate.Equal(accrual))
	assert.True(t, got.CurrentAmount.Equal(ledger.Money("1000")))
	require.Len(t, got.Lines, 3)
	assert.Equal(t, ledger.CounterpartyID("B"), got.Lines[1].CounterpartyID)
	require.NotNil(t, got.Lines[0].Tax)
	assert.True(t, got.Lines[0].Tax.Rate.Equal(ledger.Money("0.21")))

	err = st.InsertEntry(ctx, sampleEntry("e1", accrual))
	assert.ErrorIs(t, err, ledger.ErrDuplicateEntry)

	_, err = st.GetEntry(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
}

func TestSQLStore_UpdateEntry_VersionCheck(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.InsertEntry(ctx, sampleEntry("e1", time.Now())))

	a, _ := st.GetEntry(ctx, "e1")
	b, _ := st.GetEntry(ctx, "e1")

	a.Status = ledger.StatusPartiallyPaid
	require.NoError(t, st.UpdateEntry(ctx, a, 1))
	assert.Equal(t, int64(2), a.Version)

	b.Status = ledger.StatusVoided
	assert.ErrorIs(t, st.UpdateEntry(ctx, b, 1), ledger.ErrConcurrentModification)

	ghost := sampleEntry("ghost", time.Now())
	assert.ErrorIs(t, st.UpdateEntry(ctx, ghost, 1), ledger.ErrEntryNotFound)

	stored, _ := st.GetEntry(ctx, "e1")
	assert.Equal(t, ledger.StatusPartiallyPaid, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
}

func TestSQLStore_ListEntries_Filters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	jan := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, st.InsertEntry(ctx, sampleEntry("mar", jan.AddDate(0, 2, 0))))
	require.NoError(t, st.InsertEntry(ctx, sampleEntry("jan", jan)))
	other := sampleEntry("feb", jan.AddDate(0, 1, 0))
	other.ContractID = "contract-2"
	other.Lines[1].CounterpartyID = "Z"
	other.Status = ledger.StatusPaid
	require.NoError(t, st.InsertEntry(ctx, other))

	all, err := st.ListEntries(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ledger.EntryID("jan"), all[0].ID)
	assert.Equal(t, ledger.EntryID("mar"), all[2].ID)

	byCp, err := st.ListEntries(ctx, ledger.EntryFilter{CounterpartyID: "B"})
	require.NoError(t, err)
	assert.Len(t, byCp, 2)

	cutoff := jan.AddDate(0, 1, 0)
	before, err := st.ListEntries(ctx, ledger.EntryFilter{AccruedBefore: &cutoff})
	require.NoError(t, err)
	assert.Len(t, before, 2)

	paid, err := st.ListEntries(ctx, ledger.EntryFilter{Statuses: []ledger.Status{ledger.StatusPaid, ledger.StatusSettled}})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, ledger.EntryID("feb"), paid[0].ID)

	byContract, err := st.ListEntries(ctx, ledger.EntryFilter{ContractID: "contract-1"})
	require.NoError(t, err)
	assert.Len(t, byContract, 2)
}

func TestSQLStore_WithTx_RollsBackEntryAndBalance(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.InsertEntry(ctx, sampleEntry("e1", time.Now())))

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(tx ledger.Tx) error {
		e, err := tx.GetEntry(ctx, "e1")
		require.NoError(t, err)
		e.Status = ledger.StatusPaid
		require.NoError(t, tx.UpdateEntry(ctx, e, 1))
		require.NoError(t, tx.UpdateBalance(ctx, ledger.CashMovement{
			ID: "m1", AccountID: "caja", EntryID: "e1", Direction: ledger.Inflow, Amount: ledger.Money("1000"), At: time.Now(),
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	e, _ := st.GetEntry(ctx, "e1")
	assert.Equal(t, ledger.StatusPending, e.Status)
	acc, err := st.GetCashAccount(ctx, "caja")
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero())
	moves, err := st.ListMovements(ctx, "caja")
	require.NoError(t, err)
	assert.Empty(t, moves)
}

func TestSQLStore_CashAccounts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.OpenCashAccount(ctx, "caja", "Renamed?"), "opening twice is a no-op")
	acc, err := st.GetCashAccount(ctx, "caja")
	require.NoError(t, err)
	assert.Equal(t, "Main cash box", acc.Name)

	at := time.Date(2025, time.May, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpdateBalance(ctx, ledger.CashMovement{ID: "m1", AccountID: "caja", Direction: ledger.Inflow, Amount: ledger.Money("150.25"), Reference: "rc-1", At: at}))
	require.NoError(t, st.UpdateBalance(ctx, ledger.CashMovement{ID: "m2", AccountID: "caja", Direction: ledger.Outflow, Amount: ledger.Money("50.25"), At: at.Add(time.Minute)}))

	acc, err = st.GetCashAccount(ctx, "caja")
	require.NoError(t, err)
	assert.True(t, acc.Balance.Equal(ledger.Money("100")), acc.Balance.String())

	moves, err := st.ListMovements(ctx, "caja")
	require.NoError(t, err)
	require.Len(t, moves, 2)
	assert.Equal(t, "m1", moves[0].ID)
	assert.Equal(t, "rc-1", moves[0].Reference)
	assert.True(t, moves[0].At.Equal(at))

	err = st.UpdateBalance(ctx, ledger.CashMovement{ID: "m3", AccountID: "nope", Direction: ledger.Inflow, Amount: ledger.Money("1")})
	assert.ErrorIs(t, err, ledger.ErrCashAccountNotFound)
}

func TestSQLStore_ListMovements_CorruptRowFails(t *testing.T) {
	// GIVEN: A movement row whose amount or timestamp no longer parses
	// WHEN: The account's movements are listed
	// THEN: The read fails instead of reporting a zero amount or time

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	st, err := sqlstore.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.OpenCashAccount(ctx, "caja", "Main cash box"))

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	_, err = raw.ExecContext(ctx, `INSERT INTO cash_movements (id, account_id, direction, amount, at)
		VALUES ('m-1', 'caja', 'INFLOW', 'twelve', '2025-03-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = st.ListMovements(ctx, "caja")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt amount for movement m-1")

	_, err = raw.ExecContext(ctx, `UPDATE cash_movements SET amount = '12.00', at = 'yesterday' WHERE id = 'm-1'`)
	require.NoError(t, err)
	_, err = st.ListMovements(ctx, "caja")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt timestamp for movement m-1")
}

func TestSQLStore_Receipts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	rc := &ledger.Receipt{
		ID:            "R-1",
		CashAccountID: "caja",
		Date:          time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC),
		Method:        "cash",
		Results: []ledger.ReceiptLineResult{
			{Kind: ledger.ReceiptCollection, EntryID: "e1", Outcome: ledger.OutcomeProcessed, Amount: ledger.Money("400")},
		},
		Totals: ledger.ReceiptTotals{Inflow: ledger.Money("400"), Outflow: ledger.Money("0"), Net: ledger.Money("400"), Processed: 1},
	}
	require.NoError(t, st.SaveReceipt(ctx, rc))
	assert.ErrorIs(t, st.SaveReceipt(ctx, rc), ledger.ErrReceiptExists)

	got, err := st.GetReceipt(ctx, "R-1")
	require.NoError(t, err)
	assert.Equal(t, "cash", got.Method)
	assert.True(t, got.Date.Equal(rc.Date))
	require.Len(t, got.Results, 1)
	assert.True(t, got.Totals.Net.Equal(ledger.Money("400")))

	require.NoError(t, st.Reset(ctx))
	_, err = st.GetReceipt(ctx, "R-1")
	assert.ErrorIs(t, err, ledger.ErrReceiptNotFound)
}

func TestSQLStore_Reset(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.InsertEntry(ctx, sampleEntry("e1", time.Now())))

	require.NoError(t, st.Reset(ctx))

	all, err := st.ListEntries(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	_, err = st.GetCashAccount(ctx, "caja")
	assert.ErrorIs(t, err, ledger.ErrCashAccountNotFound)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := sqlstore.Open("oracle", "whatever")
	assert.Error(t, err)
}

// =============================================================================
// ENGINE OVER SQL
// =============================================================================

func TestEngineOverSQL_PaymentSettlementAndRollback(t *testing.T) {
	// GIVEN: The rent entry persisted in SQLite
	// WHEN: Paid in full and both creditors settled
	// THEN: The entry is SETTLED and the cash box nets to zero

	st := newTestStore(t)
	ctx := context.Background()
	eng := ledger.NewEngine(st, ledger.WithDefaultCashAccount("caja"))

	entry, err := eng.CreateEntry(ctx, ledger.NewEntry{
		Category: "Rent",
		Lines: []ledger.NewLine{
			{AccountID: "receivable-rent", Debit: ledger.Money("1000"), CounterpartyID: "A"},
			{AccountID: "payable-landlord", Credit: ledger.Money("900"), CounterpartyID: "B"},
			{AccountID: "income-commission", Credit: ledger.Money("100"), CounterpartyID: "C"},
		},
	})
	require.NoError(t, err)

	_, err = eng.RegisterPayment(ctx, ledger.PaymentInput{EntryID: entry.ID, Amount: ledger.Money("100"), CashAccountID: "missing"})
	require.ErrorIs(t, err, ledger.ErrCashAccountNotFound)
	stored, err := eng.GetEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version, "failed balance update rolls back the entry")

	_, err = eng.RegisterPayment(ctx, ledger.PaymentInput{EntryID: entry.ID, Amount: ledger.Money("1000")})
	require.NoError(t, err)
	_, err = eng.SettleCreditor(ctx, ledger.SettlementInput{EntryID: entry.ID, CounterpartyID: "B"})
	require.NoError(t, err)
	res, err := eng.SettleCreditor(ctx, ledger.SettlementInput{EntryID: entry.ID, CounterpartyID: "C"})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSettled, res.Entry.Status)

	st2, err := eng.GetStatement(ctx, ledger.StatementQuery{CounterpartyID: "B"})
	require.NoError(t, err)
	require.Len(t, st2.Movements, 1)
	assert.True(t, st2.Movements[0].AlreadySettled.Equal(ledger.Money("900")))

	acc, err := st.GetCashAccount(ctx, "caja")
	require.NoError(t, err)
	assert.True(t, acc.Balance.IsZero(), acc.Balance.String())
}
