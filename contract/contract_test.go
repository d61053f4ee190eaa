package contract_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-ledger/accounts"
	"github.com/warp/rent-ledger/config"
	"github.com/warp/rent-ledger/contract"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/ledger/store"
)

func sampleContract() contract.Contract {
	return contract.Contract{
		ID:             "C-100",
		TenantID:       "tenant",
		LandlordID:     "owner",
		AgencyID:       "agency",
		MonthlyRent:    ledger.Money("1000"),
		CommissionRate: ledger.Money("0.10"),
		Start:          time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC),
		Months:         6,
		DueDay:         31,
		Deposit:        ledger.Money("2000"),
	}
}

func newEngine() *ledger.Engine {
	return ledger.NewEngine(store.NewMemory(), ledger.WithChart(accounts.NewStaticChart(config.Default().Chart)))
}

func TestSchedule_MonthlyEntriesBalanced(t *testing.T) {
	c := sampleContract()

	entries, err := c.Schedule()
	require.NoError(t, err)
	require.Len(t, entries, 7, "deposit + 6 months")

	deposit := entries[0]
	assert.Equal(t, ledger.EntryID("C-100-deposit"), deposit.ID)
	assert.Equal(t, "Security Deposit", deposit.Category)

	feb := entries[2]
	assert.Equal(t, ledger.EntryID("C-100-2025-02"), feb.ID)
	assert.Equal(t, time.Date(2025, time.February, 1, 0, 0, 0, 0, time.UTC), feb.AccrualDate)
	assert.Equal(t, time.Date(2025, time.February, 28, 0, 0, 0, 0, time.UTC), feb.DueDate, "due day clamps to month end")
	require.Len(t, feb.Lines, 3)
	assert.True(t, feb.Lines[1].Credit.Equal(ledger.Money("900")))
	assert.True(t, feb.Lines[2].Credit.Equal(ledger.Money("100")))
	assert.Equal(t, ledger.CounterpartyID("agency"), feb.Lines[2].CounterpartyID)
	assert.False(t, feb.AwaitingIndex)
}

func TestSplit_ResidueStaysWithLandlord(t *testing.T) {
	c := sampleContract()
	c.MonthlyRent = ledger.Money("1234.57")
	c.CommissionRate = ledger.Money("0.075")

	landlord, commission := c.Split()

	assert.Equal(t, "92.59", commission.StringFixed(2))
	assert.Equal(t, "1141.98", landlord.StringFixed(2))
	assert.True(t, landlord.Add(commission).Equal(c.MonthlyRent))
}

func TestSchedule_IndexLinkedBlocks(t *testing.T) {
	// GIVEN: A 7-month contract adjusted every 3 months
	// WHEN: The schedule is generated
	// THEN: Months 0-2 are plain, 3-5 wait on the April value, 6 on July

	c := sampleContract()
	c.Deposit = ledger.Money("0")
	c.Months = 7
	c.IndexName = "ICL"
	c.IndexBase = ledger.Money("1.00")
	c.AdjustEvery = 3

	entries, err := c.Schedule()
	require.NoError(t, err)
	require.Len(t, entries, 7)

	for i, e := range entries {
		switch {
		case i < 3:
			assert.False(t, e.AwaitingIndex, "month %d", i)
			assert.Nil(t, e.Index)
		case i < 6:
			require.NotNil(t, e.Index, "month %d", i)
			assert.True(t, e.AwaitingIndex)
			assert.Equal(t, "2025-04", e.Index.Period)
			assert.Equal(t, "ICL", e.Index.Name)
		default:
			require.NotNil(t, e.Index)
			assert.Equal(t, "2025-07", e.Index.Period)
		}
	}
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *contract.Contract)
	}{
		{"missing id", func(c *contract.Contract) { c.ID = "" }},
		{"missing landlord", func(c *contract.Contract) { c.LandlordID = "" }},
		{"zero rent", func(c *contract.Contract) { c.MonthlyRent = ledger.Money("0") }},
		{"commission of 100%", func(c *contract.Contract) { c.CommissionRate = ledger.Money("1") }},
		{"commission without agency", func(c *contract.Contract) { c.AgencyID = "" }},
		{"no months", func(c *contract.Contract) { c.Months = 0 }},
		{"bad due day", func(c *contract.Contract) { c.DueDay = 40 }},
		{"index without base", func(c *contract.Contract) { c.IndexName = "ICL"; c.AdjustEvery = 3 }},
		{"index without cadence", func(c *contract.Contract) { c.IndexName = "ICL"; c.IndexBase = ledger.Money("1") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := sampleContract()
			tt.mutate(&c)
			_, err := c.Schedule()
			assert.ErrorIs(t, err, contract.ErrInvalidContract)
		})
	}
}

func TestAccrue_CreatesEntriesThroughChartAndIsIdempotent(t *testing.T) {
	eng := newEngine()
	ctx := context.Background()
	c := sampleContract()
	c.IndexName = "ICL"
	c.IndexBase = ledger.Money("1.00")
	c.AdjustEvery = 4

	res, err := contract.Accrue(ctx, eng, c)
	require.NoError(t, err)
	assert.Len(t, res.Created, 7)
	assert.Empty(t, res.Skipped)

	jan, err := eng.GetEntry(ctx, "C-100-2025-01")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, jan.Status)
	assert.Equal(t, ledger.ContractID("C-100"), jan.ContractID)
	assert.Equal(t, ledger.AccountID(accounts.CodePayableLandlord), jan.Lines[1].AccountID)

	may, err := eng.GetEntry(ctx, "C-100-2025-05")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPendingAdjustment, may.Status)

	again, err := contract.Accrue(ctx, eng, c)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Len(t, again.Skipped, 7)
}

func TestAccrue_UnknownCodeStops(t *testing.T) {
	eng := ledger.NewEngine(store.NewMemory(), ledger.WithChart(accounts.NewStaticChart(map[string]string{
		accounts.CodeReceivableRent: "1.1.01",
	})))

	res, err := contract.Accrue(context.Background(), eng, sampleContract())

	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrUnknownAccountCode)
	assert.Empty(t, res.Created)
}
