package contract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/rent-ledger/accounts"
	"github.com/warp/rent-ledger/ledger"
)

// =============================================================================
// PERIOD - One billing month
// =============================================================================

// Period is one billed month, [Start, End] inclusive, UTC days.
type Period struct {
	Index int // months since contract start, 0-based
	Start time.Time
	End   time.Time
}

// Key is the YYYY-MM label used in entry ids and index periods.
func (p Period) Key() string { return p.Start.Format("2006-01") }

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func endOfMonth(t time.Time) time.Time {
	return startOfMonth(t).AddDate(0, 1, -1)
}

// dueDate clamps day to the month's length so a due day of 31 lands on
// the last day of shorter months.
func dueDate(p Period, day int) time.Time {
	if day <= 0 {
		return p.Start
	}
	if last := p.End.Day(); day > last {
		day = last
	}
	return time.Date(p.Start.Year(), p.Start.Month(), day, 0, 0, 0, 0, time.UTC)
}

// Periods returns every billed month of the contract.
func (c Contract) Periods() []Period {
	out := make([]Period, 0, c.Months)
	first := startOfMonth(c.Start)
	for i := 0; i < c.Months; i++ {
		start := first.AddDate(0, i, 0)
		out = append(out, Period{Index: i, Start: start, End: endOfMonth(start)})
	}
	return out
}

// adjustmentPeriod returns the first month of the adjustment block that p
// belongs to, or false while p is still priced at the contract rent.
func (c Contract) adjustmentPeriod(p Period) (Period, bool) {
	if !c.IndexLinked() || p.Index < c.AdjustEvery {
		return Period{}, false
	}
	blockStart := (p.Index / c.AdjustEvery) * c.AdjustEvery
	start := startOfMonth(c.Start).AddDate(0, blockStart, 0)
	return Period{Index: blockStart, Start: start, End: endOfMonth(start)}, true
}

// =============================================================================
// SCHEDULE
// =============================================================================

// EntryID is the deterministic id of the entry billed for period p.
func (c Contract) EntryID(p Period) ledger.EntryID {
	return ledger.EntryID(fmt.Sprintf("%s-%s", c.ID, p.Key()))
}

// DepositEntryID is the deterministic id of the deposit entry.
func (c Contract) DepositEntryID() ledger.EntryID {
	return ledger.EntryID(fmt.Sprintf("%s-deposit", c.ID))
}

// Schedule returns every entry the contract generates: the deposit first
// (when positive), then one rent entry per month.
func (c Contract) Schedule() ([]ledger.NewEntry, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var out []ledger.NewEntry
	if c.Deposit.IsPositive() {
		out = append(out, c.depositEntry())
	}
	for _, p := range c.Periods() {
		out = append(out, c.rentEntry(p))
	}
	return out, nil
}

func (c Contract) rentEntry(p Period) ledger.NewEntry {
	landlord, commission := c.Split()
	lines := []ledger.NewLine{
		{AccountCode: accounts.CodeReceivableRent, Description: "Rent " + p.Key(), Debit: c.MonthlyRent, CounterpartyID: c.TenantID},
		{AccountCode: accounts.CodePayableLandlord, Description: "Landlord share " + p.Key(), Credit: landlord, CounterpartyID: c.LandlordID},
	}
	if commission.IsPositive() {
		lines = append(lines, ledger.NewLine{
			AccountCode: accounts.CodeIncomeCommission, Description: "Commission " + p.Key(), Credit: commission, CounterpartyID: c.AgencyID,
		})
	}

	entry := ledger.NewEntry{
		ID:          c.EntryID(p),
		ContractID:  c.ID,
		AccrualDate: p.Start,
		DueDate:     dueDate(p, c.DueDay),
		Category:    "Rent",
		Description: fmt.Sprintf("Rent %s %s", c.ID, p.Key()),
		Lines:       lines,
		Actor:       "accrual",
	}
	if block, ok := c.adjustmentPeriod(p); ok {
		entry.Index = &ledger.IndexLink{Name: c.IndexName, Period: block.Key(), BaseValue: c.IndexBase}
		entry.AwaitingIndex = true
	}
	return entry
}

func (c Contract) depositEntry() ledger.NewEntry {
	start := startOfMonth(c.Start)
	return ledger.NewEntry{
		ID:          c.DepositEntryID(),
		ContractID:  c.ID,
		AccrualDate: start,
		DueDate:     start,
		Category:    "Security Deposit",
		Description: fmt.Sprintf("Security deposit %s", c.ID),
		Lines: []ledger.NewLine{
			{AccountCode: accounts.CodeReceivableRent, Description: "Security deposit", Debit: c.Deposit, CounterpartyID: c.TenantID},
			{AccountCode: accounts.CodeDepositHeld, Description: "Deposit held", Credit: c.Deposit, CounterpartyID: c.LandlordID},
		},
		Actor: "accrual",
	}
}

// =============================================================================
// ACCRUE
// =============================================================================

// EntryCreator is the part of the engine Accrue needs.
type EntryCreator interface {
	CreateEntry(ctx context.Context, in ledger.NewEntry) (*ledger.Entry, error)
}

type AccrualResult struct {
	ContractID ledger.ContractID `json:"contract_id"`
	Created    []ledger.EntryID  `json:"created"`
	Skipped    []ledger.EntryID  `json:"skipped"` // already present from an earlier run
}

// Accrue creates every scheduled entry that does not exist yet. It stops at
// the first failure other than a duplicate id; entries created before the
// failure stay.
func Accrue(ctx context.Context, engine EntryCreator, c Contract) (*AccrualResult, error) {
	entries, err := c.Schedule()
	if err != nil {
		return nil, err
	}

	res := &AccrualResult{ContractID: c.ID}
	for _, in := range entries {
		_, err := engine.CreateEntry(ctx, in)
		switch {
		case err == nil:
			res.Created = append(res.Created, in.ID)
		case errors.Is(err, ledger.ErrDuplicateEntry):
			res.Skipped = append(res.Skipped, in.ID)
		default:
			return res, fmt.Errorf("accrue %s: %w", in.ID, err)
		}
	}
	return res, nil
}
