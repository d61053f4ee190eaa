/*
Package contract generates the monthly journal entries of a rent contract.

PURPOSE:
  A contract is the source of every rent entry. This package turns one
  contract into one ledger.NewEntry per billing month (plus the security
  deposit) and feeds them to the engine. The engine never knows about
  contracts beyond the ContractID stamped on each entry.

ENTRY SHAPE (one per month):
  debit  receivable-rent    tenant    rent
  credit payable-landlord   landlord  rent - commission
  credit income-commission  agency    commission

  commission = round(rent * commission_rate, 2); the rounding residue
  stays with the landlord so the entry balances to the cent.

INDEX LINKING:
  With IndexName set and AdjustEvery = N, months 0..N-1 are billed at the
  contract rent. Every later month belongs to the adjustment block that
  starts at the last multiple of N and is created PENDING_ADJUSTMENT,
  linked to the index value of that block's first month. The adjustment
  job prices it once the value is published.

IDEMPOTENCY:
  Entry ids are derived from the contract id and the billing month
  (<contract>-2025-04, <contract>-deposit), so running Accrue twice only
  creates what is missing.

SEE ALSO:
  - schedule.go: Billing periods
  - jobs/adjustment.go: Applies index values to linked entries
*/
package contract

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rent-ledger/ledger"
)

var (
	ErrInvalidContract = errors.New("invalid contract")
)

// Contract is a rent agreement between a tenant and a landlord, managed by
// an agency that keeps a commission on every collected month.
type Contract struct {
	ID         ledger.ContractID     `json:"id"`
	TenantID   ledger.CounterpartyID `json:"tenant_id"`
	LandlordID ledger.CounterpartyID `json:"landlord_id"`
	AgencyID   ledger.CounterpartyID `json:"agency_id"`

	MonthlyRent    decimal.Decimal `json:"monthly_rent"`
	CommissionRate decimal.Decimal `json:"commission_rate"` // 0.10 = 10%

	Start  time.Time `json:"start"` // first billed month
	Months int       `json:"months"`
	DueDay int       `json:"due_day"` // day of month rent is due; 0 = first day

	Deposit decimal.Decimal `json:"deposit"`

	// Index linking; empty IndexName disables it.
	IndexName   string          `json:"index_name,omitempty"`
	IndexBase   decimal.Decimal `json:"index_base"`
	AdjustEvery int             `json:"adjust_every"`
}

// Validate checks the contract before any entry is generated.
func (c Contract) Validate() error {
	switch {
	case c.ID == "":
		return fmt.Errorf("%w: id required", ErrInvalidContract)
	case c.TenantID == "" || c.LandlordID == "":
		return fmt.Errorf("%w: tenant and landlord required", ErrInvalidContract)
	case !c.MonthlyRent.IsPositive():
		return fmt.Errorf("%w: monthly rent must be positive", ErrInvalidContract)
	case c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)):
		return fmt.Errorf("%w: commission rate must be in [0, 1)", ErrInvalidContract)
	case c.CommissionRate.IsPositive() && c.AgencyID == "":
		return fmt.Errorf("%w: agency required when a commission is charged", ErrInvalidContract)
	case c.Months <= 0:
		return fmt.Errorf("%w: months must be positive", ErrInvalidContract)
	case c.Start.IsZero():
		return fmt.Errorf("%w: start date required", ErrInvalidContract)
	case c.DueDay < 0 || c.DueDay > 31:
		return fmt.Errorf("%w: due day must be 0-31", ErrInvalidContract)
	case c.Deposit.IsNegative():
		return fmt.Errorf("%w: deposit must not be negative", ErrInvalidContract)
	}
	if c.IndexName != "" {
		if !c.IndexBase.IsPositive() {
			return fmt.Errorf("%w: index base must be positive", ErrInvalidContract)
		}
		if c.AdjustEvery <= 0 {
			return fmt.Errorf("%w: adjust_every must be positive for an index-linked contract", ErrInvalidContract)
		}
	}
	return nil
}

// IndexLinked reports whether later periods wait for an index value.
func (c Contract) IndexLinked() bool {
	return c.IndexName != "" && c.AdjustEvery > 0
}

// Split divides one month of rent into landlord share and commission.
func (c Contract) Split() (landlord, commission decimal.Decimal) {
	commission = c.MonthlyRent.Mul(c.CommissionRate).Round(ledger.MoneyPlaces)
	return c.MonthlyRent.Sub(commission), commission
}
