/*
Package factory provides JSON to Go contract conversion.

PURPOSE:
  Converts JSON contract definitions (HTTP bodies, files passed to the
  CLI) into contract.Contract values. Amounts travel as decimal strings
  and dates as YYYY-MM-DD so nothing is lost to float parsing.

JSON SCHEMA:
  {
    "id": "C-100",
    "tenant_id": "tenant-7",
    "landlord_id": "owner-3",
    "agency_id": "agency",
    "monthly_rent": "1000.00",
    "commission_rate": "0.10",
    "start": "2025-01-01",
    "months": 24,
    "due_day": 10,
    "deposit": "2000.00",
    "index": {"name": "ICL", "base": "1.00", "adjust_every": 3}
  }

DEFAULTS:
  - commission_rate: "0" (no agency line)
  - due_day: 10
  - deposit: "0" (no deposit entry)
  - index.base: "1"

USAGE:
  f := factory.NewContractFactory()
  c, err := f.ParseContract(jsonString)
  res, err := contract.Accrue(ctx, engine, *c)

SEE ALSO:
  - contract/contract.go: Contract type and validation
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rent-ledger/contract"
	"github.com/warp/rent-ledger/ledger"
)

const dateLayout = "2006-01-02"

// DefaultDueDay applies when the definition leaves due_day out.
const DefaultDueDay = 10

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ContractJSON is the JSON representation of a contract.
type ContractJSON struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	LandlordID     string     `json:"landlord_id"`
	AgencyID       string     `json:"agency_id,omitempty"`
	MonthlyRent    string     `json:"monthly_rent"`
	CommissionRate string     `json:"commission_rate,omitempty"`
	Start          string     `json:"start"`
	Months         int        `json:"months"`
	DueDay         *int       `json:"due_day,omitempty"`
	Deposit        string     `json:"deposit,omitempty"`
	Index          *IndexJSON `json:"index,omitempty"`
}

// IndexJSON configures index linking.
type IndexJSON struct {
	Name        string `json:"name"`
	Base        string `json:"base,omitempty"`
	AdjustEvery int    `json:"adjust_every"`
}

// =============================================================================
// CONTRACT FACTORY
// =============================================================================

// ContractFactory converts JSON contracts to Go structs.
type ContractFactory struct{}

func NewContractFactory() *ContractFactory {
	return &ContractFactory{}
}

// ParseContract parses a JSON string into a validated Contract.
func (f *ContractFactory) ParseContract(jsonStr string) (*contract.Contract, error) {
	var cj ContractJSON
	if err := json.Unmarshal([]byte(jsonStr), &cj); err != nil {
		return nil, fmt.Errorf("failed to parse contract JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts ContractJSON to a validated contract.Contract.
func (f *ContractFactory) FromJSON(cj ContractJSON) (*contract.Contract, error) {
	rent, err := parseAmount("monthly_rent", cj.MonthlyRent, "")
	if err != nil {
		return nil, err
	}
	rate, err := parseAmount("commission_rate", cj.CommissionRate, "0")
	if err != nil {
		return nil, err
	}
	deposit, err := parseAmount("deposit", cj.Deposit, "0")
	if err != nil {
		return nil, err
	}
	start, err := time.Parse(dateLayout, cj.Start)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid start date %q", contract.ErrInvalidContract, cj.Start)
	}

	c := &contract.Contract{
		ID:             ledger.ContractID(cj.ID),
		TenantID:       ledger.CounterpartyID(cj.TenantID),
		LandlordID:     ledger.CounterpartyID(cj.LandlordID),
		AgencyID:       ledger.CounterpartyID(cj.AgencyID),
		MonthlyRent:    rent,
		CommissionRate: rate,
		Start:          start,
		Months:         cj.Months,
		DueDay:         DefaultDueDay,
		Deposit:        deposit,
	}
	if cj.DueDay != nil {
		c.DueDay = *cj.DueDay
	}

	if cj.Index != nil {
		base, err := parseAmount("index.base", cj.Index.Base, "1")
		if err != nil {
			return nil, err
		}
		c.IndexName = cj.Index.Name
		c.IndexBase = base
		c.AdjustEvery = cj.Index.AdjustEvery
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ToJSON converts a Contract to ContractJSON.
func (f *ContractFactory) ToJSON(c contract.Contract) ContractJSON {
	due := c.DueDay
	cj := ContractJSON{
		ID:             string(c.ID),
		TenantID:       string(c.TenantID),
		LandlordID:     string(c.LandlordID),
		AgencyID:       string(c.AgencyID),
		MonthlyRent:    c.MonthlyRent.StringFixed(ledger.MoneyPlaces),
		CommissionRate: c.CommissionRate.String(),
		Start:          c.Start.Format(dateLayout),
		Months:         c.Months,
		DueDay:         &due,
		Deposit:        c.Deposit.StringFixed(ledger.MoneyPlaces),
	}
	if c.IndexLinked() {
		cj.Index = &IndexJSON{Name: c.IndexName, Base: c.IndexBase.String(), AdjustEvery: c.AdjustEvery}
	}
	return cj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseAmount(field, s, fallback string) (decimal.Decimal, error) {
	if s == "" {
		s = fallback
	}
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: %s required", contract.ErrInvalidContract, field)
	}
	d, err := ledger.ParseMoney(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", contract.ErrInvalidContract, field, err)
	}
	return d, nil
}
