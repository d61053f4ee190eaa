/*
Package ledger provides the rent accounting engine.

PURPOSE:
  This package records double-entry journal entries for rent contracts,
  applies partial payments from debtors and pays creditors (landlord,
  agency) only in proportion to the cash actually collected. It also
  projects a point-in-time account statement per counterparty.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: One journal entry with ordered debit/credit lines
  - Line: One leg of an entry, with paid/settled accumulators
  - Status: The entry lifecycle state (see statemachine.go)
  - AuditRecord: Append-only history of every accepted mutation

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, rounded to MoneyPlaces
  2. Balance: sum(debit) == sum(credit) for every entry ever created
  3. Monotonic accumulators: PaidToDate and SettledToDate never decrease
  4. Auditability: Every accepted mutation appends exactly one AuditRecord

USAGE:
  entry, err := engine.CreateEntry(ctx, ledger.NewEntry{
      Category: "Rent",
      Lines: []ledger.NewLine{
          {AccountCode: "receivable-rent", Debit: ledger.Money("1000"), CounterpartyID: "tenant-1"},
          {AccountCode: "payable-landlord", Credit: ledger.Money("900"), CounterpartyID: "owner-1"},
          {AccountCode: "income-commission", Credit: ledger.Money("100"), CounterpartyID: "agency"},
      },
  })

SEE ALSO:
  - engine.go: Read-modify-write loop with optimistic concurrency
  - payment.go: Debit-side waterfall
  - liquidation.go: Proportional creditor payouts
  - statement.go: Account statement projection
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places kept on every accumulator.
const MoneyPlaces int32 = 2

// =============================================================================
// MONEY HELPERS
// =============================================================================

// Money parses a decimal literal. Invalid input yields zero; use it for
// constants and tests, never for user input.
func Money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseMoney parses user-supplied amounts.
func ParseMoney(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

func roundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

func minMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string
type ContractID string
type CounterpartyID string
type AccountID string
type CashAccountID string

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPendingAdjustment Status = "PENDING_ADJUSTMENT"
	StatusPartiallyPaid     Status = "PARTIALLY_PAID"
	StatusPaid              Status = "PAID"
	StatusVoided            Status = "VOIDED"
	StatusForgiven          Status = "FORGIVEN"
	StatusSettled           Status = "SETTLED"
	StatusPendingInvoice    Status = "PENDING_INVOICE"
	StatusInvoiced          Status = "INVOICED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusPendingAdjustment, StatusPartiallyPaid, StatusPaid,
	StatusVoided, StatusForgiven, StatusSettled, StatusPendingInvoice, StatusInvoiced,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// =============================================================================
// LINE - One debit or credit leg ("partida")
// =============================================================================

// TaxInfo is carried through unchanged; the engine never reads it.
type TaxInfo struct {
	Inclusive   bool            `json:"inclusive"`
	Rate        decimal.Decimal `json:"rate"`
	TaxableBase decimal.Decimal `json:"taxable_base"`
	Tax         decimal.Decimal `json:"tax"`
}

type Line struct {
	AccountID      AccountID       `json:"account_id"`
	Description    string          `json:"description,omitempty"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	CounterpartyID CounterpartyID  `json:"counterparty_id,omitempty"`

	// Cumulative cash collected against a debit line.
	PaidToDate decimal.Decimal `json:"paid_to_date"`
	// Cumulative cash paid out against a credit line.
	SettledToDate decimal.Decimal `json:"settled_to_date"`

	Tax *TaxInfo `json:"tax,omitempty"`
}

func (l Line) IsDebit() bool  { return l.Debit.IsPositive() }
func (l Line) IsCredit() bool { return l.Credit.IsPositive() }

// Shortfall is what is still owed on a debit line.
func (l Line) Shortfall() decimal.Decimal { return l.Debit.Sub(l.PaidToDate) }

// =============================================================================
// AUDIT TRAIL
// =============================================================================

type AuditAction string

const (
	AuditCreated     AuditAction = "created"
	AuditPayment     AuditAction = "payment"
	AuditSettlement  AuditAction = "settlement"
	AuditForgiveness AuditAction = "forgiveness"
	AuditVoid        AuditAction = "void"
	AuditAdjustment  AuditAction = "index_adjustment"
	AuditInvoiceReq  AuditAction = "invoice_requested"
	AuditInvoiced    AuditAction = "invoiced"
)

type AuditRecord struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	Actor          string          `json:"actor"`
	Action         AuditAction     `json:"action"`
	PreviousStatus Status          `json:"previous_status,omitempty"`
	NewStatus      Status          `json:"new_status"`
	Amount         decimal.Decimal `json:"amount"`
	Note           string          `json:"note,omitempty"`
}

// =============================================================================
// ENTRY - One journal entry ("asiento")
// =============================================================================

// IndexLink ties an entry to an inflation index. BaseValue is the index value
// the original amount was priced at; Period names the value that will adjust it.
type IndexLink struct {
	Name      string          `json:"name"`
	Period    string          `json:"period"`
	BaseValue decimal.Decimal `json:"base_value"`
	Applied   decimal.Decimal `json:"applied,omitempty"`
}

type PaymentInfo struct {
	Date    time.Time `json:"date"`
	Method  string    `json:"method"`
	Voucher string    `json:"voucher,omitempty"`
}

type SettlementInfo struct {
	Date    time.Time `json:"date"`
	Method  string    `json:"method"`
	Voucher string    `json:"voucher,omitempty"`
}

type VoidInfo struct {
	Date   time.Time `json:"date"`
	Reason string    `json:"reason"`
}

type ForgivenessInfo struct {
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	Authorizer string          `json:"authorizer"`
	Reason     string          `json:"reason,omitempty"`
}

type Entry struct {
	ID         EntryID    `json:"id"`
	ContractID ContractID `json:"contract_id,omitempty"`

	AccrualDate time.Time `json:"accrual_date"`
	DueDate     time.Time `json:"due_date"`

	Category    string `json:"category"`
	Description string `json:"description,omitempty"`

	OriginalAmount decimal.Decimal `json:"original_amount"`
	CurrentAmount  decimal.Decimal `json:"current_amount"`

	Status Status `json:"status"`
	Lines  []Line `json:"lines"`

	Index *IndexLink `json:"index,omitempty"`

	// ForgivenTotal is the part of PaidToDate that never arrived as cash.
	ForgivenTotal decimal.Decimal `json:"forgiven_total"`

	Payment     *PaymentInfo     `json:"payment,omitempty"`
	Settlement  *SettlementInfo  `json:"settlement,omitempty"`
	Void        *VoidInfo        `json:"void,omitempty"`
	Forgiveness *ForgivenessInfo `json:"forgiveness,omitempty"`
	InvoiceRef  string           `json:"invoice_ref,omitempty"`

	Audit []AuditRecord `json:"audit"`

	// Version is bumped on every successful write; writers must present the
	// version they read.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without touching stored state.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Lines = make([]Line, len(e.Lines))
	for i, l := range e.Lines {
		c.Lines[i] = l
		if l.Tax != nil {
			tax := *l.Tax
			c.Lines[i].Tax = &tax
		}
	}
	c.Audit = append([]AuditRecord(nil), e.Audit...)
	if e.Index != nil {
		idx := *e.Index
		c.Index = &idx
	}
	if e.Payment != nil {
		p := *e.Payment
		c.Payment = &p
	}
	if e.Settlement != nil {
		s := *e.Settlement
		c.Settlement = &s
	}
	if e.Void != nil {
		v := *e.Void
		c.Void = &v
	}
	if e.Forgiveness != nil {
		f := *e.Forgiveness
		c.Forgiveness = &f
	}
	return &c
}

// TotalDebit sums the debit column.
func (e *Entry) TotalDebit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Debit)
	}
	return total
}

// TotalCredit sums the credit column across all creditors.
func (e *Entry) TotalCredit() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		total = total.Add(l.Credit)
	}
	return total
}

// TotalPaid sums PaidToDate over debit lines, forgiven amounts included.
func (e *Entry) TotalPaid() decimal.Decimal {
	total := decimal.Zero
	for _, l := range e.Lines {
		if l.IsDebit() {
			total = total.Add(l.PaidToDate)
		}
	}
	return total
}

// Collected is the cash actually received from the debtor so far.
func (e *Entry) Collected() decimal.Decimal {
	return e.TotalPaid().Sub(e.ForgivenTotal)
}

// Outstanding is what the debtor still owes.
func (e *Entry) Outstanding() decimal.Decimal {
	return e.CurrentAmount.Sub(e.TotalPaid())
}

// HasCashDebit reports whether the entry represents real incoming cash.
func (e *Entry) HasCashDebit() bool {
	for _, l := range e.Lines {
		if l.IsDebit() {
			return true
		}
	}
	return false
}

// Counterparties returns each distinct counterparty named by a line.
func (e *Entry) Counterparties() []CounterpartyID {
	seen := make(map[CounterpartyID]bool)
	var out []CounterpartyID
	for _, l := range e.Lines {
		if l.CounterpartyID == "" || seen[l.CounterpartyID] {
			continue
		}
		seen[l.CounterpartyID] = true
		out = append(out, l.CounterpartyID)
	}
	return out
}

func (e *Entry) appendAudit(rec AuditRecord) {
	e.Audit = append(e.Audit, rec)
}
