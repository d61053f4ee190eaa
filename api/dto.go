/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request bodies carry
  amounts as decimal strings ("600.00") and dates as YYYY-MM-DD. Entry
  responses render every amount with two decimals.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

  Statements and receipts are returned as the ledger types themselves;
  their JSON tags are the public contract.

VALIDATION:
  Validation is done by the engine, not in DTOs. Handlers only parse
  dates and map errors to status codes.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/rent-ledger/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// ENTRIES
// =============================================================================

type LineRequest struct {
	AccountID      string          `json:"account_id,omitempty"`
	AccountCode    string          `json:"account_code,omitempty"`
	Description    string          `json:"description,omitempty"`
	Debit          decimal.Decimal `json:"debit"`
	Credit         decimal.Decimal `json:"credit"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
}

type IndexRequest struct {
	Name      string          `json:"name"`
	Period    string          `json:"period"`
	BaseValue decimal.Decimal `json:"base_value"`
}

type CreateEntryRequest struct {
	ID            string        `json:"id,omitempty"`
	ContractID    string        `json:"contract_id,omitempty"`
	AccrualDate   string        `json:"accrual_date,omitempty"`
	DueDate       string        `json:"due_date,omitempty"`
	Category      string        `json:"category"`
	Description   string        `json:"description,omitempty"`
	Lines         []LineRequest `json:"lines"`
	Index         *IndexRequest `json:"index,omitempty"`
	AwaitingIndex bool          `json:"awaiting_index,omitempty"`
	Actor         string        `json:"actor,omitempty"`
}

func (r CreateEntryRequest) toNewEntry() (ledger.NewEntry, error) {
	accrual, err := parseDate("accrual_date", r.AccrualDate)
	if err != nil {
		return ledger.NewEntry{}, err
	}
	due, err := parseDate("due_date", r.DueDate)
	if err != nil {
		return ledger.NewEntry{}, err
	}
	in := ledger.NewEntry{
		ID:            ledger.EntryID(r.ID),
		ContractID:    ledger.ContractID(r.ContractID),
		AccrualDate:   accrual,
		DueDate:       due,
		Category:      r.Category,
		Description:   r.Description,
		AwaitingIndex: r.AwaitingIndex,
		Actor:         r.Actor,
	}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, ledger.NewLine{
			AccountID:      ledger.AccountID(l.AccountID),
			AccountCode:    l.AccountCode,
			Description:    l.Description,
			Debit:          l.Debit,
			Credit:         l.Credit,
			CounterpartyID: ledger.CounterpartyID(l.CounterpartyID),
		})
	}
	if r.Index != nil {
		in.Index = &ledger.IndexLink{Name: r.Index.Name, Period: r.Index.Period, BaseValue: r.Index.BaseValue}
	}
	return in, nil
}

// LineDTO represents a journal line in API responses.
type LineDTO struct {
	AccountID      string `json:"account_id"`
	Description    string `json:"description,omitempty"`
	Debit          string `json:"debit"`
	Credit         string `json:"credit"`
	CounterpartyID string `json:"counterparty_id,omitempty"`
	PaidToDate     string `json:"paid_to_date"`
	SettledToDate  string `json:"settled_to_date"`
}

// EntryDTO represents an entry in API responses.
type EntryDTO struct {
	ID             string               `json:"id"`
	ContractID     string               `json:"contract_id,omitempty"`
	AccrualDate    string               `json:"accrual_date"`
	DueDate        string               `json:"due_date,omitempty"`
	Category       string               `json:"category"`
	Description    string               `json:"description,omitempty"`
	Status         ledger.Status        `json:"status"`
	OriginalAmount string               `json:"original_amount"`
	CurrentAmount  string               `json:"current_amount"`
	Outstanding    string               `json:"outstanding"`
	Collected      string               `json:"collected"`
	ForgivenTotal  string               `json:"forgiven_total"`
	Lines          []LineDTO            `json:"lines"`
	Index          *ledger.IndexLink    `json:"index,omitempty"`
	InvoiceRef     string               `json:"invoice_ref,omitempty"`
	Audit          []ledger.AuditRecord `json:"audit,omitempty"`
	Version        int64                `json:"version"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

func fixed(d decimal.Decimal) string { return d.StringFixed(ledger.MoneyPlaces) }

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func toEntryDTO(e *ledger.Entry, withAudit bool) EntryDTO {
	dto := EntryDTO{
		ID:             string(e.ID),
		ContractID:     string(e.ContractID),
		AccrualDate:    formatDate(e.AccrualDate),
		DueDate:        formatDate(e.DueDate),
		Category:       e.Category,
		Description:    e.Description,
		Status:         e.Status,
		OriginalAmount: fixed(e.OriginalAmount),
		CurrentAmount:  fixed(e.CurrentAmount),
		Outstanding:    fixed(e.Outstanding()),
		Collected:      fixed(e.Collected()),
		ForgivenTotal:  fixed(e.ForgivenTotal),
		Index:          e.Index,
		InvoiceRef:     e.InvoiceRef,
		Version:        e.Version,
		UpdatedAt:      e.UpdatedAt,
	}
	dto.Lines = make([]LineDTO, len(e.Lines))
	for i, l := range e.Lines {
		dto.Lines[i] = LineDTO{
			AccountID:      string(l.AccountID),
			Description:    l.Description,
			Debit:          fixed(l.Debit),
			Credit:         fixed(l.Credit),
			CounterpartyID: string(l.CounterpartyID),
			PaidToDate:     fixed(l.PaidToDate),
			SettledToDate:  fixed(l.SettledToDate),
		}
	}
	if withAudit {
		dto.Audit = e.Audit
	}
	return dto
}

// =============================================================================
// OPERATIONS
// =============================================================================

type PaymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	Date          string          `json:"date,omitempty"`
	Method        string          `json:"method,omitempty"`
	Voucher       string          `json:"voucher,omitempty"`
	CashAccountID string          `json:"cash_account_id,omitempty"`
	Actor         string          `json:"actor,omitempty"`
}

type SettlementRequest struct {
	CounterpartyID string `json:"counterparty_id"`
	Date           string `json:"date,omitempty"`
	Method         string `json:"method,omitempty"`
	Voucher        string `json:"voucher,omitempty"`
	CashAccountID  string `json:"cash_account_id,omitempty"`
	Actor          string `json:"actor,omitempty"`
}

type SettlementDTO struct {
	Entry     EntryDTO `json:"entry"`
	Paid      string   `json:"paid"`
	Collected string   `json:"collected"`
}

type ForgiveRequest struct {
	// Amount is optional; omitted means the full outstanding balance.
	Amount     *decimal.Decimal `json:"amount,omitempty"`
	Reason     string           `json:"reason"`
	Authorizer string           `json:"authorizer"`
	Date       string           `json:"date,omitempty"`
	Actor      string           `json:"actor,omitempty"`
}

type VoidRequest struct {
	Reason string `json:"reason"`
	Date   string `json:"date,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

type AdjustRequest struct {
	IndexValue decimal.Decimal `json:"index_value"`
	Actor      string          `json:"actor,omitempty"`
}

// InvoiceRequest without an invoice_ref asks for an invoice; with one it
// records the issued invoice.
type InvoiceRequest struct {
	InvoiceRef string `json:"invoice_ref,omitempty"`
	Actor      string `json:"actor,omitempty"`
}

type ReceiptRequest struct {
	ID            string               `json:"id,omitempty"`
	CashAccountID string               `json:"cash_account_id,omitempty"`
	Date          string               `json:"date,omitempty"`
	Method        string               `json:"method,omitempty"`
	Actor         string               `json:"actor,omitempty"`
	Lines         []ledger.ReceiptLine `json:"lines"`
}

type CashAccountRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CashAccountDTO struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Balance   string                `json:"balance"`
	Movements []ledger.CashMovement `json:"movements"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string      `json:"error"`
	Kind      ledger.Kind `json:"kind,omitempty"`
	Details   string      `json:"details,omitempty"`
	Status    string      `json:"entry_status,omitempty"`
	Requested string      `json:"requested,omitempty"`
	Balance   string      `json:"balance,omitempty"`
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: expected YYYY-MM-DD, got %q", field, s)
	}
	return t, nil
}
