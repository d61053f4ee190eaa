/*
store.go - Persistence and collaborator interfaces

PURPOSE:
  Defines the boundary between the engine and everything it does not own:
  entry persistence, cash account balances, the chart of accounts and the
  outbound event stream.

KEY INTERFACES:
  Tx:              Entry reads/writes plus cash account updates
  Store:           Tx + WithTx for atomic entry-and-balance writes,
                   plus cash accounts and the receipt log
  ChartOfAccounts: Resolves account codes to identifiers
  Publisher:       Receives committed domain events

OPTIMISTIC CONCURRENCY:
  UpdateEntry takes the version the caller read. If the stored version has
  moved on, the write fails with ErrConcurrentModification and nothing is
  changed. The engine reloads and retries.

ATOMICITY:
  The entry write and the cash account update of one operation run inside
  a single WithTx call. If the balance update fails the entry write is
  rolled back with it.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory, snapshot + rollback
  - store/sqlstore/sqlstore.go: SQLite / PostgreSQL

SEE ALSO:
  - engine.go: The read-modify-write loop built on these interfaces
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTRY STORE
// =============================================================================

// EntryFilter narrows ListEntries. Zero values match everything.
type EntryFilter struct {
	ContractID     ContractID
	CounterpartyID CounterpartyID
	Statuses       []Status
	AccruedBefore  *time.Time // inclusive cutoff on AccrualDate
}

// Matches applies the filter in memory; stores may push it down to SQL.
func (f EntryFilter) Matches(e *Entry) bool {
	if f.ContractID != "" && e.ContractID != f.ContractID {
		return false
	}
	if f.AccruedBefore != nil && e.AccrualDate.After(*f.AccruedBefore) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if e.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CounterpartyID != "" {
		for _, l := range e.Lines {
			if l.CounterpartyID == f.CounterpartyID {
				return true
			}
		}
		return false
	}
	return true
}

type EntryReader interface {
	// GetEntry returns ErrEntryNotFound when id is unknown.
	GetEntry(ctx context.Context, id EntryID) (*Entry, error)

	// ListEntries returns matching entries ordered by AccrualDate, then ID.
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}

type EntryWriter interface {
	// InsertEntry persists a new entry at version 1.
	InsertEntry(ctx context.Context, e *Entry) error

	// UpdateEntry replaces the stored entry if its version equals
	// expectedVersion, storing it at expectedVersion+1.
	UpdateEntry(ctx context.Context, e *Entry, expectedVersion int64) error
}

// =============================================================================
// CASH ACCOUNTS
// =============================================================================

type Direction string

const (
	Inflow  Direction = "IN"
	Outflow Direction = "OUT"
)

// CashMovement is one balance change on a cash account. The movement log
// doubles as the reconciliation trail for entry writes.
type CashMovement struct {
	ID        string          `json:"id"`
	AccountID CashAccountID   `json:"account_id"`
	EntryID   EntryID         `json:"entry_id"`
	Direction Direction       `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	At        time.Time       `json:"at"`
}

type CashAccount struct {
	ID      CashAccountID   `json:"id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}

type CashAccounts interface {
	// UpdateBalance applies a movement. Unknown accounts fail with
	// ErrCashAccountNotFound.
	UpdateBalance(ctx context.Context, m CashMovement) error
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Tx is the view handed to WithTx callbacks.
type Tx interface {
	EntryReader
	EntryWriter
	CashAccounts
}

// Store is the full persistence surface the engine needs.
type Store interface {
	Tx

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Tx is rolled back.
	WithTx(ctx context.Context, fn func(Tx) error) error

	OpenCashAccount(ctx context.Context, id CashAccountID, name string) error
	GetCashAccount(ctx context.Context, id CashAccountID) (*CashAccount, error)
	ListMovements(ctx context.Context, id CashAccountID) ([]CashMovement, error)

	// SaveReceipt records a processed receipt. An existing id fails with
	// ErrReceiptExists.
	SaveReceipt(ctx context.Context, rc *Receipt) error
	// GetReceipt returns ErrReceiptNotFound when id is unknown.
	GetReceipt(ctx context.Context, id string) (*Receipt, error)

	// Reset deletes every entry, movement, receipt and cash account. Administrative only.
	Reset(ctx context.Context) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// ChartOfAccounts resolves stable account codes to account identifiers.
type ChartOfAccounts interface {
	Resolve(ctx context.Context, code string) (AccountID, bool)
}

// EventType names outbound events.
type EventType string

const (
	EventEntryCreated    EventType = "entry_created"
	EventPaymentApplied  EventType = "payment_applied"
	EventCreditorSettled EventType = "creditor_settled"
	EventDebtForgiven    EventType = "debt_forgiven"
	EventEntryVoided     EventType = "entry_voided"
	EventEntryAdjusted   EventType = "entry_adjusted"
	EventEntryInvoiced   EventType = "entry_invoiced"
)

type Event struct {
	Type           EventType       `json:"type"`
	EntryID        EntryID         `json:"entry_id"`
	ContractID     ContractID      `json:"contract_id,omitempty"`
	Status         Status          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	CounterpartyID CounterpartyID  `json:"counterparty_id,omitempty"`
	Version        int64           `json:"version"`
	At             time.Time       `json:"at"`
}

// Publisher receives events after the owning write has committed.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
