package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CREATE ENTRY
// =============================================================================

// NewLine is one leg supplied by the accrual collaborator. Exactly one of
// AccountID and AccountCode is expected; a code is resolved through the
// chart of accounts.
type NewLine struct {
	AccountID      AccountID
	AccountCode    string
	Description    string
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	CounterpartyID CounterpartyID
	Tax            *TaxInfo
}

type NewEntry struct {
	ID          EntryID // optional; generated when empty
	ContractID  ContractID
	AccrualDate time.Time
	DueDate     time.Time
	Category    string
	Description string
	Lines       []NewLine

	// Index links the entry to an inflation index. With AwaitingIndex the
	// entry starts in PENDING_ADJUSTMENT until a value is applied.
	Index         *IndexLink
	AwaitingIndex bool

	Actor string
}

// CreateEntry validates and persists a new entry.
//
// Rejections (nothing is written):
//   - ErrEmptyLines: no lines
//   - ErrInvalidLine: negative amounts, or both debit and credit set
//   - ErrInvalidAmount: sub-cent amounts
//   - ErrUnknownAccountCode: code not in the chart of accounts
//   - ErrUnbalanced: sum(debit) != sum(credit)
func (e *Engine) CreateEntry(ctx context.Context, in NewEntry) (*Entry, error) {
	const op = "create_entry"
	start := time.Now()

	entry, err := e.buildEntry(ctx, in)
	if err == nil {
		err = e.store.WithTx(ctx, func(tx Tx) error {
			return tx.InsertEntry(ctx, entry)
		})
	}
	if err != nil {
		oe := &OperationError{Op: op, EntryID: in.ID, Err: err}
		if entry != nil {
			oe.EntryID = entry.ID
		}
		e.metrics.ObserveOperation(op, string(KindOf(err)), time.Since(start))
		e.log.Debug().Str("op", op).Str("kind", string(KindOf(err))).Err(err).Msg("operation rejected")
		return nil, oe
	}
	e.metrics.ObserveOperation(op, "ok", time.Since(start))

	e.publish(ctx, entry, &effect{amount: entry.CurrentAmount, event: EventEntryCreated})
	e.log.Info().
		Str("op", op).
		Str("entry_id", string(entry.ID)).
		Str("contract_id", string(entry.ContractID)).
		Str("category", entry.Category).
		Str("status", string(entry.Status)).
		Str("amount", entry.CurrentAmount.StringFixed(MoneyPlaces)).
		Msg("entry created")
	return entry, nil
}

func (e *Engine) buildEntry(ctx context.Context, in NewEntry) (*Entry, error) {
	if len(in.Lines) == 0 {
		return nil, ErrEmptyLines
	}

	lines := make([]Line, 0, len(in.Lines))
	debits, credits := decimal.Zero, decimal.Zero
	for i, nl := range in.Lines {
		if nl.Debit.IsNegative() || nl.Credit.IsNegative() || (nl.Debit.IsPositive() && nl.Credit.IsPositive()) {
			return nil, fmt.Errorf("%w: line %d", ErrInvalidLine, i)
		}
		if !isCents(nl.Debit) || !isCents(nl.Credit) {
			return nil, fmt.Errorf("%w: line %d has sub-cent amount", ErrInvalidAmount, i)
		}
		accountID, err := e.resolveAccount(ctx, nl)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
		lines = append(lines, Line{
			AccountID:      accountID,
			Description:    nl.Description,
			Debit:          nl.Debit,
			Credit:         nl.Credit,
			CounterpartyID: nl.CounterpartyID,
			PaidToDate:     decimal.Zero,
			SettledToDate:  decimal.Zero,
			Tax:            nl.Tax,
		})
		debits = debits.Add(nl.Debit)
		credits = credits.Add(nl.Credit)
	}
	if !debits.Equal(credits) {
		return nil, fmt.Errorf("%w: debit %s, credit %s", ErrUnbalanced, debits.StringFixed(MoneyPlaces), credits.StringFixed(MoneyPlaces))
	}

	status := StatusPending
	if in.AwaitingIndex {
		if in.Index == nil || !in.Index.BaseValue.IsPositive() {
			return nil, fmt.Errorf("%w: index-linked entry needs a positive base value", ErrInvalidIndex)
		}
		status = StatusPendingAdjustment
	}

	id := in.ID
	if id == "" {
		id = EntryID(uuid.NewString())
	}
	now := e.now()
	entry := &Entry{
		ID:             id,
		ContractID:     in.ContractID,
		AccrualDate:    in.AccrualDate,
		DueDate:        in.DueDate,
		Category:       in.Category,
		Description:    in.Description,
		OriginalAmount: debits,
		CurrentAmount:  debits,
		Status:         status,
		Lines:          lines,
		ForgivenTotal:  decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Index != nil {
		idx := *in.Index
		entry.Index = &idx
	}
	audit(entry, now, in.Actor, AuditCreated, "", debits, in.Category)
	return entry, nil
}

func (e *Engine) resolveAccount(ctx context.Context, nl NewLine) (AccountID, error) {
	if nl.AccountID != "" || nl.AccountCode == "" {
		return nl.AccountID, nil
	}
	if e.chart == nil {
		return "", fmt.Errorf("%w: %q (no chart of accounts)", ErrUnknownAccountCode, nl.AccountCode)
	}
	id, ok := e.chart.Resolve(ctx, nl.AccountCode)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAccountCode, nl.AccountCode)
	}
	return id, nil
}

// =============================================================================
// INVOICING MARKS
// =============================================================================

// RequestInvoice moves a PENDING entry to PENDING_INVOICE for the fiscal
// collaborator to pick up.
func (e *Engine) RequestInvoice(ctx context.Context, id EntryID, actor string) (*Entry, error) {
	entry, _, err := e.mutate(ctx, "request_invoice", id, func(entry *Entry, now time.Time) (*effect, error) {
		if entry.Status != StatusPending {
			return nil, ErrInvalidState
		}
		prev := entry.Status
		entry.Status = StatusPendingInvoice
		audit(entry, now, actor, AuditInvoiceReq, prev, entry.CurrentAmount, "")
		return &effect{amount: entry.CurrentAmount}, nil
	})
	return entry, err
}

// RecordInvoice stamps the fiscal invoice reference and closes the entry.
func (e *Engine) RecordInvoice(ctx context.Context, id EntryID, invoiceRef, actor string) (*Entry, error) {
	entry, _, err := e.mutate(ctx, "record_invoice", id, func(entry *Entry, now time.Time) (*effect, error) {
		if entry.Status != StatusPendingInvoice {
			return nil, ErrInvalidState
		}
		if invoiceRef == "" {
			return nil, fmt.Errorf("%w: invoice reference", ErrMissingField)
		}
		prev := entry.Status
		entry.Status = StatusInvoiced
		entry.InvoiceRef = invoiceRef
		audit(entry, now, actor, AuditInvoiced, prev, entry.CurrentAmount, invoiceRef)
		return &effect{amount: entry.CurrentAmount, event: EventEntryInvoiced}, nil
	})
	return entry, err
}
