package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FORGIVENESS ("condonación")
// =============================================================================

type ForgiveInput struct {
	EntryID EntryID
	// Amount defaults to the full outstanding balance when nil.
	Amount     *decimal.Decimal
	Reason     string
	Authorizer string
	Actor      string
	Date       time.Time
}

// ForgiveDebt writes off debt without moving cash. The amount runs through
// the payment waterfall and is tracked in ForgivenTotal so creditors are
// never paid out of it.
func (e *Engine) ForgiveDebt(ctx context.Context, in ForgiveInput) (*Entry, error) {
	entry, _, err := e.mutate(ctx, "forgive_debt", in.EntryID, func(entry *Entry, now time.Time) (*effect, error) {
		if err := payableGuard(entry.Status); err != nil {
			return nil, err
		}
		if in.Authorizer == "" {
			return nil, fmt.Errorf("%w: authorizer", ErrMissingField)
		}
		outstanding := entry.Outstanding()
		amount := outstanding
		if in.Amount != nil {
			amount = *in.Amount
		}
		if err := validAmount(amount); err != nil {
			return nil, err
		}
		if amount.GreaterThan(outstanding) {
			return nil, &OperationError{
				Op:        "forgive_debt",
				EntryID:   entry.ID,
				Status:    entry.Status,
				Requested: amount,
				Balance:   outstanding,
				Err:       ErrAmountExceedsBalance,
			}
		}

		prev := entry.Status
		applyWaterfall(entry, amount)
		entry.ForgivenTotal = entry.ForgivenTotal.Add(amount)
		if entry.Outstanding().IsZero() {
			entry.Status = StatusForgiven
		} else {
			entry.Status = StatusPartiallyPaid
		}
		date := dateOr(in.Date, now)
		entry.Forgiveness = &ForgivenessInfo{
			Date:       date,
			Amount:     entry.ForgivenTotal,
			Authorizer: in.Authorizer,
			Reason:     in.Reason,
		}
		note := fmt.Sprintf("authorized by %s", in.Authorizer)
		if in.Reason != "" {
			note += ": " + in.Reason
		}
		audit(entry, now, in.Actor, AuditForgiveness, prev, amount, note)
		return &effect{amount: amount, event: EventDebtForgiven}, nil
	})
	return entry, err
}

// =============================================================================
// CANCELLATION ("anulación")
// =============================================================================

type VoidInput struct {
	EntryID EntryID
	Reason  string
	Actor   string
	Date    time.Time
}

// VoidEntry cancels an entry. A PAID entry must have its payment reversed
// first; accumulators are left as they are.
func (e *Engine) VoidEntry(ctx context.Context, in VoidInput) (*Entry, error) {
	entry, _, err := e.mutate(ctx, "void_entry", in.EntryID, func(entry *Entry, now time.Time) (*effect, error) {
		switch entry.Status {
		case StatusPaid:
			return nil, ErrAlreadyPaid
		case StatusVoided:
			return nil, ErrAlreadyVoided
		case StatusPending, StatusPartiallyPaid, StatusPendingAdjustment:
		default:
			if entry.Status.IsTerminal() {
				return nil, fmt.Errorf("%w: %s", ErrTerminalState, entry.Status)
			}
			return nil, fmt.Errorf("%w: %s", ErrInvalidState, entry.Status)
		}
		if in.Reason == "" {
			return nil, fmt.Errorf("%w: reason", ErrMissingField)
		}

		prev := entry.Status
		entry.Status = StatusVoided
		entry.Void = &VoidInfo{Date: dateOr(in.Date, now), Reason: in.Reason}
		audit(entry, now, in.Actor, AuditVoid, prev, entry.Outstanding(), in.Reason)
		return &effect{amount: entry.Outstanding(), event: EventEntryVoided}, nil
	})
	return entry, err
}
