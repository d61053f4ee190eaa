package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT REGISTRATION
// =============================================================================

type PaymentInput struct {
	EntryID EntryID
	Amount  decimal.Decimal
	Date    time.Time
	Method  string
	Voucher string
	Actor   string

	// CashAccountID receives the inflow; empty means the engine default.
	CashAccountID CashAccountID
	// Reference tags the cash movement (a receipt id, for instance).
	Reference string
}

// RegisterPayment applies a debtor payment against the entry's debit lines.
//
// Rejections:
//   - ErrTerminalState: entry is PAID, VOIDED, FORGIVEN, SETTLED or INVOICED
//   - ErrInvalidState: entry awaits an index value or an invoice
//   - ErrInvalidAmount: amount not positive or finer than a cent
//   - ErrAmountExceedsBalance: amount > outstanding balance
//
// The inflow is written to the cash account in the same transaction as the
// entry, so an unknown account leaves the entry untouched.
func (e *Engine) RegisterPayment(ctx context.Context, in PaymentInput) (*Entry, error) {
	entry, _, err := e.mutate(ctx, "register_payment", in.EntryID, func(entry *Entry, now time.Time) (*effect, error) {
		if err := payableGuard(entry.Status); err != nil {
			return nil, err
		}
		if err := validAmount(in.Amount); err != nil {
			return nil, err
		}
		if in.Amount.GreaterThan(entry.Outstanding()) {
			return nil, &OperationError{
				Op:        "register_payment",
				EntryID:   entry.ID,
				Status:    entry.Status,
				Requested: in.Amount,
				Balance:   entry.Outstanding(),
				Err:       ErrAmountExceedsBalance,
			}
		}

		prev := entry.Status
		applyWaterfall(entry, in.Amount)
		if entry.Outstanding().IsZero() {
			entry.Status = StatusPaid
			entry.Payment = &PaymentInfo{Date: dateOr(in.Date, now), Method: in.Method, Voucher: in.Voucher}
		} else {
			entry.Status = StatusPartiallyPaid
		}
		audit(entry, now, in.Actor, AuditPayment, prev, in.Amount, paymentNote(in.Method, in.Voucher))

		eff := &effect{amount: in.Amount, event: EventPaymentApplied}
		if entry.HasCashDebit() {
			eff.cash = &CashMovement{
				ID:        uuid.NewString(),
				AccountID: e.cashAccount(in.CashAccountID),
				EntryID:   entry.ID,
				Direction: Inflow,
				Amount:    in.Amount,
				Reference: firstNonEmpty(in.Reference, in.Voucher),
				At:        dateOr(in.Date, now),
			}
		}
		return eff, nil
	})
	return entry, err
}

// applyWaterfall walks debit lines in stored order and fills each
// shortfall until amount is exhausted. Credit lines are never touched.
// The caller guarantees amount <= Outstanding.
func applyWaterfall(entry *Entry, amount decimal.Decimal) {
	remaining := amount
	for i := range entry.Lines {
		if !remaining.IsPositive() {
			return
		}
		line := &entry.Lines[i]
		if !line.IsDebit() {
			continue
		}
		short := line.Shortfall()
		if !short.IsPositive() {
			continue
		}
		applied := minMoney(remaining, short)
		line.PaidToDate = line.PaidToDate.Add(applied)
		remaining = remaining.Sub(applied)
	}
}

// payableGuard rejects payment and forgiveness outside PENDING and
// PARTIALLY_PAID.
func payableGuard(s Status) error {
	switch {
	case s.payable():
		return nil
	case s.IsTerminal(), s == StatusPaid:
		return fmt.Errorf("%w: %s", ErrTerminalState, s)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidState, s)
	}
}

func paymentNote(method, voucher string) string {
	if voucher == "" {
		return method
	}
	return method + " " + voucher
}

func dateOr(d, fallback time.Time) time.Time {
	if d.IsZero() {
		return fallback
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
