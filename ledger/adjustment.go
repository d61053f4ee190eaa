package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INDEX ADJUSTMENT
// =============================================================================

type AdjustmentInput struct {
	EntryID    EntryID
	IndexValue decimal.Decimal
	Actor      string
}

// ApplyIndexAdjustment reprices a PENDING_ADJUSTMENT entry with a new index
// value and releases it to PENDING:
//
//	current_amount = round(original_amount * value / base_value)
//
// Every line is rescaled by the same factor. Rounding residue lands on the
// last debit line and the last credit line so the entry stays balanced.
func (e *Engine) ApplyIndexAdjustment(ctx context.Context, in AdjustmentInput) (*Entry, error) {
	entry, _, err := e.mutate(ctx, "apply_index_adjustment", in.EntryID, func(entry *Entry, now time.Time) (*effect, error) {
		if entry.Status != StatusPendingAdjustment {
			return nil, fmt.Errorf("%w: entry is %s", ErrInvalidState, entry.Status)
		}
		if entry.Index == nil || !entry.Index.BaseValue.IsPositive() {
			return nil, fmt.Errorf("%w: entry has no base index value", ErrInvalidIndex)
		}
		if !in.IndexValue.IsPositive() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidIndex, in.IndexValue.String())
		}

		base := entry.Index.BaseValue
		scale := func(d decimal.Decimal) decimal.Decimal {
			return roundMoney(d.Mul(in.IndexValue).Div(base))
		}
		target := scale(entry.OriginalAmount)
		rescaleLines(entry.Lines, scale, target)

		prev := entry.Status
		entry.CurrentAmount = target
		entry.Index.Applied = in.IndexValue
		entry.Status = StatusPending
		note := fmt.Sprintf("%s %s: %s -> %s", entry.Index.Name, entry.Index.Period,
			base.String(), in.IndexValue.String())
		audit(entry, now, in.Actor, AuditAdjustment, prev, target, note)
		return &effect{amount: target, event: EventEntryAdjusted}, nil
	})
	return entry, err
}

// rescaleLines applies scale to every leg, then moves the rounding residue
// onto the last debit and last credit line so both columns sum to target.
func rescaleLines(lines []Line, scale func(decimal.Decimal) decimal.Decimal, target decimal.Decimal) {
	lastDebit, lastCredit := -1, -1
	debits, credits := decimal.Zero, decimal.Zero
	for i := range lines {
		l := &lines[i]
		if l.IsDebit() {
			l.Debit = scale(l.Debit)
			debits = debits.Add(l.Debit)
			lastDebit = i
		}
		if l.IsCredit() {
			l.Credit = scale(l.Credit)
			credits = credits.Add(l.Credit)
			lastCredit = i
		}
	}
	if lastDebit >= 0 {
		lines[lastDebit].Debit = lines[lastDebit].Debit.Add(target.Sub(debits))
	}
	if lastCredit >= 0 {
		lines[lastCredit].Credit = lines[lastCredit].Credit.Add(target.Sub(credits))
	}
}
