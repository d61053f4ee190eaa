/*
liquidation.go - Proportional creditor payouts

PURPOSE:
  Pays a creditor their share of cash actually collected from the debtor,
  never more, and never twice for the same collected cash.

ALGORITHM:
  collected    = sum(paid_to_date over debit lines) - forgiven
  total_credit = sum(credit over all credit lines)
  entitlement  = collected * line.credit / total_credit
  available    = entitlement - line.settled_to_date

  settled_to_date is SET to the entitlement, not incremented. A second
  call with no new collection finds nothing available and is rejected;
  a call after a new payment catches the creditor up by exactly the
  incremental entitlement.

ROUNDING:
  Each entitlement is floored to the cent and capped at the line's credit:

    entitlement_i = floor(collected * credit_i / total, 2)

  A line is never paid past its exact proportional share, and the floor
  is monotone in collected, so settled_to_date never has to move back.
  With collected == total every line's entitlement equals its credit.
  Cents the floor leaves behind stay in the cash account.

EXAMPLE:
  Debit 1000 (A), credit 900 (B), credit 100 (C), A pays 600:
    B: share 0.9, entitlement 540
    C: share 0.1, entitlement  60

SEE ALSO:
  - statement.go: Read-only re-derivation with the same helper
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SettlementInput struct {
	EntryID        EntryID
	CounterpartyID CounterpartyID
	Date           time.Time
	Method         string
	Voucher        string
	Actor          string

	// CashAccountID funds the outflow; empty means the engine default.
	CashAccountID CashAccountID
	Reference     string
}

type SettlementResult struct {
	Entry     *Entry          `json:"entry"`
	Paid      decimal.Decimal `json:"paid"`
	Collected decimal.Decimal `json:"collected"`
}

// SettleCreditor pays out the creditor's outstanding entitlement on an entry.
//
// Rejections:
//   - ErrInvalidState: entry is not PAID or PARTIALLY_PAID
//   - ErrNoMatchingLines: no credit line belongs to the creditor
//   - ErrAlreadySettled: nothing available on any of the creditor's lines
//
// The entry becomes SETTLED once the debtor owes nothing and every credit
// line, across all creditors, has been caught up to its entitlement.
func (e *Engine) SettleCreditor(ctx context.Context, in SettlementInput) (*SettlementResult, error) {
	entry, eff, err := e.mutate(ctx, "settle_creditor", in.EntryID, func(entry *Entry, now time.Time) (*effect, error) {
		if !entry.Status.settleable() {
			return nil, fmt.Errorf("%w: cannot settle a %s entry", ErrInvalidState, entry.Status)
		}
		owned := creditLinesOf(entry, in.CounterpartyID)
		if len(owned) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoMatchingLines, in.CounterpartyID)
		}

		collected := entry.Collected()
		entitled := entitlements(entry)
		available := catchUp(entry, owned, entitled)
		payout := decimal.Zero
		for _, i := range owned {
			if !available[i].IsPositive() {
				continue
			}
			line := &entry.Lines[i]
			line.SettledToDate = minMoney(entitled[i], line.SettledToDate.Add(available[i]))
			payout = payout.Add(available[i])
		}
		if !payout.IsPositive() {
			return nil, fmt.Errorf("%w: %s has received its share of %s", ErrAlreadySettled, in.CounterpartyID, collected.StringFixed(MoneyPlaces))
		}

		prev := entry.Status
		if fullySettled(entry) {
			entry.Status = StatusSettled
			entry.Settlement = &SettlementInfo{Date: dateOr(in.Date, now), Method: in.Method, Voucher: in.Voucher}
		}
		note := fmt.Sprintf("creditor=%s method=%s collected=%s", in.CounterpartyID, in.Method, collected.StringFixed(MoneyPlaces))
		audit(entry, now, in.Actor, AuditSettlement, prev, payout, note)

		return &effect{
			amount:       payout,
			counterparty: in.CounterpartyID,
			event:        EventCreditorSettled,
			cash: &CashMovement{
				ID:        uuid.NewString(),
				AccountID: e.cashAccount(in.CashAccountID),
				EntryID:   entry.ID,
				Direction: Outflow,
				Amount:    payout,
				Reference: firstNonEmpty(in.Reference, in.Voucher),
				At:        dateOr(in.Date, now),
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &SettlementResult{Entry: entry, Paid: eff.amount, Collected: entry.Collected()}, nil
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

// entitlements returns the current entitlement of every credit line, keyed
// by line index. It never mutates the entry.
func entitlements(entry *Entry) map[int]decimal.Decimal {
	out := make(map[int]decimal.Decimal)
	total := entry.TotalCredit()
	if !total.IsPositive() {
		return out
	}
	collected := entry.Collected()
	if collected.IsNegative() {
		collected = decimal.Zero
	}

	for i, l := range entry.Lines {
		if !l.IsCredit() {
			continue
		}
		exact := collected.Mul(l.Credit).Div(total)
		out[i] = minMoney(exact.RoundFloor(MoneyPlaces), l.Credit)
	}
	return out
}

// share is a credit line's proportion of the entry's total credit.
func share(entry *Entry, line Line) decimal.Decimal {
	total := entry.TotalCredit()
	if !total.IsPositive() {
		return decimal.Zero
	}
	return line.Credit.Div(total)
}

func creditLinesOf(entry *Entry, cp CounterpartyID) []int {
	var idx []int
	for i, l := range entry.Lines {
		if l.IsCredit() && l.CounterpartyID == cp {
			idx = append(idx, i)
		}
	}
	return idx
}

// fullySettled reports whether the debtor owes nothing and every credit
// line has been caught up to its entitlement.
func fullySettled(entry *Entry) bool {
	if entry.Outstanding().IsPositive() {
		return false
	}
	entitled := entitlements(entry)
	for i, want := range entitled {
		if entry.Lines[i].SettledToDate.LessThan(want) {
			return false
		}
	}
	return true
}

// undistributed is collected cash not yet paid out to any creditor.
func undistributed(entry *Entry) decimal.Decimal {
	pool := entry.Collected()
	for _, l := range entry.Lines {
		if l.IsCredit() {
			pool = pool.Sub(l.SettledToDate)
		}
	}
	return pool
}

// catchUp returns what each of the given credit lines may receive now: the
// gap to its entitlement, capped so that total payouts never run past the
// cash collected.
func catchUp(entry *Entry, lines []int, entitled map[int]decimal.Decimal) map[int]decimal.Decimal {
	pool := undistributed(entry)
	out := make(map[int]decimal.Decimal, len(lines))
	for _, i := range lines {
		gap := entitled[i].Sub(entry.Lines[i].SettledToDate)
		if !gap.IsPositive() || !pool.IsPositive() {
			out[i] = decimal.Zero
			continue
		}
		gap = minMoney(gap, pool)
		pool = pool.Sub(gap)
		out[i] = gap
	}
	return out
}
