/*
statement.go - Account statement projection

PURPOSE:
  Given a counterparty, lists every line that names them with what has
  been paid (debtor side) or what they are entitled to (creditor side).

  The statement is derived from stored entries on every call and holds
  no state of its own. Creditor figures come from the same entitlements
  helper liquidation uses, so "available" is exactly what SettleCreditor
  would pay out at that instant.

CLASSIFICATION:
  Debit line  -> DEBTOR:   original = debit,  paid, pending = debit - paid
  Credit line -> CREDITOR: original = credit, collected, proportion,
                           entitlement, already_settled, available

  Voided entries are left out. On entries liquidation would refuse
  (pending, forgiven, invoiced) available is reported as zero.
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleDebtor   Role = "DEBTOR"
	RoleCreditor Role = "CREDITOR"
)

type StatementQuery struct {
	CounterpartyID CounterpartyID
	Cutoff         *time.Time // inclusive, on accrual date
	PendingOnly    bool
}

// Movement is one line of a statement.
type Movement struct {
	EntryID     EntryID    `json:"entry_id"`
	ContractID  ContractID `json:"contract_id,omitempty"`
	LineIndex   int        `json:"line_index"`
	AccountID   AccountID  `json:"account_id"`
	AccrualDate time.Time  `json:"accrual_date"`
	DueDate     time.Time  `json:"due_date"`
	Category    string     `json:"category"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Role        Role       `json:"role"`

	OriginalAmount decimal.Decimal `json:"original_amount"`

	// Debtor side
	Paid    decimal.Decimal `json:"paid"`
	Pending decimal.Decimal `json:"pending"`

	// Creditor side
	Collected      decimal.Decimal `json:"collected_from_debtor"`
	Proportion     decimal.Decimal `json:"proportion"`
	Entitlement    decimal.Decimal `json:"entitlement"`
	AlreadySettled decimal.Decimal `json:"already_settled"`
	Available      decimal.Decimal `json:"available"`
}

// Resolved reports whether nothing more will ever move on this line.
func (m Movement) Resolved() bool {
	if m.Status.IsTerminal() {
		return true
	}
	if m.Role == RoleDebtor {
		return !m.Pending.IsPositive()
	}
	return m.AlreadySettled.GreaterThanOrEqual(m.OriginalAmount)
}

// Touched reports whether any cash has moved on this line.
func (m Movement) Touched() bool {
	if m.Role == RoleDebtor {
		return m.Paid.IsPositive()
	}
	return m.AlreadySettled.IsPositive()
}

type StatementTotals struct {
	TotalDebit        decimal.Decimal `json:"total_debit"`
	TotalCredit       decimal.Decimal `json:"total_credit"`
	TotalPaid         decimal.Decimal `json:"total_paid"`
	TotalSettled      decimal.Decimal `json:"total_settled"`
	TotalPending      decimal.Decimal `json:"total_pending"`
	TotalAvailable    decimal.Decimal `json:"total_available"`
	FullyResolved     int             `json:"fully_resolved"`
	PartiallyResolved int             `json:"partially_resolved"`
	Unresolved        int             `json:"unresolved"`
}

type Statement struct {
	CounterpartyID CounterpartyID  `json:"counterparty_id"`
	Cutoff         *time.Time      `json:"cutoff,omitempty"`
	Movements      []Movement      `json:"movements"`
	Totals         StatementTotals `json:"totals"`
}

// GetStatement projects the counterparty's statement as of the cutoff.
func (e *Engine) GetStatement(ctx context.Context, q StatementQuery) (*Statement, error) {
	entries, err := e.store.ListEntries(ctx, EntryFilter{
		CounterpartyID: q.CounterpartyID,
		AccruedBefore:  q.Cutoff,
	})
	if err != nil {
		return nil, &OperationError{Op: "get_statement", Err: err}
	}

	st := &Statement{
		CounterpartyID: q.CounterpartyID,
		Cutoff:         q.Cutoff,
		Movements:      []Movement{},
		Totals:         zeroTotals(),
	}
	for i := range entries {
		entry := &entries[i]
		if entry.Status == StatusVoided {
			continue
		}
		for _, m := range project(entry, q.CounterpartyID) {
			if q.PendingOnly && m.Resolved() {
				continue
			}
			st.Movements = append(st.Movements, m)
			st.Totals.add(m)
		}
	}
	return st, nil
}

func project(entry *Entry, cp CounterpartyID) []Movement {
	var (
		out       []Movement
		entitled  map[int]decimal.Decimal
		available map[int]decimal.Decimal
		collected decimal.Decimal
	)
	for i, l := range entry.Lines {
		if l.CounterpartyID != cp {
			continue
		}
		m := Movement{
			EntryID:     entry.ID,
			ContractID:  entry.ContractID,
			LineIndex:   i,
			AccountID:   l.AccountID,
			AccrualDate: entry.AccrualDate,
			DueDate:     entry.DueDate,
			Category:    entry.Category,
			Description: firstNonEmpty(l.Description, entry.Description),
			Status:      entry.Status,
		}
		switch {
		case l.IsDebit():
			m.Role = RoleDebtor
			m.OriginalAmount = l.Debit
			m.Paid = l.PaidToDate
			m.Pending = l.Shortfall()
		case l.IsCredit():
			if entitled == nil {
				entitled = entitlements(entry)
				available = catchUp(entry, creditLinesOf(entry, cp), entitled)
				collected = entry.Collected()
			}
			m.Role = RoleCreditor
			m.OriginalAmount = l.Credit
			m.Collected = collected
			m.Proportion = share(entry, l)
			m.Entitlement = entitled[i]
			m.AlreadySettled = l.SettledToDate
			m.Available = available[i]
			if !entry.Status.settleable() {
				m.Available = decimal.Zero
			}
		default:
			continue
		}
		out = append(out, m)
	}
	return out
}

func zeroTotals() StatementTotals {
	return StatementTotals{
		TotalDebit:     decimal.Zero,
		TotalCredit:    decimal.Zero,
		TotalPaid:      decimal.Zero,
		TotalSettled:   decimal.Zero,
		TotalPending:   decimal.Zero,
		TotalAvailable: decimal.Zero,
	}
}

func (t *StatementTotals) add(m Movement) {
	switch m.Role {
	case RoleDebtor:
		t.TotalDebit = t.TotalDebit.Add(m.OriginalAmount)
		t.TotalPaid = t.TotalPaid.Add(m.Paid)
		t.TotalPending = t.TotalPending.Add(m.Pending)
	case RoleCreditor:
		t.TotalCredit = t.TotalCredit.Add(m.OriginalAmount)
		t.TotalSettled = t.TotalSettled.Add(m.AlreadySettled)
		t.TotalAvailable = t.TotalAvailable.Add(m.Available)
	}
	switch {
	case m.Resolved():
		t.FullyResolved++
	case m.Touched():
		t.PartiallyResolved++
	default:
		t.Unresolved++
	}
}
