package ledger

// =============================================================================
// STATE MACHINE - Legal status edges
// =============================================================================
//
//   PENDING_ADJUSTMENT ──adjust──▶ PENDING ──invoice──▶ PENDING_INVOICE ──▶ INVOICED
//                                    │
//            ┌───────────────────────┼───────────────────┬─────────────┐
//            ▼                       ▼                   ▼             ▼
//     PARTIALLY_PAID ──────────▶   PAID ───settle──▶ SETTLED      VOIDED / FORGIVEN
//        │  │  ▲ (payment)                                ▲
//        │  └──┘                                          │
//        └────────────────settle (fully collected)────────┘
//
// PARTIALLY_PAID may also go to VOIDED or FORGIVEN, and an entry still
// waiting for its index value may be voided. VOIDED, FORGIVEN,
// SETTLED and INVOICED are terminal for payment and liquidation.

var transitions = map[Status][]Status{
	StatusPendingAdjustment: {StatusPending, StatusVoided},
	StatusPending:           {StatusPartiallyPaid, StatusPaid, StatusVoided, StatusForgiven, StatusPendingInvoice},
	StatusPartiallyPaid:     {StatusPaid, StatusVoided, StatusForgiven, StatusSettled},
	StatusPaid:              {StatusSettled},
	StatusPendingInvoice:    {StatusInvoiced},
}

// CanTransition reports whether from -> to is a legal edge. Operations that
// leave the status unchanged (a second partial payment, a partial
// settlement) are not edges and are checked by the operation itself.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no payment or liquidation may touch the entry.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusVoided, StatusForgiven, StatusSettled, StatusInvoiced:
		return true
	}
	return false
}

// payable lists the statuses that accept a debtor payment or forgiveness.
func (s Status) payable() bool {
	return s == StatusPending || s == StatusPartiallyPaid
}

// settleable lists the statuses that accept a creditor liquidation.
func (s Status) settleable() bool {
	return s == StatusPaid || s == StatusPartiallyPaid
}
