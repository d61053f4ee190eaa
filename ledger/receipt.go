package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RECEIPT ORCHESTRATION
// =============================================================================
//
// A receipt groups collections (COBRO) and creditor payouts (PAGO) under one
// cash account, date and method. Lines run one by one and independently: a
// failed line is reported and the rest carry on. Totals only count lines
// that were processed.

type ReceiptLineKind string

const (
	ReceiptCollection ReceiptLineKind = "COBRO"
	ReceiptPayout     ReceiptLineKind = "PAGO"
)

type LineOutcome string

const (
	OutcomeProcessed LineOutcome = "PROCESSED"
	OutcomeError     LineOutcome = "ERROR"
)

type ReceiptLine struct {
	Kind    ReceiptLineKind `json:"kind"`
	EntryID EntryID         `json:"entry_id"`
	// Amount is required for COBRO and ignored for PAGO, which always pays
	// the creditor's full available entitlement.
	Amount         decimal.Decimal `json:"amount"`
	CounterpartyID CounterpartyID  `json:"counterparty_id,omitempty"`
	Voucher        string          `json:"voucher,omitempty"`
}

type ReceiptInput struct {
	ID            string
	CashAccountID CashAccountID
	Date          time.Time
	Method        string
	Actor         string
	Lines         []ReceiptLine
}

type ReceiptLineResult struct {
	Index          int             `json:"index"`
	Kind           ReceiptLineKind `json:"kind"`
	EntryID        EntryID         `json:"entry_id"`
	CounterpartyID CounterpartyID  `json:"counterparty_id,omitempty"`
	Outcome        LineOutcome     `json:"outcome"`
	Amount         decimal.Decimal `json:"amount"`
	Status         Status          `json:"status,omitempty"`
	Error          string          `json:"error,omitempty"`
	ErrorKind      Kind            `json:"error_kind,omitempty"`
}

type ReceiptTotals struct {
	Inflow    decimal.Decimal `json:"inflow"`
	Outflow   decimal.Decimal `json:"outflow"`
	Net       decimal.Decimal `json:"net"`
	Processed int             `json:"processed"`
	Failed    int             `json:"failed"`
}

type Receipt struct {
	ID            string              `json:"id"`
	CashAccountID CashAccountID       `json:"cash_account_id"`
	Date          time.Time           `json:"date"`
	Method        string              `json:"method"`
	Results       []ReceiptLineResult `json:"results"`
	Totals        ReceiptTotals       `json:"totals"`
}

// ProcessReceipt runs every receipt line, collects per-line outcomes and
// records the receipt. The returned error is reserved for the receipt as a
// whole: no lines, an id that was already processed, or a failure to record
// it. Line failures are reported in Results.
func (e *Engine) ProcessReceipt(ctx context.Context, in ReceiptInput) (*Receipt, error) {
	if len(in.Lines) == 0 {
		return nil, &OperationError{Op: "process_receipt", Err: fmt.Errorf("%w: receipt has no lines", ErrInvalidReceipt)}
	}
	if in.ID != "" {
		_, err := e.store.GetReceipt(ctx, in.ID)
		if err == nil {
			return nil, &OperationError{Op: "process_receipt", Err: fmt.Errorf("%w: %s", ErrReceiptExists, in.ID)}
		}
		if !errors.Is(err, ErrReceiptNotFound) {
			return nil, &OperationError{Op: "process_receipt", Err: err}
		}
	}

	id := in.ID
	if id == "" {
		id = uuid.NewString()
	}
	date := dateOr(in.Date, e.now())
	rc := &Receipt{
		ID:            id,
		CashAccountID: e.cashAccount(in.CashAccountID),
		Date:          date,
		Method:        in.Method,
		Results:       make([]ReceiptLineResult, 0, len(in.Lines)),
		Totals: ReceiptTotals{
			Inflow:  decimal.Zero,
			Outflow: decimal.Zero,
			Net:     decimal.Zero,
		},
	}

	for i, line := range in.Lines {
		res := e.processReceiptLine(ctx, rc, in, line)
		res.Index = i
		e.metrics.ReceiptLine(string(line.Kind), string(res.Outcome))
		if res.Outcome == OutcomeProcessed {
			rc.Totals.Processed++
			switch line.Kind {
			case ReceiptCollection:
				rc.Totals.Inflow = rc.Totals.Inflow.Add(res.Amount)
			case ReceiptPayout:
				rc.Totals.Outflow = rc.Totals.Outflow.Add(res.Amount)
			}
		} else {
			rc.Totals.Failed++
		}
		rc.Results = append(rc.Results, res)
	}
	rc.Totals.Net = rc.Totals.Inflow.Sub(rc.Totals.Outflow)

	// Processed lines are already committed; a lost header still leaves the
	// receipt id on every cash movement as Reference.
	if err := e.store.SaveReceipt(ctx, rc); err != nil {
		e.log.Error().Err(err).Str("receipt_id", rc.ID).Msg("failed to record receipt")
		return nil, &OperationError{Op: "process_receipt", Err: err}
	}

	e.log.Info().
		Str("op", "process_receipt").
		Str("receipt_id", rc.ID).
		Int("processed", rc.Totals.Processed).
		Int("failed", rc.Totals.Failed).
		Str("net", rc.Totals.Net.StringFixed(MoneyPlaces)).
		Msg("receipt processed")
	return rc, nil
}

// GetReceipt returns a previously processed receipt with its line outcomes.
func (e *Engine) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	return e.store.GetReceipt(ctx, id)
}

func (e *Engine) processReceiptLine(ctx context.Context, rc *Receipt, in ReceiptInput, line ReceiptLine) ReceiptLineResult {
	res := ReceiptLineResult{
		Kind:           line.Kind,
		EntryID:        line.EntryID,
		CounterpartyID: line.CounterpartyID,
		Amount:         decimal.Zero,
	}
	fail := func(err error) ReceiptLineResult {
		res.Outcome = OutcomeError
		res.Error = err.Error()
		res.ErrorKind = KindOf(err)
		return res
	}

	switch line.Kind {
	case ReceiptCollection:
		entry, err := e.RegisterPayment(ctx, PaymentInput{
			EntryID:       line.EntryID,
			Amount:        line.Amount,
			Date:          rc.Date,
			Method:        rc.Method,
			Voucher:       line.Voucher,
			Actor:         in.Actor,
			CashAccountID: rc.CashAccountID,
			Reference:     rc.ID,
		})
		if err != nil {
			return fail(err)
		}
		res.Amount = line.Amount
		res.Status = entry.Status
	case ReceiptPayout:
		if line.CounterpartyID == "" {
			return fail(fmt.Errorf("%w: payout line needs a counterparty", ErrInvalidReceipt))
		}
		out, err := e.SettleCreditor(ctx, SettlementInput{
			EntryID:        line.EntryID,
			CounterpartyID: line.CounterpartyID,
			Date:           rc.Date,
			Method:         rc.Method,
			Voucher:        line.Voucher,
			Actor:          in.Actor,
			CashAccountID:  rc.CashAccountID,
			Reference:      rc.ID,
		})
		if err != nil {
			return fail(err)
		}
		res.Amount = out.Paid
		res.Status = out.Entry.Status
	default:
		return fail(fmt.Errorf("%w: unknown line kind %q", ErrInvalidReceipt, line.Kind))
	}
	res.Outcome = OutcomeProcessed
	return res
}
