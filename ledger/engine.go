/*
engine.go - Entry lifecycle service and the read-modify-write loop

PURPOSE:
  Engine is the only component that mutates entries. Every public
  operation follows the same shape:

    1. Load the entry (and its version)
    2. Mutate a private copy in memory; reject before any write on
       validation or state errors
    3. In one transaction: write the entry back if the version still
       matches, and apply the cash movement (if any)
    4. On a version conflict, reload and start over (bounded retries)
    5. After commit: publish an event, log, record metrics

WHY OPTIMISTIC?
  Concurrent payment and liquidation calls on the same entry are expected.
  Without a version check the last writer silently drops the other's
  accumulator change. With it, the loser re-reads and re-applies against
  the fresh state.

SEE ALSO:
  - store.go: WithTx and UpdateEntry contracts
  - payment.go, liquidation.go, writeoff.go, adjustment.go: The operations
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultMaxRetries bounds the reload-and-retry loop on version conflicts.
const DefaultMaxRetries = 5

// Recorder receives operation metrics. observability.Metrics implements it.
type Recorder interface {
	ObserveOperation(op, outcome string, d time.Duration)
	VersionConflict(op string)
	CashMoved(dir Direction, amount decimal.Decimal)
	ReceiptLine(kind, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) VersionConflict(string)                         {}
func (nopRecorder) CashMoved(Direction, decimal.Decimal)           {}
func (nopRecorder) ReceiptLine(string, string)                     {}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store       Store
	chart       ChartOfAccounts
	publisher   Publisher
	metrics     Recorder
	log         zerolog.Logger
	now         func() time.Time
	maxRetries  int
	defaultCash CashAccountID
}

type Option func(*Engine)

func WithChart(c ChartOfAccounts) Option    { return func(e *Engine) { e.chart = c } }
func WithPublisher(p Publisher) Option      { return func(e *Engine) { e.publisher = p } }
func WithRecorder(r Recorder) Option        { return func(e *Engine) { e.metrics = r } }
func WithLogger(l zerolog.Logger) Option    { return func(e *Engine) { e.log = l } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithMaxRetries(n int) Option           { return func(e *Engine) { e.maxRetries = n } }

// WithDefaultCashAccount sets the account used when a payment or settlement
// does not name one.
func WithDefaultCashAccount(id CashAccountID) Option {
	return func(e *Engine) { e.defaultCash = id }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		publisher:  NopPublisher{},
		metrics:    nopRecorder{},
		log:        zerolog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying store for read-side collaborators.
func (e *Engine) Store() Store { return e.store }

// =============================================================================
// READ-MODIFY-WRITE
// =============================================================================

// effect describes what a successful mutation does outside the entry.
type effect struct {
	amount       decimal.Decimal
	counterparty CounterpartyID
	cash         *CashMovement
	event        EventType
}

// applyFunc mutates entry in place or rejects. It must not perform I/O.
type applyFunc func(entry *Entry, now time.Time) (*effect, error)

func (e *Engine) mutate(ctx context.Context, op string, id EntryID, apply applyFunc) (*Entry, *effect, error) {
	start := time.Now()
	entry, eff, err := e.mutateWithRetry(ctx, op, id, apply)
	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
		e.log.Debug().Str("op", op).Str("entry_id", string(id)).Str("kind", outcome).Err(err).Msg("operation rejected")
	}
	e.metrics.ObserveOperation(op, outcome, time.Since(start))
	if err != nil {
		return nil, nil, err
	}

	if eff.cash != nil {
		e.metrics.CashMoved(eff.cash.Direction, eff.cash.Amount)
	}
	e.publish(ctx, entry, eff)
	e.log.Info().
		Str("op", op).
		Str("entry_id", string(entry.ID)).
		Str("status", string(entry.Status)).
		Str("amount", eff.amount.StringFixed(MoneyPlaces)).
		Int64("version", entry.Version).
		Msg("entry updated")
	return entry, eff, nil
}

func (e *Engine) mutateWithRetry(ctx context.Context, op string, id EntryID, apply applyFunc) (*Entry, *effect, error) {
	for attempt := 0; ; attempt++ {
		current, err := e.store.GetEntry(ctx, id)
		if err != nil {
			return nil, nil, &OperationError{Op: op, EntryID: id, Err: err}
		}

		now := e.now()
		working := current.Clone()
		eff, err := apply(working, now)
		if err != nil {
			return nil, nil, opError(op, current, err)
		}
		if working.Status != current.Status && !CanTransition(current.Status, working.Status) {
			return nil, nil, opError(op, current, fmt.Errorf("%w: %s -> %s", ErrInvalidState, current.Status, working.Status))
		}
		working.UpdatedAt = now

		err = e.store.WithTx(ctx, func(tx Tx) error {
			if err := tx.UpdateEntry(ctx, working, current.Version); err != nil {
				return err
			}
			if eff.cash != nil {
				if err := tx.UpdateBalance(ctx, *eff.cash); err != nil {
					return fmt.Errorf("%w: %w", ErrCashAccountUpdate, err)
				}
			}
			return nil
		})
		if errors.Is(err, ErrConcurrentModification) && attempt < e.maxRetries {
			e.metrics.VersionConflict(op)
			e.log.Debug().Str("op", op).Str("entry_id", string(id)).Int("attempt", attempt+1).Msg("version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, nil, opError(op, current, err)
		}
		return working, eff, nil
	}
}

func (e *Engine) publish(ctx context.Context, entry *Entry, eff *effect) {
	if eff.event == "" {
		return
	}
	evt := Event{
		Type:           eff.event,
		EntryID:        entry.ID,
		ContractID:     entry.ContractID,
		Status:         entry.Status,
		Amount:         eff.amount,
		CounterpartyID: eff.counterparty,
		Version:        entry.Version,
		At:             entry.UpdatedAt,
	}
	if err := e.publisher.Publish(ctx, evt); err != nil {
		e.log.Warn().Err(err).Str("entry_id", string(entry.ID)).Str("event", string(evt.Type)).Msg("event publish failed")
	}
}

// audit appends the single record that pairs with a successful mutation.
func audit(entry *Entry, now time.Time, actor string, action AuditAction, prev Status, amount decimal.Decimal, note string) {
	entry.appendAudit(AuditRecord{
		ID:             uuid.NewString(),
		Timestamp:      now,
		Actor:          actor,
		Action:         action,
		PreviousStatus: prev,
		NewStatus:      entry.Status,
		Amount:         amount,
		Note:           note,
	})
}

func (e *Engine) cashAccount(requested CashAccountID) CashAccountID {
	if requested != "" {
		return requested
	}
	return e.defaultCash
}

func isCents(d decimal.Decimal) bool { return d.Equal(roundMoney(d)) }

func validAmount(d decimal.Decimal) error {
	if !d.IsPositive() || !isCents(d) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, d.String())
	}
	return nil
}

// =============================================================================
// QUERIES AND ADMIN
// =============================================================================

func (e *Engine) GetEntry(ctx context.Context, id EntryID) (*Entry, error) {
	entry, err := e.store.GetEntry(ctx, id)
	if err != nil {
		return nil, &OperationError{Op: "get_entry", EntryID: id, Err: err}
	}
	return entry, nil
}

func (e *Engine) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	return e.store.ListEntries(ctx, filter)
}

func (e *Engine) OpenCashAccount(ctx context.Context, id CashAccountID, name string) error {
	return e.store.OpenCashAccount(ctx, id, name)
}

func (e *Engine) CashAccount(ctx context.Context, id CashAccountID) (*CashAccount, error) {
	return e.store.GetCashAccount(ctx, id)
}

// Reset bulk-deletes the whole ledger.
func (e *Engine) Reset(ctx context.Context) error {
	e.log.Warn().Msg("ledger reset requested")
	return e.store.Reset(ctx)
}
