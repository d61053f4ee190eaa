// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/warp/rent-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	entries   map[ledger.EntryID]*ledger.Entry
	accounts  map[ledger.CashAccountID]*ledger.CashAccount
	movements []ledger.CashMovement
	receipts  map[string]*ledger.Receipt
}

func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[ledger.EntryID]*ledger.Entry),
		accounts: make(map[ledger.CashAccountID]*ledger.CashAccount),
		receipts: make(map[string]*ledger.Receipt),
	}
}

func (m *Memory) GetEntry(_ context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) ListEntries(_ context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(filter), nil
}

func (m *Memory) InsertEntry(_ context.Context, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e)
}

func (m *Memory) UpdateEntry(_ context.Context, e *ledger.Entry, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(e, expectedVersion)
}

func (m *Memory) UpdateBalance(_ context.Context, mv ledger.CashMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveLocked(mv)
}

func (m *Memory) OpenCashAccount(_ context.Context, id ledger.CashAccountID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; ok {
		return nil
	}
	m.accounts[id] = &ledger.CashAccount{ID: id, Name: name, Balance: decimal.Zero}
	return nil
}

func (m *Memory) GetCashAccount(_ context.Context, id ledger.CashAccountID) (*ledger.CashAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[id]
	if !ok {
		return nil, ledger.ErrCashAccountNotFound
	}
	cp := *acc
	return &cp, nil
}

func (m *Memory) ListMovements(_ context.Context, id ledger.CashAccountID) ([]ledger.CashMovement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.CashMovement
	for _, mv := range m.movements {
		if mv.AccountID == id {
			out = append(out, mv)
		}
	}
	return out, nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[ledger.EntryID]*ledger.Entry)
	m.accounts = make(map[ledger.CashAccountID]*ledger.CashAccount)
	m.movements = nil
	m.receipts = make(map[string]*ledger.Receipt)
	return nil
}

func (m *Memory) SaveReceipt(_ context.Context, rc *ledger.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.receipts[rc.ID]; ok {
		return ledger.ErrReceiptExists
	}
	cp := *rc
	cp.Results = append([]ledger.ReceiptLineResult(nil), rc.Results...)
	m.receipts[rc.ID] = &cp
	return nil
}

func (m *Memory) GetReceipt(_ context.Context, id string) (*ledger.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rc, ok := m.receipts[id]
	if !ok {
		return nil, ledger.ErrReceiptNotFound
	}
	cp := *rc
	cp.Results = append([]ledger.ReceiptLineResult(nil), rc.Results...)
	return &cp, nil
}

// =============================================================================
// LOCKED HELPERS - Caller holds mu
// =============================================================================

func (m *Memory) getLocked(id ledger.EntryID) (*ledger.Entry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	return e.Clone(), nil
}

func (m *Memory) listLocked(filter ledger.EntryFilter) []ledger.Entry {
	out := make([]ledger.Entry, 0)
	for _, e := range m.entries {
		if filter.Matches(e) {
			out = append(out, *e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AccrualDate.Equal(out[j].AccrualDate) {
			return out[i].AccrualDate.Before(out[j].AccrualDate)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Memory) insertLocked(e *ledger.Entry) error {
	if _, ok := m.entries[e.ID]; ok {
		return ledger.ErrDuplicateEntry
	}
	e.Version = 1
	m.entries[e.ID] = e.Clone()
	return nil
}

func (m *Memory) updateLocked(e *ledger.Entry, expectedVersion int64) error {
	cur, ok := m.entries[e.ID]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	if cur.Version != expectedVersion {
		return ledger.ErrConcurrentModification
	}
	e.Version = expectedVersion + 1
	m.entries[e.ID] = e.Clone()
	return nil
}

func (m *Memory) moveLocked(mv ledger.CashMovement) error {
	acc, ok := m.accounts[mv.AccountID]
	if !ok {
		return ledger.ErrCashAccountNotFound
	}
	switch mv.Direction {
	case ledger.Inflow:
		acc.Balance = acc.Balance.Add(mv.Amount)
	case ledger.Outflow:
		acc.Balance = acc.Balance.Sub(mv.Amount)
	}
	m.movements = append(m.movements, mv)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries   map[ledger.EntryID]*ledger.Entry
	accounts  map[ledger.CashAccountID]*ledger.CashAccount
	movements []ledger.CashMovement
}

// snapshot copies the maps; stored entries are replaced on write, never
// mutated in place, so sharing the pointers is safe.
func (m *Memory) snapshot() memorySnapshot {
	entries := make(map[ledger.EntryID]*ledger.Entry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = v
	}
	accounts := make(map[ledger.CashAccountID]*ledger.CashAccount, len(m.accounts))
	for k, v := range m.accounts {
		acc := *v
		accounts[k] = &acc
	}
	return memorySnapshot{
		entries:   entries,
		accounts:  accounts,
		movements: append([]ledger.CashMovement(nil), m.movements...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.entries = s.entries
	m.accounts = s.accounts
	m.movements = s.movements
}

// txView runs against the parent while WithTx holds its lock.
type txView struct {
	parent *Memory
}

func (tv *txView) GetEntry(_ context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	return tv.parent.getLocked(id)
}

func (tv *txView) ListEntries(_ context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	return tv.parent.listLocked(filter), nil
}

func (tv *txView) InsertEntry(_ context.Context, e *ledger.Entry) error {
	return tv.parent.insertLocked(e)
}

func (tv *txView) UpdateEntry(_ context.Context, e *ledger.Entry, expectedVersion int64) error {
	return tv.parent.updateLocked(e, expectedVersion)
}

func (tv *txView) UpdateBalance(_ context.Context, mv ledger.CashMovement) error {
	return tv.parent.moveLocked(mv)
}
