// Package accounts provides the chart of accounts used to resolve the
// stable account codes that contract generators emit.
package accounts

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/rent-ledger/ledger"
)

// Well-known codes emitted by the contract generator.
const (
	CodeReceivableRent   = "receivable-rent"
	CodePayableLandlord  = "payable-landlord"
	CodeIncomeCommission = "income-commission"
	CodeDepositHeld      = "deposit-held"
)

// StaticChart is an in-memory code -> account id table, usually loaded from
// the [chart] section of the configuration.
type StaticChart struct {
	mu    sync.RWMutex
	codes map[string]ledger.AccountID
}

var _ ledger.ChartOfAccounts = (*StaticChart)(nil)

func NewStaticChart(codes map[string]string) *StaticChart {
	c := &StaticChart{codes: make(map[string]ledger.AccountID, len(codes))}
	for code, id := range codes {
		c.codes[code] = ledger.AccountID(id)
	}
	return c
}

// Resolve implements ledger.ChartOfAccounts.
func (c *StaticChart) Resolve(_ context.Context, code string) (ledger.AccountID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.codes[code]
	return id, ok
}

// Set adds or replaces a code.
func (c *StaticChart) Set(code string, id ledger.AccountID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[code] = id
}

// Codes lists every known code in sorted order.
func (c *StaticChart) Codes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.codes))
	for code := range c.codes {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
