/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	data for demos. Each scenario accrues one contract and then drives a
	few entries through payments, settlements, write-offs or adjustments.

AVAILABLE SCENARIOS:

	simple-lease:     Rent paid in full, landlord and agency settled
	partial-payments: Waterfall across lines, proportional liquidation
	indexed-lease:    Index-linked contract with a pending adjustment
	arrears:          Forgiveness and void on a defaulting tenant

HOW SCENARIOS WORK:
 1. Reset the ledger and reopen configured cash accounts
 2. Accrue a contract via contract.Accrue
 3. Apply operations through the engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "partial-payments"}

NOTE:

	Scenarios reset the ledger. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler type
  - contract/schedule.go: Entry generation
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/rent-ledger/contract"
	"github.com/warp/rent-ledger/ledger"
)

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "simple-lease",
		Name:        "Simple Lease",
		Description: "January rent paid in full, landlord and agency settled",
	},
	{
		ID:          "partial-payments",
		Name:        "Partial Payments",
		Description: "Tenant pays in instalments, landlord collects proportionally",
	},
	{
		ID:          "indexed-lease",
		Name:        "Indexed Lease",
		Description: "Quarterly index adjustment, first block repriced",
	},
	{
		ID:          "arrears",
		Name:        "Arrears",
		Description: "Partial forgiveness and a voided month",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the ledger and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "simple-lease":
		load = h.loadSimpleLeaseScenario
	case "partial-payments":
		load = h.loadPartialPaymentsScenario
	case "indexed-lease":
		load = h.loadIndexedLeaseScenario
	case "arrears":
		load = h.loadArrearsScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.Engine.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset ledger", err)
		return
	}
	if err := h.Bootstrap(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reopen cash accounts", err)
		return
	}
	h.setScenario("")

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.setScenario(req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func demoContract(id string) contract.Contract {
	return contract.Contract{
		ID:             ledger.ContractID(id),
		TenantID:       "tenant-ana",
		LandlordID:     "owner-luis",
		AgencyID:       "agency",
		MonthlyRent:    ledger.Money("1000"),
		CommissionRate: ledger.Money("0.10"),
		Start:          time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		Months:         12,
		DueDay:         10,
	}
}

func day(month time.Month, d int) time.Time {
	return time.Date(2025, month, d, 0, 0, 0, 0, time.UTC)
}

func (h *Handler) loadSimpleLeaseScenario(ctx context.Context) error {
	c := demoContract("C-SIMPLE")
	c.Deposit = ledger.Money("2000")
	if _, err := contract.Accrue(ctx, h.Engine, c); err != nil {
		return err
	}

	jan := c.EntryID(c.Periods()[0])
	if _, err := h.Engine.RegisterPayment(ctx, ledger.PaymentInput{
		EntryID: jan, Amount: ledger.Money("1000"), Date: day(time.January, 8), Method: "transfer", Actor: "demo",
	}); err != nil {
		return err
	}
	for _, cp := range []ledger.CounterpartyID{c.LandlordID, c.AgencyID} {
		if _, err := h.Engine.SettleCreditor(ctx, ledger.SettlementInput{
			EntryID: jan, CounterpartyID: cp, Date: day(time.January, 12), Method: "transfer", Actor: "demo",
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadPartialPaymentsScenario(ctx context.Context) error {
	c := demoContract("C-PARTIAL")
	if _, err := contract.Accrue(ctx, h.Engine, c); err != nil {
		return err
	}

	periods := c.Periods()
	feb := c.EntryID(periods[1])
	for _, p := range []struct {
		amount string
		at     time.Time
	}{
		{"400", day(time.February, 9)},
		{"350", day(time.February, 20)},
	} {
		if _, err := h.Engine.RegisterPayment(ctx, ledger.PaymentInput{
			EntryID: feb, Amount: ledger.Money(p.amount), Date: p.at, Method: "cash", Actor: "demo",
		}); err != nil {
			return err
		}
	}

	// Landlord takes 90% of the 750 collected so far.
	_, err := h.Engine.SettleCreditor(ctx, ledger.SettlementInput{
		EntryID: feb, CounterpartyID: c.LandlordID, Date: day(time.February, 25), Method: "transfer", Actor: "demo",
	})
	return err
}

func (h *Handler) loadIndexedLeaseScenario(ctx context.Context) error {
	c := demoContract("C-INDEX")
	c.Months = 6
	c.IndexName = "ICL"
	c.IndexBase = ledger.Money("1")
	c.AdjustEvery = 3
	if _, err := contract.Accrue(ctx, h.Engine, c); err != nil {
		return err
	}

	apr := c.EntryID(c.Periods()[3])
	_, err := h.Engine.ApplyIndexAdjustment(ctx, ledger.AdjustmentInput{
		EntryID: apr, IndexValue: ledger.Money("1.07"), Actor: "demo",
	})
	return err
}

func (h *Handler) loadArrearsScenario(ctx context.Context) error {
	c := demoContract("C-ARREARS")
	c.Months = 3
	if _, err := contract.Accrue(ctx, h.Engine, c); err != nil {
		return err
	}

	periods := c.Periods()
	jan, feb, mar := c.EntryID(periods[0]), c.EntryID(periods[1]), c.EntryID(periods[2])

	if _, err := h.Engine.RegisterPayment(ctx, ledger.PaymentInput{
		EntryID: jan, Amount: ledger.Money("700"), Date: day(time.January, 15), Method: "cash", Actor: "demo",
	}); err != nil {
		return err
	}
	if _, err := h.Engine.ForgiveDebt(ctx, ledger.ForgiveInput{
		EntryID: jan, Reason: "hardship agreement", Authorizer: "owner-luis", Actor: "demo", Date: day(time.January, 31),
	}); err != nil {
		return err
	}
	forgiven := ledger.Money("200")
	if _, err := h.Engine.ForgiveDebt(ctx, ledger.ForgiveInput{
		EntryID: feb, Amount: &forgiven, Reason: "repairs paid by tenant", Authorizer: "owner-luis", Actor: "demo", Date: day(time.February, 28),
	}); err != nil {
		return err
	}
	_, err := h.Engine.VoidEntry(ctx, ledger.VoidInput{
		EntryID: mar, Reason: "contract terminated early", Actor: "demo", Date: day(time.March, 1),
	})
	return err
}
