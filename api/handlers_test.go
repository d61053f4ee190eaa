/*
handlers_test.go - HTTP tests for the ledger API

Tests for:
- Entry creation, payment and settlement round trips
- Error kind to status code mapping (400, 404, 409)
- Statements, receipts, contract accrual and cash accounts
- Scenario loading and health probes
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rent-ledger/accounts"
	"github.com/warp/rent-ledger/api"
	"github.com/warp/rent-ledger/ledger"
	"github.com/warp/rent-ledger/ledger/store"
	"github.com/warp/rent-ledger/observability"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	chart := accounts.NewStaticChart(map[string]string{
		accounts.CodeReceivableRent:   accounts.CodeReceivableRent,
		accounts.CodePayableLandlord:  accounts.CodePayableLandlord,
		accounts.CodeIncomeCommission: accounts.CodeIncomeCommission,
		accounts.CodeDepositHeld:      accounts.CodeDepositHeld,
	})
	engine := ledger.NewEngine(store.NewMemory(),
		ledger.WithChart(chart),
		ledger.WithDefaultCashAccount("caja"))

	h := api.NewHandler(engine, zerolog.Nop())
	h.CashAccounts = []ledger.CashAccount{{ID: "caja", Name: "Main cash box"}}
	require.NoError(t, h.Bootstrap(context.Background()))

	health := observability.NewHealthChecker()
	health.SetReady(true)
	return api.NewRouter(h, api.RouterOptions{Health: health})
}

func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// rentEntry is a 1000 rent split 900 landlord / 100 agency.
func createRentEntry(t *testing.T, srv http.Handler, id string) api.EntryDTO {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/entries", map[string]any{
		"id":           id,
		"contract_id":  "C-1",
		"accrual_date": "2025-03-01",
		"due_date":     "2025-03-10",
		"category":     "RENT",
		"lines": []map[string]any{
			{"account_code": accounts.CodeReceivableRent, "debit": "1000", "counterparty_id": "tenant"},
			{"account_code": accounts.CodePayableLandlord, "credit": "900", "counterparty_id": "owner"},
			{"account_code": accounts.CodeIncomeCommission, "credit": "100", "counterparty_id": "agency"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.EntryDTO](t, rec)
}

func TestCreateEntry_ReturnsPendingEntry(t *testing.T) {
	srv := newTestServer(t)

	entry := createRentEntry(t, srv, "e1")

	assert.Equal(t, ledger.StatusPending, entry.Status)
	assert.Equal(t, "1000.00", entry.OriginalAmount)
	assert.Equal(t, "1000.00", entry.Outstanding)
	require.Len(t, entry.Lines, 3)
	assert.Equal(t, "payable-landlord", entry.Lines[1].AccountID)
	assert.Equal(t, "2025-03-10", entry.DueDate)
}

func TestCreateEntry_UnbalancedIsBadRequest(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/entries", map[string]any{
		"category": "RENT",
		"lines": []map[string]any{
			{"account_id": "receivable-rent", "debit": "1000", "counterparty_id": "tenant"},
			{"account_id": "payable-landlord", "credit": "999", "counterparty_id": "owner"},
		},
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[api.ErrorResponse](t, rec)
	assert.Equal(t, ledger.KindValidation, resp.Kind)
}

func TestCreateEntry_MalformedBody(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/entries", `{"lines": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/entries", map[string]any{"accrual_date": "01/03/2025"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentAndSettlement_RoundTrip(t *testing.T) {
	// GIVEN: A 1000 rent entry
	// WHEN: The tenant pays 600 and the landlord settles
	// THEN: The landlord receives 90% of what was collected

	srv := newTestServer(t)
	createRentEntry(t, srv, "e1")

	rec := do(t, srv, http.MethodPost, "/api/entries/e1/payments", map[string]any{
		"amount": "600", "date": "2025-03-08", "method": "transfer", "voucher": "T-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	paid := decodeBody[api.EntryDTO](t, rec)
	assert.Equal(t, ledger.StatusPartiallyPaid, paid.Status)
	assert.Equal(t, "400.00", paid.Outstanding)
	assert.Equal(t, "600.00", paid.Lines[0].PaidToDate)

	rec = do(t, srv, http.MethodPost, "/api/entries/e1/settlements", map[string]any{
		"counterparty_id": "owner", "date": "2025-03-12",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	settled := decodeBody[api.SettlementDTO](t, rec)
	assert.Equal(t, "540.00", settled.Paid)
	assert.Equal(t, "600.00", settled.Collected)
	assert.Equal(t, "540.00", settled.Entry.Lines[1].SettledToDate)

	rec = do(t, srv, http.MethodGet, "/api/cash-accounts/caja", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cash := decodeBody[api.CashAccountDTO](t, rec)
	assert.Equal(t, "60.00", cash.Balance)
	require.Len(t, cash.Movements, 2)
	assert.Equal(t, ledger.Inflow, cash.Movements[0].Direction)
	assert.Equal(t, ledger.Outflow, cash.Movements[1].Direction)
}

func TestPayment_OverpaymentCarriesAmounts(t *testing.T) {
	srv := newTestServer(t)
	createRentEntry(t, srv, "e1")

	rec := do(t, srv, http.MethodPost, "/api/entries/e1/payments", map[string]any{"amount": "1500"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[api.ErrorResponse](t, rec)
	assert.Equal(t, ledger.KindValidation, resp.Kind)
	assert.Equal(t, "1500.00", resp.Requested)
	assert.Equal(t, "1000.00", resp.Balance)
	assert.Equal(t, "PENDING", resp.Status)
}

func TestStatusMapping(t *testing.T) {
	srv := newTestServer(t)
	createRentEntry(t, srv, "e1")

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		kind   ledger.Kind
	}{
		{"settle before collection", "/api/entries/e1/settlements", map[string]any{"counterparty_id": "owner"}, http.StatusConflict, ledger.KindStateConflict},
		{"unknown entry", "/api/entries/nope/payments", map[string]any{"amount": "10"}, http.StatusNotFound, ledger.KindNotFound},
		{"forgive without authorizer", "/api/entries/e1/forgive", map[string]any{"reason": "x"}, http.StatusBadRequest, ledger.KindValidation},
		{"adjust non-indexed entry", "/api/entries/e1/adjust", map[string]any{"index_value": "1.1"}, http.StatusConflict, ledger.KindStateConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decodeBody[api.ErrorResponse](t, rec).Kind)
		})
	}
}

func TestVoid_ThenPaymentConflicts(t *testing.T) {
	srv := newTestServer(t)
	createRentEntry(t, srv, "e1")

	rec := do(t, srv, http.MethodPost, "/api/entries/e1/void", map[string]any{"reason": "duplicate", "actor": "ops"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ledger.StatusVoided, decodeBody[api.EntryDTO](t, rec).Status)

	rec = do(t, srv, http.MethodPost, "/api/entries/e1/payments", map[string]any{"amount": "10"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/entries/e1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decodeBody[api.EntryDTO](t, rec)
	assert.NotEmpty(t, entry.Audit)
}

func TestForgive_PartialAmount(t *testing.T) {
	srv := newTestServer(t)
	createRentEntry(t, srv, "e1")

	rec := do(t, srv, http.MethodPost, "/api/entries/e1/forgive", map[string]any{
		"amount": "250", "reason": "repairs", "authorizer": "owner",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entry := decodeBody[api.EntryDTO](t, rec)
	assert.Equal(t, ledger.StatusPartiallyPaid, entry.Status)
	assert.Equal(t, "750.00", entry.Outstanding)
	assert.Equal(t, "250.00", entry.ForgivenTotal)
}

func TestInvoice_RequestThenRecord(t *testing.T) {
	srv := newTestServer(t)
	createRentEntry(t, srv, "e1")

	rec := do(t, srv, http.MethodPost, "/api/entries/e1/invoice", map[string]any{"invoice_ref": "A-0001"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/entries/e1/invoice", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, ledger.StatusPendingInvoice, decodeBody[api.EntryDTO](t, rec).Status)

	rec = do(t, srv, http.MethodPost, "/api/entries/e1/invoice", map[string]any{"invoice_ref": "A-0001"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entry := decodeBody[api.EntryDTO](t, rec)
	assert.Equal(t, ledger.StatusInvoiced, entry.Status)
	assert.Equal(t, "A-0001", entry.InvoiceRef)
}

func TestListEntries_FiltersByStatus(t *testing.T) {
	srv := newTestServer(t)
	createRentEntry(t, srv, "e1")
	createRentEntry(t, srv, "e2")
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/entries/e2/payments", map[string]any{"amount": "100"}).Code)

	rec := do(t, srv, http.MethodGet, "/api/entries?status=partially_paid", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]api.EntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "e2", entries[0].ID)

	rec = do(t, srv, http.MethodGet, "/api/entries?status=BOGUS", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetStatement_CutoffAndPendingOnly(t *testing.T) {
	srv := newTestServer(t)
	createRentEntry(t, srv, "e1")
	require.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/api/entries/e1/payments", map[string]any{"amount": "1000"}).Code)

	rec := do(t, srv, http.MethodGet, "/api/counterparties/owner/statement", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decodeBody[ledger.Statement](t, rec)
	require.Len(t, st.Movements, 1)
	assert.Equal(t, ledger.RoleCreditor, st.Movements[0].Role)
	assert.True(t, st.Movements[0].Available.Equal(ledger.Money("900")))

	rec = do(t, srv, http.MethodGet, "/api/counterparties/owner/statement?cutoff=2025-02-28", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[ledger.Statement](t, rec).Movements)

	rec = do(t, srv, http.MethodGet, "/api/counterparties/tenant/statement?pending_only=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[ledger.Statement](t, rec).Movements)

	rec = do(t, srv, http.MethodGet, "/api/counterparties/owner/statement?cutoff=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessReceipt_ReportsLineOutcomes(t *testing.T) {
	// GIVEN: A pending rent entry
	// WHEN: A receipt collects it, pays the landlord and carries a bad line
	// THEN: The good lines commit and the bad one is reported, with a 200

	srv := newTestServer(t)
	createRentEntry(t, srv, "e1")

	rec := do(t, srv, http.MethodPost, "/api/receipts", map[string]any{
		"id":   "R-1",
		"date": "2025-03-09",
		"lines": []map[string]any{
			{"kind": "COBRO", "entry_id": "e1", "amount": "1000"},
			{"kind": "PAGO", "entry_id": "e1", "counterparty_id": "owner"},
			{"kind": "COBRO", "entry_id": "missing", "amount": "5"},
		},
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rc := decodeBody[ledger.Receipt](t, rec)
	assert.Equal(t, "R-1", rc.ID)
	assert.Equal(t, 2, rc.Totals.Processed)
	assert.Equal(t, 1, rc.Totals.Failed)
	assert.True(t, rc.Totals.Net.Equal(ledger.Money("100")))
	assert.Equal(t, ledger.KindNotFound, rc.Results[2].ErrorKind)

	rec = do(t, srv, http.MethodPost, "/api/receipts", map[string]any{"lines": []map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetReceipt_StoredAfterProcessing(t *testing.T) {
	// GIVEN: A processed receipt
	// WHEN: It is fetched by id, then submitted again
	// THEN: The stored outcomes come back; the resubmission conflicts

	srv := newTestServer(t)
	createRentEntry(t, srv, "e1")
	body := map[string]any{
		"id":     "R-2",
		"date":   "2025-03-09",
		"method": "cash",
		"lines":  []map[string]any{{"kind": "COBRO", "entry_id": "e1", "amount": "400"}},
	}
	rec := do(t, srv, http.MethodPost, "/api/receipts", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/receipts/R-2", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rc := decodeBody[ledger.Receipt](t, rec)
	assert.Equal(t, "cash", rc.Method)
	require.Len(t, rc.Results, 1)
	assert.Equal(t, ledger.OutcomeProcessed, rc.Results[0].Outcome)
	assert.True(t, rc.Totals.Inflow.Equal(ledger.Money("400")))

	rec = do(t, srv, http.MethodPost, "/api/receipts", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/receipts/R-404", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAccrueContract_Idempotent(t *testing.T) {
	srv := newTestServer(t)
	body := map[string]any{
		"id":              "C-9",
		"tenant_id":       "tenant",
		"landlord_id":     "owner",
		"agency_id":       "agency",
		"monthly_rent":    "800.00",
		"commission_rate": "0.05",
		"start":           "2025-01-01",
		"months":          6,
		"deposit":         "1600.00",
	}

	rec := do(t, srv, http.MethodPost, "/api/contracts/accrue", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first struct {
		Created []string `json:"created"`
		Skipped []string `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Len(t, first.Created, 7)
	assert.Contains(t, first.Created, "C-9-2025-03")

	rec = do(t, srv, http.MethodPost, "/api/contracts/accrue", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var second struct {
		Created []string `json:"created"`
		Skipped []string `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Empty(t, second.Created)
	assert.Len(t, second.Skipped, 7)

	body["months"] = 0
	rec = do(t, srv, http.MethodPost, "/api/contracts/accrue", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCashAccounts_OpenAndLookup(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/cash-accounts", map[string]any{"id": "bank", "name": "Bank"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	acc := decodeBody[api.CashAccountDTO](t, rec)
	assert.Equal(t, "0.00", acc.Balance)
	assert.Empty(t, acc.Movements)

	rec = do(t, srv, http.MethodGet, "/api/cash-accounts/vault", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/cash-accounts", map[string]any{"name": "no id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetLedger_ReopensCashAccounts(t *testing.T) {
	srv := newTestServer(t)
	createRentEntry(t, srv, "e1")

	rec := do(t, srv, http.MethodPost, "/api/admin/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/entries/e1", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/api/cash-accounts/caja", nil).Code)
}

func TestScenarios_LoadEach(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]api.ScenarioDTO](t, rec)
	require.NotEmpty(t, list)

	for _, s := range list {
		t.Run(s.ID, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": s.ID})
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

			rec = do(t, srv, http.MethodGet, "/api/scenarios/current", nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, s.ID, decodeBody[api.ScenarioDTO](t, rec).ID)
		})
	}

	rec = do(t, srv, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthProbes(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/healthz", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodGet, "/readyz", nil).Code)
}
