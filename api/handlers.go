/*
handlers.go - HTTP API handlers for the rent ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  Entries:
    POST   /api/entries                       Create entry
    GET    /api/entries                       List (?contract=&counterparty=&status=)
    GET    /api/entries/{id}                  Entry with audit trail
    POST   /api/entries/{id}/payments         Register debtor payment
    POST   /api/entries/{id}/settlements      Settle one creditor
    POST   /api/entries/{id}/forgive          Forgive debt
    POST   /api/entries/{id}/void             Void entry
    POST   /api/entries/{id}/adjust           Apply index value
    POST   /api/entries/{id}/invoice          Request / record invoice

  Statements and receipts:
    GET    /api/counterparties/{id}/statement ?cutoff=YYYY-MM-DD&pending_only=true
    POST   /api/receipts                      Process a receipt batch
    GET    /api/receipts/{id}                 Fetch a processed receipt

  Scenarios:
    GET    /api/scenarios                     List demo scenarios
    GET    /api/scenarios/current             Loaded scenario
    POST   /api/scenarios/load                Reset and load a scenario

  Contracts, cash, admin:
    POST   /api/contracts/accrue              Generate a contract's entries
    POST   /api/cash-accounts                 Open cash account
    GET    /api/cash-accounts/{id}            Balance and movement log
    POST   /api/admin/reset                   Delete everything (dev only)

ERROR HANDLING:
  Engine errors map by kind:
  - 400: VALIDATION (and malformed bodies)
  - 404: NOT_FOUND
  - 409: STATE_CONFLICT
  - 502: DEPENDENCY_FAILURE

SECURITY NOTE:
  No authentication or authorization. Put the service behind a gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/warp/rent-ledger/contract"
	"github.com/warp/rent-ledger/factory"
	"github.com/warp/rent-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *ledger.Engine
	Contracts *factory.ContractFactory
	Log       zerolog.Logger

	// CashAccounts are reopened after an admin reset.
	CashAccounts []ledger.CashAccount

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(engine *ledger.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		Engine:    engine,
		Contracts: factory.NewContractFactory(),
		Log:       log,
	}
}

// Bootstrap opens the configured cash accounts. Safe to call repeatedly.
func (h *Handler) Bootstrap(ctx context.Context) error {
	for _, acc := range h.CashAccounts {
		if err := h.Engine.OpenCashAccount(ctx, acc.ID, acc.Name); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// CreateEntry records a new journal entry.
// POST /api/entries
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.toNewEntry()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	entry, err := h.Engine.CreateEntry(r.Context(), in)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntryDTO(entry, false))
}

// ListEntries returns entries ordered by accrual date.
// GET /api/entries?contract=&counterparty=&status=PENDING,PARTIALLY_PAID
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.EntryFilter{
		ContractID:     ledger.ContractID(q.Get("contract")),
		CounterpartyID: ledger.CounterpartyID(q.Get("counterparty")),
	}
	if raw := q.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := ledger.Status(strings.ToUpper(strings.TrimSpace(s)))
			if !status.Valid() {
				writeError(w, http.StatusBadRequest, "Unknown status", errors.New(s))
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	entries, err := h.Engine.ListEntries(r.Context(), filter)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i := range entries {
		dtos[i] = toEntryDTO(&entries[i], false)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEntry returns one entry with its audit trail.
// GET /api/entries/{id}
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.Engine.GetEntry(r.Context(), entryID(r))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry, true))
}

// RegisterPayment applies a debtor payment.
// POST /api/entries/{id}/payments
func (h *Handler) RegisterPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	entry, err := h.Engine.RegisterPayment(r.Context(), ledger.PaymentInput{
		EntryID:       entryID(r),
		Amount:        req.Amount,
		Date:          date,
		Method:        req.Method,
		Voucher:       req.Voucher,
		Actor:         req.Actor,
		CashAccountID: ledger.CashAccountID(req.CashAccountID),
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry, false))
}

// SettleCreditor pays out a creditor's available entitlement.
// POST /api/entries/{id}/settlements
func (h *Handler) SettleCreditor(w http.ResponseWriter, r *http.Request) {
	var req SettlementRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	res, err := h.Engine.SettleCreditor(r.Context(), ledger.SettlementInput{
		EntryID:        entryID(r),
		CounterpartyID: ledger.CounterpartyID(req.CounterpartyID),
		Date:           date,
		Method:         req.Method,
		Voucher:        req.Voucher,
		Actor:          req.Actor,
		CashAccountID:  ledger.CashAccountID(req.CashAccountID),
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SettlementDTO{
		Entry:     toEntryDTO(res.Entry, false),
		Paid:      fixed(res.Paid),
		Collected: fixed(res.Collected),
	})
}

// ForgiveDebt writes off some or all of the outstanding balance.
// POST /api/entries/{id}/forgive
func (h *Handler) ForgiveDebt(w http.ResponseWriter, r *http.Request) {
	var req ForgiveRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	entry, err := h.Engine.ForgiveDebt(r.Context(), ledger.ForgiveInput{
		EntryID:    entryID(r),
		Amount:     req.Amount,
		Reason:     req.Reason,
		Authorizer: req.Authorizer,
		Actor:      req.Actor,
		Date:       date,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry, false))
}

// VoidEntry cancels an entry.
// POST /api/entries/{id}/void
func (h *Handler) VoidEntry(w http.ResponseWriter, r *http.Request) {
	var req VoidRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	entry, err := h.Engine.VoidEntry(r.Context(), ledger.VoidInput{
		EntryID: entryID(r),
		Reason:  req.Reason,
		Actor:   req.Actor,
		Date:    date,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry, false))
}

// ApplyIndexAdjustment reprices an entry awaiting an index value.
// POST /api/entries/{id}/adjust
func (h *Handler) ApplyIndexAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.Engine.ApplyIndexAdjustment(r.Context(), ledger.AdjustmentInput{
		EntryID:    entryID(r),
		IndexValue: req.IndexValue,
		Actor:      req.Actor,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry, false))
}

// Invoice requests an invoice, or records one when invoice_ref is given.
// POST /api/entries/{id}/invoice
func (h *Handler) Invoice(w http.ResponseWriter, r *http.Request) {
	var req InvoiceRequest
	if !decode(w, r, &req) {
		return
	}
	var (
		entry *ledger.Entry
		err   error
	)
	if req.InvoiceRef == "" {
		entry, err = h.Engine.RequestInvoice(r.Context(), entryID(r), req.Actor)
	} else {
		entry, err = h.Engine.RecordInvoice(r.Context(), entryID(r), req.InvoiceRef, req.Actor)
	}
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry, false))
}

// =============================================================================
// STATEMENT AND RECEIPT HANDLERS
// =============================================================================

// GetStatement projects a counterparty's account statement.
// GET /api/counterparties/{id}/statement?cutoff=2025-06-30&pending_only=true
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ledger.StatementQuery{
		CounterpartyID: ledger.CounterpartyID(chi.URLParam(r, "id")),
		PendingOnly:    q.Get("pending_only") == "true",
	}
	if raw := q.Get("cutoff"); raw != "" {
		cutoff, err := parseDate("cutoff", raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid cutoff", err)
			return
		}
		query.Cutoff = &cutoff
	}

	st, err := h.Engine.GetStatement(r.Context(), query)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ProcessReceipt runs a batch of collections and payouts. Line failures
// are reported in the body with a 200; only a malformed receipt fails.
// POST /api/receipts
func (h *Handler) ProcessReceipt(w http.ResponseWriter, r *http.Request) {
	var req ReceiptRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request", err)
		return
	}
	rc, err := h.Engine.ProcessReceipt(r.Context(), ledger.ReceiptInput{
		ID:            req.ID,
		CashAccountID: ledger.CashAccountID(req.CashAccountID),
		Date:          date,
		Method:        req.Method,
		Actor:         req.Actor,
		Lines:         req.Lines,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// GetReceipt returns a processed receipt with its line outcomes.
// GET /api/receipts/{id}
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	rc, err := h.Engine.GetReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rc)
}

// =============================================================================
// CONTRACT, CASH AND ADMIN HANDLERS
// =============================================================================

// AccrueContract generates every entry a contract bills.
// POST /api/contracts/accrue (body: factory.ContractJSON)
func (h *Handler) AccrueContract(w http.ResponseWriter, r *http.Request) {
	var cj factory.ContractJSON
	if !decode(w, r, &cj) {
		return
	}
	c, err := h.Contracts.FromJSON(cj)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid contract", err)
		return
	}
	res, err := contract.Accrue(r.Context(), h.Engine, *c)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// OpenCashAccount creates a cash account with a zero balance.
// POST /api/cash-accounts
func (h *Handler) OpenCashAccount(w http.ResponseWriter, r *http.Request) {
	var req CashAccountRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required", nil)
		return
	}
	if err := h.Engine.OpenCashAccount(r.Context(), ledger.CashAccountID(req.ID), req.Name); err != nil {
		writeLedgerError(w, err)
		return
	}
	h.writeCashAccount(r.Context(), w, ledger.CashAccountID(req.ID), http.StatusCreated)
}

// GetCashAccount returns the balance and movement log.
// GET /api/cash-accounts/{id}
func (h *Handler) GetCashAccount(w http.ResponseWriter, r *http.Request) {
	h.writeCashAccount(r.Context(), w, ledger.CashAccountID(chi.URLParam(r, "id")), http.StatusOK)
}

func (h *Handler) writeCashAccount(ctx context.Context, w http.ResponseWriter, id ledger.CashAccountID, status int) {
	acc, err := h.Engine.CashAccount(ctx, id)
	if errors.Is(err, ledger.ErrCashAccountNotFound) {
		writeError(w, http.StatusNotFound, "Cash account not found", err)
		return
	}
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	moves, err := h.Engine.Store().ListMovements(ctx, id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if moves == nil {
		moves = []ledger.CashMovement{}
	}
	writeJSON(w, status, CashAccountDTO{ID: string(acc.ID), Name: acc.Name, Balance: fixed(acc.Balance), Movements: moves})
}

// ResetLedger deletes every entry and cash account, then reopens the
// configured cash accounts.
// POST /api/admin/reset
func (h *Handler) ResetLedger(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset ledger", err)
		return
	}
	if err := h.Bootstrap(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reopen cash accounts", err)
		return
	}
	h.Log.Warn().Str("remote", r.RemoteAddr).Msg("ledger reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "at": time.Now().UTC().Format(time.RFC3339)})
}

// =============================================================================
// HELPERS
// =============================================================================

func entryID(r *http.Request) ledger.EntryID {
	return ledger.EntryID(chi.URLParam(r, "id"))
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps an error kind to the HTTP status it is rendered with.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindValidation:
		return http.StatusBadRequest
	case ledger.KindStateConflict:
		return http.StatusConflict
	case ledger.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeLedgerError(w http.ResponseWriter, err error) {
	if errors.Is(err, contract.ErrInvalidContract) {
		writeError(w, http.StatusBadRequest, "Invalid contract", err)
		return
	}

	kind := ledger.KindOf(err)
	resp := ErrorResponse{Error: http.StatusText(statusFor(kind)), Kind: kind, Details: err.Error()}
	var opErr *ledger.OperationError
	if errors.As(err, &opErr) {
		resp.Status = string(opErr.Status)
		if !opErr.Requested.IsZero() {
			resp.Requested = fixed(opErr.Requested)
			resp.Balance = fixed(opErr.Balance)
		}
	}
	writeJSON(w, statusFor(kind), resp)
}
