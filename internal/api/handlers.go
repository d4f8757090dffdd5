package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerline/ledgerd/internal/ledger"
)

// ─── Ledger Handlers ────────────────────────────────────────────────────────
// POST /invoices                      — create an invoice
// POST /payments                      — record a payment (idempotent)
// POST /refunds                       — issue a refund
// GET  /invoices/{invoice_id}/ledger  — invoice snapshot + payments

type createInvoiceRequest struct {
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	DueDays     int    `json:"due_days"`
}

// handleCreateInvoice creates a new invoice.
// POST /invoices
func (s *Server) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		recordOperation("create_invoice", "invalid_json")
		return
	}

	invoiceID, err := s.store.CreateInvoice(req.CustomerID, req.AmountCents, req.DueDays)
	if err != nil {
		writeLedgerError(w, err)
		recordOperation("create_invoice", err.Error())
		return
	}

	recordOperation("create_invoice", "created")
	writeJSON(w, http.StatusCreated, map[string]string{
		"invoice_id": invoiceID,
		"status":     "created",
	})
}

type recordPaymentRequest struct {
	InvoiceID      string `json:"invoice_id"`
	AmountCents    int64  `json:"amount_cents"`
	Method         string `json:"method"`
	IdempotencyKey string `json:"idempotency_key"`
}

// handleRecordPayment applies a payment against an invoice. A replayed
// idempotency key answers 200 with status duplicate_ignored and the
// original payment id.
// POST /payments
func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		recordOperation("record_payment", "invalid_json")
		return
	}

	res, err := s.store.RecordPayment(ledger.PaymentRequest{
		InvoiceID:      req.InvoiceID,
		AmountCents:    req.AmountCents,
		Method:         ledger.Method(req.Method),
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeLedgerError(w, err)
		recordOperation("record_payment", err.Error())
		return
	}

	recordOperation("record_payment", string(res.Result))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"payment_id":     res.PaymentID,
		"status":         res.Result,
		"invoice_status": res.InvoiceStatus,
	})
}

type issueRefundRequest struct {
	InvoiceID   string `json:"invoice_id"`
	AmountCents int64  `json:"amount_cents"`
}

// handleIssueRefund reduces an invoice's paid total.
// POST /refunds
func (s *Server) handleIssueRefund(w http.ResponseWriter, r *http.Request) {
	var req issueRefundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		recordOperation("issue_refund", "invalid_json")
		return
	}

	res, err := s.store.IssueRefund(req.InvoiceID, req.AmountCents)
	if err != nil {
		writeLedgerError(w, err)
		recordOperation("issue_refund", err.Error())
		return
	}

	recordOperation("issue_refund", "issued")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"refund_id":      res.RefundID,
		"status":         "issued",
		"invoice_status": res.InvoiceStatus,
	})
}

// handleGetLedger returns the invoice snapshot, its payments, and the
// outstanding balance. Reads emit no business audit event.
// GET /invoices/{invoice_id}/ledger
func (s *Server) handleGetLedger(w http.ResponseWriter, r *http.Request) {
	invoiceID := chi.URLParam(r, "invoice_id")

	view, err := s.store.GetLedger(invoiceID)
	if err != nil {
		writeLedgerError(w, err)
		recordOperation("get_ledger", err.Error())
		return
	}

	recordOperation("get_ledger", "ok")
	writeJSON(w, http.StatusOK, view)
}
