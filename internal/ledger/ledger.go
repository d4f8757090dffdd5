// Package ledger implements the accounting core: invoices, idempotent
// payment application, and refunds, with every accepted mutation coupled
// to exactly one durable audit record.
//
// All money is integer minor-currency units (cents), never floating
// point. State is in-memory and exclusively owned by Store; the audit
// trail is the only durable output.
package ledger

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/ledgerd/internal/audit"
)

// currency is the fixed tag stamped on invoice_created events.
const currency = "USD"

// ─── Domain Types ───────────────────────────────────────────────────────────

// Status is the derived invoice state. It is recomputed after every
// mutation, never set independently: paid iff paid_cents == amount_cents.
type Status string

const (
	StatusOpen Status = "open"
	StatusPaid Status = "paid"

	// StatusUnknown is reported only on the duplicate-payment path when
	// the original payment's invoice cannot be found. It never appears on
	// a stored invoice.
	StatusUnknown Status = "unknown"
)

// Method is the payment instrument.
type Method string

const (
	MethodACH   Method = "ach"
	MethodCard  Method = "card"
	MethodCheck Method = "check"
)

// Valid reports whether m is one of the accepted payment methods.
func (m Method) Valid() bool {
	switch m {
	case MethodACH, MethodCard, MethodCheck:
		return true
	}
	return false
}

// Invoice is a bill for a fixed amount with a running paid total.
// AmountCents is immutable after creation; PaidCents moves only through
// RecordPayment and IssueRefund and always satisfies
// 0 ≤ PaidCents ≤ AmountCents.
type Invoice struct {
	InvoiceID   string    `json:"invoice_id"`
	CustomerID  string    `json:"customer_id"`
	AmountCents int64     `json:"amount_cents"`
	PaidCents   int64     `json:"paid_cents"`
	DueDays     int       `json:"due_days"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Payment is an amount applied against an invoice, immutable once
// accepted. Refunds do not create or mutate Payment records: they only
// reduce the parent invoice's PaidCents (see DESIGN.md).
type Payment struct {
	PaymentID   string    `json:"payment_id"`
	InvoiceID   string    `json:"invoice_id"`
	AmountCents int64     `json:"amount_cents"`
	Method      Method    `json:"method"`
	CreatedAt   time.Time `json:"created_at"`
}

// Result distinguishes a freshly applied payment from a deduplicated
// replay. Both are success outcomes.
type Result string

const (
	ResultRecorded         Result = "recorded"
	ResultDuplicateIgnored Result = "duplicate_ignored"
)

// PaymentRequest carries the inputs to RecordPayment. IdempotencyKey is
// optional; when empty the payment is never deduplicated.
type PaymentRequest struct {
	InvoiceID      string
	AmountCents    int64
	Method         Method
	IdempotencyKey string
}

// PaymentResult is the outcome of an accepted (or deduplicated) payment.
type PaymentResult struct {
	PaymentID     string
	Result        Result
	InvoiceStatus Status
}

// RefundResult is the outcome of an issued refund.
type RefundResult struct {
	RefundID      string
	InvoiceStatus Status
}

// LedgerView is a read-only snapshot of one invoice and its payments.
type LedgerView struct {
	Invoice          Invoice   `json:"invoice"`
	Payments         []Payment `json:"payments"`
	OutstandingCents int64     `json:"outstanding_cents"`
}

// ─── Store ──────────────────────────────────────────────────────────────────

// Store owns all ledger state. A single mutex covers every operation:
// the read-modify-write sequences (overpayment check, refund-exceeds-paid
// check, idempotency lookup-then-register) and the audit append execute
// as one critical section, so two racing payments with the same fresh key
// cannot both win, and the overpayment check cannot be bypassed by a
// concurrent increment of paid_cents. The durable audit write happens
// while the lock is held: simplest arrangement that guarantees a
// mutation is never visible without its audit record.
type Store struct {
	mu       sync.Mutex
	auditor  *audit.Logger
	invoices map[string]*Invoice
	payments []*Payment // insertion order, for stable enumeration
	byID     map[string]*Payment
	idem     *idempotencyIndex
}

// NewStore creates an empty ledger writing its audit trail to auditor.
func NewStore(auditor *audit.Logger) *Store {
	return &Store{
		auditor:  auditor,
		invoices: make(map[string]*Invoice),
		byID:     make(map[string]*Payment),
		idem:     newIdempotencyIndex(),
	}
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}

func statusFor(inv *Invoice) Status {
	if inv.PaidCents == inv.AmountCents {
		return StatusPaid
	}
	return StatusOpen
}

// CreateInvoice allocates a new open invoice and emits one
// invoice_created audit event. Shape violations fail with ErrValidation
// and produce no state change and no audit event.
func (s *Store) CreateInvoice(customerID string, amountCents int64, dueDays int) (string, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return "", validationErr("customer_id_required")
	}
	if amountCents <= 0 {
		return "", validationErr("invalid_amount_cents")
	}
	if dueDays <= 0 {
		return "", validationErr("invalid_due_days")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv := &Invoice{
		InvoiceID:   newID("inv"),
		CustomerID:  customerID,
		AmountCents: amountCents,
		PaidCents:   0,
		DueDays:     dueDays,
		Status:      StatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	s.invoices[inv.InvoiceID] = inv

	err := s.auditor.Append(audit.Event{
		Type: audit.EventInvoiceCreated,
		Fields: map[string]interface{}{
			"invoice_id":   inv.InvoiceID,
			"customer_id":  inv.CustomerID,
			"amount_cents": inv.AmountCents,
			"due_days":     inv.DueDays,
			"status":       inv.Status,
			"currency":     currency,
		},
	})
	if err != nil {
		// Not accepted without its audit record.
		delete(s.invoices, inv.InvoiceID)
		return "", internalErr("audit_write_failed")
	}
	return inv.InvoiceID, nil
}

// RecordPayment applies a payment to an invoice. When the request carries
// an idempotency key that already resolved, the stored payment is
// returned with ResultDuplicateIgnored and no field of the new request is
// validated — not even the invoice id. Otherwise the payment is validated,
// checked against the remaining balance, applied, and audited, all inside
// one critical section.
func (s *Store) RecordPayment(req PaymentRequest) (*PaymentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Duplicate check comes first: a replayed key short-circuits every
	// other check, mirroring that the original request already passed them.
	if req.IdempotencyKey != "" {
		if paymentID, ok := s.idem.resolve(req.IdempotencyKey); ok {
			return s.recordDuplicate(req.IdempotencyKey, paymentID)
		}
	}

	if strings.TrimSpace(req.InvoiceID) == "" {
		return nil, validationErr("invoice_id_required")
	}
	if req.AmountCents <= 0 {
		return nil, validationErr("invalid_amount_cents")
	}
	if !req.Method.Valid() {
		return nil, validationErr("invalid_method")
	}

	inv, ok := s.invoices[req.InvoiceID]
	if !ok {
		err := s.auditor.Append(audit.Event{
			Type: audit.EventPaymentFailed,
			Fields: map[string]interface{}{
				"invoice_id":   req.InvoiceID,
				"amount_cents": req.AmountCents,
				"reason":       "invoice_not_found",
			},
		})
		if err != nil {
			return nil, internalErr("audit_write_failed")
		}
		return nil, notFoundErr("invoice_not_found")
	}

	remaining := inv.AmountCents - inv.PaidCents
	if req.AmountCents > remaining {
		err := s.auditor.Append(audit.Event{
			Type: audit.EventPaymentFailed,
			Fields: map[string]interface{}{
				"invoice_id":      inv.InvoiceID,
				"amount_cents":    req.AmountCents,
				"remaining_cents": remaining,
				"reason":          "overpayment",
			},
		})
		if err != nil {
			return nil, internalErr("audit_write_failed")
		}
		return nil, validationErr("overpayment")
	}

	p := &Payment{
		PaymentID:   newID("pay"),
		InvoiceID:   inv.InvoiceID,
		AmountCents: req.AmountCents,
		Method:      req.Method,
		CreatedAt:   time.Now().UTC(),
	}
	inv.PaidCents += req.AmountCents
	inv.Status = statusFor(inv)
	s.payments = append(s.payments, p)
	s.byID[p.PaymentID] = p
	if req.IdempotencyKey != "" {
		s.idem.register(req.IdempotencyKey, p.PaymentID)
	}

	err := s.auditor.Append(audit.Event{
		Type: audit.EventPaymentReceived,
		Fields: map[string]interface{}{
			"payment_id":     p.PaymentID,
			"invoice_id":     inv.InvoiceID,
			"amount_cents":   p.AmountCents,
			"method":         p.Method,
			"invoice_status": inv.Status,
		},
	})
	if err != nil {
		// Roll the whole application back: an unaudited payment does not
		// exist.
		inv.PaidCents -= req.AmountCents
		inv.Status = statusFor(inv)
		s.payments = s.payments[:len(s.payments)-1]
		delete(s.byID, p.PaymentID)
		if req.IdempotencyKey != "" {
			s.idem.unregister(req.IdempotencyKey)
		}
		return nil, internalErr("audit_write_failed")
	}

	return &PaymentResult{
		PaymentID:     p.PaymentID,
		Result:        ResultRecorded,
		InvoiceStatus: inv.Status,
	}, nil
}

// recordDuplicate answers a replayed idempotency key with the original
// payment. Caller holds the lock. The invoice status reported is the
// current status of the invoice the original payment targeted; if that
// record cannot be found the status degrades to unknown instead of
// failing.
func (s *Store) recordDuplicate(key, paymentID string) (*PaymentResult, error) {
	invoiceStatus := StatusUnknown
	invoiceID := ""
	if p, ok := s.byID[paymentID]; ok {
		invoiceID = p.InvoiceID
		if inv, ok := s.invoices[p.InvoiceID]; ok {
			invoiceStatus = inv.Status
		}
	}

	err := s.auditor.Append(audit.Event{
		Type: audit.EventDuplicateIgnored,
		Fields: map[string]interface{}{
			"idempotency_key": key,
			"payment_id":      paymentID,
			"invoice_id":      invoiceID,
			"reason":          "duplicate_payment",
		},
	})
	if err != nil {
		return nil, internalErr("audit_write_failed")
	}

	return &PaymentResult{
		PaymentID:     paymentID,
		Result:        ResultDuplicateIgnored,
		InvoiceStatus: invoiceStatus,
	}, nil
}

// IssueRefund reduces an invoice's paid total. A refund can move status
// from paid back to open, never the reverse. No Refund entity is kept
// beyond the audit record; GetLedger reflects refunds only through the
// reduced paid_cents.
func (s *Store) IssueRefund(invoiceID string, amountCents int64) (*RefundResult, error) {
	if strings.TrimSpace(invoiceID) == "" {
		return nil, validationErr("invoice_id_required")
	}
	if amountCents <= 0 {
		return nil, validationErr("invalid_amount_cents")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok {
		// Unlike payments, a refund against a missing invoice is not
		// audited. Known asymmetry, kept as-is (see DESIGN.md).
		return nil, notFoundErr("invoice_not_found")
	}

	if amountCents > inv.PaidCents {
		err := s.auditor.Append(audit.Event{
			Type: audit.EventRefundFailed,
			Fields: map[string]interface{}{
				"invoice_id":   inv.InvoiceID,
				"amount_cents": amountCents,
				"paid_cents":   inv.PaidCents,
				"reason":       "refund_exceeds_paid",
			},
		})
		if err != nil {
			return nil, internalErr("audit_write_failed")
		}
		return nil, validationErr("refund_exceeds_paid")
	}

	inv.PaidCents -= amountCents
	inv.Status = statusFor(inv)
	refundID := newID("ref")

	err := s.auditor.Append(audit.Event{
		Type: audit.EventRefundIssued,
		Fields: map[string]interface{}{
			"refund_id":      refundID,
			"invoice_id":     inv.InvoiceID,
			"amount_cents":   amountCents,
			"invoice_status": inv.Status,
		},
	})
	if err != nil {
		inv.PaidCents += amountCents
		inv.Status = statusFor(inv)
		return nil, internalErr("audit_write_failed")
	}

	return &RefundResult{RefundID: refundID, InvoiceStatus: inv.Status}, nil
}

// GetLedger returns a consistent snapshot of one invoice, its payments in
// insertion order, and the outstanding balance. Reads emit no audit event.
func (s *Store) GetLedger(invoiceID string) (*LedgerView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, notFoundErr("invoice_not_found")
	}

	view := &LedgerView{
		Invoice:          *inv,
		Payments:         make([]Payment, 0, 4),
		OutstandingCents: inv.AmountCents - inv.PaidCents,
	}
	for _, p := range s.payments {
		if p.InvoiceID == invoiceID {
			view.Payments = append(view.Payments, *p)
		}
	}
	return view, nil
}
