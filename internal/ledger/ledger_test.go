package ledger

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ledgerline/ledgerd/internal/audit"
)

func setupStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs.jsonl")
	auditor, err := audit.NewLogger(path, "ledgerd-test")
	if err != nil {
		t.Fatalf("new audit logger: %v", err)
	}
	t.Cleanup(func() { auditor.Close() })
	return NewStore(auditor), path
}

func mustCreateInvoice(t *testing.T, s *Store, amountCents int64) string {
	t.Helper()
	id, err := s.CreateInvoice("cust_1", amountCents, 30)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return id
}

// readEvents returns all audit records of the given type, in file order.
func readEvents(t *testing.T, path, eventType string) []map[string]interface{} {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()

	var out []map[string]interface{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("malformed audit line %q: %v", scanner.Text(), err)
		}
		if record["event_type"] == eventType {
			out = append(out, record)
		}
	}
	return out
}

// ─── CreateInvoice ──────────────────────────────────────────────────────────

func TestCreateInvoice(t *testing.T) {
	s, logPath := setupStore(t)

	id, err := s.CreateInvoice("  cust_42  ", 10000, 14)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}

	view, err := s.GetLedger(id)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if view.Invoice.CustomerID != "cust_42" {
		t.Errorf("customer_id = %q, want trimmed %q", view.Invoice.CustomerID, "cust_42")
	}
	if view.Invoice.PaidCents != 0 || view.Invoice.Status != StatusOpen {
		t.Errorf("new invoice: paid=%d status=%s, want 0/open", view.Invoice.PaidCents, view.Invoice.Status)
	}
	if view.OutstandingCents != 10000 {
		t.Errorf("outstanding = %d, want 10000", view.OutstandingCents)
	}

	events := readEvents(t, logPath, audit.EventInvoiceCreated)
	if len(events) != 1 {
		t.Fatalf("invoice_created events = %d, want 1", len(events))
	}
	if events[0]["currency"] != "USD" {
		t.Errorf("currency = %v, want USD", events[0]["currency"])
	}
	if events[0]["schema_version"] != float64(1) {
		t.Errorf("schema_version = %v, want 1", events[0]["schema_version"])
	}
}

func TestCreateInvoiceValidation(t *testing.T) {
	s, logPath := setupStore(t)

	tests := []struct {
		name       string
		customerID string
		amount     int64
		dueDays    int
	}{
		{"empty customer", "", 100, 30},
		{"whitespace customer", "   ", 100, 30},
		{"zero amount", "cust_1", 0, 30},
		{"negative amount", "cust_1", -5, 30},
		{"zero due days", "cust_1", 100, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateInvoice(tt.customerID, tt.amount, tt.dueDays)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}

	// Shape failures must not audit.
	if events := readEvents(t, logPath, audit.EventInvoiceCreated); len(events) != 0 {
		t.Errorf("invoice_created events after failures = %d, want 0", len(events))
	}
}

// ─── RecordPayment ──────────────────────────────────────────────────────────

func TestRecordPaymentScenario(t *testing.T) {
	s, logPath := setupStore(t)
	id := mustCreateInvoice(t, s, 10000)

	// First payment with K1 records.
	first, err := s.RecordPayment(PaymentRequest{InvoiceID: id, AmountCents: 6000, Method: MethodCard, IdempotencyKey: "K1"})
	if err != nil {
		t.Fatalf("first payment: %v", err)
	}
	if first.Result != ResultRecorded || first.InvoiceStatus != StatusOpen {
		t.Errorf("first payment = %s/%s, want recorded/open", first.Result, first.InvoiceStatus)
	}

	// Replay of K1 dedupes, same payment id, no re-application.
	second, err := s.RecordPayment(PaymentRequest{InvoiceID: id, AmountCents: 6000, Method: MethodCard, IdempotencyKey: "K1"})
	if err != nil {
		t.Fatalf("replayed payment: %v", err)
	}
	if second.Result != ResultDuplicateIgnored {
		t.Errorf("replay result = %s, want duplicate_ignored", second.Result)
	}
	if second.PaymentID != first.PaymentID {
		t.Errorf("replay payment_id = %s, want original %s", second.PaymentID, first.PaymentID)
	}
	view, _ := s.GetLedger(id)
	if view.Invoice.PaidCents != 6000 {
		t.Errorf("paid after replay = %d, want 6000", view.Invoice.PaidCents)
	}

	// K2 completes the invoice.
	third, err := s.RecordPayment(PaymentRequest{InvoiceID: id, AmountCents: 4000, Method: MethodACH, IdempotencyKey: "K2"})
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	if third.Result != ResultRecorded || third.InvoiceStatus != StatusPaid {
		t.Errorf("second payment = %s/%s, want recorded/paid", third.Result, third.InvoiceStatus)
	}

	// Over-refund rejected, then a partial refund reopens the invoice.
	if _, err := s.IssueRefund(id, 11000); !errors.Is(err, ErrValidation) {
		t.Errorf("over-refund err = %v, want ErrValidation", err)
	}
	ref, err := s.IssueRefund(id, 4000)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if ref.InvoiceStatus != StatusOpen {
		t.Errorf("status after refund = %s, want open", ref.InvoiceStatus)
	}
	view, _ = s.GetLedger(id)
	if view.Invoice.PaidCents != 6000 {
		t.Errorf("paid after refund = %d, want 6000", view.Invoice.PaidCents)
	}

	// Exactly one Payment record per accepted payment.
	if len(view.Payments) != 2 {
		t.Errorf("payments = %d, want 2", len(view.Payments))
	}

	// Audit completeness for the scenario.
	counts := map[string]int{
		audit.EventPaymentReceived:  2,
		audit.EventDuplicateIgnored: 1,
		audit.EventRefundFailed:     1,
		audit.EventRefundIssued:     1,
	}
	for typ, want := range counts {
		if got := len(readEvents(t, logPath, typ)); got != want {
			t.Errorf("%s events = %d, want %d", typ, got, want)
		}
	}
}

func TestRecordPaymentValidation(t *testing.T) {
	s, logPath := setupStore(t)
	id := mustCreateInvoice(t, s, 10000)

	tests := []struct {
		name string
		req  PaymentRequest
	}{
		{"empty invoice id", PaymentRequest{InvoiceID: "", AmountCents: 100, Method: MethodCard}},
		{"zero amount", PaymentRequest{InvoiceID: id, AmountCents: 0, Method: MethodCard}},
		{"bad method", PaymentRequest{InvoiceID: id, AmountCents: 100, Method: "wire"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.RecordPayment(tt.req); !errors.Is(err, ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}

	// Pure shape failures do not audit.
	if got := len(readEvents(t, logPath, audit.EventPaymentFailed)); got != 0 {
		t.Errorf("payment_failed events = %d, want 0", got)
	}
}

func TestRecordPaymentInvoiceNotFound(t *testing.T) {
	s, logPath := setupStore(t)

	_, err := s.RecordPayment(PaymentRequest{InvoiceID: "inv_doesnotexist", AmountCents: 1, Method: MethodCard})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	events := readEvents(t, logPath, audit.EventPaymentFailed)
	if len(events) != 1 {
		t.Fatalf("payment_failed events = %d, want 1", len(events))
	}
	if events[0]["reason"] != "invoice_not_found" {
		t.Errorf("reason = %v, want invoice_not_found", events[0]["reason"])
	}
	if got := len(readEvents(t, logPath, audit.EventPaymentReceived)); got != 0 {
		t.Errorf("payment_received events = %d, want 0", got)
	}
}

func TestRecordPaymentOverpayment(t *testing.T) {
	s, logPath := setupStore(t)
	id := mustCreateInvoice(t, s, 5000)

	if _, err := s.RecordPayment(PaymentRequest{InvoiceID: id, AmountCents: 3000, Method: MethodCheck}); err != nil {
		t.Fatalf("payment: %v", err)
	}
	_, err := s.RecordPayment(PaymentRequest{InvoiceID: id, AmountCents: 2001, Method: MethodCheck})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("overpayment err = %v, want ErrValidation", err)
	}

	view, _ := s.GetLedger(id)
	if view.Invoice.PaidCents != 3000 {
		t.Errorf("paid after rejected overpayment = %d, want 3000", view.Invoice.PaidCents)
	}

	events := readEvents(t, logPath, audit.EventPaymentFailed)
	if len(events) != 1 {
		t.Fatalf("payment_failed events = %d, want 1", len(events))
	}
	if events[0]["reason"] != "overpayment" {
		t.Errorf("reason = %v, want overpayment", events[0]["reason"])
	}
	if events[0]["remaining_cents"] != float64(2000) {
		t.Errorf("remaining_cents = %v, want 2000", events[0]["remaining_cents"])
	}
}

// Duplicate submissions skip all field validation, even a bogus invoice id.
func TestDuplicateSkipsValidation(t *testing.T) {
	s, _ := setupStore(t)
	id := mustCreateInvoice(t, s, 10000)

	first, err := s.RecordPayment(PaymentRequest{InvoiceID: id, AmountCents: 1000, Method: MethodCard, IdempotencyKey: "K"})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}

	res, err := s.RecordPayment(PaymentRequest{InvoiceID: "", AmountCents: -1, Method: "bogus", IdempotencyKey: "K"})
	if err != nil {
		t.Fatalf("replay with invalid fields: %v", err)
	}
	if res.Result != ResultDuplicateIgnored || res.PaymentID != first.PaymentID {
		t.Errorf("replay = %s/%s, want duplicate_ignored with original id", res.Result, res.PaymentID)
	}
	if res.InvoiceStatus != StatusOpen {
		t.Errorf("replay invoice status = %s, want open", res.InvoiceStatus)
	}
}

// ─── Concurrency ────────────────────────────────────────────────────────────

func TestConcurrentSameKeyAppliesOnce(t *testing.T) {
	s, _ := setupStore(t)
	id := mustCreateInvoice(t, s, 10000)

	const workers = 16
	results := make([]*PaymentResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.RecordPayment(PaymentRequest{
				InvoiceID:      id,
				AmountCents:    6000,
				Method:         MethodCard,
				IdempotencyKey: "K1",
			})
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	recorded := 0
	var winner string
	for _, res := range results {
		if res == nil {
			continue
		}
		if res.Result == ResultRecorded {
			recorded++
			winner = res.PaymentID
		}
	}
	if recorded != 1 {
		t.Fatalf("recorded outcomes = %d, want exactly 1", recorded)
	}
	for i, res := range results {
		if res != nil && res.PaymentID != winner {
			t.Errorf("worker %d saw payment_id %s, want winner %s", i, res.PaymentID, winner)
		}
	}

	view, _ := s.GetLedger(id)
	if view.Invoice.PaidCents != 6000 {
		t.Errorf("paid = %d, want single application 6000", view.Invoice.PaidCents)
	}
	if len(view.Payments) != 1 {
		t.Errorf("payments = %d, want 1", len(view.Payments))
	}
}

func TestConcurrentPaymentsNeverOverpay(t *testing.T) {
	s, _ := setupStore(t)
	id := mustCreateInvoice(t, s, 10000)

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Distinct keys: every worker races the overpayment check.
			s.RecordPayment(PaymentRequest{InvoiceID: id, AmountCents: 3000, Method: MethodACH})
		}()
	}
	wg.Wait()

	view, _ := s.GetLedger(id)
	if view.Invoice.PaidCents < 0 || view.Invoice.PaidCents > view.Invoice.AmountCents {
		t.Fatalf("balance invariant violated: paid=%d amount=%d", view.Invoice.PaidCents, view.Invoice.AmountCents)
	}
	if view.Invoice.PaidCents != 9000 {
		t.Errorf("paid = %d, want 9000 (three of twenty 3000-cent payments fit)", view.Invoice.PaidCents)
	}
}

// A replayed key whose original payment record is gone degrades the
// reported invoice status to unknown instead of failing.
func TestDuplicateWithMissingPaymentReportsUnknown(t *testing.T) {
	s, logPath := setupStore(t)

	// Bind a key to a payment id that was never stored. Should not occur
	// in normal operation; the duplicate path must still answer.
	s.idem.register("KX", "pay_missing")

	res, err := s.RecordPayment(PaymentRequest{InvoiceID: "", AmountCents: 0, Method: "", IdempotencyKey: "KX"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Result != ResultDuplicateIgnored {
		t.Errorf("result = %s, want duplicate_ignored", res.Result)
	}
	if res.PaymentID != "pay_missing" {
		t.Errorf("payment_id = %s, want pay_missing", res.PaymentID)
	}
	if res.InvoiceStatus != StatusUnknown {
		t.Errorf("invoice status = %s, want unknown", res.InvoiceStatus)
	}

	events := readEvents(t, logPath, audit.EventDuplicateIgnored)
	if len(events) != 1 {
		t.Fatalf("duplicate_ignored events = %d, want 1", len(events))
	}
}

// ─── Audit Failure Rollback ─────────────────────────────────────────────────

// A mutation whose audit record cannot be durably written must be rolled
// back completely and surface ErrInternal: no invoice, no payment record,
// no paid_cents movement, no idempotency binding.
func TestAuditFailureRollsBackMutations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.jsonl")
	auditor, err := audit.NewLogger(path, "ledgerd-test")
	if err != nil {
		t.Fatalf("new audit logger: %v", err)
	}
	s := NewStore(auditor)

	id, err := s.CreateInvoice("cust_1", 10000, 30)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if _, err := s.RecordPayment(PaymentRequest{InvoiceID: id, AmountCents: 3000, Method: MethodCard, IdempotencyKey: "K1"}); err != nil {
		t.Fatalf("payment: %v", err)
	}

	// Every append from here on fails.
	if err := auditor.Close(); err != nil {
		t.Fatalf("close auditor: %v", err)
	}

	if _, err := s.CreateInvoice("cust_2", 500, 30); !errors.Is(err, ErrInternal) {
		t.Errorf("create invoice err = %v, want ErrInternal", err)
	}

	if _, err := s.RecordPayment(PaymentRequest{InvoiceID: id, AmountCents: 2000, Method: MethodCard, IdempotencyKey: "K2"}); !errors.Is(err, ErrInternal) {
		t.Errorf("payment err = %v, want ErrInternal", err)
	}
	view, err := s.GetLedger(id)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if view.Invoice.PaidCents != 3000 {
		t.Errorf("paid after rolled-back payment = %d, want 3000", view.Invoice.PaidCents)
	}
	if len(view.Payments) != 1 {
		t.Errorf("payments after rollback = %d, want 1", len(view.Payments))
	}
	if _, ok := s.idem.resolve("K2"); ok {
		t.Error("K2 must be unregistered after rollback")
	}

	// The duplicate path also requires a durable record.
	if _, err := s.RecordPayment(PaymentRequest{InvoiceID: id, AmountCents: 3000, Method: MethodCard, IdempotencyKey: "K1"}); !errors.Is(err, ErrInternal) {
		t.Errorf("replay err = %v, want ErrInternal", err)
	}

	if _, err := s.IssueRefund(id, 1000); !errors.Is(err, ErrInternal) {
		t.Errorf("refund err = %v, want ErrInternal", err)
	}
	view, _ = s.GetLedger(id)
	if view.Invoice.PaidCents != 3000 {
		t.Errorf("paid after rolled-back refund = %d, want 3000", view.Invoice.PaidCents)
	}
	if view.Invoice.Status != StatusOpen {
		t.Errorf("status after rolled-back refund = %s, want open", view.Invoice.Status)
	}
}

// ─── IssueRefund ────────────────────────────────────────────────────────────

func TestIssueRefundValidation(t *testing.T) {
	s, _ := setupStore(t)

	if _, err := s.IssueRefund("", 100); !errors.Is(err, ErrValidation) {
		t.Errorf("empty invoice id err = %v, want ErrValidation", err)
	}
	if _, err := s.IssueRefund("inv_x", 0); !errors.Is(err, ErrValidation) {
		t.Errorf("zero amount err = %v, want ErrValidation", err)
	}
}

func TestIssueRefundMissingInvoiceNotAudited(t *testing.T) {
	s, logPath := setupStore(t)

	_, err := s.IssueRefund("inv_doesnotexist", 100)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	// Unlike the payment path, no audit record for this case.
	if got := len(readEvents(t, logPath, audit.EventRefundFailed)); got != 0 {
		t.Errorf("refund_failed events = %d, want 0", got)
	}
}

func TestRefundReopensPaidInvoice(t *testing.T) {
	s, _ := setupStore(t)
	id := mustCreateInvoice(t, s, 1000)

	res, err := s.RecordPayment(PaymentRequest{InvoiceID: id, AmountCents: 1000, Method: MethodCard})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if res.InvoiceStatus != StatusPaid {
		t.Fatalf("status = %s, want paid", res.InvoiceStatus)
	}

	ref, err := s.IssueRefund(id, 1)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if ref.InvoiceStatus != StatusOpen {
		t.Errorf("status after refund = %s, want open", ref.InvoiceStatus)
	}
	if ref.RefundID == "" {
		t.Error("refund id must be set")
	}
}

// ─── GetLedger ──────────────────────────────────────────────────────────────

func TestGetLedgerNotFound(t *testing.T) {
	s, _ := setupStore(t)
	if _, err := s.GetLedger("inv_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetLedgerFiltersPayments(t *testing.T) {
	s, _ := setupStore(t)
	a := mustCreateInvoice(t, s, 10000)
	b := mustCreateInvoice(t, s, 10000)

	s.RecordPayment(PaymentRequest{InvoiceID: a, AmountCents: 100, Method: MethodCard})
	s.RecordPayment(PaymentRequest{InvoiceID: b, AmountCents: 200, Method: MethodACH})
	s.RecordPayment(PaymentRequest{InvoiceID: a, AmountCents: 300, Method: MethodCheck})

	view, err := s.GetLedger(a)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if len(view.Payments) != 2 {
		t.Fatalf("payments for a = %d, want 2", len(view.Payments))
	}
	if view.Payments[0].AmountCents != 100 || view.Payments[1].AmountCents != 300 {
		t.Errorf("payments out of insertion order: %+v", view.Payments)
	}
	if view.OutstandingCents != 9600 {
		t.Errorf("outstanding = %d, want 9600", view.OutstandingCents)
	}
}
