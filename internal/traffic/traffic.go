// Package traffic generates synthetic load against a running ledgerd so
// the audit trail has something to analyze: a shuffled mix of fast, slow,
// and failing diagnostic requests, plus a ledger scenario exercising
// invoices, idempotent payments, and refunds.
package traffic

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Request kinds in the diagnostic plan.
const (
	kindNormal = "normal"
	kindSlow   = "slow"
	kindError  = "error"
)

// Generator drives HTTP traffic at a base URL. Individual request
// failures are logged and skipped; only building a request is fatal.
type Generator struct {
	base string
	http *http.Client
	rng  *rand.Rand
	log  zerolog.Logger
}

// New creates a Generator targeting baseURL.
func New(baseURL string, log zerolog.Logger) *Generator {
	return &Generator{
		base: baseURL,
		http: &http.Client{Timeout: 10 * time.Second},
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		log:  log,
	}
}

// Plan returns the shuffled diagnostic request mix: 140 normal, 40 slow,
// 20 error.
func (g *Generator) Plan() []string {
	plan := make([]string, 0, 200)
	for i := 0; i < 140; i++ {
		plan = append(plan, kindNormal)
	}
	for i := 0; i < 40; i++ {
		plan = append(plan, kindSlow)
	}
	for i := 0; i < 20; i++ {
		plan = append(plan, kindError)
	}
	g.rng.Shuffle(len(plan), func(i, j int) {
		plan[i], plan[j] = plan[j], plan[i]
	})
	return plan
}

// RunDiagnostics executes the diagnostic plan with 10–50 ms jitter
// between requests.
func (g *Generator) RunDiagnostics() {
	for _, kind := range g.Plan() {
		switch kind {
		case kindNormal:
			g.get("/work", url.Values{"ms": {"50"}})
		case kindSlow:
			g.get("/work", url.Values{"ms": {"500"}})
		default:
			g.get("/error", nil)
		}
		g.jitter()
	}
}

// RunLedgerScenario creates n invoices and walks each through payment,
// an idempotency-key replay, and a partial refund.
func (g *Generator) RunLedgerScenario(n int) {
	for i := 0; i < n; i++ {
		invoiceID, ok := g.createInvoice()
		if !ok {
			continue
		}
		g.jitter()

		key := uuid.NewString()
		g.recordPayment(invoiceID, 6000, key)
		g.jitter()
		// Replay the same key: must dedupe, never double-apply.
		g.recordPayment(invoiceID, 6000, key)
		g.jitter()
		g.recordPayment(invoiceID, 4000, uuid.NewString())
		g.jitter()
		g.issueRefund(invoiceID, 2500)
		g.jitter()
	}
}

func (g *Generator) createInvoice() (string, bool) {
	body := map[string]interface{}{
		"customer_id":  fmt.Sprintf("cust_%04d", g.rng.Intn(10000)),
		"amount_cents": 10000,
		"due_days":     30,
	}
	var resp struct {
		InvoiceID string `json:"invoice_id"`
	}
	if !g.post("/invoices", body, &resp) {
		return "", false
	}
	return resp.InvoiceID, resp.InvoiceID != ""
}

func (g *Generator) recordPayment(invoiceID string, amountCents int64, key string) {
	g.post("/payments", map[string]interface{}{
		"invoice_id":      invoiceID,
		"amount_cents":    amountCents,
		"method":          "card",
		"idempotency_key": key,
	}, nil)
}

func (g *Generator) issueRefund(invoiceID string, amountCents int64) {
	g.post("/refunds", map[string]interface{}{
		"invoice_id":   invoiceID,
		"amount_cents": amountCents,
	}, nil)
}

func (g *Generator) get(path string, query url.Values) {
	u := g.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := g.http.Get(u)
	if err != nil {
		g.log.Warn().Err(err).Str("path", path).Msg("request failed")
		return
	}
	resp.Body.Close()
}

func (g *Generator) post(path string, body map[string]interface{}, out interface{}) bool {
	payload, err := json.Marshal(body)
	if err != nil {
		g.log.Warn().Err(err).Str("path", path).Msg("encode request failed")
		return false
	}
	resp, err := g.http.Post(g.base+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		g.log.Warn().Err(err).Str("path", path).Msg("request failed")
		return false
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			g.log.Warn().Err(err).Str("path", path).Msg("decode response failed")
			return false
		}
	}
	return true
}

func (g *Generator) jitter() {
	time.Sleep(time.Duration(10+g.rng.Intn(40)) * time.Millisecond)
}
