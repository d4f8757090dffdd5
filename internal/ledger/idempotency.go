package ledger

// idempotencyIndex maps caller-supplied idempotency keys to the payment
// each key resolved to. Policy: first writer wins, entries are permanent,
// a key is never re-bound to a different payment. The index carries no
// lock of its own — it is consulted and updated only inside the Store's
// critical section, which is what makes check-then-register atomic with
// the invoice mutation it guards.
type idempotencyIndex struct {
	byKey map[string]string // idempotency key → payment_id
}

func newIdempotencyIndex() *idempotencyIndex {
	return &idempotencyIndex{byKey: make(map[string]string)}
}

// resolve returns the payment a key was bound to, if any.
func (idx *idempotencyIndex) resolve(key string) (string, bool) {
	paymentID, ok := idx.byKey[key]
	return paymentID, ok
}

// register binds a key to a payment. Caller must have checked resolve
// first; an existing binding is never overwritten.
func (idx *idempotencyIndex) register(key, paymentID string) {
	if _, exists := idx.byKey[key]; exists {
		return
	}
	idx.byKey[key] = paymentID
}

// unregister removes a binding. Used only to roll back a registration
// whose audit record could not be durably written.
func (idx *idempotencyIndex) unregister(key string) {
	delete(idx.byKey, key)
}
