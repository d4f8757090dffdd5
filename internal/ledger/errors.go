package ledger

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// The boundary layer matches these with errors.Is and maps them to status
// codes: ErrValidation → 400, ErrNotFound → 404, ErrInternal → 500.

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrInternal   = errors.New("internal error")
)

// opError carries a short machine-readable reason on top of a sentinel.
// Error() returns only the reason so it can be surfaced verbatim in a
// response body.
type opError struct {
	kind   error
	reason string
}

func (e *opError) Error() string { return e.reason }
func (e *opError) Unwrap() error { return e.kind }

func validationErr(reason string) error {
	return &opError{kind: ErrValidation, reason: reason}
}

func notFoundErr(reason string) error {
	return &opError{kind: ErrNotFound, reason: reason}
}

func internalErr(reason string) error {
	return &opError{kind: ErrInternal, reason: reason}
}
