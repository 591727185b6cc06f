package ledger

import (
	"fmt"
	"strings"
)

// ValidationError reports an event payload that fails its variant's
// required-field contract. It is returned before the event reaches the log.
type ValidationError struct {
	Type   Type   // the event variant being constructed
	Field  string // the offending field
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s event: field %q %s", e.Type, e.Field, e.Reason)
}

// invalidf builds a ValidationError for the given variant and field.
func invalidf(t Type, field, format string, args ...any) error {
	return &ValidationError{Type: t, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// WriteFailure reports that the event log could not durably persist an
// append. Nothing partially visible is left behind.
type WriteFailure struct {
	Op  string
	Err error
}

func (e *WriteFailure) Error() string { return fmt.Sprintf("event log write failure (%s): %v", e.Op, e.Err) }
func (e *WriteFailure) Unwrap() error { return e.Err }

// RowDiff describes a single field mismatch found by rebuild validation.
type RowDiff struct {
	Key   string // transaction id or budget key
	Field string
	Want  string // value from the baseline snapshot
	Got   string // value from the freshly built projection
}

func (d RowDiff) String() string {
	return fmt.Sprintf("%s.%s: want %q, got %q", d.Key, d.Field, d.Want, d.Got)
}

// ProjectionDriftError reports a mismatch between a freshly built projection
// and the expected baseline. The pipeline aborts before promoting the new
// projection; the discrepancy is reported in full.
type ProjectionDriftError struct {
	TransactionsWant int
	TransactionsGot  int
	BudgetsWant      int
	BudgetsGot       int
	Diffs            []RowDiff // first differing rows, in deterministic order
}

func (e *ProjectionDriftError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "projection drift: %d/%d transactions, %d/%d budgets (got/want)",
		e.TransactionsGot, e.TransactionsWant, e.BudgetsGot, e.BudgetsWant)
	for _, d := range e.Diffs {
		fmt.Fprintf(&b, "\n  %s", d)
	}
	return b.String()
}
