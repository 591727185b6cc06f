package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/etnz/ledger/date"
	"github.com/shopspring/decimal"
)

// zeroTime lets NewEvent default the timestamp in tests.
var zeroTime time.Time

// newTestLog opens a fresh event log in a per-test temp directory.
func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := OpenLog(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("OpenLog: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// newTestView opens a fresh projection store in a per-test temp directory
// and returns it with its path, for rebuild tests.
func newTestView(t *testing.T) (*View, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "views.db")
	v, err := OpenView(path)
	if err != nil {
		t.Fatalf("OpenView: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v, path
}

// append wraps NewEvent+Append for tests.
func appendEvent(t *testing.T, l *Log, p Payload) uint64 {
	t.Helper()
	e, err := NewEvent(time.Time{}, p)
	if err != nil {
		t.Fatalf("NewEvent(%T): %v", p, err)
	}
	seq, err := l.Append(context.Background(), e)
	if err != nil {
		t.Fatalf("Append(%T): %v", p, err)
	}
	return seq
}

// imported builds a TransactionImported payload with a consistent id.
func imported(account, day string, amount float64, description string) TransactionImported {
	d := date.MustParse(day)
	a := decimal.NewFromFloat(amount)
	return TransactionImported{
		TransactionID: TransactionID(account, d, a, description),
		Account:       account,
		Date:          d,
		Amount:        a,
		Currency:      "EUR",
		Description:   description,
	}
}

// dec is a shorthand for decimal literals in tests.
func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }
