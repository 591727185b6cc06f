package ledger

import (
	"context"
	"os"
	"reflect"
	"testing"

	"github.com/etnz/ledger/date"
)

// seedLog fills a log with a representative mix of events and returns the
// imported payloads.
func seedLog(t *testing.T, l *Log) (a, b TransactionImported) {
	t.Helper()
	a = imported("MYBANK_CHQ", "2025-01-10", -50, "TRANSFER TO BANK2")
	b = imported("BANK2_BIZ", "2025-01-11", 50, "TRANSFER FROM MYBANK")
	appendEvent(t, l, a)
	appendEvent(t, l, b)
	appendEvent(t, l, TransactionCategorized{TransactionID: a.TransactionID, Category: "transfers"})
	appendEvent(t, l, BudgetCreated{
		Category: "food", Amount: dec(400), Currency: "EUR",
		Period: "monthly", EffectiveFrom: date.MustParse("2025-01-01"),
	})
	return a, b
}

func TestBuilder_CatchUpFoldsEvents(t *testing.T) {
	l := newTestLog(t)
	v, _ := newTestView(t)
	ctx := context.Background()
	a, _ := seedLog(t, l)

	if err := NewBuilder(l, BuilderConfig{}).CatchUp(ctx, v); err != nil {
		t.Fatal(err)
	}

	rows, err := v.Transactions(ctx, TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("projection has %d rows, want 2", len(rows))
	}
	row, ok, err := v.GetTransaction(ctx, a.TransactionID)
	if err != nil || !ok {
		t.Fatalf("GetTransaction: %v, %v", ok, err)
	}
	if row.Category != "transfers" {
		t.Errorf("category = %q, want %q", row.Category, "transfers")
	}

	budgets, err := v.Budgets(ctx, BudgetFilter{AsOf: date.MustParse("2025-02-01")})
	if err != nil {
		t.Fatal(err)
	}
	if len(budgets) != 1 || budgets[0].Category != "food" {
		t.Fatalf("budgets = %+v, want one food budget", budgets)
	}

	// Second catch-up folds nothing and changes nothing.
	before, _ := v.Checkpoint(ctx, ProjectionTransactions)
	if err := NewBuilder(l, BuilderConfig{}).CatchUp(ctx, v); err != nil {
		t.Fatal(err)
	}
	after, _ := v.Checkpoint(ctx, ProjectionTransactions)
	if before != after {
		t.Errorf("checkpoint moved from %d to %d with no new events", before, after)
	}
}

func TestBuilder_CatchUpResumesFromCheckpoint(t *testing.T) {
	l := newTestLog(t)
	v, _ := newTestView(t)
	ctx := context.Background()

	a, _ := seedLog(t, l)
	if err := NewBuilder(l, BuilderConfig{}).CatchUp(ctx, v); err != nil {
		t.Fatal(err)
	}

	// New events after the first catch-up are folded by the next one.
	appendEvent(t, l, TransactionCategorized{TransactionID: a.TransactionID, Category: "internal"})
	if err := NewBuilder(l, BuilderConfig{}).CatchUp(ctx, v); err != nil {
		t.Fatal(err)
	}
	row, _, err := v.GetTransaction(ctx, a.TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Category != "internal" {
		t.Errorf("category = %q, want %q after incremental catch-up", row.Category, "internal")
	}
}

func TestBuilder_ReplayIsDeterministic(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	seedLog(t, l)

	build := func() ([]TransactionRow, []BudgetRow) {
		v, _ := newTestView(t)
		if err := NewBuilder(l, BuilderConfig{}).CatchUp(ctx, v); err != nil {
			t.Fatal(err)
		}
		txs, err := v.Transactions(ctx, TransactionFilter{IncludeDuplicates: true})
		if err != nil {
			t.Fatal(err)
		}
		budgets, err := v.Budgets(ctx, BudgetFilter{AsOf: date.MustParse("2025-12-31")})
		if err != nil {
			t.Fatal(err)
		}
		return txs, budgets
	}

	txs1, budgets1 := build()
	txs2, budgets2 := build()
	if !reflect.DeepEqual(txs1, txs2) {
		t.Errorf("two replays produced different transaction projections:\n%+v\n%+v", txs1, txs2)
	}
	if !reflect.DeepEqual(budgets1, budgets2) {
		t.Errorf("two replays produced different budget projections:\n%+v\n%+v", budgets1, budgets2)
	}
}

func TestBuilder_RebuildSwapsAtomically(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	a, _ := seedLog(t, l)

	// An existing store with old state gets replaced wholesale.
	v, path := newTestView(t)
	if err := NewBuilder(l, BuilderConfig{}).CatchUp(ctx, v); err != nil {
		t.Fatal(err)
	}
	v.Close()

	appendEvent(t, l, TransactionCategorized{TransactionID: a.TransactionID, Category: "internal"})
	if err := NewBuilder(l, BuilderConfig{}).Rebuild(ctx, path); err != nil {
		t.Fatal(err)
	}

	rebuilt, err := OpenView(path)
	if err != nil {
		t.Fatal(err)
	}
	defer rebuilt.Close()
	row, ok, err := rebuilt.GetTransaction(ctx, a.TransactionID)
	if err != nil || !ok {
		t.Fatalf("GetTransaction after rebuild: %v, %v", ok, err)
	}
	if row.Category != "internal" {
		t.Errorf("rebuilt category = %q, want %q", row.Category, "internal")
	}
	last, _ := l.LastSeq(ctx)
	cp, _ := rebuilt.Checkpoint(ctx, ProjectionTransactions)
	if cp != last {
		t.Errorf("rebuilt checkpoint = %d, want %d", cp, last)
	}
}

func TestBuilder_InterruptedRebuildKeepsPriorStore(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	a, _ := seedLog(t, l)

	v, path := newTestView(t)
	if err := NewBuilder(l, BuilderConfig{}).CatchUp(ctx, v); err != nil {
		t.Fatal(err)
	}
	v.Close()
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := NewBuilder(l, BuilderConfig{}).Rebuild(cancelled, path); err == nil {
		t.Fatal("Rebuild with a cancelled context reported success")
	}

	// The prior store was not touched and still serves queries.
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Error("interrupted rebuild modified the prior store file")
	}
	prior, err := OpenView(path)
	if err != nil {
		t.Fatal(err)
	}
	defer prior.Close()
	row, ok, err := prior.GetTransaction(ctx, a.TransactionID)
	if err != nil || !ok {
		t.Fatalf("GetTransaction after interrupted rebuild: %v, %v", ok, err)
	}
	if row.Category != "transfers" {
		t.Errorf("prior row category = %q, want %q", row.Category, "transfers")
	}

	// No half-built replacement is left behind either.
	if _, err := os.Stat(path + ".rebuild"); !os.IsNotExist(err) {
		t.Errorf("stale rebuild file left behind: %v", err)
	}
}

func TestBuilder_DuplicateConfirmMarksOneSide(t *testing.T) {
	l := newTestLog(t)
	v, _ := newTestView(t)
	ctx := context.Background()

	a := imported("MYBANK_CHQ", "2025-01-10", -12.5, "BAKERY")
	b := imported("MYBANK_CHQ", "2025-01-11", -12.5, "BAKERY POS")
	appendEvent(t, l, a)
	appendEvent(t, l, b)
	appendEvent(t, l, DuplicateConfirmed{PrimaryTransactionID: a.TransactionID, DuplicateTransactionID: b.TransactionID})
	// A rejected pair leaves the projection untouched.
	appendEvent(t, l, DuplicateRejected{TransactionID: a.TransactionID, OtherTransactionID: b.TransactionID})

	if err := NewBuilder(l, BuilderConfig{}).CatchUp(ctx, v); err != nil {
		t.Fatal(err)
	}

	dup, _, err := v.GetTransaction(ctx, b.TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if !dup.IsDuplicate || dup.PrimaryTransactionID != a.TransactionID {
		t.Errorf("duplicate side = %+v, want marked with back-reference to %s", dup, a.TransactionID)
	}
	primary, _, err := v.GetTransaction(ctx, a.TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if primary.IsDuplicate {
		t.Error("primary side must not be marked duplicate")
	}

	// Default listing hides the duplicate.
	rows, err := v.Transactions(ctx, TransactionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].TransactionID != a.TransactionID {
		t.Errorf("default listing = %+v, want only the primary", rows)
	}
}

func TestBuilder_DescriptionPolicy(t *testing.T) {
	testCases := []struct {
		name   string
		policy DescriptionPolicy
		want   string
	}{
		{name: "keep first", policy: KeepFirst, want: "CARD AUTH AMAZON"},
		{name: "keep latest", policy: KeepLatest, want: "AMAZON EU SARL"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLog(t)
			v, _ := newTestView(t)
			ctx := context.Background()

			a := imported("MYBANK_CHQ", "2025-01-10", -30, "CARD AUTH AMAZON")
			appendEvent(t, l, a)
			appendEvent(t, l, DescriptionObserved{TransactionID: a.TransactionID, Description: "AMAZON EU SARL"})

			if err := NewBuilder(l, BuilderConfig{DescriptionPolicy: tc.policy}).CatchUp(ctx, v); err != nil {
				t.Fatal(err)
			}
			row, _, err := v.GetTransaction(ctx, a.TransactionID)
			if err != nil {
				t.Fatal(err)
			}
			if row.Description != tc.want {
				t.Errorf("canonical description = %q, want %q", row.Description, tc.want)
			}
			// Both variants stay on record either way.
			if len(row.Descriptions) != 2 {
				t.Errorf("description history = %v, want both variants", row.Descriptions)
			}
		})
	}
}
