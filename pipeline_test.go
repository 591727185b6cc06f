package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/etnz/ledger/date"
)

func testSnapshot() *Snapshot {
	return &Snapshot{
		Transactions: []LegacyTransaction{
			{Account: "MYBANK_CHQ", Date: date.MustParse("2024-03-01"), Amount: dec(-12.5), Currency: "EUR", Description: "BAKERY", Category: "food"},
			{Account: "MYBANK_CHQ", Date: date.MustParse("2024-03-02"), Amount: dec(-80), Currency: "EUR", Description: "SUPERMARKET", Category: "food", Subcategory: "groceries"},
			{Account: "BANK2_BIZ", Date: date.MustParse("2024-03-05"), Amount: dec(1500), Currency: "EUR", Description: "INVOICE 42"},
		},
		Budgets: []LegacyBudget{
			{Category: "food", Amount: dec(400), Currency: "EUR", Period: "monthly", EffectiveFrom: date.MustParse("2024-01-01")},
		},
	}
}

func TestReadSnapshot(t *testing.T) {
	input := `{"kind":"transaction","account":"MYBANK_CHQ","date":"2024-03-01","amount":-12.5,"currency":"EUR","description":"BAKERY","category":"food"}

{"kind":"budget","category":"food","amount":400,"currency":"EUR","period":"monthly","effectiveFrom":"2024-01-01"}
`
	s, err := ReadSnapshot(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Transactions) != 1 || len(s.Budgets) != 1 {
		t.Fatalf("snapshot = %d transactions, %d budgets, want 1 and 1", len(s.Transactions), len(s.Budgets))
	}
	if s.Transactions[0].Description != "BAKERY" || !s.Transactions[0].Amount.Equal(dec(-12.5)) {
		t.Errorf("transaction = %+v", s.Transactions[0])
	}

	if _, err := ReadSnapshot(strings.NewReader(`{"kind":"mystery"}`)); err == nil {
		t.Error("ReadSnapshot accepted an unknown record kind")
	}
}

func TestMigration_RunCompletes(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	viewPath := filepath.Join(t.TempDir(), "views.db")

	m := NewMigration(l, viewPath, BuilderConfig{})
	report, err := m.Run(ctx, testSnapshot())
	if err != nil {
		t.Fatal(err)
	}
	if report.State != MigrationDone || m.State() != MigrationDone {
		t.Fatalf("state = %s, want %s", report.State, MigrationDone)
	}
	if report.TransactionsBackfilled != 3 || report.BudgetsBackfilled != 1 {
		t.Errorf("report = %+v, want 3 transactions and 1 budget backfilled", report)
	}

	v, err := OpenView(viewPath)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	rows, err := v.Transactions(ctx, TransactionFilter{Category: "food"})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("categorized rows = %d, want 2", len(rows))
	}
}

func TestMigration_RerunIsNoOp(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	viewPath := filepath.Join(t.TempDir(), "views.db")
	s := testSnapshot()

	if _, err := NewMigration(l, viewPath, BuilderConfig{}).Run(ctx, s); err != nil {
		t.Fatal(err)
	}
	countAfterFirst, _ := l.Count(ctx)

	report, err := NewMigration(l, viewPath, BuilderConfig{}).Run(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if report.TransactionsBackfilled != 0 || report.BudgetsBackfilled != 0 {
		t.Errorf("second run backfilled %+v, want nothing", report)
	}
	if report.Skipped != 4 {
		t.Errorf("second run skipped %d records, want 4", report.Skipped)
	}
	if n, _ := l.Count(ctx); n != countAfterFirst {
		t.Errorf("second run grew the log from %d to %d events", countAfterFirst, n)
	}
}

func TestMigration_DriftAbortsBeforePromotion(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	viewPath := filepath.Join(t.TempDir(), "views.db")

	// An event outside the snapshot makes the counts disagree.
	appendEvent(t, l, imported("MYBANK_CHQ", "2025-01-10", -99, "NOT IN SNAPSHOT"))

	m := NewMigration(l, viewPath, BuilderConfig{})
	report, err := m.Run(ctx, testSnapshot())
	if err == nil {
		t.Fatal("migration promoted a drifted projection")
	}
	var drift *ProjectionDriftError
	if !errors.As(err, &drift) {
		t.Fatalf("error is %T, want *ProjectionDriftError", err)
	}
	if drift.TransactionsWant != 3 || drift.TransactionsGot != 4 {
		t.Errorf("drift counts = %d/%d (got/want %d/%d)", drift.TransactionsGot, drift.TransactionsWant, 4, 3)
	}
	if report.State != ProjectionsBuilt {
		t.Errorf("state = %s, want aborted at %s", report.State, ProjectionsBuilt)
	}

	// Nothing was promoted: opening the target path yields a store that
	// never saw an event.
	v, err := OpenView(viewPath)
	if err != nil {
		t.Fatal(err)
	}
	defer v.Close()
	if cp, _ := v.Checkpoint(ctx, ProjectionTransactions); cp != 0 {
		t.Errorf("promoted store has checkpoint %d, want untouched (0)", cp)
	}
}
