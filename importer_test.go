package ledger

import (
	"context"
	"testing"

	"github.com/etnz/ledger/date"
)

func TestImporter_IsIdempotent(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	importer := NewImporter(l)

	rows := []RawRow{
		{Account: "MYBANK_CHQ", Date: date.MustParse("2025-01-10"), Amount: dec(-50), Currency: "EUR", Description: "TRANSFER TO BANK2", SourceFile: "jan.csv"},
		{Account: "MYBANK_CHQ", Date: date.MustParse("2025-01-12"), Amount: dec(-12.5), Currency: "EUR", Description: "BAKERY", SourceFile: "jan.csv"},
	}

	report, err := importer.Import(ctx, rows)
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 2 || len(report.Skipped) != 0 {
		t.Fatalf("first import = %+v, want 2 imported", report)
	}
	countAfterFirst, _ := l.Count(ctx)

	// Importing the same file again appends nothing.
	report, err = importer.Import(ctx, rows)
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 0 || report.DescriptionsObserved != 0 {
		t.Fatalf("second import = %+v, want all rows skipped", report)
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("second import skipped %d rows, want 2", len(report.Skipped))
	}
	if n, _ := l.Count(ctx); n != countAfterFirst {
		t.Errorf("second import grew the log from %d to %d events", countAfterFirst, n)
	}
}

func TestImporter_ObservesChangedDescription(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	importer := NewImporter(l)

	// A stable bank reference anchors identity, so the rewritten text is the
	// same transaction.
	provisional := RawRow{
		Account: "MYBANK_CHQ", Date: date.MustParse("2025-01-10"), Amount: dec(-30),
		Currency: "EUR", Description: "CARD AUTH AMAZON", Reference: "REF-001", SourceFile: "jan-1.csv",
	}
	settled := provisional
	settled.Description = "AMAZON EU SARL"
	settled.SourceFile = "jan-2.csv"

	if _, err := importer.Import(ctx, []RawRow{provisional}); err != nil {
		t.Fatal(err)
	}
	report, err := importer.Import(ctx, []RawRow{settled})
	if err != nil {
		t.Fatal(err)
	}
	if report.Imported != 0 || report.DescriptionsObserved != 1 {
		t.Fatalf("settled import = %+v, want one description observation", report)
	}

	id := TransactionID(provisional.Account, provisional.Date, provisional.Amount, "REF-001")
	events, err := l.ReadByAggregate(ctx, AggregateTransaction, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[1].Type != TypeDescriptionObserved {
		t.Fatalf("history = %d events ending in %s, want imported then observed", len(events), events[len(events)-1].Type)
	}

	// Re-importing the settled file is now a no-op too.
	report, err = importer.Import(ctx, []RawRow{settled})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Skipped) != 1 {
		t.Errorf("third import = %+v, want skipped", report)
	}
}

func TestImporter_RejectsInvalidRows(t *testing.T) {
	l := newTestLog(t)
	importer := NewImporter(l)

	testCases := []struct {
		name string
		row  RawRow
	}{
		{"missing account", RawRow{Date: date.MustParse("2025-01-10"), Amount: dec(-1), Currency: "EUR", Description: "X"}},
		{"missing date", RawRow{Account: "A", Amount: dec(-1), Currency: "EUR", Description: "X"}},
		{"zero amount", RawRow{Account: "A", Date: date.MustParse("2025-01-10"), Currency: "EUR", Description: "X"}},
		{"missing currency", RawRow{Account: "A", Date: date.MustParse("2025-01-10"), Amount: dec(-1), Description: "X"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := importer.Import(context.Background(), []RawRow{tc.row})
			if err == nil {
				t.Fatal("Import accepted an invalid row")
			}
			if _, ok := err.(*ValidationError); !ok {
				t.Errorf("error is %T, want *ValidationError", err)
			}
		})
	}
}
