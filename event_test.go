package ledger

import (
	"testing"
	"time"

	"github.com/etnz/ledger/date"
)

func TestNewEvent(t *testing.T) {
	p := imported("MYBANK_CHQ", "2025-01-10", -50, "TRANSFER TO BANK2")

	e, err := NewEvent(zeroTime, p)
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" {
		t.Error("event id is empty")
	}
	if e.Type != TypeTransactionImported || e.Version != 1 {
		t.Errorf("type/version = %s/%d", e.Type, e.Version)
	}
	if e.AggregateType != AggregateTransaction || e.AggregateID != p.TransactionID {
		t.Errorf("aggregate = %s/%s, want %s/%s", e.AggregateType, e.AggregateID, AggregateTransaction, p.TransactionID)
	}
	if e.Timestamp.IsZero() {
		t.Error("zero timestamp was not defaulted")
	}

	// Two events for the same payload get distinct ids.
	e2, _ := NewEvent(zeroTime, p)
	if e.ID == e2.ID {
		t.Error("two events share an id")
	}

	// An explicit timestamp is kept, normalized to UTC milliseconds.
	at := time.Date(2025, 3, 1, 10, 30, 0, 123456789, time.UTC)
	e3, _ := NewEvent(at, p)
	if !e3.Timestamp.Equal(at.Truncate(time.Millisecond)) {
		t.Errorf("timestamp = %v, want %v", e3.Timestamp, at.Truncate(time.Millisecond))
	}
}

func TestPayloadValidation(t *testing.T) {
	valid := imported("MYBANK_CHQ", "2025-01-10", -50, "TRANSFER")
	day := date.MustParse("2025-01-01")

	testCases := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"valid import", valid, false},
		{"import without id", TransactionImported{Account: "A", Date: day, Amount: dec(-1), Currency: "EUR"}, true},
		{"import without currency", TransactionImported{TransactionID: "x", Account: "A", Date: day, Amount: dec(-1)}, true},
		{"valid categorization", TransactionCategorized{TransactionID: "x", Category: "food"}, false},
		{"categorization without category", TransactionCategorized{TransactionID: "x"}, true},
		{"suggestion with confidence over 1", DuplicateSuggested{TransactionID: "x", OtherTransactionID: "y", Confidence: 1.5}, true},
		{"suggestion about itself", DuplicateSuggested{TransactionID: "x", OtherTransactionID: "x", Confidence: 0.9}, true},
		{"confirmation of itself", DuplicateConfirmed{PrimaryTransactionID: "x", DuplicateTransactionID: "x"}, true},
		{"link with unknown method", TransferLinked{
			SourceTransactionID: "x", DestinationTransactionID: "y",
			SourceAccount: "A", DestinationAccount: "B",
			Amount: dec(10), Currency: "EUR", Method: "wire", Score: 1,
		}, true},
		{"link within one account", TransferLinked{
			SourceTransactionID: "x", DestinationTransactionID: "y",
			SourceAccount: "A", DestinationAccount: "A",
			Amount: dec(10), Currency: "EUR", Method: MethodDirect, Score: 1,
		}, true},
		{"valid budget", BudgetCreated{Category: "food", Amount: dec(400), Currency: "EUR", Period: "monthly", EffectiveFrom: day}, false},
		{"budget with weekly period", BudgetCreated{Category: "food", Amount: dec(400), Currency: "EUR", Period: "weekly", EffectiveFrom: day}, true},
		{"budget with negative amount", BudgetCreated{Category: "food", Amount: dec(-400), Currency: "EUR", Period: "monthly", EffectiveFrom: day}, true},
		{"valid prompt update", PromptUpdated{Accuracy: 0.75, Confirmed: 3, Rejected: 1}, false},
		{"prompt update with bad accuracy", PromptUpdated{Accuracy: 1.2}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewEvent(zeroTime, tc.payload)
			if tc.wantErr && err == nil {
				t.Error("NewEvent accepted an invalid payload")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("NewEvent rejected a valid payload: %v", err)
			}
			if tc.wantErr {
				if _, ok := err.(*ValidationError); !ok {
					t.Errorf("error is %T, want *ValidationError", err)
				}
			}
		})
	}
}

func TestBudgetKey(t *testing.T) {
	if got := BudgetKey("food", ""); got != "food" {
		t.Errorf("BudgetKey(food, ) = %q", got)
	}
	if got := BudgetKey("food", "groceries"); got != "food/groceries" {
		t.Errorf("BudgetKey(food, groceries) = %q", got)
	}
}
