package ledger

import (
	"context"
	"testing"
)

func TestLog_AppendAssignsIncreasingSeq(t *testing.T) {
	l := newTestLog(t)

	var last uint64
	for i, day := range []string{"2025-01-10", "2025-01-11", "2025-01-12"} {
		seq := appendEvent(t, l, imported("MYBANK_CHQ", day, -10.0-float64(i), "COFFEE"))
		if seq <= last {
			t.Fatalf("seq %d is not greater than previous %d", seq, last)
		}
		last = seq
	}
	n, err := l.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Count() = %d, want 3", n)
	}
	if got, _ := l.LastSeq(context.Background()); got != last {
		t.Errorf("LastSeq() = %d, want %d", got, last)
	}
}

func TestLog_AppendRejectsInvalidPayload(t *testing.T) {
	l := newTestLog(t)

	e, err := NewEvent(zeroTime, imported("MYBANK_CHQ", "2025-01-10", -10, "COFFEE"))
	if err != nil {
		t.Fatal(err)
	}
	p := e.Payload.(TransactionImported)
	p.Account = ""
	e.Payload = p

	if _, err := l.Append(context.Background(), e); err == nil {
		t.Fatal("Append accepted a payload with a missing account")
	} else if _, ok := err.(*ValidationError); !ok {
		t.Fatalf("Append error is %T, want *ValidationError", err)
	}
}

func TestLog_ReadFromPaginates(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	days := []string{"2025-01-10", "2025-01-11", "2025-01-12", "2025-01-13", "2025-01-14"}
	for i, day := range days {
		appendEvent(t, l, imported("MYBANK_CHQ", day, -1.0-float64(i), "ROW"))
	}

	var got []Event
	var after uint64
	for {
		page, err := l.ReadFrom(ctx, after, 2)
		if err != nil {
			t.Fatal(err)
		}
		if len(page) == 0 {
			break
		}
		if len(page) > 2 {
			t.Fatalf("page has %d events, limit was 2", len(page))
		}
		got = append(got, page...)
		after = page[len(page)-1].Seq
	}
	if len(got) != len(days) {
		t.Fatalf("paged reads returned %d events, want %d", len(got), len(days))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Fatalf("events out of sequence order at %d", i)
		}
	}
}

func TestLog_ReadByAggregate(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	p := imported("MYBANK_CHQ", "2025-01-10", -50, "TRANSFER TO BANK2")
	appendEvent(t, l, p)
	appendEvent(t, l, imported("BANK2_BIZ", "2025-01-11", 50, "TRANSFER FROM MYBANK"))
	appendEvent(t, l, TransactionCategorized{TransactionID: p.TransactionID, Category: "transfers"})

	events, err := l.ReadByAggregate(ctx, AggregateTransaction, p.TransactionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("ReadByAggregate returned %d events, want 2", len(events))
	}
	if events[0].Type != TypeTransactionImported || events[1].Type != TypeTransactionCategorized {
		t.Errorf("history types = %s, %s", events[0].Type, events[1].Type)
	}

	ok, err := l.HasAggregate(ctx, AggregateTransaction, p.TransactionID)
	if err != nil || !ok {
		t.Errorf("HasAggregate = %v, %v, want true", ok, err)
	}
	ok, err = l.HasAggregate(ctx, AggregateTransaction, "ffffffffffffffff")
	if err != nil || ok {
		t.Errorf("HasAggregate on unknown id = %v, %v, want false", ok, err)
	}
}

func TestLog_PayloadRoundTrip(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	want := TransferLinked{
		SourceTransactionID:      "aaaaaaaaaaaaaaaa",
		DestinationTransactionID: "bbbbbbbbbbbbbbbb",
		SourceAccount:            "MYBANK_CHQ",
		DestinationAccount:       "BANK2_BIZ",
		Amount:                   dec(49.50),
		Currency:                 "EUR",
		Method:                   MethodETransfer,
		Score:                    0.8,
		FeeTransactionIDs:        []string{"cccccccccccccccc"},
	}
	appendEvent(t, l, want)

	events, err := l.ReadFrom(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got, ok := events[0].Payload.(TransferLinked)
	if !ok {
		t.Fatalf("payload is %T, want TransferLinked", events[0].Payload)
	}
	if got.SourceTransactionID != want.SourceTransactionID ||
		got.Method != want.Method ||
		!got.Amount.Equal(want.Amount) ||
		len(got.FeeTransactionIDs) != 1 {
		t.Errorf("round-tripped payload differs: got %+v", got)
	}
}
