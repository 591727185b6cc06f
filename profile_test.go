package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeProfile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bank.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProfile_ParseCSV(t *testing.T) {
	profile, err := LoadProfile(writeProfile(t, `
name = "My Bank checking"
account = "MYBANK_CHQ"
currency = "EUR"
format = "csv"

[csv]
comma = ";"
date = "Booking date"
date_layout = "02.01.2006"
amount = "Amount"
description = "Purpose"
decimal_comma = true
`))
	if err != nil {
		t.Fatal(err)
	}

	statement := `Booking date;Amount;Purpose
10.01.2025;-1.234,56;RENT JANUARY
11.01.2025;50,00;TRANSFER FROM MYBANK
`
	rows, err := profile.Parse(strings.NewReader(statement), "jan.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("parsed %d rows, want 2", len(rows))
	}
	first := rows[0]
	if first.Account != "MYBANK_CHQ" || first.Currency != "EUR" || first.SourceFile != "jan.csv" {
		t.Errorf("row metadata = %+v", first)
	}
	if first.Date.String() != "2025-01-10" {
		t.Errorf("date = %s, want 2025-01-10", first.Date)
	}
	if !first.Amount.Equal(dec(-1234.56)) {
		t.Errorf("amount = %s, want -1234.56", first.Amount)
	}
	if first.Description != "RENT JANUARY" {
		t.Errorf("description = %q", first.Description)
	}
}

func TestProfile_ParseCSVDebitCredit(t *testing.T) {
	profile, err := LoadProfile(writeProfile(t, `
account = "BANK2_BIZ"
currency = "EUR"
format = "csv"

[csv]
date = "Date"
debit = "Debit"
credit = "Credit"
description = "Label"
`))
	if err != nil {
		t.Fatal(err)
	}

	statement := `Date,Debit,Credit,Label
2025-01-10,50.00,,WIRE OUT
2025-01-11,,120.00,CLIENT PAYMENT
`
	rows, err := profile.Parse(strings.NewReader(statement), "feb.csv")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("parsed %d rows, want 2", len(rows))
	}
	if !rows[0].Amount.Equal(dec(-50)) {
		t.Errorf("debit row amount = %s, want -50", rows[0].Amount)
	}
	if !rows[1].Amount.Equal(dec(120)) {
		t.Errorf("credit row amount = %s, want 120", rows[1].Amount)
	}
}

func TestProfile_ParseJSON(t *testing.T) {
	profile, err := LoadProfile(writeProfile(t, `
account = "BANK3_SAV"
currency = "EUR"
format = "json"

[json]
rows = "$.transactions[*]"
date = "$.bookingDate"
amount = "$.amount.value"
description = "$.remittanceInfo"
reference = "$.transactionId"
`))
	if err != nil {
		t.Fatal(err)
	}

	export := `{
  "transactions": [
    {"bookingDate": "2025-01-10", "amount": {"value": "-25.40"}, "remittanceInfo": "PHARMACY", "transactionId": "TX-1001"},
    {"bookingDate": "2025-01-11", "amount": {"value": "300"}, "remittanceInfo": "SAVINGS IN", "transactionId": "TX-1002"}
  ]
}`
	rows, err := profile.Parse(strings.NewReader(export), "export.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("parsed %d rows, want 2", len(rows))
	}
	first := rows[0]
	if !first.Amount.Equal(dec(-25.40)) {
		t.Errorf("amount = %s, want -25.4", first.Amount)
	}
	if first.Reference != "TX-1001" {
		t.Errorf("reference = %q, want TX-1001", first.Reference)
	}
	if first.Description != "PHARMACY" {
		t.Errorf("description = %q", first.Description)
	}
}

func TestProfile_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"missing account", `
currency = "EUR"
format = "csv"
[csv]
date = "Date"
amount = "Amount"
`},
		{"unknown format", `
account = "A"
currency = "EUR"
format = "xml"
`},
		{"csv without amount", `
account = "A"
currency = "EUR"
format = "csv"
[csv]
date = "Date"
`},
		{"json without rows", `
account = "A"
currency = "EUR"
format = "json"
[json]
date = "$.d"
amount = "$.a"
`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadProfile(writeProfile(t, tc.content)); err == nil {
				t.Error("LoadProfile accepted an invalid profile")
			}
		})
	}
}
