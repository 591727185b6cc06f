package ledger

import (
	"context"
	"time"

	"github.com/etnz/ledger/date"
	"github.com/shopspring/decimal"
)

// RawRow is one normalized bank statement line handed to the importer by an
// ingestion profile.
type RawRow struct {
	Account     string
	Date        date.Date
	Amount      decimal.Decimal
	Currency    string
	Description string
	// Reference, when the bank provides a stable transaction reference,
	// anchors the identity instead of the free-text description. Banks that
	// rewrite description text between provisional and settled exports keep a
	// stable reference, which is what lets the same transaction be recognized
	// when its text changes.
	Reference  string
	SourceFile string
}

// identityText is the description input of the identity hash.
func (r RawRow) identityText() string {
	if r.Reference != "" {
		return r.Reference
	}
	return r.Description
}

// DuplicateImportNoOp reports that a row was skipped because its transaction
// id is already in the ledger with the same description. This is the normal
// outcome of re-importing a statement, an ordinary value rather than an
// error.
type DuplicateImportNoOp struct {
	TransactionID string
	SourceFile    string
}

// ImportReport summarizes one importer run.
type ImportReport struct {
	Imported             int
	DescriptionsObserved int
	Skipped              []DuplicateImportNoOp
}

// Importer turns raw statement rows into events. It is the layer enforcing
// ingestion idempotency: the event log itself appends whatever it is given,
// the importer decides what deserves appending.
type Importer struct {
	log *Log
}

// NewImporter returns an importer appending to the given log.
func NewImporter(l *Log) *Importer {
	return &Importer{log: l}
}

// Import processes rows in order. A row with an unseen id becomes a
// TransactionImported event; a seen id with new description text becomes a
// DescriptionObserved event; a seen id with known text is skipped. Importing
// the same file twice therefore appends nothing the second time.
func (imp *Importer) Import(ctx context.Context, rows []RawRow) (ImportReport, error) {
	var report ImportReport
	for _, r := range rows {
		if err := r.validate(); err != nil {
			return report, err
		}
		id := TransactionID(r.Account, r.Date, r.Amount, r.identityText())

		seen, err := imp.log.HasAggregate(ctx, AggregateTransaction, id)
		if err != nil {
			return report, err
		}
		if !seen {
			e, err := NewEvent(time.Time{}, TransactionImported{
				TransactionID: id,
				Account:       r.Account,
				Date:          r.Date,
				Amount:        r.Amount,
				Currency:      r.Currency,
				Description:   r.Description,
				SourceFile:    r.SourceFile,
			})
			if err != nil {
				return report, err
			}
			if _, err := imp.log.Append(ctx, e); err != nil {
				return report, err
			}
			report.Imported++
			continue
		}

		known, err := imp.knownDescriptions(ctx, id)
		if err != nil {
			return report, err
		}
		if known[r.Description] {
			report.Skipped = append(report.Skipped, DuplicateImportNoOp{TransactionID: id, SourceFile: r.SourceFile})
			continue
		}
		e, err := NewEvent(time.Time{}, DescriptionObserved{
			TransactionID: id,
			Description:   r.Description,
			SourceFile:    r.SourceFile,
		})
		if err != nil {
			return report, err
		}
		if _, err := imp.log.Append(ctx, e); err != nil {
			return report, err
		}
		report.DescriptionsObserved++
	}
	return report, nil
}

// knownDescriptions replays one transaction's history and collects every
// description variant already on record.
func (imp *Importer) knownDescriptions(ctx context.Context, id string) (map[string]bool, error) {
	events, err := imp.log.ReadByAggregate(ctx, AggregateTransaction, id)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool)
	for _, e := range events {
		switch p := e.Payload.(type) {
		case TransactionImported:
			known[p.Description] = true
		case DescriptionObserved:
			known[p.Description] = true
		}
	}
	return known, nil
}

func (r RawRow) validate() error {
	if r.Account == "" {
		return invalidf("import.row", "account", "is required")
	}
	if r.Date.IsZero() {
		return invalidf("import.row", "date", "is required")
	}
	if r.Amount.IsZero() {
		return invalidf("import.row", "amount", "must not be zero")
	}
	if r.Currency == "" {
		return invalidf("import.row", "currency", "is required")
	}
	if r.Description == "" && r.Reference == "" {
		return invalidf("import.row", "description", "is required")
	}
	return nil
}
