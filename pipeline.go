package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"

	"github.com/etnz/ledger/date"
	"github.com/shopspring/decimal"
)

// MigrationState tracks progress through the one-way migration from a
// legacy snapshot to the event-sourced ledger. Each stage is idempotent, so
// an interrupted migration is simply run again.
type MigrationState string

const (
	NotMigrated      MigrationState = "not_migrated"
	EventsBackfilled MigrationState = "events_backfilled"
	ProjectionsBuilt MigrationState = "projections_built"
	Validated        MigrationState = "validated"
	MigrationDone    MigrationState = "complete"
)

// LegacyTransaction is one transaction row of the legacy snapshot.
type LegacyTransaction struct {
	Account     string          `json:"account"`
	Date        date.Date       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description"`
	Category    string          `json:"category,omitempty"`
	Subcategory string          `json:"subcategory,omitempty"`
}

// LegacyBudget is one budget row of the legacy snapshot.
type LegacyBudget struct {
	Category      string          `json:"category"`
	Subcategory   string          `json:"subcategory,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Period        string          `json:"period"`
	EffectiveFrom date.Date       `json:"effectiveFrom"`
}

// Snapshot is the legacy data to migrate, read from a JSONL file where each
// line is a record tagged with its kind.
type Snapshot struct {
	Transactions []LegacyTransaction
	Budgets      []LegacyBudget
}

// ReadSnapshot parses a legacy JSONL snapshot. Lines look like
// {"kind":"transaction",...} or {"kind":"budget",...}; blank lines are
// skipped.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var kind struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(raw, &kind); err != nil {
			return nil, fmt.Errorf("snapshot line %d: %w", line, err)
		}
		switch kind.Kind {
		case "transaction":
			var t LegacyTransaction
			if err := json.Unmarshal(raw, &t); err != nil {
				return nil, fmt.Errorf("snapshot line %d: %w", line, err)
			}
			s.Transactions = append(s.Transactions, t)
		case "budget":
			var b LegacyBudget
			if err := json.Unmarshal(raw, &b); err != nil {
				return nil, fmt.Errorf("snapshot line %d: %w", line, err)
			}
			s.Budgets = append(s.Budgets, b)
		default:
			return nil, fmt.Errorf("snapshot line %d: unknown kind %q", line, kind.Kind)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read snapshot: %w", err)
	}
	return &s, nil
}

// MigrationReport summarizes one migration run.
type MigrationReport struct {
	State                  MigrationState
	TransactionsBackfilled int
	BudgetsBackfilled      int
	Skipped                int // records already present in the log
}

// Migration drives the backfill-and-validate pipeline: synthesize events
// from the snapshot, rebuild the projections from those events, validate the
// result against the snapshot, and only then promote the new projection
// store. A validation failure aborts before promotion, leaving whatever
// store existed before untouched.
type Migration struct {
	log      *Log
	viewPath string
	builder  *Builder
	progress *log.Logger
	state    MigrationState
}

// NewMigration prepares a migration appending to the given log and
// promoting its projections to viewPath.
func NewMigration(l *Log, viewPath string, cfg BuilderConfig) *Migration {
	return &Migration{
		log:      l,
		viewPath: viewPath,
		builder:  NewBuilder(l, cfg),
		progress: cfg.Progress,
		state:    NotMigrated,
	}
}

// State returns the stage the migration last reached.
func (m *Migration) State() MigrationState { return m.state }

// Run executes the whole pipeline. Re-running after success or after an
// interruption appends nothing new: backfill skips every record whose
// deterministic id is already in the log.
func (m *Migration) Run(ctx context.Context, s *Snapshot) (MigrationReport, error) {
	report := MigrationReport{State: m.state}

	if err := m.backfill(ctx, s, &report); err != nil {
		return report, err
	}
	m.state = EventsBackfilled
	report.State = m.state

	tmp := m.viewPath + ".migrating"
	for _, stale := range []string{tmp, tmp + "-wal", tmp + "-shm"} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return report, fmt.Errorf("cannot clear stale migration file %q: %w", stale, err)
		}
	}
	fresh, err := OpenView(tmp)
	if err != nil {
		return report, err
	}
	defer func() {
		os.Remove(tmp)
		os.Remove(tmp + "-wal")
		os.Remove(tmp + "-shm")
	}()
	if err := m.builder.CatchUp(ctx, fresh); err != nil {
		fresh.Close()
		return report, err
	}
	m.state = ProjectionsBuilt
	report.State = m.state

	if err := m.validate(ctx, fresh, s); err != nil {
		fresh.Close()
		return report, err
	}
	m.state = Validated
	report.State = m.state

	if err := fresh.Close(); err != nil {
		return report, fmt.Errorf("cannot finalize migrated projections: %w", err)
	}
	os.Remove(tmp + "-wal")
	os.Remove(tmp + "-shm")
	if err := os.Rename(tmp, m.viewPath); err != nil {
		return report, &WriteFailure{Op: "promote", Err: err}
	}
	m.state = MigrationDone
	report.State = m.state
	return report, nil
}

// backfill synthesizes events from the snapshot. Timestamps carry the
// legacy record dates, not the migration time, which is why sequence order
// rather than timestamp order is the only order consumers may rely on.
func (m *Migration) backfill(ctx context.Context, s *Snapshot, report *MigrationReport) error {
	for _, t := range s.Transactions {
		id := TransactionID(t.Account, t.Date, t.Amount, t.Description)
		seen, err := m.log.HasAggregate(ctx, AggregateTransaction, id)
		if err != nil {
			return err
		}
		if seen {
			report.Skipped++
			continue
		}
		at := time.Date(t.Date.Year(), t.Date.Month(), t.Date.Day(), 0, 0, 0, 0, time.UTC)
		e, err := NewEvent(at, TransactionImported{
			TransactionID: id,
			Account:       t.Account,
			Date:          t.Date,
			Amount:        t.Amount,
			Currency:      t.Currency,
			Description:   t.Description,
			SourceFile:    "legacy-snapshot",
		})
		if err != nil {
			return err
		}
		if _, err := m.log.Append(ctx, e); err != nil {
			return err
		}
		if t.Category != "" {
			e, err := NewEvent(at, TransactionCategorized{
				TransactionID: id,
				Category:      t.Category,
				Subcategory:   t.Subcategory,
			})
			if err != nil {
				return err
			}
			if _, err := m.log.Append(ctx, e); err != nil {
				return err
			}
		}
		report.TransactionsBackfilled++
	}

	for _, b := range s.Budgets {
		key := BudgetKey(b.Category, b.Subcategory)
		seen, err := m.log.HasAggregate(ctx, AggregateBudget, key)
		if err != nil {
			return err
		}
		if seen {
			report.Skipped++
			continue
		}
		at := time.Date(b.EffectiveFrom.Year(), b.EffectiveFrom.Month(), b.EffectiveFrom.Day(), 0, 0, 0, 0, time.UTC)
		e, err := NewEvent(at, BudgetCreated{
			Category:      b.Category,
			Subcategory:   b.Subcategory,
			Amount:        b.Amount,
			Currency:      b.Currency,
			Period:        b.Period,
			EffectiveFrom: b.EffectiveFrom,
		})
		if err != nil {
			return err
		}
		if _, err := m.log.Append(ctx, e); err != nil {
			return err
		}
		report.BudgetsBackfilled++
	}

	if m.progress != nil {
		m.progress.Printf("backfilled %d transactions, %d budgets, skipped %d already-present records",
			report.TransactionsBackfilled, report.BudgetsBackfilled, report.Skipped)
	}
	return nil
}

// validateSampleSize bounds the per-row field comparison; counts are always
// compared in full.
const validateSampleSize = 64

// validate compares the freshly built projections against the snapshot:
// exact row counts, then field-level comparison of a deterministic sample.
// Any mismatch is a ProjectionDriftError and aborts the migration.
func (m *Migration) validate(ctx context.Context, v *View, s *Snapshot) error {
	drift := &ProjectionDriftError{
		TransactionsWant: len(s.Transactions),
		BudgetsWant:      countBudgetVersions(s.Budgets),
	}
	var err error
	if drift.TransactionsGot, err = v.CountTransactions(ctx); err != nil {
		return err
	}
	if drift.BudgetsGot, err = v.CountBudgets(ctx); err != nil {
		return err
	}

	for _, t := range sampleTransactions(s.Transactions) {
		id := TransactionID(t.Account, t.Date, t.Amount, t.Description)
		row, ok, err := v.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			drift.Diffs = append(drift.Diffs, RowDiff{Key: id, Field: "row", Want: "present", Got: "missing"})
			continue
		}
		compare := []struct{ field, want, got string }{
			{"account", t.Account, row.Account},
			{"date", t.Date.String(), row.Date.String()},
			{"amount", t.Amount.String(), row.Amount.String()},
			{"currency", t.Currency, row.Currency},
			{"description", t.Description, row.Description},
			{"category", t.Category, row.Category},
		}
		for _, c := range compare {
			if c.want != c.got {
				drift.Diffs = append(drift.Diffs, RowDiff{Key: id, Field: c.field, Want: c.want, Got: c.got})
			}
		}
	}

	if drift.TransactionsWant != drift.TransactionsGot || drift.BudgetsWant != drift.BudgetsGot || len(drift.Diffs) > 0 {
		return drift
	}
	if m.progress != nil {
		m.progress.Printf("validated %d transactions and %d budget rows against the snapshot",
			drift.TransactionsGot, drift.BudgetsGot)
	}
	return nil
}

// sampleTransactions picks an evenly strided sample over the snapshot
// ordered by deterministic id, so the same snapshot always validates the
// same rows.
func sampleTransactions(all []LegacyTransaction) []LegacyTransaction {
	sorted := make([]LegacyTransaction, len(all))
	copy(sorted, all)
	sort.Slice(sorted, func(i, j int) bool {
		a := TransactionID(sorted[i].Account, sorted[i].Date, sorted[i].Amount, sorted[i].Description)
		b := TransactionID(sorted[j].Account, sorted[j].Date, sorted[j].Amount, sorted[j].Description)
		return a < b
	})
	if len(sorted) <= validateSampleSize {
		return sorted
	}
	stride := len(sorted) / validateSampleSize
	sample := make([]LegacyTransaction, 0, validateSampleSize)
	for i := 0; i < len(sorted) && len(sample) < validateSampleSize; i += stride {
		sample = append(sample, sorted[i])
	}
	return sample
}

// countBudgetVersions counts distinct (category, subcategory, effective
// date) keys, matching how the projection stores budget history.
func countBudgetVersions(budgets []LegacyBudget) int {
	keys := make(map[string]bool, len(budgets))
	for _, b := range budgets {
		keys[BudgetKey(b.Category, b.Subcategory)+"@"+b.EffectiveFrom.String()] = true
	}
	return len(keys)
}
