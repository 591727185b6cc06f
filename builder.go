package ledger

import (
	"context"
	"fmt"
	"log"
	"os"
)

// DescriptionPolicy decides which observed description variant a transaction
// row displays as canonical.
type DescriptionPolicy string

const (
	// KeepFirst keeps the description from the original import. The default:
	// banks tend to replace useful provisional text ("CARD AUTH AMAZON") with
	// vaguer settled text later.
	KeepFirst DescriptionPolicy = "keep-first"
	// KeepLatest always displays the most recently observed variant.
	KeepLatest DescriptionPolicy = "keep-latest"
)

// BuilderConfig tunes the projection builder. The zero value is usable.
type BuilderConfig struct {
	DescriptionPolicy DescriptionPolicy // defaults to KeepFirst
	BatchSize         int               // events folded per commit, defaults to 500
	Progress          *log.Logger       // optional progress reporting
}

func (c BuilderConfig) withDefaults() BuilderConfig {
	if c.DescriptionPolicy == "" {
		c.DescriptionPolicy = KeepFirst
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	return c
}

// Builder folds events from the log into the projection store. It is the
// only writer of projections; everything it produces is derived and
// disposable.
type Builder struct {
	log *Log
	cfg BuilderConfig
}

// NewBuilder returns a builder reading from the given log.
func NewBuilder(l *Log, cfg BuilderConfig) *Builder {
	return &Builder{log: l, cfg: cfg.withDefaults()}
}

// Rebuild replays the whole log into a fresh projection store and atomically
// swaps it over the file at path. The previous store keeps serving until the
// very last moment: an interruption at any point leaves it untouched, since
// the new store is built under a temporary name and promoted with a single
// rename.
func (b *Builder) Rebuild(ctx context.Context, path string) (err error) {
	tmp := path + ".rebuild"
	for _, stale := range []string{tmp, tmp + "-wal", tmp + "-shm"} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("cannot clear stale rebuild file %q: %w", stale, err)
		}
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
			os.Remove(tmp + "-wal")
			os.Remove(tmp + "-shm")
		}
	}()

	fresh, err := OpenView(tmp)
	if err != nil {
		return err
	}
	if err := b.CatchUp(ctx, fresh); err != nil {
		fresh.Close()
		return err
	}
	if err := fresh.Close(); err != nil {
		return fmt.Errorf("cannot finalize rebuilt projections: %w", err)
	}
	// sqlite folds the WAL back into the main file on close; leftovers would
	// be adopted by the wrong database after the rename.
	os.Remove(tmp + "-wal")
	os.Remove(tmp + "-shm")
	if err := os.Rename(tmp, path); err != nil {
		return &WriteFailure{Op: "swap", Err: err}
	}
	return nil
}

// CatchUp folds every event the view has not seen yet, in sequence order,
// batch by batch. Each batch commits together with its checkpoint advance,
// so an interrupted catch-up resumes exactly where it stopped and never
// folds an event twice.
func (b *Builder) CatchUp(ctx context.Context, v *View) error {
	after, err := v.Checkpoint(ctx, ProjectionTransactions)
	if err != nil {
		return err
	}
	var folded int
	for {
		events, err := b.log.ReadFrom(ctx, after, b.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		tx, err := v.Begin(ctx)
		if err != nil {
			return err
		}
		for _, e := range events {
			if err := b.apply(tx, e); err != nil {
				tx.Rollback()
				return fmt.Errorf("cannot apply event seq %d (%s): %w", e.Seq, e.Type, err)
			}
			after = e.Seq
		}
		if err := tx.setCheckpoint(ProjectionTransactions, after); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.setCheckpoint(ProjectionBudgets, after); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return &WriteFailure{Op: "commit", Err: err}
		}
		folded += len(events)
		if b.cfg.Progress != nil {
			b.cfg.Progress.Printf("folded %d events, at seq %d", folded, after)
		}
	}
}

// apply folds one event into the projection batch. Handlers must be pure
// functions of (event, current row state) so that replaying the same log
// always produces the same store.
func (b *Builder) apply(tx *ViewTx, e Event) error {
	switch p := e.Payload.(type) {
	case TransactionImported:
		exists, err := tx.hasTransaction(p.TransactionID)
		if err != nil {
			return err
		}
		if exists {
			// The importer never appends a second imported event for the same
			// id, so finding one means the log itself is inconsistent.
			return fmt.Errorf("transaction %q imported twice", p.TransactionID)
		}
		return tx.insertTransaction(TransactionRow{
			TransactionID: p.TransactionID,
			Account:       p.Account,
			Date:          p.Date,
			Amount:        p.Amount,
			Currency:      p.Currency,
			Description:   p.Description,
		}, e.Seq)

	case DescriptionObserved:
		if err := tx.recordDescription(p.TransactionID, e.Seq, p.Description); err != nil {
			return err
		}
		if b.cfg.DescriptionPolicy == KeepLatest {
			return tx.setCanonicalDescription(p.TransactionID, p.Description)
		}
		return nil

	case TransactionCategorized:
		return tx.setCategory(p.TransactionID, p.Category, p.Subcategory)

	case DuplicateConfirmed:
		return tx.markDuplicate(p.DuplicateTransactionID, p.PrimaryTransactionID)

	case TransferLinked:
		return tx.upsertLink(TransferLink{
			SourceTransactionID:      p.SourceTransactionID,
			DestinationTransactionID: p.DestinationTransactionID,
			SourceAccount:            p.SourceAccount,
			DestinationAccount:       p.DestinationAccount,
			Amount:                   p.Amount,
			Currency:                 p.Currency,
			Method:                   p.Method,
			Score:                    p.Score,
			FeeTransactionIDs:        p.FeeTransactionIDs,
		})

	case BudgetCreated:
		return tx.upsertBudget(BudgetRow{
			Category:      p.Category,
			Subcategory:   p.Subcategory,
			EffectiveFrom: p.EffectiveFrom,
			Period:        p.Period,
			Amount:        p.Amount,
			Currency:      p.Currency,
		})

	case BudgetUpdated:
		return b.apply(tx, Event{Seq: e.Seq, Payload: BudgetCreated(p)})

	case DuplicateSuggested, DuplicateRejected, PromptUpdated:
		// Suggestions, rejections and classifier state never mutate the
		// projection; they live in the log for downstream consumers.
		return nil

	default:
		return fmt.Errorf("unhandled event type %q", e.Type)
	}
}
