package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/etnz/ledger"
	"github.com/google/subcommands"
)

type migrateCmd struct {
	snapshot string
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "migrate a legacy snapshot into the event log" }
func (*migrateCmd) Usage() string {
	return `plg migrate -snapshot <legacy.jsonl>

  Backfills events from a legacy JSONL snapshot, rebuilds the projections,
  validates them against the snapshot and promotes the result. A validation
  failure aborts before promotion. Re-running an interrupted migration is
  safe: records already in the log are skipped.
`
}

func (p *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.snapshot, "snapshot", "", "Legacy snapshot file (JSONL).")
}

func (p *migrateCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if p.snapshot == "" {
		fmt.Fprintln(os.Stderr, "Error: -snapshot is required.")
		return subcommands.ExitUsageError
	}
	file, err := os.Open(p.snapshot)
	if err != nil {
		return fail(err)
	}
	defer file.Close()
	snapshot, err := ledger.ReadSnapshot(file)
	if err != nil {
		return fail(err)
	}

	l, err := OpenLog()
	if err != nil {
		return fail(err)
	}
	defer l.Close()

	cfg := builderConfig()
	cfg.Progress = log.New(os.Stderr, "migrate: ", 0)
	migration := ledger.NewMigration(l, viewPath(), cfg)
	report, err := migration.Run(ctx, snapshot)
	if err != nil {
		var drift *ledger.ProjectionDriftError
		if errors.As(err, &drift) {
			fmt.Fprintf(os.Stderr, "Migration aborted at stage %q: %v\n", report.State, drift)
			return subcommands.ExitFailure
		}
		return fail(err)
	}
	fmt.Printf("Migration complete: %d transactions, %d budgets backfilled, %d already present.\n",
		report.TransactionsBackfilled, report.BudgetsBackfilled, report.Skipped)
	return subcommands.ExitSuccess
}
