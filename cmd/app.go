// Package cmd implements the CLI application to manage a personal ledger.
package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/glamour"
	"github.com/etnz/ledger"
	"github.com/google/subcommands"
)

// Register the subcommands.
// A main package will call Register() to allow subcommands, and Execute() on the user-selected one.
func Register(c *subcommands.Commander) {
	c.Register(&importCmd{}, "ingestion")
	c.Register(&migrateCmd{}, "ingestion")

	c.Register(&txCmd{}, "reports")
	c.Register(&budgetCmd{}, "reports")
	c.Register(&exportCmd{}, "reports")

	c.Register(&categorizeCmd{}, "curation")
	c.Register(&setBudgetCmd{}, "curation")
	c.Register(&linkCmd{}, "curation")
	c.Register(&dedupeCmd{}, "curation")

	c.Register(&rebuildCmd{}, "maintenance")
	c.Register(&topicCmd{}, "maintenance")
}

// as a CLI application, it has a very short lived lifecycle, so it is ok to use global variables.

var ledgerDir = flag.String("ledger-dir", defaultLedgerDir(), "Directory holding the event log and projections")
var descriptionPolicy = flag.String("description-policy", string(ledger.KeepFirst),
	"Which observed description to display: keep-first or keep-latest")

func defaultLedgerDir() string {
	if dir := os.Getenv("PLG_DIR"); dir != "" {
		return dir
	}
	return "."
}

func logPath() string  { return filepath.Join(*ledgerDir, "events.db") }
func viewPath() string { return filepath.Join(*ledgerDir, "views.db") }

func builderConfig() ledger.BuilderConfig {
	return ledger.BuilderConfig{DescriptionPolicy: ledger.DescriptionPolicy(*descriptionPolicy)}
}

// OpenLog is the central function to open the event log.
func OpenLog() (*ledger.Log, error) {
	if err := os.MkdirAll(*ledgerDir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create ledger directory %q: %w", *ledgerDir, err)
	}
	return ledger.OpenLog(logPath())
}

// OpenView opens the projection store, catching it up with the log first so
// commands always query fresh state.
func OpenView(ctx context.Context, l *ledger.Log) (*ledger.View, error) {
	v, err := ledger.OpenView(viewPath())
	if err != nil {
		return nil, err
	}
	if err := ledger.NewBuilder(l, builderConfig()).CatchUp(ctx, v); err != nil {
		v.Close()
		return nil, err
	}
	return v, nil
}

// printMarkdown renders markdown to the terminal, falling back to the raw
// text when the terminal cannot be styled.
func printMarkdown(doc string) {
	out, err := glamour.Render(doc, "auto")
	if err != nil {
		fmt.Print(doc)
		return
	}
	fmt.Print(out)
}

// fail prints an error and returns the failure exit status, keeping Execute
// bodies short.
func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, "Error:", err)
	return subcommands.ExitFailure
}
