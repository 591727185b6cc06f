package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/ledger"
	"github.com/google/subcommands"
)

type importCmd struct {
	profile string
}

func (*importCmd) Name() string     { return "import" }
func (*importCmd) Synopsis() string { return "import bank statement files" }
func (*importCmd) Usage() string {
	return `plg import -profile <profile.toml> <file> [<file>...]

  Reads bank export files using the given profile and appends the new
  transactions to the ledger. Re-importing a file is harmless: rows already
  in the ledger are skipped.

Usage Examples:
$ plg import -profile mybank.toml statements/2025-01.csv
`
}

func (p *importCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.profile, "profile", "", "Bank profile describing the file format (TOML).")
}

func (p *importCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if p.profile == "" {
		fmt.Fprintln(os.Stderr, "Error: -profile is required.")
		return subcommands.ExitUsageError
	}
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one statement file is required.")
		return subcommands.ExitUsageError
	}
	profile, err := ledger.LoadProfile(p.profile)
	if err != nil {
		return fail(err)
	}
	l, err := OpenLog()
	if err != nil {
		return fail(err)
	}
	defer l.Close()
	importer := ledger.NewImporter(l)

	for _, name := range f.Args() {
		file, err := os.Open(name)
		if err != nil {
			return fail(err)
		}
		rows, err := profile.Parse(file, name)
		file.Close()
		if err != nil {
			return fail(err)
		}
		report, err := importer.Import(ctx, rows)
		if err != nil {
			return fail(err)
		}
		fmt.Printf("%s: %d imported, %d descriptions observed, %d already known\n",
			name, report.Imported, report.DescriptionsObserved, len(report.Skipped))
	}

	// Fold the new events in right away so the next query sees them.
	v, err := OpenView(ctx, l)
	if err != nil {
		return fail(err)
	}
	return closeView(v)
}

func closeView(v *ledger.View) subcommands.ExitStatus {
	if err := v.Close(); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}
