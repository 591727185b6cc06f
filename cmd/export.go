package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/ledger"
	"github.com/google/subcommands"
)

type exportCmd struct {
	input string
}

func (*exportCmd) Name() string     { return "export" }
func (*exportCmd) Synopsis() string { return "export the event log as JSONL, or import one" }
func (*exportCmd) Usage() string {
	return `plg export [-i <file>]

  Without flags, writes the whole event log to stdout as JSONL, one event
  per line in sequence order. With -i, imports such a file instead,
  skipping events already present.

Usage Examples:
$ plg export > backup.jsonl
$ plg export -i backup.jsonl
`
}

func (p *exportCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.input, "i", "", "Import this JSONL export instead of exporting.")
}

func (p *exportCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	l, err := OpenLog()
	if err != nil {
		return fail(err)
	}
	defer l.Close()

	if p.input == "" {
		if err := ledger.ExportEvents(ctx, l, os.Stdout); err != nil {
			return fail(err)
		}
		return subcommands.ExitSuccess
	}

	file, err := os.Open(p.input)
	if err != nil {
		return fail(err)
	}
	defer file.Close()
	added, skipped, err := ledger.ImportEvents(ctx, l, file)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("%d events imported, %d already present.\n", added, skipped)
	return subcommands.ExitSuccess
}
