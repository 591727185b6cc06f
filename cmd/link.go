package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/ledger"
	"github.com/etnz/ledger/renderer"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

type linkCmd struct {
	window     int
	tolerance  string
	feeCeiling string
}

func (*linkCmd) Name() string     { return "link" }
func (*linkCmd) Synopsis() string { return "detect transfers between accounts" }
func (*linkCmd) Usage() string {
	return `plg link [-window <days>] [-tolerance <amount>] [-fee-ceiling <amount>]

  Scans unlinked transactions for cross-account transfer pairs and records
  the links. Re-running never duplicates a link.
`
}

func (p *linkCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.window, "window", 3, "Days the two legs of a transfer may be apart.")
	f.StringVar(&p.tolerance, "tolerance", "3.00", "Fee tolerance for third-party transfers.")
	f.StringVar(&p.feeCeiling, "fee-ceiling", "3.00", "Largest outflow attached to a link as a fee.")
}

func (p *linkCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	tolerance, err := decimal.NewFromString(p.tolerance)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid tolerance %q: %v\n", p.tolerance, err)
		return subcommands.ExitUsageError
	}
	feeCeiling, err := decimal.NewFromString(p.feeCeiling)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid fee ceiling %q: %v\n", p.feeCeiling, err)
		return subcommands.ExitUsageError
	}
	l, err := OpenLog()
	if err != nil {
		return fail(err)
	}
	defer l.Close()
	v, err := OpenView(ctx, l)
	if err != nil {
		return fail(err)
	}
	defer v.Close()

	linker := ledger.NewLinker(l, v, ledger.LinkerConfig{
		WindowDays:         p.window,
		ETransferTolerance: tolerance,
		FeeCeiling:         feeCeiling,
	})
	report, err := linker.Run(ctx)
	if err != nil {
		return fail(err)
	}
	// Fold the fresh link events in before rendering.
	if err := ledger.NewBuilder(l, builderConfig()).CatchUp(ctx, v); err != nil {
		return fail(err)
	}
	links, err := v.Links(ctx)
	if err != nil {
		return fail(err)
	}

	fmt.Printf("%d new links.\n", report.Linked)
	printMarkdown(renderer.RenderLinks(&renderer.LinksReport{
		Links:     links,
		Ambiguous: report.Ambiguous,
	}))
	return subcommands.ExitSuccess
}
