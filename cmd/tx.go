package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/etnz/ledger"
	"github.com/etnz/ledger/date"
	"github.com/etnz/ledger/renderer"
	"github.com/google/subcommands"
)

type txCmd struct {
	account  string
	period   string
	start    string
	end      string
	category string
	dups     bool
}

func (*txCmd) Name() string     { return "tx" }
func (*txCmd) Synopsis() string { return "list transactions in the ledger" }
func (*txCmd) Usage() string {
	return `plg tx [-a <account>] [-p <period> | -s <start_date>] [-d <end_date>] [-c <category>] [-dups]

  Lists transactions from the ledger, with options for filtering. Rows
  marked as duplicates are hidden unless -dups is given.
`
}

func (p *txCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.account, "a", "", "Only this account.")
	f.StringVar(&p.period, "p", "", "Predefined period ending today (day, week, month, quarter, year).")
	f.StringVar(&p.start, "s", "", "The start date for a custom range. Overrides -p.")
	f.StringVar(&p.end, "d", "", "The end date for the range (YYYY-MM-DD).")
	f.StringVar(&p.category, "c", "", "Only this category.")
	f.BoolVar(&p.dups, "dups", false, "Include rows marked as duplicates.")
}

func (p *txCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	filter := ledger.TransactionFilter{
		Account:           p.account,
		Category:          p.category,
		IncludeDuplicates: p.dups,
	}
	var err error
	if p.period != "" && p.start == "" {
		period, err := date.ParsePeriod(p.period)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return subcommands.ExitUsageError
		}
		r := date.NewRange(date.Today(), period)
		filter.From, filter.To = r.From, r.To
	}
	if p.start != "" {
		if filter.From, err = date.Parse(p.start); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return subcommands.ExitUsageError
		}
	}
	if p.end != "" {
		if filter.To, err = date.Parse(p.end); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return subcommands.ExitUsageError
		}
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

	rows, err := v.Transactions(ctx, filter)
	if err != nil {
		return fail(err)
	}

	title := "Transactions"
	if p.account != "" {
		title = "Transactions of " + p.account
	}
	printMarkdown(renderer.RenderTransactions(&renderer.TransactionsReport{
		Title:  title,
		Rows:   rows,
		Totals: renderer.TotalsByCurrency(rows),
	}))
	return subcommands.ExitSuccess
}
