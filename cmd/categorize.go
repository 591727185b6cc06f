package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/etnz/ledger"
	"github.com/google/subcommands"
)

type categorizeCmd struct{}

func (*categorizeCmd) Name() string     { return "categorize" }
func (*categorizeCmd) Synopsis() string { return "assign a category to a transaction" }
func (*categorizeCmd) Usage() string {
	return `plg categorize <transaction-id> <category>[/<subcategory>]

  Records a category for a transaction. The previous category stays
  recoverable from the transaction's event history.

Usage Examples:
$ plg categorize 9f2c47a1b03e58d6 food/groceries
`
}

func (*categorizeCmd) SetFlags(f *flag.FlagSet) {}

func (c *categorizeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Error: expected <transaction-id> and <category>.")
		return subcommands.ExitUsageError
	}
	id := f.Arg(0)
	category, subcategory, _ := strings.Cut(f.Arg(1), "/")

	l, err := OpenLog()
	if err != nil {
		return fail(err)
	}
	defer l.Close()

	known, err := l.HasAggregate(ctx, ledger.AggregateTransaction, id)
	if err != nil {
		return fail(err)
	}
	if !known {
		return fail(fmt.Errorf("unknown transaction %q", id))
	}
	e, err := ledger.NewEvent(time.Time{}, ledger.TransactionCategorized{
		TransactionID: id,
		Category:      category,
		Subcategory:   subcategory,
	})
	if err != nil {
		return fail(err)
	}
	if _, err := l.Append(ctx, e); err != nil {
		return fail(err)
	}
	fmt.Printf("Categorized %s as %s.\n", id, f.Arg(1))
	return subcommands.ExitSuccess
}
