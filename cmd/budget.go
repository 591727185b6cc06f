package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/etnz/ledger"
	"github.com/etnz/ledger/date"
	"github.com/etnz/ledger/renderer"
	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
)

type setBudgetCmd struct {
	category string
	amount   string
	currency string
	period   string
	from     string
}

func (*setBudgetCmd) Name() string     { return "set-budget" }
func (*setBudgetCmd) Synopsis() string { return "declare or update a category budget" }
func (*setBudgetCmd) Usage() string {
	return `plg set-budget -category <cat>[/<sub>] -amount <n> -currency <cur> [-period monthly|yearly] [-from <date>]

  Declares a budget, or supersedes the existing one for the same category
  from the effective date on. History is kept.

Usage Examples:
$ plg set-budget -category food/groceries -amount 450 -currency EUR -period monthly
`
}

func (p *setBudgetCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.category, "category", "", "Category, optionally with /subcategory.")
	f.StringVar(&p.amount, "amount", "", "Budget amount.")
	f.StringVar(&p.currency, "currency", "", "Budget currency code.")
	f.StringVar(&p.period, "period", "monthly", "Budget period: monthly or yearly.")
	f.StringVar(&p.from, "from", "", "Effective date (YYYY-MM-DD), defaults to today.")
}

func (p *setBudgetCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	amount, err := decimal.NewFromString(p.amount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid amount %q: %v\n", p.amount, err)
		return subcommands.ExitUsageError
	}
	from := date.Today()
	if p.from != "" {
		if from, err = date.Parse(p.from); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return subcommands.ExitUsageError
		}
	}
	category, subcategory, _ := strings.Cut(p.category, "/")

	l, err := OpenLog()
	if err != nil {
		return fail(err)
	}
	defer l.Close()

	key := ledger.BudgetKey(category, subcategory)
	exists, err := l.HasAggregate(ctx, ledger.AggregateBudget, key)
	if err != nil {
		return fail(err)
	}
	var payload ledger.Payload
	if exists {
		payload = ledger.BudgetUpdated{
			Category: category, Subcategory: subcategory,
			Amount: amount, Currency: p.currency,
			Period: p.period, EffectiveFrom: from,
		}
	} else {
		payload = ledger.BudgetCreated{
			Category: category, Subcategory: subcategory,
			Amount: amount, Currency: p.currency,
			Period: p.period, EffectiveFrom: from,
		}
	}
	e, err := ledger.NewEvent(time.Time{}, payload)
	if err != nil {
		return fail(err)
	}
	if _, err := l.Append(ctx, e); err != nil {
		return fail(err)
	}
	fmt.Printf("Budget %s set to %s %s (%s) from %s.\n", key, amount, p.currency, p.period, from)
	return subcommands.ExitSuccess
}

type budgetCmd struct {
	asof     string
	category string
	period   string
}

func (*budgetCmd) Name() string     { return "budget" }
func (*budgetCmd) Synopsis() string { return "list the budgets in force" }
func (*budgetCmd) Usage() string {
	return `plg budget [-asof <date>] [-category <cat>] [-period monthly|yearly]

  Lists the budget versions in force on a date, defaulting to today.
`
}

func (p *budgetCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.asof, "asof", "", "Date to evaluate budgets at (YYYY-MM-DD).")
	f.StringVar(&p.category, "category", "", "Only this category.")
	f.StringVar(&p.period, "period", "", "Only this period.")
}

func (p *budgetCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	filter := ledger.BudgetFilter{Category: p.category, Period: p.period}
	if p.asof != "" {
		var err error
		if filter.AsOf, err = date.Parse(p.asof); err != nil {
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

	rows, err := v.Budgets(ctx, filter)
	if err != nil {
		return fail(err)
	}
	asOf := filter.AsOf
	if asOf.IsZero() {
		asOf = date.Today()
	}
	printMarkdown(renderer.RenderBudgets(&renderer.BudgetsReport{AsOf: asOf.String(), Rows: rows}))
	return subcommands.ExitSuccess
}
