package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/etnz/ledger"
	"github.com/etnz/ledger/classifier"
	"github.com/google/subcommands"
	"google.golang.org/genai"
)

type dedupeCmd struct {
	suggest bool
	learn   bool
	confirm bool
	reject  bool
	min     float64
}

func (*dedupeCmd) Name() string     { return "dedupe" }
func (*dedupeCmd) Synopsis() string { return "find and resolve duplicate transactions" }
func (*dedupeCmd) Usage() string {
	return `plg dedupe -suggest | -learn | -confirm <primary-id> <duplicate-id> | -reject <id-a> <id-b>

  -suggest asks the AI classifier to review suspicious pairs and records
  its suggestions; nothing is marked without your decision.
  -confirm marks the second id as a duplicate of the first.
  -reject records that a pair is not a duplicate.
  -learn folds your past decisions back into the classifier prompt.

  -suggest and -learn require Gemini API credentials in the environment.
`
}

func (p *dedupeCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&p.suggest, "suggest", false, "Ask the classifier for duplicate suggestions.")
	f.BoolVar(&p.learn, "learn", false, "Update the classifier prompt from past decisions.")
	f.BoolVar(&p.confirm, "confirm", false, "Confirm a duplicate pair.")
	f.BoolVar(&p.reject, "reject", false, "Reject a suggested pair.")
	f.Float64Var(&p.min, "min", 0.6, "Minimum confidence for recording a suggestion.")
}

func (p *dedupeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	l, err := OpenLog()
	if err != nil {
		return fail(err)
	}
	defer l.Close()

	switch {
	case p.confirm:
		return p.decide(ctx, l, f, true)
	case p.reject:
		return p.decide(ctx, l, f, false)
	case p.suggest:
		return p.runSuggest(ctx, l)
	case p.learn:
		return p.runLearn(ctx, l)
	default:
		fmt.Fprintln(os.Stderr, "Error: one of -suggest, -learn, -confirm, -reject is required.")
		return subcommands.ExitUsageError
	}
}

func (p *dedupeCmd) decide(ctx context.Context, l *ledger.Log, f *flag.FlagSet, confirm bool) subcommands.ExitStatus {
	if f.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "Error: expected two transaction ids.")
		return subcommands.ExitUsageError
	}
	a, b := f.Arg(0), f.Arg(1)
	var payload ledger.Payload
	if confirm {
		payload = ledger.DuplicateConfirmed{PrimaryTransactionID: a, DuplicateTransactionID: b}
	} else {
		payload = ledger.DuplicateRejected{TransactionID: a, OtherTransactionID: b}
	}
	e, err := ledger.NewEvent(time.Time{}, payload)
	if err != nil {
		return fail(err)
	}
	if _, err := l.Append(ctx, e); err != nil {
		return fail(err)
	}
	if confirm {
		fmt.Printf("Marked %s as a duplicate of %s.\n", b, a)
	} else {
		fmt.Printf("Recorded that %s and %s are not duplicates.\n", a, b)
	}
	return subcommands.ExitSuccess
}

func (p *dedupeCmd) runSuggest(ctx context.Context, l *ledger.Log) subcommands.ExitStatus {
	v, err := OpenView(ctx, l)
	if err != nil {
		return fail(err)
	}
	defer v.Close()

	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error initializing Gemini's client:", err)
		return subcommands.ExitFailure
	}
	c := classifier.New(l, v)
	if err := c.Start(ctx, client); err != nil {
		return fail(err)
	}
	suggestions, err := c.Suggest(ctx, p.min)
	if err != nil {
		return fail(err)
	}
	if len(suggestions) == 0 {
		fmt.Println("No duplicate suggestions.")
		return subcommands.ExitSuccess
	}
	for _, s := range suggestions {
		fmt.Printf("%s ~ %s (%.0f%%): %s\n", s.TransactionID, s.OtherTransactionID, s.Confidence*100, s.Reason)
	}
	fmt.Println("Resolve with: plg dedupe -confirm <primary-id> <duplicate-id>")
	return subcommands.ExitSuccess
}

func (p *dedupeCmd) runLearn(ctx context.Context, l *ledger.Log) subcommands.ExitStatus {
	v, err := OpenView(ctx, l)
	if err != nil {
		return fail(err)
	}
	defer v.Close()

	state, err := classifier.New(l, v).Learn(ctx)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("Classifier accuracy so far: %.0f%% (%d confirmed, %d rejected).\n",
		state.Accuracy*100, state.Confirmed, state.Rejected)
	return subcommands.ExitSuccess
}
