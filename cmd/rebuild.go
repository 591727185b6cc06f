package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/etnz/ledger"
	"github.com/google/subcommands"
)

type rebuildCmd struct{}

func (*rebuildCmd) Name() string     { return "rebuild" }
func (*rebuildCmd) Synopsis() string { return "rebuild all projections from the event log" }
func (*rebuildCmd) Usage() string {
	return `plg rebuild

  Replays the whole event log into a fresh projection store and swaps it in
  atomically. The previous store keeps serving until the swap; interrupting
  the rebuild leaves it untouched.
`
}

func (*rebuildCmd) SetFlags(f *flag.FlagSet) {}

func (c *rebuildCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	l, err := OpenLog()
	if err != nil {
		return fail(err)
	}
	defer l.Close()

	cfg := builderConfig()
	cfg.Progress = log.New(os.Stderr, "rebuild: ", 0)
	if err := ledger.NewBuilder(l, cfg).Rebuild(ctx, viewPath()); err != nil {
		return fail(err)
	}
	fmt.Println("Projections rebuilt.")
	return subcommands.ExitSuccess
}
