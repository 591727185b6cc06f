package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/etnz/ledger/cmd"
	"github.com/google/subcommands"
	"github.com/posener/complete/v2"
	"github.com/posener/complete/v2/predict"
)

func main() {
	// Shell completion: `COMP_INSTALL=1 plg` installs it, after which this
	// call handles completion requests and exits before normal parsing.
	completion().Complete("plg")

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	cmd.Register(commander)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

func completion() *complete.Command {
	files := predict.Files("*")
	return &complete.Command{
		Flags: map[string]complete.Predictor{
			"ledger-dir":         predict.Dirs("*"),
			"description-policy": predict.Set{"keep-first", "keep-latest"},
		},
		Sub: map[string]*complete.Command{
			"import":     {Flags: map[string]complete.Predictor{"profile": predict.Files("*.toml")}, Args: files},
			"migrate":    {Flags: map[string]complete.Predictor{"snapshot": predict.Files("*.jsonl")}},
			"tx":         {},
			"budget":     {},
			"set-budget": {Flags: map[string]complete.Predictor{"period": predict.Set{"monthly", "yearly"}}},
			"categorize": {},
			"link":       {},
			"dedupe":     {},
			"rebuild":    {},
			"export":     {Flags: map[string]complete.Predictor{"i": predict.Files("*.jsonl")}},
			"topic":      {Args: predict.Set{"readme", "import", "link", "dedupe", "budget", "migrate", "events", "*"}},
		},
	}
}
