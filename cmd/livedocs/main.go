package main

import (
	"io"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/livedocs/cmd/livedocs/commands"
	ferrors "git.home.luguber.info/inful/livedocs/internal/foundation/errors"
	"git.home.luguber.info/inful/livedocs/internal/version"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Exit))
}

// run parses args, executes the selected command and returns the exit code.
func run(args []string, stdout, stderr io.Writer, exit func(int)) int {
	cli := &commands.CLI{}
	global := &commands.Global{Out: stdout, Err: stderr}

	parser, err := kong.New(cli,
		kong.Name("livedocs"),
		kong.Description("Live, executable documentation blocks: discover, run and serve them."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
		kong.Writers(stdout, stderr),
		kong.Exit(exit),
	)
	if err != nil {
		return ferrors.NewCLIErrorAdapter(false, nil).WithOutput(stderr).Handle(
			ferrors.WrapError(err, ferrors.CategoryInternal, "invalid command definition").Build())
	}

	kctx, err := parser.Parse(args)
	if err != nil {
		parser.Errorf("%s", err)
		return 2
	}

	adapter := ferrors.NewCLIErrorAdapter(cli.Verbose, global.Logger).WithOutput(stderr)
	return adapter.Handle(kctx.Run(global, cli))
}
