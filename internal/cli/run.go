package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	flag "github.com/spf13/pflag"

	"github.com/jgaa/deldupes/internal/cliconfig"
	"github.com/jgaa/deldupes/internal/fs"
	"github.com/jgaa/deldupes/internal/hashing"
	"github.com/jgaa/deldupes/internal/logging"
	"github.com/jgaa/deldupes/internal/store"
	"github.com/jgaa/deldupes/internal/store/dbpath"
)

// Run is the main entry point. Returns the exit code. sigCh can be nil if
// signal handling is not needed (e.g. in tests).
func Run(_ io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("deldupes", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagDB := globalFlags.String("db", "", "Database `name` or path (default: "+cliconfig.DefaultDBName+")")
	flagQuiet := globalFlags.BoolP("quiet", "q", false, "Machine-readable, minimal output")
	flagVerbose := globalFlags.BoolP("verbose", "v", false, "Enable debug logging")

	if err := globalFlags.Parse(args[1:]); err != nil {
		fprintln(errOut, "error:", err)
		printGlobalOptions(errOut)

		return 1
	}

	dbArg := *flagDB
	if dbArg == "" {
		dbArg = cliconfig.DefaultDBName
	}

	dbDir, err := dbpath.Resolve(dbArg)
	if err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}

	log := logging.New(errOut, *flagVerbose, *flagQuiet)

	st, err := store.Open(dbDir, fs.NewReal(), store.Options{
		AppName:        "deldupes",
		DBKind:         "bbolt",
		HashFullAlgo:   hashing.StrongHashAlgo,
		HashPrefixAlgo: hashing.PrefixAlgo,
	})
	if err != nil {
		fprintln(errOut, "error:", err)
		return 1
	}

	defer func() { _ = st.Close() }()

	commands := allCommands(st, log, *flagQuiet)

	commandMap := make(map[string]*Command, len(commands))
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || (len(commandAndArgs) == 0 && globalFlags.NFlag() == 0) {
		printUsage(out, commands)
		return 0
	}

	if len(commandAndArgs) == 0 {
		fprintln(errOut, "error: no command provided")
		printUsage(errOut, commands)

		return 1
	}

	cmdName := commandAndArgs[0]

	cmd, ok := commandMap[cmdName]
	if !ok {
		fprintln(errOut, "error: unknown command:", cmdName)
		printUsage(errOut, commands)

		return 1
	}

	cmdIO := NewIO(out, errOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)

	go func() {
		done <- cmd.Run(ctx, cmdIO, commandAndArgs[1:])
	}()

	select {
	case exitCode := <-done:
		if exitCode != 0 {
			return exitCode
		}

		return cmdIO.Finish()
	case <-sigCh:
		fprintln(errOut, "shutting down with 5s timeout...")
		cancel()
	}

	select {
	case <-done:
		fprintln(errOut, "graceful shutdown ok (130)")
		return 130
	case <-time.After(5 * time.Second):
		fprintln(errOut, "graceful shutdown timed out, forced exit (130)")
		return 130
	case <-sigCh:
		fprintln(errOut, "graceful shutdown interrupted, forced exit (130)")
		return 130
	}
}

// allCommands returns all commands in display order. Dependencies are
// captured via closures in each command constructor.
func allCommands(st *store.Store, log zerolog.Logger, quiet bool) []*Command {
	return []*Command{
		ScanCmd(st, log),
		DupesCmd(st),
		PotentialCmd(st),
		DeleteCmd(st),
		CheckCmd(st, quiet),
		CheckHashCmd(st, quiet),
		StatsCmd(st),
	}
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

const globalOptionsHelp = `  -h, --help             Show help
  --db <name-or-path>    Database name or path
  -q, --quiet            Machine-readable, minimal output
  -v, --verbose          Enable debug logging`

func printGlobalOptions(w io.Writer) {
	fprintln(w, "Usage: deldupes [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Global flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Run 'deldupes --help' for a list of commands.")
}

func printUsage(w io.Writer, commands []*Command) {
	fprintln(w, "deldupes - local duplicate-file detector and safe remover")
	fprintln(w)
	fprintln(w, "Usage: deldupes [flags] <command> [args]")
	fprintln(w)
	fprintln(w, "Flags:")
	fprintln(w, globalOptionsHelp)
	fprintln(w)
	fprintln(w, "Commands:")

	for _, cmd := range commands {
		fprintln(w, cmd.HelpLine())
	}
}
