// bytelox CLI - runs scripts, compiles chunks, and hosts the REPL, the eval
// server and the language server.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/bytelox/manifest"

	_ "github.com/tliron/commonlog/simple"
)

// Exit codes follow sysexits.h.
const (
	exitOK      = 0
	exitUsage   = 64
	exitCompile = 65
	exitRuntime = 70
	exitIO      = 74
)

var log = commonlog.GetLogger("bytelox.cli")

func main() {
	c := &cli{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	os.Exit(c.run(os.Args[1:]))
}

// cli carries the process streams so commands can be exercised in tests.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

type options struct {
	compileOnly bool
	output      string
	disassemble bool
	tokens      bool
	expr        string
	trace       bool
	session     string
	lsp         bool
	serve       bool
	port        int
	plain       bool
	verbosity   int
}

func (c *cli) parseFlags(args []string) (*options, []string, error) {
	fs := flag.NewFlagSet("bytelox", flag.ContinueOnError)
	fs.SetOutput(c.stderr)

	opts := &options{}
	fs.BoolVar(&opts.compileOnly, "c", false, "Compile only; report errors without running")
	fs.StringVar(&opts.output, "o", "", "Write the compiled chunk to `file` (.blxc)")
	fs.BoolVar(&opts.disassemble, "d", false, "Print the disassembled chunk")
	fs.BoolVar(&opts.tokens, "tokens", false, "Dump the token stream, comments included")
	fs.StringVar(&opts.expr, "e", "", "Evaluate `expr` and print its value")
	fs.BoolVar(&opts.trace, "trace", false, "Trace every executed instruction to stderr")
	fs.StringVar(&opts.session, "session", "", "Load and save globals in the named session")
	fs.BoolVar(&opts.lsp, "lsp", false, "Start the language server on stdio")
	fs.BoolVar(&opts.serve, "serve", false, "Start the eval server (Connect HTTP/JSON + protobuf)")
	fs.IntVar(&opts.port, "port", 0, "Eval server port (overrides [server] addr)")
	fs.BoolVar(&opts.plain, "plain", false, "Use the line-based REPL even on a terminal")
	fs.IntVar(&opts.verbosity, "verbosity", 0, "Log verbosity (overrides [log] verbosity when higher)")

	fs.Usage = func() {
		fmt.Fprintf(c.stderr, "Usage: bytelox [options] [path]\n\n")
		fmt.Fprintf(c.stderr, "Runs a script, a compiled .blxc chunk, or starts the REPL.\n\n")
		fmt.Fprintf(c.stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(c.stderr, "\nExamples:\n")
		fmt.Fprintf(c.stderr, "  bytelox                        # REPL (or [source] entry from bytelox.toml)\n")
		fmt.Fprintf(c.stderr, "  bytelox script.lox             # Run a script\n")
		fmt.Fprintf(c.stderr, "  bytelox -d -c script.lox       # Show bytecode without running\n")
		fmt.Fprintf(c.stderr, "  bytelox -o out.blxc script.lox # Compile, save and run\n")
		fmt.Fprintf(c.stderr, "  bytelox out.blxc               # Run a compiled chunk\n")
		fmt.Fprintf(c.stderr, "  bytelox -e '1 + 2 * 3'         # Evaluate an expression\n")
		fmt.Fprintf(c.stderr, "  bytelox --serve --port 8080    # Eval server on :8080\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return opts, fs.Args(), nil
}

func (c *cli) run(args []string) int {
	opts, rest, err := c.parseFlags(args)
	if err != nil {
		if err == flag.ErrHelp {
			return exitOK
		}
		return exitUsage
	}
	if len(rest) > 1 {
		fmt.Fprintln(c.stderr, "Usage: bytelox [path]")
		return exitUsage
	}

	m, err := loadManifest()
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitUsage
	}
	configureLogging(m, opts.verbosity)

	opts.trace = opts.trace || m.VM.Trace

	switch {
	case opts.lsp:
		return c.runLSP()
	case opts.serve:
		return c.runServer(m, opts)
	case opts.expr != "":
		return c.evalExpression(m, opts)
	}

	path := m.EntryPath()
	if len(rest) == 1 {
		path = rest[0]
	}
	if path == "" {
		if opts.compileOnly || opts.output != "" || opts.disassemble || opts.tokens {
			fmt.Fprintln(c.stderr, "Usage: bytelox [path]")
			return exitUsage
		}
		return c.runREPL(m, opts)
	}

	if isChunkFile(path) {
		return c.runChunkFile(m, path, opts)
	}
	return c.runFile(m, path, opts)
}

// loadManifest finds bytelox.toml above the working directory, falling back
// to defaults rooted there.
func loadManifest() (*manifest.Manifest, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	m, err := manifest.FindAndLoad(cwd)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default(cwd)
	}
	return m, nil
}

func configureLogging(m *manifest.Manifest, verbosity int) {
	if m.Log.Verbosity > verbosity {
		verbosity = m.Log.Verbosity
	}
	var path *string
	if p := m.LogFilePath(); p != "" {
		path = &p
	}
	commonlog.Configure(verbosity, path)
}
