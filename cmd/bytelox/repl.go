package main

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/chazu/bytelox/compiler"
	"github.com/chazu/bytelox/manifest"
	"github.com/chazu/bytelox/session"
	"github.com/chazu/bytelox/vm"
)

// replSession is the interpreter state behind both REPL front ends.
type replSession struct {
	vm      *vm.VM
	persist bool
	trace   io.Writer

	// seed holds the globals every fresh VM starts from when lines do not
	// share one VM.
	seed map[string]vm.Value

	store *session.Store
	name  string
}

func newReplSession(globals map[string]vm.Value, persist bool, trace io.Writer) *replSession {
	r := &replSession{persist: persist, trace: trace, seed: globals}
	r.vm = r.freshVM(globals)
	return r
}

func (r *replSession) freshVM(globals map[string]vm.Value) *vm.VM {
	return vm.New(
		vm.WithCompiler(compiler.Backend{}),
		vm.WithTrace(r.trace),
		vm.WithGlobals(globals),
	)
}

// lineKind says what a line of input produced.
type lineKind int

const (
	lineOutput lineKind = iota // text written by print statements
	lineValue                  // value of an expression line
	lineError
	lineInfo // feedback from a ":" command
)

type lineResult struct {
	text string
	kind lineKind
}

// run executes one line of input. A line that is a complete expression is
// evaluated for its value; anything else runs as a program.
func (r *replSession) run(input string) lineResult {
	if !r.persist {
		r.vm = r.freshVM(r.seed)
	}

	var stdout, stderr bytes.Buffer
	r.vm.SetOutput(&stdout, &stderr)
	defer r.vm.SetOutput(io.Discard, io.Discard)

	if chunk, err := compiler.CompileExpression(input, compiler.WithDiagnostics(io.Discard)); err == nil {
		value, err := r.vm.Eval(chunk)
		if err != nil {
			return lineResult{joinOutput(&stdout, &stderr), lineError}
		}
		return lineResult{display(value), lineValue}
	}

	if err := r.vm.Interpret(input); err != nil {
		return lineResult{joinOutput(&stdout, &stderr), lineError}
	}
	return lineResult{strings.TrimRight(stdout.String(), "\n"), lineOutput}
}

// eval is run reduced to text plus an error flag.
func (r *replSession) eval(input string) (string, bool) {
	res := r.run(input)
	return res.text, res.kind == lineError
}

func joinOutput(stdout, stderr *bytes.Buffer) string {
	return strings.TrimRight(stdout.String()+stderr.String(), "\n")
}

// globalRow is one global as shown by :vars and the globals panel.
type globalRow struct {
	name  string
	kind  string
	value string
}

func (r *replSession) globalRows() []globalRow {
	names := r.vm.GlobalNames()
	rows := make([]globalRow, len(names))
	for i, name := range names {
		v, _ := r.vm.LookupGlobal(name)
		rows[i] = globalRow{name: name, kind: typeName(v), value: display(v)}
	}
	return rows
}

// globals returns "name = value" lines in name order.
func (r *replSession) globals() []string {
	rows := r.globalRows()
	lines := make([]string, len(rows))
	for i, row := range rows {
		lines[i] = fmt.Sprintf("%s = %s", row.name, row.value)
	}
	return lines
}

func typeName(v vm.Value) string {
	if v.IsString() {
		return "string"
	}
	return v.Kind().String()
}

// completions returns keywords and globals starting with prefix.
func (r *replSession) completions(prefix string) []string {
	var out []string
	for _, kw := range compiler.Keywords() {
		if strings.HasPrefix(kw, prefix) {
			out = append(out, kw)
		}
	}
	for _, name := range r.vm.GlobalNames() {
		if strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// display quotes strings so they can be told apart from other values.
func display(v vm.Value) string {
	if s, ok := v.AsString(); ok {
		return fmt.Sprintf("%q", s)
	}
	return v.String()
}

func (r *replSession) reset() {
	r.seed = nil
	r.vm.ResetGlobals()
}

func (r *replSession) save() (string, error) {
	if r.store == nil || r.name == "" {
		return "", fmt.Errorf("no session; start the REPL with --session NAME")
	}
	globals := r.vm.Globals()
	if _, err := r.store.Save(context.Background(), r.name, globals); err != nil {
		return "", err
	}
	return fmt.Sprintf("Saved %d globals to session %s", len(globals), r.name), nil
}

// commandResult is the outcome of a ":" command.
type commandResult struct {
	output string
	isErr  bool
	quit   bool
	toggle string // TUI panel to toggle: "help" or "vars"
}

const replHelp = `Commands:
  :help, :h     Show this help
  :vars, :v     List globals
  :reset, :r    Clear all globals
  :save, :s     Save globals to the --session database
  :quit, :q     Exit the REPL`

func (r *replSession) command(input string) commandResult {
	switch strings.Fields(input)[0] {
	case ":help", ":h":
		return commandResult{output: replHelp, toggle: "help"}
	case ":vars", ":v":
		lines := r.globals()
		if len(lines) == 0 {
			return commandResult{output: "No globals defined", toggle: "vars"}
		}
		return commandResult{output: strings.Join(lines, "\n"), toggle: "vars"}
	case ":reset", ":r":
		r.reset()
		return commandResult{output: "Globals reset"}
	case ":save", ":s":
		msg, err := r.save()
		if err != nil {
			return commandResult{output: err.Error(), isErr: true}
		}
		return commandResult{output: msg}
	case ":quit", ":q":
		return commandResult{quit: true}
	}
	return commandResult{output: fmt.Sprintf("Unknown command: %s", input), isErr: true}
}

// ---------------------------------------------------------------------------
// Entry point
// ---------------------------------------------------------------------------

func (c *cli) runREPL(m *manifest.Manifest, opts *options) int {
	store, globals, code := c.openSession(m, opts.session)
	if code != exitOK {
		return code
	}
	if store != nil {
		defer store.Close()
	}

	var trace io.Writer
	if opts.trace {
		trace = c.stderr
	}
	r := newReplSession(globals, m.REPL.PersistGlobals, trace)
	r.store = store
	r.name = opts.session

	if opts.plain || m.REPL.Plain || !isTerminal(c.stdin) || !isTerminal(c.stdout) {
		c.plainREPL(r)
	} else if err := runTUI(r); err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return exitIO
	}

	if store != nil {
		if _, err := r.save(); err != nil {
			fmt.Fprintf(c.stderr, "Error: saving session: %v\n", err)
			return exitIO
		}
	}
	return exitOK
}

func isTerminal(stream any) bool {
	f, ok := stream.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// plainREPL reads one line at a time, the way a pipe or dumb terminal
// expects.
func (c *cli) plainREPL(r *replSession) {
	scanner := bufio.NewScanner(c.stdin)
	for {
		fmt.Fprint(c.stdout, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.stdout)
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ":") {
			res := r.command(line)
			if res.quit {
				return
			}
			c.printResult(res.output, res.isErr)
			continue
		}

		c.printResult(r.eval(line))
	}
}

func (c *cli) printResult(output string, isErr bool) {
	if output == "" {
		return
	}
	if isErr {
		fmt.Fprintln(c.stderr, output)
		return
	}
	fmt.Fprintln(c.stdout, output)
}
