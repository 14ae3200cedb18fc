package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/bytelox/compiler"
	"github.com/chazu/bytelox/manifest"
	"github.com/chazu/bytelox/server"
	"github.com/chazu/bytelox/session"
	"github.com/chazu/bytelox/vm"
)

func isChunkFile(path string) bool {
	return strings.HasSuffix(path, vm.ChunkFileExt)
}

// newVM builds an interpreter wired to the CLI streams.
func (c *cli) newVM(opts *options, globals map[string]vm.Value) *vm.VM {
	vmOpts := []vm.Option{
		vm.WithCompiler(compiler.Backend{}),
		vm.WithStdout(c.stdout),
		vm.WithStderr(c.stderr),
		vm.WithGlobals(globals),
	}
	if opts.trace {
		vmOpts = append(vmOpts, vm.WithTrace(c.stderr))
	}
	return vm.New(vmOpts...)
}

// exitCodeFor maps an interpreter error to a process exit code.
func exitCodeFor(err error) int {
	switch vm.KindOf(err) {
	case vm.KindCompileError:
		return exitCompile
	case vm.KindRuntimeError:
		return exitRuntime
	}
	if err != nil {
		return exitRuntime
	}
	return exitOK
}

// ---------------------------------------------------------------------------
// Scripts
// ---------------------------------------------------------------------------

// runFile compiles a source file and, unless compile-only, runs it.
func (c *cli) runFile(m *manifest.Manifest, path string, opts *options) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(c.stderr, "Could not read file \"%s\": %v\n", path, err)
		return exitIO
	}
	source := string(data)

	if opts.tokens {
		c.dumpTokens(source)
		if !opts.compileOnly && !opts.disassemble && opts.output == "" {
			return exitOK
		}
	}

	chunk, err := compiler.Compile(source, compiler.WithDiagnostics(c.stderr))
	if err != nil {
		return exitCompile
	}
	log.Debugf("compiled %s: %d instructions", path, chunk.Len())

	if opts.disassemble {
		fmt.Fprint(c.stdout, chunk.DisassembleWithName(filepath.Base(path)))
	}
	if opts.output != "" {
		if err := vm.WriteChunkFile(opts.output, chunk); err != nil {
			fmt.Fprintf(c.stderr, "Error: %v\n", err)
			return exitIO
		}
		log.Infof("wrote %s", opts.output)
	}
	if opts.compileOnly {
		return exitOK
	}
	return c.execute(m, chunk, opts)
}

// runChunkFile loads a compiled chunk and runs it.
func (c *cli) runChunkFile(m *manifest.Manifest, path string, opts *options) int {
	chunk, err := vm.ReadChunkFile(path)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return exitIO
		}
		return exitCompile
	}
	if opts.disassemble {
		fmt.Fprint(c.stdout, chunk.DisassembleWithName(filepath.Base(path)))
	}
	if opts.compileOnly {
		return exitOK
	}
	return c.execute(m, chunk, opts)
}

// execute runs chunk, restoring and saving the --session globals around it.
func (c *cli) execute(m *manifest.Manifest, chunk *vm.Chunk, opts *options) int {
	store, globals, code := c.openSession(m, opts.session)
	if code != exitOK {
		return code
	}
	if store != nil {
		defer store.Close()
	}

	v := c.newVM(opts, globals)
	runErr := v.Run(chunk)

	if store != nil {
		if _, err := store.Save(context.Background(), opts.session, v.Globals()); err != nil {
			fmt.Fprintf(c.stderr, "Error: saving session: %v\n", err)
			if runErr == nil {
				return exitIO
			}
		}
	}
	return exitCodeFor(runErr)
}

// evalExpression compiles -e as a single expression and prints its value.
// With --session, globals changed by an assignment are saved.
func (c *cli) evalExpression(m *manifest.Manifest, opts *options) int {
	store, globals, code := c.openSession(m, opts.session)
	if code != exitOK {
		return code
	}
	if store != nil {
		defer store.Close()
	}

	v := c.newVM(opts, globals)
	value, err := v.Evaluate(opts.expr)
	if err != nil {
		return exitCodeFor(err)
	}
	fmt.Fprintln(c.stdout, value.String())

	if store != nil {
		if _, err := store.Save(context.Background(), opts.session, v.Globals()); err != nil {
			fmt.Fprintf(c.stderr, "Error: saving session: %v\n", err)
			return exitIO
		}
	}
	return exitOK
}

// openSession opens the session database and loads name's globals. An
// empty name yields no store.
func (c *cli) openSession(m *manifest.Manifest, name string) (*session.Store, map[string]vm.Value, int) {
	if name == "" {
		return nil, nil, exitOK
	}
	store, err := session.Open(m.SessionDBPath())
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return nil, nil, exitIO
	}
	globals, err := store.Load(context.Background(), name)
	switch {
	case err == nil:
		log.Infof("restored session %s (%d globals)", name, len(globals))
	case errors.Is(err, session.ErrSessionNotFound):
		log.Infof("starting new session %s", name)
	default:
		store.Close()
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return nil, nil, exitIO
	}
	return store, globals, exitOK
}

// dumpTokens prints one token per line with its source line.
func (c *cli) dumpTokens(source string) {
	line := -1
	for _, tok := range compiler.ScanAll(source, true) {
		if tok.Line != line {
			fmt.Fprintf(c.stdout, "%4d ", tok.Line)
			line = tok.Line
		} else {
			fmt.Fprint(c.stdout, "   | ")
		}
		fmt.Fprintln(c.stdout, tok.String())
	}
}

// ---------------------------------------------------------------------------
// Servers
// ---------------------------------------------------------------------------

func (c *cli) runLSP() int {
	if err := server.NewLSP().Run(); err != nil {
		fmt.Fprintf(c.stderr, "LSP error: %v\n", err)
		return exitIO
	}
	return exitOK
}

func (c *cli) runServer(m *manifest.Manifest, opts *options) int {
	addr := m.Server.Addr
	if opts.port > 0 {
		addr = fmt.Sprintf(":%d", opts.port)
	}

	var serverOpts []server.ServerOption
	store, err := session.Open(m.SessionDBPath())
	if err != nil {
		log.Warningf("sessions will not persist: %v", err)
	} else {
		defer store.Close()
		serverOpts = append(serverOpts, server.WithSessionStore(store))
	}
	if opts.trace {
		serverOpts = append(serverOpts, server.WithTrace(c.stderr))
	}

	srv := server.New(serverOpts...)
	defer srv.Stop()
	if err := srv.ListenAndServe(addr); err != nil {
		fmt.Fprintf(c.stderr, "Server error: %v\n", err)
		return exitIO
	}
	return exitOK
}
