// Package server exposes the interpreter over Connect (HTTP/JSON and binary
// protobuf) and the Language Server Protocol.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/bytelox/compiler"
	"github.com/chazu/bytelox/session"
	"github.com/chazu/bytelox/vm"
)

var log = commonlog.GetLogger("bytelox.server")

// Server is the evaluation server. All interpreter work is funnelled through
// one VMWorker.
type Server struct {
	worker   *VMWorker
	sessions *SessionStore
	mux      *http.ServeMux
	http     *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

type serverConfig struct {
	store *session.Store
	trace io.Writer
}

// WithSessionStore persists named sessions in store.
func WithSessionStore(store *session.Store) ServerOption {
	return func(c *serverConfig) { c.store = store }
}

// WithTrace traces every instruction the scratch VM executes.
func WithTrace(w io.Writer) ServerOption {
	return func(c *serverConfig) { c.trace = w }
}

// New creates a Server with its own scratch VM.
func New(opts ...ServerOption) *Server {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	scratch := vm.New(
		vm.WithCompiler(compiler.Backend{}),
		vm.WithStdout(io.Discard),
		vm.WithStderr(io.Discard),
		vm.WithTrace(cfg.trace),
	)

	worker := NewVMWorker(scratch)
	sessions := NewSessionStore(cfg.store)

	s := &Server{
		worker:   worker,
		sessions: sessions,
		mux:      http.NewServeMux(),
	}

	evalPath, evalHandler := NewEvalServiceHandler(NewEvalService(worker, sessions))
	s.mux.Handle(evalPath, evalHandler)

	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler { return s.mux }

// Sessions returns the live session table.
func (s *Server) Sessions() *SessionStore { return s.sessions }

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Noticef("listening on %s", addr)
	fmt.Printf("bytelox server listening on %s\n", addr)
	fmt.Printf("  Connect (HTTP/JSON): http://%s%s\n", addr, EvalServiceEvaluateProcedure)

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts down the HTTP server, if running, and the worker.
func (s *Server) Stop() {
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			log.Warningf("shutdown: %v", err)
		}
	}
	s.worker.Stop()
}
