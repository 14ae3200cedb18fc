package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/bytelox/compiler"
	"github.com/chazu/bytelox/session"
	"github.com/chazu/bytelox/vm"
)

// ErrUnknownSession is returned for session IDs that were never created or
// have been destroyed.
var ErrUnknownSession = errors.New("unknown session")

// Session is an interpreter whose globals survive across evaluations.
// Its VM must only be touched from the VMWorker goroutine.
type Session struct {
	ID      string
	Name    string
	VM      *vm.VM
	Created time.Time
}

// SessionStore manages live sessions and, when a session.Store is attached,
// persists their globals by name.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	store    *session.Store
}

// NewSessionStore creates a new session store. store may be nil, in which
// case sessions live only in memory.
func NewSessionStore(store *session.Store) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		store:    store,
	}
}

func newSessionVM(globals map[string]vm.Value) *vm.VM {
	return vm.New(
		vm.WithCompiler(compiler.Backend{}),
		vm.WithStdout(io.Discard),
		vm.WithStderr(io.Discard),
		vm.WithGlobals(globals),
	)
}

// Create creates a new session with an optional name. A named session whose
// globals were saved earlier starts with those globals.
func (s *SessionStore) Create(ctx context.Context, name string) (*Session, error) {
	var globals map[string]vm.Value
	if name != "" && s.store != nil {
		saved, err := s.store.Load(ctx, name)
		switch {
		case err == nil:
			globals = saved
			log.Infof("restored session %s (%d globals)", name, len(saved))
		case errors.Is(err, session.ErrSessionNotFound):
		default:
			return nil, fmt.Errorf("restoring session %s: %w", name, err)
		}
	}

	sess := &Session{
		ID:      uuid.NewString(),
		Name:    name,
		VM:      newSessionVM(globals),
		Created: time.Now(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess, nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	return sess, ok
}

// Destroy removes a session. It reports whether the session existed.
func (s *SessionStore) Destroy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// List returns the live sessions ordered by creation time.
func (s *SessionStore) List() []*Session {
	s.mu.RLock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Persistent reports whether saved sessions are backed by a database.
func (s *SessionStore) Persistent() bool { return s.store != nil }

// Save writes the given globals under the session's name. The caller is
// responsible for snapshotting globals on the worker goroutine.
func (s *SessionStore) Save(ctx context.Context, sess *Session, globals map[string]vm.Value) error {
	if s.store == nil {
		return errors.New("no session database configured")
	}
	if sess.Name == "" {
		return errors.New("only named sessions can be saved")
	}
	_, err := s.store.Save(ctx, sess.Name, globals)
	return err
}
