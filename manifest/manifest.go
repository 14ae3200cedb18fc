// Package manifest handles bytelox.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "bytelox.toml"

// Defaults applied when a key is absent.
const (
	DefaultSessionDB  = ".bytelox/sessions.db"
	DefaultServerAddr = ":4567"
)

// Manifest represents a bytelox.toml project configuration.
type Manifest struct {
	Project Project       `toml:"project"`
	Source  Source        `toml:"source"`
	VM      VMConfig      `toml:"vm"`
	REPL    REPLConfig    `toml:"repl"`
	Session SessionConfig `toml:"session"`
	Server  ServerConfig  `toml:"server"`
	Log     LogConfig     `toml:"log"`

	// Dir is the directory containing the bytelox.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures the script run when no path is given.
type Source struct {
	Entry string `toml:"entry"`
}

// VMConfig configures the virtual machine.
type VMConfig struct {
	Trace bool `toml:"trace"`
}

// REPLConfig configures the interactive loop.
type REPLConfig struct {
	PersistGlobals bool `toml:"persist-globals"`
	Plain          bool `toml:"plain"`
}

// SessionConfig configures saved sessions.
type SessionConfig struct {
	DB string `toml:"db"`
}

// ServerConfig configures the eval server.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the configuration used when no manifest exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.REPL.PersistGlobals = true
	m.applyDefaults()
	return m
}

// Load parses a bytelox.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", path, undecoded[0].String())
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Globals persist in the REPL unless switched off explicitly.
	if !md.IsDefined("repl", "persist-globals") {
		m.REPL.PersistGlobals = true
	}
	m.applyDefaults()

	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Session.DB == "" {
		m.Session.DB = DefaultSessionDB
	}
	if m.Server.Addr == "" {
		m.Server.Addr = DefaultServerAddr
	}
}

// FindAndLoad walks up from startDir to find a bytelox.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// resolve makes p absolute relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// EntryPath returns the absolute path of the entry script, or "".
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Source.Entry)
}

// SessionDBPath returns the absolute path of the session database.
func (m *Manifest) SessionDBPath() string {
	return m.resolve(m.Session.DB)
}

// LogFilePath returns the absolute log file path, or "" for stderr.
func (m *Manifest) LogFilePath() string {
	return m.resolve(m.Log.File)
}
