package kvstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/erigontech/mdbx-go/mdbx"
	"github.com/gofrs/flock"

	"github.com/kvgraph/triplestore/internal/errs"
)

// Options configure Env.Open.
type Options struct {
	// Path is the store directory. Must be an absolute or relative
	// path with no ".." traversal segments (Design Note "Path safety").
	Path string
	// Root optionally constrains Path to live under Root; if set, Open
	// rejects any Path that resolves outside Root.
	Root string
	// MapSize is the maximum size MDBX will grow the backing file to.
	MapSize int64
	// ReadOnly opens the environment without acquiring the write lock.
	ReadOnly bool
}

func (o Options) validate() error {
	if o.Path == "" {
		return errs.New(errs.ConfigError, "kvstore.open", "path must not be empty")
	}
	clean := filepath.Clean(o.Path)
	if strings.Contains(clean, "..") {
		return errs.New(errs.ConfigError, "kvstore.open", "path must not contain traversal segments")
	}
	if o.Root != "" {
		absRoot, err := filepath.Abs(o.Root)
		if err != nil {
			return errs.Wrap(errs.ConfigError, "kvstore.open", "invalid root", err)
		}
		absPath, err := filepath.Abs(o.Path)
		if err != nil {
			return errs.Wrap(errs.ConfigError, "kvstore.open", "invalid path", err)
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil || strings.HasPrefix(rel, "..") {
			return errs.New(errs.ConfigError, "kvstore.open", "path escapes configured root")
		}
	}
	if o.MapSize < 0 {
		return errs.New(errs.ConfigError, "kvstore.open", "mapSize must be non-negative")
	}
	return nil
}

// Env owns the MDBX environment and one DBI per column family, plus a
// directory lock guarding concurrent opens from other processes — the
// erigon equivalent is the implicit lock MDBX itself takes on its lock
// file; we add an explicit gofrs/flock so the "already open elsewhere"
// failure surfaces as a clean resource_error rather than an MDBX panic.
type Env struct {
	opts  Options
	env   *mdbx.Env
	dbis  map[string]mdbx.DBI
	lock  *flock.Flock
	closed bool
}

// Open creates the store directory if needed, takes the directory
// lock, opens the MDBX environment, and creates/opens every table in
// cfg. Mirrors erigon's environment-open + TablesCfgByLabel sequence.
func Open(opts Options, cfg TableCfg) (*Env, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if !opts.ReadOnly {
		if err := os.MkdirAll(opts.Path, 0o755); err != nil {
			return nil, errs.Wrap(errs.ResourceError, "kvstore.open", "creating store directory", err)
		}
	}

	lockPath := filepath.Join(opts.Path, "LOCK")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errs.Wrap(errs.ResourceError, "kvstore.open", "acquiring directory lock", err)
	}
	if !locked {
		return nil, errs.New(errs.ResourceError, "kvstore.open", "store directory already open by another process")
	}

	env, err := mdbx.NewEnv()
	if err != nil {
		_ = fl.Unlock()
		return nil, errs.Wrap(errs.ResourceError, "kvstore.open", "creating mdbx env", err)
	}
	if err := env.SetOption(mdbx.OptMaxDB, uint64(len(AllTables))); err != nil {
		_ = fl.Unlock()
		return nil, errs.Wrap(errs.ResourceError, "kvstore.open", "configuring mdbx", err)
	}
	if opts.MapSize > 0 {
		if err := env.SetGeometry(-1, -1, int(opts.MapSize), -1, -1, -1); err != nil {
			_ = fl.Unlock()
			return nil, errs.Wrap(errs.ResourceError, "kvstore.open", "setting mdbx geometry", err)
		}
	}

	flags := uint(mdbx.NoTLS)
	if opts.ReadOnly {
		flags |= mdbx.Readonly
	}
	if err := env.Open(opts.Path, flags, 0o644); err != nil {
		_ = fl.Unlock()
		return nil, errs.Wrap(errs.ResourceError, "kvstore.open", "opening mdbx environment", err)
	}

	e := &Env{opts: opts, env: env, dbis: make(map[string]mdbx.DBI, len(AllTables)), lock: fl}
	if err := e.ensureTables(cfg); err != nil {
		_ = env.Close()
		_ = fl.Unlock()
		return nil, err
	}
	return e, nil
}

func (e *Env) ensureTables(cfg TableCfg) error {
	return e.env.Update(func(txn *mdbx.Txn) error {
		for _, name := range AllTables {
			item := cfg[name]
			flags := uint(mdbx.Create)
			if item.Flags&DupSort != 0 {
				flags |= mdbx.DupSort
			}
			dbi, err := txn.OpenDBISimple(name, flags)
			if err != nil {
				return fmt.Errorf("open table %s: %w", name, err)
			}
			e.dbis[name] = dbi
		}
		return nil
	})
}

// DBI returns the table handle for name; callers never create DBIs
// directly (spec.md §5 "KV column-family handles: shared by reference").
func (e *Env) DBI(name string) (mdbx.DBI, bool) {
	d, ok := e.dbis[name]
	return d, ok
}

// Close releases the environment and the directory lock. Idempotent,
// matching the already_closed policy in spec.md §7 ("idempotent close
// returns ok").
func (e *Env) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.env.Close()
	return e.lock.Unlock()
}

func (e *Env) MDBX() *mdbx.Env { return e.env }
