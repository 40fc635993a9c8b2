package storage

import (
	"context"
	"fmt"

	"bookkeeper/internal/core"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Backend is a ledger persister that holds resources.
type Backend interface {
	Load(ctx context.Context) (core.State, error)
	Save(ctx context.Context, state core.State) error
	Close() error
}

// Options selects and locates a backend.
type Options struct {
	Backend    string
	FilePath   string
	SQLitePath string
}

// Open returns the configured backend.
func Open(opts Options) (Backend, error) {
	switch opts.Backend {
	case BackendFile, "":
		p, err := NewFilePersister(opts.FilePath)
		if err != nil {
			return nil, err
		}
		return p, nil
	case BackendSQLite:
		p, err := NewSQLitePersister(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return p, nil
	case BackendMemory:
		return NewMemoryPersister(), nil
	default:
		return nil, fmt.Errorf("unknown data backend %q", opts.Backend)
	}
}
