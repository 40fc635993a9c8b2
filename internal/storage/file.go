// Package storage implements the ledger persistence backends.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"bookkeeper/internal/core"
)

const documentVersion = 1

type document struct {
	Version int `json:"version"`
	core.State
}

// FilePersister keeps the ledger as one JSON document. Saves go through a
// temporary file that is synced and renamed over the target.
type FilePersister struct {
	path string
}

// NewFilePersister returns a persister for path, creating its directory.
func NewFilePersister(path string) (*FilePersister, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FilePersister{path: path}, nil
}

// Path is the document location.
func (p *FilePersister) Path() string { return p.path }

// Load reads the document, or core.ErrNoState if it does not exist.
func (p *FilePersister) Load(ctx context.Context) (core.State, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return core.State{}, core.ErrNoState
	}
	if err != nil {
		return core.State{}, fmt.Errorf("read state file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return core.State{}, fmt.Errorf("decode state file %s: %w", p.path, err)
	}
	if doc.Version > documentVersion {
		return core.State{}, fmt.Errorf("state file version %d is newer than supported %d", doc.Version, documentVersion)
	}
	return doc.State, nil
}

// Save writes the document atomically.
func (p *FilePersister) Save(ctx context.Context, st core.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(document{Version: documentVersion, State: st}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		cleanup()
		return fmt.Errorf("replace state file: %w", err)
	}

	// Persist the rename itself. Not every platform can sync a directory.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

// Close is a no-op; the file is only open during Save.
func (p *FilePersister) Close() error { return nil }
