package persistence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/kvgribko/jobsched/internal/scheduler"
)

// ErrSnapshotNotFound is returned when a named snapshot or state file does not exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// StateStore saves and loads one scheduler snapshot.
type StateStore interface {
	SaveState(ctx context.Context, st scheduler.State) error
	LoadState(ctx context.Context) (scheduler.State, error)
}

// CodecFor picks a codec from a file extension: .yaml and .yml use YAML,
// everything else JSON.
func CodecFor(path string) scheduler.StateCodec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLCodec{}
	default:
		return JSONCodec{}
	}
}

// FileStore keeps a snapshot in a single file.
type FileStore struct {
	Path string
}

// NewFileStore creates a store for path.
func NewFileStore(path string) *FileStore {
	return &FileStore{Path: path}
}

// SaveState writes the snapshot atomically: it is encoded into a temporary
// file in the same directory which then replaces Path.
func (f *FileStore) SaveState(_ context.Context, st scheduler.State) error {
	data, err := CodecFor(f.Path).EncodeState(st)
	if err != nil {
		return &scheduler.SerializationError{Op: "encode", Err: err}
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// LoadState reads and decodes the snapshot. A missing file yields
// ErrSnapshotNotFound; a malformed one a *scheduler.SerializationError.
func (f *FileStore) LoadState(_ context.Context) (scheduler.State, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return scheduler.State{}, fmt.Errorf("%w: %s", ErrSnapshotNotFound, f.Path)
	}
	if err != nil {
		return scheduler.State{}, fmt.Errorf("failed to read state file: %w", err)
	}

	st, err := CodecFor(f.Path).DecodeState(data)
	if err != nil {
		return scheduler.State{}, &scheduler.SerializationError{Op: "decode", Err: fmt.Errorf("%s: %w", f.Path, err)}
	}
	return st, nil
}
