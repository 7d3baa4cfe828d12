package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/kvgribko/jobsched/internal/config"
	"github.com/kvgribko/jobsched/internal/persistence"
)

var errNoStorage = errors.New("no snapshot storage configured (use --state or --db)")

// storageFlags select where snapshots live. Flags win over the storage
// section of the config; --db wins over --state.
type storageFlags struct {
	statePath string
	dbPath    string
	snapshot  string
}

func (f *storageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.statePath, "state", "", "State file (.json, .yaml or .yml)")
	cmd.Flags().StringVar(&f.dbPath, "db", "", "SQLite database holding named snapshots")
	cmd.Flags().StringVar(&f.snapshot, "snapshot", "", "Snapshot name inside --db (default from config, else \"default\")")
}

// storage is an opened snapshot store. db is set for the SQLite driver.
type storage struct {
	store persistence.StateStore
	db    *persistence.SQLiteStore
	where string
}

func (s *storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// open resolves the flags against cfg. It returns errNoStorage when neither
// names a store.
func (f *storageFlags) open(ctx context.Context, cfg *config.Config) (*storage, error) {
	driver, path, snapshot := config.DriverNone, "", "default"
	if cfg != nil {
		driver, path = cfg.Storage.Driver, cfg.Storage.Path
		if cfg.Storage.Snapshot != "" {
			snapshot = cfg.Storage.Snapshot
		}
	}
	switch {
	case f.dbPath != "":
		driver, path = config.DriverSQLite, f.dbPath
	case f.statePath != "":
		driver, path = config.DriverFile, f.statePath
	}
	if f.snapshot != "" {
		snapshot = f.snapshot
	}

	switch driver {
	case config.DriverFile:
		return &storage{store: persistence.NewFileStore(path), where: path}, nil
	case config.DriverSQLite:
		db, err := persistence.NewSQLiteStore(ctx, path)
		if err != nil {
			return nil, err
		}
		return &storage{store: db.Snapshot(snapshot), db: db, where: path + "#" + snapshot}, nil
	default:
		return nil, errNoStorage
	}
}

// openDB opens the SQLite database named by --db or the config.
func (f *storageFlags) openDB(ctx context.Context, cfg *config.Config) (*persistence.SQLiteStore, error) {
	path := f.dbPath
	if path == "" && cfg != nil && cfg.Storage.Driver == config.DriverSQLite {
		path = cfg.Storage.Path
	}
	if path == "" {
		return nil, errors.New("no SQLite database configured (use --db)")
	}
	return persistence.NewSQLiteStore(ctx, path)
}
