package commands

import (
	"database/sql"
	"strings"

	"github.com/teranos/cadence/am"
	"github.com/teranos/cadence/db"
	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
	"github.com/teranos/cadence/pulse/store"
)

// DatabasePath overrides database.path when set by the --db flag
var DatabasePath string

// openDatabase opens and migrates the job store named by --db or the configuration.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	dbPath := DatabasePath
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}

// openStore opens the job store with the builtin handlers registered.
func openStore(cfg *am.Config) (*sql.DB, *store.Store, error) {
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	handlers := store.NewHandlerRegistry()
	store.RegisterBuiltins(handlers, logger.Logger)
	return database, store.NewStore(database, handlers, nil, logger.Logger), nil
}

// Hints returns the user-facing hints attached to err, one per line.
func Hints(err error) string {
	hints := errors.GetAllHints(err)
	if len(hints) == 0 {
		return ""
	}
	return "hint: " + strings.Join(hints, "\nhint: ")
}
