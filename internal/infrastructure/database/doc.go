// Package database provides the SQLite store behind the Nuki bridge's
// lock event history.
//
// The package manages:
//   - Opening the database file with WAL mode and a busy timeout
//   - A single-connection pool (SQLite has one writer)
//   - Versioned .up.sql/.down.sql migrations tracked in schema_migrations
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive. New columns must be nullable or carry a default
// so an older binary can still read the table.
package database
