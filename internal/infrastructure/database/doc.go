// Package database opens the SQLite file that backs the command audit trail.
//
// The bridge keeps no device state on disk; the only table it owns is the
// audit log, created through embedded, versioned migrations.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Audit.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
package database
