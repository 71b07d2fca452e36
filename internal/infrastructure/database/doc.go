// Package database provides SQLite connectivity for the PowerLogic device store.
//
// It manages the connection (WAL mode, busy timeout, single writer) and
// applies the embedded schema migrations. The device registry and the
// diagnostic audit log both live in this database.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrations are named YYYYMMDD_HHMMSS_description.up.sql and each runs in
// its own transaction. The .down.sql files beside them are for manual
// rollback only.
package database
