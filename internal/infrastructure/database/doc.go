// Package database opens the SQLite file that holds sync history and
// applies its schema migrations.
//
// Connections use go-sqlite3 with a busy timeout, foreign keys on and,
// when configured, WAL journaling. The file is created with mode 0600.
//
// Migrations are plain SQL files named YYYYMMDD_HHMMSS_name.up.sql, with
// an optional .down.sql partner, read from any fs.FS:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry a default.
package database
