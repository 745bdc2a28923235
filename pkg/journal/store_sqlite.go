//go:build !cgo

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"
)

const driverLibsql = "libsql"

func init() {
	registered := false
	for _, name := range sql.Drivers() {
		if name == driverLibsql {
			registered = true
			break
		}
	}
	if !registered {
		sql.Register(driverLibsql, &sqlite.Driver{})
	}
}

// openDB opens a local SQLite journal using the pure-Go driver.
// Remote libsql URLs require a cgo-enabled build.
func openDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "https://") {
		return nil, fmt.Errorf("journal at %q: libsql URL requires cgo-enabled build", dsn)
	}

	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if err := configureLocalSQLite(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}

	return db, nil
}
