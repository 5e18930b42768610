package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pairmsg/pairmsg/internal/bus"
	"github.com/pairmsg/pairmsg/internal/keylock"
)

// DB wraps the SQLite connection holding the app-owned pairmsg.db,
// together with the per-key write locks and the change bus the watch
// methods publish on.
type DB struct {
	*sql.DB

	bus   *bus.Bus
	locks *keylock.KeyLock
}

// Open creates a new SQLite connection with WAL mode and recommended
// pragmas. Change notifications are published on b.
func Open(path string, b *bus.Bus) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Verify connection.
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, bus: b, locks: keylock.New()}, nil
}
