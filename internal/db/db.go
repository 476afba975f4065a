// Package db opens the sqlite databases holding sync state.
package db

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftsync/internal/utils"
)

const memoryDSN = ":memory:"

// sync records are written in bursts during a refresh; WAL keeps readers unblocked
var filePragmas = []string{
	"journal_mode=WAL",
	"busy_timeout=5000",
	"synchronous=NORMAL",
}

var commonPragmas = []string{
	"temp_store=MEMORY",
	"cache_size=8000",
}

type sqlDriver struct {
	id   string
	name string
}

// Driver names the sqlite implementation compiled in.
func Driver() string {
	return driver.id
}

// OpenStateDB opens the sync state database at path, creating the file and
// its folder when missing. An empty path opens a private in-memory database.
//
// The handle holds a single connection: record stores serialize their writes
// through it, and every connection to ":memory:" would be a distinct database.
func OpenStateDB(path string) (*sqlx.DB, error) {
	dsn := memoryDSN
	pragmas := commonPragmas
	if path != "" {
		if err := utils.EnsureParent(path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", path)
		pragmas = append(append([]string(nil), filePragmas...), commonPragmas...)
	}

	slog.Debug("db", "driver", driver.id, "path", path)
	db, err := sqlx.Connect(driver.name, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(pragmaSQL(pragmas)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}

// OpenMemory is OpenStateDB without a file.
func OpenMemory() (*sqlx.DB, error) {
	return OpenStateDB("")
}

func pragmaSQL(pragmas []string) string {
	var b strings.Builder
	for _, p := range pragmas {
		fmt.Fprintf(&b, "PRAGMA %s;\n", p)
	}
	return b.String()
}
