package store

import (
	"fmt"
	"strings"
)

// Open returns the backend named by driver. dsn is the SQLite path, the
// MySQL or PostgreSQL DSN, or the FileStore directory; it is ignored for the
// memory driver.
//
// Supported drivers: "memory", "sqlite", "mysql", "postgres", "file".
func Open[S any](driver, dsn string) (Store[S], error) {
	switch strings.ToLower(driver) {
	case "memory", "mem":
		return NewMemStore[S](), nil
	case "sqlite", "sqlite3":
		if dsn == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		return NewSQLiteStore[S](dsn)
	case "mysql":
		return NewMySQLStore[S](dsn)
	case "postgres", "postgresql":
		return NewPostgresStore[S](dsn)
	case "file":
		if dsn == "" {
			return nil, fmt.Errorf("file store requires a directory")
		}
		return NewFileStore[S](dsn)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
