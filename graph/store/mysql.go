package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS aidgraph_checkpoints (
			thread_id VARCHAR(255) NOT NULL PRIMARY KEY,
			run_id VARCHAR(255) NOT NULL,
			state JSON NOT NULL,
			next_node VARCHAR(255) NOT NULL,
			last_node VARCHAR(255) NOT NULL,
			suspended BOOLEAN NOT NULL DEFAULT FALSE,
			interrupt_payload JSON NULL,
			run_flags TEXT NULL,
			commit_source VARCHAR(32) NOT NULL,
			step INT NOT NULL,
			version BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS aidgraph_history (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			thread_id VARCHAR(255) NOT NULL,
			version BIGINT NOT NULL,
			run_id VARCHAR(255) NOT NULL,
			step INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			next_node VARCHAR(255) NOT NULL,
			commit_source VARCHAR(32) NOT NULL,
			suspended BOOLEAN NOT NULL DEFAULT FALSE,
			committed_at BIGINT NOT NULL,
			INDEX idx_history_thread (thread_id),
			UNIQUE KEY unique_thread_version (thread_id, version)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	insertCheckpoint: `
		INSERT IGNORE INTO aidgraph_checkpoints (` + checkpointColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
}

// MySQLStore is a MySQL/MariaDB implementation of Store[S].
//
// Designed for:
//   - Production deployments requiring persistence
//   - Several worker processes sharing one database
//   - Runs that survive process restarts
//
// Cross-process safety comes from the version compare-and-swap in Save.
//
// Type parameter S is the state type to persist (must be JSON-serializable).
type MySQLStore[S any] struct {
	*sqlStore[S]
}

// NewMySQLStore creates a new MySQL-backed store and runs Setup.
//
// The DSN (Data Source Name) format is:
//
//	[username[:password]@][protocol[(address)]]/dbname[?param1=value1&...&paramN=valueN]
//
// Security Warning:
//
//	NEVER hardcode credentials in your source code. Use environment variables:
//	    dsn := os.Getenv("AIDGRAPH_STORE_DSN")
//
// Example:
//
//	st, err := NewMySQLStore[MyState]("user:pass@tcp(localhost:3306)/aidgraph")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer st.Close()
func NewMySQLStore[S any](dsn string) (*MySQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxOpenConns(25)                  // Maximum open connections
	db.SetMaxIdleConns(5)                   // Keep idle connections for reuse
	db.SetConnMaxLifetime(5 * time.Minute)  // Max connection lifetime (prevent stale connections)
	db.SetConnMaxIdleTime(10 * time.Minute) // Max idle time before closing

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	st := &MySQLStore[S]{sqlStore: newSQLStore[S](db, mysqlDialect)}
	if err := st.Setup(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}
