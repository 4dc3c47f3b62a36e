// Package persist records verified results in a relational table so they
// can be queried outside of workflow checkpoints.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/dshills/aidgraph/discovery"
)

type dialect struct {
	driver string
	schema string
	upsert string
	dollar bool
}

const sinkColumns = `thread_id, result_id, run_id, title, provider, url, amount, deadline, trust_score, need_match, saved_at`

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite",
		schema: `CREATE TABLE IF NOT EXISTS verified_results (
			thread_id TEXT NOT NULL,
			result_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			title TEXT NOT NULL,
			provider TEXT NOT NULL,
			url TEXT NOT NULL,
			amount REAL NOT NULL,
			deadline TEXT,
			trust_score REAL NOT NULL,
			need_match REAL NOT NULL,
			saved_at INTEGER NOT NULL,
			PRIMARY KEY (thread_id, result_id)
		)`,
		upsert: `INSERT INTO verified_results (` + sinkColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (thread_id, result_id) DO UPDATE SET
				run_id = excluded.run_id, title = excluded.title, provider = excluded.provider,
				url = excluded.url, amount = excluded.amount, deadline = excluded.deadline,
				trust_score = excluded.trust_score, need_match = excluded.need_match,
				saved_at = excluded.saved_at`,
	},
	"postgres": {
		driver: "postgres",
		dollar: true,
		schema: `CREATE TABLE IF NOT EXISTS verified_results (
			thread_id TEXT NOT NULL,
			result_id TEXT NOT NULL,
			run_id TEXT NOT NULL,
			title TEXT NOT NULL,
			provider TEXT NOT NULL,
			url TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			deadline TEXT,
			trust_score DOUBLE PRECISION NOT NULL,
			need_match DOUBLE PRECISION NOT NULL,
			saved_at BIGINT NOT NULL,
			PRIMARY KEY (thread_id, result_id)
		)`,
		upsert: `INSERT INTO verified_results (` + sinkColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (thread_id, result_id) DO UPDATE SET
				run_id = EXCLUDED.run_id, title = EXCLUDED.title, provider = EXCLUDED.provider,
				url = EXCLUDED.url, amount = EXCLUDED.amount, deadline = EXCLUDED.deadline,
				trust_score = EXCLUDED.trust_score, need_match = EXCLUDED.need_match,
				saved_at = EXCLUDED.saved_at`,
	},
	"mysql": {
		driver: "mysql",
		schema: `CREATE TABLE IF NOT EXISTS verified_results (
			thread_id VARCHAR(255) NOT NULL,
			result_id VARCHAR(255) NOT NULL,
			run_id VARCHAR(255) NOT NULL,
			title TEXT NOT NULL,
			provider TEXT NOT NULL,
			url TEXT NOT NULL,
			amount DOUBLE NOT NULL,
			deadline VARCHAR(10),
			trust_score DOUBLE NOT NULL,
			need_match DOUBLE NOT NULL,
			saved_at BIGINT NOT NULL,
			PRIMARY KEY (thread_id, result_id)
		) ENGINE=InnoDB`,
		upsert: `INSERT INTO verified_results (` + sinkColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				run_id = VALUES(run_id), title = VALUES(title), provider = VALUES(provider),
				url = VALUES(url), amount = VALUES(amount), deadline = VALUES(deadline),
				trust_score = VALUES(trust_score), need_match = VALUES(need_match),
				saved_at = VALUES(saved_at)`,
	},
}

// SQLSink implements discovery.ResultSink. Rows are keyed by thread and
// result id, so a re-run of the same thread overwrites its earlier rows.
type SQLSink struct {
	db  *sql.DB
	d   dialect
	now func() time.Time
}

// Open connects to driver ("sqlite", "mysql" or "postgres") and creates the
// verified_results table if needed.
func Open(ctx context.Context, driver, dsn string) (*SQLSink, error) {
	name := strings.ToLower(driver)
	if name == "postgresql" {
		name = "postgres"
	}
	d, ok := dialects[name]
	if !ok {
		return nil, fmt.Errorf("unknown sink driver %q", driver)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", name, err)
	}
	if name == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s sink setup failed: %w", name, err)
	}
	return &SQLSink{db: db, d: d, now: time.Now}, nil
}

// SaveVerified upserts results in one transaction.
func (s *SQLSink) SaveVerified(ctx context.Context, threadID, runID string, results []discovery.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.q(s.d.upsert))
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	savedAt := s.now().UnixMilli()
	for _, r := range results {
		var deadline sql.NullString
		if r.Deadline != nil {
			deadline = sql.NullString{String: r.Deadline.Format(time.DateOnly), Valid: true}
		}
		_, err := stmt.ExecContext(ctx, threadID, r.ID, runID, r.Title, r.Provider, r.URL,
			r.Amount, deadline, r.TrustScore, r.NeedMatch, savedAt)
		if err != nil {
			return fmt.Errorf("failed to save result %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit results: %w", err)
	}
	return nil
}

// Verified returns the stored results of threadID ordered by result id.
func (s *SQLSink) Verified(ctx context.Context, threadID string) ([]discovery.Result, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT result_id, title, provider, url, amount, deadline, trust_score, need_match
		FROM verified_results
		WHERE thread_id = ?
		ORDER BY result_id ASC
	`), threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []discovery.Result
	for rows.Next() {
		var (
			r        discovery.Result
			deadline sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Provider, &r.URL, &r.Amount, &deadline, &r.TrustScore, &r.NeedMatch); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if deadline.Valid {
			if d, err := time.Parse(time.DateOnly, deadline.String); err == nil {
				r.Deadline = &d
			}
		}
		r.Verified = true
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLSink) Close() error {
	return s.db.Close()
}

func (s *SQLSink) q(query string) string {
	if !s.d.dollar {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
