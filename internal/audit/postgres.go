package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
	CREATE TABLE IF NOT EXISTS redaction_audit (
		id              BIGSERIAL PRIMARY KEY,
		session_id      TEXT NOT NULL DEFAULT '',
		source          TEXT NOT NULL,
		redaction_count INTEGER NOT NULL,
		types           TEXT[] NOT NULL DEFAULT '{}',
		region          TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// PostgresRecorder writes audit entries to PostgreSQL
type PostgresRecorder struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresRecorder connects to the database and ensures the audit table exists
func NewPostgresRecorder(config Config, logger *zap.Logger) (*PostgresRecorder, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	recorder := &PostgresRecorder{db: db, logger: logger}

	if err := recorder.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	logger.Info("Audit recorder initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns))

	return recorder, nil
}

func (r *PostgresRecorder) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	return nil
}

// Record inserts an entry and fills in its ID
func (r *PostgresRecorder) Record(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO redaction_audit (session_id, source, redaction_count, types, region, created_at)
		VALUES (:session_id, :source, :redaction_count, :types, :region, :created_at)
		RETURNING id`

	rows, err := r.db.NamedQueryContext(ctx, query, entry)
	if err != nil {
		r.logger.Error("Failed to record audit entry",
			zap.String("source", entry.Source),
			zap.Error(err))
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&entry.ID); err != nil {
			return fmt.Errorf("failed to read audit entry id: %w", err)
		}
	}
	return rows.Err()
}

// Recent returns the newest entries, newest first
func (r *PostgresRecorder) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	query := `
		SELECT id, session_id, source, redaction_count, types, region, created_at
		FROM redaction_audit
		ORDER BY created_at DESC
		LIMIT $1`
	if err := r.db.SelectContext(ctx, &entries, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// GetStats returns totals over the audit log
func (r *PostgresRecorder) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	query := `
		SELECT
			COUNT(*) AS total_runs,
			COALESCE(SUM(redaction_count), 0) AS total_redactions
		FROM redaction_audit`
	if err := r.db.GetContext(ctx, stats, query); err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}
	return stats, nil
}

// Close closes the database connection
func (r *PostgresRecorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userinfo := url[:at]
	colon := strings.LastIndex(userinfo, ":")
	scheme := strings.Index(userinfo, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userinfo[:colon+1] + "***" + url[at:]
}
