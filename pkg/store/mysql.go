package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"calldash-server/pkg/config"
)

// MySQLDatabase represents a MySQL database connection
type MySQLDatabase struct {
	db     *sql.DB
	config config.DatabaseConfig
	logger *logrus.Logger
}

// NewMySQLDatabase creates a new MySQL database connection
func NewMySQLDatabase(cfg config.DatabaseConfig, logger *logrus.Logger) (*MySQLDatabase, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		cfg.Username,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Database,
	)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	mysql := &MySQLDatabase{
		db:     db,
		config: cfg,
		logger: logger,
	}

	logger.WithFields(logrus.Fields{
		"host":     cfg.Host,
		"port":     cfg.Port,
		"database": cfg.Database,
	}).Info("Connected to MySQL database")

	return mysql, nil
}

// Close closes the database connection
func (m *MySQLDatabase) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Health checks database health
func (m *MySQLDatabase) Health() error {
	ctx, cancel := m.getContext()
	defer cancel()

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Migrate runs database migrations
func (m *MySQLDatabase) Migrate() error {
	migrations := []string{
		createCallTranscriptsTable,
		createCallSummariesTable,
		createKeywordTrendsTable,
		createSentimentTrendsTable,
	}

	for i, migration := range migrations {
		m.logger.WithField("migration", i+1).Debug("Running migration")

		if _, err := m.db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	m.logger.Info("Database migrations completed successfully")
	return nil
}

// ListColumns returns the current column set of a table. Used by the
// capability probe to detect schema versions that lag the application.
func (m *MySQLDatabase) ListColumns(ctx context.Context, table string) ([]string, error) {
	query := `
		SELECT column_name FROM information_schema.columns
		WHERE table_schema = DATABASE() AND table_name = ?
	`

	rows, err := m.db.QueryContext(ctx, query, table)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns for %s: %w", table, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan column name: %w", err)
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// getContext returns a context with the configured query timeout
func (m *MySQLDatabase) getContext() (context.Context, context.CancelFunc) {
	timeout := m.config.QueryTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// Database schema definitions
const createCallTranscriptsTable = `
CREATE TABLE IF NOT EXISTS call_transcripts (
    id VARCHAR(36) PRIMARY KEY,
    owner_id VARCHAR(64) NOT NULL,
    text MEDIUMTEXT NOT NULL,
    duration_seconds BIGINT NOT NULL DEFAULT 0,
    sentiment ENUM('positive', 'neutral', 'negative') NOT NULL DEFAULT 'neutral',
    keywords JSON NULL,
    call_score DECIMAL(5,2) NULL,
    speaker_segments JSON NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    INDEX idx_owner_id (owner_id),
    INDEX idx_sentiment (sentiment),
    INDEX idx_created_at (created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createCallSummariesTable = `
CREATE TABLE IF NOT EXISTS call_summaries (
    id VARCHAR(36) PRIMARY KEY,
    agent_sentiment_score DECIMAL(3,2) NOT NULL DEFAULT 0.50,
    customer_sentiment_score DECIMAL(3,2) NOT NULL DEFAULT 0.50,
    agent_talk_ratio DECIMAL(5,2) NOT NULL DEFAULT 50.00,
    customer_talk_ratio DECIMAL(5,2) NOT NULL DEFAULT 50.00,
    report_date TIMESTAMP NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    INDEX idx_report_date (report_date)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createKeywordTrendsTable = `
CREATE TABLE IF NOT EXISTS keyword_trends (
    keyword VARCHAR(100) NOT NULL,
    category ENUM('positive', 'neutral', 'negative', 'general') NOT NULL DEFAULT 'general',
    occurrences BIGINT NOT NULL DEFAULT 1,
    last_used_at TIMESTAMP NOT NULL,
    PRIMARY KEY (keyword, category),
    INDEX idx_occurrences (occurrences),
    INDEX idx_last_used_at (last_used_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`

const createSentimentTrendsTable = `
CREATE TABLE IF NOT EXISTS sentiment_trends (
    id VARCHAR(36) PRIMARY KEY,
    owner_id VARCHAR(64) NOT NULL,
    sentiment ENUM('positive', 'neutral', 'negative') NOT NULL,
    confidence DECIMAL(3,2) NOT NULL,
    recorded_at TIMESTAMP NOT NULL,
    INDEX idx_owner_id (owner_id),
    INDEX idx_recorded_at (recorded_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`
