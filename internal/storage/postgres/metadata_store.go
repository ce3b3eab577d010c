// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/docs-archiver/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MetadataStoreConfig controls the Postgres connection pool used for
// metadata rows.
type MetadataStoreConfig struct {
	DSN string
	// TablePrefix is prepended to every table name, for shared databases.
	TablePrefix     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// MetadataStore implements store.MetadataRepository on Postgres.
type MetadataStore struct {
	pool   querier
	tables metadataTables
}

type metadataTables struct {
	titles      string
	sections    string
	failedLinks string
	runs        string
}

func resolveTables(prefix string) (metadataTables, error) {
	t := metadataTables{
		titles:      prefix + "article_titles",
		sections:    prefix + "section_structure",
		failedLinks: prefix + "failed_links",
		runs:        prefix + "runs",
	}
	for _, name := range []string{t.titles, t.sections, t.failedLinks, t.runs} {
		if !validTableName.MatchString(name) {
			return metadataTables{}, fmt.Errorf("invalid table name %q", name)
		}
	}
	return t, nil
}

// NewMetadataStore creates a Postgres-backed MetadataStore using the provided config.
func NewMetadataStore(ctx context.Context, cfg MetadataStoreConfig) (*MetadataStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	tables, err := resolveTables(cfg.TablePrefix)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &MetadataStore{pool: pool, tables: tables}, nil
}

// NewMetadataStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewMetadataStoreWithPool(pool querier, tablePrefix string) (*MetadataStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables, err := resolveTables(tablePrefix)
	if err != nil {
		return nil, err
	}
	return &MetadataStore{pool: pool, tables: tables}, nil
}

// Close releases the underlying pool resources.
func (s *MetadataStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveArticleTitle records the title extracted for a page, replacing any
// previous value.
func (s *MetadataStore) SaveArticleTitle(ctx context.Context, pageURL, title string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("metadata store is not configured")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (page_url, title, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (page_url) DO UPDATE
		SET title = EXCLUDED.title, updated_at = EXCLUDED.updated_at;
	`, s.tables.titles)
	if _, err := s.pool.Exec(ctx, query, pageURL, title, time.Now().UTC()); err != nil {
		return fmt.Errorf("save article title: %w", err)
	}
	return nil
}

// SaveSectionStructure replaces the recorded section hierarchy. The whole
// structure lives in one JSONB row so replacement stays atomic.
func (s *MetadataStore) SaveSectionStructure(ctx context.Context, sections []store.Section) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("metadata store is not configured")
	}
	if sections == nil {
		sections = []store.Section{}
	}
	payload, err := json.Marshal(sections)
	if err != nil {
		return fmt.Errorf("marshal sections: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, sections, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE
		SET sections = EXCLUDED.sections, updated_at = EXCLUDED.updated_at;
	`, s.tables.sections)
	if _, err := s.pool.Exec(ctx, query, payload, time.Now().UTC()); err != nil {
		return fmt.Errorf("save section structure: %w", err)
	}
	return nil
}

// LogFailedLink appends a failure record.
func (s *MetadataStore) LogFailedLink(ctx context.Context, link store.FailedLink) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("metadata store is not configured")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (url, reason, category, occurred_at)
		VALUES ($1, $2, $3, $4);
	`, s.tables.failedLinks)
	if _, err := s.pool.Exec(ctx, query, link.URL, link.Reason, link.Category, link.OccurredAt); err != nil {
		return fmt.Errorf("log failed link: %w", err)
	}
	return nil
}

// StartRun inserts or refreshes a run in the running state.
func (s *MetadataStore) StartRun(ctx context.Context, run store.RunSummary) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("metadata store is not configured")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET started_at = EXCLUDED.started_at, status = EXCLUDED.status,
		    finished_at = NULL, error_message = NULL;
	`, s.tables.runs)
	if _, err := s.pool.Exec(ctx, query, run.ID, run.StartedAt, store.RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with its final status and counts.
func (s *MetadataStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	counts store.RunCounts,
	errMsg *string,
) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("metadata store is not configured")
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, succeeded = $3, failed = $4, skipped = $5, error_message = $6
		WHERE id = $7;
	`, s.tables.runs)
	res, err := s.pool.Exec(ctx, query, finishedAt, status, counts.Succeeded, counts.Failed, counts.Skipped, errMsg, runID)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns everything.
func (s *MetadataStore) ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("metadata store is not configured")
	}
	query := fmt.Sprintf(`
		SELECT id, started_at, finished_at, status, succeeded, failed, skipped, error_message
		FROM %s
		ORDER BY started_at DESC
	`, s.tables.runs)
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.RunSummary
	for rows.Next() {
		var run store.RunSummary
		err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.Counts.Succeeded,
			&run.Counts.Failed,
			&run.Counts.Skipped,
			&run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}
