// Package postgres provides the Postgres-backed article store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/clock/system"
	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/metrics"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "articles"

// Config controls the Postgres connection pool used for article rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// ArticleStore keeps articles in a table keyed by a unique link.
type ArticleStore struct {
	pool   pool
	table  string
	clock  crawler.Clock
	logger *zap.Logger
}

// NewArticleStore connects a pool using cfg and ensures the article table
// exists.
func NewArticleStore(ctx context.Context, cfg Config, clock crawler.Clock, logger *zap.Logger) (*ArticleStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
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
	// Validate the table before dialing.
	if _, err := tableName(cfg.Table); err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return OpenWithPool(ctx, p, cfg.Table, clock, logger)
}

// OpenWithPool builds a store on p and runs EnsureSchema. p is closed when
// the store cannot be opened.
func OpenWithPool(ctx context.Context, p pool, table string, clock crawler.Clock, logger *zap.Logger) (*ArticleStore, error) {
	store, err := NewArticleStoreWithPool(p, table, clock, logger)
	if err != nil {
		if p != nil {
			p.Close()
		}
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// NewArticleStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArticleStoreWithPool(p pool, table string, clock crawler.Clock, logger *zap.Logger) (*ArticleStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleStore{pool: p, table: table, clock: clock, logger: logger.Named("postgres")}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ArticleStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the article table and its lookup index when absent.
func (s *ArticleStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	source TEXT NOT NULL DEFAULT '',
	source_key TEXT NOT NULL,
	section TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	translated_title TEXT NOT NULL DEFAULT '',
	link TEXT NOT NULL UNIQUE,
	content_preview TEXT NOT NULL DEFAULT '',
	date DATE NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_date_source_idx ON %[1]s (date DESC, source_key)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertListing inserts new links and refreshes the mutable fields of
// known ones. Row failures are logged and counted; only cancellation
// aborts the batch.
func (s *ArticleStore) UpsertListing(
	ctx context.Context,
	items []crawler.Listing,
	sourceKey, date string,
) (crawler.UpsertResult, error) {
	query := fmt.Sprintf(`
INSERT INTO %s (
	source,
	source_key,
	section,
	title,
	translated_title,
	link,
	content_preview,
	date,
	created_at,
	last_updated
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8::date,$9,$9
)
ON CONFLICT (link) DO UPDATE SET
	section = EXCLUDED.section,
	title = EXCLUDED.title,
	translated_title = EXCLUDED.translated_title,
	content_preview = EXCLUDED.content_preview,
	last_updated = EXCLUDED.last_updated`, s.table)

	var res crawler.UpsertResult
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			metrics.ObserveUpsert(res.Saved, res.Errors)
			return res, fmt.Errorf("upsert %s: %w", sourceKey, err)
		}
		now := s.clock.Now().UTC()
		_, err := s.pool.Exec(ctx, query,
			item.Source,
			sourceKey,
			item.Section,
			item.Title,
			item.TranslatedTitle,
			item.Link,
			item.ContentPreview,
			date,
			now,
		)
		if err != nil {
			res.Errors++
			s.logger.Warn("upsert article failed", zap.String("link", item.Link), zap.Error(err))
			continue
		}
		res.Saved++
	}
	metrics.ObserveUpsert(res.Saved, res.Errors)
	return res, nil
}

const articleColumns = "id, source, source_key, section, title, translated_title, link, content_preview, " +
	"to_char(date, 'YYYY-MM-DD'), created_at, last_updated"

// Query lists articles ordered by date descending then source key.
func (s *ArticleStore) Query(ctx context.Context, q crawler.ArticleQuery) ([]crawler.Article, error) {
	var (
		conds []string
		args  []any
	)
	if q.SourceKey != "" {
		args = append(args, q.SourceKey)
		conds = append(conds, fmt.Sprintf("source_key = $%d", len(args)))
	}
	if q.Date != "" {
		args = append(args, q.Date)
		conds = append(conds, fmt.Sprintf("date = $%d::date", len(args)))
	}
	query := fmt.Sprintf("SELECT %s FROM %s", articleColumns, s.table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY date DESC, source_key, id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var out []crawler.Article
	for rows.Next() {
		var a crawler.Article
		if err := rows.Scan(
			&a.ID,
			&a.Source,
			&a.SourceKey,
			&a.Section,
			&a.Title,
			&a.TranslatedTitle,
			&a.Link,
			&a.ContentPreview,
			&a.Date,
			&a.CreatedAt,
			&a.LastUpdated,
		); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}

// RetentionSweep deletes articles whose edition date is before now-days.
func (s *ArticleStore) RetentionSweep(ctx context.Context, days int) (int64, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -days).Format(crawler.DateLayout)
	tag, err := s.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE date < $1::date", s.table), cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	deleted := tag.RowsAffected()
	s.logger.Info("retention sweep", zap.String("cutoff", cutoff), zap.Int64("deleted", deleted))
	return deleted, nil
}

// Stats counts articles per source.
func (s *ArticleStore) Stats(ctx context.Context) (crawler.StoreStats, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		"SELECT source_key, count(*), to_char(max(date), 'YYYY-MM-DD') FROM %s GROUP BY source_key", s.table))
	if err != nil {
		return crawler.StoreStats{}, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	stats := crawler.StoreStats{BySource: map[string]int64{}}
	for rows.Next() {
		var (
			key    string
			count  int64
			latest string
		)
		if err := rows.Scan(&key, &count, &latest); err != nil {
			return crawler.StoreStats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.BySource[key] = count
		stats.Total += count
		if latest > stats.Latest {
			stats.Latest = latest
		}
	}
	if err := rows.Err(); err != nil {
		return crawler.StoreStats{}, fmt.Errorf("iterate stats: %w", err)
	}
	return stats, nil
}
