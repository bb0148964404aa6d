// Package mongostore provides a MongoDB-backed article store.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/JakeFAU/epaper-crawler/internal/clock/system"
	"github.com/JakeFAU/epaper-crawler/internal/crawler"
	"github.com/JakeFAU/epaper-crawler/internal/metrics"
)

// Config selects the deployment, database and collection.
type Config struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type articleDoc struct {
	ID              int64     `bson:"id"`
	Source          string    `bson:"source"`
	SourceKey       string    `bson:"source_key"`
	Section         string    `bson:"section"`
	Title           string    `bson:"title"`
	TranslatedTitle string    `bson:"translated_title"`
	Link            string    `bson:"link"`
	ContentPreview  string    `bson:"content_preview"`
	Date            string    `bson:"date"`
	CreatedAt       time.Time `bson:"created_at"`
	LastUpdated     time.Time `bson:"last_updated"`
}

func (d articleDoc) article() crawler.Article {
	return crawler.Article{
		ID:              d.ID,
		Source:          d.Source,
		SourceKey:       d.SourceKey,
		Section:         d.Section,
		Title:           d.Title,
		TranslatedTitle: d.TranslatedTitle,
		Link:            d.Link,
		ContentPreview:  d.ContentPreview,
		Date:            d.Date,
		CreatedAt:       d.CreatedAt,
		LastUpdated:     d.LastUpdated,
	}
}

// ArticleStore keeps one document per link. Numeric ids are allocated by
// this process, seeded from the largest id present at open.
type ArticleStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	lastID atomic.Int64
	clock  crawler.Clock
	logger *zap.Logger
}

// Open connects, pings, ensures indexes and seeds the id allocator.
func Open(ctx context.Context, cfg Config, clock crawler.Clock, logger *zap.Logger) (*ArticleStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	if cfg.Database == "" {
		cfg.Database = "epaper"
	}
	if cfg.Collection == "" {
		cfg.Collection = "articles"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	store := NewWithCollection(client.Database(cfg.Database).Collection(cfg.Collection), clock, logger)
	store.client = client
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := store.seedIDs(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// NewWithCollection wraps an existing collection (primarily for testing).
func NewWithCollection(coll *mongo.Collection, clock crawler.Clock, logger *zap.Logger) *ArticleStore {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleStore{coll: coll, clock: clock, logger: logger.Named("mongo")}
}

// EnsureIndexes creates the unique link index and the listing index.
func (s *ArticleStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "link", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "date", Value: -1}, {Key: "source_key", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func (s *ArticleStore) seedIDs(ctx context.Context) error {
	var last articleDoc
	err := s.coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(bson.D{{Key: "id", Value: -1}})).Decode(&last)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed ids: %w", err)
	}
	s.lastID.Store(last.ID)
	return nil
}

// Close disconnects the client opened by Open.
func (s *ArticleStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

// UpsertListing updates the mutable fields of each link, inserting the
// document when the link is new. Row failures are logged and counted.
func (s *ArticleStore) UpsertListing(
	ctx context.Context,
	items []crawler.Listing,
	sourceKey, date string,
) (crawler.UpsertResult, error) {
	var res crawler.UpsertResult
	opts := options.Update().SetUpsert(true)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			metrics.ObserveUpsert(res.Saved, res.Errors)
			return res, fmt.Errorf("upsert %s: %w", sourceKey, err)
		}
		now := s.clock.Now().UTC()
		update := bson.M{
			"$set": bson.M{
				"section":          item.Section,
				"title":            item.Title,
				"translated_title": item.TranslatedTitle,
				"content_preview":  item.ContentPreview,
				"last_updated":     now,
			},
			"$setOnInsert": bson.M{
				"id":         s.lastID.Add(1),
				"source":     item.Source,
				"source_key": sourceKey,
				"date":       date,
				"created_at": now,
			},
		}
		if _, err := s.coll.UpdateOne(ctx, bson.M{"link": item.Link}, update, opts); err != nil {
			res.Errors++
			s.logger.Warn("upsert article failed", zap.String("link", item.Link), zap.Error(err))
			continue
		}
		res.Saved++
	}
	metrics.ObserveUpsert(res.Saved, res.Errors)
	return res, nil
}

// Query lists articles ordered by date descending then source key.
func (s *ArticleStore) Query(ctx context.Context, q crawler.ArticleQuery) ([]crawler.Article, error) {
	filter := bson.M{}
	if q.SourceKey != "" {
		filter["source_key"] = q.SourceKey
	}
	if q.Date != "" {
		filter["date"] = q.Date
	}
	opts := options.Find().SetSort(bson.D{
		{Key: "date", Value: -1},
		{Key: "source_key", Value: 1},
		{Key: "id", Value: 1},
	})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find articles: %w", err)
	}
	defer cursor.Close(ctx)

	var out []crawler.Article
	for cursor.Next(ctx) {
		var doc articleDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode article: %w", err)
		}
		out = append(out, doc.article())
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate articles: %w", err)
	}
	return out, nil
}

// RetentionSweep deletes articles whose date sorts before now-days.
func (s *ArticleStore) RetentionSweep(ctx context.Context, days int) (int64, error) {
	cutoff := s.clock.Now().AddDate(0, 0, -days).Format(crawler.DateLayout)
	res, err := s.coll.DeleteMany(ctx, bson.M{"date": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	s.logger.Info("retention sweep", zap.String("cutoff", cutoff), zap.Int64("deleted", res.DeletedCount))
	return res.DeletedCount, nil
}

// Stats counts articles per source.
func (s *ArticleStore) Stats(ctx context.Context) (crawler.StoreStats, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$source_key"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "latest", Value: bson.D{{Key: "$max", Value: "$date"}}},
		}}},
	}
	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return crawler.StoreStats{}, fmt.Errorf("aggregate stats: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		SourceKey string `bson:"_id"`
		Count     int64  `bson:"count"`
		Latest    string `bson:"latest"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return crawler.StoreStats{}, fmt.Errorf("decode stats: %w", err)
	}
	stats := crawler.StoreStats{BySource: map[string]int64{}}
	for _, r := range rows {
		stats.BySource[r.SourceKey] = r.Count
		stats.Total += r.Count
		if r.Latest > stats.Latest {
			stats.Latest = r.Latest
		}
	}
	return stats, nil
}
