// Package mongo implements the article document store on MongoDB.
package mongo

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/crawl"
)

// Config controls the MongoDB connection.
type Config struct {
	URI        string
	Database   string
	Collection string
	// ConnectTimeout bounds the initial connect and ping (default 10s).
	ConnectTimeout time.Duration
}

// Store persists crawl.Article records with first-write-wins semantics keyed
// on article_id.
type Store struct {
	client   *mongo.Client
	articles *mongo.Collection
	logger   *zap.Logger
}

// NewStore connects, pings, and ensures indexes.
func NewStore(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo.uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "mpharvest"
	}
	if cfg.Collection == "" {
		cfg.Collection = "articles"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &Store{
		client:   client,
		articles: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:   logger,
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		return nil, fmt.Errorf("ensure article indexes: %w", err)
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "article_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "account_name", Value: 1}, {Key: "publish_time", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "category", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "tags", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "title", Value: "text"},
				{Key: "content", Value: "text"},
				{Key: "description", Value: "text"},
			},
		},
	}
	if _, err := s.articles.Indexes().CreateMany(ctx, models); err != nil {
		return err
	}
	return nil
}

// Insert writes the article. It returns crawl.ErrDuplicate when an article
// with the same article_id already exists; the stored record is kept as is.
func (s *Store) Insert(ctx context.Context, article crawl.Article) error {
	_, err := s.articles.InsertOne(ctx, article)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("article %s: %w", article.ArticleID, crawl.ErrDuplicate)
		}
		return fmt.Errorf("insert article %s: %w", article.ArticleID, err)
	}
	return nil
}

// List returns a page of articles, newest publish time first. A non-empty
// search term matches title or content case-insensitively.
func (s *Store) List(ctx context.Context, query crawl.ArticleQuery) (crawl.ArticlePage, error) {
	page := query.Page
	if page < 1 {
		page = 1
	}
	perPage := query.PerPage
	if perPage < 1 {
		perPage = 20
	}

	filter := bson.M{}
	if query.Search != "" {
		pattern := regexp.QuoteMeta(query.Search)
		filter = bson.M{"$or": bson.A{
			bson.M{"title": bson.M{"$regex": pattern, "$options": "i"}},
			bson.M{"content": bson.M{"$regex": pattern, "$options": "i"}},
		}}
	}

	total, err := s.articles.CountDocuments(ctx, filter)
	if err != nil {
		return crawl.ArticlePage{}, fmt.Errorf("count articles: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "publish_time", Value: -1}}).
		SetSkip(int64((page - 1) * perPage)).
		SetLimit(int64(perPage))

	cursor, err := s.articles.Find(ctx, filter, opts)
	if err != nil {
		return crawl.ArticlePage{}, fmt.Errorf("find articles: %w", err)
	}
	defer cursor.Close(ctx)

	var articles []crawl.Article
	if err := cursor.All(ctx, &articles); err != nil {
		return crawl.ArticlePage{}, fmt.Errorf("decode articles: %w", err)
	}

	return crawl.ArticlePage{
		Articles:   articles,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages(total, perPage),
	}, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongodb: %w", err)
	}
	return nil
}

func totalPages(total int64, perPage int) int64 {
	if total == 0 {
		return 0
	}
	return (total + int64(perPage) - 1) / int64(perPage)
}
