// Package elastic implements the article search index on Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	es "github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/crawl"
)

// Config controls the Elasticsearch connection and index.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	// Transport overrides the HTTP transport (primarily for testing).
	Transport http.RoundTripper
}

// Index implements crawl.SearchIndex on an Elasticsearch cluster.
type Index struct {
	client *es.Client
	index  string
	logger *zap.Logger
}

// NewIndex builds the client and ensures the article index exists.
func NewIndex(ctx context.Context, cfg Config, logger *zap.Logger) (*Index, error) {
	if cfg.Index == "" {
		cfg.Index = "mpharvest-articles"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := es.NewClient(es.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("build elasticsearch client: %w", err)
	}
	idx := &Index{client: client, index: cfg.Index, logger: logger}
	if err := idx.ensureIndex(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (i *Index) ensureIndex(ctx context.Context) error {
	exists, err := i.indexExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	res, err := i.client.Indices.Create(
		i.index,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(bytes.NewReader(mustJSON(articleMapping()))),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", i.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", i.index, res.String())
	}
	i.logger.Info("created search index", zap.String("index", i.index))
	return nil
}

func (i *Index) indexExists(ctx context.Context) (bool, error) {
	res, err := i.client.Indices.Exists(
		[]string{i.index},
		i.client.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", i.index, err)
	}
	defer res.Body.Close()
	return res.StatusCode == http.StatusOK, nil
}

// Upsert indexes the article under its article ID, replacing any previous
// version of the document.
func (i *Index) Upsert(ctx context.Context, article crawl.Article) error {
	res, err := i.client.Index(
		i.index,
		bytes.NewReader(mustJSON(article)),
		i.client.Index.WithContext(ctx),
		i.client.Index.WithDocumentID(article.ArticleID),
	)
	if err != nil {
		return fmt.Errorf("index article %s: %w", article.ArticleID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("index article %s: %s", article.ArticleID, res.String())
	}
	return nil
}

// Search runs a multi-field full-text query sorted by publish time, newest
// first. An empty query matches everything.
func (i *Index) Search(ctx context.Context, query string, page, perPage int) (crawl.ArticlePage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	var match map[string]any
	if query == "" {
		match = map[string]any{"match_all": map[string]any{}}
	} else {
		match = map[string]any{
			"multi_match": map[string]any{
				"query":  query,
				"fields": []string{"title^2", "content", "description"},
			},
		}
	}
	body := map[string]any{
		"query": match,
		"sort":  []map[string]any{{"publish_time": map[string]any{"order": "desc"}}},
		"from":  (page - 1) * perPage,
		"size":  perPage,
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.index),
		i.client.Search.WithBody(bytes.NewReader(mustJSON(body))),
	)
	if err != nil {
		return crawl.ArticlePage{}, fmt.Errorf("search articles: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return crawl.ArticlePage{}, fmt.Errorf("search articles: %s", res.String())
	}

	var decoded struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				Source crawl.Article `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return crawl.ArticlePage{}, fmt.Errorf("decode search response: %w", err)
	}

	articles := make([]crawl.Article, 0, len(decoded.Hits.Hits))
	for _, hit := range decoded.Hits.Hits {
		articles = append(articles, hit.Source)
	}
	total := decoded.Hits.Total.Value
	return crawl.ArticlePage{
		Articles:   articles,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: (total + int64(perPage) - 1) / int64(perPage),
	}, nil
}

// articleMapping defines the index settings. Chinese text fields use the IK
// analyzers; the cluster must have the analysis-ik plugin installed.
func articleMapping() map[string]any {
	textField := func(analyzer bool) map[string]any {
		field := map[string]any{"type": "text"}
		if analyzer {
			field["analyzer"] = "ik_max_word"
			field["search_analyzer"] = "ik_smart"
		}
		return field
	}
	// storedOnly keeps media/URL fields retrievable without making them
	// searchable.
	storedOnly := func() map[string]any {
		return map[string]any{"type": "keyword", "index": false}
	}
	return map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"article_id":    map[string]any{"type": "keyword"},
				"account_id":    map[string]any{"type": "keyword"},
				"account_name":  map[string]any{"type": "keyword"},
				"title":         textField(true),
				"content":       textField(true),
				"digest":        textField(true),
				"description":   textField(true),
				"author":        map[string]any{"type": "keyword"},
				"url":           storedOnly(),
				"cover_image":   storedOnly(),
				"images":        storedOnly(),
				"videos":        storedOnly(),
				"source_url":    storedOnly(),
				"snapshot_uri":  storedOnly(),
				"publish_time":  map[string]any{"type": "date"},
				"crawl_time":    map[string]any{"type": "date"},
				"category":      map[string]any{"type": "keyword"},
				"tags":          map[string]any{"type": "keyword"},
				"is_original":   map[string]any{"type": "boolean"},
				"read_count":    map[string]any{"type": "integer"},
				"like_count":    map[string]any{"type": "integer"},
				"comment_count": map[string]any{"type": "integer"},
			},
		},
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal to JSON: %v", err))
	}
	return data
}
