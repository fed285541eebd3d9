package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpharvest/mpharvest/internal/crawl"
	memorypublisher "github.com/mpharvest/mpharvest/internal/publisher/memory"
)

type fakeDocStore struct {
	inserted []crawl.Article
	err      error
}

func (s *fakeDocStore) Insert(_ context.Context, article crawl.Article) error {
	if s.err != nil {
		return s.err
	}
	for _, existing := range s.inserted {
		if existing.ArticleID == article.ArticleID {
			return crawl.ErrDuplicate
		}
	}
	s.inserted = append(s.inserted, article)
	return nil
}

func (s *fakeDocStore) List(context.Context, crawl.ArticleQuery) (crawl.ArticlePage, error) {
	return crawl.ArticlePage{}, nil
}

type fakeIndex struct {
	upserts []crawl.Article
	err     error
}

func (i *fakeIndex) Upsert(_ context.Context, article crawl.Article) error {
	if i.err != nil {
		return i.err
	}
	i.upserts = append(i.upserts, article)
	return nil
}

func (i *fakeIndex) Search(context.Context, string, int, int) (crawl.ArticlePage, error) {
	return crawl.ArticlePage{}, nil
}

func validArticle() crawl.Article {
	return crawl.Article{
		ArticleID: "101",
		Title:     "  技术分享  ",
		Content:   "第一段\n\n  第二段\t结束 ",
		URL:       "https://mp.weixin.qq.com/s/a",
		ReadCount: -3,
	}
}

func TestValidateDropsEmptyFields(t *testing.T) {
	t.Parallel()

	cases := map[string]crawl.Article{
		"empty title":   {Content: "c", URL: "u"},
		"empty content": {Title: "t", URL: "u"},
		"empty url":     {Title: "t", Content: "c"},
	}
	stage := NewValidate()
	for name, article := range cases {
		err := stage.Process(context.Background(), &article)
		require.ErrorIs(t, err, crawl.ErrDropped, name)
	}
}

func TestCleanNormalizesFields(t *testing.T) {
	t.Parallel()

	article := validArticle()
	require.NoError(t, NewClean().Process(context.Background(), &article))
	require.Equal(t, "技术分享", article.Title)
	require.Equal(t, "第一段 第二段 结束", article.Content)
	require.Zero(t, article.ReadCount)
}

// TestRunDuplicateStopsBeforeIndex verifies first-write-wins: the duplicate
// insert halts the pipeline so the index and publisher never see the record.
func TestRunDuplicateStopsBeforeIndex(t *testing.T) {
	t.Parallel()

	docs := &fakeDocStore{}
	index := &fakeIndex{}
	pub := memorypublisher.New()
	p := New(nil,
		NewValidate(),
		NewClean(),
		NewStore(docs),
		NewIndex(index, nil),
		NewAnnounce(pub, "articles", nil),
	)

	first := validArticle()
	require.NoError(t, p.Run(context.Background(), &first))

	second := validArticle()
	err := p.Run(context.Background(), &second)
	require.ErrorIs(t, err, crawl.ErrDuplicate)

	require.Len(t, docs.inserted, 1)
	require.Len(t, index.upserts, 1)
	require.Len(t, pub.Messages(), 1)
}

// TestRunIndexFailureSwallowed confirms the index/store asymmetry: a broken
// search index never fails the pipeline.
func TestRunIndexFailureSwallowed(t *testing.T) {
	t.Parallel()

	docs := &fakeDocStore{}
	index := &fakeIndex{err: errors.New("es unavailable")}
	p := New(nil, NewValidate(), NewClean(), NewStore(docs), NewIndex(index, nil))

	article := validArticle()
	require.NoError(t, p.Run(context.Background(), &article))
	require.Len(t, docs.inserted, 1)
}

func TestRunStoreFailureFails(t *testing.T) {
	t.Parallel()

	docs := &fakeDocStore{err: errors.New("mongo down")}
	p := New(nil, NewValidate(), NewClean(), NewStore(docs))

	article := validArticle()
	err := p.Run(context.Background(), &article)
	require.Error(t, err)
	require.NotErrorIs(t, err, crawl.ErrDuplicate)
}

func TestAnnouncePayload(t *testing.T) {
	t.Parallel()

	pub := memorypublisher.New()
	stage := NewAnnounce(pub, "articles", nil)

	article := validArticle()
	article.SnapshotURI = "memory://articles/run-1/abc.html"
	require.NoError(t, stage.Process(context.Background(), &article))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "articles", msgs[0].Topic)
	event, ok := msgs[0].Payload.(AnnounceEvent)
	require.True(t, ok)
	require.Equal(t, "101", event.ArticleID)
	require.Equal(t, "memory://articles/run-1/abc.html", event.SnapshotURI)
}
