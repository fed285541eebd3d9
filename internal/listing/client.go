// Package listing talks to the source account-search and article-list
// endpoints and produces partial article records.
package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mpharvest/mpharvest/internal/classify"
	"github.com/mpharvest/mpharvest/internal/crawl"
)

// PageSize is the listing page size the source endpoint expects.
const PageSize = 5

// Config controls the listing client.
type Config struct {
	// BaseURL is the source origin, defaulting to https://mp.weixin.qq.com.
	BaseURL string
	// Token is the authenticated session token appended to listing requests.
	Token string
	// Cookie is the raw session cookie sent with every request.
	Cookie string
}

// Client implements account search and paginated article listing on top of a
// crawl.Fetcher.
type Client struct {
	cfg     Config
	fetcher crawl.Fetcher
	logger  *zap.Logger
}

// Page is one decoded listing page.
type Page struct {
	// Articles holds partial records; content and media arrive later from the
	// detail fetch.
	Articles []crawl.Article
	// Total is the source-reported total article count for the account.
	Total int
}

// NewClient builds a listing Client.
func NewClient(cfg Config, fetcher crawl.Fetcher, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://mp.weixin.qq.com"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, fetcher: fetcher, logger: logger}
}

// FindAccount resolves an account name to its fakeid via the search endpoint.
// It returns crawl.ErrAccountNotFound when no result matches the name.
func (c *Client) FindAccount(ctx context.Context, name string) (crawl.Account, error) {
	params := url.Values{}
	params.Set("action", "search_biz")
	params.Set("query", name)
	params.Set("begin", "0")
	params.Set("count", strconv.Itoa(PageSize))
	params.Set("token", c.cfg.Token)
	params.Set("lang", "zh_CN")
	params.Set("f", "json")
	params.Set("ajax", "1")

	body, err := c.get(ctx, "/cgi-bin/searchbiz", params)
	if err != nil {
		return crawl.Account{}, err
	}

	var resp searchBizResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return crawl.Account{}, crawl.NewProtocolError("search account", 0, fmt.Sprintf("decode response: %v", err))
	}
	if !resp.Success {
		return crawl.Account{}, crawl.NewProtocolError("search account", resp.BaseResp.Ret, "search request rejected")
	}
	for _, entry := range resp.List {
		if entry.FakeID != "" && strings.Contains(entry.Nickname, name) {
			c.logger.Info("account resolved",
				zap.String("nickname", entry.Nickname),
				zap.String("fakeid", entry.FakeID),
			)
			return crawl.Account{FakeID: entry.FakeID, Nickname: entry.Nickname}, nil
		}
	}
	return crawl.Account{}, fmt.Errorf("search %q: %w", name, crawl.ErrAccountNotFound)
}

// FetchPage loads one listing page at the cursor position. The returned Total
// reflects the source-reported article count at fetch time.
func (c *Client) FetchPage(ctx context.Context, account crawl.Account, cursor crawl.Cursor) (Page, error) {
	params := url.Values{}
	params.Set("action", "list_ex")
	params.Set("begin", strconv.Itoa(cursor.Begin))
	params.Set("count", strconv.Itoa(PageSize))
	params.Set("fakeid", account.FakeID)
	params.Set("type", "9")
	params.Set("query", "")
	params.Set("token", c.cfg.Token)
	params.Set("lang", "zh_CN")
	params.Set("f", "json")
	params.Set("ajax", "1")

	body, err := c.get(ctx, "/cgi-bin/appmsg", params)
	if err != nil {
		return Page{}, err
	}

	var resp appMsgResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Page{}, crawl.NewProtocolError("fetch listing", 0, fmt.Sprintf("decode response: %v", err))
	}
	if !resp.Success {
		return Page{}, crawl.NewProtocolError("fetch listing", resp.BaseResp.Ret, "listing request rejected")
	}

	page := Page{Total: int(resp.TotalPageCnt)}
	for _, entry := range resp.AppMsgList {
		page.Articles = append(page.Articles, c.toArticle(entry, account))
	}
	return page, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	reqURL := c.cfg.BaseURL + path + "?" + params.Encode()
	resp, err := c.fetcher.Fetch(ctx, crawl.FetchRequest{
		URL:     reqURL,
		Headers: c.requestHeaders(),
	})
	if err != nil {
		return nil, crawl.NewTransportError("listing fetch", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, crawl.NewProtocolError("listing fetch", resp.StatusCode, "unexpected status")
	}
	return resp.Body, nil
}

func (c *Client) requestHeaders() http.Header {
	h := http.Header{}
	h.Set("Referer", c.cfg.BaseURL+"/")
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "zh-CN,zh;q=0.8,en-US;q=0.5,en;q=0.3")
	if c.cfg.Cookie != "" {
		h.Set("Cookie", c.cfg.Cookie)
	}
	return h
}

func (c *Client) toArticle(entry appMsgEntry, account crawl.Account) crawl.Article {
	title := strings.TrimSpace(entry.Title)
	description := strings.TrimSpace(entry.Digest)
	accountName := entry.ShowName
	if accountName == "" {
		accountName = account.Nickname
	}
	return crawl.Article{
		ArticleID:   entry.ItemID.String(),
		AccountID:   account.FakeID,
		AccountName: accountName,
		Title:       title,
		Author:      entry.Author,
		Digest:      description,
		Description: description,
		URL:         entry.Link,
		CoverImage:  entry.Cover,
		PublishTime: time.Unix(int64(entry.CreateTime), 0).UTC(),
		ReadCount:   int(entry.ReadNum),
		LikeCount:   int(entry.LikeNum),
		CommentCnt:  int(entry.CommentCnt),
		IsOriginal:  entry.IsMulti == 0,
		SourceURL:   entry.SourceURL,
		Tags:        classify.Tags(title),
		Category:    classify.Category(title, description),
	}
}

type baseResp struct {
	Ret int `json:"ret"`
}

type searchBizResponse struct {
	Success  bool     `json:"success"`
	BaseResp baseResp `json:"base_resp"`
	List     []struct {
		FakeID   string `json:"fakeid"`
		Nickname string `json:"nickname"`
	} `json:"list"`
}

type appMsgResponse struct {
	Success      bool          `json:"success"`
	BaseResp     baseResp      `json:"base_resp"`
	AppMsgList   []appMsgEntry `json:"app_msg_list"`
	TotalPageCnt flexInt       `json:"total_page_cnt"`
}

type appMsgEntry struct {
	ItemID     flexInt `json:"itemid"`
	Title      string  `json:"title"`
	Author     string  `json:"author"`
	Digest     string  `json:"digest"`
	Link       string  `json:"link"`
	ShowName   string  `json:"show_name"`
	Cover      string  `json:"cover"`
	CreateTime flexInt `json:"create_time"`
	ReadNum    flexInt `json:"read_num"`
	LikeNum    flexInt `json:"like_num"`
	CommentCnt flexInt `json:"comment_cnt"`
	IsMulti    flexInt `json:"is_multi"`
	SourceURL  string  `json:"source_url"`
}
