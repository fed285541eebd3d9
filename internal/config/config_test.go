package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
wechat:
  token: "1234567890"
  cookie: "session=abc"
  user_agent: harvest-agent
crawler:
  workers: 5
http:
  timeout_seconds: 45
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 30
  promotion_threshold: 1024
storage:
  backend: gcs
  gcs_bucket: bucket
  prefix: archives
  content_type: text/plain
database:
  dsn: postgres://localhost/mpharvest
mongo:
  uri: mongodb://localhost:27017
  database: harvest
  collection: posts
elasticsearch:
  addresses: ["http://localhost:9200"]
  index: posts
pubsub:
  project_id: demo
  topic_name: articles
ratelimit:
  rps: 2
  burst: 3
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.WeChat.Token != "1234567890" || cfg.WeChat.Cookie != "session=abc" {
		t.Fatalf("expected session overrides to apply: %+v", cfg.WeChat)
	}
	if cfg.WeChat.BaseURL != "https://mp.weixin.qq.com" {
		t.Fatalf("expected default base url, got %q", cfg.WeChat.BaseURL)
	}
	if cfg.Crawler.Workers != 5 {
		t.Fatalf("expected crawler overrides to apply")
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "bucket" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.Mongo.Database != "harvest" || cfg.Mongo.Collection != "posts" {
		t.Fatalf("expected mongo overrides to apply: %+v", cfg.Mongo)
	}
	if len(cfg.Elasticsearch.Addresses) != 1 || cfg.Elasticsearch.Index != "posts" {
		t.Fatalf("expected elasticsearch overrides to apply: %+v", cfg.Elasticsearch)
	}
	if cfg.RateLimit.RPS != 2 || cfg.RateLimit.Burst != 3 {
		t.Fatalf("expected rate limit overrides to apply: %+v", cfg.RateLimit)
	}
	if got := cfg.FetchBudget(); got != 45*time.Second {
		t.Fatalf("expected fetch budget 45s, got %v", got)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		WeChat:  WeChatConfig{Token: "t", Cookie: "c"},
		Crawler: CrawlerConfig{Workers: 1},
		HTTP:    HTTPConfig{TimeoutSeconds: 10},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing token",
			cfg: func() Config {
				c := base
				c.WeChat.Token = ""
				return c
			}(),
			want: "wechat.token",
		},
		{
			name: "missing cookie",
			cfg: func() Config {
				c := base
				c.WeChat.Cookie = ""
				return c
			}(),
			want: "wechat.cookie",
		},
		{
			name: "invalid workers",
			cfg: func() Config {
				c := base
				c.Crawler.Workers = 0
				return c
			}(),
			want: "crawler.workers",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.HTTP.TimeoutSeconds = 0
				return c
			}(),
			want: "http.timeout_seconds",
		},
		{
			name: "headless missing max parallel",
			cfg: func() Config {
				c := base
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
				return c
			}(),
			want: "headless.max_parallel",
		},
		{
			name: "auth missing api key",
			cfg: func() Config {
				c := base
				c.Auth.Enabled = true
				return c
			}(),
			want: "auth.api_key",
		},
		{
			name: "gcs missing bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "gcs"
				return c
			}(),
			want: "storage.gcs_bucket",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "s3"
				return c
			}(),
			want: "storage.backend",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
