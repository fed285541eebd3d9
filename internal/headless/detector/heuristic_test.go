package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpharvest/mpharvest/internal/crawl"
)

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawl.FetchResponse{
		StatusCode: 200,
		Body:       []byte(""),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawl.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<div id="__next"></div>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_VerificationPage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawl.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><body><h2>环境异常</h2><p>完成验证后即可继续访问</p></body></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	resp := crawl.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><script>var a=1;</script><p>t</p></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_FullArticleBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10)
	resp := crawl.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<html><body><div id="js_content">这是一篇完整的文章正文。</div></body></html>`),
	}
	require.False(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := crawl.FetchResponse{
		StatusCode: 404,
		Body:       []byte("not found"),
	}
	require.False(t, h.ShouldPromote(resp))
}
