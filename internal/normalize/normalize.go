// Package normalize converts raw article HTML into plain text and extracts
// media references with absolute URLs.
package normalize

import (
	"fmt"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultBase is the origin used to resolve root-relative media URLs.
const DefaultBase = "https://mp.weixin.qq.com"

// Document holds the normalized output for one HTML fragment.
type Document struct {
	Text   string
	Images []string
	Videos []string
}

// Removal order matters: scripts and styles must go before tag stripping so
// their inner text never leaks into the output.
var (
	scriptRe     = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	styleRe      = regexp.MustCompile(`(?is)<style\b.*?</style>`)
	commentRe    = regexp.MustCompile(`(?s)<!--.*?-->`)
	lineBreakRe  = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</section>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	lineSpaceRe  = regexp.MustCompile(`[ \t]*\n[ \t]*`)
	multiBlankRe = regexp.MustCompile(`\n{3,}`)
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
)

// Text reduces an HTML fragment to plain text. Block-level boundaries become
// newlines and runs of blank lines collapse to a single blank line. The
// function is idempotent: applying it to its own output is a no-op.
func Text(fragment string) string {
	s := scriptRe.ReplaceAllString(fragment, "")
	s = styleRe.ReplaceAllString(s, "")
	s = commentRe.ReplaceAllString(s, "")
	s = lineBreakRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spaceRunRe.ReplaceAllString(s, " ")
	s = lineSpaceRe.ReplaceAllString(s, "\n")
	s = multiBlankRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// FromHTML normalizes a fragment into text plus deduplicated absolute media
// URLs. A nil base falls back to DefaultBase.
func FromHTML(fragment string, base *url.URL) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return Document{}, fmt.Errorf("parse html fragment: %w", err)
	}
	if base == nil {
		base, _ = url.Parse(DefaultBase)
	}
	return Document{
		Text:   Text(fragment),
		Images: collectImages(doc.Selection, base),
		Videos: collectVideos(doc.Selection, base),
	}, nil
}

func collectImages(sel *goquery.Selection, base *url.URL) []string {
	var out []string
	seen := make(map[string]struct{})
	sel.Find("img").Each(func(_ int, img *goquery.Selection) {
		// Lazy-loaded images carry the real URL in data-src.
		src, ok := img.Attr("data-src")
		if !ok || src == "" {
			src, _ = img.Attr("src")
		}
		appendURL(&out, seen, src, base)
	})
	return out
}

func collectVideos(sel *goquery.Selection, base *url.URL) []string {
	var out []string
	seen := make(map[string]struct{})
	sel.Find("video").Each(func(_ int, video *goquery.Selection) {
		src, ok := video.Attr("src")
		if !ok || src == "" {
			src, _ = video.Find("source").Attr("src")
		}
		appendURL(&out, seen, src, base)
	})
	sel.Find("iframe").Each(func(_ int, frame *goquery.Selection) {
		src, ok := frame.Attr("data-src")
		if !ok || src == "" {
			src, _ = frame.Attr("src")
		}
		appendURL(&out, seen, src, base)
	})
	return out
}

func appendURL(out *[]string, seen map[string]struct{}, raw string, base *url.URL) {
	resolved := Resolve(raw, base)
	if resolved == "" {
		return
	}
	if _, dup := seen[resolved]; dup {
		return
	}
	seen[resolved] = struct{}{}
	*out = append(*out, resolved)
}

// Resolve turns raw into an absolute URL. Protocol-relative references adopt
// https, root-relative references join the base origin, and anything that
// fails to parse is discarded.
func Resolve(raw string, base *url.URL) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	if base == nil {
		base, _ = url.Parse(DefaultBase)
	}
	return base.ResolveReference(ref).String()
}
