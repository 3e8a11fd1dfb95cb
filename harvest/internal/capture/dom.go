package capture

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

var (
	absURLRe = regexp.MustCompile(`https?://[^\s"'<>()\[\]{}\\|^` + "`" + `]+`)

	scriptUnescaper = strings.NewReplacer(
		`\/`, `/`,
		`\u002F`, `/`,
		`\u002f`, `/`,
		`\u0026`, `&`,
		`&amp;`, `&`,
	)
)

// DOM scans the serialized markup, inline scripts included, for absolute
// URLs ending in .m3u8 or .mpd. Markup may carry stale or alternate-quality
// URLs the page never requested, so DOM candidates rank below network ones.
type DOM struct{}

func (*DOM) Name() manifest.Source { return manifest.SourceDOM }

func (*DOM) Collect(ctx context.Context, ev *Evidence, _ BodyReader) ([]manifest.Candidate, error) {
	if ev.Markup == "" {
		return nil, nil
	}
	var out []manifest.Candidate
	seen := make(map[string]bool)
	for _, chunk := range markupChunks(ev.Markup) {
		for _, u := range ScanManifestURLs(chunk) {
			if seen[u] {
				continue
			}
			seen[u] = true
			kind, _ := manifest.Classify(u)
			out = append(out, manifest.Candidate{URL: u, Kind: kind})
		}
	}
	return out, ctx.Err()
}

// markupChunks tokenizes markup into attribute values and text nodes.
// Script and style contents arrive as raw text tokens.
func markupChunks(markup string) []string {
	var chunks []string
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return chunks
		case html.TextToken:
			if t := strings.TrimSpace(string(z.Text())); t != "" {
				chunks = append(chunks, t)
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			_, hasAttr := z.TagName()
			for hasAttr {
				var val []byte
				_, val, hasAttr = z.TagAttr()
				if len(val) > 0 {
					chunks = append(chunks, string(val))
				}
			}
		case html.CommentToken:
			// Commented-out players still leak URLs.
			chunks = append(chunks, string(z.Text()))
		}
	}
}

// ScanManifestURLs returns the absolute .m3u8/.mpd URLs found in text, in
// order of appearance. JSON-escaped slashes and HTML entities are undone
// first.
func ScanManifestURLs(text string) []string {
	if !strings.Contains(text, "http") {
		return nil
	}
	text = scriptUnescaper.Replace(text)
	var out []string
	for _, m := range absURLRe.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;:!")
		p := strings.ToLower(manifest.StripQuery(m))
		if strings.HasSuffix(p, ".m3u8") || strings.HasSuffix(p, ".mpd") {
			out = append(out, m)
		}
	}
	return out
}
