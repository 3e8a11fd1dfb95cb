package capture

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

// KnownPlayers is the allow-list of player-library globals probed in the
// page. A hit is informational and never a URL source.
var KnownPlayers = []string{
	"Hls", "dashjs", "shaka", "videojs", "jwplayer",
	"Clappr", "bitmovin", "THEOplayer", "flowplayer", "Plyr",
}

const mediaSelector = "video[src], audio[src], source[src], video[data-src], source[data-src]"

// Player recovers sources set on media elements, including those assigned
// programmatically that never showed up as a visible network event. Live
// element sources (currentSrc) come first, then the static markup.
type Player struct{}

func (*Player) Name() manifest.Source { return manifest.SourcePlayer }

func (*Player) Collect(ctx context.Context, ev *Evidence, _ BodyReader) ([]manifest.Candidate, error) {
	var out []manifest.Candidate
	seen := make(map[string]bool)
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "blob:") || strings.HasPrefix(raw, "data:") {
			return
		}
		abs := raw
		if ev.PageURL != "" {
			if r, ok := resolve(ev.PageURL, raw); ok {
				abs = r
			}
		}
		if seen[abs] {
			return
		}
		kind, ok := manifest.Classify(abs)
		if !ok {
			return
		}
		seen[abs] = true
		out = append(out, manifest.Candidate{URL: abs, Kind: kind})
	}

	for _, el := range ev.Elements {
		add(el.URL)
	}

	if ev.Markup != "" {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(ev.Markup))
		if err != nil {
			return out, &SoftError{Flag: manifest.SoftInspectFailed, Err: err}
		}
		doc.Find(mediaSelector).Each(func(_ int, s *goquery.Selection) {
			if v, ok := s.Attr("src"); ok {
				add(v)
			}
			if v, ok := s.Attr("data-src"); ok {
				add(v)
			}
		})
	}
	return out, ctx.Err()
}

// PlayerProbeJS returns the names of KnownPlayers present on window as a
// JSON array string.
func PlayerProbeJS() string {
	var b strings.Builder
	b.WriteString("() => JSON.stringify([")
	for i, name := range KnownPlayers {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`"` + name + `"`)
	}
	b.WriteString("].filter(n => { try { return typeof window[n] !== 'undefined'; } catch (e) { return false; } }))")
	return b.String()
}
