package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

var (
	uriAttrRe = regexp.MustCompile(`URI="([^"]+)"`)
	baseURLRe = regexp.MustCompile(`(?i)<BaseURL[^>]*>\s*([^<\s]+)\s*</BaseURL>`)
)

// Body reads the responses already flagged as manifests and looks for
// child references: HLS variant and rendition playlists, DASH BaseURLs
// pointing at other MPDs. It also upgrades an ambiguous parent (a
// "manifest" or "playlist" URL) to the kind its body reveals.
type Body struct {
	MaxReads int // default 16
	MaxBytes int // default 2 MiB
}

func (*Body) Name() manifest.Source { return manifest.SourceBody }

func (b *Body) Collect(ctx context.Context, ev *Evidence, br BodyReader) ([]manifest.Candidate, error) {
	if br == nil {
		return nil, nil
	}
	maxReads := b.MaxReads
	if maxReads <= 0 {
		maxReads = 16
	}
	maxBytes := b.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 2 << 20
	}

	var (
		out     []manifest.Candidate
		emitted = make(map[string]bool)
		read    = make(map[string]bool)
		errs    []error
	)
	emit := func(u string, k manifest.Kind) {
		if emitted[u] {
			return
		}
		emitted[u] = true
		out = append(out, manifest.Candidate{URL: u, Kind: k})
	}

	for _, e := range ev.Events {
		if !e.Response || e.Status >= 400 || read[e.URL] {
			continue
		}
		parentKind, ok := FlagEvent(e)
		if !ok {
			continue
		}
		if len(read) >= maxReads {
			break
		}
		read[e.URL] = true

		body, err := br.Body(ctx, e)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return out, ctxErr
			}
			errs = append(errs, fmt.Errorf("%s: %w", e.URL, err))
			continue
		}
		if len(body) > maxBytes {
			body = body[:maxBytes]
		}

		sniffed := SniffKind(body)
		if parentKind == manifest.KindUnknown && sniffed != manifest.KindUnknown {
			emit(e.URL, sniffed)
		}
		switch sniffed {
		case manifest.KindHLS:
			for _, ref := range HLSChildren(body) {
				if abs, ok := resolve(e.URL, ref); ok {
					emit(abs, manifest.KindHLS)
				}
			}
		case manifest.KindDASH:
			for _, m := range baseURLRe.FindAllSubmatch(body, -1) {
				abs, ok := resolve(e.URL, string(m[1]))
				if !ok {
					continue
				}
				if k, _ := manifest.Classify(abs); k == manifest.KindDASH {
					emit(abs, manifest.KindDASH)
				}
			}
		}
	}

	if len(errs) > 0 {
		return out, &SoftError{Flag: manifest.SoftBodyUnreadable, Err: errors.Join(errs...)}
	}
	return out, nil
}

// SniffKind identifies a manifest body by its leading signature.
func SniffKind(body []byte) manifest.Kind {
	trimmed := bytes.TrimLeft(body, "\ufeff \t\r\n")
	switch {
	case bytes.HasPrefix(trimmed, []byte("#EXTM3U")):
		return manifest.KindHLS
	case bytes.Contains(trimmed[:min(len(trimmed), 4096)], []byte("<MPD")):
		return manifest.KindDASH
	}
	return manifest.KindUnknown
}

// HLSChildren lists the playlist references of an HLS body: the URI line
// after each #EXT-X-STREAM-INF, URI attributes of #EXT-X-MEDIA and
// #EXT-X-I-FRAME-STREAM-INF, and any other URI line that is itself an
// .m3u8. Media segments are not returned.
func HLSChildren(body []byte) []string {
	var refs []string
	afterStreamInf := false
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			switch {
			case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
				afterStreamInf = true
			case strings.HasPrefix(line, "#EXT-X-MEDIA"), strings.HasPrefix(line, "#EXT-X-I-FRAME-STREAM-INF"):
				if m := uriAttrRe.FindStringSubmatch(line); m != nil {
					refs = append(refs, m[1])
				}
			}
			continue
		}
		if afterStreamInf {
			refs = append(refs, line)
			afterStreamInf = false
			continue
		}
		if k, ok := manifest.Classify(line); ok && k == manifest.KindHLS {
			refs = append(refs, line)
		}
	}
	return refs
}

// resolve makes ref absolute against parent.
func resolve(parent, ref string) (string, bool) {
	base, err := url.Parse(parent)
	if err != nil {
		return "", false
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(r)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}
