package capture

import (
	"context"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

// Network flags every request or response whose URL path looks like a
// manifest, or whose response MIME type is an HLS/DASH playlist type.
type Network struct{}

func (*Network) Name() manifest.Source { return manifest.SourceNetwork }

func (*Network) Collect(_ context.Context, ev *Evidence, _ BodyReader) ([]manifest.Candidate, error) {
	var out []manifest.Candidate
	index := make(map[string]int)

	for _, e := range ev.Events {
		kind, ok := FlagEvent(e)
		if !ok {
			continue
		}
		if i, seen := index[e.URL]; seen {
			// A response MIME type can sharpen a kind first seen on the request.
			if out[i].Kind == manifest.KindUnknown && kind != manifest.KindUnknown {
				out[i].Kind = kind
			}
			continue
		}
		index[e.URL] = len(out)
		out = append(out, manifest.Candidate{URL: e.URL, Kind: kind})
	}
	return out, nil
}

// FlagEvent reports whether a network event points at a manifest and, if
// so, its kind. The MIME type wins over an ambiguous URL.
func FlagEvent(e NetEvent) (manifest.Kind, bool) {
	kind, ok := manifest.Classify(e.URL)
	if e.Response {
		if mk, mok := manifest.ClassifyMIME(e.MIME); mok {
			if !ok || kind == manifest.KindUnknown {
				return mk, true
			}
		}
	}
	return kind, ok
}
