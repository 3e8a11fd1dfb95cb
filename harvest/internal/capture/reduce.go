package capture

import (
	"sort"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

// Reduction is the answer for one target.
type Reduction struct {
	Kind     manifest.Kind
	Manifest string
	Streams  map[manifest.Kind]string
	Trail    []manifest.Candidate
}

// Found reports whether any manifest was accepted.
func (r *Reduction) Found() bool { return r.Manifest != "" }

// Reduce picks, per kind, the first candidate in (Rank, Seq) order. HLS and
// DASH winners are both retained; the primary is whichever winner ranks
// first, HLS on an exact tie. Unknown-kind candidates only count when no
// HLS or DASH candidate exists. Accepted URLs are query-stripped; the trail
// keeps up to maxTrail distinct raw candidates (0 means unlimited).
func Reduce(cands []manifest.Candidate, maxTrail int) *Reduction {
	sorted := make([]manifest.Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Rank != sorted[j].Rank {
			return sorted[i].Rank < sorted[j].Rank
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	red := &Reduction{Streams: make(map[manifest.Kind]string)}
	winners := make(map[manifest.Kind]manifest.Candidate)
	seenRaw := make(map[string]bool)

	for _, c := range sorted {
		if _, ok := winners[c.Kind]; !ok {
			winners[c.Kind] = c
		}
		if !seenRaw[c.URL] && (maxTrail <= 0 || len(red.Trail) < maxTrail) {
			seenRaw[c.URL] = true
			red.Trail = append(red.Trail, c)
		}
	}

	hls, hasHLS := winners[manifest.KindHLS]
	dash, hasDASH := winners[manifest.KindDASH]
	switch {
	case hasHLS && hasDASH:
		red.Streams[manifest.KindHLS] = manifest.StripQuery(hls.URL)
		red.Streams[manifest.KindDASH] = manifest.StripQuery(dash.URL)
		if before(dash, hls) {
			red.Kind = manifest.KindDASH
		} else {
			red.Kind = manifest.KindHLS
		}
	case hasHLS:
		red.Streams[manifest.KindHLS] = manifest.StripQuery(hls.URL)
		red.Kind = manifest.KindHLS
	case hasDASH:
		red.Streams[manifest.KindDASH] = manifest.StripQuery(dash.URL)
		red.Kind = manifest.KindDASH
	default:
		if u, ok := winners[manifest.KindUnknown]; ok {
			red.Streams[manifest.KindUnknown] = manifest.StripQuery(u.URL)
			red.Kind = manifest.KindUnknown
		}
	}

	if red.Kind != "" {
		red.Manifest = red.Streams[red.Kind]
	}
	if len(red.Streams) == 0 {
		red.Streams = nil
	}
	return red
}

func before(a, b manifest.Candidate) bool {
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.Seq < b.Seq
}
