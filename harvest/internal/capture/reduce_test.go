package capture

import (
	"testing"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

func cand(src manifest.Source, kind manifest.Kind, u string, seq int) manifest.Candidate {
	return manifest.Candidate{URL: u, Kind: kind, Source: src, Rank: src.Rank(), Seq: seq}
}

func TestReduce_NetworkOutranksDOM(t *testing.T) {
	red := Reduce([]manifest.Candidate{
		cand(manifest.SourceDOM, manifest.KindHLS, "https://a.example.com/A.m3u8", 0),
		cand(manifest.SourceNetwork, manifest.KindHLS, "https://b.example.com/B.m3u8", 1),
	}, 0)
	if red.Manifest != "https://b.example.com/B.m3u8" {
		t.Fatalf("got %q, want network candidate B", red.Manifest)
	}
	if red.Kind != manifest.KindHLS {
		t.Fatalf("kind: %s", red.Kind)
	}
}

func TestReduce_RetainsBothKinds(t *testing.T) {
	red := Reduce([]manifest.Candidate{
		cand(manifest.SourceNetwork, manifest.KindDASH, "https://cdn.example.com/s.mpd", 0),
		cand(manifest.SourceNetwork, manifest.KindHLS, "https://cdn.example.com/m.m3u8", 1),
	}, 0)
	if len(red.Streams) != 2 {
		t.Fatalf("streams: %v", red.Streams)
	}
	if red.Streams[manifest.KindHLS] != "https://cdn.example.com/m.m3u8" || red.Streams[manifest.KindDASH] != "https://cdn.example.com/s.mpd" {
		t.Fatalf("streams: %v", red.Streams)
	}
	if red.Kind != manifest.KindDASH {
		t.Fatalf("primary should be the earliest winner, got %s", red.Kind)
	}
}

func TestReduce_StripsQueryAndCollapses(t *testing.T) {
	red := Reduce([]manifest.Candidate{
		cand(manifest.SourceNetwork, manifest.KindHLS, "https://cdn.example.com/m.m3u8?token=1", 0),
		cand(manifest.SourceDOM, manifest.KindHLS, "https://cdn.example.com/m.m3u8?token=2", 1),
	}, 0)
	if red.Manifest != "https://cdn.example.com/m.m3u8" {
		t.Fatalf("manifest: %q", red.Manifest)
	}
	if len(red.Trail) != 2 {
		t.Fatalf("trail should keep raw URLs: %+v", red.Trail)
	}
	if red.Trail[0].URL != "https://cdn.example.com/m.m3u8?token=1" {
		t.Fatalf("trail: %+v", red.Trail)
	}
}

func TestReduce_UnknownOnlyWhenNothingBetter(t *testing.T) {
	red := Reduce([]manifest.Candidate{
		cand(manifest.SourceNetwork, manifest.KindUnknown, "https://api.example.com/manifest/1", 0),
		cand(manifest.SourcePlayer, manifest.KindHLS, "https://cdn.example.com/p.m3u8", 1),
	}, 0)
	if red.Kind != manifest.KindHLS || red.Manifest != "https://cdn.example.com/p.m3u8" {
		t.Fatalf("got %s %q", red.Kind, red.Manifest)
	}
	if _, ok := red.Streams[manifest.KindUnknown]; ok {
		t.Fatal("unknown stream should not be retained next to hls")
	}

	red = Reduce([]manifest.Candidate{
		cand(manifest.SourceNetwork, manifest.KindUnknown, "https://api.example.com/manifest/1?x=y", 0),
	}, 0)
	if red.Kind != manifest.KindUnknown || red.Manifest != "https://api.example.com/manifest/1" {
		t.Fatalf("got %s %q", red.Kind, red.Manifest)
	}
}

func TestReduce_Empty(t *testing.T) {
	red := Reduce(nil, 0)
	if red.Found() {
		t.Fatal("empty candidates must not be found")
	}
	if red.Streams != nil {
		t.Fatalf("streams: %v", red.Streams)
	}
}

func TestReduce_TrailCap(t *testing.T) {
	var cands []manifest.Candidate
	for i := 0; i < 10; i++ {
		cands = append(cands, cand(manifest.SourceDOM, manifest.KindHLS, "https://cdn.example.com/"+string(rune('a'+i))+".m3u8", i))
	}
	red := Reduce(cands, 3)
	if len(red.Trail) != 3 {
		t.Fatalf("trail len: %d", len(red.Trail))
	}
}
