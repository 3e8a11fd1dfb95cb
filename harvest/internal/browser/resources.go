package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

// Resource types the capture strategies depend on. They pass regardless of
// configuration.
var neverBlock = map[string]bool{
	"document": true,
	"script":   true,
	"media":    true,
	"xhr":      true,
	"fetch":    true,
	"other":    true,
}

// applyResourceBlocking intercepts requests and aborts the configured
// resource classes. The returned router must be stopped when the page
// closes.
func applyResourceBlocking(page *rod.Page, types []string) (*rod.HijackRouter, error) {
	blockSet := make(map[string]bool, len(types))
	for _, t := range types {
		blockSet[strings.ToLower(t)] = true
	}

	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if shouldBlock(blockSet, string(h.Request.Type()), h.Request.URL().String()) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, err
	}
	go router.Run()
	return router, nil
}

func shouldBlock(blockSet map[string]bool, resType, rawURL string) bool {
	lower := strings.ToLower(resType)
	if neverBlock[lower] {
		return false
	}
	if _, ok := manifest.Classify(rawURL); ok {
		return false
	}

	switch lower {
	case "image":
		return blockSet["images"]
	case "font":
		return blockSet["fonts"]
	case "stylesheet":
		return blockSet["stylesheets"]
	}
	return blockSet[lower]
}
