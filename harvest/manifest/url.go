package manifest

import (
	"net/url"
	"strings"
)

// CanonicalID normalises a page URL into a target identity: lowercase
// scheme and host, default port and fragment dropped, empty path as "/".
// The query string is kept since pages are often keyed by it.
func CanonicalID(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

// StripQuery removes the query string and fragment from a manifest URL so
// that cache-busting and token parameters do not break deduplication.
func StripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

// Classify infers the manifest kind from a URL. ok is false when the URL
// carries no manifest signal at all.
func Classify(raw string) (kind Kind, ok bool) {
	p := strings.ToLower(pathOf(raw))
	switch {
	case strings.Contains(p, ".m3u8"):
		return KindHLS, true
	case strings.Contains(p, ".mpd"):
		return KindDASH, true
	case strings.Contains(p, "manifest"), strings.Contains(p, "playlist"):
		return KindUnknown, true
	}
	return KindUnknown, false
}

// ClassifyMIME maps a response MIME type to a manifest kind.
func ClassifyMIME(mime string) (kind Kind, ok bool) {
	m := strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	switch m {
	case "application/vnd.apple.mpegurl", "application/x-mpegurl", "audio/mpegurl", "audio/x-mpegurl":
		return KindHLS, true
	case "application/dash+xml":
		return KindDASH, true
	}
	return KindUnknown, false
}

// pathOf returns the path component of raw, falling back to the query-less
// string when raw does not parse.
func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return StripQuery(raw)
	}
	if u.Opaque != "" {
		return u.Opaque
	}
	return u.Path
}
