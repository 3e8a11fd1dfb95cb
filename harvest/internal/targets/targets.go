// Package targets loads the list of content pages to harvest.
//
// The list comes from a local file or an http(s) URL and may be JSON or
// YAML. Its shape is whatever the catalogue exporter produced, so parsing
// is lenient: a bare list, or a list nested under a well-known key, with
// each entry's fields looked up under several common names. Entries that
// carry no usable page URL are skipped and counted, never fatal.
package targets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

// maxDocument caps the size of a target document.
const maxDocument = 32 << 20

var (
	listKeys     = []string{"targets", "items", "videos", "entries", "data"}
	urlKeys      = []string{"url", "link", "href", "page_url"}
	titleKeys    = []string{"title", "name"}
	durationKeys = []string{"duration", "length_seconds"}
	uploadKeys   = []string{"uploaded_at", "upload_time", "published", "timestamp", "date"}
)

// Loader reads target documents.
type Loader struct {
	client  *http.Client
	ua      string
	retries int
	backoff time.Duration
	logger  *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithClient sets a custom HTTP client.
func WithClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithUserAgent sets the User-Agent header for remote documents.
func WithUserAgent(ua string) Option {
	return func(l *Loader) { l.ua = ua }
}

// WithRetries sets how many times a remote fetch is retried after a
// transport error or a 5xx status, and the first backoff delay.
func WithRetries(n int, backoff time.Duration) Option {
	return func(l *Loader) { l.retries, l.backoff = n, backoff }
}

// WithLogger sets a custom logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loader) { l.logger = lg }
}

// New creates a Loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		client:  &http.Client{Timeout: 60 * time.Second},
		ua:      "harvester/1.0",
		retries: 3,
		backoff: time.Second,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load reads src (path or http(s) URL) and parses it. skipped counts the
// entries that were malformed or duplicated.
func (l *Loader) Load(ctx context.Context, src string) (ts []manifest.Target, skipped int, err error) {
	var data []byte
	if isRemote(src) {
		data, err = l.fetch(ctx, src)
	} else {
		data, err = readFile(src)
	}
	if err != nil {
		return nil, 0, err
	}

	ts, skipped, err = Parse(data)
	if err != nil {
		return nil, 0, fmt.Errorf("targets: %s: %w", src, err)
	}
	l.logger.Info("targets: loaded", "source", src, "targets", len(ts), "skipped", skipped)
	return ts, skipped, nil
}

func isRemote(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("targets: open: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxDocument+1))
	if err != nil {
		return nil, fmt.Errorf("targets: read %s: %w", path, err)
	}
	if len(data) > maxDocument {
		return nil, fmt.Errorf("targets: %s exceeds %d bytes", path, maxDocument)
	}
	return data, nil
}

func (l *Loader) fetch(ctx context.Context, src string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= l.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(l.backoff << uint(attempt-1)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		data, retry, err := l.fetchOnce(ctx, src)
		if err == nil {
			return data, nil
		}
		if !retry || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		l.logger.Warn("targets: fetch failed", "url", src, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("targets: all retries exhausted: %w", lastErr)
}

func (l *Loader) fetchOnce(ctx context.Context, src string) (data []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, false, fmt.Errorf("targets: new request: %w", err)
	}
	req.Header.Set("User-Agent", l.ua)
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9, */*;q=0.5")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("targets: do: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("targets: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("targets: status %d", resp.StatusCode)
	}
	data, err = io.ReadAll(io.LimitReader(resp.Body, maxDocument+1))
	if err != nil {
		return nil, true, fmt.Errorf("targets: read body: %w", err)
	}
	if len(data) > maxDocument {
		return nil, false, fmt.Errorf("targets: document exceeds %d bytes", maxDocument)
	}
	return data, false, nil
}

// Parse decodes a JSON or YAML target document.
func Parse(data []byte) (ts []manifest.Target, skipped int, err error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("decode: %w", err)
	}
	list, err := entries(doc)
	if err != nil {
		return nil, 0, err
	}

	seen := make(map[string]bool, len(list))
	for _, raw := range list {
		t, ok := toTarget(raw)
		if !ok || seen[t.ID] {
			skipped++
			continue
		}
		seen[t.ID] = true
		ts = append(ts, t)
	}
	return ts, skipped, nil
}

func entries(doc any) ([]any, error) {
	switch v := doc.(type) {
	case nil:
		return nil, nil
	case []any:
		return v, nil
	case map[string]any:
		for _, k := range listKeys {
			if list, ok := v[k].([]any); ok {
				return list, nil
			}
		}
		return nil, errors.New("no target list found (expected a list or one of targets, items, videos, entries, data)")
	}
	return nil, fmt.Errorf("unexpected document type %T", doc)
}

func toTarget(raw any) (manifest.Target, bool) {
	var m map[string]any
	switch v := raw.(type) {
	case string:
		m = map[string]any{"url": v}
	case map[string]any:
		m = v
	default:
		return manifest.Target{}, false
	}

	u := strings.TrimSpace(str(first(m, urlKeys)))
	if !validURL(u) {
		return manifest.Target{}, false
	}
	id, err := manifest.CanonicalID(u)
	if err != nil {
		return manifest.Target{}, false
	}
	return manifest.Target{
		ID:         id,
		URL:        u,
		Title:      strings.TrimSpace(str(first(m, titleKeys))),
		Duration:   seconds(first(m, durationKeys)),
		UploadedAt: str(first(m, uploadKeys)),
	}, true
}

func validURL(s string) bool {
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func first(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// seconds accepts a number of seconds or a clock string (SS, MM:SS,
// HH:MM:SS). Anything else yields 0.
func seconds(v any) int {
	switch x := v.(type) {
	case int:
		return max(x, 0)
	case float64:
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return 0
		}
		return int(math.Round(x))
	case string:
		return clock(strings.TrimSpace(x))
	}
	return 0
}

func clock(s string) int {
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0
	}
	total := 0
	for i, p := range parts {
		if i == len(parts)-1 {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil || f < 0 {
				return 0
			}
			total = total*60 + int(math.Round(f))
			break
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return total
}
