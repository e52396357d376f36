package blueprint

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Outcome describes how a fetch was served.
type Outcome string

// Fetch outcomes
const (
	OutcomeFresh       Outcome = "fresh"
	OutcomeNotModified Outcome = "not_modified"
	OutcomeFile        Outcome = "file"
	OutcomeError       Outcome = "error"
)

// Fetcher retrieves blueprint documents from http(s) URLs or local files.
// HTTP sources are fetched conditionally using the validators in its Cache.
type Fetcher struct {
	client  *http.Client
	cache   *Cache
	observe func(Outcome)
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithObserver registers a callback invoked once per fetch attempt.
func WithObserver(fn func(Outcome)) Option {
	return func(f *Fetcher) { f.observe = fn }
}

// NewFetcher creates a Fetcher backed by cache. A nil cache gets a private one.
func NewFetcher(cache *Cache, timeout time.Duration, opts ...Option) *Fetcher {
	if cache == nil {
		cache = NewCache()
	}
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	f := &Fetcher{
		client: &http.Client{Timeout: timeout},
		cache:  cache,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch retrieves and parses the document at source.
func (f *Fetcher) Fetch(ctx context.Context, source string) (*Blueprint, error) {
	body, err := f.FetchBody(ctx, source)
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// FetchBody retrieves the raw document at source.
func (f *Fetcher) FetchBody(ctx context.Context, source string) ([]byte, error) {
	var (
		body    []byte
		outcome Outcome
		err     error
	)
	if path, ok := LocalPath(source); ok {
		body, err = readFile(source, path)
		outcome = OutcomeFile
	} else {
		body, outcome, err = f.fetchHTTP(ctx, source)
	}
	if err != nil {
		outcome = OutcomeError
	}
	if f.observe != nil {
		f.observe(outcome)
	}
	return body, err
}

func (f *Fetcher) fetchHTTP(ctx context.Context, uri string) ([]byte, Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", &FetchError{URI: uri, Err: err}
	}

	cached, hasCached := f.cache.Get(uri)
	if hasCached {
		if cached.ETag != "" {
			req.Header.Set("If-None-Match", cached.ETag)
		}
		if cached.LastModified != "" {
			req.Header.Set("If-Modified-Since", cached.LastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", &FetchError{URI: uri, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if !hasCached {
			return nil, "", &FetchError{URI: uri, Status: resp.StatusCode, Err: errors.New("not modified without a cached body")}
		}
		log.Debug().Str("source", uri).Msg("Blueprint not modified, using cached copy")
		return cached.Body, OutcomeNotModified, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &FetchError{URI: uri, Status: resp.StatusCode, Err: errors.New(resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", &FetchError{URI: uri, Err: err}
	}

	entry := CacheEntry{
		ETag:         cached.ETag,
		LastModified: cached.LastModified,
		Body:         body,
	}
	if v := resp.Header.Get("ETag"); v != "" {
		entry.ETag = v
	}
	if v := resp.Header.Get("Last-Modified"); v != "" {
		entry.LastModified = v
	}
	f.cache.Put(uri, entry)

	log.Debug().
		Str("source", uri).
		Int("bytes", len(body)).
		Str("etag", entry.ETag).
		Msg("Blueprint fetched")
	return body, OutcomeFresh, nil
}

func readFile(source, path string) ([]byte, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, &FetchError{URI: source, Err: err}
	}
	return body, nil
}

// LocalPath returns the filesystem path for file:// and bare-path sources.
func LocalPath(source string) (string, bool) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return "", false
	case strings.HasPrefix(source, "file://"):
		return strings.TrimPrefix(source, "file://"), true
	default:
		return source, true
	}
}
