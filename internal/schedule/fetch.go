package schedule

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"golang.org/x/sync/errgroup"

	"github.com/starford/talkdrop/internal/checksum"
	"github.com/starford/talkdrop/internal/parser"
)

const maxScheduleBytes = 64 << 20

// Options configures a Fetcher.
type Options struct {
	// UserAgent is sent with remote requests.
	UserAgent string
	// CacheDir holds the HTTP cache. Empty keeps the cache in memory.
	CacheDir string
	// Timeout bounds a single remote request. Zero means no limit.
	Timeout time.Duration
	// Transport overrides the underlying round tripper (tests).
	Transport http.RoundTripper
}

// Result is the outcome of fetching one source.
type Result struct {
	Source   Source
	Document *parser.Document
	// Reused is true when the bytes were unchanged since the previous
	// fetch and the earlier parse was returned.
	Reused bool
}

type memo struct {
	sum string
	doc *parser.Document
}

// Fetcher loads schedule documents. Remote requests go through an HTTP cache
// so unchanged documents are revalidated with If-Modified-Since / ETag.
type Fetcher struct {
	client    *http.Client
	userAgent string
	logger    *slog.Logger

	mu   sync.Mutex
	seen map[string]memo
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts Options, logger *slog.Logger) *Fetcher {
	var cache httpcache.Cache
	if opts.CacheDir != "" {
		cache = diskcache.New(opts.CacheDir)
	} else {
		cache = httpcache.NewMemoryCache()
	}
	transport := httpcache.NewTransport(cache)
	if opts.Transport != nil {
		transport.Transport = opts.Transport
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = "talkdrop"
	}
	return &Fetcher{
		client:    &http.Client{Transport: transport, Timeout: opts.Timeout},
		userAgent: ua,
		logger:    logger,
		seen:      make(map[string]memo),
	}
}

// FetchAll fetches every source concurrently. Results keep the order of
// sources. If any source fails the whole call fails.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]Result, error) {
	results := make([]Result, len(sources))
	g, gCtx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			res, err := f.Fetch(gCtx, src)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Fetch loads and parses a single source.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (Result, error) {
	var (
		data []byte
		err  error
	)
	if src.Remote() {
		data, err = f.get(ctx, src)
	} else {
		data, err = os.ReadFile(src.Path)
		if err != nil {
			err = fmt.Errorf("schedule: read %s: %w", src.Path, err)
		}
	}
	if err != nil {
		return Result{}, err
	}

	sum := checksum.Sum(data)
	f.mu.Lock()
	prev, ok := f.seen[src.Location]
	f.mu.Unlock()
	if ok && prev.sum == sum {
		f.logger.Debug("schedule: unchanged, reusing parse", slog.String("source", src.Location))
		return Result{Source: src, Document: prev.doc, Reused: true}, nil
	}

	doc, err := parser.Parse(data)
	if err != nil {
		return Result{}, fmt.Errorf("schedule: %s: %w", src.Location, err)
	}

	f.mu.Lock()
	f.seen[src.Location] = memo{sum: sum, doc: doc}
	f.mu.Unlock()
	return Result{Source: src, Document: doc}, nil
}

func (f *Fetcher) get(ctx context.Context, src Source) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("schedule: build request for %s: %w", src.Location, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("schedule: get %s: %w", src.Location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("schedule: get %s: HTTP %d", src.Location, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScheduleBytes+1))
	if err != nil {
		return nil, fmt.Errorf("schedule: read body of %s: %w", src.Location, err)
	}
	if len(data) > maxScheduleBytes {
		return nil, fmt.Errorf("schedule: %s exceeds %d bytes", src.Location, maxScheduleBytes)
	}

	f.logger.Debug("schedule: fetched",
		slog.String("source", src.Location),
		slog.Bool("from_cache", resp.Header.Get(httpcache.XFromCache) != ""),
		slog.Int("bytes", len(data)))
	return data, nil
}
