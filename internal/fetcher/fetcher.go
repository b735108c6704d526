// Package fetcher issues rate-limited HTTP requests to named external
// sources. Each source carries a minimum inter-request interval enforced
// through a distributed limiter when Redis is available, falling back to a
// process-local limiter otherwise. A single-worker pool per source keeps at
// most one request in flight per source.
package fetcher

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mygrocart/price-indexer/internal/adapter"
	"github.com/mygrocart/price-indexer/internal/logger"
)

// userAgents is the rotation pool for bot-sensitive sources
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
}

// Source describes one external retailer endpoint's fetch policy
type Source struct {
	// Name identifies the source in rate-limit keys and logs
	Name string
	// MinInterval is the minimum time between request starts to this source
	MinInterval time.Duration
	// Timeout is the hard per-request deadline
	Timeout time.Duration
	// RotateUserAgent enables round-robin user-agent rotation
	RotateUserAgent bool
	// MinResponseBytes is the sanity threshold below which a 2xx response is
	// treated as suspicious (0 disables the check)
	MinResponseBytes int
}

// Request describes one outbound fetch
type Request struct {
	URL     string
	Query   url.Values
	Headers map[string]string
}

// Fetcher performs single rate-limited requests to named sources
type Fetcher interface {
	// Fetch performs one request to the named source, blocking until the
	// source's rate-limit interval permits it. It never retries.
	Fetch(ctx context.Context, sourceName string, req Request) ([]byte, error)

	// Close shuts down the per-source worker pools
	Close()
}

// Config holds fetcher configuration
type Config struct {
	Sources []Source
	// RedisKeyPrefix namespaces the distributed limiter keys
	RedisKeyPrefix string
	// MaxQueueTime bounds how long a request may wait for a rate-limit slot
	MaxQueueTime time.Duration
}

// fetchResult wraps the outcome of one pooled fetch
type fetchResult struct {
	body []byte
	err  error
}

type sourceState struct {
	cfg     Source
	pool    pond.ResultPool[*fetchResult]
	local   *rate.Limiter
	uaIndex atomic.Uint32
}

type fetcher struct {
	config         Config
	sources        map[string]*sourceState
	http           adapter.HTTPClient
	redisLimiter   adapter.RedisRateLimiter
	redisAvailable atomic.Bool
	clock          adapter.Clock
	closeOnce      sync.Once
}

// New creates a Fetcher. redisLimiter may be nil, in which case only the
// process-local limiter applies (single-process deployments).
func New(cfg Config, httpClient adapter.HTTPClient, redisLimiter adapter.RedisRateLimiter, clock adapter.Clock) (Fetcher, error) {
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("at least one source must be configured")
	}
	if cfg.RedisKeyPrefix == "" {
		cfg.RedisKeyPrefix = "mygrocart:fetcher:"
	}
	if cfg.MaxQueueTime <= 0 {
		cfg.MaxQueueTime = 5 * time.Minute
	}

	sources := make(map[string]*sourceState, len(cfg.Sources))
	for _, src := range cfg.Sources {
		if src.MinInterval <= 0 {
			return nil, fmt.Errorf("source %s: min interval must be positive", src.Name)
		}
		if src.Timeout <= 0 {
			src.Timeout = 10 * time.Second
		}
		sources[src.Name] = &sourceState{
			cfg: src,
			// One worker per source serializes in-flight requests.
			pool:  pond.NewResultPool[*fetchResult](1),
			local: rate.NewLimiter(rate.Every(src.MinInterval), 1),
		}
	}

	f := &fetcher{
		config:       cfg,
		sources:      sources,
		http:         httpClient,
		redisLimiter: redisLimiter,
		clock:        clock,
	}
	f.redisAvailable.Store(redisLimiter != nil)

	logger.Info("Fetcher initialized",
		zap.Int("sources", len(sources)),
		zap.Bool("distributed_limiter", redisLimiter != nil),
	)
	return f, nil
}

func (f *fetcher) Fetch(ctx context.Context, sourceName string, req Request) ([]byte, error) {
	src, ok := f.sources[sourceName]
	if !ok {
		return nil, fmt.Errorf("source '%s' not configured", sourceName)
	}

	queueCtx, cancel := context.WithTimeout(ctx, f.config.MaxQueueTime)
	defer cancel()

	task := src.pool.Submit(func() *fetchResult {
		if err := f.acquireSlot(queueCtx, src); err != nil {
			return &fetchResult{err: &FetchError{Kind: ErrorKindNetwork, Source: sourceName, Err: err}}
		}
		// The rate-limit slot is consumed at request start, so a failed
		// request still counts against the source's budget.
		body, err := f.doRequest(ctx, src, req)
		return &fetchResult{body: body, err: err}
	})

	result, err := task.Wait()
	if err != nil {
		return nil, &FetchError{Kind: ErrorKindNetwork, Source: sourceName, Err: err}
	}
	if result.err != nil {
		return nil, result.err
	}
	return result.body, nil
}

// acquireSlot blocks until the source's minimum interval permits a request
func (f *fetcher) acquireSlot(ctx context.Context, src *sourceState) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if f.redisAvailable.Load() && f.redisLimiter != nil {
			key := f.config.RedisKeyPrefix + src.cfg.Name
			res, err := f.redisLimiter.Allow(ctx, key, redis_rate.Limit{
				Rate:   1,
				Burst:  1,
				Period: src.cfg.MinInterval,
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.redisAvailable.Store(false)
				logger.Warn("Distributed limiter unavailable, falling back to local",
					zap.String("source", src.cfg.Name),
					zap.Error(err),
				)
				continue
			}
			if res.Allowed > 0 {
				return nil
			}

			// Jitter the retry to spread concurrent waiters (50-150%).
			wait := time.Duration(float64(res.RetryAfter) * (0.5 + rand.Float64())) //nolint:gosec
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.clock.After(wait):
			}
			continue
		}

		return src.local.Wait(ctx)
	}
}

func (f *fetcher) doRequest(ctx context.Context, src *sourceState, req Request) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, src.cfg.Timeout)
	defer cancel()

	headers := make(map[string]string, len(req.Headers)+1)
	for k, v := range req.Headers {
		headers[k] = v
	}
	if src.cfg.RotateUserAgent {
		idx := src.uaIndex.Add(1)
		headers["User-Agent"] = userAgents[int(idx)%len(userAgents)]
	}

	start := f.clock.Now()
	resp, err := f.http.Get(reqCtx, req.URL, req.Query, headers)
	if err != nil {
		logger.Warn("Fetch failed",
			zap.String("source", src.cfg.Name),
			zap.Duration("elapsed", f.clock.Since(start)),
			zap.Error(err),
		)
		return nil, &FetchError{Kind: ErrorKindNetwork, Source: src.cfg.Name, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{Kind: ErrorKindStatus, Source: src.cfg.Name, StatusCode: resp.StatusCode}
	}

	if src.cfg.MinResponseBytes > 0 && len(resp.Body) < src.cfg.MinResponseBytes {
		return nil, &FetchError{Kind: ErrorKindSuspiciousResponse, Source: src.cfg.Name, BodySize: len(resp.Body)}
	}

	logger.Debug("Fetch succeeded",
		zap.String("source", src.cfg.Name),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("elapsed", f.clock.Since(start)),
	)
	return resp.Body, nil
}

func (f *fetcher) Close() {
	f.closeOnce.Do(func() {
		for _, src := range f.sources {
			src.pool.StopAndWait()
		}
	})
}
