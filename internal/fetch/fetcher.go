// Package fetch implements the hybrid fetch strategy: a lightweight HTTP
// fetch first, escalating to full browser rendering when an anti-bot
// challenge is detected or the network path fails.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/newsharvest/crawld/internal/crawler"
	"github.com/newsharvest/crawld/internal/metrics"
)

// Config controls the lightweight HTTP path.
type Config struct {
	UserAgent      string
	RequestTimeout time.Duration
	Concurrency    int
}

// Substrings that mark an anti-bot interstitial rather than real content.
// Matched case-insensitively against the response body.
var challengeMarkers = []string{
	"checking your browser",
	"just a moment...",
	"attention required! | cloudflare",
	"cf-challenge",
	"cf_chl_opt",
	"verify you are human",
	"ddos-guard",
	"enable javascript and cookies to continue",
}

// Strategy implements crawler.Fetcher. Lightweight fetches go through a
// Colly collector; escalation goes through the injected renderer, which is
// render.Unavailable on workers without browser access.
type Strategy struct {
	baseCollector *colly.Collector
	renderer      crawler.Renderer
	logger        *zap.Logger
}

// New constructs a Strategy around a configured Colly collector.
func New(cfg Config, renderer crawler.Renderer, logger *zap.Logger) (*Strategy, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	base := colly.NewCollector(
		colly.Async(true),
		colly.UserAgent(cfg.UserAgent),
	)
	base.AllowURLRevisit = true
	// Anti-bot interstitials usually arrive with a 403/503 status. Parse
	// error-status bodies so the challenge check below sees them; a plain
	// error page simply flows on to extraction and fails there.
	base.ParseHTTPErrorResponse = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		MaxConnsPerHost:       cfg.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.RequestTimeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.RequestTimeout)

	return &Strategy{
		baseCollector: base,
		renderer:      renderer,
		logger:        logger,
	}, nil
}

// Fetch returns the HTML document for url. The lightweight path always runs
// first; a challenge response or a transport failure escalates to the
// renderer when one is available. Without a renderer, a challenge surfaces
// as crawler.ErrChallengeDetected so the caller can flag the job for the
// rendering-capable worker, and a transport failure surfaces as a
// crawler.FetchError so the caller can classify it as transient.
func (s *Strategy) Fetch(ctx context.Context, url string) (string, error) {
	body, err := s.httpGet(ctx, url)
	if err != nil {
		metrics.FetchesTotal.WithLabelValues("http", "error").Inc()
		return s.renderFallback(ctx, url, err)
	}

	if looksLikeChallenge(body) {
		metrics.ChallengesDetectedTotal.Inc()
		return s.renderChallenge(ctx, url)
	}

	metrics.FetchesTotal.WithLabelValues("http", "ok").Inc()
	return body, nil
}

// renderChallenge handles a successful fetch that returned an interstitial.
func (s *Strategy) renderChallenge(ctx context.Context, url string) (string, error) {
	html, err := s.renderer.Render(ctx, url)
	if err == nil {
		metrics.FetchesTotal.WithLabelValues("render", "ok").Inc()
		s.logger.Info("challenge bypassed via browser render", zap.String("url", url))
		return html, nil
	}
	if errors.Is(err, crawler.ErrRenderingUnavailable) {
		return "", fmt.Errorf("%s: %w", url, crawler.ErrChallengeDetected)
	}
	metrics.FetchesTotal.WithLabelValues("render", "error").Inc()
	return "", &crawler.FetchError{URL: url, Err: err}
}

// renderFallback handles a lightweight transport failure.
func (s *Strategy) renderFallback(ctx context.Context, url string, fetchErr error) (string, error) {
	html, err := s.renderer.Render(ctx, url)
	if err == nil {
		metrics.FetchesTotal.WithLabelValues("render", "ok").Inc()
		s.logger.Info("http fetch failed, recovered via browser render",
			zap.String("url", url),
			zap.NamedError("http_error", fetchErr),
		)
		return html, nil
	}
	if errors.Is(err, crawler.ErrRenderingUnavailable) {
		// Propagate the original network failure for transient classification.
		return "", &crawler.FetchError{URL: url, Err: fetchErr}
	}
	metrics.FetchesTotal.WithLabelValues("render", "error").Inc()
	return "", &crawler.FetchError{URL: url, Err: err}
}

type fetchResult struct {
	body []byte
	err  error
}

// httpGet performs one lightweight request through a clone of the base
// collector, with realistic browser Accept headers.
func (s *Strategy) httpGet(ctx context.Context, url string) (string, error) {
	collector := s.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept",
			"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{body: append([]byte{}, r.Body...)})
	})
	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(url); err != nil {
		return "", err
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if res.err != nil {
			return "", res.err
		}
		return string(res.body), nil
	default:
		return "", errors.New("fetch produced no result")
	}
}

func looksLikeChallenge(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range challengeMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
