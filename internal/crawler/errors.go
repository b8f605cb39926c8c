package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Sentinel errors recognized by the job processor. Callers branch with
// errors.Is rather than matching message strings.
var (
	// ErrChallengeDetected means the fetch succeeded but returned an
	// anti-bot interstitial. It is a routing signal, not a failure: the
	// job is re-queued for the rendering-capable worker and the retry
	// counter is untouched.
	ErrChallengeDetected = errors.New("anti-bot challenge detected")

	// ErrRenderingUnavailable is returned by the renderer variant carried
	// by workers without browser access.
	ErrRenderingUnavailable = errors.New("rendering capability unavailable")

	// ErrMissingConfig means the job carries no content selectors, so
	// extraction cannot run. Permanent.
	ErrMissingConfig = errors.New("job is missing content selector configuration")

	// ErrInsufficientContent means the extracted body fell below the
	// minimum word count. Permanent.
	ErrInsufficientContent = errors.New("article below minimum word count")

	// ErrNotEnglish means the document's lang attribute is absent or not
	// an English variant. Permanent.
	ErrNotEnglish = errors.New("not an English article")
)

// FetchError wraps transport-level fetch failures (connection, DNS, timeout,
// rendering timeout). All FetchErrors are retryable.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether an error belongs to the closed set of
// recognized transient network kinds: fetch-layer failures, timeouts,
// connection resets/refusals, and DNS errors. Transient errors are retried
// up to the configured maximum; everything else is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
