package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HendryAvila/docket/internal/doc"
	"github.com/HendryAvila/docket/internal/failure"
)

const (
	DefaultMaxAttempts    = 3
	DefaultBackoff        = 250 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultAttemptTimeout = 15 * time.Second
	maxRedirects          = 10
)

// For testing: allow overriding how the retry loop waits.
var sleepCtx = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RemoteOptions configure the HTTPS fetcher. Zero values take defaults.
type RemoteOptions struct {
	MaxAttempts    int
	Backoff        time.Duration
	MaxBackoff     time.Duration
	AttemptTimeout time.Duration
	MaxBytes       int64
	// RequestsPerSecond throttles all requests of this fetcher. Zero means
	// unlimited.
	RequestsPerSecond float64
	UserAgent         string
	// HTTPClient is copied; its CheckRedirect is replaced.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Remote fetches documents over HTTPS with bounded retries. Network errors,
// timeouts, 408, 429 and 5xx responses are retried with exponential
// backoff. 404, 410 and other client errors fail permanently on the first
// attempt.
type Remote struct {
	opts    RemoteOptions
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewRemote(opts RemoteOptions) *Remote {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = DefaultMaxBackoff
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxDocumentBytes
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "docket"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	client := &http.Client{}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		client = &c
	}
	client.CheckRedirect = checkRedirect

	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}

	return &Remote{
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		logger:  opts.Logger,
	}
}

func (r *Remote) Source() doc.Source { return doc.SourceRemote }

// Fetch runs the retry loop for ref.
func (r *Remote) Fetch(ctx context.Context, ref doc.Ref) doc.Outcome {
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			lastErr = failure.Wrap(err, failure.CategoryNetworkTransient, "rate_wait", "", true)
			break
		}
		attempts = attempt

		body, retryAfter, err := r.once(ctx, ref.Locator)
		if err == nil {
			return doc.Succeeded(body, attempt)
		}
		lastErr = err
		r.logger.Debug("remote attempt failed",
			zap.String("url", ref.Locator),
			zap.Int("attempt", attempt),
			zap.Bool("retryable", failure.RetryableOf(err)),
			zap.Error(err))

		if !failure.RetryableOf(err) {
			return doc.OutcomeFromError(err, attempt)
		}
		if attempt == r.opts.MaxAttempts {
			break
		}
		if err := sleepCtx(ctx, r.delay(attempt, retryAfter)); err != nil {
			break
		}
	}
	r.logger.Info("remote fetch gave up",
		zap.String("url", ref.Locator),
		zap.Int("attempts", attempts),
		zap.Error(lastErr))
	return doc.OutcomeFromError(lastErr, attempts)
}

// delay is the wait before the attempt following attempt. A server-sent
// Retry-After takes precedence; both are capped by MaxBackoff.
func (r *Remote) delay(attempt int, retryAfter time.Duration) time.Duration {
	d := r.opts.Backoff << (attempt - 1)
	if retryAfter > 0 {
		d = retryAfter
	}
	if d <= 0 || d > r.opts.MaxBackoff {
		d = r.opts.MaxBackoff
	}
	return d
}

func (r *Remote) once(ctx context.Context, rawURL string) ([]byte, time.Duration, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.opts.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, failure.Wrap(fmt.Errorf("creating request: %w", err), failure.CategoryInvalidInput, "bad_url", "", false)
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)
	req.Header.Set("Accept", "text/markdown, text/plain;q=0.9, text/html;q=0.8, */*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, classifyTransportError(ctx, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, retryAfter(resp), err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.opts.MaxBytes+1))
	if err != nil {
		return nil, 0, classifyTransportError(ctx, fmt.Errorf("reading body: %w", err))
	}
	if int64(len(body)) > r.opts.MaxBytes {
		return nil, 0, tooLarge(rawURL, r.opts.MaxBytes)
	}
	return body, 0, nil
}

func classifyStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound || code == http.StatusGone:
		return failure.Wrap(fmt.Errorf("GET %s returned %d", resp.Request.URL, code),
			failure.CategoryNotFound, "http_not_found", "", false)
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return failure.Wrap(fmt.Errorf("GET %s returned %d", resp.Request.URL, code),
			failure.CategoryNetworkTransient, "http_"+strconv.Itoa(code), "", true)
	default:
		return failure.Wrap(fmt.Errorf("GET %s returned %d", resp.Request.URL, code),
			failure.CategoryNetworkPermanent, "http_"+strconv.Itoa(code), "", false)
	}
}

func classifyTransportError(parent context.Context, err error) error {
	if failure.CategoryOf(err) != "" {
		return err
	}
	if parent.Err() != nil {
		return failure.Wrap(err, failure.CategoryNetworkTransient, "cancelled", "", true)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return failure.Wrap(err, failure.CategoryNetworkTransient, "timeout", "", true)
	}
	return failure.Wrap(err, failure.CategoryNetworkTransient, "network", "", true)
}

// retryAfter parses the Retry-After header as seconds or an HTTP date.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// checkRedirect refuses redirects that leave https or that the request's
// URLCheck rejects.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return failure.Wrap(fmt.Errorf("stopped after %d redirects", maxRedirects),
			failure.CategoryNetworkPermanent, "too_many_redirects", "", false)
	}
	if req.URL.Scheme != "https" {
		return failure.Wrap(fmt.Errorf("redirect to %s leaves https", req.URL),
			failure.CategoryPolicyBlocked, "redirect_scheme", "", false)
	}
	if check := urlCheckFrom(req.Context()); check != nil {
		if err := check(req.URL.String()); err != nil {
			return failure.Wrap(fmt.Errorf("redirect to %s: %w", req.URL, err),
				failure.CategoryPolicyBlocked, "redirect_denied", "", false)
		}
	}
	return nil
}
