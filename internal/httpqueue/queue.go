// Package httpqueue is the process-wide seam for outbound HTTP calls.
//
// Requests sharing a queue key (typically an API token) run one at a time,
// optionally paced by a minimum interval. Requests with different keys, or
// without a key, run independently. When a provider answers with a rate-limit
// response the request sleeps for the provider supplied delay plus a safety
// margin and is sent again; any other failure is returned to the caller.
package httpqueue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	ferrors "git.home.luguber.info/inful/washer/internal/foundation/errors"
	"git.home.luguber.info/inful/washer/internal/logfields"
	"git.home.luguber.info/inful/washer/internal/metrics"
	"git.home.luguber.info/inful/washer/internal/retry"
)

// DefaultRetryAfter is used when a rate-limit response carries no Retry-After.
const DefaultRetryAfter = 5 * time.Second

// Request is a replayable HTTP request.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Get is shorthand for a GET Request.
func Get(url string) Request {
	return Request{Method: http.MethodGet, URL: url}
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RetryFunc inspects a response and reports whether the request was rate
// limited and how long to wait before sending it again.
type RetryFunc func(resp *http.Response) (time.Duration, bool)

// StatusError is returned for non-2xx responses that are not retried.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// Options configures a Queue.
type Options struct {
	Client    *http.Client
	UserAgent string
	// Margin is added to every provider supplied delay.
	Margin time.Duration
	// MinInterval paces requests that share a key. Zero disables pacing.
	MinInterval time.Duration
	Recorder    metrics.Recorder
	Logger      *slog.Logger
	Sleep       retry.Sleeper
}

// Queue serializes requests per key.
type Queue struct {
	client    *http.Client
	userAgent string
	margin    time.Duration
	interval  time.Duration
	recorder  metrics.Recorder
	logger    *slog.Logger
	sleep     retry.Sleeper

	mu    sync.Mutex
	lanes map[string]*lane
}

type lane struct {
	mu      sync.Mutex
	limiter *rate.Limiter
}

// New creates a Queue.
func New(opts Options) *Queue {
	q := &Queue{
		client:    opts.Client,
		userAgent: opts.UserAgent,
		margin:    opts.Margin,
		interval:  opts.MinInterval,
		recorder:  metrics.OrNoop(opts.Recorder),
		logger:    opts.Logger,
		sleep:     opts.Sleep,
		lanes:     map[string]*lane{},
	}
	if q.client == nil {
		q.client = &http.Client{Timeout: 30 * time.Second}
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	if q.sleep == nil {
		q.sleep = retry.Sleep
	}
	return q
}

// Client returns the underlying HTTP client.
func (q *Queue) Client() *http.Client { return q.client }

func (q *Queue) lane(key string) *lane {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.lanes[key]
	if !ok {
		l = &lane{}
		if q.interval > 0 {
			l.limiter = rate.NewLimiter(rate.Every(q.interval), 1)
		}
		q.lanes[key] = l
	}
	return l
}

// acquire blocks until the key's lane is free. The returned func releases it.
func (q *Queue) acquire(ctx context.Context, key string) (func(), error) {
	if key == "" {
		return func() {}, nil
	}
	l := q.lane(key)
	l.mu.Lock()
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			l.mu.Unlock()
			return nil, err
		}
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// RetryAfter returns the default RetryFunc: 429 responses, and 503 responses
// carrying Retry-After, wait for the header value plus margin.
func RetryAfter(margin time.Duration) RetryFunc {
	return func(resp *http.Response) (time.Duration, bool) {
		ra := resp.Header.Get("Retry-After")
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
		case resp.StatusCode == http.StatusServiceUnavailable && ra != "":
		default:
			return 0, false
		}
		d, ok := parseRetryAfter(ra, time.Now())
		if !ok {
			d = DefaultRetryAfter
		}
		return d + margin, true
	}
}

func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(t.Sub(now), 0), true
	}
	return 0, false
}

// Do sends req through the lane for key and reads the whole response. owner
// names the calling stage for logs. A nil onRetry uses RetryAfter.
func (q *Queue) Do(ctx context.Context, owner, key string, req Request, onRetry RetryFunc) (*Response, error) {
	resp, err := q.Stream(ctx, owner, key, req, onRetry)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "read response").
			Retryable().WithContext("url", req.URL).Build()
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Stream is Do without reading the body. The key's lane stays held until the
// body is closed.
func (q *Queue) Stream(ctx context.Context, owner, key string, req Request, onRetry RetryFunc) (*http.Response, error) {
	if onRetry == nil {
		onRetry = RetryAfter(q.margin)
	}
	release, err := q.acquire(ctx, key)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		resp, err := q.send(ctx, req)
		if err != nil {
			release()
			return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "request failed").
				Retryable().WithContext("url", req.URL).Build()
		}
		if delay, limited := onRetry(resp); limited {
			drain(resp)
			q.recorder.ObserveRateLimitWait(delay)
			q.logger.Info("Rate limited, waiting before retry",
				logfields.StageID(owner), logfields.QueueKey(redactKey(key)),
				logfields.URL(req.URL), logfields.Delay(delay), logfields.Attempt(attempt))
			if err := q.sleep(ctx, delay); err != nil {
				release()
				return nil, err
			}
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			release()
			return nil, &StatusError{URL: req.URL, StatusCode: resp.StatusCode, Body: string(body)}
		}
		resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
		return resp, nil
	}
}

func (q *Queue) send(ctx context.Context, req Request) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if q.userAgent != "" && hr.Header.Get("User-Agent") == "" {
		hr.Header.Set("User-Agent", q.userAgent)
	}
	return q.client.Do(hr)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

// redactKey keeps a token recognisable in logs without leaking it.
func redactKey(key string) string {
	if len(key) <= 6 {
		return key
	}
	return key[:3] + "..." + key[len(key)-3:]
}
