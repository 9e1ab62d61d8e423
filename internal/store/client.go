package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ppiankov/annorepair/internal/apperr"
	"github.com/ppiankov/annorepair/internal/cache"
	"github.com/ppiankov/annorepair/internal/model"
	"github.com/ppiankov/annorepair/internal/worker"
)

const (
	defaultKeepAlive   = 30 * time.Second
	defaultIdleTimeout = 90 * time.Second
	maxResponseBytes   = 32 << 20
	maxErrorBody       = 512

	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 2 * time.Second
)

// storeSleepFunc waits between retries (injectable for tests)
var storeSleepFunc = sleepContext

// Options configures a Client
type Options struct {
	BaseURL        string
	Container      string
	Token          string
	UserAgent      string
	BatchPath      string
	MaxRetries     int // retries for idempotent reads on 429/5xx and connection errors
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
	PageTimeout    time.Duration
	HTTPProxy      string
	HTTPSProxy     string
	NoProxy        string
}

// OptionsFromConfig builds client options from the application config
func OptionsFromConfig(cfg *model.Config) Options {
	return Options{
		BaseURL:        cfg.Store.BaseURL,
		Container:      cfg.Store.Container,
		Token:          cfg.Store.Token,
		UserAgent:      cfg.Store.UserAgent,
		BatchPath:      cfg.Store.BatchPath,
		MaxRetries:     cfg.Store.MaxRetries,
		RequestTimeout: cfg.Timeouts.Request,
		ProbeTimeout:   cfg.Timeouts.Probe,
		PageTimeout:    cfg.Timeouts.Page,
		HTTPProxy:      cfg.Store.HTTPProxy,
		HTTPSProxy:     cfg.Store.HTTPSProxy,
		NoProxy:        cfg.Store.NoProxy,
	}
}

// Observer receives one call per HTTP exchange; status is 0 when no response arrived
type Observer interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
}

// Client performs optimistic-concurrency CRUD against the annotation store
type Client struct {
	httpClient *http.Client
	opts       Options
	collection string
	etags      *cache.ETagCache
	limiter    *worker.Limiter
	observer   Observer
	log        zerolog.Logger
}

// Option customizes a Client
type Option func(*Client)

// WithLimiter paces every request through l
func WithLimiter(l *worker.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithObserver reports request outcomes to o
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client. A nil cache gets a fresh one with the default TTL.
func New(opts Options, etags *cache.ETagCache, options ...Option) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 8 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "annorepair/0.1"
	}
	if opts.BatchPath == "" {
		opts.BatchPath = "batch-create"
	}
	if etags == nil {
		etags = cache.NewETagCache(cache.DefaultETagTTL)
	}

	c := &Client{
		httpClient: newHTTPClient(opts.HTTPProxy, opts.HTTPSProxy, opts.NoProxy),
		opts:       opts,
		collection: CollectionURL(opts.BaseURL, opts.Container),
		etags:      etags,
		log:        zerolog.Nop(),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// CollectionURL returns {base}/w3c/{container}/
func CollectionURL(base, container string) string {
	return strings.TrimRight(base, "/") + "/w3c/" + strings.Trim(container, "/") + "/"
}

// Collection returns the container URL annotations are created in
func (c *Client) Collection() string {
	return c.collection
}

// ETags exposes the token cache shared by all operations of this client
func (c *Client) ETags() *cache.ETagCache {
	return c.etags
}

// Read fetches an annotation and records its ETag
func (c *Client) Read(ctx context.Context, id string) (*model.Annotation, error) {
	return c.read(ctx, id, c.opts.RequestTimeout)
}

func (c *Client) read(ctx context.Context, id string, timeout time.Duration) (*model.Annotation, error) {
	u := c.resourceURL(id)
	resp, err := c.send(ctx, request{method: http.MethodGet, url: u, timeout: timeout, retry: true})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	if !isSuccess(resp.status) {
		return nil, c.statusError(http.MethodGet, u, resp)
	}

	a, err := decodeAnnotation(resp.body)
	if err != nil {
		return nil, fmt.Errorf("read %s: decode: %w: %w", id, apperr.ErrUpstream, err)
	}
	a.ETag = resp.header.Get("ETag")
	c.etags.Put(id, a.ETag)
	return a, nil
}

// CurrentETag returns the resource's current token, preferring the cache, then HEAD,
// then a full read when HEAD is unsupported or carries no token. It reports false
// when the resource is gone or unreachable; callers must not mutate it then.
func (c *Client) CurrentETag(ctx context.Context, id string) (string, bool) {
	if etag, ok := c.etags.Get(id); ok {
		return etag, true
	}

	etag, exists, err := c.head(ctx, id)
	switch {
	case err == nil && !exists:
		return "", false
	case err == nil && etag != "":
		c.etags.Put(id, etag)
		return etag, true
	case err != nil && !errors.Is(err, errHeadUnsupported):
		c.log.Debug().Err(err).Str("id", id).Msg("etag probe failed")
		return "", false
	}

	a, err := c.read(ctx, id, c.opts.ProbeTimeout)
	if err != nil || a.ETag == "" {
		c.log.Debug().Err(err).Str("id", id).Msg("etag read fallback failed")
		return "", false
	}
	return a.ETag, true
}

// FreshETag drops any cached token for id and asks the store again
func (c *Client) FreshETag(ctx context.Context, id string) (string, bool) {
	c.etags.Invalidate(id)
	return c.CurrentETag(ctx, id)
}

// Exists probes whether id still resolves
func (c *Client) Exists(ctx context.Context, id string) (bool, error) {
	etag, exists, err := c.head(ctx, id)
	if errors.Is(err, errHeadUnsupported) {
		_, err = c.read(ctx, id, c.opts.ProbeTimeout)
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", id, err)
	}
	if exists {
		c.etags.Put(id, etag)
	}
	return exists, nil
}

func (c *Client) head(ctx context.Context, id string) (string, bool, error) {
	u := c.resourceURL(id)
	resp, err := c.send(ctx, request{method: http.MethodHead, url: u, timeout: c.opts.ProbeTimeout, retry: true})
	if err != nil {
		return "", false, err
	}
	switch {
	case isSuccess(resp.status):
		return resp.header.Get("ETag"), true, nil
	case resp.status == http.StatusNotFound || resp.status == http.StatusGone:
		return "", false, nil
	case resp.status == http.StatusMethodNotAllowed || resp.status == http.StatusNotImplemented:
		return "", false, errHeadUnsupported
	default:
		return "", false, c.statusError(http.MethodHead, u, resp)
	}
}

// Update replaces the annotation in place, guarded by etag
func (c *Client) Update(ctx context.Context, a *model.Annotation, etag string) (*model.Annotation, error) {
	if etag == "" {
		return nil, fmt.Errorf("update %s: %w", a.ID, ErrNoETag)
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("update %s: encode: %w", a.ID, err)
	}

	u := c.resourceURL(a.ID)
	resp, err := c.send(ctx, request{
		method:  http.MethodPut,
		url:     u,
		headers: map[string]string{"If-Match": etag},
		body:    payload,
		timeout: c.opts.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", a.ID, err)
	}
	if resp.status == http.StatusPreconditionFailed {
		c.etags.Invalidate(a.ID)
		return nil, &ConflictError{ID: a.ID, ETag: etag}
	}
	if !isSuccess(resp.status) {
		return nil, c.statusError(http.MethodPut, u, resp)
	}

	out := a.Clone()
	if len(bytes.TrimSpace(resp.body)) > 0 {
		if decoded, err := decodeAnnotation(resp.body); err == nil {
			out = decoded
		}
	}
	out.ETag = resp.header.Get("ETag")
	if out.ETag != "" {
		c.etags.Put(a.ID, out.ETag)
	} else {
		c.etags.Invalidate(a.ID)
	}
	return out, nil
}

// Create posts a new annotation to the collection. Creation is never retried.
func (c *Client) Create(ctx context.Context, a *model.Annotation) (*model.Annotation, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("create: encode: %w", err)
	}

	resp, err := c.send(ctx, request{method: http.MethodPost, url: c.collection, body: payload, timeout: c.opts.RequestTimeout})
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	if !isSuccess(resp.status) {
		return nil, c.statusError(http.MethodPost, c.collection, resp)
	}

	out := a.Clone()
	if len(bytes.TrimSpace(resp.body)) > 0 {
		decoded, err := decodeAnnotation(resp.body)
		if err != nil {
			return nil, fmt.Errorf("create: decode: %w: %w", apperr.ErrUpstream, err)
		}
		out = decoded
	}
	if out.ID == "" {
		out.ID = resp.header.Get("Location")
	}
	if out.ID == "" {
		return nil, fmt.Errorf("create: %w: response carried no id", apperr.ErrUpstream)
	}
	out.ETag = resp.header.Get("ETag")
	c.etags.Put(out.ID, out.ETag)
	return out, nil
}

// CreateBatch creates several annotations in one request. Results align with the input.
func (c *Client) CreateBatch(ctx context.Context, as []*model.Annotation) ([]*model.Annotation, error) {
	switch len(as) {
	case 0:
		return nil, nil
	case 1:
		created, err := c.Create(ctx, as[0])
		if err != nil {
			return nil, err
		}
		return []*model.Annotation{created}, nil
	}

	payload, err := json.Marshal(as)
	if err != nil {
		return nil, fmt.Errorf("batch create: encode: %w", err)
	}
	u := c.collection + strings.TrimLeft(c.opts.BatchPath, "/")
	resp, err := c.send(ctx, request{method: http.MethodPost, url: u, body: payload, timeout: 2 * c.opts.RequestTimeout})
	if err != nil {
		return nil, fmt.Errorf("batch create: %w", err)
	}
	if !isSuccess(resp.status) {
		return nil, c.statusError(http.MethodPost, u, resp)
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(resp.body, &elems); err != nil {
		return nil, fmt.Errorf("batch create: decode: %w: %w", apperr.ErrUpstream, err)
	}
	if len(elems) != len(as) {
		return nil, fmt.Errorf("batch create: %w: %d results for %d annotations", apperr.ErrUpstream, len(elems), len(as))
	}

	out := make([]*model.Annotation, len(as))
	for i, raw := range elems {
		// some stores answer with the new IDs only
		var id string
		if json.Unmarshal(raw, &id) == nil {
			created := as[i].Clone()
			created.ID = id
			out[i] = created
			continue
		}
		created, err := decodeAnnotation(raw)
		if err != nil {
			return nil, fmt.Errorf("batch create: decode item %d: %w: %w", i, apperr.ErrUpstream, err)
		}
		if created.ID == "" {
			return nil, fmt.Errorf("batch create: %w: item %d carried no id", apperr.ErrUpstream, i)
		}
		out[i] = created
	}
	return out, nil
}

// Delete removes the annotation, guarded by etag. The cached token is dropped whatever the outcome.
func (c *Client) Delete(ctx context.Context, id, etag string) error {
	defer c.etags.Invalidate(id)

	if etag == "" {
		return fmt.Errorf("delete %s: %w", id, ErrNoETag)
	}
	u := c.resourceURL(id)
	resp, err := c.send(ctx, request{
		method:  http.MethodDelete,
		url:     u,
		headers: map[string]string{"If-Match": etag},
		timeout: c.opts.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	switch {
	case isSuccess(resp.status):
		return nil
	case resp.status == http.StatusPreconditionFailed:
		return &ConflictError{ID: id, ETag: etag}
	default:
		return c.statusError(http.MethodDelete, u, resp)
	}
}

// ListPage fetches one page of the collection listing
func (c *Client) ListPage(ctx context.Context, page int) (*Page, error) {
	u := c.collection + "?page=" + strconv.Itoa(page)
	resp, err := c.send(ctx, request{method: http.MethodGet, url: u, timeout: c.opts.PageTimeout, retry: true})
	if err != nil {
		return nil, fmt.Errorf("list page %d: %w", page, err)
	}
	if !isSuccess(resp.status) {
		return nil, c.statusError(http.MethodGet, u, resp)
	}
	p, err := decodePage(page, resp.body)
	if err != nil {
		return nil, fmt.Errorf("list page %d: decode: %w: %w", page, apperr.ErrUpstream, err)
	}
	return p, nil
}

func (c *Client) resourceURL(id string) string {
	if u, err := url.Parse(id); err == nil && u.IsAbs() {
		return id
	}
	return c.collection + strings.TrimLeft(id, "/")
}

type request struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
	timeout time.Duration
	retry   bool // idempotent read, safe to repeat
}

type response struct {
	status        int
	header        http.Header
	body          []byte
	correlationID string
}

func (c *Client) send(ctx context.Context, r request) (*response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := c.sendOnce(ctx, r)
		retryAfter := ""
		switch {
		case err == nil && (!r.retry || !isRetryableStatus(resp.status) || attempt >= c.opts.MaxRetries):
			return resp, nil
		case err == nil:
			retryAfter = resp.header.Get("Retry-After")
		case !r.retry || !isRetryableError(ctx, err) || attempt >= c.opts.MaxRetries:
			return nil, err
		}

		delay := retryDelay(attempt+1, retryAfter)
		c.log.Debug().
			Str("method", r.method).
			Str("url", r.url).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("retrying store request")
		if err := storeSleepFunc(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (c *Client) sendOnce(ctx context.Context, r request) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, r.url); err != nil {
			return nil, fmt.Errorf("%s %s: rate limit: %w", r.method, r.url, err)
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(reqCtx, r.method, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	correlationID := uuid.NewString()
	req.Header.Set("Accept", model.AnnotationProfile)
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("X-Correlation-Id", correlationID)
	if c.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	if r.body != nil {
		req.Header.Set("Content-Type", model.AnnotationProfile)
	}
	for key, value := range r.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(r.method, 0, start)
		return nil, c.transportError(ctx, reqCtx, r, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.observe(r.method, resp.StatusCode, start)
	if err != nil {
		return nil, c.transportError(ctx, reqCtx, r, err)
	}

	return &response{
		status:        resp.StatusCode,
		header:        resp.Header,
		body:          payload,
		correlationID: correlationID,
	}, nil
}

func (c *Client) transportError(parent, reqCtx context.Context, r request, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	var netErr net.Error
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Method: r.method, URL: r.url, Err: err}
	}
	return fmt.Errorf("%s %s: %w: %w", r.method, r.url, apperr.ErrUpstream, err)
}

func (c *Client) statusError(method, u string, resp *response) error {
	body := strings.TrimSpace(string(resp.body))
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	err := &HTTPError{
		Method:        method,
		URL:           u,
		StatusCode:    resp.status,
		Body:          body,
		CorrelationID: resp.correlationID,
	}
	if resp.status != http.StatusNotFound && resp.status != http.StatusGone {
		c.log.Warn().
			Str("method", method).
			Str("url", u).
			Int("status", resp.status).
			Str("correlation_id", resp.correlationID).
			Msg("unexpected store response")
	}
	return err
}

func (c *Client) observe(method string, status int, start time.Time) {
	if c.observer != nil {
		c.observer.ObserveRequest(method, status, time.Since(start))
	}
}

func decodeAnnotation(raw []byte) (*model.Annotation, error) {
	a := &model.Annotation{}
	if err := json.Unmarshal(raw, a); err != nil {
		return nil, err
	}
	a.Raw = append(json.RawMessage(nil), raw...)
	return a, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func isRetryableError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var timeout *TimeoutError
	return !errors.As(err, &timeout)
}

func retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, retryMaxDelay)
	}
	delay := retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
