package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cyelis1224/moescape-exporter-sub001/internal/logger"
)

const (
	DefaultBaseURL    = "https://api.moescape.ai"
	DefaultMaxRetries = 6
	DefaultMetaHeader = "X-Request-Id"
	defaultTimeout    = 60 * time.Second

	baseBackoff = 2000 * time.Millisecond
	maxBackoff  = 15000 * time.Millisecond
)

var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrRequestFailed    = errors.New("request failed")
	ErrAPI              = errors.New("remote API reported an error")
	ErrNotFound         = errors.New("not found")
)

// StatusError is returned when a request ends without a usable body.
// StatusCode is 0 when the last attempt failed at the transport level.
type StatusError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e *StatusError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%v after %d attempt(s): transport error", e.Err, e.Attempts)
	}
	return fmt.Sprintf("%v after %d attempt(s): status %d", e.Err, e.Attempts, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Response is a completed request. Body is nil for 404.
type Response struct {
	Body       []byte
	Meta       string
	StatusCode int
}

func (r *Response) Found() bool {
	return r != nil && r.Body != nil
}

type Config struct {
	BaseURL    string
	Token      string
	Cookie     string
	TimeoutSec int
	MaxRetries int
	MetaHeader string
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Client struct {
	baseURL    string
	token      string
	cookie     string
	metaHeader string
	maxRetries int
	httpClient *http.Client
	log        *logger.Logger
	sleep      Sleeper
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

func New(cfg Config, opts ...Option) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	metaHeader := cfg.MetaHeader
	if metaHeader == "" {
		metaHeader = DefaultMetaHeader
	}

	c := &Client{
		baseURL:    baseURL,
		token:      cfg.Token,
		cookie:     cfg.Cookie,
		metaHeader: metaHeader,
		maxRetries: maxRetries,
		httpClient: &http.Client{Timeout: timeout},
		log:        logger.Nop(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Backoff is the wait before retry number attempt+1: 2s doubling, capped at 15s.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 4 {
		return maxBackoff
	}
	d := baseBackoff << attempt
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// Get performs a GET against path with the retry policy: 2xx and 404
// complete, 429/5xx/transport errors retry up to maxRetries times, any other
// status fails at once.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	url := c.resolve(path)
	lastStatus := 0

	for attempt := 0; ; attempt++ {
		status, body, meta, err := c.do(ctx, url)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastStatus = 0
			c.log.Warn("request transport error", "url", url, "attempt", attempt+1, "error", err)
		case status == http.StatusNotFound:
			c.log.Debug("request complete", "url", url, "attempt", attempt+1, "status", status)
			return &Response{Meta: meta, StatusCode: status}, nil
		case status >= 200 && status < 300:
			c.log.Debug("request complete", "url", url, "attempt", attempt+1, "status", status, "bytes", len(body))
			if body == nil {
				body = []byte{}
			}
			return &Response{Body: body, Meta: meta, StatusCode: status}, nil
		case IsRetryableStatus(status):
			lastStatus = status
			c.log.Warn("request retryable status", "url", url, "attempt", attempt+1, "status", status)
		default:
			c.log.Warn("request failed", "url", url, "attempt", attempt+1, "status", status)
			return nil, &StatusError{StatusCode: status, Attempts: attempt + 1, Err: ErrRequestFailed}
		}

		if attempt >= c.maxRetries {
			c.log.Error("request giving up", "url", url, "attempts", attempt+1, "status", lastStatus)
			return nil, &StatusError{StatusCode: lastStatus, Attempts: attempt + 1, Err: ErrRetriesExhausted}
		}

		wait := Backoff(attempt)
		c.log.Info("request retry scheduled", "url", url, "attempt", attempt+1, "backoff", wait)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (c *Client) do(ctx context.Context, url string) (int, []byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, "", fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, body, resp.Header.Get(c.metaHeader), nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
