// Package slack adapts the Slack Web API, Events API and Socket Mode to the
// spot pipeline.
package slack

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/okian/spotted/pkg/logger"
	"github.com/okian/spotted/pkg/metrics"
)

// DefaultBaseURL is the Slack Web API root.
const DefaultBaseURL = "https://slack.com/api"

const (
	defaultTimeout = 10 * time.Second
	defaultRPS     = 1.0
	defaultBurst   = 5
	defaultNameTTL = time.Hour
	defaultRetries = 2
	retryWait      = time.Second
	retryMaxWait   = 10 * time.Second
)

// Client talks to the Slack Web API with a bot token. Outbound calls share
// one token-bucket limiter; Slack's 429 responses are retried by resty.
type Client struct {
	http     *resty.Client
	token    string
	appToken string
	limiter  *rate.Limiter
	log      logger.Logger

	names   sync.Map // user id -> cachedName
	nameTTL time.Duration
	group   singleflight.Group
	now     func() time.Time
}

type cachedName struct {
	name    string
	expires time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root, used by tests.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		if url != "" {
			c.http.SetBaseURL(url)
		}
	}
}

// WithAppToken sets the xapp- token used to open Socket Mode connections.
func WithAppToken(token string) Option {
	return func(c *Client) { c.appToken = token }
}

// WithRateLimit sets the outbound request rate.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps > 0 && burst > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.SetTimeout(d)
		}
	}
}

// WithNameTTL sets how long display names are cached.
func WithNameTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.nameTTL = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a Slack Web API client for the given bot token.
func New(token string, opts ...Option) *Client {
	c := &Client{
		http: resty.New().
			SetBaseURL(DefaultBaseURL).
			SetTimeout(defaultTimeout).
			SetHeader("User-Agent", "spotted-bot/1.0").
			SetRetryCount(defaultRetries).
			SetRetryWaitTime(retryWait).
			SetRetryMaxWaitTime(retryMaxWait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err == nil && r != nil && r.StatusCode() == http.StatusTooManyRequests
			}),
		token:   token,
		limiter: rate.NewLimiter(rate.Limit(defaultRPS), defaultBurst),
		nameTTL: defaultNameTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Get().Named("slack")
	}
	return c
}

// Configured reports whether a bot token is present.
func (c *Client) Configured() bool {
	return c.token != ""
}

// apiResponse is the envelope every Web API method returns.
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (r apiResponse) err(method string) error {
	if r.OK {
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrAPI, method, r.Error)
}

// okResult is implemented by every typed response.
type okResult interface {
	err(method string) error
}

// call runs one rate-limited Web API request and decodes result.
func (c *Client) call(ctx context.Context, method, token string, build func(*resty.Request) *resty.Request, httpMethod string, result okResult) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("slack %s: rate limit wait: %w", method, err)
	}

	start := time.Now()
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(result)
	req = build(req)

	resp, err := req.Execute(httpMethod, "/"+method)
	latency := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordSlackRequest(method, "transport_error", latency)
		return fmt.Errorf("slack %s: %w", method, err)
	}
	if resp.IsError() {
		metrics.RecordSlackRequest(method, "http_error", latency)
		return fmt.Errorf("%w: %s: http %d", ErrAPI, method, resp.StatusCode())
	}
	if err := result.err(method); err != nil {
		metrics.RecordSlackRequest(method, "api_error", latency)
		return err
	}
	metrics.RecordSlackRequest(method, "ok", latency)
	return nil
}
