package simulate

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/okian/spotted/internal/adapters/slack"
	"github.com/okian/spotted/internal/domain/types"
)

const (
	submitRetries  = 3
	submitWait     = 200 * time.Millisecond
	submitMaxWait  = 2 * time.Second
	eventsPath     = "/slack/events"
	healthPath     = "/health"
	scorePath      = "/scores/{user_id}"
	leaderboardURL = "/leaderboard"
)

// Client talks to a running bot.
type Client struct {
	http   *resty.Client
	secret string
	now    func() time.Time
}

// NewClient creates a Client for cfg.BaseURL. Throttled submissions are
// retried like Slack retries them.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(cfg.Timeout).
			SetHeader("User-Agent", "spot-sim/1.0").
			SetRetryCount(submitRetries).
			SetRetryWaitTime(submitWait).
			SetRetryMaxWaitTime(submitMaxWait).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err == nil && r != nil && r.StatusCode() == http.StatusTooManyRequests
			}),
		secret: cfg.SigningSecret,
		now:    time.Now,
	}
}

// Health fails unless the bot reports itself healthy.
func (c *Client) Health(ctx context.Context) (types.Health, error) {
	var h types.Health
	resp, err := c.http.R().SetContext(ctx).SetResult(&h).Get(healthPath)
	if err != nil {
		return h, fmt.Errorf("health: %w", err)
	}
	if resp.IsError() {
		return h, fmt.Errorf("health: status %d", resp.StatusCode())
	}
	return h, nil
}

// Submit posts one delivery and returns the HTTP status.
func (c *Client) Submit(ctx context.Context, d Delivery) (int, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(d.Body)
	if c.secret != "" {
		ts := c.now().Unix()
		req.SetHeader(slack.HeaderTimestamp, strconv.FormatInt(ts, 10)).
			SetHeader(slack.HeaderSignature, slack.Sign(c.secret, ts, d.Body))
	}
	resp, err := req.Post(eventsPath)
	if err != nil {
		return 0, fmt.Errorf("submit %s: %w", d.EventID, err)
	}
	return resp.StatusCode(), nil
}

// Score reads one user's leaderboard entry.
func (c *Client) Score(ctx context.Context, userID string) (types.Entry, error) {
	var e types.Entry
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("user_id", userID).
		SetResult(&e).
		Get(scorePath)
	if err != nil {
		return e, fmt.Errorf("score %s: %w", userID, err)
	}
	if resp.IsError() {
		return e, fmt.Errorf("score %s: status %d", userID, resp.StatusCode())
	}
	return e, nil
}

// Leaderboard reads the top n entries.
func (c *Client) Leaderboard(ctx context.Context, n int) ([]types.Entry, error) {
	var entries []types.Entry
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(n)).
		SetResult(&entries).
		Get(leaderboardURL)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("leaderboard: status %d", resp.StatusCode())
	}
	return entries, nil
}

type submitCounts struct {
	accepted, throttled, failed atomic.Int64
}

// submitAll fans deliveries out over workers goroutines.
func (c *Client) submitAll(ctx context.Context, deliveries []Delivery, workers int) *submitCounts {
	counts := &submitCounts{}
	ch := make(chan Delivery, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range ch {
				status, err := c.Submit(ctx, d)
				switch {
				case err != nil:
					counts.failed.Add(1)
				case status == http.StatusOK:
					counts.accepted.Add(1)
				case status == http.StatusTooManyRequests:
					counts.throttled.Add(1)
				default:
					counts.failed.Add(1)
				}
			}
		}()
	}

	go func() {
		defer close(ch)
		for _, d := range deliveries {
			select {
			case <-ctx.Done():
				return
			case ch <- d:
			}
		}
	}()

	wg.Wait()
	return counts
}
