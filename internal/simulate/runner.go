package simulate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/okian/spotted/pkg/logger"
)

// Run generates a workload, submits it and verifies every touched user's score.
func Run(ctx context.Context, cfg Config, log logger.Logger) (Report, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.Named("simulate")
	}
	start := time.Now()

	client := NewClient(cfg)
	if _, err := client.Health(ctx); err != nil {
		return Report{}, err
	}

	plan, err := Generate(cfg, start)
	if err != nil {
		return Report{}, err
	}
	log.Info(ctx, "workload generated",
		logger.Int("messages", plan.Messages),
		logger.Int("spots", plan.Spots),
		logger.Int("deliveries", len(plan.Deliveries)))

	counts := client.submitAll(ctx, plan.Deliveries, cfg.Workers)
	report := Report{
		Messages:   plan.Messages,
		Spots:      plan.Spots,
		Deliveries: len(plan.Deliveries),
		Accepted:   int(counts.accepted.Load()),
		Throttled:  int(counts.throttled.Load()),
		Failed:     int(counts.failed.Load()),
	}
	log.Info(ctx, "deliveries submitted",
		logger.Int("accepted", report.Accepted),
		logger.Int("throttled", report.Throttled),
		logger.Int("failed", report.Failed))

	if cfg.Settle > 0 {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(cfg.Settle):
		}
	}

	report.Mismatches, report.Checked, err = verify(ctx, client, plan.Expected)
	report.Duration = time.Since(start)
	if err != nil {
		return report, err
	}
	if len(report.Mismatches) > 0 {
		for _, m := range report.Mismatches {
			log.Warn(ctx, "score mismatch",
				logger.String("user_id", m.UserID),
				logger.Int64("expected", m.Expected),
				logger.Int64("got", m.Got))
		}
		return report, fmt.Errorf("%w: %d of %d users", ErrMismatch, len(report.Mismatches), report.Checked)
	}
	log.Info(ctx, "leaderboard verified",
		logger.Int("users", report.Checked),
		logger.Duration("duration", report.Duration))
	return report, nil
}

// verify compares every expected score with the bot's and checks that the
// leaderboard is ordered.
func verify(ctx context.Context, c *Client, expected map[string]int64) ([]Mismatch, int, error) {
	users := make([]string, 0, len(expected))
	for u := range expected {
		users = append(users, u)
	}
	sort.Strings(users)

	var out []Mismatch
	for _, u := range users {
		e, err := c.Score(ctx, u)
		if err != nil {
			return nil, 0, err
		}
		if e.Score != expected[u] {
			out = append(out, Mismatch{UserID: u, Expected: expected[u], Got: e.Score})
		}
	}

	if len(users) == 0 {
		return nil, 0, nil
	}
	board, err := c.Leaderboard(ctx, min(len(users), maxBoardCheck))
	if err != nil {
		return nil, 0, err
	}
	for i := 1; i < len(board); i++ {
		prev, cur := board[i-1], board[i]
		if cur.Score > prev.Score || (cur.Score == prev.Score && cur.UserID < prev.UserID) {
			return out, len(users), fmt.Errorf("%w: entry %d (%s) out of order", ErrMismatch, i, cur.UserID)
		}
	}
	return out, len(users), nil
}

const maxBoardCheck = 100
