package simulate

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/spotted/internal/adapters/slack"
)

// Delivery is one signed-ready Events API body.
type Delivery struct {
	EventID string
	Body    []byte
}

// Plan is a generated workload: the deliveries to send and the score every
// user should end up with.
type Plan struct {
	Deliveries []Delivery
	Expected   map[string]int64
	Messages   int
	Spots      int
}

// Generate builds a workload. Spots carry an image and mentions of other
// users; the rest carry an image and no mention, so they never score.
// Duplicated messages are delivered twice with the same event id, the way
// Slack retries.
func Generate(cfg Config, start time.Time) (Plan, error) {
	cfg = cfg.withDefaults()
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) //nolint:gosec // synthetic data

	users := make([]string, cfg.Users)
	for i := range users {
		users[i] = fmt.Sprintf("USIM%04d", i+1)
	}

	plan := Plan{Expected: make(map[string]int64, cfg.Users), Messages: cfg.Messages}
	for i := 0; i < cfg.Messages; i++ {
		actor := users[rng.IntN(len(users))]
		ts := fmt.Sprintf("%d.%06d", start.Unix(), i)

		var targets []string
		if rng.Float64() < cfg.SpotRatio {
			targets = pickTargets(rng, users, actor, 1+rng.IntN(cfg.MaxTargets))
			plan.Spots++
			plan.Expected[actor] += int64(len(targets))
			for _, t := range targets {
				plan.Expected[t]--
			}
		}

		eventID := "Ev" + strings.ReplaceAll(uuid.NewString(), "-", "")
		body, err := envelope(cfg.Channel, eventID, actor, ts, targets, i)
		if err != nil {
			return Plan{}, err
		}
		d := Delivery{EventID: eventID, Body: body}
		plan.Deliveries = append(plan.Deliveries, d)
		if rng.Float64() < cfg.Duplicates {
			plan.Deliveries = append(plan.Deliveries, d)
		}
	}
	rng.Shuffle(len(plan.Deliveries), func(i, j int) {
		plan.Deliveries[i], plan.Deliveries[j] = plan.Deliveries[j], plan.Deliveries[i]
	})
	return plan, nil
}

func pickTargets(rng *rand.Rand, users []string, actor string, n int) []string {
	out := make([]string, 0, n)
	for _, idx := range rng.Perm(len(users)) {
		if users[idx] == actor {
			continue
		}
		out = append(out, users[idx])
		if len(out) == n {
			break
		}
	}
	return out
}

func envelope(channel, eventID, actor, ts string, targets []string, seq int) ([]byte, error) {
	text := "look at this"
	if len(targets) > 0 {
		mentions := make([]string, len(targets))
		for i, t := range targets {
			mentions[i] = "<@" + t + ">"
		}
		text = "spotted " + strings.Join(mentions, " ")
	}
	event, err := json.Marshal(slack.MessagePayload{
		Type:    "message",
		Subtype: "file_share",
		User:    actor,
		Text:    text,
		Channel: channel,
		TS:      ts,
		Files:   []slack.File{{ID: fmt.Sprintf("FSIM%06d", seq), Mimetype: "image/jpeg"}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return json.Marshal(slack.Envelope{
		Type:      slack.TypeEventCallback,
		TeamID:    "TSIM",
		EventID:   eventID,
		EventTime: time.Now().Unix(),
		Event:     event,
	})
}
