package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/spotted/internal/domain/model"
)

// Notifier posts messages to Slack.
type Notifier interface {
	PostMessage(ctx context.Context, channelID, threadTS, text string) error
}

// spotMessage is the thread reply for a scored spot.
func spotMessage(v model.SpotVerdict) string {
	targets := make([]string, len(v.TargetIDs))
	for i, id := range v.TargetIDs {
		targets[i] = "<@" + id + ">"
	}
	return fmt.Sprintf(":camera_with_flash: <@%s> spotted %s! (+%d for the spotter, -1 each for the spotted)",
		v.ActorID, strings.Join(targets, ", "), len(v.TargetIDs))
}
