// Package spot decides whether a message event is a spot: an image post
// that tags at least one user other than its author.
package spot

import (
	"context"

	"github.com/okian/spotted/internal/domain/dedupe"
	"github.com/okian/spotted/internal/domain/mention"
	"github.com/okian/spotted/internal/domain/model"
)

// Classifier turns an event plus its resolved attachments into a verdict.
// Only confirmed spots consume a slot in the processed-event set.
type Classifier struct {
	dedupe dedupe.Deduper
}

// NewClassifier returns a Classifier backed by d.
func NewClassifier(d dedupe.Deduper) *Classifier {
	return &Classifier{dedupe: d}
}

// Classify never fails; every input maps to a verdict.
func (c *Classifier) Classify(ctx context.Context, ev model.MessageEvent, attachments []model.Attachment) model.SpotVerdict {
	v := model.SpotVerdict{EventID: ev.EventID, ActorID: ev.AuthorID}

	if c.dedupe.Seen(ctx, ev.EventID) {
		v.Reason = model.ReasonDuplicate
		return v
	}

	if len(model.Images(attachments)) == 0 {
		v.Reason = model.ReasonNoImage
		return v
	}

	mentioned := mention.Extract(ev.RawText)
	targets := mention.Without(mentioned, ev.AuthorID)
	if len(targets) == 0 {
		if len(mentioned) == 0 {
			v.Reason = model.ReasonNoMention
		} else {
			v.Reason = model.ReasonSelfOnly
		}
		return v
	}

	// A concurrent delivery of the same message may have been confirmed
	// between the Seen check and here.
	if c.dedupe.SeenAndRecord(ctx, ev.EventID) {
		v.Reason = model.ReasonDuplicate
		return v
	}

	v.IsSpot = true
	v.TargetIDs = targets
	v.Reason = model.ReasonOK
	return v
}
