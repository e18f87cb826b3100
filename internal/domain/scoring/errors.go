package scoring

import (
	"errors"
	"fmt"
	"strings"

	"github.com/okian/spotted/internal/domain/model"
)

// ErrStoreWrite marks a delta that could not be written after all retries.
var ErrStoreWrite = errors.New("score store write failed")

// ApplyError lists the deltas of one spot that were not written: the one
// that failed and every delta queued behind it.
type ApplyError struct {
	EventID string
	Failed  []model.ScoreDelta
	Err     error // store error of the failing delta
}

func (e *ApplyError) Error() string {
	users := make([]string, len(e.Failed))
	for i, d := range e.Failed {
		users[i] = fmt.Sprintf("%s(%+d)", d.UserID, d.Delta)
	}
	return fmt.Sprintf("%s: event %s: %s: %v", ErrStoreWrite, e.EventID, strings.Join(users, ","), e.Err)
}

// Unwrap exposes both ErrStoreWrite and the underlying store error.
func (e *ApplyError) Unwrap() []error {
	return []error{ErrStoreWrite, e.Err}
}
