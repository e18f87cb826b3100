package repository

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/pkg/metrics"
)

// Treap-based, in-memory Store implementation.
//
// Ordering: score DESC, then userID ASC (deterministic).
// "less" means ranks earlier, so in-order traversal yields the leaderboard
// from best to worst.

// treap node
type node struct {
	id    string
	score int64
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// less returns true if (aScore, aID) should appear before (bScore, bID)
// in the leaderboard (higher ranks first).
func less(aScore int64, aID string, bScore int64, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score int64, prio uint64) *node {
	if n == nil {
		return &node{id: id, score: score, prio: prio, size: 1}
	}
	if less(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score, prio)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score, prio)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func deleteNode(n *node, id string, score int64) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		// Rotate the higher-priority child up until n is a leaf.
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = deleteNode(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = deleteNode(n.left, id, score)
		}
	case less(score, id, n.score, n.id):
		n.left = deleteNode(n.left, id, score)
	default:
		n.right = deleteNode(n.right, id, score)
	}
	fix(n)
	return n
}

// collectTopN appends up to limit entries in rank order (highest scores first).
func collectTopN(n *node, limit int, rows map[string]model.UserScore, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	collectTopN(n.left, limit, rows, out)
	if len(*out) < limit {
		row := rows[n.id]
		*out = append(*out, Entry{UserID: n.id, DisplayName: row.DisplayName, Score: n.score})
	}
	if len(*out) < limit {
		collectTopN(n.right, limit, rows, out)
	}
}

// TreapStore keeps the leaderboard in memory. It is the default store when
// no database is configured and the reference used by tests.
type TreapStore struct {
	mu     sync.RWMutex
	root   *node
	byID   map[string]model.UserScore
	opts   options
	closed bool
}

var _ Store = (*TreapStore)(nil)

// NewTreapStore constructs a treap store with configuration options.
func NewTreapStore(opts ...Option) *TreapStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &TreapStore{byID: make(map[string]model.UserScore), opts: o}
}

// UpsertDelta implements Store.UpsertDelta in O(log n) expected time.
func (s *TreapStore) UpsertDelta(ctx context.Context, userID, displayName string, delta int64) (model.UserScore, error) {
	return s.write(ctx, "upsert_delta", userID, displayName, func(old int64) int64 { return old + delta })
}

// SetScore implements Store.SetScore.
func (s *TreapStore) SetScore(ctx context.Context, userID, displayName string, score int64) (model.UserScore, error) {
	return s.write(ctx, "set_score", userID, displayName, func(int64) int64 { return score })
}

func (s *TreapStore) write(_ context.Context, op, userID, displayName string, next func(int64) int64) (model.UserScore, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000) }()

	if strings.TrimSpace(userID) == "" {
		return model.UserScore{}, ErrInvalidUser
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.UserScore{}, ErrClosed
	}
	now := s.opts.now().UTC()
	row, exists := s.byID[userID]
	if exists {
		s.root = deleteNode(s.root, userID, row.Score)
	} else {
		row = model.UserScore{UserID: userID, CreatedAt: now}
	}
	row.Score = next(row.Score)
	row.UpdatedAt = now
	if displayName != "" {
		row.DisplayName = displayName
	}
	s.byID[userID] = row
	s.root = insert(s.root, userID, row.Score, rand.Uint64()) //nolint:gosec // treap priority
	count := len(s.byID)
	s.mu.Unlock()

	if !exists {
		metrics.UpdateTotalUsers(count)
	}
	return row, nil
}

// GetScore implements Store.GetScore.
func (s *TreapStore) GetScore(_ context.Context, userID string) (model.UserScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.byID[userID]
	if !ok {
		return model.UserScore{}, ErrNotFound
	}
	return row, nil
}

// Rank returns the dense rank of a user: one plus the number of distinct
// scores above theirs.
func (s *TreapStore) Rank(_ context.Context, userID string) (Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("rank", float64(time.Since(start).Microseconds())/1000) }()

	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.byID[userID]
	if !ok {
		return Entry{}, ErrNotFound
	}

	higher := 0
	var last int64
	first := true
	walkUntil(s.root, func(n *node) bool {
		if n.score <= row.Score {
			return false
		}
		if first || n.score != last {
			higher++
			last, first = n.score, false
		}
		return true
	})
	return Entry{Rank: higher + 1, UserID: userID, DisplayName: row.DisplayName, Score: row.Score}, nil
}

// walkUntil visits nodes in order until fn returns false.
func walkUntil(n *node, fn func(*node) bool) bool {
	if n == nil {
		return true
	}
	if !walkUntil(n.left, fn) {
		return false
	}
	if !fn(n) {
		return false
	}
	return walkUntil(n.right, fn)
}

// TopN returns the top N entries ordered by score desc.
func (s *TreapStore) TopN(_ context.Context, n int) ([]Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("top_n", float64(time.Since(start).Microseconds())/1000) }()

	if n < 1 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, min(n, len(s.byID)))
	collectTopN(s.root, n, s.byID, &out)
	assignRanksWithTies(out)
	return out, nil
}

// Count returns the total number of users.
func (s *TreapStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// Ping always succeeds while the store is open.
func (s *TreapStore) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close rejects further writes.
func (s *TreapStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
