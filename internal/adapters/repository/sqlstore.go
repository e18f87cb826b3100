package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
	_ "modernc.org/sqlite"             // SQLite driver registration.

	"github.com/okian/spotted/internal/domain/model"
	"github.com/okian/spotted/migrations"
	"github.com/okian/spotted/pkg/logger"
	"github.com/okian/spotted/pkg/metrics"
)

const timeLayout = "2006-01-02T15:04:05.000000Z"

// Store drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

const upsertDeltaSQL = `
INSERT INTO leaderboard (user_id, display_name, points, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    points       = leaderboard.points + excluded.points,
    display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE leaderboard.display_name END,
    updated_at   = excluded.updated_at
RETURNING user_id, display_name, points, created_at, updated_at`

const setScoreSQL = `
INSERT INTO leaderboard (user_id, display_name, points, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO UPDATE SET
    points       = excluded.points,
    display_name = CASE WHEN excluded.display_name <> '' THEN excluded.display_name ELSE leaderboard.display_name END,
    updated_at   = excluded.updated_at
RETURNING user_id, display_name, points, created_at, updated_at`

// SQLStore implements Store on database/sql for sqlite and postgres. Every
// write is a single upsert statement, so concurrent deltas on one user never
// lose updates.
type SQLStore struct {
	db      *sql.DB
	dialect string
	opts    options
}

var _ Store = (*SQLStore)(nil)

// Open returns the store for driver. "memory" needs no dsn.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewTreapStore(opts...), nil
	case DriverSQLite, DriverPostgres:
		return OpenSQL(ctx, driver, dsn, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// OpenSQL opens the database, applies pending migrations and returns the store.
func OpenSQL(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.Get().Named("repository")
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// One writer at a time avoids SQLITE_BUSY under concurrent upserts.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set WAL mode: %w", err)
		}
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(o.maxOpenConns)
		db.SetMaxIdleConns(o.maxOpenConns)
		db.SetConnMaxLifetime(30 * time.Minute)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := migrations.Run(db, driver); err != nil {
		_ = db.Close()
		return nil, err
	}

	o.log.Info(ctx, "score store ready", logger.String("driver", driver))
	return &SQLStore{db: db, dialect: driver, opts: o}, nil
}

// UpsertDelta implements Store.UpsertDelta.
func (s *SQLStore) UpsertDelta(ctx context.Context, userID, displayName string, delta int64) (model.UserScore, error) {
	return s.write(ctx, "upsert_delta", upsertDeltaSQL, userID, displayName, delta)
}

// SetScore implements Store.SetScore.
func (s *SQLStore) SetScore(ctx context.Context, userID, displayName string, score int64) (model.UserScore, error) {
	return s.write(ctx, "set_score", setScoreSQL, userID, displayName, score)
}

func (s *SQLStore) write(ctx context.Context, op, query, userID, displayName string, points int64) (model.UserScore, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency(op, float64(time.Since(start).Microseconds())/1000) }()

	if strings.TrimSpace(userID) == "" {
		return model.UserScore{}, ErrInvalidUser
	}
	now := s.timeArg(s.opts.now())
	row := s.db.QueryRowContext(ctx, s.rebind(query), userID, displayName, points, now, now)
	us, err := s.scanScore(row)
	if err != nil {
		return model.UserScore{}, fmt.Errorf("%s %s: %w", op, userID, err)
	}
	return us, nil
}

// GetScore implements Store.GetScore.
func (s *SQLStore) GetScore(ctx context.Context, userID string) (model.UserScore, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT user_id, display_name, points, created_at, updated_at FROM leaderboard WHERE user_id = ?`), userID)
	us, err := s.scanScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserScore{}, ErrNotFound
	}
	if err != nil {
		return model.UserScore{}, fmt.Errorf("get score %s: %w", userID, err)
	}
	return us, nil
}

// Rank implements Store.Rank with dense ranking.
func (s *SQLStore) Rank(ctx context.Context, userID string) (Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("rank", float64(time.Since(start).Microseconds())/1000) }()

	us, err := s.GetScore(ctx, userID)
	if err != nil {
		return Entry{}, err
	}
	var higher int
	if err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(DISTINCT points) FROM leaderboard WHERE points > ?`), us.Score).Scan(&higher); err != nil {
		return Entry{}, fmt.Errorf("rank %s: %w", userID, err)
	}
	return Entry{Rank: higher + 1, UserID: us.UserID, DisplayName: us.DisplayName, Score: us.Score}, nil
}

// TopN implements Store.TopN.
func (s *SQLStore) TopN(ctx context.Context, n int) ([]Entry, error) {
	start := time.Now()
	defer func() { metrics.RecordStoreLatency("top_n", float64(time.Since(start).Microseconds())/1000) }()

	if n < 1 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT user_id, display_name, points FROM leaderboard ORDER BY points DESC, user_id ASC LIMIT ?`), n)
	if err != nil {
		return nil, fmt.Errorf("top %d: %w", n, err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.Score); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	assignRanksWithTies(out)
	return out, nil
}

// Count implements Store.Count.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leaderboard`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// Ping implements Store.Ping.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// timeArg formats t for the column type of the dialect.
func (s *SQLStore) timeArg(t time.Time) any {
	t = t.UTC()
	if s.dialect == DriverSQLite {
		return t.Format(timeLayout)
	}
	return t
}

type scannable interface {
	Scan(dest ...any) error
}

func (s *SQLStore) scanScore(row scannable) (model.UserScore, error) {
	var (
		us               model.UserScore
		created, updated any
	)
	if err := row.Scan(&us.UserID, &us.DisplayName, &us.Score, &created, &updated); err != nil {
		return model.UserScore{}, err
	}
	var err error
	if us.CreatedAt, err = parseTime(created); err != nil {
		return model.UserScore{}, err
	}
	if us.UpdatedAt, err = parseTime(updated); err != nil {
		return model.UserScore{}, err
	}
	return us, nil
}

// parseTime accepts what either driver hands back for a timestamp column.
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func parseTimeString(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}
