package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/okian/ratekeep/internal/domain/model"
	"github.com/okian/ratekeep/internal/domain/theme"
	"github.com/okian/ratekeep/pkg/metrics"

	_ "modernc.org/sqlite" // SQLite driver.
)

const sqliteStoreName = "sqlite"

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	cfg storeConfig
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the SQLite database at path and applies
// migrations.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	cfg := defaultStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers; a single connection avoids busy errors.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA busy_timeout = 5000;`,
		`CREATE TABLE IF NOT EXISTS puzzles (
			id TEXT PRIMARY KEY,
			rating REAL NOT NULL,
			deviation REAL NOT NULL,
			volatility REAL NOT NULL,
			plays INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			player_id TEXT NOT NULL,
			puzzle_id TEXT NOT NULL,
			win INTEGER NOT NULL,
			theme TEXT NOT NULL,
			fixed_at TEXT,
			created_at TEXT NOT NULL,
			PRIMARY KEY (player_id, puzzle_id)
		);`,
		`CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			rating REAL NOT NULL,
			deviation REAL NOT NULL,
			volatility REAL NOT NULL,
			recent TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE TABLE IF NOT EXISTS rating_history (
			id INTEGER PRIMARY KEY,
			player_id TEXT NOT NULL,
			at TEXT NOT NULL,
			rating REAL NOT NULL,
			deviation REAL NOT NULL,
			volatility REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_players_rating ON players(rating DESC, id);`,
		`CREATE INDEX IF NOT EXISTS idx_rating_history_player ON rating_history(player_id, id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func observe(op string, start time.Time, err error) {
	metrics.RecordStoreLatency(sqliteStoreName, op, float64(time.Since(start).Milliseconds()))
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrExists) {
		metrics.RecordStoreError(sqliteStoreName, op)
	}
}

// CreatePuzzle adds a new puzzle. Returns ErrExists for a known id.
func (s *SQLiteStore) CreatePuzzle(ctx context.Context, p model.Puzzle) (err error) {
	defer func(start time.Time) { observe("create_puzzle", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO puzzles (id, rating, deviation, volatility, plays) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		p.ID, p.Rating.Rating, p.Rating.Deviation, p.Rating.Volatility, p.Plays,
	)
	if err != nil {
		return err
	}
	return expectRow(res, ErrExists)
}

// FindPuzzle returns the puzzle with its Provisional flag evaluated.
func (s *SQLiteStore) FindPuzzle(ctx context.Context, id string) (_ *model.Puzzle, err error) {
	defer func(start time.Time) { observe("find_puzzle", start, err) }(time.Now())

	p := model.Puzzle{ID: id}
	err = s.db.QueryRowContext(ctx,
		`SELECT rating, deviation, volatility, plays FROM puzzles WHERE id = ?`, id,
	).Scan(&p.Rating.Rating, &p.Rating.Deviation, &p.Rating.Volatility, &p.Plays)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Provisional = Provisional(p)
	return &p, nil
}

// IncrementPlays adds one play to a puzzle.
func (s *SQLiteStore) IncrementPlays(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { observe("increment_plays", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx, `UPDATE puzzles SET plays = plays + 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(res, ErrNotFound)
}

// SetPuzzleRating rewrites a puzzle's rating.
func (s *SQLiteStore) SetPuzzleRating(ctx context.Context, id string, r model.Rating) (err error) {
	defer func(start time.Time) { observe("set_puzzle_rating", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx,
		`UPDATE puzzles SET rating = ?, deviation = ?, volatility = ? WHERE id = ?`,
		r.Rating, r.Deviation, r.Volatility, id,
	)
	if err != nil {
		return err
	}
	return expectRow(res, ErrNotFound)
}

// FindRound returns the player's round on a puzzle.
func (s *SQLiteStore) FindRound(ctx context.Context, playerID, puzzleID string) (_ *model.Round, err error) {
	defer func(start time.Time) { observe("find_round", start, err) }(time.Now())

	var (
		win       bool
		fixedAt   sql.NullString
		createdAt string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT win, fixed_at, created_at FROM rounds WHERE player_id = ? AND puzzle_id = ?`,
		playerID, puzzleID,
	).Scan(&win, &fixedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	r := model.Round{PlayerID: playerID, PuzzleID: puzzleID, Win: win}
	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse round created_at: %w", err)
	}
	if fixedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, fixedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse round fixed_at: %w", err)
		}
		r.FixedAt = &t
	}
	return &r, nil
}

// UpsertRound stores the round, replacing any earlier one of the pair.
func (s *SQLiteStore) UpsertRound(ctx context.Context, round model.Round, th theme.Theme) (err error) {
	defer func(start time.Time) { observe("upsert_round", start, err) }(time.Now())

	var fixedAt sql.NullString
	if round.FixedAt != nil {
		fixedAt = sql.NullString{String: round.FixedAt.Format(time.RFC3339Nano), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rounds (player_id, puzzle_id, win, theme, fixed_at, created_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(player_id, puzzle_id) DO UPDATE SET win = excluded.win, theme = excluded.theme, fixed_at = excluded.fixed_at`,
		round.PlayerID, round.PuzzleID, round.Win, th.String(), fixedAt, round.CreatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// FindPlayer returns the player with its Dubious flag evaluated.
func (s *SQLiteStore) FindPlayer(ctx context.Context, id string) (_ *model.Player, err error) {
	defer func(start time.Time) { observe("find_player", start, err) }(time.Now())

	p := model.Player{ID: id}
	var recent string
	err = s.db.QueryRowContext(ctx,
		`SELECT rating, deviation, volatility, recent FROM players WHERE id = ?`, id,
	).Scan(&p.Rating.Rating, &p.Rating.Deviation, &p.Rating.Volatility, &recent)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.RecentHistory = splitRecent(recent)
	p.Dubious = Dubious(p)
	return &p, nil
}

// SavePlayer inserts or replaces a player.
func (s *SQLiteStore) SavePlayer(ctx context.Context, p model.Player) (err error) {
	defer func(start time.Time) { observe("save_player", start, err) }(time.Now())

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO players (id, rating, deviation, volatility, recent) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET rating = excluded.rating, deviation = excluded.deviation,
		   volatility = excluded.volatility, recent = excluded.recent`,
		p.ID, p.Rating.Rating, p.Rating.Deviation, p.Rating.Volatility, strings.Join(p.RecentHistory, ","),
	)
	return err
}

// SetPlayerRating rewrites a player's rating and clears the recent history.
func (s *SQLiteStore) SetPlayerRating(ctx context.Context, playerID string, r model.Rating) (err error) {
	defer func(start time.Time) { observe("set_player_rating", start, err) }(time.Now())

	res, err := s.db.ExecContext(ctx,
		`UPDATE players SET rating = ?, deviation = ?, volatility = ?, recent = '' WHERE id = ?`,
		r.Rating, r.Deviation, r.Volatility, playerID,
	)
	if err != nil {
		return err
	}
	return expectRow(res, ErrNotFound)
}

// AppendRecent remembers puzzleID as recently played by the player.
func (s *SQLiteStore) AppendRecent(ctx context.Context, playerID, puzzleID string) (err error) {
	defer func(start time.Time) { observe("append_recent", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var recent string
	err = tx.QueryRowContext(ctx, `SELECT recent FROM players WHERE id = ?`, playerID).Scan(&recent)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	ids := append(splitRecent(recent), puzzleID)
	if over := len(ids) - s.cfg.recentLimit; over > 0 {
		ids = ids[over:]
	}
	if _, err = tx.ExecContext(ctx, `UPDATE players SET recent = ? WHERE id = ?`, strings.Join(ids, ","), playerID); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendRating records a rating point, dropping the oldest beyond the limit.
func (s *SQLiteStore) AppendRating(ctx context.Context, point model.RatingPoint) (err error) {
	defer func(start time.Time) { observe("append_rating", start, err) }(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO rating_history (player_id, at, rating, deviation, volatility) VALUES (?, ?, ?, ?, ?)`,
		point.PlayerID, point.At.Format(time.RFC3339Nano), point.Rating.Rating, point.Rating.Deviation, point.Rating.Volatility,
	); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM rating_history WHERE player_id = ? AND id NOT IN (
			SELECT id FROM rating_history WHERE player_id = ? ORDER BY id DESC LIMIT ?)`,
		point.PlayerID, point.PlayerID, s.cfg.historyLimit,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// History returns up to limit of the player's most recent rating points,
// oldest first. A limit below one returns everything kept.
func (s *SQLiteStore) History(ctx context.Context, playerID string, limit int) (_ []model.RatingPoint, err error) {
	defer func(start time.Time) { observe("history", start, err) }(time.Now())

	if limit < 1 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, rating, deviation, volatility FROM rating_history
		 WHERE player_id = ? ORDER BY id DESC LIMIT ?`,
		playerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.RatingPoint
	for rows.Next() {
		var (
			at string
			pt = model.RatingPoint{PlayerID: playerID}
		)
		if err = rows.Scan(&at, &pt.Rating.Rating, &pt.Rating.Deviation, &pt.Rating.Volatility); err != nil {
			return nil, err
		}
		if pt.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("parse history at: %w", err)
		}
		out = append(out, pt)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

// Rank returns the player's position; equal ratings share a rank.
func (s *SQLiteStore) Rank(ctx context.Context, playerID string) (_ Entry, err error) {
	defer func(start time.Time) { observe("rank", start, err) }(time.Now())

	e := Entry{PlayerID: playerID}
	err = s.db.QueryRowContext(ctx,
		`SELECT p.rating, p.deviation, p.volatility,
		   (SELECT COUNT(*) FROM players q WHERE q.rating > p.rating) + 1
		 FROM players p WHERE p.id = ?`, playerID,
	).Scan(&e.Rating.Rating, &e.Rating.Deviation, &e.Rating.Volatility, &e.Rank)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

// TopN returns the top N players ordered by rating desc.
func (s *SQLiteStore) TopN(ctx context.Context, n int) (_ []Entry, err error) {
	defer func(start time.Time) { observe("top_n", start, err) }(time.Now())

	if n < 1 {
		return nil, ErrInvalidLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, rating, deviation, volatility FROM players ORDER BY rating DESC, id ASC LIMIT ?`, n,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]Entry, 0, n)
	for rows.Next() {
		var e Entry
		if err = rows.Scan(&e.PlayerID, &e.Rating.Rating, &e.Rating.Deviation, &e.Rating.Volatility); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	assignRanks(out)
	return out, nil
}

// Stats reports how many puzzles, players and rounds are stored.
func (s *SQLiteStore) Stats(ctx context.Context) (_ Stats, err error) {
	defer func(start time.Time) { observe("stats", start, err) }(time.Now())

	var st Stats
	err = s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM puzzles), (SELECT COUNT(*) FROM players), (SELECT COUNT(*) FROM rounds)`,
	).Scan(&st.Puzzles, &st.Players, &st.Rounds)
	return st, err
}

func expectRow(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}

func splitRecent(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
