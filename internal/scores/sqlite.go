// Package scores keeps a SQLite ledger of finished tower games.
package scores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type Game struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Outcome   string    `json:"outcome"`
	Height    float64   `json:"height"`
	Turns     int       `json:"turns"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

type Ledger struct {
	db *sql.DB
}

func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Ledger{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS games (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			outcome TEXT NOT NULL,
			height REAL NOT NULL,
			turns INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS games_channel_height ON games(channel, height DESC);`,
		`CREATE INDEX IF NOT EXISTS games_height ON games(height DESC);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record stores a finished game. Recording the same id twice replaces the
// earlier row.
func (l *Ledger) Record(ctx context.Context, g Game) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO games(id, channel, outcome, height, turns, started_at, ended_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Channel, g.Outcome, g.Height, g.Turns,
		g.StartedAt.UTC().Format(time.RFC3339Nano),
		g.EndedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record game %s: %w", g.ID, err)
	}
	return nil
}

// Best returns the highest game recorded for channel. ok is false when the
// channel has no finished games.
func (l *Ledger) Best(ctx context.Context, channel string) (g Game, ok bool, err error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, channel, outcome, height, turns, started_at, ended_at
		 FROM games WHERE channel = ?
		 ORDER BY height DESC, ended_at ASC LIMIT 1`, channel)

	g, err = scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Game{}, false, nil
	}
	if err != nil {
		return Game{}, false, fmt.Errorf("best game for %s: %w", channel, err)
	}
	return g, true, nil
}

// Top returns up to limit games across every channel, highest first.
func (l *Ledger) Top(ctx context.Context, limit int) ([]Game, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := l.db.QueryContext(ctx,
		`SELECT id, channel, outcome, height, turns, started_at, ended_at
		 FROM games ORDER BY height DESC, ended_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("top games: %w", err)
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("top games: %w", err)
		}
		games = append(games, g)
	}

	return games, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGame(s scanner) (Game, error) {
	var (
		g                 Game
		started, finished string
	)
	if err := s.Scan(&g.ID, &g.Channel, &g.Outcome, &g.Height, &g.Turns, &started, &finished); err != nil {
		return Game{}, err
	}

	var err error
	if g.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Game{}, err
	}
	if g.EndedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Game{}, err
	}

	return g, nil
}
