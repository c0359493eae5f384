package scores

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", "scores.db")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l, path
}

func game(id, channel string, height float64, ended time.Time) Game {
	return Game{
		ID:        id,
		Channel:   channel,
		Outcome:   "failure",
		Height:    height,
		Turns:     3,
		StartedAt: ended.Add(-time.Minute),
		EndedAt:   ended,
	}
}

func TestBestPerChannel(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, g := range []Game{
		game("a", "C1", 1.2, now),
		game("b", "C1", 2.5, now.Add(time.Minute)),
		game("c", "C2", 4.0, now),
		game("d", "C1", 0.4, now.Add(2*time.Minute)),
	} {
		if err := l.Record(ctx, g); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	best, ok, err := l.Best(ctx, "C1")
	if err != nil || !ok {
		t.Fatalf("Best = %v, %v", ok, err)
	}
	if best.ID != "b" || best.Height != 2.5 || best.Turns != 3 {
		t.Fatalf("best = %+v", best)
	}
	if !best.EndedAt.Equal(now.Add(time.Minute)) || !best.StartedAt.Equal(now) {
		t.Fatalf("times = %v / %v", best.StartedAt, best.EndedAt)
	}

	if _, ok, err := l.Best(ctx, "nobody"); ok || err != nil {
		t.Fatalf("Best for unknown channel = %v, %v", ok, err)
	}
}

func TestTop(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, h := range []float64{0.5, 3, 1.5, 2} {
		if err := l.Record(ctx, game(string(rune('a'+i)), "C1", h, now)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	top, err := l.Top(ctx, 3)
	if err != nil {
		t.Fatalf("Top: %v", err)
	}
	if len(top) != 3 {
		t.Fatalf("got %d games, want 3", len(top))
	}
	for i, want := range []float64{3, 2, 1.5} {
		if top[i].Height != want {
			t.Fatalf("top[%d].Height = %v, want %v", i, top[i].Height, want)
		}
	}

	if none, err := l.Top(ctx, 0); err != nil || len(none) != 0 {
		t.Fatalf("Top(0) = %v, %v", none, err)
	}
}

func TestRecordReplacesSameID(t *testing.T) {
	l, path := openTestLedger(t)
	ctx := context.Background()
	now := time.Now()

	if err := l.Record(ctx, game("a", "C1", 1, now)); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(ctx, game("a", "C1", 2, now)); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		n      int
		height float64
	)
	if err := db.QueryRow(`SELECT COUNT(*), MAX(height) FROM games`).Scan(&n, &height); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 1 || height != 2 {
		t.Fatalf("rows=%d height=%v, want 1 row at 2", n, height)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected an error")
	}
}
