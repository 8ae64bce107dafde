package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestExpired(t *testing.T) {
	s := Session{ID: "x", Start: t0, Last: t0.Add(10 * time.Minute), Length: 2}
	tests := []struct {
		name string
		s    Session
		now  time.Time
		want bool
	}{
		{"fresh", s, t0.Add(20 * time.Minute), false},
		{"idle", s, t0.Add(41 * time.Minute), true},
		{"no id", Session{}, t0, true},
		{"average page time", Session{ID: "x", Start: t0, Last: t0.Add(60 * time.Minute), Length: 1}, t0.Add(61 * time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Expired(tt.now, DefaultExpiry); got != tt.want {
				t.Errorf("Expired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestManagerRefresh(t *testing.T) {
	ctx := context.Background()
	m := NewManager(nil, WithDomain("shop.example"))

	first, renewed, err := m.Refresh(ctx, t0)
	if err != nil || !renewed || first.ID == "" || first.Length != 1 {
		t.Fatalf("first refresh = %+v renewed=%v err=%v", first, renewed, err)
	}

	second, renewed, _ := m.Refresh(ctx, t0.Add(5*time.Minute))
	if renewed || second.ID != first.ID || second.Length != 2 {
		t.Errorf("second refresh = %+v renewed=%v", second, renewed)
	}

	third, renewed, _ := m.Refresh(ctx, t0.Add(50*time.Minute))
	if !renewed || third.ID == first.ID || third.Length != 1 {
		t.Errorf("after idle = %+v renewed=%v", third, renewed)
	}

	vars := third.Vars()
	if vars[VarID] != third.ID || vars[VarLength] != 1 || vars[VarStart] != t0.Add(50*time.Minute).UnixMilli() {
		t.Errorf("Vars = %v", vars)
	}
}

func TestRateLimited(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := NewManager(store)
	m.Refresh(ctx, t0)

	if m.RateLimited() {
		t.Fatal("new session rate limited")
	}
	if err := m.MarkRateLimited(ctx); err != nil {
		t.Fatal(err)
	}
	if !m.RateLimited() {
		t.Error("RateLimited = false")
	}
	if s, _, _ := store.Load(ctx); !s.RateLimited {
		t.Error("rate limit not persisted")
	}
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "session.toml")
	store := NewFileStore(path)

	if _, ok, err := store.Load(ctx); ok || err != nil {
		t.Fatalf("Load on missing file = %v, %v", ok, err)
	}

	m := NewManager(store, WithDomain("a.example"))
	s, _, err := m.Refresh(ctx, t0)
	if err != nil {
		t.Fatal(err)
	}

	restarted := NewManager(NewFileStore(path), WithDomain("a.example"))
	got, renewed, err := restarted.Refresh(ctx, t0.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if renewed || got.ID != s.ID || got.Length != 2 || !got.Start.Equal(t0) {
		t.Errorf("restored session = %+v renewed=%v", got, renewed)
	}

	other := NewManager(NewFileStore(path), WithDomain("b.example"))
	if got, renewed, _ := other.Refresh(ctx, t0.Add(2*time.Minute)); !renewed || got.ID == s.ID {
		t.Error("session continued across domains")
	}

	if err := os.WriteFile(path, []byte("id = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Load(ctx); err == nil {
		t.Error("corrupt file loaded")
	}
}
