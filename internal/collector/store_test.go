package collector

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "beacons.db"))
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(initiator, pid string, at time.Time) Record {
	return Record{
		Received:  at,
		Client:    "192.0.2.1",
		Transport: TransportGet,
		PageID:    pid,
		URL:       "https://example.com/",
		Initiator: initiator,
		Data:      []byte(`{"u":"https://example.com/"}`),
	}
}

func TestStoreInsertAndRecent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	records := []Record{
		record("", "p1", base),
		record("xhr", "p1", base.Add(time.Second)),
		record("spa", "p2", base.Add(2*time.Second)),
	}
	if err := s.Insert(ctx, records); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	for i, r := range records {
		if r.ID == 0 {
			t.Errorf("records[%d] has no id", i)
		}
	}

	n, err := s.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Count() = %d, %v; want 3", n, err)
	}

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"all newest first", Query{}, []string{"spa", "xhr", ""}},
		{"limit", Query{Limit: 1}, []string{"spa"}},
		{"initiator", Query{Initiator: "xhr"}, []string{"xhr"}},
		{"page", Query{PageID: "p1"}, []string{"xhr", ""}},
		{"since", Query{Since: base.Add(time.Second)}, []string{"spa", "xhr"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Recent(ctx, tt.q)
			if err != nil {
				t.Fatalf("Recent() error = %v", err)
			}
			var initiators []string
			for _, r := range got {
				initiators = append(initiators, r.Initiator)
			}
			if diff := cmp.Diff(tt.want, initiators); diff != "" {
				t.Errorf("initiators mismatch (-want +got):\n%s", diff)
			}
		})
	}

	got, _ := s.Recent(ctx, Query{Limit: 1})
	if !got[0].Received.Equal(base.Add(2 * time.Second)) {
		t.Errorf("Received = %v", got[0].Received)
	}
	if got[0].Var("u").String() != "https://example.com/" {
		t.Errorf("data = %s", got[0].Data)
	}
}

func TestStoreRejectsInvalidJSON(t *testing.T) {
	s := openTestStore(t)
	r := record("", "p1", time.Now())
	r.Data = []byte(`{not json`)
	if err := s.Insert(context.Background(), []Record{r}); err == nil {
		t.Fatal("Insert() accepted invalid JSON")
	}
	if n, _ := s.Count(context.Background()); n != 0 {
		t.Errorf("Count() = %d after rollback, want 0", n)
	}
}

func TestStoreClosed(t *testing.T) {
	s := openTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := s.Insert(context.Background(), nil); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Insert() error = %v, want ErrStoreClosed", err)
	}
	if _, err := s.Recent(context.Background(), Query{}); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("Recent() error = %v, want ErrStoreClosed", err)
	}
}
