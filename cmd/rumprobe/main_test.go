package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/dshills/rumbeacon/internal/collector"
)

func TestParseFlags(t *testing.T) {
	got, err := parseFlags([]string{
		"-page", "https://example.com/",
		"-fetch", "https://example.com/a,https://example.com/b",
		"-fetch", "https://example.com/c",
		"-route", "/cart",
	})
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	want := list{"https://example.com/a", "https://example.com/b", "https://example.com/c"}
	if diff := cmp.Diff(want, got.fetch); diff != "" {
		t.Errorf("fetch mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(list{"/cart"}, got.routes); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}

	if _, err := parseFlags(nil); err == nil {
		t.Error("parseFlags() accepted a missing -page")
	}

	t.Setenv("RUMPROBE_PAGE", "https://env.example/")
	got, err = parseFlags(nil)
	if err != nil || got.page != "https://env.example/" {
		t.Errorf("parseFlags() from env = %q, %v", got.page, err)
	}
}

func TestNavigate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusFound)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/gone", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	n := newNavigator(5 * time.Second)
	nav, final, err := n.Navigate(context.Background(), ts.URL+"/old")
	if err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if final != ts.URL+"/new" {
		t.Errorf("final URL = %q", final)
	}
	if nav.RedirectCount != 1 {
		t.Errorf("RedirectCount = %d, want 1", nav.RedirectCount)
	}
	if !nav.Valid() || nav.ResponseStart.IsZero() || nav.LoadEventEnd.Before(nav.ResponseStart) {
		t.Errorf("incomplete timing: %+v", nav)
	}
	if nav.ResponseStart.Before(nav.NavigationStart) {
		t.Error("response before navigation start")
	}

	if _, _, err := n.Navigate(context.Background(), ts.URL+"/gone"); err == nil {
		t.Error("Navigate() accepted a 404")
	}
}

func TestProbeSendsBeacons(t *testing.T) {
	store, err := collector.OpenStore(filepath.Join(t.TempDir(), "beacons.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	coll := httptest.NewServer(collector.NewServer(store).Handler())
	defer coll.Close()

	site := http.NewServeMux()
	site.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html></html>"))
	})
	site.HandleFunc("/api/items", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	page := httptest.NewServer(site)
	defer page.Close()

	opts := options{
		page:      page.URL + "/",
		beaconURL: coll.URL + "/beacon",
		fetch:     list{page.URL + "/api/items"},
		timeout:   5 * time.Second,
		settle:    100 * time.Millisecond,
	}
	if err := probe(context.Background(), opts, zap.NewNop()); err != nil {
		t.Fatalf("probe() error = %v", err)
	}

	records, err := store.Recent(context.Background(), collector.Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(records) == 0 {
		t.Fatal("collector received no beacons")
	}
	var painted bool
	for _, r := range records {
		painted = painted || r.Var("pt.fcp").Exists()
		if r.PageID == "" {
			t.Errorf("beacon %d has no page id", r.ID)
		}
		if r.Var("v").String() == "" {
			t.Errorf("beacon %d has no version", r.ID)
		}
	}
	if !painted {
		t.Error("no beacon carried paint timing")
	}
}
