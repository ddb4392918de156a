package photos

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "sunflower" {
			t.Errorf("unexpected query %q", r.URL.Query().Get("q"))
		}
		if r.URL.Query().Get("key") != "k123" {
			t.Errorf("missing api key")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"title":"Sunflower","thumbnail":"https://img/t1.jpg","url":"https://img/f1.jpg"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k123")
	photos, err := client.Search(context.Background(), "sunflower", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(photos) != 1 {
		t.Fatalf("Search() results = %d, want 1", len(photos))
	}
	if photos[0].Thumbnail != "https://img/t1.jpg" || photos[0].URL != "https://img/f1.jpg" {
		t.Fatalf("unexpected photo: %+v", photos[0])
	}
}

func TestSearchEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	photos, err := client.Search(context.Background(), "nothing", 0)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if photos == nil || len(photos) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", photos)
	}
}

func TestSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	if _, err := client.Search(context.Background(), "anything", 5); err == nil {
		t.Fatal("expected error for upstream failure")
	}
}
