package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"ecidadania/api/internal/store"
)

type fakeFallback struct {
	searchContent func(ctx context.Context, query, contentType, spaceURL string, limit int) ([]store.SearchHit, error)
}

func (f *fakeFallback) SearchContent(ctx context.Context, query, contentType, spaceURL string, limit int) ([]store.SearchHit, error) {
	return f.searchContent(ctx, query, contentType, spaceURL, limit)
}

func TestSearchFallsBackToPostgres(t *testing.T) {
	var gotQuery, gotType string
	svc := NewService(nil, &fakeFallback{
		searchContent: func(ctx context.Context, query, contentType, spaceURL string, limit int) ([]store.SearchHit, error) {
			gotQuery, gotType = query, contentType
			return []store.SearchHit{
				{Type: "proposal", ID: "p1", Title: "Bike lanes", Body: "More bike lanes downtown", SpaceURL: "city"},
			}, nil
		},
	})

	resp := svc.Search(context.Background(), Query{Text: "bike", Type: ResultProposal})
	if gotQuery != "bike" || gotType != "proposal" {
		t.Fatalf("fallback called with query=%q type=%q", gotQuery, gotType)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("Search() results = %d, want 1", len(resp.Results))
	}
	r := resp.Results[0]
	if r.Type != ResultProposal || r.ID != "p1" || r.SpaceURL != "city" {
		t.Fatalf("unexpected result: %+v", r)
	}
}

func TestSearchFallbackErrorYieldsEmptyResponse(t *testing.T) {
	svc := NewService(nil, &fakeFallback{
		searchContent: func(ctx context.Context, query, contentType, spaceURL string, limit int) ([]store.SearchHit, error) {
			return nil, errors.New("db down")
		},
	})

	resp := svc.Search(context.Background(), Query{Text: "anything"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", resp.Results)
	}
	if resp.Total != 0 {
		t.Fatalf("Total = %d, want 0", resp.Total)
	}
}

func TestSearchSnippetsAreBounded(t *testing.T) {
	long := strings.Repeat("participation ", 40)
	svc := NewService(nil, &fakeFallback{
		searchContent: func(ctx context.Context, query, contentType, spaceURL string, limit int) ([]store.SearchHit, error) {
			return []store.SearchHit{{Type: "post", ID: "n1", Title: "Budget", Body: long, SpaceURL: ""}}, nil
		},
	})

	resp := svc.Search(context.Background(), Query{Text: "budget"})
	if len(resp.Results) != 1 {
		t.Fatalf("Search() results = %d, want 1", len(resp.Results))
	}
	if len(resp.Results[0].Snippet) > 180 {
		t.Fatalf("snippet too long: %d bytes", len(resp.Results[0].Snippet))
	}
}

func TestSearchSnippetKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("ñ", 200)
	svc := NewService(nil, &fakeFallback{
		searchContent: func(ctx context.Context, query, contentType, spaceURL string, limit int) ([]store.SearchHit, error) {
			return []store.SearchHit{{Type: "proposal", ID: "p1", Title: "Señal", Body: long, SpaceURL: "city"}}, nil
		},
	})

	resp := svc.Search(context.Background(), Query{Text: "señal"})
	if len(resp.Results) != 1 {
		t.Fatalf("Search() results = %d, want 1", len(resp.Results))
	}
	got := resp.Results[0].Snippet
	if len(got) > 180 {
		t.Fatalf("snippet too long: %d bytes", len(got))
	}
	if !utf8.ValidString(got) {
		t.Fatalf("snippet split a rune: %q", got[len(got)-4:])
	}
}
