package search

import (
	"context"
	"log"
	"unicode/utf8"

	"ecidadania/api/internal/store"
)

// Fallback is the Postgres-backed search used when Meilisearch is
// down.
type Fallback interface {
	SearchContent(ctx context.Context, query, contentType, spaceURL string, limit int) ([]store.SearchHit, error)
}

// Service tries Meilisearch first and falls back to Postgres.
type Service struct {
	meili    *Meili
	fallback Fallback
}

// NewService creates a search service. meili may be nil when
// Meilisearch is not configured.
func NewService(meili *Meili, fallback Fallback) *Service {
	return &Service{meili: meili, fallback: fallback}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}

	limit := q.Limit
	if limit == 0 {
		limit = 20
	}
	hits, err := s.fallback.SearchContent(ctx, q.Text, string(q.Type), q.SpaceURL, limit)
	if err != nil {
		log.Printf("search: postgres fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			Type:     ResultType(hit.Type),
			ID:       hit.ID,
			Title:    hit.Title,
			Snippet:  snippet(hit.Body),
			SpaceURL: hit.SpaceURL,
		})
	}
	return Response{Results: results, Total: len(results), Query: q.Text}
}

// IndexProposal pushes a proposal into the index, fire-and-forget.
func (s *Service) IndexProposal(p ProposalRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexProposal(p); err != nil {
			log.Printf("search: index proposal %s: %v", p.ID, err)
		}
	}()
}

// IndexPost pushes a post into the index, fire-and-forget.
func (s *Service) IndexPost(p PostRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPost(p); err != nil {
			log.Printf("search: index post %s: %v", p.ID, err)
		}
	}()
}

// DeleteProposal removes a proposal from the index, fire-and-forget.
func (s *Service) DeleteProposal(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteProposal(id); err != nil {
			log.Printf("search: delete proposal %s: %v", id, err)
		}
	}()
}

// DeletePost removes a post from the index, fire-and-forget.
func (s *Service) DeletePost(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeletePost(id); err != nil {
			log.Printf("search: delete post %s: %v", id, err)
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// snippet cuts the fallback body down for result payloads, backing up
// to a rune boundary so multi-byte text is never split mid-character.
func snippet(body string) string {
	const max = 180
	if len(body) <= max {
		return body
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut]
}
