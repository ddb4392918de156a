package app

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"ecidadania/api/internal/rbac"
	"ecidadania/api/internal/search"
	"ecidadania/api/internal/store"
)

type PostInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	PubIndex    bool     `json:"pubIndex"`
	Tags        []string `json:"tags"`
}

type CommentInput struct {
	Body string `json:"body"`
}

func (s *Service) ListPosts(ctx context.Context, sess Session, spaceURL string) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	posts, err := s.store.ListPosts(ctx, space.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"posts": postPayloads(posts)}, nil
}

// GetPost bumps the views counter on every read.
func (s *Service) GetPost(ctx context.Context, sess Session, spaceURL, postID string) (map[string]any, error) {
	_, post, err := s.postInSpace(ctx, sess, spaceURL, postID, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	if err := s.store.IncrementPostViews(ctx, post.ID); err != nil {
		return nil, err
	}
	post.Views++
	return postPayload(post), nil
}

// CreatePost is an editorial operation, moderator or admin only.
func (s *Service) CreatePost(ctx context.Context, sess Session, spaceURL string, input PostInput) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionModerate)
	if err != nil {
		return nil, err
	}
	if err := validatePostInput(input); err != nil {
		return nil, err
	}

	post, err := s.store.CreatePost(ctx, store.Post{
		SpaceID:     &space.ID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		AuthorID:    sess.UserID,
		PubIndex:    input.PubIndex,
		Tags:        input.Tags,
	})
	if err != nil {
		return nil, err
	}
	s.indexPost(post)
	return postPayload(post), nil
}

// UpdatePost rewrites everything but the publication date, which is
// fixed at creation.
func (s *Service) UpdatePost(ctx context.Context, sess Session, spaceURL, postID string, input PostInput) (map[string]any, error) {
	_, post, err := s.postInSpace(ctx, sess, spaceURL, postID, rbac.ActionModerate)
	if err != nil {
		return nil, err
	}
	if err := validatePostInput(input); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdatePost(ctx, post.ID, strings.TrimSpace(input.Title), input.Description, input.PubIndex, input.Tags)
	if err != nil {
		return nil, err
	}
	s.indexPost(updated)
	return postPayload(updated), nil
}

func (s *Service) DeletePost(ctx context.Context, sess Session, spaceURL, postID string) error {
	_, post, err := s.postInSpace(ctx, sess, spaceURL, postID, rbac.ActionModerate)
	if err != nil {
		return err
	}
	if err := s.store.DeletePost(ctx, post.ID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeletePost(post.ID)
	}
	return nil
}

// IndexFeed is the public front page: posts flagged for the site
// index, no session required.
func (s *Service) IndexFeed(ctx context.Context) (map[string]any, error) {
	posts, err := s.store.ListIndexPosts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"posts": postPayloads(posts)}, nil
}

func (s *Service) AddComment(ctx context.Context, sess Session, spaceURL, postID string, input CommentInput) (map[string]any, error) {
	_, post, err := s.postInSpace(ctx, sess, spaceURL, postID, rbac.ActionContribute)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Body) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	comment, err := s.store.AddComment(ctx, post.ID, sess.UserID, input.Body)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":        comment.ID,
		"postId":    comment.PostID,
		"authorId":  comment.AuthorID,
		"author":    comment.Author,
		"body":      comment.Body,
		"createdAt": comment.CreatedAt,
	}, nil
}

func (s *Service) postInSpace(ctx context.Context, sess Session, spaceURL, postID string, action rbac.Action) (store.Space, store.Post, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, action)
	if err != nil {
		return store.Space{}, store.Post{}, err
	}
	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return store.Space{}, store.Post{}, err
	}
	if post.SpaceID == nil || *post.SpaceID != space.ID {
		return store.Space{}, store.Post{}, sql.ErrNoRows
	}
	return space, post, nil
}

func (s *Service) indexPost(p store.Post) {
	if s.search == nil {
		return
	}
	s.search.IndexPost(search.PostRecord{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		SpaceURL:    p.SpaceURL,
	})
}

func validatePostInput(input PostInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	return nil
}

func postPayload(p store.Post) map[string]any {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	payload := map[string]any{
		"id":           p.ID,
		"title":        p.Title,
		"description":  p.Description,
		"authorId":     p.AuthorID,
		"author":       p.Author,
		"pubIndex":     p.PubIndex,
		"views":        p.Views,
		"tags":         tags,
		"commentCount": p.CommentCount,
		"pubDate":      p.PubDate,
		"lastUpdated":  p.LastUp,
	}
	if p.SpaceID != nil {
		payload["spaceId"] = *p.SpaceID
		payload["spaceUrl"] = p.SpaceURL
	}
	return payload
}

func postPayloads(posts []store.Post) []map[string]any {
	items := make([]map[string]any, 0, len(posts))
	for _, p := range posts {
		items = append(items, postPayload(p))
	}
	return items
}
