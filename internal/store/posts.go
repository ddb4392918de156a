package store

import (
	"context"
	"database/sql"
	"fmt"
)

const postSelect = `
	SELECT p.id, p.space_id, COALESCE(s.url, ''), p.title, p.description, p.author_id, u.username,
		p.pub_index, p.views, p.pub_date, p.lastup,
		(SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id) AS comment_count
	FROM posts p
	JOIN users u ON u.id = p.author_id
	LEFT JOIN spaces s ON s.id = p.space_id
`

func scanPost(scan func(dest ...any) error) (Post, error) {
	var p Post
	err := scan(&p.ID, &p.SpaceID, &p.SpaceURL, &p.Title, &p.Description, &p.AuthorID, &p.Author,
		&p.PubIndex, &p.Views, &p.PubDate, &p.LastUp, &p.CommentCount)
	if err != nil {
		return Post{}, err
	}
	return p, nil
}

func (s *PostgresStore) CreatePost(ctx context.Context, p Post) (Post, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Post{}, fmt.Errorf("begin create post: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO posts (space_id, title, description, author_id, pub_index)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, p.SpaceID, p.Title, p.Description, p.AuthorID, p.PubIndex).Scan(&id)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	if err := insertTags(ctx, tx, id, p.Tags); err != nil {
		return Post{}, err
	}
	if err := tx.Commit(); err != nil {
		return Post{}, fmt.Errorf("commit create post: %w", err)
	}
	return s.GetPost(ctx, id)
}

// UpdatePost replaces title, description, pub_index and tags; pub_date
// never changes after creation.
func (s *PostgresStore) UpdatePost(ctx context.Context, postID, title, description string, pubIndex bool, tags []string) (Post, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Post{}, fmt.Errorf("begin update post: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE posts SET title=$2, description=$3, pub_index=$4, lastup=NOW() WHERE id=$1
	`, postID, title, description, pubIndex)
	if err != nil {
		return Post{}, fmt.Errorf("update post: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return Post{}, sql.ErrNoRows
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM post_tags WHERE post_id=$1`, postID); err != nil {
		return Post{}, fmt.Errorf("clear post tags: %w", err)
	}
	if err := insertTags(ctx, tx, postID, tags); err != nil {
		return Post{}, err
	}
	if err := tx.Commit(); err != nil {
		return Post{}, fmt.Errorf("commit update post: %w", err)
	}
	return s.GetPost(ctx, postID)
}

func insertTags(ctx context.Context, tx *sql.Tx, postID string, tags []string) error {
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO post_tags (post_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, postID, tag); err != nil {
			return fmt.Errorf("insert post tag: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) DeletePost(ctx context.Context, postID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id=$1`, postID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) GetPost(ctx context.Context, postID string) (Post, error) {
	row := s.db.QueryRowContext(ctx, postSelect+` WHERE p.id = $1`, postID)
	p, err := scanPost(row.Scan)
	if err != nil {
		return Post{}, err
	}
	tags, err := s.postTags(ctx, postID)
	if err != nil {
		return Post{}, err
	}
	p.Tags = tags
	return p, nil
}

func (s *PostgresStore) IncrementPostViews(ctx context.Context, postID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE posts SET views = views + 1 WHERE id = $1`, postID)
	if err != nil {
		return fmt.Errorf("increment post views: %w", err)
	}
	return nil
}

// ListPosts returns the posts of one space ordered by title.
func (s *PostgresStore) ListPosts(ctx context.Context, spaceID string) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, postSelect+`
		WHERE p.space_id = $1
		ORDER BY p.title
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()
	return s.collectPosts(ctx, rows)
}

// ListIndexPosts returns pub_index posts across all spaces for the
// site front page.
func (s *PostgresStore) ListIndexPosts(ctx context.Context) ([]Post, error) {
	rows, err := s.db.QueryContext(ctx, postSelect+`
		WHERE p.pub_index
		ORDER BY p.pub_date DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list index posts: %w", err)
	}
	defer rows.Close()
	return s.collectPosts(ctx, rows)
}

func (s *PostgresStore) collectPosts(ctx context.Context, rows *sql.Rows) ([]Post, error) {
	var posts []Post
	for rows.Next() {
		p, err := scanPost(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range posts {
		tags, err := s.postTags(ctx, posts[i].ID)
		if err != nil {
			return nil, err
		}
		posts[i].Tags = tags
	}
	return posts, nil
}

func (s *PostgresStore) postTags(ctx context.Context, postID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag FROM post_tags WHERE post_id=$1 ORDER BY tag`, postID)
	if err != nil {
		return nil, fmt.Errorf("list post tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan post tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *PostgresStore) AddComment(ctx context.Context, postID, authorID, body string) (Comment, error) {
	var c Comment
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (post_id, author_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, post_id, author_id, body, created_at
	`, postID, authorID, body).Scan(&c.ID, &c.PostID, &c.AuthorID, &c.Body, &c.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}
