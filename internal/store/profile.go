package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ReplacePendingAvatar drops any previous pending (valid=false) row for
// the user and records the freshly uploaded object. The superseded
// object keys are returned so their stored images can be deleted.
func (s *PostgresStore) ReplacePendingAvatar(ctx context.Context, userID, objectKey, contentType string) (Avatar, []string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Avatar{}, nil, fmt.Errorf("begin replace pending avatar: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		DELETE FROM avatars WHERE user_id=$1 AND NOT valid RETURNING object_key
	`, userID)
	if err != nil {
		return Avatar{}, nil, fmt.Errorf("delete pending avatar: %w", err)
	}
	var oldKeys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return Avatar{}, nil, fmt.Errorf("scan pending avatar key: %w", err)
		}
		oldKeys = append(oldKeys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Avatar{}, nil, fmt.Errorf("delete pending avatar: %w", err)
	}

	var a Avatar
	err = tx.QueryRowContext(ctx, `
		INSERT INTO avatars (user_id, object_key, content_type, valid)
		VALUES ($1, $2, $3, FALSE)
		RETURNING id, user_id, object_key, content_type, valid, created_at
	`, userID, objectKey, contentType).Scan(&a.ID, &a.UserID, &a.ObjectKey, &a.ContentType, &a.Valid, &a.CreatedAt)
	if err != nil {
		return Avatar{}, nil, fmt.Errorf("insert pending avatar: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Avatar{}, nil, fmt.Errorf("commit replace pending avatar: %w", err)
	}
	return a, oldKeys, nil
}

func (s *PostgresStore) GetPendingAvatar(ctx context.Context, userID string) (Avatar, error) {
	var a Avatar
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, object_key, content_type, valid, created_at
		FROM avatars WHERE user_id=$1 AND NOT valid
		ORDER BY created_at DESC LIMIT 1
	`, userID).Scan(&a.ID, &a.UserID, &a.ObjectKey, &a.ContentType, &a.Valid, &a.CreatedAt)
	if err != nil {
		return Avatar{}, err
	}
	return a, nil
}

func (s *PostgresStore) GetValidAvatar(ctx context.Context, userID string) (Avatar, error) {
	var a Avatar
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, object_key, content_type, valid, created_at
		FROM avatars WHERE user_id=$1 AND valid
	`, userID).Scan(&a.ID, &a.UserID, &a.ObjectKey, &a.ContentType, &a.Valid, &a.CreatedAt)
	if err != nil {
		return Avatar{}, err
	}
	return a, nil
}

// PromoteAvatar flips the pending row to valid and removes the
// previously valid one in a single transaction, returning the replaced
// object key so its stored image can be deleted afterwards.
func (s *PostgresStore) PromoteAvatar(ctx context.Context, userID, avatarID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin promote avatar: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldKey string
	err = tx.QueryRowContext(ctx, `
		DELETE FROM avatars WHERE user_id=$1 AND valid RETURNING object_key
	`, userID).Scan(&oldKey)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("drop previous avatar: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE avatars SET valid=TRUE, content_type='image/jpeg' WHERE id=$1 AND user_id=$2 AND NOT valid
	`, avatarID, userID)
	if err != nil {
		return "", fmt.Errorf("promote avatar: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return "", sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit promote avatar: %w", err)
	}
	return oldKey, nil
}

// DeleteValidAvatar removes the current avatar row and returns its
// object key.
func (s *PostgresStore) DeleteValidAvatar(ctx context.Context, userID string) (string, error) {
	var key string
	err := s.db.QueryRowContext(ctx, `
		DELETE FROM avatars WHERE user_id=$1 AND valid RETURNING object_key
	`, userID).Scan(&key)
	if err != nil {
		return "", err
	}
	return key, nil
}

// UpsertEmailValidation supersedes any pending validation for the user.
func (s *PostgresStore) UpsertEmailValidation(ctx context.Context, userID, email, keyHash string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_validations (user_id, email, key_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET email=EXCLUDED.email, key_hash=EXCLUDED.key_hash, created_at=NOW()
	`, userID, email, keyHash)
	if err != nil {
		return fmt.Errorf("upsert email validation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEmailValidation(ctx context.Context, userID string) (EmailValidation, error) {
	var v EmailValidation
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, email, key_hash, created_at FROM email_validations WHERE user_id=$1
	`, userID).Scan(&v.UserID, &v.Email, &v.KeyHash, &v.CreatedAt)
	if err != nil {
		return EmailValidation{}, err
	}
	return v, nil
}

// ConsumeEmailValidation verifies the key, applies the new address to
// the user and deletes the pending record in one transaction.
func (s *PostgresStore) ConsumeEmailValidation(ctx context.Context, userID, keyHash string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin consume validation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var email string
	err = tx.QueryRowContext(ctx, `
		DELETE FROM email_validations WHERE user_id=$1 AND key_hash=$2 RETURNING email
	`, userID, keyHash).Scan(&email)
	if err != nil {
		return "", err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET email=$2, is_email_verified=TRUE, updated_at=NOW() WHERE id=$1
	`, userID, email); err != nil {
		return "", fmt.Errorf("apply validated email: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit consume validation: %w", err)
	}
	return email, nil
}

func (s *PostgresStore) DeleteEmailValidation(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM email_validations WHERE user_id=$1`, userID)
	if err != nil {
		return fmt.Errorf("delete email validation: %w", err)
	}
	return nil
}

// SearchContent is the Postgres fallback used when Meilisearch is
// down. Matching is plain ILIKE over titles and bodies.
func (s *PostgresStore) SearchContent(ctx context.Context, query, contentType, spaceURL string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + query + "%"
	var hits []SearchHit

	if contentType == "" || contentType == "proposal" {
		rows, err := s.db.QueryContext(ctx, `
			SELECT p.id, p.title, p.body, s.url
			FROM proposals p
			JOIN spaces s ON s.id = p.space_id
			WHERE (p.title ILIKE $1 OR p.body ILIKE $1)
				AND ($2 = '' OR s.url = $2)
			ORDER BY p.pub_date DESC
			LIMIT $3
		`, pattern, spaceURL, limit)
		if err != nil {
			return nil, fmt.Errorf("search proposals: %w", err)
		}
		hits, err = collectHits(rows, "proposal", hits)
		if err != nil {
			return nil, err
		}
	}

	if contentType == "" || contentType == "post" {
		rows, err := s.db.QueryContext(ctx, `
			SELECT p.id, p.title, p.description, COALESCE(s.url, '')
			FROM posts p
			LEFT JOIN spaces s ON s.id = p.space_id
			WHERE (p.title ILIKE $1 OR p.description ILIKE $1)
				AND ($2 = '' OR s.url = $2)
			ORDER BY p.pub_date DESC
			LIMIT $3
		`, pattern, spaceURL, limit)
		if err != nil {
			return nil, fmt.Errorf("search posts: %w", err)
		}
		hits, err = collectHits(rows, "post", hits)
		if err != nil {
			return nil, err
		}
	}

	return hits, nil
}

func collectHits(rows *sql.Rows, hitType string, hits []SearchHit) ([]SearchHit, error) {
	defer rows.Close()
	for rows.Next() {
		hit := SearchHit{Type: hitType}
		if err := rows.Scan(&hit.ID, &hit.Title, &hit.Body, &hit.SpaceURL); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}
