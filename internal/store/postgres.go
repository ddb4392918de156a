package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const userColumns = `id, username, email, password_hash, is_admin, is_email_verified,
	verification_token, verification_expires_at, reset_token, reset_expires_at,
	country, region, address, website, about, created_at, updated_at`

func scanUser(row *sql.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsAdmin, &u.IsEmailVerified,
		&u.VerificationToken, &u.VerificationExpiresAt, &u.ResetToken, &u.ResetExpiresAt,
		&u.Country, &u.Region, &u.Address, &u.Website, &u.About, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, username, email, passwordHash, verificationToken string, verificationExpires time.Time) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, verification_token, verification_expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		username, email, passwordHash, verificationToken, verificationExpires)
	user, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email))
}

func (s *PostgresStore) GetUserByVerificationToken(ctx context.Context, token string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE verification_token=$1 AND verification_token <> ''
	`, token))
}

func (s *PostgresStore) MarkEmailVerified(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE id=$1
	`, userID)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET reset_token=$2, reset_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("set reset token: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByResetToken(ctx context.Context, token string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE reset_token=$1 AND reset_token <> '' AND reset_expires_at > NOW()
	`, token))
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, reset_token='', reset_expires_at=NULL, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, userID, country, region, address, website, about string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE users
		SET country=$2, region=$3, address=$4, website=$5, about=$6, updated_at=NOW()
		WHERE id=$1
		RETURNING `+userColumns,
		userID, country, region, address, website, about)
	return scanUser(row)
}

// ClearProfile wipes the personal fields, avatars and any pending email
// validation for the user, keeping the account itself.
func (s *PostgresStore) ClearProfile(ctx context.Context, userID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin clear profile: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `SELECT object_key FROM avatars WHERE user_id=$1`, userID)
	if err != nil {
		return nil, fmt.Errorf("list avatar keys: %w", err)
	}
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan avatar key: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate avatar keys: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM avatars WHERE user_id=$1`, userID); err != nil {
		return nil, fmt.Errorf("delete avatars: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM email_validations WHERE user_id=$1`, userID); err != nil {
		return nil, fmt.Errorf("delete email validation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE users SET country='', region='', address='', website='', about='', updated_at=NOW() WHERE id=$1
	`, userID); err != nil {
		return nil, fmt.Errorf("clear profile fields: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit clear profile: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) CreateSpace(ctx context.Context, url, name, description, authorID string) (Space, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Space{}, fmt.Errorf("begin create space: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var sp Space
	err = tx.QueryRowContext(ctx, `
		INSERT INTO spaces (url, name, description, author_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, url, name, description, author_id, created_at, updated_at
	`, url, name, description, authorID).Scan(&sp.ID, &sp.URL, &sp.Name, &sp.Description, &sp.AuthorID, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return Space{}, fmt.Errorf("insert space: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO space_roles (space_id, user_id, role) VALUES ($1, $2, 'admin')
	`, sp.ID, authorID); err != nil {
		return Space{}, fmt.Errorf("grant creator role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Space{}, fmt.Errorf("commit create space: %w", err)
	}
	return sp, nil
}

func (s *PostgresStore) GetSpaceByURL(ctx context.Context, url string) (Space, error) {
	var sp Space
	err := s.db.QueryRowContext(ctx, `
		SELECT id, url, name, description, author_id, created_at, updated_at FROM spaces WHERE url=$1
	`, url).Scan(&sp.ID, &sp.URL, &sp.Name, &sp.Description, &sp.AuthorID, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return Space{}, err
	}
	return sp, nil
}

func (s *PostgresStore) UpdateSpace(ctx context.Context, spaceID, name, description string) (Space, error) {
	var sp Space
	err := s.db.QueryRowContext(ctx, `
		UPDATE spaces SET name=$2, description=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING id, url, name, description, author_id, created_at, updated_at
	`, spaceID, name, description).Scan(&sp.ID, &sp.URL, &sp.Name, &sp.Description, &sp.AuthorID, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		return Space{}, err
	}
	return sp, nil
}

var ErrSpaceNotEmpty = errors.New("space still has content")

// DeleteSpace refuses to delete a space that still holds proposals or
// posts.
func (s *PostgresStore) DeleteSpace(ctx context.Context, spaceID string) error {
	var hasContent bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM proposals WHERE space_id=$1)
			OR EXISTS(SELECT 1 FROM posts WHERE space_id=$1)
	`, spaceID).Scan(&hasContent)
	if err != nil {
		return fmt.Errorf("check space content: %w", err)
	}
	if hasContent {
		return ErrSpaceNotEmpty
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM spaces WHERE id=$1`, spaceID)
	if err != nil {
		return fmt.Errorf("delete space: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListSpacesForUser(ctx context.Context, userID string) ([]Space, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.url, s.name, s.description, s.author_id, s.created_at, s.updated_at
		FROM spaces s
		JOIN space_roles sr ON sr.space_id = s.id
		WHERE sr.user_id = $1
		ORDER BY s.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list spaces for user: %w", err)
	}
	defer rows.Close()

	var spaces []Space
	for rows.Next() {
		var sp Space
		if err := rows.Scan(&sp.ID, &sp.URL, &sp.Name, &sp.Description, &sp.AuthorID, &sp.CreatedAt, &sp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		spaces = append(spaces, sp)
	}
	return spaces, rows.Err()
}

func (s *PostgresStore) GetSpaceRole(ctx context.Context, spaceID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM space_roles WHERE space_id=$1 AND user_id=$2
	`, spaceID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read space role: %w", err)
	}
	return role, nil
}

func (s *PostgresStore) SetSpaceRole(ctx context.Context, spaceID, userID, role string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO space_roles (space_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (space_id, user_id) DO UPDATE SET role=EXCLUDED.role, granted_at=NOW()
	`, spaceID, userID, role)
	if err != nil {
		return fmt.Errorf("set space role: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveSpaceRole(ctx context.Context, spaceID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM space_roles WHERE space_id=$1 AND user_id=$2
	`, spaceID, userID)
	if err != nil {
		return fmt.Errorf("remove space role: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListSpaceRoles(ctx context.Context, spaceID string) ([]SpaceRole, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sr.space_id, sr.user_id, u.username, sr.role, sr.granted_at
		FROM space_roles sr
		JOIN users u ON u.id = sr.user_id
		WHERE sr.space_id = $1
		ORDER BY u.username
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list space roles: %w", err)
	}
	defer rows.Close()

	var roles []SpaceRole
	for rows.Next() {
		var r SpaceRole
		if err := rows.Scan(&r.SpaceID, &r.UserID, &r.Username, &r.Role, &r.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan space role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.password_hash, u.is_admin, u.is_email_verified,
			u.verification_token, u.verification_expires_at, u.reset_token, u.reset_expires_at,
			u.country, u.region, u.address, u.website, u.about, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash)
	return scanUser(row)
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}
