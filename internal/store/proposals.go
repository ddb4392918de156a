package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ProposalPageSize caps proposal listings; SetPageSize caps proposal
// set listings.
const (
	ProposalPageSize = 50
	SetPageSize      = 20
)

const proposalSelect = `
	SELECT p.id, p.space_id, p.proposalset_id, p.title, p.body, p.author_id, u.username,
		p.merged, p.extra_fields, p.pub_date, p.updated_at,
		(SELECT COUNT(*) FROM proposal_supports ps WHERE ps.proposal_id = p.id) AS supports
	FROM proposals p
	JOIN users u ON u.id = p.author_id
`

func scanProposal(scan func(dest ...any) error) (Proposal, error) {
	var p Proposal
	var extra []byte
	err := scan(&p.ID, &p.SpaceID, &p.ProposalSetID, &p.Title, &p.Body, &p.AuthorID, &p.Author,
		&p.Merged, &extra, &p.PubDate, &p.UpdatedAt, &p.Supports)
	if err != nil {
		return Proposal{}, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &p.ExtraFields); err != nil {
			return Proposal{}, fmt.Errorf("decode extra fields: %w", err)
		}
	}
	return p, nil
}

func (s *PostgresStore) CreateProposal(ctx context.Context, p Proposal) (Proposal, error) {
	extra, err := json.Marshal(orEmpty(p.ExtraFields))
	if err != nil {
		return Proposal{}, fmt.Errorf("encode extra fields: %w", err)
	}
	var id string
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO proposals (space_id, proposalset_id, title, body, author_id, merged, extra_fields)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, p.SpaceID, p.ProposalSetID, p.Title, p.Body, p.AuthorID, p.Merged, extra).Scan(&id)
	if err != nil {
		return Proposal{}, fmt.Errorf("insert proposal: %w", err)
	}
	return s.GetProposal(ctx, id)
}

func (s *PostgresStore) GetProposal(ctx context.Context, proposalID string) (Proposal, error) {
	row := s.db.QueryRowContext(ctx, proposalSelect+` WHERE p.id = $1`, proposalID)
	return scanProposal(row.Scan)
}

// UpdateProposal rewrites title, body and extra fields; the author
// column is never touched.
func (s *PostgresStore) UpdateProposal(ctx context.Context, proposalID, title, body string, extraFields map[string]string) (Proposal, error) {
	extra, err := json.Marshal(orEmpty(extraFields))
	if err != nil {
		return Proposal{}, fmt.Errorf("encode extra fields: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposals SET title=$2, body=$3, extra_fields=$4, updated_at=NOW() WHERE id=$1
	`, proposalID, title, body, extra)
	if err != nil {
		return Proposal{}, fmt.Errorf("update proposal: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return Proposal{}, sql.ErrNoRows
	}
	return s.GetProposal(ctx, proposalID)
}

func (s *PostgresStore) DeleteProposal(ctx context.Context, proposalID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM proposals WHERE id=$1`, proposalID)
	if err != nil {
		return fmt.Errorf("delete proposal: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListProposals(ctx context.Context, spaceID string, page int) ([]Proposal, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals WHERE space_id=$1`, spaceID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count proposals: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, proposalSelect+`
		WHERE p.space_id = $1
		ORDER BY p.pub_date DESC
		LIMIT $2 OFFSET $3
	`, spaceID, ProposalPageSize, pageOffset(page, ProposalPageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()
	proposals, err := collectProposals(rows)
	return proposals, total, err
}

func (s *PostgresStore) ListProposalsBySet(ctx context.Context, setID string, page int) ([]Proposal, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals WHERE proposalset_id=$1`, setID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count set proposals: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, proposalSelect+`
		WHERE p.proposalset_id = $1
		ORDER BY p.pub_date DESC
		LIMIT $2 OFFSET $3
	`, setID, ProposalPageSize, pageOffset(page, ProposalPageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("list set proposals: %w", err)
	}
	defer rows.Close()
	proposals, err := collectProposals(rows)
	return proposals, total, err
}

func (s *PostgresStore) ListProposalsByAuthor(ctx context.Context, authorID string) ([]Proposal, error) {
	rows, err := s.db.QueryContext(ctx, proposalSelect+`
		WHERE p.author_id = $1
		ORDER BY p.pub_date DESC
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list proposals by author: %w", err)
	}
	defer rows.Close()
	return collectProposals(rows)
}

func collectProposals(rows *sql.Rows) ([]Proposal, error) {
	var proposals []Proposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

// SupportProposal records one support per user; repeats are no-ops.
func (s *PostgresStore) SupportProposal(ctx context.Context, proposalID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposal_supports (proposal_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (proposal_id, user_id) DO NOTHING
	`, proposalID, userID)
	if err != nil {
		return fmt.Errorf("support proposal: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateProposalSet(ctx context.Context, spaceID, name string, debateID *string, authorID string) (ProposalSet, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO proposal_sets (space_id, name, debate_id, author_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, spaceID, name, debateID, authorID).Scan(&id)
	if err != nil {
		return ProposalSet{}, fmt.Errorf("insert proposal set: %w", err)
	}
	return s.GetProposalSet(ctx, id)
}

func (s *PostgresStore) GetProposalSet(ctx context.Context, setID string) (ProposalSet, error) {
	var set ProposalSet
	err := s.db.QueryRowContext(ctx, `
		SELECT ps.id, ps.space_id, ps.name, ps.debate_id, ps.author_id, u.username, ps.created_at, ps.updated_at
		FROM proposal_sets ps
		JOIN users u ON u.id = ps.author_id
		WHERE ps.id = $1
	`, setID).Scan(&set.ID, &set.SpaceID, &set.Name, &set.DebateID, &set.AuthorID, &set.Author, &set.CreatedAt, &set.UpdatedAt)
	if err != nil {
		return ProposalSet{}, err
	}
	return set, nil
}

func (s *PostgresStore) UpdateProposalSet(ctx context.Context, setID, name string, debateID *string) (ProposalSet, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE proposal_sets SET name=$2, debate_id=$3, updated_at=NOW() WHERE id=$1
	`, setID, name, debateID)
	if err != nil {
		return ProposalSet{}, fmt.Errorf("update proposal set: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ProposalSet{}, sql.ErrNoRows
	}
	return s.GetProposalSet(ctx, setID)
}

func (s *PostgresStore) DeleteProposalSet(ctx context.Context, setID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM proposal_sets WHERE id=$1`, setID)
	if err != nil {
		return fmt.Errorf("delete proposal set: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListProposalSets(ctx context.Context, spaceID string, page int) ([]ProposalSet, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposal_sets WHERE space_id=$1`, spaceID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count proposal sets: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ps.id, ps.space_id, ps.name, ps.debate_id, ps.author_id, u.username, ps.created_at, ps.updated_at
		FROM proposal_sets ps
		JOIN users u ON u.id = ps.author_id
		WHERE ps.space_id = $1
		ORDER BY ps.name
		LIMIT $2 OFFSET $3
	`, spaceID, SetPageSize, pageOffset(page, SetPageSize))
	if err != nil {
		return nil, 0, fmt.Errorf("list proposal sets: %w", err)
	}
	defer rows.Close()

	var sets []ProposalSet
	for rows.Next() {
		var set ProposalSet
		if err := rows.Scan(&set.ID, &set.SpaceID, &set.Name, &set.DebateID, &set.AuthorID, &set.Author, &set.CreatedAt, &set.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan proposal set: %w", err)
		}
		sets = append(sets, set)
	}
	return sets, total, rows.Err()
}

// ListAllProposalSets returns every set of the space without
// pagination. Selection helpers use it so their options cover the
// whole space.
func (s *PostgresStore) ListAllProposalSets(ctx context.Context, spaceID string) ([]ProposalSet, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ps.id, ps.space_id, ps.name, ps.debate_id, ps.author_id, u.username, ps.created_at, ps.updated_at
		FROM proposal_sets ps
		JOIN users u ON u.id = ps.author_id
		WHERE ps.space_id = $1
		ORDER BY ps.name
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list all proposal sets: %w", err)
	}
	defer rows.Close()

	var sets []ProposalSet
	for rows.Next() {
		var set ProposalSet
		if err := rows.Scan(&set.ID, &set.SpaceID, &set.Name, &set.DebateID, &set.AuthorID, &set.Author, &set.CreatedAt, &set.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan proposal set: %w", err)
		}
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

func (s *PostgresStore) AddProposalField(ctx context.Context, setID, fieldName string) (ProposalField, error) {
	var field ProposalField
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO proposal_fields (proposalset_id, field_name)
		VALUES ($1, $2)
		RETURNING id, proposalset_id, field_name
	`, setID, fieldName).Scan(&field.ID, &field.ProposalSetID, &field.FieldName)
	if err != nil {
		return ProposalField{}, fmt.Errorf("insert proposal field: %w", err)
	}
	return field, nil
}

// RemoveProposalField deletes every field row matching the pair and
// reports how many rows went away.
func (s *PostgresStore) RemoveProposalField(ctx context.Context, setID, fieldName string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM proposal_fields WHERE proposalset_id=$1 AND field_name=$2
	`, setID, fieldName)
	if err != nil {
		return 0, fmt.Errorf("remove proposal field: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("remove proposal field: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListProposalFields(ctx context.Context, setID string) ([]ProposalField, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, proposalset_id, field_name FROM proposal_fields WHERE proposalset_id=$1 ORDER BY field_name
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("list proposal fields: %w", err)
	}
	defer rows.Close()

	var fields []ProposalField
	for rows.Next() {
		var field ProposalField
		if err := rows.Scan(&field.ID, &field.ProposalSetID, &field.FieldName); err != nil {
			return nil, fmt.Errorf("scan proposal field: %w", err)
		}
		fields = append(fields, field)
	}
	return fields, rows.Err()
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func pageOffset(page, size int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * size
}
