package app

import (
	"context"
	"database/sql"
	"net/http"
	"strings"

	"ecidadania/api/internal/forms"
	"ecidadania/api/internal/rbac"
	"ecidadania/api/internal/search"
	"ecidadania/api/internal/store"
)

type ProposalInput struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	ExtraFields map[string]string `json:"extraFields"`
}

type ProposalSetInput struct {
	Name     string  `json:"name"`
	DebateID *string `json:"debateId"`
}

func (s *Service) ListProposals(ctx context.Context, sess Session, spaceURL string, page int) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	proposals, total, err := s.store.ListProposals(ctx, space.ID, page)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"proposals": proposalPayloads(proposals),
		"total":     total,
		"page":      normalizePage(page),
		"pageSize":  store.ProposalPageSize,
	}, nil
}

func (s *Service) GetProposal(ctx context.Context, sess Session, spaceURL, proposalID string) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.SpaceID != space.ID {
		return nil, sql.ErrNoRows
	}

	payload := proposalPayload(proposal)
	if proposal.ProposalSetID != nil {
		fields, err := s.store.ListProposalFields(ctx, *proposal.ProposalSetID)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(fields))
		for _, f := range fields {
			names = append(names, f.FieldName)
		}
		payload["setFields"] = names
	}
	return payload, nil
}

// CreateProposal requires only membership in the space. Space and
// author always come from the URL and the session.
func (s *Service) CreateProposal(ctx context.Context, sess Session, spaceURL string, input ProposalInput) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionContribute)
	if err != nil {
		return nil, err
	}
	if err := validateProposalInput(input); err != nil {
		return nil, err
	}

	proposal, err := s.store.CreateProposal(ctx, store.Proposal{
		SpaceID:     space.ID,
		Title:       strings.TrimSpace(input.Title),
		Body:        input.Body,
		AuthorID:    sess.UserID,
		ExtraFields: input.ExtraFields,
	})
	if err != nil {
		return nil, err
	}
	s.indexProposal(proposal, space.URL)
	return proposalPayload(proposal), nil
}

// UpdateProposal is open to moderators, admins and the original
// author. The author column is never rewritten.
func (s *Service) UpdateProposal(ctx context.Context, sess Session, spaceURL, proposalID string, input ProposalInput) (map[string]any, error) {
	space, proposal, err := s.authorizeProposal(ctx, sess, spaceURL, proposalID, rbac.ActionEditProposal)
	if err != nil {
		return nil, err
	}
	if err := validateProposalInput(input); err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateProposal(ctx, proposal.ID, strings.TrimSpace(input.Title), input.Body, input.ExtraFields)
	if err != nil {
		return nil, err
	}
	s.indexProposal(updated, space.URL)
	return proposalPayload(updated), nil
}

func (s *Service) DeleteProposal(ctx context.Context, sess Session, spaceURL, proposalID string) error {
	_, proposal, err := s.authorizeProposal(ctx, sess, spaceURL, proposalID, rbac.ActionEditProposal)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProposal(ctx, proposal.ID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteProposal(proposal.ID)
	}
	return nil
}

// SupportProposal records one support vote; repeats are no-ops.
func (s *Service) SupportProposal(ctx context.Context, sess Session, spaceURL, proposalID string) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionContribute)
	if err != nil {
		return nil, err
	}
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if proposal.SpaceID != space.ID {
		return nil, sql.ErrNoRows
	}
	if err := s.store.SupportProposal(ctx, proposal.ID, sess.UserID); err != nil {
		return nil, err
	}
	refreshed, err := s.store.GetProposal(ctx, proposal.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": refreshed.ID, "supports": refreshed.Supports}, nil
}

// authorizeProposal resolves space and proposal and applies the
// action with author awareness.
func (s *Service) authorizeProposal(ctx context.Context, sess Session, spaceURL, proposalID string, action rbac.Action) (store.Space, store.Proposal, error) {
	space, err := s.store.GetSpaceByURL(ctx, spaceURL)
	if err != nil {
		return store.Space{}, store.Proposal{}, err
	}
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return store.Space{}, store.Proposal{}, err
	}
	if proposal.SpaceID != space.ID {
		return store.Space{}, store.Proposal{}, sql.ErrNoRows
	}
	role, err := s.spaceRole(ctx, space.ID, sess)
	if err != nil {
		return store.Space{}, store.Proposal{}, err
	}
	if !rbac.Decide(role, proposal.AuthorID == sess.UserID, action) {
		return store.Space{}, store.Proposal{}, errForbidden
	}
	return space, proposal, nil
}

func (s *Service) ListProposalSets(ctx context.Context, sess Session, spaceURL string, page int) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	sets, total, err := s.store.ListProposalSets(ctx, space.ID, page)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(sets))
	for _, set := range sets {
		items = append(items, setPayload(set))
	}
	return map[string]any{
		"proposalSets": items,
		"total":        total,
		"page":         normalizePage(page),
		"pageSize":     store.SetPageSize,
	}, nil
}

// GetProposalSet returns the set, its declared fields and one page of
// its proposals.
func (s *Service) GetProposalSet(ctx context.Context, sess Session, spaceURL, setID string, page int) (map[string]any, error) {
	_, set, err := s.setInSpace(ctx, sess, spaceURL, setID, rbac.ActionView)
	if err != nil {
		return nil, err
	}

	fields, err := s.store.ListProposalFields(ctx, set.ID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.FieldName)
	}

	proposals, total, err := s.store.ListProposalsBySet(ctx, set.ID, page)
	if err != nil {
		return nil, err
	}

	payload := setPayload(set)
	payload["fields"] = names
	payload["proposals"] = proposalPayloads(proposals)
	payload["total"] = total
	payload["page"] = normalizePage(page)
	payload["pageSize"] = store.ProposalPageSize
	return payload, nil
}

func (s *Service) CreateProposalSet(ctx context.Context, sess Session, spaceURL string, input ProposalSetInput) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionManageSets)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	set, err := s.store.CreateProposalSet(ctx, space.ID, strings.TrimSpace(input.Name), input.DebateID, sess.UserID)
	if err != nil {
		return nil, err
	}
	return setPayload(set), nil
}

func (s *Service) UpdateProposalSet(ctx context.Context, sess Session, spaceURL, setID string, input ProposalSetInput) (map[string]any, error) {
	_, set, err := s.setInSpace(ctx, sess, spaceURL, setID, rbac.ActionManageSets)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	updated, err := s.store.UpdateProposalSet(ctx, set.ID, strings.TrimSpace(input.Name), input.DebateID)
	if err != nil {
		return nil, err
	}
	return setPayload(updated), nil
}

func (s *Service) DeleteProposalSet(ctx context.Context, sess Session, spaceURL, setID string) error {
	_, set, err := s.setInSpace(ctx, sess, spaceURL, setID, rbac.ActionManageSets)
	if err != nil {
		return err
	}
	return s.store.DeleteProposalSet(ctx, set.ID)
}

func (s *Service) AddSetField(ctx context.Context, sess Session, spaceURL, setID, fieldName string) (map[string]any, error) {
	_, set, err := s.setInSpace(ctx, sess, spaceURL, setID, rbac.ActionManageSets)
	if err != nil {
		return nil, err
	}
	fieldName = strings.TrimSpace(fieldName)
	if fieldName == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "fieldName is required", nil)
	}
	fields, err := s.store.ListProposalFields(ctx, set.ID)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if f.FieldName == fieldName {
			return nil, domainError(http.StatusConflict, "FIELD_EXISTS", "This set already declares that field", nil)
		}
	}
	field, err := s.store.AddProposalField(ctx, set.ID, fieldName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"id": field.ID, "proposalsetId": field.ProposalSetID, "fieldName": field.FieldName}, nil
}

// RemoveSetField deletes every field row matching the pair.
func (s *Service) RemoveSetField(ctx context.Context, sess Session, spaceURL, setID, fieldName string) (map[string]any, error) {
	_, set, err := s.setInSpace(ctx, sess, spaceURL, setID, rbac.ActionManageSets)
	if err != nil {
		return nil, err
	}
	removed, err := s.store.RemoveProposalField(ctx, set.ID, fieldName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"removed": removed}, nil
}

// AddProposalInSet is the contribute-level create with a set
// attachment. The set must belong to the space named in the URL.
func (s *Service) AddProposalInSet(ctx context.Context, sess Session, spaceURL, setID string, input ProposalInput) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionContribute)
	if err != nil {
		return nil, err
	}
	set, err := s.store.GetProposalSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	if set.SpaceID != space.ID {
		return nil, sql.ErrNoRows
	}
	if err := validateProposalInput(input); err != nil {
		return nil, err
	}

	proposal, err := s.store.CreateProposal(ctx, store.Proposal{
		SpaceID:       space.ID,
		ProposalSetID: &set.ID,
		Title:         strings.TrimSpace(input.Title),
		Body:          input.Body,
		AuthorID:      sess.UserID,
		ExtraFields:   input.ExtraFields,
	})
	if err != nil {
		return nil, err
	}
	s.indexProposal(proposal, space.URL)
	return proposalPayload(proposal), nil
}

// MergeProposals creates the combined proposal of a set. Moderator or
// admin only; being an author inside the set does not qualify.
func (s *Service) MergeProposals(ctx context.Context, sess Session, spaceURL, setID string, input ProposalInput) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionMerge)
	if err != nil {
		return nil, err
	}
	set, err := s.store.GetProposalSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	if set.SpaceID != space.ID {
		return nil, sql.ErrNoRows
	}
	if err := validateProposalInput(input); err != nil {
		return nil, err
	}

	proposal, err := s.store.CreateProposal(ctx, store.Proposal{
		SpaceID:       space.ID,
		ProposalSetID: &set.ID,
		Title:         strings.TrimSpace(input.Title),
		Body:          input.Body,
		AuthorID:      sess.UserID,
		Merged:        true,
		ExtraFields:   input.ExtraFields,
	})
	if err != nil {
		return nil, err
	}
	s.indexProposal(proposal, space.URL)
	return proposalPayload(proposal), nil
}

// SetOptions feeds the proposal-to-set selection step. Options are
// queried live so freshly created sets appear immediately.
func (s *Service) SetOptions(ctx context.Context, sess Session, spaceURL string) ([]forms.Option, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionManageSets)
	if err != nil {
		return nil, err
	}

	field := forms.ChainedField{Query: s.setOptionsQuery()}
	return field.Options(ctx, space.ID)
}

// ValidateSetSelection checks the chosen set against the live options
// and answers with the follow-up endpoint for the add or merge step.
func (s *Service) ValidateSetSelection(ctx context.Context, sess Session, spaceURL, setID, purpose string) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionManageSets)
	if err != nil {
		return nil, err
	}

	field := forms.ChainedField{Query: s.setOptionsQuery()}
	ok, err := field.Validate(ctx, space.ID, setID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "The chosen set does not belong to this space", nil)
	}

	var target string
	switch purpose {
	case "merge":
		target = "/api/spaces/" + space.URL + "/proposalsets/" + setID + "/merge"
	default:
		target = "/api/spaces/" + space.URL + "/proposalsets/" + setID + "/proposals"
	}
	return map[string]any{"setId": setID, "target": target}, nil
}

func (s *Service) setOptionsQuery() func(ctx context.Context, spaceID string) ([]forms.Option, error) {
	return func(ctx context.Context, spaceID string) ([]forms.Option, error) {
		sets, err := s.store.ListAllProposalSets(ctx, spaceID)
		if err != nil {
			return nil, err
		}
		options := make([]forms.Option, 0, len(sets))
		for _, set := range sets {
			options = append(options, forms.Option{Value: set.ID, Label: set.Name})
		}
		return options, nil
	}
}

// GroupedProposalOptions lists the space's set proposals grouped by
// set for the merged-proposal selection step.
func (s *Service) GroupedProposalOptions(ctx context.Context, sess Session, spaceURL string) ([]forms.OptionGroup, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, rbac.ActionManageSets)
	if err != nil {
		return nil, err
	}

	sets, err := s.store.ListAllProposalSets(ctx, space.ID)
	if err != nil {
		return nil, err
	}

	var items []forms.GroupedItem
	for _, set := range sets {
		proposals, _, err := s.store.ListProposalsBySet(ctx, set.ID, 1)
		if err != nil {
			return nil, err
		}
		for _, p := range proposals {
			items = append(items, forms.GroupedItem{
				GroupKey:   set.ID,
				GroupLabel: set.Name,
				Option:     forms.Option{Value: p.ID, Label: p.Title},
			})
		}
	}
	return forms.GroupOptions(items), nil
}

func (s *Service) indexProposal(p store.Proposal, spaceURL string) {
	if s.search == nil {
		return
	}
	s.search.IndexProposal(search.ProposalRecord{
		ID:       p.ID,
		Title:    p.Title,
		Body:     p.Body,
		SpaceURL: spaceURL,
	})
}

// setInSpace resolves a set, confirms it belongs to the space and
// applies the action.
func (s *Service) setInSpace(ctx context.Context, sess Session, spaceURL, setID string, action rbac.Action) (store.Space, store.ProposalSet, error) {
	space, _, err := s.authorize(ctx, sess, spaceURL, action)
	if err != nil {
		return store.Space{}, store.ProposalSet{}, err
	}
	set, err := s.store.GetProposalSet(ctx, setID)
	if err != nil {
		return store.Space{}, store.ProposalSet{}, err
	}
	if set.SpaceID != space.ID {
		return store.Space{}, store.ProposalSet{}, sql.ErrNoRows
	}
	return space, set, nil
}

func validateProposalInput(input ProposalInput) error {
	if strings.TrimSpace(input.Title) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	return nil
}

func proposalPayload(p store.Proposal) map[string]any {
	extra := p.ExtraFields
	if extra == nil {
		extra = map[string]string{}
	}
	payload := map[string]any{
		"id":          p.ID,
		"spaceId":     p.SpaceID,
		"title":       p.Title,
		"body":        p.Body,
		"authorId":    p.AuthorID,
		"author":      p.Author,
		"merged":      p.Merged,
		"extraFields": extra,
		"supports":    p.Supports,
		"pubDate":     p.PubDate,
		"updatedAt":   p.UpdatedAt,
	}
	if p.ProposalSetID != nil {
		payload["proposalsetId"] = *p.ProposalSetID
	}
	return payload
}

func proposalPayloads(proposals []store.Proposal) []map[string]any {
	items := make([]map[string]any, 0, len(proposals))
	for _, p := range proposals {
		items = append(items, proposalPayload(p))
	}
	return items
}

func setPayload(set store.ProposalSet) map[string]any {
	payload := map[string]any{
		"id":        set.ID,
		"spaceId":   set.SpaceID,
		"name":      set.Name,
		"authorId":  set.AuthorID,
		"author":    set.Author,
		"createdAt": set.CreatedAt,
		"updatedAt": set.UpdatedAt,
	}
	if set.DebateID != nil {
		payload["debateId"] = *set.DebateID
	}
	return payload
}

func normalizePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}
