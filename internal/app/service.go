package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"ecidadania/api/internal/auth"
	"ecidadania/api/internal/authpw"
	"ecidadania/api/internal/config"
	"ecidadania/api/internal/email"
	"ecidadania/api/internal/geo"
	"ecidadania/api/internal/photos"
	"ecidadania/api/internal/rbac"
	"ecidadania/api/internal/search"
	"ecidadania/api/internal/session"
	"ecidadania/api/internal/store"
	"ecidadania/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Username     string
	IsAdmin      bool
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	UpdateProfile(ctx context.Context, userID, country, region, address, website, about string) (store.User, error)
	ClearProfile(ctx context.Context, userID string) ([]string, error)

	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)

	CreateSpace(ctx context.Context, url, name, description, authorID string) (store.Space, error)
	GetSpaceByURL(ctx context.Context, url string) (store.Space, error)
	UpdateSpace(ctx context.Context, spaceID, name, description string) (store.Space, error)
	DeleteSpace(ctx context.Context, spaceID string) error
	ListSpacesForUser(ctx context.Context, userID string) ([]store.Space, error)
	GetSpaceRole(ctx context.Context, spaceID, userID string) (string, error)
	SetSpaceRole(ctx context.Context, spaceID, userID, role string) error
	RemoveSpaceRole(ctx context.Context, spaceID, userID string) error
	ListSpaceRoles(ctx context.Context, spaceID string) ([]store.SpaceRole, error)

	CreateProposal(ctx context.Context, p store.Proposal) (store.Proposal, error)
	GetProposal(ctx context.Context, proposalID string) (store.Proposal, error)
	UpdateProposal(ctx context.Context, proposalID, title, body string, extraFields map[string]string) (store.Proposal, error)
	DeleteProposal(ctx context.Context, proposalID string) error
	ListProposals(ctx context.Context, spaceID string, page int) ([]store.Proposal, int, error)
	ListProposalsBySet(ctx context.Context, setID string, page int) ([]store.Proposal, int, error)
	ListProposalsByAuthor(ctx context.Context, authorID string) ([]store.Proposal, error)
	SupportProposal(ctx context.Context, proposalID, userID string) error

	CreateProposalSet(ctx context.Context, spaceID, name string, debateID *string, authorID string) (store.ProposalSet, error)
	GetProposalSet(ctx context.Context, setID string) (store.ProposalSet, error)
	UpdateProposalSet(ctx context.Context, setID, name string, debateID *string) (store.ProposalSet, error)
	DeleteProposalSet(ctx context.Context, setID string) error
	ListProposalSets(ctx context.Context, spaceID string, page int) ([]store.ProposalSet, int, error)
	ListAllProposalSets(ctx context.Context, spaceID string) ([]store.ProposalSet, error)
	AddProposalField(ctx context.Context, setID, fieldName string) (store.ProposalField, error)
	RemoveProposalField(ctx context.Context, setID, fieldName string) (int64, error)
	ListProposalFields(ctx context.Context, setID string) ([]store.ProposalField, error)

	CreatePost(ctx context.Context, p store.Post) (store.Post, error)
	UpdatePost(ctx context.Context, postID, title, description string, pubIndex bool, tags []string) (store.Post, error)
	DeletePost(ctx context.Context, postID string) error
	GetPost(ctx context.Context, postID string) (store.Post, error)
	IncrementPostViews(ctx context.Context, postID string) error
	ListPosts(ctx context.Context, spaceID string) ([]store.Post, error)
	ListIndexPosts(ctx context.Context) ([]store.Post, error)
	AddComment(ctx context.Context, postID, authorID, body string) (store.Comment, error)

	ReplacePendingAvatar(ctx context.Context, userID, objectKey, contentType string) (store.Avatar, []string, error)
	GetPendingAvatar(ctx context.Context, userID string) (store.Avatar, error)
	GetValidAvatar(ctx context.Context, userID string) (store.Avatar, error)
	PromoteAvatar(ctx context.Context, userID, avatarID string) (string, error)
	DeleteValidAvatar(ctx context.Context, userID string) (string, error)

	UpsertEmailValidation(ctx context.Context, userID, email, keyHash string) error
	GetEmailValidation(ctx context.Context, userID string) (store.EmailValidation, error)
	ConsumeEmailValidation(ctx context.Context, userID, keyHash string) (string, error)
	DeleteEmailValidation(ctx context.Context, userID string) error

	SearchContent(ctx context.Context, query, contentType, spaceURL string, limit int) ([]store.SearchHit, error)
	Ping(ctx context.Context) error
}

// SessionStore keeps refresh tokens. Redis in production, the
// Postgres tables when Redis is not configured.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexProposal(p search.ProposalRecord)
	IndexPost(p search.PostRecord)
	DeleteProposal(id string)
	DeletePost(id string)
}

type objectStore interface {
	Store(ctx context.Context, key string, data []byte, contentType string) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type geoLookup interface {
	Lookup(ctx context.Context, lat, lng string) (geo.Subdivision, error)
}

type photoSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]photos.Photo, error)
}

type Deps struct {
	Store    dataStore
	Sessions SessionStore
	Auth     *authpw.Service
	Email    *email.Service
	Search   searchIndex
	Images   objectStore
	Geo      geoLookup
	Photos   photoSearcher
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	auth     *authpw.Service
	email    *email.Service
	search   searchIndex
	images   objectStore
	geo      geoLookup
	photos   photoSearcher
}

func New(cfg config.Config, deps Deps) *Service {
	sessions := deps.Sessions
	if sessions == nil {
		sessions = pgSessions{store: deps.Store}
	}
	return &Service{
		cfg:      cfg,
		store:    deps.Store,
		sessions: sessions,
		auth:     deps.Auth,
		email:    deps.Email,
		search:   deps.Search,
		images:   deps.Images,
		geo:      deps.Geo,
		photos:   deps.Photos,
	}
}

// NewPostgresSessions adapts the Postgres refresh tables to the
// SessionStore interface.
func NewPostgresSessions(s *store.PostgresStore) SessionStore {
	return pgSessions{store: s}
}

type pgSessions struct {
	store interface {
		SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	}
}

func (p pgSessions) SaveRefreshSession(ctx context.Context, tokenHash string, data session.TokenData, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, data.UserID, expiresAt)
}

func (p pgSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (session.TokenData, error) {
	user, err := p.store.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return session.TokenData{}, err
	}
	return session.TokenData{UserID: user.ID, Username: user.Username}, nil
}

func (p pgSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.auth
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail is best effort; account flows surface dev
// tokens instead when SMTP is off.
func (s *Service) SendVerificationEmail(to, username, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.cfg.PublicBaseURL + "/verify-email?token=" + token
	_ = s.email.SendVerificationEmail(to, username, url)
}

func (s *Service) SendPasswordResetEmail(to, username, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.cfg.PublicBaseURL + "/reset-password?token=" + token
	_ = s.email.SendPasswordResetEmail(to, username, url)
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:      user.ID,
		Username: user.Username,
		Admin:    user.IsAdmin,
		JTI:      jti,
		Exp:      expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	data := session.TokenData{UserID: user.ID, Username: user.Username}
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), data, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Username:     user.Username,
		IsAdmin:      user.IsAdmin,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Username:  user.Username,
		IsAdmin:   user.IsAdmin,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Refresh rotates the refresh token and issues a fresh access token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	hash := auth.HashToken(refreshToken)
	data, err := s.sessions.LookupRefreshSession(ctx, hash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, data.UserID)
	if err != nil {
		return Session{}, err
	}
	_ = s.sessions.RevokeRefreshSession(ctx, hash)
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, sess Session, refreshToken string) error {
	if sess.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, sess.JTI, sess.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// spaceRole resolves the caller's role inside a space. Site admins act
// as space admins everywhere.
func (s *Service) spaceRole(ctx context.Context, spaceID string, sess Session) (rbac.Role, error) {
	if sess.IsAdmin {
		return rbac.RoleAdmin, nil
	}
	role, err := s.store.GetSpaceRole(ctx, spaceID, sess.UserID)
	if err != nil {
		return rbac.RoleNone, err
	}
	return rbac.Normalize(role), nil
}

var errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)

// authorize loads the space and checks the action in one step.
func (s *Service) authorize(ctx context.Context, sess Session, spaceURL string, action rbac.Action) (store.Space, rbac.Role, error) {
	space, err := s.store.GetSpaceByURL(ctx, spaceURL)
	if err != nil {
		return store.Space{}, rbac.RoleNone, err
	}
	role, err := s.spaceRole(ctx, space.ID, sess)
	if err != nil {
		return store.Space{}, rbac.RoleNone, err
	}
	if !rbac.Decide(role, false, action) {
		return store.Space{}, role, errForbidden
	}
	return space, role, nil
}

func (s *Service) CreateSpace(ctx context.Context, sess Session, url, name, description string) (map[string]any, error) {
	url = strings.TrimSpace(strings.ToLower(url))
	if url == "" || name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url and name are required", nil)
	}
	if !validSlug(url) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "url may only contain lowercase letters, digits and hyphens", nil)
	}
	if _, err := s.store.GetSpaceByURL(ctx, url); err == nil {
		return nil, domainError(http.StatusConflict, "SPACE_EXISTS", "A space with this url already exists", nil)
	}

	space, err := s.store.CreateSpace(ctx, url, name, description, sess.UserID)
	if err != nil {
		return nil, err
	}
	return spacePayload(space), nil
}

func (s *Service) GetSpace(ctx context.Context, sess Session, url string) (map[string]any, error) {
	space, role, err := s.authorize(ctx, sess, url, rbac.ActionView)
	if err != nil {
		return nil, err
	}
	payload := spacePayload(space)
	payload["role"] = string(role)
	return payload, nil
}

func (s *Service) UpdateSpace(ctx context.Context, sess Session, url, name, description string) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, url, rbac.ActionManageSpace)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	updated, err := s.store.UpdateSpace(ctx, space.ID, name, description)
	if err != nil {
		return nil, err
	}
	return spacePayload(updated), nil
}

func (s *Service) DeleteSpace(ctx context.Context, sess Session, url string) error {
	space, _, err := s.authorize(ctx, sess, url, rbac.ActionManageSpace)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSpace(ctx, space.ID); err != nil {
		if errors.Is(err, store.ErrSpaceNotEmpty) {
			return domainError(http.StatusConflict, "SPACE_NOT_EMPTY", "Space still has proposals or posts", nil)
		}
		return err
	}
	return nil
}

func (s *Service) ListMySpaces(ctx context.Context, sess Session) ([]map[string]any, error) {
	spaces, err := s.store.ListSpacesForUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(spaces))
	for _, space := range spaces {
		items = append(items, spacePayload(space))
	}
	return items, nil
}

func (s *Service) SetSpaceRole(ctx context.Context, sess Session, url, userID, role string) (map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, url, rbac.ActionManageSpace)
	if err != nil {
		return nil, err
	}
	normalized := rbac.Normalize(role)
	if normalized == rbac.RoleNone {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be viewer, moderator or admin", nil)
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.store.SetSpaceRole(ctx, space.ID, userID, string(normalized)); err != nil {
		return nil, err
	}
	return map[string]any{"spaceId": space.ID, "userId": userID, "role": string(normalized)}, nil
}

func (s *Service) RemoveSpaceRole(ctx context.Context, sess Session, url, userID string) error {
	space, _, err := s.authorize(ctx, sess, url, rbac.ActionManageSpace)
	if err != nil {
		return err
	}
	return s.store.RemoveSpaceRole(ctx, space.ID, userID)
}

func (s *Service) ListSpaceRoles(ctx context.Context, sess Session, url string) ([]map[string]any, error) {
	space, _, err := s.authorize(ctx, sess, url, rbac.ActionManageSpace)
	if err != nil {
		return nil, err
	}
	roles, err := s.store.ListSpaceRoles(ctx, space.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(roles))
	for _, r := range roles {
		items = append(items, map[string]any{
			"userId":    r.UserID,
			"username":  r.Username,
			"role":      r.Role,
			"grantedAt": r.GrantedAt,
		})
	}
	return items, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

func spacePayload(space store.Space) map[string]any {
	return map[string]any{
		"id":          space.ID,
		"url":         space.URL,
		"name":        space.Name,
		"description": space.Description,
		"authorId":    space.AuthorID,
		"createdAt":   space.CreatedAt,
		"updatedAt":   space.UpdatedAt,
	}
}

func validSlug(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return false
		}
	}
	return s != ""
}
