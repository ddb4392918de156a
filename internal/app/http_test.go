package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ecidadania/api/internal/authpw"
	"ecidadania/api/internal/geo"
	"ecidadania/api/internal/store"
)

type fakeGeo struct {
	lookupFn func(ctx context.Context, lat, lng string) (geo.Subdivision, error)
}

func (f *fakeGeo) Lookup(ctx context.Context, lat, lng string) (geo.Subdivision, error) {
	if f.lookupFn != nil {
		return f.lookupFn(ctx, lat, lng)
	}
	return geo.Subdivision{Success: true, Country: "Spain", Region: "Madrid"}, nil
}

// fakeUserStore backs authpw in handler tests.
type fakeUserStore struct {
	users map[string]store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: map[string]store.User{}}
}

func (f *fakeUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) CreateUser(_ context.Context, username, email, passwordHash, verificationToken string, verificationExpires time.Time) (store.User, error) {
	u := store.User{
		ID:                    "user-" + username,
		Username:              username,
		Email:                 email,
		PasswordHash:          passwordHash,
		VerificationToken:     verificationToken,
		VerificationExpiresAt: &verificationExpires,
	}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeUserStore) GetUserByVerificationToken(_ context.Context, token string) (store.User, error) {
	for _, u := range f.users {
		if u.VerificationToken == token && token != "" {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) MarkEmailVerified(_ context.Context, userID string) error {
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.IsEmailVerified = true
	u.VerificationToken = ""
	f.users[userID] = u
	return nil
}

func (f *fakeUserStore) SetVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	f.users[userID] = u
	return nil
}

func (f *fakeUserStore) SetResetToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.ResetToken = token
	u.ResetExpiresAt = &expiresAt
	f.users[userID] = u
	return nil
}

func (f *fakeUserStore) GetUserByResetToken(_ context.Context, token string) (store.User, error) {
	for _, u := range f.users {
		if u.ResetToken == token && token != "" {
			return u, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (f *fakeUserStore) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	u, ok := f.users[userID]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	f.users[userID] = u
	return nil
}

func newTestHandler(fake *fakeStore, deps Deps) http.Handler {
	deps.Store = fake
	service := New(testConfig(), deps)
	return NewHTTPServer(service, "*").Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, token string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v (%s)", err, rec.Body.String())
	}
	return payload
}

func sessionToken(t *testing.T, fake *fakeStore, deps Deps) (http.Handler, string) {
	t.Helper()
	deps.Store = fake
	service := New(testConfig(), deps)
	session, err := service.CreateSession(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return NewHTTPServer(service, "*").Handler(), session.Token
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(&fakeStore{}, Deps{})

	rec := doJSON(t, handler, http.MethodGet, "/api/health", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	payload := decodeResponse(t, rec)
	if payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload["ok"])
	}
}

func TestProfileRequiresSession(t *testing.T) {
	handler := newTestHandler(&fakeStore{}, Deps{})

	rec := doJSON(t, handler, http.MethodGet, "/api/profile", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGeodataRequiresXMLHttpRequest(t *testing.T) {
	handler, token := sessionToken(t, &fakeStore{}, Deps{Geo: &fakeGeo{}})

	rec := doJSON(t, handler, http.MethodGet, "/api/geodata?lat=40.4&lng=-3.7", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("plain request should 404, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/geodata?lat=40.4&lng=-3.7", token, "", map[string]string{
		"X-Requested-With": "XMLHttpRequest",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("AJAX request should succeed, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["region"] != "Madrid" {
		t.Fatalf("expected region Madrid, got %v", payload["region"])
	}
}

func TestAvatarDeleteRequiresXMLHttpRequest(t *testing.T) {
	handler, token := sessionToken(t, &fakeStore{}, Deps{})

	rec := doJSON(t, handler, http.MethodDelete, "/api/profile/avatar", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("plain delete should 404, got %d", rec.Code)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	handler, token := sessionToken(t, &fakeStore{}, Deps{})

	rec := doJSON(t, handler, http.MethodGet, "/api/nonsense", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSignUpVerifySignInFlow(t *testing.T) {
	users := newFakeUserStore()
	handler := newTestHandler(&fakeStore{}, Deps{Auth: authpw.NewService(users)})

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "",
		`{"username":"ana","email":"ana@example.org","password":"long-enough"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	devToken, _ := payload["devVerificationToken"].(string)
	if devToken == "" {
		t.Fatal("expected a dev verification token with SMTP off")
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "",
		`{"email":"ana@example.org","password":"long-enough"}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("signin before verify: expected 403, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/auth/verify-email", "",
		`{"token":"`+devToken+`"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/auth/signin", "",
		`{"email":"ana@example.org","password":"long-enough"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("signin: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload = decodeResponse(t, rec)
	if access, _ := payload["accessToken"].(string); access == "" {
		t.Fatal("signin should issue an access token")
	}
	if refresh, _ := payload["refreshToken"].(string); refresh == "" {
		t.Fatal("signin should issue a refresh token")
	}
}

func TestOptionsShortCircuits(t *testing.T) {
	handler := newTestHandler(&fakeStore{}, Deps{})

	rec := doJSON(t, handler, http.MethodOptions, "/api/spaces/madrid/proposals", "", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS headers on preflight")
	}
}

func TestProposalRoutes(t *testing.T) {
	fake := &fakeStore{}
	spaceFixture(fake, "viewer")
	fake.getProposalFn = func(context.Context, string) (store.Proposal, error) {
		return store.Proposal{ID: "prop-1", SpaceID: "space-1", AuthorID: "user-1", Title: "Bike lanes"}, nil
	}
	handler, token := sessionToken(t, fake, Deps{})

	rec := doJSON(t, handler, http.MethodGet, "/api/spaces/madrid/proposals/prop-1", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get proposal: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	payload := decodeResponse(t, rec)
	if payload["title"] != "Bike lanes" {
		t.Fatalf("expected title Bike lanes, got %v", payload["title"])
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/spaces/madrid/proposals", token,
		`{"title":"More parks","body":"Green areas"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create proposal: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPatch, "/api/spaces/madrid/proposals", token, "", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for PATCH, got %d", rec.Code)
	}
}
