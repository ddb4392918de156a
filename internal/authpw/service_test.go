package authpw

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"ecidadania/api/internal/store"
)

type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string
	nextID     int
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
	}
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(ctx context.Context, username, email, passwordHash, verificationToken string, verificationExpires time.Time) (store.User, error) {
	m.nextID++
	user := store.User{
		ID:                    fmt.Sprintf("user-%d", m.nextID),
		Username:              username,
		Email:                 email,
		PasswordHash:          passwordHash,
		VerificationToken:     verificationToken,
		VerificationExpiresAt: &verificationExpires,
	}
	m.users[user.ID] = user
	m.emailIndex[email] = user.ID
	return user, nil
}

func (m *mockUserStore) GetUserByVerificationToken(ctx context.Context, token string) (store.User, error) {
	for _, u := range m.users {
		if u.VerificationToken == token && token != "" {
			return u, nil
		}
	}
	return store.User{}, errors.New("not found")
}

func (m *mockUserStore) MarkEmailVerified(ctx context.Context, userID string) error {
	u, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.IsEmailVerified = true
	u.VerificationToken = ""
	m.users[userID] = u
	return nil
}

func (m *mockUserStore) SetVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	u, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.VerificationToken = token
	u.VerificationExpiresAt = &expiresAt
	m.users[userID] = u
	return nil
}

func (m *mockUserStore) SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	u, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.ResetToken = token
	u.ResetExpiresAt = &expiresAt
	m.users[userID] = u
	return nil
}

func (m *mockUserStore) GetUserByResetToken(ctx context.Context, token string) (store.User, error) {
	for _, u := range m.users {
		if u.ResetToken == token && token != "" && u.ResetExpiresAt != nil && time.Now().Before(*u.ResetExpiresAt) {
			return u, nil
		}
	}
	return store.User{}, errors.New("not found")
}

func (m *mockUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	u, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	u.PasswordHash = passwordHash
	u.ResetToken = ""
	m.users[userID] = u
	return nil
}

func TestSignUpAndVerify(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	resp, err := svc.SignUp(ctx, SignUpRequest{Username: "oscar", Email: "oscar@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if resp.VerificationToken == "" {
		t.Fatal("expected a verification token")
	}

	// Not verified yet: sign in is refused.
	_, err = svc.SignIn(ctx, SignInRequest{Email: "oscar@example.com", Password: "password123"})
	if !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("SignIn() before verify error = %v, want ErrEmailNotVerified", err)
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	user, err := svc.SignIn(ctx, SignInRequest{Email: "oscar@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("SignIn() after verify error = %v", err)
	}
	if user.Username != "oscar" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestSignUpRejectsDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore())

	if _, err := svc.SignUp(ctx, SignUpRequest{Username: "a", Email: "dup@example.com", Password: "password123"}); err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Username: "b", Email: "dup@example.com", Password: "password123"}); err == nil {
		t.Fatal("expected duplicate email to be rejected")
	}
}

func TestSignUpRejectsShortPassword(t *testing.T) {
	svc := NewService(newMockUserStore())
	if _, err := svc.SignUp(context.Background(), SignUpRequest{Username: "a", Email: "a@example.com", Password: "short"}); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestSignInRejectsWrongPassword(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	resp, err := svc.SignUp(ctx, SignUpRequest{Username: "oscar", Email: "oscar@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "oscar@example.com", Password: "wrong-password"}); !errors.Is(err, ErrBadCredentials) {
		t.Fatalf("SignIn() error = %v, want ErrBadCredentials", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	svc := NewService(mockStore)

	resp, err := svc.SignUp(ctx, SignUpRequest{Username: "oscar", Email: "oscar@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}

	token, err := svc.RequestPasswordReset(ctx, "oscar@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token == "" {
		t.Fatal("expected a reset token for a known email")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "evenbetterpw"}); err != nil {
		t.Fatalf("ResetPassword() error = %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "oscar@example.com", Password: "evenbetterpw"}); err != nil {
		t.Fatalf("SignIn() with new password error = %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "oscar@example.com", Password: "password123"}); err == nil {
		t.Fatal("expected old password to stop working")
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	svc := NewService(newMockUserStore())
	token, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("RequestPasswordReset() error = %v", err)
	}
	if token != "" {
		t.Fatal("unknown email must not produce a token")
	}
}

func TestResendVerification(t *testing.T) {
	ctx := context.Background()
	svc := NewService(newMockUserStore())

	resp, err := svc.SignUp(ctx, SignUpRequest{Username: "paula", Email: "paula@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	token, err := svc.ResendVerification(ctx, "paula@example.com")
	if err != nil {
		t.Fatalf("ResendVerification() error = %v", err)
	}
	if token == "" || token == resp.VerificationToken {
		t.Fatal("resend should mint a fresh token")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err == nil {
		t.Fatal("superseded token should no longer verify")
	}
	if err := svc.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail() with fresh token error = %v", err)
	}

	after, err := svc.ResendVerification(ctx, "paula@example.com")
	if err != nil {
		t.Fatalf("ResendVerification() error = %v", err)
	}
	if after != "" {
		t.Fatal("verified account must not produce a token")
	}
}
