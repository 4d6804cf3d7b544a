package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/campusflow/od-approval-api/internal/models"
	appErrors "github.com/campusflow/od-approval-api/pkg/errors"
)

type accountStoreStub struct {
	users         map[string]*models.User // keyed by id
	emails        map[string]string       // email -> id
	tokens        map[string]*models.RefreshToken
	audits        []*models.AuditLog
	lastLogin     map[string]time.Time
	revokedAllFor []string
}

func newAccountStoreStub(users ...*models.User) *accountStoreStub {
	s := &accountStoreStub{
		users:     make(map[string]*models.User),
		emails:    make(map[string]string),
		tokens:    make(map[string]*models.RefreshToken),
		lastLogin: make(map[string]time.Time),
	}
	for _, u := range users {
		s.users[u.ID] = u
		s.emails[u.Email] = u.ID
	}
	return s
}

func (s *accountStoreStub) FindByEmail(_ context.Context, email string) (*models.User, error) {
	id, ok := s.emails[email]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return s.users[id], nil
}

func (s *accountStoreStub) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (s *accountStoreStub) TouchLastLogin(_ context.Context, id string, at time.Time) error {
	s.lastLogin[id] = at
	return nil
}

func (s *accountStoreStub) UpdatePassword(_ context.Context, id, passwordHash string, _ time.Time) error {
	if u, ok := s.users[id]; ok {
		u.PasswordHash = passwordHash
	}
	return nil
}

func (s *accountStoreStub) CreateRefreshToken(_ context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = "tok-" + token.Token[:8]
	}
	s.tokens[token.Token] = token
	return nil
}

func (s *accountStoreStub) FindRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	t, ok := s.tokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return t, nil
}

func (s *accountStoreStub) RevokeRefreshToken(_ context.Context, id string, at time.Time) error {
	for _, t := range s.tokens {
		if t.ID == id {
			t.Revoked = true
			t.RevokedAt = &at
		}
	}
	return nil
}

func (s *accountStoreStub) RevokeUserRefreshTokens(_ context.Context, userID string) error {
	s.revokedAllFor = append(s.revokedAllFor, userID)
	for _, t := range s.tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (s *accountStoreStub) CreateAuditLog(_ context.Context, entry *models.AuditLog) error {
	s.audits = append(s.audits, entry)
	return nil
}

func hashOf(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

func newTestAuthService(store *accountStoreStub, single bool) *AuthService {
	return NewAuthService(store, validator.New(), zap.NewNop(), AuthConfig{
		Secret:        "test-secret",
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		Issuer:        "od-approval-api",
		SingleSession: single,
	})
}

func TestAuthServiceLoginOpensSession(t *testing.T) {
	store := newAccountStoreStub(&models.User{
		ID: "u1", Email: "dean@campus.test", FullName: "Dean of Students",
		PasswordHash: hashOf(t, "s3cret-pw"), Role: models.RoleAdmin, Active: true,
	})
	svc := newTestAuthService(store, false)

	session, err := svc.Login(context.Background(), models.Credentials{Email: "dean@campus.test", Password: "s3cret-pw"}, models.ClientMeta{IP: "10.0.0.7"})
	require.NoError(t, err)

	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, int64(3600), session.ExpiresIn)
	assert.Equal(t, "Dean of Students", session.User.FullName)
	assert.Contains(t, store.lastLogin, "u1")
	require.Contains(t, store.tokens, session.RefreshToken)
	assert.Equal(t, "10.0.0.7", store.tokens[session.RefreshToken].IP)
	require.Len(t, store.audits, 1)
	assert.Equal(t, models.AuditActionLogin, store.audits[0].Action)
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	store := newAccountStoreStub(&models.User{
		ID: "u1", Email: "dean@campus.test", PasswordHash: hashOf(t, "right"), Active: true,
	})
	svc := newTestAuthService(store, false)

	_, err := svc.Login(context.Background(), models.Credentials{Email: "dean@campus.test", Password: "wrong"}, models.ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc := newTestAuthService(newAccountStoreStub(), false)

	_, err := svc.Login(context.Background(), models.Credentials{Email: "ghost@campus.test", Password: "whatever"}, models.ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	store := newAccountStoreStub(&models.User{
		ID: "u1", Email: "former@campus.test", PasswordHash: hashOf(t, "pw"), Active: false,
	})
	svc := newTestAuthService(store, false)

	_, err := svc.Login(context.Background(), models.Credentials{Email: "former@campus.test", Password: "pw"}, models.ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceSingleSessionRevokesOlderTokens(t *testing.T) {
	store := newAccountStoreStub(&models.User{
		ID: "u1", Email: "dean@campus.test", PasswordHash: hashOf(t, "pw"), Active: true,
	})
	svc := newTestAuthService(store, true)

	_, err := svc.Login(context.Background(), models.Credentials{Email: "dean@campus.test", Password: "pw"}, models.ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, store.revokedAllFor)
}

func TestAuthServiceRefreshRotatesToken(t *testing.T) {
	store := newAccountStoreStub(&models.User{
		ID: "u1", Email: "dean@campus.test", PasswordHash: hashOf(t, "pw"), Role: models.RoleTeacher, Active: true,
	})
	store.tokens["old-token"] = &models.RefreshToken{
		ID: "rt1", UserID: "u1", Token: "old-token", ExpiresAt: time.Now().Add(time.Hour),
	}
	svc := newTestAuthService(store, false)

	pair, err := svc.Refresh(context.Background(), "old-token", models.ClientMeta{})
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, "old-token", pair.RefreshToken)
	assert.True(t, store.tokens["old-token"].Revoked)
}

func TestAuthServiceRefreshRejectsExpiredToken(t *testing.T) {
	store := newAccountStoreStub(&models.User{ID: "u1", Email: "dean@campus.test", Active: true})
	store.tokens["stale"] = &models.RefreshToken{
		ID: "rt1", UserID: "u1", Token: "stale", ExpiresAt: time.Now().Add(-time.Minute),
	}
	svc := newTestAuthService(store, false)

	_, err := svc.Refresh(context.Background(), "stale", models.ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceRefreshRejectsRevokedToken(t *testing.T) {
	store := newAccountStoreStub(&models.User{ID: "u1", Email: "dean@campus.test", Active: true})
	store.tokens["revoked"] = &models.RefreshToken{
		ID: "rt1", UserID: "u1", Token: "revoked", ExpiresAt: time.Now().Add(time.Hour), Revoked: true,
	}
	svc := newTestAuthService(store, false)

	_, err := svc.Refresh(context.Background(), "revoked", models.ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLogoutRefusesForeignToken(t *testing.T) {
	store := newAccountStoreStub()
	store.tokens["theirs"] = &models.RefreshToken{
		ID: "rt1", UserID: "someone-else", Token: "theirs", ExpiresAt: time.Now().Add(time.Hour),
	}
	svc := newTestAuthService(store, false)

	err := svc.Logout(context.Background(), "theirs", "u1", models.ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	assert.False(t, store.tokens["theirs"].Revoked)
}

func TestAuthServiceLogoutRevokesOwnToken(t *testing.T) {
	store := newAccountStoreStub()
	store.tokens["mine"] = &models.RefreshToken{
		ID: "rt1", UserID: "u1", Token: "mine", ExpiresAt: time.Now().Add(time.Hour),
	}
	svc := newTestAuthService(store, false)

	require.NoError(t, svc.Logout(context.Background(), "mine", "u1", models.ClientMeta{}))
	assert.True(t, store.tokens["mine"].Revoked)
	require.Len(t, store.audits, 1)
	assert.Equal(t, models.AuditActionLogout, store.audits[0].Action)
}

func TestAuthServiceChangePasswordRevokesSessions(t *testing.T) {
	oldHash := hashOf(t, "old-password")
	store := newAccountStoreStub(&models.User{ID: "u1", Email: "dean@campus.test", PasswordHash: oldHash, Active: true})
	svc := newTestAuthService(store, false)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{
		CurrentPassword: "old-password",
		NewPassword:     "brand-new-password",
	})
	require.NoError(t, err)

	assert.NotEqual(t, oldHash, store.users["u1"].PasswordHash)
	assert.Equal(t, []string{"u1"}, store.revokedAllFor)
	require.Len(t, store.audits, 1)
	assert.Equal(t, models.AuditActionPasswordChange, store.audits[0].Action)
}

func TestAuthServiceChangePasswordWrongCurrent(t *testing.T) {
	store := newAccountStoreStub(&models.User{ID: "u1", Email: "dean@campus.test", PasswordHash: hashOf(t, "actual"), Active: true})
	svc := newTestAuthService(store, false)

	err := svc.ChangePassword(context.Background(), "u1", models.ChangePasswordRequest{
		CurrentPassword: "guessed",
		NewPassword:     "brand-new-password",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenRoundTrip(t *testing.T) {
	store := newAccountStoreStub(&models.User{
		ID: "u1", Email: "dean@campus.test", PasswordHash: hashOf(t, "pw"), Role: models.RoleSuperAdmin, Active: true,
	})
	svc := newTestAuthService(store, false)

	session, err := svc.Login(context.Background(), models.Credentials{Email: "dean@campus.test", Password: "pw"}, models.ClientMeta{})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, models.RoleSuperAdmin, claims.Role)
	assert.Equal(t, "dean@campus.test", claims.Email)
}

func TestAuthServiceValidateTokenWrongSecret(t *testing.T) {
	store := newAccountStoreStub(&models.User{
		ID: "u1", Email: "dean@campus.test", PasswordHash: hashOf(t, "pw"), Active: true,
	})
	session, err := newTestAuthService(store, false).Login(context.Background(), models.Credentials{Email: "dean@campus.test", Password: "pw"}, models.ClientMeta{})
	require.NoError(t, err)

	other := NewAuthService(store, validator.New(), zap.NewNop(), AuthConfig{Secret: "different", AccessTTL: time.Hour, RefreshTTL: time.Hour})
	_, err = other.ValidateToken(session.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceCurrentUser(t *testing.T) {
	store := newAccountStoreStub(&models.User{
		ID: "u1", Email: "dean@campus.test", FullName: "Dean of Students", Role: models.RoleAdmin, Active: true,
	})
	svc := newTestAuthService(store, false)

	info, err := svc.CurrentUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "Dean of Students", info.FullName)
	assert.Equal(t, models.RoleAdmin, info.Role)

	_, err = svc.CurrentUser(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
