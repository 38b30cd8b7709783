package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/folio-labs/portfolio-service/internal/store"
)

func TestValidateEmail(t *testing.T) {
	valid := []string{"jane@example.com", "first.last+tag@mail-host.co.uk", "a_b@x.io"}
	invalid := []string{"", "plain", "@example.com", "jane@", "jane@example", "jane doe@example.com"}

	for _, e := range valid {
		assert.NoError(t, ValidateEmail(e), e)
	}
	for _, e := range invalid {
		assert.ErrorIs(t, ValidateEmail(e), ErrInvalidEmail, e)
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		password string
		ok       bool
	}{
		{"Str0ng!pw", true},
		{"Aa1+aaaa", true},
		{"Aa1-aaaa", true},
		{"Short1!", false},
		{"alllower1!", false},
		{"ALLUPPER1!", false},
		{"NoDigits!!", false},
		{"NoSpecial11", false},
		{"Aa1!" + strings.Repeat("x", 80), false},
	}
	for _, tt := range tests {
		err := ValidatePassword(tt.password)
		if tt.ok {
			assert.NoError(t, err, tt.password)
		} else {
			assert.ErrorIs(t, err, ErrWeakPassword, tt.password)
		}
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("Str0ng!pw", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NotEqual(t, "Str0ng!pw", hash)
	assert.True(t, CheckPassword(hash, "Str0ng!pw"))
	assert.False(t, CheckPassword(hash, "Str0ng!pW"))
}

func TestTokenManager_RoundTrip(t *testing.T) {
	m := NewTokenManager("secret", 0)
	token, exp, err := m.Issue("user-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultTokenExpiry), exp, 2*time.Second)

	claims, err := m.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.False(t, claims.IssuedAt.IsZero())
}

func TestTokenManager_Expired(t *testing.T) {
	m := NewTokenManager("secret", time.Minute)
	issued := time.Now().Add(-time.Hour)
	m.now = func() time.Time { return issued }
	token, _, err := m.Issue("user-1")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Verify(context.Background(), token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenManager_RejectsForeignTokens(t *testing.T) {
	m := NewTokenManager("secret", time.Minute)

	other, _, err := NewTokenManager("other-secret", time.Minute).Issue("user-1")
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), other)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// alg=none must never verify.
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.Verify(context.Background(), unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi"},
		{"bearer   abc", "abc"},
		{"Basic abc", ""},
		{"Bearer ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest("GET", "/", nil)
		if tt.header != "" {
			r.Header.Set("Authorization", tt.header)
		}
		got, err := ExtractToken(r)
		if tt.want == "" {
			assert.ErrorIs(t, err, ErrMissingToken, tt.header)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func newTestService() (*Service, *store.MemoryStore) {
	ms := store.NewMemoryStore()
	svc := NewService(ms, NewTokenManager("secret", time.Minute), zerolog.Nop()).WithHashCost(bcrypt.MinCost)
	return svc, ms
}

func TestService_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	session, err := svc.Register(ctx, "jane@example.com", "Str0ng!pw")
	require.NoError(t, err)
	assert.NotEmpty(t, session.AuthToken)
	assert.Equal(t, "jane@example.com", session.User.Email)

	_, err = svc.Register(ctx, "jane@example.com", "Str0ng!pw")
	assert.ErrorIs(t, err, ErrUserExists)

	login, err := svc.Login(ctx, "jane@example.com", "Str0ng!pw")
	require.NoError(t, err)
	u, err := svc.Authenticate(ctx, login.AuthToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, u.ID)

	_, err = svc.Login(ctx, "jane@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@example.com", "Str0ng!pw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestService_RegisterValidates(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Register(context.Background(), "not-an-email", "Str0ng!pw")
	assert.ErrorIs(t, err, ErrInvalidEmail)
	_, err = svc.Register(context.Background(), "jane@example.com", "weak")
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestService_DeletedUserCannotAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	session, err := svc.Register(ctx, "jane@example.com", "Str0ng!pw")
	require.NoError(t, err)
	require.NoError(t, svc.DeleteAccount(ctx, session.User.ID))

	_, err = svc.Authenticate(ctx, session.AuthToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, svc.DeleteAccount(ctx, session.User.ID), store.ErrNotFound)
}

type MockTokens struct {
	mock.Mock
}

func (m *MockTokens) Issue(userID string) (string, time.Time, error) {
	args := m.Called(userID)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockTokens) Verify(ctx context.Context, token string) (Claims, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(Claims), args.Error(1)
}

func TestService_AuthenticateUsesVerifier(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	tokens := new(MockTokens)
	svc := NewService(ms, tokens, zerolog.Nop()).WithHashCost(bcrypt.MinCost)

	exp := time.Now().Add(time.Hour)
	tokens.On("Issue", mock.AnythingOfType("string")).Return("opaque-token", exp, nil)
	session, err := svc.Register(ctx, "jane@example.com", "Str0ng!pw")
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", session.AuthToken)

	tokens.On("Verify", mock.Anything, "opaque-token").Return(Claims{Subject: session.User.ID, ExpiresAt: exp}, nil)
	tokens.On("Verify", mock.Anything, "stale").Return(Claims{}, ErrExpiredToken)
	tokens.On("Verify", mock.Anything, "orphan").Return(Claims{Subject: "missing-user"}, nil)

	u, err := svc.Authenticate(ctx, "opaque-token")
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, u.ID)

	_, err = svc.Authenticate(ctx, "stale")
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = svc.Authenticate(ctx, "orphan")
	assert.ErrorIs(t, err, ErrInvalidToken)

	tokens.AssertExpectations(t)
}

func TestService_IssueFailureFailsLogin(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	good := NewService(ms, NewTokenManager("secret", time.Minute), zerolog.Nop()).WithHashCost(bcrypt.MinCost)
	_, err := good.Register(ctx, "jane@example.com", "Str0ng!pw")
	require.NoError(t, err)

	tokens := new(MockTokens)
	signErr := errors.New("signing key unavailable")
	tokens.On("Issue", mock.Anything).Return("", time.Time{}, signErr)
	svc := NewService(ms, tokens, zerolog.Nop())

	_, err = svc.Login(ctx, "jane@example.com", "Str0ng!pw")
	assert.ErrorIs(t, err, signErr)
}
