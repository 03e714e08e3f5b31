package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type fakeSecureConfig struct{ secure bool }

func (f fakeSecureConfig) SecureCookies() bool { return f.secure }

func TestManager_IssueAndValidate(t *testing.T) {
	m := NewManager([]byte("a-test-signing-secret-value-1234"), fakeSecureConfig{})

	token, err := m.Issue("admin_shield", false)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "admin_shield", claims.Username)
	require.False(t, claims.RequiresPasswordChange)
	require.NotEmpty(t, claims.ID)
}

func TestManager_ValidateRejectsTamperedToken(t *testing.T) {
	m := NewManager([]byte("a-test-signing-secret-value-1234"), fakeSecureConfig{})
	token, err := m.Issue("admin_shield", false)
	require.NoError(t, err)

	_, err = m.Validate(token + "tampered")
	require.Error(t, err)
}

func TestManager_ValidateRejectsWrongSecret(t *testing.T) {
	m1 := NewManager([]byte("a-test-signing-secret-value-1234"), fakeSecureConfig{})
	m2 := NewManager([]byte("a-different-signing-secret-value"), fakeSecureConfig{})

	token, err := m1.Issue("admin_shield", false)
	require.NoError(t, err)

	_, err = m2.Validate(token)
	require.Error(t, err)
}

func TestNeedsRefresh_TrueWhenNearExpiry(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Second)),
		},
	}
	require.True(t, NeedsRefresh(claims))
}

func TestNeedsRefresh_FalseWithPlentyOfTimeLeft(t *testing.T) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenTTL)),
		},
	}
	require.False(t, NeedsRefresh(claims))
}

func TestManager_SetCookie_SecureModeUsesSameSiteNone(t *testing.T) {
	m := NewManager([]byte("a-test-signing-secret-value-1234"), fakeSecureConfig{secure: true})
	rec := httptest.NewRecorder()
	m.SetCookie(rec, "a-token")

	resp := rec.Result()
	cookies := resp.Cookies()
	require.Len(t, cookies, 1)
	require.True(t, cookies[0].Secure)
	require.Equal(t, http.SameSiteNoneMode, cookies[0].SameSite)
}

func TestManager_SetCookie_InsecureModeUsesSameSiteLax(t *testing.T) {
	m := NewManager([]byte("a-test-signing-secret-value-1234"), fakeSecureConfig{secure: false})
	rec := httptest.NewRecorder()
	m.SetCookie(rec, "a-token")

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.False(t, cookies[0].Secure)
	require.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
}

func TestFromRequest_ReadsCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "tok123"})

	v, ok := FromRequest(req)
	require.True(t, ok)
	require.Equal(t, "tok123", v)
}

func TestFromRequest_MissingCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := FromRequest(req)
	require.False(t, ok)
}

func TestManager_ClearCookie_ExpiresImmediately(t *testing.T) {
	m := NewManager([]byte("a-test-signing-secret-value-1234"), fakeSecureConfig{})
	rec := httptest.NewRecorder()
	m.ClearCookie(rec)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, -1, cookies[0].MaxAge)
}
