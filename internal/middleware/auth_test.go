package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nginxshield/nginxshield/internal/session"
)

// issueWithCustomExpiry signs a token with an arbitrary expiry, used to
// exercise the sliding-refresh path without waiting out the real TTL.
func issueWithCustomExpiry(secret []byte, username string, expiresAt time.Time) (string, error) {
	claims := session.Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func TestRequireSession_RejectsMissingCookie(t *testing.T) {
	mgr := session.NewManager([]byte("a-test-signing-secret-value-1234"), fakeSecure{})
	handler := RequireSession(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a session")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSession_AllowsValidCookieAndStashesClaims(t *testing.T) {
	mgr := session.NewManager([]byte("a-test-signing-secret-value-1234"), fakeSecure{})
	token, err := mgr.Issue("admin_shield", false)
	require.NoError(t, err)

	var gotUsername string
	handler := RequireSession(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		gotUsername = claims.Username
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "admin_shield", gotUsername)
}

func TestRequireSession_RejectsTamperedCookie(t *testing.T) {
	mgr := session.NewManager([]byte("a-test-signing-secret-value-1234"), fakeSecure{})
	token, err := mgr.Issue("admin_shield", false)
	require.NoError(t, err)

	handler := RequireSession(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run with a tampered cookie")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: token + "x"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSession_RefreshesNearExpiryToken(t *testing.T) {
	secret := []byte("a-test-signing-secret-value-1234")
	mgr := session.NewManager(secret, fakeSecure{})

	// Build a claims set that's nearly expired without waiting out the TTL.
	almostExpired, err := issueWithCustomExpiry(secret, "admin_shield", time.Now().Add(5*time.Second))
	require.NoError(t, err)

	handler := RequireSession(mgr)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: session.CookieName, Value: almostExpired})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Result().Cookies())
	require.NotEmpty(t, rec.Header().Get(RefreshedTokenHeader))
}

type fakeSecure struct{}

func (fakeSecure) SecureCookies() bool { return false }
