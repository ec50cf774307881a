package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	adminHash, err := HashPassword("s3cret")
	require.NoError(t, err)
	viewerHash, err := HashPassword("look")
	require.NoError(t, err)
	s, err := NewService(Config{
		Enabled:   true,
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
		Users: []User{
			{Username: "admin", PasswordHash: adminHash, Role: RoleAdmin},
			{Username: "watcher", PasswordHash: viewerHash},
		},
	})
	require.NoError(t, err)
	return s
}

func TestNewServiceDisabled(t *testing.T) {
	s, err := NewService(Config{})
	require.NoError(t, err)
	require.Nil(t, s)
}

func TestNewServiceValidation(t *testing.T) {
	h, err := HashPassword("x")
	require.NoError(t, err)
	cases := []Config{
		{Enabled: true},
		{Enabled: true, Users: []User{{PasswordHash: h}}},
		{Enabled: true, Users: []User{{Username: "a", PasswordHash: "plain"}}},
		{Enabled: true, Users: []User{{Username: "a", PasswordHash: h, Role: "root"}}},
		{Enabled: true, Users: []User{{Username: "a", PasswordHash: h}, {Username: "a", PasswordHash: h}}},
	}
	for i, c := range cases {
		_, err := NewService(c)
		require.Error(t, err, "case %d", i)
	}
	_, err = HashPassword("")
	require.Error(t, err)
}

func TestLoginAndBearer(t *testing.T) {
	s := newTestService(t)
	_, err := s.Login("admin", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Login("nobody", "s3cret")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	tok, err := s.Login("admin", "s3cret")
	require.NoError(t, err)
	require.Equal(t, "Bearer", tok.Type)
	require.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	res, err := s.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, &Result{Username: "admin", Role: RoleAdmin}, res)

	other := newTestService(t)
	other.jwtSecret = []byte("different")
	_, err = other.Authenticate(req)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestExpiredTokenRejected(t *testing.T) {
	s := newTestService(t)
	claims := &Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			Issuer:    "mcvisor",
			Subject:   "admin",
		},
	}
	v, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	require.NoError(t, err)
	_, err = s.authenticateJWT(v)
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestBasicAuth(t *testing.T) {
	s := newTestService(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.SetBasicAuth("watcher", "look")
	res, err := s.Authenticate(req)
	require.NoError(t, err)
	require.Equal(t, RoleViewer, res.Role)

	req.SetBasicAuth("watcher", "nope")
	_, err = s.Authenticate(req)
	require.Error(t, err)

	_, err = s.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAllowed(t *testing.T) {
	require.True(t, Allowed(RoleAdmin, ActionWrite))
	require.True(t, Allowed(RoleOperator, ActionWrite))
	require.True(t, Allowed(RoleViewer, ActionRead))
	require.False(t, Allowed(RoleViewer, ActionWrite))
	require.False(t, Allowed("", ActionRead))
}

func TestGinAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := newTestService(t)
	g := gin.New()
	g.POST("/login", s.LoginHandler)
	api := g.Group("", s.GinAuth())
	api.GET("/read", func(c *gin.Context) { c.Status(http.StatusOK) })
	api.POST("/write", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path, user, pass string) int {
		req := httptest.NewRequest(method, path, nil)
		if user != "" {
			req.SetBasicAuth(user, pass)
		}
		rec := httptest.NewRecorder()
		g.ServeHTTP(rec, req)
		return rec.Code
	}
	require.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/read", "", ""))
	require.Equal(t, http.StatusOK, do(http.MethodGet, "/read", "watcher", "look"))
	require.Equal(t, http.StatusForbidden, do(http.MethodPost, "/write", "watcher", "look"))
	require.Equal(t, http.StatusOK, do(http.MethodPost, "/write", "admin", "s3cret"))
	require.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/login", "", ""))
}
