package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	secret = "s3cret"
	issuer = "vinylfeed"
)

func init() { gin.SetMode(gin.TestMode) }

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(handlers...)
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, ViewerID(c)) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	r := newEngine(Auth(secret, issuer))

	good, err := IssueToken(secret, issuer, "alice", time.Hour)
	require.NoError(t, err)
	w := get(r, "/me", good)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	// EventSource 只能走查询参数
	w = get(r, "/me?access_token="+good, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())

	tests := []struct {
		name  string
		token func() string
	}{
		{"missing", func() string { return "" }},
		{"garbage", func() string { return "not.a.jwt" }},
		{"wrong secret", func() string {
			tok, _ := IssueToken("other", issuer, "alice", time.Hour)
			return tok
		}},
		{"wrong issuer", func() string {
			tok, _ := IssueToken(secret, "someone-else", "alice", time.Hour)
			return tok
		}},
		{"expired", func() string {
			tok, _ := IssueToken(secret, issuer, "alice", -time.Minute)
			return tok
		}},
		{"no subject", func() string {
			tok, _ := IssueToken(secret, issuer, "", time.Hour)
			return tok
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, "/me", tt.token())
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRateLimiterPerViewer(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	r := newEngine(Auth(secret, issuer), limiter.Middleware())

	alice, err := IssueToken(secret, issuer, "alice", time.Hour)
	require.NoError(t, err)
	bob, err := IssueToken(secret, issuer, "bob", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, get(r, "/me", alice).Code)
	assert.Equal(t, http.StatusOK, get(r, "/me", alice).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/me", alice).Code)
	// 额度按 viewer 独立
	assert.Equal(t, http.StatusOK, get(r, "/me", bob).Code)
}

func TestRateLimiterDisabled(t *testing.T) {
	r := newEngine(NewRateLimiter(0, 0).Middleware())
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get(r, "/me", "").Code)
	}
}

func TestRecoveryReturns500(t *testing.T) {
	r := newEngine(Recovery(), Sentry())
	w := get(r, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal server error")
}
