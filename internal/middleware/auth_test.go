package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/auth"
)

type stubVerifier struct {
	userID int64
	err    error
}

func (s stubVerifier) Verify(string) (int64, error) {
	return s.userID, s.err
}

func setupAuthRouter(verifier TokenVerifier) (*gin.Engine, *int64) {
	gin.SetMode(gin.TestMode)
	var seen int64
	r := gin.New()
	r.GET("/protected", AuthMiddleware(verifier), func(c *gin.Context) {
		seen = c.GetInt64("userID")
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestAuthMiddlewareSetsUserID(t *testing.T) {
	router, seen := setupAuthRouter(stubVerifier{userID: 42})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(42), *seen)
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	router, _ := setupAuthRouter(stubVerifier{userID: 42})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareMalformedHeader(t *testing.T) {
	router, _ := setupAuthRouter(stubVerifier{userID: 42})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "token-without-scheme")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareInvalidToken(t *testing.T) {
	router, _ := setupAuthRouter(stubVerifier{err: auth.ErrTokenInvalid})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
