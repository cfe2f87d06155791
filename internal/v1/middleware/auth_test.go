package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duyanhpham/chat-service/internal/v1/auth"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, userID int64) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":     "an@example.com",
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func perform(router *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestAPIKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		keys     []string
		header   string
		wantCode int
	}{
		{"no keys configured disables the gate", nil, "", http.StatusOK},
		{"valid key", []string{"key-a", "key-b"}, "key-b", http.StatusOK},
		{"missing key", []string{"key-a"}, "", http.StatusUnauthorized},
		{"unknown key", []string{"key-a"}, "key-x", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(APIKey(tt.keys))
			router.GET("/protected", func(c *gin.Context) {
				c.Status(http.StatusOK)
			})

			headers := map[string]string{}
			if tt.header != "" {
				headers["X-API-Key"] = tt.header
			}
			resp := perform(router, headers)

			assert.Equal(t, tt.wantCode, resp.Code)
			if tt.wantCode == http.StatusUnauthorized {
				assert.JSONEq(t, `{"error":"Valid API key required"}`, resp.Body.String())
			}
		})
	}
}

func TestRequireAuthMissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequireAuth(auth.NewVerifier(testSecret)))
	router.GET("/protected", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	resp := perform(router, nil)

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.JSONEq(t, `{"error":"Missing authorization header"}`, resp.Body.String())
}

func TestRequireAuthInvalidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequireAuth(auth.NewVerifier(testSecret)))
	router.GET("/protected", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	resp := perform(router, map[string]string{"Authorization": "Bearer not-a-token"})

	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.JSONEq(t, `{"error":"Invalid or expired token"}`, resp.Body.String())
}

func TestRequireAuthAttachesClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequireAuth(auth.NewVerifier(testSecret)))

	var gotUserID int64
	router.GET("/protected", func(c *gin.Context) {
		claims, ok := UserClaims(c)
		require.True(t, ok)
		gotUserID = claims.UserID
		c.Status(http.StatusOK)
	})

	resp := perform(router, map[string]string{"Authorization": "Bearer " + signToken(t, 42)})

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(42), gotUserID)
}

func TestUserClaimsWithoutMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())

	_, ok := UserClaims(c)
	assert.False(t, ok)
}
