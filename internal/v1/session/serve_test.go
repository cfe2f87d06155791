package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
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

func newTestGateway(allowedOrigins []string) (*Gateway, *hubRecorder, *repoRecorder) {
	h := newHubRecorder()
	repo := newRepoRecorder()
	gw := NewGateway(h, repo, &busRecorder{}, auth.NewVerifier(testSecret), allowedOrigins)
	return gw, h, repo
}

func newWsServer(t *testing.T, gw *Gateway) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/ws", gw.ServeWs)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
}

func waitForConnect(t *testing.T, h *hubRecorder) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.connectCount() > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never registered with the hub")
}

func TestServeWsRequiresToken(t *testing.T) {
	gw, h, _ := newTestGateway(nil)
	srv := newWsServer(t, gw)

	resp, err := http.Get(srv.URL + "/api/ws")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, h.connectCount())
}

func TestServeWsRejectsInvalidToken(t *testing.T) {
	gw, h, _ := newTestGateway(nil)
	srv := newWsServer(t, gw)

	resp, err := http.Get(srv.URL + "/api/ws?token=garbage")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, h.connectCount())
}

func TestServeWsUpgradesWithQueryToken(t *testing.T) {
	gw, h, _ := newTestGateway(nil)
	srv := newWsServer(t, gw)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+signToken(t, 7), nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForConnect(t, h)
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, int64(7), h.connectedUser)
	assert.Equal(t, "An", h.connectedName)
}

func TestServeWsUpgradesWithBearerHeader(t *testing.T) {
	gw, h, _ := newTestGateway(nil)
	srv := newWsServer(t, gw)

	header := http.Header{"Authorization": []string{"Bearer " + signToken(t, 7)}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	require.NoError(t, err)
	defer conn.Close()

	waitForConnect(t, h)
}

func TestServeWsDisplayNameFallsBackToEmailPrefix(t *testing.T) {
	gw, h, repo := newTestGateway(nil)
	repo.displayName = ""
	srv := newWsServer(t, gw)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+signToken(t, 7), nil)
	require.NoError(t, err)
	defer conn.Close()

	waitForConnect(t, h)
	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, "an", h.connectedName)
}

func TestServeWsRejectsDisallowedOrigin(t *testing.T) {
	gw, h, _ := newTestGateway([]string{"http://localhost:3000"})
	srv := newWsServer(t, gw)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+signToken(t, 7), header)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, h.connectCount())
}

func TestServeWsAllowsListedOrigin(t *testing.T) {
	gw, h, _ := newTestGateway([]string{"http://localhost:3000"})
	srv := newWsServer(t, gw)

	header := http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+signToken(t, 7), header)
	require.NoError(t, err)
	defer conn.Close()

	waitForConnect(t, h)
}

func TestValidateOrigin(t *testing.T) {
	allowed := []string{"http://localhost:3000", "https://chat.example.com"}

	tests := []struct {
		name    string
		origin  string
		wantErr bool
	}{
		{"no origin header", "", false},
		{"allowed http", "http://localhost:3000", false},
		{"allowed https", "https://chat.example.com", false},
		{"scheme mismatch", "http://chat.example.com", true},
		{"host mismatch", "http://localhost:4000", true},
		{"garbage", "://bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			err := validateOrigin(r, allowed)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
