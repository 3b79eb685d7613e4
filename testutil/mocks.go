package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// MockHowdiesServer serves the chat service login endpoint at /api/login and the
// websocket endpoint at /ws. Every accepted socket is published on Sockets.
type MockHowdiesServer struct {
	*httptest.Server
	Token   string
	Sockets chan *websocket.Conn

	mu         sync.Mutex
	loginCalls int
	failLogin  int
}

// NewMockHowdiesServer starts a mock chat service that issues token for any credentials.
func NewMockHowdiesServer(t *testing.T, token string) *MockHowdiesServer {
	t.Helper()
	m := &MockHowdiesServer{Token: token, Sockets: make(chan *websocket.Conn, 8)}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.loginCalls++
		fail := m.failLogin > 0
		if fail {
			m.failLogin--
		}
		m.mu.Unlock()
		if fail {
			http.Error(w, `{"message":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": m.Token}) //nolint:errcheck // test mock response
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != m.Token {
			http.Error(w, "bad token", http.StatusForbidden)
			return
		}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		m.Sockets <- ws
	})
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// LoginURL is the absolute login endpoint.
func (m *MockHowdiesServer) LoginURL() string { return m.URL + "/api/login" }

// WSURL is the absolute websocket endpoint.
func (m *MockHowdiesServer) WSURL() string { return "ws" + strings.TrimPrefix(m.URL, "http") + "/ws" }

// FailNextLogins makes the next n login requests return 401.
func (m *MockHowdiesServer) FailNextLogins(n int) {
	m.mu.Lock()
	m.failLogin = n
	m.mu.Unlock()
}

// LoginCalls returns how many login requests were served.
func (m *MockHowdiesServer) LoginCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loginCalls
}

// ReadFrame reads one JSON frame from a server-side socket.
func ReadFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	var v map[string]any
	if err := ws.ReadJSON(&v); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return v
}
