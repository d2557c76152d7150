package indicator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/conversation"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcastsFrames(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)

	var first Message
	require.NoError(t, conn.ReadJSON(&first))
	assert.False(t, first.Active)

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	hub.Update(conversation.Frame{State: conversation.Recording, Active: true, Level: 0.42, SessionID: "session_1_x"})

	var msg Message
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, Message{State: "recording", Active: true, Level: 0.42, Session: "session_1_x"}, msg)
}

func TestNewClientGetsLastFrame(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	hub.Update(conversation.Frame{State: conversation.Playing, Active: true, Level: 0.1})
	conn := dial(t, srv)

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "playing", msg.State)
	assert.True(t, msg.Active)
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "example.com", true},
		{"http://localhost:3000", "example.com", true},
		{"http://192.168.1.5", "example.com", true},
		{"https://parley.example.com", "parley.example.com:8080", true},
		{"https://evil.example.org", "parley.example.com", false},
		{"://bad", "parley.example.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, checkOrigin(r), "origin %q", tt.origin)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))

	hub.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, hub.Clients())
}
