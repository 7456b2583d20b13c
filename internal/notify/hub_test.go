package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	first := dialHub(t, srv)
	second := dialHub(t, srv)

	// Registration happens during the upgrade, so both connections see the
	// signal.
	hub.Broadcast("appointment_slots")

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		kind, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, kind)
		assert.Equal(t, "appointment_slots", string(msg))
	}
}

func TestHubDropsClosedConnections(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	survivor := dialHub(t, srv)

	conn.Close()
	// Give the read pump a moment to notice the close.
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast("doctors")

	survivor.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := survivor.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "doctors", string(msg))
}
