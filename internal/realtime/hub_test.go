package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/GreyyDaze/orbit-server/internal/events"
)

func newHubServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(r.URL.Query().Get("group"), w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, group string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?group=" + group
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, group string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SubscriberCount(group) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, want, hub.SubscriberCount(group))
}

func TestHubDeliversToGroup(t *testing.T) {
	hub := NewHub()
	server := newHubServer(t, hub)

	board := events.BoardGroup("b1")
	conn := dial(t, server, board)
	other := dial(t, server, events.BoardGroup("b2"))

	waitForSubscribers(t, hub, board, 1)

	hub.Publish(board, events.Event{Type: events.NoteCreated, Payload: map[string]any{"id": "n1"}})

	var message Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&message))
	require.Equal(t, board, message.Group)
	require.Equal(t, events.NoteCreated, message.Type)

	// The other group must stay silent.
	require.NoError(t, other.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var stray Message
	require.Error(t, other.ReadJSON(&stray))
}

func TestHubFansOut(t *testing.T) {
	hub := NewHub()
	server := newHubServer(t, hub)

	board := events.BoardGroup("b1")
	first := dial(t, server, board)
	second := dial(t, server, board)
	waitForSubscribers(t, hub, board, 2)

	hub.Publish(board, events.Event{Type: events.BoardUpdated})

	for _, conn := range []*websocket.Conn{first, second} {
		var message Message
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, conn.ReadJSON(&message))
		require.Equal(t, events.BoardUpdated, message.Type)
	}
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewHub()
	server := newHubServer(t, hub)

	board := events.BoardGroup("b1")
	conn := dial(t, server, board)
	waitForSubscribers(t, hub, board, 1)

	require.NoError(t, conn.Close())
	waitForSubscribers(t, hub, board, 0)

	// Publishing into an empty group is a no-op, not a panic.
	hub.Publish(board, events.Event{Type: events.BoardDeleted})
}

func TestHubGroupNormalization(t *testing.T) {
	hub := NewHub()
	server := newHubServer(t, hub)

	conn := dial(t, server, "Board.ABC")
	waitForSubscribers(t, hub, "board.abc", 1)

	hub.Publish("  BOARD.abc ", events.Event{Type: events.NoteDeleted})

	var message Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&message))
	require.Equal(t, events.NoteDeleted, message.Type)
}
