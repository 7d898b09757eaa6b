package dashboard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LeonardoBeccarini/uadashboard/internal/services/aggregator"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, gojson.Unmarshal(data, &msg))
	return msg
}

func TestHubBroadcastsInOrder(t *testing.T) {
	hub := NewHub(HubConfig{}, zap.NewNop())
	var connected atomic.Int32
	hub.OnConnect(func() { connected.Add(1) })
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return connected.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, hub.Viewers())

	hub.AnnounceColumn("pub1_Temp_0")
	hub.PushRow("2024-05-01T12:00:00Z", []string{"23.5"})
	hub.PushTable([]aggregator.TableRow{{Name: "pub1_Temp_0", Value: "23.5", Timestamp: "2024-05-01T12:00:00Z"}})

	assert.Equal(t, Message{Type: TypeAnnounce, Name: "pub1_Temp_0"}, readMessage(t, conn))
	assert.Equal(t, Message{Type: TypeRow, Timestamp: "2024-05-01T12:00:00Z", Values: []string{"23.5"}}, readMessage(t, conn))
	table := readMessage(t, conn)
	assert.Equal(t, TypeTable, table.Type)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "23.5", table.Rows[0].Value)
}

func TestHubResetCommand(t *testing.T) {
	hub := NewHub(HubConfig{}, zap.NewNop())
	reset := make(chan struct{}, 1)
	hub.OnReset(func() { reset <- struct{}{} })
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"reset"}`)))

	select {
	case <-reset:
	case <-time.After(2 * time.Second):
		t.Fatal("reset callback not called")
	}
}

func TestHubRemovesDisconnectedViewer(t *testing.T) {
	hub := NewHub(HubConfig{}, zap.NewNop())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Viewers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Viewers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	hub := NewHub(HubConfig{SendQueue: 1}, zap.NewNop())
	v := &viewer{send: make(chan []byte, 1), done: make(chan struct{})}
	hub.viewers[v] = struct{}{}

	hub.AnnounceColumn("a")
	hub.AnnounceColumn("b")

	require.Len(t, v.send, 1)
	var msg Message
	require.NoError(t, gojson.Unmarshal(<-v.send, &msg))
	assert.Equal(t, "a", msg.Name)
}

func TestHubRejectsPlainHTTP(t *testing.T) {
	hub := NewHub(HubConfig{}, zap.NewNop())
	rec := httptest.NewRecorder()
	hub.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, hub.Viewers())
}
