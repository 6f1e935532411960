package livesvc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, origin string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(nil, []string{"http://localhost:3000"})
	hub.nowFunc = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "u1")
	}))
	defer srv.Close()
	defer hub.Close()

	conn, _, err := dial(t, srv, "http://localhost:3000")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	hub.Publish("attendance.claimed", map[string]string{"student_id": "s1"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
		At   time.Time         `json:"at"`
	}
	require.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, "attendance.claimed", evt.Type)
	assert.Equal(t, "s1", evt.Data["student_id"])
	assert.True(t, evt.At.Equal(hub.nowFunc()))

	_ = conn.Close()
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(nil, []string{"http://localhost:3000"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, "u1")
	}))
	defer srv.Close()

	_, res, err := dial(t, srv, "http://evil.example")
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, 0, hub.Clients())
}

func TestHub_DropsSlowClients(t *testing.T) {
	hub := NewHub(nil, nil)
	slow := &client{send: make(chan []byte, 1)}
	hub.register(slow)

	hub.Publish("device.heartbeat", nil)
	assert.Equal(t, 1, hub.Clients())

	hub.Publish("device.heartbeat", nil) // buffer full
	assert.Equal(t, 0, hub.Clients())

	_, ok := <-slow.send
	assert.True(t, ok)
	_, ok = <-slow.send
	assert.False(t, ok, "send channel must be closed")
}
