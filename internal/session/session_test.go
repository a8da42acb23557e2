package session_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	busPkg "github.com/streamspace-dev/phoenixbridge/internal/bus"
	"github.com/streamspace-dev/phoenixbridge/internal/channel"
	"github.com/streamspace-dev/phoenixbridge/internal/protocol"
	"github.com/streamspace-dev/phoenixbridge/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newTestServer(t *testing.T, ctl *channel.Controller) (*httptest.Server, string) {
	t.Helper()

	b, err := busPkg.New(busPkg.Config{Enabled: false})
	require.NoError(t, err)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sess := session.New(conn, ctl)
		dispatcher := protocol.NewDispatcher(ctl, b, "unused-secret", sess)
		sess.Run(r.Context(), dispatcher)
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, url
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var arr []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &arr))
	require.Len(t, arr, 5)
	return arr
}

func TestHeartbeatRoundTrip(t *testing.T) {
	ctl := channel.NewController()
	_, url := newTestServer(t, ctl)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[null,"1","phoenix","heartbeat",{}]`)))

	frame := readFrame(t, conn)
	var eventRef, topic, event string
	require.NoError(t, json.Unmarshal(frame[1], &eventRef))
	require.NoError(t, json.Unmarshal(frame[2], &topic))
	require.NoError(t, json.Unmarshal(frame[3], &event))
	require.Equal(t, "1", eventRef)
	require.Equal(t, "phoenix", topic)
	require.Equal(t, "phx_reply", event)
}

func TestJoinLeaveCycle(t *testing.T) {
	ctl := channel.NewController()
	ctl.ChannelAdd("system")
	_, url := newTestServer(t, ctl)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`["1","ref1","system","phx_join",{"token":"test"}]`)))
	frame := readFrame(t, conn)
	var payload struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(frame[4], &payload))
	require.Equal(t, "ok", payload.Status)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`["1","ref2","system","phx_leave",{}]`)))
	frame = readFrame(t, conn)
	require.NoError(t, json.Unmarshal(frame[4], &payload))
	require.Equal(t, "ok", payload.Status)
}

func TestJoinUnknownChannelGetsErrorReply(t *testing.T) {
	ctl := channel.NewController()
	_, url := newTestServer(t, ctl)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`["1","ref1","nope","phx_join",{"token":"test"}]`)))
	frame := readFrame(t, conn)
	var payload struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(frame[4], &payload))
	require.Equal(t, "error", payload.Status)
}

func TestBroadcastFanOutToMultipleSubscribers(t *testing.T) {
	ctl := channel.NewController()
	ctl.ChannelAdd("system")
	_, url := newTestServer(t, ctl)

	conn1 := dial(t, url)
	conn2 := dial(t, url)

	require.NoError(t, conn1.WriteMessage(websocket.TextMessage, []byte(`["1","ref1","system","phx_join",{"token":"test"}]`)))
	readFrame(t, conn1)
	require.NoError(t, conn2.WriteMessage(websocket.TextMessage, []byte(`["1","ref1","system","phx_join",{"token":"test"}]`)))
	readFrame(t, conn2)

	sent, err := ctl.ChannelBroadcast("system", channel.ChannelMessage{Reply: channel.OkReply(nil, "42", "system")})
	require.NoError(t, err)
	require.Equal(t, 2, sent)

	frame1 := readFrame(t, conn1)
	frame2 := readFrame(t, conn2)

	var ref1, ref2 string
	require.NoError(t, json.Unmarshal(frame1[1], &ref1))
	require.NoError(t, json.Unmarshal(frame2[1], &ref2))
	require.Equal(t, "42", ref1)
	require.Equal(t, "42", ref2)
}

func TestConnectionTeardownCleansUpAgent(t *testing.T) {
	ctl := channel.NewController()
	ctl.ChannelAdd("system")
	_, url := newTestServer(t, ctl)

	conn := dial(t, url)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`["1","ref1","system","phx_join",{"token":"test"}]`)))
	readFrame(t, conn)

	conn.Close()

	require.Eventually(t, func() bool {
		sent, err := ctl.ChannelBroadcast("system", channel.ChannelMessage{Reply: channel.OkReply(nil, "1", "system")})
		return err == nil && sent == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestInvalidFrameDoesNotCloseConnection(t *testing.T) {
	ctl := channel.NewController()
	_, url := newTestServer(t, ctl)
	conn := dial(t, url)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json at all`)))
	// connection should remain usable: a subsequent heartbeat still works
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`[null,"1","phoenix","heartbeat",{}]`)))
	frame := readFrame(t, conn)
	var event string
	require.NoError(t, json.Unmarshal(frame[3], &event))
	require.Equal(t, "phx_reply", event)
}
