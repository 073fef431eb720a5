package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-duochat/internal/testutil"
	"github.com/npezzotti/go-duochat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{}
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        1,
			Timestamp: Now(),
		},
		Response: &Response{
			ResponseCode: 200,
			Data:         "test data",
		},
	}

	expected := `{"id":1,"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","response":{"response_code":200,"data":"test data"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to match the expected format")
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected a second stop to be a no-op")

	select {
	case <-c.stop:
	default:
		t.Error("expected stop channel to be closed")
	}
}

func readServerMessage(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err, "expected a message from the server")

	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	return msg
}

func readResponse(t *testing.T, conn *websocket.Conn) Response {
	t.Helper()
	for {
		msg := readServerMessage(t, conn)
		raw, ok := msg["response"]
		if !ok {
			continue
		}
		var resp Response
		require.NoError(t, json.Unmarshal(raw, &resp))
		return resp
	}
}

func TestClientOverWebsocket(t *testing.T) {
	h := newHarness(t, time.Hour)
	go h.cs.Run()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(types.User{Id: r.URL.Query().Get("user")}, conn, h.cs, h.cs.log)
		if !h.cs.RegisterClient(c) {
			conn.Close()
			return
		}
		go c.Write()
		go c.Read()
		go c.Session()
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?user=a1", nil)
	require.NoError(t, err)
	defer conn.Close()

	msg := readServerMessage(t, conn)
	assert.Contains(t, msg, "directory", "expected the directory to be pushed first")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	resp := readResponse(t, conn)
	assert.Equal(t, http.StatusBadRequest, resp.ResponseCode)
	assert.Equal(t, "invalid message format", resp.Error)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"id":7,"profile":{"user_id":"b1"}}`)))
	resp = readResponse(t, conn)
	assert.Equal(t, http.StatusOK, resp.ResponseCode)
	if data, ok := resp.Data.(map[string]any); assert.True(t, ok) {
		assert.Equal(t, "b1", data["id"])
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.cs.Shutdown(ctx))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "expected a going away close, got %v", err)
}
