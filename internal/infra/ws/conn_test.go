package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	domain "github.com/bryanwahyu/domain-insight/internal/domain/session"
)

func TestSendWaitsInsteadOfDropping(t *testing.T) {
	c := newConn(nil, 1)
	require.NoError(t, c.Send(context.Background(), domain.Envelope{Type: domain.TypePong}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, c.Send(ctx, domain.Envelope{Type: domain.TypePong}), context.DeadlineExceeded)
	require.Len(t, c.send, 1)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Send(context.Background(), domain.Envelope{Type: domain.TypePong}), ErrClosed)
}

// echo server: replies to each text frame with a pong envelope carrying it.
func TestReadLoopAndFlushOnClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := Accept(raw)
		c.ReadLoop(func(data []byte) error {
			if string(data) == "bye" {
				_ = c.Send(r.Context(), domain.Envelope{Type: domain.TypeChat, Payload: "last"})
				return c.Close()
			}
			return c.Send(r.Context(), domain.Envelope{Type: domain.TypePong, Payload: string(data)})
		})
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(5 * time.Second))

	read := func() domain.Envelope {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		var env domain.Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	}

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("hello")))
	env := read()
	require.Equal(t, domain.TypePong, env.Type)
	require.Equal(t, "hello", env.Payload)

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte("bye")))
	require.Equal(t, "last", read().Payload)

	_, _, err = client.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
