package websockets

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/chris/p2p-escrow-ledger/pkg/storage/memory"
	"github.com/chris/p2p-escrow-ledger/pkg/websockets"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingManager struct{}

func (failingManager) AddConnection(ctx context.Context, id string) error    { return errors.New("boom") }
func (failingManager) RemoveConnection(ctx context.Context, id string) error { return errors.New("boom") }

func wsEvent(route, id string) events.APIGatewayWebsocketProxyRequest {
	var req events.APIGatewayWebsocketProxyRequest
	req.RequestContext.RouteKey = route
	req.RequestContext.ConnectionID = id
	return req
}

func TestHandleRequest(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	h := NewHandler(store, nil, nil)

	resp, err := h.HandleRequest(ctx, wsEvent("$connect", "abc"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ids, err := store.GetAllConnections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc"}, ids)

	resp, err = h.HandleRequest(ctx, wsEvent("sendMessage", "abc"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = h.HandleRequest(ctx, wsEvent("$disconnect", "abc"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	ids, err = store.GetAllConnections(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	t.Run("Store Fails", func(t *testing.T) {
		h := NewHandler(failingManager{}, nil, nil)
		resp, err := h.HandleRequest(ctx, wsEvent("$connect", "abc"))
		assert.Error(t, err)
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	})
}

func TestLocalFeed(t *testing.T) {
	hub := websockets.NewHub(nil)
	srv := httptest.NewServer(NewHandler(nil, hub, nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), websockets.Message{Type: websockets.MessageTypeChatUpdate}))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), "chatUpdate")

	conn.Close()
	require.Eventually(t, func() bool { return hub.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestLocalFeedDisabled(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(nil, nil, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
