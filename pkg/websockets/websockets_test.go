package websockets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/chris/p2p-escrow-ledger/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConnections struct {
	mu      sync.Mutex
	ids     []string
	removed []string
}

func (f *fakeConnections) GetAllConnections(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.ids...), nil
}

func (f *fakeConnections) AddConnection(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}

func (f *fakeConnections) RemoveConnection(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

type fakeGateway struct {
	posted map[string][]byte
	gone   map[string]bool
}

func (g *fakeGateway) PostToConnection(ctx context.Context, in *apigatewaymanagementapi.PostToConnectionInput, _ ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	if g.gone[*in.ConnectionId] {
		return nil, &apigwtypes.GoneException{}
	}
	if *in.ConnectionId == "broken" {
		return nil, errors.New("throttled")
	}
	g.posted[*in.ConnectionId] = in.Data
	return &apigatewaymanagementapi.PostToConnectionOutput{}, nil
}

func TestGatewayPublisher(t *testing.T) {
	conns := &fakeConnections{ids: []string{"c1", "stale", "broken"}}
	gw := &fakeGateway{posted: map[string][]byte{}, gone: map[string]bool{"stale": true}}
	p := NewGatewayPublisher(conns, conns, gw)

	err := p.Publish(context.Background(), Message{Type: MessageTypeChatUpdate, Payload: ChatUpdatePayload{ChatID: "chat-1"}})
	require.NoError(t, err)

	require.Contains(t, gw.posted, "c1")
	assert.Contains(t, string(gw.posted["c1"]), `"chat_id":"chat-1"`)
	assert.Equal(t, []string{"stale"}, conns.removed)
}

func TestToMessage(t *testing.T) {
	chat := ToMessage(events.Event{Type: events.TypeChatPaid, Key: "chat-1", Accounts: []string{"a", "b"}})
	assert.Equal(t, MessageTypeChatUpdate, chat.Type)
	assert.Equal(t, []string{"a", "b"}, chat.Payload.(ChatUpdatePayload).Participants)

	acct := ToMessage(events.Event{Type: events.TypeFundsDeposited, Key: "tr-1", Accounts: []string{"a"}})
	assert.Equal(t, MessageTypeAccountUpdate, acct.Type)
	assert.Equal(t, "a", acct.Payload.(AccountUpdatePayload).AccountID)
	assert.Equal(t, "tr-1", acct.Payload.(AccountUpdatePayload).Reference)
}

func TestHubPublish(t *testing.T) {
	store := &fakeConnections{}
	hub := NewHub(store)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = hub.Register(r.Context(), "local-1", conn)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	NewEmitter(hub).Emit(context.Background(), events.Event{Type: events.TypeChatOpened, Key: "chat-9"})

	_ = client.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type    MessageType       `json:"type"`
		Payload ChatUpdatePayload `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageTypeChatUpdate, msg.Type)
	assert.Equal(t, "chat-9", msg.Payload.ChatID)

	require.NoError(t, hub.RemoveConnection(context.Background(), "local-1"))
	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, []string{"local-1"}, store.removed)
}
