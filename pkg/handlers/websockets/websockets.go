package websockets

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/chris/p2p-escrow-ledger/pkg/websockets"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler tracks WebSocket clients, either behind API Gateway or connected
// straight to the local server.
type Handler struct {
	connManager websockets.ConnectionManager
	hub         *websockets.Hub
	logger      *slog.Logger
}

// NewHandler returns a handler for API Gateway routes. Local connections are
// served only when hub is non-nil.
func NewHandler(connManager websockets.ConnectionManager, hub *websockets.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{connManager: connManager, hub: hub, logger: logger}
}

// HandleRequest dispatches an API Gateway WebSocket event by route key.
func (h *Handler) HandleRequest(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	switch request.RequestContext.RouteKey {
	case "$connect":
		return h.HandleConnect(ctx, request)
	case "$disconnect":
		return h.HandleDisconnect(ctx, request)
	default:
		return h.HandleDefault(ctx, request)
	}
}

func (h *Handler) HandleConnect(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	id := request.RequestContext.ConnectionID
	h.logger.Info("client connected", "connectionId", id)

	if err := h.connManager.AddConnection(ctx, id); err != nil {
		h.logger.Error("failed to save connection ID", "connectionId", id, "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, err
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

func (h *Handler) HandleDisconnect(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	id := request.RequestContext.ConnectionID
	h.logger.Info("client disconnected", "connectionId", id)

	if err := h.connManager.RemoveConnection(ctx, id); err != nil {
		h.logger.Error("failed to delete connection ID", "connectionId", id, "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, err
	}
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

// HandleDefault accepts and ignores client messages. The feed is one-way.
func (h *Handler) HandleDefault(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	h.logger.Debug("ignoring client message", "connectionId", request.RequestContext.ConnectionID, "bytes", len(request.Body))
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Local development only; origins are enforced by CORS on the API.
		return true
	},
}

// ServeHTTP upgrades a local client and streams ledger events to it until it
// goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "websocket feed disabled", http.StatusNotFound)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	connectionID := uuid.New().String()
	ctx := context.WithoutCancel(r.Context())
	if err := h.hub.Register(ctx, connectionID, conn); err != nil {
		h.logger.Error("failed to register local connection", "connectionId", connectionID, "error", err)
		return
	}
	h.logger.Info("local client connected", "connectionId", connectionID)

	defer func() {
		h.logger.Info("local client disconnected", "connectionId", connectionID)
		if err := h.hub.RemoveConnection(ctx, connectionID); err != nil {
			h.logger.Error("failed to delete local connection ID", "connectionId", connectionID, "error", err)
		}
	}()

	// Reads only detect the close; clients do not send anything meaningful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("unexpected close error", "connectionId", connectionID, "error", err)
			}
			return
		}
	}
}
