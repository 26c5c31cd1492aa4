package websockets

// MessageType defines the type of a WebSocket message.
type MessageType string

const (
	// MessageTypeChatUpdate carries a chat state change.
	MessageTypeChatUpdate MessageType = "chatUpdate"
	// MessageTypeAccountUpdate carries a balance or withdrawal change.
	MessageTypeAccountUpdate MessageType = "accountUpdate"
)

// Message is the envelope sent to every client.
type Message struct {
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload"`
}

// ChatUpdatePayload tells both parties of a chat that it moved.
type ChatUpdatePayload struct {
	ChatID       string            `json:"chat_id"`
	Event        string            `json:"event"`
	Participants []string          `json:"participants"`
	Attrs        map[string]string `json:"attrs,omitempty"`
}

// AccountUpdatePayload tells an account holder its balances changed.
type AccountUpdatePayload struct {
	AccountID string            `json:"account_id"`
	Event     string            `json:"event"`
	Reference string            `json:"reference"`
	Attrs     map[string]string `json:"attrs,omitempty"`
}
