package dto

import "encoding/json"

// Realtime event names exchanged over the websocket.
const (
	EventReceiveMessage = "receive_message"
	EventMessageSent    = "message_sent"
	EventMessageUpdated = "message_updated"
	EventMessageDeleted = "message_deleted"
	EventSendMessage    = "send_message"
	EventError          = "error"
)

// Envelope frames every websocket message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload under the given event type.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Payload: raw}, nil
}

// SendMessage is emitted by the client to send a message.
type SendMessage struct {
	Content    string  `json:"content"`
	Media      []Media `json:"media,omitempty"`
	ReceiverID string  `json:"receiverId"`
	ListingID  string  `json:"listingId"`
	TempID     string  `json:"tempId"`
}

// MessageDeleted announces removal of a message.
type MessageDeleted struct {
	MessageID string `json:"messageId"`
}

// RealtimeError reports a rejected client frame.
type RealtimeError struct {
	TempID  string `json:"tempId,omitempty"`
	Message string `json:"message"`
}
