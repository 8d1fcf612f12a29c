package inbox

import (
	"context"
	"errors"
	"io"

	"rentme-inbox/internal/domain/chat"
)

var (
	ErrLoadInFlight   = errors.New("inbox: a load of this kind is already in flight")
	ErrStaleResult    = errors.New("inbox: result belongs to a superseded conversation")
	ErrNoConversation = errors.New("inbox: no active conversation")
	ErrNotConnected   = errors.New("inbox: realtime channel not connected")
	ErrNotOwner       = errors.New("inbox: only the sender can modify a message")
	ErrNotEditing     = errors.New("inbox: not in edit mode")
	ErrNotConfirmed   = errors.New("inbox: action not confirmed")
	ErrUnknownMessage = errors.New("inbox: message not in the loaded timeline")
)

// PageRequest asks for one page of a cursor-paginated collection.
type PageRequest struct {
	Limit  int
	Cursor string
	Scope  string
}

// ThreadPage is one page of the thread directory. An empty NextCursor means no more pages.
type ThreadPage struct {
	Threads    []chat.Thread
	NextCursor string
}

// MessagePage is one page of a conversation, oldest message first. An empty NextCursor
// means no older messages exist.
type MessagePage struct {
	Messages   []chat.Message
	NextCursor string
}

// ThreadSource lists conversations and clears their unread state.
type ThreadSource interface {
	ListThreads(ctx context.Context, req PageRequest) (ThreadPage, error)
	MarkRead(ctx context.Context, key chat.Key) error
}

// MessageSource pages through a conversation.
type MessageSource interface {
	ListMessages(ctx context.Context, key chat.Key, req PageRequest) (MessagePage, error)
}

// MessageMutator performs REST edits and deletions.
type MessageMutator interface {
	UpdateMessage(ctx context.Context, id, content string) (chat.Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// UploadFile is one file in a multipart upload.
type UploadFile struct {
	Name     string
	MIMEType string
	Open     func() (io.ReadCloser, error)
}

// Uploader stores staged attachments and returns them in submission order.
type Uploader interface {
	Upload(ctx context.Context, files []UploadFile) ([]chat.Attachment, error)
}

// EventKind names a realtime event the synchronizer subscribes to.
type EventKind string

const (
	EventMessageReceived EventKind = "receive_message"
	EventMessageSent     EventKind = "message_sent"
	EventMessageUpdated  EventKind = "message_updated"
	EventMessageDeleted  EventKind = "message_deleted"
)

// Event is a decoded realtime push. Message is set for received, sent and updated
// events; MessageID for deletions.
type Event struct {
	Kind      EventKind
	Message   chat.Message
	MessageID string
}

// SendRequest is emitted over the realtime channel.
type SendRequest struct {
	Content     string
	Attachments []chat.Attachment
	ReceiverID  string
	ListingID   string
	TempID      string
}

// Channel is a live, authenticated realtime connection.
type Channel interface {
	Subscribe(kind EventKind, handler func(Event)) (unsubscribe func())
	Emit(ctx context.Context, req SendRequest) error
	Close() error
}

// Dialer opens a Channel for a session token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Channel, error)
}

// Alerter surfaces blocking, user-visible errors on write paths.
type Alerter interface {
	Alert(message string)
}

// Confirmer asks the user to approve a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) bool
}

// Session identifies the authenticated user.
type Session struct {
	UserID string
	Name   string
	Token  string
}
