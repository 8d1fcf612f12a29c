package chat

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrEmptyMessage     = errors.New("chat: message needs content or at least one attachment")
	ErrEditAttachments  = errors.New("chat: messages with attachments cannot be edited")
	ErrUnauthenticated  = errors.New("chat: session token required")
	ErrInvalidReference = errors.New("chat: participant reference has no id")
)

// AttachmentKind distinguishes how an attachment is rendered.
type AttachmentKind string

const (
	KindImage AttachmentKind = "image"
	KindVideo AttachmentKind = "video"
)

// KindForMIME infers the attachment kind from a MIME type.
func KindForMIME(mimeType string) AttachmentKind {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "video/") {
		return KindVideo
	}
	return KindImage
}

// Attachment is a media item already stored by the backend.
type Attachment struct {
	URL      string
	MIMEType string
	Kind     AttachmentKind
	Filename string
}

// Participant is the canonical shape of a sender or receiver.
type Participant struct {
	ID     string
	Name   string
	Avatar string
}

// Message is a single chat entry. ID is empty until the backend confirms it.
type Message struct {
	ID          string
	TempID      string
	Content     string
	Attachments []Attachment
	Sender      Participant
	Receiver    Participant
	ListingID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Sending     bool
}

// Validate enforces that a message carries content or at least one attachment.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0 {
		return ErrEmptyMessage
	}
	return nil
}

func (m Message) HasAttachments() bool { return len(m.Attachments) > 0 }

// SentBy reports whether userID authored the message.
func (m Message) SentBy(userID string) bool {
	return userID != "" && m.Sender.ID == userID
}

// Counterparty returns the participant on the other side from selfID.
func (m Message) Counterparty(selfID string) Participant {
	if m.Sender.ID == selfID {
		return m.Receiver
	}
	return m.Sender
}

// BelongsTo reports whether the message is part of the conversation identified by key,
// seen from selfID.
func (m Message) BelongsTo(key Key, selfID string) bool {
	if key.IsZero() {
		return false
	}
	if m.Counterparty(selfID).ID != key.Counterparty {
		return false
	}
	return key.Listing == AllListings || m.ListingID == key.Listing
}

// Preview is the one-line summary shown in a thread list.
func (m Message) Preview() string {
	if text := strings.TrimSpace(m.Content); text != "" {
		return text
	}
	if m.HasAttachments() {
		return AttachmentPreview
	}
	return ""
}

// Ref returns the reconciliation identity of the message.
func (m Message) Ref() Ref {
	if m.Sending || m.ID == "" {
		return Pending(m.TempID)
	}
	return Confirmed(m.ID)
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	m.Attachments = append([]Attachment(nil), m.Attachments...)
	return m
}
