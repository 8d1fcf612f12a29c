package dto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rentme-inbox/internal/domain/chat"
)

// Media is an attachment as carried on the wire.
type Media struct {
	URL      string `json:"url"`
	Type     string `json:"type"`
	Kind     string `json:"kind,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Message is the wire shape shared by REST pages and realtime events. Sender, Receiver
// and Listing may be bare ids or expanded objects.
type Message struct {
	ID        string          `json:"_id"`
	TempID    string          `json:"tempId,omitempty"`
	Content   string          `json:"content"`
	Media     []Media         `json:"media,omitempty"`
	Sender    json.RawMessage `json:"sender"`
	Receiver  json.RawMessage `json:"receiver"`
	Listing   json.RawMessage `json:"listing,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt,omitempty"`
}

// ToDomain normalises the wire message into chat.Message.
func (m Message) ToDomain() (chat.Message, error) {
	sender, err := chat.NormalizeParticipant(m.Sender)
	if err != nil {
		return chat.Message{}, fmt.Errorf("message %s sender: %w", m.ID, err)
	}
	receiver, err := chat.NormalizeParticipant(m.Receiver)
	if err != nil {
		return chat.Message{}, fmt.Errorf("message %s receiver: %w", m.ID, err)
	}
	msg := chat.Message{
		ID:        strings.TrimSpace(m.ID),
		TempID:    m.TempID,
		Content:   m.Content,
		Sender:    sender,
		Receiver:  receiver,
		ListingID: chat.NormalizeListing(m.Listing),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	msg.Attachments = MediaToDomain(m.Media)
	return msg, nil
}

// FromMessage renders a domain message with participants expanded to objects.
func FromMessage(msg chat.Message) Message {
	out := Message{
		ID:        msg.ID,
		TempID:    msg.TempID,
		Content:   msg.Content,
		Media:     MediaFromDomain(msg.Attachments),
		Sender:    participantJSON(msg.Sender),
		Receiver:  participantJSON(msg.Receiver),
		CreatedAt: msg.CreatedAt,
		UpdatedAt: msg.UpdatedAt,
	}
	if msg.ListingID != "" {
		out.Listing, _ = json.Marshal(msg.ListingID)
	}
	return out
}

func MediaToDomain(media []Media) []chat.Attachment {
	if len(media) == 0 {
		return nil
	}
	out := make([]chat.Attachment, 0, len(media))
	for _, m := range media {
		kind := chat.AttachmentKind(strings.ToLower(strings.TrimSpace(m.Kind)))
		if kind != chat.KindImage && kind != chat.KindVideo {
			kind = chat.KindForMIME(m.Type)
		}
		out = append(out, chat.Attachment{
			URL:      m.URL,
			MIMEType: m.Type,
			Kind:     kind,
			Filename: m.Filename,
		})
	}
	return out
}

func MediaFromDomain(attachments []chat.Attachment) []Media {
	if len(attachments) == 0 {
		return nil
	}
	out := make([]Media, 0, len(attachments))
	for _, a := range attachments {
		out = append(out, Media{URL: a.URL, Type: a.MIMEType, Kind: string(a.Kind), Filename: a.Filename})
	}
	return out
}

type participantBody struct {
	ID     string `json:"_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

func participantJSON(p chat.Participant) json.RawMessage {
	if p.ID == "" {
		return nil
	}
	if p.Name == "" && p.Avatar == "" {
		raw, _ := json.Marshal(p.ID)
		return raw
	}
	raw, _ := json.Marshal(participantBody{ID: p.ID, Name: p.Name, Avatar: p.Avatar})
	return raw
}

// MessagePage is the response of the message page endpoint. Data is oldest-first.
type MessagePage struct {
	Data       []Message `json:"data"`
	NextCursor string    `json:"nextCursor,omitempty"`
}

// UserRef is an expanded participant in a thread summary.
type UserRef struct {
	ID     string `json:"_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// ListingRef is an expanded listing in a thread summary.
type ListingRef struct {
	ID    string `json:"_id"`
	Title string `json:"title,omitempty"`
}

// LastMessage is the preview carried by a thread summary.
type LastMessage struct {
	Content   string    `json:"content"`
	Media     []Media   `json:"media,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ThreadSummary is one row of the thread page endpoint. A null ListingID means the
// thread spans every listing shared with the participant.
type ThreadSummary struct {
	OtherUserID string       `json:"otherUserId"`
	ListingID   *string      `json:"listingId"`
	OtherUser   *UserRef     `json:"otherUser,omitempty"`
	Listing     *ListingRef  `json:"listing,omitempty"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount int          `json:"unreadCount"`
}

// ToDomain materialises the directory entry.
func (s ThreadSummary) ToDomain() chat.Thread {
	summary := chat.ThreadSummary{
		OtherUser:   chat.Participant{ID: strings.TrimSpace(s.OtherUserID)},
		UnreadCount: s.UnreadCount,
	}
	if s.ListingID != nil {
		summary.ListingID = *s.ListingID
	}
	if s.OtherUser != nil {
		summary.OtherUser.Name = s.OtherUser.Name
		summary.OtherUser.Avatar = s.OtherUser.Avatar
	}
	if s.Listing != nil {
		summary.ListingTitle = s.Listing.Title
	}
	if s.LastMessage != nil {
		summary.LastMessage = &chat.Message{
			Content:     s.LastMessage.Content,
			Attachments: MediaToDomain(s.LastMessage.Media),
			CreatedAt:   s.LastMessage.CreatedAt,
		}
	}
	return chat.NewThread(summary)
}

// ThreadPage is the response of the thread page endpoint.
type ThreadPage struct {
	Threads    []ThreadSummary `json:"threads"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

// MarkReadRequest clears the unread flag of a conversation.
type MarkReadRequest struct {
	OtherUserID string `json:"otherUserId"`
	ListingID   string `json:"listingId"`
}

// UpdateMessageRequest edits the text of a message.
type UpdateMessageRequest struct {
	Content string `json:"content"`
}

// UploadedFile describes one stored attachment returned by the upload endpoint.
type UploadedFile struct {
	Path         string `json:"path"`
	MIMEType     string `json:"mimetype"`
	OriginalName string `json:"originalname"`
}

// UploadResponse lists stored files in submission order.
type UploadResponse struct {
	Files []UploadedFile `json:"files"`
}

// Ack is the body of write endpoints without a resource payload.
type Ack struct {
	OK bool `json:"ok"`
}

// ErrorBody is the error payload of every endpoint.
type ErrorBody struct {
	Error string `json:"error"`
}
