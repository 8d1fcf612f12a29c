package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"rentme-inbox/internal/app/dto"
	"rentme-inbox/internal/app/inbox"
	"rentme-inbox/internal/domain/chat"
	"rentme-inbox/internal/infra/broker/kafka"
	"rentme-inbox/internal/infra/obs"
	"rentme-inbox/internal/infra/storage/memory"
)

const maxUploadFiles = 5

// Chat event types published to the broker.
const (
	ChatMessageCreated = "message.created"
	ChatMessageUpdated = "message.updated"
	ChatMessageDeleted = "message.deleted"
)

// ObjectPutter stores uploaded attachments and returns their public URL or path.
type ObjectPutter interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
}

// Publisher hands persisted chat changes to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev kafka.ChatEvent) error
}

// ChatHandler serves the messaging REST endpoints and the realtime socket.
type ChatHandler struct {
	Store   *Store
	Hub     *Hub
	Objects ObjectPutter
	// Blobs serves objects kept in memory; nil when uploads go to an external bucket.
	Blobs   *memory.ObjectStore
	Events  Publisher
	Metrics *obs.Metrics
	Logger  *slog.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// ListThreads returns the caller's conversations, most recent first.
func (h *ChatHandler) ListThreads(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	limit := clampLimit(parsePositiveIntStrict(c.Query("limit"), defaultThreadLimit))
	rows, next, err := h.Store.ListThreads(p.ID, c.Query("scope"), limit, c.Query("cursor"))
	if err != nil {
		h.respondError(c, err, "list threads", "user_id", p.ID)
		return
	}
	page := dto.ThreadPage{Threads: make([]dto.ThreadSummary, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		page.Threads = append(page.Threads, threadSummary(row))
	}
	c.JSON(http.StatusOK, page)
}

// ListMessages returns one page of a conversation, oldest message first.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	otherID := strings.TrimSpace(c.Param("otherUserId"))
	if otherID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "otherUserId is required"})
		return
	}
	limit := clampLimit(parsePositiveIntStrict(c.Query("limit"), defaultMessageLimit))
	msgs, next, err := h.Store.ListMessages(p.ID, otherID, c.Param("listingId"), limit, c.Query("cursor"))
	if err != nil {
		h.respondError(c, err, "list messages", "user_id", p.ID, "other_user_id", otherID)
		return
	}
	page := dto.MessagePage{Data: make([]dto.Message, 0, len(msgs)), NextCursor: next}
	for _, m := range msgs {
		page.Data = append(page.Data, dto.FromMessage(m))
	}
	c.JSON(http.StatusOK, page)
}

// MarkRead clears the unread state of a conversation for the caller.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req dto.MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	changed, err := h.Store.MarkRead(p.ID, req.OtherUserID, req.ListingID)
	if err != nil {
		h.respondError(c, err, "mark read", "user_id", p.ID, "other_user_id", req.OtherUserID)
		return
	}
	if h.Logger != nil && changed > 0 {
		h.Logger.Debug("conversation read", "user_id", p.ID, "other_user_id", req.OtherUserID, "listing_id", req.ListingID, "messages", changed)
	}
	c.JSON(http.StatusOK, dto.Ack{OK: true})
}

// UpdateMessage edits the text of one of the caller's messages.
func (h *ChatHandler) UpdateMessage(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	var req dto.UpdateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	id := c.Param("id")
	msg, err := h.Store.UpdateMessage(p.ID, id, req.Content)
	if err != nil {
		h.respondError(c, err, "update message", "user_id", p.ID, "message_id", id)
		return
	}
	body := dto.FromMessage(msg)
	h.Hub.SendTo(dto.EventMessageUpdated, body, msg.Sender.ID, msg.Receiver.ID)
	h.publish(c.Request.Context(), ChatMessageUpdated, msg, body)
	c.JSON(http.StatusOK, body)
}

// DeleteMessage removes one of the caller's messages.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	id := c.Param("id")
	msg, err := h.Store.DeleteMessage(p.ID, id)
	if err != nil {
		h.respondError(c, err, "delete message", "user_id", p.ID, "message_id", id)
		return
	}
	h.Hub.SendTo(dto.EventMessageDeleted, dto.MessageDeleted{MessageID: msg.ID}, msg.Sender.ID, msg.Receiver.ID)
	h.publish(c.Request.Context(), ChatMessageDeleted, msg, nil)
	c.JSON(http.StatusOK, dto.Ack{OK: true})
}

// Upload stores the multipart "files" field and returns the stored paths in order.
func (h *ChatHandler) Upload(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	if h.Objects == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "uploads unavailable"})
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form required"})
		return
	}
	files := form.File["files"]
	switch {
	case len(files) == 0:
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files"})
		return
	case len(files) > maxUploadFiles:
		c.JSON(http.StatusBadRequest, gin.H{"error": "too many files"})
		return
	}
	for _, fh := range files {
		if fh.Size > inbox.MaxAttachmentSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fh.Filename + ": file too large"})
			return
		}
	}

	resp := dto.UploadResponse{Files: make([]dto.UploadedFile, 0, len(files))}
	for _, fh := range files {
		stored, err := h.storeFile(c.Request.Context(), fh)
		if err != nil {
			if errors.Is(err, inbox.ErrUnsupportedType) {
				c.JSON(http.StatusBadRequest, gin.H{"error": fh.Filename + ": " + err.Error()})
				return
			}
			h.respondError(c, err, "store upload", "user_id", p.ID, "file", fh.Filename)
			return
		}
		resp.Files = append(resp.Files, stored)
		if h.Metrics != nil {
			h.Metrics.Uploads.Inc()
		}
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *ChatHandler) storeFile(ctx context.Context, fh *multipart.FileHeader) (dto.UploadedFile, error) {
	f, err := fh.Open()
	if err != nil {
		return dto.UploadedFile{}, err
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if !inbox.AllowedMIMEType(contentType) {
		detected, err := mimetype.DetectReader(f)
		if err != nil {
			return dto.UploadedFile{}, err
		}
		contentType = detected.String()
		if !inbox.AllowedMIMEType(contentType) {
			return dto.UploadedFile{}, inbox.ErrUnsupportedType
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return dto.UploadedFile{}, err
		}
	}
	contentType = strings.SplitN(contentType, ";", 2)[0]
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext == "" {
		if known := mimetype.Lookup(contentType); known != nil {
			ext = known.Extension()
		}
	}
	path, err := h.Objects.Put(ctx, "chat/"+uuid.NewString()+ext, f, fh.Size, contentType)
	if err != nil {
		return dto.UploadedFile{}, err
	}
	return dto.UploadedFile{Path: path, MIMEType: contentType, OriginalName: fh.Filename}, nil
}

// ServeObject streams an attachment kept in memory.
func (h *ChatHandler) ServeObject(c *gin.Context) {
	if h.Blobs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	obj, err := h.Blobs.Get(strings.TrimPrefix(c.Param("key"), "/"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, obj.ContentType, obj.Data)
}

// Realtime upgrades an authenticated request to the chat websocket.
func (h *ChatHandler) Realtime(c *gin.Context) {
	p, ok := requireUser(c)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket upgrade failed", "user_id", p.ID, "error", err)
		}
		return
	}
	h.Hub.Attach(conn, p.ID, h.handleFrame)
}

func (h *ChatHandler) handleFrame(ctx context.Context, client *Client, env dto.Envelope) {
	if env.Type != dto.EventSendMessage {
		h.Hub.Reply(client, dto.EventError, dto.RealtimeError{Message: "unsupported event " + strconv.Quote(env.Type)})
		return
	}
	var req dto.SendMessage
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		h.Hub.Reply(client, dto.EventError, dto.RealtimeError{Message: "invalid payload"})
		return
	}
	msg, err := h.Store.CreateMessage(client.UserID, req.ReceiverID, req.ListingID, req.Content, dto.MediaToDomain(req.Media))
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("send rejected", "user_id", client.UserID, "temp_id", req.TempID, "error", err)
		}
		h.Hub.Reply(client, dto.EventError, dto.RealtimeError{TempID: req.TempID, Message: publicMessage(err)})
		return
	}
	body := dto.FromMessage(msg)
	ack := body
	ack.TempID = req.TempID
	h.Hub.Reply(client, dto.EventMessageSent, ack)
	h.Hub.Broadcast(dto.EventReceiveMessage, body, client, msg.Receiver.ID, msg.Sender.ID)
	h.publish(ctx, ChatMessageCreated, msg, body)
}

func (h *ChatHandler) publish(ctx context.Context, eventType string, msg chat.Message, body any) {
	if h.Events == nil {
		return
	}
	ev := kafka.ChatEvent{
		Type:       eventType,
		MessageID:  msg.ID,
		SenderID:   msg.Sender.ID,
		ReceiverID: msg.Receiver.ID,
		ListingID:  msg.ListingID,
		OccurredAt: time.Now().UTC(),
	}
	if body != nil {
		raw, err := json.Marshal(body)
		if err == nil {
			ev.Payload = raw
		}
	}
	outcome := "accepted"
	if err := h.Events.Publish(ctx, ev); err != nil {
		outcome = "error"
		if h.Logger != nil {
			h.Logger.Error("chat event publish failed", "type", eventType, "message_id", msg.ID, "error", err)
		}
	}
	if h.Metrics != nil {
		h.Metrics.BrokerPublished.WithLabelValues(outcome).Inc()
	}
}

func (h *ChatHandler) respondError(c *gin.Context, err error, action string, attrs ...any) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": publicMessage(err)})
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": publicMessage(err)})
	default:
		if h.Logger != nil {
			h.Logger.Error("chat request failed", append([]any{"action", action, "error", err}, attrs...)...)
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// publicMessage strips the package prefix of store errors.
func publicMessage(err error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "devserver: "); ok {
		msg = rest
	}
	for _, sentinel := range []error{ErrForbidden, ErrInvalidRequest} {
		prefix := strings.TrimPrefix(sentinel.Error(), "devserver: ") + ": "
		if rest, ok := strings.CutPrefix(msg, prefix); ok {
			return rest
		}
	}
	return msg
}

func threadSummary(row ThreadRow) dto.ThreadSummary {
	out := dto.ThreadSummary{
		OtherUserID: row.Other.ID,
		OtherUser:   &dto.UserRef{ID: row.Other.ID, Name: row.Other.Name, Avatar: row.Other.Avatar},
		LastMessage: &dto.LastMessage{
			Content:   row.Last.Content,
			Media:     dto.MediaFromDomain(row.Last.Attachments),
			CreatedAt: row.Last.CreatedAt,
		},
		UnreadCount: row.Unread,
	}
	if row.Listing != nil {
		id := row.Listing.ID
		out.ListingID = &id
		out.Listing = &dto.ListingRef{ID: row.Listing.ID, Title: row.Listing.Title}
	}
	return out
}

func parsePositiveIntStrict(raw string, def int) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value <= 0 {
		return def
	}
	return value
}

func clampLimit(limit int) int {
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}
