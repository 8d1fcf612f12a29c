package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rentme-inbox/internal/domain/chat"
)

// ChannelSource hands out the currently attached realtime channel.
type ChannelSource interface {
	Channel() Channel
}

// CoordinatorDeps wires a Coordinator.
type CoordinatorDeps struct {
	Timeline    *Timeline
	Attachments *Attachments
	Channels    ChannelSource
	Mutator     MessageMutator
	Alerts      Alerter
	Confirm     Confirmer
	Logger      *slog.Logger
	NewTempID   func() string
	Now         func() time.Time
}

// Coordinator turns composer actions into optimistic timeline entries, realtime sends and
// REST edits or deletions.
type Coordinator struct {
	timeline    *Timeline
	attachments *Attachments
	channels    ChannelSource
	mutator     MessageMutator
	alerts      Alerter
	confirm     Confirmer
	logger      *slog.Logger
	newTempID   func() string
	now         func() time.Time

	mu      sync.Mutex
	self    chat.Participant
	draft   string
	editing string
	// Uploaded attachments of a send whose emit failed; the next send reuses them.
	carried []chat.Attachment
}

func NewCoordinator(deps CoordinatorDeps) *Coordinator {
	c := &Coordinator{
		timeline:    deps.Timeline,
		attachments: deps.Attachments,
		channels:    deps.Channels,
		mutator:     deps.Mutator,
		alerts:      deps.Alerts,
		confirm:     deps.Confirm,
		logger:      orDiscard(deps.Logger),
		newTempID:   deps.NewTempID,
		now:         deps.Now,
	}
	if c.newTempID == nil {
		c.newTempID = func() string { return "tmp-" + uuid.NewString() }
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// SetSelf records the acting user.
func (c *Coordinator) SetSelf(p chat.Participant) {
	c.mu.Lock()
	c.self = p
	c.mu.Unlock()
}

func (c *Coordinator) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

func (c *Coordinator) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Carried returns attachments already uploaded by a failed send. The next Send includes
// them without uploading again.
func (c *Coordinator) Carried() []chat.Attachment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Attachment(nil), c.carried...)
}

// Editing returns the id of the message being edited.
func (c *Coordinator) Editing() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.editing, c.editing != ""
}

// CanModify reports whether the acting user may edit or delete msg.
func (c *Coordinator) CanModify(msg chat.Message) bool {
	c.mu.Lock()
	self := c.self.ID
	c.mu.Unlock()
	return msg.SentBy(self) && !msg.Sending && msg.ID != ""
}

// Send delivers the draft and any staged attachments to the open conversation. In edit
// mode it submits the edit instead.
func (c *Coordinator) Send(ctx context.Context) error {
	c.mu.Lock()
	content := strings.TrimSpace(c.draft)
	editing := c.editing != ""
	self := c.self
	carried := append([]chat.Attachment(nil), c.carried...)
	c.mu.Unlock()
	if editing {
		return c.SubmitEdit(ctx)
	}

	var staged []StagedFile
	if c.attachments != nil {
		staged = c.attachments.Staged()
	}
	if content == "" && len(staged) == 0 && len(carried) == 0 {
		return chat.ErrEmptyMessage
	}
	key := c.timeline.Key()
	if key.IsZero() {
		return ErrNoConversation
	}
	var channel Channel
	if c.channels != nil {
		channel = c.channels.Channel()
	}
	if channel == nil {
		return ErrNotConnected
	}

	listingID := key.Listing
	if listingID == chat.AllListings {
		listingID = ""
	}
	tempID := c.newTempID()
	optimistic := chat.Message{
		TempID:      tempID,
		Content:     content,
		Attachments: append(append([]chat.Attachment(nil), carried...), previewAttachments(staged)...),
		Sender:      self,
		Receiver:    chat.Participant{ID: key.Counterparty},
		ListingID:   listingID,
		CreatedAt:   c.now(),
		Sending:     true,
	}
	c.timeline.Apply(Append(optimistic))
	c.mu.Lock()
	c.draft = ""
	c.carried = nil
	c.mu.Unlock()

	attachments := append([]chat.Attachment(nil), carried...)
	if len(staged) > 0 {
		ids := make([]string, 0, len(staged))
		for _, f := range staged {
			ids = append(ids, f.ID)
		}
		uploaded, err := c.attachments.Upload(ctx, ids...)
		if err != nil {
			c.keepCarried(carried)
			c.alert("Could not upload attachments. Please try again.")
			return fmt.Errorf("upload attachments: %w", err)
		}
		attachments = append(attachments, uploaded...)
		// Previews were released by the upload.
		optimistic.Attachments = attachments
		c.timeline.Apply(Amend(optimistic))
	}

	err := channel.Emit(ctx, SendRequest{
		Content:     content,
		Attachments: attachments,
		ReceiverID:  key.Counterparty,
		ListingID:   key.Listing,
		TempID:      tempID,
	})
	if err != nil {
		c.keepCarried(attachments)
		c.logger.Error("send emit failed", "temp_id", tempID, "attachments", len(attachments), "error", err)
		c.alert("Message could not be sent.")
		return fmt.Errorf("emit send: %w", err)
	}
	c.logger.Debug("message emitted", "temp_id", tempID, "key", key.String(), "attachments", len(attachments))
	return nil
}

func (c *Coordinator) keepCarried(attachments []chat.Attachment) {
	if len(attachments) == 0 {
		return
	}
	c.mu.Lock()
	c.carried = append(attachments, c.carried...)
	c.mu.Unlock()
}

// BeginEdit enters edit mode for one of the user's own text-only messages and seeds the
// draft with its content.
func (c *Coordinator) BeginEdit(id string) (string, error) {
	msg, err := c.editable(id)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.editing = msg.ID
	c.draft = msg.Content
	c.mu.Unlock()
	return msg.Content, nil
}

// CancelEdit leaves edit mode and clears the draft.
func (c *Coordinator) CancelEdit() {
	c.mu.Lock()
	if c.editing != "" {
		c.editing = ""
		c.draft = ""
	}
	c.mu.Unlock()
}

// SubmitEdit sends the draft as the new text of the message being edited. Edit mode is kept
// when the update fails so it can be retried.
func (c *Coordinator) SubmitEdit(ctx context.Context) error {
	c.mu.Lock()
	id := c.editing
	content := strings.TrimSpace(c.draft)
	c.mu.Unlock()
	if id == "" {
		return ErrNotEditing
	}
	if _, err := c.editable(id); err != nil {
		return err
	}
	if content == "" {
		return chat.ErrEmptyMessage
	}

	updated, err := c.mutator.UpdateMessage(ctx, id, content)
	if err != nil {
		c.logger.Error("message update failed", "message_id", id, "error", err)
		c.alert("Failed to edit message.")
		return fmt.Errorf("update message %s: %w", id, err)
	}

	c.mu.Lock()
	if c.editing == id {
		c.editing = ""
		c.draft = ""
	}
	c.mu.Unlock()
	if updated.ID != "" {
		c.timeline.Apply(Update(updated))
	}
	return nil
}

// Edit replaces the text of message id in one step.
func (c *Coordinator) Edit(ctx context.Context, id, content string) error {
	if _, err := c.BeginEdit(id); err != nil {
		return err
	}
	c.SetDraft(content)
	return c.SubmitEdit(ctx)
}

// Delete removes one of the user's own messages after confirmation. The timeline entry
// disappears when the matching realtime deletion arrives.
func (c *Coordinator) Delete(ctx context.Context, id string) error {
	msg, ok := c.timeline.Find(id)
	if !ok {
		return ErrUnknownMessage
	}
	if !c.CanModify(msg) {
		return ErrNotOwner
	}
	if c.confirm == nil || !c.confirm.Confirm(ctx, "Delete this message?") {
		return ErrNotConfirmed
	}
	if err := c.mutator.DeleteMessage(ctx, id); err != nil {
		c.logger.Error("message delete failed", "message_id", id, "error", err)
		c.alert("Failed to delete message.")
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}

func (c *Coordinator) editable(id string) (chat.Message, error) {
	msg, ok := c.timeline.Find(id)
	if !ok {
		return chat.Message{}, ErrUnknownMessage
	}
	if !c.CanModify(msg) {
		return chat.Message{}, ErrNotOwner
	}
	if msg.HasAttachments() {
		return chat.Message{}, chat.ErrEditAttachments
	}
	return msg, nil
}

func (c *Coordinator) alert(message string) {
	if c.alerts != nil {
		c.alerts.Alert(message)
	}
}

func previewAttachments(staged []StagedFile) []chat.Attachment {
	if len(staged) == 0 {
		return nil
	}
	out := make([]chat.Attachment, 0, len(staged))
	for _, s := range staged {
		out = append(out, chat.Attachment{URL: s.PreviewURL, MIMEType: s.MIMEType, Kind: s.Kind, Filename: s.Name})
	}
	return out
}
