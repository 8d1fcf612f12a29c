package chat

import (
	"strings"
	"time"
)

// AllListings is the listing sentinel for a conversation spanning every listing shared
// with a participant.
const AllListings = "all"

// AttachmentPreview is shown in place of text for media-only messages.
const AttachmentPreview = "Attachment"

// Key identifies a conversation: the other participant plus a listing id or AllListings.
type Key struct {
	Counterparty string
	Listing      string
}

// NewKey trims both parts and maps an empty listing to AllListings when a counterparty is set.
func NewKey(counterparty, listing string) Key {
	k := Key{Counterparty: strings.TrimSpace(counterparty), Listing: strings.TrimSpace(listing)}
	if k.Counterparty != "" && k.Listing == "" {
		k.Listing = AllListings
	}
	return k
}

// IsZero reports whether the key is incomplete and therefore addresses no conversation.
func (k Key) IsZero() bool {
	return k.Counterparty == "" || k.Listing == ""
}

// ThreadID is the stable thread identifier, e.g. "u1_L1".
func (k Key) ThreadID() string {
	return k.Counterparty + "_" + k.Listing
}

func (k Key) String() string { return k.ThreadID() }

// Thread is a conversation summary shown in the directory.
type Thread struct {
	ID            string
	OtherUser     Participant
	ListingID     string
	Title         string
	LastMessage   string
	LastMessageAt time.Time
	Unread        bool
}

// Key returns the conversation key addressed by the thread.
func (t Thread) Key() Key {
	return NewKey(t.OtherUser.ID, t.ListingID)
}

// ThreadSummary is the server-side aggregation a thread is materialised from.
type ThreadSummary struct {
	OtherUser    Participant
	ListingID    string
	ListingTitle string
	LastMessage  *Message
	UnreadCount  int
}

// NewThread materialises a directory entry from a summary.
func NewThread(s ThreadSummary) Thread {
	key := NewKey(s.OtherUser.ID, s.ListingID)
	t := Thread{
		ID:        key.ThreadID(),
		OtherUser: s.OtherUser,
		ListingID: key.Listing,
		Unread:    s.UnreadCount > 0,
	}
	t.Title = threadTitle(s)
	if s.LastMessage != nil {
		t.LastMessage = s.LastMessage.Preview()
		t.LastMessageAt = s.LastMessage.CreatedAt
	}
	return t
}

func threadTitle(s ThreadSummary) string {
	name := strings.TrimSpace(s.OtherUser.Name)
	if name == "" {
		name = s.OtherUser.ID
	}
	title := strings.TrimSpace(s.ListingTitle)
	if title == "" {
		return name
	}
	return name + " · " + title
}
