package devserver

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rentme-inbox/internal/domain/chat"
)

var (
	ErrNotFound       = errors.New("devserver: not found")
	ErrForbidden      = errors.New("devserver: forbidden")
	ErrInvalidRequest = errors.New("devserver: invalid request")
	ErrInvalidCursor  = errors.New("devserver: invalid cursor")
)

const (
	defaultThreadLimit  = 20
	defaultMessageLimit = 50
	maxPageLimit        = 100
)

// Thread scopes accepted by ListThreads.
const (
	ScopeAll      = "all"
	ScopeListings = "listings"
	ScopeDirect   = "direct"
)

// User is a dev backend account.
type User struct {
	ID     string
	Name   string
	Avatar string
}

// Listing is the minimal listing metadata shown in thread titles.
type Listing struct {
	ID    string
	Title string
}

type storedMessage struct {
	msg  chat.Message
	seq  int64
	read bool
}

// ThreadRow is one aggregated conversation for a user.
type ThreadRow struct {
	Other   User
	Listing *Listing
	Last    chat.Message
	Unread  int
}

func (r ThreadRow) threadID() string {
	listing := chat.AllListings
	if r.Listing != nil {
		listing = r.Listing.ID
	}
	return r.Other.ID + "_" + listing
}

// Store keeps users, listings and messages in memory.
type Store struct {
	now   func() time.Time
	newID func() string

	mu       sync.RWMutex
	users    map[string]User
	listings map[string]Listing
	messages []*storedMessage
	byID     map[string]*storedMessage
	seq      int64
}

func NewStore() *Store {
	return &Store{
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		users:    map[string]User{},
		listings: map[string]Listing{},
		byID:     map[string]*storedMessage{},
	}
}

func (s *Store) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Name == "" {
		u.Name = u.ID
	}
	s.users[u.ID] = u
}

func (s *Store) User(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *Store) AddListing(l Listing) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
}

// CreateMessage persists a message from senderID. A listing of "all" or "" stores a
// message that belongs to no listing.
func (s *Store) CreateMessage(senderID, receiverID, listingID, content string, media []chat.Attachment) (chat.Message, error) {
	content = strings.TrimSpace(content)
	listingID = strings.TrimSpace(listingID)
	if listingID == chat.AllListings {
		listingID = ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sender, ok := s.users[senderID]
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: unknown sender", ErrForbidden)
	}
	receiver, ok := s.users[strings.TrimSpace(receiverID)]
	if !ok {
		return chat.Message{}, fmt.Errorf("%w: unknown receiver %q", ErrInvalidRequest, receiverID)
	}
	if receiver.ID == sender.ID {
		return chat.Message{}, fmt.Errorf("%w: cannot message yourself", ErrInvalidRequest)
	}
	now := s.now()
	msg := chat.Message{
		ID:          s.newID(),
		Content:     content,
		Attachments: append([]chat.Attachment(nil), media...),
		Sender:      participant(sender),
		Receiver:    participant(receiver),
		ListingID:   listingID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := msg.Validate(); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	s.seq++
	stored := &storedMessage{msg: msg, seq: s.seq}
	s.messages = append(s.messages, stored)
	s.byID[msg.ID] = stored
	return msg.Clone(), nil
}

// UpdateMessage edits the text of a message authored by userID.
func (s *Store) UpdateMessage(userID, id, content string) (chat.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.Message{}, fmt.Errorf("%w: content is required", ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[id]
	if !ok {
		return chat.Message{}, ErrNotFound
	}
	if stored.msg.Sender.ID != userID {
		return chat.Message{}, fmt.Errorf("%w: only the sender can edit", ErrForbidden)
	}
	if stored.msg.HasAttachments() {
		return chat.Message{}, fmt.Errorf("%w: %v", ErrInvalidRequest, chat.ErrEditAttachments)
	}
	stored.msg.Content = content
	stored.msg.UpdatedAt = s.now()
	return stored.msg.Clone(), nil
}

// DeleteMessage removes a message authored by userID and returns it.
func (s *Store) DeleteMessage(userID, id string) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.byID[id]
	if !ok {
		return chat.Message{}, ErrNotFound
	}
	if stored.msg.Sender.ID != userID {
		return chat.Message{}, fmt.Errorf("%w: only the sender can delete", ErrForbidden)
	}
	delete(s.byID, id)
	for i, m := range s.messages {
		if m == stored {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			break
		}
	}
	return stored.msg.Clone(), nil
}

// ListMessages pages through the conversation between userID and otherID, newest first.
// before is "<seq>|<id>" of the oldest message of the previous page and stays valid after
// that message is deleted. The page is returned oldest first with the cursor for the next
// older page, empty when none remain.
func (s *Store) ListMessages(userID, otherID, listing string, limit int, before string) ([]chat.Message, string, error) {
	key := chat.NewKey(otherID, listing)
	if key.IsZero() {
		return nil, "", fmt.Errorf("%w: conversation key", ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	var cursor messageCursor
	if before != "" {
		parsed, err := parseMessageCursor(before)
		if err != nil {
			return nil, "", err
		}
		cursor = parsed
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	end := len(s.messages)
	if before != "" {
		end = sort.Search(len(s.messages), func(i int) bool { return s.messages[i].seq >= cursor.seq })
	}
	var page []chat.Message
	var oldest *storedMessage
	next := ""
	for i := end - 1; i >= 0; i-- {
		stored := s.messages[i]
		if !inConversation(stored.msg, userID, key) {
			continue
		}
		if len(page) == limit {
			next = messageCursor{seq: oldest.seq, id: oldest.msg.ID}.String()
			break
		}
		page = append(page, stored.msg.Clone())
		oldest = stored
	}
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, next, nil
}

// MarkRead marks every message to userID in the conversation as read and returns how many
// changed.
func (s *Store) MarkRead(userID, otherID, listing string) (int, error) {
	key := chat.NewKey(otherID, listing)
	if key.IsZero() {
		return 0, fmt.Errorf("%w: conversation key", ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, m := range s.messages {
		if m.read || m.msg.Receiver.ID != userID || !inConversation(m.msg, userID, key) {
			continue
		}
		m.read = true
		changed++
	}
	return changed, nil
}

// ListThreads aggregates the conversations of userID by participant and listing, most
// recent activity first. The cursor is "<unixnano>|<threadID>" of the last returned row.
func (s *Store) ListThreads(userID, scope string, limit int, cursor string) ([]ThreadRow, string, error) {
	if limit <= 0 {
		limit = defaultThreadLimit
	}
	var after *threadCursor
	if cursor != "" {
		parsed, err := parseThreadCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		after = &parsed
	}

	s.mu.RLock()
	rows := map[string]*ThreadRow{}
	for _, m := range s.messages {
		if m.msg.Sender.ID != userID && m.msg.Receiver.ID != userID {
			continue
		}
		other := m.msg.Counterparty(userID)
		row := ThreadRow{Other: s.userLocked(other.ID)}
		if m.msg.ListingID != "" {
			l := s.listingLocked(m.msg.ListingID)
			row.Listing = &l
		}
		if !scopeMatches(scope, row) {
			continue
		}
		id := row.threadID()
		existing, ok := rows[id]
		if !ok {
			existing = &row
			rows[id] = existing
		}
		existing.Last = m.msg.Clone()
		if !m.read && m.msg.Receiver.ID == userID {
			existing.Unread++
		}
	}
	s.mu.RUnlock()

	ordered := make([]ThreadRow, 0, len(rows))
	for _, r := range rows {
		ordered = append(ordered, *r)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return cursorOf(ordered[i]).before(cursorOf(ordered[j]))
	})

	start := 0
	if after != nil {
		start = sort.Search(len(ordered), func(i int) bool {
			return after.before(cursorOf(ordered[i]))
		})
	}
	end := start + limit
	next := ""
	if end < len(ordered) {
		next = cursorOf(ordered[end-1]).String()
	} else {
		end = len(ordered)
	}
	return ordered[start:end], next, nil
}

func (s *Store) userLocked(id string) User {
	if u, ok := s.users[id]; ok {
		return u
	}
	return User{ID: id, Name: id}
}

func (s *Store) listingLocked(id string) Listing {
	if l, ok := s.listings[id]; ok {
		return l
	}
	return Listing{ID: id}
}

func inConversation(m chat.Message, userID string, key chat.Key) bool {
	if m.Sender.ID != userID && m.Receiver.ID != userID {
		return false
	}
	return m.BelongsTo(key, userID)
}

func scopeMatches(scope string, row ThreadRow) bool {
	switch scope {
	case ScopeListings:
		return row.Listing != nil
	case ScopeDirect:
		return row.Listing == nil
	default:
		return true
	}
}

func participant(u User) chat.Participant {
	return chat.Participant{ID: u.ID, Name: u.Name, Avatar: u.Avatar}
}

type threadCursor struct {
	at int64
	id string
}

func cursorOf(r ThreadRow) threadCursor {
	return threadCursor{at: r.Last.CreatedAt.UnixNano(), id: r.threadID()}
}

// before orders newer activity first, ties broken by thread id.
func (c threadCursor) before(o threadCursor) bool {
	if c.at != o.at {
		return c.at > o.at
	}
	return c.id < o.id
}

func (c threadCursor) String() string {
	return strconv.FormatInt(c.at, 10) + "|" + c.id
}

func parseThreadCursor(raw string) (threadCursor, error) {
	at, id, ok := strings.Cut(raw, "|")
	if !ok || id == "" {
		return threadCursor{}, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(at, 10, 64)
	if err != nil {
		return threadCursor{}, ErrInvalidCursor
	}
	return threadCursor{at: n, id: id}, nil
}

type messageCursor struct {
	seq int64
	id  string
}

func (c messageCursor) String() string {
	return strconv.FormatInt(c.seq, 10) + "|" + c.id
}

func parseMessageCursor(raw string) (messageCursor, error) {
	seq, id, ok := strings.Cut(raw, "|")
	if !ok || id == "" {
		return messageCursor{}, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(seq, 10, 64)
	if err != nil || n <= 0 {
		return messageCursor{}, ErrInvalidCursor
	}
	return messageCursor{seq: n, id: id}, nil
}
