package devserver

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rentme-inbox/internal/domain/chat"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	seq := 0
	s.newID = func() string {
		seq++
		return fmt.Sprintf("m%d", seq)
	}
	s.AddUser(User{ID: "me", Name: "Me"})
	s.AddUser(User{ID: "u1", Name: "Ann"})
	s.AddUser(User{ID: "u2"})
	s.AddListing(Listing{ID: "L1", Title: "Loft"})
	return s
}

func TestCreateMessageValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateMessage("me", "nobody", "L1", "hi", nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.CreateMessage("me", "me", "L1", "hi", nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = s.CreateMessage("ghost", "u1", "L1", "hi", nil)
	require.ErrorIs(t, err, ErrForbidden)

	_, err = s.CreateMessage("me", "u1", "L1", "   ", nil)
	require.ErrorIs(t, err, ErrInvalidRequest)

	msg, err := s.CreateMessage("me", "u1", chat.AllListings, " hello ", nil)
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Content)
	require.Empty(t, msg.ListingID)
	require.Equal(t, chat.Participant{ID: "u1", Name: "Ann"}, msg.Receiver)
	require.Equal(t, "u2", s.userLocked("u2").Name)
}

func TestListMessagesPagesNewestFirst(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.CreateMessage("me", "u1", "L1", fmt.Sprintf("msg %d", i), nil)
		require.NoError(t, err)
	}
	_, err := s.CreateMessage("u2", "me", "L1", "other thread", nil)
	require.NoError(t, err)

	page, next, err := s.ListMessages("me", "u1", "L1", 2, "")
	require.NoError(t, err)
	require.Equal(t, []string{"m4", "m5"}, ids(page))
	require.Equal(t, "4|m4", next)

	page, next, err = s.ListMessages("me", "u1", "L1", 2, next)
	require.NoError(t, err)
	require.Equal(t, []string{"m2", "m3"}, ids(page))

	page, next, err = s.ListMessages("me", "u1", "L1", 2, next)
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, ids(page))
	require.Empty(t, next)

	for _, bad := range []string{"missing", "x|m1", "0|m1", "7|"} {
		_, _, err = s.ListMessages("me", "u1", "L1", 2, bad)
		require.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}

func TestListMessagesCursorSurvivesDeletion(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 4; i++ {
		_, err := s.CreateMessage("me", "u1", "L1", fmt.Sprintf("msg %d", i), nil)
		require.NoError(t, err)
	}
	page, next, err := s.ListMessages("me", "u1", "L1", 2, "")
	require.NoError(t, err)
	require.Equal(t, []string{"m3", "m4"}, ids(page))

	_, err = s.DeleteMessage("me", page[0].ID)
	require.NoError(t, err)

	older, next, err := s.ListMessages("me", "u1", "L1", 2, next)
	require.NoError(t, err)
	require.Equal(t, []string{"m1", "m2"}, ids(older))
	require.Empty(t, next)
}

func TestListMessagesAllListingsSpansEveryListing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateMessage("me", "u1", "L1", "on listing", nil)
	require.NoError(t, err)
	_, err = s.CreateMessage("u1", "me", "", "direct", nil)
	require.NoError(t, err)

	page, _, err := s.ListMessages("u1", "me", "all", 0, "")
	require.NoError(t, err)
	require.Len(t, page, 2)

	page, _, err = s.ListMessages("u1", "me", "L1", 0, "")
	require.NoError(t, err)
	require.Equal(t, []string{"m1"}, ids(page))
}

func TestUpdateAndDeleteRequireSender(t *testing.T) {
	s := newTestStore(t)
	msg, err := s.CreateMessage("me", "u1", "L1", "draft", nil)
	require.NoError(t, err)
	withMedia, err := s.CreateMessage("me", "u1", "L1", "", []chat.Attachment{{URL: "/uploads/a.png", MIMEType: "image/png", Kind: chat.KindImage}})
	require.NoError(t, err)

	_, err = s.UpdateMessage("u1", msg.ID, "hijack")
	require.ErrorIs(t, err, ErrForbidden)
	_, err = s.UpdateMessage("me", msg.ID, " ")
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = s.UpdateMessage("me", withMedia.ID, "caption")
	require.ErrorIs(t, err, ErrInvalidRequest)
	_, err = s.UpdateMessage("me", "nope", "x")
	require.ErrorIs(t, err, ErrNotFound)

	updated, err := s.UpdateMessage("me", msg.ID, "final")
	require.NoError(t, err)
	require.Equal(t, "final", updated.Content)
	require.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	_, err = s.DeleteMessage("u1", msg.ID)
	require.ErrorIs(t, err, ErrForbidden)
	deleted, err := s.DeleteMessage("me", msg.ID)
	require.NoError(t, err)
	require.Equal(t, msg.ID, deleted.ID)
	_, err = s.DeleteMessage("me", msg.ID)
	require.ErrorIs(t, err, ErrNotFound)

	page, _, err := s.ListMessages("me", "u1", "L1", 0, "")
	require.NoError(t, err)
	require.Equal(t, []string{withMedia.ID}, ids(page))
}

func TestListThreadsAggregatesAndPages(t *testing.T) {
	s := newTestStore(t)
	mustSend := func(from, to, listing, content string) {
		t.Helper()
		_, err := s.CreateMessage(from, to, listing, content, nil)
		require.NoError(t, err)
	}
	mustSend("u1", "me", "L1", "is it free?")
	mustSend("u1", "me", "L1", "hello?")
	mustSend("u2", "me", "", "hi")
	mustSend("me", "u1", "", "direct to ann")

	rows, next, err := s.ListThreads("me", ScopeAll, 0, "")
	require.NoError(t, err)
	require.Empty(t, next)
	require.Len(t, rows, 3)
	require.Equal(t, "u1_all", rows[0].threadID())
	require.Equal(t, 0, rows[0].Unread)
	require.Equal(t, "u2_all", rows[1].threadID())
	require.Equal(t, 1, rows[1].Unread)
	require.Equal(t, "u1_L1", rows[2].threadID())
	require.Equal(t, "Loft", rows[2].Listing.Title)
	require.Equal(t, "hello?", rows[2].Last.Content)
	require.Equal(t, 2, rows[2].Unread)

	first, next, err := s.ListThreads("me", ScopeAll, 2, "")
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.NotEmpty(t, next)
	rest, next, err := s.ListThreads("me", ScopeAll, 2, next)
	require.NoError(t, err)
	require.Empty(t, next)
	require.Len(t, rest, 1)
	require.Equal(t, "u1_L1", rest[0].threadID())

	listings, _, err := s.ListThreads("me", ScopeListings, 0, "")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	direct, _, err := s.ListThreads("me", ScopeDirect, 0, "")
	require.NoError(t, err)
	require.Len(t, direct, 2)

	_, _, err = s.ListThreads("me", ScopeAll, 0, "garbage")
	require.ErrorIs(t, err, ErrInvalidCursor)
}

func TestMarkReadClearsIncomingOnly(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateMessage("u1", "me", "L1", "one", nil)
	require.NoError(t, err)
	_, err = s.CreateMessage("u1", "me", "L1", "two", nil)
	require.NoError(t, err)
	_, err = s.CreateMessage("me", "u1", "L1", "reply", nil)
	require.NoError(t, err)

	changed, err := s.MarkRead("me", "u1", "L1")
	require.NoError(t, err)
	require.Equal(t, 2, changed)
	changed, err = s.MarkRead("me", "u1", "L1")
	require.NoError(t, err)
	require.Zero(t, changed)

	rows, _, err := s.ListThreads("u1", ScopeAll, 0, "")
	require.NoError(t, err)
	require.Equal(t, 1, rows[0].Unread)

	_, err = s.MarkRead("me", "", "L1")
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func ids(msgs []chat.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}
