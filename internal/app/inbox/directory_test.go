package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rentme-inbox/internal/domain/chat"
)

func thread(counterparty, listing string, unread bool) chat.Thread {
	return chat.NewThread(chat.ThreadSummary{
		OtherUser:   chat.Participant{ID: counterparty, Name: counterparty},
		ListingID:   listing,
		UnreadCount: map[bool]int{true: 1}[unread],
	})
}

func TestDirectoryLoadPages(t *testing.T) {
	source := &fakeThreads{pages: map[string]ThreadPage{
		"":   {Threads: []chat.Thread{thread("u1", "L1", true), thread("u2", "L2", false)}, NextCursor: "c1"},
		"c1": {Threads: []chat.Thread{thread("u3", "L3", false)}},
	}}
	dir := NewDirectory(source, DirectoryOptions{PageSize: 2})

	next, err := dir.LoadPage(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "c1", next)
	require.True(t, dir.HasMore())
	require.Len(t, dir.Threads(), 2)

	next, err = dir.LoadMore(context.Background())
	require.NoError(t, err)
	require.Empty(t, next)
	require.False(t, dir.HasMore())
	require.Len(t, dir.Threads(), 3)
	require.Equal(t, "u3_L3", dir.Threads()[2].ID)

	require.Equal(t, PageRequest{Limit: 2, Scope: "all"}, source.requests[0])
	require.Equal(t, "c1", source.requests[1].Cursor)

	next, err = dir.LoadPage(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "c1", next)
	require.Len(t, dir.Threads(), 2)
}

func TestDirectoryFailures(t *testing.T) {
	source := &fakeThreads{pages: map[string]ThreadPage{
		"": {Threads: []chat.Thread{thread("u1", "L1", false)}, NextCursor: "c1"},
	}}
	dir := NewDirectory(source, DirectoryOptions{})
	_, err := dir.LoadPage(context.Background(), "")
	require.NoError(t, err)

	source.err = errBoom
	_, err = dir.LoadMore(context.Background())
	require.ErrorIs(t, err, errBoom)
	require.Len(t, dir.Threads(), 1)

	_, err = dir.LoadPage(context.Background(), "")
	require.ErrorIs(t, err, errBoom)
	require.Empty(t, dir.Threads())
	require.False(t, dir.HasMore())
}

func TestDirectorySelectMarksRead(t *testing.T) {
	source := &fakeThreads{pages: map[string]ThreadPage{
		"": {Threads: []chat.Thread{thread("u1", "L1", true)}},
	}}
	dir := NewDirectory(source, DirectoryOptions{})
	_, err := dir.LoadPage(context.Background(), "")
	require.NoError(t, err)

	key := chat.NewKey("u1", "L1")
	require.NoError(t, dir.Select(context.Background(), key))
	require.Equal(t, key, dir.Active())
	got, ok := dir.Thread(key)
	require.True(t, ok)
	require.False(t, got.Unread)

	require.NoError(t, dir.MarkRead(context.Background(), key))
	require.Equal(t, []chat.Key{key, key}, source.marked())
	got, _ = dir.Thread(key)
	require.False(t, got.Unread)

	require.ErrorIs(t, dir.Select(context.Background(), chat.Key{}), ErrNoConversation)
}

func TestDirectoryMarkReadFailureIsNotFatal(t *testing.T) {
	source := &fakeThreads{
		pages:   map[string]ThreadPage{"": {Threads: []chat.Thread{thread("u1", "L1", true)}}},
		markErr: errBoom,
	}
	dir := NewDirectory(source, DirectoryOptions{})
	_, err := dir.LoadPage(context.Background(), "")
	require.NoError(t, err)

	key := chat.NewKey("u1", "L1")
	require.NoError(t, dir.Select(context.Background(), key))
	require.ErrorIs(t, dir.MarkRead(context.Background(), key), errBoom)
	got, _ := dir.Thread(key)
	require.False(t, got.Unread)
}

func TestDirectoryAutoSelectOnce(t *testing.T) {
	source := &fakeThreads{pages: map[string]ThreadPage{
		"": {Threads: []chat.Thread{thread("u1", "L1", false), thread("u2", "L2", false)}},
	}}
	dir := NewDirectory(source, DirectoryOptions{})

	_, ok := dir.AutoSelect()
	require.False(t, ok)

	_, err := dir.LoadPage(context.Background(), "")
	require.NoError(t, err)
	key, ok := dir.AutoSelect()
	require.True(t, ok)
	require.Equal(t, chat.NewKey("u1", "L1"), key)

	dir.Deselect()
	_, ok = dir.AutoSelect()
	require.False(t, ok)
}

func TestDirectoryDeepLinkSkipsAutoSelect(t *testing.T) {
	source := &fakeThreads{pages: map[string]ThreadPage{
		"": {Threads: []chat.Thread{thread("u1", "L1", false)}},
	}}
	dir := NewDirectory(source, DirectoryOptions{DeepLinked: true})
	_, err := dir.LoadPage(context.Background(), "")
	require.NoError(t, err)

	_, ok := dir.AutoSelect()
	require.False(t, ok)
}

func TestDirectoryNoteIncoming(t *testing.T) {
	source := &fakeThreads{pages: map[string]ThreadPage{
		"": {Threads: []chat.Thread{thread("u1", "L1", false), thread("u2", "L2", false), thread("u3", "L3", false)}},
	}}
	dir := NewDirectory(source, DirectoryOptions{})
	_, err := dir.LoadPage(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, dir.Select(context.Background(), chat.NewKey("u2", "L2")))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	incoming := textMessage("m9", "u3", "me", "still available?")
	incoming.ListingID = "L3"
	incoming.CreatedAt = at
	dir.NoteIncoming(incoming, "me")

	threads := dir.Threads()
	require.Equal(t, []string{"u3_L3", "u1_L1", "u2_L2"}, []string{threads[0].ID, threads[1].ID, threads[2].ID})
	require.Equal(t, "still available?", threads[0].LastMessage)
	require.Equal(t, at, threads[0].LastMessageAt)
	require.True(t, threads[0].Unread)

	active := textMessage("m10", "u2", "me", "hello")
	active.ListingID = "L2"
	dir.NoteIncoming(active, "me")
	got, _ := dir.Thread(chat.NewKey("u2", "L2"))
	require.False(t, got.Unread)
	require.Equal(t, "u2_L2", dir.Threads()[0].ID)

	own := chat.Message{ID: "m11", Sender: chat.Participant{ID: "me"}, Receiver: chat.Participant{ID: "u1"}, ListingID: "L1",
		Attachments: []chat.Attachment{{URL: "/uploads/a.png", Kind: chat.KindImage}}}
	dir.NoteIncoming(own, "me")
	got, _ = dir.Thread(chat.NewKey("u1", "L1"))
	require.False(t, got.Unread)
	require.Equal(t, chat.AttachmentPreview, got.LastMessage)

	stranger := textMessage("m12", "u9", "me", "hi")
	dir.NoteIncoming(stranger, "me")
	require.Len(t, dir.Threads(), 3)
}
