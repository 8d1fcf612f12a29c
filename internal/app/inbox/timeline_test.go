package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rentme-inbox/internal/domain/chat"
)

func messageIDs(list []chat.Message) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		if m.ID != "" {
			out = append(out, m.ID)
		} else {
			out = append(out, m.TempID)
		}
	}
	return out
}

func TestTimelineOpenLoadsNewestPage(t *testing.T) {
	key := chat.NewKey("u1", "L1")
	source := newFakeMessages()
	source.set(key, "", MessagePage{
		Messages:   []chat.Message{textMessage("m3", "u1", "me", "c"), textMessage("m4", "me", "u1", "d")},
		NextCursor: "m3",
	})
	threads := &fakeThreads{}
	tl := NewTimeline(source, threads, TimelineOptions{})

	require.NoError(t, tl.Open(context.Background(), key))
	require.Equal(t, []string{"m3", "m4"}, messageIDs(tl.Messages()))
	require.True(t, tl.HasOlder())
	require.False(t, tl.Loading())
	require.Equal(t, []chat.Key{key}, threads.marked())
}

func TestTimelineLoadOlderIsPrependStable(t *testing.T) {
	key := chat.NewKey("u1", "L1")
	source := newFakeMessages()
	source.set(key, "", MessagePage{
		Messages:   []chat.Message{textMessage("m3", "u1", "me", "c"), textMessage("m4", "me", "u1", "d")},
		NextCursor: "m3",
	})
	source.set(key, "m3", MessagePage{
		Messages: []chat.Message{textMessage("m1", "u1", "me", "a"), textMessage("m2", "me", "u1", "b")},
	})
	tl := NewTimeline(source, nil, TimelineOptions{PageSize: 2})
	require.NoError(t, tl.Open(context.Background(), key))
	before := tl.Messages()

	added, err := tl.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, added)

	after := tl.Messages()
	require.Equal(t, []string{"m1", "m2", "m3", "m4"}, messageIDs(after))
	require.Equal(t, before, after[added:])
	require.False(t, tl.HasOlder())

	added, err = tl.LoadOlder(context.Background())
	require.NoError(t, err)
	require.Zero(t, added)
}

func TestTimelineDiscardsStaleOpen(t *testing.T) {
	first := chat.NewKey("u1", "L1")
	second := chat.NewKey("u2", "L2")
	source := newFakeMessages()
	source.set(first, "", MessagePage{Messages: []chat.Message{textMessage("a1", "u1", "me", "from first")}})
	source.set(second, "", MessagePage{Messages: []chat.Message{textMessage("b1", "u2", "me", "from second")}})
	release := source.block(first)
	tl := NewTimeline(source, nil, TimelineOptions{})

	errs := make(chan error, 1)
	go func() { errs <- tl.Open(context.Background(), first) }()
	require.Eventually(t, func() bool { return source.callCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, tl.Open(context.Background(), second))
	release()
	require.ErrorIs(t, <-errs, ErrStaleResult)

	require.Equal(t, second, tl.Key())
	require.Equal(t, []string{"b1"}, messageIDs(tl.Messages()))
}

func TestTimelineSwitchClearsMessages(t *testing.T) {
	first := chat.NewKey("u1", "L1")
	second := chat.NewKey("u2", "L2")
	source := newFakeMessages()
	source.set(first, "", MessagePage{Messages: []chat.Message{textMessage("a1", "u1", "me", "x")}})
	tl := NewTimeline(source, nil, TimelineOptions{})

	require.NoError(t, tl.Open(context.Background(), first))
	require.NoError(t, tl.Open(context.Background(), second))
	require.Empty(t, tl.Messages())

	require.NoError(t, tl.Open(context.Background(), first))
	require.Equal(t, []string{"a1"}, messageIDs(tl.Messages()))
}

func TestTimelineZeroKeySkipsFetch(t *testing.T) {
	source := newFakeMessages()
	tl := NewTimeline(source, nil, TimelineOptions{})

	require.NoError(t, tl.Open(context.Background(), chat.Key{}))
	require.Zero(t, source.callCount())
	require.Empty(t, tl.Messages())
	require.False(t, tl.HasOlder())
}

func TestTimelineFailedOpenLeavesEmpty(t *testing.T) {
	key := chat.NewKey("u1", "L1")
	source := newFakeMessages()
	source.err = errBoom
	tl := NewTimeline(source, nil, TimelineOptions{})

	require.ErrorIs(t, tl.Open(context.Background(), key), errBoom)
	require.Empty(t, tl.Messages())
	require.False(t, tl.Loading())
}

func TestTimelineLoadOlderWhileLoading(t *testing.T) {
	key := chat.NewKey("u1", "L1")
	source := newFakeMessages()
	source.set(key, "", MessagePage{Messages: []chat.Message{textMessage("m2", "u1", "me", "b")}, NextCursor: "m2"})
	tl := NewTimeline(source, nil, TimelineOptions{})
	require.NoError(t, tl.Open(context.Background(), key))

	release := source.block(key)
	errs := make(chan error, 1)
	go func() {
		_, err := tl.LoadOlder(context.Background())
		errs <- err
	}()
	require.Eventually(t, tl.Loading, time.Second, 5*time.Millisecond)

	_, err := tl.LoadOlder(context.Background())
	require.ErrorIs(t, err, ErrLoadInFlight)
	release()
	require.NoError(t, <-errs)
	require.False(t, tl.Loading())
}

func TestTimelineKeepsLiveEntriesDuringFirstLoad(t *testing.T) {
	key := chat.NewKey("u1", "L1")
	source := newFakeMessages()
	source.set(key, "", MessagePage{Messages: []chat.Message{textMessage("m1", "u1", "me", "a")}})
	gate := source.block(key)
	tl := NewTimeline(source, nil, TimelineOptions{})

	errs := make(chan error, 1)
	go func() { errs <- tl.Open(context.Background(), key) }()
	require.Eventually(t, func() bool { return source.callCount() == 1 }, time.Second, 5*time.Millisecond)

	tl.Apply(Append(textMessage("m1", "u1", "me", "a")))
	tl.Apply(Append(textMessage("m2", "u1", "me", "b")))
	gate()
	require.NoError(t, <-errs)

	require.Equal(t, []string{"m1", "m2"}, messageIDs(tl.Messages()))
}

func TestTimelineAckAfterPageAlreadyHoldsMessage(t *testing.T) {
	key := chat.NewKey("u1", "L1")
	source := newFakeMessages()
	source.set(key, "", MessagePage{Messages: []chat.Message{textMessage("m9", "me", "u1", "hi")}})
	gate := source.block(key)
	tl := NewTimeline(source, nil, TimelineOptions{})

	errs := make(chan error, 1)
	go func() { errs <- tl.Open(context.Background(), key) }()
	require.Eventually(t, func() bool { return source.callCount() == 1 }, time.Second, 5*time.Millisecond)

	tl.Apply(Append(chat.Message{TempID: "tmp-1", Content: "hi", Sending: true, Sender: chat.Participant{ID: "me"}}))
	gate()
	require.NoError(t, <-errs)
	require.Len(t, tl.Messages(), 2)

	require.True(t, tl.Apply(Ack("tmp-1", textMessage("m9", "me", "u1", "hi"))))
	msgs := tl.Messages()
	require.Equal(t, []string{"m9"}, messageIDs(msgs))
	require.Equal(t, "tmp-1", msgs[0].TempID)
	require.False(t, msgs[0].Sending)
}

func TestReconcile(t *testing.T) {
	pending := chat.Message{TempID: "t1", Content: "hi", Sending: true, Sender: chat.Participant{ID: "me"}}
	list, changed := reconcile(nil, Append(pending))
	require.True(t, changed)
	require.Len(t, list, 1)

	confirmed := textMessage("m1", "me", "u1", "hi")
	amended := pending
	amended.Attachments = []chat.Attachment{{URL: "/uploads/a.png", Kind: chat.KindImage}}
	list, changed = reconcile(list, Amend(amended))
	require.True(t, changed)
	require.True(t, list[0].Sending)
	require.Equal(t, "/uploads/a.png", list[0].Attachments[0].URL)

	list, changed = reconcile(list, Ack("t1", confirmed))
	require.True(t, changed)
	require.Equal(t, "m1", list[0].ID)
	require.Equal(t, "t1", list[0].TempID)
	require.False(t, list[0].Sending)

	list, changed = reconcile(list, Ack("t1", confirmed))
	require.False(t, changed)
	require.Len(t, list, 1)

	edited := textMessage("m1", "me", "u1", "edited")
	list, changed = reconcile(list, Update(edited))
	require.True(t, changed)
	require.Equal(t, "edited", list[0].Content)
	require.Equal(t, "t1", list[0].TempID)

	_, changed = reconcile(list, Update(textMessage("nope", "me", "u1", "x")))
	require.False(t, changed)

	list, changed = reconcile(list, Delete("m1"))
	require.True(t, changed)
	require.Empty(t, list)

	_, changed = reconcile(list, Delete("m1"))
	require.False(t, changed)
}
