package inbox

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"rentme-inbox/internal/domain/chat"
)

const defaultMessagePageSize = 50

// ReadMarker clears the unread state of a conversation.
type ReadMarker interface {
	MarkRead(ctx context.Context, key chat.Key) error
}

// TimelineOptions tunes a Timeline.
type TimelineOptions struct {
	PageSize int
	Logger   *slog.Logger
}

// Timeline holds the ordered messages of the open conversation. Every page load is tagged
// with the generation it was issued for and discarded if the conversation changed meanwhile.
type Timeline struct {
	source   MessageSource
	reads    ReadMarker
	pageSize int
	logger   *slog.Logger

	mu       sync.Mutex
	key      chat.Key
	gen      uint64
	messages []chat.Message
	cursor   string
	loading  bool
}

// NewTimeline builds an empty timeline. reads may be nil.
func NewTimeline(source MessageSource, reads ReadMarker, opts TimelineOptions) *Timeline {
	size := opts.PageSize
	if size <= 0 {
		size = defaultMessagePageSize
	}
	return &Timeline{
		source:   source,
		reads:    reads,
		pageSize: size,
		logger:   orDiscard(opts.Logger),
	}
}

// Open switches to key and loads its newest page. A zero key leaves the timeline empty
// without touching the network.
func (t *Timeline) Open(ctx context.Context, key chat.Key) error {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.key = key
	t.messages = nil
	t.cursor = ""
	t.loading = !key.IsZero()
	t.mu.Unlock()

	if key.IsZero() {
		return nil
	}

	page, err := t.source.ListMessages(ctx, key, PageRequest{Limit: t.pageSize})

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		t.logger.Debug("discarding stale message page", "key", key.String())
		return ErrStaleResult
	}
	t.loading = false
	if err != nil {
		t.messages = nil
		t.mu.Unlock()
		t.logger.Warn("message page fetch failed", "key", key.String(), "error", err)
		return fmt.Errorf("load messages %s: %w", key, err)
	}
	t.messages = mergeFresh(page.Messages, t.messages)
	t.cursor = page.NextCursor
	t.mu.Unlock()

	if t.reads != nil {
		_ = t.reads.MarkRead(ctx, key)
	}
	return nil
}

// LoadOlder prepends the next older page and returns how many entries were added. The
// previously first message ends up at index n, so views can keep it anchored.
func (t *Timeline) LoadOlder(ctx context.Context) (int, error) {
	t.mu.Lock()
	if t.key.IsZero() || t.cursor == "" {
		t.mu.Unlock()
		return 0, nil
	}
	if t.loading {
		t.mu.Unlock()
		return 0, ErrLoadInFlight
	}
	t.loading = true
	gen, key, cursor := t.gen, t.key, t.cursor
	t.mu.Unlock()

	page, err := t.source.ListMessages(ctx, key, PageRequest{Limit: t.pageSize, Cursor: cursor})

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		t.logger.Debug("discarding stale older page", "key", key.String())
		return 0, ErrStaleResult
	}
	t.loading = false
	if err != nil {
		t.logger.Warn("older message page fetch failed", "key", key.String(), "error", err)
		return 0, fmt.Errorf("load older messages %s: %w", key, err)
	}
	older := cloneMessages(page.Messages)
	t.messages = append(older, t.messages...)
	t.cursor = page.NextCursor
	return len(older), nil
}

// Apply reconciles a mutation into the timeline and reports whether anything changed.
func (t *Timeline) Apply(m Mutation) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	var changed bool
	t.messages, changed = reconcile(t.messages, m)
	if !changed {
		t.logger.Debug("mutation ignored", "mutation", m)
	}
	return changed
}

// Messages returns a copy of the visible messages, oldest first.
func (t *Timeline) Messages() []chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneMessages(t.messages)
}

// Find returns the confirmed message with id.
func (t *Timeline) Find(id string) (chat.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := indexOf(t.messages, chat.Confirmed(id))
	if idx < 0 {
		return chat.Message{}, false
	}
	return t.messages[idx].Clone(), true
}

// Key returns the open conversation key.
func (t *Timeline) Key() chat.Key {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key
}

// HasOlder reports whether LoadOlder can fetch more.
func (t *Timeline) HasOlder() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.key.IsZero() && t.cursor != ""
}

// Loading reports whether a page load is in flight.
func (t *Timeline) Loading() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loading
}

// mergeFresh keeps entries that arrived through realtime or optimistic sends while the
// first page was loading, unless the page already carries them.
func mergeFresh(page, live []chat.Message) []chat.Message {
	out := cloneMessages(page)
	for _, msg := range live {
		if indexOf(out, msg.Ref()) >= 0 {
			continue
		}
		out = append(out, msg.Clone())
	}
	return out
}

func cloneMessages(in []chat.Message) []chat.Message {
	if len(in) == 0 {
		return nil
	}
	out := make([]chat.Message, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}
