package inbox

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"rentme-inbox/internal/domain/chat"
)

const (
	defaultThreadPageSize = 20
	defaultThreadScope    = "all"
)

// DirectoryOptions tunes a Directory.
type DirectoryOptions struct {
	PageSize int
	Scope    string
	// DeepLinked disables auto-selection because a conversation was requested explicitly.
	DeepLinked bool
	Logger     *slog.Logger
}

// Directory keeps the cursor-paginated list of conversations and the active selection.
type Directory struct {
	source   ThreadSource
	pageSize int
	scope    string
	logger   *slog.Logger

	mu           sync.Mutex
	threads      []chat.Thread
	cursor       string
	loading      bool
	active       chat.Key
	deepLinked   bool
	autoSelected bool
}

func NewDirectory(source ThreadSource, opts DirectoryOptions) *Directory {
	size := opts.PageSize
	if size <= 0 {
		size = defaultThreadPageSize
	}
	scope := opts.Scope
	if scope == "" {
		scope = defaultThreadScope
	}
	return &Directory{
		source:     source,
		pageSize:   size,
		scope:      scope,
		logger:     orDiscard(opts.Logger),
		deepLinked: opts.DeepLinked,
	}
}

// LoadPage fetches a page of threads. An empty cursor replaces the list, any other cursor
// appends to it. It returns the next cursor, empty when no more pages exist.
func (d *Directory) LoadPage(ctx context.Context, cursor string) (string, error) {
	d.mu.Lock()
	if d.loading {
		d.mu.Unlock()
		return "", ErrLoadInFlight
	}
	d.loading = true
	d.mu.Unlock()

	page, err := d.source.ListThreads(ctx, PageRequest{Limit: d.pageSize, Cursor: cursor, Scope: d.scope})

	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = false
	fresh := cursor == ""
	if err != nil {
		if fresh {
			d.threads = nil
			d.cursor = ""
		}
		d.logger.Warn("thread page fetch failed", "cursor", cursor, "error", err)
		return "", fmt.Errorf("load threads: %w", err)
	}
	if fresh {
		d.threads = append([]chat.Thread(nil), page.Threads...)
	} else {
		d.threads = append(d.threads, page.Threads...)
	}
	d.cursor = page.NextCursor
	return page.NextCursor, nil
}

// LoadMore appends the next page using the stored cursor. It is a no-op when the
// directory is exhausted.
func (d *Directory) LoadMore(ctx context.Context) (string, error) {
	d.mu.Lock()
	cursor := d.cursor
	d.mu.Unlock()
	if cursor == "" {
		return "", nil
	}
	return d.LoadPage(ctx, cursor)
}

// AutoSelect picks the first thread as the active conversation, at most once per
// directory and only when nothing was deep linked or selected.
func (d *Directory) AutoSelect() (chat.Key, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.autoSelected || d.deepLinked || !d.active.IsZero() || len(d.threads) == 0 {
		return chat.Key{}, false
	}
	d.autoSelected = true
	return d.threads[0].Key(), true
}

// Select activates key, clears its unread flag locally and asks the server to mark it
// read. A mark-read failure is logged only.
func (d *Directory) Select(ctx context.Context, key chat.Key) error {
	if key.IsZero() {
		return ErrNoConversation
	}
	d.mu.Lock()
	d.active = key
	d.mu.Unlock()
	_ = d.MarkRead(ctx, key)
	return nil
}

// Deselect clears the active conversation. Auto-selection is not re-applied.
func (d *Directory) Deselect() {
	d.mu.Lock()
	d.active = chat.Key{}
	d.mu.Unlock()
}

// MarkRead flips the thread's unread flag without waiting for a refetch and clears it on
// the server. Marking an already read thread is harmless.
func (d *Directory) MarkRead(ctx context.Context, key chat.Key) error {
	if key.IsZero() {
		return ErrNoConversation
	}
	d.mu.Lock()
	id := key.ThreadID()
	for i := range d.threads {
		if d.threads[i].ID == id {
			d.threads[i].Unread = false
		}
	}
	d.mu.Unlock()

	if err := d.source.MarkRead(ctx, key); err != nil {
		d.logger.Warn("mark read failed", "key", key.String(), "error", err)
		return fmt.Errorf("mark read %s: %w", key, err)
	}
	return nil
}

// NoteIncoming refreshes the preview of the thread a realtime message belongs to and moves
// it to the top. The thread is flagged unread unless it is the active one. Threads not in
// the directory are left alone.
func (d *Directory) NoteIncoming(msg chat.Message, selfID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.threads {
		if !msg.BelongsTo(d.threads[i].Key(), selfID) {
			continue
		}
		thread := d.threads[i]
		thread.LastMessage = msg.Preview()
		if !msg.CreatedAt.IsZero() {
			thread.LastMessageAt = msg.CreatedAt
		}
		if thread.Key() != d.active && !msg.SentBy(selfID) {
			thread.Unread = true
		}
		copy(d.threads[1:i+1], d.threads[:i])
		d.threads[0] = thread
		return
	}
}

// Threads returns a copy of the loaded threads.
func (d *Directory) Threads() []chat.Thread {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]chat.Thread(nil), d.threads...)
}

// Thread returns the loaded thread for key.
func (d *Directory) Thread(key chat.Key) (chat.Thread, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := key.ThreadID()
	for _, t := range d.threads {
		if t.ID == id {
			return t, true
		}
	}
	return chat.Thread{}, false
}

// Active returns the selected conversation key, zero when none.
func (d *Directory) Active() chat.Key {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// HasMore reports whether another page can be appended.
func (d *Directory) HasMore() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor != ""
}
