package inbox

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"rentme-inbox/internal/domain/chat"
)

var errBoom = errors.New("boom")

type fakeThreads struct {
	mu        sync.Mutex
	pages     map[string]ThreadPage
	err       error
	requests  []PageRequest
	markReads []chat.Key
	markErr   error
}

func (f *fakeThreads) ListThreads(_ context.Context, req PageRequest) (ThreadPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return ThreadPage{}, f.err
	}
	return f.pages[req.Cursor], nil
}

func (f *fakeThreads) MarkRead(_ context.Context, key chat.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReads = append(f.markReads, key)
	return f.markErr
}

func (f *fakeThreads) marked() []chat.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chat.Key(nil), f.markReads...)
}

type pageKey struct {
	key    chat.Key
	cursor string
}

type fakeMessages struct {
	mu      sync.Mutex
	pages   map[pageKey]MessagePage
	err     error
	gates   map[chat.Key]chan struct{}
	calls   int
	updated map[string]string
	deleted []string
	updErr  error
	delErr  error
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{
		pages:   map[pageKey]MessagePage{},
		gates:   map[chat.Key]chan struct{}{},
		updated: map[string]string{},
	}
}

func (f *fakeMessages) set(key chat.Key, cursor string, page MessagePage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[pageKey{key, cursor}] = page
}

// block makes the next fetches for key wait until the returned release func runs.
func (f *fakeMessages) block(key chat.Key) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[key] = ch
	f.mu.Unlock()
	return func() { close(ch) }
}

func (f *fakeMessages) ListMessages(ctx context.Context, key chat.Key, req PageRequest) (MessagePage, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gates[key]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return MessagePage{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return MessagePage{}, f.err
	}
	return f.pages[pageKey{key, req.Cursor}], nil
}

func (f *fakeMessages) UpdateMessage(_ context.Context, id, content string) (chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updErr != nil {
		return chat.Message{}, f.updErr
	}
	f.updated[id] = content
	return chat.Message{ID: id, Content: content, Sender: chat.Participant{ID: "me"}, Receiver: chat.Participant{ID: "u1"}, ListingID: "L1"}, nil
}

func (f *fakeMessages) DeleteMessage(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeMessages) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeChannel struct {
	mu       sync.Mutex
	handlers map[EventKind]map[int]func(Event)
	nextID   int
	emitted  []SendRequest
	emitErr  error
	closed   bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{handlers: map[EventKind]map[int]func(Event){}}
}

func (f *fakeChannel) Subscribe(kind EventKind, handler func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	if f.handlers[kind] == nil {
		f.handlers[kind] = map[int]func(Event){}
	}
	f.handlers[kind][id] = handler
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[kind], id)
	}
}

func (f *fakeChannel) Emit(_ context.Context, req SendRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emitErr != nil {
		return f.emitErr
	}
	f.emitted = append(f.emitted, req)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) push(ev Event) {
	f.mu.Lock()
	handlers := make([]func(Event), 0, len(f.handlers[ev.Kind]))
	for _, h := range f.handlers[ev.Kind] {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (f *fakeChannel) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, hs := range f.handlers {
		n += len(hs)
	}
	return n
}

func (f *fakeChannel) sent() []SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SendRequest(nil), f.emitted...)
}

type fakeDialer struct {
	channel *fakeChannel
	tokens  []string
	err     error
}

func (d *fakeDialer) Dial(_ context.Context, token string) (Channel, error) {
	d.tokens = append(d.tokens, token)
	if d.err != nil {
		return nil, d.err
	}
	return d.channel, nil
}

type fakeUploader struct {
	mu    sync.Mutex
	err   error
	calls [][]UploadFile
}

func (f *fakeUploader) Upload(_ context.Context, files []UploadFile) ([]chat.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, files)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]chat.Attachment, 0, len(files))
	for _, file := range files {
		out = append(out, chat.Attachment{URL: "/uploads/" + file.Name, MIMEType: file.MIMEType, Kind: chat.KindForMIME(file.MIMEType), Filename: file.Name})
	}
	return out, nil
}

type countingPreviews struct {
	mu       sync.Mutex
	created  int
	released map[string]int
}

func newCountingPreviews() *countingPreviews {
	return &countingPreviews{released: map[string]int{}}
}

func (c *countingPreviews) NewPreview(f File) (Preview, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created++
	return &countingPreview{owner: c, name: f.Name}, nil
}

func (c *countingPreviews) releases(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released[name]
}

func (c *countingPreviews) totalReleased() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.released {
		n += v
	}
	return n
}

type countingPreview struct {
	owner *countingPreviews
	name  string
}

func (p *countingPreview) URL() string { return "blob:" + p.name }

func (p *countingPreview) Release() error {
	p.owner.mu.Lock()
	defer p.owner.mu.Unlock()
	p.owner.released[p.name]++
	return nil
}

type recordingAlerts struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingAlerts) Alert(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

func (r *recordingAlerts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type staticConfirm bool

func (s staticConfirm) Confirm(context.Context, string) bool { return bool(s) }

func memFile(name, mimeType string, size int64) File {
	return File{
		Name:     name,
		MIMEType: mimeType,
		Size:     size,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("data")), nil
		},
	}
}

func textMessage(id, sender, receiver, content string) chat.Message {
	return chat.Message{
		ID:        id,
		Content:   content,
		Sender:    chat.Participant{ID: sender},
		Receiver:  chat.Participant{ID: receiver},
		ListingID: "L1",
	}
}
