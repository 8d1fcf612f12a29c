package inbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"

	"rentme-inbox/internal/domain/chat"
)

// MaxAttachmentSize is the largest accepted attachment, 10 MiB.
const MaxAttachmentSize int64 = 10 << 20

var (
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file exceeds 10 MB")
	ErrNotStaged       = errors.New("attachment no longer staged")
)

var allowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
	"image/webp": {},
	"video/mp4":  {},
	"video/webm": {},
}

// AllowedMIMEType reports whether mimeType may be attached.
func AllowedMIMEType(mimeType string) bool {
	_, ok := allowedMIMETypes[baseMIME(mimeType)]
	return ok
}

// File is a candidate attachment picked by the user.
type File struct {
	Name     string
	MIMEType string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// LocalFile describes a file on disk, sniffing its MIME type from content.
func LocalFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, err
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	detected, err := mimetype.DetectFile(path)
	if err != nil {
		return File{}, fmt.Errorf("detect type of %s: %w", path, err)
	}
	return File{
		Name:     filepath.Base(path),
		MIMEType: baseMIME(detected.String()),
		Size:     info.Size(),
		Open:     func() (io.ReadCloser, error) { return os.Open(path) },
	}, nil
}

// Preview is a local handle that renders a staged file before upload.
type Preview interface {
	URL() string
	Release() error
}

// PreviewFactory creates previews for staged files.
type PreviewFactory interface {
	NewPreview(f File) (Preview, error)
}

// Rejection explains why a file was not staged.
type Rejection struct {
	Name string
	Err  error
}

func (r Rejection) Error() string { return r.Name + ": " + r.Err.Error() }

// StagedFile is a snapshot of a file waiting to be uploaded.
type StagedFile struct {
	ID         string
	Name       string
	MIMEType   string
	Kind       chat.AttachmentKind
	Size       int64
	PreviewURL string
}

type stagedEntry struct {
	id      string
	file    File
	kind    chat.AttachmentKind
	preview *releaseOnce
}

// Attachments validates, previews and uploads files ahead of a send. Previews it creates
// are released exactly once: on Remove, after a successful Upload, or on Close.
type Attachments struct {
	uploader Uploader
	previews PreviewFactory
	logger   *slog.Logger

	mu     sync.Mutex
	staged []*stagedEntry
	nextID int
}

// NewAttachments builds a pipeline. previews may be nil, in which case staged files have no
// preview handle.
func NewAttachments(uploader Uploader, previews PreviewFactory, logger *slog.Logger) *Attachments {
	return &Attachments{uploader: uploader, previews: previews, logger: orDiscard(logger)}
}

// Stage validates each file independently and stages the valid ones. Invalid files are
// reported as rejections; they never block the rest of the batch.
func (a *Attachments) Stage(files []File) []Rejection {
	var rejected []Rejection
	for _, f := range files {
		entry, err := a.prepare(f)
		if err != nil {
			rejected = append(rejected, Rejection{Name: f.Name, Err: err})
			continue
		}
		a.mu.Lock()
		a.nextID++
		entry.id = strconv.Itoa(a.nextID)
		a.staged = append(a.staged, entry)
		a.mu.Unlock()
	}
	if len(rejected) > 0 {
		a.logger.Info("attachments rejected", "count", len(rejected))
	}
	return rejected
}

func (a *Attachments) prepare(f File) (*stagedEntry, error) {
	mimeType, err := resolveMIME(f)
	if err != nil {
		return nil, err
	}
	if !AllowedMIMEType(mimeType) {
		return nil, fmt.Errorf("%w %s", ErrUnsupportedType, mimeType)
	}
	if f.Size > MaxAttachmentSize {
		return nil, ErrFileTooLarge
	}
	f.MIMEType = mimeType
	entry := &stagedEntry{file: f, kind: chat.KindForMIME(mimeType)}
	if a.previews != nil {
		p, err := a.previews.NewPreview(f)
		if err != nil {
			return nil, fmt.Errorf("preview: %w", err)
		}
		entry.preview = &releaseOnce{preview: p}
	}
	return entry, nil
}

// Remove unstages a file and releases its preview.
func (a *Attachments) Remove(id string) bool {
	a.mu.Lock()
	var removed *stagedEntry
	for i, e := range a.staged {
		if e.id == id {
			removed = e
			a.staged = append(a.staged[:i], a.staged[i+1:]...)
			break
		}
	}
	a.mu.Unlock()
	if removed == nil {
		return false
	}
	a.release(removed)
	return true
}

// Staged returns the staged files in staging order.
func (a *Attachments) Staged() []StagedFile {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]StagedFile, 0, len(a.staged))
	for _, e := range a.staged {
		sf := StagedFile{
			ID:       e.id,
			Name:     e.file.Name,
			MIMEType: e.file.MIMEType,
			Kind:     e.kind,
			Size:     e.file.Size,
		}
		if e.preview != nil {
			sf.PreviewURL = e.preview.URL()
		}
		out = append(out, sf)
	}
	return out
}

func (a *Attachments) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.staged)
}

// Upload sends the staged files with the given ids, or every staged file when no id is
// given, in one request. On success the uploaded files are unstaged and their previews
// released; on failure everything stays staged. Ids no longer staged are an error.
func (a *Attachments) Upload(ctx context.Context, ids ...string) ([]chat.Attachment, error) {
	a.mu.Lock()
	batch, err := a.selectLocked(ids)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}
	if a.uploader == nil {
		return nil, errors.New("attachment uploader not configured")
	}

	files := make([]UploadFile, 0, len(batch))
	for _, e := range batch {
		files = append(files, UploadFile{Name: e.file.Name, MIMEType: e.file.MIMEType, Open: e.file.Open})
	}
	uploaded, err := a.uploader.Upload(ctx, files)
	if err != nil {
		a.logger.Error("attachment upload failed", "files", len(files), "error", err)
		return nil, err
	}
	if len(uploaded) != len(batch) {
		return nil, fmt.Errorf("upload returned %d files for %d submitted", len(uploaded), len(batch))
	}
	for i := range uploaded {
		if uploaded[i].Filename == "" {
			uploaded[i].Filename = batch[i].file.Name
		}
		if uploaded[i].Kind == "" {
			uploaded[i].Kind = batch[i].kind
		}
	}

	a.mu.Lock()
	done := make(map[*stagedEntry]struct{}, len(batch))
	for _, e := range batch {
		done[e] = struct{}{}
	}
	kept := a.staged[:0]
	for _, e := range a.staged {
		if _, ok := done[e]; !ok {
			kept = append(kept, e)
		}
	}
	a.staged = kept
	a.mu.Unlock()

	for _, e := range batch {
		a.release(e)
	}
	return uploaded, nil
}

func (a *Attachments) selectLocked(ids []string) ([]*stagedEntry, error) {
	if len(ids) == 0 {
		return append([]*stagedEntry(nil), a.staged...), nil
	}
	byID := make(map[string]*stagedEntry, len(a.staged))
	for _, e := range a.staged {
		byID[e.id] = e
	}
	batch := make([]*stagedEntry, 0, len(ids))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotStaged, id)
		}
		batch = append(batch, e)
	}
	return batch, nil
}

// Close releases every staged preview and empties the pipeline.
func (a *Attachments) Close() {
	a.mu.Lock()
	staged := a.staged
	a.staged = nil
	a.mu.Unlock()
	for _, e := range staged {
		a.release(e)
	}
}

func (a *Attachments) release(e *stagedEntry) {
	if e.preview == nil {
		return
	}
	if err := e.preview.Release(); err != nil {
		a.logger.Warn("preview release failed", "file", e.file.Name, "error", err)
	}
}

type releaseOnce struct {
	preview Preview
	once    sync.Once
	err     error
}

func (r *releaseOnce) URL() string { return r.preview.URL() }

func (r *releaseOnce) Release() error {
	r.once.Do(func() { r.err = r.preview.Release() })
	return r.err
}

func resolveMIME(f File) (string, error) {
	if declared := baseMIME(f.MIMEType); declared != "" {
		return declared, nil
	}
	if f.Open == nil {
		return "", fmt.Errorf("%w: unknown", ErrUnsupportedType)
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	defer rc.Close()
	detected, err := mimetype.DetectReader(rc)
	if err != nil {
		return "", fmt.Errorf("detect type: %w", err)
	}
	return baseMIME(detected.String()), nil
}

func baseMIME(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(raw); err == nil {
		return parsed
	}
	return strings.ToLower(raw)
}

// TempFilePreviews copies each staged file into a temporary file that a viewer can open.
// Releasing the preview deletes the copy.
type TempFilePreviews struct {
	Dir string
}

func (t TempFilePreviews) NewPreview(f File) (Preview, error) {
	if f.Open == nil {
		return nil, errors.New("file has no content")
	}
	src, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst, err := os.CreateTemp(t.Dir, "inbox-preview-*"+filepath.Ext(f.Name))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(dst, io.LimitReader(src, MaxAttachmentSize+1)); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return nil, err
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return nil, err
	}
	return tempPreview{path: dst.Name()}, nil
}

type tempPreview struct {
	path string
}

func (p tempPreview) URL() string { return "file://" + filepath.ToSlash(p.path) }

func (p tempPreview) Release() error {
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
