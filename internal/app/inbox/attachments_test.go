package inbox

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"rentme-inbox/internal/domain/chat"
)

// pngHeader is enough of a PNG file for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func TestAttachmentsStageRejectsPerFile(t *testing.T) {
	previews := newCountingPreviews()
	pipeline := NewAttachments(&fakeUploader{}, previews, nil)

	rejected := pipeline.Stage([]File{
		memFile("a.jpg", "image/jpeg", 1024),
		memFile("big.png", "image/png", MaxAttachmentSize+1),
		memFile("b.mp4", "video/mp4", 2048),
		memFile("huge.webm", "video/webm", 50<<20),
		memFile("c.gif", "image/gif", MaxAttachmentSize),
	})

	require.Len(t, rejected, 2)
	require.Equal(t, "big.png", rejected[0].Name)
	require.ErrorIs(t, rejected[0].Err, ErrFileTooLarge)
	require.Equal(t, "huge.webm", rejected[1].Name)

	staged := pipeline.Staged()
	require.Len(t, staged, 3)
	require.Equal(t, []string{"a.jpg", "b.mp4", "c.gif"}, []string{staged[0].Name, staged[1].Name, staged[2].Name})
	require.Equal(t, chat.KindVideo, staged[1].Kind)
	require.Equal(t, "blob:a.jpg", staged[0].PreviewURL)
	require.Equal(t, 3, previews.created)
}

func TestAttachmentsRejectUnsupportedType(t *testing.T) {
	pipeline := NewAttachments(&fakeUploader{}, nil, nil)
	rejected := pipeline.Stage([]File{
		memFile("doc.pdf", "application/pdf", 10),
		memFile("photo.jpg", "image/jpeg; charset=binary", 10),
	})
	require.Len(t, rejected, 1)
	require.ErrorIs(t, rejected[0].Err, ErrUnsupportedType)
	require.Equal(t, 1, pipeline.Len())
	require.Equal(t, "image/jpeg", pipeline.Staged()[0].MIMEType)
}

func TestAttachmentsSniffUndeclaredType(t *testing.T) {
	pipeline := NewAttachments(&fakeUploader{}, nil, nil)
	file := File{
		Name: "pasted",
		Size: int64(len(pngHeader)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(string(pngHeader))), nil },
	}
	require.Empty(t, pipeline.Stage([]File{file}))
	require.Equal(t, "image/png", pipeline.Staged()[0].MIMEType)
}

func TestAttachmentsRemoveReleasesOnce(t *testing.T) {
	previews := newCountingPreviews()
	pipeline := NewAttachments(&fakeUploader{}, previews, nil)
	require.Empty(t, pipeline.Stage([]File{memFile("a.jpg", "image/jpeg", 10), memFile("b.png", "image/png", 10)}))

	id := pipeline.Staged()[0].ID
	require.True(t, pipeline.Remove(id))
	require.False(t, pipeline.Remove(id))
	require.Equal(t, 1, previews.releases("a.jpg"))
	require.Equal(t, 1, pipeline.Len())

	pipeline.Close()
	pipeline.Close()
	require.Equal(t, 1, previews.releases("b.png"))
	require.Zero(t, pipeline.Len())
}

func TestAttachmentsUploadFailureKeepsStaged(t *testing.T) {
	previews := newCountingPreviews()
	uploader := &fakeUploader{err: errBoom}
	pipeline := NewAttachments(uploader, previews, nil)
	require.Empty(t, pipeline.Stage([]File{memFile("a.jpg", "image/jpeg", 10)}))

	_, err := pipeline.Upload(context.Background())
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, 1, pipeline.Len())
	require.Zero(t, previews.totalReleased())

	uploader.err = nil
	uploaded, err := pipeline.Upload(context.Background())
	require.NoError(t, err)
	require.Len(t, uploaded, 1)
	require.Equal(t, "/uploads/a.jpg", uploaded[0].URL)
	require.Equal(t, chat.KindImage, uploaded[0].Kind)
	require.Zero(t, pipeline.Len())
	require.Equal(t, 1, previews.releases("a.jpg"))

	pipeline.Close()
	require.Equal(t, 1, previews.releases("a.jpg"))
}

func TestAttachmentsUploadSelectedOnly(t *testing.T) {
	previews := newCountingPreviews()
	uploader := &fakeUploader{}
	pipeline := NewAttachments(uploader, previews, nil)
	require.Empty(t, pipeline.Stage([]File{memFile("a.jpg", "image/jpeg", 10), memFile("b.png", "image/png", 10)}))
	first := pipeline.Staged()[0].ID

	uploaded, err := pipeline.Upload(context.Background(), first)
	require.NoError(t, err)
	require.Len(t, uploaded, 1)
	require.Equal(t, "a.jpg", uploaded[0].Filename)
	require.Len(t, uploader.calls[0], 1)
	require.Equal(t, 1, pipeline.Len())
	require.Equal(t, "b.png", pipeline.Staged()[0].Name)
	require.Zero(t, previews.releases("b.png"))

	_, err = pipeline.Upload(context.Background(), first)
	require.ErrorIs(t, err, ErrNotStaged)
	require.Len(t, uploader.calls, 1)
}

func TestAttachmentsUploadNothingStaged(t *testing.T) {
	uploader := &fakeUploader{}
	pipeline := NewAttachments(uploader, nil, nil)
	uploaded, err := pipeline.Upload(context.Background())
	require.NoError(t, err)
	require.Nil(t, uploaded)
	require.Empty(t, uploader.calls)
}

func TestLocalFileAndTempPreview(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "photo.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o600))

	file, err := LocalFile(path)
	require.NoError(t, err)
	require.Equal(t, "photo.png", file.Name)
	require.Equal(t, "image/png", file.MIMEType)
	require.Equal(t, int64(len(pngHeader)), file.Size)

	preview, err := TempFilePreviews{Dir: dir}.NewPreview(file)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(preview.URL(), "file://"))
	copied := strings.TrimPrefix(preview.URL(), "file://")
	_, err = os.Stat(filepath.FromSlash(copied))
	require.NoError(t, err)

	require.NoError(t, preview.Release())
	_, err = os.Stat(filepath.FromSlash(copied))
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NoError(t, preview.Release())
}
