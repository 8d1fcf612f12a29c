package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rentme-inbox/internal/app/dto"
	"rentme-inbox/internal/app/inbox"
	"rentme-inbox/internal/domain/chat"
)

// APIError is a non-2xx response from the messaging API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("messaging api: status %d", e.Status)
	}
	return fmt.Sprintf("messaging api: status %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Client talks to the messaging REST endpoints with a bearer session token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Logger  *slog.Logger
}

// New builds a client with a timeout-bounded http.Client.
func New(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
		Logger:  logger,
	}
}

// ListThreads fetches one page of conversations, most recent activity first.
func (c *Client) ListThreads(ctx context.Context, req inbox.PageRequest) (inbox.ThreadPage, error) {
	q := url.Values{}
	setPaging(q, req)
	if req.Scope != "" {
		q.Set("scope", req.Scope)
	}
	var page dto.ThreadPage
	if err := c.do(ctx, http.MethodGet, "/api/messages/threads", q, nil, &page); err != nil {
		return inbox.ThreadPage{}, err
	}
	out := inbox.ThreadPage{NextCursor: page.NextCursor, Threads: make([]chat.Thread, 0, len(page.Threads))}
	for _, s := range page.Threads {
		if strings.TrimSpace(s.OtherUserID) == "" {
			c.Logger.Warn("thread summary without participant dropped")
			continue
		}
		out.Threads = append(out.Threads, s.ToDomain())
	}
	return out, nil
}

// MarkRead clears the unread state of the conversation.
func (c *Client) MarkRead(ctx context.Context, key chat.Key) error {
	body := dto.MarkReadRequest{OtherUserID: key.Counterparty, ListingID: key.Listing}
	return c.do(ctx, http.MethodPatch, "/api/messages/read", nil, body, nil)
}

// ListMessages fetches one page of the conversation, oldest message first.
func (c *Client) ListMessages(ctx context.Context, key chat.Key, req inbox.PageRequest) (inbox.MessagePage, error) {
	q := url.Values{}
	setPaging(q, req)
	path := "/api/messages/" + url.PathEscape(key.Counterparty) + "/" + url.PathEscape(key.Listing)
	var page dto.MessagePage
	if err := c.do(ctx, http.MethodGet, path, q, nil, &page); err != nil {
		return inbox.MessagePage{}, err
	}
	out := inbox.MessagePage{NextCursor: page.NextCursor, Messages: make([]chat.Message, 0, len(page.Data))}
	for _, raw := range page.Data {
		msg, err := raw.ToDomain()
		if err != nil {
			c.Logger.Warn("malformed message dropped", "message_id", raw.ID, "error", err)
			continue
		}
		out.Messages = append(out.Messages, c.absolute(msg))
	}
	return out, nil
}

// UpdateMessage replaces the text of a message and returns the stored version.
func (c *Client) UpdateMessage(ctx context.Context, id, content string) (chat.Message, error) {
	var updated dto.Message
	if err := c.do(ctx, http.MethodPatch, "/api/messages/"+url.PathEscape(id), nil, dto.UpdateMessageRequest{Content: content}, &updated); err != nil {
		return chat.Message{}, err
	}
	msg, err := updated.ToDomain()
	if err != nil {
		return chat.Message{}, fmt.Errorf("decode updated message: %w", err)
	}
	return c.absolute(msg), nil
}

func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil, nil, nil)
}

// Upload sends files as one multipart request under the "files" field and returns the
// stored attachments in submission order.
func (c *Client) Upload(ctx context.Context, files []inbox.UploadFile) ([]chat.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeFiles(form, files))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/messages/upload", nil, pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var resp dto.UploadResponse
	if err := c.send(req, &resp); err != nil {
		pr.CloseWithError(err)
		return nil, err
	}
	if len(resp.Files) != len(files) {
		return nil, fmt.Errorf("upload stored %d of %d files", len(resp.Files), len(files))
	}
	out := make([]chat.Attachment, 0, len(resp.Files))
	for i, f := range resp.Files {
		mimeType := f.MIMEType
		if mimeType == "" {
			mimeType = files[i].MIMEType
		}
		name := f.OriginalName
		if name == "" {
			name = files[i].Name
		}
		out = append(out, chat.Attachment{
			URL:      c.resolve(f.Path),
			MIMEType: mimeType,
			Kind:     chat.KindForMIME(mimeType),
			Filename: name,
		})
	}
	return out, nil
}

func writeFiles(form *multipart.Writer, files []inbox.UploadFile) error {
	for _, f := range files {
		if f.Open == nil {
			return fmt.Errorf("file %s has no content", f.Name)
		}
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.Name))
		if f.MIMEType != "" {
			header.Set("Content-Type", f.MIMEType)
		}
		part, err := form.CreatePart(header)
		if err != nil {
			return err
		}
		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Name, err)
		}
		_, err = io.Copy(part, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	return form.Close()
}

func setPaging(q url.Values, req inbox.PageRequest) {
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	target := c.BaseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.Logger.Error("messaging request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		var body dto.ErrorBody
		if json.Unmarshal(snippet, &body) == nil && body.Error != "" {
			apiErr.Message = body.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(snippet))
		}
		c.Logger.Warn("messaging api error", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "error", apiErr.Message)
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

// resolve turns a server-relative upload path into an absolute URL.
func (c *Client) resolve(path string) string {
	if path == "" || strings.Contains(path, "://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL + path
}

func (c *Client) absolute(msg chat.Message) chat.Message {
	for i := range msg.Attachments {
		msg.Attachments[i].URL = c.resolve(msg.Attachments[i].URL)
	}
	return msg
}

var (
	_ inbox.ThreadSource   = (*Client)(nil)
	_ inbox.MessageSource  = (*Client)(nil)
	_ inbox.MessageMutator = (*Client)(nil)
	_ inbox.Uploader       = (*Client)(nil)
)
