// Package api talks to the chat backend's plain HTTP endpoints: the one-shot history read and
// the message POST used when no realtime path is available.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/comigor/chatsync-go/internal/attachment"
	"github.com/comigor/chatsync-go/internal/chat"
)

const (
	historyPath = "/api/v1/chat/history"
	messagePath = "/api/chat/message"
)

// Client is an HTTP client for the chat backend.
type Client struct {
	historyBase string
	baseURL     string
	credential  string
	client      *http.Client
}

// NewClient creates a Client. historyBase serves history reads and baseURL serves message
// posts; they are usually the same host.
func NewClient(historyBase, baseURL, credential string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		historyBase: strings.TrimSuffix(historyBase, "/"),
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		credential:  credential,
		client:      &http.Client{Timeout: timeout},
	}
}

// WithCredential returns a copy of the client using credential.
func (c *Client) WithCredential(credential string) *Client {
	cp := *c
	cp.credential = credential
	return &cp
}

type historyResponse struct {
	Messages []json.RawMessage `json:"messages"`
}

// History fetches the prior messages of a conversation. Entries that are not messages are
// wrapped as bot text, like live frames.
func (c *Client) History(ctx context.Context, key chat.ConversationKey) ([]chat.Message, error) {
	q := url.Values{}
	q.Set("group", key.Group)
	if key.SubGroup != "" {
		q.Set("subGroup", key.SubGroup)
	}
	endpoint := fmt.Sprintf("%s%s?%s", c.historyBase, historyPath, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	ids := chat.NewIDSource(nil)
	out := make([]chat.Message, 0, len(body.Messages))
	for _, raw := range body.Messages {
		out = append(out, historyEntry(raw).Resolve(ids))
	}
	return out, nil
}

func historyEntry(raw json.RawMessage) chat.Inbound {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return chat.Unrecognized(text)
	}
	return chat.ParseInbound(raw)
}

type sendRequest struct {
	Group    string `json:"group"`
	SubGroup string `json:"subGroup,omitempty"`
	Text     string `json:"text"`
}

// Send posts a message and returns the backend's confirmed copy. Messages with a file are sent
// as multipart/form-data, others as JSON.
func (c *Client) Send(ctx context.Context, key chat.ConversationKey, text string, file *attachment.File) (chat.Message, error) {
	var (
		body        io.Reader
		contentType string
	)
	if file != nil {
		buf, ct, err := multipartBody(key, text, *file)
		if err != nil {
			return chat.Message{}, err
		}
		body, contentType = buf, ct
	} else {
		b, err := json.Marshal(sendRequest{Group: key.Group, SubGroup: key.SubGroup, Text: text})
		if err != nil {
			return chat.Message{}, err
		}
		body, contentType = bytes.NewReader(b), "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+messagePath, body)
	if err != nil {
		return chat.Message{}, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return chat.Message{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return chat.Message{}, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return chat.Message{}, err
	}
	m, ok := chat.ParseMessage(raw)
	if !ok {
		return chat.Message{}, fmt.Errorf("response is not a message: %.120s", raw)
	}
	return m, nil
}

func multipartBody(key chat.ConversationKey, text string, file attachment.File) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := [][2]string{{"group", key.Group}}
	if key.SubGroup != "" {
		fields = append(fields, [2]string{"subGroup", key.SubGroup})
	}
	fields = append(fields, [2]string{"text", text})
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	rc, err := file.Reader()
	if err != nil {
		return nil, "", fmt.Errorf("open attachment: %w", err)
	}
	defer rc.Close()

	name := file.Name
	if name == "" {
		name = "attachment"
	}
	part, err := w.CreatePart(filePartHeader(name, file.Type))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, rc); err != nil {
		return nil, "", fmt.Errorf("read attachment: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.credential != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.credential))
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func filePartHeader(name, kind string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, quoteEscaper.Replace(name)))
	if kind == "" {
		kind = "application/octet-stream"
	}
	h.Set("Content-Type", kind)
	return h
}
