package chat

import (
	"bytes"
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// Inbound is a frame received from a backend, either recognized as a Message or kept as raw
// text. The zero value is an empty Unrecognized frame.
type Inbound struct {
	msg        Message
	raw        string
	recognized bool
}

// Recognized wraps a well-formed message.
func Recognized(m Message) Inbound {
	return Inbound{msg: m, recognized: true}
}

// Unrecognized wraps a frame that could not be read as a message.
func Unrecognized(raw string) Inbound {
	return Inbound{raw: raw}
}

// Message returns the recognized message, if any.
func (in Inbound) Message() (Message, bool) {
	return in.msg, in.recognized
}

// Raw returns the original text of an unrecognized frame.
func (in Inbound) Raw() string {
	return in.raw
}

// Resolve turns the frame into a Message. Unrecognized frames become bot messages whose text is
// the raw payload. Missing ids and timestamps are filled from ids.
func (in Inbound) Resolve(ids *IDSource) Message {
	if !in.recognized {
		id, ts := ids.Next()
		return Message{ID: id, Text: in.raw, Sender: SenderBot, Timestamp: ts}
	}
	m := in.msg
	if m.ID == "" || m.Timestamp == 0 {
		id, ts := ids.Next()
		if m.ID == "" {
			m.ID = id
		}
		if m.Timestamp == 0 {
			m.Timestamp = ts
		}
	}
	return m
}

type wireMessage struct {
	ID         json.RawMessage `json:"id"`
	Text       *string         `json:"text"`
	Content    *string         `json:"content"`
	Sender     Sender          `json:"sender"`
	Timestamp  *float64        `json:"timestamp"`
	Attachment *Attachment     `json:"attachment"`
	FileURL    string          `json:"fileUrl"`
}

// ParseInbound reads one frame. JSON objects with a known (or absent) sender and a body are
// recognized; `content` is accepted for `text` and `fileUrl` for an attachment URL.
func ParseInbound(raw []byte) Inbound {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Unrecognized(string(raw))
	}
	var w wireMessage
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Unrecognized(string(raw))
	}
	m, ok := w.message()
	if !ok {
		return Unrecognized(string(raw))
	}
	return Recognized(m)
}

// ParseMessage decodes a value that must be a message, as in history responses.
func ParseMessage(raw json.RawMessage) (Message, bool) {
	return ParseInbound(raw).Message()
}

func (w wireMessage) message() (Message, bool) {
	m := Message{Sender: w.Sender}
	if m.Sender == "" {
		m.Sender = SenderBot
	}
	if !m.Sender.Valid() {
		return Message{}, false
	}

	id, ok := decodeID(w.ID)
	if !ok {
		return Message{}, false
	}
	m.ID = id

	switch {
	case w.Text != nil:
		m.Text = *w.Text
	case w.Content != nil:
		m.Text = *w.Content
	}

	m.Attachment = w.Attachment
	if m.Attachment == nil && w.FileURL != "" {
		m.Attachment = &Attachment{URL: w.FileURL, Kind: KindFromURL(w.FileURL)}
	}
	if w.Text == nil && w.Content == nil && m.Attachment == nil {
		return Message{}, false
	}

	if w.Timestamp != nil {
		m.Timestamp = int64(*w.Timestamp)
	}
	return m, true
}

// decodeID accepts string and numeric ids; numbers are rendered in decimal.
func decodeID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

// IDSource hands out client message ids of the form "msg-<ms>". Ids are strictly increasing so
// two messages created within the same millisecond stay distinct.
type IDSource struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewIDSource returns a source reading the given clock; nil means time.Now.
func NewIDSource(now func() time.Time) *IDSource {
	if now == nil {
		now = time.Now
	}
	return &IDSource{now: now}
}

// Next returns a fresh id and the current timestamp in milliseconds.
func (s *IDSource) Next() (string, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UnixMilli()
	n := ts
	if n <= s.last {
		n = s.last + 1
	}
	s.last = n
	return "msg-" + strconv.FormatInt(n, 10), ts
}

// Now returns the source's clock reading in milliseconds.
func (s *IDSource) Now() int64 {
	return s.now().UnixMilli()
}
