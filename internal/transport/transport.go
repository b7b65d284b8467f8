// Package transport connects a chat session to its backend over one of two realtime
// transports and normalizes both to a single Adapter.
//
// Adapters never reconnect on their own: once offline they stay offline until the owner
// discards them and builds a new one.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/comigor/chatsync-go/internal/chat"
)

// Status is the connection state reported by an Adapter.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOnline     Status = "online"
	StatusOffline    Status = "offline"
)

// Kind selects the transport variant.
type Kind string

const (
	KindStream   Kind = "stream"
	KindEventBus Kind = "eventbus"
)

var (
	ErrNotOnline      = errors.New("transport is not online")
	ErrClosed         = errors.New("transport closed")
	ErrAlreadyStarted = errors.New("transport already connected")
)

const (
	defaultStreamPath = "/chat"
	defaultBuffer     = 64
	handshakeTimeout  = 10 * time.Second
	sendTimeout       = 10 * time.Second
	closeGrace        = time.Second
)

// Event is either a status change or an inbound frame. Events of one adapter are delivered in
// the order they were received from the backend.
type Event struct {
	Status  Status
	Inbound *chat.Inbound
}

// IsStatus reports whether the event carries a status change.
func (e Event) IsStatus() bool { return e.Inbound == nil }

// Adapter is one realtime connection scoped to a single conversation key and credential.
type Adapter interface {
	// Connect opens the connection. It returns once the connection is established or has
	// failed; failures are also reported as an offline status event.
	Connect(ctx context.Context) error
	// Send delivers msg. It fails with ErrNotOnline unless the adapter is online.
	Send(ctx context.Context, msg chat.Message) error
	// Events is closed after the adapter has shut down.
	Events() <-chan Event
	Status() Status
	// Close disconnects. It is safe to call more than once.
	Close() error
}

// Options configures an adapter.
type Options struct {
	// BaseURL is the backend's http(s) or ws(s) base URL.
	BaseURL string
	// Path is the stream endpoint path; ignored by the event-bus variant.
	Path       string
	Key        chat.ConversationKey
	Credential string
	Dialer     *websocket.Dialer
	// Buffer is the capacity of the events channel.
	Buffer int
}

// New builds an unconnected adapter of the given kind.
func New(kind Kind, opts Options) (Adapter, error) {
	if err := opts.Key.Validate(); err != nil {
		return nil, err
	}
	switch Kind(strings.ToLower(string(kind))) {
	case KindStream, "":
		return NewStream(opts)
	case KindEventBus:
		return NewEventBus(opts)
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
}

// Factory builds the adapter for one mounted conversation.
type Factory func(key chat.ConversationKey, credential string) (Adapter, error)

// NewFactory returns a Factory producing adapters of kind against baseURL.
func NewFactory(kind Kind, baseURL, path string) Factory {
	return func(key chat.ConversationKey, credential string) (Adapter, error) {
		return New(kind, Options{BaseURL: baseURL, Path: path, Key: key, Credential: credential})
	}
}

// websocketURL rewrites base to a ws/wss URL with the given path appended.
func websocketURL(base, path string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", base)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func conversationQuery(q url.Values, key chat.ConversationKey, credential string) url.Values {
	q.Set("apiKey", credential)
	q.Set("group", key.Group)
	if key.SubGroup != "" {
		q.Set("subGroup", key.SubGroup)
	}
	return q
}

// redact drops the query string, which carries the credential.
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return c.String()
}
