// Package chatsync is the realtime synchronization core of the chat widget. It owns the
// mounted conversation's message log, drives the transport lifecycle, reconciles optimistic
// messages with their confirmations and derives the connection and typing signals the host
// renders.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/comigor/chatsync-go/internal/attachment"
	"github.com/comigor/chatsync-go/internal/chat"
	"github.com/comigor/chatsync-go/internal/store"
	"github.com/comigor/chatsync-go/internal/transport"
)

var (
	ErrHistoryLoadFailed = errors.New("history load failed")
	ErrSendFailed        = errors.New("send failed")
	ErrEmptyDraft        = errors.New("nothing to send")
	ErrNotMounted        = errors.New("no conversation mounted")
	ErrUnmounted         = errors.New("conversation was unmounted")
	errNoHTTPBackend     = errors.New("no http backend configured")
)

// ReconcilePolicy decides what happens when a confirmation of an optimistic message arrives.
type ReconcilePolicy string

const (
	// ReconcileAppend appends every inbound message, so echoed sends show twice.
	ReconcileAppend ReconcilePolicy = "append"
	// ReconcileReplace swaps the optimistic entry for its confirmation.
	ReconcileReplace ReconcilePolicy = "replace"
)

// ParsePolicy reads a policy name; empty means replace.
func ParsePolicy(s string) (ReconcilePolicy, error) {
	switch p := ReconcilePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return ReconcileReplace, nil
	case ReconcileAppend, ReconcileReplace:
		return p, nil
	default:
		return "", fmt.Errorf("unknown reconcile policy %q", s)
	}
}

// Backend is the HTTP side of a conversation: the history read and the message POST.
type Backend interface {
	History(ctx context.Context, key chat.ConversationKey) ([]chat.Message, error)
	Send(ctx context.Context, key chat.ConversationKey, text string, file *attachment.File) (chat.Message, error)
}

// Hooks are the host callbacks. They run on the session goroutine, in event order, and must
// not call back into the Core.
type Hooks struct {
	OnMessageSent func(text string)
	OnError       func(err error)
	OnChange      func(State)
	OnPreview     func(messageID, dataURL string)
}

// Options configures a Core.
type Options struct {
	// Transport builds the adapter for each mount. Required.
	Transport transport.Factory
	// Backend builds the HTTP backend for a credential. Nil disables history and HTTP sends.
	Backend func(credential string) Backend
	// HTTPFallback sends plain messages over HTTP while the transport is not online.
	HTTPFallback bool
	Policy       ReconcilePolicy
	StoreDriver  string
	// RequestTimeout bounds each history read and HTTP send.
	RequestTimeout time.Duration
	Hooks          Hooks
	// Clock is used for client message ids; nil means time.Now.
	Clock func() time.Time
}

// State is a read-only view of the mounted conversation.
type State struct {
	Key      chat.ConversationKey
	Status   transport.Status
	Typing   bool
	Messages []chat.Message
}

// Core is what the host talks to. It owns at most one mounted session at a time; mounting a
// new conversation key or credential replaces the session wholesale.
type Core struct {
	opts Options

	mu   sync.RWMutex
	sess *session
}

// New validates opts and returns an unmounted Core.
func New(opts Options) (*Core, error) {
	if opts.Transport == nil {
		return nil, errors.New("chatsync: transport factory is required")
	}
	policy, err := ParsePolicy(string(opts.Policy))
	if err != nil {
		return nil, err
	}
	opts.Policy = policy
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Core{opts: opts}, nil
}

// Mount tears down the current session, if any, and starts a fresh one for key and
// credential. Transport failures later show up only as an offline status.
func (c *Core) Mount(key chat.ConversationKey, credential string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	adapter, err := c.opts.Transport(key, credential)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	st, err := store.Open(c.opts.StoreDriver)
	if err != nil {
		_ = adapter.Close()
		return err
	}
	var backend Backend
	if c.opts.Backend != nil {
		backend = c.opts.Backend(credential)
	}

	next := newSession(key, adapter, backend, st, &c.opts)

	c.mu.Lock()
	prev := c.sess
	c.sess = next
	c.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	next.start()
	return nil
}

// Unmount tears down the current session. It is a no-op when nothing is mounted.
func (c *Core) Unmount() {
	c.mu.Lock()
	prev := c.sess
	c.sess = nil
	c.mu.Unlock()
	if prev != nil {
		prev.close()
	}
}

// Close unmounts; it satisfies io.Closer for host shutdown paths.
func (c *Core) Close() error {
	c.Unmount()
	return nil
}

func (c *Core) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

// Submit sends a user message. The optimistic copy is in the log when Submit returns, even if
// sending fails. Empty drafts return ErrEmptyDraft and rejected attachments an
// attachment.ErrRejected error; neither touches the log.
func (c *Core) Submit(ctx context.Context, text string, file *attachment.File) (chat.Message, error) {
	s := c.current()
	if s == nil {
		return chat.Message{}, ErrNotMounted
	}
	return s.submit(ctx, text, file)
}

// Messages returns the mounted conversation's log in insertion order.
func (c *Core) Messages() []chat.Message {
	if s := c.current(); s != nil {
		return s.messages()
	}
	return nil
}

// Status returns the connection status; offline when nothing is mounted.
func (c *Core) Status() transport.Status {
	if s := c.current(); s != nil {
		return s.currentStatus()
	}
	return transport.StatusOffline
}

// Typing reports whether the counterpart appears to be composing.
func (c *Core) Typing() bool {
	if s := c.current(); s != nil {
		return s.currentTyping()
	}
	return false
}

// Snapshot returns the full state of the mounted conversation.
func (c *Core) Snapshot() State {
	if s := c.current(); s != nil {
		return s.state()
	}
	return State{Status: transport.StatusOffline}
}

// Key returns the mounted conversation key.
func (c *Core) Key() (chat.ConversationKey, bool) {
	if s := c.current(); s != nil {
		return s.key, true
	}
	return chat.ConversationKey{}, false
}
