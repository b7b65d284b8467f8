package chatsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"

	"github.com/comigor/chatsync-go/internal/attachment"
	"github.com/comigor/chatsync-go/internal/chat"
	"github.com/comigor/chatsync-go/internal/logger"
	"github.com/comigor/chatsync-go/internal/store"
	"github.com/comigor/chatsync-go/internal/transport"
)

type pendingEntry struct {
	id   string
	text string
}

// session is one mounted conversation. Everything that mutates the log, the pending list or
// fires a hook runs on the loop goroutine; other goroutines hand work to it through cmds.
type session struct {
	id      string
	key     chat.ConversationKey
	opts    *Options
	adapter transport.Adapter
	backend Backend
	store   store.Store
	ids     *chat.IDSource
	fsm     *stateless.StateMachine
	log     *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	cmds      chan func()
	done      chan struct{}
	closeOnce sync.Once

	// loop-owned
	seeded  bool
	held    []chat.Inbound
	pending []pendingEntry

	// mu guards status and typing, and keeps readers off the store while the loop swaps it.
	mu     sync.RWMutex
	status transport.Status
	typing bool
}

func newSession(key chat.ConversationKey, adapter transport.Adapter, backend Backend, st store.Store, opts *Options) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:      uuid.New().String(),
		key:     key,
		opts:    opts,
		adapter: adapter,
		backend: backend,
		store:   st,
		ids:     chat.NewIDSource(opts.Clock),
		ctx:     ctx,
		cancel:  cancel,
		cmds:    make(chan func()),
		done:    make(chan struct{}),
		seeded:  backend == nil,
		status:  transport.StatusConnecting,
	}
	s.log = logger.With("chatsync").With("session", s.id, "conversation", key.String())
	s.fsm = newStatusMachine(s.enterStatus)
	return s
}

func (s *session) start() {
	s.log.Debug("session started", "policy", s.opts.Policy, "http_fallback", s.opts.HTTPFallback)
	go s.loop()
	go s.connect()
	if s.backend != nil {
		go s.loadHistory()
	}
}

// close cancels the session, waits for the loop to exit and releases the adapter and store.
// Results that arrive afterwards are dropped.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		if err := s.adapter.Close(); err != nil {
			s.log.Warn("close transport", "error", err)
		}
		if err := s.store.Close(); err != nil {
			s.log.Warn("close store", "error", err)
		}
		s.log.Debug("session closed")
	})
}

func (s *session) loop() {
	defer close(s.done)
	events := s.adapter.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.cmds:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(ev)
		}
	}
}

// post queues fn on the loop. It is dropped once the session is closing.
func (s *session) post(fn func()) {
	select {
	case s.cmds <- fn:
	case <-s.ctx.Done():
	}
}

// do runs fn on the loop and waits for it.
func (s *session) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.cmds <- func() { defer close(finished); fn() }:
	case <-s.ctx.Done():
		return ErrUnmounted
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

func (s *session) connect() {
	if err := s.adapter.Connect(s.ctx); err != nil && s.ctx.Err() == nil {
		s.log.Info("transport connect failed", "error", err)
	}
}

func (s *session) loadHistory() {
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
	msgs, err := s.backend.History(ctx, s.key)
	cancel()
	s.post(func() { s.applyHistory(msgs, err) })
}

// applyHistory seeds the log and then replays the inbound messages held while loading.
// History goes before anything already submitted. A failed read is reported once and seeds
// nothing.
func (s *session) applyHistory(msgs []chat.Message, err error) {
	s.seeded = true
	if err != nil {
		s.log.Warn("history load failed", "error", err)
		s.reportError(fmt.Errorf("%w: %w", ErrHistoryLoadFailed, err))
	} else {
		s.seed(msgs)
		s.log.Debug("history applied", "count", len(msgs), "held", len(s.held))
	}

	held := s.held
	s.held = nil
	for _, in := range held {
		s.applyInbound(in)
	}
	s.notify()
}

// seed puts history in front of the current log. A non-empty log is rebuilt in a fresh store
// which then replaces the old one.
func (s *session) seed(history []chat.Message) {
	if len(history) == 0 {
		return
	}
	if s.store.Len() == 0 {
		for _, m := range history {
			s.appendMessage(m)
		}
		return
	}

	fresh, err := store.Open(s.opts.StoreDriver)
	if err != nil {
		s.log.Error("open store for history", "error", err)
		for _, m := range history {
			s.appendMessage(m)
		}
		return
	}
	for _, m := range append(history, s.store.Snapshot()...) {
		if err := fresh.Append(m); err != nil {
			s.log.Error("append history entry", "id", m.ID, "error", err)
		}
	}

	s.mu.Lock()
	old := s.store
	s.store = fresh
	s.mu.Unlock()
	if err := old.Close(); err != nil {
		s.log.Warn("close store", "error", err)
	}
}

func (s *session) handleEvent(ev transport.Event) {
	if ev.IsStatus() {
		trigger, ok := triggerFor(ev.Status)
		if !ok {
			return
		}
		if err := s.fsm.FireCtx(s.ctx, trigger); err != nil {
			s.log.Error("status transition", "trigger", trigger, "error", err)
		}
		return
	}

	if !s.seeded {
		s.held = append(s.held, *ev.Inbound)
		return
	}
	s.applyInbound(*ev.Inbound)
	s.notify()
}

func (s *session) applyInbound(in chat.Inbound) {
	msg := in.Resolve(s.ids)
	if _, ok := in.Message(); !ok {
		s.log.Debug("unrecognized frame wrapped as bot message", "id", msg.ID)
	}
	s.reconcile(msg)
	s.setTyping(msg.Sender == chat.SenderUser)
}

func (s *session) enterStatus(_ context.Context, status transport.Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.log.Info("connection status changed", "status", status)
	s.notify()
}

// reconcile applies an inbound message to the log according to the policy. Under replace the
// message takes the place of the optimistic entry it confirms: the one sharing its id, else
// the oldest pending user entry with the same text. A repeated delivery of a known id is
// replaced in place.
func (s *session) reconcile(msg chat.Message) {
	if s.opts.Policy == ReconcileAppend {
		s.dropPending(msg.ID)
		s.appendMessage(msg)
		return
	}

	target := ""
	switch {
	case s.dropPending(msg.ID):
		target = msg.ID
	case msg.Sender == chat.SenderUser:
		if id, ok := s.takePendingByText(msg.Text); ok {
			target = id
		}
	}
	if target == "" && s.store.Has(msg.ID) {
		target = msg.ID
	}
	if target == "" {
		s.appendMessage(msg)
		return
	}
	if _, err := s.store.Replace(target, msg); err != nil {
		s.log.Error("replace message", "id", target, "error", err)
	}
}

// confirm applies the HTTP confirmation of the optimistic entry id.
func (s *session) confirm(id string, confirmed chat.Message) {
	if confirmed.ID == "" {
		confirmed.ID = id
	}
	if confirmed.Timestamp == 0 {
		confirmed.Timestamp = s.ids.Now()
	}
	if !confirmed.Sender.Valid() {
		confirmed.Sender = chat.SenderUser
	}
	if s.opts.Policy == ReconcileAppend {
		s.dropPending(id)
		s.appendMessage(confirmed)
		return
	}
	s.dropPending(id)
	ok, err := s.store.Replace(id, confirmed)
	if err != nil {
		s.log.Error("replace message", "id", id, "error", err)
		return
	}
	if !ok {
		s.appendMessage(confirmed)
	}
}

func (s *session) appendMessage(msg chat.Message) {
	if err := s.store.Append(msg); err != nil {
		s.log.Error("append message", "id", msg.ID, "error", err)
	}
}

func (s *session) dropPending(id string) bool {
	for i, p := range s.pending {
		if p.id == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (s *session) takePendingByText(text string) (string, bool) {
	for i, p := range s.pending {
		if p.text == text {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return p.id, true
		}
	}
	return "", false
}

func (s *session) submit(ctx context.Context, text string, file *attachment.File) (chat.Message, error) {
	if file != nil {
		if _, err := attachment.Validate(*file); err != nil {
			return chat.Message{}, err
		}
	}
	if strings.TrimSpace(text) == "" && file == nil {
		return chat.Message{}, ErrEmptyDraft
	}

	var (
		msg     chat.Message
		sendErr error
	)
	if err := s.do(ctx, func() { msg, sendErr = s.submitOnLoop(ctx, text, file) }); err != nil {
		return chat.Message{}, err
	}
	return msg, sendErr
}

func (s *session) submitOnLoop(ctx context.Context, text string, file *attachment.File) (chat.Message, error) {
	id, ts := s.ids.Next()
	msg := chat.Message{ID: id, Text: text, Sender: chat.SenderUser, Timestamp: ts}
	if file != nil {
		msg.Attachment = &chat.Attachment{Kind: file.Type}
	}
	s.appendMessage(msg)
	s.pending = append(s.pending, pendingEntry{id: id, text: text})
	s.notify()

	if file != nil {
		s.preview(id, *file)
		return msg, s.sendHTTP(msg, file)
	}

	err := s.adapter.Send(ctx, msg)
	switch {
	case err == nil:
		s.log.Debug("message sent", "id", id, "via", "transport")
		s.sent(text)
		return msg, nil
	case errors.Is(err, transport.ErrNotOnline) && s.opts.HTTPFallback && s.backend != nil:
		return msg, s.sendHTTP(msg, nil)
	default:
		return msg, s.sendFailed(id, err)
	}
}

// sendHTTP posts msg in the background. The confirmation is applied on the loop unless the
// session has been torn down by then.
func (s *session) sendHTTP(msg chat.Message, file *attachment.File) error {
	if s.backend == nil {
		return s.sendFailed(msg.ID, errNoHTTPBackend)
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
		confirmed, err := s.backend.Send(ctx, s.key, msg.Text, file)
		cancel()
		s.post(func() {
			if err != nil {
				s.sendFailed(msg.ID, err)
				return
			}
			s.log.Debug("message sent", "id", msg.ID, "via", "http", "confirmed_id", confirmed.ID)
			s.confirm(msg.ID, confirmed)
			s.sent(msg.Text)
			s.notify()
		})
	}()
	return nil
}

func (s *session) preview(id string, file attachment.File) {
	if s.opts.Hooks.OnPreview == nil {
		return
	}
	attachment.Preview(s.ctx, file, func(dataURL string) {
		s.post(func() { s.opts.Hooks.OnPreview(id, dataURL) })
	})
}

// sendFailed reports a failed send. The optimistic entry stays in the log.
func (s *session) sendFailed(id string, cause error) error {
	err := fmt.Errorf("%w: %w", ErrSendFailed, cause)
	s.log.Warn("send failed", "id", id, "error", cause)
	s.reportError(err)
	return err
}

func (s *session) sent(text string) {
	if s.opts.Hooks.OnMessageSent != nil {
		s.opts.Hooks.OnMessageSent(text)
	}
}

func (s *session) reportError(err error) {
	if s.opts.Hooks.OnError != nil {
		s.opts.Hooks.OnError(err)
	}
}

func (s *session) notify() {
	if s.opts.Hooks.OnChange != nil {
		s.opts.Hooks.OnChange(s.state())
	}
}

func (s *session) setTyping(typing bool) {
	s.mu.Lock()
	s.typing = typing
	s.mu.Unlock()
}

func (s *session) currentStatus() transport.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *session) currentTyping() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typing
}

// messages snapshots the log. The read lock keeps the store from being swapped and closed
// underneath it.
func (s *session) messages() []chat.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store.Snapshot()
}

func (s *session) state() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{
		Key:      s.key,
		Status:   s.status,
		Typing:   s.typing,
		Messages: s.store.Snapshot(),
	}
}
