package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type lifecycle int

const (
	stateIdle lifecycle = iota
	stateDialing
	stateRunning
	stateClosed
)

// socket owns one websocket connection: dialing, the read loop, serialized writes, status
// bookkeeping and the events channel. Variants plug in through onOpen and onFrame.
type socket struct {
	log    *slog.Logger
	dialer *websocket.Dialer
	url    string

	// onOpen runs once the websocket handshake succeeded.
	onOpen func()
	// onFrame handles one text frame; returning false ends the read loop.
	onFrame func(data []byte) bool

	mu     sync.Mutex
	state  lifecycle
	status Status
	conn   *websocket.Conn

	writeMu sync.Mutex

	events     chan Event
	quit       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	finishOnce sync.Once
}

func newSocket(log *slog.Logger, dialer *websocket.Dialer, url string, buffer int) *socket {
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		}
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &socket{
		log:    log,
		dialer: dialer,
		url:    url,
		status: StatusConnecting,
		events: make(chan Event, buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (s *socket) Events() <-chan Event { return s.events }

func (s *socket) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *socket) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateClosed:
		s.mu.Unlock()
		return ErrClosed
	case stateDialing, stateRunning:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = stateDialing
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, resp, err := s.dialer.DialContext(ctx, s.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		s.log.Debug("dial failed", "error", err)
		s.setStatus(StatusOffline)
		s.finish()
		return fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		s.setStatus(StatusOffline)
		s.finish()
		return ErrClosed
	}
	s.state = stateRunning
	s.conn = conn
	s.mu.Unlock()

	if s.onOpen != nil {
		s.onOpen()
	}
	go s.readLoop(conn)
	return nil
}

func (s *socket) readLoop(conn *websocket.Conn) {
	defer s.finish()
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("read loop ended", "error", err)
			break
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if !s.onFrame(data) {
			break
		}
	}
	_ = conn.Close()
	s.setStatus(StatusOffline)
}

// write sends one text frame. Writes are serialized; gorilla allows a single writer.
func (s *socket) write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return ErrNotOnline
	}

	deadline := time.Now().Add(sendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// emit hands ev to the consumer. It gives up once the socket is closed.
func (s *socket) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.quit:
		return false
	}
}

func (s *socket) setStatus(next Status) {
	s.mu.Lock()
	if s.status == next {
		s.mu.Unlock()
		return
	}
	s.status = next
	s.mu.Unlock()
	s.log.Debug("status changed", "status", next)
	s.emit(Event{Status: next})
}

// finish closes the events channel. Only the goroutine that emitted last may call it.
func (s *socket) finish() {
	s.finishOnce.Do(func() {
		close(s.events)
		close(s.done)
	})
}

func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.quit)

		s.mu.Lock()
		prev := s.state
		s.state = stateClosed
		conn := s.conn
		if prev == stateIdle {
			s.status = StatusOffline
		}
		s.mu.Unlock()

		switch prev {
		case stateIdle:
			s.finish()
		case stateRunning:
			// WriteControl may run concurrently with WriteMessage.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGrace))
			_ = conn.Close()
		}
	})
	<-s.done
	return nil
}
