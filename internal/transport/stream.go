package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/comigor/chatsync-go/internal/chat"
	"github.com/comigor/chatsync-go/internal/logger"
)

// Stream speaks JSON messages over a plain websocket. It is online as soon as the handshake
// completes; frames that are not messages are passed on unrecognized.
type Stream struct {
	*socket
}

// NewStream builds a stream adapter for ws(s)://host/<path>?apiKey=&group=&subGroup=.
func NewStream(opts Options) (*Stream, error) {
	path := opts.Path
	if path == "" {
		path = defaultStreamPath
	}
	u, err := websocketURL(opts.BaseURL, path)
	if err != nil {
		return nil, err
	}
	u.RawQuery = conversationQuery(u.Query(), opts.Key, opts.Credential).Encode()

	log := logger.With("transport.stream").With("conversation", opts.Key.String(), "url", redact(u))
	s := &Stream{socket: newSocket(log, opts.Dialer, u.String(), opts.Buffer)}
	s.onOpen = func() { s.setStatus(StatusOnline) }
	s.onFrame = func(data []byte) bool {
		in := chat.ParseInbound(data)
		return s.emit(Event{Inbound: &in})
	}
	return s, nil
}

// Send writes msg as one JSON frame.
func (s *Stream) Send(ctx context.Context, msg chat.Message) error {
	if s.Status() != StatusOnline {
		return ErrNotOnline
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := s.write(ctx, data); err != nil {
		return fmt.Errorf("send message %s: %w", msg.ID, err)
	}
	return nil
}
