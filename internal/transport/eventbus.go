package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/comigor/chatsync-go/internal/chat"
	"github.com/comigor/chatsync-go/internal/logger"
)

// Engine.IO v4 packet types, the first byte of every websocket frame.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
)

// Socket.IO v5 packet types, the first byte of an engine message.
const (
	packetConnect      = '0'
	packetDisconnect   = '1'
	packetEvent        = '2'
	packetConnectError = '4'
)

const (
	eventInbound  = "message"
	eventOutbound = "send-message"
	outboundType  = "user-message"
	eventBusPath  = "/socket.io/"
)

// EventBus talks to a socket.io server over its websocket transport. The conversation key and
// credential travel in the connection query, which is how the server places the client in its
// room; there is no separate join event. It is online once the default namespace accepts the
// connection.
type EventBus struct {
	*socket
	room string
}

type outboundPayload struct {
	ID         string           `json:"id"`
	Content    string           `json:"content"`
	Sender     chat.Sender      `json:"sender"`
	RoomID     string           `json:"roomId"`
	Timestamp  int64            `json:"timestamp"`
	Type       string           `json:"type"`
	Attachment *chat.Attachment `json:"attachment,omitempty"`
}

// NewEventBus builds an event-bus adapter for <base>/socket.io/?EIO=4&transport=websocket&...
func NewEventBus(opts Options) (*EventBus, error) {
	u, err := websocketURL(opts.BaseURL, eventBusPath)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = conversationQuery(q, opts.Key, opts.Credential).Encode()

	log := logger.With("transport.eventbus").With("conversation", opts.Key.String(), "url", redact(u))
	b := &EventBus{
		socket: newSocket(log, opts.Dialer, u.String(), opts.Buffer),
		room:   opts.Key.RoomID(),
	}
	b.onFrame = b.handleFrame
	return b, nil
}

// Send emits msg as a send-message event.
func (b *EventBus) Send(ctx context.Context, msg chat.Message) error {
	if b.Status() != StatusOnline {
		return ErrNotOnline
	}
	frame, err := encodeEvent(eventOutbound, outboundPayload{
		ID:         msg.ID,
		Content:    msg.Text,
		Sender:     msg.Sender,
		RoomID:     b.room,
		Timestamp:  msg.Timestamp,
		Type:       outboundType,
		Attachment: msg.Attachment,
	})
	if err != nil {
		return err
	}
	if err := b.write(ctx, frame); err != nil {
		return fmt.Errorf("send message %s: %w", msg.ID, err)
	}
	return nil
}

// Close leaves the namespace before closing the websocket.
func (b *EventBus) Close() error {
	if b.Status() == StatusOnline {
		ctx, cancel := context.WithTimeout(context.Background(), closeGrace)
		_ = b.write(ctx, []byte{engineMessage, packetDisconnect})
		cancel()
	}
	return b.socket.Close()
}

func (b *EventBus) handleFrame(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	switch data[0] {
	case engineOpen:
		// join the default namespace
		return b.reply([]byte{engineMessage, packetConnect})
	case enginePing:
		return b.reply([]byte{enginePong})
	case engineClose:
		return false
	case engineMessage:
		return b.handlePacket(data[1:])
	}
	return true
}

func (b *EventBus) reply(frame []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.write(ctx, frame); err != nil {
		b.log.Debug("engine reply failed", "error", err)
		return false
	}
	return true
}

func (b *EventBus) handlePacket(p []byte) bool {
	if len(p) == 0 {
		return true
	}
	switch p[0] {
	case packetConnect:
		b.setStatus(StatusOnline)
	case packetDisconnect:
		return false
	case packetConnectError:
		b.log.Warn("namespace connection refused", "detail", string(p[1:]))
		return false
	case packetEvent:
		name, payload, ok := decodeEvent(p[1:])
		if !ok {
			b.log.Debug("malformed event packet", "packet", string(p))
			return true
		}
		if name != eventInbound {
			return true
		}
		in := inboundFromPayload(payload)
		return b.emit(Event{Inbound: &in})
	}
	return true
}

// decodeEvent reads `[/nsp,][ackID]["name", payload]`.
func decodeEvent(body []byte) (string, json.RawMessage, bool) {
	if len(body) > 0 && body[0] == '/' {
		i := bytes.IndexByte(body, ',')
		if i < 0 {
			return "", nil, false
		}
		body = body[i+1:]
	}
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	var args []json.RawMessage
	if err := json.Unmarshal(body[i:], &args); err != nil || len(args) == 0 {
		return "", nil, false
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return "", nil, false
	}
	if len(args) < 2 {
		return name, nil, true
	}
	return name, args[1], true
}

// inboundFromPayload treats a string payload as a raw frame, so plain-text emits fall back to
// bot messages like they do on the stream transport.
func inboundFromPayload(payload json.RawMessage) chat.Inbound {
	var text string
	if err := json.Unmarshal(payload, &text); err == nil {
		return chat.ParseInbound([]byte(text))
	}
	return chat.ParseInbound(payload)
}

func encodeEvent(name string, payload any) ([]byte, error) {
	args, err := json.Marshal([]any{name, payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", name, err)
	}
	return append([]byte{engineMessage, packetEvent}, args...), nil
}
