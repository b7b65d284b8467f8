// Package chat holds the conversation data model shared by the transports, the message store
// and the synchronization core.
package chat

import (
	"errors"
	"strings"
)

// ErrMissingGroup is returned for a conversation key without a group.
var ErrMissingGroup = errors.New("conversation key: group is required")

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Valid reports whether s is one of the known senders.
func (s Sender) Valid() bool {
	return s == SenderUser || s == SenderBot
}

// Attachment references a file carried by a message. Kind is the file's MIME type.
type Attachment struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

// Message is one entry of a conversation.
// Ordering is by arrival; Timestamp is informational and may tie or be skewed.
type Message struct {
	ID         string      `json:"id"`
	Text       string      `json:"text"`
	Sender     Sender      `json:"sender"`
	Timestamp  int64       `json:"timestamp"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// ConversationKey identifies a chat channel and the scope of its history.
// An empty SubGroup means the sub-group is absent.
type ConversationKey struct {
	Group    string
	SubGroup string
}

const defaultRoom = "default"

// RoomID is the event-bus room name, "<group>-<subGroup|default>".
func (k ConversationKey) RoomID() string {
	sub := k.SubGroup
	if sub == "" {
		sub = defaultRoom
	}
	return k.Group + "-" + sub
}

// Validate checks that the key names a group.
func (k ConversationKey) Validate() error {
	if strings.TrimSpace(k.Group) == "" {
		return ErrMissingGroup
	}
	return nil
}

func (k ConversationKey) String() string {
	if k.SubGroup == "" {
		return k.Group
	}
	return k.Group + "/" + k.SubGroup
}
