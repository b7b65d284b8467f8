package store

import (
	"sync"

	"github.com/comigor/chatsync-go/internal/chat"
)

// Memory is a slice-backed Store.
type Memory struct {
	mu       sync.RWMutex
	messages []chat.Message
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(msg chat.Message) error {
	m.mu.Lock()
	m.messages = append(m.messages, cloneMessage(msg))
	m.mu.Unlock()
	return nil
}

func (m *Memory) Replace(id string, msg chat.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.messages {
		if m.messages[i].ID == id {
			m.messages[i] = cloneMessage(msg)
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ReplaceOrAppend(msg chat.Message) error {
	return replaceOrAppend(m, msg)
}

func (m *Memory) Snapshot() []chat.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]chat.Message, len(m.messages))
	for i, msg := range m.messages {
		out[i] = cloneMessage(msg)
	}
	return out
}

func (m *Memory) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			return true
		}
	}
	return false
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

func (m *Memory) Close() error { return nil }

func cloneMessage(msg chat.Message) chat.Message {
	if msg.Attachment != nil {
		a := *msg.Attachment
		msg.Attachment = &a
	}
	return msg
}
