// Package store holds the canonical, insertion-ordered message log of one chat session.
//
// Entries are never deleted and never re-sorted. A confirmation replaces its optimistic
// counterpart in place, keeping its position. Deduplication is left to the caller.
package store

import (
	"fmt"
	"strings"

	"github.com/comigor/chatsync-go/internal/chat"
	"github.com/comigor/chatsync-go/internal/logger"
)

// Store is an ordered message log. Implementations are safe for concurrent readers; mutations
// are expected from a single owner.
type Store interface {
	// Append adds msg at the end.
	Append(msg chat.Message) error
	// Replace swaps the first entry whose id is id for msg. It reports whether one was found.
	Replace(id string, msg chat.Message) (bool, error)
	// ReplaceOrAppend replaces the entry sharing msg's id, or appends msg.
	ReplaceOrAppend(msg chat.Message) error
	// Snapshot returns a copy of the log in insertion order.
	Snapshot() []chat.Message
	// Has reports whether an entry with the given id exists.
	Has(id string) bool
	Len() int
	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Open returns a store for driver. When sqlite cannot be opened the memory store is used
// instead, so a session never starts without a log.
func Open(driver string) (Store, error) {
	switch strings.ToLower(driver) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		s, err := OpenSQLite()
		if err != nil {
			logger.L.Warn("sqlite store unavailable; using in-memory store", "error", err)
			return NewMemory(), nil
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func replaceOrAppend(s Store, msg chat.Message) error {
	ok, err := s.Replace(msg.ID, msg)
	if err != nil || ok {
		return err
	}
	return s.Append(msg)
}
