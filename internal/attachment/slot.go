package attachment

import (
	"context"
	"errors"
	"sync"
)

// ErrSlotRejected is returned by Attach while a rejected file is still staged.
var ErrSlotRejected = errors.New("attachment slot holds a rejected file; clear it first")

// Slot stages the attachment for the next submission. A rejected file stays staged, with its
// error, until Clear is called.
type Slot struct {
	// OnPreview, when set, receives the data URL of every valid image staged by Attach. It runs
	// on its own goroutine and is skipped once the file has been replaced or cleared.
	OnPreview func(name, dataURL string)

	mu      sync.Mutex
	file    *File
	err     error
	pending bool
	gen     uint64
	cancel  context.CancelFunc
}

// Attach validates f and stages it. A previously staged valid file is replaced.
func (s *Slot) Attach(f File) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return ErrSlotRejected
	}
	s.reset()
	if _, err := Validate(f); err != nil {
		s.file, s.err, s.pending = &f, err, true
		return err
	}
	s.file, s.err, s.pending = &f, nil, true
	s.preview(f)
	return nil
}

// preview starts the data URL preview for the file just staged. Callers hold mu.
func (s *Slot) preview(f File) {
	fn := s.OnPreview
	if fn == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	gen := s.gen
	Preview(ctx, f, func(dataURL string) {
		s.mu.Lock()
		live := s.gen == gen
		s.mu.Unlock()
		if live {
			fn(f.Name, dataURL)
		}
	})
}

// reset drops the staged file's preview. Callers hold mu.
func (s *Slot) reset() {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// File returns the staged file when it is valid.
func (s *Slot) File() (*File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pending || s.err != nil {
		return nil, false
	}
	f := *s.file
	return &f, true
}

// Err is the rejection of the staged file, if any.
func (s *Slot) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Clear empties the slot.
func (s *Slot) Clear() {
	s.mu.Lock()
	s.reset()
	s.file, s.err, s.pending = nil, nil, false
	s.mu.Unlock()
}
