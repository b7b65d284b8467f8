package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/comigor/chatsync-go/internal/chat"
	"github.com/comigor/chatsync-go/internal/chatsync"
	"github.com/comigor/chatsync-go/internal/transport"
)

// view prints what changed between two states of the mounted conversation.
// Entries already printed are not reprinted when a confirmation replaces them.
type view struct {
	mu      sync.Mutex
	out     io.Writer
	key     chat.ConversationKey
	printed int
	status  transport.Status
	typing  bool
}

func newView(out io.Writer) *view {
	return &view{out: out}
}

func (v *view) hooks() chatsync.Hooks {
	return chatsync.Hooks{
		OnChange: v.render,
		OnError: func(err error) {
			v.printf("! %v\n", err)
		},
		OnPreview: func(id, dataURL string) {
			v.printf("  [preview ready for %s, %d bytes]\n", id, len(dataURL))
		},
	}
}

func (v *view) render(s chatsync.State) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s.Key != v.key {
		v.key, v.printed, v.status, v.typing = s.Key, 0, "", false
		fmt.Fprintf(v.out, "== %s ==\n", s.Key)
	}
	if s.Status != v.status {
		v.status = s.Status
		fmt.Fprintf(v.out, "[%s]\n", s.Status)
	}
	for ; v.printed < len(s.Messages); v.printed++ {
		fmt.Fprintln(v.out, formatMessage(s.Messages[v.printed]))
	}
	if s.Typing && !v.typing {
		fmt.Fprintln(v.out, "  ...")
	}
	v.typing = s.Typing
}

func (v *view) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintf(v.out, format, args...)
}

func formatMessage(m chat.Message) string {
	var b strings.Builder
	if m.Timestamp > 0 {
		b.WriteString(time.UnixMilli(m.Timestamp).Format("15:04:05"))
		b.WriteByte(' ')
	}
	b.WriteString(string(m.Sender))
	b.WriteString(": ")
	b.WriteString(m.Text)
	if a := m.Attachment; a != nil {
		if m.Text != "" {
			b.WriteByte(' ')
		}
		b.WriteString("[" + a.Kind)
		if a.URL != "" {
			b.WriteString(" " + a.URL)
		}
		b.WriteString("]")
	}
	return b.String()
}
