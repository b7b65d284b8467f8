package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/require"

	"github.com/comigor/chatsync-go/internal/attachment"
	"github.com/comigor/chatsync-go/internal/chat"
	"github.com/comigor/chatsync-go/internal/chatsync"
	"github.com/comigor/chatsync-go/internal/transport"
)

type mockSubmitter struct {
	SubmitFunc func(ctx context.Context, text string, file *attachment.File) (chat.Message, error)
	texts      []string
	files      []*attachment.File
}

func (m *mockSubmitter) Submit(ctx context.Context, text string, file *attachment.File) (chat.Message, error) {
	m.texts = append(m.texts, text)
	m.files = append(m.files, file)
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, text, file)
	}
	return chat.Message{ID: "msg-1", Text: text, Sender: chat.SenderUser}, nil
}

type scriptedReader struct {
	lines []string
	errs  []error
}

func (s *scriptedReader) Readline() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line, err := s.lines[0], s.errs[0]
	s.lines, s.errs = s.lines[1:], s.errs[1:]
	return line, err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestPrompt_AttachThenSend(t *testing.T) {
	var out bytes.Buffer
	sub := &mockSubmitter{}
	p := &prompt{core: sub, out: &out}

	require.False(t, p.handle(context.Background(), "/attach "+writeFile(t, "scan.png", []byte("png"))))
	require.Contains(t, out.String(), "attached scan.png (image/png, 3 bytes)")

	require.False(t, p.handle(context.Background(), "see file"))
	require.Equal(t, []string{"see file"}, sub.texts)
	require.NotNil(t, sub.files[0])
	require.Equal(t, "image/png", sub.files[0].Type)

	_, staged := p.slot.File()
	require.False(t, staged, "slot is cleared after a send")
}

func TestPrompt_RejectedAttachmentBlocksUntilCleared(t *testing.T) {
	var out bytes.Buffer
	sub := &mockSubmitter{}
	p := &prompt{core: sub, out: &out}

	p.handle(context.Background(), "/attach "+writeFile(t, "notes.txt", []byte("hi")))
	require.ErrorIs(t, p.slot.Err(), attachment.ErrInvalidType)

	p.handle(context.Background(), "hello")
	require.Empty(t, sub.texts)
	require.Contains(t, out.String(), "/clear")

	p.handle(context.Background(), "/clear")
	p.handle(context.Background(), "hello")
	require.Equal(t, []string{"hello"}, sub.texts)
	require.Nil(t, sub.files[0])
}

func TestPrompt_SendFailureClearsSlot(t *testing.T) {
	var out bytes.Buffer
	sub := &mockSubmitter{SubmitFunc: func(ctx context.Context, text string, file *attachment.File) (chat.Message, error) {
		return chat.Message{}, chatsync.ErrSendFailed
	}}
	p := &prompt{core: sub, out: &out}

	p.handle(context.Background(), "/attach "+writeFile(t, "doc.pdf", []byte("%PDF-1.4")))
	p.handle(context.Background(), "report")
	_, staged := p.slot.File()
	require.False(t, staged)
	require.NotContains(t, out.String(), "!")
}

func TestPrompt_AttachUsage(t *testing.T) {
	var out bytes.Buffer
	p := &prompt{core: &mockSubmitter{}, out: &out}
	p.handle(context.Background(), "/attach")
	require.Contains(t, out.String(), "usage")
}

func TestRepl_QuitAndEOF(t *testing.T) {
	sub := &mockSubmitter{}
	p := &prompt{core: sub, out: io.Discard}

	r := &scriptedReader{lines: []string{"one", "/quit", "never"}, errs: []error{nil, nil, nil}}
	require.NoError(t, repl(context.Background(), r, p))
	require.Equal(t, []string{"one"}, sub.texts)

	r = &scriptedReader{lines: []string{"partial", ""}, errs: []error{readline.ErrInterrupt, readline.ErrInterrupt}}
	require.NoError(t, repl(context.Background(), r, p))
	require.Equal(t, []string{"one"}, sub.texts)

	require.NoError(t, repl(context.Background(), &scriptedReader{}, p))
}

func TestView_PrintsOnlyChanges(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out)
	key := chat.ConversationKey{Group: "g1"}

	v.render(chatsync.State{Key: key, Status: transport.StatusOnline})
	v.render(chatsync.State{Key: key, Status: transport.StatusOnline, Messages: []chat.Message{
		{ID: "1", Text: "hi", Sender: chat.SenderUser},
	}})
	v.render(chatsync.State{Key: key, Status: transport.StatusOnline, Typing: true, Messages: []chat.Message{
		{ID: "srv-1", Text: "hi", Sender: chat.SenderUser},
		{ID: "2", Text: "typing?", Sender: chat.SenderUser},
	}})
	v.render(chatsync.State{Key: key, Status: transport.StatusOffline, Messages: []chat.Message{
		{ID: "srv-1", Text: "hi", Sender: chat.SenderUser},
		{ID: "2", Text: "typing?", Sender: chat.SenderUser},
		{ID: "3", Text: "", Sender: chat.SenderBot, Attachment: &chat.Attachment{URL: "https://cdn/a.pdf", Kind: "application/pdf"}},
	}})

	require.Equal(t, "== g1 ==\n[online]\nuser: hi\nuser: typing?\n  ...\n[offline]\nbot: [application/pdf https://cdn/a.pdf]\n", out.String())
}
