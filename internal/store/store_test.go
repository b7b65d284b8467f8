package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/chatsync-go/internal/chat"
)

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite()
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func msg(id, text string, sender chat.Sender, ts int64) chat.Message {
	return chat.Message{ID: id, Text: text, Sender: sender, Timestamp: ts}
}

func TestStore_AppendKeepsCallOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		var want []chat.Message
		// timestamps deliberately out of order and tied
		for i, ts := range []int64{30, 10, 10, 20, 5} {
			m := msg(fmt.Sprintf("m%d", i), fmt.Sprintf("text %d", i), chat.SenderBot, ts)
			require.NoError(t, s.Append(m))
			want = append(want, m)
		}
		require.Equal(t, want, s.Snapshot())
		require.Equal(t, 5, s.Len())
	})
}

func TestStore_EmptySnapshot(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		require.Empty(t, s.Snapshot())
		require.Equal(t, 0, s.Len())
		require.False(t, s.Has("x"))
	})
}

func TestStore_ReplaceKeepsPosition(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		require.NoError(t, s.Append(msg("a", "first", chat.SenderBot, 1)))
		require.NoError(t, s.Append(msg("msg-2", "hi", chat.SenderUser, 2)))
		require.NoError(t, s.Append(msg("c", "third", chat.SenderBot, 3)))

		confirmed := chat.Message{ID: "srv-9", Text: "hi", Sender: chat.SenderUser, Timestamp: 4,
			Attachment: &chat.Attachment{URL: "https://cdn/x.png", Kind: "image/png"}}
		ok, err := s.Replace("msg-2", confirmed)
		require.NoError(t, err)
		require.True(t, ok)

		got := s.Snapshot()
		require.Len(t, got, 3)
		require.Equal(t, confirmed, got[1])
		require.True(t, s.Has("srv-9"))
		require.False(t, s.Has("msg-2"))

		ok, err = s.Replace("missing", msg("z", "z", chat.SenderBot, 1))
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, 3, s.Len())
	})
}

func TestStore_ReplaceOrAppend(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		require.NoError(t, s.ReplaceOrAppend(msg("a", "v1", chat.SenderBot, 1)))
		require.NoError(t, s.ReplaceOrAppend(msg("b", "v1", chat.SenderBot, 2)))
		require.NoError(t, s.ReplaceOrAppend(msg("a", "v2", chat.SenderBot, 3)))

		got := s.Snapshot()
		require.Equal(t, []chat.Message{msg("a", "v2", chat.SenderBot, 3), msg("b", "v1", chat.SenderBot, 2)}, got)
	})
}

func TestStore_DoesNotDedup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		require.NoError(t, s.Append(msg("same", "x", chat.SenderUser, 1)))
		require.NoError(t, s.Append(msg("same", "x", chat.SenderUser, 1)))
		require.Equal(t, 2, s.Len())
	})
}

func TestMemory_SnapshotIsACopy(t *testing.T) {
	s := NewMemory()
	require.NoError(t, s.Append(chat.Message{ID: "a", Text: "x", Sender: chat.SenderBot,
		Attachment: &chat.Attachment{URL: "u", Kind: "image/png"}}))

	snap := s.Snapshot()
	snap[0].Text = "mutated"
	snap[0].Attachment.URL = "mutated"

	again := s.Snapshot()
	require.Equal(t, "x", again[0].Text)
	require.Equal(t, "u", again[0].Attachment.URL)
}

func TestOpen(t *testing.T) {
	s, err := Open("")
	require.NoError(t, err)
	require.IsType(t, &Memory{}, s)

	s, err = Open("SQLite")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.IsType(t, &SQLite{}, s)

	_, err = Open("redis")
	require.Error(t, err)
}
