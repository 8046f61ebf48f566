package origin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalListChannelIncoming(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "channels", "darkwood-reverie", "incoming", "release-1"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "channels", "darkwood-reverie", "incoming", "release-2"), 0o755))

	l := NewLocal(root)
	names, err := l.ListChannelIncoming(context.Background(), "darkwood-reverie")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"release-1", "release-2"}, names)
}

func TestLocalListChannelIncomingMissingIsEmpty(t *testing.T) {
	l := NewLocal(t.TempDir())
	names, err := l.ListChannelIncoming(context.Background(), "nope")
	require.NoError(t, err)
	require.Empty(t, names)
}

func TestLocalFindFileMatchesCaseInsensitively(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "Audio")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_Some_Track.wav"), []byte("x"), 0o644))

	l := NewLocal(root)
	matches, err := l.FindFile(context.Background(), "Audio", "001_*.wav")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestLocalStageCopiesContent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "cover.png"), []byte("pngdata"), 0o644))

	l := NewLocal(root)
	dest := filepath.Join(t.TempDir(), "out", "cover.png")
	require.NoError(t, l.Stage(context.Background(), "cover.png", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "pngdata", string(got))
}

func TestMockRoundTrip(t *testing.T) {
	m := NewMock()
	m.PutFile("channels/darkwood-reverie/incoming/r1/meta.json", []byte(`{"title":"t"}`))
	m.PutFile("channels/darkwood-reverie/incoming/r1/audio/001_track.wav", []byte("wav"))

	names, err := m.ListChannelIncoming(context.Background(), "darkwood-reverie")
	require.NoError(t, err)
	require.Equal(t, []string{"r1"}, names)

	ok, err := m.FindFolder(context.Background(), "channels/darkwood-reverie/incoming/r1/audio")
	require.NoError(t, err)
	require.True(t, ok)

	matches, err := m.FindFile(context.Background(), "channels/darkwood-reverie/incoming/r1/audio", "001_*.wav")
	require.NoError(t, err)
	require.Len(t, matches, 1)

	text, err := m.ReadText(context.Background(), "channels/darkwood-reverie/incoming/r1/meta.json")
	require.NoError(t, err)
	require.Contains(t, text, "title")

	dest := filepath.Join(t.TempDir(), "001_track.wav")
	require.NoError(t, m.Stage(context.Background(), "channels/darkwood-reverie/incoming/r1/audio/001_track.wav", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "wav", string(got))
}

func TestWaitStableAcceptsFileAfterWritesFinish(t *testing.T) {
	p := filepath.Join(t.TempDir(), "growing.wav")
	require.NoError(t, os.WriteFile(p, []byte("a"), 0o644))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = os.WriteFile(p, []byte("aaaaaaaaaa"), 0o644)
	}()
	<-done

	// Not asserting the race deterministically; WaitStable with 0 wait
	// should at least succeed once the file is no longer being written.
	require.NoError(t, WaitStable(p, 0))
}
