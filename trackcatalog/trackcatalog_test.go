package trackcatalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MindDevastation/factory-vm/origin"
	"github.com/MindDevastation/factory-vm/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "factory.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunCycleDiscoversTracks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.CreateChannel(ctx, store.Channel{Slug: "darkwood-reverie", DisplayName: "Darkwood Reverie", RenderProfile: "1080p30"})
	require.NoError(t, err)

	m := origin.NewMock()
	m.PutFile("channels/darkwood-reverie/Audio/001_opening.wav", []byte("a"))
	m.PutFile("channels/darkwood-reverie/Audio/015_closing.wav", []byte("a"))
	m.PutFile("channels/darkwood-reverie/Audio/readme.txt", []byte("not a track"))

	c := &Catalog{Store: s, Origin: m}
	stats, err := c.RunCycle(ctx, time.Unix(1000, 0))
	require.NoError(t, err)
	require.Equal(t, 2, stats.Discovered)

	tracks, err := s.ListTracksByChannel(ctx, "darkwood-reverie")
	require.NoError(t, err)
	require.Len(t, tracks, 2)
}

func TestRunCycleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.CreateChannel(ctx, store.Channel{Slug: "darkwood-reverie", DisplayName: "Darkwood Reverie", RenderProfile: "1080p30"})
	require.NoError(t, err)

	m := origin.NewMock()
	m.PutFile("channels/darkwood-reverie/Audio/001_opening.wav", []byte("a"))

	c := &Catalog{Store: s, Origin: m}
	_, err = c.RunCycle(ctx, time.Unix(1000, 0))
	require.NoError(t, err)
	_, err = c.RunCycle(ctx, time.Unix(2000, 0))
	require.NoError(t, err)

	tracks, err := s.ListTracksByChannel(ctx, "darkwood-reverie")
	require.NoError(t, err)
	require.Len(t, tracks, 1)
}
