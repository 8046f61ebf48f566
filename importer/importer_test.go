package importer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MindDevastation/factory-vm/lifecycle"
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

func seedChannel(t *testing.T, s *store.Store) store.Channel {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateChannel(ctx, store.Channel{
		Slug:          "darkwood-reverie",
		DisplayName:   "Darkwood Reverie",
		RenderProfile: "1080p30",
	})
	require.NoError(t, err)
	ch, err := s.GetChannelByID(ctx, id)
	require.NoError(t, err)
	return *ch
}

const releaseMeta = `{
	"channel_slug": "darkwood-reverie",
	"title": "Midnight Hollow",
	"description": "an ambient set",
	"tags": ["ambient", "dark"],
	"planned_at": "2026-08-01T00:00:00Z",
	"assets": {"audio": ["001_midnight_hollow.wav"], "cover": "background.png"}
}`

func TestRunCycleCreatesReadyJobWhenInputsPresent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ch := seedChannel(t, s)

	m := origin.NewMock()
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/meta.json", []byte(releaseMeta))
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/audio/001_midnight_hollow.wav", []byte("wav"))
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/images/background.png", []byte("png"))

	im := &Importer{Store: s, Origin: m}
	now := time.Unix(1000, 0)

	stats, err := im.RunCycle(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ReleasesCreated)
	require.Equal(t, 0, stats.Errors)

	rel, err := s.GetReleaseByOriginMetaKey(ctx, m.ExternalID("channels/darkwood-reverie/incoming/midnight-hollow/meta.json"))
	require.NoError(t, err)
	require.NotNil(t, rel)
	require.Equal(t, ch.ID, rel.ChannelID)
	require.Equal(t, "Midnight Hollow", rel.Title)

	job, err := s.GetJobByReleaseID(ctx, rel.ID)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, lifecycle.StateReadyForRender, job.State)

	inputs, err := s.ListJobInputs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, inputs, 2)
}

func TestRunCycleWaitsForMissingInputs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedChannel(t, s)

	m := origin.NewMock()
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/meta.json", []byte(releaseMeta))

	im := &Importer{Store: s, Origin: m}
	now := time.Unix(1000, 0)

	stats, err := im.RunCycle(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ReleasesCreated)

	rel, err := s.GetReleaseByOriginMetaKey(ctx, m.ExternalID("channels/darkwood-reverie/incoming/midnight-hollow/meta.json"))
	require.NoError(t, err)
	job, err := s.GetJobByReleaseID(ctx, rel.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StateWaitingInputs, job.State)

	// inputs show up on a later scan
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/audio/001_midnight_hollow.wav", []byte("wav"))
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/images/background.png", []byte("png"))

	stats, err = im.RunCycle(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, stats.JobsPromoted)
	require.Equal(t, 0, stats.ReleasesCreated)

	job, err = s.GetJobByReleaseID(ctx, rel.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StateReadyForRender, job.State)
}

func TestRunCycleResolvesAssetsFromManifestNotEnumeration(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedChannel(t, s)

	meta := `{
		"channel_slug": "darkwood-reverie",
		"title": "Midnight Hollow",
		"description": "an ambient set",
		"tags": ["ambient", "dark"],
		"assets": {"audio": ["002_second.wav", "001_first.wav"], "cover": "cover.png"}
	}`

	m := origin.NewMock()
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/meta.json", []byte(meta))
	// Enumeration order (alphabetical) is the reverse of manifest order, and
	// there's an extra unlisted audio file and a second image that must
	// never be linked as inputs.
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/audio/001_first.wav", []byte("wav"))
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/audio/002_second.wav", []byte("wav"))
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/audio/999_unlisted.wav", []byte("wav"))
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/images/cover.png", []byte("png"))
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/images/unlisted.png", []byte("png"))

	im := &Importer{Store: s, Origin: m}
	now := time.Unix(1000, 0)

	stats, err := im.RunCycle(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ReleasesCreated)

	rel, err := s.GetReleaseByOriginMetaKey(ctx, m.ExternalID("channels/darkwood-reverie/incoming/midnight-hollow/meta.json"))
	require.NoError(t, err)
	job, err := s.GetJobByReleaseID(ctx, rel.ID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StateReadyForRender, job.State)

	inputs, err := s.ListJobInputs(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, inputs, 3)

	var tracks []store.JobInput
	var covers []store.JobInput
	for _, in := range inputs {
		switch in.Role {
		case "TRACK":
			tracks = append(tracks, in)
		case "COVER":
			covers = append(covers, in)
		case "BACKGROUND":
			t.Fatalf("cover must be linked as COVER, never BACKGROUND: %+v", in)
		}
	}
	require.Len(t, covers, 1)
	require.Equal(t, "cover.png", covers[0].Asset.Name.String)

	require.Len(t, tracks, 2)
	require.Equal(t, 0, tracks[0].OrderIndex)
	require.Equal(t, "002_second.wav", tracks[0].Asset.Name.String)
	require.Equal(t, 1, tracks[1].OrderIndex)
	require.Equal(t, "001_first.wav", tracks[1].Asset.Name.String)
}

func TestRunCycleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedChannel(t, s)

	m := origin.NewMock()
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/meta.json", []byte(releaseMeta))
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/audio/001_midnight_hollow.wav", []byte("wav"))
	m.PutFile("channels/darkwood-reverie/incoming/midnight-hollow/images/background.png", []byte("png"))

	im := &Importer{Store: s, Origin: m}
	now := time.Unix(1000, 0)

	_, err := im.RunCycle(ctx, now)
	require.NoError(t, err)

	stats, err := im.RunCycle(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 0, stats.ReleasesCreated)
	require.Equal(t, 0, stats.JobsPromoted)

	releases, err := s.DB().QueryContext(ctx, "SELECT COUNT(*) FROM releases")
	require.NoError(t, err)
	defer releases.Close()
	require.True(t, releases.Next())
	var count int
	require.NoError(t, releases.Scan(&count))
	require.Equal(t, 1, count)
}
