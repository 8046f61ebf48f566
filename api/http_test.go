package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MindDevastation/factory-vm/approval"
	"github.com/MindDevastation/factory-vm/config"
	"github.com/MindDevastation/factory-vm/lifecycle"
	"github.com/MindDevastation/factory-vm/origin"
	"github.com/MindDevastation/factory-vm/preflight"
	"github.com/MindDevastation/factory-vm/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store, *origin.Mock) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "factory.db"), store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	cfg := config.Config{
		StorageRoot:      t.TempDir(),
		APIBasicAuthUser: "admin",
		APIBasicAuthPass: "secret",
	}
	originMock := origin.NewMock()
	return &Server{
		Store:     s,
		Approval:  &approval.Service{Store: s, Cfg: cfg},
		Preflight: &preflight.Checker{Store: s, Origin: originMock},
		Cfg:       cfg,
		Clock:     config.FixedTimestampGenerator{Timestamp: time.Unix(5000, 0)},
	}, s, originMock
}

func seedJob(t *testing.T, s *store.Store, state string) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.CreateRenderProfile(ctx, store.RenderProfile{
		Name: "1080p30", VideoW: 1920, VideoH: 1080, FPS: 30,
		VCodecRequired: "h264", AudioSR: 48000, AudioCh: 2, ACodecRequired: "aac",
	}))
	chID, err := s.CreateChannel(ctx, store.Channel{Slug: "darkwood-reverie", DisplayName: "Darkwood Reverie", RenderProfile: "1080p30"})
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	relID, err := s.CreateRelease(ctx, store.Release{
		ChannelID: chID, Title: "Midnight Hollow", Description: "d", TagsJSON: "[]",
		OriginMetaKey: "key-1",
	}, now)
	require.NoError(t, err)
	jobID, err := s.CreateJob(ctx, relID, state, "APPROVAL", 0, now)
	require.NoError(t, err)
	return jobID
}

func do(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.SetBasicAuth("admin", "secret")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestApproveEndpointHappyPath(t *testing.T) {
	srv, s, _ := newTestServer(t)
	jobID := seedJob(t, s, lifecycle.StateWaitApproval)

	rec := do(t, srv, http.MethodPost, jobPath(jobID, "approve"), map[string]string{"comment": "lgtm"})
	require.Equal(t, http.StatusOK, rec.Code)

	job, err := s.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StateApproved, job.State)
}

func TestApproveEndpointConflictWhenNotWaitApproval(t *testing.T) {
	srv, s, _ := newTestServer(t)
	jobID := seedJob(t, s, lifecycle.StateRendering)

	rec := do(t, srv, http.MethodPost, jobPath(jobID, "approve"), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCancelEndpointConflictOnTerminal(t *testing.T) {
	srv, s, _ := newTestServer(t)
	jobID := seedJob(t, s, lifecycle.StatePublished)

	rec := do(t, srv, http.MethodPost, jobPath(jobID, "cancel"), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestMarkPublishedEndpointReturnsDeleteAt(t *testing.T) {
	srv, s, _ := newTestServer(t)
	jobID := seedJob(t, s, lifecycle.StateApproved)

	rec := do(t, srv, http.MethodPost, jobPath(jobID, "mark_published"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		OK          bool  `json:"ok"`
		DeleteMP4At int64 `json:"delete_mp4_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.True(t, payload.OK)
	require.Equal(t, int64(5000)+int64(config.RetentionWindow.Seconds()), payload.DeleteMP4At)
}

func TestEndpointsRequireBasicAuth(t *testing.T) {
	srv, s, _ := newTestServer(t)
	jobID := seedJob(t, s, lifecycle.StateWaitApproval)

	req := httptest.NewRequest(http.MethodGet, jobPathGet(jobID), nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetJobReturns404ForUnknownID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, jobPathGet(999), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateDraftEndpointPromotesValidDraft(t *testing.T) {
	srv, s, om := newTestServer(t)
	ctx := context.Background()
	_, err := s.CreateChannel(ctx, store.Channel{Slug: "darkwood-reverie", DisplayName: "Darkwood Reverie", RenderProfile: "1080p30"})
	require.NoError(t, err)
	om.PutFile("channels/darkwood-reverie/Image/cover_bg.jpg", []byte("bg"))
	om.PutFile("channels/darkwood-reverie/Audio/001_opening.wav", []byte("a"))

	rec := do(t, srv, http.MethodPost, "/v1/drafts", map[string]string{
		"ChannelSlug":    "darkwood-reverie",
		"Title":          "Midnight Hollow",
		"Description":    "an ambient set",
		"BackgroundName": "cover_bg",
		"BackgroundExt":  "jpg",
		"AudioIDs":       "1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var payload struct {
		JobID int64 `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.NotZero(t, payload.JobID)

	job, err := s.GetJob(ctx, payload.JobID)
	require.NoError(t, err)
	require.Equal(t, lifecycle.StateReadyForRender, job.State)
}

func TestCreateDraftEndpointReturnsFieldErrors(t *testing.T) {
	srv, s, _ := newTestServer(t)
	ctx := context.Background()
	_, err := s.CreateChannel(ctx, store.Channel{Slug: "darkwood-reverie", DisplayName: "Darkwood Reverie", RenderProfile: "1080p30"})
	require.NoError(t, err)

	rec := do(t, srv, http.MethodPost, "/v1/drafts", map[string]string{
		"ChannelSlug":    "darkwood-reverie",
		"BackgroundName": "missing",
		"BackgroundExt":  "jpg",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func jobPath(id int64, action string) string {
	return "/v1/jobs/" + strconv.FormatInt(id, 10) + "/" + action
}

func jobPathGet(id int64) string {
	return "/v1/jobs/" + strconv.FormatInt(id, 10)
}
