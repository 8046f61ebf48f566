// Package preflight validates a user-composed draft against the origin
// before it becomes a renderable job: background and cover must resolve to
// exactly one file each, and every audio id token must match exactly one
// NNN_*.wav anywhere under the channel's Audio folder. A draft that fails
// is reported back as structured per-field errors instead of being
// enqueued half-formed.
package preflight

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MindDevastation/factory-vm/lifecycle"
	"github.com/MindDevastation/factory-vm/origin"
	"github.com/MindDevastation/factory-vm/store"
)

// Draft is the raw, user-submitted form fields preflight validates.
type Draft struct {
	ChannelSlug    string
	Title          string
	Description    string
	TagsCSV        string
	BackgroundName string
	BackgroundExt  string
	CoverName      string
	CoverExt       string
	AudioIDs       string // whitespace-separated tokens, e.g. "001 015"
}

type Checker struct {
	Store  *store.Store
	Origin origin.Backend
}

// FieldErrors is the structured 422 payload shape every Check failure
// returns: field name to a human-readable mismatch description.
type FieldErrors map[string]string

// Check validates draft against the origin and, on success, creates the
// release/job/asset rows, links job inputs, persists the draft fields for
// later display, and transitions the job straight to READY_FOR_RENDER. On
// failure it returns (0, fieldErrors, nil) with no job created.
func (c *Checker) Check(ctx context.Context, d Draft, now time.Time) (int64, FieldErrors, error) {
	ch, err := c.Store.GetChannelBySlug(ctx, d.ChannelSlug)
	if err == sql.ErrNoRows {
		return 0, FieldErrors{"channel": "unknown channel"}, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("preflight: channel lookup: %w", err)
	}

	base := path.Join("channels", d.ChannelSlug)
	fieldErrs := FieldErrors{}

	bgMatches, err := c.Origin.FindFile(ctx, path.Join(base, "Image"), d.BackgroundName+"."+d.BackgroundExt)
	if err != nil {
		return 0, nil, fmt.Errorf("preflight: background lookup: %w", err)
	}
	if len(bgMatches) != 1 {
		fieldErrs["background"] = fmt.Sprintf("matches=%d", len(bgMatches))
	}

	var coverMatches []string
	hasCover := d.CoverName != ""
	if hasCover {
		coverMatches, err = c.Origin.FindFile(ctx, path.Join(base, "Covers"), d.CoverName+"."+d.CoverExt)
		if err != nil {
			return 0, nil, fmt.Errorf("preflight: cover lookup: %w", err)
		}
		if len(coverMatches) != 1 {
			fieldErrs["cover"] = fmt.Sprintf("matches=%d", len(coverMatches))
		}
	}

	audioDir := path.Join(base, "Audio")
	audioEntries, err := c.Origin.EnumerateTree(ctx, audioDir)
	if err != nil {
		return 0, nil, fmt.Errorf("preflight: audio lookup: %w", err)
	}
	tokens := strings.Fields(d.AudioIDs)
	audioMatches := make([][]string, len(tokens))
	if len(tokens) == 0 {
		fieldErrs["audio"] = "no audio ids given"
	}
	for i, tok := range tokens {
		normalized, err := normalizeAudioID(tok)
		if err != nil {
			fieldErrs["audio"] = fmt.Sprintf("invalid id %q", tok)
			continue
		}
		var matches []string
		for _, e := range audioEntries {
			name := strings.ToLower(path.Base(e.RelPath))
			if !e.IsDir && strings.HasPrefix(name, normalized+"_") && strings.HasSuffix(name, ".wav") {
				matches = append(matches, e.RelPath)
			}
		}
		if len(matches) != 1 {
			fieldErrs["audio"] = fmt.Sprintf("matches=%d", len(matches))
			continue
		}
		audioMatches[i] = matches
	}

	if len(fieldErrs) > 0 {
		return 0, fieldErrs, nil
	}

	relID, err := c.Store.CreateRelease(ctx, store.Release{
		ChannelID:     ch.ID,
		Title:         d.Title,
		Description:   d.Description,
		TagsJSON:      tagsCSVToJSON(d.TagsCSV),
		OriginMetaKey: fmt.Sprintf("draft:%s:%d", d.ChannelSlug, now.UnixNano()),
	}, now)
	if err != nil {
		return 0, nil, fmt.Errorf("preflight: create release: %w", err)
	}

	jobID, err := c.Store.CreateJob(ctx, relID, lifecycle.StateDraft, lifecycle.StageImport, 0, now)
	if err != nil {
		return 0, nil, fmt.Errorf("preflight: create job: %w", err)
	}

	for i, matches := range audioMatches {
		assetID, err := c.createAssetFromPath(ctx, ch.ID, "AUDIO", matches[0], now)
		if err != nil {
			return 0, nil, err
		}
		if err := c.Store.LinkJobInput(ctx, jobID, assetID, "TRACK", i); err != nil {
			return 0, nil, fmt.Errorf("preflight: link audio input: %w", err)
		}
	}

	bgAssetID, err := c.createAssetFromPath(ctx, ch.ID, "IMAGE", bgMatches[0], now)
	if err != nil {
		return 0, nil, err
	}
	if err := c.Store.LinkJobInput(ctx, jobID, bgAssetID, "BACKGROUND", 0); err != nil {
		return 0, nil, fmt.Errorf("preflight: link background input: %w", err)
	}

	if hasCover {
		coverAssetID, err := c.createAssetFromPath(ctx, ch.ID, "IMAGE", coverMatches[0], now)
		if err != nil {
			return 0, nil, err
		}
		if err := c.Store.LinkJobInput(ctx, jobID, coverAssetID, "COVER", 0); err != nil {
			return 0, nil, fmt.Errorf("preflight: link cover input: %w", err)
		}
	}

	draft := store.UIJobDraft{
		JobID:          jobID,
		ChannelID:      ch.ID,
		Title:          d.Title,
		Description:    d.Description,
		TagsCSV:        d.TagsCSV,
		BackgroundName: d.BackgroundName,
		BackgroundExt:  d.BackgroundExt,
		AudioIDsText:   d.AudioIDs,
		CreatedAt:      float64(now.Unix()),
		UpdatedAt:      float64(now.Unix()),
	}
	if hasCover {
		draft.CoverName = sqlNullString(d.CoverName)
		draft.CoverExt = sqlNullString(d.CoverExt)
	}
	if err := c.Store.UpsertUIJobDraft(ctx, draft); err != nil {
		return 0, nil, fmt.Errorf("preflight: persist draft: %w", err)
	}

	if err := c.Store.UpdateState(ctx, jobID, lifecycle.StateReadyForRender, lifecycle.StageImport, now); err != nil {
		return 0, nil, fmt.Errorf("preflight: promote job: %w", err)
	}

	return jobID, nil, nil
}

func (c *Checker) createAssetFromPath(ctx context.Context, channelID int64, kind, relPath string, now time.Time) (int64, error) {
	return c.Store.CreateAsset(ctx, store.Asset{
		ChannelID: channelID,
		Kind:      kind,
		Origin:    "draft",
		OriginID:  sqlNullString(c.Origin.ExternalID(relPath)),
		Path:      sqlNullString(relPath),
		Name:      sqlNullString(path.Base(relPath)),
	}, float64(now.Unix()))
}

func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// normalizeAudioID turns a token like "1", "01", or "001" into its 3-digit
// form; anything non-numeric is rejected.
func normalizeAudioID(tok string) (string, error) {
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return "", fmt.Errorf("not a numeric id")
	}
	return fmt.Sprintf("%03d", n), nil
}

func tagsCSVToJSON(csv string) string {
	var tags []string
	for _, t := range strings.Split(csv, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)
	var b strings.Builder
	b.WriteString("[")
	for i, t := range tags {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(strconv.Quote(t))
	}
	b.WriteString("]")
	return b.String()
}
