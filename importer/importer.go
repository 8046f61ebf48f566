// Package importer scans a pluggable origin for new release manifests,
// materializes releases, jobs, and asset links, and promotes waiting jobs
// once their inputs appear. The scan loop is idempotent: a release folder
// is only ever turned into one release row, keyed off the backend's
// external ID for its meta.json.
package importer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/MindDevastation/factory-vm/lifecycle"
	"github.com/MindDevastation/factory-vm/log"
	"github.com/MindDevastation/factory-vm/origin"
	"github.com/MindDevastation/factory-vm/store"
)

type Importer struct {
	Store  *store.Store
	Origin origin.Backend
}

// Stats summarizes one RunCycle invocation for logging/metrics.
type Stats struct {
	ReleasesCreated int
	JobsPromoted    int
	Errors          int
}

// RunCycle sweeps every configured channel's incoming folder once. Safe
// to call repeatedly: a release already materialized (by origin meta key)
// is never re-created, and a WAITING_INPUTS job is promoted at most once
// since promotion flips its state away from WAITING_INPUTS.
func (im *Importer) RunCycle(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	channels, err := im.Store.ListChannels(ctx)
	if err != nil {
		return stats, fmt.Errorf("importer: list channels: %w", err)
	}

	for _, ch := range channels {
		releaseNames, err := im.Origin.ListChannelIncoming(ctx, ch.Slug)
		if err != nil {
			log.LogError("importer", "list channel incoming failed", err, "channel", ch.Slug)
			stats.Errors++
			continue
		}
		for _, name := range releaseNames {
			if err := im.importOne(ctx, ch, name, now, &stats); err != nil {
				log.LogError("importer", "import release failed", err, "channel", ch.Slug, "release", name)
				stats.Errors++
			}
		}
	}
	return stats, nil
}

func (im *Importer) importOne(ctx context.Context, ch store.Channel, releaseName string, now time.Time, stats *Stats) error {
	base := path.Join("channels", ch.Slug, "incoming", releaseName)
	metaPath := path.Join(base, "meta.json")

	metaKey := im.Origin.ExternalID(metaPath)
	existing, err := im.Store.GetReleaseByOriginMetaKey(ctx, metaKey)
	if err != nil {
		return fmt.Errorf("lookup existing release: %w", err)
	}

	audioDir := path.Join(base, "audio")
	imagesDir := path.Join(base, "images")
	hasAudio, err := im.Origin.FindFolder(ctx, audioDir)
	if err != nil {
		return err
	}
	hasImages, err := im.Origin.FindFolder(ctx, imagesDir)
	if err != nil {
		return err
	}
	ready := hasAudio && hasImages

	if existing != nil {
		if !ready {
			return nil
		}
		job, err := im.Store.GetJobByReleaseID(ctx, existing.ID)
		if err != nil {
			return fmt.Errorf("lookup job for release: %w", err)
		}
		if job == nil || job.State != lifecycle.StateWaitingInputs {
			return nil // already promoted or not ours to touch
		}
		text, err := im.Origin.ReadText(ctx, metaPath)
		if err != nil {
			return fmt.Errorf("read meta.json: %w", err)
		}
		meta, err := parseMeta(text)
		if err != nil {
			return fmt.Errorf("parse meta.json: %w", err)
		}
		if err := im.attachInputsAndPromote(ctx, ch, job.ID, base, meta, now); err != nil {
			return err
		}
		stats.JobsPromoted++
		return nil
	}

	text, err := im.Origin.ReadText(ctx, metaPath)
	if err != nil {
		return fmt.Errorf("read meta.json: %w", err)
	}
	meta, err := parseMeta(text)
	if err != nil {
		return fmt.Errorf("parse meta.json: %w", err)
	}
	tagsJSON, err := json.Marshal(meta.Tags)
	if err != nil {
		return err
	}

	relID, err := im.Store.CreateRelease(ctx, store.Release{
		ChannelID:     ch.ID,
		Title:         meta.Title,
		Description:   meta.Description,
		TagsJSON:      string(tagsJSON),
		OriginMetaKey: metaKey,
	}, now)
	if err != nil {
		return fmt.Errorf("create release: %w", err)
	}

	initialState := lifecycle.StateWaitingInputs
	if ready {
		initialState = lifecycle.StateReadyForRender
	}
	jobID, err := im.Store.CreateJob(ctx, relID, initialState, lifecycle.StageImport, 0, now)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	stats.ReleasesCreated++

	if ready {
		if err := im.attachInputsAndPromote(ctx, ch, jobID, base, meta, now); err != nil {
			return err
		}
	}
	return nil
}

// attachInputsAndPromote links TRACK/COVER input assets for a release
// whose audio/ and images/ folders are now present, then promotes the job
// to READY_FOR_RENDER (a no-op state write if it's already there). Assets
// are resolved from meta.json's own manifest -- assets.audio in manifest
// order, assets.cover as the single cover file -- by filename lookup under
// audio/images, never by enumerating whatever else happens to sit in those
// folders. A manifest entry that doesn't resolve to a file is skipped, not
// fatal: the orchestrator's own "missing inputs" check catches a release
// left with too few tracks or no background/cover at all.
func (im *Importer) attachInputsAndPromote(ctx context.Context, ch store.Channel, jobID int64, base string, meta Meta, now time.Time) error {
	audioDir := path.Join(base, "audio")
	imagesDir := path.Join(base, "images")

	order := 0
	for _, ap := range meta.Assets.Audio {
		matches, err := im.Origin.FindFile(ctx, audioDir, path.Base(ap))
		if err != nil {
			return fmt.Errorf("find audio %q: %w", ap, err)
		}
		if len(matches) == 0 {
			continue
		}
		relPath := matches[0]
		assetID, err := im.Store.CreateAsset(ctx, store.Asset{
			ChannelID: ch.ID,
			Kind:      "AUDIO",
			Origin:    "import",
			OriginID:  sqlNullString(im.Origin.ExternalID(relPath)),
			Path:      sqlNullString(relPath),
			Name:      sqlNullString(path.Base(relPath)),
		}, float64(now.Unix()))
		if err != nil {
			return fmt.Errorf("create audio asset: %w", err)
		}
		if err := im.Store.LinkJobInput(ctx, jobID, assetID, "TRACK", order); err != nil {
			return fmt.Errorf("link audio input: %w", err)
		}
		order++
	}

	if meta.Assets.Cover != "" {
		matches, err := im.Origin.FindFile(ctx, imagesDir, path.Base(meta.Assets.Cover))
		if err != nil {
			return fmt.Errorf("find cover %q: %w", meta.Assets.Cover, err)
		}
		if len(matches) > 0 {
			relPath := matches[0]
			assetID, err := im.Store.CreateAsset(ctx, store.Asset{
				ChannelID: ch.ID,
				Kind:      "IMAGE",
				Origin:    "import",
				OriginID:  sqlNullString(im.Origin.ExternalID(relPath)),
				Path:      sqlNullString(relPath),
				Name:      sqlNullString(path.Base(relPath)),
			}, float64(now.Unix()))
			if err != nil {
				return fmt.Errorf("create cover asset: %w", err)
			}
			if err := im.Store.LinkJobInput(ctx, jobID, assetID, "COVER", 0); err != nil {
				return fmt.Errorf("link cover input: %w", err)
			}
		}
	}

	return im.Store.UpdateState(ctx, jobID, lifecycle.StateReadyForRender, lifecycle.StageImport, now)
}

func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
