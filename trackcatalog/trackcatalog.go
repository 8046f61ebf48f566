// Package trackcatalog runs the secondary discovery cycle that keeps the
// tracks table in sync with each channel's Audio/ folder. It shares the
// origin interface with the importer and draft preflight but does no
// audio analysis of its own -- just bookkeeping of what exists, upserted
// by origin file id so a rediscovered file never duplicates.
package trackcatalog

import (
	"context"
	"database/sql"
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/MindDevastation/factory-vm/origin"
	"github.com/MindDevastation/factory-vm/store"
)

type Catalog struct {
	Store  *store.Store
	Origin origin.Backend
}

// Stats summarizes one RunCycle invocation.
type Stats struct {
	Discovered int
	Errors     int
}

var trackIDPattern = regexp.MustCompile(`(?i)^(\d{3})_.*\.wav$`)

// RunCycle sweeps every configured channel's Audio/ folder once, upserting
// a tracks row for every NNN_*.wav file found.
func (c *Catalog) RunCycle(ctx context.Context, now time.Time) (Stats, error) {
	var stats Stats
	channels, err := c.Store.ListChannels(ctx)
	if err != nil {
		return stats, fmt.Errorf("trackcatalog: list channels: %w", err)
	}

	for _, ch := range channels {
		audioDir := path.Join("channels", ch.Slug, "Audio")
		entries, err := c.Origin.EnumerateTree(ctx, audioDir)
		if err != nil {
			stats.Errors++
			continue
		}
		for _, e := range entries {
			if e.IsDir {
				continue
			}
			name := path.Base(e.RelPath)
			m := trackIDPattern.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			_, err := c.Store.UpsertTrack(ctx, store.Track{
				ChannelSlug:  ch.Slug,
				TrackID:      m[1],
				OriginFileID: c.Origin.ExternalID(e.RelPath),
				Filename:     sqlNullString(name),
				DiscoveredAt: float64(now.Unix()),
			})
			if err != nil {
				stats.Errors++
				continue
			}
			stats.Discovered++
		}
	}
	return stats, nil
}

func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
