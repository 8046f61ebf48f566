package orchestrator

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const maxTitleLen = 90

var (
	doublePrefixRE    = regexp.MustCompile(`^(\d{3})_(\d{3})_(.+)$`)
	singlePrefixRE    = regexp.MustCompile(`^(\d{3})_(.+)$`)
	loosePrefixRE     = regexp.MustCompile(`^(\d{3})[ ._-]+(.+)$`)
	disallowedCharsRE = regexp.MustCompile(`[^A-Za-z0-9_.]+`)
	repeatUnderscoreRE = regexp.MustCompile(`_+`)
)

// NormalizeTrackFilename repairs the supported non-canonical track filename
// shapes into a single canonical NNN_SafeTitle.ext form:
//
//	081_001_Title.ext -> 001_Title.ext (second id wins)
//	001 Title.ext / 001-Title.ext / 001.Title.ext -> 001_Title.ext
//	001_Title.ext -> unchanged
//
// A single pass can leave a title that itself starts with an id prefix
// ("001 123 x" -> "001_123_x"), so passes repeat until the name stops
// changing; that makes the function idempotent.
func NormalizeTrackFilename(filename string) string {
	for {
		next := normalizeTrackFilenameOnce(filename)
		if next == filename {
			return next
		}
		filename = next
	}
}

func normalizeTrackFilenameOnce(filename string) string {
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	var trackID, title string
	switch {
	case doublePrefixRE.MatchString(stem):
		m := doublePrefixRE.FindStringSubmatch(stem)
		trackID, title = m[2], m[3]
	case singlePrefixRE.MatchString(stem):
		m := singlePrefixRE.FindStringSubmatch(stem)
		trackID, title = m[1], m[2]
	case loosePrefixRE.MatchString(stem):
		m := loosePrefixRE.FindStringSubmatch(stem)
		trackID, title = m[1], m[2]
	default:
		return filename
	}

	return trackID + "_" + sanitizeTitle(title, trackID) + ext
}

// sanitizeTitle strips the track id out of the title text (so it is never
// duplicated into the sanitized output), restricts the remainder to
// [A-Za-z0-9_.], collapses repeated underscores, and caps the length.
func sanitizeTitle(title, trackID string) string {
	if trackID != "" {
		title = strings.ReplaceAll(title, trackID, " ")
	}
	cleaned := disallowedCharsRE.ReplaceAllString(title, "_")
	cleaned = repeatUnderscoreRE.ReplaceAllString(cleaned, "_")
	cleaned = strings.Trim(cleaned, "_")
	if len(cleaned) > maxTitleLen {
		cleaned = strings.TrimRight(cleaned[:maxTitleLen], "_")
	}
	if cleaned == "" {
		cleaned = "untitled"
	}
	return cleaned
}

// titleFromOriginalName extracts the title portion of an asset's stored
// name, discarding any numeric id prefix it may already carry -- the
// orchestrator's own position index is authoritative, not whatever a
// previous owner's filename happened to embed.
func titleFromOriginalName(name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if m := doublePrefixRE.FindStringSubmatch(stem); m != nil {
		return m[3]
	}
	if m := singlePrefixRE.FindStringSubmatch(stem); m != nil {
		return m[2]
	}
	if m := loosePrefixRE.FindStringSubmatch(stem); m != nil {
		return m[2]
	}
	return stem
}

// StagedAudioFilename is the name a track asset is copied to under the
// workspace's Audio/ directory: orderIndex (1-based) zero-padded to three
// digits, an underscore, and the sanitized title -- always a .wav file
// per the renderer contract.
func StagedAudioFilename(orderIndex int, originalName string) string {
	trackID := fmt.Sprintf("%03d", orderIndex)
	title := titleFromOriginalName(originalName)
	return trackID + "_" + sanitizeTitle(title, trackID) + ".wav"
}

// StagedImageFilename sanitizes an image asset's original name for
// placement under the workspace's Images/ directory, preserving its
// extension.
func StagedImageFilename(originalName, fallback string) string {
	if originalName == "" {
		originalName = fallback
	}
	ext := filepath.Ext(originalName)
	if ext == "" {
		ext = filepath.Ext(fallback)
	}
	stem := strings.TrimSuffix(originalName, ext)
	safe := sanitizeTitle(stem, "")
	return safe + ext
}

// BuildPlayLists renders the single PlayLists.txt the renderer reads: one
// title line listing every staged track id in order, the background
// filename, and a status line the renderer flips when it finishes.
func BuildPlayLists(title string, trackIDs []string, bgName string) string {
	title = strings.Join(strings.Fields(title), " ")
	title = strings.ReplaceAll(title, ":", " -")
	lines := []string{
		fmt.Sprintf("%s: %s", title, strings.Join(trackIDs, " ")),
		fmt.Sprintf("Image: %s", bgName),
		"Status: Not done",
		"",
	}
	return strings.Join(lines, "\n")
}
