package importer

import "encoding/json"

// Meta mirrors the meta.json manifest a release folder carries: the
// channel it belongs to, the title/description/tags destined for YouTube,
// and the asset filenames the render step expects to find alongside it.
type Meta struct {
	ChannelSlug string   `json:"channel_slug"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	PlannedAt   string   `json:"planned_at"`
	Assets      struct {
		Audio []string `json:"audio"`
		Cover string   `json:"cover"`
	} `json:"assets"`
}

func parseMeta(text string) (Meta, error) {
	var m Meta
	if err := json.Unmarshal([]byte(text), &m); err != nil {
		return Meta{}, err
	}
	return m, nil
}
