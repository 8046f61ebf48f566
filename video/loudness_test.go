package video

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVolumedetect(t *testing.T) {
	txt := `[Parsed_volumedetect_0 @ 0x55d1b5f0a100] n_samples: 5760000
[Parsed_volumedetect_0 @ 0x55d1b5f0a100] mean_volume: -30.1 dB
[Parsed_volumedetect_0 @ 0x55d1b5f0a100] max_volume: -2.4 dB
[Parsed_volumedetect_0 @ 0x55d1b5f0a100] histogram_200db: 12
`
	r, err := parseVolumedetect(txt)
	require.NoError(t, err)
	require.InDelta(t, -30.1, r.MeanDB, 0.001)
	require.InDelta(t, -2.4, r.MaxDB, 0.001)
}

func TestParseVolumedetectMissing(t *testing.T) {
	_, err := parseVolumedetect("no useful lines here")
	require.Error(t, err)
}
