package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c, err := FromFlags(fs, nil)
	require.NoError(t, err)
	require.Equal(t, OriginBackendLocal, c.OriginBackend)
	require.Equal(t, UploadBackendMock, c.UploadBackend)
	require.Equal(t, 3, c.MaxRenderAttempts)
	require.Equal(t, RetentionWindow.Hours(), 48.0)
}

func TestFromFlagsOverride(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c, err := FromFlags(fs, []string{"-origin-backend=mock", "-max-render-attempts=5"})
	require.NoError(t, err)
	require.Equal(t, OriginBackendMock, c.OriginBackend)
	require.Equal(t, 5, c.MaxRenderAttempts)
}

func TestFromFlagsEnvOverride(t *testing.T) {
	t.Setenv("CATALYST_FACTORY_UPLOAD_BACKEND", "youtube")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c, err := FromFlags(fs, nil)
	require.NoError(t, err)
	require.Equal(t, "youtube", c.UploadBackend)
}
