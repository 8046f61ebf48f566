package uploader

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MindDevastation/factory-vm/config"
	apperrors "github.com/MindDevastation/factory-vm/errors"
)

// resolvedCredentials is the pair of paths a YouTube client is built from,
// plus which source supplied the token path (used only for logging).
type resolvedCredentials struct {
	ClientSecretPath string
	TokenPath        string
	Source           string
}

// resolveCredentials finds a channel's YouTube OAuth material. Resolution
// order for the token: <tokens-dir>/<slug>/token.json if it exists,
// otherwise the configured global fallback token path. The client secret
// follows the same per-channel-directory-then-global pattern, checked
// independently of the token. Validation here only confirms the files
// exist; malformed JSON surfaces later, from the client construction call.
func resolveCredentials(cfg config.Config, channelSlug string) (resolvedCredentials, error) {
	tokenPath, tokenSource := "", "global"
	if cfg.YouTubeTokensDir != "" {
		candidate := filepath.Join(cfg.YouTubeTokensDir, channelSlug, "token.json")
		if fileExists(candidate) {
			tokenPath, tokenSource = candidate, "channel"
		}
	}
	if tokenPath == "" {
		tokenPath = cfg.YouTubeTokenPath
	}

	clientSecretPath := ""
	if cfg.YouTubeTokensDir != "" {
		candidate := filepath.Join(cfg.YouTubeTokensDir, channelSlug, "client_secret.json")
		if fileExists(candidate) {
			clientSecretPath = candidate
		}
	}
	if clientSecretPath == "" {
		clientSecretPath = cfg.YouTubeSecretPath
	}

	if tokenPath == "" || clientSecretPath == "" {
		return resolvedCredentials{}, apperrors.NewCredentialResolutionError(
			fmt.Sprintf("youtube credentials not configured for channel %s", channelSlug))
	}
	return resolvedCredentials{ClientSecretPath: clientSecretPath, TokenPath: tokenPath, Source: tokenSource}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
