// Package runtime holds the on-disk locations shared by lightrpc processes.
package runtime

import (
	"os"
	"path/filepath"
)

// DataDir returns $XDG_DATA_HOME/lightrpc, or ~/.local/share/lightrpc when
// XDG_DATA_HOME is unset. The directory is created if missing.
func DataDir() (string, error) {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	regDir := filepath.Join(dataDir, "lightrpc")
	if err := os.MkdirAll(regDir, 0700); err != nil {
		return "", err
	}

	return regDir, nil
}
