package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiscoverDatabase resolves the database path.
// STORYDESK_DB_PATH wins when set; otherwise the first .storydesk/*.db in the
// current directory is used. Parent directories are not searched.
func DiscoverDatabase() (string, error) {
	if dbPath := os.Getenv("STORYDESK_DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}

	return discoverDatabaseInDir(dir)
}

// discoverDatabaseInDir checks for .storydesk/*.db in the specified directory only.
func discoverDatabaseInDir(dir string) (string, error) {
	dataDir := filepath.Join(dir, ".storydesk")

	if info, err := os.Stat(dataDir); err == nil && info.IsDir() {
		entries, err := os.ReadDir(dataDir)
		if err == nil {
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".db") {
					absPath, err := filepath.Abs(filepath.Join(dataDir, entry.Name()))
					if err != nil {
						return "", fmt.Errorf("failed to get absolute path: %w", err)
					}
					return absPath, nil
				}
			}
		}
	}

	return "", fmt.Errorf(
		"no .storydesk/*.db found in %s\n"+
			"  Run 'storydesk ingest' to create one here\n"+
			"  Or use --db flag to specify database path explicitly",
		dir)
}
