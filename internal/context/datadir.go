package context

import (
	"os"
	"path/filepath"
)

// DataDirName is the directory searched for by FindDataDir.
const DataDirName = ".rowcache"

// FindDataDir returns the path to the nearest .rowcache directory,
// searching the current directory and its parents.
// Returns empty string if not found.
func FindDataDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	return findDataDirFrom(dir)
}

func findDataDirFrom(startDir string) string {
	dir := startDir
	for {
		candidate := filepath.Join(dir, DataDirName)
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// DefaultTable returns the default table name:
// 1. $ROWCACHE_TABLE environment variable if set
// 2. The only table if exactly one exists in dataDir
// 3. Empty string
func DefaultTable(dataDir string) string {
	if table := os.Getenv("ROWCACHE_TABLE"); table != "" {
		return table
	}

	if dataDir == "" {
		return ""
	}

	tables := listTables(dataDir)
	if len(tables) == 1 {
		return tables[0]
	}
	return ""
}

// listTables returns the subdirectories of dataDir holding a config.json.
func listTables(dataDir string) []string {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil
	}

	var tables []string
	for _, entry := range entries {
		if !entry.IsDir() || isHidden(entry.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(dataDir, entry.Name(), "config.json")); err == nil {
			tables = append(tables, entry.Name())
		}
	}
	return tables
}

func isHidden(name string) bool {
	return len(name) > 0 && (name[0] == '.' || name[0] == '_')
}
