package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/user/rowcache/internal/model"
)

// ConfigStore manages table configuration files.
type ConfigStore struct {
	baseDir string // .rowcache directory
}

// NewConfigStore creates a new config store.
func NewConfigStore(baseDir string) *ConfigStore {
	return &ConfigStore{baseDir: baseDir}
}

func (s *ConfigStore) configPath(tableName string) string {
	return filepath.Join(s.baseDir, tableName, "config.json")
}

func (s *ConfigStore) tableDir(tableName string) string {
	return filepath.Join(s.baseDir, tableName)
}

// WriteConfig writes a table configuration to config.json atomically.
func (s *ConfigStore) WriteConfig(table *model.Table) error {
	dir := s.tableDir(table.Name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create table directory: %w", err)
	}

	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')

	// Write atomically via temp file
	tmpFile, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.configPath(table.Name)); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// ReadConfig reads a table configuration from config.json.
func (s *ConfigStore) ReadConfig(tableName string) (*model.Table, error) {
	data, err := os.ReadFile(s.configPath(tableName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.ErrTableNotFound
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var table model.Table
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &table, nil
}

// DeleteConfig removes a table's directory, journal included.
func (s *ConfigStore) DeleteConfig(tableName string) error {
	if err := os.RemoveAll(s.tableDir(tableName)); err != nil {
		return fmt.Errorf("failed to delete table directory: %w", err)
	}
	return nil
}

// Exists returns true if the table config exists.
func (s *ConfigStore) Exists(tableName string) bool {
	_, err := os.Stat(s.configPath(tableName))
	return err == nil
}

// ListTableDirs returns the names of all directories holding a config.json.
func (s *ConfigStore) ListTableDirs() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	var tables []string
	for _, entry := range entries {
		if entry.IsDir() && !isHiddenOrMeta(entry.Name()) && s.Exists(entry.Name()) {
			tables = append(tables, entry.Name())
		}
	}

	return tables, nil
}

// isHiddenOrMeta returns true for hidden or meta directories.
func isHiddenOrMeta(name string) bool {
	return name[0] == '.' || name[0] == '_'
}
