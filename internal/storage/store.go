package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/rowcache/internal/model"
)

// Store ties the SQLite database, the per-table config files and the
// per-table journals under one data directory.
type Store struct {
	baseDir string // .rowcache directory
	sqlite  *SQLiteDB
	config  *ConfigStore
}

// NewStore opens the store rooted at baseDir, creating it if needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	sqlite, err := OpenSQLite(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite database: %w", err)
	}

	return &Store{
		baseDir: baseDir,
		sqlite:  sqlite,
		config:  NewConfigStore(baseDir),
	}, nil
}

// Close releases resources.
func (s *Store) Close() error {
	return s.sqlite.Close()
}

// BaseDir returns the base directory path.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// DBPath returns the SQLite database path.
func (s *Store) DBPath() string {
	return s.sqlite.Path()
}

// CreateTable creates a new table from t.
func (s *Store) CreateTable(t *model.Table) error {
	if err := model.ValidateTableName(t.Name); err != nil {
		return err
	}
	if err := model.ValidatePrefix(t.Prefix); err != nil {
		return err
	}
	if s.config.Exists(t.Name) {
		return fmt.Errorf("%w: %s", model.ErrTableExists, t.Name)
	}

	if err := s.config.WriteConfig(t); err != nil {
		return err
	}

	if err := s.sqlite.CreateTable(t); err != nil {
		// Rollback config on failure
		s.config.DeleteConfig(t.Name)
		return err
	}

	return nil
}

// DropTable removes a table, its records and its journal.
func (s *Store) DropTable(name string) error {
	if !s.config.Exists(name) {
		return fmt.Errorf("%w: %s", model.ErrTableNotFound, name)
	}

	if err := s.sqlite.DropTable(name); err != nil {
		return err
	}

	return s.config.DeleteConfig(name)
}

// GetTable returns a table configuration.
func (s *Store) GetTable(name string) (*model.Table, error) {
	// Try SQLite meta first
	t, err := s.sqlite.GetTable(name)
	if err == nil {
		return t, nil
	}

	// Fall back to config file
	t, err = s.config.ReadConfig(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, name)
	}
	return t, nil
}

// ListTables returns all table configurations.
func (s *Store) ListTables() ([]*model.Table, error) {
	tables, err := s.sqlite.ListTables()
	if err == nil && len(tables) > 0 {
		return tables, nil
	}

	// Fall back to config files
	names, err := s.config.ListTableDirs()
	if err != nil {
		return nil, err
	}

	tables = make([]*model.Table, 0, len(names))
	for _, name := range names {
		t, err := s.config.ReadConfig(name)
		if err != nil {
			continue // Skip invalid configs
		}
		tables = append(tables, t)
	}

	return tables, nil
}

// AddColumn adds a new column to a table.
func (s *Store) AddColumn(tableName string, col model.Column) error {
	t, err := s.GetTable(tableName)
	if err != nil {
		return err
	}

	if err := t.AddColumn(col); err != nil {
		return err
	}

	if err := s.config.WriteConfig(t); err != nil {
		return err
	}

	if err := s.sqlite.AddColumn(tableName, col.Name); err != nil {
		return err
	}

	return s.sqlite.UpdateTableConfig(t)
}

// ReloadConfig re-reads a table's config.json, e.g. after it was edited by
// hand, adding any new columns to the database.
func (s *Store) ReloadConfig(tableName string) (*model.Table, error) {
	t, err := s.config.ReadConfig(tableName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, tableName)
	}
	for _, col := range t.Columns {
		if err := s.sqlite.AddColumn(t.Name, col.Name); err != nil {
			return nil, err
		}
	}
	if err := s.sqlite.UpdateTableConfig(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Table returns the backend for a table. Writes are attributed to actor.
func (s *Store) Table(name, actor string) (*SQLiteTable, error) {
	t, err := s.GetTable(name)
	if err != nil {
		return nil, err
	}
	return s.sqlite.Table(t, actor), nil
}

// Journal returns the journal of a table.
func (s *Store) Journal(name string) *Journal {
	return NewJournal(s.JournalPath(name))
}

// JournalPath returns the path of a table's journal.
func (s *Store) JournalPath(name string) string {
	return filepath.Join(s.baseDir, name, "journal.jsonl")
}

// ConfigPath returns the path of a table's config.json.
func (s *Store) ConfigPath(name string) string {
	return s.config.configPath(name)
}

// TableForPath returns the table a file under the data directory belongs
// to, or "" if it belongs to none.
func (s *Store) TableForPath(path string) string {
	rel, err := filepath.Rel(s.baseDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 || isHiddenOrMeta(parts[0]) {
		return ""
	}
	return parts[0]
}
