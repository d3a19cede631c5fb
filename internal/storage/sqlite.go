package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/user/rowcache/internal/model"
)

// maxIDAttempts bounds the retries when a generated ID collides.
const maxIDAttempts = 5

// SQLiteDB is the database holding every backing table plus a meta table
// with each table's configuration.
type SQLiteDB struct {
	db      *sql.DB
	dbPath  string
	baseDir string // .rowcache directory
}

// OpenSQLite opens (creating if needed) the database under baseDir.
func OpenSQLite(baseDir string) (*SQLiteDB, error) {
	dbPath := filepath.Join(baseDir, "tables.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteDB{
		db:      db,
		dbPath:  dbPath,
		baseDir: baseDir,
	}

	if err := s.initMetaTable(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// initMetaTable creates the metadata table if it doesn't exist.
func (s *SQLiteDB) initMetaTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS _rowcache_meta (
			table_name TEXT PRIMARY KEY,
			prefix TEXT,
			config_json TEXT,
			updated_at TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create meta table: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDB) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *SQLiteDB) Path() string {
	return s.dbPath
}

// sanitizeTableName converts a table name to a safe SQLite identifier.
func sanitizeTableName(name string) string {
	// SQLite identifiers can't have hyphens
	return strings.ReplaceAll(name, "-", "_")
}

// quoteIdent quotes a column name for use in a statement.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// CreateTable creates the SQLite table for t with the base schema plus its
// user columns, and records t in the meta table.
func (s *SQLiteDB) CreateTable(t *model.Table) error {
	tableName := sanitizeTableName(t.Name)

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s" (
			id TEXT PRIMARY KEY,
			hash TEXT NOT NULL,
			created_at TEXT NOT NULL,
			created_by TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			updated_by TEXT NOT NULL
		)
	`, tableName)

	if _, err := s.db.Exec(createSQL); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "idx_%s_updated" ON "%s"(updated_at)`, tableName, tableName)
	if _, err := s.db.Exec(idx); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	for _, col := range t.Columns {
		if err := s.AddColumn(t.Name, col.Name); err != nil {
			return err
		}
	}

	return s.UpdateTableConfig(t)
}

// DropTable drops the SQLite table and its metadata.
func (s *SQLiteDB) DropTable(name string) error {
	if _, err := s.db.Exec(fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, sanitizeTableName(name))); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}

	if _, err := s.db.Exec(`DELETE FROM _rowcache_meta WHERE table_name = ?`, name); err != nil {
		return fmt.Errorf("failed to delete table metadata: %w", err)
	}

	return nil
}

// AddColumn adds a TEXT column to a table unless it already exists.
func (s *SQLiteDB) AddColumn(tableName, columnName string) error {
	safe := sanitizeTableName(tableName)

	exists, err := s.columnExists(safe, columnName)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	alterSQL := fmt.Sprintf(`ALTER TABLE "%s" ADD COLUMN %s TEXT`, safe, quoteIdent(columnName))
	if _, err := s.db.Exec(alterSQL); err != nil {
		return fmt.Errorf("failed to add column: %w", err)
	}

	return nil
}

// columnExists checks if a column exists in a table.
func (s *SQLiteDB) columnExists(tableName, columnName string) (bool, error) {
	rows, err := s.db.Query(fmt.Sprintf(`PRAGMA table_info("%s")`, tableName))
	if err != nil {
		return false, fmt.Errorf("failed to get table info: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan column info: %w", err)
		}
		if strings.EqualFold(name, columnName) {
			return true, nil
		}
	}

	return false, rows.Err()
}

// UpdateTableConfig stores t in the meta table.
func (s *SQLiteDB) UpdateTableConfig(t *model.Table) error {
	configJSON, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal table config: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO _rowcache_meta (table_name, prefix, config_json, updated_at)
		VALUES (?, ?, ?, ?)
	`, t.Name, t.Prefix, string(configJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store table metadata: %w", err)
	}

	return nil
}

// GetTable reads a table configuration from the meta table.
func (s *SQLiteDB) GetTable(name string) (*model.Table, error) {
	var configJSON string
	err := s.db.QueryRow(`SELECT config_json FROM _rowcache_meta WHERE table_name = ?`, name).Scan(&configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrTableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query table metadata: %w", err)
	}

	var t model.Table
	if err := json.Unmarshal([]byte(configJSON), &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal table config: %w", err)
	}
	return &t, nil
}

// ListTables returns every table recorded in the meta table, by name.
func (s *SQLiteDB) ListTables() ([]*model.Table, error) {
	rows, err := s.db.Query(`SELECT config_json FROM _rowcache_meta ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []*model.Table
	for rows.Next() {
		var configJSON string
		if err := rows.Scan(&configJSON); err != nil {
			return nil, fmt.Errorf("failed to scan table metadata: %w", err)
		}
		var t model.Table
		if err := json.Unmarshal([]byte(configJSON), &t); err != nil {
			return nil, fmt.Errorf("failed to unmarshal table config: %w", err)
		}
		tables = append(tables, &t)
	}

	return tables, rows.Err()
}

// Table returns the Backend for t. Writes are attributed to actor.
func (s *SQLiteDB) Table(t *model.Table, actor string) *SQLiteTable {
	return &SQLiteTable{
		db:    s.db,
		table: t,
		name:  sanitizeTableName(t.Name),
		actor: actor,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SQLiteTable is a Backend over one table of a SQLiteDB.
type SQLiteTable struct {
	db    *sql.DB
	table *model.Table
	name  string
	actor string
	now   func() time.Time
}

var _ Backend = (*SQLiteTable)(nil)

// Schema returns the table configuration the backend was opened with.
func (t *SQLiteTable) Schema() *model.Table {
	return t.table
}

// selectColumns returns the quoted column list matching scanRecord.
func (t *SQLiteTable) selectColumns() string {
	cols := []string{"id", "hash", "created_at", "created_by", "updated_at", "updated_by"}
	for _, c := range t.table.Columns {
		cols = append(cols, quoteIdent(c.Name))
	}
	return strings.Join(cols, ", ")
}

// orderColumn maps a user or system column name to its SQL identifier.
func (t *SQLiteTable) orderColumn(name string) (string, error) {
	switch strings.ToLower(name) {
	case "_id":
		return "id", nil
	case "_created_at":
		return "created_at", nil
	case "_updated_at":
		return "updated_at", nil
	}
	col, err := t.table.GetColumn(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", model.ErrColumnNotFound, name)
	}
	return quoteIdent(col.Name), nil
}

func (t *SQLiteTable) fetchQuery(opts FetchOptions) (string, []interface{}, error) {
	var b strings.Builder
	fmt.Fprintf(&b, `SELECT %s FROM "%s"`, t.selectColumns(), t.name)

	dir := "ASC"
	if opts.Descending {
		dir = "DESC"
	}
	if opts.OrderBy != "" {
		col, err := t.orderColumn(opts.OrderBy)
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintf(&b, " ORDER BY %s %s, rowid %s", col, dir, dir)
	} else {
		fmt.Fprintf(&b, " ORDER BY rowid %s", dir)
	}

	var args []interface{}
	if opts.Limit > 0 || opts.Offset > 0 {
		limit := -1
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		b.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, opts.Offset)
	}

	return b.String(), args, nil
}

// Fetch yields the table's records in insertion order unless opts says
// otherwise.
func (t *SQLiteTable) Fetch(ctx context.Context, opts FetchOptions) iter.Seq2[*model.Record, error] {
	return func(yield func(*model.Record, error) bool) {
		query, args, err := t.fetchQuery(opts)
		if err != nil {
			yield(nil, err)
			return
		}

		rows, err := t.db.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("failed to query records: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			rec, err := t.scanRecord(rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("failed to iterate records: %w", err))
		}
	}
}

// Get returns the record with the given ID.
func (t *SQLiteTable) Get(ctx context.Context, id string) (*model.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM "%s" WHERE id = ?`, t.selectColumns(), t.name)
	rows, err := t.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query record: %w", err)
		}
		return nil, model.ErrRecordNotFound
	}
	return t.scanRecord(rows)
}

// Count returns the number of records in the table.
func (t *SQLiteTable) Count(ctx context.Context) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, t.name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func (t *SQLiteTable) exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := t.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s" WHERE id = ?`, t.name), id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check record: %w", err)
	}
	return n > 0, nil
}

// assignID gives rec a fresh ID, or checks that its own ID is free.
func (t *SQLiteTable) assignID(ctx context.Context, rec *model.Record) error {
	if rec.ID != "" {
		if err := model.ValidateID(rec.ID); err != nil {
			return err
		}
		taken, err := t.exists(ctx, rec.ID)
		if err != nil {
			return err
		}
		if taken {
			return fmt.Errorf("%w: %s", model.ErrRecordExists, rec.ID)
		}
		return nil
	}

	for i := 0; i < maxIDAttempts; i++ {
		id, err := model.GenerateID(t.table.Prefix)
		if err != nil {
			return err
		}
		taken, err := t.exists(ctx, id)
		if err != nil {
			return err
		}
		if !taken {
			rec.ID = id
			return nil
		}
	}
	return fmt.Errorf("failed to generate a unique ID after %d attempts", maxIDAttempts)
}

// Insert stores a copy of rec, assigning an ID when it has none, and
// returns the stored copy.
func (t *SQLiteTable) Insert(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if rec == nil {
		return nil, model.ErrEmptyRecord
	}
	stored := rec.Clone()
	if err := t.assignID(ctx, stored); err != nil {
		return nil, err
	}

	now := t.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	if stored.CreatedBy == "" {
		stored.CreatedBy = t.actor
	}
	stored.UpdatedAt = now
	stored.UpdatedBy = t.actor
	stored.Hash = stored.CalculateHash()

	cols := []string{"id", "hash", "created_at", "created_by", "updated_at", "updated_by"}
	values := []interface{}{
		stored.ID,
		stored.Hash,
		stored.CreatedAt.Format(time.RFC3339Nano),
		stored.CreatedBy,
		stored.UpdatedAt.Format(time.RFC3339Nano),
		stored.UpdatedBy,
	}
	userCols, userValues, err := t.fieldValues(stored)
	if err != nil {
		return nil, err
	}
	cols = append(cols, userCols...)
	values = append(values, userValues...)

	placeholders := make([]string, len(cols))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	query := fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s)`,
		t.name, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := t.db.ExecContext(ctx, query, values...); err != nil {
		return nil, fmt.Errorf("failed to insert record: %w", err)
	}

	return stored, nil
}

// Update overwrites the stored record with rec's fields and returns the
// stored copy.
func (t *SQLiteTable) Update(ctx context.Context, rec *model.Record) (*model.Record, error) {
	if rec == nil {
		return nil, model.ErrEmptyRecord
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("%w: record has no ID", model.ErrRecordNotFound)
	}

	stored := rec.Clone()
	expectHash := rec.Hash
	stored.UpdatedAt = t.now()
	stored.UpdatedBy = t.actor
	stored.Hash = stored.CalculateHash()

	sets := []string{"hash = ?", "updated_at = ?", "updated_by = ?"}
	values := []interface{}{stored.Hash, stored.UpdatedAt.Format(time.RFC3339Nano), stored.UpdatedBy}

	userCols, userValues, err := t.fieldValues(stored)
	if err != nil {
		return nil, err
	}
	for _, c := range userCols {
		sets = append(sets, c+" = ?")
	}
	values = append(values, userValues...)
	values = append(values, stored.ID)

	where := "id = ?"
	if expectHash != "" {
		// Refuse to overwrite a record changed since it was read
		where += " AND hash = ?"
		values = append(values, expectHash)
	}

	query := fmt.Sprintf(`UPDATE "%s" SET %s WHERE %s`, t.name, strings.Join(sets, ", "), where)
	res, err := t.db.ExecContext(ctx, query, values...)
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	if n == 0 {
		found, err := t.exists(ctx, stored.ID)
		if err != nil {
			return nil, err
		}
		if found {
			return nil, fmt.Errorf("%w: %s", model.ErrHashMismatch, stored.ID)
		}
		return nil, fmt.Errorf("%w: %s", model.ErrRecordNotFound, stored.ID)
	}

	// Created fields are owned by storage
	current, err := t.Get(ctx, stored.ID)
	if err != nil {
		return nil, err
	}
	return current, nil
}

// Delete removes the record with the given ID.
func (t *SQLiteTable) Delete(ctx context.Context, id string) error {
	res, err := t.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM "%s" WHERE id = ?`, t.name), id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", model.ErrRecordNotFound, id)
	}
	return nil
}

// Close is a no-op; the connection belongs to the SQLiteDB.
func (t *SQLiteTable) Close() error {
	return nil
}

// fieldValues returns one quoted column and encoded value per table column.
// Fields not in the table are rejected.
func (t *SQLiteTable) fieldValues(rec *model.Record) ([]string, []interface{}, error) {
	for k := range rec.Fields {
		if !t.table.Columns.Exists(k) {
			return nil, nil, fmt.Errorf("%w: %s", model.ErrColumnNotFound, k)
		}
	}

	cols := make([]string, 0, len(t.table.Columns))
	values := make([]interface{}, 0, len(t.table.Columns))
	for _, c := range t.table.Columns {
		v, _ := rec.GetField(c.Name)
		enc, err := encodeValue(v)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode field %s: %w", c.Name, err)
		}
		cols = append(cols, quoteIdent(c.Name))
		values = append(values, enc)
	}
	return cols, values, nil
}

// scanRecord scans one row selected with selectColumns.
func (t *SQLiteTable) scanRecord(rows *sql.Rows) (*model.Record, error) {
	raw := make([]sql.NullString, 6+len(t.table.Columns))
	dest := make([]interface{}, len(raw))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan record: %w", err)
	}

	rec := &model.Record{
		ID:        raw[0].String,
		Hash:      raw[1].String,
		CreatedBy: raw[3].String,
		UpdatedBy: raw[5].String,
		Fields:    make(map[string]interface{}, len(t.table.Columns)),
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, raw[2].String)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, raw[4].String)

	for i, c := range t.table.Columns {
		if v := raw[6+i]; v.Valid {
			rec.Fields[c.Name] = decodeValue(v.String)
		}
	}
	return rec, nil
}

// encodeValue stores values as JSON so they read back with their type.
func encodeValue(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// decodeValue reverses encodeValue. Text that is not JSON, e.g. written by
// another tool, is returned as is.
func decodeValue(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
