package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/user/rowcache/internal/model"
	"github.com/user/rowcache/internal/rowcache"
	"github.com/user/rowcache/internal/storage"
	"github.com/user/rowcache/internal/syncer"
)

// errQuit ends a session.
var errQuit = errors.New("quit")

const sessionHelp = `Commands:
  show [row]                    Print all rows, or one row
  set <row> <column> <value>    Change one cell
  insert <row> [column=value]   Insert a new row before row
  append [column=value]         Add a new row at the end
  rm <row> [count]              Mark rows for deletion
  revert <row>|all              Throw away local changes
  status                        Summarize pending changes
  pending                       List pending operations
  push                          Start writing changes
  wait                          Wait for writes and reads in flight
  sync                          Push and wait
  refresh <row>                 Re-read a stored row
  reload                        Discard the cache and fetch again
  help                          Show this help
  quit                          End the session

Rows are numbered from 0. Values are parsed as JSON when possible
(12, true, null); quote them to keep a string ("12").
`

// token is one word of a session command line.
type token struct {
	text   string
	quoted bool
}

// tokenize splits line on whitespace. Single and double quotes group words;
// inside double quotes a backslash escapes the next character.
func tokenize(line string) ([]token, error) {
	var (
		tokens  []token
		cur     strings.Builder
		inWord  bool
		quoted  bool
		quote   rune
		escaped bool
	)
	flush := func() {
		if inWord {
			tokens = append(tokens, token{text: cur.String(), quoted: quoted})
		}
		cur.Reset()
		inWord, quoted = false, false
	}

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote != 0:
			switch {
			case r == quote:
				quote = 0
			case r == '\\' && quote == '"':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord, quoted = true, true
		case r == ' ' || r == '\t':
			flush()
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 || escaped {
		return nil, fmt.Errorf("%w: unterminated quote", ErrInvalidArgs)
	}
	flush()
	return tokens, nil
}

// parseValue turns a token into a cell value. Unquoted tokens that are
// valid JSON are decoded; anything else is kept as a string.
func parseValue(t token) interface{} {
	if t.quoted {
		return t.text
	}
	var v interface{}
	if err := json.Unmarshal([]byte(t.text), &v); err == nil {
		return v
	}
	return t.text
}

// Session edits one table through a row cache. It is not safe for
// concurrent use; the synchronizer's results are applied by the session's
// own calls.
type Session struct {
	sync   *syncer.Synchronizer
	cache  *rowcache.RowCache[*model.Record]
	table  *model.Table
	schema model.RecordSchema
	fetch  storage.FetchOptions
	actor  string
	out    io.Writer
}

// NewSession creates a session over the synchronizer's cache.
func NewSession(synchronizer *syncer.Synchronizer, table *model.Table, actor string, fetch storage.FetchOptions, out io.Writer) *Session {
	return &Session{
		sync:   synchronizer,
		cache:  synchronizer.Cache(),
		table:  table,
		schema: model.NewRecordSchema(table),
		fetch:  fetch,
		actor:  actor,
		out:    out,
	}
}

// Load fetches the table into the empty cache and waits for it.
func (s *Session) Load(ctx context.Context) error {
	if err := s.sync.Reload(ctx, s.fetch); err != nil {
		return err
	}
	if err := s.sync.Drain(ctx); err != nil {
		return err
	}
	if err := s.sync.FetchErr(); err != nil {
		return fmt.Errorf("failed to fetch records: %w", err)
	}
	return nil
}

// Run executes commands read from in until it is exhausted or a quit
// command. Command errors are reported and do not stop the session unless
// stopOnError is set. prompt is written before each line when non-empty.
func (s *Session) Run(ctx context.Context, in io.Reader, prompt string, stopOnError bool) error {
	scanner := bufio.NewScanner(in)
	lineNo := 0
	for {
		if prompt != "" {
			fmt.Fprint(s.out, prompt)
		}
		if !scanner.Scan() {
			break
		}
		lineNo++

		err := s.Exec(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			if stopOnError {
				return fmt.Errorf("line %d: %w", lineNo, err)
			}
			fmt.Fprintf(s.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

// Exec runs one command line. Blank lines and lines starting with # are
// ignored.
func (s *Session) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	tokens, err := tokenize(line)
	if err != nil {
		return err
	}
	name, args := tokens[0].text, tokens[1:]

	switch name {
	case "show", "ls":
		return s.cmdShow(args)
	case "set":
		return s.cmdSet(args)
	case "insert":
		return s.cmdInsert(args)
	case "append":
		return s.cmdAppend(args)
	case "rm", "delete":
		return s.cmdRemove(args)
	case "revert":
		return s.cmdRevert(args)
	case "status":
		return s.cmdStatus(args)
	case "pending":
		return s.cmdPending(args)
	case "push":
		return s.cmdPush(ctx, args)
	case "wait":
		return s.cmdWait(ctx, args)
	case "sync":
		return s.cmdSync(ctx, args)
	case "refresh":
		return s.cmdRefresh(ctx, args)
	case "reload":
		return s.cmdReload(ctx, args)
	case "help", "?":
		fmt.Fprint(s.out, sessionHelp)
		return nil
	case "quit", "exit":
		return errQuit
	}
	return fmt.Errorf("%w: unknown command %q (try help)", ErrInvalidArgs, name)
}

func wantArgs(args []token, lo, hi int, usage string) error {
	if len(args) < lo || (hi >= 0 && len(args) > hi) {
		return fmt.Errorf("%w: usage: %s", ErrInvalidArgs, usage)
	}
	return nil
}

// parseRow parses a row number in [0, Len()+extra).
func (s *Session) parseRow(t token, extra int) (int, error) {
	row, err := strconv.Atoi(t.text)
	if err != nil {
		return 0, fmt.Errorf("%w: row %q is not a number", ErrInvalidArgs, t.text)
	}
	if row < 0 || row >= s.cache.Len()+extra {
		return 0, fmt.Errorf("%w: row %d out of range [0,%d)", ErrInvalidArgs, row, s.cache.Len()+extra)
	}
	return row, nil
}

// column returns the position of a column by name.
func (s *Session) column(name string) (int, error) {
	idx := s.table.Columns.Index(name)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s", model.ErrColumnNotFound, name)
	}
	return idx, nil
}

// editable refuses rows with a read in flight or a write whose batch has
// not finished.
func (s *Session) editable(row int) error {
	if s.sync.Busy(row) {
		return fmt.Errorf("%w: row %d", syncer.ErrRowBusy, row)
	}
	return nil
}

// newRecord builds a record from column=value assignments.
func (s *Session) newRecord(assignments []token) (*model.Record, error) {
	rec := s.table.NewRecord(s.actor)
	for _, a := range assignments {
		name, value, ok := strings.Cut(a.text, "=")
		if !ok {
			return nil, fmt.Errorf("%w: expected column=value, got %q", ErrInvalidArgs, a.text)
		}
		col, err := s.column(name)
		if err != nil {
			return nil, err
		}
		rec.SetField(s.schema.ColumnName(col), parseValue(token{text: value, quoted: a.quoted}))
	}
	return rec, nil
}

func (s *Session) cmdShow(args []token) error {
	if err := wantArgs(args, 0, 1, "show [row]"); err != nil {
		return err
	}
	first, last := 0, s.cache.Len()-1
	if len(args) == 1 {
		row, err := s.parseRow(args[0], 0)
		if err != nil {
			return err
		}
		first, last = row, row
	}
	if s.cache.Len() == 0 {
		fmt.Fprintln(s.out, "No rows.")
		return nil
	}

	headers := append([]string{"#", "Status", "ID"}, s.table.Columns.Names()...)
	rows := make([][]string, 0, last-first+1)
	for row := first; row <= last; row++ {
		rec := s.cache.RecordAt(row)
		cells := []string{strconv.Itoa(row), s.cache.Status(row).Marker(), rec.ID}
		for col := 0; col < s.schema.ColumnCount(); col++ {
			cells = append(cells, formatValue(s.schema.Value(rec, col)))
		}
		rows = append(rows, cells)
	}
	printTable(s.out, headers, rows)
	return nil
}

func (s *Session) cmdSet(args []token) error {
	if err := wantArgs(args, 3, 3, "set <row> <column> <value>"); err != nil {
		return err
	}
	row, err := s.parseRow(args[0], 0)
	if err != nil {
		return err
	}
	col, err := s.column(args[1].text)
	if err != nil {
		return err
	}
	if err := s.editable(row); err != nil {
		return err
	}
	s.cache.SetValueAt(row, col, parseValue(args[2]))
	return nil
}

func (s *Session) cmdInsert(args []token) error {
	if err := wantArgs(args, 1, -1, "insert <row> [column=value ...]"); err != nil {
		return err
	}
	pos, err := s.parseRow(args[0], 1)
	if err != nil {
		return err
	}
	rec, err := s.newRecord(args[1:])
	if err != nil {
		return err
	}
	s.cache.InsertRecord(pos, rec)
	return nil
}

func (s *Session) cmdAppend(args []token) error {
	rec, err := s.newRecord(args)
	if err != nil {
		return err
	}
	s.cache.AppendRecord(rec)
	return nil
}

func (s *Session) cmdRemove(args []token) error {
	if err := wantArgs(args, 1, 2, "rm <row> [count]"); err != nil {
		return err
	}
	row, err := s.parseRow(args[0], 0)
	if err != nil {
		return err
	}
	count := 1
	if len(args) == 2 {
		if count, err = strconv.Atoi(args[1].text); err != nil || count < 1 {
			return fmt.Errorf("%w: count must be a positive number", ErrInvalidArgs)
		}
		if row+count > s.cache.Len() {
			return fmt.Errorf("%w: rows %d..%d out of range", ErrInvalidArgs, row, row+count-1)
		}
	}
	for r := row; r < row+count; r++ {
		if err := s.editable(r); err != nil {
			return err
		}
	}
	s.cache.RemoveRecords(row, count)
	return nil
}

func (s *Session) cmdRevert(args []token) error {
	if err := wantArgs(args, 1, 1, "revert <row>|all"); err != nil {
		return err
	}
	if args[0].text == "all" {
		ops := s.cache.PendingOperations()
		// Highest row first; reverting an insert erases its row
		for i := len(ops) - 1; i >= 0; i-- {
			if s.editable(ops[i].Row) == nil {
				s.cache.RevertRow(ops[i].Row)
			}
		}
		return nil
	}

	row, err := s.parseRow(args[0], 0)
	if err != nil {
		return err
	}
	if err := s.editable(row); err != nil {
		return err
	}
	s.cache.RevertRow(row)
	return nil
}

func (s *Session) cmdStatus(args []token) error {
	if err := wantArgs(args, 0, 0, "status"); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "rows:                 %d\n", s.cache.Len())
	fmt.Fprintf(s.out, "to insert:            %v\n", s.cache.RowsToInsertIntoStorage())
	fmt.Fprintf(s.out, "to update:            %v\n", s.cache.RowsToUpdateInStorage())
	fmt.Fprintf(s.out, "to delete:            %v\n", s.cache.RowsToDeleteInStorage())
	fmt.Fprintf(s.out, "cache only:           %v\n", s.cache.RowsToDeleteInCacheOnly())
	fmt.Fprintf(s.out, "pending transactions: %d\n", s.cache.PendingTransactions())
	fmt.Fprintf(s.out, "pending tasks:        %d\n", s.cache.PendingTasks())
	fmt.Fprintf(s.out, "failed rows:          %v\n", s.cache.FailedRows())
	fmt.Fprintf(s.out, "backend calls:        %d\n", s.sync.Stats().TotalJobs)
	return nil
}

func (s *Session) cmdPending(args []token) error {
	if err := wantArgs(args, 0, 0, "pending"); err != nil {
		return err
	}
	ops := s.cache.PendingOperations()
	if len(ops) == 0 {
		fmt.Fprintln(s.out, "No pending operations.")
		return nil
	}

	rows := make([][]string, 0, len(ops))
	for _, op := range ops {
		column := "*"
		if op.Column >= 0 {
			column = s.schema.ColumnName(op.Column)
		}
		tx := ""
		if !op.TransactionID.IsNull() {
			tx = op.TransactionID.String()
		}
		rows = append(rows, []string{strconv.Itoa(op.Row), column, op.Operation.String(), tx, op.TransactionState.String()})
	}
	printTable(s.out, []string{"Row", "Column", "Operation", "Transaction", "State"}, rows)
	return nil
}

func (s *Session) cmdPush(ctx context.Context, args []token) error {
	if err := wantArgs(args, 0, 0, "push"); err != nil {
		return err
	}
	n, err := s.sync.Push(ctx)
	fmt.Fprintf(s.out, "pushed %d change(s)\n", n)
	return err
}

func (s *Session) cmdWait(ctx context.Context, args []token) error {
	if err := wantArgs(args, 0, 0, "wait"); err != nil {
		return err
	}
	return s.sync.Drain(ctx)
}

func (s *Session) cmdSync(ctx context.Context, args []token) error {
	if err := wantArgs(args, 0, 0, "sync"); err != nil {
		return err
	}
	changes := len(s.cache.RowsToInsertIntoStorage()) +
		len(s.cache.RowsToUpdateInStorage()) +
		len(s.cache.RowsToDeleteInStorage())

	failed, err := s.sync.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "synced %d change(s), %d failed\n", changes, failed)
	if failed > 0 {
		return fmt.Errorf("%w: rows %v", ErrSyncFailed, s.cache.FailedRows())
	}
	return nil
}

func (s *Session) cmdRefresh(ctx context.Context, args []token) error {
	if err := wantArgs(args, 1, 1, "refresh <row>"); err != nil {
		return err
	}
	row, err := s.parseRow(args[0], 0)
	if err != nil {
		return err
	}
	rt, err := s.sync.Refresh(ctx, row)
	if err != nil {
		return err
	}
	if err := s.sync.Drain(ctx); err != nil {
		return err
	}
	if r := s.cache.RowForTask(rt.Task); r >= 0 && s.cache.Status(r).TaskFailed {
		return fmt.Errorf("refresh of row %d failed", r)
	}
	return nil
}

func (s *Session) cmdReload(ctx context.Context, args []token) error {
	if err := wantArgs(args, 0, 0, "reload"); err != nil {
		return err
	}
	if err := s.Load(ctx); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "loaded %d row(s)\n", s.cache.Len())
	return nil
}
