package context

import "errors"

// Context holds the resolved runtime context for rowcache commands.
type Context struct {
	Actor   string // Resolved actor name
	DataDir string // Path to the data directory (may be empty)
	Table   string // Selected or default table (may be empty)
}

// ErrNoDataDir is returned when no data directory is configured or found.
var ErrNoDataDir = errors.New("no .rowcache directory found (run 'rowcache init' or use --data-dir)")

// ErrNoTable is returned when no table is given and none can be detected.
var ErrNoTable = errors.New("no table specified and it cannot be detected")

// Resolve builds the context from flags and environment. dataDirFlag wins
// over the nearest .rowcache directory; tableArg wins over DefaultTable.
func Resolve(actorFlag, dataDirFlag, tableArg string) *Context {
	ctx := &Context{
		Actor:   ResolveActor(actorFlag),
		DataDir: dataDirFlag,
	}
	if ctx.DataDir == "" {
		ctx.DataDir = FindDataDir()
	}

	if tableArg != "" {
		ctx.Table = tableArg
	} else {
		ctx.Table = DefaultTable(ctx.DataDir)
	}
	return ctx
}

// RequireTable returns an error if the data directory or the table is
// unknown.
func (c *Context) RequireTable() error {
	if c.DataDir == "" {
		return ErrNoDataDir
	}
	if c.Table == "" {
		return ErrNoTable
	}
	return nil
}
