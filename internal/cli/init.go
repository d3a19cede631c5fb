package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/user/rowcache/internal/model"
)

var (
	initPrefix  string
	initColumns []string
	initSchema  string
)

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a new table",
	Long: `Create a table with the given name, ID prefix and columns.

The prefix is used to generate record IDs (e.g., pt-0a1b2c).

Prefix requirements:
  - 3-5 characters total
  - 2-4 lowercase letters followed by a dash
  - Examples: ab-, pt-, abcd-

A table can also be described in a YAML file:

  name: parts
  prefix: pt-
  columns:
    - name: name
      desc: Part name
    - name: qty

Examples:
  rowcache init parts --prefix pt- --column name --column qty
  rowcache init --schema parts.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initPrefix, "prefix", "", "Record ID prefix (e.g., pt-)")
	initCmd.Flags().StringArrayVar(&initColumns, "column", nil, "Column to create (can be repeated)")
	initCmd.Flags().StringVar(&initSchema, "schema", "", "YAML file describing the table")
	rootCmd.AddCommand(initCmd)
}

// tableSpec is the YAML form of a table definition.
type tableSpec struct {
	Name    string       `yaml:"name"`
	Prefix  string       `yaml:"prefix"`
	Columns []columnSpec `yaml:"columns"`
}

type columnSpec struct {
	Name string `yaml:"name"`
	Desc string `yaml:"desc"`
}

// readTableSpec loads a table definition from a YAML file.
func readTableSpec(path string) (*tableSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	var spec tableSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidArgs, path, err)
	}
	return &spec, nil
}

// buildTableSpec merges the schema file, positional name and flags.
// Flags win over the file.
func buildTableSpec(args []string) (*tableSpec, error) {
	spec := &tableSpec{}
	if initSchema != "" {
		loaded, err := readTableSpec(initSchema)
		if err != nil {
			return nil, err
		}
		spec = loaded
	}
	if len(args) > 0 {
		spec.Name = args[0]
	}
	if initPrefix != "" {
		spec.Prefix = initPrefix
	}
	for _, name := range initColumns {
		spec.Columns = append(spec.Columns, columnSpec{Name: name})
	}

	if spec.Name == "" {
		return nil, fmt.Errorf("%w: table name is required", ErrInvalidArgs)
	}
	if spec.Prefix == "" {
		return nil, fmt.Errorf("%w: --prefix is required", ErrInvalidArgs)
	}
	return spec, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	spec, err := buildTableSpec(args)
	if err != nil {
		return err
	}

	store, ctx, err := openStore(true)
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now()
	table := &model.Table{
		Name:      spec.Name,
		Prefix:    spec.Prefix,
		Created:   now,
		CreatedBy: ctx.Actor,
		Columns:   model.ColumnList{},
	}
	for _, col := range spec.Columns {
		if err := table.AddColumn(model.Column{
			Name:    col.Name,
			Desc:    col.Desc,
			Added:   now,
			AddedBy: ctx.Actor,
		}); err != nil {
			return err
		}
	}

	if err := store.CreateTable(table); err != nil {
		return err
	}
	logger.Debug("table created")

	out := cmd.OutOrStdout()
	if GetJSONOutput() {
		return printJSON(out, map[string]interface{}{
			"name":       table.Name,
			"prefix":     table.Prefix,
			"columns":    table.Columns.Names(),
			"created_at": now.Format(time.RFC3339),
			"created_by": ctx.Actor,
			"data_dir":   store.BaseDir(),
		})
	}
	if !IsQuiet() {
		fmt.Fprintf(out, "Created table '%s' with prefix '%s'\n", table.Name, table.Prefix)
		if len(table.Columns) > 0 {
			fmt.Fprintf(out, "  columns: %v\n", table.Columns.Names())
		}
	}
	return nil
}
