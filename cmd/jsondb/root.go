package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/jsondb"
	"github.com/kartikbazzad/bunbase/jsondb/internal/config"
	"github.com/kartikbazzad/bunbase/jsondb/internal/logger"
)

type globalFlags struct {
	configFile string
	root       string
	space      string
	db         string
	dataset    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "jsondb",
		Short:         "Embedded JSON document database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&g.configFile, "config", "", "config file (yaml, json or toml)")
	pf.StringVar(&g.root, "root", "", "data root directory (overrides config)")
	pf.StringVar(&g.space, "space", "", "space name (overrides config)")
	pf.StringVar(&g.db, "db", "", "database name (overrides config)")
	pf.StringVar(&g.dataset, "dataset", "", "directory file requests load documents from (overrides config)")
	pf.StringVar(&g.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")

	cmd.AddCommand(
		newCollectionCmd(g),
		newInsertCmd(g),
		newGetCmd(g),
		newDeleteCmd(g),
		newApplyCmd(g),
		newIndexCmd(g),
		newSearchCmd(g),
		newQueryCmd(g),
		newSchemaCmd(g),
		newMigrateCmd(g),
		newShellCmd(g),
	)
	return cmd
}

// open loads the configuration, applies flag overrides and opens the
// database. Callers close it.
func (g *globalFlags) open() (*jsondb.Database, error) {
	cfg, err := config.LoadDefault(g.configFile)
	if err != nil {
		return nil, err
	}
	if g.root != "" {
		cfg.Data.Root = g.root
	}
	if g.space != "" {
		cfg.Data.Space = g.space
	}
	if g.db != "" {
		cfg.Data.DB = g.db
	}
	if g.dataset != "" {
		cfg.Data.Dataset = g.dataset
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return jsondb.Open(jsondb.OptionsFromConfig(cfg))
}

// withDB opens the database around fn.
func (g *globalFlags) withDB(fn func(db *jsondb.Database) error) error {
	db, err := g.open()
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer db.Close()
	return fn(db)
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// parseValue reads a command-line value as JSON, falling back to a plain
// string.
func parseValue(s string) interface{} {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return s
	}
	return v
}
