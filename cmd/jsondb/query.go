package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/jsondb"
	"github.com/kartikbazzad/bunbase/jsondb/migrations"
	"github.com/kartikbazzad/bunbase/jsondb/query"
)

func newQueryCmd(g *globalFlags) *cobra.Command {
	var explain bool
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a SELECT or INSERT statement",
		Example: `  jsondb query "SELECT name, age FROM users WHERE age >= 18 ORDER BY age DESC LIMIT 10"
  jsondb query "INSERT INTO users (id, name) VALUES ('u1', 'Ada')"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql := strings.Join(args, " ")
			return g.withDB(func(db *jsondb.Database) error {
				if explain {
					stmt, err := query.ParseSQL(sql)
					if err != nil {
						return err
					}
					if !stmt.IsQuery() {
						return fmt.Errorf("%w: only SELECT can be explained", jsondb.ErrInvalidArgument)
					}
					plan, err := db.Query().Explain(stmt.Query)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), plan)
					return nil
				}
				res, err := db.Query().ExecuteSQL(sql)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().BoolVar(&explain, "explain", false, "print the access plan instead of running the query")
	return cmd
}

func newSchemaCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage JSON schemas",
	}
	add := &cobra.Command{
		Use:   "add <path> <file>",
		Short: "Register a schema under schemas/v1/<path>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			doc := parseValue(string(data))
			if _, ok := doc.(map[string]interface{}); !ok {
				return fmt.Errorf("%w: %s is not a JSON object", jsondb.ErrInvalidArgument, args[1])
			}
			return g.withDB(func(db *jsondb.Database) error {
				uri, err := db.Collections().RegisterSchema(args[0], doc)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), uri)
				return nil
			})
		},
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered schema URIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(func(db *jsondb.Database) error {
				for _, uri := range db.Registry().ListURIs() {
					fmt.Fprintln(cmd.OutOrStdout(), uri)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(add, list)
	return cmd
}

func newMigrateCmd(g *globalFlags) *cobra.Command {
	var revert string
	cmd := &cobra.Command{
		Use:   "migrate <file>",
		Short: "Apply pending migrations from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ms, err := migrations.LoadFile(args[0])
			if err != nil {
				return err
			}
			return g.withDB(func(db *jsondb.Database) error {
				m := migrations.NewMigrator(db)
				if revert != "" {
					for _, mig := range ms {
						if mig.ID == revert {
							return m.Revert(mig)
						}
					}
					return fmt.Errorf("%w: migration %s is not in %s", jsondb.ErrNotFound, revert, args[0])
				}
				done, err := m.Run(ms)
				for _, id := range done {
					fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", id)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&revert, "revert", "", "run the down steps of this applied migration")

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(func(db *jsondb.Database) error {
				records, err := migrations.NewMigrator(db).Applied()
				if err != nil {
					return err
				}
				for _, r := range records {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", r.Version, r.ID, r.AppliedAt.Format("2006-01-02 15:04:05"), r.Description)
				}
				return nil
			})
		},
	}
	cmd.AddCommand(status)
	return cmd
}
