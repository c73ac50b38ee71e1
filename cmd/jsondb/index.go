package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/jsondb"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

func newIndexCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage secondary indexes",
	}

	var (
		typ    string
		unique bool
	)
	create := &cobra.Command{
		Use:   "create <collection> <field>",
		Short: "Create and backfill an index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			it, err := storage.ParseIndexType(typ)
			if err != nil {
				return err
			}
			return g.withDB(func(db *jsondb.Database) error {
				cm := db.Collections()
				var def storage.IndexDefinition
				if unique {
					def, err = cm.CreateUniqueIndex(args[0], args[1], it)
				} else {
					def, err = cm.CreateIndex(args[0], args[1], it)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), def)
			})
		},
	}
	create.Flags().StringVarP(&typ, "type", "t", string(storage.IndexHash), "hash, btree or text")
	create.Flags().BoolVar(&unique, "unique", false, "reject duplicate values")

	drop := &cobra.Command{
		Use:   "drop <collection> <index-or-field>",
		Short: "Drop an index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(func(db *jsondb.Database) error {
				return db.Collections().DropIndex(args[0], args[1])
			})
		},
	}

	list := &cobra.Command{
		Use:   "list <collection>",
		Short: "List the indexes of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(func(db *jsondb.Database) error {
				defs, err := db.Collections().ListIndexes(args[0])
				if err != nil {
					return err
				}
				for _, d := range defs {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\tunique=%t\n", d.Name, d.FieldPath, d.Type, d.Unique)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(create, drop, list)
	return cmd
}

func newSearchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "search <collection> <field> <value>",
		Short: "Look up document ids through an index",
		Long:  "Look up document ids through an index. The value is read as JSON when it parses, otherwise as a string.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(func(db *jsondb.Database) error {
				ids, err := db.Collections().SearchIndex(args[0], args[1], parseValue(args[2]))
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	}
}
