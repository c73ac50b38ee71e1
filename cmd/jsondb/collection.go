package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/jsondb"
	"github.com/kartikbazzad/bunbase/jsondb/storage"
)

func newCollectionCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collection",
		Aliases: []string{"coll"},
		Short:   "Manage collections",
	}

	var schemaRef string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a collection, optionally bound to a schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(func(db *jsondb.Database) error {
				if err := db.Collections().CreateCollection(args[0], schemaRef); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", args[0])
				return nil
			})
		},
	}
	create.Flags().StringVar(&schemaRef, "schema", "", "schema path under schemas/v1 or a db:// URI")

	list := &cobra.Command{
		Use:   "list",
		Short: "List collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(func(db *jsondb.Database) error {
				names, err := db.Collections().ListCollections()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			})
		},
	}

	drop := &cobra.Command{
		Use:   "drop <name>",
		Short: "Drop a collection and all its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(func(db *jsondb.Database) error {
				return db.Collections().DropCollection(args[0])
			})
		},
	}

	cmd.AddCommand(create, list, drop)
	return cmd
}

func newInsertCmd(g *globalFlags) *cobra.Command {
	var (
		file string
		raw  bool
	)
	cmd := &cobra.Command{
		Use:   "insert <collection> [json]",
		Short: "Insert a document from an argument or a file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			switch {
			case len(args) == 2:
				data = []byte(args[1])
			case file != "":
				var err error
				if data, err = os.ReadFile(file); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%w: pass a document or --file", jsondb.ErrInvalidArgument)
			}
			doc, err := storage.Deserialize(data)
			if err != nil {
				return err
			}
			return g.withDB(func(db *jsondb.Database) error {
				cm := db.Collections()
				var out storage.Document
				if raw {
					out, err = cm.InsertRaw(args[0], doc)
				} else {
					out, err = cm.InsertWithSchema(args[0], doc)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the document from a file")
	cmd.Flags().BoolVar(&raw, "raw", false, "skip schema rules and validation")
	return cmd
}

func newGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Print one document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(func(db *jsondb.Database) error {
				doc, err := db.Collections().GetDocument(args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), doc)
			})
		},
	}
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete one document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(func(db *jsondb.Database) error {
				return db.Collections().DeleteDocument(args[0], args[1])
			})
		},
	}
}

func newApplyCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "apply <requests.json>",
		Short: "Commit a JSON array of write requests as one transaction",
		Long: `Each request has a type (insert, update, delete, insertFrom, updateFrom,
upsertFrom) and a collection. Updates and deletes address a document by
"id" or "handle"; the *From types load the document from "path", where
$DATASET expands to the dataset directory.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var reqs []jsondb.Request
			if err := json.Unmarshal(data, &reqs); err != nil {
				return fmt.Errorf("%w: %s: %w", jsondb.ErrSerialization, args[0], err)
			}
			return g.withDB(func(db *jsondb.Database) error {
				if err := db.Collections().ExecuteRequests(reqs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d requests\n", len(reqs))
				return nil
			})
		},
	}
}
