package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/jsondb"
	"github.com/kartikbazzad/bunbase/jsondb/query"
)

const (
	prompt         = "jsondb> "
	continuePrompt = "   ...> "
	historyFile    = ".jsondb_history"
)

func newShellCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive SQL shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withDB(func(db *jsondb.Database) error {
				return runShell(newShell(db, cmd.OutOrStdout()))
			})
		},
	}
}

func runShell(sh *shell) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(sh.complete)

	histPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		histPath = filepath.Join(home, historyFile)
		if f, err := os.Open(histPath); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	fmt.Fprintln(sh.out, "jsondb shell. Statements end with ';'. Type .help for commands.")
	for {
		p := prompt
		if sh.pending() {
			p = continuePrompt
		}
		input, err := line.Prompt(p)
		if errors.Is(err, liner.ErrPromptAborted) {
			sh.reset()
			continue
		}
		if err == io.EOF {
			fmt.Fprintln(sh.out)
			break
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}
		if sh.feed(input) {
			break
		}
	}

	if histPath != "" {
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}
	return nil
}

// shell buffers SQL until a terminating ';' and runs dot commands.
type shell struct {
	db  *jsondb.Database
	out io.Writer
	buf strings.Builder
}

func newShell(db *jsondb.Database, out io.Writer) *shell {
	return &shell{db: db, out: out}
}

func (s *shell) pending() bool {
	return s.buf.Len() > 0
}

func (s *shell) reset() {
	s.buf.Reset()
}

// feed consumes one input line and reports whether the shell should exit.
func (s *shell) feed(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !s.pending() && strings.HasPrefix(trimmed, ".") {
		return s.command(trimmed)
	}
	if trimmed == "" {
		return false
	}
	if s.pending() {
		s.buf.WriteByte('\n')
	}
	s.buf.WriteString(line)
	if strings.HasSuffix(trimmed, ";") {
		sql := s.buf.String()
		s.reset()
		s.run(sql)
	}
	return false
}

func (s *shell) run(sql string) {
	res, err := s.db.Query().ExecuteSQL(sql)
	if err != nil {
		s.printError(err)
		return
	}
	if err := printJSON(s.out, res.Documents); err != nil {
		s.printError(err)
		return
	}
	fmt.Fprintf(s.out, "(%d of %d)\n", len(res.Documents), res.TotalCount)
}

func (s *shell) command(line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case ".exit", ".quit":
		return true
	case ".help":
		fmt.Fprint(s.out, `.collections           list collections
.indexes <collection>  list indexes
.explain <select>      show the access plan of a SELECT
.exit                  leave the shell
`)
	case ".collections", ".tables":
		names, err := s.db.Collections().ListCollections()
		if err != nil {
			s.printError(err)
			return false
		}
		for _, n := range names {
			fmt.Fprintln(s.out, n)
		}
	case ".indexes":
		if len(fields) != 2 {
			fmt.Fprintln(s.out, "usage: .indexes <collection>")
			return false
		}
		defs, err := s.db.Collections().ListIndexes(fields[1])
		if err != nil {
			s.printError(err)
			return false
		}
		for _, d := range defs {
			fmt.Fprintf(s.out, "%s\t%s\t%s\n", d.Name, d.FieldPath, d.Type)
		}
	case ".explain":
		stmt, err := query.ParseSQL(strings.TrimSpace(strings.TrimPrefix(line, ".explain")))
		if err != nil {
			s.printError(err)
			return false
		}
		if !stmt.IsQuery() {
			fmt.Fprintln(s.out, "only SELECT can be explained")
			return false
		}
		plan, err := s.db.Query().Explain(stmt.Query)
		if err != nil {
			s.printError(err)
			return false
		}
		fmt.Fprintln(s.out, plan)
	default:
		fmt.Fprintf(s.out, "unknown command %s, try .help\n", fields[0])
	}
	return false
}

func (s *shell) printError(err error) {
	fmt.Fprintf(s.out, "error: %v\n", err)
}

var keywords = []string{"SELECT", "FROM", "WHERE", "AND", "OR", "NOT", "IN", "LIKE", "ORDER BY", "LIMIT", "OFFSET", "INSERT INTO", "VALUES"}

// complete suggests a keyword or collection name for the last word.
func (s *shell) complete(line string) []string {
	start := strings.LastIndexAny(line, " (,") + 1
	prefix, word := line[:start], line[start:]
	if word == "" {
		return nil
	}
	candidates := append([]string(nil), keywords...)
	if names, err := s.db.Collections().ListCollections(); err == nil {
		candidates = append(candidates, names...)
	}
	var out []string
	for _, c := range candidates {
		if strings.HasPrefix(strings.ToUpper(c), strings.ToUpper(word)) {
			out = append(out, prefix+c)
		}
	}
	return out
}
