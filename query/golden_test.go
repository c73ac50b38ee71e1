package query

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// TestSQLTranslationGolden pins the query each statement turns into after
// optimization. Run with -update to regenerate testdata/golden.
func TestSQLTranslationGolden(t *testing.T) {
	cases := []struct {
		name string
		sql  string
	}{
		{"select_paged", `SELECT name, age FROM users WHERE age >= 18 AND status = 'active' ORDER BY age DESC, name LIMIT 5000 OFFSET 10`},
		{"select_negated", `SELECT * FROM users WHERE email NOT LIKE '%@spam.io' AND role NOT IN ('bot', 'test')`},
		{"insert_rows", `INSERT INTO users (id, name, address.city) VALUES ('u1', 'Ada', 'London'), ('u2', 'Linus', NULL)`},
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	opt := NewOptimizer()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stmt, err := ParseSQL(tc.sql)
			require.NoError(t, err)
			if stmt.IsQuery() {
				stmt.Query = opt.Optimize(stmt.Query)
			}
			out, err := json.MarshalIndent(stmt, "", "  ")
			require.NoError(t, err)
			g.Assert(t, tc.name, append(out, '\n'))
		})
	}
}
