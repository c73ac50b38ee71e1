package schema

import (
	"fmt"
	"strings"

	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
)

// ValidationError reports the first constraint a document violated.
type ValidationError struct {
	SchemaURI   string
	Field       string   // failing location, "(root)" for the document itself
	Constraint  string   // constraint type, e.g. "required", "minimum"
	Description string
	Details     []string // every violation, formatted
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("schema validation failed against %s: %s: %s", e.SchemaURI, e.Field, e.Description)
	if len(e.Details) > 1 {
		msg += fmt.Sprintf(" (and %d more: %s)", len(e.Details)-1, strings.Join(e.Details[1:], "; "))
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return util.ErrSchemaValidation
}

// RuleError reports an x_rules entry that failed to evaluate.
type RuleError struct {
	Rule string
	Expr string
	Err  error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %q (%s) failed: %v", e.Rule, e.Expr, e.Err)
}

func (e *RuleError) Unwrap() []error {
	return []error{util.ErrRuleEvaluation, e.Err}
}
