package jsondb

import (
	"github.com/kartikbazzad/bunbase/jsondb/index"
	"github.com/kartikbazzad/bunbase/jsondb/internal/util"
	"github.com/kartikbazzad/bunbase/jsondb/query"
	"github.com/kartikbazzad/bunbase/jsondb/schema"
)

// Errors returned by jsondb. Match them with errors.Is; the typed errors
// below carry details and can be extracted with errors.As.
var (
	ErrNotFound         = util.ErrNotFound
	ErrAlreadyExists    = util.ErrAlreadyExists
	ErrSchemaValidation = util.ErrSchemaValidation
	ErrRuleEvaluation   = util.ErrRuleEvaluation
	ErrUniqueViolation  = util.ErrUniqueViolation
	ErrInvalidArgument  = util.ErrInvalidArgument
	ErrIO               = util.ErrIO
	ErrSerialization    = util.ErrSerialization
	ErrSyntax           = util.ErrSyntax
	ErrTxnAborted       = util.ErrTxnAborted
	ErrDatabaseClosed   = util.ErrDatabaseClosed
)

type (
	ValidationError = schema.ValidationError
	RuleError       = schema.RuleError
	UniqueError     = index.UniqueError
	SyntaxError     = query.SyntaxError
)
