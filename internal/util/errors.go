package util

import "errors"

// Error taxonomy shared by every jsondb package. Typed errors elsewhere
// (schema.ValidationError, query.SyntaxError, ...) unwrap to one of these.
var (
	// Lookup errors
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Document acceptance errors
	ErrSchemaValidation = errors.New("schema validation failed")
	ErrRuleEvaluation   = errors.New("rule evaluation failed")
	ErrUniqueViolation  = errors.New("unique constraint violation")
	ErrInvalidArgument  = errors.New("invalid argument")

	// Persistence errors
	ErrIO            = errors.New("io error")
	ErrSerialization = errors.New("serialization error")

	// Query errors
	ErrSyntax = errors.New("syntax error")

	// Transaction errors
	ErrTxnAborted = errors.New("transaction aborted")

	// Database errors
	ErrDatabaseClosed = errors.New("database is closed")
)
