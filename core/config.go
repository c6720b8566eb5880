package core

import (
	"go.uber.org/zap"
)

// CompileOptions tunes a transaction's compilation.
type CompileOptions struct {
	// Models is the schema catalogue the queries compile against, as raw
	// JSON-shaped bodies. The transaction clones and augments them; the
	// input is never mutated.
	Models []map[string]interface{}

	// InlineParams renders values as SQL literals instead of binding them.
	InlineParams bool

	// ExpandColumns aliases every selected column with its mounting path so
	// results can be re-nested without driver support for duplicate column
	// names. A `selecting` instruction forces it per query.
	ExpandColumns bool

	// Logger, when set, receives a debug line per compiled statement.
	Logger *zap.Logger
}
