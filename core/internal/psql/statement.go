package psql

import (
	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

// Statement is one parameterized SQL statement of a transaction. Params are
// positional and referenced as ?1..?N in the SQL text.
type Statement struct {
	SQL       string
	Params    []interface{}
	Returning bool
}

// OrderCol records one effective ordering column, kept for building
// pagination cursors out of result rows.
type OrderCol struct {
	Path       string
	Descending bool
	Type       string
}

// Mount records where a joined sub-record re-nests inside the formatted
// result.
type Mount struct {
	// Path is the dotted key the sub-record mounts under ("" for hoisted
	// joins whose columns merge into the parent record).
	Path string
	// Alias is the SQL table alias of the joined side.
	Alias string
	// Plural marks array mounting points: rows sharing the root id group
	// into one record with an array at this path.
	Plural bool
	Model  *sdata.Model
}

// Shape is the per-query metadata captured at compile time and consumed by
// the result formatter.
type Shape struct {
	Query  *qcode.Query
	Model  *sdata.Model
	Single bool
	// Limit is the user-requested page size; the statement fetches one extra
	// row so the formatter can produce pagination cursors.
	Limit     int
	OrderBy   []OrderCol
	Mounts    []Mount
	Ephemeral []string
	Expand    bool
	// HasAfter/HasBefore note which cursor the query carried.
	HasAfter  bool
	HasBefore bool
	// Meta queries contribute several statements but format into one result.
	Meta       bool
	Statements int
	// ModelEcho is the JSON-shaped model a meta query acted on.
	ModelEcho map[string]interface{}
	// GroupKey labels this shape's slot in a fanned-out `get.all` result.
	GroupKey string
}
