// Package core compiles RONIN queries into SQLite statements and formats raw
// row results back into structured records.
package core

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ronin-co/compiler/core/internal/jsn"
	"github.com/ronin-co/compiler/core/internal/psql"
	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

// Query is one JSON-shaped query: a single top-level verb key.
type Query = map[string]interface{}

// Statement is one parameterized SQL statement of a compiled transaction.
type Statement = psql.Statement

// Result is the formatted outcome of one query.
type Result = jsn.Result

// Transaction compiles a batch of queries into an ordered statement list and
// retains the metadata needed to format the execution results. Construction
// is purely computational; nothing is shared across transactions.
type Transaction struct {
	Queries []Query

	statements []Statement
	shapes     []*psql.Shape
	// groups maps each input query to its shape indexes; `get.all` fans out
	// into several shapes that fold back into one result.
	groups [][]int
	schema *sdata.Schema
}

// NewTransaction compiles the given queries. It fails synchronously on the
// first compile error; the typed *sdata.Error carries the error code.
func NewTransaction(queries []Query, opts *CompileOptions) (*Transaction, error) {
	if opts == nil {
		opts = &CompileOptions{}
	}

	models := make([]*sdata.Model, 0, len(opts.Models))
	for i, raw := range opts.Models {
		m, err := sdata.DecodeModel(raw)
		if err != nil {
			return nil, errors.WithMessagef(err, "model %d", i)
		}
		models = append(models, m)
	}

	schema := sdata.NewSchema(models)
	compiler := psql.NewCompiler(schema, psql.Config{
		InlineParams:  opts.InlineParams,
		ExpandColumns: opts.ExpandColumns,
	})

	t := &Transaction{Queries: queries, schema: schema}

	for i, raw := range queries {
		q, err := qcode.Parse(raw, schema)
		if err != nil {
			return nil, errors.WithMessagef(err, "query %d", i)
		}

		var group []int

		if q.Type == qcode.QueryGet && q.Model == "all" {
			for _, model := range schema.Models {
				fanned := Query{"get": map[string]interface{}{
					model.PluralSlug: nil,
				}}
				fq, err := qcode.Parse(fanned, schema)
				if err != nil {
					return nil, errors.WithMessagef(err, "query %d", i)
				}
				stmts, shape, err := compiler.CompileQuery(fq)
				if err != nil {
					return nil, errors.WithMessagef(err, "query %d", i)
				}
				shape.GroupKey = model.PluralSlug
				group = append(group, len(t.shapes))
				t.shapes = append(t.shapes, shape)
				t.statements = append(t.statements, stmts...)
				t.logStatements(opts, stmts)
			}
			t.groups = append(t.groups, group)
			continue
		}

		stmts, shape, err := compiler.CompileQuery(q)
		if err != nil {
			return nil, errors.WithMessagef(err, "query %d", i)
		}
		group = append(group, len(t.shapes))
		t.shapes = append(t.shapes, shape)
		t.statements = append(t.statements, stmts...)
		t.groups = append(t.groups, group)
		t.logStatements(opts, stmts)
	}

	return t, nil
}

func (t *Transaction) logStatements(opts *CompileOptions, stmts []Statement) {
	if opts.Logger == nil {
		return
	}
	for _, st := range stmts {
		opts.Logger.Debug("compiled statement",
			zap.String("sql", st.SQL),
			zap.Int("params", len(st.Params)),
		)
	}
}

// Statements is the ordered statement list: the sole artifact a driver needs
// to execute the transaction. Statement order preserves query order, and a
// meta query's DDL precedes its ronin_schema counterpart.
func (t *Transaction) Statements() []Statement {
	return t.statements
}

// Models exposes the augmented model clones the transaction compiled against,
// including changes applied by meta queries.
func (t *Transaction) Models() []*sdata.Model {
	return t.schema.Models
}

// FormatResults maps raw result sets 1:1 with the compiled statements and
// shapes them back into structured records, one result per input query.
func (t *Transaction) FormatResults(raw [][]map[string]interface{}) ([]Result, error) {
	flat, err := jsn.Format(t.shapes, raw)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(t.groups))
	for _, group := range t.groups {
		if len(group) == 1 {
			results = append(results, flat[group[0]])
			continue
		}
		folded := Result{Models: map[string]*jsn.Result{}}
		for _, idx := range group {
			r := flat[idx]
			folded.Models[t.shapes[idx].GroupKey] = &r
		}
		results = append(results, folded)
	}
	return results, nil
}
