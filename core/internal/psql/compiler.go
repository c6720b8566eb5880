package psql

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

// Config tunes statement generation.
type Config struct {
	// InlineParams renders values as SQL literals instead of binding them.
	InlineParams bool
	// ExpandColumns aliases every selected column with its mounting path.
	ExpandColumns bool
}

// Compiler turns parsed queries into SQLite statements against a schema
// registry. The registry is owned by the surrounding transaction and mutated
// in-order by meta queries.
type Compiler struct {
	schema *sdata.Schema
	conf   Config
}

func NewCompiler(schema *sdata.Schema, conf Config) *Compiler {
	return &Compiler{schema: schema, conf: conf}
}

func (co *Compiler) Schema() *sdata.Schema {
	return co.schema
}

// compilerContext accumulates the SQL text and parameter list of a single
// statement.
type compilerContext struct {
	*Compiler
	w      bytes.Buffer
	params []interface{}
	err    error
}

func (co *Compiler) newContext() *compilerContext {
	return &compilerContext{Compiler: co}
}

func (c *compilerContext) setErr(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *compilerContext) statement(returning bool) (Statement, error) {
	if c.err != nil {
		return Statement{}, c.err
	}
	return Statement{SQL: c.w.String(), Params: c.params, Returning: returning}, nil
}

func (c *compilerContext) quoted(identifier string) {
	c.w.WriteByte('"')
	c.w.WriteString(identifier)
	c.w.WriteByte('"')
}

func (c *compilerContext) squoted(s string) {
	c.w.WriteByte('\'')
	c.w.WriteString(s)
	c.w.WriteByte('\'')
}

// alias writes ` as <name>`, quoting the name when it carries mounting-path
// punctuation (array brackets, hoist braces or dots) or names a joined side.
func (c *compilerContext) alias(name string, quote bool) {
	c.w.WriteString(` as `)
	if quote || needsQuoting(name) {
		c.quoted(name)
	} else {
		c.w.WriteString(name)
	}
}

func needsQuoting(name string) bool {
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '[', ']', '{', '}', '.':
			return true
		}
	}
	return false
}

// sortedKeys gives a stable iteration order over JSON-shaped maps so that
// parameter numbering is deterministic for identical inputs.
func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

// parseSubQuery parses the body of a sub-query sentinel and resolves the model
// it addresses.
func (c *compilerContext) parseSubQuery(body map[string]interface{}) (*qcode.Query, *sdata.Model, error) {
	q, err := qcode.Parse(body, c.schema)
	if err != nil {
		return nil, nil, err
	}
	model, err := c.schema.FindModel(q.Model)
	if err != nil {
		return nil, nil, err
	}
	return q, model, nil
}
