package psql

import (
	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

type includeKind int

const (
	incJoin includeKind = iota
	incValue
	incExpr
)

// include is one resolved `including` entry: a joined sub-query, a literal
// ephemeral column or an expression ephemeral column.
type include struct {
	kind includeKind
	// key is the dotted mount key; empty for hoisted joins whose columns
	// merge into the parent record.
	key string
	// mount is the column-alias prefix: the key, with [0] appended on
	// plural segments so the formatter groups rows into arrays.
	mount string
	// alias is the SQL table alias of a joined side.
	alias  string
	value  interface{}
	query  *qcode.Query
	model  *sdata.Model
	plural bool
	// parentIdx points at the include this one joins against; -1 joins
	// against the base table.
	parentIdx int
}

func (i include) isJoin() bool { return i.kind == incJoin }

const hoistedAlias = "including_ronin_root"

// buildIncludes resolves the `including` instruction into a flat, ordered
// include list. Nested plain objects flatten into dotted keys; sub-queries
// may nest their own `including`, producing chained joins.
func (c *compilerContext) buildIncludes(including map[string]interface{}, model *sdata.Model) ([]include, error) {
	if len(including) == 0 {
		return nil, nil
	}
	var out []include
	if err := c.collectIncludes(&out, including, "", "", -1, model); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *compilerContext) collectIncludes(
	out *[]include,
	entries map[string]interface{},
	keyPrefix, mountPrefix string,
	parentIdx int,
	parentModel *sdata.Model,
) error {
	for _, k := range sortedKeys(entries) {
		v := entries[k]

		// A sub-query placed directly as an entry is hoisted: its columns
		// merge into the parent record instead of mounting under a key.
		if k == qcode.SymbolQuery {
			body, ok := v.(map[string]interface{})
			if !ok {
				return sdata.NewError(sdata.ErrInvalidIncludingValue,
					"hoisted `including` entries must be query objects")
			}
			if err := c.addJoinInclude(out, "", "", body, parentIdx, parentModel); err != nil {
				return err
			}
			continue
		}

		key := k
		if keyPrefix != "" {
			key = keyPrefix + "." + k
		}
		mountKey := k
		if mountPrefix != "" {
			mountKey = mountPrefix + "." + k
		}

		if body, ok := qcode.AsQuery(v); ok {
			if err := c.addJoinInclude(out, key, mountKey, body, parentIdx, parentModel); err != nil {
				return err
			}
			continue
		}

		if expr, ok := qcode.AsExpression(v); ok {
			*out = append(*out, include{
				kind: incExpr, key: key, mount: mountKey, value: expr,
				model: parentModel, parentIdx: parentIdx,
			})
			continue
		}

		switch val := v.(type) {
		case map[string]interface{}:
			if err := c.collectIncludes(out, val, key, mountKey, parentIdx, parentModel); err != nil {
				return err
			}
		case string, bool, float64, int, int64, nil:
			*out = append(*out, include{
				kind: incValue, key: key, mount: mountKey, value: val,
				model: parentModel, parentIdx: parentIdx,
			})
		default:
			return sdata.NewFieldError(sdata.ErrInvalidIncludingValue, key,
				"cannot include %q", key)
		}
	}
	return nil
}

func (c *compilerContext) addJoinInclude(
	out *[]include,
	key, mountKey string,
	body map[string]interface{},
	parentIdx int,
	parentModel *sdata.Model,
) error {
	q, m, err := c.parseSubQuery(body)
	if err != nil {
		return err
	}
	if q.Type != qcode.QueryGet {
		return sdata.NewFieldError(sdata.ErrInvalidIncludingValue, key,
			"only get queries can be included")
	}

	plural := m.IsPlural(q.Model)
	mount := mountKey
	alias := hoistedAlias
	if key != "" {
		if plural {
			mount = mountKey + "[0]"
		}
		alias = "including_" + mount
	}

	idx := len(*out)
	*out = append(*out, include{
		kind: incJoin, key: key, mount: mount, alias: alias,
		query: q, model: m, plural: plural, parentIdx: parentIdx,
	})

	if len(q.Instr.Including) > 0 {
		if err := c.collectIncludes(out, q.Instr.Including, key, mount, idx, m); err != nil {
			return err
		}
	}
	return nil
}

// renderJoins emits the JOIN clauses for every join include. An inner query
// carrying conditions joins via LEFT JOIN with the conditions lifted into the
// ON clause; an unconstrained inner query cross-joins its own sub-select so
// its ordering and limit still apply.
func (c *compilerContext) renderJoins(e *expContext, incs []include, model *sdata.Model, baseAlias string) {
	for _, inc := range incs {
		if !inc.isJoin() {
			continue
		}

		parentModel, parentAlias := joinParent(incs, inc, model, baseAlias)
		in := inc.query.Instr

		if in.With == nil {
			c.w.WriteString(` CROSS JOIN (SELECT * FROM `)
			c.quoted(inc.model.Table())
			ie := &expContext{compilerContext: c, model: inc.model}
			c.renderOrderBy(ie, in, inc.model, inc.plural)
			c.renderLimit(in, inc.plural)
			c.w.WriteString(`)`)
			c.alias(inc.alias, true)
			continue
		}

		c.w.WriteString(` LEFT JOIN `)
		c.quoted(inc.model.Table())
		c.alias(inc.alias, true)
		c.w.WriteString(` ON (`)
		je := &expContext{
			compilerContext: c,
			model:           inc.model,
			alias:           inc.alias,
			parentModel:     parentModel,
			parentAlias:     parentAlias,
		}
		je.renderWith(in.With)
		c.w.WriteString(`)`)
		if je.sawParent {
			e.sawParent = true
		}
	}
}

func joinParent(incs []include, inc include, model *sdata.Model, baseAlias string) (*sdata.Model, string) {
	if inc.parentIdx < 0 {
		alias := baseAlias
		if alias == "" {
			alias = model.Table()
		}
		return model, alias
	}
	p := incs[inc.parentIdx]
	return p.model, p.alias
}

// renderSelectColumns writes the select list: the root columns (expanded and
// aliased when the shape calls for it), every joined side's columns aliased
// with their mounting path, and the ephemeral entries.
func (c *compilerContext) renderSelectColumns(
	e *expContext,
	model *sdata.Model,
	in *qcode.Instructions,
	incs []include,
	shape *Shape,
	baseAlias string,
) {
	first := true
	sep := func() {
		if !first {
			c.w.WriteString(`, `)
		}
		first = false
	}

	if !shape.Expand {
		sep()
		c.w.WriteString(`*`)
	} else {
		cols, err := selectedColumns(model, in.Selecting)
		if err != nil {
			c.setErr(err)
			return
		}
		for _, f := range cols {
			sep()
			if baseAlias == "" {
				c.quoted(f.Slug)
			} else {
				c.quoted(baseAlias)
				c.w.WriteByte('.')
				c.quoted(f.Slug)
				c.w.WriteString(` AS `)
				c.quoted(f.Slug)
			}
		}
		for _, inc := range incs {
			if !inc.isJoin() {
				continue
			}
			for _, f := range columnFields(inc.model) {
				sep()
				c.quoted(inc.alias)
				c.w.WriteByte('.')
				c.quoted(f.Slug)
				c.w.WriteString(` AS `)
				if inc.key == "" {
					c.quoted(f.Slug)
				} else {
					c.quoted(inc.mount + "." + f.Slug)
				}
			}
		}
	}

	for _, inc := range incs {
		switch inc.kind {
		case incValue:
			sep()
			c.renderValue(inc.value, true)
			c.alias(inc.mount, true)
			shape.Ephemeral = append(shape.Ephemeral, inc.mount)
		case incExpr:
			sep()
			ectx := &expContext{compilerContext: c, model: inc.model}
			if inc.parentIdx >= 0 {
				ectx.alias = incs[inc.parentIdx].alias
			} else {
				ectx.alias = baseAlias
			}
			ectx.parentModel = e.parentModel
			ectx.parentAlias = e.parentAlias
			c.w.WriteString(`(`)
			c.w.WriteString(ectx.translateExpr(inc.value.(string)))
			c.w.WriteString(`)`)
			c.alias(inc.mount, true)
			shape.Ephemeral = append(shape.Ephemeral, inc.mount)
			if ectx.sawParent {
				e.sawParent = true
			}
		}
	}
}

// columnFields lists the fields stored as physical columns: group entries
// and many-links have none.
func columnFields(m *sdata.Model) []*sdata.Field {
	var out []*sdata.Field
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Type == sdata.TypeGroup {
			continue
		}
		if f.Type == sdata.TypeLink && f.LinkKind() == sdata.LinkMany {
			continue
		}
		out = append(out, f)
	}
	return out
}

// selectedColumns narrows the root columns to a `selecting` list, keeping the
// id so results can still be grouped.
func selectedColumns(m *sdata.Model, selecting []string) ([]*sdata.Field, error) {
	if len(selecting) == 0 {
		return columnFields(m), nil
	}
	var out []*sdata.Field
	haveID := false
	for _, slug := range selecting {
		ref, err := m.ResolveField(slug, "")
		if err != nil {
			return nil, err
		}
		out = append(out, ref.Field)
		if ref.Field.Slug == "id" {
			haveID = true
		}
	}
	if !haveID {
		if f := m.Field("id"); f != nil {
			out = append(out, f)
		}
	}
	return out, nil
}
