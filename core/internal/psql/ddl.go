package psql

import (
	"strings"

	"github.com/gobuffalo/flect"

	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

// sqliteType maps field types onto SQLite column types.
func sqliteType(t string) string {
	switch t {
	case sdata.TypeNumber:
		return "INTEGER"
	case sdata.TypeBoolean:
		return "BOOLEAN"
	case sdata.TypeDate:
		return "DATETIME"
	default:
		// string, blob, json and link values are stored as text
		return "TEXT"
	}
}

// renderCreateTable writes the CREATE TABLE for a model: the six system
// columns first, then the user fields. Many-links produce no column here;
// their associative tables are emitted separately.
func (c *compilerContext) renderCreateTable(model *sdata.Model) {
	c.w.WriteString(`CREATE TABLE `)
	c.quoted(model.Table())
	c.w.WriteString(` (`)

	first := true
	for i := range model.Fields {
		f := &model.Fields[i]
		if f.Type == sdata.TypeGroup {
			continue
		}
		if f.Type == sdata.TypeLink && f.LinkKind() == sdata.LinkMany {
			continue
		}
		if !first {
			c.w.WriteString(`, `)
		}
		first = false
		c.renderColumnDef(model, f)
	}
	c.w.WriteString(`)`)
}

func (c *compilerContext) renderColumnDef(model *sdata.Model, f *sdata.Field) {
	c.quoted(f.Slug)
	c.w.WriteByte(' ')
	c.w.WriteString(sqliteType(f.Type))

	if f.Slug == "id" {
		c.w.WriteString(` PRIMARY KEY`)
	}
	if f.Increment {
		c.w.WriteString(` AUTOINCREMENT`)
	}
	if f.Unique {
		c.w.WriteString(` UNIQUE`)
	}
	if f.Required {
		c.w.WriteString(` NOT NULL`)
	}
	if f.Collation != "" {
		c.w.WriteString(` COLLATE `)
		c.w.WriteString(f.Collation)
	}
	if f.Check != nil {
		c.w.WriteString(` CHECK (`)
		c.renderDDLExpression(model, f.Check)
		c.w.WriteString(`)`)
	}
	if f.DefaultValue != nil {
		c.w.WriteString(` DEFAULT `)
		c.renderLiteral(f.DefaultValue)
	}
	if f.ComputedAs != nil {
		c.w.WriteString(` GENERATED ALWAYS AS (`)
		c.renderDDLExpression(model, f.ComputedAs.Value)
		c.w.WriteString(`) `)
		if strings.EqualFold(f.ComputedAs.Kind, "virtual") {
			c.w.WriteString(`VIRTUAL`)
		} else {
			c.w.WriteString(`STORED`)
		}
	}
	if f.Type == sdata.TypeLink {
		target, err := c.schema.FindModel(f.Target)
		if err != nil {
			c.setErr(err)
			return
		}
		c.w.WriteString(` REFERENCES `)
		c.w.WriteString(target.Table())
		c.w.WriteString(`("id")`)
		if f.Actions != nil {
			if f.Actions.OnDelete != "" {
				c.w.WriteString(` ON DELETE `)
				c.w.WriteString(strings.ToUpper(f.Actions.OnDelete))
			}
			if f.Actions.OnUpdate != "" {
				c.w.WriteString(` ON UPDATE `)
				c.w.WriteString(strings.ToUpper(f.Actions.OnUpdate))
			}
		}
	}
}

// renderDDLExpression writes a check or computed expression, resolving field
// markers against bare columns. Expressions arrive as raw strings or as
// expression sentinels.
func (c *compilerContext) renderDDLExpression(model *sdata.Model, v interface{}) {
	e := &expContext{compilerContext: c, model: model}
	if expr, ok := qcode.AsExpression(v); ok {
		c.w.WriteString(e.translateExpr(expr))
		return
	}
	if s, ok := v.(string); ok {
		c.w.WriteString(e.translateExpr(s))
		return
	}
	c.setErr(sdata.NewError(sdata.ErrInvalidModelValue, "invalid expression value"))
}

// renderCreateIndex writes the CREATE INDEX for an index entry.
func (c *compilerContext) renderCreateIndex(model *sdata.Model, ix *sdata.Index) {
	c.w.WriteString(`CREATE `)
	if ix.Unique {
		c.w.WriteString(`UNIQUE `)
	}
	c.w.WriteString(`INDEX `)
	c.quoted(flect.Underscore(ix.Slug))
	c.w.WriteString(` ON `)
	c.quoted(model.Table())
	c.w.WriteString(` (`)
	for i, f := range ix.Fields {
		if i != 0 {
			c.w.WriteString(`, `)
		}
		if f.Expression != "" {
			e := &expContext{compilerContext: c, model: model}
			c.w.WriteString(e.translateExpr(f.Expression))
		} else {
			c.quoted(f.Slug)
		}
		if f.Collation != "" {
			c.w.WriteString(` COLLATE `)
			c.w.WriteString(f.Collation)
		}
		if f.Order != "" {
			c.w.WriteByte(' ')
			c.w.WriteString(strings.ToUpper(f.Order))
		}
	}
	c.w.WriteString(`)`)
	if ix.Filter != nil {
		c.w.WriteString(` WHERE (`)
		e := &expContext{compilerContext: c, model: model}
		e.renderWith(ix.Filter)
		c.w.WriteString(`)`)
	}
}

// renderCreateTrigger writes the CREATE TRIGGER for a trigger entry,
// compiling its effects inline. FOR EACH ROW is required whenever the
// effects reference the firing row or a filter is present.
func (c *compilerContext) renderCreateTrigger(model *sdata.Model, tr *sdata.Trigger) {
	c.w.WriteString(`CREATE TRIGGER `)
	c.quoted(flect.Underscore(tr.Slug))
	c.w.WriteByte(' ')
	c.w.WriteString(strings.ToUpper(tr.When))
	c.w.WriteByte(' ')
	c.w.WriteString(strings.ToUpper(tr.Action))

	if len(tr.Fields) > 0 {
		c.w.WriteString(` OF (`)
		for i, f := range tr.Fields {
			if i != 0 {
				c.w.WriteString(`, `)
			}
			c.quoted(f.Slug)
		}
		c.w.WriteString(`)`)
	}

	c.w.WriteString(` ON `)
	c.quoted(model.Table())

	if tr.Filter != nil || effectsReferenceRow(tr.Effects) {
		c.w.WriteString(` FOR EACH ROW`)
	}

	if tr.Filter != nil {
		c.w.WriteString(` WHEN (`)
		e := &expContext{compilerContext: c, model: model}
		e.renderWith(tr.Filter)
		c.w.WriteString(`)`)
	}

	if len(tr.Effects) == 0 {
		c.setErr(sdata.NewFieldError(sdata.ErrMissingField, "effects",
			"trigger %q requires at least one effect", tr.Slug))
		return
	}

	if len(tr.Effects) == 1 {
		c.w.WriteByte(' ')
		c.renderEffect(tr.Effects[0])
		return
	}

	c.w.WriteString(` BEGIN `)
	for _, effect := range tr.Effects {
		c.renderEffect(effect)
		c.w.WriteString(`; `)
	}
	c.w.WriteString(`END`)
}

// renderEffect compiles one trigger effect query into the trigger body,
// sharing the surrounding statement's parameter list. Effects never return
// rows.
func (c *compilerContext) renderEffect(effect map[string]interface{}) {
	q, err := qcode.Parse(effect, c.schema)
	if err != nil {
		c.setErr(err)
		return
	}
	model, err := c.schema.FindModel(q.Model)
	if err != nil {
		c.setErr(err)
		return
	}

	discard := &Shape{}
	switch q.Type {
	case qcode.QueryAdd:
		c.renderInsert(q.Instr.To, model, discard, false)
	case qcode.QuerySet:
		c.renderUpdate(q, model, discard, false)
	case qcode.QueryRemove:
		c.renderDelete(q, model, discard, false)
	default:
		c.setErr(sdata.NewError(sdata.ErrInvalidModelValue,
			"trigger effects must be add, set or remove queries"))
	}
}

// effectsReferenceRow scans effect bodies for OLD/NEW row references.
func effectsReferenceRow(effects []map[string]interface{}) bool {
	var scan func(v interface{}) bool
	scan = func(v interface{}) bool {
		switch val := v.(type) {
		case string:
			return strings.Contains(val, "__RONIN_FIELD_PARENT_")
		case map[string]interface{}:
			for _, e := range val {
				if scan(e) {
					return true
				}
			}
		case []interface{}:
			for _, e := range val {
				if scan(e) {
					return true
				}
			}
		}
		return false
	}
	for _, effect := range effects {
		if scan(effect) {
			return true
		}
	}
	return false
}
