package psql

import (
	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

type insertColumn struct {
	name  string
	value interface{}
	field *sdata.Field
}

// renderInsert compiles an `add` query's `to` instruction. User-supplied
// columns come first, then the auto-generated id and timestamps when absent.
// Top-level inserts return the written row; trigger effects do not.
func (c *compilerContext) renderInsert(to map[string]interface{}, model *sdata.Model, shape *Shape, topLevel bool) {
	cols, err := c.insertColumns(to, model, "")
	if err != nil {
		c.setErr(err)
		return
	}

	if !hasColumn(cols, "id") {
		cols = append(cols, insertColumn{name: "id", value: sdata.NewRecordID(model.IDPrefix)})
	}
	now := sdata.Now()
	if !hasColumn(cols, "ronin.createdAt") {
		cols = append(cols, insertColumn{name: "ronin.createdAt", value: now})
	}
	if !hasColumn(cols, "ronin.updatedAt") {
		cols = append(cols, insertColumn{name: "ronin.updatedAt", value: now})
	}

	c.w.WriteString(`INSERT INTO `)
	c.quoted(model.Table())
	c.w.WriteString(` (`)
	for i, col := range cols {
		if i != 0 {
			c.w.WriteString(`, `)
		}
		c.quoted(col.name)
	}
	c.w.WriteString(`) VALUES (`)
	e := &expContext{compilerContext: c, model: model}
	for i, col := range cols {
		if i != 0 {
			c.w.WriteString(`, `)
		}
		c.renderInsertValue(e, col)
	}
	c.w.WriteString(`)`)

	if topLevel {
		c.w.WriteString(` RETURNING *`)
	}
}

func hasColumn(cols []insertColumn, name string) bool {
	for _, col := range cols {
		if col.name == name {
			return true
		}
	}
	return false
}

// insertColumns flattens a `to` instruction into ordered column/value pairs.
// Nested objects under non-JSON fields extend the column name with dots;
// objects under JSON fields are stored whole.
func (c *compilerContext) insertColumns(to map[string]interface{}, model *sdata.Model, prefix string) ([]insertColumn, error) {
	var out []insertColumn
	for _, k := range sortedKeys(to) {
		v := to[k]
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}

		fld := model.Field(path)
		if fld == nil || fld.Type == sdata.TypeGroup {
			nested, ok := v.(map[string]interface{})
			if ok && !qcode.IsSymbol(nested) {
				more, err := c.insertColumns(nested, model, path)
				if err != nil {
					return nil, err
				}
				out = append(out, more...)
				continue
			}
			return nil, sdata.NewFieldError(sdata.ErrFieldNotFound, path,
				"no field matches %q on model %q", path, model.Slug)
		}

		switch {
		case fld.Type == sdata.TypeLink && fld.LinkKind() == sdata.LinkMany:
			return nil, sdata.NewFieldError(sdata.ErrInvalidToValue, path,
				"many-links cannot be written through `to`")
		case fld.Type == sdata.TypeLink && isObject(v) && !qcode.IsSymbol(v):
			m := v.(map[string]interface{})
			idv, ok := m["id"]
			if !ok || len(m) != 1 {
				return nil, sdata.NewFieldError(sdata.ErrInvalidToValue, path,
					"a link value must be an id or `{id: ...}`")
			}
			out = append(out, insertColumn{name: path, value: idv, field: fld})
		default:
			out = append(out, insertColumn{name: path, value: v, field: fld})
		}
	}
	return out, nil
}

func (c *compilerContext) renderInsertValue(e *expContext, col insertColumn) {
	if expr, ok := qcode.AsExpression(col.value); ok {
		c.w.WriteString(`(`)
		c.w.WriteString(e.translateExpr(expr))
		c.w.WriteString(`)`)
		return
	}
	if body, ok := qcode.AsQuery(col.value); ok {
		e.renderValueSubQuery(body)
		return
	}
	c.renderValue(col.value, true)
}

// renderUpdate compiles a `set` query: assignments from `to`, the update
// timestamp stamped automatically, conditions from `with`.
func (c *compilerContext) renderUpdate(q *qcode.Query, model *sdata.Model, shape *Shape, topLevel bool) {
	in := q.Instr

	c.w.WriteString(`UPDATE `)
	c.quoted(model.Table())
	c.w.WriteString(` SET `)

	e := &expContext{compilerContext: c, model: model}
	e.renderAssignments(in.To)
	if _, ok := in.To["ronin.updatedAt"]; !ok {
		c.w.WriteString(`, "ronin.updatedAt" = `)
		c.renderValue(sdata.Now(), true)
	}
	e.assigning = false

	if in.With != nil {
		c.w.WriteString(` WHERE `)
		e.renderWith(in.With)
	}

	if topLevel {
		c.w.WriteString(` RETURNING *`)
	}
}

// renderDelete compiles a `remove` query.
func (c *compilerContext) renderDelete(q *qcode.Query, model *sdata.Model, shape *Shape, topLevel bool) {
	in := q.Instr

	c.w.WriteString(`DELETE FROM `)
	c.quoted(model.Table())

	if in.With != nil {
		e := &expContext{compilerContext: c, model: model}
		c.w.WriteString(` WHERE `)
		e.renderWith(in.With)
	}

	if topLevel {
		c.w.WriteString(` RETURNING *`)
	}
}
