package psql

import (
	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

// CompileQuery turns one parsed query into its statements plus the shape
// metadata the result formatter needs. Record queries produce one statement;
// meta queries pair their DDL with a schema-table mutation.
func (co *Compiler) CompileQuery(q *qcode.Query) ([]Statement, *Shape, error) {
	switch q.Type {
	case qcode.QueryCreate, qcode.QueryAlter, qcode.QueryDrop:
		return co.compileMeta(q)
	case qcode.QueryList:
		return co.compileList(q)
	}

	model, err := co.schema.FindModel(q.Model)
	if err != nil {
		return nil, nil, err
	}
	plural := model.IsPlural(q.Model)

	shape := &Shape{
		Query:      q,
		Model:      model,
		Single:     !plural,
		Expand:     co.conf.ExpandColumns || len(q.Instr.Selecting) > 0,
		Statements: 1,
	}

	c := co.newContext()

	switch q.Type {
	case qcode.QueryGet:
		c.renderGet(q, model, plural, shape)
	case qcode.QueryCount:
		c.renderCount(q, model, shape)
	case qcode.QueryAdd:
		c.renderInsert(q.Instr.To, model, shape, true)
	case qcode.QuerySet:
		c.renderUpdate(q, model, shape, true)
	case qcode.QueryRemove:
		c.renderDelete(q, model, shape, true)
	}

	st, err := c.statement(true)
	if err != nil {
		return nil, nil, err
	}
	return []Statement{st}, shape, nil
}

func (c *compilerContext) renderGet(q *qcode.Query, model *sdata.Model, plural bool, shape *Shape) {
	in := q.Instr

	incs, err := c.buildIncludes(in.Including, model)
	if err != nil {
		c.setErr(err)
		return
	}

	hasJoins := false
	multiJoin := false
	for _, inc := range incs {
		if inc.isJoin() {
			hasJoins = true
			if inc.plural {
				multiJoin = true
			}
			shape.Mounts = append(shape.Mounts, Mount{
				Path:   inc.mount,
				Alias:  inc.alias,
				Plural: inc.plural,
				Model:  inc.model,
			})
		}
	}

	limited := !plural || in.LimitedTo > 0 || in.OrderedBy != nil
	wrap := multiJoin && limited

	baseAlias := ""
	if hasJoins {
		baseAlias = model.Table()
		if wrap {
			baseAlias = "sub_" + model.Table()
		}
	}

	orderCols := c.effectiveOrder(in, model, plural)
	shape.OrderBy = orderCols
	shape.Limit = in.LimitedTo
	shape.HasAfter = in.After != nil
	shape.HasBefore = in.Before != nil

	e := &expContext{compilerContext: c, model: model, alias: baseAlias}

	c.w.WriteString(`SELECT `)
	c.renderSelectColumns(e, model, in, incs, shape, baseAlias)
	c.w.WriteString(` FROM `)

	if wrap {
		// LIMIT must bind before the multi-record join multiplies rows.
		c.w.WriteString(`(SELECT * FROM `)
		c.quoted(model.Table())
		inner := &expContext{compilerContext: c, model: model}
		c.renderWhereClause(inner, in, orderCols)
		c.renderOrderBy(inner, in, model, plural)
		c.renderLimit(in, plural)
		c.w.WriteString(`)`)
		c.alias(baseAlias, false)
		c.renderJoins(e, incs, model, baseAlias)
	} else {
		c.quoted(model.Table())
		c.renderJoins(e, incs, model, baseAlias)
		c.renderWhereClause(e, in, orderCols)
		c.renderOrderBy(e, in, model, plural)
		c.renderLimit(in, plural)
	}
}

func (c *compilerContext) renderCount(q *qcode.Query, model *sdata.Model, shape *Shape) {
	in := q.Instr
	c.w.WriteString(`SELECT (COUNT(*)) as "amount" FROM `)
	c.quoted(model.Table())
	e := &expContext{compilerContext: c, model: model}
	if in.With != nil {
		c.w.WriteString(` WHERE `)
		e.renderWith(in.With)
	}
}

// renderWhereClause joins the `with` conditions with the pagination-cursor
// condition.
func (c *compilerContext) renderWhereClause(e *expContext, in *qcode.Instructions, orderCols []OrderCol) {
	hasWith := in.With != nil
	hasCursor := in.Before != nil || in.After != nil
	if !hasWith && !hasCursor {
		return
	}
	c.w.WriteString(` WHERE `)
	if hasWith {
		e.renderWith(in.With)
	}
	if hasCursor {
		if hasWith {
			c.w.WriteString(` AND `)
		}
		c.renderCursorCondition(e, in, orderCols)
	}
}

// effectiveOrder lists the ordering columns a statement will sort by; plural
// gets default to newest-first.
func (c *compilerContext) effectiveOrder(in *qcode.Instructions, model *sdata.Model, plural bool) []OrderCol {
	var cols []OrderCol
	if in.OrderedBy != nil {
		for _, item := range in.OrderedBy.Ascending {
			if s, ok := item.(string); ok {
				cols = append(cols, c.orderCol(model, s, false))
			}
		}
		for _, item := range in.OrderedBy.Descending {
			if s, ok := item.(string); ok {
				cols = append(cols, c.orderCol(model, s, true))
			}
		}
		return cols
	}
	if plural {
		return []OrderCol{{Path: "ronin.createdAt", Descending: true, Type: sdata.TypeDate}}
	}
	return nil
}

func (c *compilerContext) orderCol(model *sdata.Model, path string, desc bool) OrderCol {
	typ := ""
	if ref, err := model.ResolveField(path, ""); err == nil {
		typ = ref.Field.Type
	}
	return OrderCol{Path: path, Descending: desc, Type: typ}
}

func (c *compilerContext) renderOrderBy(e *expContext, in *qcode.Instructions, model *sdata.Model, plural bool) {
	ob := in.OrderedBy
	if ob == nil || (len(ob.Ascending) == 0 && len(ob.Descending) == 0) {
		if plural {
			c.w.WriteString(` ORDER BY `)
			ref, err := model.ResolveField("ronin.createdAt", e.condAlias())
			if err != nil {
				c.setErr(err)
				return
			}
			c.w.WriteString(ref.Selector)
			c.w.WriteString(` DESC`)
		}
		return
	}

	c.w.WriteString(` ORDER BY `)
	first := true
	render := func(item interface{}, dir string) {
		if !first {
			c.w.WriteString(`, `)
		}
		first = false
		if expr, ok := qcode.AsExpression(item); ok {
			c.w.WriteString(`(`)
			c.w.WriteString(e.translateExpr(expr))
			c.w.WriteString(`) `)
			c.w.WriteString(dir)
			return
		}
		s, ok := item.(string)
		if !ok {
			c.setErr(sdata.NewError(sdata.ErrInvalidModelValue, "invalid orderedBy entry"))
			return
		}
		ref, err := e.model.ResolveField(s, e.condAlias())
		if err != nil {
			c.setErr(err)
			return
		}
		c.w.WriteString(ref.Selector)
		if ref.Field.Type == sdata.TypeString {
			c.w.WriteString(` COLLATE NOCASE`)
		}
		c.w.WriteByte(' ')
		c.w.WriteString(dir)
	}
	for _, item := range ob.Ascending {
		render(item, `ASC`)
	}
	for _, item := range ob.Descending {
		render(item, `DESC`)
	}
}

// renderLimit fetches one extra row beyond the requested page so the
// formatter can produce pagination cursors. Singular gets always fetch one.
func (c *compilerContext) renderLimit(in *qcode.Instructions, plural bool) {
	if !plural {
		c.w.WriteString(` LIMIT 1`)
		return
	}
	if in.LimitedTo > 0 {
		c.w.WriteString(` LIMIT `)
		c.w.WriteString(itoa(in.LimitedTo + 1))
	}
}

// renderCursorCondition expands a before/after cursor into a lexicographic
// comparison over the ordering columns.
func (c *compilerContext) renderCursorCondition(e *expContext, in *qcode.Instructions, orderCols []OrderCol) {
	if len(orderCols) == 0 {
		c.setErr(sdata.NewError(sdata.ErrInvalidBeforeOrAfter,
			"pagination requires ordering columns"))
		return
	}

	cursor := in.After
	before := false
	if in.Before != nil {
		cursor = in.Before
		before = true
	}

	vals, err := qcode.DecodeCursor(cursor, len(orderCols))
	if err != nil {
		c.setErr(err)
		return
	}

	c.w.WriteString(`(`)
	for i := range orderCols {
		if i != 0 {
			c.w.WriteString(` OR `)
		}
		c.w.WriteString(`(`)
		for j := 0; j < i; j++ {
			c.renderCursorEquality(e, orderCols[j], vals[j])
			c.w.WriteString(` AND `)
		}
		c.renderCursorComparison(e, orderCols[i], vals[i], before)
		c.w.WriteString(`)`)
	}
	c.w.WriteString(`)`)
}

func (c *compilerContext) cursorValue(col OrderCol, raw string) (interface{}, bool) {
	if raw == "RONIN_NULL" {
		return nil, true
	}
	if col.Type == sdata.TypeDate {
		ts, err := qcode.CursorTimestamp(raw)
		if err != nil {
			c.setErr(err)
			return nil, false
		}
		return ts, false
	}
	return raw, false
}

func (c *compilerContext) renderCursorEquality(e *expContext, col OrderCol, raw string) {
	ref, err := e.model.ResolveField(col.Path, e.condAlias())
	if err != nil {
		c.setErr(err)
		return
	}
	val, isNull := c.cursorValue(col, raw)
	c.w.WriteString(ref.Selector)
	if isNull {
		c.w.WriteString(` IS NULL`)
		return
	}
	c.w.WriteString(` = `)
	c.renderValue(val, true)
}

func (c *compilerContext) renderCursorComparison(e *expContext, col OrderCol, raw string, before bool) {
	ref, err := e.model.ResolveField(col.Path, e.condAlias())
	if err != nil {
		c.setErr(err)
		return
	}
	val, isNull := c.cursorValue(col, raw)

	if isNull {
		// Moving past a null boundary means entering the non-null region.
		c.w.WriteString(ref.Selector)
		c.w.WriteString(` IS NOT NULL`)
		return
	}

	op := `>`
	if col.Descending {
		op = `<`
	}
	if before {
		if op == `>` {
			op = `<`
		} else {
			op = `>`
		}
	}

	c.w.WriteString(ref.Selector)
	c.w.WriteByte(' ')
	c.w.WriteString(op)
	c.w.WriteByte(' ')
	c.renderValue(val, true)
}

// renderScalarSelect compiles a nested get/count into a single-column
// sub-select usable in value position.
func (c *compilerContext) renderScalarSelect(
	q *qcode.Query,
	model *sdata.Model,
	parentModel *sdata.Model,
	parentAlias string,
	sawParent *bool,
) {
	in := q.Instr
	e := &expContext{
		compilerContext: c,
		model:           model,
		parentModel:     parentModel,
		parentAlias:     parentAlias,
	}

	c.w.WriteString(`(SELECT `)
	if q.Type == qcode.QueryCount {
		c.w.WriteString(`(COUNT(*))`)
	} else {
		col := "id"
		if len(in.Selecting) > 0 {
			col = in.Selecting[0]
		}
		ref, err := model.ResolveField(col, "")
		if err != nil {
			c.setErr(err)
			return
		}
		c.w.WriteString(ref.Selector)
	}
	c.w.WriteString(` FROM `)
	c.quoted(model.Table())
	if in.With != nil {
		c.w.WriteString(` WHERE `)
		e.renderWith(in.With)
	}
	if q.Type == qcode.QueryGet {
		if !model.IsPlural(q.Model) {
			c.w.WriteString(` LIMIT 1`)
		} else if in.LimitedTo > 0 {
			c.w.WriteString(` LIMIT `)
			c.w.WriteString(itoa(in.LimitedTo))
		}
	}
	c.w.WriteString(`)`)

	if e.sawParent && sawParent != nil {
		*sawParent = true
	}
}
