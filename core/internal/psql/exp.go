package psql

import (
	"fmt"

	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

// operators maps the DSL condition operators onto their SQL templates. LIKE
// operators receive their wildcard affixes on the bound value.
var operators = map[string]string{
	"being":          "=",
	"notBeing":       "!=",
	"greaterThan":    ">",
	"greaterOrEqual": ">=",
	"lessThan":       "<",
	"lessOrEqual":    "<=",
	"startingWith":   "LIKE",
	"endingWith":     "LIKE",
	"containing":     "LIKE",
	"notContaining":  "NOT LIKE",
}

// expContext carries the state a condition subtree is compiled against:
// the current model and its qualification alias, plus the parent query's
// model for parent-scoped field references.
type expContext struct {
	*compilerContext
	model       *sdata.Model
	alias       string
	parentModel *sdata.Model
	parentAlias string
	// assigning renders a SET column-assignment list instead of conditions.
	assigning bool
	// sawParent bubbles up when any parent-scoped reference was rendered;
	// the query compiler uses it to decide sub-select wrapping.
	sawParent bool
}

func allOperators(m map[string]interface{}) bool {
	for k := range m {
		if _, ok := operators[k]; !ok {
			return false
		}
	}
	return len(m) > 0
}

func isObject(v interface{}) bool {
	_, ok := v.(map[string]interface{})
	return ok
}

// renderWith compiles a `with` instruction value into WHERE-clause contents.
// Top level joins field entries with AND; a single entry renders
// unparenthesized, several are wrapped.
func (e *expContext) renderWith(with interface{}) {
	switch v := with.(type) {
	case map[string]interface{}:
		keys := sortedKeys(v)
		if len(keys) == 0 {
			e.setErr(sdata.NewError(sdata.ErrInvalidWithValue, "`with` must not be empty"))
			return
		}
		if len(keys) > 1 {
			e.w.WriteString(`(`)
		}
		for i, k := range keys {
			if i != 0 {
				e.w.WriteString(` AND `)
			}
			e.renderNode(k, "", v[k])
		}
		if len(keys) > 1 {
			e.w.WriteString(`)`)
		}
	case []interface{}:
		e.renderNode("", "", v)
	default:
		e.setErr(sdata.NewError(sdata.ErrInvalidWithValue, "`with` must be an object or array"))
	}
}

// renderAssignments compiles a `to` instruction of a set query into a SET
// column-assignment list.
func (e *expContext) renderAssignments(to map[string]interface{}) {
	e.assigning = true
	keys := sortedKeys(to)
	for i, k := range keys {
		if i != 0 {
			e.w.WriteString(`, `)
		}
		e.renderNode(k, "", to[k])
	}
}

// renderNode compiles one value subtree against a dotted field path and a
// selected operator. The cases are tried in a fixed order: condition object,
// array alternatives, nested object without a field path, field-context value,
// and a nested object extending the path when the path names no field.
func (e *expContext) renderNode(path, op string, v interface{}) {
	if e.err != nil {
		return
	}

	switch path {
	case "nameIdentifier":
		path = e.model.Identifiers.Name
	case "slugIdentifier":
		path = e.model.Identifiers.Slug
	}

	if m, ok := v.(map[string]interface{}); ok && !e.assigning && allOperators(m) {
		keys := sortedKeys(m)
		if len(keys) > 1 {
			e.w.WriteString(`(`)
		}
		for i, k := range keys {
			if i != 0 {
				e.w.WriteString(` AND `)
			}
			e.renderNode(path, k, m[k])
		}
		if len(keys) > 1 {
			e.w.WriteString(`)`)
		}
		return
	}

	if arr, ok := v.([]interface{}); ok {
		if len(arr) == 0 {
			e.setErr(sdata.NewFieldError(sdata.ErrInvalidWithValue, path,
				"empty alternatives for %q", path))
			return
		}
		if len(arr) > 1 {
			e.w.WriteString(`(`)
		}
		for i, el := range arr {
			if i != 0 {
				e.w.WriteString(` OR `)
			}
			e.renderNode(path, op, el)
		}
		if len(arr) > 1 {
			e.w.WriteString(`)`)
		}
		return
	}

	if path == "" {
		if m, ok := v.(map[string]interface{}); ok && len(m) > 0 {
			e.renderEntries(m, "")
			return
		}
		e.setErr(sdata.NewError(sdata.ErrInvalidWithValue, "conditions require a field"))
		return
	}

	ref, ferr := e.model.ResolveField(path, e.condAlias())
	if ferr != nil {
		if m, ok := v.(map[string]interface{}); ok && len(m) > 0 {
			e.renderEntries(m, path)
			return
		}
		e.setErr(sdata.NewFieldError(sdata.ErrInvalidWithValue, path,
			"value of %q matches nothing", path))
		return
	}

	fld := ref.Field

	if fld.Type == sdata.TypeLink && fld.LinkKind() == sdata.LinkOne &&
		isObject(v) && !qcode.IsSymbol(v) {
		m := v.(map[string]interface{})
		if idv, ok := m["id"]; ok && len(m) == 1 && !isObject(idv) {
			e.renderLeaf(ref, op, idv)
			return
		}
		e.renderLinkSubQuery(ref, op, m)
		return
	}

	if e.assigning && fld.Type == sdata.TypeJSON && !qcode.IsSymbol(v) {
		e.renderJSONPatch(ref, v)
		return
	}

	e.renderLeaf(ref, op, v)
}

// renderEntries walks a nested object, extending the dotted field path.
func (e *expContext) renderEntries(m map[string]interface{}, prefix string) {
	keys := sortedKeys(m)
	sep := ` AND `
	if e.assigning {
		sep = `, `
	}
	wrap := len(keys) > 1 && prefix != "" && !e.assigning
	if wrap {
		e.w.WriteString(`(`)
	}
	for i, k := range keys {
		if i != 0 {
			e.w.WriteString(sep)
		}
		child := k
		if prefix != "" {
			child = prefix + "." + k
		}
		e.renderNode(child, "", m[k])
	}
	if wrap {
		e.w.WriteString(`)`)
	}
}

// condAlias returns the qualification alias for condition columns.
// Assignments always address bare columns: SQLite rejects qualified names in
// a SET list.
func (e *expContext) condAlias() string {
	if e.assigning {
		return ""
	}
	return e.alias
}

func (e *expContext) renderLeaf(ref *sdata.FieldRef, op string, v interface{}) {
	if e.assigning {
		e.w.WriteString(ref.Selector)
		e.w.WriteString(` = `)
		e.renderRHS(ref, "", v)
		return
	}

	if op == "" {
		op = "being"
	}

	if v == nil {
		e.w.WriteString(ref.Selector)
		switch op {
		case "being":
			e.w.WriteString(` IS NULL`)
		case "notBeing":
			e.w.WriteString(` IS NOT NULL`)
		default:
			e.setErr(sdata.NewFieldError(sdata.ErrInvalidWithValue, ref.Field.Slug,
				"operator %q cannot compare against null", op))
		}
		return
	}

	sqlOp, ok := operators[op]
	if !ok {
		e.setErr(sdata.NewFieldError(sdata.ErrInvalidWithValue, ref.Field.Slug,
			"unknown operator %q", op))
		return
	}

	e.w.WriteString(ref.Selector)
	e.w.WriteByte(' ')
	e.w.WriteString(sqlOp)
	e.w.WriteByte(' ')
	e.renderRHS(ref, op, v)
}

// renderRHS writes the right-hand side of a comparison or assignment:
// field references become column selectors (never bound), expressions are
// translated, sub-queries compile inline, everything else binds.
func (e *expContext) renderRHS(ref *sdata.FieldRef, op string, v interface{}) {
	if scope, path, ok := qcode.AsFieldRef(v); ok {
		e.renderFieldRef(scope, path)
		return
	}

	if expr, ok := qcode.AsExpression(v); ok {
		e.w.WriteString(e.translateExpr(expr))
		return
	}

	if body, ok := qcode.AsQuery(v); ok {
		e.renderValueSubQuery(body)
		return
	}

	switch op {
	case "startingWith":
		e.renderValue(fmt.Sprintf("%v%%", v), true)
	case "endingWith":
		e.renderValue(fmt.Sprintf("%%%v", v), true)
	case "containing", "notContaining":
		e.renderValue(fmt.Sprintf("%%%v%%", v), true)
	default:
		e.renderValue(v, false)
	}
}

func (e *expContext) renderFieldRef(scope qcode.FieldScope, path string) {
	switch scope {
	case qcode.ScopeCurrent:
		ref, err := e.model.ResolveField(path, e.condAlias())
		if err != nil {
			e.setErr(err)
			return
		}
		e.w.WriteString(ref.Selector)
	case qcode.ScopeParent:
		if e.parentModel == nil {
			e.setErr(sdata.NewFieldError(sdata.ErrInvalidWithValue, path,
				"no parent query to resolve %q against", path))
			return
		}
		ref, err := e.parentModel.ResolveField(path, e.parentAlias)
		if err != nil {
			e.setErr(err)
			return
		}
		e.sawParent = true
		e.w.WriteString(ref.Selector)
	case qcode.ScopeOld:
		e.sawParent = true
		e.w.WriteString(`OLD.`)
		e.quoted(path)
	case qcode.ScopeNew:
		e.sawParent = true
		e.w.WriteString(`NEW.`)
		e.quoted(path)
	}
}

// translateExpr substitutes every field marker inside a raw expression with
// its SQL selector.
func (e *expContext) translateExpr(expr string) string {
	out, sawParent := qcode.ReplaceFieldRefs(expr, func(scope qcode.FieldScope, path string) string {
		switch scope {
		case qcode.ScopeCurrent:
			ref, err := e.model.ResolveField(path, e.condAlias())
			if err != nil {
				e.setErr(err)
				return ""
			}
			return ref.Selector
		case qcode.ScopeParent:
			if e.parentModel == nil {
				e.setErr(sdata.NewFieldError(sdata.ErrInvalidWithValue, path,
					"no parent query to resolve %q against", path))
				return ""
			}
			ref, err := e.parentModel.ResolveField(path, e.parentAlias)
			if err != nil {
				e.setErr(err)
				return ""
			}
			return ref.Selector
		case qcode.ScopeOld:
			return `OLD."` + path + `"`
		default:
			return `NEW."` + path + `"`
		}
	})
	if sawParent {
		e.sawParent = true
	}
	return out
}

// renderLinkSubQuery rewrites a nested object on a link field as an implicit
// sub-query against the target model.
func (e *expContext) renderLinkSubQuery(ref *sdata.FieldRef, op string, conds map[string]interface{}) {
	target, err := e.schema.FindModel(ref.Field.Target)
	if err != nil {
		e.setErr(err)
		return
	}

	if op == "" {
		op = "being"
	}
	sqlOp, ok := operators[op]
	if !ok {
		e.setErr(sdata.NewFieldError(sdata.ErrInvalidWithValue, ref.Field.Slug,
			"unknown operator %q", op))
		return
	}

	if e.assigning {
		e.w.WriteString(ref.Selector)
		e.w.WriteString(` = `)
	} else {
		e.w.WriteString(ref.Selector)
		e.w.WriteByte(' ')
		e.w.WriteString(sqlOp)
		e.w.WriteByte(' ')
	}

	e.w.WriteString(`(SELECT "id" FROM `)
	e.quoted(target.Table())
	e.w.WriteString(` WHERE `)
	sub := &expContext{
		compilerContext: e.compilerContext,
		model:           target,
		parentModel:     e.model,
		parentAlias:     e.alias,
	}
	sub.renderWith(conds)
	if sub.sawParent {
		e.sawParent = true
	}
	e.w.WriteString(` LIMIT 1)`)
}

// renderJSONPatch emits the write form for JSON columns: replace when the
// column is still NULL, patch otherwise.
func (e *expContext) renderJSONPatch(ref *sdata.FieldRef, v interface{}) {
	sel := ref.Selector
	e.w.WriteString(sel)
	e.w.WriteString(` = IIF(`)
	e.w.WriteString(sel)
	e.w.WriteString(` IS NULL, `)
	e.renderValue(v, true)
	e.w.WriteString(`, json_patch(`)
	e.w.WriteString(sel)
	e.w.WriteString(`, `)
	e.renderValue(v, true)
	e.w.WriteString(`))`)
}

// renderValueSubQuery compiles a sub-query sentinel in value position into a
// scalar sub-select.
func (e *expContext) renderValueSubQuery(body map[string]interface{}) {
	q, model, err := e.parseSubQuery(body)
	if err != nil {
		e.setErr(err)
		return
	}
	if q.Type != qcode.QueryGet && q.Type != qcode.QueryCount {
		e.setErr(sdata.NewError(sdata.ErrInvalidWithValue,
			"only get and count queries can be nested as values"))
		return
	}
	e.renderScalarSelect(q, model, e.model, e.alias, &e.sawParent)
}
