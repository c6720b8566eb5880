package psql

import (
	"github.com/gobuffalo/flect"

	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

// compileMeta turns a create/alter/drop query into its DDL statement(s)
// paired with the ronin_schema row mutation, and applies the change to the
// registry so later queries in the same batch see it.
func (co *Compiler) compileMeta(q *qcode.Query) ([]Statement, *Shape, error) {
	var stmts []Statement
	var echo map[string]interface{}
	var err error

	switch q.Type {
	case qcode.QueryCreate:
		stmts, echo, err = co.createModel(q.Meta)
	case qcode.QueryDrop:
		stmts, echo, err = co.dropModel(q.Meta)
	case qcode.QueryAlter:
		stmts, echo, err = co.alterModel(q.Meta)
	}
	if err != nil {
		return nil, nil, err
	}

	shape := &Shape{
		Query:      q,
		Meta:       true,
		Statements: len(stmts),
		ModelEcho:  echo,
	}
	return stmts, shape, nil
}

func (co *Compiler) render(fn func(*compilerContext), returning bool) (Statement, error) {
	c := co.newContext()
	fn(c)
	return c.statement(returning)
}

func (co *Compiler) createModel(meta *qcode.MetaQuery) ([]Statement, map[string]interface{}, error) {
	model, err := sdata.DecodeModel(meta.Model)
	if err != nil {
		return nil, nil, err
	}
	if existing, _ := co.schema.FindModel(model.Slug); existing != nil {
		return nil, nil, sdata.NewError(sdata.ErrExistingModelEntity,
			"a model with slug %q already exists", model.Slug)
	}
	sdata.Augment(model)

	// Register first so self-referencing links resolve their target.
	co.schema.Models = append(co.schema.Models, model)

	var stmts []Statement

	st, err := co.render(func(c *compilerContext) { c.renderCreateTable(model) }, false)
	if err != nil {
		return nil, nil, err
	}
	stmts = append(stmts, st)

	// Many-links live in associative tables, each with its own statement.
	for i := range model.Fields {
		f := &model.Fields[i]
		if f.Type != sdata.TypeLink || f.LinkKind() != sdata.LinkMany {
			continue
		}
		assoc := sdata.AssociativeModel(model, f)
		st, err := co.render(func(c *compilerContext) { c.renderCreateTable(assoc) }, false)
		if err != nil {
			return nil, nil, err
		}
		stmts = append(stmts, st)
	}

	for i := range model.Indexes {
		ix := &model.Indexes[i]
		st, err := co.render(func(c *compilerContext) { c.renderCreateIndex(model, ix) }, false)
		if err != nil {
			return nil, nil, err
		}
		stmts = append(stmts, st)
	}
	for i := range model.Triggers {
		tr := &model.Triggers[i]
		st, err := co.render(func(c *compilerContext) { c.renderCreateTrigger(model, tr) }, false)
		if err != nil {
			return nil, nil, err
		}
		stmts = append(stmts, st)
	}

	st, err = co.render(func(c *compilerContext) { c.renderSchemaInsert(model) }, false)
	if err != nil {
		return nil, nil, err
	}
	stmts = append(stmts, st)

	return stmts, model.Map(), nil
}

// renderSchemaInsert persists a model as one ronin_schema row.
func (c *compilerContext) renderSchemaInsert(model *sdata.Model) {
	to := map[string]interface{}{
		"slug":       model.Slug,
		"pluralSlug": model.PluralSlug,
		"name":       model.Name,
		"pluralName": model.PluralName,
		"idPrefix":   model.IDPrefix,
		"table":      model.Table(),
		"identifiers": map[string]interface{}{
			"name": model.Identifiers.Name,
			"slug": model.Identifiers.Slug,
		},
		"fields":   model.FieldsMap(),
		"indexes":  model.IndexesMap(),
		"triggers": model.TriggersMap(),
		"presets":  model.PresetsMap(),
	}
	c.renderInsert(to, sdata.RootModel(), &Shape{}, false)
}

func (co *Compiler) dropModel(meta *qcode.MetaQuery) ([]Statement, map[string]interface{}, error) {
	model, err := co.schema.FindModel(meta.ModelSlug)
	if err != nil {
		return nil, nil, err
	}

	var stmts []Statement

	st, err := co.render(func(c *compilerContext) {
		c.w.WriteString(`DROP TABLE `)
		c.quoted(model.Table())
	}, false)
	if err != nil {
		return nil, nil, err
	}
	stmts = append(stmts, st)

	for i := range model.Fields {
		f := &model.Fields[i]
		if f.Type != sdata.TypeLink || f.LinkKind() != sdata.LinkMany {
			continue
		}
		name := sdata.AssociativeTable(model.Slug, f.Slug)
		st, err := co.render(func(c *compilerContext) {
			c.w.WriteString(`DROP TABLE `)
			c.quoted(name)
		}, false)
		if err != nil {
			return nil, nil, err
		}
		stmts = append(stmts, st)
	}

	st, err = co.render(func(c *compilerContext) {
		c.w.WriteString(`DELETE FROM "ronin_schema" WHERE "slug" = `)
		c.renderValue(model.Slug, true)
	}, false)
	if err != nil {
		return nil, nil, err
	}
	stmts = append(stmts, st)

	echo := model.Map()
	if err := co.schema.RemoveModel(model.Slug); err != nil {
		return nil, nil, err
	}
	return stmts, echo, nil
}

func (co *Compiler) alterModel(meta *qcode.MetaQuery) ([]Statement, map[string]interface{}, error) {
	model, err := co.schema.FindModel(meta.ModelSlug)
	if err != nil {
		return nil, nil, err
	}

	if meta.To != nil {
		return co.alterModelTo(model, meta.To)
	}

	switch meta.ItemKind {
	case "field":
		return co.alterModelField(model, meta)
	case "index":
		return co.alterModelIndex(model, meta)
	case "trigger":
		return co.alterModelTrigger(model, meta)
	case "preset":
		return co.alterModelPreset(model, meta)
	}
	return nil, nil, sdata.NewError(sdata.ErrInvalidModelValue,
		"`alter.model` requires a `to` body or a nested entity operation")
}

// Attribute keys an `alter.model .. to` patch may carry. Their assignments
// render in sorted key order.
var modelPatchColumns = map[string]bool{
	"slug": true, "pluralSlug": true, "name": true, "pluralName": true,
	"idPrefix": true, "table": true, "identifiers": true,
}

func (co *Compiler) alterModelTo(model *sdata.Model, patch map[string]interface{}) ([]Statement, map[string]interface{}, error) {
	for k := range patch {
		if !modelPatchColumns[k] {
			return nil, nil, sdata.NewFieldError(sdata.ErrInvalidModelValue, k,
				"models have no %q attribute", k)
		}
	}

	updated := *model
	if err := applyModelPatch(&updated, patch); err != nil {
		return nil, nil, err
	}

	var stmts []Statement
	oldTable := model.Table()
	oldSlug := model.Slug

	if updated.Table() != oldTable {
		st, err := co.render(func(c *compilerContext) {
			c.w.WriteString(`ALTER TABLE `)
			c.quoted(oldTable)
			c.w.WriteString(` RENAME TO `)
			c.quoted(updated.Table())
		}, false)
		if err != nil {
			return nil, nil, err
		}
		stmts = append(stmts, st)
	}

	st, err := co.render(func(c *compilerContext) {
		c.w.WriteString(`UPDATE "ronin_schema" SET `)
		first := true
		assign := func(col string, v interface{}) {
			if !first {
				c.w.WriteString(`, `)
			}
			first = false
			c.quoted(col)
			c.w.WriteString(` = `)
			c.renderValue(v, true)
		}
		for _, k := range sortedKeys(patch) {
			if k == "identifiers" {
				ids, _ := patch[k].(map[string]interface{})
				for _, sub := range sortedKeys(ids) {
					assign("identifiers."+sub, ids[sub])
				}
				continue
			}
			assign(k, patch[k])
		}
		assign("ronin.updatedAt", sdata.Now())
		c.w.WriteString(` WHERE "slug" = `)
		c.renderValue(oldSlug, true)
	}, false)
	if err != nil {
		return nil, nil, err
	}
	stmts = append(stmts, st)

	*model = updated
	return stmts, model.Map(), nil
}

func applyModelPatch(m *sdata.Model, patch map[string]interface{}) error {
	str := func(k string) (string, bool) {
		v, ok := patch[k].(string)
		return v, ok
	}
	if v, ok := str("slug"); ok {
		m.Slug = v
		if _, ok := patch["pluralSlug"]; !ok {
			m.PluralSlug = flect.Pluralize(v)
		}
	}
	if v, ok := str("pluralSlug"); ok {
		m.PluralSlug = v
	}
	if v, ok := str("name"); ok {
		m.Name = v
	}
	if v, ok := str("pluralName"); ok {
		m.PluralName = v
	}
	if v, ok := str("idPrefix"); ok {
		m.IDPrefix = v
	}
	if v, ok := str("table"); ok {
		m.TableName = v
	}
	if ids, ok := patch["identifiers"].(map[string]interface{}); ok {
		if v, ok := ids["name"].(string); ok {
			m.Identifiers.Name = v
		}
		if v, ok := ids["slug"].(string); ok {
			m.Identifiers.Slug = v
		}
	}
	return nil
}

func (co *Compiler) alterModelField(model *sdata.Model, meta *qcode.MetaQuery) ([]Statement, map[string]interface{}, error) {
	switch meta.ItemOp {
	case "create":
		return co.createField(model, meta)
	case "alter":
		return co.alterField(model, meta)
	case "drop":
		return co.dropField(model, meta)
	}
	return nil, nil, sdata.NewError(sdata.ErrInvalidModelValue, "invalid field operation")
}

func (co *Compiler) createField(model *sdata.Model, meta *qcode.MetaQuery) ([]Statement, map[string]interface{}, error) {
	field, err := sdata.DecodeField(meta.Item)
	if err != nil {
		return nil, nil, err
	}
	if model.Field(field.Slug) != nil {
		return nil, nil, sdata.NewError(sdata.ErrExistingModelEntity,
			"model %q already has a field %q", model.Slug, field.Slug)
	}

	var stmts []Statement
	var st Statement

	if field.Type == sdata.TypeLink && field.LinkKind() == sdata.LinkMany {
		assoc := sdata.AssociativeModel(model, field)
		st, err = co.render(func(c *compilerContext) { c.renderCreateTable(assoc) }, false)
	} else {
		st, err = co.render(func(c *compilerContext) {
			c.w.WriteString(`ALTER TABLE `)
			c.quoted(model.Table())
			c.w.WriteString(` ADD COLUMN `)
			c.renderColumnDef(model, field)
		}, false)
	}
	if err != nil {
		return nil, nil, err
	}
	stmts = append(stmts, st)

	st, err = co.schemaEntityInsert(model.Slug, "fields", field.Slug, field.Map())
	if err != nil {
		return nil, nil, err
	}
	stmts = append(stmts, st)

	model.Fields = append(model.Fields, *field)
	return stmts, model.Map(), nil
}

func (co *Compiler) alterField(model *sdata.Model, meta *qcode.MetaQuery) ([]Statement, map[string]interface{}, error) {
	field := model.Field(meta.ItemSlug)
	if field == nil {
		return nil, nil, sdata.NewFieldError(sdata.ErrFieldNotFound, meta.ItemSlug,
			"no field matches %q on model %q", meta.ItemSlug, model.Slug)
	}
	if meta.ItemTo == nil {
		return nil, nil, sdata.NewError(sdata.ErrMissingInstruction,
			"`alter.field` requires a `to` body")
	}

	oldSlug := field.Slug
	newSlug := oldSlug
	if v, ok := meta.ItemTo["slug"].(string); ok && v != "" {
		newSlug = v
	}

	var stmts []Statement

	if newSlug != oldSlug {
		var st Statement
		var err error
		if field.Type == sdata.TypeLink && field.LinkKind() == sdata.LinkMany {
			st, err = co.render(func(c *compilerContext) {
				c.w.WriteString(`ALTER TABLE `)
				c.quoted(sdata.AssociativeTable(model.Slug, oldSlug))
				c.w.WriteString(` RENAME TO `)
				c.quoted(sdata.AssociativeTable(model.Slug, newSlug))
			}, false)
		} else {
			st, err = co.render(func(c *compilerContext) {
				c.w.WriteString(`ALTER TABLE `)
				c.quoted(model.Table())
				c.w.WriteString(` RENAME COLUMN `)
				c.quoted(oldSlug)
				c.w.WriteString(` TO `)
				c.quoted(newSlug)
			}, false)
		}
		if err != nil {
			return nil, nil, err
		}
		stmts = append(stmts, st)
	}

	merged := field.Map()
	for k, v := range meta.ItemTo {
		if k == "slug" {
			continue
		}
		merged[k] = v
	}

	updated, err := decodeMergedField(newSlug, merged)
	if err != nil {
		return nil, nil, err
	}

	var st Statement
	if newSlug != oldSlug {
		st, err = co.schemaEntityRename(model.Slug, "fields", oldSlug, newSlug, merged)
	} else {
		st, err = co.schemaEntitySet(model.Slug, "fields", newSlug, merged)
	}
	if err != nil {
		return nil, nil, err
	}
	stmts = append(stmts, st)

	*field = *updated
	return stmts, model.Map(), nil
}

func decodeMergedField(slug string, body map[string]interface{}) (*sdata.Field, error) {
	raw := map[string]interface{}{"slug": slug}
	for k, v := range body {
		raw[k] = v
	}
	return sdata.DecodeField(raw)
}

func (co *Compiler) dropField(model *sdata.Model, meta *qcode.MetaQuery) ([]Statement, map[string]interface{}, error) {
	field := model.Field(meta.ItemSlug)
	if field == nil {
		return nil, nil, sdata.NewFieldError(sdata.ErrFieldNotFound, meta.ItemSlug,
			"no field matches %q on model %q", meta.ItemSlug, model.Slug)
	}

	var stmts []Statement
	var st Statement
	var err error

	if field.Type == sdata.TypeLink && field.LinkKind() == sdata.LinkMany {
		st, err = co.render(func(c *compilerContext) {
			c.w.WriteString(`DROP TABLE `)
			c.quoted(sdata.AssociativeTable(model.Slug, field.Slug))
		}, false)
	} else {
		st, err = co.render(func(c *compilerContext) {
			c.w.WriteString(`ALTER TABLE `)
			c.quoted(model.Table())
			c.w.WriteString(` DROP COLUMN `)
			c.quoted(field.Slug)
		}, false)
	}
	if err != nil {
		return nil, nil, err
	}
	stmts = append(stmts, st)

	st, err = co.schemaEntityRemove(model.Slug, "fields", field.Slug)
	if err != nil {
		return nil, nil, err
	}
	stmts = append(stmts, st)

	for i := range model.Fields {
		if model.Fields[i].Slug == field.Slug {
			model.Fields = append(model.Fields[:i], model.Fields[i+1:]...)
			break
		}
	}
	return stmts, model.Map(), nil
}

func (co *Compiler) alterModelIndex(model *sdata.Model, meta *qcode.MetaQuery) ([]Statement, map[string]interface{}, error) {
	switch meta.ItemOp {
	case "create":
		ix, err := sdata.DecodeIndex(meta.Item)
		if err != nil {
			return nil, nil, err
		}
		if model.IndexBySlug(ix.Slug) != nil {
			return nil, nil, sdata.NewError(sdata.ErrExistingModelEntity,
				"model %q already has an index %q", model.Slug, ix.Slug)
		}
		st, err := co.render(func(c *compilerContext) { c.renderCreateIndex(model, ix) }, false)
		if err != nil {
			return nil, nil, err
		}
		model.Indexes = append(model.Indexes, *ix)
		entry := model.IndexesMap()[ix.Slug]
		st2, err := co.schemaEntityInsert(model.Slug, "indexes", ix.Slug, entry)
		if err != nil {
			return nil, nil, err
		}
		return []Statement{st, st2}, model.Map(), nil

	case "drop":
		ix := model.IndexBySlug(meta.ItemSlug)
		if ix == nil {
			return nil, nil, sdata.NewError(sdata.ErrIndexNotFound,
				"no index matches %q on model %q", meta.ItemSlug, model.Slug)
		}
		st, err := co.render(func(c *compilerContext) {
			c.w.WriteString(`DROP INDEX `)
			c.quoted(flect.Underscore(ix.Slug))
		}, false)
		if err != nil {
			return nil, nil, err
		}
		st2, err := co.schemaEntityRemove(model.Slug, "indexes", ix.Slug)
		if err != nil {
			return nil, nil, err
		}
		for i := range model.Indexes {
			if model.Indexes[i].Slug == ix.Slug {
				model.Indexes = append(model.Indexes[:i], model.Indexes[i+1:]...)
				break
			}
		}
		return []Statement{st, st2}, model.Map(), nil
	}
	return nil, nil, sdata.NewError(sdata.ErrInvalidModelValue, "indexes can only be created or dropped")
}

func (co *Compiler) alterModelTrigger(model *sdata.Model, meta *qcode.MetaQuery) ([]Statement, map[string]interface{}, error) {
	switch meta.ItemOp {
	case "create":
		tr, err := sdata.DecodeTrigger(meta.Item)
		if err != nil {
			return nil, nil, err
		}
		if model.TriggerBySlug(tr.Slug) != nil {
			return nil, nil, sdata.NewError(sdata.ErrExistingModelEntity,
				"model %q already has a trigger %q", model.Slug, tr.Slug)
		}
		st, err := co.render(func(c *compilerContext) { c.renderCreateTrigger(model, tr) }, false)
		if err != nil {
			return nil, nil, err
		}
		model.Triggers = append(model.Triggers, *tr)
		entry := model.TriggersMap()[tr.Slug]
		st2, err := co.schemaEntityInsert(model.Slug, "triggers", tr.Slug, entry)
		if err != nil {
			return nil, nil, err
		}
		return []Statement{st, st2}, model.Map(), nil

	case "drop":
		tr := model.TriggerBySlug(meta.ItemSlug)
		if tr == nil {
			return nil, nil, sdata.NewError(sdata.ErrTriggerNotFound,
				"no trigger matches %q on model %q", meta.ItemSlug, model.Slug)
		}
		st, err := co.render(func(c *compilerContext) {
			c.w.WriteString(`DROP TRIGGER `)
			c.quoted(flect.Underscore(tr.Slug))
		}, false)
		if err != nil {
			return nil, nil, err
		}
		st2, err := co.schemaEntityRemove(model.Slug, "triggers", tr.Slug)
		if err != nil {
			return nil, nil, err
		}
		for i := range model.Triggers {
			if model.Triggers[i].Slug == tr.Slug {
				model.Triggers = append(model.Triggers[:i], model.Triggers[i+1:]...)
				break
			}
		}
		return []Statement{st, st2}, model.Map(), nil
	}
	return nil, nil, sdata.NewError(sdata.ErrInvalidModelValue, "triggers can only be created or dropped")
}

// Presets carry no physical DDL; they live only in ronin_schema.
func (co *Compiler) alterModelPreset(model *sdata.Model, meta *qcode.MetaQuery) ([]Statement, map[string]interface{}, error) {
	switch meta.ItemOp {
	case "create":
		p, err := sdata.DecodePreset(meta.Item)
		if err != nil {
			return nil, nil, err
		}
		if model.PresetBySlug(p.Slug) != nil {
			return nil, nil, sdata.NewError(sdata.ErrExistingModelEntity,
				"model %q already has a preset %q", model.Slug, p.Slug)
		}
		model.Presets = append(model.Presets, *p)
		st, err := co.schemaEntityInsert(model.Slug, "presets", p.Slug,
			map[string]interface{}{"instructions": p.Instructions})
		if err != nil {
			return nil, nil, err
		}
		return []Statement{st}, model.Map(), nil

	case "alter":
		p := model.PresetBySlug(meta.ItemSlug)
		if p == nil {
			return nil, nil, sdata.NewError(sdata.ErrPresetNotFound,
				"no preset matches %q on model %q", meta.ItemSlug, model.Slug)
		}
		if instr, ok := meta.ItemTo["instructions"].(map[string]interface{}); ok {
			p.Instructions = instr
		}
		st, err := co.schemaEntitySet(model.Slug, "presets", p.Slug,
			map[string]interface{}{"instructions": p.Instructions})
		if err != nil {
			return nil, nil, err
		}
		return []Statement{st}, model.Map(), nil

	case "drop":
		p := model.PresetBySlug(meta.ItemSlug)
		if p == nil {
			return nil, nil, sdata.NewError(sdata.ErrPresetNotFound,
				"no preset matches %q on model %q", meta.ItemSlug, model.Slug)
		}
		st, err := co.schemaEntityRemove(model.Slug, "presets", p.Slug)
		if err != nil {
			return nil, nil, err
		}
		for i := range model.Presets {
			if model.Presets[i].Slug == p.Slug {
				model.Presets = append(model.Presets[:i], model.Presets[i+1:]...)
				break
			}
		}
		return []Statement{st}, model.Map(), nil
	}
	return nil, nil, sdata.NewError(sdata.ErrInvalidModelValue, "invalid preset operation")
}

// schemaEntityInsert/Set/Remove/Rename maintain the JSON attribute columns of
// the model's ronin_schema row, stamping the update timestamp.

func (co *Compiler) schemaEntityInsert(modelSlug, column, slug string, value interface{}) (Statement, error) {
	return co.schemaEntityOp(modelSlug, column, func(c *compilerContext) {
		c.w.WriteString(`json_insert(`)
		c.quoted(column)
		c.w.WriteString(`, '$.` + slug + `', json(`)
		c.renderValue(value, true)
		c.w.WriteString(`))`)
	})
}

func (co *Compiler) schemaEntitySet(modelSlug, column, slug string, value interface{}) (Statement, error) {
	return co.schemaEntityOp(modelSlug, column, func(c *compilerContext) {
		c.w.WriteString(`json_set(`)
		c.quoted(column)
		c.w.WriteString(`, '$.` + slug + `', json(`)
		c.renderValue(value, true)
		c.w.WriteString(`))`)
	})
}

func (co *Compiler) schemaEntityRemove(modelSlug, column, slug string) (Statement, error) {
	return co.schemaEntityOp(modelSlug, column, func(c *compilerContext) {
		c.w.WriteString(`json_remove(`)
		c.quoted(column)
		c.w.WriteString(`, '$.` + slug + `')`)
	})
}

func (co *Compiler) schemaEntityRename(modelSlug, column, oldSlug, newSlug string, value interface{}) (Statement, error) {
	return co.schemaEntityOp(modelSlug, column, func(c *compilerContext) {
		c.w.WriteString(`json_set(json_remove(`)
		c.quoted(column)
		c.w.WriteString(`, '$.` + oldSlug + `'), '$.` + newSlug + `', json(`)
		c.renderValue(value, true)
		c.w.WriteString(`))`)
	})
}

func (co *Compiler) schemaEntityOp(modelSlug, column string, value func(*compilerContext)) (Statement, error) {
	c := co.newContext()
	c.w.WriteString(`UPDATE "ronin_schema" SET `)
	c.quoted(column)
	c.w.WriteString(` = `)
	value(c)
	c.w.WriteString(`, "ronin.updatedAt" = `)
	c.renderValue(sdata.Now(), true)
	c.w.WriteString(` WHERE "slug" = `)
	c.renderValue(modelSlug, true)
	return c.statement(false)
}

// compileList reads schema metadata back out of ronin_schema.
func (co *Compiler) compileList(q *qcode.Query) ([]Statement, *Shape, error) {
	meta := q.Meta
	c := co.newContext()

	if meta.Entity == "models" {
		c.w.WriteString(`SELECT * FROM "ronin_schema"`)
	} else {
		if _, err := co.schema.FindModel(meta.ModelSlug); err != nil {
			return nil, nil, err
		}
		c.w.WriteString(`SELECT `)
		c.quoted(meta.Entity)
		c.w.WriteString(` FROM "ronin_schema" WHERE "slug" = `)
		c.renderValue(meta.ModelSlug, true)
	}

	st, err := c.statement(true)
	if err != nil {
		return nil, nil, err
	}
	shape := &Shape{Query: q, Model: sdata.RootModel(), Statements: 1}
	return []Statement{st}, shape, nil
}
