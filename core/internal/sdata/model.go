package sdata

import (
	"github.com/mitchellh/mapstructure"
)

// Field types supported by the DSL.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeDate    = "date"
	TypeBlob    = "blob"
	TypeJSON    = "json"
	TypeLink    = "link"
	TypeGroup   = "group"
)

// Link cardinalities.
const (
	LinkOne  = "one"
	LinkMany = "many"
)

type LinkActions struct {
	OnDelete string `mapstructure:"onDelete" json:"onDelete,omitempty"`
	OnUpdate string `mapstructure:"onUpdate" json:"onUpdate,omitempty"`
}

type ComputedAs struct {
	Kind  string      `mapstructure:"kind" json:"kind"`
	Value interface{} `mapstructure:"value" json:"value"`
}

// Field describes one column-like attribute of a model. Slugs may contain
// dots, either addressing nested JSON properties or naming a system column
// under the "ronin." prefix.
type Field struct {
	Slug         string      `mapstructure:"slug" json:"slug"`
	Name         string      `mapstructure:"name" json:"name,omitempty"`
	Type         string      `mapstructure:"type" json:"type"`
	Required     bool        `mapstructure:"required" json:"required,omitempty"`
	Unique       bool        `mapstructure:"unique" json:"unique,omitempty"`
	Check        interface{} `mapstructure:"check" json:"check,omitempty"`
	Collation    string      `mapstructure:"collation" json:"collation,omitempty"`
	Increment    bool        `mapstructure:"increment" json:"increment,omitempty"`
	DefaultValue interface{} `mapstructure:"defaultValue" json:"defaultValue,omitempty"`
	ComputedAs   *ComputedAs `mapstructure:"computedAs" json:"computedAs,omitempty"`

	// Link fields only.
	Target  string       `mapstructure:"target" json:"target,omitempty"`
	Kind    string       `mapstructure:"kind" json:"kind,omitempty"`
	Actions *LinkActions `mapstructure:"actions" json:"actions,omitempty"`

	// System marks the implicit fields every model owns.
	System bool `mapstructure:"-" json:"-"`
}

// LinkKind returns the effective cardinality of a link field.
func (f *Field) LinkKind() string {
	if f.Kind == "" {
		return LinkOne
	}
	return f.Kind
}

type IndexField struct {
	Slug       string `mapstructure:"slug" json:"slug,omitempty"`
	Expression string `mapstructure:"expression" json:"expression,omitempty"`
	Order      string `mapstructure:"order" json:"order,omitempty"`
	Collation  string `mapstructure:"collation" json:"collation,omitempty"`
}

type Index struct {
	Slug   string                 `mapstructure:"slug" json:"slug"`
	Fields []IndexField           `mapstructure:"fields" json:"fields"`
	Unique bool                   `mapstructure:"unique" json:"unique,omitempty"`
	Filter map[string]interface{} `mapstructure:"filter" json:"filter,omitempty"`
}

type TriggerField struct {
	Slug string `mapstructure:"slug" json:"slug"`
}

type Trigger struct {
	Slug    string                   `mapstructure:"slug" json:"slug"`
	When    string                   `mapstructure:"when" json:"when"`
	Action  string                   `mapstructure:"action" json:"action"`
	Fields  []TriggerField           `mapstructure:"fields" json:"fields,omitempty"`
	Effects []map[string]interface{} `mapstructure:"effects" json:"effects"`
	Filter  map[string]interface{}   `mapstructure:"filter" json:"filter,omitempty"`
}

type Preset struct {
	Slug         string                 `mapstructure:"slug" json:"slug"`
	Instructions map[string]interface{} `mapstructure:"instructions" json:"instructions"`
}

type Identifiers struct {
	Name string `mapstructure:"name" json:"name,omitempty"`
	Slug string `mapstructure:"slug" json:"slug,omitempty"`
}

// Model is the user-visible schema for a kind of record.
type Model struct {
	Slug        string      `mapstructure:"slug" json:"slug"`
	PluralSlug  string      `mapstructure:"pluralSlug" json:"pluralSlug"`
	Name        string      `mapstructure:"name" json:"name,omitempty"`
	PluralName  string      `mapstructure:"pluralName" json:"pluralName,omitempty"`
	IDPrefix    string      `mapstructure:"idPrefix" json:"idPrefix,omitempty"`
	TableName   string      `mapstructure:"table" json:"table,omitempty"`
	Identifiers Identifiers `mapstructure:"identifiers" json:"identifiers,omitempty"`
	Fields      []Field     `mapstructure:"fields" json:"fields,omitempty"`
	Indexes     []Index     `mapstructure:"indexes" json:"indexes,omitempty"`
	Triggers    []Trigger   `mapstructure:"triggers" json:"triggers,omitempty"`
	Presets     []Preset    `mapstructure:"presets" json:"presets,omitempty"`
}

// DecodeModel builds a Model from an untyped JSON-shaped map. Unknown keys are
// rejected so malformed schema bodies fail fast.
func DecodeModel(raw map[string]interface{}) (*Model, error) {
	var m Model
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &m,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, NewError(ErrInvalidModelValue, "invalid model body: %v", err)
	}
	if m.Slug == "" {
		return nil, NewFieldError(ErrMissingField, "slug", "a model requires a `slug`")
	}
	return &m, nil
}

// DecodeField builds a Field from an untyped map, enforcing the attributes a
// field creation requires.
func DecodeField(raw map[string]interface{}) (*Field, error) {
	var f Field
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &f,
		ErrorUnused: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, NewError(ErrInvalidModelValue, "invalid field body: %v", err)
	}
	if f.Slug == "" {
		return nil, NewFieldError(ErrMissingField, "slug", "a field requires a `slug`")
	}
	if f.Type == "" {
		return nil, NewFieldError(ErrMissingField, "type", "creating field %q requires a `type`", f.Slug)
	}
	return &f, nil
}

func DecodeIndex(raw map[string]interface{}) (*Index, error) {
	var ix Index
	if err := mapstructure.Decode(raw, &ix); err != nil {
		return nil, NewError(ErrInvalidModelValue, "invalid index body: %v", err)
	}
	if ix.Slug == "" {
		return nil, NewFieldError(ErrMissingField, "slug", "an index requires a `slug`")
	}
	if len(ix.Fields) == 0 {
		return nil, NewFieldError(ErrMissingField, "fields", "index %q requires at least one field", ix.Slug)
	}
	return &ix, nil
}

func DecodeTrigger(raw map[string]interface{}) (*Trigger, error) {
	var tr Trigger
	if err := mapstructure.Decode(raw, &tr); err != nil {
		return nil, NewError(ErrInvalidModelValue, "invalid trigger body: %v", err)
	}
	if tr.Slug == "" {
		return nil, NewFieldError(ErrMissingField, "slug", "a trigger requires a `slug`")
	}
	if len(tr.Fields) > 0 && tr.Action != "UPDATE" {
		return nil, NewFieldError(ErrInvalidModelValue, "fields",
			"trigger %q lists fields but its action is %q, not UPDATE", tr.Slug, tr.Action)
	}
	return &tr, nil
}

func DecodePreset(raw map[string]interface{}) (*Preset, error) {
	var p Preset
	if err := mapstructure.Decode(raw, &p); err != nil {
		return nil, NewError(ErrInvalidModelValue, "invalid preset body: %v", err)
	}
	if p.Slug == "" {
		return nil, NewFieldError(ErrMissingField, "slug", "a preset requires a `slug`")
	}
	return &p, nil
}

// Field lookup on the model by exact slug.
func (m *Model) Field(slug string) *Field {
	for i := range m.Fields {
		if m.Fields[i].Slug == slug {
			return &m.Fields[i]
		}
	}
	return nil
}

func (m *Model) IndexBySlug(slug string) *Index {
	for i := range m.Indexes {
		if m.Indexes[i].Slug == slug {
			return &m.Indexes[i]
		}
	}
	return nil
}

func (m *Model) TriggerBySlug(slug string) *Trigger {
	for i := range m.Triggers {
		if m.Triggers[i].Slug == slug {
			return &m.Triggers[i]
		}
	}
	return nil
}

func (m *Model) PresetBySlug(slug string) *Preset {
	for i := range m.Presets {
		if m.Presets[i].Slug == slug {
			return &m.Presets[i]
		}
	}
	return nil
}

// Map renders the field back into its JSON-shaped form, without the slug
// (the slug becomes the key in the model's `fields` object).
func (f *Field) Map() map[string]interface{} {
	out := map[string]interface{}{"type": f.Type}
	if f.Name != "" {
		out["name"] = f.Name
	}
	if f.Required {
		out["required"] = true
	}
	if f.Unique {
		out["unique"] = true
	}
	if f.Check != nil {
		out["check"] = f.Check
	}
	if f.Collation != "" {
		out["collation"] = f.Collation
	}
	if f.Increment {
		out["increment"] = true
	}
	if f.DefaultValue != nil {
		out["defaultValue"] = f.DefaultValue
	}
	if f.ComputedAs != nil {
		out["computedAs"] = map[string]interface{}{
			"kind":  f.ComputedAs.Kind,
			"value": f.ComputedAs.Value,
		}
	}
	if f.Target != "" {
		out["target"] = f.Target
	}
	if f.Kind != "" {
		out["kind"] = f.Kind
	}
	if f.Actions != nil {
		actions := map[string]interface{}{}
		if f.Actions.OnDelete != "" {
			actions["onDelete"] = f.Actions.OnDelete
		}
		if f.Actions.OnUpdate != "" {
			actions["onUpdate"] = f.Actions.OnUpdate
		}
		out["actions"] = actions
	}
	return out
}

// FieldsMap renders the model's user fields keyed by slug, the shape persisted
// into the `fields` column of the schema table. System fields are implicit and
// never persisted.
func (m *Model) FieldsMap() map[string]interface{} {
	out := map[string]interface{}{}
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.System {
			continue
		}
		out[f.Slug] = f.Map()
	}
	return out
}

func (m *Model) IndexesMap() map[string]interface{} {
	out := map[string]interface{}{}
	for i := range m.Indexes {
		ix := m.Indexes[i]
		entry := map[string]interface{}{"fields": indexFieldsMap(ix.Fields)}
		if ix.Unique {
			entry["unique"] = true
		}
		if ix.Filter != nil {
			entry["filter"] = ix.Filter
		}
		out[ix.Slug] = entry
	}
	return out
}

func indexFieldsMap(fields []IndexField) []interface{} {
	out := make([]interface{}, 0, len(fields))
	for _, f := range fields {
		entry := map[string]interface{}{}
		if f.Slug != "" {
			entry["slug"] = f.Slug
		}
		if f.Expression != "" {
			entry["expression"] = f.Expression
		}
		if f.Order != "" {
			entry["order"] = f.Order
		}
		if f.Collation != "" {
			entry["collation"] = f.Collation
		}
		out = append(out, entry)
	}
	return out
}

func (m *Model) TriggersMap() map[string]interface{} {
	out := map[string]interface{}{}
	for i := range m.Triggers {
		tr := m.Triggers[i]
		entry := map[string]interface{}{
			"when":    tr.When,
			"action":  tr.Action,
			"effects": tr.Effects,
		}
		if len(tr.Fields) > 0 {
			fields := make([]interface{}, 0, len(tr.Fields))
			for _, f := range tr.Fields {
				fields = append(fields, map[string]interface{}{"slug": f.Slug})
			}
			entry["fields"] = fields
		}
		if tr.Filter != nil {
			entry["filter"] = tr.Filter
		}
		out[tr.Slug] = entry
	}
	return out
}

func (m *Model) PresetsMap() map[string]interface{} {
	out := map[string]interface{}{}
	for i := range m.Presets {
		out[m.Presets[i].Slug] = map[string]interface{}{
			"instructions": m.Presets[i].Instructions,
		}
	}
	return out
}

// Map renders the model in its JSON-shaped public form.
func (m *Model) Map() map[string]interface{} {
	out := map[string]interface{}{
		"slug":       m.Slug,
		"pluralSlug": m.PluralSlug,
		"name":       m.Name,
		"pluralName": m.PluralName,
		"idPrefix":   m.IDPrefix,
		"table":      m.Table(),
		"identifiers": map[string]interface{}{
			"name": m.Identifiers.Name,
			"slug": m.Identifiers.Slug,
		},
		"fields": m.FieldsMap(),
	}
	if len(m.Indexes) > 0 {
		out["indexes"] = m.IndexesMap()
	}
	if len(m.Triggers) > 0 {
		out["triggers"] = m.TriggersMap()
	}
	if len(m.Presets) > 0 {
		out["presets"] = m.PresetsMap()
	}
	return out
}
