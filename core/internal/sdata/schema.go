package sdata

import (
	"strings"

	"github.com/gobuffalo/flect"
)

// RootModelSlug names the singleton meta-table persisting user model
// definitions, one row per model.
const RootModelSlug = "ronin_schema"

// SystemFields are prepended to every user model during augmentation. The
// "ronin" group entry carries no column of its own; the dotted entries are
// stored as columns whose names literally contain the dot.
func SystemFields() []Field {
	return []Field{
		{Slug: "id", Type: TypeString, System: true},
		{Slug: "ronin", Type: TypeGroup, System: true},
		{Slug: "ronin.locked", Type: TypeBoolean, System: true},
		{Slug: "ronin.createdAt", Type: TypeDate, System: true},
		{Slug: "ronin.createdBy", Type: TypeString, System: true},
		{Slug: "ronin.updatedAt", Type: TypeDate, System: true},
		{Slug: "ronin.updatedBy", Type: TypeString, System: true},
	}
}

// Schema is the per-transaction registry of models. It owns its model clones
// and is mutated in-order as meta-queries run, so a query placed after a
// `create model` sees the model it created.
type Schema struct {
	Models []*Model
}

// NewSchema clones and augments the given models. The input is never mutated.
func NewSchema(models []*Model) *Schema {
	s := &Schema{}
	for _, m := range models {
		clone := *m
		clone.Fields = append([]Field(nil), m.Fields...)
		clone.Indexes = append([]Index(nil), m.Indexes...)
		clone.Triggers = append([]Trigger(nil), m.Triggers...)
		clone.Presets = append([]Preset(nil), m.Presets...)
		Augment(&clone)
		s.Models = append(s.Models, &clone)
	}
	return s
}

// Augment fills in everything a model body may omit: plural forms, display
// names, the id prefix, identifiers and the system fields. Augmenting twice
// equals augmenting once.
func Augment(m *Model) {
	if m.PluralSlug == "" {
		m.PluralSlug = flect.Pluralize(m.Slug)
	}
	if m.Name == "" {
		m.Name = flect.Titleize(m.Slug)
	}
	if m.PluralName == "" {
		m.PluralName = flect.Titleize(m.PluralSlug)
	}
	if m.IDPrefix == "" {
		if len(m.Slug) >= 3 {
			m.IDPrefix = m.Slug[:3]
		} else {
			m.IDPrefix = m.Slug
		}
	}

	if m.Field("id") == nil {
		m.Fields = append(SystemFields(), m.Fields...)
	}

	if m.Identifiers.Name == "" {
		m.Identifiers.Name = defaultNameIdentifier(m)
	}
	if m.Identifiers.Slug == "" {
		m.Identifiers.Slug = defaultSlugIdentifier(m)
	}
}

func defaultNameIdentifier(m *Model) string {
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.System {
			continue
		}
		if f.Type == TypeString && f.Required && f.Slug == "name" {
			return f.Slug
		}
	}
	return "id"
}

func defaultSlugIdentifier(m *Model) string {
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.System {
			continue
		}
		if f.Type == TypeString && f.Required && f.Unique &&
			(f.Slug == "slug" || f.Slug == "handle") {
			return f.Slug
		}
	}
	return "id"
}

// Table returns the physical table name: the snake-cased plural slug unless
// the model overrides it.
func (m *Model) Table() string {
	if m.TableName != "" {
		return m.TableName
	}
	return flect.Underscore(m.PluralSlug)
}

// AssociativeTable names the join table backing a many-link field.
func AssociativeTable(modelSlug, fieldSlug string) string {
	return "ronin_link_" + modelSlug + "_" + fieldSlug
}

// AssociativeModel builds the implicit model backing a many-link field:
// system fields plus `source` and `target` links.
func AssociativeModel(m *Model, f *Field) *Model {
	am := &Model{
		Slug:       AssociativeTable(m.Slug, f.Slug),
		PluralSlug: AssociativeTable(m.Slug, f.Slug),
		TableName:  AssociativeTable(m.Slug, f.Slug),
		Fields: []Field{
			{Slug: "source", Type: TypeLink, Target: m.Slug, Actions: f.Actions},
			{Slug: "target", Type: TypeLink, Target: f.Target, Actions: f.Actions},
		},
	}
	Augment(am)
	return am
}

// FindModel resolves a model by slug or plural slug. The grammatical form the
// caller used signals single vs. multiple but resolves to the same model.
func (s *Schema) FindModel(slugOrPlural string) (*Model, error) {
	for _, m := range s.Models {
		if m.Slug == slugOrPlural || m.PluralSlug == slugOrPlural {
			return m, nil
		}
	}
	return nil, NewError(ErrModelNotFound, "no model matches %q", slugOrPlural)
}

// IsPlural reports whether the given form addresses multiple records of the
// model.
func (m *Model) IsPlural(form string) bool {
	return form == m.PluralSlug && m.PluralSlug != m.Slug
}

// AddModel registers a freshly created model, augmenting it first.
func (s *Schema) AddModel(m *Model) error {
	if existing, _ := s.FindModel(m.Slug); existing != nil {
		return NewError(ErrExistingModelEntity, "a model with slug %q already exists", m.Slug)
	}
	Augment(m)
	s.Models = append(s.Models, m)
	return nil
}

// RemoveModel drops a model from the registry.
func (s *Schema) RemoveModel(slug string) error {
	for i, m := range s.Models {
		if m.Slug == slug {
			s.Models = append(s.Models[:i], s.Models[i+1:]...)
			return nil
		}
	}
	return NewError(ErrModelNotFound, "no model matches %q", slug)
}

// FieldRef is a resolved field path: the descriptor plus the SQL selector
// addressing it, optionally qualified with a table alias.
type FieldRef struct {
	Field    *Field
	Selector string
	// JSONPath is set when the path addresses a property inside a JSON column.
	JSONPath string
}

// ResolveField looks a dotted field path up on the model and derives the SQL
// selector bound to the given table alias (empty alias leaves the column
// unqualified). A path whose first segment names a JSON-typed field addresses
// a nested JSON property via json_extract; any other dotted path is a column
// whose name literally contains the dot.
func (m *Model) ResolveField(path, alias string) (*FieldRef, error) {
	if f := m.Field(path); f != nil && f.Type != TypeGroup {
		return &FieldRef{Field: f, Selector: qualify(alias, path)}, nil
	}

	if i := strings.IndexByte(path, '.'); i > 0 {
		root := path[:i]
		rest := path[i+1:]
		if f := m.Field(root); f != nil && f.Type == TypeJSON {
			return &FieldRef{
				Field:    f,
				Selector: `json_extract(` + qualify(alias, root) + `, '$.` + rest + `')`,
				JSONPath: rest,
			}, nil
		}
	}

	return nil, NewFieldError(ErrFieldNotFound, path,
		"no field matches %q on model %q", path, m.Slug)
}

func qualify(alias, col string) string {
	if alias == "" {
		return `"` + col + `"`
	}
	return `"` + alias + `"."` + col + `"`
}

// RootModel describes the ronin_schema meta-table. Its JSON columns persist
// the per-model fields, indexes, triggers and presets.
func RootModel() *Model {
	m := &Model{
		Slug:       RootModelSlug,
		PluralSlug: RootModelSlug,
		TableName:  RootModelSlug,
		IDPrefix:   "mod",
		Fields: []Field{
			{Slug: "slug", Type: TypeString, Required: true, Unique: true},
			{Slug: "pluralSlug", Type: TypeString},
			{Slug: "name", Type: TypeString},
			{Slug: "pluralName", Type: TypeString},
			{Slug: "idPrefix", Type: TypeString},
			{Slug: "table", Type: TypeString},
			{Slug: "identifiers.name", Type: TypeString},
			{Slug: "identifiers.slug", Type: TypeString},
			{Slug: "fields", Type: TypeJSON},
			{Slug: "indexes", Type: TypeJSON},
			{Slug: "triggers", Type: TypeJSON},
			{Slug: "presets", Type: TypeJSON},
		},
	}
	Augment(m)
	return m
}
