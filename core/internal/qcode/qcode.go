package qcode

import (
	"github.com/mitchellh/mapstructure"

	"github.com/ronin-co/compiler/core/internal/sdata"
)

// QueryType is the sole top-level verb of a query.
type QueryType int

const (
	QueryGet QueryType = iota
	QueryCount
	QueryAdd
	QuerySet
	QueryRemove
	QueryList
	QueryCreate
	QueryAlter
	QueryDrop
)

var queryTypes = map[string]QueryType{
	"get":    QueryGet,
	"count":  QueryCount,
	"add":    QueryAdd,
	"set":    QuerySet,
	"remove": QueryRemove,
	"list":   QueryList,
	"create": QueryCreate,
	"alter":  QueryAlter,
	"drop":   QueryDrop,
}

func (t QueryType) String() string {
	for k, v := range queryTypes {
		if v == t {
			return k
		}
	}
	return "unknown"
}

// IsMeta reports whether the query manipulates schema rather than records.
func (t QueryType) IsMeta() bool {
	return t == QueryCreate || t == QueryAlter || t == QueryDrop || t == QueryList
}

// OrderedBy lists ordering fields; ascending entries render before descending
// ones. Elements are field slugs or expression sentinels.
type OrderedBy struct {
	Ascending  []interface{} `mapstructure:"ascending"`
	Descending []interface{} `mapstructure:"descending"`
}

// Instructions is the combined instruction set of a record query.
type Instructions struct {
	With      interface{}            `mapstructure:"with"`
	To        map[string]interface{} `mapstructure:"to"`
	Including map[string]interface{} `mapstructure:"including"`
	Selecting []string               `mapstructure:"selecting"`
	OrderedBy *OrderedBy             `mapstructure:"orderedBy"`
	LimitedTo int                    `mapstructure:"limitedTo"`
	Before    interface{}            `mapstructure:"before"`
	After     interface{}            `mapstructure:"after"`
	Using     interface{}            `mapstructure:"using"`
}

// MetaQuery captures the shape of a create/alter/drop/list query.
type MetaQuery struct {
	// Entity is "model" for create/alter/drop, or the listed collection
	// (models, fields, indexes, triggers, presets) for list.
	Entity string
	// ModelSlug targets an existing model (alter, drop, list.<entity>).
	ModelSlug string
	// Model is the full body of a create.model.
	Model map[string]interface{}
	// To is the patch body of `alter.model: slug, to: {...}`.
	To map[string]interface{}

	// ItemOp is the nested operation of an alter: create, alter or drop.
	ItemOp string
	// ItemKind is field, index, trigger or preset.
	ItemKind string
	// Item is the body of a nested create (includes the slug).
	Item map[string]interface{}
	// ItemSlug targets an existing nested entity (alter, drop).
	ItemSlug string
	// ItemTo is the patch body of a nested alter.
	ItemTo map[string]interface{}
}

// Query is one parsed query of a transaction.
type Query struct {
	Type  QueryType
	Model string // slug or plural slug exactly as written
	Instr *Instructions
	Meta  *MetaQuery
	Raw   map[string]interface{}
}

// Parse turns a raw JSON-shaped query into its typed form. The schema is
// needed to resolve `using` presets before the instructions are decoded.
func Parse(raw map[string]interface{}, schema *sdata.Schema) (*Query, error) {
	if len(raw) != 1 {
		return nil, sdata.NewError(sdata.ErrInvalidModelValue,
			"a query requires exactly one top-level verb, got %d", len(raw))
	}

	var verb string
	var body interface{}
	for k, v := range raw {
		verb, body = k, v
	}

	qt, ok := queryTypes[verb]
	if !ok {
		return nil, sdata.NewError(sdata.ErrInvalidModelValue, "unknown query verb %q", verb)
	}

	q := &Query{Type: qt, Raw: raw}

	switch qt {
	case QueryCreate, QueryAlter, QueryDrop:
		meta, err := parseMeta(qt, body)
		if err != nil {
			return nil, err
		}
		q.Meta = meta
		return q, nil

	case QueryList:
		meta, err := parseList(body)
		if err != nil {
			return nil, err
		}
		q.Meta = meta
		return q, nil
	}

	target, ok := body.(map[string]interface{})
	if !ok || len(target) != 1 {
		return nil, sdata.NewError(sdata.ErrInvalidModelValue,
			"a %s query addresses exactly one model", verb)
	}

	for slug, instr := range target {
		q.Model = slug

		var instrMap map[string]interface{}
		switch v := instr.(type) {
		case nil:
			instrMap = nil
		case map[string]interface{}:
			instrMap = v
		default:
			return nil, sdata.NewError(sdata.ErrInvalidModelValue,
				"instructions of %s.%s must be an object or null", verb, slug)
		}

		if q.Model != "all" {
			model, err := schema.FindModel(q.Model)
			if err != nil {
				return nil, err
			}
			if instrMap != nil {
				if using, ok := instrMap["using"]; ok {
					merged, err := ApplyPresets(instrMap, model, using)
					if err != nil {
						return nil, err
					}
					instrMap = merged
				}
			}
		}

		instrs, err := decodeInstructions(instrMap)
		if err != nil {
			return nil, err
		}
		q.Instr = instrs
	}

	return q.validated()
}

func decodeInstructions(raw map[string]interface{}) (*Instructions, error) {
	if raw == nil {
		return &Instructions{}, nil
	}
	var in Instructions
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &in,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, sdata.NewError(sdata.ErrInvalidModelValue, "invalid instructions: %v", err)
	}
	return &in, nil
}

func (q *Query) validated() (*Query, error) {
	in := q.Instr

	if in.Before != nil && in.After != nil {
		return nil, sdata.NewError(sdata.ErrMutuallyExclusive,
			"`before` and `after` cannot be combined in one query")
	}

	switch q.Type {
	case QueryAdd:
		if len(in.To) == 0 {
			return nil, sdata.NewError(sdata.ErrMissingInstruction,
				"an `add` query requires a `to` instruction")
		}
	case QuerySet:
		if len(in.To) == 0 {
			return nil, sdata.NewError(sdata.ErrMissingInstruction,
				"a `set` query requires a `to` instruction")
		}
		if in.With == nil {
			return nil, sdata.NewError(sdata.ErrMissingInstruction,
				"a `set` query requires a `with` instruction")
		}
	}

	return q, nil
}

func parseMeta(qt QueryType, body interface{}) (*MetaQuery, error) {
	target, ok := body.(map[string]interface{})
	if !ok {
		return nil, sdata.NewError(sdata.ErrInvalidModelValue, "invalid meta query body")
	}

	entity, ok := target["model"]
	if !ok {
		return nil, sdata.NewError(sdata.ErrInvalidModelValue,
			"meta queries target a `model`")
	}

	meta := &MetaQuery{Entity: "model"}

	switch qt {
	case QueryCreate:
		m, ok := entity.(map[string]interface{})
		if !ok {
			return nil, sdata.NewError(sdata.ErrInvalidModelValue,
				"`create.model` requires a model body")
		}
		meta.Model = m
		return meta, nil

	case QueryDrop:
		slug, ok := entity.(string)
		if !ok {
			return nil, sdata.NewFieldError(sdata.ErrMissingField, "slug",
				"`drop.model` requires a model slug")
		}
		meta.ModelSlug = slug
		return meta, nil
	}

	// alter
	slug, ok := entity.(string)
	if !ok {
		return nil, sdata.NewFieldError(sdata.ErrMissingField, "slug",
			"`alter.model` requires a model slug")
	}
	meta.ModelSlug = slug

	if to, ok := target["to"].(map[string]interface{}); ok {
		meta.To = to
		return meta, nil
	}

	for _, op := range []string{"create", "alter", "drop"} {
		nested, ok := target[op].(map[string]interface{})
		if !ok {
			continue
		}
		meta.ItemOp = op
		for _, kind := range []string{"field", "index", "trigger", "preset"} {
			item, ok := nested[kind]
			if !ok {
				continue
			}
			meta.ItemKind = kind
			switch v := item.(type) {
			case string:
				meta.ItemSlug = v
			case map[string]interface{}:
				if s, ok := v["slug"].(string); ok {
					meta.ItemSlug = s
				}
				if to, ok := v["to"].(map[string]interface{}); ok {
					meta.ItemTo = to
					break
				}
				meta.Item = v
			default:
				return nil, sdata.NewError(sdata.ErrInvalidModelValue,
					"invalid %s.%s body", op, kind)
			}
			return meta, nil
		}
		return nil, sdata.NewError(sdata.ErrInvalidModelValue,
			"`alter.model.%s` requires a field, index, trigger or preset", op)
	}

	return nil, sdata.NewError(sdata.ErrMissingInstruction,
		"`alter.model` requires a `to` body or a nested create/alter/drop")
}

func parseList(body interface{}) (*MetaQuery, error) {
	target, ok := body.(map[string]interface{})
	if !ok || len(target) != 1 {
		return nil, sdata.NewError(sdata.ErrInvalidModelValue,
			"a `list` query names exactly one collection")
	}
	for entity, v := range target {
		switch entity {
		case "models", "fields", "indexes", "triggers", "presets":
		default:
			return nil, sdata.NewError(sdata.ErrInvalidModelValue,
				"cannot list %q", entity)
		}
		meta := &MetaQuery{Entity: entity}
		switch val := v.(type) {
		case nil:
		case string:
			meta.ModelSlug = val
		case map[string]interface{}:
			if s, ok := val["model"].(string); ok {
				meta.ModelSlug = s
			}
		}
		if entity != "models" && meta.ModelSlug == "" {
			return nil, sdata.NewError(sdata.ErrMissingField,
				"listing %s requires a model slug", entity)
		}
		return meta, nil
	}
	return nil, nil
}
