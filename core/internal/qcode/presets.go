package qcode

import (
	"github.com/ronin-co/compiler/core/internal/sdata"
)

// ApplyPresets expands the `using` instruction: each named preset's
// instructions are spliced under the query before compiling, with the query
// itself winning on conflicts. `using` is either a list of preset slugs
// (or the single element "all"), or a map of slug to argument; the argument
// replaces every `__RONIN_VALUE` placeholder inside the preset body.
//
// Expansion happens exactly once, before the instructions are decoded, so the
// compiler itself stays pure.
func ApplyPresets(instr map[string]interface{}, model *sdata.Model, using interface{}) (map[string]interface{}, error) {
	type expansion struct {
		preset *sdata.Preset
		arg    interface{}
		hasArg bool
	}
	var expansions []expansion

	switch u := using.(type) {
	case []interface{}:
		for _, entry := range u {
			slug, ok := entry.(string)
			if !ok {
				return nil, sdata.NewError(sdata.ErrInvalidModelValue,
					"`using` entries must be preset slugs")
			}
			if slug == "all" {
				for i := range model.Presets {
					expansions = append(expansions, expansion{preset: &model.Presets[i]})
				}
				continue
			}
			p := model.PresetBySlug(slug)
			if p == nil {
				return nil, sdata.NewError(sdata.ErrPresetNotFound,
					"no preset matches %q on model %q", slug, model.Slug)
			}
			expansions = append(expansions, expansion{preset: p})
		}
	case map[string]interface{}:
		for slug, arg := range u {
			p := model.PresetBySlug(slug)
			if p == nil {
				return nil, sdata.NewError(sdata.ErrPresetNotFound,
					"no preset matches %q on model %q", slug, model.Slug)
			}
			expansions = append(expansions, expansion{preset: p, arg: arg, hasArg: true})
		}
	default:
		return nil, sdata.NewError(sdata.ErrInvalidModelValue,
			"`using` must be a list of preset slugs or a map of slug to value")
	}

	merged := map[string]interface{}{}
	for _, e := range expansions {
		body := deepCopy(e.preset.Instructions).(map[string]interface{})
		if e.hasArg {
			body = substituteValue(body, e.arg).(map[string]interface{})
		}
		merged = deepMerge(merged, body)
	}

	// The caller's own instructions win last.
	own := map[string]interface{}{}
	for k, v := range instr {
		if k == "using" {
			continue
		}
		own[k] = v
	}
	return deepMerge(merged, own), nil
}

// deepMerge merges b over a: nested objects merge recursively, everything
// else (including arrays) is replaced wholesale.
func deepMerge(a, b map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		if bm, ok := v.(map[string]interface{}); ok {
			if am, ok := out[k].(map[string]interface{}); ok {
				out[k] = deepMerge(am, bm)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, e := range val {
			out[k] = deepCopy(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return val
	}
}

func substituteValue(v interface{}, arg interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if val == SymbolValue {
			return arg
		}
		return val
	case map[string]interface{}:
		for k, e := range val {
			val[k] = substituteValue(e, arg)
		}
		return val
	case []interface{}:
		for i, e := range val {
			val[i] = substituteValue(e, arg)
		}
		return val
	default:
		return val
	}
}
