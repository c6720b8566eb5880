package qcode

import (
	"testing"

	"github.com/ronin-co/compiler/core/internal/sdata"
)

func TestSymbolClassification(t *testing.T) {
	if _, ok := AsQuery(map[string]interface{}{SymbolQuery: map[string]interface{}{}}); !ok {
		t.Error("query sentinel not recognized")
	}
	if _, ok := AsExpression(map[string]interface{}{SymbolExpression: "1 + 1"}); !ok {
		t.Error("expression sentinel not recognized")
	}

	scope, path, ok := AsFieldRef("__RONIN_FIELD_handle")
	if !ok || scope != ScopeCurrent || path != "handle" {
		t.Errorf("field ref: scope=%d path=%q ok=%v", scope, path, ok)
	}
	scope, path, _ = AsFieldRef("__RONIN_FIELD_PARENT_account")
	if scope != ScopeParent || path != "account" {
		t.Errorf("parent ref: scope=%d path=%q", scope, path)
	}
	scope, path, _ = AsFieldRef("__RONIN_FIELD_PARENT_OLD_email")
	if scope != ScopeOld || path != "email" {
		t.Errorf("old ref: scope=%d path=%q", scope, path)
	}
	scope, path, _ = AsFieldRef("__RONIN_FIELD_PARENT_NEW_email")
	if scope != ScopeNew || path != "email" {
		t.Errorf("new ref: scope=%d path=%q", scope, path)
	}
	if _, _, ok := AsFieldRef("handle"); ok {
		t.Error("plain string classified as field ref")
	}
}

func TestReplaceFieldRefs(t *testing.T) {
	out, sawParent := ReplaceFieldRefs(
		`upper(__RONIN_FIELD_handle) || __RONIN_FIELD_PARENT_name`,
		func(scope FieldScope, path string) string {
			if scope == ScopeParent {
				return `"parent"."` + path + `"`
			}
			return `"` + path + `"`
		})
	if out != `upper("handle") || "parent"."name"` {
		t.Errorf("translated = %s", out)
	}
	if !sawParent {
		t.Error("parent reference not flagged")
	}

	out, sawParent = ReplaceFieldRefs(`1 + 1`, nil)
	if out != `1 + 1` || sawParent {
		t.Errorf("plain expression mangled: %q %v", out, sawParent)
	}
}

func testModelWithPreset() *sdata.Model {
	m := &sdata.Model{
		Slug: "account",
		Fields: []sdata.Field{
			{Slug: "handle", Type: sdata.TypeString},
			{Slug: "team", Type: sdata.TypeString},
		},
		Presets: []sdata.Preset{{
			Slug: "own",
			Instructions: map[string]interface{}{
				"with": map[string]interface{}{
					"team": SymbolValue,
				},
				"limitedTo": float64(10),
			},
		}},
	}
	sdata.Augment(m)
	return m
}

func TestApplyPresetsQueryWins(t *testing.T) {
	model := testModelWithPreset()

	merged, err := ApplyPresets(map[string]interface{}{
		"using":     []interface{}{"own"},
		"limitedTo": float64(5),
	}, model, []interface{}{"own"})
	if err != nil {
		t.Fatal(err)
	}
	if merged["limitedTo"] != float64(5) {
		t.Errorf("query limitedTo lost: %v", merged["limitedTo"])
	}
	with, _ := merged["with"].(map[string]interface{})
	if with["team"] != SymbolValue {
		t.Errorf("preset with dropped: %v", merged["with"])
	}
}

func TestApplyPresetsSubstitutesValue(t *testing.T) {
	model := testModelWithPreset()

	merged, err := ApplyPresets(map[string]interface{}{},
		model, map[string]interface{}{"own": "team_1"})
	if err != nil {
		t.Fatal(err)
	}
	with, _ := merged["with"].(map[string]interface{})
	if with["team"] != "team_1" {
		t.Errorf("placeholder not substituted: %v", with["team"])
	}

	// The preset body itself must stay untouched for the next query.
	orig := model.Presets[0].Instructions["with"].(map[string]interface{})
	if orig["team"] != SymbolValue {
		t.Errorf("preset body mutated: %v", orig["team"])
	}
}

func TestApplyPresetsUnknownSlug(t *testing.T) {
	model := testModelWithPreset()
	_, err := ApplyPresets(map[string]interface{}{}, model, []interface{}{"nope"})
	serr, ok := err.(*sdata.Error)
	if !ok || serr.Code != sdata.ErrPresetNotFound {
		t.Errorf("unexpected error %v", err)
	}
}

func TestParseRejectsBothCursors(t *testing.T) {
	schema := sdata.NewSchema([]*sdata.Model{{Slug: "account"}})
	_, err := Parse(map[string]interface{}{
		"get": map[string]interface{}{
			"accounts": map[string]interface{}{
				"before": "1704067200000",
				"after":  "1704067200000",
			},
		},
	}, schema)
	serr, ok := err.(*sdata.Error)
	if !ok || serr.Code != sdata.ErrMutuallyExclusive {
		t.Errorf("unexpected error %v", err)
	}
}

func TestParseRequiresTo(t *testing.T) {
	schema := sdata.NewSchema([]*sdata.Model{{Slug: "account"}})
	_, err := Parse(map[string]interface{}{
		"add": map[string]interface{}{"accounts": nil},
	}, schema)
	serr, ok := err.(*sdata.Error)
	if !ok || serr.Code != sdata.ErrMissingInstruction {
		t.Errorf("unexpected error %v", err)
	}
}

func TestDecodeCursor(t *testing.T) {
	vals, err := DecodeCursor("elaine,1704067200000", 2)
	if err != nil {
		t.Fatal(err)
	}
	if vals[0] != "elaine" || vals[1] != "1704067200000" {
		t.Errorf("values = %v", vals)
	}

	if _, err := DecodeCursor("elaine", 2); err == nil {
		t.Error("expected column-count mismatch error")
	}
	if _, err := DecodeCursor("not-a-timestamp", 1); err == nil {
		t.Error("expected timestamp format error")
	}
	if _, err := DecodeCursor(nil, 1); err == nil {
		t.Error("expected non-string cursor error")
	}

	ts, err := CursorTimestamp("1704067200000")
	if err != nil {
		t.Fatal(err)
	}
	if ts != "2024-01-01T00:00:00.000Z" {
		t.Errorf("timestamp = %s", ts)
	}
}
