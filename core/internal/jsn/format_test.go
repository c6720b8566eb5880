package jsn

import (
	"testing"

	"github.com/ronin-co/compiler/core/internal/psql"
	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

func decodeModel(t testing.TB, raw map[string]interface{}) *sdata.Model {
	t.Helper()
	m, err := sdata.DecodeModel(raw)
	if err != nil {
		t.Fatal(err)
	}
	sdata.Augment(m)
	return m
}

func teamShape(t testing.TB) *psql.Shape {
	team := decodeModel(t, map[string]interface{}{
		"slug": "team",
		"fields": []interface{}{
			map[string]interface{}{"slug": "name", "type": "string"},
		},
	})
	member := decodeModel(t, map[string]interface{}{
		"slug": "member",
		"fields": []interface{}{
			map[string]interface{}{"slug": "handle", "type": "string"},
		},
	})
	return &psql.Shape{
		Query:      &qcode.Query{Type: qcode.QueryGet},
		Model:      team,
		Expand:     true,
		Statements: 1,
		Mounts: []psql.Mount{{
			Path:   "members[0]",
			Alias:  "including_members[0]",
			Plural: true,
			Model:  member,
		}},
	}
}

func TestJoinedRowsRegroup(t *testing.T) {
	shape := teamShape(t)
	rows := []map[string]interface{}{
		{"id": "tea_1", "name": "ops", "members[0].id": "mem_1"},
		{"id": "tea_1", "name": "ops", "members[0].id": "mem_2"},
		{"id": "tea_1", "name": "ops", "members[0].id": "mem_3"},
	}

	results, err := Format([]*psql.Shape{shape}, [][]map[string]interface{}{rows})
	if err != nil {
		t.Fatal(err)
	}
	if len(results[0].Records) != 1 {
		t.Fatalf("records = %d", len(results[0].Records))
	}
	members, _ := results[0].Records[0]["members"].([]interface{})
	if len(members) != 3 {
		t.Fatalf("members = %v", members)
	}
	first, _ := members[0].(map[string]interface{})
	if first["id"] != "mem_1" {
		t.Errorf("members[0] = %v", first)
	}
}

func TestAllNullJoinIsEmptyArray(t *testing.T) {
	shape := teamShape(t)
	rows := []map[string]interface{}{
		{"id": "tea_1", "name": "ops", "members[0].id": nil, "members[0].handle": nil},
	}
	results, err := Format([]*psql.Shape{shape}, [][]map[string]interface{}{rows})
	if err != nil {
		t.Fatal(err)
	}
	members, ok := results[0].Records[0]["members"].([]interface{})
	if !ok || len(members) != 0 {
		t.Errorf("members = %v", results[0].Records[0]["members"])
	}
}

func TestColumnCoercion(t *testing.T) {
	account := decodeModel(t, map[string]interface{}{
		"slug": "account",
		"fields": []interface{}{
			map[string]interface{}{"slug": "verified", "type": "boolean"},
			map[string]interface{}{"slug": "settings", "type": "json"},
		},
	})
	shape := &psql.Shape{
		Query:      &qcode.Query{Type: qcode.QueryGet},
		Model:      account,
		Single:     true,
		Statements: 1,
	}
	rows := []map[string]interface{}{{
		"id":           "acc_1",
		"verified":     int64(1),
		"settings":     `{"theme":"dark"}`,
		"ronin.locked": nil,
	}}

	results, err := Format([]*psql.Shape{shape}, [][]map[string]interface{}{rows})
	if err != nil {
		t.Fatal(err)
	}
	rec := results[0].Record
	if rec["verified"] != true {
		t.Errorf("verified = %v", rec["verified"])
	}
	settings, _ := rec["settings"].(map[string]interface{})
	if settings["theme"] != "dark" {
		t.Errorf("settings = %v", rec["settings"])
	}
	ronin, _ := rec["ronin"].(map[string]interface{})
	if ronin["locked"] != false {
		t.Errorf("ronin.locked = %v", ronin["locked"])
	}
	if results[0].ModelFields["verified"] != "boolean" {
		t.Errorf("modelFields = %v", results[0].ModelFields)
	}
}

func TestPaginationCursors(t *testing.T) {
	account := decodeModel(t, map[string]interface{}{"slug": "account"})
	shape := &psql.Shape{
		Query:      &qcode.Query{Type: qcode.QueryGet},
		Model:      account,
		Limit:      2,
		Statements: 1,
		OrderBy: []psql.OrderCol{{
			Path: "ronin.createdAt", Descending: true, Type: sdata.TypeDate,
		}},
	}
	rows := []map[string]interface{}{
		{"id": "acc_1", "ronin.createdAt": "2024-01-03T00:00:00.000Z"},
		{"id": "acc_2", "ronin.createdAt": "2024-01-02T00:00:00.000Z"},
		{"id": "acc_3", "ronin.createdAt": "2024-01-01T00:00:00.000Z"},
	}

	results, err := Format([]*psql.Shape{shape}, [][]map[string]interface{}{rows})
	if err != nil {
		t.Fatal(err)
	}
	if len(results[0].Records) != 2 {
		t.Fatalf("records = %d", len(results[0].Records))
	}
	if results[0].MoreAfter != "1704153600000" {
		t.Errorf("moreAfter = %q", results[0].MoreAfter)
	}
}

func TestCountResult(t *testing.T) {
	shape := &psql.Shape{
		Query:      &qcode.Query{Type: qcode.QueryCount},
		Statements: 1,
	}
	rows := []map[string]interface{}{{"amount": int64(42)}}

	results, err := Format([]*psql.Shape{shape}, [][]map[string]interface{}{rows})
	if err != nil {
		t.Fatal(err)
	}
	if results[0].Amount == nil || *results[0].Amount != 42 {
		t.Errorf("amount = %v", results[0].Amount)
	}
}

func TestMetaResultFoldsPair(t *testing.T) {
	shape := &psql.Shape{
		Meta:       true,
		Statements: 2,
		ModelEcho:  map[string]interface{}{"slug": "account"},
	}
	results, err := Format([]*psql.Shape{shape}, [][]map[string]interface{}{nil, nil})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Model["slug"] != "account" {
		t.Errorf("results = %+v", results)
	}
}
