package psql

import (
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/ronin-co/compiler/core/internal/qcode"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

func testSchema(t testing.TB, models ...map[string]interface{}) *sdata.Schema {
	t.Helper()
	var ms []*sdata.Model
	for _, raw := range models {
		m, err := sdata.DecodeModel(raw)
		if err != nil {
			t.Fatal(err)
		}
		ms = append(ms, m)
	}
	return sdata.NewSchema(ms)
}

func accountModel() map[string]interface{} {
	return map[string]interface{}{
		"slug": "account",
		"fields": []interface{}{
			map[string]interface{}{"slug": "handle", "type": "string"},
			map[string]interface{}{"slug": "age", "type": "number"},
			map[string]interface{}{"slug": "settings", "type": "json"},
		},
	}
}

func memberModel() map[string]interface{} {
	return map[string]interface{}{
		"slug": "member",
		"fields": []interface{}{
			map[string]interface{}{"slug": "account", "type": "string"},
			map[string]interface{}{"slug": "team", "type": "string"},
		},
	}
}

func compileOne(t testing.TB, co *Compiler, raw map[string]interface{}) (Statement, *Shape) {
	t.Helper()
	q, err := qcode.Parse(raw, co.Schema())
	if err != nil {
		t.Fatal(err)
	}
	stmts, shape, err := co.CompileQuery(q)
	if err != nil {
		t.Fatal(err)
	}
	if len(stmts) != 1 {
		t.Fatalf("expected one statement, got %d", len(stmts))
	}
	return stmts[0], shape
}

func compileErr(t testing.TB, co *Compiler, raw map[string]interface{}) error {
	t.Helper()
	q, err := qcode.Parse(raw, co.Schema())
	if err != nil {
		return err
	}
	_, _, err = co.CompileQuery(q)
	if err == nil {
		t.Fatal("expected a compile error")
	}
	return err
}

func TestSingularGet(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	st, shape := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{"account": nil},
	})

	if st.SQL != `SELECT * FROM "accounts" LIMIT 1` {
		t.Errorf("sql = %s", st.SQL)
	}
	if len(st.Params) != 0 {
		t.Errorf("params = %v", st.Params)
	}
	if !st.Returning {
		t.Error("get statements return rows")
	}
	if !shape.Single {
		t.Error("singular get not marked single")
	}
}

func TestConditionalRemove(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	st, _ := compileOne(t, co, map[string]interface{}{
		"remove": map[string]interface{}{
			"account": map[string]interface{}{
				"with": map[string]interface{}{"handle": "elaine"},
			},
		},
	})

	if st.SQL != `DELETE FROM "accounts" WHERE "handle" = ?1 RETURNING *` {
		t.Errorf("sql = %s", st.SQL)
	}
	if len(st.Params) != 1 || st.Params[0] != "elaine" {
		t.Errorf("params = %v", st.Params)
	}
}

func TestCount(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	st, _ := compileOne(t, co, map[string]interface{}{
		"count": map[string]interface{}{"accounts": nil},
	})
	if st.SQL != `SELECT (COUNT(*)) as "amount" FROM "accounts"` {
		t.Errorf("sql = %s", st.SQL)
	}
}

func TestIncludingParentJoin(t *testing.T) {
	co := NewCompiler(testSchema(t, memberModel(), accountModel()), Config{})
	st, _ := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"member": map[string]interface{}{
				"including": map[string]interface{}{
					"account": map[string]interface{}{
						"__RONIN_QUERY": map[string]interface{}{
							"get": map[string]interface{}{
								"account": map[string]interface{}{
									"with": map[string]interface{}{
										"id": map[string]interface{}{
											"__RONIN_EXPRESSION": "__RONIN_FIELD_PARENT_account",
										},
									},
								},
							},
						},
					},
				},
			},
		},
	})

	want := `LEFT JOIN "accounts" as "including_account" ON ("including_account"."id" = "members"."account") LIMIT 1`
	if !strings.Contains(st.SQL, want) {
		t.Errorf("sql = %s", st.SQL)
	}
}

func TestOperators(t *testing.T) {
	tests := []struct {
		name   string
		with   map[string]interface{}
		frag   string
		params []interface{}
	}{
		{
			"startingWith",
			map[string]interface{}{"handle": map[string]interface{}{"startingWith": "el"}},
			`WHERE "handle" LIKE ?1`,
			[]interface{}{"el%"},
		},
		{
			"endingWith",
			map[string]interface{}{"handle": map[string]interface{}{"endingWith": "ne"}},
			`WHERE "handle" LIKE ?1`,
			[]interface{}{"%ne"},
		},
		{
			"containing",
			map[string]interface{}{"handle": map[string]interface{}{"containing": "ai"}},
			`WHERE "handle" LIKE ?1`,
			[]interface{}{"%ai%"},
		},
		{
			"notContaining",
			map[string]interface{}{"handle": map[string]interface{}{"notContaining": "ai"}},
			`WHERE "handle" NOT LIKE ?1`,
			[]interface{}{"%ai%"},
		},
		{
			"greaterThan",
			map[string]interface{}{"age": map[string]interface{}{"greaterThan": float64(21)}},
			`WHERE "age" > ?1`,
			[]interface{}{float64(21)},
		},
		{
			"notBeingNull",
			map[string]interface{}{"handle": map[string]interface{}{"notBeing": nil}},
			`WHERE "handle" IS NOT NULL`,
			nil,
		},
		{
			"operatorPair",
			map[string]interface{}{"age": map[string]interface{}{
				"greaterThan": float64(18), "lessThan": float64(65),
			}},
			`WHERE ("age" > ?1 AND "age" < ?2)`,
			[]interface{}{float64(18), float64(65)},
		},
		{
			"alternatives",
			map[string]interface{}{"handle": []interface{}{"elaine", "david"}},
			`WHERE ("handle" = ?1 OR "handle" = ?2)`,
			[]interface{}{"elaine", "david"},
		},
		{
			"multiField",
			map[string]interface{}{"handle": "elaine", "age": float64(30)},
			`WHERE ("age" = ?1 AND "handle" = ?2)`,
			[]interface{}{float64(30), "elaine"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			co := NewCompiler(testSchema(t, accountModel()), Config{})
			st, _ := compileOne(t, co, map[string]interface{}{
				"get": map[string]interface{}{
					"account": map[string]interface{}{"with": tt.with},
				},
			})
			if !strings.Contains(st.SQL, tt.frag) {
				t.Errorf("sql = %s, want fragment %s", st.SQL, tt.frag)
			}
			if len(st.Params) != len(tt.params) {
				t.Fatalf("params = %v", st.Params)
			}
			for i := range tt.params {
				if st.Params[i] != tt.params[i] {
					t.Errorf("param %d = %v, want %v", i, st.Params[i], tt.params[i])
				}
			}
		})
	}
}

func TestDefaultOrdering(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	st, _ := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{"accounts": nil},
	})
	if st.SQL != `SELECT * FROM "accounts" ORDER BY "ronin.createdAt" DESC` {
		t.Errorf("sql = %s", st.SQL)
	}
}

func TestOrderedByCollation(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	st, _ := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"accounts": map[string]interface{}{
				"orderedBy": map[string]interface{}{
					"ascending":  []interface{}{"handle"},
					"descending": []interface{}{"age"},
				},
			},
		},
	})
	want := ` ORDER BY "handle" COLLATE NOCASE ASC, "age" DESC`
	if !strings.Contains(st.SQL, want) {
		t.Errorf("sql = %s", st.SQL)
	}
}

func TestLimitFetchesExtraRow(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	st, shape := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"accounts": map[string]interface{}{"limitedTo": float64(2)},
		},
	})
	if !strings.Contains(st.SQL, ` LIMIT 3`) {
		t.Errorf("sql = %s", st.SQL)
	}
	if shape.Limit != 2 {
		t.Errorf("shape limit = %d", shape.Limit)
	}
}

func TestAfterCursor(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	st, shape := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"accounts": map[string]interface{}{"after": "1704067200000"},
		},
	})
	if !strings.Contains(st.SQL, `WHERE (("ronin.createdAt" < ?1))`) {
		t.Errorf("sql = %s", st.SQL)
	}
	if len(st.Params) != 1 || st.Params[0] != "2024-01-01T00:00:00.000Z" {
		t.Errorf("params = %v", st.Params)
	}
	if !shape.HasAfter {
		t.Error("shape missing after flag")
	}
}

func TestJSONPatchWrite(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	st, _ := compileOne(t, co, map[string]interface{}{
		"set": map[string]interface{}{
			"account": map[string]interface{}{
				"with": map[string]interface{}{"handle": "elaine"},
				"to": map[string]interface{}{
					"settings": map[string]interface{}{"theme": "dark"},
				},
			},
		},
	})

	want := `UPDATE "accounts" SET "settings" = IIF("settings" IS NULL, ?1, json_patch("settings", ?2)), "ronin.updatedAt" = ?3 WHERE "handle" = ?4 RETURNING *`
	if st.SQL != want {
		t.Errorf("sql = %s", st.SQL)
	}
	if st.Params[0] != `{"theme":"dark"}` || st.Params[1] != `{"theme":"dark"}` {
		t.Errorf("params = %v", st.Params)
	}
}

func TestLinkConditions(t *testing.T) {
	member := map[string]interface{}{
		"slug": "member",
		"fields": []interface{}{
			map[string]interface{}{"slug": "account", "type": "link", "target": "account"},
		},
	}
	co := NewCompiler(testSchema(t, member, accountModel()), Config{})

	st, _ := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"member": map[string]interface{}{
				"with": map[string]interface{}{
					"account": map[string]interface{}{"handle": "elaine"},
				},
			},
		},
	})
	want := `WHERE "account" = (SELECT "id" FROM "accounts" WHERE "handle" = ?1 LIMIT 1)`
	if !strings.Contains(st.SQL, want) {
		t.Errorf("sql = %s", st.SQL)
	}

	st, _ = compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"member": map[string]interface{}{
				"with": map[string]interface{}{
					"account": map[string]interface{}{"id": "acc_1"},
				},
			},
		},
	})
	if !strings.Contains(st.SQL, `WHERE "account" = ?1`) {
		t.Errorf("sql = %s", st.SQL)
	}
	if st.Params[0] != "acc_1" {
		t.Errorf("params = %v", st.Params)
	}
}

func TestEphemeralIncluding(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	st, shape := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"account": map[string]interface{}{
				"including": map[string]interface{}{
					"verified": true,
					"greeting": map[string]interface{}{
						"__RONIN_EXPRESSION": "'hi ' || __RONIN_FIELD_handle",
					},
				},
			},
		},
	})

	if !strings.Contains(st.SQL, `('hi ' || "handle") as "greeting"`) {
		t.Errorf("sql = %s", st.SQL)
	}
	if !strings.Contains(st.SQL, `?1 as "verified"`) {
		t.Errorf("sql = %s", st.SQL)
	}
	if len(shape.Ephemeral) != 2 {
		t.Errorf("ephemeral = %v", shape.Ephemeral)
	}
}

func TestWrapForPluralJoin(t *testing.T) {
	team := map[string]interface{}{
		"slug": "team",
		"fields": []interface{}{
			map[string]interface{}{"slug": "name", "type": "string"},
		},
	}
	co := NewCompiler(testSchema(t, team, memberModel()), Config{})
	st, shape := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"teams": map[string]interface{}{
				"limitedTo": float64(1),
				"including": map[string]interface{}{
					"members": map[string]interface{}{
						"__RONIN_QUERY": map[string]interface{}{
							"get": map[string]interface{}{
								"members": map[string]interface{}{
									"with": map[string]interface{}{
										"team": map[string]interface{}{
											"__RONIN_EXPRESSION": "__RONIN_FIELD_PARENT_id",
										},
									},
								},
							},
						},
					},
				},
			},
		},
	})

	if !strings.Contains(st.SQL, `FROM (SELECT * FROM "teams" ORDER BY "ronin.createdAt" DESC LIMIT 2) as sub_teams`) {
		t.Errorf("sql = %s", st.SQL)
	}
	if !strings.Contains(st.SQL, `LEFT JOIN "members" as "including_members[0]" ON ("including_members[0]"."team" = "sub_teams"."id")`) {
		t.Errorf("sql = %s", st.SQL)
	}
	if len(shape.Mounts) != 1 || !shape.Mounts[0].Plural || shape.Mounts[0].Path != "members[0]" {
		t.Errorf("mounts = %+v", shape.Mounts)
	}
}

func TestSelectingNarrowsColumns(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	st, shape := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"account": map[string]interface{}{
				"selecting": []interface{}{"handle"},
			},
		},
	})
	if st.SQL != `SELECT "handle", "id" FROM "accounts" LIMIT 1` {
		t.Errorf("sql = %s", st.SQL)
	}
	if !shape.Expand {
		t.Error("selecting must force expanded columns")
	}
}

func TestIdentifierRewrite(t *testing.T) {
	model := map[string]interface{}{
		"slug": "account",
		"fields": []interface{}{
			map[string]interface{}{"slug": "handle", "type": "string", "required": true, "unique": true},
		},
	}
	co := NewCompiler(testSchema(t, model), Config{})
	st, _ := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"account": map[string]interface{}{
				"with": map[string]interface{}{"slugIdentifier": "elaine"},
			},
		},
	})
	if !strings.Contains(st.SQL, `WHERE "handle" = ?1`) {
		t.Errorf("sql = %s", st.SQL)
	}
}

var placeholderRe = regexp.MustCompile(`\?(\d+)`)

// Every statement's ?N tokens must be exactly 1..len(params) in appearance
// order.
func checkParamIndexing(t *testing.T, st Statement) {
	t.Helper()
	matches := placeholderRe.FindAllStringSubmatch(st.SQL, -1)
	if len(matches) != len(st.Params) {
		t.Fatalf("%d placeholders for %d params in %s", len(matches), len(st.Params), st.SQL)
	}
	for i, m := range matches {
		n, _ := strconv.Atoi(m[1])
		if n != i+1 {
			t.Errorf("placeholder %d out of order in %s", n, st.SQL)
		}
	}
}

func TestParamIndexing(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	st, _ := compileOne(t, co, map[string]interface{}{
		"set": map[string]interface{}{
			"accounts": map[string]interface{}{
				"with": map[string]interface{}{
					"handle": map[string]interface{}{"startingWith": "el"},
					"age":    []interface{}{float64(1), float64(2)},
				},
				"to": map[string]interface{}{
					"handle":   "new",
					"settings": map[string]interface{}{"a": float64(1)},
				},
			},
		},
	})
	checkParamIndexing(t, st)
}

func TestNoSymbolLeaks(t *testing.T) {
	co := NewCompiler(testSchema(t, memberModel(), accountModel()), Config{})
	st, _ := compileOne(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"member": map[string]interface{}{
				"with": map[string]interface{}{
					"account": map[string]interface{}{
						"__RONIN_EXPRESSION": "lower(__RONIN_FIELD_team)",
					},
				},
			},
		},
	})
	if strings.Contains(st.SQL, "__RONIN_") {
		t.Errorf("symbol leaked into sql: %s", st.SQL)
	}
}

func TestUnknownFieldInWith(t *testing.T) {
	co := NewCompiler(testSchema(t, accountModel()), Config{})
	err := compileErr(t, co, map[string]interface{}{
		"get": map[string]interface{}{
			"account": map[string]interface{}{
				"with": map[string]interface{}{"bogus": "x"},
			},
		},
	})
	serr, ok := err.(*sdata.Error)
	if !ok || serr.Code != sdata.ErrInvalidWithValue {
		t.Errorf("unexpected error %v", err)
	}
}
