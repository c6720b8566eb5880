package core_test

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ronin-co/compiler/core"
	"github.com/ronin-co/compiler/core/internal/sdata"
)

func accountModel() map[string]interface{} {
	return map[string]interface{}{
		"slug": "account",
		"fields": []interface{}{
			map[string]interface{}{"slug": "handle", "type": "string"},
		},
	}
}

func TestTransactionBatch(t *testing.T) {
	queries := []core.Query{
		{"create": map[string]interface{}{"model": accountModel()}},
		{"add": map[string]interface{}{
			"account": map[string]interface{}{
				"to": map[string]interface{}{"handle": "elaine"},
			},
		}},
		{"get": map[string]interface{}{"account": nil}},
	}

	tx, err := core.NewTransaction(queries, nil)
	require.NoError(t, err)

	stmts := tx.Statements()
	require.Len(t, stmts, 4)

	// A query placed after `create model` compiles against the new model,
	// and the DDL precedes its ronin_schema counterpart.
	assert.True(t, strings.HasPrefix(stmts[0].SQL, `CREATE TABLE "accounts"`))
	assert.True(t, strings.HasPrefix(stmts[1].SQL, `INSERT INTO "ronin_schema"`))
	assert.True(t, strings.HasPrefix(stmts[2].SQL, `INSERT INTO "accounts"`))
	assert.Equal(t, `SELECT * FROM "accounts" LIMIT 1`, stmts[3].SQL)

	raw := [][]map[string]interface{}{
		nil,
		nil,
		{{"id": "acc_1", "handle": "elaine"}},
		{{"id": "acc_1", "handle": "elaine"}},
	}
	results, err := tx.FormatResults(raw)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "account", results[0].Model["slug"])
	require.NotNil(t, results[1].Record)
	assert.Equal(t, "elaine", results[1].Record["handle"])
	assert.Equal(t, "elaine", results[2].Record["handle"])
}

func TestTransactionModelNotFound(t *testing.T) {
	_, err := core.NewTransaction([]core.Query{
		{"get": map[string]interface{}{"ghosts": nil}},
	}, nil)
	require.Error(t, err)

	var serr *sdata.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, sdata.ErrModelNotFound, serr.Code)
}

func TestTransactionMutuallyExclusiveCursors(t *testing.T) {
	_, err := core.NewTransaction([]core.Query{
		{"get": map[string]interface{}{
			"accounts": map[string]interface{}{
				"before": "1704067200000",
				"after":  "1704067200000",
			},
		}},
	}, &core.CompileOptions{Models: []map[string]interface{}{accountModel()}})
	require.Error(t, err)

	var serr *sdata.Error
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, sdata.ErrMutuallyExclusive, serr.Code)
}

func TestGetAllFansOut(t *testing.T) {
	team := map[string]interface{}{"slug": "team"}
	tx, err := core.NewTransaction([]core.Query{
		{"get": map[string]interface{}{"all": nil}},
	}, &core.CompileOptions{Models: []map[string]interface{}{accountModel(), team}})
	require.NoError(t, err)

	stmts := tx.Statements()
	require.Len(t, stmts, 2)

	raw := [][]map[string]interface{}{
		{{"id": "acc_1", "handle": "elaine"}},
		{{"id": "tea_1"}},
	}
	results, err := tx.FormatResults(raw)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Models, 2)
	assert.Len(t, results[0].Models["accounts"].Records, 1)
	assert.Len(t, results[0].Models["teams"].Records, 1)
}

func TestModelsAreAugmentedClones(t *testing.T) {
	input := accountModel()
	tx, err := core.NewTransaction(nil, &core.CompileOptions{
		Models: []map[string]interface{}{input},
	})
	require.NoError(t, err)

	models := tx.Models()
	require.Len(t, models, 1)
	assert.Equal(t, "accounts", models[0].PluralSlug)
	assert.NotNil(t, models[0].Field("ronin.createdAt"))

	// The caller's input is untouched.
	fields := input["fields"].([]interface{})
	assert.Len(t, fields, 1)
}

func TestInlineParams(t *testing.T) {
	tx, err := core.NewTransaction([]core.Query{
		{"remove": map[string]interface{}{
			"account": map[string]interface{}{
				"with": map[string]interface{}{"handle": "o'hara"},
			},
		}},
	}, &core.CompileOptions{
		Models:       []map[string]interface{}{accountModel()},
		InlineParams: true,
	})
	require.NoError(t, err)

	st := tx.Statements()[0]
	assert.Equal(t, `DELETE FROM "accounts" WHERE "handle" = 'o''hara' RETURNING *`, st.SQL)
	assert.Empty(t, st.Params)
}
