package main

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var dbpath string

func execCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "exec",
		Short: "Compile and execute a query batch against a SQLite database",
		Run:   cmdExec,
	}
	c.Flags().StringVar(&dbpath, "db", ":memory:", "path to the SQLite database")
	return c
}

func cmdExec(cmd *cobra.Command, args []string) {
	tx, err := newTransaction()
	if err != nil {
		log.Fatalf("%s", err)
	}

	db, err := sql.Open("sqlite", dbpath)
	if err != nil {
		log.Fatalf("%s", err)
	}
	defer db.Close()

	dbtx, err := db.Begin()
	if err != nil {
		log.Fatalf("%s", err)
	}

	// Statements run in compile order; the driver must not reorder them.
	raw := make([][]map[string]interface{}, 0, len(tx.Statements()))
	for _, st := range tx.Statements() {
		if !st.Returning {
			if _, err := dbtx.Exec(st.SQL, st.Params...); err != nil {
				dbtx.Rollback()
				log.Fatalf("%s", err)
			}
			raw = append(raw, nil)
			continue
		}

		rows, err := queryRows(dbtx, st.SQL, st.Params)
		if err != nil {
			dbtx.Rollback()
			log.Fatalf("%s", err)
		}
		raw = append(raw, rows)
	}

	if err := dbtx.Commit(); err != nil {
		log.Fatalf("%s", err)
	}

	results, err := tx.FormatResults(raw)
	if err != nil {
		log.Fatalf("%s", err)
	}
	for _, res := range results {
		line, err := json.Marshal(res)
		if err != nil {
			log.Fatalf("%s", err)
		}
		fmt.Println(string(line))
	}
}

func queryRows(dbtx *sql.Tx, query string, params []interface{}) ([]map[string]interface{}, error) {
	rows, err := dbtx.Query(query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = vals[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
