package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func compileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compile",
		Short: "Compile a query batch into SQL statements",
		Run:   cmdCompile,
	}
}

func cmdCompile(cmd *cobra.Command, args []string) {
	tx, err := newTransaction()
	if err != nil {
		log.Fatalf("%s", err)
	}

	for _, st := range tx.Statements() {
		line, err := json.Marshal(map[string]interface{}{
			"sql":       st.SQL,
			"params":    st.Params,
			"returning": st.Returning,
		})
		if err != nil {
			log.Fatalf("%s", err)
		}
		fmt.Println(string(line))
	}
}
