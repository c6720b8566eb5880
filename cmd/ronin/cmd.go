package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ronin-co/compiler/core"
)

var (
	// These variables are set using -ldflags
	version string
	commit  string
	date    string
)

var (
	log     *zap.SugaredLogger
	mpath   string
	qpath   string
	inline  bool
	expand  bool
	verbose bool
)

// Cmd is the entry point for the CLI
func Cmd() {
	log = newLogger().Sugar()

	cobra.EnableCommandSorting = false
	rootCmd := &cobra.Command{
		Use:   "ronin",
		Short: BuildDetails(),
	}

	rootCmd.PersistentFlags().StringVar(&mpath,
		"models", "models.json", "path to the models catalogue")
	rootCmd.PersistentFlags().StringVar(&qpath,
		"queries", "queries.json", "path to the query batch")
	rootCmd.PersistentFlags().BoolVar(&inline,
		"inline", false, "inline parameters as SQL literals")
	rootCmd.PersistentFlags().BoolVar(&expand,
		"expand", false, "alias selected columns with their mounting paths")
	rootCmd.PersistentFlags().BoolVarP(&verbose,
		"verbose", "v", false, "log each compiled statement")

	rootCmd.AddCommand(compileCmd())
	rootCmd.AddCommand(execCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

func newLogger() *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "time",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(econf), os.Stderr, zap.DebugLevel)
	return zap.New(core)
}

// BuildDetails renders the version info baked in at build time
func BuildDetails() string {
	if version == "" {
		return "RONIN query compiler (unversioned build)"
	}
	return fmt.Sprintf("RONIN query compiler %s (%s, %s)", version, commit, date)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(BuildDetails())
		},
	}
}

// newTransaction reads the model catalogue and query batch off disk and
// compiles them.
func newTransaction() (*core.Transaction, error) {
	var models []map[string]interface{}
	if mpath != "" {
		if err := readJSON(mpath, &models); err != nil {
			return nil, err
		}
	}

	var queries []core.Query
	if err := readJSON(qpath, &queries); err != nil {
		return nil, err
	}

	opts := &core.CompileOptions{
		Models:        models,
		InlineParams:  inline,
		ExpandColumns: expand,
	}
	if verbose {
		opts.Logger = log.Desugar()
	}
	return core.NewTransaction(queries, opts)
}

func readJSON(path string, out interface{}) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, out)
}
