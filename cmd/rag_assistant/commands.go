package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags. Non-empty flags override the
// matching environment variables.
type globalOptions struct {
	envFile  string
	source   string
	dataDir  string
	reindex  bool
	logLevel string

	// shutdown flushes the span exporter installed by initApp.
	shutdown func(context.Context) error
}

// close flushes pending spans, if tracing was set up.
func (o *globalOptions) close() {
	if o.shutdown == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.shutdown(ctx); err != nil {
		slog.Warn("failed to flush traces", "error", err)
	}
	o.shutdown = nil
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "rag_assistant",
		Short:         "Question answering over internal policy documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile == "" {
				return nil
			}
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", ".env", "Environment file to load (optional)")
	pf.StringVar(&opts.source, "source", "", "Source document (overrides SOURCE_PATH)")
	pf.StringVar(&opts.dataDir, "data", "", "Data directory for the index (overrides DATA_DIR)")
	pf.BoolVar(&opts.reindex, "reindex", false, "Re-embed the source even if a saved index matches")
	pf.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(
		buildServeCmd(opts),
		buildChatCmd(opts),
		buildAskCmd(opts),
		buildBatchCmd(opts),
		buildEvalCmd(opts),
		buildABTestCmd(opts),
		buildDatasetCmd(opts),
		buildExperimentsCmd(opts),
		buildChunksCmd(opts),
	)
	return rootCmd
}

func buildServeCmd(opts *globalOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the browser chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides WEB_ADDR)")
	return cmd
}

func buildChatCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start the terminal chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}
}

func buildAskCmd(opts *globalOptions) *cobra.Command {
	var (
		question string
		k        int
	)
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer one question, or read questions from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, opts, question, k)
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "", "Question to answer; without it questions are read line by line")
	cmd.Flags().IntVar(&k, "k", 0, "Chunks to retrieve (overrides TOP_K)")
	return cmd
}

func buildBatchCmd(opts *globalOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "batch <questions-file>",
		Short: "Answer every question of a file and write a markdown report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts, args[0], output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Report path (default <file>_answers_<time>.md)")
	return cmd
}

type evalFlags struct {
	dataset string
	k       int
	xlsx    string
	json    string
	noSave  bool
}

func buildEvalCmd(opts *globalOptions) *cobra.Command {
	var f evalFlags
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate answers on a dataset with the judge model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(cmd, opts, f)
		},
	}
	cmd.Flags().StringVar(&f.dataset, "dataset", "", "Stored dataset id or a YAML/JSON dataset file")
	cmd.Flags().IntVar(&f.k, "k", 0, "Chunks to retrieve (overrides TOP_K)")
	cmd.Flags().StringVar(&f.xlsx, "xlsx", "", "Write the report as an Excel workbook")
	cmd.Flags().StringVar(&f.json, "json", "", "Write the report as JSON")
	cmd.Flags().BoolVar(&f.noSave, "no-save", false, "Do not store the experiment")
	cobra.CheckErr(cmd.MarkFlagRequired("dataset"))
	return cmd
}

func buildABTestCmd(opts *globalOptions) *cobra.Command {
	var (
		dataset string
		ks      []int
		xlsxDir string
		noSave  bool
	)
	cmd := &cobra.Command{
		Use:   "abtest",
		Short: "Run the same dataset with several retrieval depths and compare",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runABTest(cmd, opts, dataset, ks, xlsxDir, noSave)
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "Stored dataset id or a YAML/JSON dataset file")
	cmd.Flags().IntSliceVar(&ks, "k", nil, "Retrieval depths to compare (overrides ABTEST_KS)")
	cmd.Flags().StringVar(&xlsxDir, "xlsx-dir", "", "Write one Excel workbook per variant into this directory")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "Do not store the experiments")
	cobra.CheckErr(cmd.MarkFlagRequired("dataset"))
	return cmd
}

func buildDatasetCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dataset",
		Short: "Manage evaluation datasets",
	}

	var name string
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a YAML/JSON dataset and print its id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatasetImport(cmd, opts, args[0], name)
		},
	}
	importCmd.Flags().StringVar(&name, "name", "", "Dataset name (default from the file)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatasetList(cmd, opts)
		},
	}

	cmd.AddCommand(importCmd, listCmd)
	return cmd
}

func buildExperimentsCmd(opts *globalOptions) *cobra.Command {
	var dataset string
	cmd := &cobra.Command{
		Use:   "experiments",
		Short: "List stored experiments with their mean scores",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExperiments(cmd, opts, dataset)
		},
	}
	cmd.Flags().StringVar(&dataset, "dataset", "", "Only experiments on this dataset id")
	return cmd
}

func buildChunksCmd(opts *globalOptions) *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "chunks",
		Short: "Print how the source document is segmented",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChunks(cmd, opts, full)
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Print whole chunks instead of the first line")
	return cmd
}
