package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"rag_assistant/internal/app"
	"rag_assistant/internal/chat"
	"rag_assistant/internal/config"
	"rag_assistant/internal/eval"
	"rag_assistant/internal/loader"
	"rag_assistant/internal/metrics"
	"rag_assistant/internal/store"
	"rag_assistant/internal/tui"
	"rag_assistant/internal/web"
)

// =============================================================================
// Setup
// =============================================================================

// loadConfig applies flag overrides to the environment, parses the config and
// installs the default logger.
func loadConfig(opts *globalOptions, overrides map[string]string) (*config.Config, *slog.Logger, error) {
	// Устанавливаем env переменные для парсинга
	set := map[string]string{
		"SOURCE_PATH": opts.source,
		"DATA_DIR":    opts.dataDir,
		"LOG_LEVEL":   opts.logLevel,
	}
	if opts.reindex {
		set["REINDEX"] = "true"
	}
	for k, v := range overrides {
		set[k] = v
	}
	for k, v := range set {
		if v != "" {
			os.Setenv(k, v)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

func initApp(ctx context.Context, opts *globalOptions, overrides map[string]string) (*app.App, *config.Config, *slog.Logger, error) {
	cfg, logger, err := loadConfig(opts, overrides)
	if err != nil {
		return nil, nil, nil, err
	}
	shutdown, err := metrics.SetupTracing(ctx, metrics.TraceConfig{
		ServiceName:    "rag_assistant",
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to set up tracing: %w", err)
	}
	opts.shutdown = shutdown
	if cfg.Tracing.Endpoint != "" {
		logger.Info("span export enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create app: %w", err)
	}
	if err := a.Init(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize app: %w", err)
	}
	return a, cfg, logger, nil
}

func openStore(cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.EvalDB), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return store.Open(cfg.EvalDB, logger)
}

func kOverride(k int) map[string]string {
	if k <= 0 {
		return nil
	}
	return map[string]string{"TOP_K": strconv.Itoa(k)}
}

// =============================================================================
// Front ends
// =============================================================================

func runServe(cmd *cobra.Command, opts *globalOptions, addr string) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	defer opts.close()

	overrides := map[string]string{}
	if addr != "" {
		overrides["WEB_ADDR"] = addr
	}
	a, cfg, logger, err := initApp(ctx, opts, overrides)
	if err != nil {
		return err
	}
	srv := web.New(a, logger,
		web.WithSessionTTL(cfg.WebSessionTTL),
		web.WithMaxSessions(cfg.WebMaxSessions),
	)
	return srv.Start(ctx, cfg.WebAddr)
}

func runChat(cmd *cobra.Command, opts *globalOptions) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	defer opts.close()

	a, _, _, err := initApp(ctx, opts, nil)
	if err != nil {
		return err
	}
	return tui.Run(ctx, chat.NewSession(a), a.Summary())
}

func runAsk(cmd *cobra.Command, opts *globalOptions, question string, k int) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	defer opts.close()

	a, _, _, err := initApp(ctx, opts, kOverride(k))
	if err != nil {
		return err
	}
	if strings.TrimSpace(question) == "" {
		return a.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	res, err := a.Pipeline().Run(ctx, question)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, res.Answer)
	fmt.Fprintln(out)
	for _, src := range app.GroupBySection(res.Chunks) {
		fmt.Fprintln(out, "- "+src)
	}
	return nil
}

func runBatch(cmd *cobra.Command, opts *globalOptions, questionsPath, output string) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	defer opts.close()

	a, _, _, err := initApp(ctx, opts, nil)
	if err != nil {
		return err
	}
	if output == "" {
		timestamp := time.Now().Format("20060102_150405")
		base := strings.TrimSuffix(filepath.Base(questionsPath), filepath.Ext(questionsPath))
		output = fmt.Sprintf("%s_answers_%s.md", base, timestamp)
	}
	report, err := a.AnswerFile(ctx, questionsPath, output)
	if report != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Отвечено: %d, ошибок: %d, отчет: %s\n", report.SuccessCount, report.ErrorCount, output)
	}
	return err
}

// =============================================================================
// Evaluation
// =============================================================================

// resolveDataset reads examples from a dataset file, or from the store when
// ref is not a file.
func resolveDataset(ctx context.Context, st *store.Store, ref string) ([]eval.Example, string, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		ds, err := eval.LoadDataset(ref)
		if err != nil {
			return nil, "", err
		}
		return ds.Examples, "file:" + filepath.Base(ref), nil
	}
	examples, err := st.Examples(ctx, ref)
	if err != nil {
		return nil, "", err
	}
	return examples, ref, nil
}

func runEval(cmd *cobra.Command, opts *globalOptions, f evalFlags) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	defer opts.close()

	a, cfg, logger, err := initApp(ctx, opts, kOverride(f.k))
	if err != nil {
		return err
	}
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	examples, datasetID, err := resolveDataset(ctx, st, f.dataset)
	if err != nil {
		return err
	}
	ev, err := a.Evaluator()
	if err != nil {
		return err
	}

	k := a.Pipeline().K()
	report, runErr := ev.Run(ctx, eval.Experiment{
		Prefix:      fmt.Sprintf("RAG_k%d", k),
		Description: fmt.Sprintf("RAG с k=%d", k),
		DatasetID:   datasetID,
	}, examples)
	if report == nil {
		return runErr
	}

	fmt.Fprintln(cmd.OutOrStdout(), eval.Compare(report))
	if err := writeReport(report, f.xlsx, f.json); err != nil {
		return err
	}
	if !f.noSave {
		if err := st.SaveReport(context.WithoutCancel(ctx), report); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Эксперимент сохранен: %s\n", report.ID)
	}
	return runErr
}

func writeReport(r *eval.Report, xlsxPath, jsonPath string) error {
	if xlsxPath != "" {
		if err := r.WriteXLSX(xlsxPath); err != nil {
			return fmt.Errorf("write xlsx: %w", err)
		}
	}
	if jsonPath != "" {
		return writeJSONReport(r, jsonPath)
	}
	return nil
}

func writeJSONReport(r *eval.Report, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close json report: %w", cerr)
		}
	}()
	if err := r.WriteJSON(f); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

func runABTest(cmd *cobra.Command, opts *globalOptions, dataset string, ks []int, xlsxDir string, noSave bool) error {
	ctx, stop := signalContext(cmd)
	defer stop()
	defer opts.close()

	a, cfg, logger, err := initApp(ctx, opts, nil)
	if err != nil {
		return err
	}
	if len(ks) == 0 {
		ks = cfg.Retrieval.ABTestKs
	}
	for _, k := range ks {
		if k < 1 {
			return fmt.Errorf("k must be at least 1, got %d", k)
		}
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	examples, datasetID, err := resolveDataset(ctx, st, dataset)
	if err != nil {
		return err
	}
	ev, err := a.Evaluator()
	if err != nil {
		return err
	}

	reports, runErr := ev.ABTest(ctx, a.PredictorForK, datasetID, examples, eval.VariantsForK(ks...))
	if len(reports) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), eval.Compare(reports...))
	}
	for _, r := range reports {
		if xlsxDir != "" {
			if err := os.MkdirAll(xlsxDir, 0755); err != nil {
				return err
			}
			if err := writeReport(r, filepath.Join(xlsxDir, r.Experiment+".xlsx"), ""); err != nil {
				return err
			}
		}
		if !noSave {
			if err := st.SaveReport(context.WithoutCancel(ctx), r); err != nil {
				return err
			}
		}
	}
	return runErr
}

// =============================================================================
// Datasets and experiments
// =============================================================================

func runDatasetImport(cmd *cobra.Command, opts *globalOptions, path, name string) error {
	cfg, logger, err := loadConfig(opts, nil)
	if err != nil {
		return err
	}
	ds, err := eval.LoadDataset(path)
	if err != nil {
		return err
	}
	if name == "" {
		name = ds.Name
	}

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.ImportDataset(cmd.Context(), name, ds.Examples)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func runDatasetList(cmd *cobra.Command, opts *globalOptions) error {
	cfg, logger, err := loadConfig(opts, nil)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	sets, err := st.ListDatasets(cmd.Context())
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No datasets.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEXAMPLES\tCREATED")
	for _, d := range sets {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", d.ID, d.Name, d.Examples, d.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runExperiments(cmd *cobra.Command, opts *globalOptions, datasetID string) error {
	cfg, logger, err := loadConfig(opts, nil)
	if err != nil {
		return err
	}
	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	exps, err := st.Experiments(ctx, datasetID)
	if err != nil {
		return err
	}
	if len(exps) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No experiments.")
		return nil
	}

	keys := eval.Keys(eval.DefaultCriteria())
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	header := []string{"ID", "EXPERIMENT", "DATASET", "K", "STARTED"}
	for _, k := range keys {
		header = append(header, strings.ToUpper(string(k)))
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, e := range exps {
		summary, err := st.Summary(ctx, e.ID)
		if err != nil {
			return err
		}
		row := []string{e.ID, e.Prefix, e.DatasetID, strconv.Itoa(e.K), e.StartedAt.Format(time.RFC3339)}
		for _, k := range keys {
			row = append(row, fmt.Sprintf("%.2f", summary[k]))
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	return w.Flush()
}

// =============================================================================
// Debug
// =============================================================================

func runChunks(cmd *cobra.Command, opts *globalOptions, full bool) error {
	cfg, logger, err := loadConfig(opts, nil)
	if err != nil {
		return err
	}
	doc, err := loader.Load(cfg.SourcePath)
	if err != nil {
		return err
	}
	seg, err := app.Segment(doc, cfg.Chunking, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d chunks, method %s, dropped %d\n\n", doc.Name, len(seg.Chunks), seg.Method, seg.Dropped)
	for i, ch := range seg.Chunks {
		label := fmt.Sprintf("#%d", i+1)
		if ch.Metadata.HasArticle {
			label += fmt.Sprintf(" [Статья %d]", ch.Metadata.Article)
		} else if ch.Metadata.Section != "" {
			label += " [" + ch.Metadata.Section + "]"
		}
		text := ch.Text
		if !full {
			text = firstLine(text)
		}
		fmt.Fprintf(out, "%s (%d runes)\n%s\n\n", label, len([]rune(ch.Text)), text)
	}
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}

