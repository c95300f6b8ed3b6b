package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/pointsimport/internal/application"
	"github.com/JonMunkholm/pointsimport/internal/config"
	"github.com/JonMunkholm/pointsimport/internal/importer"
	"github.com/JonMunkholm/pointsimport/internal/ledger"
	"github.com/JonMunkholm/pointsimport/internal/logging"
)

// errImportFailed makes the process exit non-zero after the report has
// already been printed.
var errImportFailed = errors.New("import finished with errors")

type configLoader func() (*config.Config, error)

func newRootCmd(load configLoader) *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Bulk point imports against the ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			// Unlike the server, the shell environment wins over .env here.
			_ = godotenv.Load()
			logging.Setup(cmd.ErrOrStderr(), logLevel, "text")
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(newRunCmd(load), newHistoryCmd(load), newMigrateCmd(load))
	return root
}

type runFlags struct {
	kind         string
	skipFirstRow bool
	delimiter    string
	encoding     string
	workers      int
	timeout      time.Duration
	format       string
}

func newRunCmd(load configLoader) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Import a delimited text file or spreadsheet",
		Long: `Import credits every valid row of the file to the ledger and prints the
report. Rows are "userId,points[,note]"; the first row is a header unless
--skip-first-row=false.

The command exits 1 when any row failed or the file could not be read.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, load, f, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.kind, "kind", "", "file kind (csv, tsv, txt, xlsx); detected from the extension when empty")
	flags.BoolVar(&f.skipFirstRow, "skip-first-row", true, "treat the first row as a header")
	flags.StringVar(&f.delimiter, "delimiter", "", "field delimiter for text files (default from IMPORT_DEFAULT_DELIMITER)")
	flags.StringVar(&f.encoding, "encoding", "", "text encoding label such as windows-1252 (default UTF-8)")
	flags.IntVar(&f.workers, "workers", 0, "apply concurrency (default from IMPORT_WORKERS)")
	flags.DurationVar(&f.timeout, "timeout", 0, "run timeout (default from IMPORT_TIMEOUT)")
	flags.StringVar(&f.format, "format", "text", "output format: text or json")
	return cmd
}

func runImport(cmd *cobra.Command, load configLoader, f runFlags, path string) error {
	if f.format != "text" && f.format != "json" {
		return fmt.Errorf("unknown --format %q", f.format)
	}

	cfg, err := load()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("workers") {
		cfg.Import.Workers = f.workers
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Import.Timeout = f.timeout
	}

	kind, err := importer.DetectKind(path, f.kind)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := application.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	opts := importer.ImportOptions{
		SkipFirstRow: f.skipFirstRow,
		Delimiter:    cfg.Import.DefaultDelimiter,
		Encoding:     cfg.Import.DefaultEncoding,
	}
	if f.delimiter != "" {
		opts.Delimiter = f.delimiter
	}
	if f.encoding != "" {
		opts.Encoding = f.encoding
	}

	name := filepath.Base(path)
	start := time.Now()
	report := app.Coordinator.Run(ctx, importer.File{Name: name, Kind: kind, Data: data}, opts)

	run := runFromReport(name, kind, report, time.Since(start))
	if err := app.Store.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		logging.FromContext(ctx).Warn("failed to record import run", "import_id", report.ImportID, "error", err)
	}

	out := cmd.OutOrStdout()
	if f.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		writeReport(out, report)
	}

	if !report.Success {
		return errImportFailed
	}
	return nil
}

func runFromReport(name string, kind importer.FileKind, r importer.ImportReport, d time.Duration) ledger.ImportRun {
	run := ledger.ImportRun{
		ID:             r.ImportID,
		FileName:       name,
		FileKind:       string(kind),
		Success:        r.Success,
		TotalProcessed: r.TotalProcessed,
		SuccessCount:   r.SuccessCount,
		FailedCount:    r.FailedCount,
		UserAgent:      "importctl",
		Duration:       d,
		CreatedAt:      time.Now().UTC(),
	}
	for _, e := range r.Errors {
		run.Errors = append(run.Errors, ledger.RunError{Row: e.Row, AccountID: e.AccountID, Message: e.Message})
	}
	return run
}

// writeReport prints a report for a terminal.
func writeReport(w io.Writer, r importer.ImportReport) {
	status := "completed"
	switch {
	case r.Fatal():
		status = "failed"
	case r.Unprocessed > 0:
		status = "stopped early"
	case !r.Success:
		status = "completed with errors"
	}

	fmt.Fprintf(w, "Import %s %s\n", r.ImportID, status)
	fmt.Fprintf(w, "  processed: %d  succeeded: %d  failed: %d\n", r.TotalProcessed, r.SuccessCount, r.FailedCount)
	if r.Unprocessed > 0 {
		fmt.Fprintf(w, "  not processed: %d\n", r.Unprocessed)
	}
	if r.Fatal() {
		cause := errors.New(r.Errors[0].Message)
		fmt.Fprintf(w, "  %s\n  %s\n", cause, importer.FormatUserError(cause))
		return
	}
	if len(r.Errors) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nROW\tUSER\tERROR")
	for _, e := range r.Errors {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", e.Row, e.AccountID, e.Message)
	}
	tw.Flush()
}

// errorLine renders a command error for stderr. Known failures carry the
// operator message and support code ahead of the raw error.
func errorLine(err error) string {
	if importer.IsUserFacing(err) {
		return fmt.Sprintf("Error: %s\n  %v", importer.FormatUserError(err), err)
	}
	return "Error: " + err.Error()
}

func newHistoryCmd(load configLoader) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent import runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app, err := application.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			runs, err := app.Store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tFILE\tWHEN\tOK\tPROCESSED\tFAILED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%v\t%d\t%d\n",
					r.ID, r.FileName, r.CreatedAt.Format(time.RFC3339), r.Success, r.TotalProcessed, r.FailedCount)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", ledger.DefaultRunListLimit, "number of runs to show")
	return cmd
}

func newMigrateCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the ledger tables in PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Ledger.Backend != config.BackendPostgres {
				return fmt.Errorf("migrate needs LEDGER_BACKEND=%s, got %q", config.BackendPostgres, cfg.Ledger.Backend)
			}

			pool, err := application.Connect(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := ledger.NewPgStore(pool).EnsureSchema(cmd.Context()); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ledger schema is up to date")
			return nil
		},
	}
}
