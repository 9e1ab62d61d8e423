package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/annorepair/internal/model"
)

var (
	outPath     string
	passTimeout time.Duration
	dryRun      bool
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze <pass>... | all",
	Short: "Classify the collection without planning or writing anything",
	Long: `Analyze walks the collection for each named pass and reports which
annotations carry defects and what would be done to them.

Example:
  annorepair analyze structural
  annorepair analyze linking-duplicates linking-orphans --output report.json
  annorepair analyze all`,
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: passArgs(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPasses(args, func(ctx context.Context, rt *runtime, kind model.PassKind) (*model.Report, error) {
			return rt.engine.Analyze(ctx, kind)
		})
	},
}

// repairCmd represents the repair command
var repairCmd = &cobra.Command{
	Use:   "repair <pass>... | all",
	Short: "Plan repairs and, with --dry-run=false, apply them",
	Long: `Repair plans the fix for every defective annotation and reports the
before and after states. Writes only happen with --dry-run=false, and
every write is conditional on the annotation's current ETag.

Example:
  annorepair repair textspotting
  annorepair repair linking-orphans --dry-run=false --output applied.json`,
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: passArgs(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPasses(args, func(ctx context.Context, rt *runtime, kind model.PassKind) (*model.Report, error) {
			return rt.engine.Repair(ctx, kind, dryRun)
		})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{analyzeCmd, repairCmd} {
		rootCmd.AddCommand(cmd)
		cmd.Flags().StringVarP(&outPath, "output", "o", "", "write the JSON report to this file instead of stdout")
		cmd.Flags().DurationVar(&passTimeout, "timeout", 0, "overall timeout for all passes (0 means none)")
	}
	repairCmd.Flags().BoolVar(&dryRun, "dry-run", true, "plan without writing; set --dry-run=false to apply")
}

func passArgs() []string {
	out := []string{"all"}
	for _, k := range model.PassKinds {
		out = append(out, string(k))
	}
	return out
}

// parseKinds expands "all" and rejects unknown pass names
func parseKinds(args []string) ([]model.PassKind, error) {
	var kinds []model.PassKind
	seen := make(map[model.PassKind]bool)
	for _, arg := range args {
		candidates := []model.PassKind{model.PassKind(arg)}
		if arg == "all" {
			candidates = model.PassKinds
		}
		for _, kind := range candidates {
			if !kind.Valid() {
				return nil, fmt.Errorf("unknown pass %q (valid: %v)", arg, passArgs())
			}
			if !seen[kind] {
				seen[kind] = true
				kinds = append(kinds, kind)
			}
		}
	}
	return kinds, nil
}

type passFunc func(ctx context.Context, rt *runtime, kind model.PassKind) (*model.Report, error)

func runPasses(args []string, run passFunc) error {
	kinds, err := parseKinds(args)
	if err != nil {
		return err
	}
	rt, err := newRuntime()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if passTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, passTimeout)
		defer cancel()
	}

	var reports []*model.Report
	var runErr error
	for _, kind := range kinds {
		report, err := run(ctx, rt, kind)
		if report != nil {
			reports = append(reports, report)
			printSummary(os.Stderr, report)
		}
		if err != nil {
			runErr = fmt.Errorf("pass %s: %w", kind, err)
			break
		}
	}

	if err := writeReports(reports, outPath); err != nil {
		return err
	}
	return runErr
}

// writeReports writes one report as an object and several as an array
func writeReports(reports []*model.Report, path string) (err error) {
	var v any = reports
	if len(reports) == 1 {
		v = reports[0]
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling report: %w", err)
	}
	data = append(data, '\n')

	if path == "" || path == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("error writing report: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Report written to %s\n", path)
	return nil
}

func printSummary(w io.Writer, r *model.Report) {
	c := r.Counters
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "  Pass:          %s (%s)\n", r.Kind, r.Mode)
	fmt.Fprintf(w, "  Pages:         %d (%d failed, stopped: %s)\n", r.Scan.Pages, r.Scan.FailedPages, r.Scan.StopReason)
	fmt.Fprintf(w, "  Scanned:       %d of %d listed\n", c.Scanned, r.Scan.Seen)
	fmt.Fprintf(w, "  Defective:     %d\n", c.Defective)
	if r.Mode == model.ModeApply {
		fmt.Fprintf(w, "  Changed:       %d (created %d, deleted %d)\n", c.Changed, c.Created, c.Deleted)
	}
	fmt.Fprintf(w, "  Needs review:  %d\n", c.NeedsReview)
	fmt.Fprintf(w, "  Skipped:       %d\n", c.Skipped)
	if c.Failed > 0 {
		fmt.Fprintf(w, "  Failed:        %d (conflicts %d, timeouts %d)\n", c.Failed, c.Conflicts, c.Timeouts)
	}
	fmt.Fprintf(w, "  Duration:      %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}
