// Package cli exposes the catalogue pipeline as cobra commands.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/smallbiznis/catalogue/internal/app"
	"github.com/smallbiznis/catalogue/internal/dedupe"
	"github.com/smallbiznis/catalogue/internal/pipeline"
	"github.com/smallbiznis/catalogue/internal/report"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

const stopTimeout = 30 * time.Second

// NewRootCommand builds the catalogue command tree.
func NewRootCommand(version string) *cobra.Command {
	root := &cobra.Command{
		Use:     "catalogue",
		Short:   "Formation catalogue pipeline",
		Version: version,
		Long: `catalogue mirrors the external formation feed into the local store,
merges duplicates, converts formations to the catalogue schema and matches
them against the establishment directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddGroup(&cobra.Group{ID: "pipeline", Title: "Pipeline Commands:"})
	root.AddGroup(&cobra.Group{ID: "management", Title: "Management Commands:"})

	root.AddCommand(
		newRunCommand(),
		newImportCommand(),
		newDedupeCommand(),
		newConvertCommand(),
		newMatchCommand(),
		newScheduleCommand(),
		newMigrateCommand(),
	)
	return root
}

func newRunCommand() *cobra.Command {
	var phases []string
	cmd := &cobra.Command{
		Use:     "run",
		GroupID: "pipeline",
		Short:   "Run every pipeline phase once",
		Example: `  catalogue run
  catalogue run --phase import --phase report`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), pipeline.RunOptions{Phases: phases})
		},
	}
	cmd.Flags().StringSliceVar(&phases, "phase", nil, "phases to run (import, dedupe, convert, match, report)")
	return cmd
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "import",
		GroupID: "pipeline",
		Short:   "Import the feed snapshot and send the import report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), pipeline.RunOptions{
				Phases: []string{pipeline.PhaseImport, pipeline.PhaseReport},
			})
		},
	}
}

func newDedupeCommand() *cobra.Command {
	var converted bool
	cmd := &cobra.Command{
		Use:     "dedupe",
		GroupID: "pipeline",
		Short:   "Merge formations sharing a natural key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := pipeline.RunOptions{Phases: []string{pipeline.PhaseDedupe}}
			if converted {
				opts.Targets = []dedupe.Target{dedupe.TargetConverted}
			}
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().BoolVar(&converted, "converted", false, "merge duplicated catalogue records instead of feed formations")
	return cmd
}

func newConvertCommand() *cobra.Command {
	var retry bool
	cmd := &cobra.Command{
		Use:     "convert",
		GroupID: "pipeline",
		Short:   "Convert pending formations to the catalogue schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), pipeline.RunOptions{
				Phases:      []string{pipeline.PhaseConvert},
				RetryErrors: retry,
			})
		},
	}
	cmd.Flags().BoolVar(&retry, "retry-errors", false, "retry formations whose previous conversion failed")
	return cmd
}

func newMatchCommand() *cobra.Command {
	var preload bool
	cmd := &cobra.Command{
		Use:     "match",
		GroupID: "pipeline",
		Short:   "Match formations against the establishment directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var extra []fx.Option
			if cmd.Flags().Changed("preload") {
				extra = append(extra, fx.Decorate(func(cfg pipeline.Config) pipeline.Config {
					cfg.PreloadDirectory = preload
					return cfg
				}))
			}
			return runPipeline(cmd.Context(), cmd.OutOrStdout(), pipeline.RunOptions{
				Phases: []string{pipeline.PhaseMatch},
			}, extra...)
		},
	}
	cmd.Flags().BoolVar(&preload, "preload", true, "load the whole directory in memory before matching")
	return cmd
}

func runPipeline(ctx context.Context, out io.Writer, opts pipeline.RunOptions, extra ...fx.Option) error {
	var p *pipeline.Pipeline
	application := fx.New(
		app.Modules(),
		app.QuietLogger(),
		fx.Options(extra...),
		fx.Populate(&p),
	)
	if err := application.Start(ctx); err != nil {
		return err
	}
	defer stop(application)

	r, runErr := p.Run(ctx, opts)
	if err := printSummary(out, r); err != nil {
		return err
	}
	return runErr
}

func stop(application *fx.App) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = application.Stop(ctx)
}

func printSummary(out io.Writer, r report.Report) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RunID   string         `json:"run_id"`
		Summary report.Summary `json:"summary"`
		Errors  []string       `json:"errors,omitempty"`
	}{
		RunID:   r.RunID,
		Summary: r.Summary,
		Errors:  r.Errors,
	})
}
