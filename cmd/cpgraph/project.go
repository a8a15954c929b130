package main

import (
	"encoding/json"
	"fmt"

	"github.com/dusk-indust/cpgraph/internal/frontend"
	"github.com/dusk-indust/cpgraph/internal/graphio"
	"github.com/dusk-indust/cpgraph/internal/pipeline"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	projectLanguages []string
	projectExcludes  []string
	projectExport    string
	projectJSON      bool
)

var projectCmd = &cobra.Command{
	Use:   "project <dir>",
	Short: "Load a source tree and bring the stored graph in line with it",
	Long: `Load every supported source file under <dir>, lower it into the code
property graph and write the difference to the backend. An unchanged tree is
a no-op; otherwise new and edited units are rebuilt and deleted ones removed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		ctx := cmd.Context()
		if projectExport != "" {
			if _, err := graphio.FormatFor(projectExport); err != nil {
				return err
			}
			if err := a.requireEmbedded(); err != nil {
				return err
			}
		}

		languages := projectLanguages
		if len(languages) == 0 {
			languages = a.cfg.Languages
			if len(languages) == 0 && a.cfg.Language != "" {
				languages = []string{a.cfg.Language}
			}
		}
		excludes := append(append([]string(nil), a.cfg.ExcludeDirs...), projectExcludes...)
		loader, err := frontend.NewLoader(languages, excludes, version, a.log)
		if err != nil {
			return err
		}
		prog, err := loader.Load(ctx, args[0])
		if err != nil {
			return err
		}

		opts := pipeline.OptionsFromConfig(a.cfg, a.log)
		if !projectJSON {
			opts.Progress = pipeline.NewProgressReporter()
		}
		p, err := pipeline.New(a.drv, frontend.Lowerer{}, opts)
		if err != nil {
			return err
		}
		defer p.Close()

		printed := make(chan struct{})
		if opts.Progress != nil {
			events := opts.Progress.Subscribe()
			go func() {
				defer close(printed)
				for ev := range events {
					fmt.Fprintln(cmd.ErrOrStderr(), pipeline.FormatProgress(ev))
				}
			}()
		} else {
			close(printed)
		}

		res, err := p.Project(ctx, prog)
		if opts.Progress != nil {
			opts.Progress.Close()
		}
		<-printed
		if err != nil {
			return err
		}

		if projectExport != "" {
			whole, err := a.drv.GetWholeGraph(ctx)
			if err != nil {
				return err
			}
			if err := graphio.Export(projectExport, whole); err != nil {
				return err
			}
			a.log.Info("exported", zap.String("path", projectExport))
		}
		return printResult(cmd, res)
	},
}

func init() {
	f := projectCmd.Flags()
	f.StringSliceVarP(&projectLanguages, "language", "l", nil, "languages to load (go, python, typescript, rust); default all")
	f.StringSliceVarP(&projectExcludes, "exclude", "x", nil, "extra doublestar patterns to skip, relative to <dir>")
	f.StringVar(&projectExport, "export", "", "export the whole graph to this file afterwards")
	f.BoolVar(&projectJSON, "json", false, "print the run summary as JSON")
}

func printResult(cmd *cobra.Command, res *pipeline.RunResult) error {
	out := cmd.OutOrStdout()
	if projectJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if !res.Changed {
		fmt.Fprintln(out, "No changes.")
		return nil
	}
	fmt.Fprintf(out, "new %d, updated %d, removed %d, skipped %d, failed %d\n",
		res.New, res.Updated, res.Removed, res.Skipped, res.Failed)
	fmt.Fprintf(out, "wrote %d vertices and %d edges; %d calls unresolved\n",
		res.Vertices, res.Edges, res.UnresolvedCalls)
	if res.Failed > 0 {
		return fmt.Errorf("%d units failed to lower", res.Failed)
	}
	return nil
}
