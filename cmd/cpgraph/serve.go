package main

import (
	"github.com/dusk-indust/cpgraph/internal/frontend"
	"github.com/dusk-indust/cpgraph/internal/mcptools"
	"github.com/dusk-indust/cpgraph/internal/pipeline"
	"github.com/spf13/cobra"
)

var (
	serveAddr  string
	serveStdio bool
)

var serveMCPCmd = &cobra.Command{
	Use:   "serve-mcp",
	Short: "Serve the graph tools over MCP",
	Long: `Expose project, get_metadata, get_method, get_program_structure,
get_neighbours and graph_stats as MCP tools, over streamable HTTP on --addr or
on stdin/stdout with --stdio.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		p, err := pipeline.New(a.drv, frontend.Lowerer{}, pipeline.OptionsFromConfig(a.cfg, a.log))
		if err != nil {
			return err
		}
		defer p.Close()

		svc := mcptools.NewGraphService(a.drv, p, mcptools.Options{
			Languages:   a.cfg.Languages,
			ExcludeDirs: a.cfg.ExcludeDirs,
			Version:     version,
			Logger:      a.log,
		})
		if serveStdio {
			return mcptools.RunStdio(cmd.Context(), svc)
		}
		return mcptools.RunHTTP(cmd.Context(), svc, serveAddr)
	},
}

func init() {
	serveMCPCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8765", "listen address for streamable HTTP")
	serveMCPCmd.Flags().BoolVar(&serveStdio, "stdio", false, "serve on stdin/stdout instead of HTTP")
}
