package main

import (
	"fmt"

	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/graphio"
	"github.com/spf13/cobra"
)

var exportMethod string

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the stored graph to a file",
	Long: `Write the stored graph to <file>. The extension selects the format:
.graphml/.xml (GraphML), .json/.graphson (GraphSON 3), .bin/.cpg/.kryo
(compressed binary) or .mmd (Mermaid diagram, export only).

With --method only that method's AST subtree is written.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := graphio.FormatFor(args[0]); err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.requireEmbedded(); err != nil {
			return err
		}

		var g *graph.Subgraph
		if exportMethod != "" {
			g, err = a.drv.GetMethod(cmd.Context(), exportMethod, true)
			if err == nil && len(g.Vertices) == 0 {
				err = fmt.Errorf("method not found: %s", exportMethod)
			}
		} else {
			g, err = a.drv.GetWholeGraph(cmd.Context())
		}
		if err != nil {
			return err
		}
		if err := graphio.Export(args[0], g); err != nil {
			return err
		}
		stats := g.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d vertices and %d edges to %s\n", stats.VertexCount, stats.EdgeCount, args[0])
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load a graph file into an empty backend",
	Long: `Read a GraphML, GraphSON or binary graph file and write it to the backend
as one bulk transaction. Vertex identifiers are reassigned. The backend should
be empty; use "cpgraph clear" first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := graphio.Import(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.requireEmbedded(); err != nil {
			return err
		}

		if meta, err := a.drv.GetMetaData(cmd.Context()); err != nil {
			return err
		} else if meta != nil {
			return fmt.Errorf("backend %s already holds a graph; run clear first", a.cfg.Backend.Kind)
		}
		n, err := graphio.Load(cmd.Context(), a.drv, g)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d vertices and %d edges\n", n, len(g.Edges))
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every vertex and edge from the backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.drv.ClearGraph(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "graph cleared")
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportMethod, "method", "", "export only the method with this FULL_NAME")
}
