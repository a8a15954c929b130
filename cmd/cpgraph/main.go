package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is set by goreleaser at build time.
var version = "dev"

// Global flags shared by every subcommand.
var (
	configDir   string
	backendKind string
	backendPath string
	backendURI  string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "cpgraph",
	Short: "Incrementally project source trees into a code property graph",
	Long: `cpgraph parses Go, Python, TypeScript and Rust sources, lowers them into a
code property graph, and keeps a graph database in step with the tree: only
files whose content changed are rewritten on each run.

Backends: memory, badger, kuzu, neo4j, rest and gremlin. Settings come from
cpgraph.yml in --config-dir; flags override the file.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configDir, "config-dir", ".", "directory holding cpgraph.yml")
	pf.StringVar(&backendKind, "backend", "", "backend kind: memory, badger, kuzu, neo4j, rest or gremlin")
	pf.StringVar(&backendPath, "backend-path", "", "database directory for badger and kuzu")
	pf.StringVar(&backendURI, "uri", "", "server address for neo4j, rest and gremlin")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(serveMCPCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
