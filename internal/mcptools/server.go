// Package mcptools exposes the graph's read paths and the project operation
// as MCP tools.
package mcptools

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// version is set by the linker at build time.
var version = "dev"

// NewServer creates an MCP server with all 6 graph tools registered.
func NewServer(svc *GraphService) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "cpgraph",
		Version: svc.opts.Version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "project",
		Description: "Load a source directory with tree-sitter and project it into the code property graph. Only files whose content changed since the last run are rewritten. Returns the run summary.",
	}, svc.Project)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_metadata",
		Description: "Return the META_DATA vertex: the language, front-end version and program hash of the last projection.",
	}, svc.GetMetadata)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_method",
		Description: "Return a method by FULL_NAME: its head (parameters, return, modifiers) or, with includeBody, its whole AST subtree.",
	}, svc.GetMethod)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_program_structure",
		Description: "Return every FILE, NAMESPACE_BLOCK and TYPE_DECL with the edges between them.",
	}, svc.GetProgramStructure)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_neighbours",
		Description: "Return a vertex, selected by id or by label and FULL_NAME, with every vertex one edge away in either direction.",
	}, svc.GetNeighbours)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "graph_stats",
		Description: "Count the vertices and edges of the whole graph, with a breakdown by vertex label.",
	}, svc.GraphStats)

	return server
}

// RunHTTP serves the MCP tools over streamable HTTP until ctx is cancelled.
func RunHTTP(ctx context.Context, svc *GraphService, addr string) error {
	server := NewServer(svc)

	handler := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			svc.log.Warn("mcp shutdown", zap.Error(err))
		}
	}()

	svc.log.Info("serving mcp", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunStdio serves the MCP tools on stdin/stdout, blocking until stdin is
// closed or ctx is cancelled.
func RunStdio(ctx context.Context, svc *GraphService) error {
	return NewServer(svc).Run(ctx, &mcp.StdioTransport{})
}
