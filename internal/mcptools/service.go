package mcptools

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dusk-indust/cpgraph/internal/driver"
	"github.com/dusk-indust/cpgraph/internal/frontend"
	"github.com/dusk-indust/cpgraph/internal/graph"
	"github.com/dusk-indust/cpgraph/internal/graphio"
	"github.com/dusk-indust/cpgraph/internal/logging"
	"github.com/dusk-indust/cpgraph/internal/pipeline"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

// Options configures a GraphService.
type Options struct {
	// Languages and ExcludeDirs are the defaults for project calls that do
	// not name their own.
	Languages   []string
	ExcludeDirs []string
	Version     string
	Logger      *zap.Logger
}

// GraphService holds the driver and pipeline used by MCP tool handlers.
type GraphService struct {
	drv  driver.Driver
	pipe *pipeline.Pipeline
	opts Options
	log  *zap.Logger

	// project calls must not overlap.
	mu sync.Mutex
}

// NewGraphService creates a GraphService. drv must already be connected.
func NewGraphService(drv driver.Driver, pipe *pipeline.Pipeline, opts Options) *GraphService {
	if opts.Version == "" {
		opts.Version = version
	}
	return &GraphService{
		drv:  drv,
		pipe: pipe,
		opts: opts,
		log:  logging.OrNop(opts.Logger).Named("mcp"),
	}
}

// Project loads a directory and projects it into the graph.
func (s *GraphService) Project(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input ProjectInput,
) (*mcp.CallToolResult, ProjectOutput, error) {
	if input.RepoPath == "" {
		return nil, ProjectOutput{}, fmt.Errorf("repoPath is required")
	}
	info, err := os.Stat(input.RepoPath)
	if err != nil {
		return nil, ProjectOutput{}, fmt.Errorf("cannot access repoPath: %w", err)
	}
	if !info.IsDir() {
		return nil, ProjectOutput{}, fmt.Errorf("repoPath is not a directory: %s", input.RepoPath)
	}

	languages := input.Languages
	if len(languages) == 0 {
		languages = s.opts.Languages
	}
	excludes := append(append([]string(nil), s.opts.ExcludeDirs...), input.ExcludeDirs...)
	loader, err := frontend.NewLoader(languages, excludes, s.opts.Version, s.log)
	if err != nil {
		return nil, ProjectOutput{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prog, err := loader.Load(ctx, input.RepoPath)
	if err != nil {
		return nil, ProjectOutput{}, fmt.Errorf("load: %w", err)
	}
	res, err := s.pipe.Project(ctx, prog)
	if err != nil {
		return nil, ProjectOutput{}, fmt.Errorf("project: %w", err)
	}
	s.log.Info("projected",
		zap.String("root", input.RepoPath),
		zap.String("run_id", res.RunID),
		zap.Bool("changed", res.Changed),
	)

	if input.ExportPath != "" {
		whole, err := s.drv.GetWholeGraph(ctx)
		if err != nil {
			return nil, ProjectOutput{}, fmt.Errorf("export: %w", err)
		}
		if err := graphio.Export(input.ExportPath, whole); err != nil {
			return nil, ProjectOutput{}, err
		}
	}
	return nil, ProjectOutput{Result: *res, Units: len(prog.Units)}, nil
}

// GetMetadata returns the language, version and hash of the last projected
// program.
func (s *GraphService) GetMetadata(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ GetMetadataInput,
) (*mcp.CallToolResult, GetMetadataOutput, error) {
	meta, err := s.drv.GetMetaData(ctx)
	if err != nil {
		return nil, GetMetadataOutput{}, fmt.Errorf("get metadata: %w", err)
	}
	if meta == nil {
		return nil, GetMetadataOutput{}, nil
	}
	return nil, GetMetadataOutput{
		Found:    true,
		Language: meta.Props.String(graph.PropLanguage),
		Version:  meta.Props.String(graph.PropVersion),
		Hash:     meta.Props.String(graph.PropHash),
	}, nil
}

// GetMethod returns a method's head, or its whole body.
func (s *GraphService) GetMethod(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetMethodInput,
) (*mcp.CallToolResult, SubgraphOutput, error) {
	if input.FullName == "" {
		return nil, SubgraphOutput{}, fmt.Errorf("fullName is required")
	}
	g, err := s.drv.GetMethod(ctx, input.FullName, input.IncludeBody)
	if err != nil {
		return nil, SubgraphOutput{}, fmt.Errorf("get method: %w", err)
	}
	if len(g.Vertices) == 0 {
		return nil, SubgraphOutput{}, fmt.Errorf("method not found: %s", input.FullName)
	}
	return nil, subgraphOutput(g), nil
}

// GetProgramStructure returns the files, namespace blocks and type
// declarations.
func (s *GraphService) GetProgramStructure(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ GetProgramStructureInput,
) (*mcp.CallToolResult, SubgraphOutput, error) {
	g, err := s.drv.GetProgramStructure(ctx)
	if err != nil {
		return nil, SubgraphOutput{}, fmt.Errorf("get program structure: %w", err)
	}
	return nil, subgraphOutput(g), nil
}

// GetNeighbours returns a vertex with everything one edge away.
func (s *GraphService) GetNeighbours(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GetNeighboursInput,
) (*mcp.CallToolResult, SubgraphOutput, error) {
	v := &graph.Vertex{ID: input.ID}
	if input.ID == 0 {
		if input.Label == "" || input.FullName == "" {
			return nil, SubgraphOutput{}, fmt.Errorf("id, or label and fullName, are required")
		}
		label := graph.VertexLabel(input.Label)
		if !label.Valid() {
			return nil, SubgraphOutput{}, fmt.Errorf("unknown label %q", input.Label)
		}
		found, err := s.drv.GetVertex(ctx, label, input.FullName)
		if err != nil {
			return nil, SubgraphOutput{}, fmt.Errorf("get vertex: %w", err)
		}
		if found == nil {
			return nil, SubgraphOutput{}, fmt.Errorf("vertex not found: %s %s", label, input.FullName)
		}
		v = found
	}
	g, err := s.drv.GetNeighbours(ctx, v)
	if err != nil {
		return nil, SubgraphOutput{}, fmt.Errorf("get neighbours: %w", err)
	}
	return nil, subgraphOutput(g), nil
}

// GraphStats counts the vertices and edges in the whole graph.
func (s *GraphService) GraphStats(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ GraphStatsInput,
) (*mcp.CallToolResult, GraphStatsOutput, error) {
	g, err := s.drv.GetWholeGraph(ctx)
	if err != nil {
		return nil, GraphStatsOutput{}, fmt.Errorf("graph stats: %w", err)
	}
	return nil, statsOutput(g.Stats()), nil
}
