package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/phased/internal/artifact"
	"github.com/fyrsmithlabs/phased/internal/choke"
	"github.com/fyrsmithlabs/phased/internal/phase"
	"github.com/fyrsmithlabs/phased/internal/project"
	"github.com/fyrsmithlabs/phased/internal/tracker"
)

// Server exposes the gated operations over the MCP stdio transport.
// Every tool call maps to one choke-point adapter invocation; the
// server itself holds no policy logic.
type Server struct {
	mcp         *mcp.Server
	adapters    *choke.Adapters
	phases      *phase.Engine
	validator   *artifact.Validator
	initializer *project.Initializer
	metaStore   *project.MetadataStore
	tracker     tracker.Client
	workspace   string
	registry    *ToolRegistry
	metrics     *Metrics
	logger      *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "phased").
	Name string

	// Version is the server version (default: "1.0.0").
	Version string

	// Workspace is the repository root gated file writes are rooted
	// at.
	Workspace string

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "phased",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over the given collaborators. The
// tracker may be nil when no tracking system is configured; project
// tools then report ErrNotConfigured instead of registering partially.
func NewServer(
	cfg *Config,
	adapters *choke.Adapters,
	phases *phase.Engine,
	validator *artifact.Validator,
	initializer *project.Initializer,
	metaStore *project.MetadataStore,
	tc tracker.Client,
) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if adapters == nil {
		return nil, fmt.Errorf("choke adapters are required")
	}
	if phases == nil {
		return nil, fmt.Errorf("phase engine is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("artifact validator is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:         mcpServer,
		adapters:    adapters,
		phases:      phases,
		validator:   validator,
		initializer: initializer,
		metaStore:   metaStore,
		tracker:     tc,
		workspace:   cfg.Workspace,
		registry:    NewToolRegistry(),
		metrics:     NewMetrics(cfg.Logger),
		logger:      cfg.Logger,
	}

	s.registerTools()
	return s, nil
}

// Registry returns the tool metadata registry.
func (s *Server) Registry() *ToolRegistry {
	return s.registry
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
