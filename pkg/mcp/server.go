package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"tokenizerd/pkg/config"
	"tokenizerd/pkg/registry"
)

const (
	serverName    = "tokenizerd"
	serverVersion = "1.1.0"
)

// semAcquireTimeout bounds how long a count/chunk request waits for an
// admission slot before being turned away.
const semAcquireTimeout = 10 * time.Second

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Registry   *registry.Registry
	Cache      registry.CountCache // nil when the cache backend is "none"
	Logger     *logrus.Logger
}

// Server wraps the MCP server with tokenizer lifecycle tools
type Server struct {
	mcpServer *server.MCPServer
	sse       *server.SSEServer
	cfg       *ServerConfig
	log       *logrus.Entry
	reg       *registry.Registry
	sem       *semaphore.Weighted
	started   time.Time
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("Registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	maxConcurrent := cfg.AppConfig.Server.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	// Create the MCP server
	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		cfg:       cfg,
		log:       cfg.Logger.WithField("component", "mcp"),
		reg:       cfg.Registry,
		sem:       semaphore.NewWeighted(maxConcurrent),
		started:   time.Now(),
	}

	// Register all tools
	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	// initialize_tokenizer - Install a tokenizer for a named scheme
	initializeTool := mcp.NewTool("initialize_tokenizer",
		mcp.WithDescription("Install the tokenizer for a named BPE encoding scheme. Replaces any previously active tokenizer."),
		mcp.WithString("scheme",
			mcp.Description("Encoding scheme name (e.g., 'cl100k_base', 'o200k_base'). Omitting it reports the null-input status."),
		),
	)
	s.mcpServer.AddTool(initializeTool, s.handleInitializeTokenizer)

	// count_tokens - Count tokens in text with the active tokenizer
	countTool := mcp.NewTool("count_tokens",
		mcp.WithDescription("Count tokens in text using the active tokenizer. Returns 0 when no tokenizer is active."),
		mcp.WithString("text",
			mcp.Description("Text to count. Special-token markers in the text count as single tokens."),
		),
	)
	s.mcpServer.AddTool(countTool, s.handleCountTokens)

	// reset_tokenizer - Clear the active tokenizer
	resetTool := mcp.NewTool("reset_tokenizer",
		mcp.WithDescription("Clear the active tokenizer. The registry returns to its empty state."),
	)
	s.mcpServer.AddTool(resetTool, s.handleResetTokenizer)

	// get_status - Report registry, cache, and server state
	statusTool := mcp.NewTool("get_status",
		mcp.WithDescription("Get the current tokenizer state, cache statistics, and server settings."),
	)
	s.mcpServer.AddTool(statusTool, s.handleGetStatus)

	// list_schemes - Enumerate the supported encoding schemes
	listSchemesTool := mcp.NewTool("list_schemes",
		mcp.WithDescription("List the supported encoding schemes and their model identifiers."),
	)
	s.mcpServer.AddTool(listSchemesTool, s.handleListSchemes)

	// chunk_text - Split text into token-budgeted chunks
	chunkTool := mcp.NewTool("chunk_text",
		mcp.WithDescription("Split markdown or plain text into chunks that fit a token budget, measured by the active tokenizer."),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The text to split"),
		),
		mcp.WithNumber("max_tokens",
			mcp.Description("Token budget per chunk (defaults to the configured chunker budget)"),
		),
		mcp.WithNumber("overlap",
			mcp.Description("Token overlap between chunks (defaults to the configured overlap)"),
		),
	)
	s.mcpServer.AddTool(chunkTool, s.handleChunkText)

	s.log.Infof("Registered %d MCP tools", 6)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case config.TransportStdio:
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case config.TransportSSE:
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		s.sse = server.NewSSEServer(s.mcpServer)
		return s.sse.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	if s.sse != nil {
		return s.sse.Shutdown(ctx)
	}
	return nil
}
