// Package mcp provides an MCP (Model Context Protocol) server for poseidon.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/patrickmn/go-cache"

	"github.com/nvandessel/poseidon/internal/config"
	"github.com/nvandessel/poseidon/internal/export"
	"github.com/nvandessel/poseidon/internal/ratelimit"
	"github.com/nvandessel/poseidon/internal/store"
)

// Server wraps the MCP SDK server and exposes poseidon runs as tools.
type Server struct {
	server       *sdk.Server
	store        store.RunStore
	base         *config.PoseidonConfig
	logger       *slog.Logger
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
	exportDir    string
	retention    export.RetentionPolicy
	seriesCache  *cache.Cache
	closeOnce    sync.Once
	closeErr     error
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "poseidon")
	Version string // Server version

	// Base is the configuration every simulate call starts from.
	Base *config.PoseidonConfig

	// Store holds the runs. The server takes ownership and closes it.
	Store store.RunStore

	// AuditDir receives audit.jsonl. Empty disables auditing.
	AuditDir string

	// ExportDir is where poseidon_export writes archives. Empty disables
	// the tool.
	ExportDir string

	// Retention prunes ExportDir after each export. Nil keeps the last
	// defaultExportKeep archives.
	Retention export.RetentionPolicy

	Logger *slog.Logger
}

// NewServer creates a new MCP server with poseidon tools.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Base == nil {
		return nil, errors.New("base config is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("run store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		store:        cfg.Store,
		base:         cfg.Base,
		logger:       logger,
		toolLimiters: ratelimit.NewToolLimiters(nil),
		exportDir:    cfg.ExportDir,
		retention:    cfg.Retention,
		seriesCache:  cache.New(10*time.Minute, 20*time.Minute),
	}
	if s.retention == nil {
		s.retention = &export.CountPolicy{MaxCount: defaultExportKeep}
	}
	if cfg.AuditDir != "" {
		s.auditLogger = NewAuditLogger(cfg.AuditDir)
	}

	s.registerTools()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close closes the store and the audit log. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.store.Close(), s.auditLogger.Close())
	})
	return s.closeErr
}

// registerTools registers all poseidon MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ToolSimulate,
		Description: "Run a fishery simulation with optional overrides and store it. Returns the run summary.",
	}, s.handleSimulate)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ToolRuns,
		Description: "List stored simulation runs, most recent first",
	}, s.handleRuns)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ToolSeries,
		Description: "Read the recorded daily or yearly time series of a stored run",
	}, s.handleSeries)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ToolExport,
		Description: "Export a stored run to a checksummed gzip archive in the export directory",
	}, s.handleExport)
}

func toolError(tool string, err error) error {
	return fmt.Errorf("%s: %w", tool, err)
}
