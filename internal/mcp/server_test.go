package mcp

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/poseidon/internal/config"
	"github.com/nvandessel/poseidon/internal/constants"
	"github.com/nvandessel/poseidon/internal/store"
)

func testBaseConfig() *config.PoseidonConfig {
	cfg := config.Default()
	cfg.Seed = 5
	cfg.Years = 1
	cfg.Scenario.Fishers = 6
	cfg.Scenario.Patches = 5
	cfg.Store.Backend = string(constants.BackendMemory)
	return cfg
}

// setupTestServer creates a server over an in-memory store with auditing
// into a temp directory.
func setupTestServer(t *testing.T) (*Server, *store.MemoryStore, string) {
	t.Helper()
	rs := store.NewMemoryStore()
	auditDir := t.TempDir()
	s, err := NewServer(&Config{
		Name:      "test-server",
		Version:   "v1.0.0",
		Base:      testBaseConfig(),
		Store:     rs,
		AuditDir:  auditDir,
		ExportDir: filepath.Join(t.TempDir(), "exports"),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, rs, auditDir
}

func TestNewServer(t *testing.T) {
	s, _, _ := setupTestServer(t)
	if s.server == nil {
		t.Error("Server.server is nil")
	}
	if s.store == nil {
		t.Error("Server.store is nil")
	}
	if s.auditLogger == nil {
		t.Error("Server.auditLogger is nil")
	}
	if s.retention == nil {
		t.Error("Server.retention is nil")
	}
	for _, tool := range []string{ToolSimulate, ToolRuns, ToolSeries, ToolExport} {
		if _, ok := s.toolLimiters[tool]; !ok {
			t.Errorf("missing rate limiter for %s", tool)
		}
	}
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	if _, err := NewServer(&Config{Store: store.NewMemoryStore()}); err == nil {
		t.Error("NewServer() without base config error = nil, want error")
	}
	if _, err := NewServer(&Config{Base: testBaseConfig()}); err == nil {
		t.Error("NewServer() without store error = nil, want error")
	}
}

func TestClose(t *testing.T) {
	s, err := NewServer(&Config{Name: "t", Version: "v", Base: testBaseConfig(), Store: store.NewMemoryStore()})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	// Multiple closes should be safe
	if err := s.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
}

func TestServer_OverTransport(t *testing.T) {
	s, _, _ := setupTestServer(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	clientTransport, serverTransport := sdk.NewInMemoryTransports()
	ss, err := s.server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server Connect: %v", err)
	}
	defer ss.Close()

	client := sdk.NewClient(&sdk.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client Connect: %v", err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	slices.Sort(names)
	want := []string{ToolExport, ToolRuns, ToolSeries, ToolSimulate}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}

	res, err := cs.CallTool(ctx, &sdk.CallToolParams{Name: ToolRuns, Arguments: map[string]any{}})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", ToolRuns, err)
	}
	if res.IsError {
		t.Errorf("CallTool(%s) returned a tool error: %+v", ToolRuns, res.Content)
	}
}
