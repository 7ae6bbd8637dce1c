// Package mcp exposes the decision engine over the Model Context
// Protocol on stdio. Host runtimes record values, manage tokens, and
// evaluate calls through typed tools; blocked calls come back with the
// decision, reason, and witness rather than a bare error.
package mcp

import (
	"context"
	"fmt"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/google/uuid"

	"github.com/zamburak/zamburak/internal/audit"
	"github.com/zamburak/zamburak/internal/authority"
	"github.com/zamburak/zamburak/internal/engine"
	"github.com/zamburak/zamburak/internal/graph"
	"github.com/zamburak/zamburak/internal/policy"
	"github.com/zamburak/zamburak/internal/sink"
)

// Config holds MCP server configuration.
type Config struct {
	PolicyPath   string
	AuditLogPath string
	// ExecutionID labels this execution in audit records; generated
	// when empty.
	ExecutionID string
}

// Server wraps the MCP SDK server around one execution context: a
// policy, a value graph, an authority store, and the dispatch guard.
type Server struct {
	mcpServer *mcpsdk.Server

	mu          sync.Mutex
	def         *policy.PolicyDefinition
	graph       *graph.Graph
	store       *authority.Store
	guard       *sink.Guard
	engine      *engine.Engine
	auditLog    *audit.Log
	policyPath  string
	policyHash  string
	executionID string
	callSeq     int
}

// New creates an MCP server with a loaded policy and a fresh execution
// context.
func New(cfg Config) (*Server, error) {
	def, _, err := policy.LoadFile(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("mcp: load policy: %w", err)
	}
	hash, err := policy.HashFile(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("mcp: hash policy: %w", err)
	}

	var auditLog *audit.Log
	if cfg.AuditLogPath != "" {
		auditLog, err = audit.Open(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("mcp: open audit log: %w", err)
		}
	}

	executionID := cfg.ExecutionID
	if executionID == "" {
		executionID = "exec-" + uuid.NewString()
	}

	s := &Server{
		def:         def,
		graph:       graph.New(graph.Budgets{MaxValues: def.Budgets.MaxValues, MaxParentsPerValue: def.Budgets.MaxParentsPerValue}),
		store:       authority.NewStore(nil),
		auditLog:    auditLog,
		policyPath:  cfg.PolicyPath,
		policyHash:  hash,
		executionID: executionID,
	}
	s.rebuildLocked()

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "zamburak",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// rebuildLocked rewires the engine and guard after the policy changes.
// Callers hold s.mu (or the server is not yet shared).
func (s *Server) rebuildLocked() {
	s.engine = engine.New(s.def, s.graph, s.store)
	s.guard = sink.NewGuard(s.engine, s.def, s.auditLog, s.policyHash)
}

// ReloadPolicy re-reads the policy file and swaps it in. The value graph
// and token table survive a reload; only the rules change. A policy that
// fails validation leaves the previous one in force.
func (s *Server) ReloadPolicy() error {
	def, _, err := policy.LoadFile(s.policyPath)
	if err != nil {
		return fmt.Errorf("mcp: reload policy: %w", err)
	}
	hash, err := policy.HashFile(s.policyPath)
	if err != nil {
		return fmt.Errorf("mcp: hash policy: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.def = def
	s.policyHash = hash
	s.rebuildLocked()
	return nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close closes the audit log if configured.
func (s *Server) Close() error {
	if s.auditLog != nil {
		return s.auditLog.Close()
	}
	return nil
}

func (s *Server) nextCallID() string {
	s.callSeq++
	return fmt.Sprintf("call-%04d", s.callSeq)
}

// registerTools adds the decision-engine tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "zamburak_evaluate",
		Description: "Evaluate a tool-call request against the loaded policy. Non-Allow decisions include the reason and a redacted provenance witness.",
	}, s.handleEvaluate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "zamburak_record_value",
		Description: "Record a runtime value with its labels and parent dependencies. Returns the value ID for use in evaluate requests.",
	}, s.handleRecordValue)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "zamburak_mint_token",
		Description: "Mint a root authority token with a subject, scope, and optional validity window.",
	}, s.handleMintToken)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "zamburak_delegate_token",
		Description: "Delegate a narrowed child token from an existing token. Scope must be a strict subset; lifetime must be contained.",
	}, s.handleDelegateToken)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "zamburak_revoke_token",
		Description: "Revoke a token. Every token transitively delegated from it loses validity as well.",
	}, s.handleRevokeToken)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "zamburak_list_tokens",
		Description: "List all tokens with their current validity status.",
	}, s.handleListTokens)
}
