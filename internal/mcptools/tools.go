// Package mcptools registers the tool surface (spec §6.1) against an
// mcp.Server, the same mcp.AddTool pattern tools/credentials-mcp/main.go
// uses for its credentials.* tool family, generalized to run_code and the
// three permission-management tools.
package mcptools

import (
	"context"
	"errors"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"sandboxed-exec-mcp/internal/execution"
	"sandboxed-exec-mcp/internal/permission"
)

// Server holds the dependencies the tool methods need: the execution
// backend and the permission store, plus a logger for the occasional
// diagnostic line (same shape as credentials-mcp's Server.logger).
type Server struct {
	backend execution.Backend
	store   *permission.Store
	logger  *log.Logger
}

// New constructs a Server.
func New(backend execution.Backend, store *permission.Store, logger *log.Logger) *Server {
	return &Server{backend: backend, store: store, logger: logger}
}

// Register adds all four tools to server, mirroring credentials-mcp's
// sequence of mcp.AddTool calls in main().
func (s *Server) Register(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_code",
		Description: "Run a snippet of TypeScript/JavaScript code in the sandbox and return its result.",
	}, s.runCode)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "grant_permission",
		Description: "Grant a capability (http, file, or env) to the sandbox's permission store.",
	}, s.grantPermission)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_permissions",
		Description: "List every capability currently granted to the sandbox.",
	}, s.listPermissions)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "revoke_permission",
		Description: "Revoke a previously granted capability.",
	}, s.revokePermission)
}

// RunCodeInput is the run_code tool's input (spec §6.1).
type RunCodeInput struct {
	Code      string `json:"code"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// RunCodeOutput is the tagged execution.Result, serialized directly.
type RunCodeOutput = execution.Result

func (s *Server) runCode(ctx context.Context, _ *mcp.CallToolRequest, in RunCodeInput) (*mcp.CallToolResult, RunCodeOutput, error) {
	if in.Code == "" {
		return nil, RunCodeOutput{}, errors.New("code is required")
	}
	result, err := s.backend.Run(ctx, execution.Request{Code: in.Code, TimeoutMS: in.TimeoutMS})
	if err != nil {
		return nil, RunCodeOutput{}, err
	}
	return nil, result, nil
}

// GrantPermissionInput wraps the capability to grant.
type GrantPermissionInput struct {
	Permission permission.Capability `json:"permission"`
}

// GrantPermissionOutput mirrors the proxy's /grant response shape.
type GrantPermissionOutput struct {
	Granted          bool   `json:"granted"`
	Permission       string `json:"permission"`
	TotalPermissions int    `json:"totalPermissions"`
}

func (s *Server) grantPermission(ctx context.Context, _ *mcp.CallToolRequest, in GrantPermissionInput) (*mcp.CallToolResult, GrantPermissionOutput, error) {
	if err := s.store.Grant(in.Permission); err != nil {
		return nil, GrantPermissionOutput{}, err
	}
	return nil, GrantPermissionOutput{
		Granted:          true,
		Permission:       in.Permission.Serialize(),
		TotalPermissions: len(s.store.List()),
	}, nil
}

// ListPermissionsInput takes no fields.
type ListPermissionsInput struct{}

// ListPermissionsOutput is the full granted set, plus the human-readable
// serialization callers rely on for display (spec §6.1).
type ListPermissionsOutput struct {
	Permissions []PermissionView `json:"permissions"`
	Total       int              `json:"total"`
}

// PermissionView pairs a capability with its human-readable line.
type PermissionView struct {
	permission.Capability
	Serialized string `json:"serialized"`
}

func (s *Server) listPermissions(ctx context.Context, _ *mcp.CallToolRequest, _ ListPermissionsInput) (*mcp.CallToolResult, ListPermissionsOutput, error) {
	granted := s.store.List()
	views := make([]PermissionView, 0, len(granted))
	for _, cap := range granted {
		views = append(views, PermissionView{Capability: cap, Serialized: cap.Serialize()})
	}
	return nil, ListPermissionsOutput{Permissions: views, Total: len(views)}, nil
}

// RevokePermissionInput wraps the capability to revoke.
type RevokePermissionInput struct {
	Permission permission.Capability `json:"permission"`
}

// RevokePermissionOutput mirrors the proxy's /revoke response shape.
type RevokePermissionOutput struct {
	Revoked          bool   `json:"revoked"`
	Permission       string `json:"permission"`
	TotalPermissions int    `json:"totalPermissions"`
}

func (s *Server) revokePermission(ctx context.Context, _ *mcp.CallToolRequest, in RevokePermissionInput) (*mcp.CallToolResult, RevokePermissionOutput, error) {
	revoked := s.store.Revoke(in.Permission)
	return nil, RevokePermissionOutput{
		Revoked:          revoked,
		Permission:       in.Permission.Serialize(),
		TotalPermissions: len(s.store.List()),
	}, nil
}
