// Package mcp implements a read-only MCP (Model Context Protocol) server over
// the volume registry. Tools report volume metadata only; verification
// hashes and ivs never leave the process.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/volumectl/pkg/registry"
)

// Tool names
const (
	ToolVolumeList       = "volume_list"
	ToolVolumeExists     = "volume_exists"
	ToolVolumeHashStatus = "volume_hash_status"
)

// Server represents the MCP server for volumectl.
type Server struct {
	server   *mcp.Server
	registry *registry.Registry
	policy   *Policy
	log      *slog.Logger
	tools    []string
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// Registry is served by the MCP server. The server takes ownership and
	// closes it in Close.
	Registry *registry.Registry

	// Home is the directory holding the policy file.
	Home string

	// Version is reported to MCP clients.
	Version string

	Logger *slog.Logger
}

// NewServer creates a new MCP server instance.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil || opts.Registry == nil {
		return nil, errors.New("mcp: registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	policy, err := LoadPolicy(opts.Home)
	switch {
	case errors.Is(err, ErrPolicyNotFound):
		policy = DefaultPolicy()
	case err != nil:
		// A policy that exists but cannot be trusted is fatal
		return nil, fmt.Errorf("mcp: %w", err)
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		server:   mcp.NewServer(&mcp.Implementation{Name: "volumectl", Version: version}, nil),
		registry: opts.Registry,
		policy:   policy,
		log:      logger.With("component", "mcp"),
	}
	s.registerTools()

	return s, nil
}

// registerTools registers the tools the policy allows.
func (s *Server) registerTools() {
	if s.policy.IsToolAllowed(ToolVolumeList) {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        ToolVolumeList,
			Description: "List registered encrypted volumes with their name, placement, format and whether a verification hash is stored. Does NOT return hashes or ivs.",
		}, s.handleVolumeList)
		s.tools = append(s.tools, ToolVolumeList)
	}

	if s.policy.IsToolAllowed(ToolVolumeExists) {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        ToolVolumeExists,
			Description: "Check whether a volume with the given name and placement is registered and return its metadata.",
		}, s.handleVolumeExists)
		s.tools = append(s.tools, ToolVolumeExists)
	}

	if s.policy.IsToolAllowed(ToolVolumeHashStatus) {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        ToolVolumeHashStatus,
			Description: "Report whether a volume has a stored verification hash, allowing its passphrase to be checked without mounting.",
		}, s.handleVolumeHashStatus)
		s.tools = append(s.tools, ToolVolumeHashStatus)
	}

	s.log.Debug("registered MCP tools", "tools", s.tools)
}

// Tools returns the names of the registered tools.
func (s *Server) Tools() []string {
	return s.tools
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	defer s.registry.Close()

	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close closes the server and its registry.
func (s *Server) Close() error {
	return s.registry.Close()
}
