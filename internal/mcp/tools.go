package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/volumectl/pkg/volume"
)

// ErrHiddenNotExposed is returned when a tool asks for a hidden volume and
// the policy does not expose them.
var ErrHiddenNotExposed = errors.New("hidden volumes are not exposed by the MCP policy")

// VolumeListInput represents input for volume_list tool.
type VolumeListInput struct {
	// Type filters by format name: gocryptfs or cryfs.
	Type string `json:"type,omitempty"`
}

// VolumeListOutput represents output for volume_list tool.
type VolumeListOutput struct {
	Volumes []VolumeInfo `json:"volumes"`
}

// VolumeInfo represents metadata for a volume (no hash or iv).
type VolumeInfo struct {
	UUID                string `json:"uuid"`
	Name                string `json:"name"`
	Hidden              bool   `json:"hidden"`
	Type                string `json:"type"`
	Path                string `json:"path"`
	HasVerificationHash bool   `json:"has_verification_hash"`
}

// VolumeRefInput identifies a volume by name and placement.
type VolumeRefInput struct {
	Name   string `json:"name"`
	Hidden bool   `json:"hidden,omitempty"`
}

// VolumeExistsOutput represents output for volume_exists tool.
type VolumeExistsOutput struct {
	Exists bool        `json:"exists"`
	Volume *VolumeInfo `json:"volume,omitempty"`
}

// VolumeHashStatusOutput represents output for volume_hash_status tool.
type VolumeHashStatusOutput struct {
	Exists              bool `json:"exists"`
	HasVerificationHash bool `json:"has_verification_hash"`
}

// handleVolumeList handles the volume_list tool call.
func (s *Server) handleVolumeList(_ context.Context, _ *mcp.CallToolRequest, input VolumeListInput) (*mcp.CallToolResult, VolumeListOutput, error) {
	filter := volume.TypeUnknown
	if input.Type != "" {
		t, ok := volume.ParseType(input.Type)
		if !ok {
			return nil, VolumeListOutput{}, fmt.Errorf("unknown volume type %q", input.Type)
		}
		filter = t
	}

	records, err := s.registry.List()
	if err != nil {
		return nil, VolumeListOutput{}, fmt.Errorf("failed to list volumes: %w", err)
	}

	output := VolumeListOutput{Volumes: make([]VolumeInfo, 0, len(records))}
	for i := range records {
		rec := &records[i]
		if rec.Hidden && !s.policy.ExposeHidden {
			continue
		}
		if filter != volume.TypeUnknown && rec.Type != filter {
			continue
		}
		output.Volumes = append(output.Volumes, s.volumeInfo(rec))
	}

	return nil, output, nil
}

// handleVolumeExists handles the volume_exists tool call.
func (s *Server) handleVolumeExists(_ context.Context, _ *mcp.CallToolRequest, input VolumeRefInput) (*mcp.CallToolResult, VolumeExistsOutput, error) {
	rec, err := s.lookup(input)
	if err != nil {
		return nil, VolumeExistsOutput{}, err
	}
	if rec == nil {
		return nil, VolumeExistsOutput{Exists: false}, nil
	}

	info := s.volumeInfo(rec)
	return nil, VolumeExistsOutput{Exists: true, Volume: &info}, nil
}

// handleVolumeHashStatus handles the volume_hash_status tool call.
func (s *Server) handleVolumeHashStatus(_ context.Context, _ *mcp.CallToolRequest, input VolumeRefInput) (*mcp.CallToolResult, VolumeHashStatusOutput, error) {
	rec, err := s.lookup(input)
	if err != nil {
		return nil, VolumeHashStatusOutput{}, err
	}
	if rec == nil {
		return nil, VolumeHashStatusOutput{Exists: false}, nil
	}

	has, err := s.registry.HasVerificationHash(rec)
	if err != nil {
		return nil, VolumeHashStatusOutput{}, fmt.Errorf("failed to read verification hash: %w", err)
	}
	return nil, VolumeHashStatusOutput{Exists: true, HasVerificationHash: has}, nil
}

func (s *Server) lookup(input VolumeRefInput) (*volume.Record, error) {
	name := volume.NormalizeName(input.Name)
	if name == "" {
		return nil, errors.New("name is required")
	}
	if input.Hidden && !s.policy.ExposeHidden {
		return nil, ErrHiddenNotExposed
	}

	rec, err := s.registry.Get(name, input.Hidden)
	if err != nil {
		return nil, fmt.Errorf("failed to get volume: %w", err)
	}
	return rec, nil
}

func (s *Server) volumeInfo(rec *volume.Record) VolumeInfo {
	return VolumeInfo{
		UUID:                rec.UUID,
		Name:                rec.Name,
		Hidden:              rec.Hidden,
		Type:                rec.Type.String(),
		Path:                rec.Path(s.registry.Root()),
		HasVerificationHash: rec.HasVerificationHash(),
	}
}
