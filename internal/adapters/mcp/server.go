// Package mcp exposes the controller as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/forkline"
	"github.com/aretw0/forkline/internal/logging"
	"github.com/aretw0/forkline/internal/rotation"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/aretw0/forkline/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mitchellh/mapstructure"
)

// StateURI is the resource holding the persisted fork chain.
const StateURI = "forkline://state"

// Rotator runs one rotation check against the persisted state.
type Rotator interface {
	Run(ctx context.Context) (rotation.Result, error)
}

// QuotaFunc probes every identity of the pool.
type QuotaFunc func(ctx context.Context) []domain.QuotaReport

// StatusResponse is the output of get_status.
type StatusResponse struct {
	Nodes        []domain.ForkNode `json:"fork_chain" jsonschema_description:"Every fork chain node, oldest first"`
	Active       *domain.ForkNode  `json:"active,omitempty" jsonschema_description:"The Active node, absent when rotation has stalled"`
	ActiveIndex  int               `json:"current_active_index" jsonschema_description:"Pool index of the current identity"`
	Identities   int               `json:"total_accounts" jsonschema_description:"Identity pool size"`
	LastRotation *time.Time        `json:"last_rotation,omitempty" jsonschema_description:"Time of the last rotation"`
}

// QuotaResponse is the output of check_quota.
type QuotaResponse struct {
	Reports []domain.QuotaReport `json:"reports" jsonschema_description:"One report per probed identity"`
}

type quotaArgs struct {
	Identity      string `mapstructure:"identity"`
	ExhaustedOnly bool   `mapstructure:"exhausted_only"`
}

// Server exposes the controller over MCP.
type Server struct {
	store     ports.StateStore
	rotator   Rotator
	quota     QuotaFunc
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(store ports.StateStore, rotator Rotator, quota QuotaFunc, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		store:     store,
		rotator:   rotator,
		quota:     quota,
		logger:    logger,
		mcpServer: server.NewMCPServer("forkline-mcp", strings.TrimSpace(forkline.Version)),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Show the persisted fork chain and the currently active fork."),
		mcp.WithOutputSchema[StatusResponse](),
	), mcp.NewStructuredToolHandler(s.handleGetStatus))

	if s.rotator != nil {
		s.mcpServer.AddTool(mcp.NewTool("check_rotation",
			mcp.WithDescription("Check the active identity's quota and rotate to the next identity when it is exhausted. Never creates forks."),
			mcp.WithOutputSchema[rotation.Result](),
		), mcp.NewStructuredToolHandler(s.handleCheckRotation))
	}

	if s.quota != nil {
		s.mcpServer.AddTool(mcp.NewTool("check_quota",
			mcp.WithDescription("Probe the metered usage of every identity in the pool."),
			mcp.WithString("identity", mcp.Description("Only report this identity (login or token prefix)")),
			mcp.WithBoolean("exhausted_only", mcp.Description("Only report exhausted identities")),
			mcp.WithOutputSchema[QuotaResponse](),
		), mcp.NewStructuredToolHandler(s.handleCheckQuota))
	}
}

func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (StatusResponse, error) {
	state, err := s.store.Load(ctx)
	if err != nil {
		return StatusResponse{}, fmt.Errorf("failed to load state: %w", err)
	}
	resp := StatusResponse{
		Nodes:        state.Nodes,
		ActiveIndex:  state.ActiveIndex,
		Identities:   state.TotalIdentities,
		LastRotation: state.LastRotation,
	}
	if idx := state.Active(); idx >= 0 {
		node := state.Nodes[idx]
		resp.Active = &node
	}
	return resp, nil
}

func (s *Server) handleCheckRotation(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (rotation.Result, error) {
	result, err := s.rotator.Run(ctx)
	if err != nil {
		s.logger.Error("MCP check_rotation failed", "err", err)
		return rotation.Result{}, fmt.Errorf("rotation check failed: %w", err)
	}
	return result, nil
}

func (s *Server) handleCheckQuota(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (QuotaResponse, error) {
	var in quotaArgs
	if err := decodeArgs(args, &in); err != nil {
		return QuotaResponse{}, err
	}

	resp := QuotaResponse{Reports: []domain.QuotaReport{}}
	for _, report := range s.quota(ctx) {
		if in.Identity != "" && report.Identity != in.Identity {
			continue
		}
		if in.ExhaustedOnly && !report.IsExhausted {
			continue
		}
		resp.Reports = append(resp.Reports, report)
	}
	return resp, nil
}

func decodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(StateURI, "Fork Chain State",
		mcp.WithMIMEType("application/json"),
	), s.readState)
}

func (s *Server) readState(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	state, err := s.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      StateURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
