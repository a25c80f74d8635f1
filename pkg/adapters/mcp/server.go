// Package mcp exposes the session state machine as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/concierge"
	"github.com/aretw0/concierge/internal/logging"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/runner"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// AgentsURI is the resource listing the agent graph.
const AgentsURI = "concierge://agents"

// MessageResponse is the structured output of handle_message.
type MessageResponse struct {
	Response string            `json:"response" jsonschema_description:"Customer-facing reply with detailed steps"`
	Agent    string            `json:"agent" jsonschema_description:"Agent active after the message"`
	Items    domain.Transcript `json:"items" jsonschema_description:"Transcript items produced by the message"`
}

// Machine is the part of session.Machine the server needs.
type Machine interface {
	Run(ctx context.Context, key, text string) (*domain.RunResult, error)
	Inspect(ctx context.Context, key string) (*domain.SessionState, error)
	List(ctx context.Context) ([]string, error)
	Reset(ctx context.Context, key string) error
}

// Server wraps a Machine and exposes it as an MCP Server.
type Server struct {
	machine   Machine
	agents    []domain.Agent
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance. agents is published as a resource.
func NewServer(machine Machine, agents []domain.Agent, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		machine:   machine,
		agents:    agents,
		logger:    logger,
		mcpServer: server.NewMCPServer("concierge-mcp", concierge.Version),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on port until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(fmt.Sprintf("http://localhost:%d", port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))
	httpServer := &http.Server{Addr: addr, Handler: mux}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
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

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("handle_message",
		mcp.WithDescription("Send one customer message to a session and get the agents' reply."),
		mcp.WithString("session_key", mcp.Required(), mcp.Description("Conversation key, e.g. a customer id")),
		mcp.WithString("text", mcp.Required(), mcp.Description("The customer's message")),
		mcp.WithOutputSchema[MessageResponse](),
	), mcp.NewStructuredToolHandler(s.handleMessage))

	s.mcpServer.AddTool(mcp.NewTool("get_session",
		mcp.WithDescription("Get the committed state of a session: active agent, seq and transcript."),
		mcp.WithString("session_key", mcp.Required(), mcp.Description("Conversation key")),
	), s.handleGetSession)

	s.mcpServer.AddTool(mcp.NewTool("list_sessions",
		mcp.WithDescription("List the keys of all stored sessions."),
	), s.handleListSessions)

	s.mcpServer.AddTool(mcp.NewTool("reset_session",
		mcp.WithDescription("Forget a session and any unfinished invocation."),
		mcp.WithString("session_key", mcp.Required(), mcp.Description("Conversation key")),
	), s.handleReset)
}

func (s *Server) handleMessage(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (MessageResponse, error) {
	key, _ := args["session_key"].(string)
	text, _ := args["text"].(string)

	res, err := s.machine.Run(ctx, key, text)
	if err != nil {
		s.logger.Warn("MCP handle_message failed", "session_key", key, "error", err)
		return MessageResponse{}, err
	}
	return MessageResponse{
		Response: runner.FormatResponse(res),
		Agent:    res.LastAgent,
		Items:    res.NewItems,
	}, nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("session_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state, err := s.machine.Inspect(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("session %q not found", key)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys, err := s.machine.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	data, _ := json.Marshal(keys)
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := request.RequireString("session_key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.machine.Reset(ctx, key); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText("reset " + key), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(AgentsURI, "Agent Graph",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.agents)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      AgentsURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
