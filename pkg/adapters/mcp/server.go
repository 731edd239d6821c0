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

	"github.com/aretw0/warden"
	"github.com/aretw0/warden/internal/logging"
	"github.com/aretw0/warden/internal/presentation/graph"
	"github.com/aretw0/warden/pkg/domain"
	"github.com/aretw0/warden/pkg/governance"
	"github.com/aretw0/warden/pkg/timeline"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
)

// Service is the part of a Warden exposed to agents.
type Service interface {
	Create(ctx context.Context, req warden.SpanRequest) (domain.Span, error)
	Span(id string) (domain.Span, error)
	Spans() []domain.Span
	Simulate(ctx context.Context, id string) (domain.Diff, error)
	Validate(ctx context.Context, id string) (governance.Validation, error)
	Execute(ctx context.Context, id string) (any, error)
	Rollback(ctx context.Context, id string) error
	Approve(ctx context.Context, approvalID, approverID, comment string) error
	Reject(ctx context.Context, approvalID, approverID, comment string) error
	Approval(ctx context.Context, id string) (domain.Approval, error)
	GenerateContract(ctx context.Context, spanID string, piiTypes []string) (domain.Contract, error)
	SignContract(ctx context.Context, id string) (domain.Contract, error)
	Health(ctx context.Context) domain.SystemHealth
	Operations() []string
	Timeline() *timeline.Store
}

// DefaultAgent is the identity tool calls act as when none is given.
const DefaultAgent = "mcp-agent"

// Server wraps a Warden and exposes it as an MCP Server.
type Server struct {
	svc       Service
	agent     domain.Actor
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithAgent sets the default identity of tool calls.
func WithAgent(actor domain.Actor) Option {
	return func(s *Server) { s.agent = actor }
}

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a new MCP Server instance.
func NewServer(svc Service, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		agent:  domain.Actor{ID: DefaultAgent, Roles: []string{"agent"}},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcpServer = server.NewMCPServer("warden-mcp", strings.TrimSpace(warden.Version),
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves on the given port using SSE until ctx ends.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// as attaches the acting identity: the call's "user" argument, or the default agent.
func (s *Server) as(ctx context.Context, user string) context.Context {
	actor := s.agent
	if user != "" {
		actor = domain.Actor{ID: user, Roles: []string{"agent"}}
	}
	return domain.WithActor(ctx, actor)
}

// Tool arguments.

type CreateArgs struct {
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args"`
	Metadata  map[string]any `json:"metadata"`
	ParentID  string         `json:"parent_id"`
	User      string         `json:"user"`
}

type SpanArgs struct {
	SpanID string `json:"span_id"`
	User   string `json:"user"`
}

type DecisionArgs struct {
	ApprovalID string `json:"approval_id"`
	ApproverID string `json:"approver_id"`
	Comment    string `json:"comment"`
}

type ContractArgs struct {
	SpanID     string   `json:"span_id"`
	ContractID string   `json:"contract_id"`
	PIITypes   []string `json:"pii_types"`
	User       string   `json:"user"`
}

type EventArgs struct {
	Type     string `json:"type"`
	SpanID   string `json:"span_id"`
	Severity string `json:"severity"`
	Limit    int    `json:"limit"`
}

// Tool results.

type ExecuteResult struct {
	Span   domain.Span `json:"span" jsonschema_description:"The span after execution"`
	Result any         `json:"result,omitempty" jsonschema_description:"What the forward procedure returned"`
}

type EventsResult struct {
	Events []domain.Event `json:"events" jsonschema_description:"Matching events, newest first"`
}

func spanIDOption() mcp.ToolOption {
	return mcp.WithString("span_id", mcp.Required(), mcp.Description("The span to act on"))
}

func userOption() mcp.ToolOption {
	return mcp.WithString("user", mcp.Description("Acting identity (defaults to the agent)"))
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_operations",
		mcp.WithDescription("List the operations spans can be created from."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, _ := json.Marshal(s.svc.Operations())
		return mcp.NewToolResultText(string(b)), nil
	})

	s.mcpServer.AddTool(mcp.NewTool("create_span",
		mcp.WithDescription("Create a pending span from a catalog operation."),
		mcp.WithString("operation", mcp.Required(), mcp.Description("Operation name, see list_operations")),
		mcp.WithObject("args", mcp.Description("Operation arguments")),
		mcp.WithObject("metadata", mcp.Description("Free-form metadata; 'domain', 'url' and 'target' inform governance")),
		mcp.WithString("parent_id", mcp.Description("Parent span id")),
		userOption(),
		mcp.WithOutputSchema[domain.Span](),
	), mcp.NewStructuredToolHandler(s.handleCreate))

	s.mcpServer.AddTool(mcp.NewTool("simulate_span",
		mcp.WithDescription("Predict the effect of a pending span."),
		spanIDOption(), userOption(),
		mcp.WithOutputSchema[domain.Diff](),
	), mcp.NewStructuredToolHandler(s.handleSimulate))

	s.mcpServer.AddTool(mcp.NewTool("validate_span",
		mcp.WithDescription("Evaluate a span against governance. Opens an approval when one is required."),
		spanIDOption(), userOption(),
		mcp.WithOutputSchema[governance.Validation](),
	), mcp.NewStructuredToolHandler(s.handleValidate))

	s.mcpServer.AddTool(mcp.NewTool("execute_span",
		mcp.WithDescription("Execute a validated span. Fails unless governance allows it."),
		spanIDOption(), userOption(),
		mcp.WithOutputSchema[ExecuteResult](),
	), mcp.NewStructuredToolHandler(s.handleExecute))

	s.mcpServer.AddTool(mcp.NewTool("rollback_span",
		mcp.WithDescription("Undo a completed, reversible span."),
		spanIDOption(), userOption(),
		mcp.WithOutputSchema[domain.Span](),
	), mcp.NewStructuredToolHandler(s.handleRollback))

	for _, d := range []domain.Decision{domain.DecisionApproved, domain.DecisionRejected} {
		name, desc := "approve", "Approve a pending approval as one of its approvers."
		if d == domain.DecisionRejected {
			name, desc = "reject", "Reject a pending approval. One rejection vetoes it."
		}
		s.mcpServer.AddTool(mcp.NewTool(name,
			mcp.WithDescription(desc),
			mcp.WithString("approval_id", mcp.Required(), mcp.Description("The approval")),
			mcp.WithString("approver_id", mcp.Required(), mcp.Description("The deciding approver")),
			mcp.WithString("comment", mcp.Description("Optional comment")),
			mcp.WithOutputSchema[domain.Approval](),
		), mcp.NewStructuredToolHandler(s.decide(d)))
	}

	s.mcpServer.AddTool(mcp.NewTool("generate_contract",
		mcp.WithDescription("Draft a data handling contract for a span that touches personal data."),
		spanIDOption(), userOption(),
		mcp.WithArray("pii_types", mcp.Description("Categories to cover; detected from the span when omitted"), mcp.WithStringItems()),
		mcp.WithOutputSchema[domain.Contract](),
	), mcp.NewStructuredToolHandler(s.handleGenerateContract))

	s.mcpServer.AddTool(mcp.NewTool("sign_contract",
		mcp.WithDescription("Sign a data handling contract."),
		mcp.WithString("contract_id", mcp.Required(), mcp.Description("The contract")),
		userOption(),
		mcp.WithOutputSchema[domain.Contract](),
	), mcp.NewStructuredToolHandler(s.handleSignContract))

	s.mcpServer.AddTool(mcp.NewTool("query_events",
		mcp.WithDescription("Query the timeline, newest first."),
		mcp.WithString("type", mcp.Description("Event type, e.g. span_completed")),
		mcp.WithString("span_id", mcp.Description("Only events of this span")),
		mcp.WithString("severity", mcp.Description("info, warning, error or critical")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of events")),
		mcp.WithOutputSchema[EventsResult](),
	), mcp.NewStructuredToolHandler(s.handleQueryEvents))

	s.mcpServer.AddTool(mcp.NewTool("system_health",
		mcp.WithDescription("Run the health battery."),
		mcp.WithOutputSchema[domain.SystemHealth](),
	), mcp.NewStructuredToolHandler(func(ctx context.Context, _ mcp.CallToolRequest, _ struct{}) (domain.SystemHealth, error) {
		return s.svc.Health(ctx), nil
	}))
}

func (s *Server) handleCreate(ctx context.Context, _ mcp.CallToolRequest, args CreateArgs) (domain.Span, error) {
	span, err := s.svc.Create(s.as(ctx, args.User), warden.SpanRequest{
		Operation: args.Operation,
		Args:      args.Args,
		Metadata:  args.Metadata,
		ParentID:  args.ParentID,
	})
	if err != nil {
		return domain.Span{}, fmt.Errorf("create failed: %w", err)
	}
	return span, nil
}

func (s *Server) handleSimulate(ctx context.Context, _ mcp.CallToolRequest, args SpanArgs) (domain.Diff, error) {
	diff, err := s.svc.Simulate(s.as(ctx, args.User), args.SpanID)
	if err != nil {
		return domain.Diff{}, fmt.Errorf("simulate failed: %w", err)
	}
	return diff, nil
}

func (s *Server) handleValidate(ctx context.Context, _ mcp.CallToolRequest, args SpanArgs) (governance.Validation, error) {
	v, err := s.svc.Validate(s.as(ctx, args.User), args.SpanID)
	if err != nil {
		return governance.Validation{}, fmt.Errorf("validate failed: %w", err)
	}
	return v, nil
}

func (s *Server) handleExecute(ctx context.Context, _ mcp.CallToolRequest, args SpanArgs) (ExecuteResult, error) {
	result, err := s.svc.Execute(s.as(ctx, args.User), args.SpanID)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("execute failed: %w", err)
	}
	span, err := s.svc.Span(args.SpanID)
	if err != nil {
		return ExecuteResult{}, err
	}
	return ExecuteResult{Span: span, Result: result}, nil
}

func (s *Server) handleRollback(ctx context.Context, _ mcp.CallToolRequest, args SpanArgs) (domain.Span, error) {
	if err := s.svc.Rollback(s.as(ctx, args.User), args.SpanID); err != nil {
		return domain.Span{}, fmt.Errorf("rollback failed: %w", err)
	}
	return s.svc.Span(args.SpanID)
}

func (s *Server) decide(d domain.Decision) mcp.StructuredToolHandlerFunc[DecisionArgs, domain.Approval] {
	return func(ctx context.Context, _ mcp.CallToolRequest, args DecisionArgs) (domain.Approval, error) {
		ctx = s.as(ctx, args.ApproverID)
		var err error
		if d == domain.DecisionRejected {
			err = s.svc.Reject(ctx, args.ApprovalID, args.ApproverID, args.Comment)
		} else {
			err = s.svc.Approve(ctx, args.ApprovalID, args.ApproverID, args.Comment)
		}
		if err != nil {
			return domain.Approval{}, fmt.Errorf("decision failed: %w", err)
		}
		return s.svc.Approval(ctx, args.ApprovalID)
	}
}

func (s *Server) handleGenerateContract(ctx context.Context, _ mcp.CallToolRequest, args ContractArgs) (domain.Contract, error) {
	c, err := s.svc.GenerateContract(s.as(ctx, args.User), args.SpanID, args.PIITypes)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("contract failed: %w", err)
	}
	return c, nil
}

func (s *Server) handleSignContract(ctx context.Context, _ mcp.CallToolRequest, args ContractArgs) (domain.Contract, error) {
	c, err := s.svc.SignContract(s.as(ctx, args.User), args.ContractID)
	if err != nil {
		return domain.Contract{}, fmt.Errorf("sign failed: %w", err)
	}
	return c, nil
}

func (s *Server) handleQueryEvents(_ context.Context, _ mcp.CallToolRequest, args EventArgs) (EventsResult, error) {
	f := timeline.EventFilter{SpanID: args.SpanID, Limit: args.Limit}
	if args.Type != "" {
		f.Types = []domain.EventType{domain.EventType(args.Type)}
	}
	if args.Severity != "" {
		f.Severities = []domain.Severity{domain.Severity(args.Severity)}
	}
	return EventsResult{Events: s.svc.Timeline().QueryEvents(f)}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("warden://health", "System Health",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(s.svc.Health(ctx))
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: "warden://health", MIMEType: "application/json", Text: string(b)},
		}, nil
	})

	s.mcpServer.AddResource(mcp.NewResource("warden://dashboard", "Timeline Dashboard",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(s.svc.Timeline().Dashboard(ctx))
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: "warden://dashboard", MIMEType: "application/json", Text: string(b)},
		}, nil
	})

	s.mcpServer.AddResource(mcp.NewResource("warden://graph", "Span Graph",
		mcp.WithResourceDescription("Mermaid flowchart of every span, nested by parent"),
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: "warden://graph", MIMEType: "text/plain", Text: graph.SpanMermaid(s.svc.Spans(), nil)},
		}, nil
	})
}
