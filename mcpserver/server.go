package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/SamuelRCrider/csp-classify/core"
	"github.com/SamuelRCrider/csp-classify/logging"
)

const (
	ToolClassifyEntity = "classify_entity"
	ToolListRules      = "list_rules"

	defaultClientKey = "stdio"
)

// Classifier is the engine surface exposed over MCP
type Classifier interface {
	Classify(ctx context.Context, entity *core.Entity, app core.Applicability) (core.EvaluationOutcome, error)
	Rules() []core.Rule
}

// Config configures the MCP server
type Config struct {
	Name    string
	Version string

	// Requests allowed per client per minute; 0 disables limiting
	RateLimitPerMinute int

	Logger *slog.Logger
}

// Server exposes classification as MCP tools
type Server struct {
	classifier Classifier
	limiter    *RateLimiter
	logger     *slog.Logger
	mcp        *server.MCPServer
}

// New creates the server and registers its tools
func New(classifier Classifier, config Config) *Server {
	if config.Name == "" {
		config.Name = "csp-classify"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		classifier: classifier,
		limiter:    NewRateLimiter(config.RateLimitPerMinute, time.Minute),
		logger:     config.Logger,
		mcp: server.NewMCPServer(config.Name, config.Version,
			server.WithToolCapabilities(false),
		),
	}

	s.mcp.AddTool(mcp.NewTool(ToolClassifyEntity,
		mcp.WithDescription("Classify a data asset (scan result, catalog item or data source) against the loaded rules"),
		mcp.WithString("entity",
			mcp.Required(),
			mcp.Description("Entity as JSON, e.g. {\"entity_type\":\"scan_result\",\"entity_id\":\"1\",\"column_name\":\"email\"}"),
		),
		mcp.WithString("frameworks",
			mcp.Description("Comma-separated frameworks to include; all when empty"),
		),
		mcp.WithString("data_source_id",
			mcp.Description("Data source used for rule scoping; defaults to the entity's"),
		),
		mcp.WithString("client_id",
			mcp.Description("Caller identity used for rate limiting"),
		),
	), s.handleClassifyEntity)

	s.mcp.AddTool(mcp.NewTool(ToolListRules,
		mcp.WithDescription("List the loaded classification rules in evaluation order"),
		mcp.WithString("framework",
			mcp.Description("Only list global rules and rules of this framework"),
		),
	), s.handleListRules)

	return s
}

// MCPServer returns the underlying MCP server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// ServeStdio serves MCP over stdin and stdout until the input closes
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) handleClassifyEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.Params.Arguments

	client := stringArg(args, "client_id")
	if client == "" {
		client = defaultClientKey
	}
	if ok, reset := s.limiter.Allow(client); !ok {
		s.logger.Warn("rate limit exceeded", slog.String("client_id", client))
		return mcp.NewToolResultError(fmt.Sprintf("rate limit exceeded, retry after %s", reset.Format(time.RFC3339))), nil
	}

	raw := stringArg(args, "entity")
	if raw == "" {
		return mcp.NewToolResultError("entity is required"), nil
	}

	var entity core.Entity
	if err := json.Unmarshal([]byte(raw), &entity); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid entity JSON: %v", err)), nil
	}

	app := core.Applicability{
		DataSourceID: stringArg(args, "data_source_id"),
		Frameworks:   splitList(stringArg(args, "frameworks")),
	}
	if app.DataSourceID == "" {
		app.DataSourceID = entity.DataSourceID
	}

	ctx = logging.WithEntity(logging.NewContext(ctx, s.logger.With(slog.String("client_id", client))), string(entity.Type), entity.ID)
	outcome, err := s.classifier.Classify(ctx, &entity, app)
	if err != nil {
		logging.WithContext(ctx).Error("classification failed", slog.Any("error", err))
		return mcp.NewToolResultError(fmt.Sprintf("classification failed: %v", err)), nil
	}

	return jsonResult(outcome)
}

// ruleSummary is the list_rules view of a rule
type ruleSummary struct {
	ID               string        `json:"id"`
	Name             string        `json:"name,omitempty"`
	Type             core.RuleType `json:"rule_type"`
	Priority         int           `json:"priority"`
	Scope            core.Scope    `json:"scope"`
	Framework        string        `json:"framework,omitempty"`
	SensitivityLevel string        `json:"sensitivity_level"`
	Active           bool          `json:"active"`
}

func (s *Server) handleListRules(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	app := core.Applicability{IncludeInactive: true}
	if fw := stringArg(req.Params.Arguments, "framework"); fw != "" {
		app.Frameworks = []string{fw}
	}

	rules := core.SelectRules(s.classifier.Rules(), app)
	summaries := make([]ruleSummary, 0, len(rules))
	for i := range rules {
		r := &rules[i]
		summaries = append(summaries, ruleSummary{
			ID:               r.ID,
			Name:             r.Name,
			Type:             r.Type,
			Priority:         r.Priority,
			Scope:            r.Scope,
			Framework:        r.Framework,
			SensitivityLevel: r.SensitivityLevel,
			Active:           r.IsActive(),
		})
	}

	return jsonResult(summaries)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func stringArg(args map[string]interface{}, name string) string {
	v, _ := args[name].(string)
	return strings.TrimSpace(v)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
