// Package agenttools exposes the resolver to language-model agents as MCP tools.
package agenttools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/weather-pipeline/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	ToolCurrentWeather = "get_current_weather"
	ToolWeatherHistory = "get_weather_history"
)

// Resolver is the query surface the tools call
type Resolver interface {
	Latest(ctx context.Context, city string) (domain.Observation, error)
	History(ctx context.Context, city string, start, end time.Time) (domain.HistoryResult, error)
}

// Deps holds dependencies for the MCP server
type Deps struct {
	Resolver           Resolver
	DefaultHistoryDays int
	MaxHistoryDays     int
	Version            string
	Now                func() time.Time
}

// NewServer creates an MCP server with the two weather tools registered
func NewServer(deps Deps) *server.MCPServer {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.DefaultHistoryDays <= 0 {
		deps.DefaultHistoryDays = 7
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := server.NewMCPServer(
		"weather-pipeline",
		version,
		server.WithToolCapabilities(false),
		server.WithInstructions("Weather observations for the monitored cities. Current conditions are refreshed from the live source when stored data is stale; history is served from stored data only."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool(ToolCurrentWeather,
			mcp.WithDescription("Get the latest weather observation for a monitored city."),
			mcp.WithString("city", mcp.Description("City name, e.g. London"), mcp.Required()),
		),
		currentWeather(deps),
	)

	s.AddTool(
		mcp.NewTool(ToolWeatherHistory,
			mcp.WithDescription("Summarise stored weather for a city over a window: average, min and max temperature, average humidity and wind speed, most common condition. Reports the available window when history is incomplete."),
			mcp.WithString("city", mcp.Description("City name, e.g. Tokyo"), mcp.Required()),
			mcp.WithNumber("days", mcp.Description("Window length in days ending now (used when start/end are absent)")),
			mcp.WithString("start", mcp.Description("Window start, RFC3339")),
			mcp.WithString("end", mcp.Description("Window end, RFC3339")),
		),
		weatherHistory(deps),
	)

	return s
}

// NewHTTPHandler serves the MCP server over streamable HTTP
func NewHTTPHandler(s *server.MCPServer) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(s, server.WithStateLess(true))
}

func currentWeather(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		city, err := req.RequireString("city")
		if err != nil {
			return mcpError("city is required"), nil
		}

		obs, err := deps.Resolver.Latest(ctx, city)
		if err != nil {
			return mcpError(describe(city, err)), nil
		}

		return mcpJSON(obs)
	}
}

func weatherHistory(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		city, err := req.RequireString("city")
		if err != nil {
			return mcpError("city is required"), nil
		}

		start, end, err := window(deps, req)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		res, err := deps.Resolver.History(ctx, city, start, end)
		if err != nil {
			return mcpError(describe(city, err)), nil
		}

		return mcpJSON(res)
	}
}

// window resolves the tool arguments into [start, end]
func window(deps Deps, req mcp.CallToolRequest) (time.Time, time.Time, error) {
	rawStart := req.GetString("start", "")
	rawEnd := req.GetString("end", "")

	if rawStart != "" || rawEnd != "" {
		if rawStart == "" || rawEnd == "" {
			return time.Time{}, time.Time{}, errors.New("start and end must be given together")
		}
		start, err := time.Parse(time.RFC3339, rawStart)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %v", err)
		}
		end, err := time.Parse(time.RFC3339, rawEnd)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %v", err)
		}
		if deps.MaxHistoryDays > 0 && end.Sub(start) > time.Duration(deps.MaxHistoryDays)*24*time.Hour {
			return time.Time{}, time.Time{}, fmt.Errorf("window must not exceed %d days", deps.MaxHistoryDays)
		}
		return start, end, nil
	}

	days := req.GetInt("days", deps.DefaultHistoryDays)
	if days <= 0 {
		return time.Time{}, time.Time{}, errors.New("days must be positive")
	}
	if deps.MaxHistoryDays > 0 && days > deps.MaxHistoryDays {
		return time.Time{}, time.Time{}, fmt.Errorf("days must not exceed %d", deps.MaxHistoryDays)
	}

	end := deps.Now().UTC()
	return end.AddDate(0, 0, -days), end, nil
}

// describe turns resolver errors into messages an agent can act on
func describe(city string, err error) string {
	switch {
	case errors.Is(err, domain.ErrUnknownEntity):
		return fmt.Sprintf("%s is not a monitored city", city)
	case errors.Is(err, domain.ErrInvalidWindow):
		return err.Error()
	case domain.IsUpstreamError(err):
		return fmt.Sprintf("weather provider unavailable for %s: %v", city, err)
	case domain.IsStoreError(err):
		return "weather store unavailable, try again later"
	default:
		return fmt.Sprintf("lookup failed for %s: %v", city, err)
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
