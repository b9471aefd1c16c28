package harvest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Handler manages Harvest integration for the MCP server.
// It wraps a Harvest client and provides tool handlers for MCP operations.
type Handler struct {
	// client is the underlying Harvest API client
	client *Client
	// auth is kept so the token can be inspected/replaced after setup
	auth *BearerAuth
}

// NewHandler creates a Harvest handler with credentials from environment
// variables. Requires HARVEST_ACCESS_TOKEN; HARVEST_REFRESH_TOKEN,
// HARVEST_CLIENT_ID and HARVEST_CLIENT_SECRET enable automatic token
// refresh when all three are present. Returns nil if the access token is
// missing, allowing graceful degradation.
func NewHandler() *Handler {
	accessToken := os.Getenv("HARVEST_ACCESS_TOKEN")
	if accessToken == "" {
		return nil // Harvest tools won't be registered
	}

	auth := NewBearerAuth(
		accessToken,
		os.Getenv("HARVEST_REFRESH_TOKEN"),
		os.Getenv("HARVEST_CLIENT_ID"),
		os.Getenv("HARVEST_CLIENT_SECRET"),
	)

	return &Handler{
		client: NewClient(auth, os.Getenv("HARVEST_ACCOUNT_ID")),
		auth:   auth,
	}
}

// NewHandlerFromCredentials creates a Harvest handler from a stored
// credential set, typically one saved through the setup flow.
func NewHandlerFromCredentials(creds Credentials) *Handler {
	if creds.AccessToken == "" {
		return nil
	}

	auth := NewBearerAuth(creds.AccessToken, creds.RefreshToken, creds.ClientID, creds.ClientSecret)
	return &Handler{
		client: NewClient(auth, creds.AccountID),
		auth:   auth,
	}
}

// GetClient returns the underlying Harvest client for direct API access.
func (h *Handler) GetClient() *Client {
	return h.client
}

// Auth returns the bearer credentials backing the client.
func (h *Handler) Auth() *BearerAuth {
	return h.auth
}

// SetupTools registers Harvest tools with the MCP server: identity,
// time-entry CRUD, timer control and account listings.
func (h *Handler) SetupTools(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("harvest_whoami",
		mcp.WithDescription("Show the authenticated Harvest user"),
	), h.handleWhoami)

	s.AddTool(mcp.NewTool("harvest_list_entries",
		mcp.WithDescription("List time entries, optionally filtered by date range, project or client. Results are paginated."),
		mcp.WithString("from", mcp.Description("Only entries on or after this date (YYYY-MM-DD)")),
		mcp.WithString("to", mcp.Description("Only entries on or before this date (YYYY-MM-DD)")),
		mcp.WithString("project_id", mcp.Description("Only entries for this project")),
		mcp.WithString("client_id", mcp.Description("Only entries for this client")),
		mcp.WithBoolean("running", mcp.Description("Only currently running timers")),
		mcp.WithNumber("page", mcp.Description("Page number (1-based, default: 1)")),
		mcp.WithNumber("page_size", mcp.Description("Results per page (default: 50, max: 2000)")),
	), h.handleListEntries)

	s.AddTool(mcp.NewTool("harvest_log_time",
		mcp.WithDescription("Log time against a project task. Omit hours to start a running timer."),
		mcp.WithNumber("project_id", mcp.Required(), mcp.Description("Project ID")),
		mcp.WithNumber("task_id", mcp.Required(), mcp.Description("Task ID")),
		mcp.WithString("spent_date", mcp.Required(), mcp.Description("Date of the entry (YYYY-MM-DD)")),
		mcp.WithNumber("hours", mcp.Description("Decimal hours; omit to start a timer")),
		mcp.WithString("notes", mcp.Description("Entry notes")),
	), h.handleLogTime)

	s.AddTool(mcp.NewTool("harvest_update_entry",
		mcp.WithDescription("Update fields on an existing time entry"),
		mcp.WithNumber("entry_id", mcp.Required(), mcp.Description("Time entry ID")),
		mcp.WithNumber("project_id", mcp.Description("New project ID")),
		mcp.WithNumber("task_id", mcp.Description("New task ID")),
		mcp.WithString("spent_date", mcp.Description("New date (YYYY-MM-DD)")),
		mcp.WithNumber("hours", mcp.Description("New decimal hours")),
		mcp.WithString("notes", mcp.Description("New notes")),
	), h.handleUpdateEntry)

	s.AddTool(mcp.NewTool("harvest_delete_entry",
		mcp.WithDescription("Delete a time entry"),
		mcp.WithNumber("entry_id", mcp.Required(), mcp.Description("Time entry ID")),
	), h.handleDeleteEntry)

	s.AddTool(mcp.NewTool("harvest_stop_timer",
		mcp.WithDescription("Stop a running timer"),
		mcp.WithNumber("entry_id", mcp.Required(), mcp.Description("Time entry ID")),
	), h.handleStopTimer)

	s.AddTool(mcp.NewTool("harvest_restart_timer",
		mcp.WithDescription("Restart the timer on a stopped entry"),
		mcp.WithNumber("entry_id", mcp.Required(), mcp.Description("Time entry ID")),
	), h.handleRestartTimer)

	s.AddTool(mcp.NewTool("harvest_projects",
		mcp.WithDescription("List projects on the account"),
		mcp.WithBoolean("active_only", mcp.Description("Only active projects")),
		mcp.WithNumber("page", mcp.Description("Page number (1-based, default: 1)")),
	), h.handleProjects)

	s.AddTool(mcp.NewTool("harvest_clients",
		mcp.WithDescription("List billing clients on the account"),
		mcp.WithNumber("page", mcp.Description("Page number (1-based, default: 1)")),
	), h.handleClients)

	s.AddTool(mcp.NewTool("harvest_tasks",
		mcp.WithDescription("List tasks on the account"),
		mcp.WithNumber("page", mcp.Description("Page number (1-based, default: 1)")),
	), h.handleTasks)

	s.AddTool(mcp.NewTool("harvest_assignments",
		mcp.WithDescription("List the projects and tasks the authenticated user can log time against"),
	), h.handleAssignments)
}

func (h *Handler) handleWhoami(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := h.client.GetMe(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get user: %v", err)), nil
	}
	return jsonResult(user)
}

func (h *Handler) handleListEntries(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := parseParams[ListEntriesParams](request.Params.Arguments)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments format"), nil
	}

	list, err := h.client.ListTimeEntries(ctx, TimeEntryFilter{
		From:      params.From,
		To:        params.To,
		ClientID:  params.ClientID,
		ProjectID: params.ProjectID,
		IsRunning: params.Running,
		Page:      int(params.Page),
		PerPage:   int(params.PageSize),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list entries: %v", err)), nil
	}

	return jsonResult(map[string]interface{}{
		"entries":       list.TimeEntries,
		"count":         len(list.TimeEntries),
		"total_entries": list.TotalEntries,
		"page":          list.Page,
		"total_pages":   list.TotalPages,
	})
}

func (h *Handler) handleLogTime(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := parseParams[LogTimeParams](request.Params.Arguments)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments format"), nil
	}
	if params.ProjectID == 0 || params.TaskID == 0 || params.SpentDate == "" {
		return mcp.NewToolResultError("project_id, task_id and spent_date are required"), nil
	}

	entry, err := h.client.CreateTimeEntry(ctx, CreateTimeEntryRequest{
		ProjectID: int64(params.ProjectID),
		TaskID:    int64(params.TaskID),
		SpentDate: params.SpentDate,
		Hours:     params.Hours,
		Notes:     params.Notes,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to log time: %v", err)), nil
	}
	return jsonResult(entry)
}

func (h *Handler) handleUpdateEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := parseParams[UpdateEntryParams](request.Params.Arguments)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments format"), nil
	}
	if params.EntryID == 0 {
		return mcp.NewToolResultError("entry_id is required"), nil
	}

	entry, err := h.client.UpdateTimeEntry(ctx, int64(params.EntryID), UpdateTimeEntryRequest{
		ProjectID: int64(params.ProjectID),
		TaskID:    int64(params.TaskID),
		SpentDate: params.SpentDate,
		Hours:     params.Hours,
		Notes:     params.Notes,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to update entry: %v", err)), nil
	}
	return jsonResult(entry)
}

func (h *Handler) handleDeleteEntry(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := parseParams[EntryIDParams](request.Params.Arguments)
	if err != nil || params.EntryID == 0 {
		return mcp.NewToolResultError("entry_id is required"), nil
	}

	if err := h.client.DeleteTimeEntry(ctx, int64(params.EntryID)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to delete entry: %v", err)), nil
	}
	return jsonResult(map[string]interface{}{
		"deleted":  true,
		"entry_id": int64(params.EntryID),
	})
}

func (h *Handler) handleStopTimer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := parseParams[EntryIDParams](request.Params.Arguments)
	if err != nil || params.EntryID == 0 {
		return mcp.NewToolResultError("entry_id is required"), nil
	}

	entry, err := h.client.StopTimeEntry(ctx, int64(params.EntryID))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to stop timer: %v", err)), nil
	}
	return jsonResult(entry)
}

func (h *Handler) handleRestartTimer(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := parseParams[EntryIDParams](request.Params.Arguments)
	if err != nil || params.EntryID == 0 {
		return mcp.NewToolResultError("entry_id is required"), nil
	}

	entry, err := h.client.RestartTimeEntry(ctx, int64(params.EntryID))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to restart timer: %v", err)), nil
	}
	return jsonResult(entry)
}

func (h *Handler) handleProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := parseParams[ProjectsParams](request.Params.Arguments)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments format"), nil
	}

	list, err := h.client.ListProjects(ctx, params.ActiveOnly, int(params.Page))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list projects: %v", err)), nil
	}
	return jsonResult(list)
}

func (h *Handler) handleClients(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := parseParams[PageParams](request.Params.Arguments)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments format"), nil
	}

	list, err := h.client.ListClients(ctx, int(params.Page))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list clients: %v", err)), nil
	}
	return jsonResult(list)
}

func (h *Handler) handleTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	params, err := parseParams[PageParams](request.Params.Arguments)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments format"), nil
	}

	list, err := h.client.ListTasks(ctx, int(params.Page))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
	}
	return jsonResult(list)
}

func (h *Handler) handleAssignments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	list, err := h.client.ListProjectAssignments(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list assignments: %v", err)), nil
	}
	return jsonResult(list)
}

// jsonResult formats v as pretty-printed JSON text content.
func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("Failed to format result"), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
	}, nil
}

// Today returns today's date in the account-agnostic format the API uses.
func Today() string {
	return time.Now().Format("2006-01-02")
}
