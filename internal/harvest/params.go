package harvest

import "encoding/json"

// Parameter structs for Harvest tool handlers
// These structs define the expected parameters for each tool,
// providing type safety over the generic argument maps MCP delivers.

// ListEntriesParams for harvest_list_entries tool
type ListEntriesParams struct {
	From      string  `json:"from,omitempty"`
	To        string  `json:"to,omitempty"`
	ProjectID string  `json:"project_id,omitempty"`
	ClientID  string  `json:"client_id,omitempty"`
	Running   bool    `json:"running,omitempty"`
	Page      float64 `json:"page,omitempty"`
	PageSize  float64 `json:"page_size,omitempty"`
}

// LogTimeParams for harvest_log_time tool
type LogTimeParams struct {
	ProjectID float64 `json:"project_id"`
	TaskID    float64 `json:"task_id"`
	SpentDate string  `json:"spent_date"`
	Hours     float64 `json:"hours,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

// UpdateEntryParams for harvest_update_entry tool
type UpdateEntryParams struct {
	EntryID   float64 `json:"entry_id"`
	ProjectID float64 `json:"project_id,omitempty"`
	TaskID    float64 `json:"task_id,omitempty"`
	SpentDate string  `json:"spent_date,omitempty"`
	Hours     float64 `json:"hours,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

// EntryIDParams for tools addressing a single entry
// (harvest_delete_entry, harvest_stop_timer, harvest_restart_timer)
type EntryIDParams struct {
	EntryID float64 `json:"entry_id"`
}

// ProjectsParams for harvest_projects tool
type ProjectsParams struct {
	ActiveOnly bool    `json:"active_only,omitempty"`
	Page       float64 `json:"page,omitempty"`
}

// PageParams for simple paged listing tools
type PageParams struct {
	Page float64 `json:"page,omitempty"`
}

// Helper function to parse params from generic map
func parseParams[T any](args interface{}) (*T, error) {
	// Convert map[string]any to JSON then to struct
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	var params T
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}

	return &params, nil
}
