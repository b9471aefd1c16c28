package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.harvestapp.com"
	userAgent      = "harvest-mcp (github.com/vcto/harvest-mcp)"

	// errorBodyLimit caps the body excerpt carried by APIError so a
	// misbehaving endpoint cannot flood logs or tool output.
	errorBodyLimit = 500
)

// Client handles Harvest API communication. One instance is shared by all
// tool handlers; a token refresh triggered by any call sticks for the rest.
type Client struct {
	BaseURL   string
	AccountID string
	Auth      Authenticator

	// Recorder observes completed round-trips. Nil disables recording.
	Recorder CallRecorder

	client *http.Client
}

// CallRecorder receives one record per HTTP round-trip the client makes.
// The call log plugs in here. Status 0 means the request never got a response.
type CallRecorder interface {
	Record(method, url string, status int, duration time.Duration, attempt int)
}

// APIError is a non-2xx response from the Harvest API after the
// refresh/retry cycle is exhausted.
type APIError struct {
	StatusCode int
	Body       string // capped at errorBodyLimit characters
}

func (e *APIError) Error() string {
	return fmt.Sprintf("harvest API error %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a Harvest client. accountID goes into the
// Harvest-Account-Id header and may be empty for account-less endpoints.
func NewClient(auth Authenticator, accountID string) *Client {
	return &Client{
		BaseURL:   defaultBaseURL,
		AccountID: accountID,
		Auth:      auth,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// QueryParams collects query parameters preserving insertion order, which is
// the order they appear in the built URL.
type QueryParams struct {
	pairs []queryPair
}

type queryPair struct {
	key, value string
}

// NewQueryParams creates an empty parameter set.
func NewQueryParams() *QueryParams {
	return &QueryParams{}
}

// Set adds or replaces a parameter. A replaced key keeps its original
// position. Empty values stay in the set but are omitted from the built URL,
// so callers can Set unconditionally and let absent filters drop out.
func (q *QueryParams) Set(key, value string) *QueryParams {
	for i := range q.pairs {
		if q.pairs[i].key == key {
			q.pairs[i].value = value
			return q
		}
	}
	q.pairs = append(q.pairs, queryPair{key: key, value: value})
	return q
}

// SetInt is Set for numeric parameters; zero means "not given".
func (q *QueryParams) SetInt(key string, value int) *QueryParams {
	if value == 0 {
		return q.Set(key, "")
	}
	return q.Set(key, strconv.Itoa(value))
}

// buildURL joins base, path and the non-empty query parameters in insertion
// order. Path-segment variables must already be encoded by the caller.
func buildURL(base, path string, query *QueryParams) string {
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteString(path)

	if query == nil {
		return sb.String()
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range query.pairs {
		if p.value == "" {
			continue
		}
		sb.WriteString(sep)
		sb.WriteString(url.QueryEscape(p.key))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(p.value))
		sep = "&"
	}
	return sb.String()
}

// do performs one logical API call: send, refresh-and-retry once on 401,
// classify. On 2xx it returns the raw body for the typed wrappers to parse.
func (c *Client) do(ctx context.Context, method, path string, query *QueryParams, payload interface{}) ([]byte, error) {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	target := buildURL(c.BaseURL, path, query)

	resp, err := c.send(ctx, method, target, bodyBytes, 1)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.Auth.Refresh(ctx) {
		// Resend the identical request exactly once with the new token.
		// The retry's outcome is final; a second 401 falls through to the
		// classification below like any other error status.
		_ = resp.Body.Close()
		resp, err = c.send(ctx, method, target, bodyBytes, 2)
		if err != nil {
			return nil, err
		}
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("reading response: %w", err)
		}
		return body, nil
	}

	// Best effort: an unreadable error body becomes an empty excerpt.
	body, _ := io.ReadAll(resp.Body)
	return nil, &APIError{
		StatusCode: resp.StatusCode,
		Body:       truncate(string(body), errorBodyLimit),
	}
}

// send performs a single HTTP round-trip with authentication applied.
func (c *Client) send(ctx context.Context, method, target string, body []byte, attempt int) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.Auth.Apply(req)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if c.AccountID != "" {
		req.Header.Set("Harvest-Account-Id", c.AccountID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if c.Recorder != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.Recorder.Record(method, target, status, time.Since(start), attempt)
	}
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return resp, nil
}

// truncate caps s at limit characters.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// GetMe retrieves the authenticated user.
func (c *Client) GetMe(ctx context.Context) (*User, error) {
	body, err := c.do(ctx, "GET", "/v2/users/me", nil, nil)
	if err != nil {
		return nil, err
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("parsing user: %w", err)
	}
	return &user, nil
}

// ListTimeEntries retrieves time entries matching the filter.
func (c *Client) ListTimeEntries(ctx context.Context, filter TimeEntryFilter) (*TimeEntryList, error) {
	q := NewQueryParams().
		Set("from", filter.From).
		Set("to", filter.To).
		Set("client_id", filter.ClientID).
		Set("project_id", filter.ProjectID).
		SetInt("page", filter.Page).
		SetInt("per_page", filter.PerPage)
	if filter.IsRunning {
		q.Set("is_running", "true")
	}

	body, err := c.do(ctx, "GET", "/v2/time_entries", q, nil)
	if err != nil {
		return nil, err
	}

	var list TimeEntryList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parsing time entries: %w", err)
	}
	return &list, nil
}

// GetTimeEntry retrieves a single time entry by ID.
func (c *Client) GetTimeEntry(ctx context.Context, id int64) (*TimeEntry, error) {
	body, err := c.do(ctx, "GET", fmt.Sprintf("/v2/time_entries/%d", id), nil, nil)
	if err != nil {
		return nil, err
	}
	return parseTimeEntry(body)
}

// CreateTimeEntry logs new time against a project task.
func (c *Client) CreateTimeEntry(ctx context.Context, req CreateTimeEntryRequest) (*TimeEntry, error) {
	body, err := c.do(ctx, "POST", "/v2/time_entries", nil, req)
	if err != nil {
		return nil, err
	}
	return parseTimeEntry(body)
}

// UpdateTimeEntry changes fields on an existing time entry. Zero-valued
// fields in req are left untouched by the API.
func (c *Client) UpdateTimeEntry(ctx context.Context, id int64, req UpdateTimeEntryRequest) (*TimeEntry, error) {
	body, err := c.do(ctx, "PATCH", fmt.Sprintf("/v2/time_entries/%d", id), nil, req)
	if err != nil {
		return nil, err
	}
	return parseTimeEntry(body)
}

// DeleteTimeEntry removes a time entry.
func (c *Client) DeleteTimeEntry(ctx context.Context, id int64) error {
	_, err := c.do(ctx, "DELETE", fmt.Sprintf("/v2/time_entries/%d", id), nil, nil)
	return err
}

// RestartTimeEntry starts the timer on a stopped entry.
func (c *Client) RestartTimeEntry(ctx context.Context, id int64) (*TimeEntry, error) {
	body, err := c.do(ctx, "PATCH", fmt.Sprintf("/v2/time_entries/%d/restart", id), nil, nil)
	if err != nil {
		return nil, err
	}
	return parseTimeEntry(body)
}

// StopTimeEntry stops the timer on a running entry.
func (c *Client) StopTimeEntry(ctx context.Context, id int64) (*TimeEntry, error) {
	body, err := c.do(ctx, "PATCH", fmt.Sprintf("/v2/time_entries/%d/stop", id), nil, nil)
	if err != nil {
		return nil, err
	}
	return parseTimeEntry(body)
}

func parseTimeEntry(body []byte) (*TimeEntry, error) {
	var entry TimeEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("parsing time entry: %w", err)
	}
	return &entry, nil
}

// ListProjects retrieves projects, optionally only active ones.
func (c *Client) ListProjects(ctx context.Context, activeOnly bool, page int) (*ProjectList, error) {
	q := NewQueryParams().SetInt("page", page)
	if activeOnly {
		q.Set("is_active", "true")
	}

	body, err := c.do(ctx, "GET", "/v2/projects", q, nil)
	if err != nil {
		return nil, err
	}

	var list ProjectList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parsing projects: %w", err)
	}
	return &list, nil
}

// GetProject retrieves a single project by ID.
func (c *Client) GetProject(ctx context.Context, id int64) (*Project, error) {
	body, err := c.do(ctx, "GET", fmt.Sprintf("/v2/projects/%d", id), nil, nil)
	if err != nil {
		return nil, err
	}

	var project Project
	if err := json.Unmarshal(body, &project); err != nil {
		return nil, fmt.Errorf("parsing project: %w", err)
	}
	return &project, nil
}

// ListClients retrieves the account's clients.
func (c *Client) ListClients(ctx context.Context, page int) (*ClientList, error) {
	body, err := c.do(ctx, "GET", "/v2/clients", NewQueryParams().SetInt("page", page), nil)
	if err != nil {
		return nil, err
	}

	var list ClientList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parsing clients: %w", err)
	}
	return &list, nil
}

// ListTasks retrieves the account's tasks.
func (c *Client) ListTasks(ctx context.Context, page int) (*TaskList, error) {
	body, err := c.do(ctx, "GET", "/v2/tasks", NewQueryParams().SetInt("page", page), nil)
	if err != nil {
		return nil, err
	}

	var list TaskList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parsing tasks: %w", err)
	}
	return &list, nil
}

// ListProjectAssignments retrieves the projects and tasks the authenticated
// user may log time against.
func (c *Client) ListProjectAssignments(ctx context.Context) (*ProjectAssignmentList, error) {
	body, err := c.do(ctx, "GET", "/v2/users/me/project_assignments", nil, nil)
	if err != nil {
		return nil, err
	}

	var list ProjectAssignmentList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("parsing project assignments: %w", err)
	}
	return &list, nil
}
