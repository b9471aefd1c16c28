package harvest

// User represents the authenticated Harvest user
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Timezone  string `json:"timezone"`
	IsAdmin   bool   `json:"is_admin"`
}

// TimeEntry represents a logged block of time
type TimeEntry struct {
	ID        int64      `json:"id"`
	SpentDate string     `json:"spent_date"`
	Hours     float64    `json:"hours"`
	Notes     string     `json:"notes"`
	IsRunning bool       `json:"is_running"`
	IsLocked  bool       `json:"is_locked"`
	Project   ProjectRef `json:"project"`
	Task      TaskRef    `json:"task"`
	Client    ClientRef  `json:"client"`
	User      UserRef    `json:"user"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

// ProjectRef is the abbreviated project embedded in other resources
type ProjectRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Code string `json:"code"`
}

// TaskRef is the abbreviated task embedded in other resources
type TaskRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ClientRef is the abbreviated client embedded in other resources
type ClientRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// UserRef is the abbreviated user embedded in other resources
type UserRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TimeEntryFilter narrows ListTimeEntries. Zero values mean "no filter".
type TimeEntryFilter struct {
	From      string // YYYY-MM-DD
	To        string // YYYY-MM-DD
	ClientID  string
	ProjectID string
	IsRunning bool
	Page      int
	PerPage   int
}

// CreateTimeEntryRequest logs time against a project task
type CreateTimeEntryRequest struct {
	ProjectID int64   `json:"project_id"`
	TaskID    int64   `json:"task_id"`
	SpentDate string  `json:"spent_date"`
	Hours     float64 `json:"hours,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

// UpdateTimeEntryRequest changes fields on an existing entry
type UpdateTimeEntryRequest struct {
	ProjectID int64   `json:"project_id,omitempty"`
	TaskID    int64   `json:"task_id,omitempty"`
	SpentDate string  `json:"spent_date,omitempty"`
	Hours     float64 `json:"hours,omitempty"`
	Notes     string  `json:"notes,omitempty"`
}

// Project represents a Harvest project
type Project struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Code     string    `json:"code"`
	IsActive bool      `json:"is_active"`
	Client   ClientRef `json:"client"`
}

// HarvestClient represents a billing client on the account
type HarvestClient struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
	Currency string `json:"currency"`
}

// Task represents an account-level task
type Task struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// TaskAssignment links a task to a project assignment
type TaskAssignment struct {
	ID   int64   `json:"id"`
	Task TaskRef `json:"task"`
}

// ProjectAssignment pairs a project with the tasks the user may log against
type ProjectAssignment struct {
	ID              int64            `json:"id"`
	IsActive        bool             `json:"is_active"`
	Project         ProjectRef       `json:"project"`
	Client          ClientRef        `json:"client"`
	TaskAssignments []TaskAssignment `json:"task_assignments"`
}

// Pagination carries the list envelope fields shared by all list responses
type Pagination struct {
	PerPage      int  `json:"per_page"`
	TotalPages   int  `json:"total_pages"`
	TotalEntries int  `json:"total_entries"`
	NextPage     *int `json:"next_page"`
	Page         int  `json:"page"`
}

// TimeEntryList is the paged time entries envelope
type TimeEntryList struct {
	TimeEntries []TimeEntry `json:"time_entries"`
	Pagination
}

// ProjectList is the paged projects envelope
type ProjectList struct {
	Projects []Project `json:"projects"`
	Pagination
}

// ClientList is the paged clients envelope
type ClientList struct {
	Clients []HarvestClient `json:"clients"`
	Pagination
}

// TaskList is the paged tasks envelope
type TaskList struct {
	Tasks []Task `json:"tasks"`
	Pagination
}

// ProjectAssignmentList is the paged project assignments envelope
type ProjectAssignmentList struct {
	ProjectAssignments []ProjectAssignment `json:"project_assignments"`
	Pagination
}
