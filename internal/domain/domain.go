package domain

// Role is the closed set of principal roles. The hierarchy is
// admin > lead > team; see internal/authz for the capability table.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleLead  Role = "lead"
	RoleTeam  Role = "team"
)

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleLead, RoleTeam:
		return true
	}
	return false
}

// Status is the closed set of task statuses. The wire strings match the
// values the tracker has stored since its first schema.
type Status string

const (
	StatusNotStarted Status = "Not Started"
	StatusOnProgress Status = "On Progress"
	StatusDone       Status = "Done"
	StatusReject     Status = "Reject"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNotStarted, StatusOnProgress, StatusDone, StatusReject:
		return true
	}
	return false
}

type User struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         Role   `json:"role" enum:"admin,lead,team"`
	PasswordHash string `json:"-"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status" enum:"Not Started,On Progress,Done,Reject"`
	CreatedBy   int64  `json:"created_by"`
	AssignedTo  int64  `json:"assigned_to"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

// TaskLog is an append-only audit record. Exactly one entry exists per
// successful create or update of a task, written in the same transaction
// as the task row itself.
type TaskLog struct {
	ID          string `json:"id"`
	TaskID      int64  `json:"task_id"`
	Action      string `json:"action" enum:"create,update"`
	Description string `json:"description"`
	ChangedBy   int64  `json:"changed_by"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}
