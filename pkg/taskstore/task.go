package taskstore

import "time"

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Progress is a hint about where a task currently is. Updates may arrive at
// any frequency; it is not a synchronization point.
type Progress struct {
	Step           string `json:"step,omitempty"`
	CompletedSteps int    `json:"completedSteps"`
	TotalSteps     int    `json:"totalSteps"`
	Message        string `json:"message,omitempty"`
	Found          int    `json:"found,omitempty"`
	Analyzed       int    `json:"analyzed,omitempty"`
}

// Error records a workflow failure with the step that produced it.
type Error struct {
	Step        string `json:"step"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Task is one in-flight or completed execution of a named workflow.
type Task struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Status        Status         `json:"status"`
	Progress      Progress       `json:"progress"`
	Args          map[string]any `json:"args,omitempty"`
	Result        any            `json:"result,omitempty"`
	PartialResult any            `json:"partialResult,omitempty"`
	Error         *Error         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
	ExpiresAt     time.Time      `json:"expiresAt"`
}

// Summary is the reduced form returned by list operations.
type Summary struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    Status    `json:"status"`
	Progress  Progress  `json:"progress"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Summary reduces the task to its listing form.
func (t *Task) Summary() Summary {
	return Summary{
		ID:        t.ID,
		Type:      t.Type,
		Status:    t.Status,
		Progress:  t.Progress,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func (t *Task) clone() *Task {
	cp := *t
	if t.Error != nil {
		e := *t.Error
		cp.Error = &e
	}
	return &cp
}
