// Package agent implements the ReAct task loop: reason, act, observe,
// adjust, with tool dispatch, awaiting-input suspension and cancellation.
package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auilabs/aui/pkg/tools"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPlanning      Status = "planning"
	StatusExecuting     Status = "executing"
	StatusAwaitingInput Status = "awaiting_input"
	StatusPaused        Status = "paused"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepType classifies one task step.
type StepType string

const (
	StepReason   StepType = "reason"
	StepAct      StepType = "act"
	StepObserve  StepType = "observe"
	StepAdjust   StepType = "adjust"
	StepComplete StepType = "complete"
	StepError    StepType = "error"
)

// Step is one append-only entry in a task's trace.
type Step struct {
	ID         string        `json:"id"`
	Type       StepType      `json:"type"`
	Content    string        `json:"content,omitempty"`
	ToolCall   *tools.Call   `json:"tool_call,omitempty"`
	ToolResult *tools.Result `json:"tool_result,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	DurationMs int64         `json:"duration_ms,omitempty"`
	Tokens     int           `json:"tokens,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
}

// Task is one agent run.
type Task struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Request          string    `json:"request"`
	Status           Status    `json:"status"`
	Steps            []Step    `json:"steps"`
	Plan             string    `json:"plan,omitempty"`
	CurrentStepIndex int       `json:"current_step_index"`
	Result           string    `json:"result,omitempty"`
	Error            string    `json:"error,omitempty"`
	PendingQuestion  string    `json:"pending_question,omitempty"`
	Priority         int       `json:"priority,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	CompletedAt      time.Time `json:"completed_at,omitempty"`
	InputTokens      int       `json:"input_tokens"`
	OutputTokens     int       `json:"output_tokens"`
	CostCents        int64     `json:"cost_cents"`

	mu        sync.Mutex
	cancelled bool
}

func newTask(sessionID, request string, priority int) *Task {
	now := time.Now()
	return &Task{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Request:   request,
		Status:    StatusPending,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// appendStep appends a step and advances the index. Steps are never edited
// after the fact.
func (t *Task) appendStep(s Step) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	t.Steps = append(t.Steps, s)
	t.CurrentStepIndex = len(t.Steps)
	t.UpdatedAt = s.Timestamp
}

func (t *Task) setStatus(status Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status.Terminal() {
		return
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	if status.Terminal() {
		t.CompletedAt = t.UpdatedAt
	}
}

// Cancelled reports whether cancellation was requested.
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *Task) requestCancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

func (t *Task) addUsage(input, output int, costCents int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.InputTokens += input
	t.OutputTokens += output
	t.CostCents += costCents
}
