package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/tools"
)

type scriptedReasoner struct {
	script []*ReasoningResult
	calls  int
}

func (r *scriptedReasoner) Reason(_ context.Context, _ *Task, _ []tools.Definition) (*ReasoningResult, error) {
	if r.calls >= len(r.script) {
		return nil, errors.New("script exhausted")
	}
	result := r.script[r.calls]
	r.calls++
	return result, nil
}

type recordingTool struct {
	name  string
	data  protocol.Value
	calls int
}

func (t *recordingTool) GetDefinition() tools.Definition {
	return tools.Definition{Name: t.name}
}

func (t *recordingTool) Execute(context.Context, map[string]protocol.Value) (tools.Result, error) {
	t.calls++
	return tools.Result{Success: true, Data: t.data}, nil
}

func newTestLoop(t *testing.T, reasoner Reasoner, toolSet ...tools.Tool) *Loop {
	t.Helper()
	r := tools.NewRegistry()
	for _, tool := range toolSet {
		require.NoError(t, r.Register(tool))
	}
	executor := tools.NewExecutor(r, nil, time.Second, nil)
	return NewLoop(executor, reasoner, 10, nil)
}

func TestRunHappyPath(t *testing.T) {
	pipeline := &recordingTool{name: "bql_execute", data: protocol.List(protocol.Int(1), protocol.Int(2))}
	search := &recordingTool{name: "search", data: protocol.List(
		protocol.String("hit one"), protocol.String("hit two"))}

	reasoner := &scriptedReasoner{script: []*ReasoningResult{
		{NextAction: ActionTool, Reasoning: "run the pipeline",
			ToolCall:    &tools.Call{Tool: "bql_execute", Args: map[string]protocol.Value{"pipeline": protocol.String("load x")}},
			InputTokens: 100, OutputTokens: 20, Model: "claude-sonnet"},
		{NextAction: ActionTool, Reasoning: "search for context",
			ToolCall:    &tools.Call{Tool: "search", Args: map[string]protocol.Value{"query": protocol.String("x")}},
			InputTokens: 120, OutputTokens: 25, Model: "claude-sonnet"},
		{NextAction: ActionComplete, Answer: "done", Confidence: 0.9,
			InputTokens: 150, OutputTokens: 10, Model: "claude-sonnet"},
	}}

	var usageCalls int
	loop := newTestLoop(t, reasoner, pipeline, search)
	loop.OnLLMUsage = func(model string, in, out int, _ int64) {
		usageCalls++
		assert.Equal(t, "claude-sonnet", model)
	}

	task, err := loop.Run(context.Background(), "s1", "do the thing", RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, "done", task.Result)
	require.Len(t, task.Steps, 7)

	wantTypes := []StepType{StepReason, StepAct, StepObserve, StepReason, StepAct, StepObserve, StepComplete}
	for i, want := range wantTypes {
		assert.Equal(t, want, task.Steps[i].Type, "step %d", i)
	}

	assert.Equal(t, 1, pipeline.calls)
	assert.Equal(t, 1, search.calls)
	assert.Equal(t, 370, task.InputTokens)
	assert.Equal(t, 55, task.OutputTokens)
	assert.Equal(t, 3, usageCalls)
	assert.True(t, task.Steps[2].ToolResult.Success)
	assert.Len(t, task.Steps[2].ToolResult.Data.List(), 2)
}

func TestRunAwaitingInputAndResume(t *testing.T) {
	reasoner := &scriptedReasoner{script: []*ReasoningResult{
		{NextAction: ActionAskUser, Question: "which buffer?"},
		{NextAction: ActionComplete, Answer: "used notes"},
	}}
	loop := newTestLoop(t, reasoner)

	task, err := loop.Run(context.Background(), "s1", "do it", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingInput, task.Status)
	assert.Equal(t, "which buffer?", task.PendingQuestion)

	resumed, err := loop.Resume(context.Background(), task.ID, "notes", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, resumed.Status)
	assert.Empty(t, resumed.PendingQuestion)

	// The answer is recorded as the observe step before reasoning resumes.
	require.GreaterOrEqual(t, len(resumed.Steps), 3)
	assert.Equal(t, StepObserve, resumed.Steps[1].Type)
	assert.Equal(t, "notes", resumed.Steps[1].Content)

	_, err = loop.Resume(context.Background(), task.ID, "again", RunOptions{})
	assert.True(t, errors.Is(err, protocol.ErrWrongPhase))
}

func TestRunToolFailureObserved(t *testing.T) {
	reasoner := &scriptedReasoner{script: []*ReasoningResult{
		{NextAction: ActionTool, ToolCall: &tools.Call{Tool: "missing"}},
		{NextAction: ActionComplete, Answer: "gave up"},
	}}
	loop := newTestLoop(t, reasoner)

	task, err := loop.Run(context.Background(), "s1", "x", RunOptions{})
	require.NoError(t, err)

	// The failed call does not fail the task; it is observed and the loop
	// continues.
	assert.Equal(t, StatusCompleted, task.Status)
	require.Len(t, task.Steps, 4)
	assert.Equal(t, StepObserve, task.Steps[2].Type)
	assert.False(t, task.Steps[2].ToolResult.Success)
}

func TestRunMaxStepsExceeded(t *testing.T) {
	adjust := &ReasoningResult{NextAction: ActionAdjustPlan, Reasoning: "thinking"}
	script := make([]*ReasoningResult, 20)
	for i := range script {
		script[i] = adjust
	}
	loop := newTestLoop(t, &scriptedReasoner{script: script})

	task, err := loop.Run(context.Background(), "s1", "x", RunOptions{MaxSteps: 3})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "max steps exceeded", task.Error)
	assert.Equal(t, StepError, task.Steps[len(task.Steps)-1].Type)
}

func TestRunReasonerFailure(t *testing.T) {
	loop := newTestLoop(t, &scriptedReasoner{})

	task, err := loop.Run(context.Background(), "s1", "x", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.Error, "reasoning failed")
}

func TestCancelTask(t *testing.T) {
	reasoner := &scriptedReasoner{script: []*ReasoningResult{
		{NextAction: ActionAskUser, Question: "continue?"},
	}}
	loop := newTestLoop(t, reasoner)

	task, err := loop.Run(context.Background(), "s1", "x", RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingInput, task.Status)

	require.NoError(t, loop.Cancel(task.ID))
	assert.Equal(t, StatusCancelled, task.Status)

	// Terminal tasks reject further transitions.
	err = loop.Cancel(task.ID)
	assert.True(t, errors.Is(err, protocol.ErrWrongPhase))
	_, err = loop.Resume(context.Background(), task.ID, "yes", RunOptions{})
	assert.True(t, errors.Is(err, protocol.ErrWrongPhase))
}

func TestParseReasoningResult(t *testing.T) {
	result, err := parseReasoningResult(`Here is my decision:
{"next_action":"tool","reasoning":"need data","tool_call":{"tool":"search","args":{"query":"x"}},"confidence":0.8}`)
	require.NoError(t, err)
	assert.Equal(t, ActionTool, result.NextAction)
	assert.Equal(t, "search", result.ToolCall.Tool)
	assert.Equal(t, protocol.String("x"), result.ToolCall.Args["query"])

	_, err = parseReasoningResult("no json here")
	assert.True(t, errors.Is(err, protocol.ErrAdapterFailure))

	_, err = parseReasoningResult(`{"next_action":"tool"}`)
	assert.True(t, errors.Is(err, protocol.ErrAdapterFailure))

	_, err = parseReasoningResult(`{"next_action":"fly"}`)
	assert.True(t, errors.Is(err, protocol.ErrAdapterFailure))
}
