package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/auilabs/aui/pkg/observability"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/tools"
)

const defaultMaxSteps = 10

// LLMUsageFunc observes one reasoning call's token usage, for cost
// recording.
type LLMUsageFunc func(model string, inputTokens, outputTokens int, latencyMs int64)

// RunOptions tune one task run.
type RunOptions struct {
	MaxSteps    int
	Timeout     time.Duration
	AutoApprove bool
	Priority    int
}

// Loop runs agent tasks: one reasoning turn per iteration, tool dispatch
// through the executor, explicit suspension on awaiting_input.
type Loop struct {
	executor   *tools.Executor
	reasoner   Reasoner
	maxSteps   int
	logger     *slog.Logger
	OnLLMUsage LLMUsageFunc

	mu    sync.RWMutex
	tasks map[string]*Task
}

func NewLoop(executor *tools.Executor, reasoner Reasoner, maxSteps int, logger *slog.Logger) *Loop {
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		executor: executor,
		reasoner: reasoner,
		maxSteps: maxSteps,
		logger:   logger,
		tasks:    make(map[string]*Task),
	}
}

// Get returns a tracked task.
func (l *Loop) Get(taskID string) (*Task, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.tasks[taskID]
	if !ok {
		return nil, protocol.NewComponentError("agent", "Get",
			fmt.Sprintf("task %q", taskID), protocol.ErrNotFound)
	}
	return t, nil
}

// Cancel requests cancellation. The loop honors it at the next boundary;
// an already-terminal task is rejected.
func (l *Loop) Cancel(taskID string) error {
	task, err := l.Get(taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return protocol.NewComponentError("agent", "Cancel",
			fmt.Sprintf("task %s is already %s", taskID, task.Status), protocol.ErrWrongPhase)
	}
	task.requestCancel()
	if task.Status == StatusAwaitingInput {
		task.setStatus(StatusCancelled)
	}
	return nil
}

// Run executes a new task to a terminal status or to awaiting_input.
func (l *Loop) Run(ctx context.Context, sessionID, request string, opts RunOptions) (*Task, error) {
	task := newTask(sessionID, request, opts.Priority)

	l.mu.Lock()
	l.tasks[task.ID] = task
	l.mu.Unlock()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	task.setStatus(StatusPlanning)
	return l.iterate(ctx, task, opts)
}

// Resume continues an awaiting_input task with the user's answer, recorded
// as the next observe step.
func (l *Loop) Resume(ctx context.Context, taskID, answer string, opts RunOptions) (*Task, error) {
	task, err := l.Get(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != StatusAwaitingInput {
		return nil, protocol.NewComponentError("agent", "Resume",
			fmt.Sprintf("task %s is %s, not awaiting input", taskID, task.Status), protocol.ErrWrongPhase)
	}

	task.appendStep(Step{Type: StepObserve, Content: answer})
	task.PendingQuestion = ""
	task.setStatus(StatusExecuting)
	return l.iterate(ctx, task, opts)
}

func (l *Loop) iterate(ctx context.Context, task *Task, opts RunOptions) (*Task, error) {
	tracer := observability.GetTracer("aui.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentRun,
		trace.WithAttributes(
			attribute.String(observability.AttrTaskID, task.ID),
			attribute.String(observability.AttrSessionID, task.SessionID),
		))
	defer span.End()

	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = l.maxSteps
	}

	available := l.executor.Registry().List()

	for i := 0; i < maxSteps; i++ {
		if l.checkInterrupted(ctx, task, span) {
			return task, nil
		}

		result, err := l.reasoner.Reason(ctx, task, available)
		if err != nil {
			return l.failTask(task, span, fmt.Sprintf("reasoning failed: %v", err)), nil
		}
		task.addUsage(result.InputTokens, result.OutputTokens, 0)
		if l.OnLLMUsage != nil && (result.InputTokens > 0 || result.OutputTokens > 0) {
			l.OnLLMUsage(result.Model, result.InputTokens, result.OutputTokens, result.LatencyMs)
		}

		if l.checkInterrupted(ctx, task, span) {
			return task, nil
		}

		switch result.NextAction {
		case ActionTool:
			task.appendStep(Step{
				Type:       StepReason,
				Content:    result.Reasoning,
				Tokens:     result.InputTokens + result.OutputTokens,
				Confidence: result.Confidence,
			})
			task.setStatus(StatusExecuting)
			l.executeTool(ctx, task, result, opts)

		case ActionAskUser:
			task.appendStep(Step{
				Type:       StepReason,
				Content:    result.Question,
				Tokens:     result.InputTokens + result.OutputTokens,
				Confidence: result.Confidence,
			})
			task.PendingQuestion = result.Question
			task.setStatus(StatusAwaitingInput)
			span.SetStatus(codes.Ok, "awaiting input")
			return task, nil

		case ActionAdjustPlan:
			task.appendStep(Step{
				Type:       StepAdjust,
				Content:    result.Reasoning,
				Tokens:     result.InputTokens + result.OutputTokens,
				Confidence: result.Confidence,
			})

		case ActionComplete:
			task.appendStep(Step{
				Type:       StepComplete,
				Content:    result.Answer,
				Tokens:     result.InputTokens + result.OutputTokens,
				Confidence: result.Confidence,
			})
			task.Result = result.Answer
			task.setStatus(StatusCompleted)
			span.SetStatus(codes.Ok, "completed")
			l.logger.Info("agent task completed",
				"task_id", task.ID, "steps", len(task.Steps),
				"input_tokens", task.InputTokens, "output_tokens", task.OutputTokens)
			return task, nil
		}
	}

	return l.failTask(task, span, "max steps exceeded"), nil
}

func (l *Loop) executeTool(ctx context.Context, task *Task, result *ReasoningResult, opts RunOptions) {
	task.appendStep(Step{Type: StepAct, ToolCall: result.ToolCall})

	toolCtx := tools.WithSessionID(ctx, task.SessionID)
	start := time.Now()
	toolResult, _ := l.executor.Execute(toolCtx, *result.ToolCall, tools.ExecuteOptions{
		AutoApprove: opts.AutoApprove,
	})

	task.appendStep(Step{
		Type:       StepObserve,
		ToolResult: &toolResult,
		DurationMs: time.Since(start).Milliseconds(),
		Tokens:     toolResult.TokensUsed,
	})
	task.addUsage(0, 0, toolResult.CostCents)
}

// checkInterrupted handles cancellation and context expiry at a loop
// boundary.
func (l *Loop) checkInterrupted(ctx context.Context, task *Task, span trace.Span) bool {
	if task.Cancelled() {
		task.setStatus(StatusCancelled)
		span.SetStatus(codes.Error, "cancelled")
		l.logger.Info("agent task cancelled", "task_id", task.ID)
		return true
	}
	if ctx.Err() != nil {
		task.Error = ctx.Err().Error()
		task.setStatus(StatusFailed)
		span.SetStatus(codes.Error, task.Error)
		return true
	}
	return false
}

func (l *Loop) failTask(task *Task, span trace.Span, message string) *Task {
	task.appendStep(Step{Type: StepError, Content: message})
	task.Error = message
	task.setStatus(StatusFailed)
	span.SetStatus(codes.Error, message)
	l.logger.Warn("agent task failed", "task_id", task.ID, "error", message)
	return task
}
