package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/auilabs/aui/pkg/llms"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/tools"
)

// Action is what the reasoner decided to do next.
type Action string

const (
	ActionTool       Action = "tool"
	ActionAskUser    Action = "ask_user"
	ActionAdjustPlan Action = "adjust_plan"
	ActionComplete   Action = "complete"
)

// ReasoningResult is one reasoning turn's decision.
type ReasoningResult struct {
	NextAction   Action      `json:"next_action"`
	Reasoning    string      `json:"reasoning,omitempty"`
	ToolCall     *tools.Call `json:"tool_call,omitempty"`
	Answer       string      `json:"answer,omitempty"`
	Question     string      `json:"question,omitempty"`
	Confidence   float64     `json:"confidence,omitempty"`
	InputTokens  int         `json:"-"`
	OutputTokens int         `json:"-"`
	LatencyMs    int64       `json:"-"`
	Model        string      `json:"-"`
}

// Reasoner decides the next action for a task.
type Reasoner interface {
	Reason(ctx context.Context, task *Task, available []tools.Definition) (*ReasoningResult, error)
}

const reasonerSystemPrompt = `You are a task-execution agent. Decide the next action for the task.
Respond with a single JSON object:
{"next_action": "tool"|"ask_user"|"adjust_plan"|"complete",
 "reasoning": "why",
 "tool_call": {"tool": "name", "args": {...}},
 "answer": "final answer when complete",
 "question": "question for the user when ask_user",
 "confidence": 0.0-1.0}
Use a tool only from the provided list. Complete when the task is done.`

// LLMReasoner drives reasoning through the LLM adapter, exchanging JSON
// decisions.
type LLMReasoner struct {
	provider llms.Provider
	model    string
}

func NewLLMReasoner(provider llms.Provider, model string) *LLMReasoner {
	return &LLMReasoner{provider: provider, model: model}
}

func (r *LLMReasoner) Reason(ctx context.Context, task *Task, available []tools.Definition) (*ReasoningResult, error) {
	model := r.model
	if model == "" {
		model = r.provider.DefaultModel()
	}

	resp, err := r.provider.Complete(ctx, llms.Request{
		SystemPrompt: reasonerSystemPrompt,
		UserPrompt:   buildReasonerPrompt(task, available),
		Model:        model,
		Temperature:  0.2,
	})
	if err != nil {
		return nil, protocol.NewComponentError("agent", "Reason", "llm call failed", err)
	}

	result, err := parseReasoningResult(resp.Text)
	if err != nil {
		return nil, err
	}
	result.InputTokens = resp.InputTokens
	result.OutputTokens = resp.OutputTokens
	result.LatencyMs = resp.LatencyMs
	result.Model = model
	return result, nil
}

func buildReasonerPrompt(task *Task, available []tools.Definition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\n", task.Request)

	if len(available) > 0 {
		sb.WriteString("Available tools:\n")
		for _, def := range available {
			fmt.Fprintf(&sb, "- %s: %s\n", def.Name, def.Description)
		}
		sb.WriteString("\n")
	}

	if len(task.Steps) > 0 {
		sb.WriteString("Steps so far:\n")
		for _, step := range task.Steps {
			switch step.Type {
			case StepAct:
				if step.ToolCall != nil {
					fmt.Fprintf(&sb, "- called %s\n", step.ToolCall.Tool)
				}
			case StepObserve:
				if step.ToolResult != nil {
					fmt.Fprintf(&sb, "- observed success=%t %s\n",
						step.ToolResult.Success, truncateText(step.ToolResult.Data.Text(), 400))
				} else {
					fmt.Fprintf(&sb, "- observed: %s\n", truncateText(step.Content, 400))
				}
			default:
				fmt.Fprintf(&sb, "- %s: %s\n", step.Type, truncateText(step.Content, 200))
			}
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Decide the next action.")
	return sb.String()
}

// parseReasoningResult tolerates prose around the JSON object.
func parseReasoningResult(text string) (*ReasoningResult, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, protocol.NewComponentError("agent", "Reason",
			fmt.Sprintf("no JSON object in reasoning response: %s", truncateText(text, 120)),
			protocol.ErrAdapterFailure)
	}

	var result ReasoningResult
	if err := json.Unmarshal([]byte(text[start:end+1]), &result); err != nil {
		return nil, protocol.NewComponentError("agent", "Reason", "malformed reasoning JSON", err)
	}

	switch result.NextAction {
	case ActionTool:
		if result.ToolCall == nil || result.ToolCall.Tool == "" {
			return nil, protocol.NewComponentError("agent", "Reason",
				"tool action without a tool call", protocol.ErrAdapterFailure)
		}
	case ActionAskUser, ActionAdjustPlan, ActionComplete:
	default:
		return nil, protocol.NewComponentError("agent", "Reason",
			fmt.Sprintf("unknown next_action %q", result.NextAction), protocol.ErrAdapterFailure)
	}
	return &result, nil
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
