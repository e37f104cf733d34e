package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/auilabs/aui/pkg/observability"
	"github.com/auilabs/aui/pkg/protocol"
)

const defaultTimeout = 30 * time.Second

// ApprovalFunc decides whether a destructive tool call may proceed. It is
// consulted only for tools that require approval when auto-approve is off.
type ApprovalFunc func(ctx context.Context, call Call, def Definition) (bool, error)

// ExecuteOptions tune one invocation.
type ExecuteOptions struct {
	Timeout     time.Duration
	AutoApprove bool
}

// Executor validates, gates, times and dispatches tool calls.
type Executor struct {
	registry *Registry
	approval ApprovalFunc
	timeout  time.Duration
	logger   *slog.Logger
}

func NewExecutor(registry *Registry, approval ApprovalFunc, timeout time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, approval: approval, timeout: timeout, logger: logger}
}

// Registry exposes the executor's tool set.
func (e *Executor) Registry() *Registry { return e.registry }

// Execute runs one tool call. Failures are reported in the Result; the
// error return carries the typed cause for callers that gate on it.
func (e *Executor) Execute(ctx context.Context, call Call, opts ExecuteOptions) (Result, error) {
	start := time.Now()

	tracer := observability.GetTracer("aui.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(attribute.String(observability.AttrToolName, call.Tool)))
	defer span.End()

	fail := func(message string, cause error) (Result, error) {
		err := protocol.NewComponentError("tools", "Execute", message, cause)
		span.RecordError(err)
		span.SetStatus(codes.Error, message)
		return Result{
			Success:    false,
			Error:      message,
			ToolName:   call.Tool,
			DurationMs: time.Since(start).Milliseconds(),
		}, err
	}

	tool, err := e.registry.Get(call.Tool)
	if err != nil {
		return fail(fmt.Sprintf("unknown tool %q", call.Tool), protocol.ErrNotFound)
	}
	def := tool.GetDefinition()

	args, err := validateArgs(def, call.Args)
	if err != nil {
		return fail(err.Error(), protocol.ErrInvalidArgs)
	}

	if def.Destructive && def.RequiresApproval && !opts.AutoApprove {
		if e.approval == nil {
			return fail(fmt.Sprintf("tool %q requires approval and no approver is configured", call.Tool),
				protocol.ErrApprovalDenied)
		}
		approved, err := e.approval(ctx, call, def)
		if err != nil {
			return fail(fmt.Sprintf("approval check failed: %v", err), protocol.ErrApprovalDenied)
		}
		if !approved {
			return fail(fmt.Sprintf("approval denied for tool %q", call.Tool), protocol.ErrApprovalDenied)
		}
	}

	timeout := e.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, execErr := e.invoke(ctx, tool, args)
	result.ToolName = call.Tool
	result.DurationMs = time.Since(start).Milliseconds()

	if ctx.Err() == context.DeadlineExceeded {
		result = Result{
			Success:    false,
			Error:      "timeout",
			ToolName:   call.Tool,
			DurationMs: result.DurationMs,
		}
		execErr = protocol.NewComponentError("tools", "Execute",
			fmt.Sprintf("tool %q exceeded %s deadline", call.Tool, timeout), protocol.ErrTimeout)
	} else if execErr != nil {
		result.Success = false
		if result.Error == "" {
			result.Error = execErr.Error()
		}
	}

	if execErr != nil {
		span.RecordError(execErr)
		span.SetStatus(codes.Error, result.Error)
	} else if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	} else {
		span.SetStatus(codes.Ok, "success")
	}
	span.SetAttributes(
		attribute.Bool("tool.success", result.Success),
		attribute.Int64("tool.duration_ms", result.DurationMs),
	)

	e.logger.Debug("tool executed",
		"tool", call.Tool,
		"success", result.Success,
		"duration_ms", result.DurationMs)

	return result, execErr
}

// invoke runs the tool, converting a panic into an error result.
func (e *Executor) invoke(ctx context.Context, tool Tool, args map[string]protocol.Value) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = protocol.NewComponentError("tools", "Execute",
				fmt.Sprintf("tool panicked: %v", r), protocol.ErrInternal)
			result = Result{Success: false, Error: fmt.Sprintf("tool panicked: %v", r)}
		}
	}()
	return tool.Execute(ctx, args)
}

// validateArgs checks required parameters, types and enums, and fills in
// declared defaults.
func validateArgs(def Definition, args map[string]protocol.Value) (map[string]protocol.Value, error) {
	out := make(map[string]protocol.Value, len(args))
	for k, v := range args {
		out[k] = v
	}

	for _, p := range def.Parameters {
		v, present := out[p.Name]
		if !present || v.IsNull() {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q", p.Name)
			}
			if !p.Default.IsNull() {
				out[p.Name] = p.Default
			}
			continue
		}
		if !typeMatches(p.Type, v) {
			return nil, fmt.Errorf("parameter %q: expected %s, got %s", p.Name, p.Type, v.Kind())
		}
		if len(p.Enum) > 0 {
			ok := false
			for _, allowed := range p.Enum {
				if v.Str() == allowed {
					ok = true
					break
				}
			}
			if !ok {
				return nil, fmt.Errorf("parameter %q: %q is not one of %v", p.Name, v.Str(), p.Enum)
			}
		}
	}
	return out, nil
}

func typeMatches(declared string, v protocol.Value) bool {
	switch declared {
	case "", "any":
		return true
	case "string":
		return v.Kind() == protocol.KindString
	case "int":
		return v.Kind() == protocol.KindInt
	case "float", "number":
		return v.Kind() == protocol.KindFloat || v.Kind() == protocol.KindInt
	case "bool":
		return v.Kind() == protocol.KindBool
	case "list":
		return v.Kind() == protocol.KindList
	case "map":
		return v.Kind() == protocol.KindMap
	default:
		return true
	}
}
