package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auilabs/aui/pkg/buffer"
	"github.com/auilabs/aui/pkg/protocol"
)

type stubTool struct {
	def Definition
	fn  func(ctx context.Context, args map[string]protocol.Value) (Result, error)
}

func (t *stubTool) GetDefinition() Definition { return t.def }
func (t *stubTool) Execute(ctx context.Context, args map[string]protocol.Value) (Result, error) {
	return t.fn(ctx, args)
}

func newExecutor(t *testing.T, tools []Tool, approval ApprovalFunc) *Executor {
	t.Helper()
	r := NewRegistry()
	for _, tool := range tools {
		require.NoError(t, r.Register(tool))
	}
	return NewExecutor(r, approval, time.Second, nil)
}

func TestExecuteValidatesArgs(t *testing.T) {
	tool := &stubTool{
		def: Definition{
			Name: "echo",
			Parameters: []Parameter{
				{Name: "text", Type: "string", Required: true},
				{Name: "mode", Type: "string", Enum: []string{"plain", "loud"}},
				{Name: "limit", Type: "int", Default: protocol.Int(5)},
			},
		},
		fn: func(_ context.Context, args map[string]protocol.Value) (Result, error) {
			return Result{Success: true, Data: args["limit"]}, nil
		},
	}
	e := newExecutor(t, []Tool{tool}, nil)
	ctx := context.Background()

	_, err := e.Execute(ctx, Call{Tool: "echo"}, ExecuteOptions{})
	assert.True(t, errors.Is(err, protocol.ErrInvalidArgs))

	_, err = e.Execute(ctx, Call{Tool: "echo", Args: map[string]protocol.Value{
		"text": protocol.Int(1),
	}}, ExecuteOptions{})
	assert.True(t, errors.Is(err, protocol.ErrInvalidArgs))

	_, err = e.Execute(ctx, Call{Tool: "echo", Args: map[string]protocol.Value{
		"text": protocol.String("hi"),
		"mode": protocol.String("silent"),
	}}, ExecuteOptions{})
	assert.True(t, errors.Is(err, protocol.ErrInvalidArgs))

	res, err := e.Execute(ctx, Call{Tool: "echo", Args: map[string]protocol.Value{
		"text": protocol.String("hi"),
	}}, ExecuteOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(5), res.Data.Int())

	_, err = e.Execute(ctx, Call{Tool: "nope"}, ExecuteOptions{})
	assert.True(t, errors.Is(err, protocol.ErrNotFound))
}

func TestExecuteApprovalGate(t *testing.T) {
	tool := &stubTool{
		def: Definition{Name: "wipe", Destructive: true, RequiresApproval: true},
		fn: func(context.Context, map[string]protocol.Value) (Result, error) {
			return Result{Success: true}, nil
		},
	}

	t.Run("denied", func(t *testing.T) {
		e := newExecutor(t, []Tool{tool}, func(context.Context, Call, Definition) (bool, error) {
			return false, nil
		})
		res, err := e.Execute(context.Background(), Call{Tool: "wipe"}, ExecuteOptions{})
		assert.True(t, errors.Is(err, protocol.ErrApprovalDenied))
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "wipe")
	})

	t.Run("approved", func(t *testing.T) {
		e := newExecutor(t, []Tool{tool}, func(context.Context, Call, Definition) (bool, error) {
			return true, nil
		})
		res, err := e.Execute(context.Background(), Call{Tool: "wipe"}, ExecuteOptions{})
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("auto-approve skips the gate", func(t *testing.T) {
		e := newExecutor(t, []Tool{tool}, func(context.Context, Call, Definition) (bool, error) {
			return false, nil
		})
		res, err := e.Execute(context.Background(), Call{Tool: "wipe"}, ExecuteOptions{AutoApprove: true})
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("no approver configured", func(t *testing.T) {
		e := newExecutor(t, []Tool{tool}, nil)
		_, err := e.Execute(context.Background(), Call{Tool: "wipe"}, ExecuteOptions{})
		assert.True(t, errors.Is(err, protocol.ErrApprovalDenied))
	})
}

func TestExecuteTimeout(t *testing.T) {
	tool := &stubTool{
		def: Definition{Name: "slow"},
		fn: func(ctx context.Context, _ map[string]protocol.Value) (Result, error) {
			<-ctx.Done()
			return Result{}, ctx.Err()
		},
	}
	e := newExecutor(t, []Tool{tool}, nil)

	res, err := e.Execute(context.Background(), Call{Tool: "slow"},
		ExecuteOptions{Timeout: 20 * time.Millisecond})
	assert.True(t, errors.Is(err, protocol.ErrTimeout))
	assert.False(t, res.Success)
	assert.Equal(t, "timeout", res.Error)
}

func TestExecuteRecoversPanic(t *testing.T) {
	tool := &stubTool{
		def: Definition{Name: "boom"},
		fn: func(context.Context, map[string]protocol.Value) (Result, error) {
			panic("kaboom")
		},
	}
	e := newExecutor(t, []Tool{tool}, nil)

	res, err := e.Execute(context.Background(), Call{Tool: "boom"}, ExecuteOptions{})
	assert.True(t, errors.Is(err, protocol.ErrInternal))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "kaboom")
}

type stubPipeline struct {
	lastOpts PipelineOptions
}

func (p *stubPipeline) Execute(_ context.Context, pipeline string, opts PipelineOptions) (protocol.Value, error) {
	p.lastOpts = opts
	return protocol.List(protocol.Int(1), protocol.Int(2)), nil
}

func TestPipelineTool(t *testing.T) {
	pipe := &stubPipeline{}
	e := newExecutor(t, []Tool{NewPipelineTool(pipe)}, nil)

	res, err := e.Execute(context.Background(), Call{
		Tool: "bql_execute",
		Args: map[string]protocol.Value{
			"pipeline":  protocol.String("load notes | select 2"),
			"max_items": protocol.Int(2),
		},
	}, ExecuteOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Data.List(), 2)
	assert.Equal(t, 2, pipe.lastOpts.MaxItems)
}

func TestBufferTools(t *testing.T) {
	b := buffer.New("notes", nil)
	resolve := func(sessionID, name string) (*buffer.Buffer, error) {
		require.Equal(t, "s1", sessionID)
		if name != "notes" {
			return nil, protocol.ErrNotFound
		}
		return b, nil
	}

	r := NewRegistry()
	require.NoError(t, RegisterStandardTools(r, nil, nil, resolve))
	e := NewExecutor(r, nil, time.Second, nil)
	ctx := WithSessionID(context.Background(), "s1")

	res, err := e.Execute(ctx, Call{
		Tool: "buffer_append",
		Args: map[string]protocol.Value{
			"buffer": protocol.String("notes"),
			"items":  protocol.List(protocol.String("a")),
		},
	}, ExecuteOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), res.Data.Int())

	res, err = e.Execute(ctx, Call{
		Tool: "buffer_commit",
		Args: map[string]protocol.Value{
			"buffer":  protocol.String("notes"),
			"message": protocol.String("add a"),
		},
	}, ExecuteOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.Data.Str())

	// Rollback is approval-gated; auto-approve lets it through.
	res, err = e.Execute(ctx, Call{
		Tool: "buffer_rollback",
		Args: map[string]protocol.Value{"buffer": protocol.String("notes")},
	}, ExecuteOptions{})
	assert.True(t, errors.Is(err, protocol.ErrApprovalDenied))

	res, err = e.Execute(ctx, Call{
		Tool: "buffer_rollback",
		Args: map[string]protocol.Value{"buffer": protocol.String("notes")},
	}, ExecuteOptions{AutoApprove: true})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Empty(t, b.Working())
}
