package tools

import (
	"context"
	"fmt"

	"github.com/auilabs/aui/pkg/buffer"
	"github.com/auilabs/aui/pkg/protocol"
)

// PipelineTool executes textual pipelines through the pipeline adapter.
type PipelineTool struct {
	executor PipelineExecutor
}

func NewPipelineTool(executor PipelineExecutor) *PipelineTool {
	return &PipelineTool{executor: executor}
}

func (t *PipelineTool) GetDefinition() Definition {
	return Definition{
		Name:        "bql_execute",
		Description: "Execute a BQL pipeline and return its result data",
		Parameters: []Parameter{
			{Name: "pipeline", Type: "string", Description: "Pipeline text to execute", Required: true},
			{Name: "dry_run", Type: "bool", Description: "Parse only, do not execute"},
			{Name: "max_items", Type: "int", Description: "Cap on returned items"},
		},
	}
}

func (t *PipelineTool) Execute(ctx context.Context, args map[string]protocol.Value) (Result, error) {
	opts := PipelineOptions{
		DryRun:   args["dry_run"].Bool(),
		MaxItems: int(args["max_items"].Int()),
	}
	data, err := t.executor.Execute(ctx, args["pipeline"].Str(), opts)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true, Data: data}, nil
}

// SearchTool runs semantic search for the calling session.
type SearchTool struct {
	search SearchService
}

func NewSearchTool(search SearchService) *SearchTool {
	return &SearchTool{search: search}
}

func (t *SearchTool) GetDefinition() Definition {
	return Definition{
		Name:        "search",
		Description: "Semantic search over the archive",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "limit", Type: "int", Description: "Maximum number of results"},
			{Name: "min_score", Type: "float", Description: "Minimum similarity score"},
		},
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]protocol.Value) (Result, error) {
	opts := SearchOptions{
		Limit:    int(args["limit"].Int()),
		MinScore: args["min_score"].Float(),
	}
	hits, err := t.search.Search(ctx, SessionIDFrom(ctx), args["query"].Str(), opts)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}

	items := make([]protocol.Value, len(hits))
	for i, hit := range hits {
		items[i] = protocol.Map(map[string]protocol.Value{
			"id":    protocol.String(hit.ID),
			"text":  protocol.String(hit.Text),
			"score": protocol.Float(hit.Score),
		})
	}
	return Result{Success: true, Data: protocol.List(items...)}, nil
}

// BufferResolver looks up a buffer owned by the calling session.
type BufferResolver func(sessionID, bufferName string) (*buffer.Buffer, error)

type bufferTool struct {
	def     Definition
	resolve BufferResolver
	run     func(b *buffer.Buffer, args map[string]protocol.Value) (protocol.Value, error)
}

func (t *bufferTool) GetDefinition() Definition { return t.def }

func (t *bufferTool) Execute(ctx context.Context, args map[string]protocol.Value) (Result, error) {
	b, err := t.resolve(SessionIDFrom(ctx), args["buffer"].Str())
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	data, err := t.run(b, args)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, nil
	}
	return Result{Success: true, Data: data}, nil
}

// NewBufferTools builds the buffer_* tool set over a session-scoped buffer
// resolver.
func NewBufferTools(resolve BufferResolver) []Tool {
	bufParam := Parameter{Name: "buffer", Type: "string", Description: "Buffer name", Required: true}

	return []Tool{
		&bufferTool{
			def: Definition{
				Name:        "buffer_set_content",
				Description: "Replace a buffer's working content",
				Parameters: []Parameter{bufParam,
					{Name: "items", Type: "list", Description: "New content items", Required: true}},
			},
			resolve: resolve,
			run: func(b *buffer.Buffer, args map[string]protocol.Value) (protocol.Value, error) {
				b.SetWorkingContent(args["items"].List())
				return protocol.Int(int64(len(b.Working()))), nil
			},
		},
		&bufferTool{
			def: Definition{
				Name:        "buffer_append",
				Description: "Append items to a buffer's working content",
				Parameters: []Parameter{bufParam,
					{Name: "items", Type: "list", Description: "Items to append", Required: true}},
			},
			resolve: resolve,
			run: func(b *buffer.Buffer, args map[string]protocol.Value) (protocol.Value, error) {
				b.Append(args["items"].List())
				return protocol.Int(int64(len(b.Working()))), nil
			},
		},
		&bufferTool{
			def: Definition{
				Name:        "buffer_commit",
				Description: "Commit a buffer's working content as a new version",
				Parameters: []Parameter{bufParam,
					{Name: "message", Type: "string", Description: "Commit message", Required: true}},
			},
			resolve: resolve,
			run: func(b *buffer.Buffer, args map[string]protocol.Value) (protocol.Value, error) {
				v, err := b.Commit(args["message"].Str())
				if err != nil {
					return protocol.Null(), err
				}
				return protocol.String(v.ID), nil
			},
		},
		&bufferTool{
			def: Definition{
				Name:             "buffer_rollback",
				Description:      "Move a buffer's head back by the given number of versions",
				Destructive:      true,
				RequiresApproval: true,
				Parameters: []Parameter{bufParam,
					{Name: "steps", Type: "int", Description: "Versions to walk back", Default: protocol.Int(1)}},
			},
			resolve: resolve,
			run: func(b *buffer.Buffer, args map[string]protocol.Value) (protocol.Value, error) {
				v, err := b.Rollback(int(args["steps"].Int()))
				if err != nil {
					return protocol.Null(), err
				}
				return protocol.String(v.ID), nil
			},
		},
	}
}

// RegisterStandardTools wires the standard tool set into a registry.
// Adapters left nil skip their tools.
func RegisterStandardTools(r *Registry, pipeline PipelineExecutor, search SearchService, buffers BufferResolver) error {
	var toRegister []Tool
	if pipeline != nil {
		toRegister = append(toRegister, NewPipelineTool(pipeline))
	}
	if search != nil {
		toRegister = append(toRegister, NewSearchTool(search))
	}
	if buffers != nil {
		toRegister = append(toRegister, NewBufferTools(buffers)...)
	}

	for _, t := range toRegister {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.GetDefinition().Name, err)
		}
	}
	return nil
}
