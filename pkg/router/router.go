// Package router maps free-text requests to one of the service's three
// execution paths: pipeline, search, or agent task.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/auilabs/aui/pkg/agent"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/session"
	"github.com/auilabs/aui/pkg/tools"
)

// Route names one execution path.
type Route string

const (
	RoutePipeline Route = "pipeline"
	RouteSearch   Route = "search"
	RouteAgent    Route = "agent"
)

// ProcessOptions tune one process call.
type ProcessOptions struct {
	Route    Route `json:"route,omitempty"`
	DryRun   bool  `json:"dry_run,omitempty"`
	MaxItems int   `json:"max_items,omitempty"`
	Verbose  bool  `json:"verbose,omitempty"`
}

// Response is the router's uniform reply. Failures become Type "error"
// with a message and optional suggestions instead of propagating.
type Response struct {
	Type        string               `json:"type"`
	Message     string               `json:"message,omitempty"`
	Data        protocol.Value       `json:"data,omitempty"`
	Results     []tools.SearchResult `json:"results,omitempty"`
	Task        *agent.Task          `json:"task,omitempty"`
	Suggestions []string             `json:"suggestions,omitempty"`
}

var (
	pipelineMarkers = []string{"harvest", "load", "transform", "save", "filter", "select", "|"}
	searchMarkers   = []string{"find", "search", "look for", "where", "containing"}
)

// DetectRoute classifies a request by keyword markers; pipeline markers
// win over search markers, anything else goes to the agent.
func DetectRoute(request string) Route {
	lower := strings.ToLower(request)
	for _, marker := range pipelineMarkers {
		if strings.Contains(lower, marker) {
			return RoutePipeline
		}
	}
	for _, marker := range searchMarkers {
		if strings.Contains(lower, marker) {
			return RouteSearch
		}
	}
	return RouteAgent
}

const parseCacheLimit = 128

// Router dispatches requests. Pipelines are dry-run before execution; the
// parse verdict is cached per pipeline text so execution does not parse
// twice.
type Router struct {
	pipeline  tools.PipelineExecutor
	search    tools.SearchService
	agentLoop *agent.Loop
	logger    *slog.Logger

	cacheMu    sync.Mutex
	parseCache map[string]error
}

func New(pipeline tools.PipelineExecutor, search tools.SearchService, agentLoop *agent.Loop, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		pipeline:   pipeline,
		search:     search,
		agentLoop:  agentLoop,
		logger:     logger,
		parseCache: make(map[string]error),
	}
}

// Process routes one request. The session's command history and counters
// are updated on every path.
func (r *Router) Process(ctx context.Context, sess *session.Session, request string, opts ProcessOptions) *Response {
	route := opts.Route
	if route == "" {
		route = DetectRoute(request)
	}

	sess.Lock()
	sess.RecordCommand(request)
	sess.Unlock()

	r.logger.Debug("routing request", "session_id", sess.ID, "route", string(route))

	switch route {
	case RoutePipeline:
		return r.runPipeline(ctx, sess, request, opts)
	case RouteSearch:
		return r.runSearch(ctx, sess, request, opts)
	case RouteAgent:
		return r.runAgent(ctx, sess, request)
	default:
		return errorResponse(fmt.Sprintf("unknown route %q", route),
			"use one of: pipeline, search, agent")
	}
}

func (r *Router) runPipeline(ctx context.Context, sess *session.Session, request string, opts ProcessOptions) *Response {
	if r.pipeline == nil {
		return errorResponse("no pipeline executor configured",
			"configure a pipeline adapter to execute BQL requests")
	}

	if err := r.dryRun(ctx, request); err != nil {
		return errorResponse(fmt.Sprintf("pipeline does not parse: %v", err),
			"check the pipeline syntax")
	}
	if opts.DryRun {
		return &Response{Type: string(RoutePipeline), Message: "pipeline parses"}
	}

	data, err := r.pipeline.Execute(ctx, request, tools.PipelineOptions{MaxItems: opts.MaxItems})
	if err != nil {
		return errorResponse(fmt.Sprintf("pipeline failed: %v", err), "")
	}
	return &Response{Type: string(RoutePipeline), Data: data}
}

// dryRun parses the pipeline, consulting the per-text verdict cache first.
func (r *Router) dryRun(ctx context.Context, pipeline string) error {
	r.cacheMu.Lock()
	verdict, cached := r.parseCache[pipeline]
	r.cacheMu.Unlock()
	if cached {
		return verdict
	}

	_, err := r.pipeline.Execute(ctx, pipeline, tools.PipelineOptions{DryRun: true})

	r.cacheMu.Lock()
	if len(r.parseCache) >= parseCacheLimit {
		r.parseCache = make(map[string]error)
	}
	r.parseCache[pipeline] = err
	r.cacheMu.Unlock()
	return err
}

func (r *Router) runSearch(ctx context.Context, sess *session.Session, request string, opts ProcessOptions) *Response {
	if r.search == nil {
		return errorResponse("no search service configured",
			"configure a search adapter to answer search requests")
	}

	hits, err := r.search.Search(ctx, sess.ID, request, tools.SearchOptions{Limit: opts.MaxItems})
	if err != nil {
		return errorResponse(fmt.Sprintf("search failed: %v", err), "")
	}

	sess.Lock()
	sess.SearchCount++
	sess.Unlock()

	return &Response{
		Type:    string(RouteSearch),
		Message: fmt.Sprintf("%d result(s)", len(hits)),
		Results: hits,
	}
}

func (r *Router) runAgent(ctx context.Context, sess *session.Session, request string) *Response {
	if r.agentLoop == nil {
		return errorResponse("no agent configured",
			"configure an LLM provider to run agent tasks")
	}

	task, err := r.agentLoop.Run(ctx, sess.ID, request, agent.RunOptions{})
	if err != nil {
		return errorResponse(fmt.Sprintf("agent failed: %v", err), "")
	}

	sess.Lock()
	sess.TaskCount++
	sess.CurrentTaskID = task.ID
	sess.TaskHistory = append(sess.TaskHistory, task.ID)
	sess.Unlock()

	return &Response{Type: string(RouteAgent), Message: task.Result, Task: task}
}

func errorResponse(message, suggestion string) *Response {
	resp := &Response{Type: "error", Message: message}
	if suggestion != "" {
		resp.Suggestions = []string{suggestion}
	}
	return resp
}
