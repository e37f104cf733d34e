// Package aui is the orchestration façade: it owns the session manager and
// wires the buffer, tool, agent, router, admin, archive, persona and book
// components behind one service API. Every operation resolves and touches
// its session; LLM-using paths consult the admin plane on entry and record
// cost on exit.
package aui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/auilabs/aui/pkg/admin"
	"github.com/auilabs/aui/pkg/agent"
	"github.com/auilabs/aui/pkg/archive"
	"github.com/auilabs/aui/pkg/book"
	"github.com/auilabs/aui/pkg/buffer"
	"github.com/auilabs/aui/pkg/config"
	"github.com/auilabs/aui/pkg/embedder"
	"github.com/auilabs/aui/pkg/llms"
	"github.com/auilabs/aui/pkg/persona"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/router"
	"github.com/auilabs/aui/pkg/session"
	"github.com/auilabs/aui/pkg/store"
	"github.com/auilabs/aui/pkg/tools"
)

// Options carry the external collaborators. Every field is optional;
// operations needing an absent collaborator fail with a typed error.
type Options struct {
	Store    store.Store
	LLM      llms.Provider
	Embedder embedder.Embedder
	Pipeline tools.PipelineExecutor
	Search   tools.SearchService
	Approval tools.ApprovalFunc
	Analyzer persona.Analyzer
	Logger   *slog.Logger
}

// Service is the unified orchestration service.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	store    store.Store
	sessions *session.Manager
	registry *tools.Registry
	executor *tools.Executor
	loop     *agent.Loop
	router   *router.Router
	admin    *admin.Plane
	archive  *archive.Driver
	personas *persona.Manager
	books    *book.Builder

	llm      llms.Provider
	embedder embedder.Embedder
	pipeline tools.PipelineExecutor
	search   tools.SearchService
}

func svcErr(action, message string, cause error) error {
	return protocol.NewComponentError("aui", action, message, cause)
}

// New builds the service from configuration and collaborators.
func New(cfg *config.Config, opts Options) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st := opts.Store
	if st == nil {
		var err error
		st, err = openStore(cfg.Store)
		if err != nil {
			return nil, svcErr("New", "open store", err)
		}
	}

	s := &Service{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		llm:      opts.LLM,
		embedder: opts.Embedder,
		pipeline: opts.Pipeline,
		search:   opts.Search,
	}

	s.sessions = session.NewManager(
		cfg.Sessions.MaxSessions, cfg.Sessions.SessionTimeout, cfg.Sessions.CleanupInterval)
	s.sessions.OnEvict = func(sess *session.Session) {
		s.persistSession(context.Background(), sess)
	}

	s.registry = tools.NewRegistry()
	if err := tools.RegisterStandardTools(s.registry, opts.Pipeline, opts.Search, s.resolveBuffer); err != nil {
		return nil, svcErr("New", "register tools", err)
	}
	s.executor = tools.NewExecutor(s.registry, opts.Approval, cfg.Agent.ToolTimeout, logger)

	s.admin = admin.NewPlane(st, admin.Options{
		TrackingEnabled: cfg.Cost.TrackingEnabled(),
		RetentionDays:   cfg.Cost.RetentionDays,
		DefaultTierID:   cfg.Cost.DefaultTierID,
		Logger:          logger,
	})

	if opts.LLM != nil {
		reasoner := agent.NewLLMReasoner(opts.LLM, "")
		s.loop = agent.NewLoop(s.executor, reasoner, cfg.Agent.MaxSteps, logger)
	}
	s.router = router.New(opts.Pipeline, opts.Search, s.loop, logger)

	if opts.Embedder != nil {
		s.archive = archive.NewDriver(st, opts.Embedder, logger)
	}

	analyzer := opts.Analyzer
	if analyzer == nil && opts.LLM != nil {
		llmAnalyzer := persona.NewLLMAnalyzer(opts.LLM)
		llmAnalyzer.OnUsage = s.usageRecorder("persona_analysis")
		analyzer = llmAnalyzer
	}
	s.personas = persona.NewManager(st, opts.Embedder, analyzer, opts.LLM, logger)
	s.personas.OnLLMUsage = s.usageRecorder("persona_sample")

	s.books = book.NewBuilder(st, opts.Embedder, opts.LLM, logger)
	s.books.OnLLMUsage = s.usageRecorder("book_rewrite")

	return s, nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Driver == "memory" {
		return store.NewMemory()
	}
	return store.NewSQL(cfg.Driver, cfg.DSN)
}

// Admin exposes the admin plane for operators.
func (s *Service) Admin() *admin.Plane { return s.admin }

// Registry exposes the tool registry so embedders can add tools.
func (s *Service) Registry() *tools.Registry { return s.registry }

// Close stops the session sweeper and releases the store.
func (s *Service) Close() error {
	s.sessions.Destroy()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// usageRecorder builds a usage hook that records one LLM call under the
// given operation.
func (s *Service) usageRecorder(operation string) func(model string, in, out int, latencyMs int64) {
	return func(model string, in, out int, latencyMs int64) {
		if _, err := s.admin.RecordLlmCost(context.Background(), admin.LlmCall{
			Model:        model,
			Operation:    operation,
			InputTokens:  in,
			OutputTokens: out,
			LatencyMs:    latencyMs,
			Success:      true,
		}); err != nil {
			s.logger.Warn("cost recording failed", "operation", operation, "error", err)
		}
	}
}

// CreateSession allocates a new session.
func (s *Service) CreateSession(userID, name string) *session.Session {
	sess := s.sessions.Create(userID, name)
	s.persistSession(context.Background(), sess)
	return sess
}

// GetSession resolves and touches a session.
func (s *Service) GetSession(ctx context.Context, id string) (*session.Session, error) {
	return s.resolveSession(ctx, id)
}

// DeleteSession removes a session and its snapshot.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	found := s.sessions.Delete(id)
	if s.store != nil {
		if err := s.store.DeleteSessionSnapshot(ctx, id); err == nil {
			found = true
		}
	}
	if !found {
		return svcErr("DeleteSession", fmt.Sprintf("session %q", id), protocol.ErrNotFound)
	}
	return nil
}

// ListSessions returns live sessions, newest-updated first.
func (s *Service) ListSessions() []*session.Session {
	return s.sessions.List()
}

// resolveSession finds a live session, rehydrating from a persisted
// snapshot on a miss, and touches it.
func (s *Service) resolveSession(ctx context.Context, id string) (*session.Session, error) {
	sess := s.sessions.Get(id)
	if sess == nil && s.store != nil {
		snap, err := s.store.GetSessionSnapshot(ctx, id)
		if err == nil && time.Now().Before(snap.ExpiresAt) {
			if restored, err := session.Unmarshal(snap.Data); err == nil {
				s.sessions.Restore(restored)
				sess = restored
			}
		}
	}
	if sess == nil {
		return nil, svcErr("resolveSession", fmt.Sprintf("session %q", id), protocol.ErrNotFound)
	}
	s.sessions.Touch(sess)
	return sess, nil
}

// persistSession snapshots a session when a store is configured.
func (s *Service) persistSession(ctx context.Context, sess *session.Session) {
	if s.store == nil || sess == nil {
		return
	}
	sess.Lock()
	data, err := sess.Marshal()
	snap := &store.SessionSnapshot{
		ID:        sess.ID,
		UserID:    sess.UserID,
		Name:      sess.Name,
		Data:      data,
		UpdatedAt: sess.UpdatedAt,
		ExpiresAt: sess.ExpiresAt,
	}
	sess.Unlock()
	if err != nil {
		s.logger.Warn("session snapshot failed", "session_id", sess.ID, "error", err)
		return
	}
	if err := s.store.SaveSessionSnapshot(ctx, snap); err != nil {
		s.logger.Warn("session snapshot failed", "session_id", sess.ID, "error", err)
	}
}

// resolveBuffer is the session-scoped buffer lookup handed to the
// standard buffer tools.
func (s *Service) resolveBuffer(sessionID, bufferName string) (*buffer.Buffer, error) {
	sess := s.sessions.Get(sessionID)
	if sess == nil {
		return nil, svcErr("resolveBuffer", fmt.Sprintf("session %q", sessionID), protocol.ErrNotFound)
	}
	sess.Lock()
	defer sess.Unlock()
	if bufferName == "" {
		bufferName = sess.ActiveBufferName
	}
	b, ok := sess.Buffers[bufferName]
	if !ok {
		return nil, svcErr("resolveBuffer", fmt.Sprintf("buffer %q", bufferName), protocol.ErrNotFound)
	}
	return b, nil
}

// gateLLM enforces tier limits and model allowance before an LLM path.
func (s *Service) gateLLM(ctx context.Context, action, userID string) error {
	if err := s.admin.EnforceLimits(ctx, userID); err != nil {
		return err
	}
	model := s.llm.DefaultModel()
	tier := s.admin.TierFor(userID)
	if !s.admin.IsModelAllowed(tier, model) {
		return svcErr(action,
			fmt.Sprintf("model %q is not allowed for tier %q", model, tier.ID),
			protocol.ErrModelNotAllowed)
	}
	return nil
}

// recordAgentCost records the token delta a run or resume added to a task.
func (s *Service) recordAgentCost(ctx context.Context, sess *session.Session, task *agent.Task, prevIn, prevOut int) {
	if task == nil {
		return
	}
	in := task.InputTokens - prevIn
	out := task.OutputTokens - prevOut
	if in <= 0 && out <= 0 {
		return
	}
	if _, err := s.admin.RecordLlmCost(ctx, admin.LlmCall{
		UserID:       sess.UserID,
		SessionID:    sess.ID,
		Model:        s.llm.DefaultModel(),
		Operation:    "agent",
		InputTokens:  in,
		OutputTokens: out,
		Success:      task.Status != agent.StatusFailed,
		Error:        task.Error,
	}); err != nil {
		s.logger.Warn("cost recording failed", "task_id", task.ID, "error", err)
	}
}

// Process routes one natural-language request.
func (s *Service) Process(ctx context.Context, sessionID, request string, opts router.ProcessOptions) (*router.Response, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	route := opts.Route
	if route == "" {
		route = router.DetectRoute(request)
	}
	if route == router.RouteAgent && s.llm != nil {
		if err := s.gateLLM(ctx, "Process", sess.UserID); err != nil {
			return nil, err
		}
		s.admin.TaskStarted(sess.UserID)
		defer s.admin.TaskFinished(sess.UserID)
	}

	resp := s.router.Process(ctx, sess, request, opts)
	if resp.Task != nil {
		s.recordAgentCost(ctx, sess, resp.Task, 0, 0)
	}
	s.persistSession(ctx, sess)
	return resp, nil
}

// ExecuteBql runs a pipeline directly, bypassing route detection.
func (s *Service) ExecuteBql(ctx context.Context, sessionID, pipeline string, opts router.ProcessOptions) (*router.Response, error) {
	opts.Route = router.RoutePipeline
	return s.Process(ctx, sessionID, pipeline, opts)
}

// RunAgent starts an agent task for the session's request.
func (s *Service) RunAgent(ctx context.Context, sessionID, request string, opts agent.RunOptions) (*agent.Task, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.loop == nil {
		return nil, svcErr("RunAgent", "no LLM provider configured", protocol.ErrAdapterFailure)
	}
	if err := s.gateLLM(ctx, "RunAgent", sess.UserID); err != nil {
		return nil, err
	}

	s.admin.TaskStarted(sess.UserID)
	defer s.admin.TaskFinished(sess.UserID)

	sess.Lock()
	sess.RecordCommand(request)
	sess.Unlock()

	task, runErr := s.loop.Run(ctx, sess.ID, request, opts)
	if task != nil {
		sess.Lock()
		sess.TaskCount++
		sess.CurrentTaskID = task.ID
		sess.TaskHistory = append(sess.TaskHistory, task.ID)
		sess.Unlock()
		s.recordAgentCost(ctx, sess, task, 0, 0)
	}
	s.persistSession(ctx, sess)
	return task, runErr
}

// ResumeAgent answers an awaiting-input task and re-enters the loop.
func (s *Service) ResumeAgent(ctx context.Context, sessionID, taskID, answer string, opts agent.RunOptions) (*agent.Task, error) {
	sess, err := s.resolveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.loop == nil {
		return nil, svcErr("ResumeAgent", "no LLM provider configured", protocol.ErrAdapterFailure)
	}
	if err := s.gateLLM(ctx, "ResumeAgent", sess.UserID); err != nil {
		return nil, err
	}

	prev, err := s.loop.Get(taskID)
	if err != nil {
		return nil, err
	}
	prevIn, prevOut := prev.InputTokens, prev.OutputTokens

	s.admin.TaskStarted(sess.UserID)
	defer s.admin.TaskFinished(sess.UserID)

	task, runErr := s.loop.Resume(ctx, taskID, answer, opts)
	if task != nil {
		s.recordAgentCost(ctx, sess, task, prevIn, prevOut)
	}
	s.persistSession(ctx, sess)
	return task, runErr
}

// GetTask returns a tracked agent task.
func (s *Service) GetTask(ctx context.Context, sessionID, taskID string) (*agent.Task, error) {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if s.loop == nil {
		return nil, svcErr("GetTask", fmt.Sprintf("task %q", taskID), protocol.ErrNotFound)
	}
	return s.loop.Get(taskID)
}

// CancelTask requests cancellation of a running task.
func (s *Service) CancelTask(ctx context.Context, sessionID, taskID string) error {
	if _, err := s.resolveSession(ctx, sessionID); err != nil {
		return err
	}
	if s.loop == nil {
		return svcErr("CancelTask", fmt.Sprintf("task %q", taskID), protocol.ErrNotFound)
	}
	return s.loop.Cancel(taskID)
}
