package aui

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auilabs/aui/pkg/admin"
	"github.com/auilabs/aui/pkg/agent"
	"github.com/auilabs/aui/pkg/archive"
	"github.com/auilabs/aui/pkg/book"
	"github.com/auilabs/aui/pkg/buffer"
	"github.com/auilabs/aui/pkg/config"
	"github.com/auilabs/aui/pkg/embedder"
	"github.com/auilabs/aui/pkg/llms"
	"github.com/auilabs/aui/pkg/protocol"
	"github.com/auilabs/aui/pkg/router"
	"github.com/auilabs/aui/pkg/store"
	"github.com/auilabs/aui/pkg/tools"
)

type stubLLM struct {
	model     string
	responses []string
	calls     int
}

func (s *stubLLM) DefaultModel() string { return s.model }

func (s *stubLLM) Complete(_ context.Context, _ llms.Request) (*llms.Response, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return &llms.Response{Text: s.responses[i], InputTokens: 40, OutputTokens: 10, LatencyMs: 3}, nil
}

type stubPipeline struct{ executions int }

func (p *stubPipeline) Execute(_ context.Context, pipeline string, opts tools.PipelineOptions) (protocol.Value, error) {
	if pipeline == "bad pipeline" {
		return protocol.Null(), fmt.Errorf("syntax error")
	}
	if opts.DryRun {
		return protocol.Null(), nil
	}
	p.executions++
	return protocol.String("ran: " + pipeline), nil
}

type stubSearch struct {
	hits []tools.SearchResult
}

func (s *stubSearch) Search(_ context.Context, _, query string, _ tools.SearchOptions) ([]tools.SearchResult, error) {
	return s.hits, nil
}
func (s *stubSearch) Refine(_ context.Context, _ string, _ tools.SearchOptions) ([]tools.SearchResult, error) {
	return s.hits, nil
}
func (s *stubSearch) AddAnchor(context.Context, string, string, string) error { return nil }
func (s *stubSearch) Results(_ context.Context, _ string) ([]tools.SearchResult, error) {
	return s.hits, nil
}

type flatEmbedder struct{}

func (flatEmbedder) Model() string { return "fake-embed" }
func (flatEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}
func (flatEmbedder) EmbedNodes(_ context.Context, nodes []embedder.Node) ([]embedder.NodeEmbedding, error) {
	out := make([]embedder.NodeEmbedding, len(nodes))
	for i, n := range nodes {
		out[i] = embedder.NodeEmbedding{NodeID: n.ID, Embedding: []float32{1, 0}}
	}
	return out, nil
}

func newService(t *testing.T, llm llms.Provider) (*Service, *stubPipeline) {
	t.Helper()
	mem, err := store.NewMemory()
	require.NoError(t, err)

	pipeline := &stubPipeline{}
	svc, err := New(config.Default(), Options{
		Store:    mem,
		LLM:      llm,
		Embedder: flatEmbedder{},
		Pipeline: pipeline,
		Search: &stubSearch{hits: []tools.SearchResult{
			{ID: "r1", Text: "first hit", Score: 0.9, Source: "journal"},
			{ID: "r2", Text: "second hit", Score: 0.7, Source: "chat"},
		}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, pipeline
}

func TestSessionLifecycle(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	sess := svc.CreateSession("u1", "workbench")
	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	assert.Len(t, svc.ListSessions(), 1)

	require.NoError(t, svc.DeleteSession(ctx, sess.ID))
	_, err = svc.GetSession(ctx, sess.ID)
	assert.True(t, errors.Is(err, protocol.ErrNotFound))
}

func TestSessionRehydration(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	sess := svc.CreateSession("u1", "")
	_, err := svc.CreateBuffer(ctx, sess.ID, "notes", []protocol.Value{protocol.String("a")})
	require.NoError(t, err)

	// Simulate eviction from the live map; the snapshot stays behind.
	svc.sessions.Delete(sess.ID)

	restored, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, restored.ID)

	b, err := svc.GetBuffer(ctx, sess.ID, "notes")
	require.NoError(t, err)
	require.Len(t, b.Working(), 1)
	assert.Equal(t, "a", b.Working()[0].Str())
}

func TestBufferWorkflow(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	sess := svc.CreateSession("u1", "")

	_, err := svc.CreateBuffer(ctx, sess.ID, "draft", []protocol.Value{protocol.String("one")})
	require.NoError(t, err)

	_, err = svc.CreateBuffer(ctx, sess.ID, "draft", nil)
	assert.True(t, errors.Is(err, protocol.ErrInvalidArgs))

	require.NoError(t, svc.AppendToBuffer(ctx, sess.ID, "draft", []protocol.Value{protocol.String("two")}))
	v1, err := svc.CommitBuffer(ctx, sess.ID, "draft", "add two")
	require.NoError(t, err)

	require.NoError(t, svc.SetBufferContent(ctx, sess.ID, "draft",
		[]protocol.Value{protocol.String("one"), protocol.String("2")}))
	_, err = svc.CommitBuffer(ctx, sess.ID, "draft", "tweak")
	require.NoError(t, err)

	history, err := svc.BufferHistory(ctx, sess.ID, "draft", 0)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	diff, err := svc.DiffBuffer(ctx, sess.ID, "draft", v1.ID, "")
	require.NoError(t, err)
	assert.Len(t, diff.Modified, 1)
	assert.Equal(t, 1, diff.Modified[0].Index)

	back, err := svc.RollbackBuffer(ctx, sess.ID, "draft", 1)
	require.NoError(t, err)
	assert.Equal(t, v1.ID, back.ID)

	_, err = svc.CreateBufferBranch(ctx, sess.ID, "draft", "alt", "")
	require.NoError(t, err)
	require.NoError(t, svc.SwitchBufferBranch(ctx, sess.ID, "draft", "alt"))
	require.NoError(t, svc.AppendToBuffer(ctx, sess.ID, "draft", []protocol.Value{protocol.String("three")}))
	_, err = svc.CommitBuffer(ctx, sess.ID, "draft", "branch work")
	require.NoError(t, err)

	require.NoError(t, svc.SwitchBufferBranch(ctx, sess.ID, "draft", buffer.MainBranch))
	result, err := svc.MergeBufferBranch(ctx, sess.ID, "draft", "alt", buffer.MergeAuto, "merge alt")
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestProcessPipelineRoute(t *testing.T) {
	svc, pipeline := newService(t, nil)
	ctx := context.Background()
	sess := svc.CreateSession("u1", "")

	resp, err := svc.Process(ctx, sess.ID, "load journals | select recent", router.ProcessOptions{})
	require.NoError(t, err)
	assert.Equal(t, "pipeline", resp.Type)
	assert.Equal(t, "ran: load journals | select recent", resp.Data.Str())
	assert.Equal(t, 1, pipeline.executions)
	assert.Equal(t, 1, sess.CommandCount)
}

func TestExecuteBqlDryRun(t *testing.T) {
	svc, pipeline := newService(t, nil)
	sess := svc.CreateSession("u1", "")

	resp, err := svc.ExecuteBql(context.Background(), sess.ID, "load x", router.ProcessOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "pipeline parses", resp.Message)
	assert.Zero(t, pipeline.executions)
}

func TestRunAgentRecordsCost(t *testing.T) {
	llm := &stubLLM{
		model:     "claude-haiku",
		responses: []string{`{"next_action":"complete","reasoning":"done","answer":"all done","confidence":0.9}`},
	}
	svc, _ := newService(t, llm)
	ctx := context.Background()
	sess := svc.CreateSession("u1", "")

	task, err := svc.RunAgent(ctx, sess.ID, "finish up", agent.RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, agent.StatusCompleted, task.Status)
	assert.Equal(t, "all done", task.Result)

	assert.Equal(t, 1, sess.TaskCount)
	assert.Equal(t, task.ID, sess.CurrentTaskID)

	usage, err := svc.GetUsage(ctx, sess.ID, admin.DayKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, int64(50), usage.TokensUsed)
}

func TestRunAgentModelNotAllowed(t *testing.T) {
	llm := &stubLLM{model: "gpt-4o", responses: []string{`{"next_action":"complete"}`}}
	svc, _ := newService(t, llm)
	sess := svc.CreateSession("u1", "")

	_, err := svc.RunAgent(context.Background(), sess.ID, "do it", agent.RunOptions{})
	assert.True(t, errors.Is(err, protocol.ErrModelNotAllowed))
	assert.Zero(t, llm.calls)
}

func TestRunAgentLimitExceeded(t *testing.T) {
	llm := &stubLLM{model: "claude-haiku", responses: []string{`{"next_action":"complete"}`}}
	svc, _ := newService(t, llm)
	ctx := context.Background()
	sess := svc.CreateSession("heavy", "")

	// Push the user past the free tier's daily token allowance.
	_, err := svc.admin.RecordLlmCost(ctx, admin.LlmCall{
		UserID: "heavy", Model: "llama3", Operation: "agent",
		InputTokens: 11_000, Success: true,
	})
	require.NoError(t, err)

	_, err = svc.RunAgent(ctx, sess.ID, "more work", agent.RunOptions{})
	assert.True(t, admin.IsLimitExceeded(err))
	assert.Zero(t, llm.calls)
}

func TestSearchToBuffer(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	sess := svc.CreateSession("u1", "")

	hits, err := svc.Search(ctx, sess.ID, "the sea", tools.SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
	assert.Equal(t, 1, sess.SearchCount)

	n, err := svc.SearchToBuffer(ctx, sess.ID, "results", SearchToBufferOptions{Create: true, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := svc.GetBuffer(ctx, sess.ID, "results")
	require.NoError(t, err)
	require.Len(t, b.Working(), 1)
	id, ok := b.Working()[0].Get("id")
	require.True(t, ok)
	assert.Equal(t, "r1", id.Str())

	_, err = svc.SearchToBuffer(ctx, sess.ID, "missing", SearchToBufferOptions{})
	assert.True(t, errors.Is(err, protocol.ErrNotFound))
}

func TestAdminOps(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	sess := svc.CreateSession("op", "")

	require.NoError(t, svc.SetConfigValue(ctx, sess.ID, "agent", "max_steps", protocol.Int(5), "tuning"))
	v, err := svc.GetConfigValue(ctx, sess.ID, "agent", "max_steps")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.Int())

	p, err := svc.CreatePrompt(ctx, sess.ID, "greeting", "Hello {{name}}!", "")
	require.NoError(t, err)
	out, err := svc.TestPrompt(ctx, sess.ID, p.ID, map[string]string{"name": "there"})
	require.NoError(t, err)
	assert.Equal(t, "Hello there!", out)

	tiers, err := svc.ListTiers(ctx, sess.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(tiers), 3)

	require.NoError(t, svc.SetUserTier(ctx, sess.ID, "op", "pro"))
	status, err := svc.CheckLimits(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "pro", status.Tier)
}

func TestArchiveAndClusterOps(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	sess := svc.CreateSession("u1", "")

	mem := svc.store
	for i := 0; i < 6; i++ {
		require.NoError(t, mem.AddNode(ctx, &store.ArchiveNode{
			ID:        fmt.Sprintf("n%d", i),
			Text:      fmt.Sprintf("archive entry %d with plenty of words to embed", i),
			WordCount: 9,
		}))
	}

	stats, err := svc.GetArchiveStats(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, stats.TotalNodes)
	assert.Equal(t, 6, stats.PendingNodes)

	result, err := svc.EmbedAll(ctx, sess.ID, archive.EmbedOptions{})
	require.NoError(t, err)
	assert.Equal(t, 6, result.Embedded)

	discovered, err := svc.DiscoverClusters(ctx, sess.ID, archive.DiscoverOptions{MinClusterSize: 3})
	require.NoError(t, err)
	require.NotEmpty(t, discovered.Clusters)

	cl := discovered.Clusters[0]
	require.NoError(t, svc.SaveCluster(ctx, sess.ID, cl))
	listed, err := svc.ListClusters(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	bk, err := svc.CreateBookFromCluster(ctx, sess.ID, cl.ID, book.CreateOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, bk.Chapters)

	artifact, err := svc.ExportBook(ctx, sess.ID, bk.ID, "markdown")
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", artifact.ContentType)

	got, err := svc.DownloadArtifact(ctx, sess.ID, artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, artifact.ID, got.ID)
}
