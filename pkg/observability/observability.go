// Package observability exposes the tracing surface the core instruments.
// Exporter and provider setup is the embedding application's concern; without
// one, otel's default noop provider applies.
package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	AttrSessionID    = "session.id"
	AttrTaskID       = "task.id"
	AttrToolName     = "tool.name"
	AttrModel        = "llm.model"
	AttrTokensInput  = "llm.tokens.input"
	AttrTokensOutput = "llm.tokens.output"

	SpanAgentRun      = "aui.agent_run"
	SpanAgentStep     = "aui.agent_step"
	SpanToolExecution = "aui.tool_execution"
	SpanEmbedBatch    = "aui.embed_batch"

	DefaultServiceName = "aui"
)

// GetTracer returns the named tracer from the global provider.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
