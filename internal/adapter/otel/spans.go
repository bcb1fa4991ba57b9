package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "buildhive"

// StartJobSpan starts a span covering one job execution pass.
func StartJobSpan(ctx context.Context, jobID, projectID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "job.execute",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
			attribute.String("project.id", projectID),
		),
	)
}

// StartTaskSpan starts a span for one agent task within a job.
func StartTaskSpan(ctx context.Context, taskID, agentType string, index int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task.execute",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.agent", agentType),
			attribute.Int("task.index", index),
		),
	)
}

// StartPlanSpan starts a span for the planning phase of a job.
func StartPlanSpan(ctx context.Context, jobID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "job.plan",
		trace.WithAttributes(
			attribute.String("job.id", jobID),
		),
	)
}
