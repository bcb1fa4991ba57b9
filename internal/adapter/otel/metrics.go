package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "buildhive"

// Metrics holds all BuildHive metric instruments.
type Metrics struct {
	JobsCreated    metric.Int64Counter
	JobsCompleted  metric.Int64Counter
	JobsFailed     metric.Int64Counter
	TasksExecuted  metric.Int64Counter
	CreditsCharged metric.Float64Counter
	TaskDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.JobsCreated, err = meter.Int64Counter("buildhive.jobs.created",
		metric.WithDescription("Number of jobs created"))
	if err != nil {
		return nil, err
	}

	m.JobsCompleted, err = meter.Int64Counter("buildhive.jobs.completed",
		metric.WithDescription("Number of jobs completed"))
	if err != nil {
		return nil, err
	}

	m.JobsFailed, err = meter.Int64Counter("buildhive.jobs.failed",
		metric.WithDescription("Number of jobs failed"))
	if err != nil {
		return nil, err
	}

	m.TasksExecuted, err = meter.Int64Counter("buildhive.tasks.executed",
		metric.WithDescription("Number of agent tasks executed"))
	if err != nil {
		return nil, err
	}

	m.CreditsCharged, err = meter.Float64Counter("buildhive.credits.charged",
		metric.WithDescription("Total credits deducted from user balances"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("buildhive.task.duration_seconds",
		metric.WithDescription("Agent task duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
