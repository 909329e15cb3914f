// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package observability exposes the process-wide Prometheus metrics.
// Collectors are registered at init via promauto; callers just increment.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskExecutions counts finished task executions by type and status.
	TaskExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmesh",
		Name:      "task_executions_total",
		Help:      "Finished task executions by task type and final status.",
	}, []string{"task_type", "status"})

	// TaskDuration observes wall-clock task execution time.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "taskmesh",
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"task_type"})

	// BreakerRejections counts executions rejected by an open circuit breaker.
	BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmesh",
		Name:      "breaker_rejections_total",
		Help:      "Task executions rejected because the type's breaker was open.",
	}, []string{"task_type"})

	// WorkflowTransitions counts workflow lifecycle transitions.
	WorkflowTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmesh",
		Name:      "workflow_transitions_total",
		Help:      "Workflow lifecycle transitions by target status.",
	}, []string{"to_status"})

	// RecoveryActions counts recovery decisions by action.
	RecoveryActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taskmesh",
		Name:      "recovery_actions_total",
		Help:      "Recovery actions selected after task failures.",
	}, []string{"action"})

	// ActiveWorkflows gauges currently running workflows.
	ActiveWorkflows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taskmesh",
		Name:      "active_workflows",
		Help:      "Workflows currently in the running state.",
	})
)
