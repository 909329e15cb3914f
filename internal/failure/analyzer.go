// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package failure classifies task failures and selects recovery strategies.
//
// Classification is rule-based on the error message. Recorded outcomes feed
// the frequency component of later analyses, so repeated failures of the
// same task escalate operator-facing fields without changing automatic
// behavior.
package failure

import (
	"strings"
	"sync"
	"time"
)

// Type buckets a failure by its likely root cause.
type Type string

const (
	// Transient failures (timeouts, network blips) are expected to clear on
	// retry.
	Transient Type = "transient"
	// Permanent failures (not found, invalid input) will not clear on retry.
	Permanent Type = "permanent"
	// Systemic failures point at a broken service or subsystem.
	Systemic Type = "systemic"
	// Resource failures point at memory/CPU exhaustion.
	Resource Type = "resource"
)

// Severity grades a failure for operator attention.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Analysis is the structured outcome of classifying one failure.
// RecoveryComplexity prioritizes operator attention only; it never alters
// automatic recovery behavior.
type Analysis struct {
	TaskID             string   `json:"taskId"`
	Type               Type     `json:"failureType"`
	Severity           Severity `json:"severity"`
	Frequency          int      `json:"frequency"`
	Impact             string   `json:"impact"`
	RecoveryComplexity int      `json:"recoveryComplexity"`
}

// Analyzer classifies failures and keeps a per-task failure history.
type Analyzer struct {
	mu      sync.Mutex
	history map[string][]time.Time
}

// NewAnalyzer creates an analyzer with empty history.
func NewAnalyzer() *Analyzer {
	return &Analyzer{history: make(map[string][]time.Time)}
}

// Analyze classifies err for the given task and records the occurrence.
func (a *Analyzer) Analyze(taskID string, err error) Analysis {
	a.mu.Lock()
	a.history[taskID] = append(a.history[taskID], time.Now())
	frequency := len(a.history[taskID])
	a.mu.Unlock()

	msg := ""
	if err != nil {
		msg = strings.ToLower(err.Error())
	}

	ft := classify(msg)
	severity := severityFor(ft, msg, frequency)

	return Analysis{
		TaskID:             taskID,
		Type:               ft,
		Severity:           severity,
		Frequency:          frequency,
		Impact:             impactFor(ft),
		RecoveryComplexity: complexityFor(ft, frequency),
	}
}

// Frequency returns the recorded failure count for a task.
func (a *Analyzer) Frequency(taskID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.history[taskID])
}

func classify(msg string) Type {
	switch {
	case containsAny(msg, "timeout", "timed out", "network", "connection reset", "temporarily unavailable"):
		return Transient
	case containsAny(msg, "not found", "invalid", "malformed", "unsupported"):
		return Permanent
	case containsAny(msg, "system", "service", "internal server"):
		return Systemic
	case containsAny(msg, "memory", "cpu", "resource", "quota"):
		return Resource
	default:
		return Transient
	}
}

func severityFor(ft Type, msg string, frequency int) Severity {
	severity := SeverityLow
	switch ft {
	case Permanent:
		severity = SeverityMedium
	case Systemic, Resource:
		severity = SeverityHigh
	}
	if containsAny(msg, "critical", "fatal") {
		severity = SeverityCritical
	}
	if frequency > 5 && severity == SeverityLow {
		severity = SeverityMedium
	}
	return severity
}

func impactFor(ft Type) string {
	switch ft {
	case Systemic:
		return "system-wide"
	case Resource:
		return "degraded-capacity"
	default:
		return "task-local"
	}
}

func complexityFor(ft Type, frequency int) int {
	complexity := 1
	switch ft {
	case Permanent:
		complexity += 1
	case Resource:
		complexity += 2
	case Systemic:
		complexity += 3
	}
	if frequency > 3 {
		complexity++
	}
	return complexity
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
