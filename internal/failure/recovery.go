// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package failure

import (
	"log/slog"
	"sync"

	"taskmesh/internal/breaker"
	"taskmesh/pkg/types"
)

// Action is the recovery step chosen for a failed task.
type Action string

const (
	ActionRetry      Action = "retry"
	ActionCompensate Action = "compensate"
	ActionSkip       Action = "skip"
	ActionFail       Action = "fail"
	ActionDegrade    Action = "degrade"
)

// Handling is the outcome of strategy selection. For retry actions Attempts
// and Backoff carry the policy the scheduler should apply.
type Handling struct {
	TaskID            string                `json:"taskId"`
	Action            Action                `json:"action"`
	CompensationTasks []string              `json:"compensationTasks,omitempty"`
	FallbackTask      string                `json:"fallbackTask,omitempty"`
	ReducedAllowed    bool                  `json:"reducedAllowed,omitempty"`
	Attempts          int                   `json:"attempts,omitempty"`
	Backoff           types.BackoffStrategy `json:"backoff,omitempty"`
	Reason            string                `json:"reason"`
}

// defaultTransientAttempts applies when a transient failure's task declares
// no retry policy.
const defaultTransientAttempts = 2

// resourceRetryAttempts is the fixed ceiling for resource-failure retries.
const resourceRetryAttempts = 3

// Selector picks recovery strategies using the failure analyzer and the
// circuit breaker registry. Selected outcomes are recorded for later
// pattern analysis.
type Selector struct {
	analyzer *Analyzer
	breakers *breaker.Registry

	mu       sync.Mutex
	outcomes map[string][]Action
}

// NewSelector wires a selector to its analyzer and breaker registry.
func NewSelector(analyzer *Analyzer, breakers *breaker.Registry) *Selector {
	return &Selector{
		analyzer: analyzer,
		breakers: breakers,
		outcomes: make(map[string][]Action),
	}
}

// HandleFailure evaluates the recovery decision table, in order:
//
//  1. Breaker open for the task's type: fail fast, no further attempts.
//  2. Task declared skippable: mark inert, dependents proceed.
//  3. Permanent failure: compensate when compensation tasks are declared,
//     otherwise fail.
//  4. Systemic failure: degrade when a fallback task or reduced-
//     functionality flag is declared, otherwise fail.
//  5. Resource failure: retry with exponential backoff, max 3 attempts.
//  6. Transient (everything else): retry with linear backoff, policy-
//     declared attempts or the default of 2.
func (s *Selector) HandleFailure(task *types.WorkflowTask, err error) Handling {
	if status := s.breakers.Check(task.Type); status.Open {
		return s.record(Handling{
			TaskID: task.ID,
			Action: ActionFail,
			Reason: "circuit breaker open for task type " + task.Type,
		})
	}

	if task.Metadata[types.MetaOnFailure] == "skip" {
		return s.record(Handling{
			TaskID: task.ID,
			Action: ActionSkip,
			Reason: "task declared skippable on failure",
		})
	}

	analysis := s.analyzer.Analyze(task.ID, err)
	slog.Info("Selecting recovery strategy",
		"taskId", task.ID,
		"failureType", analysis.Type,
		"severity", analysis.Severity,
		"frequency", analysis.Frequency)

	switch analysis.Type {
	case Permanent:
		if comp := task.CompensationTasks(); len(comp) > 0 {
			return s.record(Handling{
				TaskID:            task.ID,
				Action:            ActionCompensate,
				CompensationTasks: comp,
				Reason:            "permanent failure with declared compensation",
			})
		}
		return s.record(Handling{
			TaskID: task.ID,
			Action: ActionFail,
			Reason: "permanent failure, no compensation declared",
		})

	case Systemic:
		fallback := task.Metadata[types.MetaFallbackTask]
		reduced := task.Metadata[types.MetaReducedFunctionality] == "true"
		if fallback != "" || reduced {
			return s.record(Handling{
				TaskID:         task.ID,
				Action:         ActionDegrade,
				FallbackTask:   fallback,
				ReducedAllowed: reduced,
				Reason:         "systemic failure, degrading",
			})
		}
		return s.record(Handling{
			TaskID: task.ID,
			Action: ActionFail,
			Reason: "systemic failure, no fallback declared",
		})

	case Resource:
		return s.record(Handling{
			TaskID:   task.ID,
			Action:   ActionRetry,
			Attempts: resourceRetryAttempts,
			Backoff:  types.BackoffExponential,
			Reason:   "resource failure, retrying with exponential backoff",
		})

	default:
		attempts := defaultTransientAttempts
		if task.Retry != nil && task.Retry.MaxAttempts > 0 {
			attempts = task.Retry.MaxAttempts
		}
		return s.record(Handling{
			TaskID:   task.ID,
			Action:   ActionRetry,
			Attempts: attempts,
			Backoff:  types.BackoffLinear,
			Reason:   "transient failure, retrying with linear backoff",
		})
	}
}

// Outcomes returns the recorded recovery actions for a task, oldest first.
func (s *Selector) Outcomes(taskID string) []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action{}, s.outcomes[taskID]...)
}

func (s *Selector) record(h Handling) Handling {
	s.mu.Lock()
	s.outcomes[h.TaskID] = append(s.outcomes[h.TaskID], h.Action)
	s.mu.Unlock()
	return h
}
