// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package breaker implements per-task-type circuit breaking.
//
// Counters are process-wide and shared across workflows: a failing task
// type throttles itself regardless of which workflow triggered it. State is
// mutated under the registry lock; reads before every attempt are cheap.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned to callers that try to execute through an open
// breaker. It is distinct from execution errors so callers can tell "this
// attempt failed" from "this task type is currently suspended".
var ErrOpen = errors.New("breaker: circuit open for task type")

// Profile is the threshold/cooldown configuration for one task type.
// External-call-like types want a low threshold and long cooldown;
// data-processing types tolerate a higher threshold with a shorter cooldown.
type Profile struct {
	Threshold int           `yaml:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown"`
}

// DefaultProfile applies to task types without explicit configuration.
var DefaultProfile = Profile{Threshold: 5, Cooldown: 60 * time.Second}

// Status is a point-in-time view of one task type's breaker.
type Status struct {
	TaskType        string        `json:"taskType"`
	Open            bool          `json:"isOpen"`
	Threshold       int           `json:"threshold"`
	CurrentFailures int           `json:"currentFailures"`
	Cooldown        time.Duration `json:"cooldown"`
}

type entry struct {
	failures    int
	lastFailure time.Time
}

// Registry tracks breaker state keyed by task type.
type Registry struct {
	mu       sync.Mutex
	profiles map[string]Profile
	entries  map[string]*entry
	now      func() time.Time
}

// NewRegistry creates a registry with the given per-type profiles. Types
// absent from the map fall back to DefaultProfile.
func NewRegistry(profiles map[string]Profile) *Registry {
	if profiles == nil {
		profiles = make(map[string]Profile)
	}
	return &Registry{
		profiles: profiles,
		entries:  make(map[string]*entry),
		now:      time.Now,
	}
}

// Check reports the breaker state for a task type. A breaker is open when
// the failure count has reached the type's threshold and the cooldown since
// the last failure has not elapsed. An elapsed cooldown resets the counter.
func (r *Registry) Check(taskType string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile := r.profile(taskType)
	e := r.entries[taskType]
	status := Status{
		TaskType:  taskType,
		Threshold: profile.Threshold,
		Cooldown:  profile.Cooldown,
	}
	if e == nil {
		return status
	}

	if e.failures >= profile.Threshold {
		if r.now().Sub(e.lastFailure) >= profile.Cooldown {
			// Cooldown elapsed: counters reset, attempts flow again.
			e.failures = 0
			slog.Info("Breaker cooldown elapsed, resetting", "taskType", taskType)
		} else {
			status.Open = true
		}
	}
	status.CurrentFailures = e.failures
	return status
}

// RecordFailure increments the failure counter for a task type.
func (r *Registry) RecordFailure(taskType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[taskType]
	if e == nil {
		e = &entry{}
		r.entries[taskType] = e
	}
	e.failures++
	e.lastFailure = r.now()

	if e.failures == r.profile(taskType).Threshold {
		slog.Warn("Breaker opened for task type",
			"taskType", taskType,
			"failures", e.failures,
			"cooldown", r.profile(taskType).Cooldown)
	}
}

// RecordSuccess resets the failure counter for a task type.
func (r *Registry) RecordSuccess(taskType string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e := r.entries[taskType]; e != nil {
		e.failures = 0
	}
}

// Statuses returns the state of every tracked task type, for metrics and
// operator views.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	types := make([]string, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	r.mu.Unlock()

	statuses := make([]Status, 0, len(types))
	for _, t := range types {
		statuses = append(statuses, r.Check(t))
	}
	return statuses
}

func (r *Registry) profile(taskType string) Profile {
	if p, ok := r.profiles[taskType]; ok {
		return p
	}
	return DefaultProfile
}
