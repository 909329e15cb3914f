// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package failure

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyze_Classification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Type
	}{
		{"timeout", errors.New("request timeout after 30s"), Transient},
		{"network", errors.New("network unreachable"), Transient},
		{"not found", errors.New("record not found"), Permanent},
		{"invalid", errors.New("invalid payload shape"), Permanent},
		{"service", errors.New("service unavailable"), Systemic},
		{"system", errors.New("system degraded"), Systemic},
		{"memory", errors.New("out of memory"), Resource},
		{"cpu", errors.New("cpu quota exceeded"), Resource},
		{"unknown defaults to transient", errors.New("something odd happened"), Transient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer()
			analysis := a.Analyze("task-1", tt.err)
			assert.Equal(t, tt.want, analysis.Type)
		})
	}
}

func TestAnalyze_SeverityEscalation(t *testing.T) {
	a := NewAnalyzer()

	transient := a.Analyze("t1", errors.New("timeout"))
	assert.Equal(t, SeverityLow, transient.Severity)

	systemic := a.Analyze("t2", errors.New("service unavailable"))
	assert.Equal(t, SeverityHigh, systemic.Severity)

	resource := a.Analyze("t3", errors.New("out of memory"))
	assert.Equal(t, SeverityHigh, resource.Severity)

	critical := a.Analyze("t4", errors.New("critical: timeout contacting ledger"))
	assert.Equal(t, SeverityCritical, critical.Severity)
}

func TestAnalyze_FrequencyAccumulates(t *testing.T) {
	a := NewAnalyzer()

	first := a.Analyze("task-1", errors.New("timeout"))
	second := a.Analyze("task-1", errors.New("timeout"))
	other := a.Analyze("task-2", errors.New("timeout"))

	assert.Equal(t, 1, first.Frequency)
	assert.Equal(t, 2, second.Frequency)
	assert.Equal(t, 1, other.Frequency)
	assert.Equal(t, 2, a.Frequency("task-1"))
}

func TestAnalyze_RecoveryComplexityOrdering(t *testing.T) {
	a := NewAnalyzer()

	transient := a.Analyze("t1", errors.New("timeout"))
	permanent := a.Analyze("t2", errors.New("not found"))
	systemic := a.Analyze("t3", errors.New("service down"))

	assert.Less(t, transient.RecoveryComplexity, permanent.RecoveryComplexity)
	assert.Less(t, permanent.RecoveryComplexity, systemic.RecoveryComplexity)
}

func TestAnalyze_Impact(t *testing.T) {
	a := NewAnalyzer()

	assert.Equal(t, "system-wide", a.Analyze("t1", errors.New("system failure")).Impact)
	assert.Equal(t, "degraded-capacity", a.Analyze("t2", errors.New("memory pressure")).Impact)
	assert.Equal(t, "task-local", a.Analyze("t3", errors.New("timeout")).Impact)
}
