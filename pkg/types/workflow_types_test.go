// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompensationTasks(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"unset", "", nil},
		{"single", "undo", []string{"undo"}},
		{"multiple", "undo-reserve,undo-charge", []string{"undo-reserve", "undo-charge"}},
		{"spaces and empty segments", " undo-reserve, ,undo-charge,", []string{"undo-reserve", "undo-charge"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &WorkflowTask{ID: "t1"}
			if tt.raw != "" {
				task.Metadata = map[string]string{MetaCompensationTasks: tt.raw}
			}
			assert.Equal(t, tt.want, task.CompensationTasks())
		})
	}
}
