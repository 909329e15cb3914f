// Copyright (c) 2025 TaskMesh Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package resolver

import (
	"fmt"
	"sort"
)

// ConflictType categorizes a detected dependency conflict.
type ConflictType string

const (
	// ConflictVersion marks multiple distinct versions of the same base name.
	ConflictVersion ConflictType = "version"
	// ConflictResource marks multiple dependencies claiming the same
	// exclusive resource.
	ConflictResource ConflictType = "resource"
	// ConflictSemantic marks a major-version mismatch between dependencies.
	ConflictSemantic ConflictType = "semantic"
	// ConflictTemporal marks multiple dependencies in the same scheduling slot.
	ConflictTemporal ConflictType = "temporal"
)

// Severity grades a conflict for operator attention.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Conflict is an advisory annotation on a resolution result. The suggested
// resolution is a recommendation; the graph is never mutated.
type Conflict struct {
	Type        ConflictType `json:"type"`
	Severity    Severity     `json:"severity"`
	IDs         []string     `json:"ids"`
	Description string       `json:"description"`
	Resolution  string       `json:"resolution"`
}

// detectConflicts runs the four independent conflict passes over the graph.
func detectConflicts(graph map[string]DependencyInfo) []Conflict {
	var conflicts []Conflict
	conflicts = append(conflicts, versionConflicts(graph)...)
	conflicts = append(conflicts, resourceConflicts(graph)...)
	conflicts = append(conflicts, semanticConflicts(graph)...)
	conflicts = append(conflicts, temporalConflicts(graph)...)
	return conflicts
}

// versionConflicts groups identifiers by base name; more than one distinct
// version for a base name is a conflict. Severity scales with the number of
// distinct versions. Resolution picks the lexicographically highest version.
func versionConflicts(graph map[string]DependencyInfo) []Conflict {
	byBase := make(map[string]map[string][]string) // base -> version -> ids
	for _, id := range sortedKeys(graph) {
		base, version := splitVersion(id)
		if version == "" {
			version = graph[id].Version
		}
		if version == "" {
			continue
		}
		if byBase[base] == nil {
			byBase[base] = make(map[string][]string)
		}
		byBase[base][version] = append(byBase[base][version], id)
	}

	var conflicts []Conflict
	for _, base := range sortedStringKeys(byBase) {
		versions := byBase[base]
		if len(versions) <= 1 {
			continue
		}

		distinct := make([]string, 0, len(versions))
		var ids []string
		for v, members := range versions {
			distinct = append(distinct, v)
			ids = append(ids, members...)
		}
		sort.Strings(distinct)
		sort.Strings(ids)

		severity := SeverityMedium
		switch {
		case len(distinct) > 3:
			severity = SeverityCritical
		case len(distinct) > 2:
			severity = SeverityHigh
		}

		highest := distinct[len(distinct)-1]
		conflicts = append(conflicts, Conflict{
			Type:        ConflictVersion,
			Severity:    severity,
			IDs:         ids,
			Description: fmt.Sprintf("%d distinct versions of %q requested", len(distinct), base),
			Resolution:  fmt.Sprintf("use highest version %s@%s", base, highest),
		})
	}
	return conflicts
}

// resourceConflicts groups dependencies by declared resource tag; more than
// one claimant of the same resource is a conflict resolved by serializing
// access.
func resourceConflicts(graph map[string]DependencyInfo) []Conflict {
	byResource := make(map[string][]string)
	for _, id := range sortedKeys(graph) {
		for _, res := range graph[id].Resources {
			byResource[res] = append(byResource[res], id)
		}
	}

	var conflicts []Conflict
	for _, res := range sortedStringKeysSlice(byResource) {
		claimants := byResource[res]
		if len(claimants) <= 1 {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Type:        ConflictResource,
			Severity:    SeverityMedium,
			IDs:         claimants,
			Description: fmt.Sprintf("%d dependencies claim exclusive resource %q", len(claimants), res),
			Resolution:  fmt.Sprintf("serialize access to resource %q", res),
		})
	}
	return conflicts
}

// semanticConflicts compares major-version components pairwise across all
// known dependencies. A mismatch is high severity and requires explicit
// reconciliation by the caller.
func semanticConflicts(graph map[string]DependencyInfo) []Conflict {
	ids := sortedKeys(graph)
	var conflicts []Conflict
	for i := 0; i < len(ids); i++ {
		mi := majorVersion(graph[ids[i]].Version)
		if mi == "" {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			mj := majorVersion(graph[ids[j]].Version)
			if mj == "" || mi == mj {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Type:        ConflictSemantic,
				Severity:    SeverityHigh,
				IDs:         []string{ids[i], ids[j]},
				Description: fmt.Sprintf("major version mismatch: %s (v%s) vs %s (v%s)", ids[i], mi, ids[j], mj),
				Resolution:  "explicit reconciliation required",
			})
		}
	}
	return conflicts
}

// temporalConflicts groups dependencies by declared scheduling slot; more
// than one occupant of a slot is a medium-severity conflict.
func temporalConflicts(graph map[string]DependencyInfo) []Conflict {
	bySlot := make(map[string][]string)
	for _, id := range sortedKeys(graph) {
		if slot := graph[id].Slot; slot != "" {
			bySlot[slot] = append(bySlot[slot], id)
		}
	}

	var conflicts []Conflict
	for _, slot := range sortedStringKeysSlice(bySlot) {
		occupants := bySlot[slot]
		if len(occupants) <= 1 {
			continue
		}
		conflicts = append(conflicts, Conflict{
			Type:        ConflictTemporal,
			Severity:    SeverityMedium,
			IDs:         occupants,
			Description: fmt.Sprintf("%d dependencies share scheduling slot %q", len(occupants), slot),
			Resolution:  fmt.Sprintf("stagger dependencies out of slot %q", slot),
		})
	}
	return conflicts
}

func sortedStringKeys(m map[string]map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringKeysSlice(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
