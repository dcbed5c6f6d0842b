// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdd(t *testing.T) {
	before := Snapshot()

	Add(IDOpenMapped, 2)
	Add(IDOpenMapped, 0)
	Add(IDOpenMapped, 3)
	Add(IDRegistryEntries, 7)
	Add(IDRegistryEntries, 4)
	// Out of range IDs are dropped.
	Add(IDInvalid, 10)
	Add(IDMax, 10)

	after := Snapshot()
	assert.Equal(t, before[IDOpenMapped]+5, after[IDOpenMapped])
	assert.Equal(t, MetricValue(4), after[IDRegistryEntries])
	assert.NotContains(t, after, MetricID(IDInvalid))
}

func TestGetDefinitions(t *testing.T) {
	defs := GetDefinitions()
	assert.Len(t, defs, IDMax)

	seen := make(map[MetricID]bool)
	for i, md := range defs {
		// ids.go relies on the entries being ordered by ID.
		assert.Equal(t, MetricID(i), md.ID)
		assert.False(t, seen[md.ID], "duplicate id %d", md.ID)
		seen[md.ID] = true
		if md.ID != IDInvalid {
			assert.Contains(t, []MetricType{MetricTypeCounter, MetricTypeGauge}, md.Type)
			assert.NotEmpty(t, md.Field)
		}
	}
}
