// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "github.com/opencl-tools/clelf/metrics"

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/opencl-tools/clelf/vc"
)

var (
	//go:embed metrics.json
	metricsJSON []byte

	// metricTypes is used to drop counters with 0 values and to reject unknown IDs
	metricTypes map[MetricID]MetricType

	// totals mirrors every value passed to the OTel instruments, for Snapshot
	totals [IDMax]atomic.Int64

	// OTel metric instrumentation
	meter = otel.Meter("github.com/opencl-tools/clelf",
		metric.WithInstrumentationVersion(vc.Version()))
	counters = map[MetricID]metric.Int64Counter{}
	gauges   = map[MetricID]metric.Int64Gauge{}
)

func init() {
	defs := GetDefinitions()
	metricTypes = make(map[MetricID]MetricType, len(defs))
	for _, md := range defs {
		if md.Obsolete || md.ID == IDInvalid {
			continue
		}
		metricTypes[md.ID] = md.Type
		switch typ := md.Type; typ {
		case MetricTypeCounter:
			counter, err := meter.Int64Counter(md.Field,
				metric.WithDescription(md.Description),
				metric.WithUnit(md.Unit))
			if err != nil {
				log.Errorf("Creating Int64Counter: %v", err)
				continue
			}
			counters[md.ID] = counter
		case MetricTypeGauge:
			gauge, err := meter.Int64Gauge(md.Field,
				metric.WithDescription(md.Description),
				metric.WithUnit(md.Unit))
			if err != nil {
				log.Errorf("Creating Int64Gauge: %v", err)
				continue
			}
			gauges[md.ID] = gauge
		default:
			panic(fmt.Sprintf("Unknown metric type: %v", typ))
		}
	}
}

// Add records a single metric. Counters are incremented by value, gauges are
// set to value.
func Add(id MetricID, value MetricValue) {
	if id <= IDInvalid || id >= IDMax {
		log.Errorf("Metric value %d out of range [%d,%d]- needs investigation",
			id, IDInvalid+1, IDMax-1)
		return
	}
	typ, ok := metricTypes[id]
	if !ok {
		log.Warnf("Invalid metric id %d, skipping", id)
		return
	}

	ctx := context.Background()
	switch typ {
	case MetricTypeCounter:
		if value == 0 {
			return
		}
		totals[id].Add(int64(value))
		if counter, ok := counters[id]; ok {
			counter.Add(ctx, int64(value))
		}
	case MetricTypeGauge:
		totals[id].Store(int64(value))
		if gauge, ok := gauges[id]; ok {
			gauge.Record(ctx, int64(value))
		}
	}
}

// Snapshot returns the process lifetime totals of all counters and the last
// value of all gauges. Metrics that were never recorded are left out.
func Snapshot() Summary {
	s := make(Summary)
	for id := range metricTypes {
		if v := totals[id].Load(); v != 0 {
			s[id] = MetricValue(v)
		}
	}
	return s
}

// GetDefinitions returns the metric definitions from the embedded metrics.json file.
func GetDefinitions() []MetricDefinition {
	var defs []MetricDefinition

	dec := json.NewDecoder(bytes.NewReader(metricsJSON))
	dec.DisallowUnknownFields()

	err := dec.Decode(&defs)
	if err != nil {
		panic(fmt.Sprintf("extracting definitions from metrics.json: %v", err))
	}
	return defs
}
