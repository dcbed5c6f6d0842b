// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

/*
Package metrics registers the OTel instruments of the descriptor layer and
the kernel store.

Every metric is defined in metrics.json; ids.go is generated from it. Code
reports values through Add:

	metrics.Add(metrics.IDOpenMapped, 1)

Counters with a zero value are not reported. Without an OTel MeterProvider
installed the instruments are no-ops, but Snapshot still returns the values
recorded in this process, which the command line tool prints with -stats.
*/
package metrics
