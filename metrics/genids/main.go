// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// genids generates the metric ID constants from metrics.json.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"go/format"
	"os"
	"text/template"
)

type metricDef struct {
	Description string `json:"description"`
	MetricType  string `json:"type"`
	Name        string `json:"name"`
	FieldName   string `json:"field"`
	Unit        string `json:"unit"`
	ID          uint32 `json:"id"`
	Obsolete    bool   `json:"obsolete"`
}

var idsTemplate = template.Must(template.New("ids").Parse(
	`// Code generated from metrics.json. DO NOT EDIT.

package metrics

// To add a new metric append an entry to metrics.json. ONLY APPEND !
// Then run 'go generate ./metrics'.

// Below are the different metric IDs that we currently implement.
const (
{{- range .Defs}}{{if not .Obsolete}}

	// {{.Description}}
	ID{{.Name}} = {{.ID}}
{{- end}}{{end}}

	// max number of ID values, keep this as *last entry*
	IDMax = {{.Max}}
)
`))

// validate checks that IDs are dense and start at zero, and that names and
// OTel field names are unique.
func validate(defs []metricDef) error {
	names := make(map[string]struct{}, len(defs))
	fields := make(map[string]struct{}, len(defs))
	for i, m := range defs {
		if m.ID != uint32(i) {
			return fmt.Errorf("metric %s has id %d, expected %d", m.Name, m.ID, i)
		}
		if _, dup := names[m.Name]; dup {
			return fmt.Errorf("duplicate metric name %s", m.Name)
		}
		names[m.Name] = struct{}{}
		if m.ID == 0 || m.Obsolete {
			continue
		}
		if m.MetricType != "counter" && m.MetricType != "gauge" {
			return fmt.Errorf("metric %s has unknown type %q", m.Name, m.MetricType)
		}
		if _, dup := fields[m.FieldName]; dup || m.FieldName == "" {
			return fmt.Errorf("metric %s has an empty or duplicate field %q",
				m.Name, m.FieldName)
		}
		fields[m.FieldName] = struct{}{}
	}
	return nil
}

func generate(input []byte) ([]byte, error) {
	var defs []metricDef
	if err := json.Unmarshal(input, &defs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metric definitions: %w", err)
	}
	if err := validate(defs); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := idsTemplate.Execute(&out, struct {
		Defs []metricDef
		Max  int
	}{defs, len(defs)}); err != nil {
		return nil, err
	}
	return format.Source(out.Bytes())
}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <metrics.json> <output.go>\n", os.Args[0])
		os.Exit(1)
	}

	input, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	output, err := generate(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err = os.WriteFile(os.Args[2], output, 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
