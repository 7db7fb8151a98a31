// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry loads the metric registry: the customers, projects,
// metrics and reports a device knows how to collect.
//
// A registry is authored as JSONC. [Parse] strips comments and
// trailing commas, validates the structure against an embedded JSON
// Schema, decodes it, and then checks the semantic rules the pipeline
// depends on (supported report shapes, DP parameters, private index
// range, release stages, unique ids). Every problem found is reported
// at once.
//
// [Registry.Digest] identifies the loaded document: the BLAKE3 hash of
// its RFC 8785 canonical JSON form, so reformatting or reordering keys
// does not change it.
package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/cobalt/lib/aggregate"
)

// MetricType is the kind of event a metric records.
type MetricType string

const (
	MetricOccurrence MetricType = "OCCURRENCE"
	MetricString     MetricType = "STRING"
)

// ReportType is how a report aggregates its metric.
type ReportType string

const (
	ReportFleetwideOccurrenceCounts ReportType = "FLEETWIDE_OCCURRENCE_COUNTS"
	ReportStringCounts              ReportType = "STRING_COUNTS"
)

// PrivacyMechanism is how a report's observations are protected.
type PrivacyMechanism string

const (
	DeIdentification            PrivacyMechanism = "DE_IDENTIFICATION"
	ShuffledDifferentialPrivacy PrivacyMechanism = "SHUFFLED_DIFFERENTIAL_PRIVACY"
)

// SystemProfileField names a device property a report may attach.
type SystemProfileField string

const (
	FieldAppVersion    SystemProfileField = "APP_VERSION"
	FieldSystemVersion SystemProfileField = "SYSTEM_VERSION"
)

type Dimension struct {
	Name         string `json:"name,omitempty"`
	MaxEventCode uint32 `json:"max_event_code"`
}

type Report struct {
	ID                   uint32               `json:"id"`
	Name                 string               `json:"name,omitempty"`
	Type                 ReportType           `json:"type"`
	PrivacyMechanism     PrivacyMechanism     `json:"privacy_mechanism"`
	MinValue             int64                `json:"min_value,omitempty"`
	MaxValue             int64                `json:"max_value,omitempty"`
	NumIndexPoints       uint32               `json:"num_index_points,omitempty"`
	PoissonMean          float64              `json:"poisson_mean,omitempty"`
	EventVectorBufferMax uint32               `json:"event_vector_buffer_max,omitempty"`
	StringBufferMax      uint32               `json:"string_buffer_max,omitempty"`
	MaxReleaseStage      ReleaseStage         `json:"max_release_stage,omitempty"`
	SystemProfileFields  []SystemProfileField `json:"system_profile_fields,omitempty"`
}

// HasField reports whether the report attaches field.
func (r *Report) HasField(field SystemProfileField) bool {
	return slices.Contains(r.SystemProfileFields, field)
}

type Metric struct {
	ID              uint32       `json:"id"`
	Name            string       `json:"name,omitempty"`
	Type            MetricType   `json:"type"`
	TimeZone        string       `json:"time_zone,omitempty"`
	MaxReleaseStage ReleaseStage `json:"max_release_stage,omitempty"`
	Dimensions      []Dimension  `json:"dimensions,omitempty"`
	Reports         []Report     `json:"reports"`
}

// MaxEventCodes returns the max event code of each dimension.
func (m *Metric) MaxEventCodes() []uint32 {
	codes := make([]uint32, len(m.Dimensions))
	for i, dimension := range m.Dimensions {
		codes[i] = dimension.MaxEventCode
	}
	return codes
}

type Project struct {
	ID      uint32   `json:"id"`
	Name    string   `json:"name,omitempty"`
	Metrics []Metric `json:"metrics"`
}

type Customer struct {
	ID       uint32    `json:"id"`
	Name     string    `json:"name,omitempty"`
	Projects []Project `json:"projects"`
}

// Document is the decoded registry file.
type Document struct {
	Customers []Customer `json:"customers"`
}

// MetricKey identifies a metric.
type MetricKey struct {
	CustomerID uint32
	ProjectID  uint32
	MetricID   uint32
}

// Entry is one report together with the metric it belongs to.
type Entry struct {
	Key    aggregate.ReportKey
	Metric *Metric
	Report *Report
}

// Registry is a validated, immutable registry.
type Registry struct {
	document Document
	digest   []byte
	metrics  map[MetricKey]*Metric
	entries  []Entry
}

//go:embed schema.json
var schemaSource string

const schemaURL = "https://cobalt.bureau.foundation/schema/registry.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaSource)); err != nil {
		return nil, fmt.Errorf("registry: loading schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("registry: compiling schema: %w", err)
	}
	return schema, nil
})

// Parse loads a registry from JSONC.
func Parse(data []byte) (*Registry, error) {
	stripped := jsonc.ToJSON(data)

	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	decoder := json.NewDecoder(bytes.NewReader(stripped))
	decoder.UseNumber()
	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("registry: parsing: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("registry: schema validation failed: %w", err)
	}

	var document Document
	if err := json.Unmarshal(stripped, &document); err != nil {
		return nil, fmt.Errorf("registry: decoding: %w", err)
	}
	if err := Validate(&document); err != nil {
		return nil, err
	}

	canonical, err := jcs.Transform(stripped)
	if err != nil {
		return nil, fmt.Errorf("registry: canonicalizing: %w", err)
	}
	digest := blake3.Sum256(canonical)

	return build(document, digest[:]), nil
}

// Load reads and parses a registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: reading %s: %w", path, err)
	}
	registry, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return registry, nil
}

func build(document Document, digest []byte) *Registry {
	r := &Registry{
		document: document,
		digest:   digest,
		metrics:  make(map[MetricKey]*Metric),
	}
	for c := range r.document.Customers {
		customer := &r.document.Customers[c]
		for p := range customer.Projects {
			project := &customer.Projects[p]
			for m := range project.Metrics {
				metric := &project.Metrics[m]
				r.metrics[MetricKey{customer.ID, project.ID, metric.ID}] = metric
				for i := range metric.Reports {
					report := &metric.Reports[i]
					r.entries = append(r.entries, Entry{
						Key: aggregate.ReportKey{
							CustomerID: customer.ID,
							ProjectID:  project.ID,
							MetricID:   metric.ID,
							ReportID:   report.ID,
						},
						Metric: metric,
						Report: report,
					})
				}
			}
		}
	}
	slices.SortFunc(r.entries, func(a, b Entry) int { return a.Key.Compare(b.Key) })
	return r
}

// Digest returns the BLAKE3 hash of the canonical document.
func (r *Registry) Digest() []byte { return slices.Clone(r.digest) }

// Entries returns every report sorted by key.
func (r *Registry) Entries() []Entry { return slices.Clone(r.entries) }

// Entry looks up one report.
func (r *Registry) Entry(key aggregate.ReportKey) (Entry, bool) {
	index, found := slices.BinarySearchFunc(r.entries, key, func(e Entry, k aggregate.ReportKey) int {
		return e.Key.Compare(k)
	})
	if !found {
		return Entry{}, false
	}
	return r.entries[index], true
}

// Metric looks up one metric.
func (r *Registry) Metric(key MetricKey) (*Metric, bool) {
	metric, ok := r.metrics[key]
	return metric, ok
}

// ReportKeys returns the key of every report.
func (r *Registry) ReportKeys() []aggregate.ReportKey {
	keys := make([]aggregate.ReportKey, len(r.entries))
	for i, entry := range r.entries {
		keys[i] = entry.Key
	}
	return keys
}
