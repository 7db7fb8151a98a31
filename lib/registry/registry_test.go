// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/cobalt/lib/aggregate"
)

const sampleRegistry = `{
  // Comments and trailing commas are allowed.
  "customers": [{
    "id": 1,
    "name": "fuchsia",
    "projects": [{
      "id": 1,
      "metrics": [
        {
          "id": 1,
          "name": "api_calls",
          "type": "OCCURRENCE",
          "time_zone": "UTC",
          "max_release_stage": "GA",
          "dimensions": [{"max_event_code": 9}, {"max_event_code": 9}],
          "reports": [
            {"id": 2, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION",
             "event_vector_buffer_max": 100, "system_profile_fields": ["APP_VERSION"]},
            {"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "SHUFFLED_DIFFERENTIAL_PRIVACY",
             "min_value": 1, "max_value": 10, "num_index_points": 11, "poisson_mean": 0.25,
             "max_release_stage": "DOGFOOD"},
          ],
        },
        {
          "id": 3,
          "type": "STRING",
          "max_release_stage": "GA",
          "reports": [
            {"id": 1, "type": "STRING_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION", "string_buffer_max": 5},
          ],
        },
      ],
    }],
  }],
}`

func mustParse(t *testing.T, source string) *Registry {
	t.Helper()
	registry, err := Parse([]byte(source))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return registry
}

func TestParseSample(t *testing.T) {
	registry := mustParse(t, sampleRegistry)

	keys := registry.ReportKeys()
	want := []aggregate.ReportKey{
		{CustomerID: 1, ProjectID: 1, MetricID: 1, ReportID: 1},
		{CustomerID: 1, ProjectID: 1, MetricID: 1, ReportID: 2},
		{CustomerID: 1, ProjectID: 1, MetricID: 3, ReportID: 1},
	}
	if len(keys) != len(want) {
		t.Fatalf("got %d reports, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("report %d = %v, want %v", i, keys[i], want[i])
		}
	}

	entry, ok := registry.Entry(want[0])
	if !ok {
		t.Fatal("Entry: DP report not found")
	}
	if entry.Report.PoissonMean != 0.25 || entry.Report.MaxReleaseStage != StageDogfood {
		t.Errorf("DP report = %+v", entry.Report)
	}
	if codes := entry.Metric.MaxEventCodes(); len(codes) != 2 || codes[0] != 9 {
		t.Errorf("MaxEventCodes = %v", codes)
	}

	metric, ok := registry.Metric(MetricKey{CustomerID: 1, ProjectID: 1, MetricID: 3})
	if !ok || metric.Type != MetricString {
		t.Fatalf("Metric(3) = %+v, %v", metric, ok)
	}
	if _, ok := registry.Entry(aggregate.ReportKey{CustomerID: 9}); ok {
		t.Error("Entry found a report that does not exist")
	}
}

func TestDigestIgnoresFormatting(t *testing.T) {
	first := mustParse(t, `{"customers": [{"id": 1, "projects": []}]}`)
	second := mustParse(t, "{\n  // same document\n  \"customers\": [ { \"projects\": [], \"id\": 1 } ]\n}")
	third := mustParse(t, `{"customers": [{"id": 2, "projects": []}]}`)

	if !bytes.Equal(first.Digest(), second.Digest()) {
		t.Error("formatting changed the digest")
	}
	if bytes.Equal(first.Digest(), third.Digest()) {
		t.Error("different documents share a digest")
	}
	if len(first.Digest()) != 32 {
		t.Errorf("digest is %d bytes, want 32", len(first.Digest()))
	}
}

func TestSchemaRejects(t *testing.T) {
	for name, source := range map[string]string{
		"not json":       `{"customers": [`,
		"missing field":  `{}`,
		"unknown field":  `{"customers": [], "extra": true}`,
		"zero id":        `{"customers": [{"id": 0, "projects": []}]}`,
		"bad metric":     `{"customers": [{"id": 1, "projects": [{"id": 1, "metrics": [{"id": 1, "type": "HISTOGRAM", "reports": []}]}]}]}`,
		"bad stage name": `{"customers": [{"id": 1, "projects": [{"id": 1, "metrics": [{"id": 1, "type": "OCCURRENCE", "max_release_stage": "BETA", "reports": []}]}]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(source)); err == nil {
				t.Fatal("Parse accepted an invalid document")
			}
		})
	}
}

// oneReport wraps a single report in a metric of the given type.
func oneReport(metricType, metricStage, dimensions, report string) string {
	return `{"customers": [{"id": 1, "projects": [{"id": 1, "metrics": [{"id": 1, "type": "` + metricType +
		`", "max_release_stage": "` + metricStage + `", "dimensions": ` + dimensions +
		`, "reports": [` + report + `]}]}]}]}`
}

func TestSemanticValidation(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		problem  string
		accepted bool
	}{
		{
			name:    "string report on occurrence metric",
			source:  oneReport("OCCURRENCE", "GA", "[]", `{"id": 1, "type": "STRING_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION"}`),
			problem: "not supported for OCCURRENCE",
		},
		{
			name:    "dp on string counts",
			source:  oneReport("STRING", "GA", "[]", `{"id": 1, "type": "STRING_COUNTS", "privacy_mechanism": "SHUFFLED_DIFFERENTIAL_PRIVACY", "min_value": 1, "max_value": 2, "num_index_points": 2, "poisson_mean": 1}`),
			problem: "only supported for",
		},
		{
			name:    "dp without poisson mean",
			source:  oneReport("OCCURRENCE", "GA", "[]", `{"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "SHUFFLED_DIFFERENTIAL_PRIVACY", "min_value": 1, "max_value": 2, "num_index_points": 2}`),
			problem: "poisson_mean",
		},
		{
			name:    "dp without index points",
			source:  oneReport("OCCURRENCE", "GA", "[]", `{"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "SHUFFLED_DIFFERENTIAL_PRIVACY", "min_value": 1, "max_value": 2, "poisson_mean": 1}`),
			problem: "num_index_points",
		},
		{
			name:    "dp min above max",
			source:  oneReport("OCCURRENCE", "GA", "[]", `{"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "SHUFFLED_DIFFERENTIAL_PRIVACY", "min_value": 5, "max_value": 2, "num_index_points": 2, "poisson_mean": 1}`),
			problem: "min_value",
		},
		{
			name:    "de-identified with values",
			source:  oneReport("OCCURRENCE", "GA", "[]", `{"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION", "max_value": 10}`),
			problem: "must be unset",
		},
		{
			name:    "private index overflow",
			source:  oneReport("OCCURRENCE", "GA", `[{"max_event_code": 65535}, {"max_event_code": 65535}]`, `{"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "SHUFFLED_DIFFERENTIAL_PRIVACY", "min_value": 1, "max_value": 2, "num_index_points": 2, "poisson_mean": 1}`),
			problem: "int32",
		},
		{
			name:    "report stage above metric",
			source:  oneReport("OCCURRENCE", "DEBUG", "[]", `{"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION", "max_release_stage": "GA"}`),
			problem: "exceeds the metric",
		},
		{
			name:     "report stage unset",
			source:   oneReport("OCCURRENCE", "DEBUG", "[]", `{"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION"}`),
			accepted: true,
		},
		{
			name:    "unsupported profile field",
			source:  oneReport("OCCURRENCE", "GA", "[]", `{"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION", "system_profile_fields": ["BOARD_NAME"]}`),
			problem: "BOARD_NAME",
		},
		{
			name: "duplicate report id",
			source: oneReport("OCCURRENCE", "GA", "[]", `{"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION"},
				{"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION"}`),
			problem: "duplicate report id",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse([]byte(test.source))
			if test.accepted {
				if err != nil {
					t.Fatalf("Parse: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("Parse = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), test.problem) {
				t.Errorf("error %q does not mention %q", err, test.problem)
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	source := oneReport("STRING", "GA", "[]", `{"id": 1, "type": "FLEETWIDE_OCCURRENCE_COUNTS", "privacy_mechanism": "DE_IDENTIFICATION", "system_profile_fields": ["OS"]}`)
	_, err := Parse([]byte(source))
	if err == nil {
		t.Fatal("Parse accepted an invalid document")
	}
	for _, want := range []string{"not supported for STRING", "OS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.jsonc")
	if err := os.WriteFile(path, []byte(sampleRegistry), 0o600); err != nil {
		t.Fatal(err)
	}
	registry, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(registry.Entries()) != 3 {
		t.Fatalf("loaded %d reports, want 3", len(registry.Entries()))
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.jsonc")); err == nil {
		t.Fatal("Load succeeded on a missing file")
	}
}

func TestReleaseStage(t *testing.T) {
	stage, err := ParseReleaseStage("open_beta")
	if err != nil || stage != StageOpenBeta {
		t.Fatalf("ParseReleaseStage(open_beta) = %v, %v", stage, err)
	}
	if _, err := ParseReleaseStage("nightly"); err == nil {
		t.Fatal("unknown stage accepted")
	}
	if !StageDogfood.Collects(StageGA) || StageGA.Collects(StageDogfood) {
		t.Fatal("Collects ordering is wrong")
	}
	if !StageGA.Collects(StageNotSet) {
		t.Fatal("an unset limit should not restrict collection")
	}
	if StageFishfood.String() != "FISHFOOD" {
		t.Fatalf("String() = %q", StageFishfood.String())
	}
}
