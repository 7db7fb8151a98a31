// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"math"

	"github.com/bureau-foundation/cobalt/lib/clock"
)

// ErrInvalid wraps every semantic validation failure.
var ErrInvalid = errors.New("registry: invalid")

var allowedReportTypes = map[MetricType]ReportType{
	MetricOccurrence: ReportFleetwideOccurrenceCounts,
	MetricString:     ReportStringCounts,
}

// Validate checks the semantic rules of a decoded document and returns
// every violation joined into one error.
func Validate(document *Document) error {
	var problems []error
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	customers := make(map[uint32]bool)
	for _, customer := range document.Customers {
		if customers[customer.ID] {
			fail("duplicate customer id %d", customer.ID)
		}
		customers[customer.ID] = true

		projects := make(map[uint32]bool)
		for _, project := range customer.Projects {
			if projects[project.ID] {
				fail("customer %d: duplicate project id %d", customer.ID, project.ID)
			}
			projects[project.ID] = true

			metrics := make(map[uint32]bool)
			for i := range project.Metrics {
				metric := &project.Metrics[i]
				where := fmt.Sprintf("metric %d/%d/%d", customer.ID, project.ID, metric.ID)
				if metrics[metric.ID] {
					fail("%s: duplicate metric id", where)
				}
				metrics[metric.ID] = true

				if _, err := clock.Location(metric.TimeZone); err != nil {
					fail("%s: %v", where, err)
				}

				reports := make(map[uint32]bool)
				for j := range metric.Reports {
					report := &metric.Reports[j]
					reportWhere := fmt.Sprintf("%s report %d", where, report.ID)
					if reports[report.ID] {
						fail("%s: duplicate report id", reportWhere)
					}
					reports[report.ID] = true
					for _, problem := range validateReport(metric, report) {
						fail("%s: %s", reportWhere, problem)
					}
				}
			}
		}
	}
	return errors.Join(problems...)
}

// validateReport returns the problems with one metric and report
// combination.
func validateReport(metric *Metric, report *Report) []string {
	var problems []string

	if allowed, ok := allowedReportTypes[metric.Type]; !ok || allowed != report.Type {
		problems = append(problems, fmt.Sprintf("report type %s is not supported for %s metrics", report.Type, metric.Type))
	}

	switch report.PrivacyMechanism {
	case DeIdentification:
		if report.MinValue != 0 || report.MaxValue != 0 {
			problems = append(problems, "min_value and max_value must be unset without differential privacy")
		}
	case ShuffledDifferentialPrivacy:
		if report.Type != ReportFleetwideOccurrenceCounts {
			problems = append(problems, fmt.Sprintf("%s is only supported for %s", ShuffledDifferentialPrivacy, ReportFleetwideOccurrenceCounts))
		}
		if report.PoissonMean <= 0 {
			problems = append(problems, "poisson_mean must be positive")
		}
		if report.NumIndexPoints == 0 {
			problems = append(problems, "num_index_points must be positive")
		}
		if report.MinValue <= 0 || report.MaxValue < report.MinValue {
			problems = append(problems, fmt.Sprintf("need 0 < min_value <= max_value, got %d and %d", report.MinValue, report.MaxValue))
		}
		if report.NumIndexPoints > 0 && !privateIndexFits(metric.MaxEventCodes(), report.NumIndexPoints) {
			problems = append(problems, "private index range does not fit in an int32")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported privacy mechanism %q", report.PrivacyMechanism))
	}

	if report.MaxReleaseStage != StageNotSet && report.MaxReleaseStage > metric.MaxReleaseStage {
		problems = append(problems, fmt.Sprintf("max release stage %s exceeds the metric's %s", report.MaxReleaseStage, metric.MaxReleaseStage))
	}

	for _, field := range report.SystemProfileFields {
		if field != FieldAppVersion && field != FieldSystemVersion {
			problems = append(problems, fmt.Sprintf("unsupported system profile field %q", field))
		}
	}
	return problems
}

// privateIndexFits reports whether the number of private indices of
// the report is below MaxInt32. Checked per factor so the product
// cannot overflow.
func privateIndexFits(maxCodes []uint32, numIndexPoints uint32) bool {
	total := uint64(numIndexPoints)
	for _, code := range maxCodes {
		total *= uint64(code) + 1
		if total >= math.MaxInt32 {
			return false
		}
	}
	return true
}
