// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ReleaseStage orders builds from least to most widely distributed. A
// device collects a metric only if its own stage is at or below the
// metric's and report's max release stage.
type ReleaseStage uint32

const (
	StageNotSet   ReleaseStage = 0
	StageDebug    ReleaseStage = 10
	StageFishfood ReleaseStage = 20
	StageDogfood  ReleaseStage = 40
	StageOpenBeta ReleaseStage = 60
	StageGA       ReleaseStage = 99
)

var stageNames = map[ReleaseStage]string{
	StageNotSet:   "NOT_SET",
	StageDebug:    "DEBUG",
	StageFishfood: "FISHFOOD",
	StageDogfood:  "DOGFOOD",
	StageOpenBeta: "OPEN_BETA",
	StageGA:       "GA",
}

func (s ReleaseStage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ReleaseStage(%d)", uint32(s))
}

// ParseReleaseStage accepts a stage name in any case.
func ParseReleaseStage(name string) (ReleaseStage, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for stage, stageName := range stageNames {
		if stageName == upper {
			return stage, nil
		}
	}
	return StageNotSet, fmt.Errorf("registry: unknown release stage %q", name)
}

// Collects reports whether a device at stage s collects data whose max
// release stage is limit. NOT_SET on either side means unrestricted.
func (s ReleaseStage) Collects(limit ReleaseStage) bool {
	return s == StageNotSet || limit == StageNotSet || s <= limit
}

func (s ReleaseStage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *ReleaseStage) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	stage, err := ParseReleaseStage(name)
	if err != nil {
		return err
	}
	*s = stage
	return nil
}

// UnmarshalText lets configuration files name a stage.
func (s *ReleaseStage) UnmarshalText(text []byte) error {
	stage, err := ParseReleaseStage(string(text))
	if err != nil {
		return err
	}
	*s = stage
	return nil
}
