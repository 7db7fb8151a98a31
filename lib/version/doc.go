// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for Cobalt
// binaries.
//
// Four package-level variables are injected at build time via
// -ldflags -X:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- semantic version string (set manually for releases)
//
// For example:
//
//	go build -ldflags "-X github.com/bureau-foundation/cobalt/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// [Info], [Full] and [Short] format them for --version output.
// [Semver] parses Version with Masterminds/semver so a malformed
// release string is caught by tests rather than by the collector.
// [UserAgent] is sent with every upload.
package version
