// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Cobalt
// daemon and CLI.
//
// Configuration is loaded from a single file specified by either the
// COBALT_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. The environment is also bound into
// every encrypted message, so a staging device cannot produce data a
// production collector accepts. Production defaults to JSON logs and
// [Config.Validate] refuses the plaintext scheme there.
//
// Variable expansion is performed after loading on the state
// directory, the registry path, the upload endpoint and the public
// key: ${HOME}, ${CONFIG_DIR} and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Encryption, Privacy, Upload, Schedule
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [ParseReportKey] -- parses the "c/p/m/r" report ids used in config
package config
