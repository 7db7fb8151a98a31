// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds private key material outside the Go heap.
//
// A [Buffer] is an anonymous mmap region locked into RAM (mlock) and
// excluded from core dumps (MADV_DONTDUMP). Close zeroes, unlocks, and
// unmaps it; any later access panics. The collection daemon never
// holds a private key, but the decrypting side of the CLI and tests
// do, and key generation writes through a Buffer before the key
// reaches disk.
//
// [ReadKeyFile] loads a key file into a Buffer and refuses files that
// are readable by group or others.
package secret
