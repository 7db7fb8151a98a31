// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"os"
)

// ReadKeyFile loads the key stored at path, trimming surrounding
// whitespace. The file must not be accessible to group or others.
func ReadKeyFile(path string) (*Buffer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return nil, fmt.Errorf("secret: key file %s has mode %04o, want no group or other access", path, mode)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}
	defer Zero(data)

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("secret: key file %s: %w", path, ErrEmpty)
	}
	return NewFromBytes(trimmed)
}

// WriteKeyFile writes the secret to path with mode 0600, failing if the
// file already exists.
func WriteKeyFile(path string, key *Buffer) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("secret: %w", err)
	}
	if _, err := file.Write(key.Bytes()); err != nil {
		file.Close()
		return fmt.Errorf("secret: writing %s: %w", path, err)
	}
	if _, err := file.Write([]byte("\n")); err != nil {
		file.Close()
		return fmt.Errorf("secret: writing %s: %w", path, err)
	}
	return file.Close()
}
