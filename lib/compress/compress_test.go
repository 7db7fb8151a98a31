// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	compressible := bytes.Repeat([]byte("observation batch "), 200)
	random := []byte{0x8f, 0x12, 0x00, 0xff, 0x3c}

	for _, tag := range []Tag{TagNone, TagLZ4, TagZstd} {
		for name, input := range map[string][]byte{"compressible": compressible, "tiny": random, "empty": {}} {
			t.Run(tag.String()+"/"+name, func(t *testing.T) {
				frame, err := Encode(input, tag)
				if err != nil {
					t.Fatalf("Encode: %v", err)
				}
				if len(frame) > len(input)+1 {
					t.Errorf("frame is %d bytes for %d input bytes", len(frame), len(input))
				}
				decoded, err := Decode(frame)
				if err != nil {
					t.Fatalf("Decode: %v", err)
				}
				if !bytes.Equal(decoded, input) {
					t.Fatal("Decode(Encode(x)) != x")
				}
			})
		}
	}
}

func TestEncodeCompresses(t *testing.T) {
	input := bytes.Repeat([]byte{0xab}, 4096)
	for _, tag := range []Tag{TagLZ4, TagZstd} {
		frame, err := Encode(input, tag)
		if err != nil {
			t.Fatalf("Encode(%s): %v", tag, err)
		}
		if Tag(frame[0]) != tag {
			t.Errorf("Encode(%s) fell back to %s", tag, Tag(frame[0]))
		}
		if len(frame) >= len(input)/4 {
			t.Errorf("Encode(%s) = %d bytes, expected strong compression", tag, len(frame))
		}
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	frame, err := Encode([]byte{1, 2, 3}, TagZstd)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if Tag(frame[0]) != TagNone {
		t.Fatalf("tag = %s, want none", Tag(frame[0]))
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Error("Decode(nil) succeeded")
	}
	if _, err := Decode([]byte{9, 1, 2}); !errors.Is(err, ErrUnknownTag) {
		t.Errorf("Decode(unknown tag) = %v, want ErrUnknownTag", err)
	}
	// LZ4 header claiming more than the limit.
	huge := append([]byte{byte(TagLZ4)}, 0xff, 0xff, 0xff, 0xff, 0x0f)
	if _, err := Decode(huge); !errors.Is(err, ErrTooLarge) {
		t.Errorf("Decode(oversized lz4) = %v, want ErrTooLarge", err)
	}
}

func TestParseTag(t *testing.T) {
	for _, tag := range []Tag{TagNone, TagLZ4, TagZstd} {
		parsed, err := ParseTag(tag.String())
		if err != nil || parsed != tag {
			t.Errorf("ParseTag(%q) = %v, %v", tag.String(), parsed, err)
		}
	}
	if _, err := ParseTag("brotli"); !errors.Is(err, ErrUnknownTag) {
		t.Errorf("ParseTag(brotli) = %v", err)
	}
}
