// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress frames envelope plaintext with an optional
// compression pass before it is encrypted.
//
// A frame is one tag byte followed by the body. LZ4 bodies carry the
// uncompressed length as a uvarint because LZ4 block format does not
// record it; zstd frames are self-describing. When compression would
// not shrink the input, Encode falls back to TagNone so a frame is
// never larger than its input plus one byte.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// MaxDecodedSize bounds the output of Decode. Envelopes are capped far
// below this; anything larger is malformed or hostile.
const MaxDecodedSize = 16 << 20

// Tag identifies the compression applied to a frame body.
type Tag uint8

const (
	TagNone Tag = 0
	TagLZ4  Tag = 1
	TagZstd Tag = 2
)

var (
	// ErrUnknownTag is returned for frames whose tag byte is not a
	// known Tag.
	ErrUnknownTag = errors.New("compress: unknown tag")

	// ErrTooLarge is returned when a frame decodes past MaxDecodedSize.
	ErrTooLarge = errors.New("compress: decoded size exceeds limit")

	errIncompressible = errors.New("incompressible")
)

func (tag Tag) String() string {
	switch tag {
	case TagNone:
		return "none"
	case TagLZ4:
		return "lz4"
	case TagZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseTag returns the Tag for a configuration name.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "", "none":
		return TagNone, nil
	case "lz4":
		return TagLZ4, nil
	case "zstd":
		return TagZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTag, name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode returns a frame holding data compressed with tag.
func Encode(data []byte, tag Tag) ([]byte, error) {
	var body []byte
	var err error
	switch tag {
	case TagNone:
	case TagLZ4:
		body, err = encodeLZ4(data)
	case TagZstd:
		body = zstdEncoder.EncodeAll(data, nil)
		if len(body) >= len(data) {
			err = errIncompressible
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
	if tag == TagNone || errors.Is(err, errIncompressible) {
		return append([]byte{byte(TagNone)}, data...), nil
	}
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(tag)}, body...), nil
}

// Decode reverses Encode.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, errors.New("compress: empty frame")
	}
	tag, body := Tag(frame[0]), frame[1:]
	switch tag {
	case TagNone:
		if len(body) > MaxDecodedSize {
			return nil, ErrTooLarge
		}
		return body, nil
	case TagLZ4:
		return decodeLZ4(body)
	case TagZstd:
		decoded, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("compress: zstd: %w", err)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, uint8(tag))
	}
}

func encodeLZ4(data []byte) ([]byte, error) {
	header := binary.AppendUvarint(nil, uint64(len(data)))
	destination := make([]byte, len(header)+lz4.CompressBlockBound(len(data)))
	copy(destination, header)

	written, err := lz4.CompressBlock(data, destination[len(header):], nil)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	if written == 0 || len(header)+written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:len(header)+written], nil
}

func decodeLZ4(body []byte) ([]byte, error) {
	size, n := binary.Uvarint(body)
	if n <= 0 {
		return nil, errors.New("compress: lz4: bad length header")
	}
	if size > MaxDecodedSize {
		return nil, ErrTooLarge
	}
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(body[n:], destination)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	if uint64(read) != size {
		return nil, fmt.Errorf("compress: lz4: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}
