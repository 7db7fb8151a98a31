// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventvector

import (
	"encoding/json"
	"errors"
	"slices"
	"sort"
	"testing"

	"github.com/bureau-foundation/cobalt/lib/codec"
)

func TestNewAndAccessors(t *testing.T) {
	v := New(1, 5)
	if v.Len() != 2 || v.Code(0) != 1 || v.Code(1) != 5 {
		t.Fatalf("New(1,5) = %v", v)
	}
	if got := v.String(); got != "[1,5]" {
		t.Errorf("String() = %q, want [1,5]", got)
	}
	if got := (EventVector{}).String(); got != "[]" {
		t.Errorf("empty String() = %q, want []", got)
	}
}

func TestCodesReturnsCopy(t *testing.T) {
	v := New(3, 4)
	codes := v.Codes()
	codes[0] = 99
	if v.Code(0) != 3 {
		t.Fatal("mutating Codes() result changed the vector")
	}
}

func TestComparableAsMapKey(t *testing.T) {
	counts := map[EventVector]int{}
	counts[New(1, 5)]++
	counts[New(1, 5)]++
	counts[New(5, 1)]++
	if counts[New(1, 5)] != 2 || len(counts) != 2 {
		t.Fatalf("map keyed by EventVector = %v", counts)
	}
}

func TestCompare(t *testing.T) {
	ordered := []EventVector{New(), New(0), New(1), New(1, 0), New(1, 5), New(2), New(256)}
	shuffled := []EventVector{New(256), New(1, 5), New(2), New(), New(1, 0), New(1), New(0)}
	sort.Slice(shuffled, func(i, j int) bool { return shuffled[i].Compare(shuffled[j]) < 0 })
	for i := range ordered {
		if !shuffled[i].Equal(ordered[i]) {
			t.Fatalf("sorted[%d] = %v, want %v", i, shuffled[i], ordered[i])
		}
	}
}

func TestFromInts(t *testing.T) {
	v, err := FromInts([]int{1, 5})
	if err != nil || !v.Equal(New(1, 5)) {
		t.Fatalf("FromInts([1,5]) = %v, %v", v, err)
	}
	if _, err := FromInts([]int{1, -1}); !errors.Is(err, ErrNegativeCode) {
		t.Fatalf("FromInts with negative code: err = %v, want ErrNegativeCode", err)
	}
}

func TestBytesRoundtrip(t *testing.T) {
	v := New(7, 0, 1<<31)
	back, err := FromBytes(v.Bytes())
	if err != nil || back != v {
		t.Fatalf("FromBytes(Bytes()) = %v, %v", back, err)
	}
	if _, err := FromBytes([]byte{1, 2, 3}); err == nil {
		t.Fatal("FromBytes accepted a truncated vector")
	}
}

func TestCBORAndJSON(t *testing.T) {
	v := New(1, 5)

	data, err := codec.Marshal(v)
	if err != nil {
		t.Fatalf("codec.Marshal: %v", err)
	}
	var fromCBOR EventVector
	if err := codec.Unmarshal(data, &fromCBOR); err != nil {
		t.Fatalf("codec.Unmarshal: %v", err)
	}
	if fromCBOR != v {
		t.Errorf("CBOR roundtrip = %v, want %v", fromCBOR, v)
	}

	text, err := json.Marshal(v)
	if err != nil || string(text) != "[1,5]" {
		t.Fatalf("json.Marshal = %s, %v", text, err)
	}
	var fromJSON EventVector
	if err := json.Unmarshal([]byte("[2,6]"), &fromJSON); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	if !slices.Equal(fromJSON.Codes(), []uint32{2, 6}) {
		t.Errorf("json roundtrip = %v", fromJSON)
	}
	if err := json.Unmarshal([]byte("[-2]"), &fromJSON); err == nil {
		t.Error("json.Unmarshal accepted a negative code")
	}
}
