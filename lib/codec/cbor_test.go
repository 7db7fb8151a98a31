// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

type wireRecord struct {
	Metric uint32   `cbor:"1,keyasint"`
	Codes  []uint32 `cbor:"2,keyasint,omitempty"`
	Tag    string   `cbor:"3,keyasint,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	first, err := Marshal(map[string]int{"zeta": 1, "alpha": 2, "mid": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(map[string]int{"mid": 3, "alpha": 2, "zeta": 1})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("map encoding not deterministic: %x vs %x", first, again)
		}
	}
}

func TestKeyAsIntRoundtrip(t *testing.T) {
	original := wireRecord{Metric: 7, Codes: []uint32{1, 5}, Tag: "x"}
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	// Integer keys 1..3 encode as single bytes 0x01..0x03.
	if data[0] != 0xa3 || data[1] != 0x01 {
		t.Fatalf("unexpected header %x, want map(3) with integer keys", data[:2])
	}

	var decoded wireRecord
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Metric != 7 || len(decoded.Codes) != 2 || decoded.Codes[1] != 5 || decoded.Tag != "x" {
		t.Errorf("roundtrip = %+v, want %+v", decoded, original)
	}
}

func TestUnmarshalRejectsDuplicateKeys(t *testing.T) {
	// {1: 1, 1: 2}
	data := []byte{0xa2, 0x01, 0x01, 0x01, 0x02}
	var decoded wireRecord
	if err := Unmarshal(data, &decoded); err == nil {
		t.Fatal("Unmarshal accepted a duplicate map key")
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(wireRecord{Metric: 1, Codes: []uint32{1, 5}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	text, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(text, "[1, 5]") {
		t.Errorf("Diagnose = %q, want the code array rendered", text)
	}
}
