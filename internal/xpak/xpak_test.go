package xpak

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	cases := []map[string][]byte{
		{},
		{"SLOT": []byte("0")},
		{
			"SLOT":        []byte("0"),
			"repository":  []byte("gentoo"),
			"CATEGORY":    []byte("dev-lang"),
			"PF":          []byte("rust-1.75.0"),
			"USE":         []byte("jit lto"),
			"DESCRIPTION": []byte{0x00, 0xff, 0x10, 'h', 'i'},
		},
	}
	for _, m := range cases {
		enc := Encode(m)
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(dec) != len(m) {
			t.Fatalf("length mismatch: got %d want %d", len(dec), len(m))
		}
		for k, v := range m {
			got, ok := dec[k]
			if !ok {
				t.Fatalf("missing key %q", k)
			}
			if !bytes.Equal(got, v) {
				t.Fatalf("key %q: got %v want %v", k, got, v)
			}
		}
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	blob := Encode(map[string][]byte{"A": []byte("b")})
	corrupt := append([]byte(nil), blob...)
	corrupt[0] = 'Z'
	if _, err := Decode(corrupt); err == nil {
		t.Fatal("expected error for corrupt magic")
	}
}

func TestDecodeRejectsOverrunLengths(t *testing.T) {
	blob := Encode(map[string][]byte{"A": []byte("b")})
	corrupt := append([]byte(nil), blob...)
	// Inflate the claimed index length far beyond the actual blob.
	corrupt[8] = 0xff
	if _, err := Decode(corrupt); err == nil {
		t.Fatal("expected error for inflated index length")
	}
}

func TestDecodeRejectsTooShort(t *testing.T) {
	if _, err := Decode([]byte("short")); err == nil {
		t.Fatal("expected error for too-short blob")
	}
}
