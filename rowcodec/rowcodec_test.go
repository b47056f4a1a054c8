package rowcodec

import (
	"bytes"
	"testing"

	"github.com/segcolumn/segstore/atom"
)

func TestRoundTripScalar(t *testing.T) {
	var buf []byte
	rows := []atom.Value{
		atom.IntVal(1),
		atom.IntVal(-2),
		atom.Null(),
	}
	for _, r := range rows {
		var err error
		buf, err = EncodeRow(buf, 0, atom.Int64, r)
		if err != nil {
			t.Fatal(err)
		}
	}
	decoded, consumed, err := DecodeLimited(buf, 0, atom.Int64, -1)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed %d, want %d", consumed, len(buf))
	}
	if len(decoded) != 3 || decoded[0].Int64() != 1 || decoded[1].Int64() != -2 || !decoded[2].IsNull {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func TestRoundTripReservedBytesInString(t *testing.T) {
	// bytes 253, 254, 255 must round-trip unchanged (spec boundary test)
	s := string([]byte{253, 254, 255, 0, 1})
	var buf []byte
	buf, err := EncodeRow(buf, 0, atom.String, atom.StringVal(s))
	if err != nil {
		t.Fatal(err)
	}
	decoded, _, err := DecodeLimited(buf, 0, atom.String, -1)
	if err != nil {
		t.Fatal(err)
	}
	if decoded[0].String() != s {
		t.Fatalf("round-trip mismatch: got %v want %v", []byte(decoded[0].String()), []byte(s))
	}
}

func TestCountRunShortcut(t *testing.T) {
	buf := EncodeCountRun(nil, 1<<20)
	decoded, consumed, err := DecodeLimited(buf, 0, atom.Int64, -1)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed %d want %d", consumed, len(buf))
	}
	if len(decoded) != 1<<20 {
		t.Fatalf("expected 2^20 nulls, got %d", len(decoded))
	}
	for _, v := range decoded {
		if !v.IsNull {
			t.Fatal("expected all-null run")
		}
	}
}

func TestNestedList(t *testing.T) {
	v := atom.List([]atom.Value{atom.IntVal(1), atom.IntVal(2), atom.IntVal(3)})
	var buf []byte
	buf, err := EncodeRow(buf, 1, atom.Int64, v)
	if err != nil {
		t.Fatal(err)
	}
	decoded, consumed, err := DecodeLimited(buf, 1, atom.Int64, -1)
	if err != nil {
		t.Fatal(err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed %d want %d", consumed, len(buf))
	}
	if len(decoded) != 1 || !decoded[0].IsList || len(decoded[0].Items) != 3 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func TestRowOffsetsForTruncation(t *testing.T) {
	var buf []byte
	for i := int64(0); i < 5; i++ {
		var err error
		buf, err = EncodeRow(buf, 0, atom.Int64, atom.IntVal(i))
		if err != nil {
			t.Fatal(err)
		}
	}
	full := len(buf)
	// simulate a crash mid-write of the 5th row by truncating the buffer
	truncated := bytes.Clone(buf[:full-1])
	offsets, err := RowOffsets(truncated, 0, atom.Int64)
	if err != nil {
		t.Fatal(err)
	}
	if len(offsets) != 5 { // 4 complete rows -> 5 boundary offsets (0..4)
		t.Fatalf("expected 5 offsets (4 complete rows), got %d: %v", len(offsets), offsets)
	}
}
