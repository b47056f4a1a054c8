package schema

import (
	"testing"
	"time"

	"github.com/segcolumn/segstore/atom"
)

func TestValidateName(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"col", true},
		{"col_1", true},
		{"_col", false},
		{"1col", true},
		{"bad name", false},
		{"", false},
	}
	for _, c := range cases {
		err := ValidateName(c.name)
		if (err == nil) != c.ok {
			t.Errorf("ValidateName(%q) = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestNewSchemaHasInjectedColumns(t *testing.T) {
	s := New()
	if _, ok := s.Columns[InjectedRowID]; !ok {
		t.Fatal("expected _row_id in new schema")
	}
	if _, ok := s.Columns[InjectedWrittenAt]; !ok {
		t.Fatal("expected _written_at in new schema")
	}
}

func TestAddColumnsAdditiveOnly(t *testing.T) {
	s := New()
	if err := s.AddColumns(map[string]ColumnSpec{"i": {DType: atom.Int64}}); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Columns["i"]; !ok {
		t.Fatal("expected column i to be added")
	}
	// re-adding the identical definition is a no-op, not an error
	if err := s.AddColumns(map[string]ColumnSpec{"i": {DType: atom.Int64}}); err != nil {
		t.Fatal(err)
	}
	// changing the definition fails
	if err := s.AddColumns(map[string]ColumnSpec{"i": {DType: atom.Float64}}); err == nil {
		t.Fatal("expected error redefining column i with a different dtype")
	}
}

func TestNormalizePartitionSortsByName(t *testing.T) {
	spec := map[string]PartitionSpec{
		"b": {DType: PartString},
		"a": {DType: PartString},
	}
	values := map[string]atom.Value{
		"b": atom.StringVal("x"),
		"a": atom.StringVal("y"),
	}
	fields, err := NormalizePartition(spec, values)
	if err != nil {
		t.Fatal(err)
	}
	if fields[0].Name != "a" || fields[1].Name != "b" {
		t.Fatalf("expected fields sorted by name, got %v", fields)
	}
}

func TestNormalizePartitionMinuteTimestamp(t *testing.T) {
	spec := map[string]PartitionSpec{"t": {DType: PartMinuteTimestamp}}
	aligned := time.Date(2026, 1, 1, 12, 30, 0, 0, time.UTC)
	if _, err := NormalizePartition(spec, map[string]atom.Value{"t": atom.TimeVal(aligned)}); err != nil {
		t.Fatalf("aligned minute should succeed: %v", err)
	}
	unaligned := aligned.Add(5 * time.Second)
	if _, err := NormalizePartition(spec, map[string]atom.Value{"t": atom.TimeVal(unaligned)}); err == nil {
		t.Fatal("expected non-minute-aligned timestamp to fail")
	}
}
