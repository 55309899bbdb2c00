package types

import "testing"

func TestCellString(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil is empty", nil, ""},
		{"string passes through", "hello", "hello"},
		{"true", true, "true"},
		{"false", false, "false"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"float without fraction", 3.0, "3"},
		{"float with fraction", 2.5, "2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CellString(tt.in); got != tt.want {
				t.Fatalf("CellString(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCellNumber(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOK bool
	}{
		{"int", 3, 3, true},
		{"int64", int64(-2), -2, true},
		{"float64", 1.5, 1.5, true},
		{"numeric string", "10.25", 10.25, true},
		{"negative numeric string", "-4", -4, true},
		{"plain string", "ten", 0, false},
		{"empty string", "", 0, false},
		{"bool has no numeric form", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CellNumber(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("CellNumber(%v) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("CellNumber(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestRowClone(t *testing.T) {
	row := Row{"id": "a1", "rank": int64(3)}
	clone := row.Clone()
	clone["rank"] = int64(9)

	if row["rank"] != int64(3) {
		t.Fatalf("clone write leaked into the original: %v", row["rank"])
	}
	if clone["id"] != "a1" {
		t.Fatalf("clone lost a cell: %v", clone)
	}
}
