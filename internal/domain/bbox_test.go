package domain

import (
	"errors"
	"testing"
)

func TestParseBBox(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    BBox
		wantErr bool
	}{
		{"plain", "9,52,11,54", NewBBox(9, 52, 11, 54), false},
		{"tuple form", "(9.5, 52.1, 11, 54.25)", NewBBox(9.5, 52.1, 11, 54.25), false},
		{"list form", "[-10,-20,10,20]", NewBBox(-10, -20, 10, 20), false},
		{"too few values", "1,2,3", BBox{}, true},
		{"not a number", "1,2,x,4", BBox{}, true},
		{"empty", "", BBox{}, true},
		{"NaN", "NaN,2,3,4", BBox{}, true},
		{"infinite", "1,2,+Inf,4", BBox{}, true},
		{"inverted x", "11,52,9,54", BBox{}, true},
		{"inverted y", "9,54,11,52", BBox{}, true},
		{"degenerate", "9,52,9,52", NewBBox(9, 52, 9, 52), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseBBox(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBBox(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("ParseBBox(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestBBoxString(t *testing.T) {
	tests := []struct {
		bbox BBox
		want string
	}{
		{NewBBox(9, 52, 11, 54), "(9.0, 52.0, 11.0, 54.0)"},
		{NewBBox(8.7, 51.3, 8.8, 51.8), "(8.7, 51.3, 8.8, 51.8)"},
		{NewBBox(-180, -90, 180, 90), "(-180.0, -90.0, 180.0, 90.0)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.bbox.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBBoxQueryValue(t *testing.T) {
	if got := NewBBox(9, 52.5, 11, 54).QueryValue(); got != "9,52.5,11,54" {
		t.Errorf("QueryValue() = %q", got)
	}
}

func TestBBoxFromSlice(t *testing.T) {
	b, err := BBoxFromSlice([]float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b != NewBBox(1, 2, 3, 4) {
		t.Errorf("got %+v", b)
	}
	if _, err := BBoxFromSlice([]float64{1, 2}); !errors.Is(err, ErrInvalidBBox) {
		t.Errorf("expected ErrInvalidBBox, got %v", err)
	}
}

func TestBBoxIsValid(t *testing.T) {
	if !NewBBox(0, 0, 1, 1).IsValid() {
		t.Error("expected valid bbox")
	}
	if NewBBox(2, 0, 1, 1).IsValid() {
		t.Error("expected invalid bbox")
	}
}

func TestBBoxKey(t *testing.T) {
	b := NewBBox(1, 2, 3, 4)
	same := NewBBox(1, 2, 3, 4)

	if KeyOf(&b) != KeyOf(&same) {
		t.Error("equal boxes should produce equal keys")
	}
	if KeyOf(nil) != GlobalKey() {
		t.Error("nil bbox should produce the global key")
	}

	zero := BBox{}
	if KeyOf(&zero) == GlobalKey() {
		t.Error("a zero bbox must not collide with the global key")
	}

	if GlobalKey().Ptr() != nil {
		t.Error("global key should have no bbox")
	}
	if p := KeyOf(&b).Ptr(); p == nil || *p != b {
		t.Errorf("Ptr() = %v, want %v", p, b)
	}

	m := map[BBoxKey]int{GlobalKey(): 1, KeyOf(&b): 2}
	if m[KeyOf(&same)] != 2 || m[KeyOf(nil)] != 1 {
		t.Error("keys should be usable in maps")
	}
}
