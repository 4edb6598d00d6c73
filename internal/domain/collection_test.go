package domain

import "testing"

func TestParseCollectionID(t *testing.T) {
	tests := []struct {
		input  string
		want   CollectionID
		wantOK bool
	}{
		{"db~cities", CollectionID{Database: "db", Name: "cities"}, true},
		{"~collection_1", CollectionID{Database: "", Name: "collection_1"}, true},
		{"db~with~tilde", CollectionID{Database: "db", Name: "with~tilde"}, true},
		{"noseparator", CollectionID{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseCollectionID(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseCollectionID(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ParseCollectionID(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
			if ok && got.String() != tt.input {
				t.Errorf("String() = %q, want %q", got.String(), tt.input)
			}
		})
	}
}

func TestCollectionIDTableName(t *testing.T) {
	if got := NewCollectionID("db", "cities").TableName(); got != "db_cities" {
		t.Errorf("TableName() = %q", got)
	}
	if got := NewCollectionID("", "cities").TableName(); got != "cities" {
		t.Errorf("TableName() = %q", got)
	}
}
