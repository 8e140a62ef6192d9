package ecolesync

import (
	"errors"
	"reflect"
	"testing"
)

func TestBuildUpdateQueryOrdersColumnsDeterministically(t *testing.T) {
	query, args, err := buildUpdateQuery("classes", classColumns, classPatchColumns, map[string]any{
		"name":     "6ème A",
		"capacity": 32,
	})
	if err != nil {
		t.Fatalf("build update failed: %v", err)
	}
	want := "UPDATE classes SET capacity = $1, name = $2, updated_at = NOW() WHERE id = $3 RETURNING " + classColumns
	if query != want {
		t.Fatalf("unexpected query:\n got %s\nwant %s", query, want)
	}
	if !reflect.DeepEqual(args, []any{32, "6ème A"}) {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestBuildUpdateQueryRejectsEmptyPatch(t *testing.T) {
	if _, _, err := buildUpdateQuery("classes", classColumns, classPatchColumns, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestBuildUpdateQueryRejectsNonUpdatableColumns(t *testing.T) {
	for _, column := range []string{"id", "user_id", "created_at", "drop table"} {
		_, _, err := buildUpdateQuery("classes", classColumns, classPatchColumns, map[string]any{column: "x"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("column %q: expected ErrInvalidInput, got %v", column, err)
		}
	}
}

func TestNullIfEmpty(t *testing.T) {
	if got := nullIfEmpty(""); got != nil {
		t.Fatalf("expected nil for empty string, got %v", got)
	}
	if got := nullIfEmpty("   "); got != nil {
		t.Fatalf("expected nil for blank string, got %v", got)
	}
	if got := nullIfEmpty("c1"); got != "c1" {
		t.Fatalf("expected value to pass through, got %v", got)
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	if _, err := OpenPostgres("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
