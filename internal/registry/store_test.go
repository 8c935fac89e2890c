package registry

import (
	"strings"
	"testing"

	"github.com/docmask/docmask/internal/surrogate"
)

func TestInsertQuery(t *testing.T) {
	bindings := []surrogate.Binding{
		{Original: "Иванов И. И.", Category: "person_name", UUID: "1f1e94f0-8a52-5c7e-9d25-8b1a0b6c42aa"},
		{Original: "7701234567", Category: "inn", UUID: "7c0f61d2-33ab-5b01-8e44-5d2f9a77c3be"},
	}

	query, args := insertQuery(bindings)

	if !strings.Contains(query, "($1, $2, $3)") || !strings.Contains(query, "($4, $5, $6)") {
		t.Errorf("placeholders wrong:\n%s", query)
	}
	if !strings.Contains(query, "ON CONFLICT (original, category) DO NOTHING") {
		t.Errorf("conflict clause missing:\n%s", query)
	}

	if len(args) != 6 {
		t.Fatalf("args = %d, want 6", len(args))
	}
	want := []interface{}{
		"Иванов И. И.", "person_name", "1f1e94f0-8a52-5c7e-9d25-8b1a0b6c42aa",
		"7701234567", "inn", "7c0f61d2-33ab-5b01-8e44-5d2f9a77c3be",
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("args[%d] = %v, want %v", i, args[i], want[i])
		}
	}
}

func TestInsertQuerySingle(t *testing.T) {
	query, args := insertQuery([]surrogate.Binding{{Original: "x", Category: "y", UUID: "z"}})
	if strings.Count(query, "(") != strings.Count(query, ")") {
		t.Errorf("unbalanced query:\n%s", query)
	}
	if !strings.Contains(query, "VALUES ($1, $2, $3)") {
		t.Errorf("query:\n%s", query)
	}
	if len(args) != 3 {
		t.Errorf("args = %v", args)
	}
}

func TestMaskDatabaseURL(t *testing.T) {
	cases := map[string]string{
		"postgres://user:secret@db:5432/docmask": "postgres://user:***@db:5432/docmask",
		"postgres://db:5432/docmask":             "postgres://db:5432/docmask",
	}
	for in, want := range cases {
		if got := maskDatabaseURL(in); got != want {
			t.Errorf("maskDatabaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
