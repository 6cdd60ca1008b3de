package migrations

import (
	"net/url"
	"testing"
)

func TestMigrateURL(t *testing.T) {
	got, err := migrateURL("postgres://u:p@localhost:5432/db?sslmode=disable", "chat_test")
	if err != nil {
		t.Fatalf("migrateURL: %v", err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "pgx5" {
		t.Fatalf("scheme=%q want pgx5", u.Scheme)
	}
	q := u.Query()
	if q.Get("search_path") != "chat_test" || q.Get("sslmode") != "disable" {
		t.Fatalf("query=%v", q)
	}
	if q.Get("x-migrations-table") != "schema_migrations" {
		t.Fatalf("missing migrations table: %v", q)
	}

	if _, err := migrateURL("mysql://x", "s"); err == nil {
		t.Fatalf("expected scheme error")
	}
}

func TestEmbeddedFiles(t *testing.T) {
	entries, err := files.ReadDir("sql")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) < 2 {
		t.Fatalf("expected up and down files, got %d", len(entries))
	}
}
