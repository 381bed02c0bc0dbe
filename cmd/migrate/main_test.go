package main

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		valid    bool
		version  int
		name     string
	}{
		{"0001_create_transactions.sql", true, 1, "create_transactions"},
		{"0042_add_index.sql", true, 42, "add_index"},
		{"001_invalid.sql", false, 0, ""},       // wrong number format
		{"0001_test", false, 0, ""},             // missing .sql
		{"0001.sql", false, 0, ""},              // missing name
		{"invalid_0001_test.sql", false, 0, ""}, // wrong order
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, ok := parseMigrationName(tt.filename)
			if ok != tt.valid || version != tt.version || name != tt.name {
				t.Errorf("parseMigrationName(%q) = %d, %q, %v", tt.filename, version, name, ok)
			}
		})
	}
}

func writeMigration(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestReadMigrations(t *testing.T) {
	dir := t.TempDir()
	body := "CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.t` (id INT64);"
	writeMigration(t, dir, "0002_second.sql", "SELECT 1;")
	writeMigration(t, dir, "0001_first.sql", body)
	writeMigration(t, dir, "notes.md", "ignored")

	migrations, err := readMigrations(zerolog.Nop(), dir, target{project: "acme", dataset: "recon"})
	if err != nil {
		t.Fatalf("readMigrations() error = %v", err)
	}
	if len(migrations) != 2 || migrations[0].Version != 1 || migrations[1].Version != 2 {
		t.Fatalf("migrations = %+v", migrations)
	}
	if !strings.Contains(migrations[0].SQL, "`acme.recon.t`") {
		t.Errorf("placeholders not replaced: %s", migrations[0].SQL)
	}
	// Checksum is taken before substitution.
	if want := fmt.Sprintf("%x", sha256.Sum256([]byte(body))); migrations[0].Checksum != want {
		t.Errorf("checksum = %s, want %s", migrations[0].Checksum, want)
	}
}

func TestReadMigrations_DuplicateVersion(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "0001_a.sql", "SELECT 1;")
	writeMigration(t, dir, "0001_b.sql", "SELECT 2;")

	if _, err := readMigrations(zerolog.Nop(), dir, target{project: "p", dataset: "d"}); err == nil {
		t.Error("readMigrations() accepted two files with the same version")
	}
}

func TestPlan(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Filename: "0001_a.sql", Checksum: "aaa"},
		{Version: 2, Filename: "0002_b.sql", Checksum: "bbb"},
		{Version: 3, Filename: "0003_c.sql", Checksum: "ccc"},
	}
	applied := []AppliedMigration{
		{Version: 1, Checksum: "aaa"},
		{Version: 2, Checksum: "changed"},
	}

	pending, drifted := plan(migrations, applied)
	if len(pending) != 1 || pending[0].Version != 3 {
		t.Errorf("pending = %+v", pending)
	}
	if len(drifted) != 1 || drifted[0].Version != 2 {
		t.Errorf("drifted = %+v", drifted)
	}
}

func TestRepositoryMigrationsAreValid(t *testing.T) {
	dir, err := findMigrationsDir("migrations/bigquery")
	if err != nil {
		t.Fatal(err)
	}
	migrations, err := readMigrations(zerolog.Nop(), dir, target{project: "p", dataset: "d"})
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range migrations {
		if m.Version != i+1 {
			t.Errorf("%s: version %d, want %d", m.Filename, m.Version, i+1)
		}
		if strings.Contains(m.SQL, "{{") {
			t.Errorf("%s: unreplaced placeholder", m.Filename)
		}
	}
}
