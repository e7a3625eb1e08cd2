package db

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_tables.sql": {Data: []byte("SELECT 10;")},
		"002_second.sql": {Data: []byte("SELECT 2;")},
		"001_first.sql":  {Data: []byte("SELECT 1;")},
		"005_middle.sql": {Data: []byte("SELECT 5;")},
	}

	migrations, err := NewMigrator(nil, fsys, "").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	want := []int{1, 2, 5, 10}
	if len(migrations) != len(want) {
		t.Fatalf("expected %d migrations, got %d", len(want), len(migrations))
	}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_first.sql" || migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected first migration %+v", migrations[0])
	}
}

func TestLoadMigrations_SkipsUnversionedFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"001_valid.sql":      {Data: []byte("SELECT 1;")},
		"readme.sql":         {Data: []byte("-- no prefix")},
		"notes.txt":          {Data: []byte("not sql")},
		"abc_invalid.sql":    {Data: []byte("-- non-numeric")},
		"002_also_valid.sql": {Data: []byte("SELECT 2;")},
	}

	migrations, err := NewMigrator(nil, fsys, "").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql":  {Data: []byte("SELECT 1;")},
		"0001_b.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := NewMigrator(nil, fsys, "").LoadMigrations()
	if err == nil || !strings.Contains(err.Error(), "share version 1") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}, "").LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected no migrations, got %d", len(migrations))
	}
}

func TestNewMigrator_DefaultsSchema(t *testing.T) {
	m := NewMigrator(nil, fstest.MapFS{}, "")
	if m.schema != "public" {
		t.Errorf("expected public schema, got %q", m.schema)
	}
	if got := NewMigrator(nil, fstest.MapFS{}, "sync").table(); got != `"sync"."schema_migrations"` {
		t.Errorf("unexpected table identifier %s", got)
	}
}

func TestPendingAndStatuses(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_core.sql"},
		{Version: 2, Name: "002_events.sql"},
		{Version: 3, Name: "003_health.sql"},
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	done := map[int]time.Time{1: at}

	todo := pending(migrations, done)
	if len(todo) != 2 || todo[0].Version != 2 || todo[1].Version != 3 {
		t.Fatalf("unexpected pending set %+v", todo)
	}

	st := statuses(migrations, done)
	if len(st) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(st))
	}
	if !st[0].Applied || st[0].AppliedAt == nil || !st[0].AppliedAt.Equal(at) {
		t.Errorf("expected 001 applied at %s, got %+v", at, st[0])
	}
	if st[1].Applied || st[1].AppliedAt != nil {
		t.Errorf("expected 002 pending, got %+v", st[1])
	}
}
