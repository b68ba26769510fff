package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/kbukum/agentflow/database/testutil"
	"github.com/kbukum/agentflow/taskgraph"
)

func TestUp_SQLiteAutoMigrates(t *testing.T) {
	db := testutil.NewDB(t)
	if err := Up(db); err != nil {
		t.Fatalf("Up: %v", err)
	}
	for _, m := range taskgraph.Models() {
		if !db.GormDB.Migrator().HasTable(m) {
			t.Errorf("expected table for %T", m)
		}
	}
	// idempotent
	if err := Up(db); err != nil {
		t.Fatalf("second Up: %v", err)
	}
}

func TestDownAndVersion_RequirePostgres(t *testing.T) {
	db := testutil.NewDB(t)
	if err := Down(db); err == nil {
		t.Error("expected Down to refuse sqlite")
	}
	if _, _, err := Version(db); err == nil {
		t.Error("expected Version to refuse sqlite")
	}
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(Source(), migrationsPath)
	if err != nil {
		t.Fatalf("read embedded dir: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("expected at least one migration")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
}

func TestEmbeddedMigrationCreatesEveryTable(t *testing.T) {
	b, err := fs.ReadFile(Source(), migrationsPath+"/000001_create_job_tables.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	sql := string(b)
	for _, m := range taskgraph.Models() {
		tabler, ok := m.(interface{ TableName() string })
		if !ok {
			t.Fatalf("%T has no TableName", m)
		}
		if !strings.Contains(sql, "CREATE TABLE IF NOT EXISTS "+tabler.TableName()+" (") {
			t.Errorf("migration does not create %s", tabler.TableName())
		}
	}
}
