package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/rs/zerolog"
)

func TestSplitStatements(t *testing.T) {
	in := `-- header; with a semicolon
CREATE TABLE a (x TEXT DEFAULT 'a;b');
INSERT INTO a VALUES ('it''s');
`
	got := splitStatements(in)
	if len(got) != 2 {
		t.Fatalf("got %d statements: %q", len(got), got)
	}
	if got[1] != "INSERT INTO a VALUES ('it''s')" {
		t.Fatalf("second statement = %q", got[1])
	}
}

func TestOpenAppliesMigrationsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "convo.db")

	db, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	db.Close()

	// second open must not re-run 001_init.sql
	db, err = Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var n int
	if err := db.Conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("schema_migrations rows = %d, want 1", n)
	}
}

func TestNewRunsInOrder(t *testing.T) {
	migrations := fstest.MapFS{
		"002_seed.sql":   {Data: []byte("INSERT INTO t (v) VALUES ('seed');")},
		"001_schema.sql": {Data: []byte("CREATE TABLE t (v TEXT);")},
		"README.md":      {Data: []byte("ignored")},
	}

	db, err := New(filepath.Join(t.TempDir(), "x.db"), migrations, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer db.Close()

	var v string
	if err := db.Conn.QueryRow("SELECT v FROM t").Scan(&v); err != nil {
		t.Fatalf("select: %v", err)
	}
	if v != "seed" {
		t.Fatalf("v = %q", v)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	migrations := fstest.MapFS{"001.sql": {Data: []byte("CREATE TABLE t (v INTEGER);")}}
	db, err := New(filepath.Join(t.TempDir(), "x.db"), migrations, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer db.Close()

	boom := errors.New("boom")
	err = WithTx(context.Background(), db.Conn, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t VALUES (1)"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err = %v, want boom", err)
	}

	var n int
	db.Conn.QueryRow("SELECT COUNT(*) FROM t").Scan(&n)
	if n != 0 {
		t.Fatalf("rows after rollback = %d, want 0", n)
	}

	if err := WithTx(context.Background(), db.Conn, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t VALUES (2)")
		return err
	}); err != nil {
		t.Fatalf("WithTx commit: %v", err)
	}
	db.Conn.QueryRow("SELECT COUNT(*) FROM t").Scan(&n)
	if n != 1 {
		t.Fatalf("rows after commit = %d, want 1", n)
	}
}
