package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chorus-test.db")
	database, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := database.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	})
	return database, path
}

func assertTableExists(t *testing.T, conn *sql.DB, table string) {
	t.Helper()
	var count int
	err := conn.QueryRow(`SELECT count(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	if err != nil {
		t.Fatalf("query sqlite_master error: %v", err)
	}
	if count != 1 {
		t.Fatalf("table %q not found", table)
	}
}

func TestOpenCreatesDBFileAndRunsMigrations(t *testing.T) {
	database, path := openTestDB(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected DB file at %q: %v", path, err)
	}

	assertTableExists(t, database.SQL(), "_meta")
	assertTableExists(t, database.SQL(), "exchanges")
	assertTableExists(t, database.SQL(), "persona_violations")
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); err == nil {
		t.Fatal("Open(\"\") error = nil, want error")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	database, _ := openTestDB(t)

	if err := RunMigrations(context.Background(), database.SQL()); err != nil {
		t.Fatalf("second RunMigrations() error = %v", err)
	}

	version, err := database.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != 2 {
		t.Fatalf("schema version = %d, want 2", version)
	}
}

func TestOpenInMemory(t *testing.T) {
	database, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	defer database.Close()

	repo := NewExchangeRepo(database.SQL())
	createExchange(t, repo, &Exchange{UserID: "u1", Message: "hi", Response: "hey", Route: "greeting"})
	got, err := repo.ListByUser(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListByUser() len = %d, want 1", len(got))
	}
	if database.Path() != ":memory:" {
		t.Fatalf("Path() = %q", database.Path())
	}
}

func createExchange(t *testing.T, repo *ExchangeRepo, ex *Exchange) {
	t.Helper()
	if err := repo.Create(context.Background(), ex); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
}

func TestExchangeRepoCreateAndListByUser(t *testing.T) {
	database, _ := openTestDB(t)
	repo := NewExchangeRepo(database.SQL())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, msg := range []string{"first", "second", "third"} {
		createExchange(t, repo, &Exchange{
			UserID:      "u1",
			ConstructID: "zen",
			Message:     msg,
			Response:    "re: " + msg,
			Route:       "synthesis",
			Mode:        "branded",
			Metrics:     json.RawMessage(`{"retry_count":0}`),
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
	}
	createExchange(t, repo, &Exchange{UserID: "u2", ConstructID: "zen", Message: "other", Response: "x", Route: "greeting"})

	items, err := repo.ListByUser(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ListByUser() len = %d, want 2", len(items))
	}
	if items[0].Message != "second" || items[1].Message != "third" {
		t.Fatalf("ListByUser() order = %q, %q", items[0].Message, items[1].Message)
	}
	if items[1].ID == "" || string(items[1].Metrics) != `{"retry_count":0}` {
		t.Fatalf("ListByUser() item = %#v", items[1])
	}
	if !items[1].CreatedAt.Equal(base.Add(2 * time.Second)) {
		t.Fatalf("CreatedAt = %v", items[1].CreatedAt)
	}

	all, err := repo.List(ctx, ExchangeFilter{ConstructID: "zen"})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("List(zen) len = %d, want 4", len(all))
	}
}

func TestExchangeRepoValidation(t *testing.T) {
	database, _ := openTestDB(t)
	repo := NewExchangeRepo(database.SQL())
	ctx := context.Background()

	cases := []*Exchange{
		nil,
		{Message: "m", Route: "synthesis"},
		{UserID: "u", Route: "synthesis"},
		{UserID: "u", Message: "m"},
		{UserID: "u", Message: "m", Route: "synthesis", Metrics: json.RawMessage(`{bad`)},
	}
	for i, ex := range cases {
		if err := repo.Create(ctx, ex); err == nil {
			t.Fatalf("case %d: Create() error = nil, want error", i)
		}
	}

	var nilRepo *ExchangeRepo
	if _, err := nilRepo.RecentTurns(ctx, "u", "", 4); err == nil {
		t.Fatal("nil repo RecentTurns() error = nil")
	}
}

func TestExchangeRepoRecentTurns(t *testing.T) {
	database, _ := openTestDB(t)
	repo := NewExchangeRepo(database.SQL())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, msg := range []string{"a", "b", "c"} {
		createExchange(t, repo, &Exchange{
			UserID:      "u1",
			ConstructID: "zen",
			ThreadID:    "t1",
			Message:     msg,
			Response:    "re-" + msg,
			Route:       "synthesis",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}
	createExchange(t, repo, &Exchange{UserID: "u1", ConstructID: "zen", Message: "no thread", Response: "r", Route: "smalltalk", CreatedAt: base.Add(time.Hour)})

	turns, err := repo.RecentTurns(ctx, "u1", "t1", 3)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	want := []string{"re-b", "c", "re-c"}
	if len(turns) != len(want) {
		t.Fatalf("RecentTurns() len = %d, want %d", len(turns), len(want))
	}
	for i, w := range want {
		if turns[i].Content != w {
			t.Fatalf("turn %d = %q, want %q", i, turns[i].Content, w)
		}
	}
	if turns[1].Role != "user" || turns[2].Role != "assistant" {
		t.Fatalf("roles = %q, %q", turns[1].Role, turns[2].Role)
	}

	unthreaded, err := repo.RecentTurns(ctx, "u1", "", 10)
	if err != nil {
		t.Fatalf("RecentTurns(no thread) error = %v", err)
	}
	if len(unthreaded) != 2 || unthreaded[0].Content != "no thread" {
		t.Fatalf("RecentTurns(no thread) = %#v", unthreaded)
	}
}

func TestExchangeRepoTrimUser(t *testing.T) {
	database, _ := openTestDB(t)
	repo := NewExchangeRepo(database.SQL())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createExchange(t, repo, &Exchange{UserID: "u1", ConstructID: "zen", Message: "msg", Response: "r", Route: "synthesis"})
	}
	if err := repo.TrimUser(ctx, "u1", 2); err != nil {
		t.Fatalf("TrimUser() error = %v", err)
	}
	items, err := repo.ListByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListByUser() after trim error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("after trim len = %d, want 2", len(items))
	}
}

func TestViolationRepoRecordAndListRecent(t *testing.T) {
	database, _ := openTestDB(t)
	repo := NewViolationRepo(database.SQL())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := []*Violation{
		{ConstructID: "zen", UserID: "u1", Pattern: "as-an-ai", Excerpt: "As an AI,", CreatedAt: base},
		{ConstructID: "lin", UserID: "u2", Pattern: "i-am-ai", Excerpt: "I'm an AI", CreatedAt: base.Add(time.Second)},
		{ConstructID: "zen", Pattern: "trained-by", Excerpt: "I was trained by OpenAI", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, v := range records {
		if err := repo.Record(ctx, v); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if v.ID == "" {
			t.Fatal("Record() did not set ID")
		}
	}
	if err := repo.Record(ctx, &Violation{Pattern: "x"}); err == nil {
		t.Fatal("Record() without construct error = nil")
	}

	all, err := repo.ListRecent(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRecent() error = %v", err)
	}
	if len(all) != 3 || all[0].Pattern != "trained-by" {
		t.Fatalf("ListRecent() = %#v", all)
	}

	zen, err := repo.ListRecent(ctx, "zen", 1)
	if err != nil {
		t.Fatalf("ListRecent(zen) error = %v", err)
	}
	if len(zen) != 1 || zen[0].Pattern != "trained-by" {
		t.Fatalf("ListRecent(zen) = %#v", zen)
	}
}
