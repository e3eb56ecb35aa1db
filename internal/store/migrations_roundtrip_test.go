package store

import (
	"context"
	"database/sql"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("AIVA_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("AIVA_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, PoolConfig{MaxOpenConns: 4})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrations := MigrationsFS("")

	if err := ApplyMigrations(ctx, db, migrations); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}

	if err := applyDownMigrations(ctx, db, migrations); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`); err != nil {
		t.Fatalf("clear schema_migrations: %v", err)
	}

	if err := ApplyMigrations(ctx, db, migrations); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}

	checkBookmarkVisibility(ctx, t, NewPostgresStore(db))
}

// checkBookmarkVisibility runs the bookmark query against the migrated schema: a
// bookmark in a shared workspace disappears once the member is removed.
func checkBookmarkVisibility(ctx context.Context, t *testing.T, s *PostgresStore) {
	t.Helper()
	for _, user := range []User{{ID: "usr_owner", DisplayName: "Avery"}, {ID: "usr_member", DisplayName: "Blake"}} {
		if _, err := s.EnsureUser(ctx, user); err != nil {
			t.Fatalf("ensure user: %v", err)
		}
	}
	if err := s.CreateWorkspace(ctx, Workspace{ID: "ws_team", Name: "Team", OwnerID: "usr_owner"}); err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	if err := s.UpsertWorkspaceMember(ctx, "ws_team", "usr_member", "member"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if err := s.InsertChat(ctx, Chat{ID: "chat_team", UserID: "usr_owner", WorkspaceID: "ws_team", Title: "Plan"}); err != nil {
		t.Fatalf("insert chat: %v", err)
	}
	if err := s.InsertMessage(ctx, Message{ID: "msg_reply", ChatID: "chat_team", UserID: "usr_owner", Role: "assistant", Content: "Ship it"}); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if err := s.SetMessageAction(ctx, MessageAction{ID: "act_1", MessageID: "msg_reply", UserID: "usr_member", Action: "bookmark"}, true); err != nil {
		t.Fatalf("bookmark: %v", err)
	}

	bookmarks, err := s.ListBookmarks(ctx, "usr_member", "")
	if err != nil || len(bookmarks) != 1 {
		t.Fatalf("expected 1 bookmark for member, got %d (%v)", len(bookmarks), err)
	}

	if err := s.RemoveWorkspaceMember(ctx, "ws_team", "usr_member"); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	bookmarks, err = s.ListBookmarks(ctx, "usr_member", "")
	if err != nil || len(bookmarks) != 0 {
		t.Fatalf("expected bookmark hidden after removal, got %d (%v)", len(bookmarks), err)
	}
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrations fs.FS) error {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		name    string
	}
	downs := make([]migration, 0)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		downs = append(downs, migration{version: match[1], name: name})
	}

	sort.Slice(downs, func(i, j int) bool {
		return downs[i].version > downs[j].version
	})

	for _, down := range downs {
		sqlBytes, err := fs.ReadFile(migrations, down.name)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}

	return nil
}
