package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	cleanup := func() {
		store.Close()
	}
	return store, cleanup
}

func TestStore_Bookmarks(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	for _, id := range []string{"chat-b", "chat-a", "chat-c", "chat-b"} {
		if err := store.AddBookmark(ctx, id); err != nil {
			t.Fatalf("AddBookmark(%s) error = %v", id, err)
		}
	}

	got, err := store.Bookmarks(ctx)
	if err != nil {
		t.Fatalf("Bookmarks() error = %v", err)
	}
	want := []string{"chat-b", "chat-a", "chat-c"}
	if len(got) != len(want) {
		t.Fatalf("Bookmarks() len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ChatID != want[i] {
			t.Errorf("Bookmarks()[%d] = %s, want %s", i, got[i].ChatID, want[i])
		}
	}

	ok, err := store.IsBookmarked(ctx, "chat-a")
	if err != nil || !ok {
		t.Errorf("IsBookmarked(chat-a) = %v, %v", ok, err)
	}

	removed, err := store.RemoveBookmark(ctx, "chat-a")
	if err != nil || !removed {
		t.Errorf("RemoveBookmark(chat-a) = %v, %v", removed, err)
	}
	removed, err = store.RemoveBookmark(ctx, "chat-a")
	if err != nil || removed {
		t.Errorf("second RemoveBookmark(chat-a) = %v, %v", removed, err)
	}

	ok, err = store.IsBookmarked(ctx, "chat-a")
	if err != nil || ok {
		t.Errorf("IsBookmarked(chat-a) after remove = %v, %v", ok, err)
	}
}

func TestStore_AddBookmarkEmpty(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	if err := store.AddBookmark(context.Background(), ""); err != ErrEmptyKey {
		t.Errorf("AddBookmark(\"\") error = %v, want ErrEmptyKey", err)
	}
}

func TestStore_Prefs(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	v, err := store.Pref(ctx, PrefExcludePortraits, true)
	if err != nil || !v {
		t.Errorf("Pref() unset = %v, %v; want default true", v, err)
	}

	if err := store.SetPref(ctx, PrefExcludePortraits, false); err != nil {
		t.Fatalf("SetPref() error = %v", err)
	}
	v, err = store.Pref(ctx, PrefExcludePortraits, true)
	if err != nil || v {
		t.Errorf("Pref() = %v, %v; want false", v, err)
	}

	if err := store.SetPref(ctx, PrefExcludePortraits, true); err != nil {
		t.Fatalf("SetPref() overwrite error = %v", err)
	}
	v, _ = store.Pref(ctx, PrefExcludePortraits, false)
	if !v {
		t.Error("Pref() after overwrite = false, want true")
	}
}

func TestStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	store.AddBookmark(ctx, "chat-1")
	store.SetPref(ctx, "dark", true)
	store.Close()

	store, err = Open(dbPath)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()

	if ok, _ := store.IsBookmarked(ctx, "chat-1"); !ok {
		t.Error("bookmark lost after reopen")
	}
	if v, _ := store.Pref(ctx, "dark", false); !v {
		t.Error("preference lost after reopen")
	}
}

func TestStore_ExportLog(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []*ExportEntry{
		{ID: "e1", ChatID: "chat-1", Format: "txt", Location: "/tmp/a.txt", Bytes: 10, Timestamp: base},
		{ID: "e2", ChatID: "chat-2", Format: "json", Location: "/tmp/b.json", Bytes: 20, Timestamp: base.Add(time.Minute)},
		{ID: "e3", ChatID: "chat-1", Format: "html", Location: "/tmp/c.html", Bytes: 30, Timestamp: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := store.LogExport(ctx, e); err != nil {
			t.Fatalf("LogExport(%s) error = %v", e.ID, err)
		}
	}

	all, err := store.Exports(ctx, "", 0)
	if err != nil {
		t.Fatalf("Exports() error = %v", err)
	}
	if len(all) != 3 || all[0].ID != "e3" || all[2].ID != "e1" {
		t.Errorf("Exports() order wrong: %+v", all)
	}

	chat1, err := store.Exports(ctx, "chat-1", 1)
	if err != nil {
		t.Fatalf("Exports(chat-1) error = %v", err)
	}
	if len(chat1) != 1 || chat1[0].ID != "e3" || chat1[0].Bytes != 30 {
		t.Errorf("Exports(chat-1, 1) = %+v", chat1)
	}
}
