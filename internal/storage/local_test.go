package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	apperrors "github.com/eventdeck/eventdeck/internal/errors"
)

func TestLocalStorage_PutGetDelete(t *testing.T) {
	baseDir := t.TempDir()
	storage, err := NewLocalStorage(baseDir)
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	objectPath := "exports/7_days/20240515T120000Z.csv"
	content := []byte("Date,Event ID\n")
	if err := storage.Put(ctx, objectPath, content); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	got, err := storage.Get(ctx, objectPath)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	if err := storage.Put(ctx, objectPath, []byte("replaced")); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ = storage.Get(ctx, objectPath)
	if string(got) != "replaced" {
		t.Errorf("overwrite not visible: %q", got)
	}

	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, _ = storage.Exists(ctx, objectPath)
	if exists {
		t.Error("expected object to be deleted")
	}

	// Delete is idempotent
	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
}

func TestLocalStorage_GetMissing(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())

	_, err := storage.Get(context.Background(), "nope/missing.json")
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
	if !apperrors.IsNotFound(err) {
		t.Error("missing object should be a not-found error")
	}
}

func TestLocalStorage_List(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()

	paths := []string{
		"exports/30_days/b.json",
		"exports/30_days/a.csv",
		"purge/2024/05/15.json.sz",
	}
	for _, p := range paths {
		if err := storage.Put(ctx, p, []byte("x")); err != nil {
			t.Fatalf("Put %s: %v", p, err)
		}
	}

	got, err := storage.List(ctx, "exports/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"exports/30_days/a.csv", "exports/30_days/b.json"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}

	none, err := storage.List(ctx, "nothing/")
	if err != nil {
		t.Fatalf("List empty prefix: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no objects, got %v", none)
	}
}

func TestLocalStorage_PathsStayUnderBase(t *testing.T) {
	baseDir := t.TempDir()
	storage, _ := NewLocalStorage(baseDir)

	if err := storage.Put(context.Background(), "../../escape.txt", []byte("x")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(baseDir, "escape.txt")); err != nil {
		t.Errorf("object should be written inside the base directory: %v", err)
	}
	if err := storage.Put(context.Background(), "", []byte("x")); err == nil {
		t.Error("empty object path should be rejected")
	}
}

func TestLocalStorage_ConcurrentPuts(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := []byte{byte(i)}
			if err := storage.Put(ctx, "shared/object.bin", data); err != nil {
				t.Errorf("Put %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := storage.Get(ctx, "shared/object.bin")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected a whole object, got %d bytes", len(got))
	}

	objects, _ := storage.List(ctx, "")
	if len(objects) != 1 {
		t.Errorf("temp files should not remain: %v", objects)
	}
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := storage.Put(ctx, "a", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

var _ ObjectStorage = (*LocalStorage)(nil)
var _ ObjectStorage = (*S3Storage)(nil)
