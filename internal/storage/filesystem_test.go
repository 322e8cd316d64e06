package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreWriteReadList(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	key, err := store.Write(ctx, "/deliveries/./a.zip", []byte("zip"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key != "deliveries/a.zip" {
		t.Fatalf("key = %q", key)
	}
	if _, err := store.Write(ctx, "other/b.bin", []byte("b")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := store.Read(ctx, key)
	if err != nil || string(data) != "zip" {
		t.Fatalf("Read = %q, %v", data, err)
	}
	objs, err := store.List(ctx, "deliveries")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 1 || objs[0].Key != "deliveries/a.zip" || objs[0].Size != 3 {
		t.Fatalf("unexpected objects %+v", objs)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	store, _ := NewFileStore(filepath.Join(root, "store"))
	if _, err := store.Write(context.Background(), "../escape.txt", []byte("x")); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	if _, err := os.Stat(filepath.Join(root, "escape.txt")); !os.IsNotExist(err) {
		t.Fatalf("file escaped the root")
	}
}

func TestFileStoreListMissingPrefix(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	objs, err := store.List(context.Background(), "deliveries")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(objs) != 0 {
		t.Fatalf("expected no objects, got %+v", objs)
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	if _, err := NewFileStore("  "); err == nil {
		t.Fatalf("expected error for empty base path")
	}
}
